package services

import (
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sgsgita/alumni-connect-backend/internal/database"
	"github.com/sgsgita/alumni-connect-backend/internal/models"
	apperrors "github.com/sgsgita/alumni-connect-backend/pkg/errors"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// setupTestDB initializes a fresh in-memory SQLite DB for testing
func setupTestDB(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	database.DB = db
	database.DB.AutoMigrate(
		&models.User{},
		&models.Conversation{},
		&models.ConversationParticipant{},
		&models.Message{},
		&models.MessageReaction{},
		&models.ReadReceipt{},
	)

	for _, id := range []string{"alice", "bob", "carol"} {
		database.DB.Create(&models.User{ID: id, Username: id, Email: id + "@example.com"})
	}
}

func mustCreateDirect(t *testing.T, creator, peer string) *models.Conversation {
	conv, _, err := CreateConversation(creator, CreateConversationInput{
		Kind:           models.ConversationDirect,
		ParticipantIDs: []string{peer},
	})
	assert.NoError(t, err)
	return conv
}

func TestCreateConversation_DirectIdempotent(t *testing.T) {
	setupTestDB(t)

	first, created, err := CreateConversation("alice", CreateConversationInput{
		Kind:           models.ConversationDirect,
		ParticipantIDs: []string{"bob"},
	})
	assert.NoError(t, err)
	assert.True(t, created)
	assert.Len(t, first.Participants, 2)

	// Same pair again, from either side, returns the same conversation.
	second, created, err := CreateConversation("alice", CreateConversationInput{
		Kind:           models.ConversationDirect,
		ParticipantIDs: []string{"bob"},
	})
	assert.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	third, created, err := CreateConversation("bob", CreateConversationInput{
		Kind:           models.ConversationDirect,
		ParticipantIDs: []string{"alice"},
	})
	assert.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, third.ID)

	var count int64
	database.DB.Model(&models.Conversation{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestCreateConversation_CreatorImplicitlyIncluded(t *testing.T) {
	setupTestDB(t)

	// Creator omitted from the explicit member list.
	conv, created, err := CreateConversation("alice", CreateConversationInput{
		Kind:           models.ConversationGroup,
		Name:           "batch of 2010",
		ParticipantIDs: []string{"bob", "carol"},
	})
	assert.NoError(t, err)
	assert.True(t, created)
	assert.Len(t, conv.Participants, 3)

	ok, err := IsParticipant(conv.ID, "alice")
	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestCreateConversation_Validation(t *testing.T) {
	setupTestDB(t)

	_, _, err := CreateConversation("alice", CreateConversationInput{
		Kind:           models.ConversationDirect,
		ParticipantIDs: []string{"bob", "carol"},
	})
	assert.Error(t, err)

	_, _, err = CreateConversation("alice", CreateConversationInput{
		Kind:           models.ConversationGroup,
		ParticipantIDs: []string{"bob"},
	})
	assert.Error(t, err) // no name

	_, _, err = CreateConversation("alice", CreateConversationInput{
		Kind:           models.ConversationLinked,
		ParticipantIDs: []string{"bob"},
	})
	assert.Error(t, err) // no linked item

	linked := "posting-42"
	conv, created, err := CreateConversation("alice", CreateConversationInput{
		Kind:           models.ConversationLinked,
		ParticipantIDs: []string{"bob"},
		LinkedItemID:   &linked,
	})
	assert.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "posting-42", *conv.LinkedItemID)
}

func TestSendMessage(t *testing.T) {
	setupTestDB(t)
	conv := mustCreateDirect(t, "alice", "bob")

	msg, err := SendMessage(conv.ID, "alice", SendMessageInput{Content: "hello"})
	assert.NoError(t, err)
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, models.MessageText, msg.Kind)
	assert.NotEmpty(t, msg.ID)
	assert.False(t, msg.CreatedAt.IsZero())

	// Empty content rejected
	_, err = SendMessage(conv.ID, "alice", SendMessageInput{Content: "   "})
	assert.True(t, apperrors.IsCode(err, 400))

	// Non-participant rejected
	_, err = SendMessage(conv.ID, "carol", SendMessageInput{Content: "hi"})
	assert.True(t, apperrors.IsCode(err, 403))
}

func TestSendMessage_ClientMessageIDDedup(t *testing.T) {
	setupTestDB(t)
	conv := mustCreateDirect(t, "alice", "bob")

	token := "req-abc-1"
	first, err := SendMessage(conv.ID, "alice", SendMessageInput{Content: "hello", ClientMessageID: &token})
	assert.NoError(t, err)

	// Retry with the same request token returns the original record.
	second, err := SendMessage(conv.ID, "alice", SendMessageInput{Content: "hello", ClientMessageID: &token})
	assert.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	var count int64
	database.DB.Model(&models.Message{}).Where("conversation_id = ?", conv.ID).Count(&count)
	assert.Equal(t, int64(1), count)

	// Same token with different content is a conflict.
	_, err = SendMessage(conv.ID, "alice", SendMessageInput{Content: "different", ClientMessageID: &token})
	assert.True(t, apperrors.IsCode(err, 409))
}

func TestSendMessage_ReplyValidation(t *testing.T) {
	setupTestDB(t)
	conv := mustCreateDirect(t, "alice", "bob")
	other := mustCreateDirect(t, "alice", "carol")

	parent, err := SendMessage(conv.ID, "alice", SendMessageInput{Content: "parent"})
	assert.NoError(t, err)

	reply, err := SendMessage(conv.ID, "bob", SendMessageInput{Content: "child", ReplyToID: &parent.ID})
	assert.NoError(t, err)
	assert.NotNil(t, reply.ReplyTo)
	assert.Equal(t, parent.ID, reply.ReplyTo.ID)

	// Reply must reference a message in the same conversation.
	_, err = SendMessage(other.ID, "carol", SendMessageInput{Content: "cross", ReplyToID: &parent.ID})
	assert.True(t, apperrors.IsCode(err, 400))
}

func TestEditMessage(t *testing.T) {
	setupTestDB(t)
	conv := mustCreateDirect(t, "alice", "bob")

	msg, _ := SendMessage(conv.ID, "alice", SendMessageInput{Content: "hello"})
	createdAt := msg.CreatedAt

	edited, err := EditMessage(msg.ID, "alice", "hello there")
	assert.NoError(t, err)
	assert.Equal(t, "hello there", edited.Content)
	assert.NotNil(t, edited.EditedAt)
	// Identity and creation order are stable under edit.
	assert.Equal(t, msg.ID, edited.ID)
	assert.True(t, createdAt.Equal(edited.CreatedAt))

	// Only the sender may edit.
	_, err = EditMessage(msg.ID, "bob", "hijacked")
	assert.True(t, apperrors.IsCode(err, 403))

	var unchanged models.Message
	database.DB.First(&unchanged, "id = ?", msg.ID)
	assert.Equal(t, "hello there", unchanged.Content)
}

func TestDeleteMessage_Tombstone(t *testing.T) {
	setupTestDB(t)
	conv := mustCreateDirect(t, "alice", "bob")

	msg, _ := SendMessage(conv.ID, "alice", SendMessageInput{Content: "secret"})
	reply, _ := SendMessage(conv.ID, "bob", SendMessageInput{Content: "re: secret", ReplyToID: &msg.ID})

	// Only the sender may delete.
	_, err := DeleteMessage(msg.ID, "bob")
	assert.True(t, apperrors.IsCode(err, 403))

	deleted, err := DeleteMessage(msg.ID, "alice")
	assert.NoError(t, err)
	assert.True(t, deleted.IsDeleted())
	assert.Empty(t, deleted.Content)

	// Editing a deleted message is NotFound; deleting again too.
	_, err = EditMessage(msg.ID, "alice", "resurrect")
	assert.True(t, apperrors.IsCode(err, 404))
	_, err = DeleteMessage(msg.ID, "alice")
	assert.True(t, apperrors.IsCode(err, 404))

	// The tombstone keeps its slot: history still holds both messages in
	// order, and the reply's preview resolves to a contentless tombstone.
	history, err := ListMessages(conv.ID, "bob", "", 50)
	assert.NoError(t, err)
	assert.Len(t, history, 2)
	assert.Equal(t, msg.ID, history[0].ID)
	assert.Empty(t, history[0].Content)
	assert.Equal(t, reply.ID, history[1].ID)
	assert.NotNil(t, history[1].ReplyTo)
	assert.Equal(t, msg.ID, history[1].ReplyTo.ID)
	assert.Empty(t, history[1].ReplyTo.Content)
}

func TestReactions_Idempotent(t *testing.T) {
	setupTestDB(t)
	conv := mustCreateDirect(t, "alice", "bob")
	msg, _ := SendMessage(conv.ID, "alice", SendMessageInput{Content: "hello"})

	_, err := React(msg.ID, "bob", "👍")
	assert.NoError(t, err)
	_, err = React(msg.ID, "bob", "👍")
	assert.NoError(t, err)
	_, err = React(msg.ID, "bob", "🔥")
	assert.NoError(t, err)

	var count int64
	database.DB.Model(&models.MessageReaction{}).Where("message_id = ?", msg.ID).Count(&count)
	assert.Equal(t, int64(2), count)

	// Unknown emoji rejected, non-participant rejected.
	_, err = React(msg.ID, "bob", "🙃")
	assert.True(t, apperrors.IsCode(err, 400))
	_, err = React(msg.ID, "carol", "👍")
	assert.True(t, apperrors.IsCode(err, 403))

	// Unreact removes; removing again is a no-op.
	_, err = Unreact(msg.ID, "bob", "👍")
	assert.NoError(t, err)
	_, err = Unreact(msg.ID, "bob", "👍")
	assert.NoError(t, err)

	database.DB.Model(&models.MessageReaction{}).Where("message_id = ?", msg.ID).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestMarkRead_MonotonicWatermark(t *testing.T) {
	setupTestDB(t)
	conv := mustCreateDirect(t, "alice", "bob")

	older, _ := SendMessage(conv.ID, "alice", SendMessageInput{Content: "first"})
	// Force distinct timestamps; sqlite time resolution can collapse them.
	database.DB.Model(&models.Message{}).Where("id = ?", older.ID).
		Update("created_at", time.Now().Add(-time.Minute))
	newer, _ := SendMessage(conv.ID, "alice", SendMessageInput{Content: "second"})

	member, advanced, err := MarkRead(conv.ID, "bob", newer.ID)
	assert.NoError(t, err)
	assert.True(t, advanced)
	assert.Equal(t, newer.ID, *member.LastReadMessageID)

	// Acknowledging an older message afterwards never regresses the
	// watermark, but the per-message receipt is still recorded.
	member, advanced, err = MarkRead(conv.ID, "bob", older.ID)
	assert.NoError(t, err)
	assert.False(t, advanced)
	assert.Equal(t, newer.ID, *member.LastReadMessageID)

	var receipts int64
	database.DB.Model(&models.ReadReceipt{}).Where("user_id = ?", "bob").Count(&receipts)
	assert.Equal(t, int64(2), receipts)

	// Non-participant cannot mark read.
	_, _, err = MarkRead(conv.ID, "carol", newer.ID)
	assert.True(t, apperrors.IsCode(err, 403))
}

func TestListMessages_BackwardPagination(t *testing.T) {
	setupTestDB(t)
	conv := mustCreateDirect(t, "alice", "bob")

	base := time.Now().Add(-time.Hour)
	var ids []string
	for i := 0; i < 5; i++ {
		msg, err := SendMessage(conv.ID, "alice", SendMessageInput{Content: fmt.Sprintf("msg %d", i)})
		assert.NoError(t, err)
		database.DB.Model(&models.Message{}).Where("id = ?", msg.ID).
			Update("created_at", base.Add(time.Duration(i)*time.Second))
		ids = append(ids, msg.ID)
	}

	// Newest page.
	page, err := ListMessages(conv.ID, "bob", "", 2)
	assert.NoError(t, err)
	assert.Len(t, page, 2)
	assert.Equal(t, ids[3], page[0].ID)
	assert.Equal(t, ids[4], page[1].ID)

	// Older page, strictly before the oldest held message.
	page, err = ListMessages(conv.ID, "bob", ids[3], 2)
	assert.NoError(t, err)
	assert.Len(t, page, 2)
	assert.Equal(t, ids[1], page[0].ID)
	assert.Equal(t, ids[2], page[1].ID)

	// Non-participant cannot read history.
	_, err = ListMessages(conv.ID, "carol", "", 10)
	assert.True(t, apperrors.IsCode(err, 403))
}

func TestListConversations_UnreadCounts(t *testing.T) {
	setupTestDB(t)
	conv := mustCreateDirect(t, "alice", "bob")

	first, _ := SendMessage(conv.ID, "alice", SendMessageInput{Content: "one"})
	database.DB.Model(&models.Message{}).Where("id = ?", first.ID).
		Update("created_at", time.Now().Add(-time.Minute))
	SendMessage(conv.ID, "alice", SendMessageInput{Content: "two"})

	summaries, err := ListConversations("bob", "")
	assert.NoError(t, err)
	assert.Len(t, summaries, 1)
	assert.Equal(t, int64(2), summaries[0].UnreadCount)
	assert.NotNil(t, summaries[0].LastMessage)
	assert.Equal(t, "two", summaries[0].LastMessage.Content)

	// Reading through the first message leaves one unread.
	_, _, err = MarkRead(conv.ID, "bob", first.ID)
	assert.NoError(t, err)

	summaries, err = ListConversations("bob", "")
	assert.NoError(t, err)
	assert.Equal(t, int64(1), summaries[0].UnreadCount)

	// Own messages are never "unread" for the sender.
	summaries, err = ListConversations("alice", "")
	assert.NoError(t, err)
	assert.Equal(t, int64(0), summaries[0].UnreadCount)
}

func TestListConversations_UnreadCountsSurviveCacheOutage(t *testing.T) {
	setupTestDB(t)
	database.Redis = redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
	})
	defer func() { database.Redis = nil }()

	conv := mustCreateDirect(t, "alice", "bob")
	_, err := SendMessage(conv.ID, "alice", SendMessageInput{Content: "one"})
	assert.NoError(t, err)

	// Cache reads and writes fail against the unreachable address; counts
	// still come straight from the database.
	summaries, err := ListConversations("bob", "")
	assert.NoError(t, err)
	assert.Len(t, summaries, 1)
	assert.Equal(t, int64(1), summaries[0].UnreadCount)
}

func TestListConversations_SearchByName(t *testing.T) {
	setupTestDB(t)

	_, _, err := CreateConversation("alice", CreateConversationInput{
		Kind:           models.ConversationGroup,
		Name:           "Batch of 2010",
		ParticipantIDs: []string{"bob"},
	})
	assert.NoError(t, err)
	_, _, err = CreateConversation("alice", CreateConversationInput{
		Kind:           models.ConversationGroup,
		Name:           "Organizers",
		ParticipantIDs: []string{"bob"},
	})
	assert.NoError(t, err)

	summaries, err := ListConversations("alice", "2010")
	assert.NoError(t, err)
	assert.Len(t, summaries, 1)
	assert.Equal(t, "Batch of 2010", summaries[0].Conversation.Name)

	// Wildcard characters in the term match literally, not as patterns.
	summaries, err = ListConversations("alice", "%")
	assert.NoError(t, err)
	assert.Empty(t, summaries)
}

func TestAddParticipant(t *testing.T) {
	setupTestDB(t)

	group, _, err := CreateConversation("alice", CreateConversationInput{
		Kind:           models.ConversationGroup,
		Name:           "organizers",
		ParticipantIDs: []string{"bob"},
	})
	assert.NoError(t, err)

	_, err = AddParticipant(group.ID, "carol", "carol")
	assert.True(t, apperrors.IsCode(err, 403)) // outsiders cannot add

	_, err = AddParticipant(group.ID, "alice", "carol")
	assert.NoError(t, err)
	_, err = AddParticipant(group.ID, "alice", "carol") // idempotent
	assert.NoError(t, err)

	var count int64
	database.DB.Model(&models.ConversationParticipant{}).
		Where("conversation_id = ?", group.ID).Count(&count)
	assert.Equal(t, int64(3), count)

	// Direct conversations never gain members.
	direct := mustCreateDirect(t, "alice", "bob")
	_, err = AddParticipant(direct.ID, "alice", "carol")
	assert.True(t, apperrors.IsCode(err, 400))
}
