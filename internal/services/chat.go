package services

import (
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/sgsgita/alumni-connect-backend/internal/config"
	"github.com/sgsgita/alumni-connect-backend/internal/database"
	"github.com/sgsgita/alumni-connect-backend/internal/models"
	apperrors "github.com/sgsgita/alumni-connect-backend/pkg/errors"
	"github.com/sgsgita/alumni-connect-backend/pkg/utils"
	"gorm.io/gorm"
)

// Per-conversation mutation serialization. Two sends, or a send racing a
// delete, on the same conversation must never interleave; the stripe keeps
// the lock table bounded regardless of conversation count.
var convLocks [64]sync.Mutex

func lockConversation(conversationID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(conversationID))
	return &convLocks[h.Sum32()%uint32(len(convLocks))]
}

// CreateConversationInput mirrors the create request. ParticipantIDs need not
// include the creator; the creator is always a participant.
type CreateConversationInput struct {
	Kind           string
	Name           string
	ParticipantIDs []string
	LinkedItemID   *string
}

// CreateConversation creates a conversation, or for direct kind returns the
// existing one for the pair. The bool result reports whether a new
// conversation was created.
func CreateConversation(creatorID string, in CreateConversationInput) (*models.Conversation, bool, error) {
	participants := dedupeIDs(append([]string{creatorID}, in.ParticipantIDs...))

	switch in.Kind {
	case models.ConversationDirect:
		if len(participants) != 2 {
			return nil, false, apperrors.InvalidArgument("Direct conversations require exactly one other participant")
		}
		return createDirectConversation(creatorID, participants)
	case models.ConversationGroup:
		if strings.TrimSpace(in.Name) == "" {
			return nil, false, apperrors.InvalidArgument("Group conversations require a name")
		}
		if len(participants) < 2 {
			return nil, false, apperrors.InvalidArgument("Group conversations require at least two participants")
		}
	case models.ConversationLinked:
		if in.LinkedItemID == nil || *in.LinkedItemID == "" {
			return nil, false, apperrors.InvalidArgument("Linked conversations require a linked item")
		}
		if len(participants) < 2 {
			return nil, false, apperrors.InvalidArgument("Linked conversations require at least two participants")
		}
	default:
		return nil, false, apperrors.InvalidArgument("Unknown conversation kind")
	}

	conv := models.Conversation{
		Kind:         in.Kind,
		Name:         strings.TrimSpace(in.Name),
		CreatorID:    creatorID,
		LinkedItemID: in.LinkedItemID,
	}
	if err := createWithParticipants(&conv, participants); err != nil {
		return nil, false, err
	}
	return &conv, true, nil
}

func createDirectConversation(creatorID string, participants []string) (*models.Conversation, bool, error) {
	key := models.DirectKeyFor(participants[0], participants[1])

	var existing models.Conversation
	err := database.DB.Preload("Participants").Where("direct_key = ?", key).First(&existing).Error
	if err == nil {
		return &existing, false, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, false, apperrors.Internal("Failed to look up conversation")
	}

	conv := models.Conversation{
		Kind:      models.ConversationDirect,
		CreatorID: creatorID,
		DirectKey: &key,
	}
	if err := createWithParticipants(&conv, participants); err != nil {
		// A concurrent create for the same pair may have won the unique
		// index race; the existing conversation is the right answer.
		if lookupErr := database.DB.Preload("Participants").Where("direct_key = ?", key).First(&existing).Error; lookupErr == nil {
			return &existing, false, nil
		}
		return nil, false, apperrors.Conflict("Conversation creation conflicted, please retry")
	}
	return &conv, true, nil
}

func createWithParticipants(conv *models.Conversation, participantIDs []string) error {
	now := time.Now()
	return database.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(conv).Error; err != nil {
			return err
		}
		for _, userID := range participantIDs {
			member := models.ConversationParticipant{
				ConversationID: conv.ID,
				UserID:         userID,
				JoinedAt:       now,
			}
			if err := tx.Create(&member).Error; err != nil {
				return err
			}
			conv.Participants = append(conv.Participants, member)
		}
		return nil
	})
}

// AddParticipant adds a member to a group or linked conversation. Idempotent:
// adding an existing member is a no-op.
func AddParticipant(conversationID, requesterID, userID string) (*models.ConversationParticipant, error) {
	mu := lockConversation(conversationID)
	mu.Lock()
	defer mu.Unlock()

	conv, err := getConversation(conversationID)
	if err != nil {
		return nil, err
	}
	if conv.Kind == models.ConversationDirect {
		return nil, apperrors.InvalidArgument("Direct conversations cannot gain participants")
	}
	if ok, err := IsParticipant(conversationID, requesterID); err != nil {
		return nil, err
	} else if !ok {
		return nil, apperrors.Forbidden("You are not a participant of this conversation")
	}

	member := models.ConversationParticipant{
		ConversationID: conversationID,
		UserID:         userID,
		JoinedAt:       time.Now(),
	}
	err = database.DB.
		Where(models.ConversationParticipant{ConversationID: conversationID, UserID: userID}).
		FirstOrCreate(&member).Error
	if err != nil {
		return nil, apperrors.Internal("Failed to add participant")
	}
	return &member, nil
}

// IsParticipant reports whether the user belongs to the conversation. Used by
// the socket layer to authorize room joins.
func IsParticipant(conversationID, userID string) (bool, error) {
	var count int64
	err := database.DB.Model(&models.ConversationParticipant{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Count(&count).Error
	if err != nil {
		return false, apperrors.Internal("Failed to check membership")
	}
	return count > 0, nil
}

// SendMessageInput carries an inbound send. Content must already be
// sanitized by the caller.
type SendMessageInput struct {
	Content         string
	Kind            string
	ReplyToID       *string
	ClientMessageID *string
}

// SendMessage persists a message and returns the full record for broadcast.
// Identifier and timestamp are assigned under the conversation lock, so no
// two sends on the same conversation get colliding order keys.
func SendMessage(conversationID, senderID string, in SendMessageInput) (*models.Message, error) {
	if strings.TrimSpace(in.Content) == "" {
		return nil, apperrors.InvalidArgument("Message content cannot be empty")
	}
	if in.Kind == "" {
		in.Kind = models.MessageText
	}

	mu := lockConversation(conversationID)
	mu.Lock()
	defer mu.Unlock()

	conv, err := getConversation(conversationID)
	if err != nil {
		return nil, err
	}
	if conv.ArchivedAt != nil {
		return nil, apperrors.Forbidden("Conversation is archived")
	}
	if ok, err := IsParticipant(conversationID, senderID); err != nil {
		return nil, err
	} else if !ok {
		return nil, apperrors.Forbidden("You are not a participant of this conversation")
	}

	// Client message id makes retried sends idempotent: the same request
	// token returns the already-persisted record instead of a duplicate.
	if in.ClientMessageID != nil && *in.ClientMessageID != "" {
		var existing models.Message
		err := database.DB.
			Where("conversation_id = ? AND sender_id = ? AND client_message_id = ?",
				conversationID, senderID, *in.ClientMessageID).
			First(&existing).Error
		if err == nil {
			if existing.Content != in.Content {
				return nil, apperrors.Conflict("Client message id was already used with different content")
			}
			return hydrateMessage(&existing)
		}
		if err != gorm.ErrRecordNotFound {
			return nil, apperrors.Internal("Failed to check for duplicate send")
		}
	}

	if in.ReplyToID != nil && *in.ReplyToID != "" {
		var parent models.Message
		if err := database.DB.First(&parent, "id = ?", *in.ReplyToID).Error; err != nil {
			return nil, apperrors.InvalidArgument("Replied-to message does not exist")
		}
		if parent.ConversationID != conversationID {
			return nil, apperrors.InvalidArgument("Replied-to message belongs to another conversation")
		}
	}

	msg := models.Message{
		ConversationID:  conversationID,
		SenderID:        senderID,
		Content:         in.Content,
		Kind:            in.Kind,
		CreatedAt:       time.Now(),
		ReplyToID:       in.ReplyToID,
		ClientMessageID: in.ClientMessageID,
	}
	if err := database.DB.Create(&msg).Error; err != nil {
		return nil, apperrors.Internal("Failed to send message")
	}

	database.DB.Model(&models.Conversation{}).Where("id = ?", conversationID).
		Update("updated_at", msg.CreatedAt)
	invalidateUnreadCaches(conversationID)

	return hydrateMessage(&msg)
}

// EditMessage updates content and sets the edit timestamp. Identifier and
// creation timestamp never change, so ordering is stable under edit.
func EditMessage(messageID, requesterID, newContent string) (*models.Message, error) {
	if strings.TrimSpace(newContent) == "" {
		return nil, apperrors.InvalidArgument("Message content cannot be empty")
	}

	msg, err := getMessage(messageID)
	if err != nil {
		return nil, err
	}

	mu := lockConversation(msg.ConversationID)
	mu.Lock()
	defer mu.Unlock()

	// Re-read under the lock: a delete may have won the race.
	if msg, err = getMessage(messageID); err != nil {
		return nil, err
	}
	if msg.IsDeleted() {
		return nil, apperrors.NotFound("Message has been deleted")
	}
	if msg.SenderID != requesterID {
		return nil, apperrors.Forbidden("Only the sender can edit a message")
	}

	now := time.Now()
	err = database.DB.Model(msg).Updates(map[string]interface{}{
		"content":   newContent,
		"edited_at": now,
	}).Error
	if err != nil {
		return nil, apperrors.Internal("Failed to edit message")
	}
	msg.Content = newContent
	msg.EditedAt = &now
	return hydrateMessage(msg)
}

// DeleteMessage soft-deletes: the row keeps its id and position so replies
// and ordering stay valid, but content is never served again.
func DeleteMessage(messageID, requesterID string) (*models.Message, error) {
	msg, err := getMessage(messageID)
	if err != nil {
		return nil, err
	}

	mu := lockConversation(msg.ConversationID)
	mu.Lock()
	defer mu.Unlock()

	if msg, err = getMessage(messageID); err != nil {
		return nil, err
	}
	if msg.IsDeleted() {
		return nil, apperrors.NotFound("Message has already been deleted")
	}
	if msg.SenderID != requesterID {
		return nil, apperrors.Forbidden("Only the sender can delete a message")
	}

	now := time.Now()
	err = database.DB.Model(msg).Updates(map[string]interface{}{
		"content":    "",
		"deleted_at": now,
	}).Error
	if err != nil {
		return nil, apperrors.Internal("Failed to delete message")
	}
	msg.Content = ""
	msg.DeletedAt = &now
	invalidateUnreadCaches(msg.ConversationID)
	return hydrateMessage(msg)
}

// React adds a reaction. Idempotent per (message, user, emoji).
func React(messageID, userID, emoji string) (*models.Message, error) {
	if !models.IsValidReactionEmoji(emoji) {
		return nil, apperrors.InvalidArgument("Unsupported reaction emoji")
	}

	msg, err := getMessage(messageID)
	if err != nil {
		return nil, err
	}
	if msg.IsDeleted() {
		return nil, apperrors.NotFound("Message has been deleted")
	}
	if ok, err := IsParticipant(msg.ConversationID, userID); err != nil {
		return nil, err
	} else if !ok {
		return nil, apperrors.Forbidden("You are not a participant of this conversation")
	}

	reaction := models.MessageReaction{
		MessageID: messageID,
		UserID:    userID,
		Emoji:     emoji,
		CreatedAt: time.Now(),
	}
	err = database.DB.
		Where(models.MessageReaction{MessageID: messageID, UserID: userID, Emoji: emoji}).
		FirstOrCreate(&reaction).Error
	if err != nil {
		return nil, apperrors.Internal("Failed to add reaction")
	}
	return msg, nil
}

// Unreact removes a reaction. Removing an absent reaction is a no-op.
func Unreact(messageID, userID, emoji string) (*models.Message, error) {
	msg, err := getMessage(messageID)
	if err != nil {
		return nil, err
	}
	if ok, err := IsParticipant(msg.ConversationID, userID); err != nil {
		return nil, err
	} else if !ok {
		return nil, apperrors.Forbidden("You are not a participant of this conversation")
	}

	err = database.DB.
		Where("message_id = ? AND user_id = ? AND emoji = ?", messageID, userID, emoji).
		Delete(&models.MessageReaction{}).Error
	if err != nil {
		return nil, apperrors.Internal("Failed to remove reaction")
	}
	return msg, nil
}

// MarkRead records a per-message receipt and advances the participant's read
// watermark if (and only if) the acknowledged message is ordered after the
// current one. The watermark never regresses.
func MarkRead(conversationID, userID, throughMessageID string) (*models.ConversationParticipant, bool, error) {
	mu := lockConversation(conversationID)
	mu.Lock()
	defer mu.Unlock()

	var member models.ConversationParticipant
	err := database.DB.
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		First(&member).Error
	if err != nil {
		return nil, false, apperrors.Forbidden("You are not a participant of this conversation")
	}

	target, err := getMessage(throughMessageID)
	if err != nil {
		return nil, false, err
	}
	if target.ConversationID != conversationID {
		return nil, false, apperrors.InvalidArgument("Message belongs to another conversation")
	}

	now := time.Now()
	receipt := models.ReadReceipt{MessageID: throughMessageID, UserID: userID, ReadAt: now}
	if err := database.DB.
		Where(models.ReadReceipt{MessageID: throughMessageID, UserID: userID}).
		FirstOrCreate(&receipt).Error; err != nil {
		return nil, false, apperrors.Internal("Failed to record read receipt")
	}

	advanced := true
	if member.LastReadMessageID != nil {
		current, err := getMessage(*member.LastReadMessageID)
		if err == nil && !current.OrderedBefore(target) {
			advanced = false
		}
	}

	if advanced {
		err = database.DB.Model(&models.ConversationParticipant{}).
			Where("conversation_id = ? AND user_id = ?", conversationID, userID).
			Updates(map[string]interface{}{
				"last_read_message_id": throughMessageID,
				"last_read_at":         now,
			}).Error
		if err != nil {
			return nil, false, apperrors.Internal("Failed to advance read watermark")
		}
		member.LastReadMessageID = &throughMessageID
		member.LastReadAt = &now
		invalidateUnreadCaches(conversationID)
	}

	return &member, advanced, nil
}

// ConversationSummary is one row of the conversation list.
type ConversationSummary struct {
	Conversation models.Conversation `json:"conversation"`
	LastMessage  *models.Message     `json:"lastMessage,omitempty"`
	UnreadCount  int64               `json:"unreadCount"`
}

// ListConversations returns the user's conversations ordered by most recent
// activity, with last message preview and unread count.
// An optional search term filters group conversations by name.
func ListConversations(userID, search string) ([]ConversationSummary, error) {
	query := database.DB.
		Joins("JOIN conversation_participants cp ON cp.conversation_id = conversations.id").
		Where("cp.user_id = ?", userID)
	if strings.TrimSpace(search) != "" {
		query = query.Where("conversations.name LIKE ? ESCAPE '\\'", utils.SanitizeSearchQuery(search))
	}

	var convs []models.Conversation
	err := query.
		Preload("Participants").
		Preload("Participants.User").
		Order("conversations.updated_at DESC").
		Find(&convs).Error
	if err != nil {
		return nil, apperrors.Internal("Failed to fetch conversations")
	}

	summaries := make([]ConversationSummary, 0, len(convs))
	for _, conv := range convs {
		summary := ConversationSummary{Conversation: conv}

		var last models.Message
		err := database.DB.
			Where("conversation_id = ?", conv.ID).
			Order("created_at DESC, id DESC").
			First(&last).Error
		if err == nil {
			view := last.View()
			summary.LastMessage = &view
		}

		count, err := unreadCount(conv, userID)
		if err != nil {
			return nil, err
		}
		summary.UnreadCount = count

		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// unreadCount is read-through cached per (conversation, user); mutations
// invalidate via invalidateUnreadCaches. A cache miss or an unreachable
// Redis falls back to counting in the database.
func unreadCount(conv models.Conversation, userID string) (int64, error) {
	cacheKey := database.UnreadCountKey(conv.ID, userID)
	if database.Redis != nil {
		var cached int64
		if err := database.CacheGet(cacheKey, &cached); err == nil {
			return cached, nil
		}
	}

	var member models.ConversationParticipant
	for _, p := range conv.Participants {
		if p.UserID == userID {
			member = p
			break
		}
	}

	q := database.DB.Model(&models.Message{}).
		Where("conversation_id = ? AND sender_id != ? AND deleted_at IS NULL", conv.ID, userID)
	if member.LastReadMessageID != nil {
		watermark, err := getMessage(*member.LastReadMessageID)
		if err == nil {
			q = q.Where("created_at > ? OR (created_at = ? AND id > ?)",
				watermark.CreatedAt, watermark.CreatedAt, watermark.ID)
		}
	}

	var count int64
	if err := q.Count(&count).Error; err != nil {
		return 0, apperrors.Internal("Failed to count unread messages")
	}
	if database.Redis != nil {
		database.CacheSet(cacheKey, count, 5*time.Minute)
	}
	return count, nil
}

// ListMessages pages backward through history: the newest page when beforeID
// is empty, otherwise messages strictly older than beforeID. Results are
// ascending by (created-at, id) and include tombstones so ordering and reply
// previews stay stable on the client.
func ListMessages(conversationID, userID, beforeID string, limit int) ([]models.Message, error) {
	if ok, err := IsParticipant(conversationID, userID); err != nil {
		return nil, err
	} else if !ok {
		return nil, apperrors.Forbidden("You are not a participant of this conversation")
	}
	if limit <= 0 {
		limit = 50
		if config.AppConfig != nil && config.AppConfig.MessagePageSize > 0 {
			limit = config.AppConfig.MessagePageSize
		}
	}

	q := database.DB.
		Where("conversation_id = ?", conversationID).
		Preload("Sender").
		Preload("Reactions").
		Order("created_at DESC, id DESC").
		Limit(limit)

	if beforeID != "" {
		cursor, err := getMessage(beforeID)
		if err != nil {
			return nil, err
		}
		q = q.Where("created_at < ? OR (created_at = ? AND id < ?)",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	var page []models.Message
	if err := q.Find(&page).Error; err != nil {
		return nil, apperrors.Internal("Failed to fetch messages")
	}

	// Reverse into ascending display order and resolve reply previews.
	out := make([]models.Message, 0, len(page))
	for i := len(page) - 1; i >= 0; i-- {
		msg := page[i]
		if msg.ReplyToID != nil {
			if parent, err := getMessage(*msg.ReplyToID); err == nil {
				msg.ReplyTo = parent
			}
		}
		out = append(out, msg.View())
	}
	return out, nil
}

// ConversationWithParticipants loads a conversation with its member rows,
// e.g. for announcing it to a newly added member.
func ConversationWithParticipants(conversationID string) (*models.Conversation, error) {
	var conv models.Conversation
	err := database.DB.
		Preload("Participants").
		Preload("Participants.User").
		First(&conv, "id = ?", conversationID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperrors.NotFound("Conversation not found")
		}
		return nil, apperrors.Internal("Failed to fetch conversation")
	}
	return &conv, nil
}

// ParticipantIDs returns the user ids belonging to the conversation.
func ParticipantIDs(conversationID string) ([]string, error) {
	var ids []string
	err := database.DB.Model(&models.ConversationParticipant{}).
		Where("conversation_id = ?", conversationID).
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, apperrors.Internal("Failed to fetch participants")
	}
	return ids, nil
}

func getConversation(conversationID string) (*models.Conversation, error) {
	var conv models.Conversation
	if err := database.DB.First(&conv, "id = ?", conversationID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperrors.NotFound("Conversation not found")
		}
		return nil, apperrors.Internal("Failed to fetch conversation")
	}
	return &conv, nil
}

func getMessage(messageID string) (*models.Message, error) {
	var msg models.Message
	if err := database.DB.First(&msg, "id = ?", messageID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperrors.NotFound("Message not found")
		}
		return nil, apperrors.Internal("Failed to fetch message")
	}
	return &msg, nil
}

func hydrateMessage(msg *models.Message) (*models.Message, error) {
	database.DB.Preload("Sender").Preload("Reactions").First(msg, "id = ?", msg.ID)
	if msg.ReplyToID != nil {
		if parent, err := getMessage(*msg.ReplyToID); err == nil {
			msg.ReplyTo = parent
		}
	}
	return msg, nil
}

func invalidateUnreadCaches(conversationID string) {
	if database.Redis == nil {
		return
	}
	ids, err := ParticipantIDs(conversationID)
	if err != nil {
		return
	}
	for _, id := range ids {
		database.CacheInvalidate(database.UnreadCountKey(conversationID, id))
	}
}

func dedupeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
