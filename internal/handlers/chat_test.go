package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sgsgita/alumni-connect-backend/internal/database"
	"github.com/sgsgita/alumni-connect-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// SetupTestDB initializes an in-memory SQLite DB for testing
func SetupTestDB(t *testing.T) {
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

func jsonRequest(t *testing.T, userId, method, target string, body interface{}) (*httptest.ResponseRecorder, *gin.Context) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	c.Request, _ = http.NewRequest(method, target, &buf)
	c.Request.Header.Set("Content-Type", "application/json")
	c.Set("userId", userId)
	return w, c
}

func TestCreateConversation_DirectIdempotentHTTP(t *testing.T) {
	SetupTestDB(t)
	gin.SetMode(gin.TestMode)

	w, c := jsonRequest(t, "alice", "POST", "/api/chat/conversations", gin.H{
		"kind":           "direct",
		"participantIds": []string{"bob"},
	})
	CreateConversation(c)
	assert.Equal(t, http.StatusCreated, w.Code)

	var first struct {
		Conversation models.Conversation `json:"conversation"`
		Created      bool                `json:"created"`
	}
	json.Unmarshal(w.Body.Bytes(), &first)
	assert.True(t, first.Created)
	assert.Len(t, first.Conversation.Participants, 2)

	// Repeat request returns the same conversation, not a duplicate.
	w, c = jsonRequest(t, "alice", "POST", "/api/chat/conversations", gin.H{
		"kind":           "direct",
		"participantIds": []string{"bob"},
	})
	CreateConversation(c)
	assert.Equal(t, http.StatusOK, w.Code)

	var second struct {
		Conversation models.Conversation `json:"conversation"`
		Created      bool                `json:"created"`
	}
	json.Unmarshal(w.Body.Bytes(), &second)
	assert.False(t, second.Created)
	assert.Equal(t, first.Conversation.ID, second.Conversation.ID)
}

func TestSendMessage_HTTPFlow(t *testing.T) {
	SetupTestDB(t)
	gin.SetMode(gin.TestMode)

	w, c := jsonRequest(t, "alice", "POST", "/api/chat/conversations", gin.H{
		"kind":           "direct",
		"participantIds": []string{"bob"},
	})
	CreateConversation(c)
	var created struct {
		Conversation models.Conversation `json:"conversation"`
	}
	json.Unmarshal(w.Body.Bytes(), &created)
	convID := created.Conversation.ID

	w, c = jsonRequest(t, "alice", "POST", "/api/chat/conversations/"+convID+"/messages", gin.H{
		"content":         "hello",
		"clientMessageId": "req-1",
	})
	c.Params = gin.Params{{Key: "id", Value: convID}}
	SendMessage(c)
	assert.Equal(t, http.StatusOK, w.Code)

	var sent struct {
		Message models.Message `json:"message"`
	}
	json.Unmarshal(w.Body.Bytes(), &sent)
	assert.Equal(t, "hello", sent.Message.Content)
	assert.NotEmpty(t, sent.Message.ID)
	assert.Equal(t, "req-1", *sent.Message.ClientMessageID)

	// Script tags never reach storage.
	w, c = jsonRequest(t, "bob", "POST", "/api/chat/conversations/"+convID+"/messages", gin.H{
		"content": "<script>alert(1)</script>hi",
	})
	c.Params = gin.Params{{Key: "id", Value: convID}}
	SendMessage(c)
	assert.Equal(t, http.StatusOK, w.Code)
	json.Unmarshal(w.Body.Bytes(), &sent)
	assert.Equal(t, "hi", sent.Message.Content)

	// Empty content is rejected before it hits the store.
	w, c = jsonRequest(t, "bob", "POST", "/api/chat/conversations/"+convID+"/messages", gin.H{
		"content": "   ",
	})
	c.Params = gin.Params{{Key: "id", Value: convID}}
	SendMessage(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEditDelete_HTTPAuthorization(t *testing.T) {
	SetupTestDB(t)
	gin.SetMode(gin.TestMode)

	w, c := jsonRequest(t, "alice", "POST", "/api/chat/conversations", gin.H{
		"kind":           "direct",
		"participantIds": []string{"bob"},
	})
	CreateConversation(c)
	var created struct {
		Conversation models.Conversation `json:"conversation"`
	}
	json.Unmarshal(w.Body.Bytes(), &created)
	convID := created.Conversation.ID

	w, c = jsonRequest(t, "alice", "POST", "/", gin.H{"content": "hello"})
	c.Params = gin.Params{{Key: "id", Value: convID}}
	SendMessage(c)
	var sent struct {
		Message models.Message `json:"message"`
	}
	json.Unmarshal(w.Body.Bytes(), &sent)

	// Bob cannot edit Alice's message.
	w, c = jsonRequest(t, "bob", "PATCH", "/", gin.H{"content": "hijacked"})
	c.Params = gin.Params{{Key: "id", Value: sent.Message.ID}}
	EditMessage(c)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Alice can.
	w, c = jsonRequest(t, "alice", "PATCH", "/", gin.H{"content": "hello there"})
	c.Params = gin.Params{{Key: "id", Value: sent.Message.ID}}
	EditMessage(c)
	assert.Equal(t, http.StatusOK, w.Code)
	var edited struct {
		Message models.Message `json:"message"`
	}
	json.Unmarshal(w.Body.Bytes(), &edited)
	assert.Equal(t, "hello there", edited.Message.Content)
	assert.Equal(t, sent.Message.ID, edited.Message.ID)
	assert.NotNil(t, edited.Message.EditedAt)

	// Bob cannot delete it either; Alice's delete leaves a tombstone.
	w, c = jsonRequest(t, "bob", "DELETE", "/", nil)
	c.Params = gin.Params{{Key: "id", Value: sent.Message.ID}}
	DeleteMessage(c)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, c = jsonRequest(t, "alice", "DELETE", "/", nil)
	c.Params = gin.Params{{Key: "id", Value: sent.Message.ID}}
	DeleteMessage(c)
	assert.Equal(t, http.StatusOK, w.Code)
	var deleted struct {
		Message models.Message `json:"message"`
	}
	json.Unmarshal(w.Body.Bytes(), &deleted)
	assert.Empty(t, deleted.Message.Content)
	assert.NotNil(t, deleted.Message.DeletedAt)
}

func TestMarkRead_HTTP(t *testing.T) {
	SetupTestDB(t)
	gin.SetMode(gin.TestMode)

	w, c := jsonRequest(t, "alice", "POST", "/", gin.H{
		"kind":           "direct",
		"participantIds": []string{"bob"},
	})
	CreateConversation(c)
	var created struct {
		Conversation models.Conversation `json:"conversation"`
	}
	json.Unmarshal(w.Body.Bytes(), &created)
	convID := created.Conversation.ID

	w, c = jsonRequest(t, "alice", "POST", "/", gin.H{"content": "hello"})
	c.Params = gin.Params{{Key: "id", Value: convID}}
	SendMessage(c)
	var sent struct {
		Message models.Message `json:"message"`
	}
	json.Unmarshal(w.Body.Bytes(), &sent)

	w, c = jsonRequest(t, "bob", "POST", "/", gin.H{"throughMessageId": sent.Message.ID})
	c.Params = gin.Params{{Key: "id", Value: convID}}
	MarkRead(c)
	assert.Equal(t, http.StatusOK, w.Code)

	var read struct {
		LastReadMessageID *string `json:"lastReadMessageId"`
		Advanced          bool    `json:"advanced"`
	}
	json.Unmarshal(w.Body.Bytes(), &read)
	assert.True(t, read.Advanced)
	assert.Equal(t, sent.Message.ID, *read.LastReadMessageID)
}

func TestSanitizeMessageContent(t *testing.T) {
	_, err := SanitizeMessageContent("")
	assert.Error(t, err)
	_, err = SanitizeMessageContent("   ")
	assert.Error(t, err)

	out, err := SanitizeMessageContent("hello <script>evil()</script>world")
	assert.NoError(t, err)
	assert.NotContains(t, out, "script")

	out, err = SanitizeMessageContent("a < b")
	assert.NoError(t, err)
	assert.Equal(t, "a &lt; b", out)
}
