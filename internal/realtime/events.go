package realtime

import (
	"time"

	"github.com/sgsgita/alumni-connect-backend/internal/models"
)

// Event names delivered over the socket. The payload for each name is a
// fixed struct below — no free-form maps, so a missing field is a compile
// error rather than a runtime surprise.
const (
	EventMessageNew          = "message:new"
	EventMessageEdited       = "message:edited"
	EventMessageDeleted      = "message:deleted"
	EventTypingStart         = "typing:start"
	EventTypingStop          = "typing:stop"
	EventReadReceipt         = "read:receipt"
	EventReactionAdded       = "reaction:added"
	EventReactionRemoved     = "reaction:removed"
	EventConversationCreated = "conversation:created"
	EventPresenceUpdate      = "presence:update"
	EventOnlineUsers         = "online:users"
)

// Event is the envelope every broadcast carries.
type Event struct {
	Type           string      `json:"type"`
	ConversationID string      `json:"conversationId,omitempty"`
	Payload        interface{} `json:"payload"`
}

// MessagePayload carries the broadcastable view of a message for
// message:new, message:edited and message:deleted.
type MessagePayload struct {
	Message models.Message `json:"message"`
}

// TypingPayload carries who is typing where. ExpiresAt lets clients
// self-expire the indicator even if the stop event is lost.
type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	ExpiresAt      int64  `json:"expiresAt,omitempty"`
}

// ReadReceiptPayload announces a watermark advance.
type ReadReceiptPayload struct {
	ConversationID   string    `json:"conversationId"`
	UserID           string    `json:"userId"`
	ThroughMessageID string    `json:"throughMessageId"`
	ReadAt           time.Time `json:"readAt"`
}

// ReactionPayload carries a reaction add/remove.
type ReactionPayload struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	UserID         string `json:"userId"`
	Emoji          string `json:"emoji"`
}

// ConversationPayload announces a newly created conversation to its
// participants' personal rooms.
type ConversationPayload struct {
	Conversation models.Conversation `json:"conversation"`
}

// PresencePayload announces a user going online or offline.
type PresencePayload struct {
	UserID   string `json:"userId"`
	IsOnline bool   `json:"isOnline"`
}

func NewMessageEvent(typ string, msg models.Message) Event {
	return Event{
		Type:           typ,
		ConversationID: msg.ConversationID,
		Payload:        MessagePayload{Message: msg.View()},
	}
}

func NewTypingEvent(typ, conversationID, userID string, expiresAt int64) Event {
	return Event{
		Type:           typ,
		ConversationID: conversationID,
		Payload: TypingPayload{
			ConversationID: conversationID,
			UserID:         userID,
			ExpiresAt:      expiresAt,
		},
	}
}

func NewReadReceiptEvent(conversationID, userID, throughMessageID string, readAt time.Time) Event {
	return Event{
		Type:           EventReadReceipt,
		ConversationID: conversationID,
		Payload: ReadReceiptPayload{
			ConversationID:   conversationID,
			UserID:           userID,
			ThroughMessageID: throughMessageID,
			ReadAt:           readAt,
		},
	}
}

func NewReactionEvent(typ, conversationID, messageID, userID, emoji string) Event {
	return Event{
		Type:           typ,
		ConversationID: conversationID,
		Payload: ReactionPayload{
			ConversationID: conversationID,
			MessageID:      messageID,
			UserID:         userID,
			Emoji:          emoji,
		},
	}
}

func NewConversationEvent(conv models.Conversation) Event {
	return Event{
		Type:           EventConversationCreated,
		ConversationID: conv.ID,
		Payload:        ConversationPayload{Conversation: conv},
	}
}

func NewPresenceEvent(userID string, isOnline bool) Event {
	return Event{
		Type:    EventPresenceUpdate,
		Payload: PresencePayload{UserID: userID, IsOnline: isOnline},
	}
}
