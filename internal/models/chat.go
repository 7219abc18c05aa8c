package models

import (
	"sort"
	"strings"
	"time"

	"github.com/sgsgita/alumni-connect-backend/pkg/utils"
	"gorm.io/gorm"
)

// Conversation kinds
const (
	ConversationDirect = "direct" // exactly two participants
	ConversationGroup  = "group"  // two or more, named
	ConversationLinked = "linked" // group anchored to an external posting
)

// Conversation is a chat thread. Direct conversations are unique per
// unordered user pair, enforced through DirectKey.
type Conversation struct {
	ID        string    `gorm:"primaryKey;type:text" json:"id"`
	Kind      string    `gorm:"type:text;not null;default:'direct'" json:"kind"`
	Name      string    `gorm:"type:text" json:"name"`
	CreatorID string    `gorm:"index;type:text;not null" json:"creatorId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// Canonical "smallerID|largerID" for direct conversations, empty for
	// groups. The unique index is what makes concurrent direct creation
	// race-safe: the loser hits a duplicate key and re-reads the winner.
	DirectKey *string `gorm:"uniqueIndex" json:"-"`

	// Posting (or other external item) a linked conversation is anchored to.
	LinkedItemID *string `gorm:"index;type:text" json:"linkedItemId,omitempty"`

	ArchivedAt *time.Time `json:"archivedAt,omitempty"`

	Participants []ConversationParticipant `gorm:"foreignKey:ConversationID" json:"participants,omitempty"`
}

func (c *Conversation) BeforeCreate(tx *gorm.DB) (err error) {
	if c.ID == "" {
		c.ID = utils.GenerateID()
	}
	return
}

// DirectKeyFor returns the canonical pair key for a direct conversation.
func DirectKeyFor(userA, userB string) string {
	pair := []string{userA, userB}
	sort.Strings(pair)
	return strings.Join(pair, "|")
}

// ConversationParticipant relates a user to a conversation and carries the
// read watermark. The watermark is the (created-at, id) of the most recent
// message the user acknowledged; it only moves forward.
type ConversationParticipant struct {
	ConversationID string    `gorm:"primaryKey;type:text" json:"conversationId"`
	UserID         string    `gorm:"primaryKey;type:text" json:"userId"`
	JoinedAt       time.Time `json:"joinedAt"`

	LastReadMessageID *string    `gorm:"type:text" json:"lastReadMessageId"`
	LastReadAt        *time.Time `json:"lastReadAt"`

	User User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

// Message kinds
const (
	MessageText   = "text"
	MessageSystem = "system"
)

// Message belongs to exactly one conversation. Soft deletion keeps the row
// (and therefore ordering and reply references) but content is never served
// once DeletedAt is set. DeletedAt is a plain column, not gorm.DeletedAt:
// tombstones must stay visible in history queries.
type Message struct {
	ID             string `gorm:"primaryKey;type:text" json:"id"`
	ConversationID string `gorm:"index;type:text;not null" json:"conversationId"`
	SenderID       string `gorm:"index;type:text;not null" json:"senderId"`
	Content        string `gorm:"type:text" json:"content"`
	Kind           string `gorm:"type:text;not null;default:'text'" json:"kind"`

	CreatedAt time.Time  `gorm:"index" json:"createdAt"`
	EditedAt  *time.Time `json:"editedAt,omitempty"`
	DeletedAt *time.Time `gorm:"index" json:"deletedAt,omitempty"`

	// Client-generated request token for optimistic-send deduplication.
	ClientMessageID *string `gorm:"index;type:text" json:"clientMessageId,omitempty"`

	// Threading. ReplyTo is resolved at read time, not a GORM relation, so
	// tombstoned parents still render as tombstones instead of erroring.
	ReplyToID *string  `gorm:"index;type:text" json:"replyToId,omitempty"`
	ReplyTo   *Message `gorm:"-" json:"replyTo,omitempty"`

	Sender    User              `gorm:"foreignKey:SenderID" json:"sender,omitempty"`
	Reactions []MessageReaction `gorm:"foreignKey:MessageID" json:"reactions,omitempty"`
}

func (m *Message) BeforeCreate(tx *gorm.DB) (err error) {
	if m.ID == "" {
		m.ID = utils.GenerateID()
	}
	return
}

// IsDeleted reports whether the message has been tombstoned.
func (m *Message) IsDeleted() bool {
	return m.DeletedAt != nil
}

// OrderedBefore reports whether m sorts before other in display order:
// (created-at, id) ascending. The id tie-break keeps ordering total even
// when two sends land on the same timestamp.
func (m *Message) OrderedBefore(other *Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}

// View returns the broadcastable form of the message: tombstoned messages
// keep id, position and timestamps but never leak content.
func (m Message) View() Message {
	if m.IsDeleted() {
		m.Content = ""
		m.Reactions = nil
	}
	if m.ReplyTo != nil {
		v := m.ReplyTo.View()
		m.ReplyTo = &v
	}
	return m
}

// MessageReaction stores emoji reactions. One row per (message, user, emoji);
// repeated identical reactions are no-ops.
type MessageReaction struct {
	ID        string    `gorm:"primaryKey;type:text" json:"id"`
	MessageID string    `gorm:"uniqueIndex:idx_unique_reaction;type:text;not null" json:"messageId"`
	UserID    string    `gorm:"uniqueIndex:idx_unique_reaction;type:text;not null" json:"userId"`
	Emoji     string    `gorm:"uniqueIndex:idx_unique_reaction;type:text;not null" json:"emoji"`
	CreatedAt time.Time `json:"createdAt"`
}

func (r *MessageReaction) BeforeCreate(tx *gorm.DB) (err error) {
	if r.ID == "" {
		r.ID = utils.GenerateID()
	}
	return
}

// ReadReceipt records that a user read a specific message. Kept per message
// for receipt display even when the participant watermark already moved past.
type ReadReceipt struct {
	MessageID string    `gorm:"primaryKey;type:text" json:"messageId"`
	UserID    string    `gorm:"primaryKey;type:text" json:"userId"`
	ReadAt    time.Time `json:"readAt"`
}

// AllowedReactionEmojis is the curated reaction set.
var AllowedReactionEmojis = []string{
	"👍", "👎", "❤️", "😂", "😮", "😢", "🔥", "🎉", "🚀", "👀",
}

// IsValidReactionEmoji checks if an emoji is in the allowed list
func IsValidReactionEmoji(emoji string) bool {
	for _, e := range AllowedReactionEmojis {
		if e == emoji {
			return true
		}
	}
	return false
}
