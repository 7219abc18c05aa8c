// Package reconciler merges optimistic local chat state with authoritative
// server state. A Go client embeds one Reconciler and feeds it three inputs:
// its own send intents, the synchronous confirmations (or failures) for those
// sends, and the broadcast events arriving over the socket. The reconciler
// guarantees each message id appears exactly once, ordered by
// (created-at, id), with edits and deletions applied in place.
package reconciler

import (
	"sort"
	"sync"
	"time"
)

// Status is the lifecycle of a locally-originated message.
type Status string

const (
	// StatusSending: optimistic placeholder, not yet confirmed.
	StatusSending Status = "sending"
	// StatusSent: confirmed by the server (or server-originated).
	StatusSent Status = "sent"
	// StatusFailed: the send request failed; the entry stays visible with a
	// retry affordance and is never left as "sending".
	StatusFailed Status = "failed"
)

// Message is the reconciler's view of a message. Server-confirmed entries
// carry the authoritative id and timestamp; placeholders carry a local id
// derived from the client token until confirmation.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Content        string
	Kind           string
	CreatedAt      time.Time
	EditedAt       *time.Time
	Deleted        bool
	ReplyToID      *string
	Status         Status

	// ClientToken is the client-generated request token for
	// locally-originated messages. Matching happens on this token, never on
	// content or timestamp proximity.
	ClientToken string
}

// localID is the placeholder identifier for an unconfirmed send.
func localID(token string) string {
	return "local:" + token
}

// Timeline is the reconciled, time-ordered message sequence for one
// conversation. Safe for concurrent use.
type Timeline struct {
	mu             sync.Mutex
	conversationID string
	entries        []*Message
	byID           map[string]*Message
	byToken        map[string]*Message
}

func NewTimeline(conversationID string) *Timeline {
	return &Timeline{
		conversationID: conversationID,
		byID:           make(map[string]*Message),
		byToken:        make(map[string]*Message),
	}
}

// AppendLocal inserts the optimistic placeholder for a send intent. The user
// sees their message immediately, before any server round trip. Idempotent
// per token: a repeated intent returns the existing placeholder.
func (t *Timeline) AppendLocal(token, senderID, content string, replyToID *string) Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.byToken[token]; ok {
		return *existing
	}

	msg := &Message{
		ID:             localID(token),
		ConversationID: t.conversationID,
		SenderID:       senderID,
		Content:        content,
		Kind:           "text",
		CreatedAt:      time.Now(),
		ReplyToID:      replyToID,
		Status:         StatusSending,
		ClientToken:    token,
	}
	t.byToken[token] = msg
	t.byID[msg.ID] = msg
	t.insertLocked(msg)
	return *msg
}

// Confirm replaces the placeholder for token with the authoritative record.
// If a broadcast for the same server id already landed (resync racing the
// confirmation), the placeholder is simply dropped — never duplicated.
func (t *Timeline) Confirm(token string, confirmed Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	placeholder, ok := t.byToken[token]
	if !ok {
		// No placeholder (e.g. replayed confirmation): treat as a plain
		// server event.
		t.upsertLocked(confirmed)
		return
	}
	delete(t.byToken, token)

	if _, exists := t.byID[confirmed.ID]; exists && confirmed.ID != placeholder.ID {
		// The broadcast beat the confirmation. Keep the already-applied
		// record, drop the placeholder.
		t.removeLocked(placeholder)
		return
	}

	delete(t.byID, placeholder.ID)
	confirmed.Status = StatusSent
	confirmed.ClientToken = token
	*placeholder = confirmed
	t.byID[placeholder.ID] = placeholder

	// The authoritative timestamp may order the message differently than the
	// optimistic local clock did.
	t.resortLocked()
}

// Fail marks the placeholder as failed-to-send. The entry stays for the
// retry affordance; it is never left in a permanent "sending" state.
func (t *Timeline) Fail(token string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if placeholder, ok := t.byToken[token]; ok {
		placeholder.Status = StatusFailed
	}
}

// Discard removes a placeholder entirely (user dismissed the failed send).
func (t *Timeline) Discard(token string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	placeholder, ok := t.byToken[token]
	if !ok {
		return
	}
	delete(t.byToken, token)
	t.removeLocked(placeholder)
}

// ApplyNew applies a message:new broadcast. Idempotent: an id already held is
// updated in place, never duplicated. A broadcast carrying our own client
// token doubles as the confirmation for the matching placeholder.
func (t *Timeline) ApplyNew(msg Message) {
	if msg.ClientToken != "" {
		t.Confirm(msg.ClientToken, msg)
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.upsertLocked(msg)
}

// ApplyEdited applies a message:edited broadcast: content and edit timestamp
// change, identity and position never do. Unknown ids (edit seen before the
// resync that carries the message) are inserted.
func (t *Timeline) ApplyEdited(msg Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	existing, ok := t.byID[msg.ID]
	if !ok {
		t.upsertLocked(msg)
		return
	}
	existing.Content = msg.Content
	existing.EditedAt = msg.EditedAt
}

// ApplyDeleted applies a message:deleted broadcast: the slot becomes a
// tombstone in place, keeping position and id so replies still resolve.
func (t *Timeline) ApplyDeleted(msg Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	existing, ok := t.byID[msg.ID]
	if !ok {
		msg.Deleted = true
		msg.Content = ""
		t.upsertLocked(msg)
		return
	}
	existing.Deleted = true
	existing.Content = ""
	existing.EditedAt = msg.EditedAt
}

// MergeOlder merges a backward history page. Messages already held keep
// their slot and identity untouched; only genuinely new (older) entries are
// inserted, so already-rendered rows never jump.
func (t *Timeline) MergeOlder(page []Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, msg := range page {
		if existing, ok := t.byID[msg.ID]; ok {
			// Keep position and pointer identity; refresh mutable fields the
			// resync may know better than a stale live event.
			existing.Content = msg.Content
			existing.EditedAt = msg.EditedAt
			existing.Deleted = msg.Deleted
			continue
		}
		copied := msg
		if copied.Status == "" {
			copied.Status = StatusSent
		}
		t.byID[copied.ID] = &copied
		t.insertLocked(&copied)
	}
}

// Messages returns the ordered snapshot for display.
func (t *Timeline) Messages() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Message, len(t.entries))
	for i, msg := range t.entries {
		out[i] = *msg
	}
	return out
}

// OldestID returns the id to use as the "load older" cursor, skipping local
// placeholders. Empty when nothing confirmed is held.
func (t *Timeline) OldestID() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, msg := range t.entries {
		if msg.ClientToken == "" || msg.Status == StatusSent {
			return msg.ID
		}
	}
	return ""
}

// Len returns the number of held entries, placeholders included.
func (t *Timeline) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// orderedBefore is the display order: (created-at, id) ascending.
func orderedBefore(a, b *Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// insertLocked places msg at its ordered position. Existing entries keep
// their relative order.
func (t *Timeline) insertLocked(msg *Message) {
	idx := sort.Search(len(t.entries), func(i int) bool {
		return orderedBefore(msg, t.entries[i])
	})
	t.entries = append(t.entries, nil)
	copy(t.entries[idx+1:], t.entries[idx:])
	t.entries[idx] = msg
}

// resortLocked restores ordering after an entry's order key changed in
// place (a confirmation swapping the local timestamp for the server one).
// Stable, so equal keys keep their relative order.
func (t *Timeline) resortLocked() {
	sort.SliceStable(t.entries, func(i, j int) bool {
		return orderedBefore(t.entries[i], t.entries[j])
	})
}

func (t *Timeline) removeLocked(msg *Message) {
	delete(t.byID, msg.ID)
	for i, entry := range t.entries {
		if entry == msg {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			return
		}
	}
}

// upsertLocked inserts a server record or updates the held one in place.
func (t *Timeline) upsertLocked(msg Message) {
	if existing, ok := t.byID[msg.ID]; ok {
		status := existing.Status
		token := existing.ClientToken
		*existing = msg
		if msg.Status == "" {
			existing.Status = status
		}
		if existing.Status == "" || existing.Status == StatusSending {
			existing.Status = StatusSent
		}
		existing.ClientToken = token
		return
	}
	if msg.Status == "" {
		msg.Status = StatusSent
	}
	copied := msg
	t.byID[copied.ID] = &copied
	t.insertLocked(&copied)
}

// Reconciler holds one Timeline per conversation.
type Reconciler struct {
	mu        sync.Mutex
	timelines map[string]*Timeline
}

func New() *Reconciler {
	return &Reconciler{timelines: make(map[string]*Timeline)}
}

// Timeline returns (creating if needed) the timeline for a conversation.
func (r *Reconciler) Timeline(conversationID string) *Timeline {
	r.mu.Lock()
	defer r.mu.Unlock()

	tl, ok := r.timelines[conversationID]
	if !ok {
		tl = NewTimeline(conversationID)
		r.timelines[conversationID] = tl
	}
	return tl
}

// Reset drops a conversation's local state (e.g. on leaving it).
func (r *Reconciler) Reset(conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.timelines, conversationID)
}
