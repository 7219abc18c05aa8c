package realtime

import (
	"sync"
	"time"
)

// TypingTracker owns the server-side typing auto-clear. A typing start
// (re)arms an expiry per (conversation, user); if no renewal arrives before
// it fires, the tracker reports a stop itself. Clients that disconnect
// mid-typing therefore never leave a stuck indicator.
type TypingTracker struct {
	mu      sync.Mutex
	timeout time.Duration
	active  map[typingKey]*typingState
	onStop  func(conversationID, userID string)
}

type typingKey struct {
	conversationID string
	userID         string
}

type typingState struct {
	timer   *time.Timer
	renewed time.Time
}

// NewTypingTracker creates a tracker. onStop is invoked (on a timer
// goroutine) when a typing indicator expires without an explicit stop.
func NewTypingTracker(timeout time.Duration, onStop func(conversationID, userID string)) *TypingTracker {
	return &TypingTracker{
		timeout: timeout,
		active:  make(map[typingKey]*typingState),
		onStop:  onStop,
	}
}

// Start records typing activity, renewing the expiry window. Returns true if
// this is a fresh indicator (a typing:start should be broadcast), false if it
// only renewed an active one.
func (t *TypingTracker) Start(conversationID, userID string) bool {
	key := typingKey{conversationID, userID}

	t.mu.Lock()
	defer t.mu.Unlock()

	if state, ok := t.active[key]; ok {
		state.renewed = time.Now()
		state.timer.Reset(t.timeout)
		return false
	}

	t.active[key] = &typingState{
		renewed: time.Now(),
		timer: time.AfterFunc(t.timeout, func() {
			t.expire(key)
		}),
	}
	return true
}

// Stop clears the indicator explicitly. Returns true if it was active.
func (t *TypingTracker) Stop(conversationID, userID string) bool {
	key := typingKey{conversationID, userID}

	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.active[key]
	if !ok {
		return false
	}
	state.timer.Stop()
	delete(t.active, key)
	return true
}

// StopAllFor clears every active indicator for the user and returns the
// conversation ids that were cleared. Used on disconnect cascade.
func (t *TypingTracker) StopAllFor(userID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var cleared []string
	for key, state := range t.active {
		if key.userID != userID {
			continue
		}
		state.timer.Stop()
		delete(t.active, key)
		cleared = append(cleared, key.conversationID)
	}
	return cleared
}

// IsTyping reports whether the user currently has an active indicator.
func (t *TypingTracker) IsTyping(conversationID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.active[typingKey{conversationID, userID}]
	return ok
}

// Timeout returns the configured auto-clear window.
func (t *TypingTracker) Timeout() time.Duration {
	return t.timeout
}

func (t *TypingTracker) expire(key typingKey) {
	t.mu.Lock()
	state, ok := t.active[key]
	if ok {
		// A renewal may have slipped in while this callback was firing; if
		// so the indicator is still live and the timer was already re-armed.
		if remaining := t.timeout - time.Since(state.renewed); remaining > 0 {
			state.timer.Reset(remaining)
			t.mu.Unlock()
			return
		}
		delete(t.active, key)
	}
	t.mu.Unlock()

	if ok && t.onStop != nil {
		t.onStop(key.conversationID, key.userID)
	}
}
