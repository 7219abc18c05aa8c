package realtime

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistry_MultiDevicePresence(t *testing.T) {
	r := NewRegistry()

	// First session flips presence on; the second tab does not.
	assert.True(t, r.Register("alice", "conn-1"))
	assert.False(t, r.Register("alice", "conn-2"))
	assert.True(t, r.IsUserOnline("alice"))
	assert.Equal(t, 2, r.SessionCount("alice"))

	// Closing one tab keeps the user online.
	userID, last := r.Deregister("conn-1")
	assert.Equal(t, "alice", userID)
	assert.False(t, last)
	assert.True(t, r.IsUserOnline("alice"))

	// Closing the last one flips presence off.
	userID, last = r.Deregister("conn-2")
	assert.Equal(t, "alice", userID)
	assert.True(t, last)
	assert.False(t, r.IsUserOnline("alice"))

	// Deregistering an unknown connection is harmless.
	userID, last = r.Deregister("conn-404")
	assert.Empty(t, userID)
	assert.False(t, last)
}

func TestRegistry_RoomLifecycle(t *testing.T) {
	r := NewRegistry()
	r.Register("alice", "conn-1")

	assert.True(t, r.JoinRoom("conn-1", "conv-a"))
	assert.True(t, r.JoinRoom("conn-1", "conv-b"))
	assert.ElementsMatch(t, []string{"conv-a", "conv-b"}, r.Rooms("conn-1"))

	r.LeaveRoom("conn-1", "conv-a")
	assert.ElementsMatch(t, []string{"conv-b"}, r.Rooms("conn-1"))

	// Unknown connections never gain rooms.
	assert.False(t, r.JoinRoom("conn-404", "conv-a"))
	assert.Empty(t, r.Rooms("conn-404"))

	// Deregistration drops all memberships atomically.
	r.Deregister("conn-1")
	assert.Empty(t, r.Rooms("conn-1"))
}

func TestRegistry_UserFor(t *testing.T) {
	r := NewRegistry()
	r.Register("alice", "conn-1")

	userID, ok := r.UserFor("conn-1")
	assert.True(t, ok)
	assert.Equal(t, "alice", userID)

	_, ok = r.UserFor("conn-2")
	assert.False(t, ok)
}

func TestRegistry_ConcurrentChurn(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			connID := string(rune('a' + n))
			for j := 0; j < 200; j++ {
				r.Register("alice", connID)
				r.JoinRoom(connID, "conv-a")
				r.OnlineUsers()
				r.LeaveRoom(connID, "conv-a")
				r.Deregister(connID)
			}
		}(i)
	}
	wg.Wait()

	assert.False(t, r.IsUserOnline("alice"))
}
