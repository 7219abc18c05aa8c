package realtime

import "sync"

// Registry tracks live socket sessions. A user may hold any number of
// concurrent sessions (multiple tabs, multiple devices); presence is
// "at least one live session". All maps are guarded by a single RWMutex —
// simultaneous register/join/deregister from different connections is the
// normal case here, not an edge case.
type Registry struct {
	mu sync.RWMutex

	// connection id -> user id
	users map[string]string
	// user id -> set of connection ids
	conns map[string]map[string]struct{}
	// connection id -> set of joined conversation rooms
	rooms map[string]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		users: make(map[string]string),
		conns: make(map[string]map[string]struct{}),
		rooms: make(map[string]map[string]struct{}),
	}
}

// Register opens a session for the user. Returns true if this is the user's
// first live session (presence-online transition).
func (r *Registry) Register(userID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.users[connID] = userID
	set, ok := r.conns[userID]
	if !ok {
		set = make(map[string]struct{})
		r.conns[userID] = set
	}
	first := len(set) == 0
	set[connID] = struct{}{}
	return first
}

// Deregister closes a session, dropping all of its room memberships
// atomically. Returns the user id and true if this was the user's last live
// session (presence-offline transition).
func (r *Registry) Deregister(connID string) (userID string, last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.users[connID]
	if !ok {
		return "", false
	}

	delete(r.users, connID)
	delete(r.rooms, connID)

	if set, ok := r.conns[userID]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(r.conns, userID)
			return userID, true
		}
	}
	return userID, false
}

// JoinRoom records the session as joined to a conversation room. The caller
// is responsible for the participant authorization check; the registry makes
// no mutation for unknown connections.
func (r *Registry) JoinRoom(connID, conversationID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[connID]; !ok {
		return false
	}
	set, ok := r.rooms[connID]
	if !ok {
		set = make(map[string]struct{})
		r.rooms[connID] = set
	}
	set[conversationID] = struct{}{}
	return true
}

// LeaveRoom drops the room membership for the session.
func (r *Registry) LeaveRoom(connID, conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if set, ok := r.rooms[connID]; ok {
		delete(set, conversationID)
	}
}

// UserFor resolves a connection to its user identity.
func (r *Registry) UserFor(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	userID, ok := r.users[connID]
	return userID, ok
}

// Rooms returns the conversation rooms the session has joined.
func (r *Registry) Rooms(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.rooms[connID]
	rooms := make([]string, 0, len(set))
	for room := range set {
		rooms = append(rooms, room)
	}
	return rooms
}

// IsUserOnline reports whether the user has at least one live session.
func (r *Registry) IsUserOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[userID]) > 0
}

// OnlineUsers returns the ids of all users with a live session.
func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]string, 0, len(r.conns))
	for userID := range r.conns {
		users = append(users, userID)
	}
	return users
}

// SessionCount returns the number of live sessions for the user.
func (r *Registry) SessionCount(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[userID])
}
