package realtime

import (
	socketio "github.com/googollee/go-socket.io"
)

// Room names. Conversation rooms are prefixed so they can never collide with
// the per-user personal rooms, which are keyed by raw user id.
const PresenceRoom = "presence"

func ConversationRoom(conversationID string) string {
	return "conversation:" + conversationID
}

// Broadcaster fans events out to live sessions. Delivery is at-most-once per
// session per call; a session mid-disconnect simply misses the event and
// catches up via reconnect resync.
type Broadcaster interface {
	// Broadcast delivers the event to every session joined to the
	// conversation's room, skipping excludeConnID if non-empty.
	Broadcast(conversationID string, event Event, excludeConnID string)
	// ToUser delivers the event to all of the user's live sessions.
	ToUser(userID string, event Event)
	// ToPresence delivers the event to every session in the presence room.
	ToPresence(event Event)
}

// SocketBroadcaster implements Broadcaster over a socket.io server.
type SocketBroadcaster struct {
	server *socketio.Server
}

func NewSocketBroadcaster(server *socketio.Server) *SocketBroadcaster {
	return &SocketBroadcaster{server: server}
}

func (b *SocketBroadcaster) Broadcast(conversationID string, event Event, excludeConnID string) {
	room := ConversationRoom(conversationID)
	if excludeConnID == "" {
		b.server.BroadcastToRoom("/", room, event.Type, event)
		return
	}
	// BroadcastToRoom cannot skip a connection, so walk the room instead.
	b.server.ForEach("/", room, func(conn socketio.Conn) {
		if conn.ID() == excludeConnID {
			return
		}
		conn.Emit(event.Type, event)
	})
}

func (b *SocketBroadcaster) ToUser(userID string, event Event) {
	b.server.BroadcastToRoom("/", userID, event.Type, event)
}

func (b *SocketBroadcaster) ToPresence(event Event) {
	b.server.BroadcastToRoom("/", PresenceRoom, event.Type, event)
}
