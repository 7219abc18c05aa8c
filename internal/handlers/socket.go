package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	socketio "github.com/googollee/go-socket.io"
	"github.com/googollee/go-socket.io/engineio"
	"github.com/googollee/go-socket.io/engineio/transport"
	"github.com/googollee/go-socket.io/engineio/transport/polling"
	"github.com/googollee/go-socket.io/engineio/transport/websocket"
	"github.com/sgsgita/alumni-connect-backend/internal/config"
	"github.com/sgsgita/alumni-connect-backend/internal/realtime"
	"github.com/sgsgita/alumni-connect-backend/internal/services"
	"github.com/sgsgita/alumni-connect-backend/pkg/logger"
	"github.com/sgsgita/alumni-connect-backend/pkg/utils"
)

// Shared realtime state, initialized by InitSocketServer. Handlers check for
// nil so the REST surface keeps working in tests without a socket server.
var (
	SocketServer *socketio.Server
	Sessions     *realtime.Registry
	Broadcast    realtime.Broadcaster
	Typing       *realtime.TypingTracker
)

// roomRequest is the inbound payload for join/leave.
type roomRequest struct {
	ConversationID string `json:"conversationId"`
}

// typingRequest is the inbound payload for the typing event.
type typingRequest struct {
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

func InitSocketServer() *socketio.Server {
	server := socketio.NewServer(&engineio.Options{
		Transports: []transport.Transport{
			&websocket.Transport{
				CheckOrigin: func(r *http.Request) bool { return true },
			},
			&polling.Transport{
				CheckOrigin: func(r *http.Request) bool { return true },
			},
		},
	})

	Sessions = realtime.NewRegistry()
	Broadcast = realtime.NewSocketBroadcaster(server)

	typingTimeout := 4 * time.Second
	if config.AppConfig != nil && config.AppConfig.TypingTimeoutSeconds > 0 {
		typingTimeout = time.Duration(config.AppConfig.TypingTimeoutSeconds) * time.Second
	}
	// Auto-clear: a client that disconnects or goes silent mid-typing must
	// not leave a stuck indicator, so the stop is server-originated.
	Typing = realtime.NewTypingTracker(typingTimeout, func(conversationID, userID string) {
		Broadcast.Broadcast(conversationID,
			realtime.NewTypingEvent(realtime.EventTypingStop, conversationID, userID, 0), "")
	})

	server.OnConnect("/", func(s socketio.Conn) error {
		s.SetContext("")
		url := s.URL()

		// Bearer credential arrives as a query param; that is the only spot
		// reliably available during the websocket handshake.
		token := url.Query().Get("token")
		if token == "" {
			token = url.Query().Get("auth_token") // Fallback
		}

		if token == "" {
			logger.Warn().Str("socket", s.ID()).Msg("Socket connection rejected: no token provided")
			return fmt.Errorf("authentication required")
		}

		claims, err := utils.ValidateToken(token)
		if err != nil {
			logger.Warn().Str("socket", s.ID()).Msg("Socket connection rejected: invalid token")
			return fmt.Errorf("invalid token")
		}

		userId := claims.UserID
		logger.Debug().Str("socket", s.ID()).Str("user", userId).Msg("Socket authenticated")

		// Store userId in socket context for O(1) lookup
		s.SetContext(userId)

		first := Sessions.Register(userId, s.ID())

		// Personal room for direct addressing (confirmations, conversation
		// invites) and the global presence room.
		s.Join(userId)
		s.Join(realtime.PresenceRoom)

		// Presence flips only on the first session up; additional tabs and
		// devices are invisible to everyone else.
		if first {
			Broadcast.ToPresence(realtime.NewPresenceEvent(userId, true))
		}

		s.Emit(realtime.EventOnlineUsers, Sessions.OnlineUsers())

		return nil
	})

	server.OnEvent("/", "join_conversation", func(s socketio.Conn, req roomRequest) {
		userId, _ := s.Context().(string)
		if userId == "" || req.ConversationID == "" {
			return
		}

		// Joining a room requires being a participant of the conversation;
		// an unauthorized join performs no registry mutation.
		ok, err := services.IsParticipant(req.ConversationID, userId)
		if err != nil || !ok {
			s.Emit("join_error", gin.H{
				"conversationId": req.ConversationID,
				"error":          "You are not a participant of this conversation",
			})
			return
		}

		Sessions.JoinRoom(s.ID(), req.ConversationID)
		s.Join(realtime.ConversationRoom(req.ConversationID))
		s.Emit("joined", gin.H{"conversationId": req.ConversationID})
	})

	server.OnEvent("/", "leave_conversation", func(s socketio.Conn, req roomRequest) {
		if req.ConversationID == "" {
			return
		}
		Sessions.LeaveRoom(s.ID(), req.ConversationID)
		s.Leave(realtime.ConversationRoom(req.ConversationID))
	})

	server.OnEvent("/", "typing", func(s socketio.Conn, req typingRequest) {
		userId, _ := s.Context().(string)
		if userId == "" || req.ConversationID == "" {
			return
		}

		ok, err := services.IsParticipant(req.ConversationID, userId)
		if err != nil || !ok {
			return
		}

		if req.IsTyping {
			// Only a fresh indicator is broadcast; renewals just push the
			// expiry out, which keeps repeat keypresses from spamming rooms.
			if Typing.Start(req.ConversationID, userId) {
				expiresAt := time.Now().Add(Typing.Timeout()).Unix()
				Broadcast.Broadcast(req.ConversationID,
					realtime.NewTypingEvent(realtime.EventTypingStart, req.ConversationID, userId, expiresAt),
					s.ID())
			}
			return
		}

		if Typing.Stop(req.ConversationID, userId) {
			// The explicit stop skips the originator: their own action
			// caused it, echoing it back would fight the local UI.
			Broadcast.Broadcast(req.ConversationID,
				realtime.NewTypingEvent(realtime.EventTypingStop, req.ConversationID, userId, 0),
				s.ID())
		}
	})

	server.OnEvent("/", "get_online_users", func(s socketio.Conn, msg string) {
		s.Emit(realtime.EventOnlineUsers, Sessions.OnlineUsers())
	})

	server.OnDisconnect("/", func(s socketio.Conn, reason string) {
		logger.Debug().Str("socket", s.ID()).Str("reason", reason).Msg("Socket closed")

		userId, last := Sessions.Deregister(s.ID())
		if userId == "" {
			return
		}

		// Clear any indicators the client left behind.
		for _, conversationID := range Typing.StopAllFor(userId) {
			Broadcast.Broadcast(conversationID,
				realtime.NewTypingEvent(realtime.EventTypingStop, conversationID, userId, 0), "")
		}

		if last {
			Broadcast.ToPresence(realtime.NewPresenceEvent(userId, false))
		}
	})

	server.OnError("/", func(s socketio.Conn, e error) {
		logger.Error().Err(e).Msg("Socket error")
	})

	go server.Serve()
	SocketServer = server
	return server
}

// SocketHandler wraps the socket.io server for gin.
func SocketHandler(server *socketio.Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		server.ServeHTTP(c.Writer, c.Request)
	}
}
