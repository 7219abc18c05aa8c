package routes

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sgsgita/alumni-connect-backend/internal/handlers"
	"github.com/sgsgita/alumni-connect-backend/internal/middleware"
)

func RegisterChatRoutes(r gin.IRouter) {
	chat := r.Group("/chat")
	chat.Use(middleware.AuthMiddleware())
	chat.Use(middleware.UserRateLimit(300, time.Minute))
	{
		chat.GET("/conversations", handlers.GetConversations)
		chat.POST("/conversations", handlers.CreateConversation)
		chat.POST("/conversations/:id/participants", handlers.AddParticipant)
		chat.GET("/conversations/:id/messages", handlers.GetMessages) // ?before=&limit=
		chat.POST("/conversations/:id/messages", middleware.ChatRateLimit(), handlers.SendMessage)
		chat.POST("/conversations/:id/read", handlers.MarkRead)
		chat.PATCH("/messages/:id", handlers.EditMessage)
		chat.DELETE("/messages/:id", handlers.DeleteMessage)
		chat.POST("/messages/:id/reactions", handlers.React)
		chat.DELETE("/messages/:id/reactions", handlers.Unreact)
	}
}
