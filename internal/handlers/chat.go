package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sgsgita/alumni-connect-backend/internal/realtime"
	"github.com/sgsgita/alumni-connect-backend/internal/services"
	apperrors "github.com/sgsgita/alumni-connect-backend/pkg/errors"
	"github.com/sgsgita/alumni-connect-backend/pkg/utils"
)

// respondError maps service errors onto HTTP responses.
func respondError(c *gin.Context, err error) {
	if appErr, ok := err.(*apperrors.AppError); ok {
		c.JSON(appErr.Code, gin.H{"error": appErr.Message})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
}

// CreateConversation opens (or, for direct kind, finds) a conversation.
func CreateConversation(c *gin.Context) {
	userId := c.MustGet("userId").(string)

	var req struct {
		Kind           string   `json:"kind" binding:"required"`
		Name           string   `json:"name"`
		ParticipantIDs []string `json:"participantIds"`
		LinkedItemID   *string  `json:"linkedItemId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	conv, created, err := services.CreateConversation(userId, services.CreateConversationInput{
		Kind:           req.Kind,
		Name:           req.Name,
		ParticipantIDs: req.ParticipantIDs,
		LinkedItemID:   req.LinkedItemID,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	if created && Broadcast != nil {
		event := realtime.NewConversationEvent(*conv)
		for _, member := range conv.Participants {
			Broadcast.ToUser(member.UserID, event)
		}
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"conversation": conv, "created": created})
}

// GetConversations returns the caller's conversation list with unread counts.
func GetConversations(c *gin.Context) {
	userId := c.MustGet("userId").(string)

	summaries, err := services.ListConversations(userId, c.Query("q"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": summaries})
}

// AddParticipant adds a member to a group or linked conversation.
func AddParticipant(c *gin.Context) {
	userId := c.MustGet("userId").(string)
	conversationID := c.Param("id")

	var req struct {
		UserID string `json:"userId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	member, err := services.AddParticipant(conversationID, userId, req.UserID)
	if err != nil {
		respondError(c, err)
		return
	}

	// The new member learns about the conversation the same way create-time
	// participants do, not on their next list refresh.
	if Broadcast != nil {
		if conv, err := services.ConversationWithParticipants(conversationID); err == nil {
			Broadcast.ToUser(member.UserID, realtime.NewConversationEvent(*conv))
		}
	}

	c.JSON(http.StatusOK, gin.H{"participant": member})
}

// GetMessages pages backward through a conversation's history.
// ?before=<messageId> loads messages older than the given one.
func GetMessages(c *gin.Context) {
	userId := c.MustGet("userId").(string)
	conversationID := c.Param("id")
	beforeID := c.Query("before")
	if beforeID != "" && !utils.IsUUID(beforeID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid cursor"})
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}

	messages, err := services.ListMessages(conversationID, userId, beforeID, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// SendMessage handles sending a message into a conversation.
func SendMessage(c *gin.Context) {
	userId := c.MustGet("userId").(string)
	conversationID := c.Param("id")

	var req struct {
		Content         string  `json:"content" binding:"required"`
		Kind            string  `json:"kind"`
		ReplyToID       *string `json:"replyToId"`
		ClientMessageID *string `json:"clientMessageId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if !ValidateMessageKind(req.Kind) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid message kind"})
		return
	}

	content, err := SanitizeMessageContent(req.Content)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := services.SendMessage(conversationID, userId, services.SendMessageInput{
		Content:         content,
		Kind:            req.Kind,
		ReplyToID:       req.ReplyToID,
		ClientMessageID: req.ClientMessageID,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	if Broadcast != nil {
		Broadcast.Broadcast(conversationID, realtime.NewMessageEvent(realtime.EventMessageNew, *msg), "")

		// Sending implies the author stopped typing.
		if Typing != nil && Typing.Stop(conversationID, userId) {
			Broadcast.Broadcast(conversationID,
				realtime.NewTypingEvent(realtime.EventTypingStop, conversationID, userId, 0), "")
		}
	}

	view := msg.View()
	c.JSON(http.StatusOK, gin.H{"message": view})
}

// EditMessage updates a message's content in place.
func EditMessage(c *gin.Context) {
	userId := c.MustGet("userId").(string)
	messageID := c.Param("id")

	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	content, err := SanitizeMessageContent(req.Content)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := services.EditMessage(messageID, userId, content)
	if err != nil {
		respondError(c, err)
		return
	}

	if Broadcast != nil {
		Broadcast.Broadcast(msg.ConversationID, realtime.NewMessageEvent(realtime.EventMessageEdited, *msg), "")
	}

	view := msg.View()
	c.JSON(http.StatusOK, gin.H{"message": view})
}

// DeleteMessage tombstones a message.
func DeleteMessage(c *gin.Context) {
	userId := c.MustGet("userId").(string)
	messageID := c.Param("id")

	msg, err := services.DeleteMessage(messageID, userId)
	if err != nil {
		respondError(c, err)
		return
	}

	if Broadcast != nil {
		Broadcast.Broadcast(msg.ConversationID, realtime.NewMessageEvent(realtime.EventMessageDeleted, *msg), "")
	}

	view := msg.View()
	c.JSON(http.StatusOK, gin.H{"message": view})
}

// React adds an emoji reaction to a message.
func React(c *gin.Context) {
	userId := c.MustGet("userId").(string)
	messageID := c.Param("id")

	var req struct {
		Emoji string `json:"emoji" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	msg, err := services.React(messageID, userId, req.Emoji)
	if err != nil {
		respondError(c, err)
		return
	}

	if Broadcast != nil {
		Broadcast.Broadcast(msg.ConversationID,
			realtime.NewReactionEvent(realtime.EventReactionAdded, msg.ConversationID, messageID, userId, req.Emoji), "")
	}
	c.JSON(http.StatusOK, gin.H{"messageId": messageID, "emoji": req.Emoji})
}

// Unreact removes an emoji reaction from a message.
func Unreact(c *gin.Context) {
	userId := c.MustGet("userId").(string)
	messageID := c.Param("id")

	var req struct {
		Emoji string `json:"emoji" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	msg, err := services.Unreact(messageID, userId, req.Emoji)
	if err != nil {
		respondError(c, err)
		return
	}

	if Broadcast != nil {
		Broadcast.Broadcast(msg.ConversationID,
			realtime.NewReactionEvent(realtime.EventReactionRemoved, msg.ConversationID, messageID, userId, req.Emoji), "")
	}
	c.JSON(http.StatusOK, gin.H{"messageId": messageID, "emoji": req.Emoji})
}

// MarkRead advances the caller's read watermark through the given message.
func MarkRead(c *gin.Context) {
	userId := c.MustGet("userId").(string)
	conversationID := c.Param("id")

	var req struct {
		ThroughMessageID string `json:"throughMessageId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	member, advanced, err := services.MarkRead(conversationID, userId, req.ThroughMessageID)
	if err != nil {
		respondError(c, err)
		return
	}

	if advanced && Broadcast != nil && member.LastReadAt != nil {
		Broadcast.Broadcast(conversationID,
			realtime.NewReadReceiptEvent(conversationID, userId, req.ThroughMessageID, *member.LastReadAt), "")
	}

	c.JSON(http.StatusOK, gin.H{
		"lastReadMessageId": member.LastReadMessageID,
		"lastReadAt":        member.LastReadAt,
		"advanced":          advanced,
	})
}
