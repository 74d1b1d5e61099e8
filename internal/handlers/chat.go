package handlers

import (
	"context"
	"errors"
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chat-realtime/internal/events"
	"chat-realtime/internal/middleware"
	"chat-realtime/internal/models"
	"chat-realtime/internal/realtime"
	"chat-realtime/internal/repositories"
	"chat-realtime/internal/telemetry"
)

type messageRelay interface {
	SendMessage(ctx context.Context, from realtime.Sender, in events.SendMessage) (models.Message, error)
}

type statusUpdater interface {
	Update(ctx context.Context, updates []models.StatusUpdate) error
}

// ChatHandler exposes the message relay and receipt aggregator over REST for
// clients that are not connected by websocket.
type ChatHandler struct {
	dir    repositories.Directory
	relay  messageRelay
	status statusUpdater
	audit  *telemetry.AuditEmitter
}

// NewChatHandler builds a ChatHandler. dir may be nil, in which case the
// request must list the participants.
func NewChatHandler(dir repositories.Directory, relay messageRelay, status statusUpdater, audit *telemetry.AuditEmitter) *ChatHandler {
	return &ChatHandler{
		dir:    dir,
		relay:  relay,
		status: status,
		audit:  audit,
	}
}

// PostChatMessage relays a message to the chat's participants and queues it
// for persistence.
func (h *ChatHandler) PostChatMessage(c *gin.Context) {
	chatID := c.Param("chat_id")
	if chatID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
		return
	}

	var req struct {
		ID           string              `json:"_id"`
		Content      string              `json:"content"`
		Attachments  []models.Attachment `json:"attachments"`
		Participants []string            `json:"participants"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Content == "" && len(req.Attachments) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is empty"})
		return
	}

	userID := c.GetString(middleware.UserIDKey)
	participants := req.Participants
	if h.dir != nil {
		found, err := h.dir.ChatParticipants(c.Request.Context(), chatID)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, repositories.ErrChatNotFound) {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"error": "chat not found"})
			return
		}
		participants = found
	}
	if len(participants) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "participants required"})
		return
	}
	if !slices.Contains(participants, userID) {
		h.emitAudit(c, "ERROR", "not a chat member")
		c.JSON(http.StatusForbidden, gin.H{"error": "not a chat member"})
		return
	}

	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	msg, err := h.relay.SendMessage(c.Request.Context(), realtime.Sender{
		ID:   userID,
		Name: c.GetString(middleware.UserNameKey),
	}, events.SendMessage{
		RoomID:       chatID,
		SenderID:     userID,
		Participants: participants,
		Message: models.Message{
			ID:          req.ID,
			ChatID:      chatID,
			Content:     req.Content,
			Attachments: req.Attachments,
		},
	})
	if err != nil && !errors.Is(err, realtime.ErrNotPersisted) {
		h.emitAudit(c, "ERROR", "internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to relay message"})
		return
	}

	// recipients already have the message even when it was not queued
	c.JSON(http.StatusAccepted, gin.H{"message": msg, "persisted": err == nil})
}

// PostStatus forwards delivery receipts to the message authors.
func (h *ChatHandler) PostStatus(c *gin.Context) {
	var updates []models.StatusUpdate
	if err := c.ShouldBindJSON(&updates); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := events.Validate(events.StatusBatch(updates)); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.status.Update(c.Request.Context(), updates)
	if err != nil && !errors.Is(err, realtime.ErrNotPersisted) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update status"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"updated": len(updates), "persisted": err == nil})
}

func (h *ChatHandler) emitAudit(c *gin.Context, level, text string) {
	if h.audit == nil {
		return
	}
	h.audit.Emit(c.Request.Context(), level, text, requestIDFromContext(c), userIDFromContext(c))
}
