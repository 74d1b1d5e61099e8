package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-realtime/internal/calls"
	"chat-realtime/internal/middleware"
)

type callStates interface {
	State(ctx context.Context, userID string) (calls.Session, bool, error)
}

// CallHandler reports call state to REST clients.
type CallHandler struct {
	states callStates
}

func NewCallHandler(states callStates) *CallHandler {
	return &CallHandler{states: states}
}

// CurrentCall handles GET /calls/current.
func (h *CallHandler) CurrentCall(c *gin.Context) {
	s, ok, err := h.states.State(c.Request.Context(), c.GetString(middleware.UserIDKey))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load call state"})
		return
	}
	if !ok {
		c.JSON(http.StatusOK, gin.H{"state": calls.StateIdle, "call": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": s.State, "call": s})
}
