package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-realtime/internal/telemetry"
)

// DebugRoutes holds what the debug endpoints report on. Nil fields are
// reported as unavailable.
type DebugRoutes struct {
	NodeID string
	Audit  *telemetry.AuditEmitter
	Hub    interface{ Users() int }
	Bridge interface{ Connected() bool }
	// QueueMode is "amqp" or "noop".
	QueueMode string
}

// Register mounts the debug endpoints on router when enabled.
func (d DebugRoutes) Register(router gin.IRoutes, enabled bool) {
	if !enabled {
		return
	}
	router.GET("/debug/audit-test", d.auditTest)
	router.GET("/debug/realtime", d.realtime)
}

func (d DebugRoutes) auditTest(c *gin.Context) {
	if d.Audit == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
		return
	}
	requestID := requestIDFromContext(c)
	d.Audit.EmitFields(c.Request.Context(), "INFO", "audit test", requestID, userIDFromContext(c), map[string]any{
		"node_id": d.NodeID,
	})
	c.JSON(http.StatusOK, gin.H{"status": "ok", "request_id": requestID})
}

func (d DebugRoutes) realtime(c *gin.Context) {
	resp := gin.H{"node_id": d.NodeID, "queue": d.QueueMode}
	if d.Hub != nil {
		resp["online_users"] = d.Hub.Users()
	}
	if d.Bridge != nil {
		resp["bridge_connected"] = d.Bridge.Connected()
	}
	c.JSON(http.StatusOK, resp)
}
