package observability

import (
	"context"
	"time"
)

// Lifecycle events of a websocket connection, published under RoutingKeyWS.
const (
	WSConnect    = "ws_connect"
	WSDisconnect = "ws_disconnect"
	WSError      = "ws_error"

	RoutingKeyWS = "ws_events.realtime"
)

type EventEnvelope struct {
	EventType string      `json:"event_type"`
	EventName string      `json:"event_name"`
	Payload   interface{} `json:"payload"`
}

func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}

// WSIdentity describes who owns a connection in lifecycle events.
type WSIdentity struct {
	UserID   string
	DeviceID string
	IP       string
}

// WSEvent builds the envelope for one connection lifecycle event.
func WSEvent(name, connID string, who WSIdentity, connectedAt time.Time, reason string) EventEnvelope {
	var duration int64
	if name != WSConnect {
		duration = time.Since(connectedAt).Milliseconds()
	}
	return EventEnvelope{
		EventType: "ws_events",
		EventName: name,
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"kind":        "realtime",
				"event":       name,
				"conn_id":     connID,
				"duration_ms": duration,
				"reason":      reason,
			},
			"identity": map[string]interface{}{
				"user_id":   who.UserID,
				"device_id": who.DeviceID,
				"ip":        who.IP,
			},
		},
	}
}

// Publisher is the durable queue as seen by lifecycle event publishing.
type Publisher interface {
	PublishWithHeaders(ctx context.Context, routingKey string, message interface{}, headers map[string]string) error
}

var defaultPublisher Publisher

func SetPublisher(publisher Publisher) {
	defaultPublisher = publisher
}

func PublishEvent(ctx context.Context, routingKey string, message interface{}, headers map[string]string) error {
	if defaultPublisher == nil {
		return nil
	}

	err := defaultPublisher.PublishWithHeaders(ctx, routingKey, message, headers)
	if err != nil {
		IncQueuePublishError(routingKey)
	}
	return err
}
