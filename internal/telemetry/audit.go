package telemetry

import (
	"context"
	"time"

	"chat-realtime/internal/logging"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
}

type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id"`
	UserID        *string      `json:"user_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Level  string         `json:"level"`
	Text   string         `json:"text"`
	Fields map[string]any `json:"fields,omitempty"`
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
	}
}

func (e *AuditEmitter) Emit(ctx context.Context, level, text, requestID string, userID *string) {
	e.EmitFields(ctx, level, text, requestID, userID, nil)
}

// EmitFields is Emit with structured detail attached to the payload.
func (e *AuditEmitter) EmitFields(ctx context.Context, level, text, requestID string, userID *string, fields map[string]any) {
	if e == nil || e.publisher == nil {
		return
	}

	entry := logging.Debug().Str("level", level).Str("request_id", requestID).Str("text", text)
	if userID != nil {
		entry = entry.Str("user_id", *userID)
	}
	entry.Msg("audit emit")

	envelope := AuditEnvelope{
		SchemaVersion: 1,
		EventType:     "audit_log",
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     requestID,
		UserID:        userID,
		Payload: AuditPayload{
			Level:  level,
			Text:   text,
			Fields: fields,
		},
	}

	if err := e.publisher.Publish(ctx, e.routingKey, envelope); err != nil {
		logging.Warn().Err(err).Str("routing_key", e.routingKey).Msg("audit publish failed")
	}
}

// AdmissionRejected records a refused websocket handshake.
func (e *AuditEmitter) AdmissionRejected(ctx context.Context, requestID, ip, reason string) {
	e.EmitFields(ctx, "warn", "websocket admission rejected", requestID, nil, map[string]any{
		"ip":     ip,
		"reason": reason,
	})
}

// CallFinished records the outcome of one call attempt.
func (e *AuditEmitter) CallFinished(ctx context.Context, sessionID, callerID, calleeID, status string, duration time.Duration) {
	caller := callerID
	e.EmitFields(ctx, "info", "call finished", "", &caller, map[string]any{
		"session_id":  sessionID,
		"callee_id":   calleeID,
		"status":      status,
		"duration_ms": duration.Milliseconds(),
	})
}
