package calls

import (
	"context"
	"time"

	"chat-realtime/internal/logging"
	"chat-realtime/internal/models"
	"chat-realtime/internal/rabbitmq"
	"chat-realtime/internal/telemetry"
)

// Recorder is told about every finished call attempt. Call history itself
// is owned by the REST service consuming the queue.
type Recorder interface {
	CallFinished(ctx context.Context, rec models.CallRecord)
}

type nopRecorder struct{}

func (nopRecorder) CallFinished(context.Context, models.CallRecord) {}

type queuePublisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

// QueueRecorder enqueues call records and mirrors them to the audit stream.
type QueueRecorder struct {
	queue queuePublisher
	audit *telemetry.AuditEmitter
}

func NewQueueRecorder(queue queuePublisher, audit *telemetry.AuditEmitter) *QueueRecorder {
	return &QueueRecorder{queue: queue, audit: audit}
}

func (r *QueueRecorder) CallFinished(ctx context.Context, rec models.CallRecord) {
	if err := r.queue.Publish(ctx, rabbitmq.TopicCallRecord, rec); err != nil {
		logging.Warn().Err(err).Str("session_id", rec.SessionID).Msg("enqueue call record failed")
	}
	r.audit.CallFinished(ctx, rec.SessionID, rec.CallerID, rec.CalleeID, string(rec.Status),
		time.Duration(rec.Duration)*time.Second)
}
