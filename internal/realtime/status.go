package realtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"chat-realtime/internal/events"
	"chat-realtime/internal/logging"
	"chat-realtime/internal/models"
	"chat-realtime/internal/rabbitmq"
)

// StatusAggregator forwards delivery receipts to the authors of the messages
// they refer to. Receipts are private: only the author is notified.
type StatusAggregator struct {
	fanout *Dispatcher
	queue  Queue
	now    func() time.Time
	log    zerolog.Logger
}

func NewStatusAggregator(fanout *Dispatcher, queue Queue) *StatusAggregator {
	return &StatusAggregator{
		fanout: fanout,
		queue:  queue,
		now:    time.Now,
		log:    logging.Component("status"),
	}
}

// Update sends one batch per message author, then queues every update for
// persistence. A batch carries each message once, at the furthest status
// seen for it in updates; the queue still gets every update.
func (a *StatusAggregator) Update(ctx context.Context, updates []models.StatusUpdate) error {
	for _, group := range groupBySender(updates) {
		a.fanout.ToUser(ctx, group[0].SenderID, events.StatusBatch(group))
	}

	now := a.now().UTC()
	var errs []error
	for _, u := range updates {
		if err := a.queue.Publish(ctx, rabbitmq.TopicMessageUpdate, models.StatusJob{
			Op:         models.OpUpdate,
			Update:     u,
			EnqueuedAt: now,
		}); err != nil {
			a.log.Error().Err(err).Str("message_id", u.MessageID).Msg("enqueue status update")
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %d of %d status updates: %w", ErrNotPersisted, len(errs), len(updates), errors.Join(errs...))
	}
	return nil
}

// groupBySender keeps senders and messages in first-seen order. Repeated
// message ids collapse into one entry that never moves backwards.
func groupBySender(updates []models.StatusUpdate) [][]models.StatusUpdate {
	index := make(map[string]int)
	pos := make(map[string]int)
	var groups [][]models.StatusUpdate
	for _, u := range updates {
		if u.SenderID == "" {
			continue
		}
		i, ok := index[u.SenderID]
		if !ok {
			i = len(groups)
			index[u.SenderID] = i
			groups = append(groups, nil)
		}
		key := u.SenderID + "\x00" + u.MessageID
		if j, seen := pos[key]; seen {
			groups[i][j].Status = groups[i][j].Status.Advance(u.Status)
			continue
		}
		pos[key] = len(groups[i])
		groups[i] = append(groups[i], u)
	}
	return groups
}
