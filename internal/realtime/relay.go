package realtime

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"chat-realtime/internal/events"
	"chat-realtime/internal/logging"
	"chat-realtime/internal/models"
	"chat-realtime/internal/rabbitmq"
)

// ErrNotPersisted means recipients were notified but the record could not be
// handed to the persistence queue. The fan-out is not rolled back.
var ErrNotPersisted = errors.New("realtime: not queued for persistence")

const previewRunes = 120

// Queue is the durable event queue.
type Queue interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

// Sender is the authenticated author of an outgoing message.
type Sender struct {
	ID   string
	Name string
}

// Relay delivers newly sent messages and queues them for persistence.
type Relay struct {
	fanout *Dispatcher
	queue  Queue
	now    func() time.Time
	log    zerolog.Logger
}

func NewRelay(fanout *Dispatcher, queue Queue) *Relay {
	return &Relay{
		fanout: fanout,
		queue:  queue,
		now:    time.Now,
		log:    logging.Component("relay"),
	}
}

// SendMessage clears the sender's typing indicator in the room, delivers the
// message to the other participants, then queues the insert and the push
// notification. The sender's identity always wins over ids in the payload.
func (r *Relay) SendMessage(ctx context.Context, from Sender, in events.SendMessage) (models.Message, error) {
	msg := in.Message
	msg.SenderID = from.ID
	if msg.ChatID == "" {
		msg.ChatID = in.RoomID
	}
	if msg.Status == "" {
		msg.Status = models.StatusSent
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = r.now().UTC()
	}

	r.fanout.ToRoom(ctx, events.StopTyping{RoomID: in.RoomID, UserID: from.ID, UserName: from.Name}, in.RoomID, from.ID)
	r.fanout.ToParticipants(ctx, events.NewMessage{RoomID: in.RoomID, Message: msg}, from.ID, in.Participants)

	now := r.now().UTC()
	if err := r.queue.Publish(ctx, rabbitmq.TopicMessageInsert, models.MessageJob{
		Op:         models.OpInsert,
		Message:    msg,
		EnqueuedAt: now,
	}); err != nil {
		r.log.Error().Err(err).Str("message_id", msg.ID).Str("chat_id", msg.ChatID).Msg("enqueue message insert")
		return msg, fmt.Errorf("%w: message %s: %w", ErrNotPersisted, msg.ID, err)
	}

	recipients := uniqueExcept(in.Participants, from.ID)
	if len(recipients) > 0 {
		if err := r.queue.Publish(ctx, rabbitmq.TopicNotificationPush, models.NotificationJob{
			ChatID:       msg.ChatID,
			MessageID:    msg.ID,
			SenderID:     from.ID,
			RecipientIDs: recipients,
			Preview:      preview(msg.Content),
			EnqueuedAt:   now,
		}); err != nil {
			r.log.Warn().Err(err).Str("message_id", msg.ID).Msg("enqueue push notification")
		}
	}
	return msg, nil
}

func preview(content string) string {
	if utf8.RuneCountInString(content) <= previewRunes {
		return content
	}
	runes := []rune(content)
	return string(runes[:previewRunes]) + "…"
}
