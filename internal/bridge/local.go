package bridge

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"chat-realtime/internal/events"
	"chat-realtime/internal/logging"
	"chat-realtime/internal/observability"
)

// NewPubSub builds the in-memory channel used by Local. Publish blocks until
// every subscriber has taken the message, which keeps publish order.
func NewPubSub() *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            64,
		BlockPublishUntilSubscriberAck: true,
	}, newWatermillLogger(logging.Component("bridge")))
}

// Local is a bridge over a watermill gochannel. Several Local values sharing
// one pubsub behave like several nodes sharing a broker.
type Local struct {
	pubsub *gochannel.GoChannel
	topic  string
	owned  bool
	log    zerolog.Logger

	mu      sync.Mutex
	cancels []context.CancelFunc
	closed  bool
	wg      sync.WaitGroup
}

// NewLocal creates a bridge with its own private pubsub.
func NewLocal(topic string) *Local {
	l := NewLocalOn(NewPubSub(), topic)
	l.owned = true
	return l
}

// NewLocalOn attaches a bridge to an existing pubsub. Closing it leaves the
// pubsub open.
func NewLocalOn(pubsub *gochannel.GoChannel, topic string) *Local {
	return &Local{
		pubsub: pubsub,
		topic:  topic,
		log:    logging.Component("bridge"),
	}
}

func (l *Local) Publish(ctx context.Context, env events.Envelope) error {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return ErrClosed
	}

	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := l.pubsub.Publish(l.topic, message.NewMessage(env.ID, data)); err != nil {
		observability.IncBridgePublishError()
		return err
	}
	observability.IncBridgeEnvelope("out")
	return nil
}

func (l *Local) Subscribe(ctx context.Context, h Handler) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	subCtx, cancel := context.WithCancel(ctx)
	l.cancels = append(l.cancels, cancel)
	l.mu.Unlock()

	msgs, err := l.pubsub.Subscribe(subCtx, l.topic)
	if err != nil {
		cancel()
		return err
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		for msg := range msgs {
			// ack before handling so a publisher never waits on delivery work
			msg.Ack()
			var env events.Envelope
			if err := json.Unmarshal(msg.Payload, &env); err != nil {
				l.log.Warn().Err(err).Str("message_uuid", msg.UUID).Msg("dropping undecodable envelope")
				continue
			}
			observability.IncBridgeEnvelope("in")
			h(subCtx, env)
		}
	}()
	return nil
}

func (l *Local) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.closed
}

func (l *Local) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	cancels := l.cancels
	l.cancels = nil
	l.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	var err error
	if l.owned {
		err = l.pubsub.Close()
	}
	l.wg.Wait()
	return err
}
