package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"chat-realtime/internal/events"
	"chat-realtime/internal/logging"
	"chat-realtime/internal/observability"
)

type NATSConfig struct {
	URL           string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
}

// Connect dials NATS with reconnect logging. The returned connection is
// shared by the bridge and the call session store.
func Connect(cfg NATSConfig) (*nats.Conn, error) {
	log := logging.Component("nats")
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Info().Msg("nats connection closed")
		}),
	}
	if cfg.ReconnectWait > 0 {
		opts = append(opts, nats.ReconnectWait(cfg.ReconnectWait))
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", cfg.URL, err)
	}
	return nc, nil
}

// BreakerConfig controls when publishing to NATS is short-circuited.
type BreakerConfig struct {
	FailureThreshold uint32
	Timeout          time.Duration
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, Timeout: 10 * time.Second}
}

// NATS broadcasts envelopes on one core NATS subject. Core subscriptions
// deliver messages from one publisher in order, one at a time.
type NATS struct {
	conn    *nats.Conn
	subject string
	breaker *gobreaker.CircuitBreaker[struct{}]
	log     zerolog.Logger

	mu   sync.Mutex
	subs []*nats.Subscription
}

func NewNATS(conn *nats.Conn, subject string, bc BreakerConfig) *NATS {
	log := logging.Component("bridge")
	if bc.FailureThreshold == 0 {
		bc = DefaultBreakerConfig()
	}
	breaker := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "bridge-publish",
		MaxRequests: 1,
		Timeout:     bc.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= bc.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})
	return &NATS{conn: conn, subject: subject, breaker: breaker, log: log}
}

func (n *NATS) Publish(ctx context.Context, env events.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	_, err = n.breaker.Execute(func() (struct{}, error) {
		if n.conn.IsClosed() {
			return struct{}{}, ErrClosed
		}
		return struct{}{}, n.conn.Publish(n.subject, data)
	})
	if err != nil {
		observability.IncBridgePublishError()
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("bridge publish short-circuited: %w", err)
		}
		return fmt.Errorf("bridge publish: %w", err)
	}
	observability.IncBridgeEnvelope("out")
	return nil
}

func (n *NATS) Subscribe(ctx context.Context, h Handler) error {
	sub, err := n.conn.Subscribe(n.subject, func(m *nats.Msg) {
		var env events.Envelope
		if err := json.Unmarshal(m.Data, &env); err != nil {
			n.log.Warn().Err(err).Msg("dropping undecodable envelope")
			return
		}
		observability.IncBridgeEnvelope("in")
		h(ctx, env)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", n.subject, err)
	}
	// no cap on pending messages; a slow node drops connections, not envelopes
	if err := sub.SetPendingLimits(-1, -1); err != nil {
		_ = sub.Unsubscribe()
		return err
	}
	if err := n.conn.Flush(); err != nil {
		n.log.Warn().Err(err).Msg("flush after subscribe failed")
	}

	n.mu.Lock()
	n.subs = append(n.subs, sub)
	n.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return nil
}

func (n *NATS) Connected() bool {
	return n.conn.IsConnected() && n.breaker.State() != gobreaker.StateOpen
}

// BreakerState exposes the publish breaker state for health reporting.
func (n *NATS) BreakerState() string {
	return n.breaker.State().String()
}

// Close drops the subscriptions. The connection belongs to the caller.
func (n *NATS) Close() error {
	n.mu.Lock()
	subs := n.subs
	n.subs = nil
	n.mu.Unlock()
	var errs []error
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) && !errors.Is(err, nats.ErrBadSubscription) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
