// Package bridge carries envelopes between realtime nodes.
//
// Every node publishes to one shared channel and subscribes to it, including
// to its own publishes. Receivers route each envelope against their local
// registry and silently drop whatever has no local target.
package bridge

import (
	"context"
	"errors"

	"chat-realtime/internal/events"
)

var ErrClosed = errors.New("bridge: closed")

// Handler receives every envelope published on the bridge, in publish order
// per publisher.
type Handler func(ctx context.Context, env events.Envelope)

type Bridge interface {
	Publish(ctx context.Context, env events.Envelope) error
	Subscribe(ctx context.Context, h Handler) error
	// Connected reports whether publishes can currently reach other nodes.
	Connected() bool
	Close() error
}
