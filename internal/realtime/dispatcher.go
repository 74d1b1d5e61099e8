// Package realtime routes chat, receipt, story and call events between users.
//
// Every outbound event is wrapped in an Envelope and published on the bridge.
// Each node, including the sender's, delivers the envelopes it receives to
// whichever of the targets it holds connections for and drops the rest.
package realtime

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"chat-realtime/internal/bridge"
	"chat-realtime/internal/events"
	"chat-realtime/internal/logging"
	"chat-realtime/internal/observability"
	"chat-realtime/internal/ws"
)

// Dispatcher fans events out to users and rooms across nodes.
type Dispatcher struct {
	hub    *ws.Hub
	bridge bridge.Bridge
	nodeID string
	log    zerolog.Logger
}

func NewDispatcher(hub *ws.Hub, br bridge.Bridge, nodeID string) *Dispatcher {
	return &Dispatcher{
		hub:    hub,
		bridge: br,
		nodeID: nodeID,
		log:    logging.Component("dispatcher"),
	}
}

// ToParticipants sends ev to every participant except senderID. Participants
// listed twice still get one copy.
func (d *Dispatcher) ToParticipants(ctx context.Context, ev events.Event, senderID string, participants []string) {
	users := uniqueExcept(participants, senderID)
	if len(users) == 0 {
		return
	}
	d.publish(ctx, events.Target{Users: users, Exclude: senderID}, ev)
}

// ToRoom sends ev to every connection joined to room, skipping the
// connections of exclude.
func (d *Dispatcher) ToRoom(ctx context.Context, ev events.Event, room, exclude string) {
	if room == "" {
		return
	}
	d.publish(ctx, events.Target{Room: room, Exclude: exclude}, ev)
}

// ToUser sends ev to all connections of userID.
func (d *Dispatcher) ToUser(ctx context.Context, userID string, ev events.Event) {
	if userID == "" {
		return
	}
	d.publish(ctx, events.Target{Users: []string{userID}}, ev)
}

func (d *Dispatcher) publish(ctx context.Context, target events.Target, ev events.Event) {
	env := events.NewEnvelope(d.nodeID, target, ev)
	if err := d.bridge.Publish(ctx, env); err != nil {
		// other nodes miss this one; connections held here still get it
		d.log.Warn().Err(err).Str("event", ev.Name()).Str("envelope_id", env.ID).Msg("bridge publish failed, delivering locally")
		d.Deliver(ctx, env)
	}
}

// Run delivers bridge envelopes to local connections until ctx ends.
func (d *Dispatcher) Run(ctx context.Context) error {
	return d.bridge.Subscribe(ctx, func(ctx context.Context, env events.Envelope) {
		d.Deliver(ctx, env)
	})
}

// Deliver writes env to the matching local connections and returns how many
// accepted it. A failing connection never stops delivery to the others.
func (d *Dispatcher) Deliver(ctx context.Context, env events.Envelope) int {
	if u, ok := env.Event.(events.Unknown); ok {
		d.log.Debug().Str("event", u.Kind).Str("origin", env.Origin).Msg("dropping unknown envelope")
		observability.IncFanoutDrop("unknown")
		return 0
	}

	targets := d.targets(env.Target)
	if len(targets) == 0 {
		return 0
	}

	frame, err := events.EncodeFrame(env.Event)
	if err != nil {
		observability.IncFanoutDrop("encode")
		d.log.Error().Err(err).Str("event", env.Event.Name()).Msg("encode frame")
		return 0
	}

	delivered := 0
	for _, c := range targets {
		if err := c.Send(frame); err != nil {
			observability.IncFanoutDrop(dropReason(err))
			d.log.Debug().Err(err).Str("conn_id", c.ID()).Str("user_id", c.UserID()).Str("event", env.Event.Name()).Msg("delivery dropped")
			continue
		}
		delivered++
	}
	observability.AddFanoutDeliveries(env.Event.Name(), delivered)
	return delivered
}

func (d *Dispatcher) targets(t events.Target) []*ws.Client {
	var out []*ws.Client
	if t.Room != "" {
		for _, c := range d.hub.RoomMembers(t.Room) {
			if t.Exclude != "" && c.UserID() == t.Exclude {
				continue
			}
			out = append(out, c)
		}
		return out
	}
	for _, userID := range uniqueExcept(t.Users, t.Exclude) {
		out = append(out, d.hub.Connections(userID)...)
	}
	return out
}

func uniqueExcept(ids []string, exclude string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || id == exclude {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, ws.ErrSendBufferFull):
		return "buffer_full"
	case errors.Is(err, ws.ErrConnClosed):
		return "closed"
	default:
		return "write_error"
	}
}
