package realtime

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/rs/zerolog"

	"chat-realtime/internal/events"
	"chat-realtime/internal/logging"
	"chat-realtime/internal/ws"
)

var (
	errServerOnly      = errors.New("event cannot be sent by a client")
	errNoParticipants  = errors.New("chat has no participants")
	errDirectoryAbsent = errors.New("no directory configured")
	errNotMember       = errors.New("not a chat member")
)

// Directory resolves audiences the client did not spell out.
type Directory interface {
	ChatParticipants(ctx context.Context, chatID string) ([]string, error)
	FriendIDs(ctx context.Context, userID string) ([]string, error)
}

// CallBroker is the call signaling state machine.
type CallBroker interface {
	Signal(ctx context.Context, from string, sig events.CallSignal) error
	Disconnected(ctx context.Context, userID string)
}

// Router handles the events of admitted connections.
type Router struct {
	hub    *ws.Hub
	fanout *Dispatcher
	relay  *Relay
	status *StatusAggregator
	calls  CallBroker
	dir    Directory
	log    zerolog.Logger
}

func NewRouter(hub *ws.Hub, fanout *Dispatcher, relay *Relay, status *StatusAggregator, calls CallBroker, dir Directory) *Router {
	return &Router{
		hub:    hub,
		fanout: fanout,
		relay:  relay,
		status: status,
		calls:  calls,
		dir:    dir,
		log:    logging.Component("router"),
	}
}

// HandleEvent implements ws.EventHandler. Identity fields in payloads are
// always overwritten with the connection's user.
func (r *Router) HandleEvent(ctx context.Context, c *ws.Client, ev events.Event) error {
	me := c.UserID()

	switch e := ev.(type) {
	case events.JoinRoom:
		if e.PrevRoomID != "" && e.PrevRoomID != e.CurrRoomID {
			r.hub.Leave(c, e.PrevRoomID)
		}
		r.hub.Join(c, e.CurrRoomID)
	case events.LeaveRoom:
		r.hub.Leave(c, e.RoomID)

	case events.Typing:
		e.UserID, e.UserName = me, r.displayName(c, e.UserName)
		r.fanout.ToRoom(ctx, e, e.RoomID, me)
	case events.StopTyping:
		e.UserID, e.UserName = me, r.displayName(c, e.UserName)
		r.fanout.ToRoom(ctx, e, e.RoomID, me)

	case events.SendMessage:
		if r.dir != nil {
			participants, err := r.members(ctx, e.RoomID, me)
			if err != nil {
				return err
			}
			e.Participants = participants
		}
		_, err := r.relay.SendMessage(ctx, Sender{ID: me, Name: c.Info().Name}, e)
		return err
	case events.StatusBatch:
		return r.status.Update(ctx, e)

	case events.ChatUpdated:
		e.UpdatedBy = me
		return r.toChat(ctx, e, e.ChatID, me, e.Participants, true)
	case events.AdminToggled:
		e.ToggledBy = me
		return r.toChat(ctx, e, e.ChatID, me, e.Participants, true)
	case events.ParticipantRemoved:
		e.RemovedBy = me
		// the removed user is no longer listed but must still learn about it
		return r.toChat(ctx, e, e.ChatID, me, e.Participants, true, e.UserID)
	case events.LeftGroup:
		e.UserID = me
		// the leaver is already gone from the directory
		return r.toChat(ctx, e, e.ChatID, me, e.Participants, false)
	case events.ParticipantsAdded:
		e.AddedBy = me
		return r.toChat(ctx, e, e.ChatID, me, e.Participants, true, e.Added...)

	case events.StoryCreated:
		e.UserID = me
		return r.toFriends(ctx, e, me)
	case events.StorySeen:
		e.ViewerID = me
		if e.OwnerID != "" {
			r.fanout.ToUser(ctx, e.OwnerID, e)
			return nil
		}
		return r.toFriends(ctx, e, me)
	case events.StoryReacted:
		e.UserID = me
		if e.OwnerID != "" {
			r.fanout.ToUser(ctx, e.OwnerID, e)
			return nil
		}
		return r.toFriends(ctx, e, me)
	case events.StoryDeleted:
		e.UserID = me
		return r.toFriends(ctx, e, me)

	case events.CallSignal:
		return r.calls.Signal(ctx, me, e)

	case events.NewMessage, events.ErrorNotice:
		return fmt.Errorf("%w: %s", errServerOnly, ev.Name())
	case events.Unknown:
		return nil
	}
	return nil
}

// HandleDisconnect implements ws.EventHandler.
func (r *Router) HandleDisconnect(ctx context.Context, c *ws.Client, remaining int) {
	if remaining > 0 {
		return
	}
	r.calls.Disconnected(ctx, c.UserID())
}

func (r *Router) displayName(c *ws.Client, given string) string {
	if name := c.Info().Name; name != "" {
		return name
	}
	return given
}

// members returns the chat's participants from the directory and checks
// that userID is one of them.
func (r *Router) members(ctx context.Context, chatID, userID string) ([]string, error) {
	participants, err := r.dir.ChatParticipants(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("load participants of chat %s: %w", chatID, err)
	}
	if !slices.Contains(participants, userID) {
		return nil, fmt.Errorf("%w: %s in chat %s", errNotMember, userID, chatID)
	}
	return participants, nil
}

// toChat fans ev out to the chat's participants plus extra, excluding the
// actor. With a directory its participant list wins over the client's and,
// when memberOnly is set, the actor must be on it. Without one the client's
// list is used.
func (r *Router) toChat(ctx context.Context, ev events.Event, chatID, actor string, participants []string, memberOnly bool, extra ...string) error {
	switch {
	case r.dir != nil && memberOnly:
		found, err := r.members(ctx, chatID, actor)
		if err != nil {
			return err
		}
		participants = found
	case r.dir != nil:
		found, err := r.dir.ChatParticipants(ctx, chatID)
		if err != nil {
			return fmt.Errorf("load participants of chat %s: %w", chatID, err)
		}
		participants = found
	case len(participants) == 0:
		return fmt.Errorf("%s: %w", ev.Name(), errDirectoryAbsent)
	}
	audience := append(append([]string(nil), participants...), extra...)
	if len(uniqueExcept(audience, actor)) == 0 {
		r.log.Debug().Str("chat_id", chatID).Str("event", ev.Name()).Msg("nobody to notify")
		if len(participants) == 0 {
			return errNoParticipants
		}
		return nil
	}
	r.fanout.ToParticipants(ctx, ev, actor, audience)
	return nil
}

func (r *Router) toFriends(ctx context.Context, ev events.Event, userID string) error {
	if r.dir == nil {
		return fmt.Errorf("%s: %w", ev.Name(), errDirectoryAbsent)
	}
	friends, err := r.dir.FriendIDs(ctx, userID)
	if err != nil {
		return fmt.Errorf("load friends of %s: %w", userID, err)
	}
	r.fanout.ToParticipants(ctx, ev, userID, friends)
	return nil
}
