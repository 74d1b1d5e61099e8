package calls

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chat-realtime/internal/events"
	"chat-realtime/internal/logging"
	"chat-realtime/internal/models"
	"chat-realtime/internal/observability"
)

const DefaultRingTimeout = 40 * time.Second

// Signaler delivers an event to every connection of a user, wherever it is.
type Signaler interface {
	ToUser(ctx context.Context, userID string, ev events.Event)
}

type Config struct {
	NodeID      string
	RingTimeout time.Duration
}

// Broker runs the call state machine. Transitions are applied to the
// SessionStore first and only relayed once they succeeded, so a signal that
// lost a race is never forwarded.
type Broker struct {
	store    SessionStore
	signals  Signaler
	recorder Recorder
	cfg      Config
	now      func() time.Time
	log      zerolog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewBroker(store SessionStore, signals Signaler, recorder Recorder, cfg Config) *Broker {
	if cfg.RingTimeout <= 0 {
		cfg.RingTimeout = DefaultRingTimeout
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Broker{
		store:    store,
		signals:  signals,
		recorder: recorder,
		cfg:      cfg,
		now:      time.Now,
		log:      logging.Component("calls"),
		timers:   make(map[string]*time.Timer),
	}
}

// State returns the user's current session, or ok=false when idle.
func (b *Broker) State(ctx context.Context, userID string) (Session, bool, error) {
	return b.store.Get(ctx, userID)
}

// Signal handles one signaling message sent by the authenticated user from.
func (b *Broker) Signal(ctx context.Context, from string, sig events.CallSignal) error {
	sig.From = from
	sig.ReceiverID = sig.To
	if sig.To == "" || sig.To == from {
		return fmt.Errorf("%w: bad recipient", ErrInvalidTransition)
	}

	var err error
	switch sig.Kind {
	case events.CallMade:
		err = b.offer(ctx, sig)
	case events.CallRinging:
		err = b.ringing(ctx, sig)
	case events.CallAccepted:
		err = b.accept(ctx, sig)
	case events.CallRejected:
		err = b.decline(ctx, sig, events.CallRejected, models.CallRejected)
	case events.UserBusy:
		err = b.decline(ctx, sig, events.UserBusy, models.CallBusy)
	case events.CallEnded:
		err = b.hangUp(ctx, sig)
	case events.MissedCall:
		err = b.giveUp(ctx, sig)
	case events.IceCandidate, events.ToggleAudio, events.ToggleVideo:
		err = b.relay(ctx, sig)
	default:
		err = fmt.Errorf("%w: %s cannot be sent by a client", ErrInvalidTransition, sig.Kind)
	}
	if err != nil {
		observability.IncCallSignalRejected(rejectReason(err))
	}
	return err
}

// Disconnected is called when userID has no connection left on this node.
// A call whose side is driven from this node ends as if the user hung up.
func (b *Broker) Disconnected(ctx context.Context, userID string) {
	s, ok, err := b.store.Get(ctx, userID)
	if err != nil {
		b.log.Warn().Err(err).Str("user_id", userID).Msg("load call session on disconnect")
		return
	}
	if !ok || s.Node != b.cfg.NodeID {
		return
	}
	b.log.Info().Str("user_id", userID).Str("session_id", s.ID).Msg("ending call after disconnect")
	err = b.hangUp(ctx, events.CallSignal{
		Kind:      events.CallEnded,
		SessionID: s.ID,
		From:      userID,
		To:        s.PeerID,
		CallType:  s.CallType,
		Reason:    "disconnected",
	})
	if err != nil && !errors.Is(err, ErrNoActiveCall) && !errors.Is(err, ErrStaleSession) {
		b.log.Warn().Err(err).Str("user_id", userID).Msg("implicit call end failed")
	}
}

// Stop cancels pending ring timers.
func (b *Broker) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, t := range b.timers {
		t.Stop()
		delete(b.timers, id)
	}
}

func (b *Broker) offer(ctx context.Context, sig events.CallSignal) error {
	if sig.CallType == "" {
		sig.CallType = models.CallAudio
	}
	now := b.now()
	id := uuid.NewString()
	sig.SessionID = id

	caller := Session{
		ID:        id,
		UserID:    sig.From,
		PeerID:    sig.To,
		Role:      RoleCaller,
		State:     StateCalling,
		CallType:  sig.CallType,
		Node:      b.cfg.NodeID,
		StartedAt: now,
	}
	if err := b.store.Claim(ctx, caller); err != nil {
		if errors.Is(err, ErrUserBusy) {
			busy := sig.Reply(events.UserBusy)
			busy.SessionID = ""
			busy.Reason = "already_in_call"
			b.signals.ToUser(ctx, sig.From, busy)
			return nil
		}
		return err
	}

	callee := Session{
		ID:        id,
		UserID:    sig.To,
		PeerID:    sig.From,
		Role:      RoleCallee,
		State:     StateRinging,
		CallType:  sig.CallType,
		StartedAt: now,
	}
	if err := b.store.Claim(ctx, callee); err != nil {
		if _, _, relErr := b.store.Release(ctx, sig.From, id); relErr != nil {
			b.log.Warn().Err(relErr).Str("session_id", id).Msg("release caller after failed offer")
		}
		if !errors.Is(err, ErrUserBusy) {
			return err
		}
		// callee is in another call: their state stays untouched
		b.signals.ToUser(ctx, sig.From, sig.Reply(events.UserBusy))
		b.record(ctx, caller, callee, models.CallBusy)
		return nil
	}

	b.signals.ToUser(ctx, sig.From, events.CallSignal{
		Kind:       events.CallStarted,
		SessionID:  id,
		From:       sig.From,
		To:         sig.To,
		ReceiverID: sig.To,
		CallType:   sig.CallType,
	})
	b.signals.ToUser(ctx, sig.To, sig)
	b.armRingTimer(id, sig.From, sig.To, sig.CallType)
	return nil
}

func (b *Broker) ringing(ctx context.Context, sig events.CallSignal) error {
	if _, err := b.store.Update(ctx, sig.From, func(s *Session) error {
		if err := checkSignal(s, sig); err != nil {
			return err
		}
		if s.Role != RoleCallee || s.State != StateRinging {
			return fmt.Errorf("%w: ringing ack in state %s", ErrInvalidTransition, s.State)
		}
		s.Node = b.cfg.NodeID
		return nil
	}); err != nil {
		return err
	}
	if _, err := b.store.Update(ctx, sig.To, func(s *Session) error {
		if s.ID != sig.SessionID {
			return ErrStaleSession
		}
		s.Ringing = true
		return nil
	}); err != nil {
		return err
	}
	b.signals.ToUser(ctx, sig.To, sig)
	return nil
}

func (b *Broker) accept(ctx context.Context, sig events.CallSignal) error {
	answeredAt := b.now()
	if _, err := b.store.Update(ctx, sig.From, func(s *Session) error {
		if err := checkSignal(s, sig); err != nil {
			return err
		}
		if s.Role != RoleCallee || s.State != StateRinging {
			return fmt.Errorf("%w: answer in state %s", ErrInvalidTransition, s.State)
		}
		s.State = StateConnected
		s.Node = b.cfg.NodeID
		s.AnsweredAt = &answeredAt
		return nil
	}); err != nil {
		return err
	}

	if _, err := b.store.Update(ctx, sig.To, func(s *Session) error {
		if s.ID != sig.SessionID || s.State != StateCalling {
			return ErrStaleSession
		}
		s.State = StateConnected
		s.AnsweredAt = &answeredAt
		return nil
	}); err != nil {
		// the caller gave up while the answer was in flight
		if _, _, relErr := b.store.Release(ctx, sig.From, sig.SessionID); relErr != nil {
			b.log.Warn().Err(relErr).Str("session_id", sig.SessionID).Msg("release callee after late answer")
		}
		b.signals.ToUser(ctx, sig.From, sig.Reply(events.CallEnded))
		if errors.Is(err, ErrNoActiveCall) {
			return ErrStaleSession
		}
		return err
	}

	b.cancelRingTimer(sig.SessionID)
	b.signals.ToUser(ctx, sig.To, sig)
	return nil
}

// decline handles a callee refusing a ringing call.
func (b *Broker) decline(ctx context.Context, sig events.CallSignal, kind events.CallKind, status models.CallStatus) error {
	s, ok, err := b.store.Get(ctx, sig.From)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoActiveCall
	}
	if err := checkSignal(&s, sig); err != nil {
		return err
	}
	if s.Role != RoleCallee || s.State != StateRinging {
		return fmt.Errorf("%w: %s in state %s", ErrInvalidTransition, kind, s.State)
	}
	callee, caller, err := b.releaseBoth(ctx, sig.From, sig.To, sig.SessionID)
	if err != nil {
		return err
	}
	b.cancelRingTimer(sig.SessionID)
	b.signals.ToUser(ctx, sig.To, sig)
	b.record(ctx, caller, callee, status)
	return nil
}

func (b *Broker) hangUp(ctx context.Context, sig events.CallSignal) error {
	s, ok, err := b.store.Get(ctx, sig.From)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoActiveCall
	}
	if err := checkSignal(&s, sig); err != nil {
		return err
	}

	switch {
	case s.State == StateConnected:
		mine, peer, err := b.releaseBoth(ctx, sig.From, sig.To, sig.SessionID)
		if err != nil {
			return err
		}
		b.signals.ToUser(ctx, sig.To, sig)
		b.record(ctx, mine, peer, models.CallEnded)
	case s.Role == RoleCaller:
		// caller hung up before an answer: the callee missed it
		mine, peer, err := b.releaseBoth(ctx, sig.From, sig.To, sig.SessionID)
		if err != nil {
			return err
		}
		missed := sig
		missed.Kind = events.MissedCall
		b.signals.ToUser(ctx, sig.To, missed)
		b.record(ctx, mine, peer, models.CallMissed)
	default:
		// callee hanging up while still ringing declines the call
		return b.decline(ctx, events.CallSignal{
			Kind:       events.CallRejected,
			SessionID:  sig.SessionID,
			From:       sig.From,
			To:         sig.To,
			ReceiverID: sig.To,
			CallType:   sig.CallType,
			Reason:     sig.Reason,
		}, events.CallRejected, models.CallRejected)
	}
	b.cancelRingTimer(sig.SessionID)
	return nil
}

// giveUp handles a caller-side client declaring the call missed.
func (b *Broker) giveUp(ctx context.Context, sig events.CallSignal) error {
	s, ok, err := b.store.Get(ctx, sig.From)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoActiveCall
	}
	if err := checkSignal(&s, sig); err != nil {
		return err
	}
	if s.Role != RoleCaller || s.State != StateCalling {
		return fmt.Errorf("%w: missed_call in state %s", ErrInvalidTransition, s.State)
	}
	b.cancelRingTimer(sig.SessionID)
	b.expire(ctx, sig.SessionID, sig.From, sig.To, sig.CallType)
	return nil
}

func (b *Broker) relay(ctx context.Context, sig events.CallSignal) error {
	s, ok, err := b.store.Get(ctx, sig.From)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoActiveCall
	}
	if err := checkSignal(&s, sig); err != nil {
		return err
	}
	b.signals.ToUser(ctx, sig.To, sig)
	return nil
}

func (b *Broker) armRingTimer(sessionID, callerID, calleeID string, callType models.CallType) {
	t := time.AfterFunc(b.cfg.RingTimeout, func() {
		b.mu.Lock()
		delete(b.timers, sessionID)
		b.mu.Unlock()
		b.expire(context.Background(), sessionID, callerID, calleeID, callType)
	})
	b.mu.Lock()
	b.timers[sessionID] = t
	b.mu.Unlock()
}

func (b *Broker) cancelRingTimer(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.timers[sessionID]; ok {
		t.Stop()
		delete(b.timers, sessionID)
	}
}

// expire ends an unanswered attempt as missed for both parties. It does
// nothing if the attempt was answered or finished meanwhile.
func (b *Broker) expire(ctx context.Context, sessionID, callerID, calleeID string, callType models.CallType) {
	s, ok, err := b.store.Get(ctx, callerID)
	if err != nil {
		b.log.Warn().Err(err).Str("session_id", sessionID).Msg("load session on ring timeout")
		return
	}
	if !ok || s.ID != sessionID || s.State != StateCalling {
		return
	}
	caller, callee, err := b.releaseBoth(ctx, callerID, calleeID, sessionID)
	if err != nil {
		b.log.Warn().Err(err).Str("session_id", sessionID).Msg("release sessions on ring timeout")
		return
	}

	missed := events.CallSignal{
		Kind:       events.MissedCall,
		SessionID:  sessionID,
		From:       callerID,
		To:         calleeID,
		ReceiverID: calleeID,
		CallType:   callType,
		Reason:     "no_answer",
	}
	b.signals.ToUser(ctx, callerID, missed)
	b.signals.ToUser(ctx, calleeID, missed)
	b.record(ctx, caller, callee, models.CallMissed)
}

// releaseBoth removes the session from both parties and returns what was
// removed, mine first.
func (b *Broker) releaseBoth(ctx context.Context, me, peer, sessionID string) (Session, Session, error) {
	mine, ok, err := b.store.Release(ctx, me, sessionID)
	if err != nil {
		return Session{}, Session{}, err
	}
	if !ok {
		return Session{}, Session{}, ErrStaleSession
	}
	theirs, _, err := b.store.Release(ctx, peer, sessionID)
	if err != nil {
		b.log.Warn().Err(err).Str("session_id", sessionID).Str("user_id", peer).Msg("release peer session")
	}
	return mine, theirs, nil
}

func (b *Broker) record(ctx context.Context, a, c Session, status models.CallStatus) {
	caller, callee := a, c
	if a.Role == RoleCallee {
		caller, callee = c, a
	}
	if caller.UserID == "" {
		caller.UserID = callee.PeerID
		caller.StartedAt = callee.StartedAt
		caller.AnsweredAt = callee.AnsweredAt
	}
	if callee.UserID == "" {
		callee.UserID = caller.PeerID
	}

	ended := b.now()
	rec := models.CallRecord{
		SessionID:  caller.ID,
		CallerID:   caller.UserID,
		CalleeID:   callee.UserID,
		Type:       caller.CallType,
		Status:     status,
		StartedAt:  caller.StartedAt,
		AnsweredAt: caller.AnsweredAt,
		EndedAt:    ended,
	}
	if rec.SessionID == "" {
		rec.SessionID = callee.ID
	}
	if rec.Type == "" {
		rec.Type = callee.CallType
	}
	if rec.AnsweredAt != nil {
		rec.Duration = int64(ended.Sub(*rec.AnsweredAt).Seconds())
	}
	observability.IncCallOutcome(string(status))
	b.recorder.CallFinished(ctx, rec)
}

// checkSignal verifies that sig belongs to the session s.
func checkSignal(s *Session, sig events.CallSignal) error {
	if sig.SessionID == "" || sig.SessionID != s.ID {
		return ErrStaleSession
	}
	if s.PeerID != sig.To {
		return ErrNotParticipant
	}
	return nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrStaleSession):
		return "stale_session"
	case errors.Is(err, ErrNoActiveCall):
		return "no_active_call"
	case errors.Is(err, ErrNotParticipant):
		return "not_participant"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	default:
		return "error"
	}
}
