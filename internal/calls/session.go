// Package calls brokers WebRTC signaling between the two parties of a call.
//
// Each user has at most one call session record. Records are kept in a
// SessionStore so that every node sees the same call state; the in-memory
// store serves a single node, the NATS KV store serves a cluster.
package calls

import (
	"context"
	"errors"
	"time"

	"chat-realtime/internal/models"
)

var (
	// ErrUserBusy is returned by SessionStore.Claim when the user already
	// has a session.
	ErrUserBusy          = errors.New("calls: user is busy")
	ErrAlreadyInCall     = errors.New("calls: caller already in a call")
	ErrNoActiveCall      = errors.New("calls: no active call")
	ErrStaleSession      = errors.New("calls: stale call session")
	ErrNotParticipant    = errors.New("calls: not a participant of this call")
	ErrInvalidTransition = errors.New("calls: invalid signaling transition")
)

// State is one user's signaling state. Idle is represented by the absence
// of a session record.
type State string

const (
	StateIdle      State = "idle"
	StateCalling   State = "calling"
	StateRinging   State = "ringing"
	StateConnected State = "connected"
)

type Role string

const (
	RoleCaller Role = "caller"
	RoleCallee Role = "callee"
)

// Session is one user's side of a call attempt. Both parties hold a record
// with the same ID.
type Session struct {
	ID       string          `json:"id"`
	UserID   string          `json:"userId"`
	PeerID   string          `json:"peerId"`
	Role     Role            `json:"role"`
	State    State           `json:"state"`
	CallType models.CallType `json:"callType"`
	// Ringing is set on the caller once the callee's device acknowledged.
	Ringing bool `json:"ringing,omitempty"`
	// Node is the node whose connection drives this side of the call. Empty
	// until the callee's device has responded.
	Node       string     `json:"node,omitempty"`
	StartedAt  time.Time  `json:"startedAt"`
	AnsweredAt *time.Time `json:"answeredAt,omitempty"`
}

// SessionStore holds per-user session records with atomic transitions.
type SessionStore interface {
	// Get returns the user's session; ok is false when the user is idle.
	Get(ctx context.Context, userID string) (s Session, ok bool, err error)
	// Claim stores s only if s.UserID is idle, otherwise ErrUserBusy.
	Claim(ctx context.Context, s Session) error
	// Update applies fn to the user's session atomically. A missing
	// session yields ErrNoActiveCall; an error from fn aborts the update.
	Update(ctx context.Context, userID string, fn func(*Session) error) (Session, error)
	// Release removes the user's session if its ID is sessionID and returns
	// what was removed.
	Release(ctx context.Context, userID, sessionID string) (Session, bool, error)
}
