package events

import (
	"github.com/goccy/go-json"

	"chat-realtime/internal/models"
)

// CallKind names one call signaling step.
type CallKind string

const (
	CallMade     CallKind = "call_made"
	CallStarted  CallKind = "call_started"
	CallRinging  CallKind = "call_ringing"
	CallAccepted CallKind = "call_accepted"
	CallRejected CallKind = "call_rejected"
	CallEnded    CallKind = "call_ended"
	MissedCall   CallKind = "missed_call"
	UserBusy     CallKind = "user_busy"
	IceCandidate CallKind = "ice_candidate"
	ToggleVideo  CallKind = "toggle_video"
	ToggleAudio  CallKind = "toggle_audio"
)

var callKinds = map[string]CallKind{
	string(CallMade):     CallMade,
	string(CallStarted):  CallStarted,
	string(CallRinging):  CallRinging,
	string(CallAccepted): CallAccepted,
	string(CallRejected): CallRejected,
	string(CallEnded):    CallEnded,
	string(MissedCall):   MissedCall,
	string(UserBusy):     UserBusy,
	string(IceCandidate): IceCandidate,
	string(ToggleVideo):  ToggleVideo,
	string(ToggleAudio):  ToggleAudio,
}

// IsCallKind reports whether name is one of the call signaling events.
func IsCallKind(name string) bool {
	_, ok := callKinds[name]
	return ok
}

// CallSignal is one point-to-point signaling message between the two parties
// of a call. From and To are user ids; ReceiverID repeats To for clients that
// read it under that name. SDP and ICE blobs are opaque to the server.
type CallSignal struct {
	Kind       CallKind        `json:"-"`
	SessionID  string          `json:"sessionId,omitempty"`
	From       string          `json:"from"`
	To         string          `json:"to"`
	ReceiverID string          `json:"receiverId,omitempty"`
	CallerName string          `json:"name,omitempty"`
	CallType   models.CallType `json:"callType,omitempty"`
	Offer      json.RawMessage `json:"offer,omitempty"`
	Answer     json.RawMessage `json:"answer,omitempty"`
	Candidate  json.RawMessage `json:"candidate,omitempty"`
	Enabled    *bool           `json:"enabled,omitempty"`
	Reason     string          `json:"reason,omitempty"`
}

func (s CallSignal) Name() string { return string(s.Kind) }

// Reply builds a signal of kind k travelling back from the receiver of s to
// its sender within the same session.
func (s CallSignal) Reply(k CallKind) CallSignal {
	return CallSignal{
		Kind:       k,
		SessionID:  s.SessionID,
		From:       s.To,
		To:         s.From,
		ReceiverID: s.From,
		CallType:   s.CallType,
	}
}
