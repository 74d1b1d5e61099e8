package models

import "time"

// CallType is the media kind of a call.
type CallType string

const (
	CallAudio CallType = "audio"
	CallVideo CallType = "video"
)

// CallStatus is the final outcome of one call attempt.
type CallStatus string

const (
	CallEnded    CallStatus = "ended"
	CallRejected CallStatus = "rejected"
	CallMissed   CallStatus = "missed"
	CallBusy     CallStatus = "busy"
)

// CallRecord is handed to the call-history consumer once an attempt finishes.
type CallRecord struct {
	SessionID  string     `json:"sessionId"`
	CallerID   string     `json:"callerId"`
	CalleeID   string     `json:"calleeId"`
	Type       CallType   `json:"callType"`
	Status     CallStatus `json:"status"`
	StartedAt  time.Time  `json:"startedAt"`
	AnsweredAt *time.Time `json:"answeredAt,omitempty"`
	EndedAt    time.Time  `json:"endedAt"`
	// Duration is the connected time in seconds, zero when never answered.
	Duration int64 `json:"duration"`
}
