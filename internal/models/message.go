package models

import (
	"time"

	"github.com/goccy/go-json"
)

// DeliveryStatus is the receipt state of a message. It only moves forward:
// sent -> delivered -> seen.
type DeliveryStatus string

const (
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusSeen      DeliveryStatus = "seen"
)

func (s DeliveryStatus) rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusSeen:
		return 3
	default:
		return 0
	}
}

// Valid reports whether s is one of the known statuses.
func (s DeliveryStatus) Valid() bool {
	return s.rank() > 0
}

// Advance returns the later of s and next. An unknown next never changes s.
func (s DeliveryStatus) Advance(next DeliveryStatus) DeliveryStatus {
	if next.rank() > s.rank() {
		return next
	}
	return s
}

// Attachment is an uploaded file referenced by a message.
type Attachment struct {
	URL  string `json:"url" bson:"url"`
	Type string `json:"type,omitempty" bson:"type,omitempty"`
	Name string `json:"name,omitempty" bson:"name,omitempty"`
	Size int64  `json:"size,omitempty" bson:"size,omitempty"`
}

// Message is a chat message as relayed in realtime. Persistence is owned by
// the queue consumer, so unknown client fields are carried in Extra untouched.
type Message struct {
	ID          string          `json:"_id" validate:"required"`
	ChatID      string          `json:"chatId" validate:"required"`
	SenderID    string          `json:"senderId"`
	Content     string          `json:"content,omitempty"`
	Attachments []Attachment    `json:"attachments,omitempty"`
	Status      DeliveryStatus  `json:"status,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	Extra       json.RawMessage `json:"extra,omitempty"`
}

// StatusUpdate is a single receipt transition for one message.
type StatusUpdate struct {
	MessageID string         `json:"messageId" validate:"required"`
	Status    DeliveryStatus `json:"status" validate:"required"`
	RoomID    string         `json:"roomId"`
	SenderID  string         `json:"senderId" validate:"required"`
}

