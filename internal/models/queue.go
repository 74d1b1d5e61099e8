package models

import "time"

// PersistOp tags a queued record with the persistence operation it asks for.
type PersistOp string

const (
	OpInsert PersistOp = "insert"
	OpUpdate PersistOp = "update"
)

// MessageJob asks the persistence consumer to store a relayed message.
type MessageJob struct {
	Op         PersistOp `json:"op"`
	Message    Message   `json:"message"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// StatusJob asks the persistence consumer to advance a message status.
type StatusJob struct {
	Op         PersistOp    `json:"op"`
	Update     StatusUpdate `json:"update"`
	EnqueuedAt time.Time    `json:"enqueuedAt"`
}

// NotificationJob asks the push worker to notify recipients of a new message.
type NotificationJob struct {
	ChatID       string    `json:"chatId"`
	MessageID    string    `json:"messageId"`
	SenderID     string    `json:"senderId"`
	RecipientIDs []string  `json:"recipientIds"`
	Preview      string    `json:"preview,omitempty"`
	EnqueuedAt   time.Time `json:"enqueuedAt"`
}
