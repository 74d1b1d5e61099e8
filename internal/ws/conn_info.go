package ws

import "time"

// ConnInfo is what the gateway learned about a connection at handshake time.
type ConnInfo struct {
	ConnID      string
	UserID      string
	Name        string
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}
