package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"chat-realtime/internal/events"
	"chat-realtime/internal/observability"
)

var (
	ErrConnClosed     = errors.New("ws: connection closed")
	ErrSendBufferFull = errors.New("ws: send buffer full")
)

// ClientOptions tunes a single connection.
type ClientOptions struct {
	SendBuffer      int
	EventsPerSecond float64
	EventBurst      int
	WriteTimeout    time.Duration
	PongWait        time.Duration
	MaxMessageBytes int64
}

func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		SendBuffer:      256,
		EventsPerSecond: 20,
		EventBurst:      40,
		WriteTimeout:    10 * time.Second,
		PongWait:        60 * time.Second,
		MaxMessageBytes: 1 << 20,
	}
}

// Client is one admitted connection. Frames queued with Send are written by
// a dedicated goroutine so a slow socket never blocks the sender.
type Client struct {
	info    ConnInfo
	conn    *websocket.Conn
	opts    ClientOptions
	send    chan []byte
	limiter *rate.Limiter

	mu     sync.RWMutex
	closed bool

	// guarded by Hub.mu
	rooms map[string]struct{}
}

// NewClient wraps conn. A nil conn gives a detached client whose frames are
// only observable through Outbox.
func NewClient(conn *websocket.Conn, info ConnInfo, opts ClientOptions) *Client {
	defaults := DefaultClientOptions()
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaults.SendBuffer
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaults.WriteTimeout
	}
	if opts.PongWait <= 0 {
		opts.PongWait = defaults.PongWait
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = defaults.MaxMessageBytes
	}
	limit := rate.Inf
	if opts.EventsPerSecond > 0 {
		limit = rate.Limit(opts.EventsPerSecond)
	}
	burst := opts.EventBurst
	if burst <= 0 {
		burst = 1
	}
	if info.ConnID == "" {
		info.ConnID = newConnID()
	}
	if info.ConnectedAt.IsZero() {
		info.ConnectedAt = time.Now()
	}
	return &Client{
		info:    info,
		conn:    conn,
		opts:    opts,
		send:    make(chan []byte, opts.SendBuffer),
		limiter: rate.NewLimiter(limit, burst),
		rooms:   make(map[string]struct{}),
	}
}

func (c *Client) ID() string            { return c.info.ConnID }
func (c *Client) UserID() string        { return c.info.UserID }
func (c *Client) Info() ConnInfo        { return c.info }
func (c *Client) Allow() bool           { return c.limiter.Allow() }
func (c *Client) Outbox() <-chan []byte { return c.send }

func (c *Client) Closed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Send queues frame without blocking. When the buffer is full the client is
// closed and ErrSendBufferFull returned.
func (c *Client) Send(frame []byte) error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return ErrConnClosed
	}
	select {
	case c.send <- frame:
		c.mu.RUnlock()
		return nil
	default:
		c.mu.RUnlock()
	}
	c.Close()
	return ErrSendBufferFull
}

// SendEvent encodes ev as a client frame and queues it.
func (c *Client) SendEvent(ev events.Event) error {
	frame, err := events.EncodeFrame(ev)
	if err != nil {
		return err
	}
	return c.Send(frame)
}

// Close stops accepting frames. The write loop flushes what is queued and
// then closes the socket.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// Run pumps the connection until it fails or is closed. Each inbound text
// frame is passed to onFrame on the calling goroutine, in arrival order.
func (c *Client) Run(onFrame func([]byte)) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.writePump()
	}()

	err := c.readPump(onFrame)
	c.Close()
	<-done
	return err
}

func (c *Client) readPump(onFrame func([]byte)) error {
	c.conn.SetReadLimit(c.opts.MaxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}
		if kind != websocket.TextMessage {
			continue
		}
		onFrame(data)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.opts.PongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				observability.IncFanoutDrop("write_error")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
