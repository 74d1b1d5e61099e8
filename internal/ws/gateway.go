package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"

	"chat-realtime/internal/auth"
	"chat-realtime/internal/events"
	"chat-realtime/internal/logging"
	"chat-realtime/internal/observability"
	"chat-realtime/internal/telemetry"
)

var (
	errRateLimited = errors.New("too many events")
	errInternal    = errors.New("internal error")
)

// EventHandler receives decoded and validated events from admitted clients.
type EventHandler interface {
	HandleEvent(ctx context.Context, c *Client, ev events.Event) error
	// HandleDisconnect runs after c left the hub. remaining is how many
	// connections its user still has on this node.
	HandleDisconnect(ctx context.Context, c *Client, remaining int)
}

type GatewayConfig struct {
	CookieName string
	Client     ClientOptions
}

// Gateway admits websocket connections and feeds their events to a handler.
type Gateway struct {
	hub      *Hub
	verifier auth.Verifier
	handler  EventHandler
	audit    *telemetry.AuditEmitter
	cfg      GatewayConfig
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

func NewGateway(hub *Hub, verifier auth.Verifier, handler EventHandler, audit *telemetry.AuditEmitter, cfg GatewayConfig) *Gateway {
	if cfg.CookieName == "" {
		cfg.CookieName = "session-token"
	}
	return &Gateway{
		hub:      hub,
		verifier: verifier,
		handler:  handler,
		audit:    audit,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: logging.Component("ws"),
	}
}

// Handle verifies the session credential and upgrades the connection.
// Unauthenticated requests get 401 before any upgrade happens.
func (g *Gateway) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("chat-realtime/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	requestID := observability.RequestIDFromRequest(c.Request)
	ip := observability.IPFromRequest(c.Request)

	id, err := g.verifier.Verify(observability.SessionToken(c.Request, g.cfg.CookieName))
	if err != nil {
		observability.IncWSEvent("ws_rejected")
		g.audit.AdmissionRejected(ctx, requestID, ip, err.Error())
		g.log.Warn().Err(err).Str("ip", ip).Msg("websocket admission rejected")
		c.JSON(http.StatusUnauthorized, gin.H{"error": auth.ErrUnauthorized.Error()})
		return
	}

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.log.Warn().Err(err).Str("user_id", id.UserID).Msg("websocket upgrade failed")
		return
	}

	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      id.UserID,
		Name:        id.Name,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          ip,
		RequestID:   requestID,
		TraceID:     observability.TraceIDFromContext(ctx),
		ConnectedAt: time.Now(),
	}
	client := NewClient(conn, info, g.cfg.Client)
	g.hub.Register(id.UserID, client)

	observability.IncWSActive()
	observability.IncWSEvent(observability.WSConnect)
	g.publishLifecycle(ctx, observability.WSConnect, info, "")
	g.log.Debug().Str("user_id", info.UserID).Str("conn_id", info.ConnID).Msg("connection admitted")

	// the request context ends when this handler returns
	go g.serve(context.WithoutCancel(ctx), client)
}

func (g *Gateway) serve(ctx context.Context, c *Client) {
	info := c.Info()

	err := c.Run(func(frame []byte) {
		g.handleFrame(ctx, c, frame)
	})

	var reason string
	if err != nil {
		reason = err.Error()
		if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			observability.IncWSEvent(observability.WSError)
			g.publishLifecycle(ctx, observability.WSError, info, reason)
		}
	}

	remaining := g.hub.Unregister(info.UserID, info.ConnID)
	observability.DecWSActive()
	observability.IncWSEvent(observability.WSDisconnect)
	g.publishLifecycle(ctx, observability.WSDisconnect, info, reason)
	g.log.Debug().Str("user_id", info.UserID).Str("conn_id", info.ConnID).Int("remaining", remaining).Msg("connection closed")

	func() {
		defer func() {
			if r := recover(); r != nil {
				g.log.Error().Interface("panic", r).Str("conn_id", info.ConnID).Msg("disconnect handler panicked")
			}
		}()
		g.handler.HandleDisconnect(ctx, c, remaining)
	}()
}

func (g *Gateway) handleFrame(ctx context.Context, c *Client, frame []byte) {
	if !c.Allow() {
		g.reject(c, "", errRateLimited)
		return
	}

	ev, err := events.DecodeFrame(frame)
	if err != nil {
		g.reject(c, "", err)
		return
	}
	if u, ok := ev.(events.Unknown); ok {
		g.log.Debug().Str("event", u.Kind).Str("conn_id", c.ID()).Msg("ignoring unknown event")
		return
	}
	if err := events.Validate(ev); err != nil {
		g.reject(c, ev.Name(), err)
		return
	}

	observability.IncWSEvent(ev.Name())
	if err := g.dispatch(ctx, c, ev); err != nil {
		g.log.Warn().Err(err).Str("event", ev.Name()).Str("user_id", c.UserID()).Msg("event handling failed")
		g.reject(c, ev.Name(), err)
	}
}

func (g *Gateway) dispatch(ctx context.Context, c *Client, ev events.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			g.log.Error().Interface("panic", r).Str("event", ev.Name()).Str("conn_id", c.ID()).Msg("event handler panicked")
			err = fmt.Errorf("%w: %s", errInternal, ev.Name())
		}
	}()
	return g.handler.HandleEvent(ctx, c, ev)
}

func (g *Gateway) reject(c *Client, name string, err error) {
	_ = c.SendEvent(events.ErrorNotice{Event: name, Message: err.Error()})
}

func (g *Gateway) publishLifecycle(ctx context.Context, name string, info ConnInfo, reason string) {
	who := observability.WSIdentity{UserID: info.UserID, DeviceID: info.DeviceID, IP: info.IP}
	_ = observability.PublishEvent(ctx, observability.RoutingKeyWS,
		observability.WSEvent(name, info.ConnID, who, info.ConnectedAt, reason),
		observability.BuildHeaders(info.RequestID, info.TraceID))
}
