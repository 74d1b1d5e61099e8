package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.mongodb.org/mongo-driver/mongo"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"chat-realtime/internal/auth"
	"chat-realtime/internal/bridge"
	"chat-realtime/internal/calls"
	"chat-realtime/internal/config"
	"chat-realtime/internal/db"
	"chat-realtime/internal/grpcserver"
	"chat-realtime/internal/handlers"
	"chat-realtime/internal/logging"
	"chat-realtime/internal/middleware"
	"chat-realtime/internal/observability"
	"chat-realtime/internal/rabbitmq"
	"chat-realtime/internal/realtime"
	"chat-realtime/internal/repositories"
	"chat-realtime/internal/telemetry"
	"chat-realtime/internal/ws"
)

const serviceName = "chat-realtime"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load config")
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing.OTLPEndpoint, cfg.Tracing.ServiceName)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to init tracing")
	}

	publisher := rabbitmq.NewPublisher(cfg.Queue.AMQPURL, cfg.Queue.Exchange)
	observability.SetPublisher(publisher)
	audit := telemetry.NewAuditEmitter(publisher, rabbitmq.TopicAudit, serviceName, cfg.Server.Environment)
	logging.Info().
		Str("mode", rabbitmq.PublisherMode(publisher)).
		Str("reason", rabbitmq.PublisherNoopReason(publisher)).
		Msg("queue publisher ready")

	var nc *nats.Conn
	if cfg.Bridge.Driver == "nats" {
		nc, err = bridge.Connect(bridge.NATSConfig{
			URL:           cfg.Bridge.URL,
			Name:          serviceName + "-" + cfg.Server.NodeID,
			MaxReconnects: cfg.Bridge.MaxReconnects,
			ReconnectWait: cfg.Bridge.ReconnectWait,
		})
		if err != nil {
			logging.Fatal().Err(err).Msg("failed to connect to nats")
		}
	}
	br := openBridge(cfg, nc)

	store, err := openSessionStore(ctx, cfg, nc)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open call session store")
	}

	dir, closeDir, err := openDirectory(ctx, cfg.Store)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open directory")
	}

	hub := ws.NewHub()
	fanout := realtime.NewDispatcher(hub, br, cfg.Server.NodeID)
	if err := fanout.Run(ctx); err != nil {
		logging.Fatal().Err(err).Msg("failed to subscribe to bridge")
	}

	relay := realtime.NewRelay(fanout, publisher)
	status := realtime.NewStatusAggregator(fanout, publisher)
	broker := calls.NewBroker(store, fanout, calls.NewQueueRecorder(publisher, audit), calls.Config{
		NodeID:      cfg.Server.NodeID,
		RingTimeout: cfg.Calls.RingTimeout,
	})
	router := realtime.NewRouter(hub, fanout, relay, status, broker, dir)

	verifier := auth.NewJWTVerifier(cfg.Auth.JWTSecret)
	gateway := ws.NewGateway(hub, verifier, router, audit, ws.GatewayConfig{
		CookieName: cfg.Auth.CookieName,
		Client: ws.ClientOptions{
			SendBuffer:      cfg.Realtime.SendBuffer,
			EventsPerSecond: cfg.Realtime.EventsPerSecond,
			EventBurst:      cfg.Realtime.EventBurst,
			WriteTimeout:    cfg.Realtime.WriteTimeout,
			PongWait:        cfg.Realtime.PongWait,
			MaxMessageBytes: cfg.Realtime.MaxMessageBytes,
		},
	})

	chatHandler := handlers.NewChatHandler(dir, relay, status, audit)
	callHandler := handlers.NewCallHandler(broker)

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()

	// middlewares
	engine.Use(gin.Recovery())
	engine.Use(otelgin.Middleware(cfg.Tracing.ServiceName))
	engine.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.AuthMiddleware(verifier, cfg.Auth.CookieName)

	engine.GET("/ws", gateway.Handle)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "bridge": br.Connected(), "online_users": hub.Users()})
	})

	engine.POST("/chats/:chat_id/messages", authMiddleware, chatHandler.PostChatMessage)
	engine.POST("/messages/status", authMiddleware, chatHandler.PostStatus)
	engine.GET("/calls/current", authMiddleware, callHandler.CurrentCall)

	handlers.DebugRoutes{
		NodeID:    cfg.Server.NodeID,
		Audit:     audit,
		Hub:       hub,
		Bridge:    br,
		QueueMode: rabbitmq.PublisherMode(publisher),
	}.Register(engine, cfg.Server.DebugRoutes)

	srv := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.Server.Port),
		Handler: engine,
	}
	go func() {
		logging.Info().Str("addr", srv.Addr).Str("node", cfg.Server.NodeID).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal().Err(err).Msg("server error")
		}
	}()

	health := grpcserver.New(br, 0)
	go health.Watch(ctx)
	lis, err := net.Listen("tcp", ":"+strconv.Itoa(cfg.Server.GRPCPort))
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to listen for grpc")
	}
	go func() {
		if err := health.Serve(lis); err != nil {
			logging.Error().Err(err).Msg("grpc server error")
		}
	}()

	<-ctx.Done()
	logging.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	health.Stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("http shutdown")
	}
	hub.CloseAll()
	broker.Stop()
	if err := br.Close(); err != nil {
		logging.Error().Err(err).Msg("bridge close")
	}
	if nc != nil {
		nc.Close()
	}
	closeDir(shutdownCtx)
	if err := publisher.Close(); err != nil {
		logging.Error().Err(err).Msg("publisher close")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("tracer shutdown")
	}
}

func openBridge(cfg *config.Config, nc *nats.Conn) bridge.Bridge {
	if nc == nil {
		return bridge.NewLocal(cfg.Bridge.Subject)
	}
	return bridge.NewNATS(nc, cfg.Bridge.Subject, bridge.DefaultBreakerConfig())
}

// sessions left behind by a crashed node expire after this long
const sessionTTL = 12 * time.Hour

func openSessionStore(ctx context.Context, cfg *config.Config, nc *nats.Conn) (calls.SessionStore, error) {
	if cfg.Calls.SessionStore != "nats" {
		return calls.NewMemoryStore(), nil
	}
	return calls.NewKVStore(ctx, nc, cfg.Calls.KVBucket, sessionTTL)
}

// openDirectory returns a nil Directory for the "none" driver; chat and
// story fan-out then relies on participants carried by the client.
func openDirectory(ctx context.Context, cfg config.StoreConfig) (repositories.Directory, func(context.Context), error) {
	noop := func(context.Context) {}
	switch cfg.Driver {
	case "mongo":
		client, database, err := db.ConnectMongo(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, noop, err
		}
		return repositories.NewMongoDirectory(database), closeMongo(client), nil
	case "postgres":
		conn, err := db.ConnectPostgres(cfg.PostgresDSN)
		if err != nil {
			return nil, noop, err
		}
		return repositories.NewPGDirectory(conn), closePostgres(conn), nil
	case "none":
		return nil, noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func closeMongo(client *mongo.Client) func(context.Context) {
	return func(ctx context.Context) {
		if err := client.Disconnect(ctx); err != nil {
			logging.Error().Err(err).Msg("mongo disconnect")
		}
	}
}

func closePostgres(conn *sqlx.DB) func(context.Context) {
	return func(context.Context) {
		if err := conn.Close(); err != nil {
			logging.Error().Err(err).Msg("postgres close")
		}
	}
}
