package observability

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_realtime_http_requests_total",
			Help: "Total number of HTTP requests processed by the realtime node.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_realtime_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	grpcServerHandledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grpc_server_handled_total",
			Help: "Total number of gRPC requests handled by the server.",
		},
		[]string{"grpc_service", "grpc_method", "grpc_code"},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_realtime_ws_active_connections",
			Help: "Number of websocket connections open on this node.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_realtime_ws_events_total",
			Help: "Total number of websocket lifecycle and inbound events.",
		},
		[]string{"event"},
	)
	fanoutDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_realtime_fanout_deliveries_total",
			Help: "Frames handed to local connections, by event name.",
		},
		[]string{"event"},
	)
	fanoutDropsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_realtime_fanout_drops_total",
			Help: "Frames that could not be handed to a local connection.",
		},
		[]string{"reason"},
	)
	bridgeEnvelopesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_realtime_bridge_envelopes_total",
			Help: "Envelopes seen on the bridge, by direction.",
		},
		[]string{"direction"},
	)
	bridgePublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_realtime_bridge_publish_errors_total",
			Help: "Total number of failed bridge publishes.",
		},
	)
	queuePublishErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_realtime_queue_publish_errors_total",
			Help: "Total number of failed durable queue publishes.",
		},
		[]string{"routing_key"},
	)
	callOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_realtime_call_outcomes_total",
			Help: "Finished call attempts by outcome.",
		},
		[]string{"status"},
	)
	callSignalsRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_realtime_call_signals_rejected_total",
			Help: "Call signals dropped by the broker, by reason.",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		grpcServerHandledTotal,
		wsActiveConnections,
		wsEventsTotal,
		fanoutDeliveriesTotal,
		fanoutDropsTotal,
		bridgeEnvelopesTotal,
		bridgePublishErrorsTotal,
		queuePublishErrorsTotal,
		callOutcomesTotal,
		callSignalsRejectedTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func GRPCServerMetricsUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		statusInfo := status.Convert(err)
		service, method := splitFullMethod(info.FullMethod)
		grpcServerHandledTotal.WithLabelValues(service, method, statusInfo.Code().String()).Inc()
		return resp, err
	}
}

func splitFullMethod(fullMethod string) (string, string) {
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 3 {
		return "unknown", "unknown"
	}
	return parts[1], parts[2]
}

func IncWSActive() {
	wsActiveConnections.Inc()
}

func DecWSActive() {
	wsActiveConnections.Dec()
}

func IncWSEvent(event string) {
	wsEventsTotal.WithLabelValues(event).Inc()
}

func AddFanoutDeliveries(event string, n int) {
	if n > 0 {
		fanoutDeliveriesTotal.WithLabelValues(event).Add(float64(n))
	}
}

// IncFanoutDrop counts a frame that was not delivered. Reasons in use:
// buffer_full, closed, encode, write_error.
func IncFanoutDrop(reason string) {
	fanoutDropsTotal.WithLabelValues(reason).Inc()
}

func IncBridgeEnvelope(direction string) {
	bridgeEnvelopesTotal.WithLabelValues(direction).Inc()
}

func IncBridgePublishError() {
	bridgePublishErrorsTotal.Inc()
}

func IncQueuePublishError(routingKey string) {
	queuePublishErrorsTotal.WithLabelValues(routingKey).Inc()
}

func IncCallOutcome(status string) {
	callOutcomesTotal.WithLabelValues(status).Inc()
}

func IncCallSignalRejected(reason string) {
	callSignalsRejectedTotal.WithLabelValues(reason).Inc()
}
