// Package metrics exposes the service's Prometheus gauges and
// counters: gateway connections, socket message throughput, pipeline
// stage latency, and rate-limiter denials — the chat equivalents of
// the teacher's order/websocket/LP metric families.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	gatewayConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_gateway_connections",
			Help: "Current number of active gateway socket connections",
		},
	)

	socketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_socket_messages_total",
			Help: "Total socket events by type and direction",
		},
		[]string{"event_type", "direction"},
	)

	pipelineStageLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_pipeline_stage_latency_milliseconds",
			Help:    "Pipeline stage handler latency in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"stage"},
	)

	pipelineStageErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_pipeline_stage_errors_total",
			Help: "Total pipeline stage handler errors by stage",
		},
		[]string{"stage"},
	)

	rateLimitDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_rate_limit_denials_total",
			Help: "Total rate limit denials by identifier class",
		},
		[]string{"class"},
	)

	roomMembers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chat_room_members",
			Help: "Current member count by room",
		},
		[]string{"room_id"},
	)

	apiRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_api_request_duration_milliseconds",
			Help:    "HTTP API request duration in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		},
		[]string{"endpoint", "method", "status"},
	)
)

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// IncGatewayConnections records a new socket connection.
func IncGatewayConnections() { gatewayConnections.Inc() }

// DecGatewayConnections records a socket disconnection.
func DecGatewayConnections() { gatewayConnections.Dec() }

// RecordSocketMessage counts one socket event, inbound (client->server)
// or outbound (server->client).
func RecordSocketMessage(eventType, direction string) {
	socketMessagesTotal.WithLabelValues(eventType, direction).Inc()
}

// RecordPipelineStage records a stage handler's latency and, on
// failure, its error count.
func RecordPipelineStage(stage string, duration time.Duration, err error) {
	pipelineStageLatency.WithLabelValues(stage).Observe(float64(duration.Milliseconds()))
	if err != nil {
		pipelineStageErrors.WithLabelValues(stage).Inc()
	}
}

// RecordRateLimitDenial counts one admission denial for an identifier
// class (e.g. "messageUser", "websocketIP").
func RecordRateLimitDenial(class string) {
	rateLimitDenials.WithLabelValues(class).Inc()
}

// SetRoomMembers reflects a room's current member count.
func SetRoomMembers(roomID string, count int) {
	roomMembers.WithLabelValues(roomID).Set(float64(count))
}

// RecordAPIRequest records one HTTP API request's duration.
func RecordAPIRequest(endpoint, method, status string, duration time.Duration) {
	apiRequestDuration.WithLabelValues(endpoint, method, status).Observe(float64(duration.Milliseconds()))
}

// Middleware wraps an http.HandlerFunc to record RecordAPIRequest
// automatically, mirroring the teacher's response-writer status
// capture wrapper.
func Middleware(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		handler(rw, r)
		RecordAPIRequest(endpoint, r.Method, http.StatusText(rw.status), time.Since(start))
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
