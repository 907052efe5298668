package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveSessions      prometheus.Gauge
	ActiveConnections   prometheus.Gauge
	SessionEvents       *prometheus.CounterVec
	WSMessages          *prometheus.CounterVec
	WSWriteErrors       *prometheus.CounterVec
	OutboundMessages    *prometheus.CounterVec
	BroadcastRecipients prometheus.Histogram
	TTSSynthesis        *prometheus.CounterVec
	TTSLatency          prometheus.Histogram
	CacheLookups        *prometheus.CounterVec
	RateLimitRejections *prometheus.CounterVec
	turnStageWindow     *turnStageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of non-terminal translation sessions.",
		}),
		ActiveConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Number of open WebSocket connections.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle events by type.",
		}, []string{"event"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		WSWriteErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_write_errors_total",
			Help:      "WebSocket write errors by reason.",
		}, []string{"reason"}),
		OutboundMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_messages_total",
			Help:      "Outbound messages by type and delivery result.",
		}, []string{"type", "result"}),
		BroadcastRecipients: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "broadcast_recipients",
			Help:      "Number of recipients per broadcast-translation fan-out.",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
		}),
		TTSSynthesis: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tts_synthesis_total",
			Help:      "TTS synthesis calls by cache outcome.",
		}, []string{"outcome"}),
		TTSLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tts_synthesis_latency_ms",
			Help:      "TTS synthesis latency in milliseconds, cache misses only.",
			Buckets:   []float64{50, 100, 200, 400, 700, 1200, 2000, 4000, 8000},
		}),
		CacheLookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_cache_lookups_total",
			Help:      "Audio cache lookups by hit/miss.",
		}, []string{"result"}),
		RateLimitRejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_rejections_total",
			Help:      "Requests rejected by rate limiting, by scope.",
		}, []string{"scope"}),
		turnStageWindow: newTurnStageWindow(256),
	}
}

func (m *Metrics) ObserveSessionEvent(event string) {
	if m == nil || m.SessionEvents == nil {
		return
	}
	m.SessionEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveWSMessage(direction, msgType string) {
	if m == nil || m.WSMessages == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

func (m *Metrics) ObserveWSWriteError(reason string) {
	if m == nil || m.WSWriteErrors == nil {
		return
	}
	m.WSWriteErrors.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveOutboundMessage(msgType, result string) {
	if m == nil || m.OutboundMessages == nil {
		return
	}
	m.OutboundMessages.WithLabelValues(msgType, result).Inc()
}

func (m *Metrics) ObserveBroadcast(recipients int) {
	if m == nil || m.BroadcastRecipients == nil {
		return
	}
	m.BroadcastRecipients.Observe(float64(recipients))
	m.turnStageWindow.Observe("broadcast_fanout", float64(recipients))
}

func (m *Metrics) ObserveTTSSynthesis(cacheHit bool, d time.Duration) {
	if m == nil || m.TTSSynthesis == nil {
		return
	}
	outcome := "miss"
	if cacheHit {
		outcome = "hit"
	}
	m.TTSSynthesis.WithLabelValues(outcome).Inc()
	if !cacheHit {
		ms := float64(d.Milliseconds())
		m.TTSLatency.Observe(ms)
		m.turnStageWindow.Observe("tts_synthesis", ms)
	}
}

func (m *Metrics) ObserveCacheLookup(hit bool) {
	if m == nil || m.CacheLookups == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveRateLimitRejection(scope string) {
	if m == nil || m.RateLimitRejections == nil {
		return
	}
	m.RateLimitRejections.WithLabelValues(scope).Inc()
}

func (m *Metrics) SnapshotTurnStages() TurnStageSnapshot {
	if m == nil || m.turnStageWindow == nil {
		return TurnStageSnapshot{}
	}
	return m.turnStageWindow.Snapshot()
}

func (m *Metrics) ResetTurnStages() {
	if m == nil || m.turnStageWindow == nil {
		return
	}
	m.turnStageWindow.Reset()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
