package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics for the voice pipeline.
type Metrics struct {
	// Session metrics
	ActiveSessions  prometheus.Gauge
	SessionsCreated prometheus.Counter
	SessionsClosed  prometheus.Counter

	// Tick metrics
	TicksProcessed prometheus.Counter
	TicksDropped   prometheus.Counter
	FlushSignals   prometheus.Counter

	// Turn metrics
	TurnsStarted   prometheus.Counter
	TurnsCompleted prometheus.Counter
	TurnsFailed    *prometheus.CounterVec
	TurnDuration   prometheus.Histogram
	StageDuration  *prometheus.HistogramVec

	// Playback metrics
	PlaybackEnqueued prometheus.Counter
	PlaybackDropped  prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "companion_active_voice_sessions",
			Help: "Current number of active voice sessions",
		}),
		SessionsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "companion_voice_sessions_created_total",
			Help: "Total number of voice sessions created",
		}),
		SessionsClosed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "companion_voice_sessions_closed_total",
			Help: "Total number of voice sessions closed",
		}),
		TicksProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "companion_transport_ticks_total",
			Help: "Total number of transport ticks processed",
		}),
		TicksDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "companion_transport_ticks_dropped_total",
			Help: "Total number of transport ticks dropped because the session loop was behind",
		}),
		FlushSignals: promauto.NewCounter(prometheus.CounterOpts{
			Name: "companion_flush_signals_total",
			Help: "Total number of silence-edge flush signals",
		}),
		TurnsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "companion_turns_started_total",
			Help: "Total number of turn pipelines dispatched",
		}),
		TurnsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "companion_turns_completed_total",
			Help: "Total number of turn pipelines that reached playback",
		}),
		TurnsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "companion_turns_failed_total",
			Help: "Total number of turn pipelines aborted, by stage",
		}, []string{"stage"}),
		TurnDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "companion_turn_duration_seconds",
			Help:    "End-to-end duration of completed turn pipelines",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),
		StageDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "companion_turn_stage_duration_seconds",
			Help:    "Duration of individual pipeline stages",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~41s
		}, []string{"stage"}),
		PlaybackEnqueued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "companion_playback_enqueued_total",
			Help: "Total number of audio assets enqueued for playback",
		}),
		PlaybackDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "companion_playback_dropped_total",
			Help: "Total number of playback requests dropped because no session was live",
		}),
	}
}

// RecordTurnFailed increments the failure counter for a pipeline stage.
func (m *Metrics) RecordTurnFailed(stage string) {
	m.TurnsFailed.WithLabelValues(stage).Inc()
}

// ObserveStage records the duration of one pipeline stage in seconds.
func (m *Metrics) ObserveStage(stage string, seconds float64) {
	m.StageDuration.WithLabelValues(stage).Observe(seconds)
}

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
