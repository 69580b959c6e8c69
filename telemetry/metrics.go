// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Blocking lanes
	LaneGrants            *prometheus.CounterVec
	LaneQueued            *prometheus.CounterVec
	LaneImbalancedRelease *prometheus.CounterVec
	LaneWaitDuration      prometheus.Observer
	LaneHoldDuration      prometheus.Observer
	LaneQueueDepth        prometheus.Gauge

	// Sequence playback
	SequenceRunsStarted   *prometheus.CounterVec
	SequenceRunsFinished  *prometheus.CounterVec
	SequenceRunsCancelled *prometheus.CounterVec
	TimerLateness         prometheus.Observer

	// Overlay transport and inbound messages
	OverlayClients  prometheus.Gauge
	OverlayMessages *prometheus.CounterVec
	ChatCommands    *prometheus.CounterVec
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		LaneGrants = promauto.NewCounterVec(prometheus.CounterOpts{Name: "overlay_lane_grants_total", Help: "Number of lane grants to blocking events"}, []string{"lane"})
		LaneQueued = promauto.NewCounterVec(prometheus.CounterOpts{Name: "overlay_lane_queued_total", Help: "Number of blocking events that had to wait for a lane"}, []string{"lane"})
		LaneImbalancedRelease = promauto.NewCounterVec(prometheus.CounterOpts{Name: "overlay_lane_imbalanced_release_total", Help: "Number of releases of lanes that were not held"}, []string{"lane"})
		LaneWaitDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "overlay_lane_wait_seconds", Help: "Time blocking events spent queued before their lanes were granted", Buckets: prometheus.DefBuckets})
		LaneHoldDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "overlay_lane_hold_seconds", Help: "Time a lane was held before release", Buckets: prometheus.DefBuckets})
		LaneQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{Name: "overlay_lane_queue_depth", Help: "Current number of blocking events waiting for lanes"})
		SequenceRunsStarted = promauto.NewCounterVec(prometheus.CounterOpts{Name: "overlay_sequence_runs_started_total", Help: "Number of sequence playback runs started"}, []string{"sequence"})
		SequenceRunsFinished = promauto.NewCounterVec(prometheus.CounterOpts{Name: "overlay_sequence_runs_finished_total", Help: "Number of sequence playback runs finished"}, []string{"sequence"})
		SequenceRunsCancelled = promauto.NewCounterVec(prometheus.CounterOpts{Name: "overlay_sequence_runs_cancelled_total", Help: "Number of sequence playback runs cancelled"}, []string{"sequence"})
		TimerLateness = promauto.NewHistogram(prometheus.HistogramOpts{Name: "overlay_sequence_timer_lateness_seconds", Help: "How late sequence timers fired relative to their drift-corrected target", Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1}})
		OverlayClients = promauto.NewGauge(prometheus.GaugeOpts{Name: "overlay_ws_clients", Help: "Connected overlay browser sources"})
		OverlayMessages = promauto.NewCounterVec(prometheus.CounterOpts{Name: "overlay_messages_total", Help: "Inbound overlay messages by event and result"}, []string{"event", "result"})
		ChatCommands = promauto.NewCounterVec(prometheus.CounterOpts{Name: "overlay_chat_commands_total", Help: "Chat commands dispatched to the overlay"}, []string{"command", "result"})
	})
}

// IncLane increments a per-lane counter if metrics are initialized.
func IncLane(vec *prometheus.CounterVec, lane string) {
	if vec != nil {
		vec.WithLabelValues(lane).Inc()
	}
}

// IncSequence increments a per-sequence counter if metrics are initialized.
func IncSequence(vec *prometheus.CounterVec, name string) {
	if vec != nil {
		vec.WithLabelValues(name).Inc()
	}
}

// IncResult increments a (key, result) counter if metrics are initialized.
func IncResult(vec *prometheus.CounterVec, key, result string) {
	if vec != nil {
		vec.WithLabelValues(key, result).Inc()
	}
}

// Observe records d in seconds if obs is non-nil.
func Observe(obs prometheus.Observer, d time.Duration) {
	if obs != nil {
		obs.Observe(d.Seconds())
	}
}

// SetQueueDepth records the current number of queued blocking events.
func SetQueueDepth(n int) {
	if LaneQueueDepth != nil {
		LaneQueueDepth.Set(float64(n))
	}
}

// SetOverlayClients records the number of connected overlay browsers.
func SetOverlayClients(n int) {
	if OverlayClients != nil {
		OverlayClients.Set(float64(n))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	Observe(obs, d)
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
