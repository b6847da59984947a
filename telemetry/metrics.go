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

	// Counters
	RemoteCalls     *prometheus.CounterVec // labels: operation, outcome
	RemoteRetries   prometheus.Counter
	SyncsEnqueued   prometheus.Counter
	SyncsDropped    prometheus.Counter
	SyncsCompleted  prometheus.Counter
	MembersMoved    prometheus.Counter
	ChannelsCreated prometheus.Counter
	ChannelsDeleted prometheus.Counter

	// Histograms (seconds)
	RemoteCallDuration prometheus.Observer
	SyncDuration       prometheus.Observer

	// Gauges
	SyncQueueDepth   prometheus.Gauge
	GatewayConnected prometheus.Gauge // 1=connected,0=down
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		RemoteCalls = promauto.NewCounterVec(prometheus.CounterOpts{Name: "voicebridge_remote_calls_total", Help: "Remote platform calls by operation and outcome"}, []string{"operation", "outcome"})
		RemoteRetries = promauto.NewCounter(prometheus.CounterOpts{Name: "voicebridge_remote_retries_total", Help: "Number of remote call retry attempts"})
		SyncsEnqueued = promauto.NewCounter(prometheus.CounterOpts{Name: "voicebridge_syncs_enqueued_total", Help: "Reconciliation jobs accepted onto the queue"})
		SyncsDropped = promauto.NewCounter(prometheus.CounterOpts{Name: "voicebridge_syncs_dropped_total", Help: "Reconciliation jobs dropped because the queue was full"})
		SyncsCompleted = promauto.NewCounter(prometheus.CounterOpts{Name: "voicebridge_syncs_completed_total", Help: "Reconciliation jobs that ran to completion"})
		MembersMoved = promauto.NewCounter(prometheus.CounterOpts{Name: "voicebridge_members_moved_total", Help: "Voice members moved between channels"})
		ChannelsCreated = promauto.NewCounter(prometheus.CounterOpts{Name: "voicebridge_channels_created_total", Help: "Voice channels created"})
		ChannelsDeleted = promauto.NewCounter(prometheus.CounterOpts{Name: "voicebridge_channels_deleted_total", Help: "Voice channels deleted"})
		RemoteCallDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "voicebridge_remote_call_duration_seconds", Help: "Remote call duration seconds (per attempt)", Buckets: prometheus.DefBuckets})
		SyncDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "voicebridge_sync_duration_seconds", Help: "Full reconciliation job duration seconds", Buckets: prometheus.DefBuckets})
		SyncQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{Name: "voicebridge_sync_queue_depth", Help: "Reconciliation jobs currently queued"})
		GatewayConnected = promauto.NewGauge(prometheus.GaugeOpts{Name: "voicebridge_gateway_connected", Help: "Gateway socket connected=1 down=0"})
	})
}

// ObserveRemoteCall records one remote call attempt outcome.
func ObserveRemoteCall(operation, outcome string, d time.Duration) {
	if RemoteCalls != nil {
		RemoteCalls.WithLabelValues(operation, outcome).Inc()
	}
	if RemoteCallDuration != nil {
		RemoteCallDuration.Observe(d.Seconds())
	}
}

// SetGatewayConnected sets the gateway gauge to 1 if up else 0.
func SetGatewayConnected(up bool) {
	if GatewayConnected != nil {
		if up {
			GatewayConnected.Set(1)
		} else {
			GatewayConnected.Set(0)
		}
	}
}

// SetSyncQueueDepth records the current queue depth.
func SetSyncQueueDepth(n int) {
	if SyncQueueDepth != nil {
		SyncQueueDepth.Set(float64(n))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
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
	if s, ok := ctx.Value(corrKey).(string); ok {
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
