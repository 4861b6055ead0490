// Package obsmetrics exposes Prometheus instrumentation for the sync
// components (checkpoint, SSE, watchdog, poll, caches). A client takes
// its own *prometheus.Registry so multiple client instances in the
// same process, or in tests, never collide on global registration.
package obsmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every counter/gauge/histogram the sync components emit.
type Metrics struct {
	CheckpointFetchesTotal *prometheus.CounterVec
	CheckpointDuration     prometheus.Histogram

	SSEReconnectsTotal prometheus.Counter
	SSEEventsTotal     *prometheus.CounterVec
	SSEConnected       prometheus.Gauge

	WatchdogTriggersTotal prometheus.Counter

	PollTicksTotal *prometheus.CounterVec

	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	StoreKeys     prometheus.Gauge
	StoreHighwater prometheus.Gauge
}

// New creates and registers every metric against reg. Pass a fresh
// *prometheus.Registry per Client; pass nil to get an unregistered,
// freestanding registry useful for tests and for embedders that don't
// expose /metrics.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		CheckpointFetchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reforge",
			Subsystem: "checkpoint",
			Name:      "fetches_total",
			Help:      "Checkpoint load attempts by source and outcome.",
		}, []string{"source", "outcome"}),

		CheckpointDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "reforge",
			Subsystem: "checkpoint",
			Name:      "duration_seconds",
			Help:      "Time spent performing a checkpoint load.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		}),

		SSEReconnectsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "reforge",
			Subsystem: "sse",
			Name:      "reconnects_total",
			Help:      "Total number of SSE stream reconnects.",
		}),

		SSEEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reforge",
			Subsystem: "sse",
			Name:      "events_total",
			Help:      "SSE events processed by outcome.",
		}, []string{"outcome"}),

		SSEConnected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "reforge",
			Subsystem: "sse",
			Name:      "connected",
			Help:      "1 if the SSE stream is currently connected, else 0.",
		}),

		WatchdogTriggersTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "reforge",
			Subsystem: "watchdog",
			Name:      "triggers_total",
			Help:      "Total number of times the watchdog detected stream silence and recovered.",
		}),

		PollTicksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reforge",
			Subsystem: "poll",
			Name:      "ticks_total",
			Help:      "Poll loop ticks by outcome.",
		}, []string{"outcome"}),

		CacheHitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reforge",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Cache hits by tier (disk, shared, memo, redis).",
		}, []string{"tier"}),

		CacheMissesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reforge",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Cache misses by tier (disk, shared, memo, redis).",
		}, []string{"tier"}),

		StoreKeys: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "reforge",
			Subsystem: "store",
			Name:      "keys",
			Help:      "Number of keys currently held in the config store.",
		}),

		StoreHighwater: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "reforge",
			Subsystem: "store",
			Name:      "highwater",
			Help:      "Highest config entry id observed by the store.",
		}),
	}
}
