// Package poll implements the interval-gated background poll loop: a
// fallback and supplement to SSE streaming that performs one
// checkpoint fetch per tick.
package poll

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/reforgehq/reforge-go/internal/obsmetrics"
)

// Loop runs fetch on a fixed interval until Stop is called. It is only
// constructed/started when the embedder configures a positive
// collect_sync_interval.
type Loop struct {
	interval time.Duration
	fetch    func(context.Context) error
	logger   *slog.Logger
	limiter  *rate.Limiter
	metrics  *obsmetrics.Metrics

	stopCh chan struct{}
	doneCh chan struct{}
}

// SetMetrics attaches optional Prometheus instrumentation. Safe to call
// once before Start; nil disables instrumentation (the default).
func (l *Loop) SetMetrics(m *obsmetrics.Metrics) {
	l.metrics = m
}

// New constructs a Loop. fetch should perform a single checkpoint GET
// and merge (CDN-only, no disk cache fallback). A golang.org/x/time/rate
// limiter (burst 1, matching interval) acts as a floor guard so a
// delayed tick catching up can never issue requests faster than the
// configured cadence.
func New(interval time.Duration, fetch func(context.Context) error, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		interval: interval,
		fetch:    fetch,
		logger:   logger.With("component", "poll"),
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
	}
}

// Start launches the background loop. It returns immediately.
func (l *Loop) Start(ctx context.Context) {
	l.stopCh = make(chan struct{})
	l.doneCh = make(chan struct{})

	go func() {
		defer close(l.doneCh)
		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()

		for {
			select {
			case <-l.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := l.limiter.Wait(ctx); err != nil {
					return
				}
				if err := l.fetch(ctx); err != nil {
					l.logger.Warn("poll tick failed", "error", err)
					if l.metrics != nil {
						l.metrics.PollTicksTotal.WithLabelValues("error").Inc()
					}
				} else if l.metrics != nil {
					l.metrics.PollTicksTotal.WithLabelValues("success").Inc()
				}
			}
		}
	}()
}

// Stop signals the loop to exit and waits up to 5s for it to finish.
func (l *Loop) Stop() {
	if l.stopCh == nil {
		return
	}
	close(l.stopCh)
	select {
	case <-l.doneCh:
	case <-time.After(5 * time.Second):
	}
}
