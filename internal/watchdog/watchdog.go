// Package watchdog detects a stuck SSE connection (no bytes, including
// keepalives, for max_silence) and forces recovery by polling once and
// closing the current stream so the SSE manager reconnects.
//
// The watchdog holds no reference to the SSE manager itself, only a
// getStream supplier and a pollFallback function, so the two packages
// never share mutable state.
package watchdog

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/reforgehq/reforge-go/internal/obsmetrics"
)

const (
	// DefaultCheckInterval is how often the watchdog checks for silence.
	DefaultCheckInterval = 60 * time.Second
	// DefaultMaxSilence triggers recovery after this much silence.
	DefaultMaxSilence = 120 * time.Second
)

// Watchdog monitors SSE stream liveness from a background goroutine.
type Watchdog struct {
	checkInterval  time.Duration
	maxSilence     time.Duration
	getStream      func() io.Closer
	pollFallback   func(context.Context) error
	isShuttingDown func() bool
	logger         *slog.Logger
	nowFn          func() time.Time
	metrics        *obsmetrics.Metrics

	mu           sync.Mutex
	lastActivity time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Watchdog. logger may be nil; the clock is time.Now.
func New(
	checkInterval, maxSilence time.Duration,
	getStream func() io.Closer,
	pollFallback func(context.Context) error,
	isShuttingDown func() bool,
	logger *slog.Logger,
) *Watchdog {
	if logger == nil {
		logger = slog.Default()
	}
	if checkInterval <= 0 {
		checkInterval = DefaultCheckInterval
	}
	if maxSilence <= 0 {
		maxSilence = DefaultMaxSilence
	}
	if isShuttingDown == nil {
		isShuttingDown = func() bool { return false }
	}
	return &Watchdog{
		checkInterval:  checkInterval,
		maxSilence:     maxSilence,
		getStream:      getStream,
		pollFallback:   pollFallback,
		isShuttingDown: isShuttingDown,
		logger:         logger.With("component", "watchdog"),
		nowFn:          time.Now,
		lastActivity:   time.Now(),
	}
}

// SetMetrics attaches optional Prometheus instrumentation. Safe to call
// once before Start; nil disables instrumentation (the default).
func (w *Watchdog) SetMetrics(m *obsmetrics.Metrics) {
	w.metrics = m
}

// Touch records that data (possibly a keepalive) was just received.
func (w *Watchdog) Touch() {
	w.mu.Lock()
	w.lastActivity = w.now()
	w.mu.Unlock()
}

func (w *Watchdog) now() time.Time {
	if w.nowFn != nil {
		return w.nowFn()
	}
	return time.Now()
}

func (w *Watchdog) silence() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.now().Sub(w.lastActivity)
}

func (w *Watchdog) resetActivity() {
	w.mu.Lock()
	w.lastActivity = w.now()
	w.mu.Unlock()
}

// Start launches the background check loop. It returns immediately.
func (w *Watchdog) Start(ctx context.Context) {
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})

	go func() {
		defer close(w.doneCh)
		ticker := time.NewTicker(w.checkInterval)
		defer ticker.Stop()

		for {
			select {
			case <-w.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if w.isShuttingDown() {
					return
				}
				if s := w.silence(); s > w.maxSilence {
					w.triggerRecovery(ctx, s)
				}
			}
		}
	}()
}

// Stop signals the background loop to exit and waits up to 5s for it
// to finish (mirroring the Python implementation's thread.join(timeout=5)).
func (w *Watchdog) Stop() {
	if w.stopCh == nil {
		return
	}
	close(w.stopCh)
	select {
	case <-w.doneCh:
	case <-time.After(5 * time.Second):
	}
}

func (w *Watchdog) triggerRecovery(ctx context.Context, silence time.Duration) {
	w.logger.Warn("SSE connection appears stuck, triggering recovery", "silence", silence)
	if w.metrics != nil {
		w.metrics.WatchdogTriggersTotal.Inc()
	}

	if w.pollFallback != nil {
		if err := w.pollFallback(ctx); err != nil {
			w.logger.Warn("fallback poll failed", "error", err)
		} else {
			w.logger.Info("fallback poll completed successfully")
		}
	}

	if w.getStream != nil {
		if s := w.getStream(); s != nil {
			if err := s.Close(); err != nil {
				w.logger.Debug("closing SSE stream during recovery returned an error, ignoring", "error", err)
			} else {
				w.logger.Debug("closed SSE stream to force reconnection")
			}
		}
	}

	w.resetActivity()
}
