// Package sse implements the SSE connection manager: a reconnecting
// consumer of the control plane's event stream that merges each
// decoded payload into the config store.
package sse

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/reforgehq/reforge-go/internal/httpclient"
	"github.com/reforgehq/reforge-go/internal/obsmetrics"
	"github.com/reforgehq/reforge-go/internal/store"
	"github.com/reforgehq/reforge-go/internal/wire"
)

// Config wires a Manager to its dependencies.
type Config struct {
	HTTP    *httpclient.Client
	Store   *store.Store
	Codec   wire.Codec
	Path    string // e.g. "/api/v1/sse/config"
	OnByte  func()  // watchdog touch hook; may be nil
	Metrics *obsmetrics.Metrics // optional
}

// Manager runs the CONNECT -> READING -> MERGING state machine. A
// successful merge closes the current response and reconnects rather
// than continuing to read it.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	stream io.Closer // current response body, for the watchdog to close
}

// New constructs a Manager. logger may be nil.
func New(cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{cfg: cfg, logger: logger.With("component", "sse")}
}

// CurrentStream returns the in-flight response body, or nil if not
// connected. Used by the watchdog to force a reconnect.
func (m *Manager) CurrentStream() io.Closer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stream
}

func (m *Manager) setStream(s io.Closer) {
	m.mu.Lock()
	m.stream = s
	m.mu.Unlock()
}

// Run blocks until ctx is cancelled or the stream reports Unauthorized,
// reconnecting as needed.
func (m *Manager) Run(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.2
	bo.MaxElapsedTime = 0

	first := true
	for {
		if ctx.Err() != nil {
			return
		}
		if !first && m.cfg.Metrics != nil {
			m.cfg.Metrics.SSEReconnectsTotal.Inc()
		}
		first = false

		merged, err := m.connectAndReadOne(ctx)
		if err != nil {
			if errors.Is(err, httpclient.ErrUnauthorized) {
				m.logger.Error("SSE stream unauthorized, giving up")
				return
			}
			if ctx.Err() != nil {
				return
			}
			wait := bo.NextBackOff()
			m.logger.Warn("SSE connection failed, backing off", "error", err, "wait", wait)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return
			}
			continue
		}

		if merged {
			bo.Reset()
		}
	}
}

// connectAndReadOne opens the stream with the store's current
// highwater mark and processes events until the stream closes (either
// by the server, by a successful merge closing it for reconnect, or by
// the watchdog forcing it shut).
func (m *Manager) connectAndReadOne(ctx context.Context) (merged bool, err error) {
	connID := uuid.NewString()
	headers := map[string]string{
		"x-prefab-start-at-id": strconv.FormatUint(m.cfg.Store.Highwater(), 10),
	}

	body, _, err := m.cfg.HTTP.Stream(ctx, m.cfg.Path, headers)
	if err != nil {
		return false, err
	}
	m.logger.Debug("SSE stream connected", "connection_id", connID)

	tee := newTeeReader(body, m.cfg.OnByte)
	m.setStream(tee)
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.SSEConnected.Set(1)
	}
	defer func() {
		m.setStream(nil)
		tee.Close()
		if m.cfg.Metrics != nil {
			m.cfg.Metrics.SSEConnected.Set(0)
		}
		m.logger.Debug("SSE stream closed", "connection_id", connID)
	}()

	scanner := bufio.NewScanner(tee)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var dataLines []string
	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			// blank line terminates an event.
			if len(dataLines) == 0 {
				continue
			}
			data := strings.Join(dataLines, "\n")
			dataLines = dataLines[:0]

			didMerge, handleErr := m.handleEvent(data)
			if handleErr != nil {
				return merged, handleErr
			}
			if didMerge {
				// reconnect rather than continue reading this response.
				return true, nil
			}
			continue
		}

		if strings.HasPrefix(line, ":") {
			continue // keepalive comment; tee already touched the watchdog
		}
		if strings.HasPrefix(line, "data:") {
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
		// other SSE fields (event:, id:, retry:) aren't used by this protocol.
	}

	if err := scanner.Err(); err != nil {
		return merged, err
	}
	return merged, nil
}

// handleEvent decodes one SSE data payload and merges it into the
// store. A zero-byte payload after base64 decode is logged and treated
// as a connection error without advancing highwater and without
// closing the stream itself — the caller's read loop decides whether
// to continue or reconnect.
func (m *Manager) handleEvent(data string) (merged bool, err error) {
	raw, decErr := base64.StdEncoding.DecodeString(data)
	if decErr != nil {
		m.logger.Warn("SSE event payload is not valid base64", "error", decErr)
		m.recordEventOutcome("bad_base64")
		return false, nil
	}

	if len(raw) == 0 {
		m.logger.Warn("Received zero-byte config payload from SSE stream, treating as connection error")
		m.recordEventOutcome("zero_byte")
		return false, nil
	}

	cfgs, decodeErr := m.cfg.Codec.Decode(raw)
	if decodeErr != nil {
		m.logger.Warn("SSE event payload failed to decode", "error", decodeErr)
		m.recordEventOutcome("decode_error")
		return false, nil
	}

	m.cfg.Store.SetAll(cfgs, "sse_streaming")
	m.recordEventOutcome("merged")
	return true, nil
}

func (m *Manager) recordEventOutcome(outcome string) {
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.SSEEventsTotal.WithLabelValues(outcome).Inc()
	}
}
