package reforge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/reforgehq/reforge-go/internal/checkpoint"
	"github.com/reforgehq/reforge-go/internal/diskcache"
	"github.com/reforgehq/reforge-go/internal/httpclient"
	"github.com/reforgehq/reforge-go/internal/obslog"
	"github.com/reforgehq/reforge-go/internal/obsmetrics"
	"github.com/reforgehq/reforge-go/internal/poll"
	"github.com/reforgehq/reforge-go/internal/sharedcache"
	"github.com/reforgehq/reforge-go/internal/sse"
	"github.com/reforgehq/reforge-go/internal/store"
	"github.com/reforgehq/reforge-go/internal/watchdog"
	"github.com/reforgehq/reforge-go/internal/wire"
)

// GetStatus reports the outcome of Client.Get without raising: the
// translation to an error (for OnNoDefaultRaise) happens only in
// MustGet, at the facade boundary.
type GetStatus int

const (
	GetStatusFound GetStatus = iota
	GetStatusNotFound
	GetStatusNotReady
)

// Client is the sync coordinator: it owns the store and the
// checkpoint/SSE/watchdog/poll components and exposes a minimal,
// read-only facade.
type Client struct {
	options  *Options
	store    *store.Store
	logger   *slog.Logger
	metrics  *obsmetrics.Metrics
	registry *prometheus.Registry

	loader   *checkpoint.Loader
	sseMgr   *sse.Manager
	watchdog *watchdog.Watchdog
	pollLoop *poll.Loop
	shared   *sharedcache.Cache

	ctx    context.Context
	cancel context.CancelFunc

	readyOnce sync.Once
	readyCh   chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// New constructs and starts a Client. It blocks only long enough to
// perform the checkpoint bootstrap; streaming/polling then run in
// the background and readiness is observed via WaitForReady/IsReady.
func New(options *Options) (*Client, error) {
	if options == nil {
		var err error
		options, err = NewOptions()
		if err != nil {
			return nil, err
		}
	}

	logger := obslog.New(obslog.Config{Level: options.LogLevel, Format: options.LogFormat}).With("component", "reforge")
	registry := prometheus.NewRegistry()
	metrics := obsmetrics.New(registry)
	st := store.New(logger)
	st.SetMetrics(metrics)
	codec := wire.DefaultCodec()

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		options:  options,
		store:    st,
		logger:   logger,
		metrics:  metrics,
		registry: registry,
		ctx:      ctx,
		cancel:   cancel,
		readyCh:  make(chan struct{}),
	}
	st.SetReadyHook(c.markReady)

	if options.Datasources == DatasourcesLocalOnly {
		c.bootstrapLocalOnly()
		c.markReady()
		if options.OnReadyCallback != nil {
			go c.runReadyCallback()
		}
		return c, nil
	}

	hc := httpclient.New(httpclient.Config{
		BaseURLs:      options.APIURLs,
		SDKKey:        options.SDKKey,
		ClientVersion: "0.1.0",
		Timeout:       options.ConnectionTimeout,
	}, logger)

	var shared *sharedcache.Cache
	if options.SharedCacheRedisAddr != "" {
		var err error
		shared, err = sharedcache.New(sharedcache.Config{
			Addr:        options.SharedCacheRedisAddr,
			DB:          options.SharedCacheRedisDB,
			TTL:         options.SharedCacheTTL,
			Compression: true,
		}, logger)
		if err != nil {
			logger.Warn("shared cache unavailable, continuing without it", "error", err)
			shared = nil
		} else {
			shared.SetMetrics(metrics)
		}
	}
	c.shared = shared

	c.loader = checkpoint.New(checkpoint.Config{
		HTTP:          hc,
		Store:         st,
		Codec:         codec,
		SDKKey:        options.SDKKey,
		APIKeyID:      options.APIKeyID,
		LocalOnly:     false,
		CacheDisabled: !options.UseLocalCache,
		Shared:        shared,
		SharedKey:     "reforge:" + options.APIKeyID,
		Metrics:       metrics,
	}, logger)

	streamURLs := options.StreamURLs
	streamClient := httpclient.New(httpclient.Config{
		BaseURLs:      streamURLs,
		SDKKey:        options.SDKKey,
		ClientVersion: "0.1.0",
		Timeout:       options.ConnectionTimeout,
	}, logger)

	c.sseMgr = sse.New(sse.Config{
		HTTP:  streamClient,
		Store: st,
		Codec: codec,
		Path:  "/api/v1/sse/config",
		OnByte: func() {
			if c.watchdog != nil {
				c.watchdog.Touch()
			}
		},
		Metrics: metrics,
	}, logger)

	c.watchdog = watchdog.New(
		watchdog.DefaultCheckInterval,
		watchdog.DefaultMaxSilence,
		c.sseMgr.CurrentStream,
		func(fallbackCtx context.Context) error {
			_, err := c.loader.LoadFromCDN(fallbackCtx)
			return err
		},
		func() bool { return c.ctx.Err() != nil },
		logger,
	)
	c.watchdog.SetMetrics(metrics)

	if options.CollectSyncInterval > 0 {
		c.pollLoop = poll.New(options.CollectSyncInterval, func(pollCtx context.Context) error {
			_, err := c.loader.LoadFromCDN(pollCtx)
			return err
		}, logger)
		c.pollLoop.SetMetrics(metrics)
	}

	startStreaming, cdnFailed, err := c.loader.Load(ctx)
	if err != nil {
		// Unauthorized: release the ready latch so blocked readers fail
		// fast (even with an empty store), and never start streaming/poll.
		c.markReady()
		return c, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	if cdnFailed && options.OnConnectionFailure == OnConnectionFailureRaise {
		err = fmt.Errorf("%w", ErrConnectionFailure)
	}

	if startStreaming {
		c.watchdog.Start(ctx)
		go c.sseMgr.Run(ctx)
		if c.pollLoop != nil {
			c.pollLoop.Start(ctx)
		}
	}

	if options.OnReadyCallback != nil {
		go c.runReadyCallback()
	}

	return c, err
}

func (c *Client) bootstrapLocalOnly() {
	if c.options.XDatafile == "" {
		return
	}
	// LOCAL_ONLY with no datafile simply stays empty; a datafile, when
	// present, uses the same on-disk envelope format as the disk cache
	// and is decoded and merged once at startup.
	cfgs, ok := diskcache.Read(c.options.XDatafile, wire.DefaultCodec(), c.logger)
	if !ok {
		c.logger.Warn("x_datafile could not be loaded", "path", c.options.XDatafile)
		return
	}
	c.store.SetAll(cfgs, "x_datafile")
}

func (c *Client) markReady() {
	c.readyOnce.Do(func() { close(c.readyCh) })
}

func (c *Client) isReadyClosed() bool {
	select {
	case <-c.readyCh:
		return true
	default:
		return false
	}
}

func (c *Client) runReadyCallback() {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("on_ready_callback panicked", "panic", r)
		}
	}()
	<-c.readyCh
	c.options.OnReadyCallback()
}

// WaitForReady blocks until the client completes its initial load or
// ctx is cancelled, whichever comes first. Returns true if ready.
func (c *Client) WaitForReady(ctx context.Context) bool {
	select {
	case <-c.readyCh:
		return true
	case <-ctx.Done():
		return false
	}
}

// IsReady reports readiness without blocking.
func (c *Client) IsReady() bool {
	return c.isReadyClosed()
}

// MetricsRegistry returns the Prometheus registry backing this client's
// instrumentation, for embedders that want to serve it on their own
// /metrics endpoint.
func (c *Client) MetricsRegistry() *prometheus.Registry {
	return c.registry
}

// Get looks up key without raising; translate the NotFound case to an
// error with MustGet if that's the ergonomics you want.
func (c *Client) Get(key string) (wire.ConfigEntry, GetStatus) {
	if !c.isReadyClosed() {
		return wire.ConfigEntry{}, GetStatusNotReady
	}
	entry, ok := c.store.Get(key)
	if !ok {
		return wire.ConfigEntry{}, GetStatusNotFound
	}
	return entry, GetStatusFound
}

// MustGet applies the OnNoDefault policy at the boundary: NotReady
// always errors; NotFound errors only when OnNoDefault is
// OnNoDefaultRaise.
func (c *Client) MustGet(key string) (wire.ConfigEntry, error) {
	entry, status := c.Get(key)
	switch status {
	case GetStatusFound:
		return entry, nil
	case GetStatusNotReady:
		return wire.ConfigEntry{}, ErrNotReady
	default:
		if c.options.OnNoDefault == OnNoDefaultRaise {
			return wire.ConfigEntry{}, ErrMissingDefault
		}
		return wire.ConfigEntry{}, nil
	}
}

// Close stops all background components and is safe to call more than
// once. It first cancels the client's context, which every background
// component observes, then waits for the watchdog and then the poll
// loop to exit (each bounded to 5s). The SSE manager's goroutine exits
// on that cancellation but is not waited for. The ready latch is
// released unconditionally so any blocked WaitForReady caller returns.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		if c.watchdog != nil {
			c.watchdog.Stop()
		}
		if c.pollLoop != nil {
			c.pollLoop.Stop()
		}
		if c.shared != nil {
			c.closeErr = c.shared.Close()
		}
		c.markReady()
	})
	return c.closeErr
}
