// Package checkpoint implements the bootstrap procedure that loads an
// initial config snapshot before streaming/polling can start.
package checkpoint

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/reforgehq/reforge-go/internal/diskcache"
	"github.com/reforgehq/reforge-go/internal/httpclient"
	"github.com/reforgehq/reforge-go/internal/obsmetrics"
	"github.com/reforgehq/reforge-go/internal/sharedcache"
	"github.com/reforgehq/reforge-go/internal/store"
	"github.com/reforgehq/reforge-go/internal/wire"
)

// cdnAttempts bounds checkpoint bootstrap HTTP attempts to a small,
// fixed cap rather than retrying indefinitely.
const cdnAttempts = 3

// Loader implements the CDN -> shared cache -> disk cache fallback
// chain.
type Loader struct {
	http      *httpclient.Client
	store     *store.Store
	codec     wire.Codec
	cachePath string
	cacheOK   bool
	shared    *sharedcache.Cache
	sharedKey string
	metrics   *obsmetrics.Metrics
	logger    *slog.Logger
}

// Config wires a Loader to its dependencies.
type Config struct {
	HTTP      *httpclient.Client
	Store     *store.Store
	Codec     wire.Codec
	SDKKey    string
	APIKeyID  string
	LocalOnly bool // LOCAL_ONLY datasource mode: forces the fixed cache filename
	// CacheDisabled corresponds to Options.UseLocalCache == false
	// (x_use_local_cache): disk cache reads/writes are skipped entirely.
	CacheDisabled bool
	Shared        *sharedcache.Cache // optional
	SharedKey     string             // required if Shared is set
	Metrics       *obsmetrics.Metrics // optional
}

// New constructs a Loader.
func New(cfg Config, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	path, ok := diskcache.CachePath(cfg.SDKKey, cfg.APIKeyID, cfg.LocalOnly)
	return &Loader{
		http:      cfg.HTTP,
		store:     cfg.Store,
		codec:     cfg.Codec,
		cachePath: path,
		cacheOK:   ok && !cfg.CacheDisabled,
		shared:    cfg.Shared,
		sharedKey: cfg.SharedKey,
		metrics:   cfg.Metrics,
		logger:    logger.With("component", "checkpoint"),
	}
}

// LoadFromCDN attempts the CDN checkpoint endpoint. It returns
// (true, nil) on a successful merge, (false, nil) on any recoverable
// failure (including a zero-byte body, which is logged and treated as
// a connection error rather than success), and (false, err) only when
// the server reports Unauthorized, which must abort the whole bootstrap.
func (l *Loader) LoadFromCDN(ctx context.Context) (bool, error) {
	start := time.Now()
	outcome := "error"
	defer func() {
		if l.metrics != nil {
			l.metrics.CheckpointFetchesTotal.WithLabelValues("remote_cdn_api", outcome).Inc()
			l.metrics.CheckpointDuration.Observe(time.Since(start).Seconds())
		}
	}()

	resp, err := l.http.Get(ctx, "/api/v1/configs/0", map[string]string{
		"x-prefab-start-at-id": strconv.FormatUint(l.store.Highwater(), 10),
	}, cdnAttempts)
	if err != nil {
		if errors.Is(err, httpclient.ErrUnauthorized) {
			outcome = "unauthorized"
			return false, err
		}
		l.logger.Debug("checkpoint load from remote_cdn_api failed", "error", err)
		return false, nil
	}

	if len(resp.Body) == 0 {
		l.logger.Warn("Received zero-byte config payload from remote_cdn_api, treating as connection error")
		outcome = "zero_byte"
		return false, nil
	}

	cfgs, err := l.codec.Decode(resp.Body)
	if err != nil {
		l.logger.Warn("checkpoint payload from remote_cdn_api failed to decode", "error", err)
		outcome = "decode_error"
		return false, nil
	}

	l.store.SetAll(cfgs, "remote_cdn_api")
	outcome = "success"
	l.persistToShared(ctx)
	return true, nil
}

// persistToShared writes the current envelope to the shared cache tier
// so the next process in the fleet can load from Redis instead of the
// CDN. Best-effort: a write failure is logged and never propagated.
func (l *Loader) persistToShared(ctx context.Context) {
	if l.shared == nil {
		return
	}
	if err := l.shared.Set(ctx, l.sharedKey, l.store.Envelope(), l.codec); err != nil {
		l.logger.Warn("shared cache persist failed", "key", l.sharedKey, "error", err)
	}
}

// LoadFromSharedCache attempts the optional Redis tier, if configured.
func (l *Loader) LoadFromSharedCache(ctx context.Context) bool {
	if l.shared == nil {
		return false
	}
	cfgs, err := l.shared.Get(ctx, l.sharedKey, l.codec)
	if err != nil {
		if l.metrics != nil {
			l.metrics.CacheMissesTotal.WithLabelValues("shared").Inc()
		}
		return false
	}
	if l.metrics != nil {
		l.metrics.CacheHitsTotal.WithLabelValues("shared").Inc()
	}
	l.store.SetAll(cfgs, "shared_cache")
	return true
}

// LoadFromCache attempts the on-disk cache.
func (l *Loader) LoadFromCache() bool {
	if !l.cacheOK {
		return false
	}
	cfgs, ok := diskcache.Read(l.cachePath, l.codec, l.logger)
	if !ok {
		if l.metrics != nil {
			l.metrics.CacheMissesTotal.WithLabelValues("disk").Inc()
		}
		return false
	}
	if l.metrics != nil {
		l.metrics.CacheHitsTotal.WithLabelValues("disk").Inc()
	}
	l.store.SetAll(cfgs, "disk_cache")
	return true
}

// PersistToCache writes the store's current envelope to disk, for use
// after any successful load or merge. Best-effort; see diskcache.Write.
func (l *Loader) PersistToCache() {
	if !l.cacheOK {
		return
	}
	diskcache.Write(l.cachePath, l.codec, l.store.Envelope(), l.logger)
}

// Load runs the full bootstrap chain: CDN, then shared cache, then
// disk cache. startStreamingAndPoll is false only when Unauthorized
// was returned by the CDN, in which case the caller must not start any
// background sync loop. cdnFailed reports whether the CDN attempt
// itself failed to connect (as opposed to Unauthorized), regardless of
// whether a cache fallback subsequently covered for it; the caller
// uses this to honor on_connection_failure.
func (l *Loader) Load(ctx context.Context) (startStreamingAndPoll bool, cdnFailed bool, err error) {
	ok, err := l.LoadFromCDN(ctx)
	if err != nil {
		return false, false, err
	}
	if ok {
		l.PersistToCache()
		return true, false, nil
	}

	if l.LoadFromSharedCache(ctx) {
		return true, true, nil
	}

	if l.LoadFromCache() {
		return true, true, nil
	}

	return true, true, nil
}
