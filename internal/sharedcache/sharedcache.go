// Package sharedcache provides an optional Redis-backed second tier for
// the config envelope, sitting between the CDN checkpoint and the disk
// cache. It exists for multi-process deployments that want to share
// one checkpoint fetch across many SDK instances; a client with no
// shared cache configured simply never constructs one.
package sharedcache

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/reforgehq/reforge-go/internal/obsmetrics"
	"github.com/reforgehq/reforge-go/internal/wire"
)

// ErrNotFound is returned by Get when the key isn't present in either
// cache tier.
var ErrNotFound = errors.New("sharedcache: key not found")

// defaultMemoTTL bounds how long a Get can be served from the
// in-process tier without re-checking Redis — short enough that a
// fleet member picks up a fresher shared value within one or two poll
// ticks, long enough to absorb a checkpoint/poll burst in one process.
const defaultMemoTTL = 5 * time.Second

const defaultMemoMaxEntries = 8

// Config controls the Redis connection and cache behavior.
type Config struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	TTL          time.Duration
	Compression  bool

	// MemoTTL bounds the in-process L1 tier ahead of Redis; zero uses
	// defaultMemoTTL. Set MemoTTL to a negative value to disable the L1
	// tier entirely.
	MemoTTL time.Duration
}

// Cache is a two-tier store for the config envelope: an in-process
// memo tier (L1) in front of Redis (L2), keyed by a caller-supplied
// string (the client uses one key per api_key_id), so processes sharing
// that key can share one fetch.
type Cache struct {
	client      *redis.Client
	ttl         time.Duration
	compression bool
	memo        *memoCache // nil disables the L1 tier
	metrics     *obsmetrics.Metrics
	logger      *slog.Logger
}

// SetMetrics attaches optional Prometheus instrumentation. Safe to call
// once right after New; nil disables instrumentation (the default).
func (c *Cache) SetMetrics(m *obsmetrics.Metrics) {
	c.metrics = m
}

// New connects to Redis and verifies reachability with a bounded ping.
func New(cfg Config, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "sharedcache")

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		MaxRetries:   3,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	logger.Info("shared cache connected", "addr", cfg.Addr, "db", cfg.DB, "ttl", cfg.TTL, "compression", cfg.Compression)

	cache := &Cache{client: client, ttl: cfg.TTL, compression: cfg.Compression, logger: logger}
	if cfg.MemoTTL >= 0 {
		memoTTL := cfg.MemoTTL
		if memoTTL == 0 {
			memoTTL = defaultMemoTTL
		}
		cache.memo = newMemoCache(defaultMemoMaxEntries, memoTTL)
	}
	return cache, nil
}

// Get fetches and decodes the envelope stored under key, checking the
// in-process L1 tier before round-tripping to Redis and backfilling L1
// on an L2 hit.
func (c *Cache) Get(ctx context.Context, key string, codec wire.Codec) (wire.Configs, error) {
	if c.memo != nil {
		if cfgs, ok := c.memo.Get(key); ok {
			c.recordCacheOutcome("memo", true)
			return cfgs, nil
		}
		c.recordCacheOutcome("memo", false)
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		c.recordCacheOutcome("redis", false)
		return wire.Configs{}, ErrNotFound
	}
	if err != nil {
		c.logger.Warn("shared cache get failed", "key", key, "error", err)
		return wire.Configs{}, err
	}

	if c.compression {
		data, err = decompress(data)
		if err != nil {
			c.logger.Warn("shared cache payload failed to decompress", "key", key, "error", err)
			return wire.Configs{}, err
		}
	}

	cfgs, err := codec.Decode(data)
	if err != nil {
		c.logger.Warn("shared cache payload failed to decode", "key", key, "error", err)
		return wire.Configs{}, err
	}

	c.recordCacheOutcome("redis", true)
	if c.memo != nil {
		c.memo.Set(key, cfgs)
	}
	return cfgs, nil
}

// Set encodes and stores cfgs under key with the configured TTL, and
// populates the L1 tier so the writer's own next Get is a memo hit.
func (c *Cache) Set(ctx context.Context, key string, cfgs wire.Configs, codec wire.Codec) error {
	data, err := codec.Encode(cfgs)
	if err != nil {
		return err
	}

	if c.compression {
		data, err = compress(data)
		if err != nil {
			return err
		}
	}

	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("shared cache set failed", "key", key, "error", err)
		return err
	}

	if c.memo != nil {
		c.memo.Set(key, cfgs)
	}
	return nil
}

func (c *Cache) recordCacheOutcome(tier string, hit bool) {
	if c.metrics == nil {
		return
	}
	if hit {
		c.metrics.CacheHitsTotal.WithLabelValues(tier).Inc()
	} else {
		c.metrics.CacheMissesTotal.WithLabelValues(tier).Inc()
	}
}

// Close releases the underlying Redis connection pool.
func (c *Cache) Close() error {
	return c.client.Close()
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
