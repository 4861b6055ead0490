// Package reforge is a config-sync client SDK: it maintains a local,
// continuously-updated snapshot of remote configuration, backed by
// server-sent-event streaming with polling and disk-cache fallback.
package reforge

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"
)

// Datasources selects where config is loaded from.
type Datasources string

const (
	DatasourcesAll       Datasources = "ALL"
	DatasourcesLocalOnly Datasources = "LOCAL_ONLY"
)

// OnNoDefault controls MustGet's behavior when a key is absent.
type OnNoDefault string

const (
	OnNoDefaultRaise      OnNoDefault = "RAISE"
	OnNoDefaultReturnNone OnNoDefault = "RETURN_NONE"
)

// OnConnectionFailure controls whether construction-time network
// failures are swallowed or raised.
type OnConnectionFailure string

const (
	OnConnectionFailureReturn OnConnectionFailure = "RETURN"
	OnConnectionFailureRaise  OnConnectionFailure = "RAISE"
)

var apiKeyIDPattern = regexp.MustCompile(`^\d+`)
var urlPattern = regexp.MustCompile(`^https?://`)

// Options configures a Client. Construct with NewOptions, not
// directly — NewOptions applies env fallback, whitespace stripping,
// and LOCAL_ONLY forcing before validating.
type Options struct {
	SDKKey      string
	APIKeyID    string // derived: leading digits of SDKKey
	APIURLs     []string
	StreamURLs  []string
	Datasources Datasources

	XDatafile       string
	UseLocalCache   bool
	ConnectionTimeout time.Duration
	CollectSyncInterval time.Duration // zero disables polling

	OnNoDefault         OnNoDefault
	OnConnectionFailure OnConnectionFailure
	OnReadyCallback     func()
	LoggerKey           string

	// Fields for the optional shared-cache enrichment tier; unset
	// (empty address) disables it entirely.
	SharedCacheRedisAddr string
	SharedCacheRedisDB   int
	SharedCacheTTL       time.Duration

	LogLevel  string
	LogFormat string
}

// OptionFunc mutates an in-progress Options during NewOptions.
type OptionFunc func(*Options)

func WithSDKKey(key string) OptionFunc        { return func(o *Options) { o.SDKKey = key } }
func WithAPIURLs(urls []string) OptionFunc    { return func(o *Options) { o.APIURLs = urls } }
func WithStreamURLs(urls []string) OptionFunc { return func(o *Options) { o.StreamURLs = urls } }
func WithDatasources(d Datasources) OptionFunc { return func(o *Options) { o.Datasources = d } }
func WithXDatafile(path string) OptionFunc    { return func(o *Options) { o.XDatafile = path } }
func WithUseLocalCache(enabled bool) OptionFunc {
	return func(o *Options) { o.UseLocalCache = enabled }
}
func WithConnectionTimeout(d time.Duration) OptionFunc {
	return func(o *Options) { o.ConnectionTimeout = d }
}
func WithCollectSyncInterval(d time.Duration) OptionFunc {
	return func(o *Options) { o.CollectSyncInterval = d }
}
func WithOnNoDefault(v OnNoDefault) OptionFunc {
	return func(o *Options) { o.OnNoDefault = v }
}
func WithOnConnectionFailure(v OnConnectionFailure) OptionFunc {
	return func(o *Options) { o.OnConnectionFailure = v }
}
func WithOnReadyCallback(fn func()) OptionFunc {
	return func(o *Options) { o.OnReadyCallback = fn }
}
func WithLoggerKey(key string) OptionFunc { return func(o *Options) { o.LoggerKey = key } }
func WithSharedCache(addr string, db int, ttl time.Duration) OptionFunc {
	return func(o *Options) {
		o.SharedCacheRedisAddr = addr
		o.SharedCacheRedisDB = db
		o.SharedCacheTTL = ttl
	}
}
func WithLogging(level, format string) OptionFunc {
	return func(o *Options) {
		o.LogLevel = level
		o.LogFormat = format
	}
}

func defaultOptions() *Options {
	return &Options{
		APIURLs:             []string{"https://primary.reforge.com", "https://secondary.reforge.com"},
		StreamURLs:          []string{"https://stream.reforge.com"},
		Datasources:         DatasourcesAll,
		UseLocalCache:       true,
		ConnectionTimeout:   10 * time.Second,
		OnNoDefault:         OnNoDefaultRaise,
		OnConnectionFailure: OnConnectionFailureReturn,
	}
}

// NewOptions builds an Options from defaults, environment variables,
// and the supplied opts (applied in order, so later opts win), then
// applies LOCAL_ONLY forcing and validates. Validation errors are
// returned at construction time; nothing is deferred to first use.
func NewOptions(opts ...OptionFunc) (*Options, error) {
	o := defaultOptions()

	if v := strings.TrimSpace(os.Getenv("PREFAB_API_KEY")); v != "" {
		o.SDKKey = v
	}
	if v := os.Getenv("REFORGE_API_URL"); v != "" {
		o.APIURLs = []string{v}
	}
	if v := os.Getenv("REFORGE_STREAM_URL"); v != "" {
		o.StreamURLs = []string{v}
	}
	if v := os.Getenv("REFORGE_DATASOURCES"); v != "" {
		o.Datasources = Datasources(strings.ToUpper(v))
	}

	for _, opt := range opts {
		opt(o)
	}

	o.SDKKey = strings.TrimSpace(o.SDKKey)

	// unrecognized enum values silently fall back to their default
	// rather than erroring (test_returns_raise_for_any_other_input /
	// test_returns_return_for_any_other_input).
	if o.OnNoDefault != OnNoDefaultRaise && o.OnNoDefault != OnNoDefaultReturnNone {
		o.OnNoDefault = OnNoDefaultRaise
	}
	if o.OnConnectionFailure != OnConnectionFailureReturn && o.OnConnectionFailure != OnConnectionFailureRaise {
		o.OnConnectionFailure = OnConnectionFailureReturn
	}
	if o.Datasources != DatasourcesAll && o.Datasources != DatasourcesLocalOnly {
		o.Datasources = DatasourcesAll
	}

	if o.Datasources == DatasourcesLocalOnly {
		// sdk_key doesn't matter in local-only mode: forced empty, and
		// api_key_id is always "local", regardless of what was passed.
		o.SDKKey = ""
		o.APIKeyID = "local"
		o.APIURLs = nil
		o.StreamURLs = nil
	} else {
		if o.SDKKey == "" {
			return nil, &MissingSDKKeyError{}
		}
		match := apiKeyIDPattern.FindString(o.SDKKey)
		if match == "" || !strings.HasPrefix(o.SDKKey[len(match):], "-") {
			return nil, &InvalidSDKKeyError{Value: o.SDKKey}
		}
		o.APIKeyID = match

		for _, u := range o.APIURLs {
			if !urlPattern.MatchString(u) {
				return nil, &InvalidAPIURLError{Value: u}
			}
		}
		for _, u := range o.StreamURLs {
			if !urlPattern.MatchString(u) {
				return nil, &InvalidStreamURLError{Value: u}
			}
		}
	}

	return o, nil
}

func (o *Options) String() string {
	return fmt.Sprintf("Options{datasources=%s, api_key_id=%s}", o.Datasources, o.APIKeyID)
}
