// Package httpclient implements the resilient multi-URL HTTP client
// used to fetch checkpoints and open SSE streams. On transient failure
// it rotates through an ordered list of base URLs before falling back
// to exponential backoff.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
)

// ErrUnauthorized is returned for 401/403 responses. It is fatal: the
// caller must not retry or rotate URLs.
var ErrUnauthorized = errors.New("httpclient: unauthorized")

// ClientError wraps a non-retryable 4xx response other than 401/403.
type ClientError struct {
	StatusCode int
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("httpclient: client error, status %d", e.StatusCode)
}

// Response is the successful result of a Get call.
type Response struct {
	StatusCode int
	Body       []byte
	Header     http.Header
}

// Config controls client construction.
type Config struct {
	BaseURLs         []string // ordered; rotated through on transient failure
	SDKKey           string
	ClientVersion    string
	Timeout          time.Duration
	InitialInterval  time.Duration // backoff, default 1s
	MaxInterval      time.Duration // backoff, default 30s
	Multiplier       float64       // backoff, default 2
	RandomizationFactor float64    // backoff, default 0.2
}

func (c Config) withDefaults() Config {
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	if c.InitialInterval == 0 {
		c.InitialInterval = time.Second
	}
	if c.MaxInterval == 0 {
		c.MaxInterval = 30 * time.Second
	}
	if c.Multiplier == 0 {
		c.Multiplier = 2
	}
	if c.RandomizationFactor == 0 {
		c.RandomizationFactor = 0.2
	}
	return c
}

// Client rotates across cfg.BaseURLs and applies exponential backoff
// once the list is exhausted.
type Client struct {
	cfg    Config
	rc     *resty.Client
	logger *slog.Logger

	mu  sync.Mutex
	idx int // next base URL to try
}

// New constructs a Client. logger may be nil.
func New(cfg Config, logger *slog.Logger) *Client {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	rc := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", "reforge-go/"+cfg.ClientVersion).
		SetHeader("X-PrefabCloud-Client-Version", cfg.ClientVersion).
		SetBasicAuth("", cfg.SDKKey)

	return &Client{cfg: cfg, rc: rc, logger: logger.With("component", "httpclient")}
}

func (c *Client) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialInterval
	b.MaxInterval = c.cfg.MaxInterval
	b.Multiplier = c.cfg.Multiplier
	b.RandomizationFactor = c.cfg.RandomizationFactor
	b.MaxElapsedTime = 0 // caller bounds attempts via attemptCap, not elapsed time
	return b
}

func (c *Client) nextURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	url := c.cfg.BaseURLs[c.idx%len(c.cfg.BaseURLs)]
	c.idx++
	return url
}

// Get requests path against the rotation of base URLs, retrying
// transient failures with backoff once the list is exhausted.
// attemptCap of 0 means unbounded (used by the SSE reconnect loop);
// checkpoint bootstrap passes a small fixed cap instead.
func (c *Client) Get(ctx context.Context, path string, headers map[string]string, attemptCap int) (*Response, error) {
	if len(c.cfg.BaseURLs) == 0 {
		return nil, errors.New("httpclient: no base URLs configured")
	}

	bo := c.newBackOff()
	attempts := 0
	roundStart := 0 // rotation position where the current backoff round began

	for {
		if attemptCap > 0 && attempts >= attemptCap {
			return nil, fmt.Errorf("httpclient: exhausted %d attempts without success", attemptCap)
		}
		attempts++

		url := c.nextURL()
		resp, err := c.doOne(ctx, url, path, headers)
		if err == nil {
			bo.Reset()
			return resp, nil
		}

		if errors.Is(err, ErrUnauthorized) {
			return nil, err
		}
		var clientErr *ClientError
		if errors.As(err, &clientErr) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		c.logger.Warn("request attempt failed, rotating", "url", url, "error", err, "attempt", attempts)

		// once we've cycled through every base URL once in this round,
		// apply the backoff delay before starting the next round.
		if (attempts-roundStart)%len(c.cfg.BaseURLs) == 0 {
			wait := bo.NextBackOff()
			if wait == backoff.Stop {
				return nil, fmt.Errorf("httpclient: backoff exhausted: %w", err)
			}
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			roundStart = attempts
		}
	}
}

func (c *Client) doOne(ctx context.Context, baseURL, path string, headers map[string]string) (*Response, error) {
	req := c.rc.R().SetContext(ctx)
	for k, v := range headers {
		req.SetHeader(k, v)
	}

	resp, err := req.Get(baseURL + path)
	if err != nil {
		return nil, err
	}

	status := resp.StatusCode()
	switch {
	case status >= 200 && status < 300:
		return &Response{StatusCode: status, Body: resp.Body(), Header: resp.Header()}, nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return nil, ErrUnauthorized
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500:
		return nil, fmt.Errorf("httpclient: transient status %d", status)
	case status >= 400:
		return nil, &ClientError{StatusCode: status}
	default:
		return nil, fmt.Errorf("httpclient: unexpected status %d", status)
	}
}

// Stream opens path as a long-lived response whose body the caller
// reads incrementally (used for SSE). Unlike Get, Stream performs a
// single attempt against the next base URL in rotation; the SSE
// manager owns its own reconnect/backoff loop around it.
func (c *Client) Stream(ctx context.Context, path string, headers map[string]string) (io.ReadCloser, *http.Response, error) {
	url := c.nextURL()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url+path, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("User-Agent", "reforge-go/"+c.cfg.ClientVersion)
	req.Header.Set("X-PrefabCloud-Client-Version", c.cfg.ClientVersion)
	req.SetBasicAuth("", c.cfg.SDKKey)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	httpClient := &http.Client{}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		resp.Body.Close()
		return nil, nil, ErrUnauthorized
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return resp.Body, resp, nil
	default:
		resp.Body.Close()
		return nil, nil, fmt.Errorf("httpclient: stream open failed, status %d", resp.StatusCode)
	}
}
