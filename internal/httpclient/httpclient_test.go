package httpclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFastConfig(urls []string) Config {
	return Config{
		BaseURLs:        urls,
		SDKKey:          "test-key",
		ClientVersion:   "0.0.0-test",
		Timeout:         2 * time.Second,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	}
}

func TestGet_SuccessOnFirstURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	c := New(newFastConfig([]string{srv.URL}), nil)
	resp, err := c.Get(context.Background(), "/checkpoint", nil, 3)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hello", string(resp.Body))
}

func TestGet_UnauthorizedIsFatalNoRetry(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(newFastConfig([]string{srv.URL}), nil)
	_, err := c.Get(context.Background(), "/checkpoint", nil, 0)
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestGet_OtherClientErrorIsFatalNotUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(newFastConfig([]string{srv.URL}), nil)
	_, err := c.Get(context.Background(), "/checkpoint", nil, 0)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrUnauthorized))
	var clientErr *ClientError
	require.ErrorAs(t, err, &clientErr)
	assert.Equal(t, http.StatusNotFound, clientErr.StatusCode)
}

func TestGet_TransientFailureRotatesURLs(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer bad.Close()

	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer good.Close()

	c := New(newFastConfig([]string{bad.URL, good.URL}), nil)
	resp, err := c.Get(context.Background(), "/checkpoint", nil, 5)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(resp.Body))
}

func TestGet_AttemptCapExhaustedReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(newFastConfig([]string{srv.URL}), nil)
	_, err := c.Get(context.Background(), "/checkpoint", nil, 2)
	require.Error(t, err)
}

func TestGet_ContextCancellationStopsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := New(newFastConfig([]string{srv.URL}), nil)
	_, err := c.Get(ctx, "/checkpoint", nil, 0)
	require.Error(t, err)
}
