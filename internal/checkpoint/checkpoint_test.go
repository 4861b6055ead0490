package checkpoint

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reforgehq/reforge-go/internal/diskcache"
	"github.com/reforgehq/reforge-go/internal/httpclient"
	"github.com/reforgehq/reforge-go/internal/sharedcache"
	"github.com/reforgehq/reforge-go/internal/store"
	"github.com/reforgehq/reforge-go/internal/wire"
)

func newLoader(t *testing.T, srv *httptest.Server) *Loader {
	t.Helper()
	t.Setenv("XDG_CACHE_HOME", t.TempDir())

	hc := httpclient.New(httpclient.Config{
		BaseURLs:        []string{srv.URL},
		SDKKey:          "test-key",
		ClientVersion:   "test",
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	}, nil)

	return New(Config{
		HTTP:     hc,
		Store:    store.New(nil),
		Codec:    wire.DefaultCodec(),
		SDKKey:   "test-key",
		APIKeyID: "env-test",
	}, nil)
}

func TestLoadFromCDN_ValidPayloadMerges(t *testing.T) {
	cfgs := wire.Configs{Configs: []wire.ConfigEntry{{ID: 1, Key: "test_key", Rows: []wire.ConfigRow{{Values: []wire.ConditionalValue{{}}}}}}}
	body, err := wire.DefaultCodec().Encode(cfgs)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	}))
	defer srv.Close()

	l := newLoader(t, srv)
	ok, err := l.LoadFromCDN(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	_, found := l.store.Get("test_key")
	assert.True(t, found)
}

func TestLoadFromCDN_ZeroByteBodyIsNotSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	l := newLoader(t, srv)
	ok, err := l.LoadFromCDN(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, l.store.Len())
}

func TestLoadFromCDN_UnauthorizedPropagatesError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	l := newLoader(t, srv)
	ok, err := l.LoadFromCDN(context.Background())
	require.ErrorIs(t, err, httpclient.ErrUnauthorized)
	assert.False(t, ok)
}

func TestLoadFromCDN_PersistsToSharedCacheOnSuccess(t *testing.T) {
	cfgs := wire.Configs{Configs: []wire.ConfigEntry{{ID: 1, Key: "from_cdn", Rows: []wire.ConfigRow{{Values: []wire.ConditionalValue{{}}}}}}}
	body, err := wire.DefaultCodec().Encode(cfgs)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	}))
	defer srv.Close()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	shared, err := sharedcache.New(sharedcache.Config{Addr: mr.Addr(), TTL: time.Minute}, nil)
	require.NoError(t, err)
	defer shared.Close()

	t.Setenv("XDG_CACHE_HOME", t.TempDir())
	hc := httpclient.New(httpclient.Config{
		BaseURLs:        []string{srv.URL},
		SDKKey:          "test-key",
		ClientVersion:   "test",
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	}, nil)

	l := New(Config{
		HTTP:      hc,
		Store:     store.New(nil),
		Codec:     wire.DefaultCodec(),
		SDKKey:    "test-key",
		APIKeyID:  "env-test",
		Shared:    shared,
		SharedKey: "env-test",
	}, nil)

	ok, err := l.LoadFromCDN(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := shared.Get(context.Background(), "env-test", wire.DefaultCodec())
	require.NoError(t, err)
	require.Len(t, got.Configs, 1)
	assert.Equal(t, "from_cdn", got.Configs[0].Key)
}

func TestLoad_FallsBackToDiskCacheWhenCDNFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	dir := t.TempDir()
	t.Setenv("XDG_CACHE_HOME", dir)

	hc := httpclient.New(httpclient.Config{
		BaseURLs:        []string{srv.URL},
		SDKKey:          "test-key",
		ClientVersion:   "test",
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
	}, nil)

	l := New(Config{
		HTTP:     hc,
		Store:    store.New(nil),
		Codec:    wire.DefaultCodec(),
		SDKKey:   "test-key",
		APIKeyID: "env-test",
	}, nil)

	// seed disk cache directly at the path the loader will compute.
	seedStore := store.New(nil)
	seedStore.Set(wire.ConfigEntry{ID: 9, Key: "from_disk", Rows: []wire.ConfigRow{{Values: []wire.ConditionalValue{{}}}}}, "seed")
	diskcache.Write(filepath.Join(dir, "prefab.cache.env-test.json"), wire.DefaultCodec(), seedStore.Envelope(), nil)

	start, cdnFailed, err := l.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, start)
	assert.True(t, cdnFailed)

	_, found := l.store.Get("from_disk")
	assert.True(t, found)
}
