package cache

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/amino/pkg/events"
	"github.com/cuemby/amino/pkg/storage"
	"github.com/cuemby/amino/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct{ online atomic.Bool }

func (f *fakeConn) Online() bool { return f.online.Load() }

// origin serves a tiny app and counts requests per path
type origin struct {
	server *httptest.Server
	hits   map[string]*atomic.Int32
	body   atomic.Value
}

func newOrigin(t *testing.T) *origin {
	t.Helper()
	o := &origin{hits: map[string]*atomic.Int32{}}
	o.body.Store("v1")
	for _, p := range []string{"/", "/index.html", "/api/members", "/assets/app.js", "/about", "/submit", "/manifest.json"} {
		o.hits[p] = &atomic.Int32{}
	}

	o.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, ok := o.hits[r.URL.Path]; ok {
			c.Add(1)
		}
		switch r.URL.Path {
		case "/", "/index.html":
			w.Header().Set("Content-Type", "text/html")
			_, _ = io.WriteString(w, "<html>shell</html>")
		case "/api/members":
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `[{"id":"m1"}]`)
		case "/assets/app.js":
			_, _ = io.WriteString(w, o.body.Load().(string))
		case "/manifest.json":
			w.Header().Set("Content-Type", "application/manifest+json")
			_, _ = io.WriteString(w, `{"name":"Amino Gym"}`)
		case "/about":
			_, _ = io.WriteString(w, "<html>about</html>")
		case "/submit":
			body, _ := io.ReadAll(r.Body)
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write(body)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(o.server.Close)
	return o
}

func (o *origin) count(p string) int32 {
	return o.hits[p].Load()
}

func newCache(t *testing.T, rawOrigin string, online bool) (*Cache, *storage.Store, *fakeConn) {
	t.Helper()
	u, err := url.Parse(rawOrigin)
	require.NoError(t, err)

	store := storage.NewStore(storage.NewMemoryDriver())
	conn := &fakeConn{}
	conn.online.Store(online)

	opts := DefaultOptions(u)
	opts.FetchTimeout = time.Second
	opts.NavigationTimeout = 500 * time.Millisecond
	c, err := New(store, conn, nil, opts)
	require.NoError(t, err)
	return c, store, conn
}

// deadOrigin returns the URL of a server that no longer listens
func deadOrigin(t *testing.T) string {
	t.Helper()
	s := httptest.NewServer(http.NotFoundHandler())
	u := s.URL
	s.Close()
	return u
}

func get(path string, headers ...string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, path, nil)
	for i := 0; i+1 < len(headers); i += 2 {
		r.Header.Set(headers[i], headers[i+1])
	}
	return r
}

func TestInstallAndActivateReplacesOldVersion(t *testing.T) {
	o := newOrigin(t)
	c, store, _ := newCache(t, o.server.URL, true)
	ctx := context.Background()

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()
	c.broker = broker

	// Leftovers from the previous build
	old := Tiers{Prefix: "amino-gym", Version: 3}
	for _, tier := range AllTiers {
		require.NoError(t, store.Partition(old.Partition(tier)).Set("GET x", "stale"))
	}
	require.NoError(t, store.Partition("members").Set("m1", map[string]string{"id": "m1"}))
	require.NoError(t, store.Partition(MetaPartition).Set(activeKey, ActiveVersion{Version: "amino-gym-v3"}))

	report := c.Install(ctx)
	assert.Contains(t, report.Cached, "critical:/")
	assert.Contains(t, report.Cached, "critical:/index.html")
	assert.Contains(t, report.Failed, "critical:/yacin-gym-logo.png", "404s are reported, not fatal")
	assert.Contains(t, report.Cached, "static:/manifest.json")
	assert.Contains(t, report.Failed, "static:/vite.svg")

	require.NoError(t, c.Activate(ctx))

	names, err := store.PartitionsWithPrefix(PartitionPrefix)
	require.NoError(t, err)
	for _, n := range names {
		assert.True(t, strings.HasSuffix(n, "-v4"), "old tier %s survived activation", n)
	}
	assert.Contains(t, names, "cache/amino-gym-v4")

	var m map[string]string
	found, err := store.Partition("members").Get("m1", &m)
	require.NoError(t, err)
	assert.True(t, found, "non-cache partitions are untouched")

	active, ok := c.Active()
	require.True(t, ok)
	assert.Equal(t, "amino-gym-v4", active.Version)
	assert.Equal(t, "amino-gym-v4", c.Version())

	var seen []events.EventType
	timeout := time.After(time.Second)
	for len(seen) < 2 {
		select {
		case e := <-sub:
			seen = append(seen, e.Type)
		case <-timeout:
			t.Fatalf("missing cache events, got %v", seen)
		}
	}
	assert.Equal(t, []events.EventType{events.EventCacheUpdateAvailable, events.EventCacheOfflineReady}, seen)
}

func TestOfflineAPIServesCachedResponse(t *testing.T) {
	c, _, _ := newCache(t, deadOrigin(t), false)

	r := get("/api/members")
	require.NoError(t, c.Put(TierAPI, &types.CacheEntry{
		Method:   http.MethodGet,
		URL:      c.AbsoluteURL(r),
		Status:   http.StatusOK,
		Header:   http.Header{"Content-Type": {"application/json"}},
		Body:     []byte(`[{"id":"m1"}]`),
		StoredAt: time.Now(),
	}))

	resp, err := c.Handle(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, SourceCache, resp.Source)
	assert.JSONEq(t, `[{"id":"m1"}]`, string(resp.Body))
}

func TestOfflineAPIMissReturnsEmptyList(t *testing.T) {
	c, _, _ := newCache(t, deadOrigin(t), false)

	resp, err := c.Handle(context.Background(), get("/api/payments"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, "[]", string(resp.Body))
	assert.Equal(t, SourceFallback, resp.Source)
}

func TestOfflineEmptyListOnlyForAPIPaths(t *testing.T) {
	c, _, _ := newCache(t, deadOrigin(t), false)
	ctx := context.Background()

	tests := []struct {
		name      string
		path      string
		wantEmpty bool
	}{
		{"api path with query", "/api/payments?since=2024-01-01", true},
		{"api path in query", "/reports?next=/api/members", false},
		{"api lookalike prefix", "/apiary/hives", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := c.Handle(ctx, get(tt.path))
			if tt.wantEmpty {
				require.NoError(t, err)
				assert.Equal(t, "[]", string(resp.Body))
				return
			}
			assert.Error(t, err)
			assert.Nil(t, resp)
		})
	}
}

func TestOfflineFirstMissCachesNetworkResponse(t *testing.T) {
	o := newOrigin(t)
	c, _, _ := newCache(t, o.server.URL, true)
	ctx := context.Background()

	resp, err := c.Handle(ctx, get("/api/members"))
	require.NoError(t, err)
	assert.Equal(t, SourceNetwork, resp.Source)

	entry, ok := c.Lookup(TierAPI, c.AbsoluteURL(get("/api/members")))
	require.True(t, ok)
	assert.Equal(t, http.StatusOK, entry.Status)

	// Second request is a hit that revalidates in the background
	resp, err = c.Handle(ctx, get("/api/members"))
	require.NoError(t, err)
	assert.Equal(t, SourceCache, resp.Source)
	c.Wait()
	assert.Equal(t, int32(2), o.count("/api/members"))
}

func TestOfflineFirstDoesNotRevalidateWhileOffline(t *testing.T) {
	o := newOrigin(t)
	c, _, conn := newCache(t, o.server.URL, true)
	ctx := context.Background()

	_, err := c.Handle(ctx, get("/api/members"))
	require.NoError(t, err)

	conn.online.Store(false)
	_, err = c.Handle(ctx, get("/api/members"))
	require.NoError(t, err)
	c.Wait()
	assert.Equal(t, int32(1), o.count("/api/members"))
}

func TestCacheFirstRefreshesStaleEntries(t *testing.T) {
	o := newOrigin(t)
	c, _, _ := newCache(t, o.server.URL, true)
	ctx := context.Background()

	r := get("/assets/app.js")
	require.NoError(t, c.Put(TierStatic, &types.CacheEntry{
		Method:   http.MethodGet,
		URL:      c.AbsoluteURL(r),
		Status:   http.StatusOK,
		Header:   http.Header{},
		Body:     []byte("v0"),
		StoredAt: time.Now().Add(-25 * time.Hour),
	}))

	resp, err := c.Handle(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, "v0", string(resp.Body), "stale entry is still served")

	c.Wait()
	entry, ok := c.Lookup(TierStatic, c.AbsoluteURL(r))
	require.True(t, ok)
	assert.Equal(t, "v1", string(entry.Body))
}

func TestCacheFirstFreshEntrySkipsNetwork(t *testing.T) {
	o := newOrigin(t)
	c, _, _ := newCache(t, o.server.URL, true)

	r := get("/assets/app.js")
	require.NoError(t, c.Put(TierStatic, &types.CacheEntry{
		Method: http.MethodGet, URL: c.AbsoluteURL(r), Status: http.StatusOK,
		Header: http.Header{}, Body: []byte("v0"), StoredAt: time.Now(),
	}))

	_, err := c.Handle(context.Background(), r)
	require.NoError(t, err)
	c.Wait()
	assert.Equal(t, int32(0), o.count("/assets/app.js"))
}

func TestCacheFirstMissPropagatesFailure(t *testing.T) {
	c, _, _ := newCache(t, deadOrigin(t), false)

	_, err := c.Handle(context.Background(), get("/assets/missing.js"))
	assert.Error(t, err)
}

func TestNavigationAppRouteUsesShellWithoutNetwork(t *testing.T) {
	o := newOrigin(t)
	c, _, _ := newCache(t, o.server.URL, true)
	ctx := context.Background()

	c.Install(ctx)
	before := o.count("/")

	resp, err := c.Handle(ctx, get("/payments/42", "Sec-Fetch-Mode", "navigate"))
	require.NoError(t, err)
	assert.Equal(t, "<html>shell</html>", string(resp.Body))
	assert.Equal(t, before, o.count("/"))
}

func TestNavigationOfflineFallbacks(t *testing.T) {
	c, _, _ := newCache(t, deadOrigin(t), false)
	ctx := context.Background()

	resp, err := c.Handle(ctx, get("/unknown", "Sec-Fetch-Mode", "navigate"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, string(resp.Body), "Amino Gym")
	assert.Equal(t, SourceFallback, resp.Source)

	require.NoError(t, c.Put(TierCritical, &types.CacheEntry{
		Method: http.MethodGet, URL: c.resolve("/"), Status: http.StatusOK,
		Header: http.Header{"Content-Type": {"text/html"}}, Body: []byte("<html>shell</html>"), StoredAt: time.Now(),
	}))
	resp, err = c.Handle(ctx, get("/unknown", "Sec-Fetch-Mode", "navigate"))
	require.NoError(t, err)
	assert.Equal(t, "<html>shell</html>", string(resp.Body))
}

func TestNavigationNetworkResponseIsCached(t *testing.T) {
	o := newOrigin(t)
	c, _, _ := newCache(t, o.server.URL, true)

	resp, err := c.Handle(context.Background(), get("/about", "Sec-Fetch-Mode", "navigate"))
	require.NoError(t, err)
	assert.Equal(t, SourceNetwork, resp.Source)

	_, ok := c.Lookup(TierCritical, c.resolve("/about"))
	assert.True(t, ok)
}

func TestPurge(t *testing.T) {
	o := newOrigin(t)
	c, _, _ := newCache(t, o.server.URL, true)
	ctx := context.Background()

	c.Install(ctx)
	assert.Greater(t, c.Stats()[TierCritical], 0)

	require.NoError(t, c.Purge(TierCritical))
	assert.Equal(t, 0, c.Stats()[TierCritical])
	assert.Greater(t, c.Stats()[TierStatic], 0)

	require.NoError(t, c.PurgeAll())
	assert.Equal(t, 0, c.Stats()[TierStatic])
}

func TestProxy(t *testing.T) {
	o := newOrigin(t)
	c, _, _ := newCache(t, o.server.URL, true)

	front := httptest.NewServer(NewProxy(c, "127.0.0.1:0"))
	defer front.Close()

	t.Run("GET goes through the cache", func(t *testing.T) {
		resp, err := http.Get(front.URL + "/api/members")
		require.NoError(t, err)
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, string(SourceNetwork), resp.Header.Get(CacheHeader))
		assert.JSONEq(t, `[{"id":"m1"}]`, string(body))
	})

	t.Run("POST passes through", func(t *testing.T) {
		resp, err := http.Post(front.URL+"/submit", "application/json", strings.NewReader(`{"a":1}`))
		require.NoError(t, err)
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		assert.Equal(t, http.StatusCreated, resp.StatusCode)
		assert.Empty(t, resp.Header.Get(CacheHeader))
		assert.Equal(t, `{"a":1}`, string(body))
	})

	t.Run("unreachable static asset is a bad gateway", func(t *testing.T) {
		dead, _, _ := newCache(t, deadOrigin(t), false)
		front := httptest.NewServer(NewProxy(dead, "127.0.0.1:0"))
		defer front.Close()

		resp, err := http.Get(front.URL + "/assets/app.js")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	})
}
