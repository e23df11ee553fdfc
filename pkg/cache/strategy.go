package cache

import (
	"context"
	"net/http"
	"strings"

	"github.com/cuemby/amino/pkg/metrics"
	"github.com/cuemby/amino/pkg/types"
)

// Source tells where a response came from
type Source string

const (
	SourceCache    Source = "cache"
	SourceNetwork  Source = "network"
	SourceFallback Source = "fallback"
)

// Response is what a strategy hands back to the proxy
type Response struct {
	Status int
	Header http.Header
	Body   []byte
	Source Source
	Tier   Tier
}

func fromEntry(e *types.CacheEntry, src Source, tier Tier) *Response {
	return &Response{Status: e.Status, Header: e.Header.Clone(), Body: e.Body, Source: src, Tier: tier}
}

// Strategy answers one GET request
type Strategy func(ctx context.Context, c *Cache, r *http.Request) (*Response, error)

// defaultStrategies maps each request class to its strategy and tier
func defaultStrategies() map[Class]Strategy {
	return map[Class]Strategy{
		ClassAPI:        offlineFirst(TierAPI),
		ClassImage:      cacheFirst(TierImages),
		ClassStatic:     cacheFirst(TierStatic),
		ClassFont:       cacheFirst(TierFonts),
		ClassAudio:      cacheFirst(TierImages),
		ClassNavigation: navigation,
		ClassDynamic:    offlineFirst(TierDynamic),
	}
}

// Handle classifies r and runs the matching strategy
func (c *Cache) Handle(ctx context.Context, r *http.Request) (*Response, error) {
	strategy, ok := c.strategies[Classify(r)]
	if !ok {
		strategy = c.strategies[ClassDynamic]
	}
	return strategy(ctx, c, r)
}

// offlineFirst serves from cache when possible and refreshes in the
// background while online. On a miss it goes to the network; when that fails
// API paths get an empty JSON list and navigations get the app shell.
func offlineFirst(tier Tier) Strategy {
	return func(ctx context.Context, c *Cache, r *http.Request) (*Response, error) {
		abs := c.AbsoluteURL(r)

		if e, found, ok := c.Match(abs, tier); ok {
			metrics.CacheRequests.WithLabelValues(string(tier), "hit").Inc()
			c.revalidate(tier, abs, r.Header)
			return fromEntry(e, SourceCache, found), nil
		}
		metrics.CacheRequests.WithLabelValues(string(tier), "miss").Inc()

		entry, err := c.fetchAndStore(ctx, tier, abs, r.Header)
		if err == nil {
			return fromEntry(entry, SourceNetwork, tier), nil
		}

		c.logger.Debug().Err(err).Str("url", abs).Msg("Network failed and nothing cached")
		metrics.CacheRequests.WithLabelValues(string(tier), "fallback").Inc()

		if isNavigation(r) {
			if shell, ok := c.shell(); ok {
				return shell, nil
			}
			return offlinePage(), nil
		}
		if strings.HasPrefix(r.URL.Path, "/api/") {
			return emptyList(), nil
		}
		return nil, err
	}
}

// cacheFirst serves from cache and refreshes entries older than their
// freshness window in the background. Misses go to the network and failures
// propagate.
func cacheFirst(tier Tier) Strategy {
	return func(ctx context.Context, c *Cache, r *http.Request) (*Response, error) {
		abs := c.AbsoluteURL(r)

		if e, found, ok := c.Match(abs, tier); ok {
			if e.Age(c.now()) > Expiry(r.URL.Path) {
				metrics.CacheRequests.WithLabelValues(string(tier), "stale").Inc()
				c.revalidate(tier, abs, r.Header)
			} else {
				metrics.CacheRequests.WithLabelValues(string(tier), "hit").Inc()
			}
			return fromEntry(e, SourceCache, found), nil
		}
		metrics.CacheRequests.WithLabelValues(string(tier), "miss").Inc()

		entry, err := c.fetchAndStore(ctx, tier, abs, r.Header)
		if err != nil {
			c.logger.Debug().Err(err).Str("url", abs).Msg("Failed to fetch resource")
			return nil, err
		}
		return fromEntry(entry, SourceNetwork, tier), nil
	}
}

// navigation serves client-side routes from the cached shell without
// touching the network. Other pages try the network with a short timeout
// and fall back to the cached page, the shell, then the offline notice.
func navigation(ctx context.Context, c *Cache, r *http.Request) (*Response, error) {
	if IsAppRoute(c.opts.AppRoutes, r.URL.Path) {
		if shell, ok := c.shell(); ok {
			metrics.CacheRequests.WithLabelValues(string(TierCritical), "hit").Inc()
			return shell, nil
		}
	}

	abs := c.AbsoluteURL(r)
	nctx, cancel := context.WithTimeout(ctx, c.opts.NavigationTimeout)
	defer cancel()

	entry, err := c.fetchAndStore(nctx, TierCritical, abs, r.Header)
	if err == nil {
		metrics.CacheRequests.WithLabelValues(string(TierCritical), "miss").Inc()
		return fromEntry(entry, SourceNetwork, TierCritical), nil
	}

	metrics.CacheRequests.WithLabelValues(string(TierCritical), "fallback").Inc()
	if e, found, ok := c.Match(abs, TierCritical); ok {
		return fromEntry(e, SourceCache, found), nil
	}
	if shell, ok := c.shell(); ok {
		return shell, nil
	}
	return offlinePage(), nil
}

// shell returns the cached app entry point, "/" then "/index.html"
func (c *Cache) shell() (*Response, bool) {
	for _, p := range []string{"/", "/index.html"} {
		if e, tier, ok := c.Match(c.resolve(p), TierCritical); ok {
			return fromEntry(e, SourceCache, tier), true
		}
	}
	return nil, false
}

func emptyList() *Response {
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	return &Response{Status: http.StatusOK, Header: h, Body: []byte("[]"), Source: SourceFallback}
}

func offlinePage() *Response {
	h := make(http.Header)
	h.Set("Content-Type", "text/html; charset=utf-8")
	return &Response{Status: http.StatusOK, Header: h, Body: []byte(offlineHTML), Source: SourceFallback}
}

const offlineHTML = `<!DOCTYPE html>
<html dir="rtl" lang="ar">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>Amino Gym - وضع عدم الاتصال</title>
  <style>
    body { font-family: Arial, sans-serif; text-align: center; padding: 50px; background: #0f172a; color: white; }
    .offline-message { max-width: 400px; margin: 0 auto; padding: 20px; background: #1e293b; border-radius: 10px; }
  </style>
</head>
<body>
  <div class="offline-message">
    <h1>Amino Gym</h1>
    <h2>وضع عدم الاتصال</h2>
    <p>التطبيق يعمل بدون انترنت</p>
    <p>جميع بياناتك محفوظة محلياً</p>
    <button onclick="window.location.reload()">إعادة تحميل</button>
  </div>
</body>
</html>
`
