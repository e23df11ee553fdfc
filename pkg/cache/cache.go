package cache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/amino/pkg/events"
	"github.com/cuemby/amino/pkg/log"
	"github.com/cuemby/amino/pkg/metrics"
	"github.com/cuemby/amino/pkg/storage"
	"github.com/cuemby/amino/pkg/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	// MetaPartition holds the active cache version
	MetaPartition = "cache_meta"
	activeKey     = "active"

	// larger upstream bodies are rejected
	maxCachedBody = 32 << 20
)

// Connectivity reports whether the network is reachable
type Connectivity interface {
	Online() bool
}

// Options configures a Cache
type Options struct {
	// Origin is the upstream serving the app and its API
	Origin *url.URL

	Tiers Tiers

	// Client performs upstream fetches. Defaults to a client with
	// FetchTimeout.
	Client *http.Client

	FetchTimeout      time.Duration
	NavigationTimeout time.Duration

	// RevalidateRate and RevalidateBurst throttle background refreshes
	RevalidateRate  rate.Limit
	RevalidateBurst int

	AppRoutes         []string
	CriticalResources []string
	StaticAssets      []string
}

// DefaultOptions returns the amino-gym v4 tier set with stock timeouts
func DefaultOptions(origin *url.URL) Options {
	return Options{
		Origin:            origin,
		Tiers:             Tiers{Prefix: "amino-gym", Version: 4},
		FetchTimeout:      10 * time.Second,
		NavigationTimeout: 2 * time.Second,
		RevalidateRate:    rate.Limit(5),
		RevalidateBurst:   10,
		AppRoutes:         AppRoutes,
		CriticalResources: CriticalResources,
		StaticAssets:      StaticAssets,
	}
}

// ActiveVersion is the record stored when a cache version is activated
type ActiveVersion struct {
	Version     string    `json:"version"`
	ActivatedAt time.Time `json:"activatedAt"`
}

// Cache is the multi-tier HTTP response cache
type Cache struct {
	store      *storage.Store
	meta       *storage.Partition
	opts       Options
	client     *http.Client
	conn       Connectivity
	broker     *events.Broker
	logger     zerolog.Logger
	strategies map[Class]Strategy

	group   singleflight.Group
	limiter *rate.Limiter
	bg      sync.WaitGroup
	now     func() time.Time
}

// New creates a cache over store
func New(store *storage.Store, conn Connectivity, broker *events.Broker, opts Options) (*Cache, error) {
	if opts.Origin == nil {
		return nil, fmt.Errorf("cache origin is required")
	}
	def := DefaultOptions(opts.Origin)
	if opts.Tiers.Prefix == "" {
		opts.Tiers = def.Tiers
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = def.FetchTimeout
	}
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = def.NavigationTimeout
	}
	if opts.RevalidateRate <= 0 {
		opts.RevalidateRate = def.RevalidateRate
	}
	if opts.RevalidateBurst <= 0 {
		opts.RevalidateBurst = def.RevalidateBurst
	}
	if opts.AppRoutes == nil {
		opts.AppRoutes = def.AppRoutes
	}
	if opts.CriticalResources == nil {
		opts.CriticalResources = def.CriticalResources
	}
	if opts.StaticAssets == nil {
		opts.StaticAssets = def.StaticAssets
	}

	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.FetchTimeout}
	}

	return &Cache{
		store:      store,
		meta:       store.Partition(MetaPartition),
		opts:       opts,
		client:     client,
		conn:       conn,
		broker:     broker,
		logger:     log.WithComponent("cache"),
		strategies: defaultStrategies(),
		limiter:    rate.NewLimiter(opts.RevalidateRate, opts.RevalidateBurst),
		now:        time.Now,
	}, nil
}

// Key is the storage key of a cached GET
func Key(absURL string) string {
	return http.MethodGet + " " + absURL
}

// AbsoluteURL resolves a request path against the origin
func (c *Cache) AbsoluteURL(r *http.Request) string {
	ref := &url.URL{Path: r.URL.Path, RawQuery: r.URL.RawQuery}
	return c.opts.Origin.ResolveReference(ref).String()
}

func (c *Cache) resolve(p string) string {
	ref, err := url.Parse(p)
	if err != nil {
		return c.opts.Origin.String() + p
	}
	return c.opts.Origin.ResolveReference(ref).String()
}

// Lookup returns the entry for absURL in one tier
func (c *Cache) Lookup(tier Tier, absURL string) (*types.CacheEntry, bool) {
	var entry types.CacheEntry
	found, err := c.store.Partition(c.opts.Tiers.Partition(tier)).Get(Key(absURL), &entry)
	if err != nil {
		c.logger.Warn().Err(err).Str("tier", string(tier)).Str("url", absURL).Msg("Unreadable cache entry")
		return nil, false
	}
	if !found {
		return nil, false
	}
	return &entry, true
}

// Match looks absURL up in preferred first, then in every other tier
func (c *Cache) Match(absURL string, preferred Tier) (*types.CacheEntry, Tier, bool) {
	if preferred != "" {
		if e, ok := c.Lookup(preferred, absURL); ok {
			return e, preferred, true
		}
	}
	for _, tier := range AllTiers {
		if tier == preferred {
			continue
		}
		if e, ok := c.Lookup(tier, absURL); ok {
			return e, tier, true
		}
	}
	return nil, "", false
}

// Put stores entry in tier
func (c *Cache) Put(tier Tier, entry *types.CacheEntry) error {
	return c.store.Partition(c.opts.Tiers.Partition(tier)).Set(Key(entry.URL), entry)
}

// fetch performs an upstream GET and captures the response
func (c *Cache) fetch(ctx context.Context, absURL string, header http.Header) (*types.CacheEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, absURL, nil)
	if err != nil {
		return nil, err
	}
	for k, vs := range header {
		if skipRequestHeader(k) {
			continue
		}
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCachedBody+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if len(body) > maxCachedBody {
		return nil, fmt.Errorf("response body exceeds %d bytes", maxCachedBody)
	}

	storedAt := c.now()
	if d, err := http.ParseTime(resp.Header.Get("Date")); err == nil {
		storedAt = d
	}

	return &types.CacheEntry{
		Method:   http.MethodGet,
		URL:      absURL,
		Status:   resp.StatusCode,
		Header:   resp.Header.Clone(),
		Body:     body,
		StoredAt: storedAt,
	}, nil
}

func skipRequestHeader(k string) bool {
	switch http.CanonicalHeaderKey(k) {
	case "Connection", "Keep-Alive", "Proxy-Connection", "Te", "Trailer",
		"Transfer-Encoding", "Upgrade", "Accept-Encoding", "If-None-Match", "If-Modified-Since":
		return true
	}
	return false
}

func cacheable(e *types.CacheEntry) bool {
	return e.Status >= 200 && e.Status < 300
}

// fetchAndStore fetches absURL and caches a 2xx response in tier
func (c *Cache) fetchAndStore(ctx context.Context, tier Tier, absURL string, header http.Header) (*types.CacheEntry, error) {
	entry, err := c.fetch(ctx, absURL, header)
	if err != nil {
		return nil, err
	}
	if cacheable(entry) {
		if err := c.Put(tier, entry); err != nil {
			c.logger.Warn().Err(err).Str("tier", string(tier)).Str("url", absURL).Msg("Failed to cache response")
		}
	}
	return entry, nil
}

// revalidate refreshes absURL in the background. Concurrent refreshes of the
// same entry collapse into one; refreshes beyond the rate limit are skipped.
// Errors are logged and otherwise ignored.
func (c *Cache) revalidate(tier Tier, absURL string, header http.Header) {
	if c.conn != nil && !c.conn.Online() {
		return
	}
	if !c.limiter.Allow() {
		c.logger.Debug().Str("url", absURL).Msg("Revalidation throttled")
		return
	}

	header = header.Clone()
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		_, _, _ = c.group.Do(string(tier)+" "+absURL, func() (any, error) {
			ctx, cancel := context.WithTimeout(context.Background(), c.opts.FetchTimeout)
			defer cancel()

			entry, err := c.fetchAndStore(ctx, tier, absURL, header)
			if err != nil {
				c.logger.Debug().Err(err).Str("url", absURL).Msg("Background revalidation failed")
				return nil, err
			}
			c.logger.Debug().Str("tier", string(tier)).Str("url", absURL).Int("status", entry.Status).Msg("Revalidated cache entry")
			return nil, nil
		})
	}()
}

// Wait blocks until background revalidations finish
func (c *Cache) Wait() {
	c.bg.Wait()
}

// PrimeReport lists install results per resource
type PrimeReport struct {
	Cached []string          `json:"cached"`
	Failed map[string]string `json:"failed,omitempty"`
}

// Install primes the critical resources and static assets. Each resource is
// fetched independently; failures are logged and reported, never fatal.
func (c *Cache) Install(ctx context.Context) PrimeReport {
	report := PrimeReport{Failed: make(map[string]string)}

	var prev ActiveVersion
	if _, err := c.meta.Get(activeKey, &prev); err != nil {
		c.logger.Warn().Err(err).Msg("Unreadable cache version record")
	}
	if prev.Version != "" && prev.Version != c.opts.Tiers.VersionTag() {
		c.logger.Info().Str("previous", prev.Version).Str("current", c.opts.Tiers.VersionTag()).Msg("New cache version available")
		c.broker.Publish(events.New(events.EventCacheUpdateAvailable, "new version available",
			"previous", prev.Version, "current", c.opts.Tiers.VersionTag()))
	}

	type job struct {
		tier Tier
		path string
	}
	var jobs []job
	for _, p := range c.opts.CriticalResources {
		jobs = append(jobs, job{TierCritical, p})
	}
	for _, p := range c.opts.StaticAssets {
		jobs = append(jobs, job{TierStatic, p})
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, j := range jobs {
		wg.Add(1)
		go func(j job) {
			defer wg.Done()

			label := string(j.tier) + ":" + j.path
			fctx, cancel := context.WithTimeout(ctx, c.opts.FetchTimeout)
			defer cancel()

			entry, err := c.fetch(fctx, c.resolve(j.path), nil)
			if err == nil && !cacheable(entry) {
				err = fmt.Errorf("unexpected status %d", entry.Status)
			}
			if err == nil {
				err = c.Put(j.tier, entry)
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				metrics.CachePrimeFailures.Inc()
				report.Failed[label] = err.Error()
				c.logger.Warn().Err(err).Str("tier", string(j.tier)).Str("url", j.path).Msg("Failed to prime resource")
				return
			}
			report.Cached = append(report.Cached, label)
		}(j)
	}
	wg.Wait()

	c.logger.Info().
		Int("cached", len(report.Cached)).
		Int("failed", len(report.Failed)).
		Msg("Cache install finished")
	return report
}

// Activate drops every cache tier that does not belong to the current
// version, records the version as active and announces offline readiness
func (c *Cache) Activate(ctx context.Context) error {
	names, err := c.store.PartitionsWithPrefix(PartitionPrefix)
	if err != nil {
		return fmt.Errorf("failed to list cache tiers: %w", err)
	}

	current := c.opts.Tiers.Current()
	for _, name := range names {
		if current[name] {
			continue
		}
		if err := c.store.DropPartition(name); err != nil {
			return err
		}
		c.logger.Info().Str("tier", strings.TrimPrefix(name, PartitionPrefix)).Msg("Deleted old cache tier")
	}

	active := ActiveVersion{Version: c.opts.Tiers.VersionTag(), ActivatedAt: c.now()}
	if err := c.meta.Set(activeKey, active); err != nil {
		return fmt.Errorf("failed to record active cache version: %w", err)
	}

	c.logger.Info().Str("version", active.Version).Msg("Cache activated, offline ready")
	c.broker.Publish(events.New(events.EventCacheOfflineReady, "ready for offline use",
		"version", active.Version))
	return nil
}

// Version returns the version tag of this build's tiers
func (c *Cache) Version() string {
	return c.opts.Tiers.VersionTag()
}

// Active returns the recorded active version, if any
func (c *Cache) Active() (ActiveVersion, bool) {
	var v ActiveVersion
	found, err := c.meta.Get(activeKey, &v)
	if err != nil || !found {
		return ActiveVersion{}, false
	}
	return v, true
}

// Purge deletes one tier
func (c *Cache) Purge(tier Tier) error {
	return c.store.DropPartition(c.opts.Tiers.Partition(tier))
}

// PurgeAll deletes every cache tier, including those of older versions
func (c *Cache) PurgeAll() error {
	names, err := c.store.PartitionsWithPrefix(PartitionPrefix)
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := c.store.DropPartition(name); err != nil {
			return err
		}
	}
	c.logger.Info().Int("count", len(names)).Msg("Purged cache tiers")
	return nil
}

// Stats returns the number of entries per tier
func (c *Cache) Stats() map[Tier]int {
	out := make(map[Tier]int, len(AllTiers))
	for _, tier := range AllTiers {
		keys, err := c.store.Partition(c.opts.Tiers.Partition(tier)).Keys()
		if err != nil {
			continue
		}
		out[tier] = len(keys)
	}
	return out
}
