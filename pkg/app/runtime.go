package app

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/cuemby/amino/pkg/api"
	"github.com/cuemby/amino/pkg/cache"
	"github.com/cuemby/amino/pkg/coalescer"
	"github.com/cuemby/amino/pkg/config"
	"github.com/cuemby/amino/pkg/domain"
	"github.com/cuemby/amino/pkg/events"
	"github.com/cuemby/amino/pkg/health"
	"github.com/cuemby/amino/pkg/lifecycle"
	"github.com/cuemby/amino/pkg/log"
	"github.com/cuemby/amino/pkg/metrics"
	"github.com/cuemby/amino/pkg/network"
	"github.com/cuemby/amino/pkg/queue"
	"github.com/cuemby/amino/pkg/session"
	"github.com/cuemby/amino/pkg/status"
	"github.com/cuemby/amino/pkg/storage"
	"github.com/cuemby/amino/pkg/syncer"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ErrNotInitialized is returned by Run before Init
var ErrNotInitialized = errors.New("runtime not initialized")

// Runtime owns every component of a running amino process. Components are
// built by Init and torn down in reverse order by Shutdown.
type Runtime struct {
	cfg     *config.Config
	version string
	logger  zerolog.Logger

	Store     *storage.Store
	Broker    *events.Broker
	Tracker   *status.Tracker
	Sessions  *coalescer.Coalescer
	Queue     *queue.Queue
	Syncer    *syncer.Engine
	Hooks     *lifecycle.Hooks
	Monitor   *network.Monitor
	Repo      *domain.Repository
	Gateway   *domain.Gateway
	Session   *session.Manager
	Cache     *cache.Cache
	Proxy     *cache.Proxy
	API       *api.Server
	collector *metrics.Collector

	// store overrides storage.Open, for tests
	store *storage.Store

	mu          sync.Mutex
	initialized bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	errCh       chan error
	shutdown    sync.Once
}

// Option customizes a Runtime
type Option func(*Runtime)

// WithStore makes the runtime use store instead of opening the data directory
func WithStore(store *storage.Store) Option {
	return func(r *Runtime) { r.store = store }
}

// New creates an uninitialized runtime
func New(cfg *config.Config, version string, opts ...Option) *Runtime {
	r := &Runtime{
		cfg:     cfg,
		version: version,
		logger:  log.WithComponent("runtime"),
		errCh:   make(chan error, 2),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Init opens storage and builds and starts every component. Listeners are
// started by Run.
func (r *Runtime) Init(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.initialized {
		return nil
	}
	cfg := r.cfg

	metrics.SetVersion(r.version)

	store := r.store
	if store == nil {
		var err error
		store, err = storage.Open(storage.Options{DataDir: cfg.DataDir, Drivers: cfg.Storage.Drivers})
		if err != nil {
			metrics.RegisterComponent(metrics.ComponentStorage, false, err.Error())
			return fmt.Errorf("failed to open storage: %w", err)
		}
	}
	r.Store = store
	metrics.RegisterComponent(metrics.ComponentStorage, true, store.Driver())

	r.Broker = events.NewBroker()
	r.Broker.Start()

	r.Tracker = status.New(store.Partition(status.Partition))
	r.Sessions = coalescer.New(session.SessionPartition, store.Partition(session.SessionPartition), cfg.Session.CoalesceDelay)
	r.Hooks = lifecycle.NewHooks()

	r.Queue = queue.New(store, r.Tracker, r.Broker, queue.Options{
		BatchSize:  cfg.Queue.BatchSize,
		BatchPause: cfg.Queue.BatchPause,
	})
	metrics.RegisterComponent(metrics.ComponentQueue, true, "")

	checker := health.ForBackend(cfg.CheckURL(), cfg.Network.CheckAddr, cfg.Network.Timeout)
	r.Monitor = network.NewMonitor(checker, health.Config{
		Interval: cfg.Network.Interval,
		Timeout:  cfg.Network.Timeout,
		Retries:  cfg.Network.Retries,
	}, cfg.Network.SettleWindow, r.Tracker, r.Broker, r.Hooks)

	backend, err := domain.NewBackendClient(cfg.BackendURL(), cfg.Backend.Timeout)
	if err != nil {
		r.teardown()
		return err
	}
	if cfg.Backend.APIKey != "" {
		backend.SetHeader("Authorization", "Bearer "+cfg.Backend.APIKey)
	}

	r.Syncer = syncer.New(r.Queue, r.Monitor, r.Broker, syncer.Options{
		Schedule:      cfg.Sync.Schedule,
		SettleDelay:   cfg.Sync.SettleDelay,
		ActionTimeout: cfg.Sync.ActionTimeout,
	})
	r.Syncer.RegisterAll(domain.Handlers(backend))

	r.Repo = domain.NewRepository(store)
	r.Gateway = domain.NewGateway(r.Repo, backend, r.Queue, r.Monitor)

	sessOpts := session.DefaultOptions()
	sessOpts.SaveInterval = cfg.Session.SaveInterval
	sessOpts.BackupRetention = cfg.Session.BackupRetention
	r.Session = session.New(store, r.Repo, r.Sessions, r.Broker, r.Hooks, r.Syncer, sessOpts)

	if cfg.Proxy.Enabled {
		origin, err := url.Parse(cfg.Origin)
		if err != nil {
			r.teardown()
			return fmt.Errorf("invalid origin: %w", err)
		}
		cacheOpts := cache.DefaultOptions(origin)
		cacheOpts.Tiers = cache.Tiers{Prefix: cfg.Cache.Prefix, Version: cfg.Cache.Version}
		cacheOpts.FetchTimeout = cfg.Cache.FetchTimeout
		cacheOpts.NavigationTimeout = cfg.Cache.NavigationTimeout
		cacheOpts.RevalidateRate = rate.Limit(cfg.Cache.RevalidateRate)
		cacheOpts.RevalidateBurst = cfg.Cache.RevalidateBurst
		r.Cache, err = cache.New(store, r.Monitor, r.Broker, cacheOpts)
		if err != nil {
			r.teardown()
			return err
		}
		r.Proxy = cache.NewProxy(r.Cache, cfg.Proxy.Addr)
	}

	r.API = api.NewServer(api.Deps{
		Store:   store,
		Queue:   r.Queue,
		Syncer:  r.Syncer,
		Session: r.Session,
		Cache:   r.Cache,
		Gateway: r.Gateway,
		Hooks:   r.Hooks,
		Broker:  r.Broker,
		Network: r.Monitor,
		Health:  metrics.Default(),
	}, api.Options{
		Addr:        cfg.API.Addr,
		AllowedIPs:  cfg.API.AllowedIPs,
		WriteIPs:    cfg.API.WriteIPs,
		CORSOrigins: cfg.API.CORSOrigins,
		RateLimit:   cfg.API.RateLimit,
		RateBurst:   cfg.API.RateBurst,
		Version:     r.version,
	})

	if err := r.Syncer.Start(); err != nil {
		r.teardown()
		return err
	}

	// The session registers its lifecycle hooks before the first probe can
	// fire the online transition.
	if err := r.Session.Start(ctx); err != nil {
		r.teardown()
		return err
	}
	if _, err := r.Session.ValidateDataIntegrity(ctx); err != nil {
		r.logger.Error().Err(err).Msg("Startup integrity check failed")
	}

	r.collector = metrics.NewCollector(r.Queue)
	r.collector.Start()

	r.initialized = true
	r.logger.Info().
		Str("version", r.version).
		Str("driver", store.Driver()).
		Int("pending", r.Queue.Len()).
		Msg("Runtime initialized")
	return nil
}

// Run starts the probes, the cache install and the listeners, then blocks
// until ctx is cancelled or a listener fails. It does not call Shutdown.
func (r *Runtime) Run(ctx context.Context) error {
	r.mu.Lock()
	if !r.initialized {
		r.mu.Unlock()
		return ErrNotInitialized
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.mu.Unlock()

	r.Monitor.Start(ctx)

	if r.Cache != nil {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			report := r.Cache.Install(ctx)
			if len(report.Failed) > 0 {
				r.logger.Warn().Int("failed", len(report.Failed)).Msg("Some resources were not primed")
			}
			if err := r.Cache.Activate(ctx); err != nil {
				r.logger.Error().Err(err).Msg("Cache activation failed")
			}
		}()
		metrics.RegisterComponent(metrics.ComponentProxy, true, r.cfg.Proxy.Addr)
		r.serve(ctx, metrics.ComponentProxy, r.Proxy.Start)
	}

	metrics.RegisterComponent(metrics.ComponentAPI, true, r.cfg.API.Addr)
	r.serve(ctx, metrics.ComponentAPI, r.API.Start)

	select {
	case <-ctx.Done():
		return nil
	case err := <-r.errCh:
		cancel()
		return err
	}
}

func (r *Runtime) serve(ctx context.Context, name string, start func(context.Context) error) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := start(ctx); err != nil {
			metrics.UpdateComponent(name, false, err.Error())
			r.errCh <- err
		}
	}()
}

// Shutdown stops the listeners and background work, closes the session and
// flushes pending writes before closing storage. Safe to call more than once.
func (r *Runtime) Shutdown() {
	r.shutdown.Do(func() {
		r.logger.Info().Msg("Shutting down runtime")

		r.mu.Lock()
		cancel := r.cancel
		r.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		r.wg.Wait()

		r.teardown()
		r.logger.Info().Msg("Runtime stopped")
	})
}

// teardown releases every component that was built, in reverse order
func (r *Runtime) teardown() {
	if r.Monitor != nil {
		r.Monitor.Stop()
	}
	if r.Syncer != nil {
		r.Syncer.Stop()
	}
	if r.collector != nil {
		r.collector.Stop()
	}
	if r.Session != nil && r.initialized {
		r.Session.Shutdown()
	}
	if r.Cache != nil {
		r.Cache.Wait()
	}
	if r.Sessions != nil {
		r.Sessions.Close()
	}
	if r.Broker != nil {
		r.Broker.Stop()
	}
	if r.Store != nil {
		if err := r.Store.Close(); err != nil {
			r.logger.Error().Err(err).Msg("Failed to close storage")
		}
	}
}
