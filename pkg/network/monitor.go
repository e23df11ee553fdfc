package network

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/amino/pkg/events"
	"github.com/cuemby/amino/pkg/health"
	"github.com/cuemby/amino/pkg/lifecycle"
	"github.com/cuemby/amino/pkg/log"
	"github.com/cuemby/amino/pkg/metrics"
	"github.com/cuemby/amino/pkg/status"
	"github.com/rs/zerolog"
)

// DefaultSettleWindow is the minimum gap between two online notifications
const DefaultSettleWindow = time.Second

// Monitor probes backend reachability
type Monitor struct {
	checker health.Checker
	config  health.Config
	settle  time.Duration
	tracker *status.Tracker
	broker  *events.Broker
	hooks   *lifecycle.Hooks
	logger  zerolog.Logger

	applyMu sync.Mutex

	mu           sync.Mutex
	status       *health.Status
	online       bool
	lastNotified time.Time

	stopCh  chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
}

// NewMonitor creates a monitor that starts offline until the first probe
// succeeds
func NewMonitor(checker health.Checker, config health.Config, settle time.Duration, tracker *status.Tracker, broker *events.Broker, hooks *lifecycle.Hooks) *Monitor {
	def := health.DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.Retries <= 0 {
		config.Retries = def.Retries
	}
	if settle < 0 {
		settle = 0
	}

	m := &Monitor{
		checker: checker,
		config:  config,
		settle:  settle,
		tracker: tracker,
		broker:  broker,
		hooks:   hooks,
		logger:  log.WithComponent("network"),
		status:  health.NewStatusWith(false),
		stopCh:  make(chan struct{}),
	}

	// A previous run may have left the record online
	tracker.SetConnection(false, time.Now())
	metrics.NetworkOnline.Set(0)
	metrics.RegisterComponent(metrics.ComponentNetwork, false, "offline")
	return m
}

// Start runs the first probe immediately, then one per interval
func (m *Monitor) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.loop(ctx)
	}()
}

// Stop halts probing and waits for the loop to exit
func (m *Monitor) Stop() {
	m.stopped.Do(func() {
		close(m.stopCh)
	})
	m.wg.Wait()
}

func (m *Monitor) loop(ctx context.Context) {
	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	m.CheckNow(ctx)

	for {
		select {
		case <-ticker.C:
			m.CheckNow(ctx)
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		}
	}
}

// CheckNow runs one probe and applies the result. It returns the online
// state after the result was applied.
func (m *Monitor) CheckNow(ctx context.Context) bool {
	checkCtx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	result := m.checker.Check(checkCtx)
	cancel()

	if !result.Healthy {
		m.logger.Debug().Str("probe_detail", result.Message).Msg("Connectivity check failed")
	}

	m.applyMu.Lock()
	defer m.applyMu.Unlock()

	m.mu.Lock()
	m.status.Update(result, m.config)
	c := m.setOnline(m.status.Healthy)
	m.mu.Unlock()

	m.publish(ctx, c, result.Message)
	return c.online
}

// SetOnline forces the connectivity state, bypassing the probes
func (m *Monitor) SetOnline(ctx context.Context, online bool) {
	m.applyMu.Lock()
	defer m.applyMu.Unlock()

	m.mu.Lock()
	m.status = health.NewStatusWith(online)
	c := m.setOnline(online)
	m.mu.Unlock()

	m.publish(ctx, c, "manual override")
}

// Online reports the current connectivity state
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

type change struct {
	online  bool
	changed bool
	notify  bool
	at      time.Time
}

// setOnline records the connectivity state. m.mu must be held.
func (m *Monitor) setOnline(online bool) change {
	c := change{online: online, at: time.Now()}
	if m.online == online {
		return c
	}
	m.online = online
	c.changed, c.notify = true, true
	if online {
		if !m.lastNotified.IsZero() && c.at.Sub(m.lastNotified) < m.settle {
			c.notify = false
		} else {
			m.lastNotified = c.at
		}
	}
	return c
}

// publish runs the side effects of a state change. m.applyMu must be held so
// that the tracker, events and hooks see changes in the order they were made.
func (m *Monitor) publish(ctx context.Context, c change, reason string) {
	if !c.changed {
		return
	}

	m.tracker.SetConnection(c.online, c.at)

	if c.online {
		metrics.NetworkOnline.Set(1)
		metrics.UpdateComponent(metrics.ComponentNetwork, true, "online")
		m.logger.Info().Str("reason", reason).Msg("Backend reachable, now online")
	} else {
		metrics.NetworkOnline.Set(0)
		metrics.UpdateComponent(metrics.ComponentNetwork, false, "offline")
		m.logger.Warn().Str("reason", reason).Msg("Backend unreachable, now offline")
	}

	if !c.notify {
		m.logger.Debug().Msg("Online notification suppressed inside settle window")
		return
	}

	if c.online {
		m.broker.Publish(events.New(events.EventNetworkOnline, "connection restored"))
		m.hooks.Fire(ctx, lifecycle.EventOnline)
	} else {
		m.broker.Publish(events.New(events.EventNetworkOffline, "connection lost", "reason", reason))
		m.hooks.Fire(ctx, lifecycle.EventOffline)
	}
}
