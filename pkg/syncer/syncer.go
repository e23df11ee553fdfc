// Package syncer replays the Offline Action Queue against the backend when
// connectivity allows it.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cuemby/amino/pkg/events"
	"github.com/cuemby/amino/pkg/log"
	"github.com/cuemby/amino/pkg/metrics"
	"github.com/cuemby/amino/pkg/queue"
	"github.com/cuemby/amino/pkg/types"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// ErrOffline is returned by ForceSync when the backend is unreachable
var ErrOffline = errors.New("cannot sync while offline")

// Handler applies one action payload to the backend. Wrap queue.ErrPermanent
// for failures that retrying cannot fix.
type Handler func(ctx context.Context, payload json.RawMessage) error

// Connectivity reports whether the backend is currently reachable
type Connectivity interface {
	Online() bool
}

// Options tunes the engine's triggers
type Options struct {
	// Schedule is the cron spec of the periodic check
	Schedule string

	// SettleDelay is the wait after an offline to online transition
	SettleDelay time.Duration

	// ActionTimeout bounds a single replay
	ActionTimeout time.Duration
}

// DefaultOptions returns a 30s periodic check, 1s settle delay and a 10s
// per-action timeout
func DefaultOptions() Options {
	return Options{
		Schedule:      "@every 30s",
		SettleDelay:   time.Second,
		ActionTimeout: 10 * time.Second,
	}
}

// Engine drives queue drains
type Engine struct {
	queue  *queue.Queue
	conn   Connectivity
	broker *events.Broker
	opts   Options
	logger zerolog.Logger

	mu       sync.RWMutex
	handlers map[types.ActionType]Handler

	cron    *cron.Cron
	entryID cron.EntryID
	stopCh  chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
}

// New creates an engine. Call Start to enable the periodic check.
func New(q *queue.Queue, conn Connectivity, broker *events.Broker, opts Options) *Engine {
	def := DefaultOptions()
	if opts.Schedule == "" {
		opts.Schedule = def.Schedule
	}
	if opts.SettleDelay < 0 {
		opts.SettleDelay = 0
	}
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = def.ActionTimeout
	}

	return &Engine{
		queue:    q,
		conn:     conn,
		broker:   broker,
		opts:     opts,
		logger:   log.WithComponent("syncer"),
		handlers: make(map[types.ActionType]Handler),
		cron:     cron.New(),
		stopCh:   make(chan struct{}),
	}
}

// Register installs the handler for an action type, replacing any previous one
func (e *Engine) Register(t types.ActionType, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[t] = h
}

// RegisterAll installs every handler in hs
func (e *Engine) RegisterAll(hs map[types.ActionType]Handler) {
	for t, h := range hs {
		e.Register(t, h)
	}
}

// Start schedules the periodic check
func (e *Engine) Start() error {
	id, err := e.cron.AddFunc(e.opts.Schedule, e.periodic)
	if err != nil {
		return fmt.Errorf("invalid sync schedule %q: %w", e.opts.Schedule, err)
	}
	e.entryID = id
	e.cron.Start()

	e.logger.Info().Str("schedule", e.opts.Schedule).Msg("Sync engine started")
	return nil
}

// Stop halts the periodic check and waits for pending triggers to return
func (e *Engine) Stop() {
	e.stopped.Do(func() {
		<-e.cron.Stop().Done()
		close(e.stopCh)
	})
	e.wg.Wait()
	e.logger.Info().Msg("Sync engine stopped")
}

// HandleOnline reacts to an offline to online transition. After the settle
// delay it re-checks connectivity and drains when work is pending.
func (e *Engine) HandleOnline(ctx context.Context) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		select {
		case <-time.After(e.opts.SettleDelay):
		case <-e.stopCh:
			return
		}

		if !e.conn.Online() {
			e.logger.Debug().Msg("Connection dropped during settle delay, skipping sync")
			return
		}
		if e.queue.Len() == 0 {
			return
		}
		if _, err := e.Sync(context.WithoutCancel(ctx)); err != nil {
			e.logger.Error().Err(err).Msg("Sync after reconnect failed")
		}
	}()
}

// ForceSync drains immediately. It returns ErrOffline without touching the
// queue when the backend is unreachable.
func (e *Engine) ForceSync(ctx context.Context) (queue.DrainResult, error) {
	if !e.conn.Online() {
		return queue.DrainResult{}, ErrOffline
	}
	return e.Sync(ctx)
}

// Sync runs one drain cycle. Replay failures stay in the queue and are only
// reported through the result; the returned error is reserved for storage
// failures. A drain that is already running makes this a no-op.
func (e *Engine) Sync(ctx context.Context) (queue.DrainResult, error) {
	timer := metrics.NewTimer()
	res, err := e.queue.DrainNotify(ctx, e.replay, func(pending int) {
		e.broker.Publish(events.New(events.EventSyncStarted, "sync started",
			"pending", strconv.Itoa(pending)))
	})
	if errors.Is(err, queue.ErrDrainInProgress) {
		e.logger.Debug().Msg("Sync already running, skipping")
		return queue.DrainResult{}, nil
	}
	timer.ObserveDuration(metrics.SyncDuration)
	metrics.SyncCycles.Inc()

	e.broker.Publish(events.New(events.EventSyncCompleted, "sync completed",
		"processed", strconv.Itoa(res.Processed),
		"failed", strconv.Itoa(res.Failed),
		"permanent", strconv.Itoa(res.Permanent),
		"remaining", strconv.Itoa(res.Remaining)))

	logEvt := e.logger.Info()
	if res.Remaining > 0 {
		logEvt = e.logger.Warn().Strs("remaining_ids", res.RemainingIDs)
	}
	logEvt.
		Int("processed", res.Processed).
		Int("failed", res.Failed).
		Int("permanent", res.Permanent).
		Int("remaining", res.Remaining).
		Dur("duration", timer.Duration()).
		Msg("Sync cycle finished")

	if err != nil {
		return res, fmt.Errorf("sync failed: %w", err)
	}
	return res, nil
}

func (e *Engine) periodic() {
	if !e.conn.Online() || e.queue.Len() == 0 {
		return
	}
	if e.queue.Status().SyncStatus.SyncInProgress {
		e.logger.Debug().Msg("Sync already running, skipping scheduled run")
		return
	}

	e.logger.Info().Int("count", e.queue.Len()).Msg("Triggering scheduled sync")
	if _, err := e.Sync(context.Background()); err != nil {
		e.logger.Error().Err(err).Msg("Scheduled sync failed")
	}
}

func (e *Engine) replay(ctx context.Context, action *types.OfflineAction) error {
	e.mu.RLock()
	h, ok := e.handlers[action.Type]
	e.mu.RUnlock()

	if !ok {
		return fmt.Errorf("no handler registered for action type %q: %w", action.Type, queue.ErrPermanent)
	}

	ctx, cancel := context.WithTimeout(ctx, e.opts.ActionTimeout)
	defer cancel()

	return h(ctx, action.Payload)
}
