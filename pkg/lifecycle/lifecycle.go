// Package lifecycle is the single registration table for process and UI
// lifecycle signals: page visibility, connectivity and idleness.
package lifecycle

import (
	"context"
	"fmt"
	"sync"

	"github.com/cuemby/amino/pkg/log"
	"github.com/rs/zerolog"
)

// Event names a lifecycle signal
type Event string

const (
	EventVisible Event = "visible"
	EventHidden  Event = "hidden"
	EventOnline  Event = "online"
	EventOffline Event = "offline"
	EventIdle    Event = "idle"
)

// Events lists every known lifecycle event
var Events = []Event{EventVisible, EventHidden, EventOnline, EventOffline, EventIdle}

// ParseEvent validates an event name
func ParseEvent(s string) (Event, error) {
	for _, e := range Events {
		if string(e) == s {
			return e, nil
		}
	}
	return "", fmt.Errorf("unknown lifecycle event %q", s)
}

// Hook reacts to a lifecycle event
type Hook func(ctx context.Context)

// Hooks holds the registered hooks per event
type Hooks struct {
	mu     sync.RWMutex
	hooks  map[Event][]Hook
	logger zerolog.Logger
}

// NewHooks creates an empty table
func NewHooks() *Hooks {
	return &Hooks{
		hooks:  make(map[Event][]Hook),
		logger: log.WithComponent("lifecycle"),
	}
}

// On registers h for e
func (h *Hooks) On(e Event, hook Hook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hooks[e] = append(h.hooks[e], hook)
}

func (h *Hooks) OnVisible(hook Hook) { h.On(EventVisible, hook) }
func (h *Hooks) OnHidden(hook Hook)  { h.On(EventHidden, hook) }
func (h *Hooks) OnOnline(hook Hook)  { h.On(EventOnline, hook) }
func (h *Hooks) OnOffline(hook Hook) { h.On(EventOffline, hook) }
func (h *Hooks) OnIdle(hook Hook)    { h.On(EventIdle, hook) }

// Count returns the number of hooks registered for e
func (h *Hooks) Count(e Event) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.hooks[e])
}

// Fire runs the hooks for e in registration order. A panicking hook is
// logged and the remaining hooks still run. A nil table is a no-op.
func (h *Hooks) Fire(ctx context.Context, e Event) {
	if h == nil {
		return
	}

	h.mu.RLock()
	hooks := append([]Hook(nil), h.hooks[e]...)
	h.mu.RUnlock()

	h.logger.Debug().Str("event", string(e)).Int("count", len(hooks)).Msg("Firing lifecycle hooks")
	for i, hook := range hooks {
		h.run(ctx, e, i, hook)
	}
}

func (h *Hooks) run(ctx context.Context, e Event, i int, hook Hook) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error().
				Str("event", string(e)).
				Int("hook", i).
				Interface("panic", r).
				Msg("Lifecycle hook panicked")
		}
	}()
	hook(ctx)
}
