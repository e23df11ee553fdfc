package coalescer

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/amino/pkg/log"
	"github.com/cuemby/amino/pkg/metrics"
	"github.com/cuemby/amino/pkg/storage"
	"github.com/rs/zerolog"
)

// DefaultDelay is the trailing debounce window
const DefaultDelay = 500 * time.Millisecond

// Coalescer batches writes to one partition. Writes are held in memory and
// flushed together once no SetItem has arrived for the debounce delay.
type Coalescer struct {
	kv     storage.KV
	delay  time.Duration
	logger zerolog.Logger

	mu      sync.Mutex
	pending map[string]any
	timer   *time.Timer
	closed  bool

	// serializes flushes so an older batch never lands after a newer one
	flushMu sync.Mutex
}

// New creates a coalescer over kv. A non-positive delay uses DefaultDelay.
func New(name string, kv storage.KV, delay time.Duration) *Coalescer {
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Coalescer{
		kv:      kv,
		delay:   delay,
		logger:  log.WithPartition("coalescer", name),
		pending: make(map[string]any),
	}
}

// SetItem records value for key and (re)arms the flush timer. It never
// blocks on storage. After Close the write goes straight to storage.
func (c *Coalescer) SetItem(key string, value any) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		if err := c.kv.Set(key, value); err != nil {
			c.logger.Error().Err(err).Str("key", key).Msg("Write after close failed")
		}
		return
	}

	c.pending[key] = value
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.delay, c.Flush)
	c.mu.Unlock()
}

// GetItem decodes the value for key into out, preferring a pending write
// over what is in storage
func (c *Coalescer) GetItem(key string, out any) (bool, error) {
	c.mu.Lock()
	value, ok := c.pending[key]
	c.mu.Unlock()

	if ok {
		data, err := json.Marshal(value)
		if err != nil {
			return false, fmt.Errorf("%w: %s: %v", storage.ErrSerialize, key, err)
		}
		if err := json.Unmarshal(data, out); err != nil {
			return false, fmt.Errorf("failed to decode pending %s: %w", key, err)
		}
		return true, nil
	}

	return c.kv.Get(key, out)
}

// RemoveItem drops any pending write for key and deletes it from storage
func (c *Coalescer) RemoveItem(key string) error {
	c.mu.Lock()
	delete(c.pending, key)
	c.mu.Unlock()

	return c.kv.Remove(key)
}

// Clear drops every pending write and empties the partition
func (c *Coalescer) Clear() error {
	c.mu.Lock()
	c.pending = make(map[string]any)
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()

	return c.kv.Clear()
}

// Pending returns the number of writes waiting for the next flush
func (c *Coalescer) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Flush writes every pending entry now. Entries are written concurrently; a
// failed entry is logged and dropped.
func (c *Coalescer) Flush() {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	c.mu.Lock()
	batch := c.pending
	c.pending = make(map[string]any)
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	var wg sync.WaitGroup
	for key, value := range batch {
		wg.Add(1)
		go func(key string, value any) {
			defer wg.Done()
			if err := c.kv.Set(key, value); err != nil {
				metrics.CoalescerWriteFailures.Inc()
				c.logger.Error().Err(err).Str("key", key).Msg("Coalesced write failed, dropping")
			}
		}(key, value)
	}
	wg.Wait()

	metrics.CoalescerFlushes.Inc()
	c.logger.Debug().Int("count", len(batch)).Msg("Flushed coalesced writes")
}

// Close flushes pending writes and stops the timer. Later SetItem calls
// write through.
func (c *Coalescer) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.Flush()
}
