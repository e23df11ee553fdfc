package metrics

import (
	"time"
)

// QueueSource reports queue sizes for periodic sampling
type QueueSource interface {
	Len() int
	DeadLetterCount() int
}

// Collector samples gauges that are not updated inline
type Collector struct {
	source   QueueSource
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(src QueueSource) *Collector {
	return &Collector{
		source:   src,
		interval: 15 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	if c.source == nil {
		return
	}
	QueueLength.Set(float64(c.source.Len()))
	DeadLetters.Set(float64(c.source.DeadLetterCount()))
}
