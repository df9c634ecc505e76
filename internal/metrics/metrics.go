// Package metrics holds the process-wide work counters. The collector is
// passive: only the worker pool writes to it, once per completed unit of
// work, and everything else reads snapshots.
package metrics

import (
	"sync/atomic"
	"time"
)

// Collector accumulates completion totals. Safe for concurrent use.
type Collector struct {
	totalProcessed atomic.Int64
	totalLatencyNS atomic.Int64
}

// NewCollector returns a zeroed collector.
func NewCollector() *Collector {
	return &Collector{}
}

// RecordCompletion counts one finished unit of work and its elapsed time,
// measured from the item's original arrival.
func (c *Collector) RecordCompletion(elapsed time.Duration) {
	c.totalProcessed.Add(1)
	c.totalLatencyNS.Add(int64(elapsed))
}

// TotalProcessed reports how many units of work have completed.
func (c *Collector) TotalProcessed() int64 {
	return c.totalProcessed.Load()
}

// AvgLatency is the mean elapsed time per completed unit, zero before the
// first completion.
func (c *Collector) AvgLatency() time.Duration {
	n := c.totalProcessed.Load()
	if n == 0 {
		return 0
	}
	return time.Duration(c.totalLatencyNS.Load() / n)
}

// Snapshot is the read-only status surface. Gauges are sampled by the
// caller that owns them; totals come from the collector.
type Snapshot struct {
	ActiveWorkers  int     `json:"active_workers"`
	QueueLength    int     `json:"queue_length"`
	AvgLatencyMS   float64 `json:"avg_latency_ms"`
	TotalProcessed int64   `json:"total_processed"`
	Concurrency    int     `json:"concurrency"`
	MaxQueueSize   int     `json:"max_queue_size"`
}

// Snapshot combines the collector's totals with the given live gauges.
func (c *Collector) Snapshot(activeWorkers, queueLength, concurrency, maxQueueSize int) Snapshot {
	return Snapshot{
		ActiveWorkers:  activeWorkers,
		QueueLength:    queueLength,
		AvgLatencyMS:   float64(c.AvgLatency()) / float64(time.Millisecond),
		TotalProcessed: c.TotalProcessed(),
		Concurrency:    concurrency,
		MaxQueueSize:   maxQueueSize,
	}
}
