package engine

import (
	"sync"
	"time"

	"github.com/c0deZ3R0/docsync/conflict"
	"github.com/c0deZ3R0/docsync/resolve"
)

// Hooks provides optional callbacks for observing the conflict lifecycle.
// All hooks are optional; nil functions are safe no-ops.
type Hooks struct {
	OnStateChange       func(documentID string, from, to State)
	OnAutoResolveFailed func(c conflict.ConflictInfo, err error)
	OnResolved          func(c conflict.ConflictInfo, result resolve.ResolutionResult)
	OnRetry             func(documentID string, attempt int, err error)
}

func (h Hooks) stateChange(documentID string, from, to State) {
	if h.OnStateChange != nil {
		h.OnStateChange(documentID, from, to)
	}
}

func (h Hooks) autoResolveFailed(c conflict.ConflictInfo, err error) {
	if h.OnAutoResolveFailed != nil {
		h.OnAutoResolveFailed(c, err)
	}
}

func (h Hooks) resolved(c conflict.ConflictInfo, r resolve.ResolutionResult) {
	if h.OnResolved != nil {
		h.OnResolved(c, r)
	}
}

func (h Hooks) retry(documentID string, attempt int, err error) {
	if h.OnRetry != nil {
		h.OnRetry(documentID, attempt, err)
	}
}

// MetricsCollector provides hooks for collecting conflict engine metrics.
type MetricsCollector interface {
	// RecordClassification records a newly classified conflict
	RecordClassification(t conflict.ConflictType, s conflict.Severity)

	// RecordResolution records one resolution attempt and how long it took
	RecordResolution(strategy string, duration time.Duration, success bool)

	// RecordQueueDepth records the number of conflicts awaiting a human
	RecordQueueDepth(depth int)

	// RecordRetry records a write-back retry
	RecordRetry(documentID string)
}

// NoOpMetricsCollector is a default implementation that does nothing
type NoOpMetricsCollector struct{}

func (n *NoOpMetricsCollector) RecordClassification(conflict.ConflictType, conflict.Severity) {}
func (n *NoOpMetricsCollector) RecordResolution(string, time.Duration, bool)                 {}
func (n *NoOpMetricsCollector) RecordQueueDepth(int)                                         {}
func (n *NoOpMetricsCollector) RecordRetry(string)                                           {}

// MetricsSnapshot is a point-in-time copy of a CountingCollector.
type MetricsSnapshot struct {
	Classifications map[conflict.ConflictType]int
	Resolutions     map[string]int
	Failures        map[string]int
	Retries         int
	QueueDepth      int
	TotalDuration   time.Duration
}

// CountingCollector keeps in-memory counters. Useful in tests and for the CLI.
type CountingCollector struct {
	mu sync.Mutex
	m  MetricsSnapshot
}

// NewCountingCollector creates an empty CountingCollector.
func NewCountingCollector() *CountingCollector {
	return &CountingCollector{m: MetricsSnapshot{
		Classifications: make(map[conflict.ConflictType]int),
		Resolutions:     make(map[string]int),
		Failures:        make(map[string]int),
	}}
}

func (c *CountingCollector) RecordClassification(t conflict.ConflictType, _ conflict.Severity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m.Classifications[t]++
}

func (c *CountingCollector) RecordResolution(strategy string, d time.Duration, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if success {
		c.m.Resolutions[strategy]++
	} else {
		c.m.Failures[strategy]++
	}
	c.m.TotalDuration += d
}

func (c *CountingCollector) RecordQueueDepth(depth int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m.QueueDepth = depth
}

func (c *CountingCollector) RecordRetry(string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m.Retries++
}

// Snapshot returns a copy of the counters.
func (c *CountingCollector) Snapshot() MetricsSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.m
	out.Classifications = make(map[conflict.ConflictType]int, len(c.m.Classifications))
	out.Resolutions = make(map[string]int, len(c.m.Resolutions))
	out.Failures = make(map[string]int, len(c.m.Failures))
	for k, v := range c.m.Classifications {
		out.Classifications[k] = v
	}
	for k, v := range c.m.Resolutions {
		out.Resolutions[k] = v
	}
	for k, v := range c.m.Failures {
		out.Failures[k] = v
	}
	return out
}
