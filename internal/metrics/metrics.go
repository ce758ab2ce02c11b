package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics is an in-process collector for counters, gauges, timers and health
// checks, exposed over the API's metrics endpoint.
type Metrics struct {
	mu       sync.RWMutex
	counters map[string]*int64
	gauges   map[string]*int64
	timers   map[string]*timer
	health   map[string]*int64
	started  time.Time
}

type timer struct {
	count   int64
	totalMs int64
	minMs   int64
	maxMs   int64
}

// TimerStats is a snapshot of a timer.
type TimerStats struct {
	Count     int64   `json:"count"`
	TotalMs   int64   `json:"total_time_ms"`
	AverageMs float64 `json:"average_time_ms"`
	MinMs     int64   `json:"min_time_ms"`
	MaxMs     int64   `json:"max_time_ms"`
}

// NewMetrics creates a new metrics collector
func NewMetrics() *Metrics {
	return &Metrics{
		counters: make(map[string]*int64),
		gauges:   make(map[string]*int64),
		timers:   make(map[string]*timer),
		health:   make(map[string]*int64),
		started:  time.Now(),
	}
}

// IncrementCounter increments a counter by 1
func (m *Metrics) IncrementCounter(name string) {
	m.IncrementCounterBy(name, 1)
}

// IncrementCounterBy increments a counter by the specified value
func (m *Metrics) IncrementCounterBy(name string, value int64) {
	atomic.AddInt64(m.counter(name), value)
}

// SetGauge sets a gauge to a specific value
func (m *Metrics) SetGauge(name string, value int64) {
	m.mu.Lock()
	g, ok := m.gauges[name]
	if !ok {
		var v int64
		g = &v
		m.gauges[name] = g
	}
	m.mu.Unlock()
	atomic.StoreInt64(g, value)
}

// RecordTimer records a duration measurement in milliseconds
func (m *Metrics) RecordTimer(name string, duration time.Duration) {
	ms := duration.Milliseconds()

	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.timers[name]
	if !ok {
		t = &timer{minMs: ms, maxMs: ms}
		m.timers[name] = t
	}
	t.count++
	t.totalMs += ms
	if ms < t.minMs {
		t.minMs = ms
	}
	if ms > t.maxMs {
		t.maxMs = ms
	}
}

// SetHealthCheck records the health of a dependency
func (m *Metrics) SetHealthCheck(name string, healthy bool) {
	var v int64
	if healthy {
		v = 1
	}
	m.mu.Lock()
	h, ok := m.health[name]
	if !ok {
		var n int64
		h = &n
		m.health[name] = h
	}
	m.mu.Unlock()
	atomic.StoreInt64(h, v)
}

// GetHealthChecks returns a snapshot of dependency health
func (m *Metrics) GetHealthChecks() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]bool, len(m.health))
	for name, h := range m.health {
		out[name] = atomic.LoadInt64(h) == 1
	}
	return out
}

// GetAllMetrics returns a snapshot of all collected metrics
func (m *Metrics) GetAllMetrics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counters := make(map[string]int64, len(m.counters))
	for name, c := range m.counters {
		counters[name] = atomic.LoadInt64(c)
	}
	gauges := make(map[string]int64, len(m.gauges))
	for name, g := range m.gauges {
		gauges[name] = atomic.LoadInt64(g)
	}
	timers := make(map[string]TimerStats, len(m.timers))
	for name, t := range m.timers {
		stats := TimerStats{Count: t.count, TotalMs: t.totalMs, MinMs: t.minMs, MaxMs: t.maxMs}
		if t.count > 0 {
			stats.AverageMs = float64(t.totalMs) / float64(t.count)
		}
		timers[name] = stats
	}
	health := make(map[string]bool, len(m.health))
	for name, h := range m.health {
		health[name] = atomic.LoadInt64(h) == 1
	}

	return map[string]interface{}{
		"uptime_seconds": int64(time.Since(m.started).Seconds()),
		"counters":       counters,
		"gauges":         gauges,
		"timers":         timers,
		"health":         health,
	}
}

func (m *Metrics) counter(name string) *int64 {
	m.mu.RLock()
	c, ok := m.counters[name]
	m.mu.RUnlock()
	if ok {
		return c
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok = m.counters[name]; !ok {
		var v int64
		c = &v
		m.counters[name] = c
	}
	return c
}
