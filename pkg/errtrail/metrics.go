// metrics.go counts pipeline outcomes.

package errtrail

import "sync/atomic"

// Metrics tracks pipeline outcome counters. All methods are safe for
// concurrent use.
type Metrics struct {
	total     atomic.Int64
	filtered  atomic.Int64
	delivered atomic.Int64
	failed    atomic.Int64
	queued    atomic.Int64
	dropped   atomic.Int64
}

// MetricsSnapshot is a point-in-time copy of the counters.
type MetricsSnapshot struct {
	Total     int64 `json:"total"`
	Filtered  int64 `json:"filtered"`
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
	Queued    int64 `json:"queued"`
	Dropped   int64 `json:"dropped"`
}

func (m *Metrics) Captured()  { m.total.Add(1) }
func (m *Metrics) Filtered()  { m.filtered.Add(1) }
func (m *Metrics) Delivered() { m.delivered.Add(1) }
func (m *Metrics) Failed()    { m.failed.Add(1) }
func (m *Metrics) Queued()    { m.queued.Add(1) }
func (m *Metrics) Dropped()   { m.dropped.Add(1) }

// Snapshot returns the current counter values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Total:     m.total.Load(),
		Filtered:  m.filtered.Load(),
		Delivered: m.delivered.Load(),
		Failed:    m.failed.Load(),
		Queued:    m.queued.Load(),
		Dropped:   m.dropped.Load(),
	}
}

// Reset zeroes all counters.
func (m *Metrics) Reset() {
	m.total.Store(0)
	m.filtered.Store(0)
	m.delivered.Store(0)
	m.failed.Store(0)
	m.queued.Store(0)
	m.dropped.Store(0)
}
