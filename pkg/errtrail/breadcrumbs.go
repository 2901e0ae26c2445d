// breadcrumbs.go implements the bounded, time-ordered breadcrumb log.

package errtrail

import (
	"sync"
	"time"
)

// DefaultMaxBreadcrumbs bounds the breadcrumb log when no limit is configured.
const DefaultMaxBreadcrumbs = 100

// BreadcrumbLog is a ring buffer of breadcrumbs with synchronous subscriber
// fanout. Safe for concurrent use.
//
// Ring semantics: Add appends, then drops from the head once the log exceeds
// its limit. Oldest entries go first, order is never disturbed, and overflow
// is silent (no error, no backpressure).
type BreadcrumbLog struct {
	mu    sync.Mutex
	max   int
	items []Breadcrumb
	subs  map[uint64]func(Breadcrumb)
	seq   uint64
}

// NewBreadcrumbLog creates a log bounded at max entries.
func NewBreadcrumbLog(max int) *BreadcrumbLog {
	if max <= 0 {
		max = DefaultMaxBreadcrumbs
	}
	return &BreadcrumbLog{max: max, subs: map[uint64]func(Breadcrumb){}}
}

// Add appends a breadcrumb, stamping it with the current time if it has none,
// then notifies subscribers synchronously. A panicking subscriber cannot
// prevent the remaining subscribers from running or corrupt the log.
func (l *BreadcrumbLog) Add(b Breadcrumb) {
	if b.Timestamp.IsZero() {
		b.Timestamp = time.Now()
	}

	l.mu.Lock()
	l.items = append(l.items, b)
	if len(l.items) > l.max {
		// Keep only the most recent max entries.
		l.items = append(l.items[:0], l.items[len(l.items)-l.max:]...)
	}
	fns := make([]func(Breadcrumb), 0, len(l.subs))
	for _, fn := range l.subs {
		fns = append(fns, fn)
	}
	l.mu.Unlock()

	for _, fn := range fns {
		notifyCrumb(fn, b)
	}
}

func notifyCrumb(fn func(Breadcrumb), b Breadcrumb) {
	defer func() { _ = recover() }()
	fn(b)
}

// All returns a copy of the log, oldest first.
func (l *BreadcrumbLog) All() []Breadcrumb {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Breadcrumb(nil), l.items...)
}

// Recent returns a copy of the most recent n breadcrumbs, oldest first.
func (l *BreadcrumbLog) Recent(n int) []Breadcrumb {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 || len(l.items) == 0 {
		return nil
	}
	if n > len(l.items) {
		n = len(l.items)
	}
	return append([]Breadcrumb(nil), l.items[len(l.items)-n:]...)
}

// Len reports the current number of breadcrumbs.
func (l *BreadcrumbLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

// Clear drops all breadcrumbs.
func (l *BreadcrumbLog) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = nil
}

// Subscribe registers a callback invoked synchronously for every Add. The
// returned function removes the subscription; calling it more than once is
// safe.
func (l *BreadcrumbLog) Subscribe(fn func(Breadcrumb)) (unsubscribe func()) {
	l.mu.Lock()
	l.seq++
	id := l.seq
	l.subs[id] = fn
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subs, id)
			l.mu.Unlock()
		})
	}
}
