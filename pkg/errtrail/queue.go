// queue.go implements the durable offline retry queue.

package errtrail

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// DefaultQueueSize bounds the offline queue.
	DefaultQueueSize = 100

	// DefaultMaxRetries is the per-item retry ceiling.
	DefaultMaxRetries = 3

	// DefaultRetryDelay is the steady-state drain interval.
	DefaultRetryDelay = 30 * time.Second

	// DefaultOnlineDelay is the fast retry delay after an offline to online
	// transition, kept short to minimize backlog latency.
	DefaultOnlineDelay = time.Second
)

// DeliverFunc attempts delivery of one queued event.
type DeliverFunc func(ctx context.Context, e *Event, provider string) error

// QueueStatistics is a point-in-time view of the queue.
type QueueStatistics struct {
	Size         int       `json:"size"`
	OldestAt     time.Time `json:"oldest_at,omitzero"`
	TotalRetries int       `json:"total_retries"`
	Processing   bool      `json:"processing"`
}

// QueueConfig wires a Queue's collaborators.
type QueueConfig struct {
	Logger  zerolog.Logger
	Storage Storage
	Monitor Monitor
	Deliver DeliverFunc
	Metrics *Metrics

	MaxRetries  int
	RetryDelay  time.Duration
	OnlineDelay time.Duration
}

// Queue is a durable FIFO of undeliverable events, drained on a timer and on
// network-online transitions.
//
// Retry accounting: an item's retry count increments only when delivery
// fails while the network is up. Failures while offline are connectivity
// problems, not backend rejections, and do not consume retry budget. An item
// whose count reaches MaxRetries is dropped permanently.
type Queue struct {
	log     zerolog.Logger
	store   Storage
	monitor Monitor
	deliver DeliverFunc
	metrics *Metrics

	maxRetries  int
	retryDelay  time.Duration
	onlineDelay time.Duration

	// processing is the reentrancy guard: at most one drain runs at a time;
	// a second Process call while draining is a silent no-op.
	processing atomic.Bool
	closed     atomic.Bool

	timerMu sync.Mutex
	timer   *time.Timer

	unsub func()
}

// NewQueue creates a queue. Storage, Monitor, and Deliver are required.
func NewQueue(cfg QueueConfig) *Queue {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.OnlineDelay <= 0 {
		cfg.OnlineDelay = DefaultOnlineDelay
	}
	if cfg.Metrics == nil {
		cfg.Metrics = &Metrics{}
	}
	q := &Queue{
		log:         cfg.Logger.With().Str("component", "queue").Logger(),
		store:       cfg.Storage,
		monitor:     cfg.Monitor,
		deliver:     cfg.Deliver,
		metrics:     cfg.Metrics,
		maxRetries:  cfg.MaxRetries,
		retryDelay:  cfg.RetryDelay,
		onlineDelay: cfg.OnlineDelay,
	}

	// A fast retry as soon as connectivity returns beats waiting out the
	// normal delay.
	q.unsub = q.monitor.Subscribe(func(online bool) {
		if online {
			q.schedule(q.onlineDelay)
		}
	})
	return q
}

// Enqueue stores an undeliverable event for later retry. The storage layer
// enforces the queue bound, evicting oldest-first on overflow.
func (q *Queue) Enqueue(ctx context.Context, e *Event, provider string) error {
	if q.closed.Load() {
		return ErrQueueClosed
	}
	// Items reuse the event ID, so re-enqueueing the same event replaces the
	// stored copy instead of duplicating it.
	id := e.ID
	if id == "" {
		id = uuid.NewString()
	}
	item := QueueItem{
		ID:         id,
		Event:      e,
		Provider:   provider,
		EnqueuedAt: time.Now(),
	}
	if err := q.store.QueueError(ctx, item); err != nil {
		return err
	}
	q.metrics.Queued()
	q.log.Debug().Str("event", e.ID).Str("provider", provider).Msg("event queued for retry")
	q.schedule(q.retryDelay)
	return nil
}

// Process drains the queue once, in FIFO insertion order. A second call
// while a drain is in flight returns immediately without error. Nothing is
// attempted while the monitor reports offline; the drain is rescheduled
// instead.
func (q *Queue) Process(ctx context.Context) error {
	if q.closed.Load() {
		return ErrQueueClosed
	}
	if !q.processing.CompareAndSwap(false, true) {
		return nil
	}
	defer q.processing.Store(false)

	if !q.monitor.Online() {
		q.schedule(q.retryDelay)
		return nil
	}

	items, err := q.store.ErrorQueue(ctx)
	if err != nil {
		return err
	}

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		dErr := q.deliver(ctx, item.Event, item.Provider)
		if dErr == nil {
			_ = q.store.RemoveFromQueue(ctx, item.ID)
			continue
		}

		if !q.monitor.Online() {
			// Connectivity vanished mid-drain; this failure is free and the
			// rest of the pass is pointless.
			q.log.Debug().Msg("went offline mid-drain, pausing queue")
			break
		}

		retries := item.RetryCount + 1
		if retries >= q.maxRetries {
			_ = q.store.RemoveFromQueue(ctx, item.ID)
			q.metrics.Dropped()
			q.log.Warn().
				Str("event", item.Event.ID).
				Int("retries", retries).
				Err(dErr).
				Msg("retry budget exhausted, dropping event")
			continue
		}
		_ = q.store.UpdateRetryCount(ctx, item.ID, retries)
		q.log.Debug().Str("event", item.Event.ID).Int("retries", retries).Err(dErr).Msg("delivery failed, will retry")
	}

	remaining, err := q.store.ErrorQueue(ctx)
	if err != nil {
		return err
	}
	if len(remaining) > 0 {
		q.schedule(q.retryDelay)
	}
	return nil
}

// Flush triggers one immediate drain pass. Best effort: the queue may be
// non-empty afterwards if the backend is unreachable.
func (q *Queue) Flush(ctx context.Context) error {
	return q.Process(ctx)
}

// PruneOldItems removes items enqueued more than maxAge ago and reports how
// many were removed.
func (q *Queue) PruneOldItems(ctx context.Context, maxAge time.Duration) (int, error) {
	if q.closed.Load() {
		return 0, ErrQueueClosed
	}
	items, err := q.store.ErrorQueue(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-maxAge)
	pruned := 0
	for _, item := range items {
		if item.EnqueuedAt.Before(cutoff) {
			if err := q.store.RemoveFromQueue(ctx, item.ID); err != nil {
				return pruned, err
			}
			pruned++
		}
	}
	if pruned > 0 {
		q.log.Info().Int("pruned", pruned).Dur("max_age", maxAge).Msg("pruned stale queue items")
	}
	return pruned, nil
}

// Statistics reports the queue's current size and retry totals.
func (q *Queue) Statistics(ctx context.Context) (QueueStatistics, error) {
	items, err := q.store.ErrorQueue(ctx)
	if err != nil {
		return QueueStatistics{}, err
	}
	st := QueueStatistics{Size: len(items), Processing: q.processing.Load()}
	for _, item := range items {
		st.TotalRetries += item.RetryCount
		if st.OldestAt.IsZero() || item.EnqueuedAt.Before(st.OldestAt) {
			st.OldestAt = item.EnqueuedAt
		}
	}
	return st, nil
}

// SizeFor reports how many queued items target the named provider.
func (q *Queue) SizeFor(ctx context.Context, provider string) (int, error) {
	items, err := q.store.ErrorQueue(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, item := range items {
		if item.Provider == provider {
			n++
		}
	}
	return n, nil
}

// Close cancels pending retries and detaches from the monitor. Queued items
// remain in storage for the next session.
func (q *Queue) Close() {
	if !q.closed.CompareAndSwap(false, true) {
		return
	}
	if q.unsub != nil {
		q.unsub()
	}
	q.timerMu.Lock()
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	q.timerMu.Unlock()
}

// schedule arms (or re-arms) the retry timer. The handle is cancellable so
// teardown never leaves a timer firing into a dead queue.
func (q *Queue) schedule(d time.Duration) {
	if q.closed.Load() {
		return
	}
	q.timerMu.Lock()
	defer q.timerMu.Unlock()
	if q.timer != nil {
		q.timer.Stop()
	}
	q.timer = time.AfterFunc(d, func() {
		q.timerMu.Lock()
		q.timer = nil
		q.timerMu.Unlock()
		_ = q.Process(context.Background())
	})
}
