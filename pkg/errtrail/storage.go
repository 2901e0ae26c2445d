// storage.go defines the durable storage collaborator and an in-memory
// implementation.

package errtrail

import (
	"context"
	"sync"
	"time"
)

// QueueItem is one undelivered event awaiting retry.
type QueueItem struct {
	ID         string    `json:"id"`
	Event      *Event    `json:"event"`
	Provider   string    `json:"provider"`
	RetryCount int       `json:"retry_count"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Storage is the durable key-value collaborator behind the offline queue and
// persisted context. The pipeline treats it as an opaque async store.
//
// QueueError enforces the queue bound: when the queue is full the oldest
// item is evicted to make room, never the new one.
type Storage interface {
	QueueError(ctx context.Context, item QueueItem) error
	ErrorQueue(ctx context.Context) ([]QueueItem, error)
	RemoveFromQueue(ctx context.Context, id string) error
	UpdateRetryCount(ctx context.Context, id string, retryCount int) error

	UpdateMetrics(ctx context.Context, m MetricsSnapshot) error

	SaveUserContext(ctx context.Context, u *User) error
	UserContext(ctx context.Context) (*User, error)
	ClearUserContext(ctx context.Context) error

	Settings(ctx context.Context) (map[string]string, error)
	SaveSettings(ctx context.Context, s map[string]string) error

	Close() error
}

// MemoryStorage is the in-process Storage used when no durable store is
// configured. It lives in the core package so the pipeline can default to it
// without an import cycle.
type MemoryStorage struct {
	mu       sync.Mutex
	maxQueue int
	queue    []QueueItem
	user     *User
	settings map[string]string
	metrics  MetricsSnapshot
}

// NewMemoryStorage creates an in-memory store bounding the queue at maxQueue
// items (DefaultQueueSize when <= 0).
func NewMemoryStorage(maxQueue int) *MemoryStorage {
	if maxQueue <= 0 {
		maxQueue = DefaultQueueSize
	}
	return &MemoryStorage{maxQueue: maxQueue}
}

func (s *MemoryStorage) QueueError(ctx context.Context, item QueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Upsert by item ID, matching the sqlite store's conflict handling.
	for i := range s.queue {
		if s.queue[i].ID == item.ID {
			s.queue[i] = item
			return nil
		}
	}
	s.queue = append(s.queue, item)
	if len(s.queue) > s.maxQueue {
		// Evict oldest first.
		s.queue = append(s.queue[:0], s.queue[len(s.queue)-s.maxQueue:]...)
	}
	return nil
}

func (s *MemoryStorage) ErrorQueue(ctx context.Context) ([]QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]QueueItem(nil), s.queue...), nil
}

func (s *MemoryStorage) RemoveFromQueue(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, item := range s.queue {
		if item.ID == id {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *MemoryStorage) UpdateRetryCount(ctx context.Context, id string, retryCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.queue {
		if s.queue[i].ID == id {
			s.queue[i].RetryCount = retryCount
			return nil
		}
	}
	return nil
}

func (s *MemoryStorage) UpdateMetrics(ctx context.Context, m MetricsSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m
	return nil
}

func (s *MemoryStorage) SaveUserContext(ctx context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u == nil {
		s.user = nil
		return nil
	}
	cp := *u
	cp.Extra = cloneAnyMap(u.Extra)
	s.user = &cp
	return nil
}

func (s *MemoryStorage) UserContext(ctx context.Context) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return nil, nil
	}
	cp := *s.user
	cp.Extra = cloneAnyMap(s.user.Extra)
	return &cp, nil
}

func (s *MemoryStorage) ClearUserContext(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = nil
	return nil
}

func (s *MemoryStorage) Settings(ctx context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneStringMap(s.settings), nil
}

func (s *MemoryStorage) SaveSettings(ctx context.Context, settings map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = mergeStringMap(s.settings, settings)
	return nil
}

func (s *MemoryStorage) Close() error { return nil }
