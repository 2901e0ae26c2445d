// Package memory provides an adapter that captures events in memory. It is
// the test double used across the project and doubles as a local buffer for
// tooling that inspects captured events.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/errtrail/errtrail/pkg/errtrail"
)

// Adapter captures everything it receives. All recorded state is readable
// through accessors, so tests can assert on exactly what reached the
// backend boundary.
type Adapter struct {
	mu          sync.Mutex
	initialized bool
	failWith    error
	config      errtrail.AdapterConfig

	events   []*errtrail.Event
	messages []string
	user     *errtrail.User
	tags     map[string]string
	context  map[string]any
	extra    map[string]any
	crumbs   []errtrail.Breadcrumb

	maxBreadcrumbs int
	flushCalls     int
	destroyed      bool
}

// Option configures the memory adapter.
type Option func(*Adapter)

// WithMaxBreadcrumbs sets the adapter's advertised breadcrumb ceiling.
func WithMaxBreadcrumbs(n int) Option {
	return func(a *Adapter) { a.maxBreadcrumbs = n }
}

// WithFailure makes LogError and LogMessage return err, for exercising
// retry paths.
func WithFailure(err error) Option {
	return func(a *Adapter) { a.failWith = err }
}

// New builds a memory adapter directly, for tests that need to hold the
// concrete type.
func New(opts ...Option) *Adapter {
	a := &Adapter{maxBreadcrumbs: 100}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Factory returns a factory producing one shared instance, so callers keep
// a handle to the adapter the registry initializes.
func Factory(a *Adapter) errtrail.Factory {
	return func() errtrail.Adapter { return a }
}

func (a *Adapter) Name() string { return "memory" }

func (a *Adapter) Initialize(ctx context.Context, cfg errtrail.AdapterConfig) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.config = cfg
	a.initialized = true
	a.destroyed = false
	return nil
}

func (a *Adapter) LogError(ctx context.Context, e *errtrail.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.initialized {
		return errtrail.ErrNotInitialized
	}
	if a.failWith != nil {
		return a.failWith
	}
	a.events = append(a.events, e.Clone())
	return nil
}

func (a *Adapter) LogMessage(ctx context.Context, msg string, lvl errtrail.Level) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.initialized {
		return errtrail.ErrNotInitialized
	}
	if a.failWith != nil {
		return a.failWith
	}
	a.messages = append(a.messages, msg)
	return nil
}

func (a *Adapter) SetUser(u *errtrail.User) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.user = u
}

func (a *Adapter) SetContext(key string, value any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.context == nil {
		a.context = map[string]any{}
	}
	a.context[key] = value
}

func (a *Adapter) AddBreadcrumb(b errtrail.Breadcrumb) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.crumbs = append(a.crumbs, b)
}

func (a *Adapter) SetTags(tags map[string]string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.tags == nil {
		a.tags = map[string]string{}
	}
	for k, v := range tags {
		a.tags[k] = v
	}
}

func (a *Adapter) SetExtra(key string, value any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.extra == nil {
		a.extra = map[string]any{}
	}
	a.extra[key] = value
}

func (a *Adapter) ClearBreadcrumbs() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.crumbs = nil
}

func (a *Adapter) Flush(ctx context.Context, timeout time.Duration) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.flushCalls++
	return true, nil
}

func (a *Adapter) Destroy() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.initialized = false
	a.destroyed = true
	return nil
}

func (a *Adapter) SupportsFeature(f errtrail.Feature) bool {
	switch f {
	case errtrail.FeatureBreadcrumbs, errtrail.FeatureTags, errtrail.FeatureUserContext:
		return true
	}
	return false
}

func (a *Adapter) Capabilities() errtrail.Capabilities {
	return errtrail.Capabilities{MaxBreadcrumbs: a.maxBreadcrumbs}
}

// SetFailure changes the injected delivery error at runtime.
func (a *Adapter) SetFailure(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failWith = err
}

// Events returns a copy of every captured event, in delivery order.
func (a *Adapter) Events() []*errtrail.Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*errtrail.Event, len(a.events))
	copy(out, a.events)
	return out
}

// Messages returns captured plain messages.
func (a *Adapter) Messages() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.messages))
	copy(out, a.messages)
	return out
}

// User returns the last mirrored user.
func (a *Adapter) User() *errtrail.User {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.user
}

// Tags returns the mirrored tag set.
func (a *Adapter) Tags() map[string]string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]string, len(a.tags))
	for k, v := range a.tags {
		out[k] = v
	}
	return out
}

// Context returns the mirrored custom context.
func (a *Adapter) Context() map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]any, len(a.context))
	for k, v := range a.context {
		out[k] = v
	}
	return out
}

// Breadcrumbs returns mirrored breadcrumbs.
func (a *Adapter) Breadcrumbs() []errtrail.Breadcrumb {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]errtrail.Breadcrumb, len(a.crumbs))
	copy(out, a.crumbs)
	return out
}

// FlushCalls reports how many times Flush ran.
func (a *Adapter) FlushCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.flushCalls
}

// Destroyed reports whether Destroy ran.
func (a *Adapter) Destroyed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.destroyed
}

// Initialized reports lifecycle state.
func (a *Adapter) Initialized() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.initialized
}

// Config returns the configuration passed to Initialize.
func (a *Adapter) Config() errtrail.AdapterConfig {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.config
}

// Reset clears all captured state but keeps lifecycle status.
func (a *Adapter) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = nil
	a.messages = nil
	a.user = nil
	a.tags = nil
	a.context = nil
	a.extra = nil
	a.crumbs = nil
	a.flushCalls = 0
}
