// registry.go manages adapter lifecycle and routes enriched events to the
// active adapter.

package errtrail

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ProviderStatus is an adapter's lifecycle state. Transitions are strictly
// uninitialized -> initializing -> initialized -> destroyed.
type ProviderStatus int

const (
	StatusUninitialized ProviderStatus = iota
	StatusInitializing
	StatusInitialized
	StatusDestroyed
)

func (s ProviderStatus) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusInitializing:
		return "initializing"
	case StatusInitialized:
		return "initialized"
	case StatusDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// ProviderState is the observable state of one registered adapter.
// LastErrorAt is the time the provider last logged an error event, whether
// delivery succeeded or not; ErrorCount counts only delivery failures.
type ProviderState struct {
	Status      ProviderStatus
	Enabled     bool
	ErrorCount  int64
	LastErrorAt time.Time
	QueueSize   int
}

type provider struct {
	adapter     Adapter
	status      ProviderStatus
	enabled     bool
	errorCount  int64
	lastErrorAt time.Time
}

// RegistryConfig wires a Registry's collaborators.
type RegistryConfig struct {
	Logger      zerolog.Logger
	Context     *ContextState
	Breadcrumbs *BreadcrumbLog
	Policy      *Policy
	Metrics     *Metrics

	// MaxBreadcrumbs caps breadcrumbs attached to outgoing events. The
	// effective cap per adapter is min(MaxBreadcrumbs, the adapter's own
	// Capabilities().MaxBreadcrumbs).
	MaxBreadcrumbs int

	// RateLimit, when > 0, bounds deliveries per second at the dispatch
	// layer.
	RateLimit float64

	// QueueSize reports how many offline-queue items target the named
	// provider, surfaced through ProviderState. Optional.
	QueueSize func(provider string) int
}

// Registry holds adapter factories and live providers, and dispatches events
// to the active adapter after enrichment and policy filtering.
type Registry struct {
	mu        sync.Mutex
	log       zerolog.Logger
	factories map[string]Factory
	providers map[string]*provider
	active    string

	ctxState  *ContextState
	crumbs    *BreadcrumbLog
	policy    *Policy
	metrics   *Metrics
	limiter   *rate.Limiter
	maxCrumb  int
	queueSize func(provider string) int

	// deliverMu serializes adapter delivery so events reach a single adapter
	// in capture order.
	deliverMu sync.Mutex
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Policy == nil {
		cfg.Policy = DefaultPolicy()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = &Metrics{}
	}
	if cfg.Context == nil {
		cfg.Context = NewContextState()
	}
	if cfg.MaxBreadcrumbs <= 0 {
		cfg.MaxBreadcrumbs = DefaultMaxBreadcrumbs
	}
	r := &Registry{
		log:       cfg.Logger.With().Str("component", "registry").Logger(),
		factories: map[string]Factory{},
		providers: map[string]*provider{},
		ctxState:  cfg.Context,
		crumbs:    cfg.Breadcrumbs,
		policy:    cfg.Policy,
		metrics:   cfg.Metrics,
		maxCrumb:  cfg.MaxBreadcrumbs,
		queueSize: cfg.QueueSize,
	}
	if cfg.RateLimit > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), int(cfg.RateLimit)+1)
	}
	return r
}

// Register adds a factory under name. Registering an existing name logs a
// warning and overwrites: last registration wins.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		r.log.Warn().Str("adapter", name).Msg("adapter already registered, overwriting")
	}
	r.factories[name] = f
}

// Names lists registered factory names.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}

// Use builds, initializes, and activates the named adapter. Re-initializing
// an already-initialized provider returns ErrAlreadyInitialized.
func (r *Registry) Use(ctx context.Context, name string, cfg AdapterConfig) error {
	r.mu.Lock()
	factory, ok := r.factories[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrAdapterNotFound, name)
	}
	if p, exists := r.providers[name]; exists && p.status != StatusDestroyed {
		r.mu.Unlock()
		return fmt.Errorf("%w: %q is %s", ErrAlreadyInitialized, name, p.status)
	}
	p := &provider{adapter: factory(), status: StatusInitializing}
	r.providers[name] = p
	r.mu.Unlock()

	start := time.Now()
	if err := p.adapter.Initialize(ctx, cfg); err != nil {
		r.mu.Lock()
		delete(r.providers, name)
		r.mu.Unlock()
		return fmt.Errorf("initialize adapter %q: %w", name, err)
	}

	r.mu.Lock()
	p.status = StatusInitialized
	p.enabled = true
	r.active = name
	r.mu.Unlock()

	r.seedAdapter(p.adapter)
	r.log.Info().Str("adapter", name).Dur("took", time.Since(start)).Msg("adapter initialized")
	return nil
}

// seedAdapter pushes current ambient state into a freshly initialized
// adapter.
func (r *Registry) seedAdapter(a Adapter) {
	user, _, custom, tags, _ := r.ctxState.Snapshot()
	if user != nil {
		a.SetUser(user)
	}
	if len(tags) > 0 {
		a.SetTags(tags)
	}
	for k, v := range custom {
		a.SetContext(k, v)
	}
}

// Remove destroys the named provider and forgets it. Removing an unknown
// name is a no-op.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	p, ok := r.providers[name]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.providers, name)
	if r.active == name {
		r.active = ""
	}
	r.mu.Unlock()

	p.status = StatusDestroyed
	if err := p.adapter.Destroy(); err != nil {
		return fmt.Errorf("destroy adapter %q: %w", name, err)
	}
	return nil
}

// State reports the lifecycle state of the named provider.
func (r *Registry) State(name string) (ProviderState, bool) {
	r.mu.Lock()
	p, ok := r.providers[name]
	if !ok {
		r.mu.Unlock()
		return ProviderState{}, false
	}
	st := ProviderState{
		Status:      p.status,
		Enabled:     p.enabled,
		ErrorCount:  p.errorCount,
		LastErrorAt: p.lastErrorAt,
	}
	r.mu.Unlock()

	// The sizer reads storage and must not run under the registry lock.
	if r.queueSize != nil {
		st.QueueSize = r.queueSize(name)
	}
	return st, true
}

// ActiveName returns the name of the active adapter, if any.
func (r *Registry) ActiveName() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Active returns the active initialized adapter.
func (r *Registry) Active() (Adapter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeLocked()
}

func (r *Registry) activeLocked() (Adapter, error) {
	if r.active == "" {
		return nil, ErrNoActiveAdapter
	}
	p := r.providers[r.active]
	if p == nil {
		return nil, ErrNoActiveAdapter
	}
	if p.status != StatusInitialized {
		return nil, fmt.Errorf("%w: %q is %s", ErrNotInitialized, r.active, p.status)
	}
	return p.adapter, nil
}

// LogError applies policy, enriches the event with ambient context, and
// delivers it to the active adapter.
//
// Returns (false, nil) when the event was rejected by policy: an intentional
// discard, never queued and never counted as a failure. Adapter errors are
// propagated to the caller, which decides whether to queue for retry.
func (r *Registry) LogError(ctx context.Context, e *Event) (bool, error) {
	e, ok := r.policy.Apply(e)
	if !ok {
		r.metrics.Filtered()
		return false, nil
	}

	r.mu.Lock()
	name := r.active
	adapter, err := r.activeLocked()
	p := r.providers[name]
	r.mu.Unlock()
	if err != nil {
		return false, err
	}

	r.enrich(e, adapter.Capabilities())

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return false, err
		}
	}

	r.deliverMu.Lock()
	deliverErr := adapter.LogError(ctx, e)
	r.deliverMu.Unlock()

	r.mu.Lock()
	p.lastErrorAt = time.Now()
	if deliverErr != nil {
		p.errorCount++
	}
	r.mu.Unlock()

	if deliverErr != nil {
		r.metrics.Failed()
		r.log.Error().Str("adapter", name).Str("event", e.ID).Err(deliverErr).Msg("delivery failed")
		return false, fmt.Errorf("adapter %q: %w", name, deliverErr)
	}
	r.metrics.Delivered()
	return true, nil
}

// Prepare runs policy and enrichment without attempting delivery. Used when
// the network is known to be down and the event goes straight to the offline
// queue. Returns (nil, false) for policy rejections.
func (r *Registry) Prepare(e *Event) (*Event, bool) {
	e, ok := r.policy.Apply(e)
	if !ok {
		r.metrics.Filtered()
		return nil, false
	}
	caps := Capabilities{}
	r.mu.Lock()
	if a, err := r.activeLocked(); err == nil {
		caps = a.Capabilities()
	}
	r.mu.Unlock()
	r.enrich(e, caps)
	return e, true
}

// Deliver hands an already-accepted event to the named provider, falling
// back to the active adapter when the name is gone. Policy does not rerun:
// the event passed it when first captured. Used by the offline queue.
func (r *Registry) Deliver(ctx context.Context, e *Event, providerName string) error {
	r.mu.Lock()
	name := providerName
	p := r.providers[name]
	if p == nil || p.status != StatusInitialized {
		name = r.active
		p = r.providers[name]
	}
	if p == nil || p.status != StatusInitialized {
		r.mu.Unlock()
		return ErrNoActiveAdapter
	}
	adapter := p.adapter
	r.mu.Unlock()

	r.deliverMu.Lock()
	err := adapter.LogError(ctx, e)
	r.deliverMu.Unlock()

	r.mu.Lock()
	p.lastErrorAt = time.Now()
	if err != nil {
		p.errorCount++
	}
	r.mu.Unlock()

	if err != nil {
		r.metrics.Failed()
		return fmt.Errorf("adapter %q: %w", name, err)
	}
	r.metrics.Delivered()
	return nil
}

// enrich merges ambient context underneath the event's own values: event
// values always win over ambient ones. Breadcrumbs are capped at the lesser
// of the configured cap and the adapter's own ceiling.
func (r *Registry) enrich(e *Event, caps Capabilities) {
	user, device, custom, tags, extra := r.ctxState.Snapshot()
	if e.User == nil {
		e.User = user
	}
	e.Tags = defaultStringMap(e.Tags, tags)
	e.Context = defaultAnyMap(e.Context, custom)
	e.Device = defaultAnyMap(e.Device, device)
	e.Metadata = defaultAnyMap(e.Metadata, extra)

	if r.crumbs != nil && e.Breadcrumbs == nil {
		e.Breadcrumbs = r.crumbs.All()
	}
	limit := r.maxCrumb
	if caps.MaxBreadcrumbs > 0 && caps.MaxBreadcrumbs < limit {
		limit = caps.MaxBreadcrumbs
	}
	if len(e.Breadcrumbs) > limit {
		e.Breadcrumbs = e.Breadcrumbs[len(e.Breadcrumbs)-limit:]
	}
}

// Broadcast invokes fn for every initialized provider. Used to mirror
// context changes into adapters.
func (r *Registry) Broadcast(fn func(Adapter)) {
	r.mu.Lock()
	adapters := make([]Adapter, 0, len(r.providers))
	for _, p := range r.providers {
		if p.status == StatusInitialized {
			adapters = append(adapters, p.adapter)
		}
	}
	r.mu.Unlock()
	for _, a := range adapters {
		fn(a)
	}
}

// DestroyAll destroys every provider. Used at pipeline teardown.
func (r *Registry) DestroyAll() {
	r.mu.Lock()
	providers := r.providers
	r.providers = map[string]*provider{}
	r.active = ""
	r.mu.Unlock()

	for name, p := range providers {
		p.status = StatusDestroyed
		if err := p.adapter.Destroy(); err != nil {
			r.log.Warn().Str("adapter", name).Err(err).Msg("destroy failed")
		}
	}
}

// defaultStringMap merges defaults into dst without overwriting.
func defaultStringMap(dst, defaults map[string]string) map[string]string {
	if len(defaults) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]string, len(defaults))
	}
	for k, v := range defaults {
		if _, ok := dst[k]; !ok {
			dst[k] = v
		}
	}
	return dst
}
