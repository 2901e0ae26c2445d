// pipeline.go ties normalization, enrichment, filtering, dispatch, and the
// offline queue into the public capture surface.

package errtrail

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Option configures a Pipeline at construction time.
type Option func(*pipelineConfig)

type pipelineConfig struct {
	logger         zerolog.Logger
	environment    string
	release        string
	policy         *Policy
	sanitize       SanitizeConfig
	storage        Storage
	monitor        Monitor
	maxBreadcrumbs int
	maxQueueSize   int
	maxRetries     int
	retryDelay     time.Duration
	onlineDelay    time.Duration
	rateLimit      float64
	queueDisabled  bool
	pruneSpec      string
	pruneMaxAge    time.Duration
	factories      map[string]Factory
}

// WithLogger sets the pipeline's logger. Defaults to a no-op logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *pipelineConfig) { c.logger = log }
}

// WithEnvironment sets the environment attached to every event.
func WithEnvironment(env string) Option {
	return func(c *pipelineConfig) { c.environment = env }
}

// WithRelease sets the release version attached to every event.
func WithRelease(release string) Option {
	return func(c *pipelineConfig) { c.release = release }
}

// WithPolicy sets the delivery policy.
func WithPolicy(p *Policy) Option {
	return func(c *pipelineConfig) { c.policy = p }
}

// WithSanitize configures PII scrubbing.
func WithSanitize(cfg SanitizeConfig) Option {
	return func(c *pipelineConfig) { c.sanitize = cfg }
}

// WithStorage sets the durable storage collaborator. Defaults to in-memory.
func WithStorage(s Storage) Option {
	return func(c *pipelineConfig) { c.storage = s }
}

// WithMonitor sets the network monitor. Defaults to a static always-online
// monitor.
func WithMonitor(m Monitor) Option {
	return func(c *pipelineConfig) { c.monitor = m }
}

// WithAdapter registers an adapter factory under name.
func WithAdapter(name string, f Factory) Option {
	return func(c *pipelineConfig) {
		if c.factories == nil {
			c.factories = map[string]Factory{}
		}
		c.factories[name] = f
	}
}

// WithMaxBreadcrumbs bounds the breadcrumb log (default 100).
func WithMaxBreadcrumbs(n int) Option {
	return func(c *pipelineConfig) { c.maxBreadcrumbs = n }
}

// WithQueueSize bounds the offline queue (default 100).
func WithQueueSize(n int) Option {
	return func(c *pipelineConfig) { c.maxQueueSize = n }
}

// WithMaxRetries sets the per-item retry ceiling (default 3).
func WithMaxRetries(n int) Option {
	return func(c *pipelineConfig) { c.maxRetries = n }
}

// WithRetryDelay sets the steady-state queue drain interval (default 30s).
func WithRetryDelay(d time.Duration) Option {
	return func(c *pipelineConfig) { c.retryDelay = d }
}

// WithOnlineDelay sets the fast retry delay after coming back online
// (default 1s).
func WithOnlineDelay(d time.Duration) Option {
	return func(c *pipelineConfig) { c.onlineDelay = d }
}

// WithoutQueue disables the offline queue; delivery failures surface to the
// caller instead.
func WithoutQueue() Option {
	return func(c *pipelineConfig) { c.queueDisabled = true }
}

// WithRateLimit bounds deliveries per second at the dispatch layer.
func WithRateLimit(perSecond float64) Option {
	return func(c *pipelineConfig) { c.rateLimit = perSecond }
}

// WithPruneSchedule runs PruneOldItems on a cron schedule, dropping queued
// items older than maxAge.
func WithPruneSchedule(spec string, maxAge time.Duration) Option {
	return func(c *pipelineConfig) {
		c.pruneSpec = spec
		c.pruneMaxAge = maxAge
	}
}

// Pipeline is a constructible error-telemetry pipeline instance carrying its
// own context, breadcrumbs, queue, and adapter registry. Safe for concurrent
// use. Create one at the application's composition boundary.
type Pipeline struct {
	log        zerolog.Logger
	normalizer *Normalizer
	sanitizer  *Sanitizer
	metrics    *Metrics
	ctxState   *ContextState
	crumbs     *BreadcrumbLog
	registry   *Registry
	store      Storage
	monitor    Monitor
	queue      *Queue
	janitor    *cron.Cron

	logTap  *LogInterceptor
	httpTap *HTTPInterceptor

	subMu sync.Mutex
	subs  map[uint64]func(*Event)
	seq   uint64

	enabled atomic.Bool
	closed  atomic.Bool

	startTime time.Time
}

// New builds a pipeline. With no options it normalizes and filters but has
// no active adapter; register factories with WithAdapter and activate one
// with UseAdapter.
func New(opts ...Option) (*Pipeline, error) {
	cfg := &pipelineConfig{
		logger:       zerolog.Nop(),
		maxQueueSize: DefaultQueueSize,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.policy == nil {
		cfg.policy = DefaultPolicy()
	}
	if cfg.storage == nil {
		cfg.storage = NewMemoryStorage(cfg.maxQueueSize)
	}
	if cfg.monitor == nil {
		cfg.monitor = NewStaticMonitor(true)
	}

	p := &Pipeline{
		log:        cfg.logger.With().Str("component", "pipeline").Logger(),
		normalizer: &Normalizer{Environment: cfg.environment, Release: cfg.release},
		sanitizer:  NewSanitizer(cfg.sanitize),
		metrics:    &Metrics{},
		ctxState:   NewContextState(),
		crumbs:     NewBreadcrumbLog(cfg.maxBreadcrumbs),
		store:      cfg.storage,
		monitor:    cfg.monitor,
		subs:       map[uint64]func(*Event){},
		startTime:  time.Now(),
	}

	p.registry = NewRegistry(RegistryConfig{
		Logger:         cfg.logger,
		Context:        p.ctxState,
		Breadcrumbs:    p.crumbs,
		Policy:         cfg.policy,
		Metrics:        p.metrics,
		MaxBreadcrumbs: cfg.maxBreadcrumbs,
		RateLimit:      cfg.rateLimit,
		QueueSize: func(provider string) int {
			if p.queue == nil {
				return 0
			}
			n, err := p.queue.SizeFor(context.Background(), provider)
			if err != nil {
				return 0
			}
			return n
		},
	})
	for name, f := range cfg.factories {
		p.registry.Register(name, f)
	}

	if !cfg.queueDisabled {
		p.queue = NewQueue(QueueConfig{
			Logger:      cfg.logger,
			Storage:     cfg.storage,
			Monitor:     cfg.monitor,
			Deliver:     p.registry.Deliver,
			Metrics:     p.metrics,
			MaxRetries:  cfg.maxRetries,
			RetryDelay:  cfg.retryDelay,
			OnlineDelay: cfg.onlineDelay,
		})
	}

	// Restore the persisted user from the previous session, if any.
	if user, err := cfg.storage.UserContext(context.Background()); err == nil && user != nil {
		p.ctxState.SetUser(user)
	}

	if cfg.pruneSpec != "" && p.queue != nil {
		p.janitor = cron.New()
		maxAge := cfg.pruneMaxAge
		if _, err := p.janitor.AddFunc(cfg.pruneSpec, func() {
			if _, err := p.queue.PruneOldItems(context.Background(), maxAge); err != nil && !errors.Is(err, ErrQueueClosed) {
				p.log.Warn().Err(err).Msg("queue prune failed")
			}
		}); err != nil {
			return nil, err
		}
		p.janitor.Start()
	}

	p.logTap = NewLogInterceptor(p.crumbs)
	p.httpTap = NewHTTPInterceptor(p.crumbs)

	p.enabled.Store(true)
	return p, nil
}

// CaptureError normalizes, enriches, filters, and delivers an error. On
// delivery failure the event is queued for retry when the offline queue is
// enabled; otherwise the adapter error surfaces to the caller.
//
// Returns the event ID when the event was delivered or queued, and "" when
// it was filtered or the pipeline is disabled.
func (p *Pipeline) CaptureError(ctx context.Context, input any, c *Capture) (string, error) {
	if p.closed.Load() {
		return "", ErrClosed
	}
	if !p.enabled.Load() {
		return "", nil
	}

	p.metrics.Captured()

	e := p.normalizer.Normalize(input, c)
	CaptureRuntimeState(p.startTime).attach(e)
	e.Breadcrumbs = p.crumbs.All()
	p.sanitizer.Sanitize(e)

	// Known-dead network: skip the doomed adapter call and queue directly.
	// This is a connectivity condition, not a backend failure.
	if p.queue != nil && !p.monitor.Online() {
		prepared, ok := p.registry.Prepare(e)
		if !ok {
			return "", nil
		}
		if err := p.queue.Enqueue(ctx, prepared, p.registry.ActiveName()); err != nil {
			return "", err
		}
		p.notify(prepared)
		return prepared.ID, nil
	}

	delivered, err := p.registry.LogError(ctx, e)
	switch {
	case err == nil && !delivered:
		// Policy rejection: intentional discard, no side effects.
		return "", nil
	case err == nil:
		p.notify(e)
		return e.ID, nil
	}

	if p.queue == nil || errors.Is(err, ErrNoActiveAdapter) || errors.Is(err, ErrNotInitialized) {
		return "", err
	}
	if qErr := p.queue.Enqueue(ctx, e, p.registry.ActiveName()); qErr != nil {
		return "", errors.Join(err, qErr)
	}
	p.notify(e)
	return e.ID, nil
}

// CaptureMessage captures a plain message at the given level.
func (p *Pipeline) CaptureMessage(ctx context.Context, msg string, lvl Level) (string, error) {
	return p.CaptureError(ctx, msg, &Capture{Level: &lvl})
}

// SetUser merges the user into ambient context, persists it, and mirrors it
// into initialized adapters. A nil user clears it everywhere.
func (p *Pipeline) SetUser(ctx context.Context, u *User) error {
	if p.closed.Load() {
		return ErrClosed
	}
	p.ctxState.SetUser(u)
	p.registry.Broadcast(func(a Adapter) { a.SetUser(u) })
	if u == nil {
		return p.store.ClearUserContext(ctx)
	}
	return p.store.SaveUserContext(ctx, u)
}

// SetContext merges a value into ambient custom context under key.
func (p *Pipeline) SetContext(key string, value any) {
	p.ctxState.SetContext(key, value)
	p.registry.Broadcast(func(a Adapter) { a.SetContext(key, value) })
}

// SetTags merges tags into ambient context.
func (p *Pipeline) SetTags(tags map[string]string) {
	p.ctxState.SetTags(tags)
	p.registry.Broadcast(func(a Adapter) { a.SetTags(tags) })
}

// SetExtra merges one extra value into ambient context.
func (p *Pipeline) SetExtra(key string, value any) {
	p.ctxState.SetExtra(key, value)
	p.registry.Broadcast(func(a Adapter) { a.SetExtra(key, value) })
}

// AddBreadcrumb appends to the breadcrumb log and mirrors into adapters.
func (p *Pipeline) AddBreadcrumb(b Breadcrumb) {
	p.crumbs.Add(b)
	p.registry.Broadcast(func(a Adapter) { a.AddBreadcrumb(b) })
}

// ClearBreadcrumbs drops the breadcrumb log everywhere.
func (p *Pipeline) ClearBreadcrumbs() {
	p.crumbs.Clear()
	p.registry.Broadcast(func(a Adapter) { a.ClearBreadcrumbs() })
}

// Breadcrumbs returns a snapshot of the current breadcrumb log.
func (p *Pipeline) Breadcrumbs() []Breadcrumb { return p.crumbs.All() }

// UseAdapter initializes and activates the named adapter.
func (p *Pipeline) UseAdapter(ctx context.Context, name string, cfg AdapterConfig) error {
	if p.closed.Load() {
		return ErrClosed
	}
	return p.registry.Use(ctx, name, cfg)
}

// RemoveAdapter destroys and forgets the named adapter.
func (p *Pipeline) RemoveAdapter(name string) error {
	if p.closed.Load() {
		return ErrClosed
	}
	return p.registry.Remove(name)
}

// RegisterAdapter adds an adapter factory after construction.
func (p *Pipeline) RegisterAdapter(name string, f Factory) {
	p.registry.Register(name, f)
}

// ProviderState reports the lifecycle state of the named adapter.
func (p *Pipeline) ProviderState(name string) (ProviderState, bool) {
	return p.registry.State(name)
}

// Flush drains the offline queue and flushes the active adapter. Best
// effort: queued items survive an unreachable backend.
func (p *Pipeline) Flush(ctx context.Context) error {
	if p.closed.Load() {
		return ErrClosed
	}
	var errs []error
	if p.queue != nil {
		if err := p.queue.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a, err := p.registry.Active(); err == nil {
		if _, err := a.Flush(ctx, 5*time.Second); err != nil {
			errs = append(errs, err)
		}
	}
	if err := p.store.UpdateMetrics(ctx, p.metrics.Snapshot()); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Reset clears ambient context, breadcrumbs, metrics, and the persisted
// user, giving a fresh session. Adapters stay initialized.
func (p *Pipeline) Reset(ctx context.Context) error {
	if p.closed.Load() {
		return ErrClosed
	}
	p.ctxState.Clear()
	p.crumbs.Clear()
	p.metrics.Reset()
	return p.store.ClearUserContext(ctx)
}

// SetEnabled toggles capture. While disabled, CaptureError is a no-op.
func (p *Pipeline) SetEnabled(enabled bool) { p.enabled.Store(enabled) }

// Enabled reports whether capture is on.
func (p *Pipeline) Enabled() bool { return p.enabled.Load() }

// Subscribe registers a listener invoked for every event that is delivered
// or queued. The returned function cancels the subscription.
func (p *Pipeline) Subscribe(fn func(*Event)) (unsubscribe func()) {
	p.subMu.Lock()
	p.seq++
	id := p.seq
	p.subs[id] = fn
	p.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.subMu.Lock()
			delete(p.subs, id)
			p.subMu.Unlock()
		})
	}
}

func (p *Pipeline) notify(e *Event) {
	p.subMu.Lock()
	fns := make([]func(*Event), 0, len(p.subs))
	for _, fn := range p.subs {
		fns = append(fns, fn)
	}
	p.subMu.Unlock()
	for _, fn := range fns {
		func() {
			defer func() { _ = recover() }()
			fn(e)
		}()
	}
}

// Metrics returns a snapshot of pipeline counters.
func (p *Pipeline) Metrics() MetricsSnapshot { return p.metrics.Snapshot() }

// Statistics reports offline-queue state.
func (p *Pipeline) Statistics(ctx context.Context) (QueueStatistics, error) {
	if p.queue == nil {
		return QueueStatistics{}, nil
	}
	return p.queue.Statistics(ctx)
}

// EnableLogBreadcrumbs taps the stdlib default logger into the breadcrumb
// log. Reversible via DisableLogBreadcrumbs.
func (p *Pipeline) EnableLogBreadcrumbs()  { p.logTap.Enable() }
func (p *Pipeline) DisableLogBreadcrumbs() { p.logTap.Disable() }

// EnableHTTPBreadcrumbs records outgoing requests through
// http.DefaultTransport as breadcrumbs. Reversible via
// DisableHTTPBreadcrumbs.
func (p *Pipeline) EnableHTTPBreadcrumbs()  { p.httpTap.Enable() }
func (p *Pipeline) DisableHTTPBreadcrumbs() { p.httpTap.Disable() }

// Close tears down timers, interceptors, adapters, and storage. Capture
// calls after Close fail with ErrClosed.
func (p *Pipeline) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.enabled.Store(false)

	p.logTap.Disable()
	p.httpTap.Disable()

	if p.janitor != nil {
		<-p.janitor.Stop().Done()
	}
	if p.queue != nil {
		p.queue.Close()
	}
	p.registry.DestroyAll()

	var errs []error
	if err := p.store.UpdateMetrics(context.Background(), p.metrics.Snapshot()); err != nil {
		errs = append(errs, err)
	}
	if err := p.store.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
