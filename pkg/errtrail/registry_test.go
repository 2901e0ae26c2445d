package errtrail

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// testAdapter captures everything routed to it for verification in tests.
type testAdapter struct {
	mu          sync.Mutex
	name        string
	initErr     error
	logErr      error
	events      []*Event
	user        *User
	tags        map[string]string
	custom      map[string]any
	crumbs      []Breadcrumb
	maxCrumbs   int
	initialized bool
	destroyed   bool
}

func (a *testAdapter) Name() string {
	if a.name != "" {
		return a.name
	}
	return "test"
}

func (a *testAdapter) Initialize(ctx context.Context, cfg AdapterConfig) error {
	if a.initErr != nil {
		return a.initErr
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.initialized = true
	return nil
}

func (a *testAdapter) LogError(ctx context.Context, e *Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.initialized {
		return ErrNotInitialized
	}
	if a.logErr != nil {
		return a.logErr
	}
	a.events = append(a.events, e)
	return nil
}

func (a *testAdapter) LogMessage(ctx context.Context, msg string, lvl Level) error { return nil }

func (a *testAdapter) SetUser(u *User) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.user = u
}

func (a *testAdapter) SetContext(key string, value any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.custom == nil {
		a.custom = map[string]any{}
	}
	a.custom[key] = value
}

func (a *testAdapter) AddBreadcrumb(b Breadcrumb) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.crumbs = append(a.crumbs, b)
}

func (a *testAdapter) SetTags(tags map[string]string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.tags == nil {
		a.tags = map[string]string{}
	}
	for k, v := range tags {
		a.tags[k] = v
	}
}

func (a *testAdapter) SetExtra(key string, value any) {}

func (a *testAdapter) ClearBreadcrumbs() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.crumbs = nil
}

func (a *testAdapter) Flush(ctx context.Context, timeout time.Duration) (bool, error) {
	return true, nil
}

func (a *testAdapter) Destroy() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.initialized = false
	a.destroyed = true
	return nil
}

func (a *testAdapter) SupportsFeature(Feature) bool { return true }

func (a *testAdapter) Capabilities() Capabilities {
	return Capabilities{MaxBreadcrumbs: a.maxCrumbs}
}

func (a *testAdapter) getEvents() []*Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*Event, len(a.events))
	copy(out, a.events)
	return out
}

func (a *testAdapter) setLogErr(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logErr = err
}

func newTestRegistry(adapter *testAdapter) *Registry {
	r := NewRegistry(RegistryConfig{
		Context:     NewContextState(),
		Breadcrumbs: NewBreadcrumbLog(10),
	})
	r.Register("test", func() Adapter { return adapter })
	return r
}

func TestRegistry_UseInitializesAndActivates(t *testing.T) {
	a := &testAdapter{}
	r := newTestRegistry(a)

	if err := r.Use(context.Background(), "test", AdapterConfig{}); err != nil {
		t.Fatalf("Use returned error: %v", err)
	}
	if r.ActiveName() != "test" {
		t.Errorf("active = %q, want test", r.ActiveName())
	}
	state, ok := r.State("test")
	if !ok || state.Status != StatusInitialized {
		t.Errorf("state = %+v, ok=%v", state, ok)
	}
}

func TestRegistry_UseUnknownAdapter(t *testing.T) {
	r := newTestRegistry(&testAdapter{})

	err := r.Use(context.Background(), "missing", AdapterConfig{})
	if !errors.Is(err, ErrAdapterNotFound) {
		t.Errorf("err = %v, want ErrAdapterNotFound", err)
	}
}

func TestRegistry_ReinitializeFails(t *testing.T) {
	a := &testAdapter{}
	r := newTestRegistry(a)
	ctx := context.Background()

	if err := r.Use(ctx, "test", AdapterConfig{}); err != nil {
		t.Fatalf("first Use: %v", err)
	}
	err := r.Use(ctx, "test", AdapterConfig{})
	if !errors.Is(err, ErrAlreadyInitialized) {
		t.Errorf("err = %v, want ErrAlreadyInitialized", err)
	}
}

func TestRegistry_InitFailureForgetsProvider(t *testing.T) {
	a := &testAdapter{initErr: errors.New("no backend")}
	r := newTestRegistry(a)
	ctx := context.Background()

	if err := r.Use(ctx, "test", AdapterConfig{}); err == nil {
		t.Fatal("Use should propagate Initialize failure")
	}
	if _, ok := r.State("test"); ok {
		t.Error("failed provider should be forgotten")
	}
	// A retry after the failure is allowed, not ErrAlreadyInitialized.
	a.initErr = nil
	if err := r.Use(ctx, "test", AdapterConfig{}); err != nil {
		t.Errorf("retry after failed init: %v", err)
	}
}

func TestRegistry_RemoveDestroysAdapter(t *testing.T) {
	a := &testAdapter{}
	r := newTestRegistry(a)
	ctx := context.Background()

	if err := r.Use(ctx, "test", AdapterConfig{}); err != nil {
		t.Fatal(err)
	}
	if err := r.Remove("test"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if !a.destroyed {
		t.Error("Remove should call Destroy")
	}
	if r.ActiveName() != "" {
		t.Error("removing the active adapter should clear activation")
	}
}

func TestRegistry_LastRegistrationWins(t *testing.T) {
	first := &testAdapter{name: "first"}
	second := &testAdapter{name: "second"}
	r := NewRegistry(RegistryConfig{Context: NewContextState()})
	r.Register("dup", func() Adapter { return first })
	r.Register("dup", func() Adapter { return second })

	if err := r.Use(context.Background(), "dup", AdapterConfig{}); err != nil {
		t.Fatal(err)
	}
	a, err := r.Active()
	if err != nil {
		t.Fatal(err)
	}
	if a.Name() != "second" {
		t.Errorf("active adapter = %q, want the later registration", a.Name())
	}
}

func TestRegistry_LogErrorWithoutActiveAdapter(t *testing.T) {
	r := newTestRegistry(&testAdapter{})

	_, err := r.LogError(context.Background(), &Event{Level: LevelError})
	if !errors.Is(err, ErrNoActiveAdapter) {
		t.Errorf("err = %v, want ErrNoActiveAdapter", err)
	}
}

func TestRegistry_LogErrorDelivers(t *testing.T) {
	a := &testAdapter{}
	r := newTestRegistry(a)
	ctx := context.Background()
	if err := r.Use(ctx, "test", AdapterConfig{}); err != nil {
		t.Fatal(err)
	}

	delivered, err := r.LogError(ctx, &Event{ID: "e1", Level: LevelError, Message: "x"})
	if err != nil || !delivered {
		t.Fatalf("LogError = (%v, %v)", delivered, err)
	}
	if got := a.getEvents(); len(got) != 1 || got[0].ID != "e1" {
		t.Errorf("adapter events = %+v", got)
	}
}

func TestRegistry_PolicyRejectionIsNotAnError(t *testing.T) {
	a := &testAdapter{}
	r := NewRegistry(RegistryConfig{
		Context: NewContextState(),
		Policy:  &Policy{MinLevel: LevelError, SampleRate: 1},
	})
	r.Register("test", func() Adapter { return a })
	ctx := context.Background()
	if err := r.Use(ctx, "test", AdapterConfig{}); err != nil {
		t.Fatal(err)
	}

	delivered, err := r.LogError(ctx, &Event{Level: LevelDebug})
	if err != nil {
		t.Errorf("policy rejection should not be an error: %v", err)
	}
	if delivered {
		t.Error("rejected event reported as delivered")
	}
	if len(a.getEvents()) != 0 {
		t.Error("rejected event reached the adapter")
	}
}

func TestRegistry_AdapterFailurePropagates(t *testing.T) {
	a := &testAdapter{}
	r := newTestRegistry(a)
	ctx := context.Background()
	if err := r.Use(ctx, "test", AdapterConfig{}); err != nil {
		t.Fatal(err)
	}
	a.setLogErr(errors.New("backend down"))

	_, err := r.LogError(ctx, &Event{Level: LevelError})
	if err == nil {
		t.Fatal("adapter failure should propagate")
	}
	state, _ := r.State("test")
	if state.ErrorCount != 1 {
		t.Errorf("ErrorCount = %d, want 1", state.ErrorCount)
	}
	if state.LastErrorAt.IsZero() {
		t.Error("LastErrorAt should be stamped on failure")
	}
}

func TestRegistry_SuccessfulDeliveryStampsLastErrorAt(t *testing.T) {
	a := &testAdapter{}
	r := newTestRegistry(a)
	ctx := context.Background()
	if err := r.Use(ctx, "test", AdapterConfig{}); err != nil {
		t.Fatal(err)
	}

	before := time.Now()
	if _, err := r.LogError(ctx, &Event{ID: "e1", Level: LevelError}); err != nil {
		t.Fatal(err)
	}

	state, _ := r.State("test")
	if state.LastErrorAt.Before(before) {
		t.Errorf("LastErrorAt = %v, want stamped on successful delivery", state.LastErrorAt)
	}
	if state.ErrorCount != 0 {
		t.Errorf("ErrorCount = %d, a delivered event is not a failure", state.ErrorCount)
	}

	// The queue-delivery path stamps too.
	if err := r.Deliver(ctx, &Event{ID: "e2"}, "test"); err != nil {
		t.Fatal(err)
	}
	next, _ := r.State("test")
	if next.LastErrorAt.Before(state.LastErrorAt) {
		t.Errorf("Deliver moved LastErrorAt backwards: %v -> %v", state.LastErrorAt, next.LastErrorAt)
	}
}

func TestRegistry_StateReportsQueueSize(t *testing.T) {
	a := &testAdapter{}
	r := NewRegistry(RegistryConfig{
		Context:   NewContextState(),
		QueueSize: func(provider string) int { return map[string]int{"test": 4}[provider] },
	})
	r.Register("test", func() Adapter { return a })
	ctx := context.Background()
	if err := r.Use(ctx, "test", AdapterConfig{}); err != nil {
		t.Fatal(err)
	}

	state, ok := r.State("test")
	if !ok || state.QueueSize != 4 {
		t.Errorf("QueueSize = %d, want 4", state.QueueSize)
	}
}

func TestRegistry_EnrichmentMergesUnder(t *testing.T) {
	a := &testAdapter{}
	r := newTestRegistry(a)
	ctx := context.Background()
	if err := r.Use(ctx, "test", AdapterConfig{}); err != nil {
		t.Fatal(err)
	}

	r.ctxState.SetUser(&User{ID: "ambient"})
	r.ctxState.SetTags(map[string]string{"region": "eu", "shared": "ambient"})

	e := &Event{
		Level: LevelError,
		Tags:  map[string]string{"shared": "event"},
	}
	if _, err := r.LogError(ctx, e); err != nil {
		t.Fatal(err)
	}

	got := a.getEvents()[0]
	if got.User == nil || got.User.ID != "ambient" {
		t.Errorf("ambient user not merged: %+v", got.User)
	}
	if got.Tags["region"] != "eu" {
		t.Errorf("ambient tag missing: %v", got.Tags)
	}
	if got.Tags["shared"] != "event" {
		t.Errorf("event tag should win over ambient: %v", got.Tags)
	}
}

func TestRegistry_BreadcrumbCapRespectsAdapterCeiling(t *testing.T) {
	a := &testAdapter{maxCrumbs: 2}
	crumbs := NewBreadcrumbLog(10)
	r := NewRegistry(RegistryConfig{
		Context:        NewContextState(),
		Breadcrumbs:    crumbs,
		MaxBreadcrumbs: 5,
	})
	r.Register("test", func() Adapter { return a })
	ctx := context.Background()
	if err := r.Use(ctx, "test", AdapterConfig{}); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		crumbs.Add(Breadcrumb{Message: string(rune('a' + i))})
	}
	if _, err := r.LogError(ctx, &Event{Level: LevelError}); err != nil {
		t.Fatal(err)
	}

	got := a.getEvents()[0]
	if len(got.Breadcrumbs) != 2 {
		t.Fatalf("breadcrumbs = %d, want min(5, adapter 2) = 2", len(got.Breadcrumbs))
	}
	// Most recent survive.
	if got.Breadcrumbs[0].Message != "d" || got.Breadcrumbs[1].Message != "e" {
		t.Errorf("kept crumbs = %q, %q", got.Breadcrumbs[0].Message, got.Breadcrumbs[1].Message)
	}
}

func TestRegistry_SeedPushesAmbientState(t *testing.T) {
	a := &testAdapter{}
	r := newTestRegistry(a)
	r.ctxState.SetUser(&User{ID: "u1"})
	r.ctxState.SetTags(map[string]string{"k": "v"})

	if err := r.Use(context.Background(), "test", AdapterConfig{}); err != nil {
		t.Fatal(err)
	}
	if a.user == nil || a.user.ID != "u1" {
		t.Errorf("user not seeded: %+v", a.user)
	}
	if a.tags["k"] != "v" {
		t.Errorf("tags not seeded: %v", a.tags)
	}
}

func TestRegistry_DeliverBypassesPolicy(t *testing.T) {
	a := &testAdapter{}
	r := NewRegistry(RegistryConfig{
		Context: NewContextState(),
		// Policy that rejects everything: Deliver must ignore it.
		Policy: &Policy{MinLevel: LevelFatal, SampleRate: 0},
	})
	r.Register("test", func() Adapter { return a })
	ctx := context.Background()
	if err := r.Use(ctx, "test", AdapterConfig{}); err != nil {
		t.Fatal(err)
	}

	if err := r.Deliver(ctx, &Event{ID: "queued", Level: LevelDebug}, "test"); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if len(a.getEvents()) != 1 {
		t.Error("Deliver should reach the adapter regardless of policy")
	}
}

func TestRegistry_DeliverFallsBackToActive(t *testing.T) {
	a := &testAdapter{}
	r := newTestRegistry(a)
	ctx := context.Background()
	if err := r.Use(ctx, "test", AdapterConfig{}); err != nil {
		t.Fatal(err)
	}

	if err := r.Deliver(ctx, &Event{ID: "e"}, "long-gone"); err != nil {
		t.Fatalf("Deliver with unknown provider: %v", err)
	}
	if len(a.getEvents()) != 1 {
		t.Error("event should fall back to the active adapter")
	}
}

func TestRegistry_PrepareEnrichesWithoutDelivery(t *testing.T) {
	a := &testAdapter{}
	r := newTestRegistry(a)
	ctx := context.Background()
	if err := r.Use(ctx, "test", AdapterConfig{}); err != nil {
		t.Fatal(err)
	}
	r.ctxState.SetTags(map[string]string{"k": "v"})

	e, ok := r.Prepare(&Event{Level: LevelError})
	if !ok {
		t.Fatal("Prepare rejected a deliverable event")
	}
	if e.Tags["k"] != "v" {
		t.Errorf("Prepare should enrich: %v", e.Tags)
	}
	if len(a.getEvents()) != 0 {
		t.Error("Prepare must not deliver")
	}
}

func TestRegistry_DestroyAll(t *testing.T) {
	a := &testAdapter{}
	r := newTestRegistry(a)
	if err := r.Use(context.Background(), "test", AdapterConfig{}); err != nil {
		t.Fatal(err)
	}

	r.DestroyAll()
	if !a.destroyed {
		t.Error("DestroyAll should destroy providers")
	}
	if _, err := r.Active(); !errors.Is(err, ErrNoActiveAdapter) {
		t.Errorf("Active after DestroyAll = %v", err)
	}
}
