// Package noop provides an adapter that accepts and discards everything.
// Useful for disabling delivery without changing pipeline wiring.
package noop

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/errtrail/errtrail/pkg/errtrail"
)

type adapter struct {
	initialized atomic.Bool
}

// New returns a factory for no-op adapters.
func New() errtrail.Factory {
	return func() errtrail.Adapter { return &adapter{} }
}

func (a *adapter) Name() string { return "noop" }

func (a *adapter) Initialize(ctx context.Context, cfg errtrail.AdapterConfig) error {
	a.initialized.Store(true)
	return nil
}

func (a *adapter) LogError(ctx context.Context, e *errtrail.Event) error {
	if !a.initialized.Load() {
		return errtrail.ErrNotInitialized
	}
	return nil
}

func (a *adapter) LogMessage(ctx context.Context, msg string, lvl errtrail.Level) error {
	if !a.initialized.Load() {
		return errtrail.ErrNotInitialized
	}
	return nil
}

func (a *adapter) SetUser(*errtrail.User)            {}
func (a *adapter) SetContext(string, any)            {}
func (a *adapter) AddBreadcrumb(errtrail.Breadcrumb) {}
func (a *adapter) SetTags(map[string]string)         {}
func (a *adapter) SetExtra(string, any)              {}
func (a *adapter) ClearBreadcrumbs()                 {}

func (a *adapter) Flush(ctx context.Context, timeout time.Duration) (bool, error) {
	return true, nil
}

func (a *adapter) Destroy() error {
	a.initialized.Store(false)
	return nil
}

func (a *adapter) SupportsFeature(errtrail.Feature) bool { return false }

func (a *adapter) Capabilities() errtrail.Capabilities { return errtrail.Capabilities{} }
