// Package stderr provides an adapter that prints events to stderr in a
// human-readable format. Useful for development and debugging.
package stderr

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/errtrail/errtrail/pkg/errtrail"
)

// Option configures the stderr adapter.
type Option func(*adapter)

// WithVerbose enables full event details including stack traces.
func WithVerbose() Option {
	return func(a *adapter) { a.verbose = true }
}

// WithWriter redirects output away from os.Stderr.
func WithWriter(w io.Writer) Option {
	return func(a *adapter) { a.out = w }
}

type adapter struct {
	mu          sync.Mutex
	out         io.Writer
	verbose     bool
	initialized bool
	environment string
}

// New returns a factory for stderr adapters.
func New(opts ...Option) errtrail.Factory {
	return func() errtrail.Adapter {
		a := &adapter{out: os.Stderr}
		for _, opt := range opts {
			opt(a)
		}
		return a
	}
}

func (a *adapter) Name() string { return "stderr" }

func (a *adapter) Initialize(ctx context.Context, cfg errtrail.AdapterConfig) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.environment = cfg.Environment
	a.initialized = true
	return nil
}

func (a *adapter) LogError(ctx context.Context, e *errtrail.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.initialized {
		return errtrail.ErrNotInitialized
	}

	timestamp := e.Timestamp.Format("2006-01-02T15:04:05Z07:00")
	level := strings.ToUpper(e.Level.String())

	line := fmt.Sprintf("[ERRTRAIL] %s %s %s", timestamp, level, e.Name)
	if a.environment != "" {
		line += fmt.Sprintf(" (%s)", a.environment)
	}
	fmt.Fprintln(a.out, line)

	if e.Message != "" {
		fmt.Fprintf(a.out, "        Message: %s\n", e.Message)
	}
	if len(e.Fingerprint) > 0 {
		fmt.Fprintf(a.out, "        Fingerprint: %s\n", errtrail.FingerprintKey(e.Fingerprint))
	}
	if e.User != nil && e.User.ID != "" {
		fmt.Fprintf(a.out, "        User: %s\n", e.User.ID)
	}
	if a.verbose && e.Stack != "" {
		fmt.Fprintf(a.out, "        Stack trace:\n")
		for _, l := range strings.Split(e.Stack, "\n") {
			fmt.Fprintf(a.out, "          %s\n", l)
		}
	}
	if a.verbose && len(e.Breadcrumbs) > 0 {
		fmt.Fprintf(a.out, "        Breadcrumbs:\n")
		for _, b := range e.Breadcrumbs {
			fmt.Fprintf(a.out, "          [%s] %s\n", b.Category, b.Message)
		}
	}
	return nil
}

func (a *adapter) LogMessage(ctx context.Context, msg string, lvl errtrail.Level) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.initialized {
		return errtrail.ErrNotInitialized
	}
	fmt.Fprintf(a.out, "[ERRTRAIL] %s %s %s\n",
		time.Now().Format("2006-01-02T15:04:05Z07:00"), strings.ToUpper(lvl.String()), msg)
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
	a.mu.Lock()
	defer a.mu.Unlock()
	a.initialized = false
	return nil
}

func (a *adapter) SupportsFeature(f errtrail.Feature) bool {
	return f == errtrail.FeatureBreadcrumbs
}

func (a *adapter) Capabilities() errtrail.Capabilities {
	return errtrail.Capabilities{MaxBreadcrumbs: 20}
}
