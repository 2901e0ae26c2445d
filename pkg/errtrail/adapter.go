// adapter.go defines the backend adapter capability interface.

package errtrail

import (
	"context"
	"time"
)

// Feature names an optional adapter capability.
type Feature string

const (
	FeatureBreadcrumbs Feature = "breadcrumbs"
	FeatureOffline     Feature = "offline"
	FeatureBatching    Feature = "batching"
	FeatureUserContext Feature = "user-context"
	FeatureTags        Feature = "tags"
)

// Capabilities describes an adapter's limits. Zero limits mean "no support":
// the dispatch layer never exceeds an adapter's own ceilings regardless of
// pipeline configuration.
type Capabilities struct {
	MaxBreadcrumbs   int
	MaxContextSize   int
	MaxTags          int
	SupportsOffline  bool
	SupportsBatching bool
	Platforms        []string
}

// AdapterConfig is passed to Initialize. Options carries vendor-specific
// settings the core does not interpret.
type AdapterConfig struct {
	DSN         string
	Environment string
	Release     string
	Debug       bool
	Options     map[string]any
}

// Adapter is the capability interface every backend implements. The pipeline
// treats adapters as black boxes: it initializes them, routes enriched events
// to them, and mirrors context changes into them.
//
// Calling any data method before Initialize completes, or after Destroy,
// must fail with ErrNotInitialized rather than silently dropping data.
type Adapter interface {
	Name() string
	Initialize(ctx context.Context, cfg AdapterConfig) error

	LogError(ctx context.Context, e *Event) error
	LogMessage(ctx context.Context, msg string, lvl Level) error

	SetUser(u *User)
	SetContext(key string, value any)
	AddBreadcrumb(b Breadcrumb)
	SetTags(tags map[string]string)
	SetExtra(key string, value any)
	ClearBreadcrumbs()

	// Flush waits up to timeout for buffered data to reach the backend and
	// reports whether everything was delivered.
	Flush(ctx context.Context, timeout time.Duration) (bool, error)
	Destroy() error

	SupportsFeature(f Feature) bool
	Capabilities() Capabilities
}

// Factory builds a fresh adapter instance. The registry stores factories,
// not instances, so adapters stay swappable and testable behind the same
// contract.
type Factory func() Adapter
