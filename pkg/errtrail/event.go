// event.go defines the canonical event data structures for errtrail.

package errtrail

import "time"

// Source records how an event entered the pipeline.
type Source string

const (
	// SourceManual marks events captured explicitly by application code.
	SourceManual Source = "manual"

	// SourceGlobal marks events produced by a global hook (interceptor taps).
	SourceGlobal Source = "global"

	// SourcePanic marks events produced by panic recovery.
	SourcePanic Source = "panic"
)

// User identifies the user a session belongs to. All fields are optional.
type User struct {
	ID       string         `json:"id,omitempty"`
	Email    string         `json:"email,omitempty"`
	Username string         `json:"username,omitempty"`
	Extra    map[string]any `json:"extra,omitempty"`
}

// Breadcrumb is a single entry in the trail of things that happened before an
// error. Breadcrumbs are timestamped at insertion when not already stamped.
type Breadcrumb struct {
	Message   string         `json:"message"`
	Category  string         `json:"category,omitempty"`
	Level     Level          `json:"level"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Frame is one parsed stack frame.
type Frame struct {
	Function string `json:"function,omitempty"`
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
	Col      int    `json:"col,omitempty"`
}

// Event is the canonical unit flowing through the pipeline.
//
// Once constructed by the normalizer, Timestamp and Fingerprint are stable.
// Enrichment merges may add context fields but never remove previously set
// ones, except via an explicit nil override.
type Event struct {
	// ID uniquely identifies this event (UUID).
	ID string `json:"id"`

	// Message is the human-readable error message, never empty after
	// normalization.
	Message string `json:"message"`

	// Name classifies the error ("StringError", "UnknownError", the error's
	// type name, or an explicit name/code from the input).
	Name string `json:"name"`

	// Stack is the original or synthetically generated call-stack text.
	Stack string `json:"stack,omitempty"`

	// Frames holds the parsed form of Stack. Unparseable lines are skipped.
	Frames []Frame `json:"frames,omitempty"`

	Level     Level     `json:"level"`
	Timestamp time.Time `json:"timestamp"`

	// Structured side-channel maps. Merged field-by-field during enrichment,
	// never overwritten wholesale.
	Context  map[string]any    `json:"context,omitempty"`
	Tags     map[string]string `json:"tags,omitempty"`
	User     *User             `json:"user,omitempty"`
	Device   map[string]any    `json:"device,omitempty"`
	App      map[string]any    `json:"app,omitempty"`
	Network  map[string]any    `json:"network,omitempty"`
	Metadata map[string]any    `json:"metadata,omitempty"`

	// Fingerprint is the derived grouping key:
	// [name, messagePattern, topStackFrame?].
	Fingerprint []string `json:"fingerprint"`

	// Breadcrumbs is a snapshot of the breadcrumb log at capture time.
	Breadcrumbs []Breadcrumb `json:"breadcrumbs,omitempty"`

	Handled bool   `json:"handled"`
	Source  Source `json:"source"`

	// Original retains the raw input for in-process use only. It is never
	// serialized and adapters must not depend on it.
	Original any `json:"-"`
}

// Clone returns a shallow copy of the event with its own copies of every map
// and slice, so enrichment of the copy cannot mutate the original.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Frames = append([]Frame(nil), e.Frames...)
	cp.Fingerprint = append([]string(nil), e.Fingerprint...)
	cp.Breadcrumbs = append([]Breadcrumb(nil), e.Breadcrumbs...)
	cp.Context = cloneAnyMap(e.Context)
	cp.Tags = cloneStringMap(e.Tags)
	cp.Device = cloneAnyMap(e.Device)
	cp.App = cloneAnyMap(e.App)
	cp.Network = cloneAnyMap(e.Network)
	cp.Metadata = cloneAnyMap(e.Metadata)
	if e.User != nil {
		u := *e.User
		u.Extra = cloneAnyMap(e.User.Extra)
		cp.User = &u
	}
	return &cp
}

func cloneAnyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
