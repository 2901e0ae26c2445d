// normalize.go converts arbitrary inputs into canonical Events.

package errtrail

import (
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"runtime"
	"time"

	"github.com/google/uuid"
)

const unknownMessage = "Unknown error"

// Capture carries per-capture overrides applied during normalization. Level
// overrides the derived level; Tags, Context, and Metadata merge into (never
// replace) the normalized maps; User wins when both sides are present.
type Capture struct {
	Level    *Level
	Tags     map[string]string
	Context  map[string]any
	Metadata map[string]any
	User     *User
	Source   Source
	Handled  *bool
}

// Normalizer converts errors, strings, maps, and arbitrary values into
// Events. The zero value is usable; Environment defaults to "production".
type Normalizer struct {
	// Environment is attached under App["environment"] on every event.
	Environment string

	// Release, when set, is attached under App["release"].
	Release string
}

// Normalize converts any input into a canonical Event. The event's timestamp
// and fingerprint are fixed here and never change afterwards.
func (n *Normalizer) Normalize(input any, cap *Capture) *Event {
	e := &Event{
		ID:        uuid.NewString(),
		Level:     LevelError,
		Timestamp: time.Now(),
		Handled:   true,
		Source:    SourceManual,
		Original:  input,
	}

	switch v := input.(type) {
	case error:
		e.Message = v.Error()
		e.Name = errorTypeName(v)
		if st, ok := v.(interface{ StackTrace() string }); ok {
			e.Stack = st.StackTrace()
		}
	case string:
		e.Message = v
		e.Name = "StringError"
	case map[string]any:
		normalizeObject(e, v)
	default:
		e.Message = fmt.Sprint(v)
		e.Name = "UnknownError"
	}

	if e.Message == "" {
		e.Message = unknownMessage
	}

	// Every event gets a usable stack, even string/object inputs.
	if e.Stack == "" {
		e.Stack, e.Frames = syntheticStack(1)
	} else {
		e.Frames = ParseStack(e.Stack)
	}

	n.applyCapture(e, cap)
	n.attachPlatform(e)

	e.Fingerprint = Fingerprint(e)
	return e
}

// normalizeObject extracts message, name, and stack from a generic map input.
func normalizeObject(e *Event, obj map[string]any) {
	e.Name = "ObjectError"
	for _, key := range []string{"message", "error", "reason"} {
		if v, ok := obj[key]; ok && v != nil {
			e.Message = fmt.Sprint(v)
			break
		}
	}
	if e.Message == "" {
		if b, err := json.Marshal(obj); err == nil {
			e.Message = string(b)
		} else {
			e.Message = fmt.Sprint(obj)
		}
	}
	for _, key := range []string{"name", "type", "code"} {
		if v, ok := obj[key].(string); ok && v != "" {
			e.Name = v
			break
		}
	}
	for _, key := range []string{"stack", "stackTrace", "stacktrace"} {
		if v, ok := obj[key].(string); ok && v != "" {
			e.Stack = v
			break
		}
	}
	// Numeric status fields are useful for grouping; hoist them.
	for _, key := range []string{"code", "statusCode"} {
		if v, ok := obj[key]; ok && isNumeric(v) {
			if e.Context == nil {
				e.Context = map[string]any{}
			}
			e.Context[key] = v
		}
	}
}

func (n *Normalizer) applyCapture(e *Event, cap *Capture) {
	if cap == nil {
		return
	}
	if cap.Level != nil {
		e.Level = *cap.Level
	}
	e.Tags = mergeStringMap(e.Tags, cap.Tags)
	e.Context = mergeAnyMap(e.Context, cap.Context)
	e.Metadata = mergeAnyMap(e.Metadata, cap.Metadata)
	if cap.User != nil {
		e.User = cap.User
	}
	if cap.Source != "" {
		e.Source = cap.Source
	}
	if cap.Handled != nil {
		e.Handled = *cap.Handled
	}
}

// attachPlatform defaults device and app info. Existing values win on
// conflict.
func (n *Normalizer) attachPlatform(e *Event) {
	hostname, _ := os.Hostname()
	e.Device = defaultAnyMap(e.Device, map[string]any{
		"platform": runtime.GOOS,
		"arch":     runtime.GOARCH,
		"hostname": hostname,
	})

	env := n.Environment
	if env == "" {
		env = "production"
	}
	app := map[string]any{"environment": env}
	if n.Release != "" {
		app["release"] = n.Release
	}
	e.App = defaultAnyMap(e.App, app)
}

// errorTypeName derives a classification label from an error's dynamic type.
// Anonymous stdlib error types collapse to "Error".
func errorTypeName(err error) string {
	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	name := ""
	if t != nil {
		name = t.Name()
	}
	switch name {
	case "", "errorString", "wrapError", "joinError":
		return "Error"
	}
	return name
}

func isNumeric(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, json.Number:
		return true
	}
	return false
}

// mergeAnyMap merges src into dst, src winning on conflict. A nil src value
// deletes the key (explicit null override).
func mergeAnyMap(dst, src map[string]any) map[string]any {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range src {
		if v == nil {
			delete(dst, k)
			continue
		}
		dst[k] = v
	}
	return dst
}

func mergeStringMap(dst, src map[string]string) map[string]string {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]string, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// defaultAnyMap merges defaults into dst without overwriting existing keys.
func defaultAnyMap(dst, defaults map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(defaults))
	}
	for k, v := range defaults {
		if _, ok := dst[k]; !ok {
			dst[k] = v
		}
	}
	return dst
}
