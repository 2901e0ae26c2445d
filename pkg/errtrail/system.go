// system.go captures runtime state at error time.

package errtrail

import (
	"runtime"
	"time"
)

// RuntimeState holds process metrics sampled when an error is captured.
type RuntimeState struct {
	MemoryBytes    int64
	GoroutineCount int
	UptimeMs       int64
}

// CaptureRuntimeState samples current process metrics. startTime is used to
// compute uptime.
func CaptureRuntimeState(startTime time.Time) RuntimeState {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	uptimeMs := time.Since(startTime).Milliseconds()
	if uptimeMs < 0 {
		uptimeMs = 0
	}
	return RuntimeState{
		MemoryBytes:    int64(memStats.Alloc),
		GoroutineCount: runtime.NumGoroutine(),
		UptimeMs:       uptimeMs,
	}
}

// attach defaults the runtime metrics into the event's App map. Existing
// values win.
func (s RuntimeState) attach(e *Event) {
	e.App = defaultAnyMap(e.App, map[string]any{
		"memory_bytes": s.MemoryBytes,
		"goroutines":   s.GoroutineCount,
		"uptime_ms":    s.UptimeMs,
	})
}
