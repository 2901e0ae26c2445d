// intercept.go taps stdlib logging and HTTP traffic to auto-generate
// breadcrumbs.
//
// Interceptors are pure producers: they only call Add on the breadcrumb log.
// Both are reversible: Disable restores exactly what Enable replaced.
// Enabling twice is a no-op, and disabling an interceptor that is not
// enabled never fails.

package errtrail

import (
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"
)

// LogInterceptor mirrors every line written through the stdlib default
// logger into the breadcrumb log.
type LogInterceptor struct {
	mu      sync.Mutex
	crumbs  *BreadcrumbLog
	enabled bool
	prev    io.Writer
}

// NewLogInterceptor creates an interceptor feeding the given log.
func NewLogInterceptor(crumbs *BreadcrumbLog) *LogInterceptor {
	return &LogInterceptor{crumbs: crumbs}
}

// Enable starts tapping log output. No-op when already enabled.
func (li *LogInterceptor) Enable() {
	li.mu.Lock()
	defer li.mu.Unlock()
	if li.enabled {
		return
	}
	li.prev = log.Writer()
	log.SetOutput(io.MultiWriter(li.prev, crumbWriter{crumbs: li.crumbs}))
	li.enabled = true
}

// Disable restores the original log writer. No-op when not enabled.
func (li *LogInterceptor) Disable() {
	li.mu.Lock()
	defer li.mu.Unlock()
	if !li.enabled {
		return
	}
	log.SetOutput(li.prev)
	li.prev = nil
	li.enabled = false
}

type crumbWriter struct {
	crumbs *BreadcrumbLog
}

func (w crumbWriter) Write(p []byte) (int, error) {
	msg := strings.TrimRight(string(p), "\n")
	if msg != "" {
		w.crumbs.Add(Breadcrumb{
			Message:  msg,
			Category: "log",
			Level:    LevelInfo,
		})
	}
	return len(p), nil
}

// HTTPInterceptor records outgoing HTTP requests as breadcrumbs by wrapping
// http.DefaultTransport.
type HTTPInterceptor struct {
	mu      sync.Mutex
	crumbs  *BreadcrumbLog
	enabled bool
	prev    http.RoundTripper
}

// NewHTTPInterceptor creates an interceptor feeding the given log.
func NewHTTPInterceptor(crumbs *BreadcrumbLog) *HTTPInterceptor {
	return &HTTPInterceptor{crumbs: crumbs}
}

// Enable swaps http.DefaultTransport for a recording wrapper. No-op when
// already enabled.
func (hi *HTTPInterceptor) Enable() {
	hi.mu.Lock()
	defer hi.mu.Unlock()
	if hi.enabled {
		return
	}
	hi.prev = http.DefaultTransport
	http.DefaultTransport = &crumbTransport{next: hi.prev, crumbs: hi.crumbs}
	hi.enabled = true
}

// Disable restores the original transport. No-op when not enabled.
func (hi *HTTPInterceptor) Disable() {
	hi.mu.Lock()
	defer hi.mu.Unlock()
	if !hi.enabled {
		return
	}
	http.DefaultTransport = hi.prev
	hi.prev = nil
	hi.enabled = false
}

// WrapTransport returns a breadcrumb-recording wrapper around rt for callers
// that own their http.Client instead of the default transport.
func (hi *HTTPInterceptor) WrapTransport(rt http.RoundTripper) http.RoundTripper {
	if rt == nil {
		rt = http.DefaultTransport
	}
	return &crumbTransport{next: rt, crumbs: hi.crumbs}
}

type crumbTransport struct {
	next   http.RoundTripper
	crumbs *BreadcrumbLog
}

func (t *crumbTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.next.RoundTrip(req)

	data := map[string]any{
		"method":      req.Method,
		"url":         req.URL.Redacted(),
		"duration_ms": time.Since(start).Milliseconds(),
	}
	lvl := LevelInfo
	if err != nil {
		data["error"] = err.Error()
		lvl = LevelError
	} else {
		data["status"] = resp.StatusCode
		if resp.StatusCode >= 500 {
			lvl = LevelError
		} else if resp.StatusCode >= 400 {
			lvl = LevelWarning
		}
	}
	t.crumbs.Add(Breadcrumb{
		Message:  req.Method + " " + req.URL.Redacted(),
		Category: "http",
		Level:    lvl,
		Data:     data,
	})
	return resp, err
}
