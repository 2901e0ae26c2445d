// sanitize.go redacts PII and secrets from events before delivery.

package errtrail

import (
	"regexp"
	"strings"
)

const redactedPlaceholder = "[REDACTED]"

// Default patterns for PII in free-form text: emails, credit-card-like digit
// groups, SSN-like groups, and phone-like digit groups.
var piiPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
	regexp.MustCompile(`\b\d{4}[\s-]?\d{4}[\s-]?\d{4}[\s-]?\d{4}\b`),
	regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	regexp.MustCompile(`\b\+?\d{1,3}[\s.-]?\(?\d{3}\)?[\s.-]?\d{3}[\s.-]?\d{4}\b`),
}

// Secret-shaped tokens: API keys, bearer headers, JWTs, password assignments.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|token)[=:\s]+['"]?[\w\-.]+['"]?`),
	regexp.MustCompile(`(?i)(authorization|bearer)[=:\s]+['"]?[\w\-.]+['"]?`),
	regexp.MustCompile(`(?i)sk-[a-zA-Z0-9_-]{20,}`),
	regexp.MustCompile(`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`),
	regexp.MustCompile(`(?i)(password|passwd|secret|credential)[=:\s]+['"]?[^\s'",]+['"]?`),
}

// Map keys whose values are redacted wholesale (case-insensitive substring
// match).
var sensitiveKeys = []string{"token", "secret", "password", "credential", "passwd", "apikey", "api_key"}

// Paths scrubbed out of stack traces so user directories never leave the
// process.
var stackPathPatterns = []*regexp.Regexp{
	regexp.MustCompile(`/home/[^/]+/`),
	regexp.MustCompile(`/Users/[^/]+/`),
	regexp.MustCompile(`C:\\Users\\[^\\]+\\`),
}

var memAddrScrub = regexp.MustCompile(`0x[0-9a-fA-F]+`)

// SanitizeConfig controls redaction behavior.
type SanitizeConfig struct {
	// ScrubPII enables sanitization. When false, Sanitize is a no-op.
	ScrubPII bool

	// PIIPatterns extends the default pattern set.
	PIIPatterns []*regexp.Regexp

	// RedactedFields lists exact key paths (dot notation, e.g.
	// "nested.apiKey") blanked in Context and Metadata regardless of pattern
	// match.
	RedactedFields []string

	// MaxMessageSize caps message length (default 4096).
	MaxMessageSize int
}

// Sanitizer applies SanitizeConfig to events in place.
type Sanitizer struct {
	cfg      SanitizeConfig
	patterns []*regexp.Regexp
}

// NewSanitizer compiles the effective pattern set for a config.
func NewSanitizer(cfg SanitizeConfig) *Sanitizer {
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 4096
	}
	patterns := make([]*regexp.Regexp, 0, len(piiPatterns)+len(secretPatterns)+len(cfg.PIIPatterns))
	patterns = append(patterns, piiPatterns...)
	patterns = append(patterns, secretPatterns...)
	patterns = append(patterns, cfg.PIIPatterns...)
	return &Sanitizer{cfg: cfg, patterns: patterns}
}

// Sanitize redacts PII from the event. No-op unless ScrubPII is set.
func (s *Sanitizer) Sanitize(e *Event) *Event {
	if s == nil || !s.cfg.ScrubPII || e == nil {
		return e
	}

	e.Message = s.scrubString(e.Message)
	e.Stack = s.scrubStack(e.Stack)
	e.Context, _ = s.scrubValue(e.Context).(map[string]any)
	e.Metadata, _ = s.scrubValue(e.Metadata).(map[string]any)
	for i := range e.Breadcrumbs {
		e.Breadcrumbs[i].Message = s.scrubString(e.Breadcrumbs[i].Message)
		e.Breadcrumbs[i].Data, _ = s.scrubValue(e.Breadcrumbs[i].Data).(map[string]any)
	}

	for _, path := range s.cfg.RedactedFields {
		redactPath(e.Context, path)
		redactPath(e.Metadata, path)
	}
	return e
}

func (s *Sanitizer) scrubString(v string) string {
	v = truncateRunes(v, s.cfg.MaxMessageSize)
	for _, p := range s.patterns {
		v = p.ReplaceAllString(v, redactedPlaceholder)
	}
	return v
}

func (s *Sanitizer) scrubStack(trace string) string {
	if trace == "" {
		return trace
	}
	for _, p := range stackPathPatterns {
		trace = p.ReplaceAllString(trace, "/[PATH]/")
	}
	return memAddrScrub.ReplaceAllString(trace, "0x...")
}

// scrubValue recursively scrubs maps, slices, and strings. Values under
// sensitive keys are redacted wholesale.
func (s *Sanitizer) scrubValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		if val == nil {
			return val
		}
		out := make(map[string]any, len(val))
		for k, inner := range val {
			if isSensitiveKey(k) {
				out[k] = redactedPlaceholder
				continue
			}
			out[k] = s.scrubValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = s.scrubValue(inner)
		}
		return out
	case string:
		return s.scrubString(val)
	default:
		return v
	}
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, pat := range sensitiveKeys {
		if strings.Contains(lower, pat) {
			return true
		}
	}
	return false
}

// redactPath blanks a dot-notation key path inside a nested map.
func redactPath(m map[string]any, path string) {
	if m == nil || path == "" {
		return
	}
	parts := strings.Split(path, ".")
	for i, part := range parts {
		if i == len(parts)-1 {
			if _, ok := m[part]; ok {
				m[part] = redactedPlaceholder
			}
			return
		}
		next, ok := m[part].(map[string]any)
		if !ok {
			return
		}
		m = next
	}
}
