// fingerprint.go derives stable grouping keys for events.

package errtrail

import (
	"fmt"
	"regexp"
	"strings"
)

const maxPatternLen = 100

// Patterns for variable tokens inside messages. URLs go first so their digits
// and hex runs are not rewritten piecemeal.
var (
	urlPattern = regexp.MustCompile(`https?://[^\s]+`)
	hexPattern = regexp.MustCompile(`\b[0-9a-fA-F]{8,}\b`)
	numPattern = regexp.MustCompile(`\b\d+\b`)
)

// Fingerprint derives the grouping key [name, messagePattern, topFrame?] for
// an event. Two errors that differ only in embedded numeric IDs, hex tokens,
// or URLs fingerprint identically; this is the basis for backend-side
// grouping.
func Fingerprint(e *Event) []string {
	fp := []string{e.Name, MessagePattern(e.Message)}
	if len(e.Frames) > 0 {
		top := e.Frames[0]
		fp = append(fp, fmt.Sprintf("%s:%d", top.File, top.Line))
	}
	return fp
}

// MessagePattern normalizes the variable parts of a message: URLs become
// "URL", long hex/ID tokens become "ID", and standalone numbers become "N".
// The result is truncated to 100 characters.
func MessagePattern(msg string) string {
	p := urlPattern.ReplaceAllString(msg, "URL")
	p = hexPattern.ReplaceAllString(p, "ID")
	p = numPattern.ReplaceAllString(p, "N")
	return truncateRunes(p, maxPatternLen)
}

// truncateRunes caps s at n characters, never splitting a multi-byte rune.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// FingerprintKey joins a fingerprint into a single comparable string.
func FingerprintKey(fp []string) string {
	return strings.Join(fp, "|")
}
