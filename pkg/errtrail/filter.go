// filter.go applies delivery policy to events.

package errtrail

import (
	"math/rand"
	"regexp"
	"strings"
)

// FilterFunc is a custom predicate; returning false rejects the event.
type FilterFunc func(*Event) bool

// BeforeSendFunc may mutate or replace the event, or return nil to cancel
// delivery. It runs last, after every other policy step.
type BeforeSendFunc func(*Event) *Event

// Policy decides whether and how an event is delivered. Steps apply in a
// fixed order, short-circuiting on the first rejection:
//
//  1. minimum level
//  2. ignore patterns (substring and regexp, against message and name)
//  3. custom filters (all must pass)
//  4. sample rate (one random draw per event)
//  5. BeforeSend transform (nil result cancels)
//
// An event rejected here is intentionally discarded: it is never queued for
// retry and never counted as a delivery failure.
type Policy struct {
	MinLevel       Level
	IgnorePatterns []string
	IgnoreRegexps  []*regexp.Regexp
	Filters        []FilterFunc

	// SampleRate in [0,1]. 1 always delivers, 0 always rejects.
	SampleRate float64

	BeforeSend BeforeSendFunc

	// Rand overrides the sampling source; used by tests. Defaults to
	// rand.Float64.
	Rand func() float64
}

// DefaultPolicy delivers everything at LevelDebug and above.
func DefaultPolicy() *Policy {
	return &Policy{MinLevel: LevelDebug, SampleRate: 1}
}

// Apply runs the policy chain. It returns the (possibly transformed) event
// and whether it should be delivered. Rejection at an earlier step produces
// zero side effects from later steps: no random draw, no BeforeSend call.
func (p *Policy) Apply(e *Event) (*Event, bool) {
	if p == nil {
		return e, true
	}

	if e.Level < p.MinLevel {
		return nil, false
	}

	for _, pat := range p.IgnorePatterns {
		if strings.Contains(e.Message, pat) || strings.Contains(e.Name, pat) {
			return nil, false
		}
	}
	for _, re := range p.IgnoreRegexps {
		if re.MatchString(e.Message) || re.MatchString(e.Name) {
			return nil, false
		}
	}

	for _, filter := range p.Filters {
		if !filter(e) {
			return nil, false
		}
	}

	if p.SampleRate < 1 {
		draw := p.Rand
		if draw == nil {
			draw = rand.Float64
		}
		if draw() >= p.SampleRate {
			return nil, false
		}
	}

	if p.BeforeSend != nil {
		e = p.BeforeSend(e)
		if e == nil {
			return nil, false
		}
	}

	return e, true
}
