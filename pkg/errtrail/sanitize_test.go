package errtrail

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSanitize_DisabledIsNoOp(t *testing.T) {
	s := NewSanitizer(SanitizeConfig{})
	e := &Event{Message: "mail me at alice@example.com"}

	s.Sanitize(e)
	if !strings.Contains(e.Message, "alice@example.com") {
		t.Error("sanitizer should be a no-op when ScrubPII is off")
	}
}

func TestSanitize_Email(t *testing.T) {
	s := NewSanitizer(SanitizeConfig{ScrubPII: true})
	e := &Event{Message: "failed to notify alice@example.com about the outage"}

	s.Sanitize(e)
	if strings.Contains(e.Message, "alice@example.com") {
		t.Errorf("email not scrubbed: %q", e.Message)
	}
	if !strings.Contains(e.Message, "[REDACTED]") {
		t.Errorf("placeholder missing: %q", e.Message)
	}
}

func TestSanitize_SecretAssignments(t *testing.T) {
	s := NewSanitizer(SanitizeConfig{ScrubPII: true})
	for _, msg := range []string{
		"request failed: api_key=abcdef123456",
		"bad header Authorization: Bearer.xyz",
		"login with password=hunter2 rejected",
	} {
		e := &Event{Message: msg}
		s.Sanitize(e)
		if strings.Contains(e.Message, "abcdef123456") ||
			strings.Contains(e.Message, "hunter2") {
			t.Errorf("secret survived scrubbing: %q", e.Message)
		}
	}
}

func TestSanitize_SensitiveKeysRedactedWholesale(t *testing.T) {
	s := NewSanitizer(SanitizeConfig{ScrubPII: true})
	e := &Event{
		Message: "x",
		Context: map[string]any{
			"auth_token": "tok-123",
			"safe":       "value",
			"nested": map[string]any{
				"Password": "pw",
			},
		},
	}

	s.Sanitize(e)
	if e.Context["auth_token"] != "[REDACTED]" {
		t.Errorf("auth_token = %v", e.Context["auth_token"])
	}
	if e.Context["safe"] != "value" {
		t.Errorf("safe value touched: %v", e.Context["safe"])
	}
	nested := e.Context["nested"].(map[string]any)
	if nested["Password"] != "[REDACTED]" {
		t.Errorf("nested Password = %v", nested["Password"])
	}
}

func TestSanitize_RedactedFieldsDotNotation(t *testing.T) {
	s := NewSanitizer(SanitizeConfig{
		ScrubPII:       true,
		RedactedFields: []string{"billing.card"},
	})
	e := &Event{
		Message: "x",
		Context: map[string]any{
			"billing": map[string]any{"card": "4111", "plan": "pro"},
		},
	}

	s.Sanitize(e)
	billing := e.Context["billing"].(map[string]any)
	if billing["card"] != "[REDACTED]" {
		t.Errorf("billing.card = %v", billing["card"])
	}
	if billing["plan"] != "pro" {
		t.Errorf("billing.plan touched: %v", billing["plan"])
	}
}

func TestSanitize_StackPaths(t *testing.T) {
	s := NewSanitizer(SanitizeConfig{ScrubPII: true})
	e := &Event{
		Message: "x",
		Stack:   "main.run()\n\t/home/carol/project/main.go:10 +0x1b9",
	}

	s.Sanitize(e)
	if strings.Contains(e.Stack, "carol") {
		t.Errorf("user directory survived: %q", e.Stack)
	}
	if strings.Contains(e.Stack, "+0x1b9") {
		t.Errorf("memory address survived: %q", e.Stack)
	}
}

func TestSanitize_Breadcrumbs(t *testing.T) {
	s := NewSanitizer(SanitizeConfig{ScrubPII: true})
	e := &Event{
		Message: "x",
		Breadcrumbs: []Breadcrumb{
			{Message: "user bob@example.com logged in", Data: map[string]any{"session_token": "abc"}},
		},
	}

	s.Sanitize(e)
	if strings.Contains(e.Breadcrumbs[0].Message, "bob@example.com") {
		t.Errorf("breadcrumb message not scrubbed: %q", e.Breadcrumbs[0].Message)
	}
	if e.Breadcrumbs[0].Data["session_token"] != "[REDACTED]" {
		t.Errorf("breadcrumb data not scrubbed: %v", e.Breadcrumbs[0].Data)
	}
}

func TestSanitize_MessageTruncation(t *testing.T) {
	s := NewSanitizer(SanitizeConfig{ScrubPII: true, MaxMessageSize: 10})
	e := &Event{Message: strings.Repeat("a", 50)}

	s.Sanitize(e)
	if len(e.Message) != 10 {
		t.Errorf("message length = %d, want 10", len(e.Message))
	}
}

func TestSanitize_TruncationKeepsRunesIntact(t *testing.T) {
	s := NewSanitizer(SanitizeConfig{ScrubPII: true, MaxMessageSize: 5})
	e := &Event{Message: strings.Repeat("ü", 20)}

	s.Sanitize(e)
	if !utf8.ValidString(e.Message) {
		t.Errorf("truncation split a rune: %q", e.Message)
	}
	if n := utf8.RuneCountInString(e.Message); n != 5 {
		t.Errorf("rune count = %d, want 5", n)
	}
}
