package stderr

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/errtrail/errtrail/pkg/errtrail"
)

func testEvent() *errtrail.Event {
	return &errtrail.Event{
		ID:          "evt-1",
		Message:     "disk full",
		Name:        "StorageError",
		Level:       errtrail.LevelError,
		Timestamp:   time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
		Fingerprint: []string{"StorageError", "disk full"},
		Stack:       "main.write()\n\t/app/main.go:10",
	}
}

func TestAdapter_LogError(t *testing.T) {
	var buf bytes.Buffer
	a := New(WithWriter(&buf))()
	if err := a.Initialize(context.Background(), errtrail.AdapterConfig{Environment: "dev"}); err != nil {
		t.Fatal(err)
	}

	if err := a.LogError(context.Background(), testEvent()); err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	for _, want := range []string{"[ERRTRAIL]", "ERROR", "StorageError", "(dev)", "disk full", "StorageError|disk full"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "main.go") {
		t.Error("stack should only print in verbose mode")
	}
}

func TestAdapter_VerboseIncludesStack(t *testing.T) {
	var buf bytes.Buffer
	a := New(WithWriter(&buf), WithVerbose())()
	if err := a.Initialize(context.Background(), errtrail.AdapterConfig{}); err != nil {
		t.Fatal(err)
	}

	if err := a.LogError(context.Background(), testEvent()); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "/app/main.go:10") {
		t.Errorf("verbose output missing stack:\n%s", buf.String())
	}
}

func TestAdapter_RequiresInitialize(t *testing.T) {
	var buf bytes.Buffer
	a := New(WithWriter(&buf))()

	err := a.LogError(context.Background(), testEvent())
	if !errors.Is(err, errtrail.ErrNotInitialized) {
		t.Errorf("err = %v, want ErrNotInitialized", err)
	}
	if err := a.Destroy(); err != nil {
		t.Fatal(err)
	}
}
