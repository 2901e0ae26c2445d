package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestWatcher_LoadsInitialConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "errtrail.yaml")
	writeConfig(t, path, "environment: dev\n")

	w, err := NewWatcher(path, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "dev", w.Current().Environment)
}

func TestWatcher_RejectsInvalidInitialConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "errtrail.yaml")
	writeConfig(t, path, "filter:\n  sample_rate: 9\n")

	_, err := NewWatcher(path, zerolog.Nop())
	assert.Error(t, err)
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "errtrail.yaml")
	writeConfig(t, path, "environment: dev\n")

	w, err := NewWatcher(path, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Watch(ctx)
	}()

	sub := w.Subscribe()
	// Give the watcher a moment to register before writing.
	time.Sleep(100 * time.Millisecond)
	writeConfig(t, path, "environment: prod\n")

	select {
	case cfg := <-sub:
		assert.Equal(t, "prod", cfg.Environment)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}

	cancel()
	<-done
}

func TestWatcher_KeepsLastGoodConfigOnParseError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "errtrail.yaml")
	writeConfig(t, path, "environment: dev\n")

	w, err := NewWatcher(path, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Watch(ctx) }()

	time.Sleep(100 * time.Millisecond)
	writeConfig(t, path, "{{not yaml")

	// The bad write must not clobber the committed config.
	time.Sleep(500 * time.Millisecond)
	assert.Equal(t, "dev", w.Current().Environment)
}
