package config

import (
	"context"
	"crypto/sha256"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const debounceDelay = 250 * time.Millisecond

// Watcher reloads a config file when it changes on disk and fans the new
// config out to subscribers. Invalid files are logged and skipped, keeping
// the last good config in place.
type Watcher struct {
	path string
	log  zerolog.Logger

	mu       sync.RWMutex
	cfg      *Config
	lastHash [sha256.Size]byte

	subMu sync.Mutex
	subs  []chan *Config

	timerMu sync.Mutex
	timer   *time.Timer
}

// NewWatcher loads the file once and returns a watcher holding it. Call
// Watch to start receiving updates.
func NewWatcher(path string, log zerolog.Logger) (*Watcher, error) {
	w := &Watcher{
		path: path,
		log:  log.With().Str("component", "config").Logger(),
	}
	cfg, hash, err := w.parse()
	if err != nil {
		return nil, err
	}
	w.cfg = cfg
	w.lastHash = hash
	return w, nil
}

// Current returns the last good config.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cfg
}

// Subscribe returns a channel receiving each committed config. Slow
// subscribers lose intermediate updates, never the latest one.
func (w *Watcher) Subscribe() <-chan *Config {
	ch := make(chan *Config, 1)
	w.subMu.Lock()
	w.subs = append(w.subs, ch)
	w.subMu.Unlock()
	return ch
}

// Watch blocks, reloading on file changes until ctx is cancelled. Editors
// that replace files (rename then create) are handled by watching the
// directory rather than the file itself.
func (w *Watcher) Watch(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	dir := filepath.Dir(w.path)
	file := filepath.Base(w.path)
	if err := fw.Add(dir); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != file {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Msg("config watch error")
		}
	}
}

// scheduleReload debounces bursts of write events so partial writes are not
// parsed mid-save.
func (w *Watcher) scheduleReload() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(debounceDelay, w.reload)
}

func (w *Watcher) reload() {
	cfg, hash, err := w.parse()
	if err != nil {
		w.log.Warn().Err(err).Str("path", w.path).Msg("config reload rejected")
		return
	}

	w.mu.Lock()
	if hash == w.lastHash {
		w.mu.Unlock()
		return
	}
	w.cfg = cfg
	w.lastHash = hash
	w.mu.Unlock()

	w.log.Info().Str("path", w.path).Msg("config reloaded")
	w.publish(cfg)
}

func (w *Watcher) parse() (*Config, [sha256.Size]byte, error) {
	b, err := os.ReadFile(w.path)
	if err != nil {
		return nil, [sha256.Size]byte{}, err
	}
	cfg, err := Parse(b)
	if err != nil {
		return nil, [sha256.Size]byte{}, err
	}
	return cfg, sha256.Sum256(b), nil
}

func (w *Watcher) publish(cfg *Config) {
	w.subMu.Lock()
	defer w.subMu.Unlock()
	for _, ch := range w.subs {
		select {
		case ch <- cfg:
		default:
			// Drop the stale pending value, then deliver the latest.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- cfg:
			default:
			}
		}
	}
}
