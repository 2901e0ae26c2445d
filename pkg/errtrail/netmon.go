// netmon.go provides network connectivity monitoring for the offline queue.

package errtrail

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Monitor reports network connectivity and notifies subscribers on
// transitions. Implementations must be safe for concurrent use.
type Monitor interface {
	// Online reports the current connectivity state.
	Online() bool

	// Subscribe registers a callback invoked on every online/offline
	// transition with the new state. The returned function cancels the
	// subscription.
	Subscribe(fn func(online bool)) (unsubscribe func())
}

// monitorCore implements subscriber fanout shared by monitor implementations.
type monitorCore struct {
	mu     sync.Mutex
	online bool
	subs   map[uint64]func(bool)
	seq    uint64
}

func (m *monitorCore) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

func (m *monitorCore) Subscribe(fn func(bool)) func() {
	m.mu.Lock()
	m.seq++
	id := m.seq
	if m.subs == nil {
		m.subs = map[uint64]func(bool){}
	}
	m.subs[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}

// set updates the state and fires subscribers on transition.
func (m *monitorCore) set(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	fns := make([]func(bool), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		func() {
			defer func() { _ = recover() }()
			fn(online)
		}()
	}
}

// StaticMonitor is a manually driven monitor. Tests and embedders that track
// connectivity themselves flip it with SetOnline.
type StaticMonitor struct {
	monitorCore
}

// NewStaticMonitor returns a monitor reporting the given initial state.
func NewStaticMonitor(online bool) *StaticMonitor {
	m := &StaticMonitor{}
	m.online = online
	return m
}

// SetOnline updates the state, notifying subscribers on transition.
func (m *StaticMonitor) SetOnline(online bool) { m.set(online) }

// ProbeMonitor detects connectivity by periodically dialing a well-known
// address. It starts optimistic (online) and transitions on probe results.
type ProbeMonitor struct {
	monitorCore

	log      zerolog.Logger
	addr     string
	interval time.Duration
	timeout  time.Duration

	dial func(network, addr string, timeout time.Duration) (net.Conn, error)

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// ProbeOption configures a ProbeMonitor.
type ProbeOption func(*ProbeMonitor)

// WithProbeAddress sets the dial target (default "1.1.1.1:443").
func WithProbeAddress(addr string) ProbeOption {
	return func(m *ProbeMonitor) { m.addr = addr }
}

// WithProbeInterval sets how often to probe (default 30s).
func WithProbeInterval(d time.Duration) ProbeOption {
	return func(m *ProbeMonitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithProbeLogger sets the monitor's logger.
func WithProbeLogger(log zerolog.Logger) ProbeOption {
	return func(m *ProbeMonitor) { m.log = log }
}

// NewProbeMonitor creates and starts a probing monitor.
func NewProbeMonitor(opts ...ProbeOption) *ProbeMonitor {
	m := &ProbeMonitor{
		log:      zerolog.Nop(),
		addr:     "1.1.1.1:443",
		interval: 30 * time.Second,
		timeout:  5 * time.Second,
		dial:     net.DialTimeout,
	}
	m.online = true
	for _, opt := range opts {
		opt(m)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.loop(ctx)
	return m
}

func (m *ProbeMonitor) loop(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probe()
		}
	}
}

func (m *ProbeMonitor) probe() {
	conn, err := m.dial("tcp", m.addr, m.timeout)
	if err != nil {
		if m.Online() {
			m.log.Warn().Str("addr", m.addr).Err(err).Msg("network probe failed, going offline")
		}
		m.set(false)
		return
	}
	_ = conn.Close()
	if !m.Online() {
		m.log.Info().Str("addr", m.addr).Msg("network probe succeeded, back online")
	}
	m.set(true)
}

// Close stops the probe loop. Safe to call more than once.
func (m *ProbeMonitor) Close() {
	m.once.Do(func() {
		m.cancel()
		<-m.done
	})
}
