// Package connwatch watches the health of linebot's upstream services
// (the MSSQL knowledge database, the LINE Messaging API) so the admin
// dashboard can show whether they are reachable.
//
// Each Watcher probes one service in two phases:
//  1. Startup: exponential backoff (2s, 4s, 8s, ... capped at 60s)
//  2. Background: periodic polling (every 60s), publishing a
//     service_up or service_down event on every transition
package connwatch

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nugget/linebot-mcp/internal/events"
)

// ProbeFunc checks whether a service is reachable. Return nil if healthy.
type ProbeFunc func(ctx context.Context) error

// Backoff controls startup retries and background polling. Zero fields
// take the DefaultBackoff values.
type Backoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	MaxRetries   int
	PollInterval time.Duration
	ProbeTimeout time.Duration
}

// DefaultBackoff returns 2s doubling to 60s over 10 startup attempts,
// then a 60s poll with a 10s probe timeout.
func DefaultBackoff() Backoff {
	return Backoff{
		InitialDelay: 2 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		MaxRetries:   10,
		PollInterval: 60 * time.Second,
		ProbeTimeout: 10 * time.Second,
	}
}

func (b Backoff) withDefaults() Backoff {
	d := DefaultBackoff()
	if b.InitialDelay <= 0 {
		b.InitialDelay = d.InitialDelay
	}
	if b.MaxDelay <= 0 {
		b.MaxDelay = d.MaxDelay
	}
	if b.Multiplier <= 0 {
		b.Multiplier = d.Multiplier
	}
	if b.MaxRetries <= 0 {
		b.MaxRetries = d.MaxRetries
	}
	if b.PollInterval <= 0 {
		b.PollInterval = d.PollInterval
	}
	if b.ProbeTimeout <= 0 {
		b.ProbeTimeout = d.ProbeTimeout
	}
	return b
}

// next grows d by the multiplier, capped at MaxDelay.
func (b Backoff) next(d time.Duration) time.Duration {
	d = time.Duration(float64(d) * b.Multiplier)
	return min(d, b.MaxDelay)
}

// Service names a probe.
type Service struct {
	Name    string
	Probe   ProbeFunc
	Backoff Backoff
}

// Status is a service's health as shown on the dashboard.
type Status struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	LastCheck time.Time `json:"lastCheck"`
	LastError string    `json:"lastError,omitempty"`
}

// Watcher monitors one service.
type Watcher struct {
	svc    Service
	bus    *events.Bus
	logger *slog.Logger
	ready  atomic.Bool
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	lastErr   error
	lastCheck time.Time
}

// IsReady reports whether the service answered its last probe.
func (w *Watcher) IsReady() bool {
	return w.ready.Load()
}

// Status returns the current health.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := Status{Name: w.svc.Name, Ready: w.ready.Load(), LastCheck: w.lastCheck}
	if w.lastErr != nil {
		s.LastError = w.lastErr.Error()
	}
	return s
}

// Stop cancels the watcher and waits for it to exit.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.done
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	b := w.svc.Backoff

	delay := b.InitialDelay
	for attempt := 1; attempt <= b.MaxRetries; attempt++ {
		err := w.check(ctx)
		if err == nil {
			w.logger.Info("service connected", "service", w.svc.Name, "after_attempts", attempt)
			break
		}
		if attempt == b.MaxRetries {
			w.logger.Warn("service unreachable at startup, polling in background",
				"service", w.svc.Name, "attempts", attempt, "error", err)
			break
		}
		w.logger.Debug("startup probe failed", "service", w.svc.Name,
			"attempt", attempt, "next_delay", delay, "error", err)
		if !sleepCtx(ctx, delay) {
			return
		}
		delay = b.next(delay)
	}

	ticker := time.NewTicker(b.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.check(ctx)
		}
	}
}

// check probes once, records the result and publishes a transition.
func (w *Watcher) check(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, w.svc.Backoff.ProbeTimeout)
	err := w.svc.Probe(probeCtx)
	cancel()

	w.mu.Lock()
	w.lastErr = err
	w.lastCheck = time.Now()
	w.mu.Unlock()

	nowReady := err == nil
	if w.ready.Swap(nowReady) == nowReady {
		return err
	}
	if nowReady {
		w.logger.Info("service up", "service", w.svc.Name)
		w.bus.Emit(events.SourceHealth, events.KindServiceUp, map[string]any{"service": w.svc.Name})
	} else {
		w.logger.Warn("service down", "service", w.svc.Name, "error", err)
		w.bus.Emit(events.SourceHealth, events.KindServiceDown, map[string]any{"service": w.svc.Name, "error": err.Error()})
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Manager owns the watchers for all services.
type Manager struct {
	mu       sync.RWMutex
	watchers map[string]*Watcher
	bus      *events.Bus
	logger   *slog.Logger
}

// NewManager creates a manager. bus may be nil.
func NewManager(bus *events.Bus, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		watchers: make(map[string]*Watcher),
		bus:      bus,
		logger:   logger.With("component", "connwatch"),
	}
}

// Watch starts watching svc until ctx is cancelled or Stop is called.
// It panics on an empty name or nil probe.
func (m *Manager) Watch(ctx context.Context, svc Service) *Watcher {
	if svc.Name == "" || svc.Probe == nil {
		panic("connwatch: service needs a name and a probe")
	}
	svc.Backoff = svc.Backoff.withDefaults()

	watchCtx, cancel := context.WithCancel(ctx)
	w := &Watcher{svc: svc, bus: m.bus, logger: m.logger, cancel: cancel, done: make(chan struct{})}
	go w.run(watchCtx)

	m.mu.Lock()
	m.watchers[svc.Name] = w
	m.mu.Unlock()
	return w
}

// Status returns every service's health ordered by name. A nil manager
// reports nothing.
func (m *Manager) Status() []Status {
	if m == nil {
		return []Status{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Status, 0, len(m.watchers))
	for _, w := range m.watchers {
		out = append(out, w.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Stop shuts down all watchers.
func (m *Manager) Stop() {
	m.mu.RLock()
	ws := make([]*Watcher, 0, len(m.watchers))
	for _, w := range m.watchers {
		ws = append(ws, w)
	}
	m.mu.RUnlock()
	for _, w := range ws {
		w.Stop()
	}
}
