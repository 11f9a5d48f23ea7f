package gameserver

import (
	"context"
	"sync"
	"time"
)

// TickManager runs named periodic callbacks, each on its own interval.
//
// Invariant: each callback is invoked at most once per its interval.
type TickManager struct {
	mu      sync.Mutex
	ticks   map[string]tickEntry
	started bool
	ctx     context.Context
	wg      sync.WaitGroup
}

type tickEntry struct {
	interval time.Duration
	fn       func()
	stop     chan struct{}
}

// NewTickManager returns an empty manager.
func NewTickManager() *TickManager {
	return &TickManager{ticks: make(map[string]tickEntry)}
}

// Register schedules fn every interval under name, replacing any existing entry.
// Registrations made after Start begin ticking immediately.
//
// Precondition: interval must be > 0.
func (m *TickManager) Register(name string, interval time.Duration, fn func()) {
	if interval <= 0 {
		panic("gameserver.TickManager.Register: interval must be > 0")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.ticks[name]; ok {
		close(old.stop)
	}
	e := tickEntry{interval: interval, fn: fn, stop: make(chan struct{})}
	m.ticks[name] = e
	if m.started {
		m.launch(e)
	}
}

// Unregister stops and removes the callback registered under name.
func (m *TickManager) Unregister(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.ticks[name]; ok {
		close(e.stop)
		delete(m.ticks, name)
	}
}

// Names returns the registered tick names.
func (m *TickManager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.ticks))
	for name := range m.ticks {
		out = append(out, name)
	}
	return out
}

// Start begins ticking every registered callback. Runs until ctx is cancelled.
//
// Postcondition: each registered callback is invoked once per its interval.
func (m *TickManager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true
	m.ctx = ctx
	for _, e := range m.ticks {
		m.launch(e)
	}
}

// Wait blocks until every tick goroutine has exited.
func (m *TickManager) Wait() {
	m.wg.Wait()
}

// launch must be called with m.mu held.
func (m *TickManager) launch(e tickEntry) {
	ctx := m.ctx
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-e.stop:
				return
			case <-ticker.C:
				e.fn()
			}
		}
	}()
}
