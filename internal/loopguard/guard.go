// Package loopguard holds the process-local state that keeps forward and
// reverse syncs from re-triggering each other.
package loopguard

import (
	"sync"
	"time"
)

const (
	DefaultCooldown  = 30 * time.Second
	DefaultRetention = 5 * time.Minute
)

// Guard remembers when a reverse sync last wrote to an incident.
type Guard struct {
	mu        sync.Mutex
	writes    map[string]time.Time
	cooldown  time.Duration
	retention time.Duration
	nowFunc   func() time.Time
}

type GuardOption func(*Guard)

func WithCooldown(d time.Duration) GuardOption {
	return func(g *Guard) {
		if d > 0 {
			g.cooldown = d
		}
	}
}

func WithRetention(d time.Duration) GuardOption {
	return func(g *Guard) {
		if d > 0 {
			g.retention = d
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) GuardOption {
	return func(g *Guard) {
		if now != nil {
			g.nowFunc = now
		}
	}
}

func NewGuard(opts ...GuardOption) *Guard {
	g := &Guard{
		writes:    map[string]time.Time{},
		cooldown:  DefaultCooldown,
		retention: DefaultRetention,
		nowFunc:   time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.retention < g.cooldown {
		g.retention = g.cooldown
	}
	return g
}

// RecordReverseWrite stamps incidentID with the current time and prunes
// entries older than the retention horizon.
func (g *Guard) RecordReverseWrite(incidentID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.nowFunc()
	g.writes[incidentID] = now
	for id, at := range g.writes {
		if now.Sub(at) > g.retention {
			delete(g.writes, id)
		}
	}
}

// ShouldSuppressForwardSync reports whether a reverse write to incidentID
// happened less than the cooldown ago. Expired entries are dropped.
func (g *Guard) ShouldSuppressForwardSync(incidentID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	at, ok := g.writes[incidentID]
	if !ok {
		return false
	}
	if g.nowFunc().Sub(at) < g.cooldown {
		return true
	}
	delete(g.writes, incidentID)
	return false
}

// LastReverseWrite returns the recorded time for incidentID, if any.
func (g *Guard) LastReverseWrite(incidentID string) (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	at, ok := g.writes[incidentID]
	return at, ok
}

// Len returns the number of entries currently held.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.writes)
}

func (g *Guard) Cooldown() time.Duration {
	return g.cooldown
}
