// Package ingest decides whether a detection result is eligible for
// persistence right now. It is a rate limiter, not a queue: rejected
// detections are dropped, never buffered or retried.
package ingest

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Gate throttles detection persistence per camera and carries the global
// persistence switch. A camera gets at most one admitted write per cooldown
// window; one busy camera never starves the others.
type Gate struct {
	mu           sync.Mutex
	cooldown     time.Duration
	enabled      bool
	lastAdmitted map[uuid.UUID]time.Time
}

// New creates a Gate with the given cooldown between admitted writes per
// camera and the initial state of the persistence switch.
func New(cooldown time.Duration, enabled bool) *Gate {
	return &Gate{
		cooldown:     cooldown,
		enabled:      enabled,
		lastAdmitted: make(map[uuid.UUID]time.Time),
	}
}

// Admit reports whether a write for cameraID may be persisted at now.
// An admission claims the camera's cooldown window; concurrent callers for
// the same camera get at most one true per window.
func (g *Gate) Admit(cameraID uuid.UUID, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.enabled {
		return false
	}
	if last, ok := g.lastAdmitted[cameraID]; ok && now.Sub(last) < g.cooldown {
		return false
	}
	g.lastAdmitted[cameraID] = now
	return true
}

// SetEnabled toggles the global persistence switch.
func (g *Gate) SetEnabled(enabled bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.enabled = enabled
}

// Enabled reports the current state of the persistence switch.
func (g *Gate) Enabled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.enabled
}
