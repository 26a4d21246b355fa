// Package behavior holds the browsing decision engine: per-action cool-downs,
// the in-session position state, and the next-action chooser.
package behavior

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	"ambler/internal/config"
	"ambler/internal/types"
)

// Refractory tracks per-action cool-downs. Each firing draws a fresh window
// from the configured [min,max] seconds, scaled by a mood factor in
// [0.5, 2.0) and clamped so it never undercuts the configured minimum.
type Refractory struct {
	mu      sync.Mutex
	last    map[types.ActionType]time.Time
	window  map[types.ActionType]time.Duration
	windows map[string]config.Range
	clock   types.Clock
	rng     *rand.Rand
}

// NewRefractory builds a registry over the profile's window table.
func NewRefractory(windows map[string]config.Range, clock types.Clock, rng *rand.Rand) *Refractory {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &Refractory{
		last:    make(map[types.ActionType]time.Time),
		window:  make(map[types.ActionType]time.Duration),
		windows: windows,
		clock:   clock,
		rng:     rng,
	}
}

// Note records a firing of the action and draws its next window.
func (r *Refractory) Note(action types.ActionType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last[action] = r.clock.Now()
	r.window[action] = r.draw(action)
}

// Can reports whether the action's cool-down has elapsed.
func (r *Refractory) Can(action types.ActionType) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	at, ok := r.last[action]
	if !ok {
		return true
	}
	return r.clock.Now().Sub(at) >= r.window[action]
}

func (r *Refractory) draw(action types.ActionType) time.Duration {
	// Scrolling never cools down.
	if strings.Contains(string(action), "SCROLL") || action == types.ActionContinueReading {
		return 0
	}

	lo, hi := 30.0, 60.0
	if w, ok := r.windows[string(action)]; ok {
		lo, hi = w.Min(), w.Max()
	}

	moodFactor := 0.5 + r.rng.Float64()*1.5
	seconds := (lo + r.rng.Float64()*(hi-lo)) * moodFactor
	if seconds < lo {
		seconds = lo
	}
	return time.Duration(seconds * float64(time.Second))
}
