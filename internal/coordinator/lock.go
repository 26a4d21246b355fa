// Package coordinator arbitrates browser-tab control between the post and
// activity engines with a single priority-aware, TTL-bounded lock.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ambler/internal/types"
)

// Well-known owners.
const (
	OwnerAutopost = "AUTOPOST"
	OwnerActivity = "ACTIVITY"
)

// Priorities. Posting has hard deadlines, so it may preempt activity.
const (
	PriorityActivity = 0
	PriorityAutopost = 10
)

// DefaultTTL bounds how long a holder may sit on the lock without extending.
const DefaultTTL = 15 * time.Second

const (
	acquireRetries  = 10
	acquireInterval = time.Second
)

// ErrLockTimeout is returned when WithLock exhausts its acquisition retries.
type ErrLockTimeout struct{ Owner string }

func (e ErrLockTimeout) Error() string {
	return fmt.Sprintf("%s: failed to acquire lock for %s", types.CodeLockTimeout, e.Owner)
}

type holder struct {
	owner      string
	acquiredAt time.Time
	expiresAt  time.Time
	priority   int
}

// Lock is the single mutual-exclusion token. One instance per process.
type Lock struct {
	mu      sync.Mutex
	current *holder
	clock   types.Clock
}

// New builds a Lock. clock may be nil, defaulting to real time.
func New(clock types.Clock) *Lock {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &Lock{clock: clock}
}

// TryLock is non-blocking. It succeeds if the lock is absent or expired, if
// the caller already holds it (extending the TTL), or if the caller's
// priority exceeds the current holder's (preempting it).
func (l *Lock) TryLock(owner string, ttl time.Duration, priority int) bool {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if l.current != nil && l.current.expiresAt.Before(now) {
		l.current = nil
	}

	switch {
	case l.current == nil:
	case l.current.owner == owner:
		l.current.expiresAt = now.Add(ttl)
		return true
	case priority > l.current.priority:
	default:
		return false
	}

	l.current = &holder{
		owner:      owner,
		acquiredAt: now,
		expiresAt:  now.Add(ttl),
		priority:   priority,
	}
	return true
}

// Release clears the lock only if still held by owner. Releasing after expiry
// and reacquisition by someone else is a no-op.
func (l *Lock) Release(owner string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current != nil && l.current.owner == owner {
		l.current = nil
	}
}

// HeldBy reports whether owner currently holds a live lock.
func (l *Lock) HeldBy(owner string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current != nil && l.current.owner == owner && !l.current.expiresAt.Before(l.clock.Now())
}

// Holder returns the live holder's name, or "" when unowned.
func (l *Lock) Holder() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current == nil || l.current.expiresAt.Before(l.clock.Now()) {
		return ""
	}
	return l.current.owner
}

// Options tunes WithLock acquisition.
type Options struct {
	TTL      time.Duration
	Priority int
}

// WithLock retries TryLock once per second up to ten times, runs fn while
// holding the lock and always releases afterwards, then propagates fn's
// error. Exhausting the retries yields ErrLockTimeout.
func (l *Lock) WithLock(ctx context.Context, owner string, opts Options, fn func(ctx context.Context) error) error {
	for attempt := 0; attempt < acquireRetries; attempt++ {
		if l.TryLock(owner, opts.TTL, opts.Priority) {
			defer l.Release(owner)
			return fn(ctx)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(acquireInterval):
		}
	}
	return ErrLockTimeout{Owner: owner}
}
