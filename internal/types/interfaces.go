package types

import (
	"context"
	"time"
)

// Executor drives the controlled browser tab. Implementations must be safe to
// probe with Ping before real actions and must report an absent tab as
// ErrNoTab-coded results rather than panicking.
type Executor interface {
	// Execute performs a single action. Local pauses (DWELL/IDLE) resolve
	// without a DOM round trip.
	Execute(ctx context.Context, action Action) (ExecResult, error)
	// Ping verifies that a controlled tab exists and responds.
	Ping(ctx context.Context) error
	// CurrentURL returns the live URL of the controlled tab, used to re-derive
	// the simulated position instead of trusting remembered state.
	CurrentURL(ctx context.Context) (string, error)
	// Abort interrupts any in-flight human-paced action (e.g. character
	// typing) as promptly as possible. Safe to call concurrently.
	Abort()
}

// RuntimeStore is the persistence boundary for the runtime document and the
// settings document.
type RuntimeStore interface {
	Runtime(ctx context.Context) (RuntimeState, error)
	// MutateRuntime applies fn under the store's write lock and persists the
	// result. The call is atomic; sequences of calls are not.
	MutateRuntime(ctx context.Context, fn func(*RuntimeState)) (RuntimeState, error)
	Settings(ctx context.Context) (Settings, error)
	PatchSettings(ctx context.Context, fn func(*Settings)) (Settings, error)
}

// TokenSource supplies a valid session token, renewing as needed. An expired
// or revoked license surfaces as an authentication error, which callers treat
// as fatal to the run; network failures are retryable.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Scheduler is the durable one-shot timer primitive. A scheduled name fires
// its registered handler at or after the given instant, surviving process
// restarts.
type Scheduler interface {
	ScheduleOnce(ctx context.Context, name string, at time.Time) error
	Cancel(ctx context.Context, name string) error
	CancelAll(ctx context.Context) error
}

// Clock abstracts wall-clock reads so schedulers and the decision engine can
// be tested against frozen time.
type Clock interface {
	Now() time.Time
}

// RealClock is the production Clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }
