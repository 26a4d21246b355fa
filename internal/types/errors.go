package types

import "errors"

// Shared sentinels used across the scheduler/executor boundary.
var (
	// ErrAuth marks authentication or licensing rejection. It is fatal to the
	// current run: schedulers stop instead of retrying.
	ErrAuth = errors.New("authentication rejected")

	// ErrNoTab means no controlled platform tab is available.
	ErrNoTab = errors.New("no controlled tab")
)
