// Package provider declares every external collaborator interface
// spec.md §6 names. The host application implements these; this module
// never provides a concrete implementation (the Non-goals explicitly
// exclude concrete HTTP client/server, DNS-SD, Wi-Fi, config
// persistence, task runner, and TLS stream implementations — only
// their shapes are specified here).
package provider

import "time"

// TaskRunner is the single asynchronous primitive the core uses
// (spec.md §5): post_delayed(from_here, closure, delay). All library
// state transitions run inside closures posted to this runner, which
// the host drives on whatever single thread it chooses.
type TaskRunner interface {
	// PostDelayed schedules task to run after delay, posted "from"
	// fromHere — fromHere exists purely so a weak-handle-style runner
	// can invalidate tasks scoped to an object that no longer exists
	// (see pkg/command.Handle for how this module replaces C++ weak
	// pointers with id-based handles that re-resolve through the queue
	// instead of relying on the runner for that).
	PostDelayed(fromHere string, task func(), delay time.Duration) CancelFunc
}

// CancelFunc cancels a previously scheduled task. Calling it after the
// task has already run is a no-op.
type CancelFunc func()
