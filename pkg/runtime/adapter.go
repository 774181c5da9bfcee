// Package runtime abstracts the two supported worker backends (local
// subprocess; container) behind a single contract, so every upper layer is
// parameterized by the adapter and never by backend kind.
package runtime

import "context"

// Phase summarizes a runtime entity's observed lifecycle state, independent
// of backend. Container states {created, restarting, running, paused,
// exited, dead, removing} and subprocess states both map onto these four.
type Phase string

const (
	PhaseStarting Phase = "Starting"
	PhaseRunning  Phase = "Running"
	PhaseExited   Phase = "Exited"
	PhaseNotFound Phase = "NotFound"
)

// PullPolicy controls image-pull behavior in Prepare.
type PullPolicy string

const (
	PullAlways  PullPolicy = "always"
	PullMissing PullPolicy = "missing"
	PullNever   PullPolicy = "never"
)

// Handle is an opaque reference to the subprocess or container backing a
// single Worker, embedding a runtime-native identifier (PID or short
// container/pod ID).
type Handle struct {
	// ID is the runtime-native identifier: PID for subprocess, short
	// container ID for docker, pod name for kubernetes.
	ID string
	// Name is the human-readable name assigned at creation: the PID for
	// subprocess, <prefix>-<port>-<numeric suffix> for docker, and
	// <prefix>-<port> for kubernetes. It does not contain the Worker's id.
	Name string
	// Port is the host-side port the worker was created with.
	Port int
}

// Adapter is the Worker Runtime Adapter contract from spec.md §4.A. Every
// implementation must satisfy it identically so the rest of the controller
// never branches on backend kind.
type Adapter interface {
	// Prepare runs once at startup (image pull per PullPolicy). A "never"
	// policy skips it; "missing" pulls and logs on failure but continues;
	// "always" fails the controller on pull failure.
	Prepare(ctx context.Context) error

	// Create starts a worker bound to port on localhost and returns a
	// Handle. Failure is surfaced to the caller; the Controller treats it
	// as a failed scale-up attempt and does not retry within the tick.
	Create(ctx context.Context, port int) (*Handle, error)

	// Terminate initiates graceful termination, waits up to a grace
	// window, then force-kills. Idempotent; best-effort, so a failure to
	// confirm termination is logged but does not block eviction from the
	// Pool.
	Terminate(ctx context.Context, handle *Handle) error

	// State queries the runtime for the handle's current Phase.
	State(ctx context.Context, handle *Handle) (Phase, error)

	// ListOwned enumerates runtime entities matching this adapter's
	// ownership marker, for orphan reclaim at startup.
	ListOwned(ctx context.Context) ([]string, error)
}
