// Package backend implements a uniform launch/attach contract for
// every execution substrate: local processes, Docker containers,
// docker-compose, attached systemd/Docker/process targets, and remote
// hosts over SSH.
package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/stacksupervisor/stacksupervisor/internal/model"
)

// EventKind enumerates the possible ProcessEvent kinds. Started is always
// first (synthesized by backends without a native start event); Exited, if
// emitted, is always last.
type EventKind string

const (
	EventStarted EventKind = "started"
	EventStdout  EventKind = "stdout"
	EventStderr  EventKind = "stderr"
	EventExited  EventKind = "exited"
)

// ProcessEvent is one item in a backend's event stream.
type ProcessEvent struct {
	Timestamp time.Time
	Kind      EventKind
	Data      string // line payload for Stdout/Stderr

	PID    int  // set for EventStarted
	Code   *int // set for EventExited, nil if killed by signal
	Signal string
}

// EventStream is a lazy, finite channel of ProcessEvents. It is closed once
// the underlying process/container's observation ends (after Exited, or on
// a stream-closed sentinel for attached sources that never see an exit).
type EventStream <-chan ProcessEvent

// Handle is the control plane counterpart to an EventStream: backends
// return both from Launch/Attach so observation and control are split, per
// the Design Notes rule.
type Handle interface {
	// PID returns the OS process id if known (0/false for e.g. remote
	// containers observed only by name).
	PID() (int, bool)
	// Wait blocks until the underlying resource exits.
	Wait() error
	Terminate() error
	Kill() error
	Interrupt() error
	Reload() error
	// Managed reports whether this handle kills its resource on Drop (true)
	// or merely detaches observation (false).
	Managed() bool
	// Drop releases the handle per its Managed() policy.
	Drop() error
}

// EndpointProvider is an optional Handle capability: backends that discover
// network endpoints only after launch (Docker's container IP, for
// instance) expose them this way instead of returning them up front.
type EndpointProvider interface {
	Endpoints() []model.Endpoint
}

// Backend is the uniform launch/attach contract every execution substrate
// implements: local processes, Docker containers,
// docker-compose, attached systemd/Docker/process targets, and remote hosts
// over SSH all produce the same (EventStream, Handle) shape.
type Backend interface {
	// Launch starts a new, managed instance of target for the named
	// service.
	Launch(ctx context.Context, service string, target model.Target) (EventStream, Handle, error)
	// Attach observes an already-running instance without taking
	// ownership of its lifecycle; the returned Handle's Managed() is
	// always false.
	Attach(ctx context.Context, service string, target model.Target) (EventStream, Handle, error)
}

// SpawnFailedError wraps a launch/attach failure at a named layer (e.g.
// "docker", "ssh", "local").
type SpawnFailedError struct {
	Layer  string
	Detail string
	Err    error
}

func (e *SpawnFailedError) Error() string {
	if e.Layer != "" {
		return fmt.Sprintf("spawn failed at layer %q: %s: %v", e.Layer, e.Detail, e.Err)
	}
	return fmt.Sprintf("spawn failed: %s: %v", e.Detail, e.Err)
}

func (e *SpawnFailedError) Unwrap() error { return e.Err }

// SignalFailedError reports a failure to deliver a signal to a handle.
type SignalFailedError struct {
	Signum int
	Detail string
	Err    error
}

func (e *SignalFailedError) Error() string {
	return fmt.Sprintf("signal %d failed: %s: %v", e.Signum, e.Detail, e.Err)
}

func (e *SignalFailedError) Unwrap() error { return e.Err }

// NotSupportedError reports an operation unavailable on the current
// platform or backend (e.g. SIGHUP reload on a platform without it).
type NotSupportedError struct {
	Op       string
	Platform string
}

func (e *NotSupportedError) Error() string {
	return fmt.Sprintf("operation %q not supported on %s", e.Op, e.Platform)
}
