package backend

import (
	"context"
	"errors"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

var errNotConfigured = errors.New("command not configured")

// launchLogFollower spawns a log-following subprocess (journalctl, docker
// logs, tail -f, ...) and wraps it as an attached EventStream/Handle pair.
// Detaching stops only the subprocess; "Edge
// Cases", the sub-handle is retained and stoppable on detach rather than
// silently dropped.
func launchLogFollower(ctx context.Context, layer, program string, args ...string) (EventStream, Handle, error) {
	cmd := exec.CommandContext(ctx, program, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, &SpawnFailedError{Layer: layer, Detail: "stdout pipe", Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, &SpawnFailedError{Layer: layer, Detail: "stderr pipe", Err: err}
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, &SpawnFailedError{Layer: layer, Detail: "start log follower", Err: err}
	}

	events := make(chan ProcessEvent, 16)
	events <- ProcessEvent{Timestamp: time.Now(), Kind: EventStarted, PID: cmd.Process.Pid}

	var wg sync.WaitGroup
	wg.Add(2)
	go pumpLines(stdout, EventStdout, defaultLineFilter, events, &wg)
	go pumpLines(stderr, EventStderr, defaultLineFilter, events, &wg)

	go func() {
		wg.Wait()
		waitErr := cmd.Wait()
		events <- exitEvent(waitErr)
		close(events)
	}()

	return events, &attachedLogHandle{cmd: cmd}, nil
}

// attachedLogHandle is an unmanaged Handle over a log-follow subprocess:
// signals target the follower itself, never the observed service, and
// Drop kills only the follower.
type attachedLogHandle struct {
	cmd  *exec.Cmd
	mu   sync.Mutex
	done bool
}

func (h *attachedLogHandle) PID() (int, bool) {
	if h.cmd.Process == nil {
		return 0, false
	}
	return h.cmd.Process.Pid, true
}

func (h *attachedLogHandle) Wait() error { return h.cmd.Wait() }

func (h *attachedLogHandle) Terminate() error { return h.cmd.Process.Signal(syscall.SIGTERM) }
func (h *attachedLogHandle) Kill() error      { return h.cmd.Process.Kill() }
func (h *attachedLogHandle) Interrupt() error { return h.cmd.Process.Signal(syscall.SIGINT) }
func (h *attachedLogHandle) Reload() error {
	return &NotSupportedError{Op: "reload", Platform: "attached log follower"}
}
func (h *attachedLogHandle) Managed() bool { return false }

func (h *attachedLogHandle) Drop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done {
		return nil
	}
	h.done = true
	if h.cmd.Process == nil {
		return nil
	}
	return h.cmd.Process.Kill()
}
