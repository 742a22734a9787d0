package backend

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/stacksupervisor/stacksupervisor/internal/logging"
	"github.com/stacksupervisor/stacksupervisor/internal/model"
)

// LineFilter transforms or drops a line read from a process's stdout/stderr
// before it becomes a ProcessEvent. The default filter passes every line
// through unchanged.
type LineFilter func(source EventKind, line string) (string, bool)

func defaultLineFilter(_ EventKind, line string) (string, bool) { return line, true }

// LocalBackend launches commands as managed local processes, piping
// stdout/stderr into a single merged EventStream. This mirrors the
// LocalRunner.runOnHost's subprocess plumbing, generalized into the
// Launch contract and split from Docker-specific concerns.
type LocalBackend struct {
	Filter LineFilter
}

func NewLocalBackend() *LocalBackend {
	return &LocalBackend{Filter: defaultLineFilter}
}

// Launch spawns target.Binary with target.Args/Env/WorkingDir. The process
// is killed if ctx is canceled before it exits on its own.
func (b *LocalBackend) Launch(ctx context.Context, service string, target model.Target) (EventStream, Handle, error) {
	cmd := exec.CommandContext(ctx, target.Binary, target.Args...)
	cmd.Dir = target.WorkingDir
	for k, v := range target.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, &SpawnFailedError{Layer: "local", Detail: "stdout pipe", Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, &SpawnFailedError{Layer: "local", Detail: "stderr pipe", Err: err}
	}

	if err := cmd.Start(); err != nil {
		return nil, nil, &SpawnFailedError{Layer: "local", Detail: "start", Err: err}
	}

	filter := b.Filter
	if filter == nil {
		filter = defaultLineFilter
	}

	events := make(chan ProcessEvent, 16)
	events <- ProcessEvent{Timestamp: time.Now(), Kind: EventStarted, PID: cmd.Process.Pid}

	var wg sync.WaitGroup
	wg.Add(2)
	go pumpLines(stdout, EventStdout, filter, events, &wg)
	go pumpLines(stderr, EventStderr, filter, events, &wg)

	handle := &localHandle{cmd: cmd, log: logging.With("backend.local").With("service", service), doneCh: make(chan struct{})}

	go func() {
		wg.Wait() // both sub-streams closed
		waitErr := cmd.Wait()
		handle.markExited(waitErr)
		handle.log.Debug("local process exited", "pid", cmd.Process.Pid, "error", waitErr)
		events <- exitEvent(waitErr)
		close(events)
	}()

	return events, handle, nil
}

// Attach is not supported for managed local processes; observing an
// unowned PID by number is the attached-process backend's job.
func (b *LocalBackend) Attach(ctx context.Context, service string, target model.Target) (EventStream, Handle, error) {
	return nil, nil, &NotSupportedError{Op: "attach", Platform: "local"}
}

// pumpLines line-buffers r and emits one ProcessEvent per line. A read
// error closes only this sub-stream; the merged stream ends once both
// stdout and stderr are closed.
func pumpLines(r io.Reader, kind EventKind, filter LineFilter, out chan<- ProcessEvent, wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line, ok := filter(kind, scanner.Text())
		if !ok {
			continue
		}
		out <- ProcessEvent{Timestamp: time.Now(), Kind: kind, Data: line}
	}
}

func exitEvent(err error) ProcessEvent {
	evt := ProcessEvent{Timestamp: time.Now(), Kind: EventExited}
	if err == nil {
		code := 0
		evt.Code = &code
		return evt
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				evt.Signal = status.Signal().String()
				return evt
			}
			code := status.ExitStatus()
			evt.Code = &code
			return evt
		}
	}
	return evt
}

// localHandle is a managed Handle: it kills the process on Drop unless the
// process has already exited. cmd.Wait is called exactly once, by the
// reaper goroutine Launch starts; Wait and markExited only ever read or
// close doneCh/waitErr, never call cmd.Wait themselves, since exec.Cmd.Wait
// is documented as unsafe to call twice or concurrently.
type localHandle struct {
	cmd     *exec.Cmd
	log     *slog.Logger
	mu      sync.Mutex
	done    bool
	doneCh  chan struct{}
	waitErr error
}

func (h *localHandle) PID() (int, bool) {
	if h.cmd.Process == nil {
		return 0, false
	}
	return h.cmd.Process.Pid, true
}

// Wait blocks until the reaper goroutine started in Launch has reaped the
// process, then returns the exit error it observed. Safe to call from
// multiple goroutines and any number of times.
func (h *localHandle) Wait() error {
	<-h.doneCh
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.waitErr
}

func (h *localHandle) markExited(waitErr error) {
	h.mu.Lock()
	h.done = true
	h.waitErr = waitErr
	h.mu.Unlock()
	close(h.doneCh)
}

func (h *localHandle) signal(sig syscall.Signal) error {
	h.mu.Lock()
	done := h.done
	h.mu.Unlock()
	if done || h.cmd.Process == nil {
		return nil
	}
	if err := h.cmd.Process.Signal(sig); err != nil {
		return &SignalFailedError{Signum: int(sig), Detail: "local process", Err: err}
	}
	return nil
}

func (h *localHandle) Terminate() error { return h.signal(syscall.SIGTERM) }
func (h *localHandle) Kill() error      { return h.signal(syscall.SIGKILL) }
func (h *localHandle) Interrupt() error { return h.signal(syscall.SIGINT) }
func (h *localHandle) Reload() error    { return h.signal(syscall.SIGHUP) }
func (h *localHandle) Managed() bool    { return true }

func (h *localHandle) Drop() error {
	h.mu.Lock()
	done := h.done
	h.mu.Unlock()
	if done {
		return nil
	}
	return h.Kill()
}
