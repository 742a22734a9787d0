package backend

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"syscall"

	"github.com/stacksupervisor/stacksupervisor/internal/model"
)

// ProcessAttachBackend observes a process identified by PID or name,
// resolving the PID via pgrep when only a name is given, verifying
// liveness with kill -0, and following its logs through journalctl when
// available.
type ProcessAttachBackend struct{}

func (b *ProcessAttachBackend) Launch(ctx context.Context, service string, target model.Target) (EventStream, Handle, error) {
	return nil, nil, &NotSupportedError{Op: "launch", Platform: "process attach"}
}

func (b *ProcessAttachBackend) Attach(ctx context.Context, service string, target model.Target) (EventStream, Handle, error) {
	pid, err := resolvePID(ctx, target)
	if err != nil {
		return nil, nil, err
	}
	if err := verifyAlive(pid); err != nil {
		return nil, nil, err
	}
	return launchLogFollower(ctx, "process attach", "journalctl", fmt.Sprintf("_PID=%d", pid), "-f")
}

// resolvePID returns target.PID directly, or resolves target.ProcessName
// via `pgrep -f NAME` when PID isn't set. Exactly one of the two must be
// configured (model.Target's contract).
func resolvePID(ctx context.Context, target model.Target) (int, error) {
	if target.PID != 0 {
		return target.PID, nil
	}
	if target.ProcessName == "" {
		return 0, &SpawnFailedError{Layer: "process attach", Detail: "neither pid nor process_name set", Err: errNotConfigured}
	}

	out, err := exec.CommandContext(ctx, "pgrep", "-f", target.ProcessName).Output()
	if err != nil {
		return 0, &SpawnFailedError{Layer: "process attach", Detail: "pgrep -f " + target.ProcessName, Err: err}
	}
	first := strings.Fields(string(out))
	if len(first) == 0 {
		return 0, &SpawnFailedError{Layer: "process attach", Detail: "pgrep found no match", Err: errNotConfigured}
	}
	pid, err := strconv.Atoi(first[0])
	if err != nil {
		return 0, &SpawnFailedError{Layer: "process attach", Detail: "parse pgrep output", Err: err}
	}
	return pid, nil
}

// verifyAlive signals 0 to the PID, which succeeds iff the process exists
// and is signalable by this user, without affecting it.
func verifyAlive(pid int) error {
	if err := syscall.Kill(pid, 0); err != nil {
		return &SpawnFailedError{Layer: "process attach", Detail: fmt.Sprintf("pid %d not alive", pid), Err: err}
	}
	return nil
}
