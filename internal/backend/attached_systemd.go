package backend

import (
	"context"
	"os/exec"

	"github.com/stacksupervisor/stacksupervisor/internal/model"
)

// SystemdBackend attaches to a unit whose status/log/control commands are
// user-supplied : StatusCommand is run as a
// precondition, and LogCommand (typically `journalctl -u UNIT -f -n N`)
// becomes the event stream. Detach is a no-op: the unit is never ours to
// stop.
type SystemdBackend struct {
	StatusCommand  []string
	LogCommand     []string
	StartCommand   []string
	StopCommand    []string
	RestartCommand []string
	ReloadCommand  []string
}

// Launch is not supported: systemd units are always attached to, never
// spawned by this supervisor.
func (b *SystemdBackend) Launch(ctx context.Context, service string, target model.Target) (EventStream, Handle, error) {
	return nil, nil, &NotSupportedError{Op: "launch", Platform: "systemd"}
}

func (b *SystemdBackend) Attach(ctx context.Context, service string, target model.Target) (EventStream, Handle, error) {
	if len(b.StatusCommand) == 0 {
		return nil, nil, &SpawnFailedError{Layer: "systemd", Detail: "status_command not configured", Err: errNotConfigured}
	}
	status := exec.CommandContext(ctx, b.StatusCommand[0], b.StatusCommand[1:]...)
	if err := status.Run(); err != nil {
		return nil, nil, &SpawnFailedError{Layer: "systemd", Detail: "unit not running", Err: err}
	}

	if len(b.LogCommand) == 0 {
		return nil, nil, &SpawnFailedError{Layer: "systemd", Detail: "log_command not configured", Err: errNotConfigured}
	}
	return launchLogFollower(ctx, "systemd", b.LogCommand[0], b.LogCommand[1:]...)
}

func (b *SystemdBackend) run(ctx context.Context, args []string, what string) error {
	if len(args) == 0 {
		return &NotSupportedError{Op: what, Platform: "systemd"}
	}
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	if err := cmd.Run(); err != nil {
		return &SignalFailedError{Detail: "systemd " + what, Err: err}
	}
	return nil
}

func (b *SystemdBackend) Start(ctx context.Context) error   { return b.run(ctx, b.StartCommand, "start") }
func (b *SystemdBackend) Stop(ctx context.Context) error    { return b.run(ctx, b.StopCommand, "stop") }
func (b *SystemdBackend) Restart(ctx context.Context) error { return b.run(ctx, b.RestartCommand, "restart") }
func (b *SystemdBackend) ReloadUnit(ctx context.Context) error {
	return b.run(ctx, b.ReloadCommand, "reload")
}
