package backend

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"github.com/stacksupervisor/stacksupervisor/internal/backend/dockerutil"
	"github.com/stacksupervisor/stacksupervisor/internal/logging"
	"github.com/stacksupervisor/stacksupervisor/internal/model"
)

// ComposeBackend runs one service of an existing docker-compose file via
// `docker compose run`, following LocalRunner.Run's project-id
// convention (-p <project>) so a later `docker compose down` can target
// just this deployment's containers.
type ComposeBackend struct {
	ComposeFile string
	Project     string
}

func NewComposeBackend(composeFile, project string) *ComposeBackend {
	return &ComposeBackend{ComposeFile: composeFile, Project: project}
}

func (b *ComposeBackend) composeArgs(extra ...string) []string {
	args := []string{"compose", "-f", b.ComposeFile}
	if b.Project != "" {
		args = append(args, "-p", b.Project)
	}
	return append(args, extra...)
}

// Launch runs `docker compose run -d --name orchestrator-<service> <service>
// [args...]`, then follows its logs the same way DockerBackend does.
func (b *ComposeBackend) Launch(ctx context.Context, service string, target model.Target) (EventStream, Handle, error) {
	log := logging.With("backend.compose").With("service", service)

	runArgs := append([]string{"run", "-d", "--name", containerName(service)}, service)
	runArgs = append(runArgs, target.Args...)

	cmd := exec.CommandContext(ctx, "docker", b.composeArgs(runArgs...)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, nil, &SpawnFailedError{Layer: "compose", Detail: fmt.Sprintf("run: %s", stderr.String()), Err: err}
	}

	containerID := firstLine(stdout.String())
	log.Info("compose service started", "container", containerID)

	cli, err := dockerutil.Client()
	if err != nil {
		return nil, nil, &SpawnFailedError{Layer: "compose", Detail: "docker client", Err: err}
	}
	backend := &DockerBackend{client: cli}

	events, waiter, err := backend.followLogs(containerID, true)
	if err != nil {
		return nil, nil, err
	}
	handle := &dockerHandle{client: cli, containerID: containerID, managed: true, waiter: waiter}
	return events, handle, nil
}

// Attach observes a service already running under compose without taking
// ownership of it.
func (b *ComposeBackend) Attach(ctx context.Context, service string, target model.Target) (EventStream, Handle, error) {
	cli, err := dockerutil.Client()
	if err != nil {
		return nil, nil, &SpawnFailedError{Layer: "compose", Detail: "docker client", Err: err}
	}
	backend := &DockerBackend{client: cli}
	return backend.Attach(ctx, service, target)
}

func firstLine(s string) string {
	for i, c := range s {
		if c == '\n' {
			return s[:i]
		}
	}
	return s
}
