package backend

import (
	"context"

	"github.com/stacksupervisor/stacksupervisor/internal/model"
)

// DockerAttachBackend observes an externally-managed container via a
// `docker logs -f --tail 0` CLI invocation, rather than the SDK plumbing
// DockerBackend uses for containers this supervisor owns. Detach stops
// only the log stream.
type DockerAttachBackend struct{}

func (b *DockerAttachBackend) Launch(ctx context.Context, service string, target model.Target) (EventStream, Handle, error) {
	return nil, nil, &NotSupportedError{Op: "launch", Platform: "docker attach"}
}

func (b *DockerAttachBackend) Attach(ctx context.Context, service string, target model.Target) (EventStream, Handle, error) {
	if target.Container == "" {
		return nil, nil, &SpawnFailedError{Layer: "docker attach", Detail: "container not configured", Err: errNotConfigured}
	}
	return launchLogFollower(ctx, "docker attach", "docker", "logs", "-f", "--tail", "0", target.Container)
}
