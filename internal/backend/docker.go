package backend

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/stacksupervisor/stacksupervisor/internal/logging"
	"github.com/stacksupervisor/stacksupervisor/internal/model"
)

// containerNamePrefix names every container this supervisor manages, so
// adoption can find a prior run's container by name.
const containerNamePrefix = "orchestrator-"

// DockerBackend launches and adopts Docker containers, following the
// the local runner's docker plumbing (ContainerInspect for network
// info, ContainerLogs+stdcopy for the event stream) generalized to the
// uniform launch/attach contract.
type DockerBackend struct {
	client *client.Client
}

func NewDockerBackend(cli *client.Client) *DockerBackend {
	return &DockerBackend{client: cli}
}

func containerName(service string) string { return containerNamePrefix + service }

// Launch adopts a running `orchestrator-{service}` container if one
// exists, removes it if it exists but isn't running, or otherwise creates
// and starts a fresh one. Endpoints discovered via
// inspection are exposed on the returned Handle via EndpointProvider.
func (b *DockerBackend) Launch(ctx context.Context, service string, target model.Target) (EventStream, Handle, error) {
	log := logging.With("backend.docker").With("service", service)
	name := containerName(service)

	existing, inspectErr := b.client.ContainerInspect(ctx, name)

	var containerID string
	switch {
	case inspectErr == nil && existing.State != nil && existing.State.Running:
		log.Info("adopting running container", "container", existing.ID)
		containerID = existing.ID
	case inspectErr == nil:
		log.Info("removing stopped container before recreate", "container", existing.ID)
		if err := b.client.ContainerRemove(ctx, name, container.RemoveOptions{Force: true}); err != nil {
			return nil, nil, &SpawnFailedError{Layer: "docker", Detail: "remove stale container", Err: err}
		}
		created, err := b.create(ctx, name, target)
		if err != nil {
			return nil, nil, err
		}
		containerID = created
	default:
		created, err := b.create(ctx, name, target)
		if err != nil {
			return nil, nil, err
		}
		containerID = created
	}

	inspect, err := b.client.ContainerInspect(ctx, containerID)
	if err != nil {
		return nil, nil, &SpawnFailedError{Layer: "docker", Detail: "inspect after launch", Err: err}
	}

	events, waiter, err := b.followLogs(containerID, true)
	if err != nil {
		return nil, nil, err
	}
	handle := &dockerHandle{client: b.client, containerID: containerID, managed: true, waiter: waiter,
		endpoints: endpointsFromInspect(inspect)}
	return events, handle, nil
}

// Attach observes an already-running container without taking ownership:
// its Drop only stops the log follow, never the container itself.
func (b *DockerBackend) Attach(ctx context.Context, service string, target model.Target) (EventStream, Handle, error) {
	name := target.Container
	if name == "" {
		name = containerName(service)
	}
	inspect, err := b.client.ContainerInspect(ctx, name)
	if err != nil {
		return nil, nil, &SpawnFailedError{Layer: "docker", Detail: "inspect for attach", Err: err}
	}

	events, waiter, err := b.followLogs(inspect.ID, false)
	if err != nil {
		return nil, nil, err
	}
	handle := &dockerHandle{client: b.client, containerID: inspect.ID, managed: false, waiter: waiter,
		endpoints: endpointsFromInspect(inspect)}
	return events, handle, nil
}

func (b *DockerBackend) create(ctx context.Context, name string, target model.Target) (string, error) {
	exposedPorts, portBindings := buildPortSpecs(target.Ports)

	env := make([]string, 0, len(target.Env))
	for k, v := range target.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	cfg := &container.Config{
		Image:        target.Image,
		Env:          env,
		ExposedPorts: exposedPorts,
	}
	hostCfg := &container.HostConfig{
		PortBindings: portBindings,
		Binds:        append([]string(nil), target.Volumes...),
	}

	resp, err := b.client.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return "", &SpawnFailedError{Layer: "docker", Detail: "create container", Err: err}
	}
	if err := b.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", &SpawnFailedError{Layer: "docker", Detail: "start container", Err: err}
	}
	return resp.ID, nil
}

func buildPortSpecs(ports []uint16) (nat.PortSet, nat.PortMap) {
	exposed := make(nat.PortSet)
	bindings := make(nat.PortMap)
	for _, p := range ports {
		portSpec := nat.Port(fmt.Sprintf("%d/tcp", p))
		exposed[portSpec] = struct{}{}
		bindings[portSpec] = []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: strconv.Itoa(int(p))}}
	}
	return exposed, bindings
}

// endpointsFromInspect extracts the container's IP and published ports into
// registry Endpoints, following NetworkSettings.IPAddress
// plus port-binding inspection.
func endpointsFromInspect(inspect container.InspectResponse) []model.Endpoint {
	var endpoints []model.Endpoint
	if inspect.NetworkSettings == nil {
		return endpoints
	}
	ip := inspect.NetworkSettings.IPAddress
	for portSpec, bindings := range inspect.NetworkSettings.Ports {
		for _, b := range bindings {
			host := b.HostIP
			if host == "" || host == "0.0.0.0" {
				host = ip
			}
			endpoints = append(endpoints, model.Endpoint{
				Name:     strings.Split(string(portSpec), "/")[0],
				Address:  fmt.Sprintf("%s:%s", host, b.HostPort),
				Protocol: model.ProtocolTCP,
			})
		}
	}
	return endpoints
}

// followLogs runs `docker logs -f` (full history for launch, tail-0 for
// attach) through the SDK's ContainerLogs call and demuxes it with
// stdcopy, matching a standard docker log-follow pattern.
func (b *DockerBackend) followLogs(containerID string, fromStart bool) (EventStream, func() error, error) {
	ctx := context.Background()
	tail := "0"
	if fromStart {
		tail = "all"
	}
	reader, err := b.client.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
		Tail:       tail,
	})
	if err != nil {
		return nil, nil, &SpawnFailedError{Layer: "docker", Detail: "container logs", Err: err}
	}

	events := make(chan ProcessEvent, 16)
	events <- ProcessEvent{Timestamp: time.Now(), Kind: EventStarted}

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()

	var wg sync.WaitGroup
	wg.Add(2)
	go pumpLines(stdoutR, EventStdout, defaultLineFilter, events, &wg)
	go pumpLines(stderrR, EventStderr, defaultLineFilter, events, &wg)

	demuxDone := make(chan error, 1)
	go func() {
		_, copyErr := stdcopy.StdCopy(stdoutW, stderrW, reader)
		stdoutW.Close()
		stderrW.Close()
		demuxDone <- copyErr
	}()

	go func() {
		wg.Wait()
		err := <-demuxDone
		events <- exitEvent(err)
		close(events)
	}()

	waiter := func() error { return reader.Close() }
	return events, waiter, nil
}

// dockerHandle is the Handle counterpart to a Docker-backed service. For a
// managed container, Drop stops and removes it; for an attached one, Drop
// only stops the log follow.
type dockerHandle struct {
	client      *client.Client
	containerID string
	managed     bool
	waiter      func() error
	endpoints   []model.Endpoint
}

func (h *dockerHandle) PID() (int, bool) { return 0, false }

func (h *dockerHandle) Wait() error {
	statusCh, errCh := h.client.ContainerWait(context.Background(), h.containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return err
	case <-statusCh:
		return nil
	}
}

func (h *dockerHandle) Terminate() error { return h.signal("SIGTERM") }
func (h *dockerHandle) Kill() error      { return h.signal("SIGKILL") }
func (h *dockerHandle) Interrupt() error { return h.signal("SIGINT") }
func (h *dockerHandle) Reload() error    { return h.signal("SIGHUP") }
func (h *dockerHandle) Managed() bool    { return h.managed }
func (h *dockerHandle) Endpoints() []model.Endpoint { return h.endpoints }

func (h *dockerHandle) signal(sig string) error {
	if !h.managed {
		return &NotSupportedError{Op: "signal " + sig, Platform: "docker attach"}
	}
	if err := h.client.ContainerKill(context.Background(), h.containerID, sig); err != nil {
		return &SignalFailedError{Detail: fmt.Sprintf("container %s", sig), Err: err}
	}
	return nil
}

func (h *dockerHandle) Drop() error {
	if h.waiter != nil {
		_ = h.waiter()
	}
	if !h.managed {
		return nil // attach only detaches, the container keeps running
	}
	ctx := context.Background()
	timeout := 10
	_ = h.client.ContainerStop(ctx, h.containerID, container.StopOptions{Timeout: &timeout})
	return h.client.ContainerRemove(ctx, h.containerID, container.RemoveOptions{Force: true})
}
