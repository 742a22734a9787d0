package backend

import (
	"context"
	"fmt"
	"sync"
	"time"

	"os/exec"

	"golang.org/x/crypto/ssh"

	"github.com/stacksupervisor/stacksupervisor/internal/logging"
	"github.com/stacksupervisor/stacksupervisor/internal/model"
)

// RemoteBackend runs a target's command on a remote host. The final
// command is built by the layered Compose machinery (a single SSH layer;
// no docker exec layer is added) and then spawned as a local
// subprocess whose stdout/stderr is the event stream -- the layered
// executor wraps the command, a plain launcher runs it (original_source's
// LayeredExecutor/Launcher split).
type RemoteBackend struct {
	// Probe, when set, is used to verify SSH connectivity before spawning
	// the ssh subprocess, instead of discovering a dead host only after
	// the subprocess fails.
	Probe *SSHProbe
}

func NewRemoteBackend(probe *SSHProbe) *RemoteBackend {
	return &RemoteBackend{Probe: probe}
}

func (b *RemoteBackend) Launch(ctx context.Context, service string, target model.Target) (EventStream, Handle, error) {
	log := logging.With("backend.remote").With("service", service)

	if b.Probe != nil {
		if err := b.Probe.Check(ctx, target.Host, target.User); err != nil {
			return nil, nil, &SpawnFailedError{Layer: "remote", Detail: "ssh connectivity check", Err: err}
		}
	}

	binary := target.Binary
	if target.RemoteMode == model.RemoteModePackage {
		binary = target.PackagePath
	}
	inner := Command{Program: binary, Args: target.Args, Env: target.Env, WorkingDir: target.WorkingDir}

	destination := sshDestination(target.Host, target.User)

	composed, err := Compose(inner, SSHLayer{Destination: destination})
	if err != nil {
		return nil, nil, &SpawnFailedError{Layer: "remote", Detail: "compose ssh layer", Err: err}
	}

	log.Info("launching over ssh", "destination", destination, "program", composed.Program)
	return spawnLocal(ctx, service, composed)
}

func sshDestination(host, user string) string {
	if user == "" {
		return host
	}
	return fmt.Sprintf("%s@%s", user, host)
}

// Attach is not supported for remote targets in this release: remote
// services are always launched and owned, never observed externally.
func (b *RemoteBackend) Attach(ctx context.Context, service string, target model.Target) (EventStream, Handle, error) {
	return nil, nil, &NotSupportedError{Op: "attach", Platform: "remote"}
}

// spawnLocal runs an already-composed Command (e.g. the outer `ssh ...`
// invocation) exactly like LocalBackend.Launch, without going through
// model.Target's process-specific fields a second time.
func spawnLocal(ctx context.Context, service string, c Command) (EventStream, Handle, error) {
	cmd := exec.CommandContext(ctx, c.Program, c.Args...)
	cmd.Dir = c.WorkingDir
	for k, v := range c.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, &SpawnFailedError{Layer: "remote", Detail: "stdout pipe", Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, &SpawnFailedError{Layer: "remote", Detail: "stderr pipe", Err: err}
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, &SpawnFailedError{Layer: "remote", Detail: "start", Err: err}
	}

	events := make(chan ProcessEvent, 16)
	events <- ProcessEvent{Timestamp: time.Now(), Kind: EventStarted, PID: cmd.Process.Pid}

	var wg sync.WaitGroup
	wg.Add(2)
	go pumpLines(stdout, EventStdout, defaultLineFilter, events, &wg)
	go pumpLines(stderr, EventStderr, defaultLineFilter, events, &wg)

	handle := &localHandle{cmd: cmd, log: logging.With("backend.remote").With("service", service), doneCh: make(chan struct{})}
	go func() {
		wg.Wait()
		waitErr := cmd.Wait()
		handle.markExited(waitErr)
		events <- exitEvent(waitErr)
		close(events)
	}()

	return events, handle, nil
}

// SSHProbe opens a short-lived SSH session to confirm a host is reachable
// and authenticates, using golang.org/x/crypto/ssh directly instead of
// shelling out -- cheaper than spawning a full ssh subprocess on every
// health tick.
type SSHProbe struct {
	Port    int
	Signer  ssh.Signer
	Timeout time.Duration
}

func (p *SSHProbe) Check(ctx context.Context, host, user string) error {
	port := p.Port
	if port == 0 {
		port = 22
	}
	timeout := p.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	cfg := &ssh.ClientConfig{
		User:            user,
		Timeout:         timeout,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}
	if p.Signer != nil {
		cfg.Auth = []ssh.AuthMethod{ssh.PublicKeys(p.Signer)}
	}

	client, err := ssh.Dial("tcp", fmt.Sprintf("%s:%d", host, port), cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return err
	}
	defer session.Close()

	return session.Run("true")
}
