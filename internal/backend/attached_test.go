package backend

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stacksupervisor/stacksupervisor/internal/model"
	"github.com/stretchr/testify/require"
)

func TestSystemdBackend_AttachFailsPreconditionWhenStatusCommandFails(t *testing.T) {
	r := require.New(t)
	b := &SystemdBackend{StatusCommand: []string{"/bin/false"}, LogCommand: []string{"/bin/true"}}

	_, _, err := b.Attach(context.Background(), "nginx", model.Target{})
	r.Error(err)
}

func TestSystemdBackend_AttachStreamsLogCommandOutput(t *testing.T) {
	r := require.New(t)
	b := &SystemdBackend{
		StatusCommand: []string{"/bin/true"},
		LogCommand:    []string{"/bin/sh", "-c", "printf 'unit started\\n'"},
	}

	stream, handle, err := b.Attach(context.Background(), "nginx", model.Target{})
	r.NoError(err)
	r.False(handle.Managed())

	events := drain(t, stream, 5*time.Second)
	r.Equal(EventStarted, events[0].Kind)
	r.Contains(events[1].Data, "unit started")
}

func TestProcessAttachBackend_ResolvePIDPrefersExplicitPID(t *testing.T) {
	r := require.New(t)
	pid, err := resolvePID(context.Background(), model.Target{PID: 4242})
	r.NoError(err)
	r.Equal(4242, pid)
}

func TestProcessAttachBackend_VerifyAliveAcceptsOwnProcess(t *testing.T) {
	require.NoError(t, verifyAlive(os.Getpid()))
}

func TestProcessAttachBackend_VerifyAliveRejectsBogusPID(t *testing.T) {
	require.Error(t, verifyAlive(1<<30))
}
