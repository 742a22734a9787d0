package backend

import (
	"context"
	"testing"
	"time"

	"github.com/stacksupervisor/stacksupervisor/internal/model"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, stream EventStream, timeout time.Duration) []ProcessEvent {
	t.Helper()
	var events []ProcessEvent
	deadline := time.After(timeout)
	for {
		select {
		case evt, ok := <-stream:
			if !ok {
				return events
			}
			events = append(events, evt)
		case <-deadline:
			t.Fatal("timed out draining event stream")
		}
	}
}

func TestLocalBackend_EventOrderingPreservesStdoutSequence(t *testing.T) {
	r := require.New(t)
	b := NewLocalBackend()

	script := `printf 'out1\n'; printf 'err1\n' 1>&2; printf 'out2\n'`
	stream, handle, err := b.Launch(context.Background(), "event-order", model.Target{Binary: "/bin/sh", Args: []string{"-c", script}})
	r.NoError(err)

	events := drain(t, stream, 5*time.Second)
	r.NotEmpty(events)
	r.Equal(EventStarted, events[0].Kind)
	r.Equal(EventExited, events[len(events)-1].Kind)

	var stdoutLines, stderrLines []string
	for _, e := range events {
		switch e.Kind {
		case EventStdout:
			stdoutLines = append(stdoutLines, e.Data)
		case EventStderr:
			stderrLines = append(stderrLines, e.Data)
		}
	}
	r.Equal([]string{"out1", "out2"}, stdoutLines)
	r.Equal([]string{"err1"}, stderrLines)
	r.True(handle.Managed())
}

func TestLocalBackend_WaitBlocksUntilExitAndIsIdempotent(t *testing.T) {
	r := require.New(t)
	b := NewLocalBackend()

	stream, handle, err := b.Launch(context.Background(), "quick", model.Target{Binary: "/bin/true"})
	r.NoError(err)
	drain(t, stream, 5*time.Second)

	r.NoError(handle.Wait())
	r.NoError(handle.Wait())
}

func TestLocalBackend_TerminateSignalsProcess(t *testing.T) {
	r := require.New(t)
	b := NewLocalBackend()

	stream, handle, err := b.Launch(context.Background(), "sleeper", model.Target{Binary: "/bin/sleep", Args: []string{"30"}})
	r.NoError(err)

	pid, ok := handle.PID()
	r.True(ok)
	r.Greater(pid, 0)

	r.NoError(handle.Terminate())
	events := drain(t, stream, 5*time.Second)
	r.Equal(EventExited, events[len(events)-1].Kind)
}
