package tracker

import (
	"errors"
	"testing"

	"github.com/stacksupervisor/stacksupervisor/internal/model"
	"github.com/stretchr/testify/require"
)

func TestTracker_ServicesFilterHealthyAndFailed(t *testing.T) {
	r := require.New(t)
	tr := New(0)
	tr.StartDeployment("dep-1", "demo")

	tr.RecordServiceState("api", model.StateRunning)
	tr.RecordServiceState("worker", model.StateFailed)
	tr.RecordServiceState("cache", model.StateStarting)

	healthy := tr.Services(HealthyServices())
	r.Len(healthy, 1)
	r.Equal("api", healthy[0].Name)

	failed := tr.Services(FailedServices())
	r.Len(failed, 1)
	r.Equal("worker", failed[0].Name)

	all := tr.Services(AnyService())
	r.Len(all, 3)

	inStarting := tr.Services(ServiceInState(model.StateStarting))
	r.Len(inStarting, 1)
	r.Equal("cache", inStarting[0].Name)

	multi := tr.Services(ServicesInStates(model.StateRunning, model.StateFailed))
	r.Len(multi, 2)
}

func TestTracker_TaskResultsAndErrors(t *testing.T) {
	r := require.New(t)
	tr := New(0)
	tr.StartDeployment("dep-1", "demo")

	tr.RecordTaskResult("migrate", nil)
	tr.RecordTaskResult("seed", errors.New("boom"))

	completed := tr.Tasks(CompletedTasks())
	r.Len(completed, 1)
	r.Equal("migrate", completed[0].Name)

	failed := tr.Tasks(FailedTasks())
	r.Len(failed, 1)
	r.Equal("seed", failed[0].Name)

	dep, ok := tr.Current()
	r.True(ok)
	r.Contains(dep.Errors, "boom")
}

func TestTracker_SummaryCounts(t *testing.T) {
	r := require.New(t)
	tr := New(0)
	tr.StartDeployment("dep-1", "demo")
	tr.RecordServiceState("a", model.StateRunning)
	tr.RecordServiceState("b", model.StateFailed)
	tr.RecordTaskResult("seed", nil)
	tr.Complete(StatusCompleted)

	summary, ok := tr.Summary()
	r.True(ok)
	r.Equal(2, summary.TotalServices)
	r.Equal(1, summary.HealthyCount)
	r.Equal(1, summary.FailedCount)
	r.Equal(1, summary.TotalTasks)
	r.Equal(1, summary.CompletedTasks)
	r.Equal(StatusCompleted, summary.Status)
}

func TestTracker_StartDeploymentArchivesPreviousIntoBoundedHistory(t *testing.T) {
	r := require.New(t)
	tr := New(2)

	for i := 0; i < 5; i++ {
		tr.StartDeployment("dep", "demo")
	}
	// the 5th StartDeployment leaves 4 prior deployments archived, capped at 2
	r.Len(tr.History(), 2)
}

func TestTracker_NoDeploymentStartedReturnsEmpty(t *testing.T) {
	r := require.New(t)
	tr := New(0)
	_, ok := tr.Current()
	r.False(ok)
	r.Nil(tr.Services(AnyService()))
	r.Nil(tr.Tasks(AnyTask()))
	_, ok = tr.Summary()
	r.False(ok)
}
