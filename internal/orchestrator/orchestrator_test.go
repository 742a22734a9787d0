package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stacksupervisor/stacksupervisor/internal/backend"
	"github.com/stacksupervisor/stacksupervisor/internal/eventbus"
	"github.com/stacksupervisor/stacksupervisor/internal/metrics"
	"github.com/stacksupervisor/stacksupervisor/internal/model"
	"github.com/stacksupervisor/stacksupervisor/internal/registry"
	"github.com/stacksupervisor/stacksupervisor/internal/tracker"
	"github.com/stretchr/testify/require"
)

// fakeBackend launches nothing real; it just records the services it was
// asked to start, so tests can assert dispatch order without a real OS
// process per node.
type fakeBackend struct {
	launched chan string
}

func (b *fakeBackend) Launch(ctx context.Context, service string, target model.Target) (backend.EventStream, backend.Handle, error) {
	b.launched <- service
	events := make(chan backend.ProcessEvent)
	close(events)
	return events, &fakeHandle{}, nil
}

func (b *fakeBackend) Attach(ctx context.Context, service string, target model.Target) (backend.EventStream, backend.Handle, error) {
	return b.Launch(ctx, service, target)
}

type fakeHandle struct{}

func (h *fakeHandle) PID() (int, bool)  { return 0, false }
func (h *fakeHandle) Wait() error       { return nil }
func (h *fakeHandle) Terminate() error  { return nil }
func (h *fakeHandle) Kill() error       { return nil }
func (h *fakeHandle) Interrupt() error  { return nil }
func (h *fakeHandle) Reload() error     { return nil }
func (h *fakeHandle) Managed() bool     { return true }
func (h *fakeHandle) Drop() error       { return nil }

type failingBackend struct{}

func (b *failingBackend) Launch(ctx context.Context, service string, target model.Target) (backend.EventStream, backend.Handle, error) {
	return nil, nil, &backend.SpawnFailedError{Layer: "fake", Detail: "boom"}
}
func (b *failingBackend) Attach(ctx context.Context, service string, target model.Target) (backend.EventStream, backend.Handle, error) {
	return b.Launch(ctx, service, target)
}

func newTestOrchestrator(b backend.Backend) (*Orchestrator, *fakeBackend) {
	reg := registry.New("")
	bus := eventbus.New()
	fb, ok := b.(*fakeBackend)
	if !ok {
		fb = nil
	}
	return New(reg, bus, nil, map[model.TargetKind]backend.Backend{model.TargetProcess: b}, nil), fb
}

// TestExecute_DiamondDependencyStartsInDependencyOrder mirrors the graph
// package's diamond-shaped dependency test, exercised end-to-end through
// the orchestrator.
func TestExecute_DiamondDependencyStartsInDependencyOrder(t *testing.T) {
	r := require.New(t)
	fb := &fakeBackend{launched: make(chan string, 8)}
	orc, _ := newTestOrchestrator(fb)

	stack := model.StackConfig{
		Name: "diamond",
		Services: map[string]*model.ServiceConfig{
			"a": {Name: "a", Target: model.Target{Kind: model.TargetProcess, Binary: "/bin/true"}},
			"b": {Name: "b", Target: model.Target{Kind: model.TargetProcess, Binary: "/bin/true"}, Dependencies: []model.Dependency{model.ServiceDep("a")}},
			"c": {Name: "c", Target: model.Target{Kind: model.TargetProcess, Binary: "/bin/true"}, Dependencies: []model.Dependency{model.ServiceDep("a")}},
			"d": {Name: "d", Target: model.Target{Kind: model.TargetProcess, Binary: "/bin/true"}, Dependencies: []model.Dependency{model.ServiceDep("b"), model.ServiceDep("c")}},
		},
	}

	err := orc.Execute(context.Background(), stack)
	r.NoError(err)

	close(fb.launched)
	var order []string
	for name := range fb.launched {
		order = append(order, name)
	}
	r.Len(order, 4)
	r.Equal("a", order[0])
	r.Equal("d", order[3])

	for _, name := range []string{"a", "b", "c", "d"} {
		entry, err := orc.Registry.Get(name)
		r.NoError(err)
		r.Equal(model.StateRunning, entry.State)
	}
}

func TestExecute_UndefinedDependencyTreatedAsSatisfied(t *testing.T) {
	r := require.New(t)
	fb := &fakeBackend{launched: make(chan string, 2)}
	orc, _ := newTestOrchestrator(fb)

	stack := model.StackConfig{
		Services: map[string]*model.ServiceConfig{
			"api": {Name: "api", Target: model.Target{Kind: model.TargetProcess, Binary: "/bin/true"}, Dependencies: []model.Dependency{model.ServiceDep("external-db")}},
		},
	}

	err := orc.Execute(context.Background(), stack)
	r.NoError(err)
	entry, err := orc.Registry.Get("api")
	r.NoError(err)
	r.Equal(model.StateRunning, entry.State)
}

func TestExecute_LaunchFailureTransitionsToFailedAndAborts(t *testing.T) {
	r := require.New(t)
	reg := registry.New("")
	bus := eventbus.New()
	orc := New(reg, bus, nil, map[model.TargetKind]backend.Backend{model.TargetProcess: &failingBackend{}}, nil)

	stack := model.StackConfig{
		Services: map[string]*model.ServiceConfig{
			"api": {Name: "api", Target: model.Target{Kind: model.TargetProcess, Binary: "/bin/true"}},
		},
	}

	err := orc.Execute(context.Background(), stack)
	r.Error(err)

	var execErr *ExecutionFailedError
	r.ErrorAs(err, &execErr)
	r.Equal("service:api", execErr.Node)

	entry, err := reg.Get("api")
	r.NoError(err)
	r.Equal(model.StateFailed, entry.State)
}

func TestExecute_ZeroNodeStackIsNoOp(t *testing.T) {
	fb := &fakeBackend{launched: make(chan string, 1)}
	orc, _ := newTestOrchestrator(fb)

	err := orc.Execute(context.Background(), model.StackConfig{})
	require.NoError(t, err)
}

func TestExecute_TaskIdempotencySkipsCompletedTask(t *testing.T) {
	r := require.New(t)
	reg := registry.New("")
	bus := eventbus.New()

	ran := make(chan struct{}, 1)
	runner := &recordingTaskRunner{completed: true, ran: ran}
	orc := New(reg, bus, nil, map[model.TargetKind]backend.Backend{}, map[string]TaskRunner{"migrate": runner})

	stack := model.StackConfig{
		Tasks: map[string]*model.TaskConfig{
			"seed": {Name: "seed", TaskType: "migrate"},
		},
	}

	err := orc.Execute(context.Background(), stack)
	r.NoError(err)

	select {
	case <-ran:
		t.Fatal("Run should not be called when IsCompleted is true")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestExecute_WithTrackerRecordsServiceStatesAndCompletesDeployment(t *testing.T) {
	r := require.New(t)
	fb := &fakeBackend{launched: make(chan string, 2)}
	orc, _ := newTestOrchestrator(fb)
	tr := tracker.New(0)
	orc.WithTracker(tr)

	stack := model.StackConfig{
		Name: "demo",
		Services: map[string]*model.ServiceConfig{
			"api": {Name: "api", Target: model.Target{Kind: model.TargetProcess, Binary: "/bin/true"}},
		},
	}

	err := orc.Execute(context.Background(), stack)
	r.NoError(err)

	dep, ok := tr.Current()
	r.True(ok)
	r.Equal(tracker.StatusCompleted, dep.Status)
	r.Equal(model.StateRunning, dep.Services["api"].State)
}

func TestExecute_NoDiscoveredEndpointsLeavesExplicitEnvUntouched(t *testing.T) {
	r := require.New(t)
	observed := make(chan model.Target, 2)
	fb := &observingBackend{observed: observed}
	orc, _ := newTestOrchestrator(fb)

	stack := model.StackConfig{
		Services: map[string]*model.ServiceConfig{
			"db":  {Name: "db", Target: model.Target{Kind: model.TargetProcess, Binary: "/bin/true"}},
			"api": {Name: "api", Target: model.Target{Kind: model.TargetProcess, Binary: "/bin/true", Env: map[string]string{"DB_HOST": "explicit-wins"}}, Dependencies: []model.Dependency{model.ServiceDep("db")}},
		},
	}

	// db has no endpoints post-launch in this fake backend, so injection for
	// api will find no endpoints and its explicit env is untouched; this just
	// exercises that startService never panics when discovery finds nothing.
	err := orc.Execute(context.Background(), stack)
	r.NoError(err)

	close(observed)
	for target := range observed {
		if target.Binary == "/bin/true" && target.Env["DB_HOST"] == "explicit-wins" {
			return
		}
	}
	t.Fatal("api was not launched with its explicit env")
}

type observingBackend struct {
	observed chan model.Target
}

func (b *observingBackend) Launch(ctx context.Context, service string, target model.Target) (backend.EventStream, backend.Handle, error) {
	b.observed <- target
	events := make(chan backend.ProcessEvent)
	close(events)
	return events, &fakeHandle{}, nil
}

func (b *observingBackend) Attach(ctx context.Context, service string, target model.Target) (backend.EventStream, backend.Handle, error) {
	return b.Launch(ctx, service, target)
}

func TestExecute_WithMetricsRecordsRunningGauge(t *testing.T) {
	r := require.New(t)
	fb := &fakeBackend{launched: make(chan string, 1)}
	orc, _ := newTestOrchestrator(fb)
	orc.WithMetrics(metrics.New())

	stack := model.StackConfig{
		Services: map[string]*model.ServiceConfig{
			"api": {Name: "api", Target: model.Target{Kind: model.TargetProcess, Binary: "/bin/true"}},
		},
	}
	r.NoError(orc.Execute(context.Background(), stack))

	families, err := orc.Metrics.Registerer().Gather()
	r.NoError(err)
	var sawRunning bool
	for _, fam := range families {
		if fam.GetName() != "stacksupervisor_services_in_state" {
			continue
		}
		for _, m := range fam.GetMetric() {
			for _, label := range m.GetLabel() {
				if label.GetName() == "state" && label.GetValue() == "running" && m.GetGauge().GetValue() == 1 {
					sawRunning = true
				}
			}
		}
	}
	r.True(sawRunning)
}

type recordingTaskRunner struct {
	completed bool
	ran       chan struct{}
}

func (r *recordingTaskRunner) IsCompleted(ctx context.Context, cfg model.TaskConfig) (bool, error) {
	return r.completed, nil
}

func (r *recordingTaskRunner) Run(ctx context.Context, cfg model.TaskConfig) error {
	r.ran <- struct{}{}
	return nil
}
