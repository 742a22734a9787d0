package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/stacksupervisor/stacksupervisor/internal/model"
	"github.com/stacksupervisor/stacksupervisor/internal/registry"
	"github.com/stretchr/testify/require"
)

func registerRunning(t *testing.T, reg *registry.Registry, entry model.ServiceEntry) {
	t.Helper()
	entry.State = model.StateRegistered
	_, err := reg.Register(entry)
	require.NoError(t, err)
	_, _, err = reg.UpdateState(entry.Name, model.StateStarting)
	require.NoError(t, err)
	_, _, err = reg.UpdateState(entry.Name, model.StateRunning)
	require.NoError(t, err)
}

func TestInjectedEnv_PrimaryAndSecondaryEndpoints(t *testing.T) {
	r := require.New(t)
	reg := registry.New("")
	registerRunning(t, reg, model.ServiceEntry{
		Name: "postgres-1",
		Endpoints: []model.Endpoint{
			{Name: "primary", Address: "127.0.0.1:5432", Protocol: model.ProtocolTCP},
			{Name: "metrics", Address: "127.0.0.1:9187", Protocol: model.ProtocolHTTP},
		},
	})

	d := New(reg)
	svc := &model.ServiceConfig{
		Name:         "app",
		Dependencies: []model.Dependency{model.ServiceDep("postgres-1")},
	}
	env := d.InjectedEnv(svc)

	r.Equal("127.0.0.1", env["POSTGRES-1_HOST"])
	r.Equal("5432", env["POSTGRES-1_PORT"])
	r.Equal("127.0.0.1:5432", env["POSTGRES-1_endpoint"])
	r.Equal("http://127.0.0.1:9187", env["POSTGRES-1_metrics_endpoint"])
}

func TestInjectedEnv_SkipsTaskDependenciesAndMissingServices(t *testing.T) {
	r := require.New(t)
	reg := registry.New("")
	d := New(reg)

	svc := &model.ServiceConfig{
		Name: "app",
		Dependencies: []model.Dependency{
			model.TaskDep("migrate"),
			model.ServiceDep("nonexistent"),
		},
	}
	env := d.InjectedEnv(svc)
	r.Empty(env)
}

func TestByType_MatchesExactAndPrefixedNames(t *testing.T) {
	r := require.New(t)
	reg := registry.New("")
	registerRunning(t, reg, model.ServiceEntry{
		Name:      "postgres-1",
		Endpoints: []model.Endpoint{{Name: "primary", Address: "127.0.0.1:5432", Protocol: model.ProtocolTCP}},
	})
	registerRunning(t, reg, model.ServiceEntry{
		Name:      "redis",
		Endpoints: []model.Endpoint{{Name: "primary", Address: "127.0.0.1:6379", Protocol: model.ProtocolTCP}},
	})

	d := New(reg)
	matches := d.ByType("postgres")
	r.Len(matches, 1)
	r.Equal("postgres-1", matches[0].ServiceName)
}

func TestWaitFor_ReturnsOnceRunning(t *testing.T) {
	r := require.New(t)
	reg := registry.New("")
	_, err := reg.Register(model.ServiceEntry{Name: "api", State: model.StateRegistered})
	r.NoError(err)
	_, _, err = reg.UpdateState("api", model.StateStarting)
	r.NoError(err)

	d := New(reg)
	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _, _ = reg.UpdateState("api", model.StateRunning)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	entry, err := d.WaitFor(ctx, "api", 5*time.Millisecond)
	r.NoError(err)
	r.Equal(model.StateRunning, entry.State)
}

func TestWaitFor_ContextCancellationAborts(t *testing.T) {
	r := require.New(t)
	reg := registry.New("")
	d := New(reg)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := d.WaitFor(ctx, "never-registered", 5*time.Millisecond)
	r.Error(err)
}
