// Package orchestrator drives a stack's dependency graph to completion:
// build the graph, topologically sort it (failing fast on cycles), then
// repeatedly dispatch every ready node concurrently until every node
// completes or one fails. Concurrent dispatch within a ready set follows
// an errgroup-based level-by-level traversal, the same shape as
// docker-compose's pkg/compose/dependencies.go.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stacksupervisor/stacksupervisor/internal/backend"
	"github.com/stacksupervisor/stacksupervisor/internal/discovery"
	"github.com/stacksupervisor/stacksupervisor/internal/eventbus"
	"github.com/stacksupervisor/stacksupervisor/internal/graph"
	"github.com/stacksupervisor/stacksupervisor/internal/health"
	"github.com/stacksupervisor/stacksupervisor/internal/idgen"
	"github.com/stacksupervisor/stacksupervisor/internal/logging"
	"github.com/stacksupervisor/stacksupervisor/internal/metrics"
	"github.com/stacksupervisor/stacksupervisor/internal/model"
	"github.com/stacksupervisor/stacksupervisor/internal/registry"
	"github.com/stacksupervisor/stacksupervisor/internal/tracker"
)

// TaskRunner implements one task type: an idempotency check plus the
// task's actual work.
type TaskRunner interface {
	IsCompleted(ctx context.Context, cfg model.TaskConfig) (bool, error)
	Run(ctx context.Context, cfg model.TaskConfig) error
}

// ExecutionFailedError reports the node that aborted a run and why;
// nodes already completed remain registered -- partial progress is
// never rolled back.
type ExecutionFailedError struct {
	Node  string
	Cause error
}

func (e *ExecutionFailedError) Error() string {
	return fmt.Sprintf("execution failed at node %s: %v", e.Node, e.Cause)
}

func (e *ExecutionFailedError) Unwrap() error { return e.Cause }

// Orchestrator wires the registry, event bus, execution backends, task
// runners and health monitor together to run one stack's dependency graph
// to completion.
type Orchestrator struct {
	Registry  *registry.Registry
	Bus       *eventbus.Bus
	Health    *health.Monitor
	Tracker   *tracker.Tracker
	Discovery *discovery.Discovery
	Metrics   *metrics.Registry
	Backends  map[model.TargetKind]backend.Backend
	Tasks     map[string]TaskRunner

	log *slog.Logger
}

func New(reg *registry.Registry, bus *eventbus.Bus, healthMon *health.Monitor, backends map[model.TargetKind]backend.Backend, tasks map[string]TaskRunner) *Orchestrator {
	return &Orchestrator{
		Registry:  reg,
		Bus:       bus,
		Health:    healthMon,
		Discovery: discovery.New(reg),
		Backends:  backends,
		Tasks:     tasks,
		log:       logging.With("orchestrator"),
	}
}

// WithTracker attaches a deployment tracker; the orchestrator pushes every
// state transition and task result into it alongside the registry.
func (o *Orchestrator) WithTracker(t *tracker.Tracker) *Orchestrator {
	o.Tracker = t
	return o
}

// WithMetrics attaches a Prometheus-backed metrics registry; every state
// transition the orchestrator drives is reported to it.
func (o *Orchestrator) WithMetrics(m *metrics.Registry) *Orchestrator {
	o.Metrics = m
	return o
}

// Execute runs stack's services and tasks to completion.
func (o *Orchestrator) Execute(ctx context.Context, stack model.StackConfig) error {
	g := graph.New(stack.Services, stack.Tasks)

	order, err := g.TopoSort()
	if err != nil {
		return err
	}
	o.log.Info("executing stack", "name", stack.Name, "nodes", len(order))
	if o.Tracker != nil {
		o.Tracker.StartDeployment(idgen.NewDeploymentID(), stack.Name)
	}

	completed := map[graph.Node]bool{}
	for len(completed) < len(order) {
		ready := g.Ready(completed)
		if len(ready) == 0 {
			return fmt.Errorf("orchestrator: no ready nodes but %d/%d completed: %w", len(completed), len(order), errStalledGraph)
		}

		eg, egCtx := errgroup.WithContext(ctx)
		for _, node := range ready {
			node := node
			eg.Go(func() error {
				if err := o.dispatch(egCtx, node, stack); err != nil {
					return &ExecutionFailedError{Node: node.String(), Cause: err}
				}
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			if o.Tracker != nil {
				o.Tracker.RecordError(err)
				o.Tracker.Complete(tracker.StatusFailed)
			}
			return err
		}
		for _, node := range ready {
			completed[node] = true
		}
	}

	if o.Tracker != nil {
		o.Tracker.Complete(tracker.StatusCompleted)
	}
	o.log.Info("stack execution complete", "name", stack.Name)
	return nil
}

var errStalledGraph = fmt.Errorf("ready set empty before all nodes completed")

func (o *Orchestrator) dispatch(ctx context.Context, node graph.Node, stack model.StackConfig) error {
	switch node.Kind {
	case model.DependencyService:
		svc, ok := stack.Services[node.Name]
		if !ok {
			o.log.Debug("service referenced but undefined, treating as satisfied", "name", node.Name)
			return nil
		}
		return o.startService(ctx, svc)
	case model.DependencyTask:
		task, ok := stack.Tasks[node.Name]
		if !ok {
			o.log.Debug("task referenced but undefined, treating as satisfied", "name", node.Name)
			return nil
		}
		return o.executeTask(ctx, task)
	default:
		return fmt.Errorf("unknown dependency kind %q", node.Kind)
	}
}

// startService locates the backend for svc.Target, launches it, and
// drives the registry through Registered -> Starting -> Running. A node
// "completes" the instant its registry state first reaches Running, not
// when the underlying process exits.
func (o *Orchestrator) startService(ctx context.Context, svc *model.ServiceConfig) error {
	log := o.log.With("service", svc.Name)

	dependsOn := make([]string, 0, len(svc.Dependencies))
	for _, d := range svc.Dependencies {
		dependsOn = append(dependsOn, d.Name)
	}

	entry := model.ServiceEntry{
		Name:      svc.Name,
		Execution: executionFor(svc.Target),
		Location:  locationFor(svc.Target),
		DependsOn: dependsOn,
		State:     model.StateRegistered,
	}
	deliveries, err := o.Registry.Register(entry)
	if err != nil {
		return err
	}
	o.Bus.Dispatch(deliveries)

	if _, deliveries, err := o.Registry.UpdateState(svc.Name, model.StateStarting); err != nil {
		return err
	} else {
		o.Bus.Dispatch(deliveries)
	}
	o.observeStateChange(model.StateStarting)
	if o.Tracker != nil {
		o.Tracker.RecordServiceState(svc.Name, model.StateStarting)
	}

	b, err := o.resolveBackend(svc.Target.Kind)
	if err != nil {
		o.failService(svc.Name, err)
		return err
	}

	target := withInjectedEnv(svc.Target, o.Discovery.InjectedEnv(svc))

	var events backend.EventStream
	var handle backend.Handle
	if isAttachedKind(svc.Target.Kind) {
		events, handle, err = b.Attach(ctx, svc.Name, target)
	} else {
		events, handle, err = b.Launch(ctx, svc.Name, target)
	}
	if err != nil {
		o.failService(svc.Name, err)
		return err
	}
	go drainEvents(log, events)

	var endpoints []model.Endpoint
	if provider, ok := handle.(backend.EndpointProvider); ok {
		endpoints = provider.Endpoints()
	}
	if len(endpoints) > 0 {
		if deliveries, err := o.Registry.UpdateEndpoints(svc.Name, endpoints); err == nil {
			o.Bus.Dispatch(deliveries)
		}
	}

	if _, deliveries, err := o.Registry.UpdateState(svc.Name, model.StateRunning); err != nil {
		return err
	} else {
		o.Bus.Dispatch(deliveries)
	}
	o.observeStateChange(model.StateRunning)
	if o.Tracker != nil {
		o.Tracker.RecordServiceState(svc.Name, model.StateRunning)
	}

	if o.Health != nil && svc.HealthCheck != nil {
		o.Health.Watch(ctx, svc.Name, *svc.HealthCheck)
	}

	log.Info("service running")
	return nil
}

func (o *Orchestrator) failService(name string, cause error) {
	if _, deliveries, err := o.Registry.UpdateState(name, model.StateFailed); err == nil {
		o.Bus.Dispatch(deliveries)
	}
	o.observeStateChange(model.StateFailed)
	if o.Tracker != nil {
		o.Tracker.RecordServiceState(name, model.StateFailed)
	}
	o.log.Error("service failed to start", "service", name, "error", cause)
}

func (o *Orchestrator) observeStateChange(state model.ServiceState) {
	if o.Metrics == nil {
		return
	}
	o.Metrics.ObserveStateChange(state)
	o.Metrics.RefreshCounts(o.Registry)
}

// executeTask dispatches to the named task_type's runner. A task already
// satisfied (IsCompleted) is a no-op success.
func (o *Orchestrator) executeTask(ctx context.Context, task *model.TaskConfig) error {
	runner, ok := o.Tasks[task.TaskType]
	if !ok {
		return fmt.Errorf("no task runner registered for task_type %q", task.TaskType)
	}

	done, err := runner.IsCompleted(ctx, *task)
	if err != nil {
		return err
	}
	if done {
		o.log.Debug("task already complete, skipping", "task", task.Name)
		if o.Tracker != nil {
			o.Tracker.RecordTaskResult(task.Name, nil)
		}
		return nil
	}

	runErr := runner.Run(ctx, *task)
	if o.Tracker != nil {
		o.Tracker.RecordTaskResult(task.Name, runErr)
	}
	return runErr
}

func (o *Orchestrator) resolveBackend(kind model.TargetKind) (backend.Backend, error) {
	b, ok := o.Backends[kind]
	if !ok {
		return nil, &backend.NotSupportedError{Op: "resolveBackend", Platform: string(kind)}
	}
	return b, nil
}

func isAttachedKind(kind model.TargetKind) bool {
	return kind == model.TargetDockerAttach || kind == model.TargetProcessAttach
}

func executionFor(target model.Target) model.Execution {
	switch target.Kind {
	case model.TargetProcess, model.TargetRemote:
		return model.Execution{Kind: model.ExecutionManagedProcess, Command: target.Binary, Args: target.Args}
	case model.TargetDocker:
		return model.Execution{Kind: model.ExecutionDockerContainer, Image: target.Image}
	case model.TargetDockerAttach:
		return model.Execution{Kind: model.ExecutionAttached, AttachedKind: "docker", AttachedIdentifier: target.Container}
	case model.TargetProcessAttach:
		ident := target.ProcessName
		if target.PID != 0 {
			ident = fmt.Sprintf("%d", target.PID)
		}
		return model.Execution{Kind: model.ExecutionAttached, AttachedKind: "process", AttachedIdentifier: ident}
	default:
		return model.Execution{Kind: model.ExecutionAttached, AttachedKind: string(target.Kind)}
	}
}

// withInjectedEnv returns a copy of target with discovered's entries merged
// into its Env, discovered values losing to any explicit config value of the
// same name (explicit config always wins over injection).
func withInjectedEnv(target model.Target, discovered map[string]string) model.Target {
	if len(discovered) == 0 {
		return target
	}
	merged := make(map[string]string, len(discovered)+len(target.Env))
	for k, v := range discovered {
		merged[k] = v
	}
	for k, v := range target.Env {
		merged[k] = v
	}
	target.Env = merged
	return target
}

func locationFor(target model.Target) model.Location {
	if target.Kind == model.TargetRemote {
		return model.Location{Kind: model.LocationRemoteLan, Host: target.Host, User: target.User}
	}
	return model.Location{Kind: model.LocationLocal}
}

// drainEvents logs the lifecycle of a launched service's process so its
// output isn't silently discarded; a real deployment would forward these
// to the log aggregator instead.
func drainEvents(log *slog.Logger, events backend.EventStream) {
	for evt := range events {
		switch evt.Kind {
		case backend.EventStdout:
			log.Debug("stdout", "line", evt.Data, "at", evt.Timestamp.Format(time.RFC3339))
		case backend.EventStderr:
			log.Debug("stderr", "line", evt.Data, "at", evt.Timestamp.Format(time.RFC3339))
		case backend.EventExited:
			log.Info("process exited", "code", evt.Code, "signal", evt.Signal)
		}
	}
}
