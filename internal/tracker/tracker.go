// Package tracker maintains the current deployment's live state:
// per-service and per-task progress, accumulated errors, and a bounded
// history of prior deployments. It is read-only from the registry's
// perspective -- the orchestrator pushes the same transitions into both.
package tracker

import (
	"sort"
	"sync"
	"time"

	"github.com/stacksupervisor/stacksupervisor/internal/model"
)

// DeploymentStatus is the lifecycle status of one tracked deployment.
type DeploymentStatus string

const (
	StatusRunning   DeploymentStatus = "running"
	StatusCompleted DeploymentStatus = "completed"
	StatusFailed    DeploymentStatus = "failed"
)

// ServiceDeploymentState is one service's last-known state within a
// deployment, as observed by the orchestrator.
type ServiceDeploymentState struct {
	Name            string
	State           model.ServiceState
	LastStateChange time.Time
}

// TaskExecutionState is one task's outcome within a deployment.
type TaskExecutionState struct {
	Name      string
	Completed bool
	Err       string
	FinishedAt time.Time
}

// Deployment is the current (or a historical) run of a stack.
type Deployment struct {
	ID          string
	StackName   string
	StartedAt   time.Time
	CompletedAt *time.Time
	Status      DeploymentStatus
	Services    map[string]ServiceDeploymentState
	Tasks       map[string]TaskExecutionState
	Errors      []string
}

func newDeployment(id, stackName string) *Deployment {
	return &Deployment{
		ID:        id,
		StackName: stackName,
		StartedAt: time.Now(),
		Status:    StatusRunning,
		Services:  map[string]ServiceDeploymentState{},
		Tasks:     map[string]TaskExecutionState{},
	}
}

func (d *Deployment) clone() *Deployment {
	cp := *d
	cp.Services = make(map[string]ServiceDeploymentState, len(d.Services))
	for k, v := range d.Services {
		cp.Services[k] = v
	}
	cp.Tasks = make(map[string]TaskExecutionState, len(d.Tasks))
	for k, v := range d.Tasks {
		cp.Tasks[k] = v
	}
	cp.Errors = append([]string(nil), d.Errors...)
	if d.CompletedAt != nil {
		completed := *d.CompletedAt
		cp.CompletedAt = &completed
	}
	return &cp
}

const defaultMaxHistory = 10

// Tracker holds the current deployment plus a bounded ring of past ones.
type Tracker struct {
	mu         sync.RWMutex
	current    *Deployment
	history    []*Deployment
	maxHistory int
}

// New creates a Tracker retaining at most maxHistory past deployments
// (defaulting to 10 for maxHistory <= 0).
func New(maxHistory int) *Tracker {
	if maxHistory <= 0 {
		maxHistory = defaultMaxHistory
	}
	return &Tracker{maxHistory: maxHistory}
}

// StartDeployment retires the current deployment (if any) into history and
// begins tracking a new one.
func (t *Tracker) StartDeployment(id, stackName string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current != nil {
		t.archiveLocked()
	}
	t.current = newDeployment(id, stackName)
}

func (t *Tracker) archiveLocked() {
	t.history = append(t.history, t.current)
	if len(t.history) > t.maxHistory {
		t.history = t.history[len(t.history)-t.maxHistory:]
	}
}

// RecordServiceState records a service's latest state within the current
// deployment. A call with no deployment started is a no-op.
func (t *Tracker) RecordServiceState(name string, state model.ServiceState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return
	}
	t.current.Services[name] = ServiceDeploymentState{
		Name:            name,
		State:           state,
		LastStateChange: time.Now(),
	}
}

// RecordTaskResult records a task's outcome within the current deployment.
func (t *Tracker) RecordTaskResult(name string, taskErr error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return
	}
	state := TaskExecutionState{Name: name, Completed: taskErr == nil, FinishedAt: time.Now()}
	if taskErr != nil {
		state.Err = taskErr.Error()
		t.current.Errors = append(t.current.Errors, taskErr.Error())
	}
	t.current.Tasks[name] = state
}

// RecordError appends a deployment-level error not tied to one task.
func (t *Tracker) RecordError(err error) {
	if err == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return
	}
	t.current.Errors = append(t.current.Errors, err.Error())
}

// Complete closes out the current deployment with a terminal status.
func (t *Tracker) Complete(status DeploymentStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return
	}
	now := time.Now()
	t.current.CompletedAt = &now
	t.current.Status = status
}

// Current returns a snapshot of the in-progress (or last) deployment. The
// second return is false if no deployment has started.
func (t *Tracker) Current() (*Deployment, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.current == nil {
		return nil, false
	}
	return t.current.clone(), true
}

// History returns a snapshot of past deployments, oldest first.
func (t *Tracker) History() []*Deployment {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Deployment, 0, len(t.history))
	for _, d := range t.history {
		out = append(out, d.clone())
	}
	return out
}

// ServiceFilterKind selects which predicate Services applies.
type ServiceFilterKind int

const (
	FilterAny ServiceFilterKind = iota
	FilterState
	FilterHealthy
	FilterFailed
	FilterStates
)

// ServiceFilter narrows a Services query to one of Any, a single State,
// Healthy, Failed, or a set of States.
type ServiceFilter struct {
	Kind   ServiceFilterKind
	State  model.ServiceState
	States map[model.ServiceState]bool
}

func AnyService() ServiceFilter { return ServiceFilter{Kind: FilterAny} }

func ServiceInState(s model.ServiceState) ServiceFilter {
	return ServiceFilter{Kind: FilterState, State: s}
}

// HealthyServices matches services in any non-terminal, non-failed running
// state; in this tracker that is simply StateRunning.
func HealthyServices() ServiceFilter { return ServiceFilter{Kind: FilterHealthy} }

func FailedServices() ServiceFilter { return ServiceFilter{Kind: FilterFailed} }

func ServicesInStates(states ...model.ServiceState) ServiceFilter {
	set := make(map[model.ServiceState]bool, len(states))
	for _, s := range states {
		set[s] = true
	}
	return ServiceFilter{Kind: FilterStates, States: set}
}

func (f ServiceFilter) matches(state model.ServiceState) bool {
	switch f.Kind {
	case FilterAny:
		return true
	case FilterState:
		return state == f.State
	case FilterHealthy:
		return state == model.StateRunning
	case FilterFailed:
		return state == model.StateFailed
	case FilterStates:
		return f.States[state]
	default:
		return false
	}
}

// Services returns the current deployment's services matching filter,
// ordered by name.
func (t *Tracker) Services(filter ServiceFilter) []ServiceDeploymentState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.current == nil {
		return nil
	}
	var out []ServiceDeploymentState
	for _, svc := range t.current.Services {
		if filter.matches(svc.State) {
			out = append(out, svc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// TaskFilterKind selects which predicate Tasks applies.
type TaskFilterKind int

const (
	TaskFilterAny TaskFilterKind = iota
	TaskFilterCompleted
	TaskFilterFailed
)

type TaskFilter struct {
	Kind TaskFilterKind
}

func AnyTask() TaskFilter          { return TaskFilter{Kind: TaskFilterAny} }
func CompletedTasks() TaskFilter   { return TaskFilter{Kind: TaskFilterCompleted} }
func FailedTasks() TaskFilter      { return TaskFilter{Kind: TaskFilterFailed} }

func (f TaskFilter) matches(s TaskExecutionState) bool {
	switch f.Kind {
	case TaskFilterAny:
		return true
	case TaskFilterCompleted:
		return s.Completed
	case TaskFilterFailed:
		return !s.Completed && s.Err != ""
	default:
		return false
	}
}

// Tasks returns the current deployment's tasks matching filter.
func (t *Tracker) Tasks(filter TaskFilter) []TaskExecutionState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.current == nil {
		return nil
	}
	var out []TaskExecutionState
	for _, task := range t.current.Tasks {
		if filter.matches(task) {
			out = append(out, task)
		}
	}
	return out
}

// Summary reports aggregate counts and duration of the current deployment.
type Summary struct {
	StackName      string
	Status         DeploymentStatus
	TotalServices  int
	HealthyCount   int
	FailedCount    int
	TotalTasks     int
	CompletedTasks int
	Duration       time.Duration
}

// Summary computes counts and duration for the current deployment. The
// second return is false if no deployment has started.
func (t *Tracker) Summary() (Summary, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.current == nil {
		return Summary{}, false
	}
	d := t.current

	end := time.Now()
	if d.CompletedAt != nil {
		end = *d.CompletedAt
	}

	s := Summary{
		StackName:     d.StackName,
		Status:        d.Status,
		TotalServices: len(d.Services),
		TotalTasks:    len(d.Tasks),
		Duration:      end.Sub(d.StartedAt),
	}
	for _, svc := range d.Services {
		switch svc.State {
		case model.StateRunning:
			s.HealthyCount++
		case model.StateFailed:
			s.FailedCount++
		}
	}
	for _, task := range d.Tasks {
		if task.Completed {
			s.CompletedTasks++
		}
	}
	return s, true
}
