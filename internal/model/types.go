// Package model holds the data types shared by the registry, orchestrator,
// execution backends, and resolver: service entries, their execution and
// location tags, endpoints, and the orchestrator's input configs.
package model

import "time"

// Protocol is the wire protocol exposed by an Endpoint.
type Protocol string

const (
	ProtocolHTTP  Protocol = "http"
	ProtocolHTTPS Protocol = "https"
	ProtocolGRPC  Protocol = "grpc"
	ProtocolTCP   Protocol = "tcp"
	ProtocolWS    Protocol = "ws"
)

// Endpoint is a single named access point a service exposes.
type Endpoint struct {
	Name     string            `json:"name" yaml:"name"`
	Address  string            `json:"address" yaml:"address"` // host:port
	Protocol Protocol          `json:"protocol" yaml:"protocol"`
	Metadata map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// ExecutionKind tags the concrete resource a service's execution variant
// wraps.
type ExecutionKind string

const (
	ExecutionManagedProcess  ExecutionKind = "managed_process"
	ExecutionDockerContainer ExecutionKind = "docker_container"
	ExecutionAttached        ExecutionKind = "attached"
)

// Execution is the tagged union of how a service's process/container is
// represented in the registry.
type Execution struct {
	Kind ExecutionKind `json:"kind" yaml:"kind"`

	// ManagedProcess fields
	PID     int      `json:"pid,omitempty" yaml:"pid,omitempty"`
	Command string   `json:"command,omitempty" yaml:"command,omitempty"`
	Args    []string `json:"args,omitempty" yaml:"args,omitempty"`

	// DockerContainer fields
	ContainerID   string `json:"container_id,omitempty" yaml:"container_id,omitempty"`
	Image         string `json:"image,omitempty" yaml:"image,omitempty"`
	ContainerName string `json:"container_name,omitempty" yaml:"container_name,omitempty"`

	// Attached fields
	AttachedKind       string `json:"attached_kind,omitempty" yaml:"attached_kind,omitempty"`
	AttachedIdentifier string `json:"attached_identifier,omitempty" yaml:"attached_identifier,omitempty"`
}

// LocationKind tags where a service's resource runs.
type LocationKind string

const (
	LocationLocal      LocationKind = "local"
	LocationRemoteLan  LocationKind = "remote_lan"
	LocationWireGuard  LocationKind = "wireguard"
)

// Location is the tagged union of where a service executes.
type Location struct {
	Kind LocationKind `json:"kind" yaml:"kind"`
	Host string       `json:"host,omitempty" yaml:"host,omitempty"`
	User string       `json:"user,omitempty" yaml:"user,omitempty"`
	Port int          `json:"port,omitempty" yaml:"port,omitempty"`
}

// ServiceEntry is the registry's authoritative row for one service.
type ServiceEntry struct {
	Name             string            `json:"name" yaml:"name"`
	Version          string            `json:"version,omitempty" yaml:"version,omitempty"`
	Execution        Execution         `json:"execution" yaml:"execution"`
	Location         Location          `json:"location" yaml:"location"`
	Endpoints        []Endpoint        `json:"endpoints" yaml:"endpoints"`
	DependsOn        []string          `json:"depends_on" yaml:"depends_on"`
	State            ServiceState      `json:"state" yaml:"state"`
	LastHealthCheck  *time.Time        `json:"last_health_check,omitempty" yaml:"last_health_check,omitempty"`
	RegisteredAt     time.Time         `json:"registered_at" yaml:"registered_at"`
	LastStateChange  time.Time         `json:"last_state_change" yaml:"last_state_change"`
}

// Clone returns a deep-enough copy of the entry so callers (registry
// snapshots, event payloads) can't mutate shared state through it.
func (e ServiceEntry) Clone() ServiceEntry {
	c := e
	c.Endpoints = append([]Endpoint(nil), e.Endpoints...)
	c.DependsOn = append([]string(nil), e.DependsOn...)
	if e.LastHealthCheck != nil {
		t := *e.LastHealthCheck
		c.LastHealthCheck = &t
	}
	return c
}

// DependencyKind tags whether a Dependency refers to a service or a task.
type DependencyKind string

const (
	DependencyService DependencyKind = "service"
	DependencyTask    DependencyKind = "task"
)

// Dependency is an edge target in the stack's DAG.
type Dependency struct {
	Kind DependencyKind
	Name string
}

func ServiceDep(name string) Dependency { return Dependency{Kind: DependencyService, Name: name} }
func TaskDep(name string) Dependency    { return Dependency{Kind: DependencyTask, Name: name} }

// HealthCheck configures the periodic probe a service's health monitor
// runs.
type HealthCheck struct {
	Command    string        `json:"command" yaml:"command"`
	Args       []string      `json:"args" yaml:"args"`
	Interval   time.Duration `json:"interval" yaml:"interval"`
	Retries    int           `json:"retries" yaml:"retries"`
	Timeout    time.Duration `json:"timeout" yaml:"timeout"`
}
