// Package config loads a StackConfig from YAML using goccy/go-yaml,
// following a raw-struct-then-convert pattern: unmarshal into a
// YAML-tagged mirror of the schema, then translate and validate into
// model types. Full schema validation is out of scope; this is a thin,
// explicit loader for the CLI and tests.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/stacksupervisor/stacksupervisor/internal/model"
	"github.com/stacksupervisor/stacksupervisor/internal/resolver"
)

var (
	envNameRe     = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)
	serviceNameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)
)

type rawStack struct {
	Name        string                 `yaml:"name"`
	Description string                 `yaml:"description,omitempty"`
	Services    map[string]*rawService `yaml:"services,omitempty"`
	Tasks       map[string]*rawTask    `yaml:"tasks,omitempty"`
}

type rawTarget struct {
	Kind string `yaml:"kind"`

	Binary     string            `yaml:"binary,omitempty"`
	Args       []string          `yaml:"args,omitempty"`
	Env        map[string]string `yaml:"env,omitempty"`
	WorkingDir string            `yaml:"working_dir,omitempty"`

	Image   string   `yaml:"image,omitempty"`
	Ports   []int    `yaml:"ports,omitempty"`
	Volumes []string `yaml:"volumes,omitempty"`

	Container string `yaml:"container,omitempty"`

	PID         int    `yaml:"pid,omitempty"`
	ProcessName string `yaml:"process_name,omitempty"`

	Host        string `yaml:"host,omitempty"`
	User        string `yaml:"user,omitempty"`
	RemoteMode  string `yaml:"remote_mode,omitempty"`
	PackagePath string `yaml:"package_path,omitempty"`
}

type rawHealthCheck struct {
	Command  string   `yaml:"command"`
	Args     []string `yaml:"args,omitempty"`
	Interval string   `yaml:"interval"`
	Retries  int      `yaml:"retries"`
	Timeout  string   `yaml:"timeout"`
}

type rawService struct {
	Target       rawTarget       `yaml:"target"`
	Dependencies []string        `yaml:"dependencies,omitempty"`
	HealthCheck  *rawHealthCheck `yaml:"health_check,omitempty"`
}

type rawTask struct {
	TaskType     string                 `yaml:"task_type"`
	Target       rawTarget              `yaml:"target,omitempty"`
	Dependencies []string               `yaml:"dependencies,omitempty"`
	Config       map[string]interface{} `yaml:"config,omitempty"`
}

// Load reads and parses a stack definition from path.
func Load(path string) (model.StackConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.StackConfig{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses a stack definition from raw YAML bytes and validates it
// against preconditions.
func Parse(data []byte) (model.StackConfig, error) {
	var raw rawStack
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return model.StackConfig{}, fmt.Errorf("config: parse yaml: %w", err)
	}

	stack, err := convert(raw)
	if err != nil {
		return model.StackConfig{}, err
	}
	if err := validate(stack); err != nil {
		return model.StackConfig{}, err
	}
	return stack, nil
}

func convert(raw rawStack) (model.StackConfig, error) {
	stack := model.StackConfig{
		Name:        raw.Name,
		Description: raw.Description,
		Services:    make(map[string]*model.ServiceConfig, len(raw.Services)),
		Tasks:       make(map[string]*model.TaskConfig, len(raw.Tasks)),
	}

	for name, svc := range raw.Services {
		target, err := convertTarget(svc.Target)
		if err != nil {
			return model.StackConfig{}, fmt.Errorf("config: service %q: %w", name, err)
		}
		deps, err := convertDependencies(svc.Dependencies)
		if err != nil {
			return model.StackConfig{}, fmt.Errorf("config: service %q: %w", name, err)
		}
		var health *model.HealthCheck
		if svc.HealthCheck != nil {
			h, err := convertHealthCheck(*svc.HealthCheck)
			if err != nil {
				return model.StackConfig{}, fmt.Errorf("config: service %q: %w", name, err)
			}
			health = &h
		}
		stack.Services[name] = &model.ServiceConfig{
			Name:         name,
			Target:       target,
			Dependencies: deps,
			HealthCheck:  health,
		}
	}

	for name, task := range raw.Tasks {
		target, err := convertTarget(task.Target)
		if err != nil {
			return model.StackConfig{}, fmt.Errorf("config: task %q: %w", name, err)
		}
		deps, err := convertDependencies(task.Dependencies)
		if err != nil {
			return model.StackConfig{}, fmt.Errorf("config: task %q: %w", name, err)
		}
		stack.Tasks[name] = &model.TaskConfig{
			Name:         name,
			TaskType:     task.TaskType,
			Target:       target,
			Dependencies: deps,
			Config:       task.Config,
		}
	}

	return stack, nil
}

func convertTarget(raw rawTarget) (model.Target, error) {
	ports := make([]uint16, 0, len(raw.Ports))
	for _, p := range raw.Ports {
		if p < 0 || p > 65535 {
			return model.Target{}, fmt.Errorf("port %d out of range", p)
		}
		ports = append(ports, uint16(p))
	}

	return model.Target{
		Kind:        model.TargetKind(raw.Kind),
		Binary:      raw.Binary,
		Args:        raw.Args,
		Env:         raw.Env,
		WorkingDir:  raw.WorkingDir,
		Image:       raw.Image,
		Ports:       ports,
		Volumes:     raw.Volumes,
		Container:   raw.Container,
		PID:         raw.PID,
		ProcessName: raw.ProcessName,
		Host:        raw.Host,
		User:        raw.User,
		RemoteMode:  model.RemoteMode(raw.RemoteMode),
		PackagePath: raw.PackagePath,
	}, nil
}

func convertHealthCheck(raw rawHealthCheck) (model.HealthCheck, error) {
	interval, err := time.ParseDuration(raw.Interval)
	if err != nil {
		return model.HealthCheck{}, fmt.Errorf("health_check.interval: %w", err)
	}
	timeout, err := time.ParseDuration(raw.Timeout)
	if err != nil {
		return model.HealthCheck{}, fmt.Errorf("health_check.timeout: %w", err)
	}
	return model.HealthCheck{
		Command:  raw.Command,
		Args:     raw.Args,
		Interval: interval,
		Retries:  raw.Retries,
		Timeout:  timeout,
	}, nil
}

// convertDependencies parses "service:name" / "task:name" strings; a bare
// name (no prefix) is treated as a service dependency.
func convertDependencies(raw []string) ([]model.Dependency, error) {
	deps := make([]model.Dependency, 0, len(raw))
	for _, d := range raw {
		kind, name, err := splitDependency(d)
		if err != nil {
			return nil, err
		}
		deps = append(deps, model.Dependency{Kind: kind, Name: name})
	}
	return deps, nil
}

func splitDependency(s string) (model.DependencyKind, string, error) {
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			prefix, name := s[:i], s[i+1:]
			switch prefix {
			case "service":
				return model.DependencyService, name, nil
			case "task":
				return model.DependencyTask, name, nil
			default:
				return "", "", fmt.Errorf("dependency %q: unknown prefix %q", s, prefix)
			}
		}
	}
	return model.DependencyService, s, nil
}

// validate enforces preconditions on a converted stack.
func validate(stack model.StackConfig) error {
	for name := range stack.Services {
		if !serviceNameRe.MatchString(name) {
			return fmt.Errorf("config: invalid service name %q", name)
		}
	}
	for name := range stack.Tasks {
		if !serviceNameRe.MatchString(name) {
			return fmt.Errorf("config: invalid task name %q", name)
		}
		if _, clash := stack.Services[name]; clash {
			return fmt.Errorf("config: name %q used for both a service and a task", name)
		}
	}

	knownServices := make(map[string]bool, len(stack.Services))
	for name := range stack.Services {
		knownServices[name] = true
	}

	for name, svc := range stack.Services {
		if err := validateDependencies(stack, svc.Dependencies); err != nil {
			return fmt.Errorf("config: service %q: %w", name, err)
		}
		if err := validateEnv(svc.Target.Env, knownServices); err != nil {
			return fmt.Errorf("config: service %q: %w", name, err)
		}
	}
	for name, task := range stack.Tasks {
		if err := validateDependencies(stack, task.Dependencies); err != nil {
			return fmt.Errorf("config: task %q: %w", name, err)
		}
	}
	return nil
}

func validateDependencies(stack model.StackConfig, deps []model.Dependency) error {
	for _, d := range deps {
		switch d.Kind {
		case model.DependencyService:
			if _, ok := stack.Services[d.Name]; !ok {
				return fmt.Errorf("dependency on undefined service %q", d.Name)
			}
		case model.DependencyTask:
			if _, ok := stack.Tasks[d.Name]; !ok {
				return fmt.Errorf("dependency on undefined task %q", d.Name)
			}
		}
	}
	return nil
}

func validateEnv(env map[string]string, knownServices map[string]bool) error {
	for name, value := range env {
		if !envNameRe.MatchString(name) {
			return fmt.Errorf("invalid env var name %q", name)
		}
		if err := resolver.Validate(value, knownServices); err != nil {
			return fmt.Errorf("env %q: %w", name, err)
		}
	}
	return nil
}
