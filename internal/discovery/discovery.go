// Package discovery implements service discovery and configuration
// injection: turning a dependency's registered endpoints into the env
// vars its dependents expect.
package discovery

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/stacksupervisor/stacksupervisor/internal/logging"
	"github.com/stacksupervisor/stacksupervisor/internal/model"
	"github.com/stacksupervisor/stacksupervisor/internal/registry"
)

// Endpoint pairs a discovered model.Endpoint with the service that exposes
// it.
type Endpoint struct {
	ServiceName string
	Endpoint    model.Endpoint
}

// Discovery reads the registry to answer "where is X" and "what env does a
// service need given its dependencies".
type Discovery struct {
	reg *registry.Registry
}

func New(reg *registry.Registry) *Discovery {
	return &Discovery{reg: reg}
}

// ByType returns every Running service's endpoints whose name matches
// serviceType exactly, or is prefixed "{serviceType}-" (e.g. "postgres-1"
// matches type "postgres").
func (d *Discovery) ByType(serviceType string) []Endpoint {
	var out []Endpoint
	for _, svc := range d.reg.List() {
		if svc.State != model.StateRunning {
			continue
		}
		if svc.Name != serviceType && !strings.HasPrefix(svc.Name, serviceType+"-") {
			continue
		}
		for _, ep := range svc.Endpoints {
			out = append(out, Endpoint{ServiceName: svc.Name, Endpoint: ep})
		}
	}
	return out
}

// Service looks up one service by exact name.
func (d *Discovery) Service(name string) (model.ServiceEntry, bool) {
	entry, err := d.reg.Get(name)
	if err != nil {
		return model.ServiceEntry{}, false
	}
	return entry, true
}

// WaitFor polls for name to reach StateRunning, returning it once it does,
// ctx's deadline/cancellation or a failed state abort it early.
func (d *Discovery) WaitFor(ctx context.Context, name string, pollInterval time.Duration) (model.ServiceEntry, error) {
	log := logging.With("discovery").With("service", name)
	for {
		if entry, ok := d.Service(name); ok {
			if entry.State == model.StateRunning {
				return entry, nil
			}
			if entry.State == model.StateFailed {
				return model.ServiceEntry{}, fmt.Errorf("discovery: service %q failed while waiting", name)
			}
			log.Debug("service not ready yet", "state", entry.State)
		}

		select {
		case <-ctx.Done():
			return model.ServiceEntry{}, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// InjectedEnv builds the env map a service's process should receive for its
// declared service dependencies: for a dependency d's
// primary endpoint, `{UPPER(d)}_HOST`, `{UPPER(d)}_PORT`, and
// `{UPPER(d)}_endpoint`; every further endpoint contributes
// `{UPPER(d)}_{endpoint_name}_endpoint`.
func (d *Discovery) InjectedEnv(svc *model.ServiceConfig) map[string]string {
	env := map[string]string{}

	for _, dep := range svc.Dependencies {
		if dep.Kind != model.DependencyService {
			continue
		}
		entry, ok := d.Service(dep.Name)
		if !ok || len(entry.Endpoints) == 0 {
			continue
		}

		upper := strings.ToUpper(dep.Name)
		for i, ep := range entry.Endpoints {
			value := endpointURL(ep)
			if i == 0 {
				env[upper+"_endpoint"] = value
				if host, port, err := net.SplitHostPort(ep.Address); err == nil {
					env[upper+"_HOST"] = host
					env[upper+"_PORT"] = port
				}
			} else {
				env[upper+"_"+ep.Name+"_endpoint"] = value
			}
		}
	}
	return env
}

// endpointURL renders an endpoint's address with its protocol's scheme; a
// bare TCP address carries no scheme prefix.
func endpointURL(ep model.Endpoint) string {
	switch ep.Protocol {
	case model.ProtocolTCP, "":
		return ep.Address
	default:
		return fmt.Sprintf("%s://%s", ep.Protocol, ep.Address)
	}
}
