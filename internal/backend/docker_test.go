package backend

import (
	"testing"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/require"
)

func TestContainerName_UsesOrchestratorPrefix(t *testing.T) {
	require.Equal(t, "orchestrator-postgres", containerName("postgres"))
}

func TestBuildPortSpecs_OneToOneHostBinding(t *testing.T) {
	r := require.New(t)
	exposed, bindings := buildPortSpecs([]uint16{5432, 6379})

	r.Contains(exposed, nat.Port("5432/tcp"))
	r.Contains(exposed, nat.Port("6379/tcp"))
	r.Equal("5432", bindings[nat.Port("5432/tcp")][0].HostPort)
	r.Equal("6379", bindings[nat.Port("6379/tcp")][0].HostPort)
}

func TestEndpointsFromInspect_FallsBackToContainerIPWhenHostIPUnset(t *testing.T) {
	r := require.New(t)
	inspect := container.InspectResponse{
		NetworkSettings: &container.NetworkSettings{
			DefaultNetworkSettings: container.DefaultNetworkSettings{IPAddress: "172.18.0.5"},
			NetworkSettingsBase: container.NetworkSettingsBase{
				Ports: nat.PortMap{
					nat.Port("5432/tcp"): []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: "5432"}},
				},
			},
		},
	}

	endpoints := endpointsFromInspect(inspect)
	r.Len(endpoints, 1)
	r.Equal("5432", endpoints[0].Name)
	r.Equal("172.18.0.5:5432", endpoints[0].Address)
}

func TestEndpointsFromInspect_NoNetworkSettingsReturnsEmpty(t *testing.T) {
	r := require.New(t)
	r.Empty(endpointsFromInspect(container.InspectResponse{}))
}
