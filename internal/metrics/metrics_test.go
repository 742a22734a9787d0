package metrics

import (
	"testing"

	"github.com/stacksupervisor/stacksupervisor/internal/model"
	"github.com/stacksupervisor/stacksupervisor/internal/registry"
	"github.com/stretchr/testify/require"
)

func TestRefreshCounts_ReflectsRegistrySnapshot(t *testing.T) {
	r := require.New(t)
	reg := registry.New("")
	_, err := reg.Register(model.ServiceEntry{Name: "a", State: model.StateRegistered})
	r.NoError(err)
	_, err = reg.Register(model.ServiceEntry{Name: "b", State: model.StateRegistered})
	r.NoError(err)
	_, _, err = reg.UpdateState("b", model.StateStarting)
	r.NoError(err)

	m := New()
	m.RefreshCounts(reg)

	families, err := m.Registerer().Gather()
	r.NoError(err)

	var found bool
	for _, fam := range families {
		if fam.GetName() != "stacksupervisor_services_in_state" {
			continue
		}
		found = true
		for _, metric := range fam.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "state" && label.GetValue() == "registered" {
					r.Equal(float64(1), metric.GetGauge().GetValue())
				}
			}
		}
	}
	r.True(found)
}

func TestObserveHealthFailure_IncrementsCounter(t *testing.T) {
	r := require.New(t)
	m := New()
	m.ObserveHealthFailure("api")
	m.ObserveHealthFailure("api")

	families, err := m.Registerer().Gather()
	r.NoError(err)
	for _, fam := range families {
		if fam.GetName() != "stacksupervisor_health_check_failures_total" {
			continue
		}
		r.Equal(float64(2), fam.GetMetric()[0].GetCounter().GetValue())
	}
}
