// Package health runs the per-service probe loop: periodic exec of a
// configured check command, exit code mapped to a health state, and that
// state reflected into the registry. It never restarts anything itself --
// restart/recovery is a separate controller's job.
package health

import (
	"context"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/stacksupervisor/stacksupervisor/internal/eventbus"
	"github.com/stacksupervisor/stacksupervisor/internal/logging"
	"github.com/stacksupervisor/stacksupervisor/internal/metrics"
	"github.com/stacksupervisor/stacksupervisor/internal/model"
	"github.com/stacksupervisor/stacksupervisor/internal/registry"
)

// recoveryThreshold caps how many consecutive failures trigger a
// (simulated) recovery event; the counter resets once it fires.
const recoveryThreshold = 3

// RecoveryEvent is emitted when a service's consecutive failure count
// reaches recoveryThreshold. Recovery itself (e.g. restarting the service)
// is simulated here and left to an external controller.
type RecoveryEvent struct {
	Service string
	At      time.Time
}

// Monitor runs one probe loop per watched service.
type Monitor struct {
	reg *registry.Registry
	bus *eventbus.Bus
	log *slog.Logger

	onRecovery func(RecoveryEvent)
	metrics    *metrics.Registry

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func New(reg *registry.Registry, bus *eventbus.Bus, onRecovery func(RecoveryEvent)) *Monitor {
	return &Monitor{
		reg:        reg,
		bus:        bus,
		log:        logging.With("health"),
		onRecovery: onRecovery,
		cancels:    map[string]context.CancelFunc{},
	}
}

// WithMetrics attaches a metrics registry that every probe failure is
// reported to.
func (m *Monitor) WithMetrics(reg *metrics.Registry) *Monitor {
	m.metrics = reg
	return m
}

// Watch starts the probe loop for service under check, running until ctx
// is canceled or Stop(service) is called. Calling Watch again for a
// service already being watched replaces its loop.
func (m *Monitor) Watch(ctx context.Context, service string, check model.HealthCheck) {
	loopCtx, cancel := context.WithCancel(ctx)

	m.mu.Lock()
	if existing, ok := m.cancels[service]; ok {
		existing()
	}
	m.cancels[service] = cancel
	m.mu.Unlock()

	go m.loop(loopCtx, service, check)
}

// Stop cancels service's probe loop, if any. A per-service cancellation
// token, not a single shared one, so stopping one service's monitor never
// affects another's.
func (m *Monitor) Stop(service string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cancel, ok := m.cancels[service]; ok {
		cancel()
		delete(m.cancels, service)
	}
}

func (m *Monitor) loop(ctx context.Context, service string, check model.HealthCheck) {
	log := m.log.With("service", service)
	consecutiveFailures := 0

	for {
		select {
		case <-ctx.Done():
			log.Debug("health loop stopped")
			return
		default:
		}

		err := m.probe(ctx, check)
		if err == nil {
			if consecutiveFailures > 0 {
				log.Info("health probe recovered", "after_failures", consecutiveFailures)
			}
			consecutiveFailures = 0
			m.transition(service, model.StateRunning)
		} else {
			consecutiveFailures++
			log.Warn("health probe failed", "consecutive_failures", consecutiveFailures, "error", err)
			if m.metrics != nil {
				m.metrics.ObserveHealthFailure(service)
			}

			if consecutiveFailures >= check.Retries {
				m.transition(service, model.StateFailed)
			}
			if consecutiveFailures >= recoveryThreshold {
				if m.onRecovery != nil {
					m.onRecovery(RecoveryEvent{Service: service, At: time.Now()})
				}
				consecutiveFailures = 0
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(check.Interval):
		}
	}
}

// probe runs check.Command/Args with check.Timeout, terminating it if the
// timeout elapses, and reports a HealthTimeoutError or the probe's own
// non-zero exit as failure.
func (m *Monitor) probe(ctx context.Context, check model.HealthCheck) error {
	probeCtx := ctx
	var cancel context.CancelFunc
	if check.Timeout > 0 {
		probeCtx, cancel = context.WithTimeout(ctx, check.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(probeCtx, check.Command, check.Args...)
	err := cmd.Run()
	if probeCtx.Err() == context.DeadlineExceeded {
		return &HealthTimeoutError{Command: check.Command}
	}
	return err
}

func (m *Monitor) transition(service string, newState model.ServiceState) {
	current, err := m.reg.Get(service)
	if err != nil {
		m.log.Warn("health transition on unknown service", "service", service, "error", err)
		return
	}
	if current.State == newState {
		return
	}
	if !model.CanTransition(current.State, newState) {
		return
	}
	_, deliveries, err := m.reg.UpdateState(service, newState)
	if err != nil {
		m.log.Warn("health-driven state update rejected", "service", service, "to", newState, "error", err)
		return
	}
	m.bus.Dispatch(deliveries)
	if m.metrics != nil {
		m.metrics.ObserveStateChange(newState)
	}
}

// HealthTimeoutError reports a probe invocation that exceeded its
// configured timeout; it counts as one failure toward HealthCheck.Retries.
type HealthTimeoutError struct {
	Command string
}

func (e *HealthTimeoutError) Error() string {
	return "health probe timed out: " + e.Command
}
