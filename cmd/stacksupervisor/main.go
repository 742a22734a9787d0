package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/stacksupervisor/stacksupervisor/internal/backend"
	"github.com/stacksupervisor/stacksupervisor/internal/backend/dockerutil"
	"github.com/stacksupervisor/stacksupervisor/internal/config"
	"github.com/stacksupervisor/stacksupervisor/internal/eventbus"
	"github.com/stacksupervisor/stacksupervisor/internal/health"
	"github.com/stacksupervisor/stacksupervisor/internal/logging"
	"github.com/stacksupervisor/stacksupervisor/internal/metrics"
	"github.com/stacksupervisor/stacksupervisor/internal/model"
	"github.com/stacksupervisor/stacksupervisor/internal/orchestrator"
	"github.com/stacksupervisor/stacksupervisor/internal/registry"
	"github.com/stacksupervisor/stacksupervisor/internal/rootctx"
	"github.com/stacksupervisor/stacksupervisor/internal/tracker"
)

var (
	configFlag      string
	registryFlag    string
	logLevelFlag    string
	metricsAddrFlag string
)

var rootCmd = &cobra.Command{
	Use:   "stacksupervisor",
	Short: "Dependency-driven supervisor for mixed process/container/remote stacks",
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Resolve a stack's dependency graph and bring every service and task up",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runUp()
	},
}

var psCmd = &cobra.Command{
	Use:   "ps",
	Short: "List the services recorded in a persisted registry file",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPs()
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Parse and validate a stack config without running it",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate()
	},
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "stack.yaml", "path to the stack config file")
	rootCmd.PersistentFlags().StringVar(&registryFlag, "registry", "registry.json", "path to the persisted registry file")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "info", "trace, debug, info, warn or error")
	upCmd.Flags().StringVar(&metricsAddrFlag, "metrics-addr", "", "if set, serve Prometheus metrics on this address (e.g. :9090) while the stack runs")

	rootCmd.AddCommand(upCmd, psCmd, validateCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runValidate() error {
	logging.Configure(logLevelFlag)
	stack, err := config.Load(configFlag)
	if err != nil {
		return err
	}
	color.Green("%s is valid: %d service(s), %d task(s)", configFlag, len(stack.Services), len(stack.Tasks))
	return nil
}

func runUp() error {
	logging.Configure(logLevelFlag)
	stack, err := config.Load(configFlag)
	if err != nil {
		return fmt.Errorf("loading stack config: %w", err)
	}

	reg := registry.New(registryFlag)
	bus := eventbus.New()
	met := metrics.New()

	backends := buildBackends()
	mon := health.New(reg, bus, func(evt health.RecoveryEvent) {
		color.Yellow("recovery threshold reached for %s", evt.Service)
	})
	mon.WithMetrics(met)

	orc := orchestrator.New(reg, bus, mon, backends, nil)
	orc.WithTracker(tracker.New(10))
	orc.WithMetrics(met)

	if metricsAddrFlag != "" {
		serveMetrics(met, metricsAddrFlag)
	}

	runErr := orc.Execute(rootctx.Get(), stack)
	if persistErr := reg.Persist(); persistErr != nil {
		color.Yellow("warning: failed to persist registry: %v", persistErr)
	}
	if runErr != nil {
		color.Red("stack %q failed: %v", stack.Name, runErr)
		return runErr
	}

	printSummary(orc, stack.Name)
	return nil
}

func runPs() error {
	logging.Configure(logLevelFlag)
	reg := registry.New("")
	reg.Load(registryFlag)

	for _, entry := range reg.List() {
		printServiceState(entry.Name, entry.State)
	}
	return nil
}

func printSummary(orc *orchestrator.Orchestrator, stackName string) {
	summary, ok := orc.Tracker.Summary()
	if !ok {
		return
	}
	color.Cyan("stack %q: %s (%s)", stackName, summary.Status, summary.Duration)
	fmt.Printf("  services: %d healthy, %d failed, %d total\n", summary.HealthyCount, summary.FailedCount, summary.TotalServices)
	fmt.Printf("  tasks:    %d/%d completed\n", summary.CompletedTasks, summary.TotalTasks)

	for _, svc := range orc.Tracker.Services(tracker.AnyService()) {
		printServiceState(svc.Name, svc.State)
	}
}

func printServiceState(name string, state model.ServiceState) {
	switch state {
	case model.StateRunning:
		color.Green("  %-24s %s", name, state)
	case model.StateFailed:
		color.Red("  %-24s %s", name, state)
	case model.StateStarting:
		color.Yellow("  %-24s %s", name, state)
	default:
		fmt.Printf("  %-24s %s\n", name, state)
	}
}

// serveMetrics starts a background /metrics endpoint over met's registry.
// Errors after startup (port already in use, etc.) are logged, not fatal --
// a stack should still come up without its metrics being scraped.
func serveMetrics(met *metrics.Registry, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(met.Registerer(), promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.With("cli").Warn("metrics server stopped", "error", err)
		}
	}()
	logging.With("cli").Info("serving metrics", "addr", addr)
}

// buildBackends wires one backend per model.TargetKind. The Docker backend
// is left out rather than failing startup when no daemon is reachable, so a
// process-only stack never needs a Docker daemon to come up; the remote
// backend is always present and only opens SSH when a remote target launches.
func buildBackends() map[model.TargetKind]backend.Backend {
	backends := map[model.TargetKind]backend.Backend{
		model.TargetProcess:       backend.NewLocalBackend(),
		model.TargetDockerAttach:  &backend.DockerAttachBackend{},
		model.TargetProcessAttach: &backend.ProcessAttachBackend{},
		model.TargetRemote:        backend.NewRemoteBackend(nil),
	}

	if cli, err := dockerutil.Client(); err != nil {
		logging.With("cli").Warn("docker unavailable, docker-backed services will fail to launch", "error", err)
	} else {
		backends[model.TargetDocker] = backend.NewDockerBackend(cli)
	}

	return backends
}
