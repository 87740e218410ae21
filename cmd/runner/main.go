// Command runner is the turbulence engine's CLI driver: `run` executes a
// scenario set against a SUT and writes artifacts to a storage root; `replay`
// streams one already-recorded instance's steps back out as live-style JSON
// lines. Flag parsing and the signal-driven Start/Stop lifecycle follow the
// teacher's cmd/appserver pattern.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/r3e-network/turbulence/internal/app"
	"github.com/r3e-network/turbulence/internal/config"
	"github.com/r3e-network/turbulence/internal/domain"
	"github.com/r3e-network/turbulence/internal/live"
	"github.com/r3e-network/turbulence/internal/logging"
	"github.com/r3e-network/turbulence/internal/scheduler"
	"github.com/r3e-network/turbulence/internal/store"
	"github.com/r3e-network/turbulence/internal/turbulence"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: runner <run|replay> [flags]")
		os.Exit(2)
	}

	var code int
	switch os.Args[1] {
	case "run":
		code = runCmd(os.Args[2:])
	case "replay":
		code = replayCmd(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q (want run|replay)\n", os.Args[1])
		code = 2
	}
	os.Exit(code)
}

func runCmd(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	sutPath := fs.String("sut", "", "path to the SUT declaration YAML")
	scenariosPath := fs.String("scenarios", "", "path to the scenarios YAML")
	instanceTarget := fs.Int("n", 10, "number of scenario instances to run")
	parallelism := fs.Int("p", 0, "max concurrent instances (defaults to engine config)")
	seed := fs.Int64("seed", 0, "run seed; determines turbulence and per-instance nonces")
	storageRoot := fs.String("storage-root", "", "artifact storage root (defaults to engine config)")
	passRateThreshold := fs.Float64("pass-rate-threshold", 0, "exit 2 if the run's pass rate falls below this (0 disables)")
	envFile := fs.String("env", "", "optional .env file to load")

	latencyProb := fs.Float64("turbulence-latency-probability", 0, "probability [0,1] of injected latency per step")
	latencyMinMS := fs.Float64("turbulence-latency-min-ms", 0, "minimum injected latency in ms")
	latencyMaxMS := fs.Float64("turbulence-latency-max-ms", 0, "maximum injected latency in ms")
	timeoutProb := fs.Float64("turbulence-timeout-probability", 0, "probability [0,1] of a forced timeout per step")
	forcedTimeoutMS := fs.Float64("turbulence-forced-timeout-ms", 0, "forced timeout duration in ms")
	retryStormProb := fs.Float64("turbulence-retry-storm-probability", 0, "probability [0,1] of a simulated retry storm per step")
	retryStormMin := fs.Int("turbulence-retry-storm-min", 0, "minimum extra invocations in a retry storm")
	retryStormMax := fs.Int("turbulence-retry-storm-max", 0, "maximum extra invocations in a retry storm")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	if strings.TrimSpace(*sutPath) == "" || strings.TrimSpace(*scenariosPath) == "" {
		fmt.Fprintln(os.Stderr, "run: -sut and -scenarios are required")
		return 2
	}

	cfg, err := config.LoadEnv(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 1
	}
	if *storageRoot != "" {
		cfg.StoreDir = *storageRoot
	}

	log := logging.New("runner", logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	sutData, err := os.ReadFile(*sutPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read sut: %v\n", err)
		return 1
	}
	sut, err := config.LoadSUT(sutData)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load sut: %v\n", err)
		return 1
	}

	scenariosData, err := os.ReadFile(*scenariosPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read scenarios: %v\n", err)
		return 1
	}
	scenarios, err := loadScenarios(scenariosData, sut)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load scenarios: %v\n", err)
		return 1
	}

	policy := turbulence.Policy{
		LatencyProbability:    *latencyProb,
		LatencyMinMS:          *latencyMinMS,
		LatencyMaxMS:          *latencyMaxMS,
		TimeoutProbability:    *timeoutProb,
		ForcedTimeoutMS:       *forcedTimeoutMS,
		RetryStormProbability: *retryStormProb,
		RetryStormMin:         *retryStormMin,
		RetryStormMax:         *retryStormMax,
	}

	runID := fmt.Sprintf("run-%d", seedOrClock(*seed))

	application, err := app.New(runID, app.Options{RunConfig: cfg, SUT: sut, Policy: policy}, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "initialise application: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "start application: %v\n", err)
		return 1
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received, cancelling run")
		cancel()
	}()

	parallel := *parallelism
	if parallel <= 0 {
		parallel = cfg.DefaultParallel
	}

	summary, runErr := application.Scheduler.Run(ctx, runID, scheduler.Config{
		SUT:            sut,
		Scenarios:      scenarios,
		Seed:           *seed,
		Parallelism:    parallel,
		InstanceTarget: *instanceTarget,
	})

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("shutdown reported an error")
	}

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "run failed: %v\n", runErr)
		return 1
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(summary)

	if summary.TotalInstances == 0 {
		return 1
	}
	if *passRateThreshold > 0 {
		passRate := float64(summary.Passed) / float64(summary.TotalInstances)
		if passRate < *passRateThreshold {
			return 2
		}
	}
	if summary.Failed > 0 || summary.Errored > 0 {
		return 1
	}
	return 0
}

func replayCmd(args []string) int {
	fs := flag.NewFlagSet("replay", flag.ExitOnError)
	storageRoot := fs.String("storage-root", "", "artifact storage root")
	runID := fs.String("run", "", "run id to replay from")
	instanceID := fs.String("instance", "", "instance id to replay")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if strings.TrimSpace(*storageRoot) == "" || strings.TrimSpace(*runID) == "" || strings.TrimSpace(*instanceID) == "" {
		fmt.Fprintln(os.Stderr, "replay: -storage-root, -run, and -instance are required")
		return 2
	}

	st, err := store.NewFileStore(*storageRoot, *runID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open store: %v\n", err)
		return 1
	}
	defer st.Close()

	ctx := context.Background()

	instances, err := st.ReadInstances(ctx, *runID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read instances: %v\n", err)
		return 1
	}
	var target *domain.Instance
	for i := range instances {
		if instances[i].InstanceID == *instanceID {
			target = &instances[i]
			break
		}
	}
	if target == nil {
		fmt.Fprintf(os.Stderr, "instance %q not found in run %q\n", *instanceID, *runID)
		return 1
	}

	steps, err := st.ReadSteps(ctx, *runID, *instanceID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read steps: %v\n", err)
		return 1
	}

	enc := json.NewEncoder(os.Stdout)
	for _, rec := range steps {
		obs := rec.Observation
		ev := live.Event{
			Type:       "step",
			RunID:      *runID,
			InstanceID: *instanceID,
			Seq:        rec.Seq,
			Cursor:     int64(rec.Seq),
			Observation: &obs,
		}
		if err := enc.Encode(ev); err != nil {
			fmt.Fprintf(os.Stderr, "encode event: %v\n", err)
			return 1
		}
	}

	instEv := live.Event{Type: "instance", RunID: *runID, InstanceID: *instanceID, Instance: target}
	_ = enc.Encode(instEv)

	if target.Status == domain.StatusPassed {
		return 0
	}
	return 1
}

// loadScenarios parses a scenarios file as a YAML list of Scenario
// declarations and validates each against sut.
func loadScenarios(data []byte, sut domain.SUTConfig) ([]domain.Scenario, error) {
	var scenarios []domain.Scenario
	if err := yaml.Unmarshal(data, &scenarios); err != nil {
		return nil, err
	}
	for _, sc := range scenarios {
		if err := config.ValidateScenario(sc, sut); err != nil {
			return nil, err
		}
	}
	if len(scenarios) == 0 {
		return nil, fmt.Errorf("scenarios file declares no scenarios")
	}
	return scenarios, nil
}

func seedOrClock(seed int64) int64 {
	if seed != 0 {
		return seed
	}
	return time.Now().UnixNano()
}
