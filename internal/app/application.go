// Package app wires the engine's subsystems — store, scheduler, metrics,
// live channel — into one Application with a uniform Start/Stop lifecycle,
// the same shape the teacher's application.go composes its domain services
// into a system.Manager.
package app

import (
	"context"
	"net/http"

	"github.com/r3e-network/turbulence/internal/config"
	"github.com/r3e-network/turbulence/internal/live"
	"github.com/r3e-network/turbulence/internal/logging"
	"github.com/r3e-network/turbulence/internal/metrics"
	"github.com/r3e-network/turbulence/internal/runner"
	"github.com/r3e-network/turbulence/internal/runners"
	"github.com/r3e-network/turbulence/internal/scheduler"
	"github.com/r3e-network/turbulence/internal/store"
	"github.com/r3e-network/turbulence/internal/system"
	"github.com/r3e-network/turbulence/internal/turbulence"
	"github.com/r3e-network/turbulence/internal/domain"
)

// Application ties together a run's store, scheduler, live channel, and
// metrics endpoint under one lifecycle.
type Application struct {
	manager *system.Manager
	log     *logging.Logger

	Scheduler *scheduler.Scheduler
	Store     store.Store
	Live      *live.Server
	Metrics   *metrics.Recorder

	redisFanout *live.RedisFanout
}

// Options configures Application construction.
type Options struct {
	RunConfig config.RunConfig
	SUT       domain.SUTConfig
	Policy    turbulence.Policy
	Client    *http.Client
}

// New builds an Application with a FileStore rooted at opts.RunConfig.StoreDir,
// a scheduler backed by the four step runners, and the live channel, with
// Redis fanout wired in only when a Redis address is configured.
func New(runID string, opts Options, log *logging.Logger) (*Application, error) {
	if log == nil {
		log = logging.NewFromEnv("app")
	}

	st, err := store.NewFileStore(opts.RunConfig.StoreDir, runID)
	if err != nil {
		return nil, err
	}

	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}

	registry := runners.Registry{
		domain.StepHTTP:   runners.NewHTTP(opts.SUT, client),
		domain.StepWait:   runners.NewWait(opts.SUT, client),
		domain.StepAssert: runners.NewAssert(),
		domain.StepBranch: runners.NewBranch(),
	}

	rec := metrics.NewRecorder()
	rn := runner.New(registry, opts.Policy)
	sch := scheduler.New(rn, st, rec, log)

	liveSrv := live.NewServer(log)

	manager := system.NewManager()

	app := &Application{
		manager:   manager,
		log:       log,
		Scheduler: sch,
		Store:     st,
		Live:      liveSrv,
		Metrics:   rec,
	}

	bus := liveSrv.BusFor(runID)
	sch.OnObservation(func(runID, instanceID string, seq int, obs domain.Observation) {
		bus.Publish(live.Event{Type: "step", RunID: runID, InstanceID: instanceID, Seq: seq, Observation: &obs})
	})
	sch.OnInstance(func(runID string, inst domain.Instance) {
		bus.Publish(live.Event{Type: "instance", RunID: runID, InstanceID: inst.InstanceID, Instance: &inst})
	})

	if opts.RunConfig.RedisAddr != "" {
		fanout := live.NewRedisFanout(opts.RunConfig.RedisAddr, runID, log)
		bus.SetPublisher(fanout.Publish)
		app.redisFanout = fanout
	}

	if err := manager.Register(live.NewService(opts.RunConfig.LiveAddr, liveSrv, log)); err != nil {
		return nil, err
	}
	if err := manager.Register(&metricsService{addr: opts.RunConfig.MetricsAddr, rec: rec, log: log}); err != nil {
		return nil, err
	}

	return app, nil
}

// Start starts every registered subsystem (live channel, metrics).
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops every registered subsystem and closes the store and any
// Redis fanout connection.
func (a *Application) Stop(ctx context.Context) error {
	err := a.manager.Stop(ctx)
	if a.redisFanout != nil {
		_ = a.redisFanout.Close()
	}
	if closeErr := a.Store.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

// metricsService exposes the Prometheus /metrics endpoint as a
// system.Service.
type metricsService struct {
	addr   string
	rec    *metrics.Recorder
	log    *logging.Logger
	server *http.Server
}

func (m *metricsService) Name() string { return "metrics" }

func (m *metricsService) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.rec.Handler())
	m.server = &http.Server{Addr: m.addr, Handler: mux}
	go func() {
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.log.WithError(err).Error("metrics server error")
		}
	}()
	return nil
}

func (m *metricsService) Stop(ctx context.Context) error {
	if m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}
