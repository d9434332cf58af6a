package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/stokehold/stoker/pkg/engine"
	"github.com/stokehold/stoker/pkg/events"
	"github.com/stokehold/stoker/pkg/health"
	"github.com/stokehold/stoker/pkg/log"
	"github.com/stokehold/stoker/pkg/metrics"
	"github.com/stokehold/stoker/pkg/reconciler"
	"github.com/stokehold/stoker/pkg/runner"
	"github.com/stokehold/stoker/pkg/scheduler"
	"github.com/stokehold/stoker/pkg/store"
	"github.com/stokehold/stoker/pkg/workspace"
)

// stopGrace bounds how long shutdown waits for in-flight supervision.
// Training runs can take hours; past the grace the worker exits and the
// next start re-attaches the still-running containers.
const stopGrace = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the worker process",
	Long: `Run the worker: recover jobs from a previous process, then poll the
queue and execute jobs until interrupted.

The worker needs the shared store, the data directory, and a reachable
container engine. It starts without the engine and logs a warning; jobs
fail individually until the engine becomes reachable.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := log.WithComponent("serve")
	metrics.SetVersion(Version)

	ctx := context.Background()
	st, err := store.Open(ctx, cfg.StoreURL)
	if err != nil {
		return fmt.Errorf("failed to open store at %s: %w", cfg.StoreURL, err)
	}
	defer st.Close()

	ws := workspace.New(cfg.DataDir, cfg.HostDataDir)
	if err := ws.EnsureLayout(); err != nil {
		return err
	}

	eng := engine.New(cfg.DockerHost)
	defer eng.Close()
	if err := eng.Connect(ctx); err != nil {
		logger.Warn().Err(err).Msg("Worker starting but the container engine is not available, jobs will fail until it is reachable")
	}

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	sink := broker.Subscribe()
	sinkDone := startEventSink(sink)
	defer func() {
		broker.Unsubscribe(sink)
		<-sinkDone
	}()

	run := runner.New(st, eng, ws, broker)
	sched := scheduler.New(st, eng, run, broker, scheduler.Config{
		PollInterval: cfg.PollInterval,
		BusyDelay:    cfg.BusyDelay,
	})
	rec := reconciler.New(st, eng, sched, broker, cfg.ReconcileInterval)

	monitor := health.NewMonitor(health.DefaultConfig(),
		health.NewStoreChecker(st),
		health.NewEngineChecker(eng),
	)
	monitor.Start()
	defer monitor.Stop()

	collector := metrics.NewCollector(st)
	collector.Start()
	defer collector.Stop()

	if cfg.MetricsAddr != "" {
		msrv := metrics.NewServer(cfg.MetricsAddr)
		msrv.Start()
		defer msrv.Stop()
	}

	// Settle whatever the previous process left running before taking
	// new work.
	if err := sched.Recover(ctx); err != nil {
		return fmt.Errorf("startup recovery failed: %w", err)
	}

	sched.Start()
	rec.Start()
	broker.Publish(&events.Event{Type: events.EventWorkerUp, Message: Version})

	logger.Info().
		Str("version", Version).
		Str("store_url", cfg.StoreURL).
		Str("data_dir", cfg.DataDir).
		Str("metrics_addr", cfg.MetricsAddr).
		Msg("Worker started, polling for jobs")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Info().Msg("Shutting down")
	broker.Publish(&events.Event{Type: events.EventWorkerDown})

	rec.Stop()

	stopped := make(chan struct{})
	go func() {
		sched.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
		logger.Info().Msg("Worker stopped")
	case <-time.After(stopGrace):
		logger.Warn().Msg("Supervision still in flight, exiting; running containers will be re-attached on next start")
	}
	return nil
}

// startEventSink logs every event on sub until the subscription is
// closed; the returned channel closes when the sink drains.
func startEventSink(sub events.Subscriber) <-chan struct{} {
	logger := log.WithComponent("events")
	done := make(chan struct{})

	go func() {
		defer close(done)
		for ev := range sub {
			logger.Info().
				Str("type", string(ev.Type)).
				Str("job_id", ev.JobID).
				Str("message", ev.Message).
				Msg("Event")
		}
	}()
	return done
}
