package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/stokehold/stoker/pkg/engine"
	"github.com/stokehold/stoker/pkg/events"
	"github.com/stokehold/stoker/pkg/producer"
	"github.com/stokehold/stoker/pkg/runner"
	"github.com/stokehold/stoker/pkg/scheduler"
	"github.com/stokehold/stoker/pkg/store"
	"github.com/stokehold/stoker/pkg/types"
	"github.com/stokehold/stoker/pkg/workspace"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a single job locally and wait for it",
	Long: `Submit one job and execute it in-process against the embedded Bolt
store, with no worker daemon or Redis required. The command blocks until
the container exits and then prints the tail of the job log.

Useful for trying out an archive before queueing it on a shared worker.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().String("name", "", "Job name (default: archive filename)")
	runCmd.Flags().String("resource", "cpu", "Compute slot: cpu or gpu:<n>")
	runCmd.Flags().String("image", "", "Runtime container image")
	runCmd.Flags().String("archive", "", "Path to the zipped workspace")
	runCmd.Flags().Int("tail", 20, "Log lines to print after the run")
	_ = runCmd.MarkFlagRequired("image")
	_ = runCmd.MarkFlagRequired("archive")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	ws := workspace.New(cfg.DataDir, cfg.HostDataDir)
	if err := ws.EnsureLayout(); err != nil {
		return err
	}

	// One-shot runs always use the embedded store so they work without any
	// external services, regardless of the configured store URL.
	st, err := store.Open(ctx, "bolt://"+filepath.Join(cfg.DataDir, "stoker.db"))
	if err != nil {
		return err
	}
	defer st.Close()

	eng := engine.New(cfg.DockerHost)
	defer eng.Close()
	if err := eng.Connect(ctx); err != nil {
		return fmt.Errorf("container engine not available: %w", err)
	}

	broker := events.NewBroker()
	prod := producer.New(st, eng, ws, broker, cfg.CancelGrace)
	sched := scheduler.New(st, eng, runner.New(st, eng, ws, broker), broker, scheduler.Config{})

	// A previous one-shot may have died mid-run and left a lease or queue
	// entry behind in the Bolt file; settle those first.
	if err := sched.Recover(ctx); err != nil {
		return fmt.Errorf("startup recovery failed: %w", err)
	}

	req, err := submitRequest(cmd)
	if err != nil {
		return err
	}
	job, err := prod.Submit(ctx, req)
	if err != nil {
		return err
	}
	fmt.Printf("✓ Job submitted: %s\n", job.ID)
	fmt.Printf("Running on %s...\n\n", job.Resource)

	// Drain the queue until our job has run. Leftover pending jobs from an
	// interrupted session run first, in submission order.
	for {
		dispatched, err := sched.DispatchNext(ctx)
		if err != nil {
			return err
		}
		if dispatched == nil {
			break
		}
		if dispatched.ID != job.ID {
			fmt.Printf("  (finished leftover job %s first)\n", dispatched.ID)
			continue
		}
		break
	}

	final, err := prod.Get(ctx, job.ID)
	if err != nil {
		return err
	}
	if final.Status == types.JobStatusPending {
		return fmt.Errorf("resource %s is held, is another worker sharing %s?", job.Resource, cfg.DataDir)
	}

	tail, _ := cmd.Flags().GetInt("tail")
	if data, err := prod.Logs(job.ID, tail); err == nil {
		os.Stdout.Write(data)
		fmt.Println()
	}

	if final.Status != types.JobStatusCompleted {
		fmt.Printf("✗ Job %s: %s\n", final.Status, final.Error)
		os.Exit(1)
	}
	fmt.Printf("✓ Job completed: %s\n", job.ID)
	fmt.Printf("  Outputs: %s\n", ws.OutputDir(job.ID))
	return nil
}
