package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/stokehold/stoker/pkg/types"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs, newest first",
	RunE:  runList,
}

var showCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show one job in detail",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a job",
	Long: `Cancel a job. Pending jobs leave the queue immediately; running jobs
get their container stopped. Cancelling an already finished job is a no-op.`,
	Args: cobra.ExactArgs(1),
	RunE: runCancel,
}

var logsCmd = &cobra.Command{
	Use:   "logs <job-id>",
	Short: "Print a job's log output",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogs,
}

var downloadCmd = &cobra.Command{
	Use:   "download <job-id>",
	Short: "Download a job's outputs as a zip archive",
	Args:  cobra.ExactArgs(1),
	RunE:  runDownload,
}

func init() {
	logsCmd.Flags().IntP("tail", "n", 0, "Only print the last N lines (0 = all)")
	logsCmd.Flags().BoolP("follow", "f", false, "Stream new output until the job finishes")
	downloadCmd.Flags().StringP("output", "o", "", "Archive path (default: <job-id>-outputs.zip)")
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	env, err := openProducer(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	jobs, err := env.producer.List(ctx)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Println("No jobs submitted yet")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tRESOURCE\tSTATUS\tCREATED\tDURATION")
	for _, job := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			job.ID, job.Name, job.Resource, job.Status,
			job.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			jobDuration(job))
	}
	return tw.Flush()
}

func runShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	env, err := openProducer(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	job, err := env.producer.Get(ctx, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("ID:         %s\n", job.ID)
	fmt.Printf("Name:       %s\n", job.Name)
	fmt.Printf("Resource:   %s\n", job.Resource)
	fmt.Printf("Image:      %s\n", job.Image)
	fmt.Printf("Status:     %s\n", job.Status)
	fmt.Printf("Created:    %s\n", fmtTime(&job.CreatedAt))
	fmt.Printf("Started:    %s\n", fmtTime(job.StartedAt))
	fmt.Printf("Completed:  %s\n", fmtTime(job.CompletedAt))
	fmt.Printf("Duration:   %s\n", jobDuration(job))
	if job.ContainerID != "" {
		fmt.Printf("Container:  %s\n", job.ContainerID)
	}
	if job.Error != "" {
		fmt.Printf("Error:      %s\n", job.Error)
	}
	return nil
}

func runCancel(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	env, err := openProducer(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	if err := env.producer.Cancel(ctx, args[0]); err != nil {
		return err
	}
	job, err := env.producer.Get(ctx, args[0])
	if err != nil {
		return err
	}
	if job.Status == types.JobStatusCancelled {
		fmt.Printf("✓ Job cancelled: %s\n", job.ID)
	} else {
		fmt.Printf("Job %s already %s, nothing to cancel\n", job.ID, job.Status)
	}
	return nil
}

func runLogs(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	env, err := openProducer(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	// Resolve the ID up front so a typo reports "job not found" instead of
	// an empty log.
	job, err := env.producer.Get(ctx, args[0])
	if err != nil {
		return err
	}

	if follow, _ := cmd.Flags().GetBool("follow"); follow {
		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()
		err := env.producer.FollowLogs(ctx, job.ID, os.Stdout)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	tail, _ := cmd.Flags().GetInt("tail")
	data, err := env.producer.Logs(job.ID, tail)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}

func runDownload(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	env, err := openProducer(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	job, err := env.producer.Get(ctx, args[0])
	if err != nil {
		return err
	}

	out, _ := cmd.Flags().GetString("output")
	if out == "" {
		out = job.ID + "-outputs.zip"
	}
	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", out, err)
	}
	if err := env.producer.ArchiveOutputs(job.ID, f); err != nil {
		f.Close()
		os.Remove(out)
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Printf("✓ Outputs written to %s\n", out)
	return nil
}

// jobDuration renders the run span: completed jobs report start to finish,
// running jobs report elapsed time so far.
func jobDuration(job *types.Job) string {
	if job.StartedAt == nil {
		return "-"
	}
	end := time.Now()
	if job.CompletedAt != nil {
		end = *job.CompletedAt
	}
	d := end.Sub(*job.StartedAt).Round(time.Second)
	if d < 0 {
		d = 0
	}
	return d.String()
}

func fmtTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
