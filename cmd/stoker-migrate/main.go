// Command stoker-migrate copies queue state between stores, typically from
// an embedded Bolt file to a shared Redis when a single-host setup grows
// into a multi-worker one.
//
// Usage:
//
//	stoker-migrate --from bolt:///var/lib/stoker/stoker.db --to redis://queue-host:6379
//
// The source is never modified. Job records, the pending queue order,
// resource leases, and container mappings are copied in that order; run
// with --dry-run first to see the inventory.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/stokehold/stoker/pkg/store"
)

var (
	fromURL = flag.String("from", "", "Source store URL (bolt://<path>, redis://<host:port>)")
	toURL   = flag.String("to", "", "Destination store URL")
	dryRun  = flag.Bool("dry-run", false, "Show what would be migrated without making changes")
	timeout = flag.Duration("timeout", 5*time.Minute, "Overall migration deadline")
)

func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Stoker Store Migration Tool")
	log.Println("===========================")

	if *fromURL == "" || *toURL == "" {
		log.Fatal("Both --from and --to are required")
	}
	if *fromURL == *toURL {
		log.Fatal("--from and --to point at the same store")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	src, err := store.Open(ctx, *fromURL)
	if err != nil {
		log.Fatalf("Failed to open source store: %v", err)
	}
	defer src.Close()

	dst, err := store.Open(ctx, *toURL)
	if err != nil {
		log.Fatalf("Failed to open destination store: %v", err)
	}
	defer dst.Close()

	log.Printf("Source:      %s", *fromURL)
	log.Printf("Destination: %s", *toURL)
	log.Printf("Dry run:     %v", *dryRun)

	if err := migrate(ctx, src, dst, *dryRun); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	if *dryRun {
		log.Println("\nDry run completed. No changes made.")
		log.Println("Run without --dry-run to perform the migration.")
	} else {
		log.Println("\n✓ Migration completed successfully!")
		log.Println("The source store was left untouched; point workers and the CLI")
		log.Println("at the new store URL and retire the old one once verified.")
	}
}

func migrate(ctx context.Context, src, dst store.Store, dryRun bool) error {
	jobs, err := src.ListJobs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list source jobs: %w", err)
	}
	queue, err := src.PendingEntries(ctx)
	if err != nil {
		return fmt.Errorf("failed to read source queue: %w", err)
	}
	leases, err := src.ListLeases(ctx)
	if err != nil {
		return fmt.Errorf("failed to list source leases: %w", err)
	}

	log.Printf("Found %d jobs, %d queued, %d leases", len(jobs), len(queue), len(leases))

	depth, err := dst.PendingDepth(ctx)
	if err != nil {
		return fmt.Errorf("failed to inspect destination queue: %w", err)
	}
	if depth > 0 {
		log.Printf("⚠ Warning: destination queue already holds %d entries; migrated entries append after them", depth)
	}

	if dryRun {
		log.Println("\n[DRY RUN] Would perform the following operations:")
		log.Printf("1. Copy %d job records", len(jobs))
		log.Printf("2. Enqueue %d pending entries in source order", len(queue))
		log.Printf("3. Recreate %d resource leases", len(leases))
		log.Println("4. Copy container mappings for unfinished jobs")
		return nil
	}

	log.Println("\nCopying job records...")
	var copied int
	for _, job := range jobs {
		if err := dst.PutJob(ctx, job); err != nil {
			return fmt.Errorf("failed to copy job %s: %w", job.ID, err)
		}
		copied++
		if copied%50 == 0 {
			log.Printf("  Copied %d/%d...", copied, len(jobs))
		}
	}
	log.Printf("✓ Copied %d job records", copied)

	// Queue order matters: entries go in head to tail so dispatch order
	// survives the move.
	for _, id := range queue {
		if err := dst.EnqueuePending(ctx, id); err != nil {
			return fmt.Errorf("failed to enqueue %s: %w", id, err)
		}
	}
	log.Printf("✓ Enqueued %d pending entries", len(queue))

	for resource, jobID := range leases {
		acquired, err := dst.AcquireResource(ctx, resource, jobID)
		if err != nil {
			return fmt.Errorf("failed to recreate lease %s: %w", resource, err)
		}
		if !acquired {
			holder, _ := dst.ResourceHolder(ctx, resource)
			log.Printf("⚠ Warning: %s already leased to %s on destination, skipping lease for %s", resource, holder, jobID)
		}
	}
	log.Printf("✓ Recreated %d resource leases", len(leases))

	// Container mappings only matter for jobs a worker may still re-attach
	// to; terminal jobs have had theirs cleaned up already.
	var mappings int
	for _, job := range jobs {
		if job.Status.Terminal() {
			continue
		}
		containerID, err := src.GetContainer(ctx, job.ID)
		if err != nil {
			return fmt.Errorf("failed to read container mapping for %s: %w", job.ID, err)
		}
		if containerID == "" {
			continue
		}
		if err := dst.SetContainer(ctx, job.ID, containerID); err != nil {
			return fmt.Errorf("failed to copy container mapping for %s: %w", job.ID, err)
		}
		mappings++
	}
	log.Printf("✓ Copied %d container mappings", mappings)

	return nil
}
