package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"bitbucket.org/mmdatafocus/notification_backend/config"
	"bitbucket.org/mmdatafocus/notification_backend/models"
	"bitbucket.org/mmdatafocus/notification_backend/workflow"
)

func main() {
	olderThan := flag.Duration("older-than", time.Hour, "Only records left queued for at least this long.")
	fallbackOnly := flag.Bool("fallback-only", true, "Only records that never reached the queue (no work id).")
	limit := flag.Int("limit", 500, "Max records per run (0 = no limit).")
	apply := flag.Bool("apply", false, "Mark matched records failed. Without it the sweep is a dry run.")
	flag.Parse()

	ctx := context.Background()
	logger := config.GetLogger()
	db, err := config.ConnectDatabaseWithRetry(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "database: %v\n", err)
		os.Exit(1)
	}

	res, err := workflow.SweepStaleDispatches(ctx, models.NewDispatchRepository(db), logger, time.Now(), workflow.SweepOptions{
		OlderThan:    *olderThan,
		FallbackOnly: *fallbackOnly,
		Limit:        *limit,
		DryRun:       !*apply,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "sweep: %v\n", err)
		os.Exit(1)
	}

	for _, rec := range res.Matched {
		fmt.Printf("dispatch=%d event=%s channel=%s recipient_type=%s queued_since=%s\n",
			rec.ID, rec.Event, rec.Channel, rec.RecipientType, rec.UpdatedAt.UTC().Format(time.RFC3339))
	}
	if !*apply {
		fmt.Printf("dry run: %d stale dispatches older than %s (cutoff %s); rerun with -apply to mark them failed\n",
			len(res.Matched), *olderThan, res.Cutoff.UTC().Format(time.RFC3339))
		return
	}
	fmt.Printf("marked failed=%d skipped=%d (cutoff %s)\n", res.Failed, res.Skipped, res.Cutoff.UTC().Format(time.RFC3339))
}
