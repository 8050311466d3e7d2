package cmd

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cbmoss/linksentry/internal/clock/system"
	"github.com/cbmoss/linksentry/internal/config"
	uuidgen "github.com/cbmoss/linksentry/internal/id/uuid"
	"github.com/cbmoss/linksentry/internal/linkscan"
	"github.com/cbmoss/linksentry/internal/storage/postgres"
)

func newEnqueueCmd() *cobra.Command {
	var (
		siteArg string
		count   int
	)

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Enqueue test scan jobs for a site",
		Long: `Creates N queued run+job pairs for the given site, bypassing the
scheduler guards. Useful for exercising the worker pool.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runEnqueue(cmd, siteArg, count)
		},
	}
	cmd.Flags().StringVar(&siteArg, "site", "", "site id (required)")
	cmd.Flags().IntVarP(&count, "count", "n", 1, "number of jobs to enqueue")
	_ = cmd.MarkFlagRequired("site")
	return cmd
}

func runEnqueue(cmd *cobra.Command, siteArg string, count int) error {
	siteID, err := uuid.Parse(siteArg)
	if err != nil {
		return fmt.Errorf("invalid site id: %w", err)
	}
	if count <= 0 {
		return fmt.Errorf("count must be > 0")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	clock := system.New()
	ids := uuidgen.New()

	store, err := postgres.NewStore(ctx, cfg.DB.DSN, clock)
	if err != nil {
		return err
	}
	defer store.Close()

	site, err := store.GetSite(ctx, siteID)
	if err != nil {
		return fmt.Errorf("load site: %w", err)
	}

	out := cmd.OutOrStdout()
	for i := 0; i < count; i++ {
		run := linkscan.ScanRun{
			ID:       ids.NewID(),
			SiteID:   siteID,
			Status:   linkscan.RunStatusQueued,
			StartURL: site.URL,
		}
		if err := store.CreateRun(ctx, run); err != nil {
			return fmt.Errorf("create run: %w", err)
		}
		job := linkscan.ScanJob{
			ID:          ids.NewID(),
			SiteID:      siteID,
			RunID:       run.ID,
			Status:      linkscan.JobStatusQueued,
			MaxAttempts: cfg.Queue.MaxAttempts,
			RunAt:       clock.Now(),
			CreatedAt:   clock.Now(),
		}
		if err := store.Enqueue(ctx, job); err != nil {
			return fmt.Errorf("enqueue job: %w", err)
		}
		fmt.Fprintf(out, "enqueued job %s (run %s)\n", job.ID, run.ID)
	}
	return nil
}
