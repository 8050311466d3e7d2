package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cbmoss/linksentry/internal/clock/system"
	"github.com/cbmoss/linksentry/internal/config"
	"github.com/cbmoss/linksentry/internal/crawl"
	uuidgen "github.com/cbmoss/linksentry/internal/id/uuid"
	"github.com/cbmoss/linksentry/internal/linkscan"
	"github.com/cbmoss/linksentry/internal/rules"
	"github.com/cbmoss/linksentry/internal/storage/memory"
)

func newScanCmd() *cobra.Command {
	var startURL string

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one scan synchronously against in-memory stores",
		Long: `Crawls the given URL in the foreground and prints a findings summary.
Nothing is persisted; this exists for local verification.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScan(cmd, startURL)
		},
	}
	cmd.Flags().StringVar(&startURL, "url", "", "start URL to scan (required)")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

func runScan(cmd *cobra.Command, startURL string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	clock := system.New()
	ids := uuidgen.New()
	store := memory.NewStore(clock)
	svc := rules.NewService(store, store, clock, ids, nil)

	run := linkscan.ScanRun{
		ID:       ids.NewID(),
		SiteID:   ids.NewID(),
		Status:   linkscan.RunStatusInProgress,
		StartURL: startURL,
	}
	if err := store.CreateRun(ctx, run); err != nil {
		return fmt.Errorf("create run: %w", err)
	}

	fetcher := crawl.NewCollyFetcher(crawl.FetcherConfig{
		UserAgent: cfg.Crawl.UserAgent,
		Timeout:   cfg.FetchTimeout(),
	})
	engine := crawl.NewEngine(fetcher, store, store, svc, clock, nil, nil, crawl.Config{
		MaxPages:           cfg.Crawl.MaxPages,
		ProgressFlushPages: cfg.Crawl.ProgressFlushPages,
	})

	sum, err := engine.Run(ctx, run)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "scanned %s\n", startURL)
	fmt.Fprintf(out, "pages crawled: %d\n", sum.Pages)
	fmt.Fprintf(out, "links found:   %d\n", sum.Total)
	fmt.Fprintf(out, "broken links:  %d\n", sum.Broken)

	links, err := store.AllLinks(ctx, run.ID, false)
	if err != nil {
		return fmt.Errorf("load findings: %w", err)
	}
	for _, link := range links {
		if link.State == linkscan.LinkOK {
			continue
		}
		detail := ""
		if link.StatusCode != nil {
			detail = fmt.Sprintf(" (%d)", *link.StatusCode)
		} else if link.ErrorMessage != nil {
			detail = fmt.Sprintf(" (%s)", *link.ErrorMessage)
		}
		fmt.Fprintf(out, "  %-12s %s%s\n", link.State, link.URL, detail)
	}
	return nil
}
