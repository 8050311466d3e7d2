package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cbmoss/linksentry/internal/api"
	"github.com/cbmoss/linksentry/internal/clock/system"
	"github.com/cbmoss/linksentry/internal/config"
	"github.com/cbmoss/linksentry/internal/crawl"
	uuidgen "github.com/cbmoss/linksentry/internal/id/uuid"
	"github.com/cbmoss/linksentry/internal/logging"
	"github.com/cbmoss/linksentry/internal/progress"
	progsinks "github.com/cbmoss/linksentry/internal/progress/sinks"
	pubsubpub "github.com/cbmoss/linksentry/internal/publisher/pubsub"
	"github.com/cbmoss/linksentry/internal/rules"
	"github.com/cbmoss/linksentry/internal/scheduler"
	"github.com/cbmoss/linksentry/internal/storage/postgres"
	"github.com/cbmoss/linksentry/internal/worker"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server, worker pool, scheduler and reaper",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := system.New()
	ids := uuidgen.New()

	store, err := postgres.NewStore(ctx, cfg.DB.DSN, clock)
	if err != nil {
		return err
	}
	defer store.Close()

	svc := rules.NewService(store, store, clock, ids, logger)

	hub, err := buildHub(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := hub.Close(closeCtx); err != nil {
			logger.Warn("progress hub close failed", zap.Error(err))
		}
	}()

	fetcher := crawl.NewCollyFetcher(crawl.FetcherConfig{
		UserAgent: cfg.Crawl.UserAgent,
		Timeout:   cfg.FetchTimeout(),
	})
	engine := crawl.NewEngine(fetcher, store, store, svc, clock, hub, logger, crawl.Config{
		MaxPages:           cfg.Crawl.MaxPages,
		ProgressFlushPages: cfg.Crawl.ProgressFlushPages,
	})

	pool := worker.NewPool(cfg.Queue.Workers, store, store, engine, clock, hub, logger, worker.Config{
		PollInterval: cfg.PollInterval(),
		Lease:        cfg.Lease(),
	})
	reaper := worker.NewReaper(store, store, clock, cfg.ReaperInterval(), logger)
	sched := scheduler.New(store, store, store, clock, ids, logger, scheduler.Config{
		TickInterval: cfg.TickInterval(),
		Cooldown:     cfg.Cooldown(),
		BatchSize:    cfg.Scheduler.MaxSitesPerTick,
		MaxAttempts:  cfg.Queue.MaxAttempts,
	})

	srv := api.NewServer(store, store, store, store, store, svc, clock, ids, store, logger, api.Config{
		MaxAttempts: cfg.Queue.MaxAttempts,
	})
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	pool.Start(ctx)
	go reaper.Run(ctx)
	go sched.Run(ctx)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("linksentry serving",
		zap.Int("port", cfg.Server.Port),
		zap.Int("workers", cfg.Queue.Workers),
	)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}

	pool.Wait()
	logger.Info("linksentry stopped")
	return nil
}

// buildHub assembles the progress hub with the log and prometheus sinks,
// plus the pubsub notifier when a topic is configured.
func buildHub(ctx context.Context, cfg config.Config, logger *zap.Logger) (*progress.Hub, error) {
	sinks := []progress.Sink{progsinks.NewLogSink(logger)}

	promSink, err := progsinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, fmt.Errorf("register prometheus sink: %w", err)
	}
	sinks = append(sinks, promSink)

	if cfg.PubSub.TopicName != "" {
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("create pubsub client: %w", err)
		}
		publisher := pubsubpub.New(client.Publisher(cfg.PubSub.TopicName))
		sinks = append(sinks, progsinks.NewNotifierSink(publisher, cfg.PubSub.TopicName, logger))
	}

	return progress.NewHub(progress.Config{Logger: logger}, sinks...), nil
}
