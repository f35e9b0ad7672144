package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"property-scraper/browser"
	"property-scraper/config"
	"property-scraper/models"
	"property-scraper/scrape"
	"property-scraper/server"
	"property-scraper/services"
	"property-scraper/storage"
	"property-scraper/utils"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "property-scraper",
		Short:         "Resumable property listing harvester",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newScrapeCmd(), newServeCmd())
	return root
}

func newScrapeCmd() *cobra.Command {
	var (
		mode   string
		pages  int
		export bool
	)

	cmd := &cobra.Command{
		Use:   "scrape [url...]",
		Short: "Run one scrape session per target URL and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := utils.NewLogger()
			cfg := config.Load()

			targets := args
			if len(targets) == 0 {
				targets = []string{cfg.TargetURL}
			}
			if pages > 0 {
				cfg.MaxPages = pages
			}

			logger.Info("=== Property Scraping System starting ===")
			logger.Info("Config — targets: %d | mode: %s | pages: %d | concurrency: %d | delay: %dms",
				len(targets), mode, cfg.MaxPages, cfg.MaxConcurrency, cfg.DelayBetweenPages)

			store, err := storage.NewPostgresStore(cfg.DSN(), logger)
			if err != nil {
				logger.Error("Failed to connect to PostgreSQL: %v", err)
				logger.Error("Make sure Docker is running: docker compose up -d")
				return err
			}
			defer store.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sink := scrape.LoggerSink{Logger: logger}

			var (
				mu     sync.Mutex
				total  models.BatchStats
				runErr error
			)

			pool := utils.NewWorkerPool(cfg.MaxConcurrency, cfg.DelayBetweenPages)
			for _, target := range targets {
				target := target
				pool.Submit(func() {
					stats, err := runSession(ctx, cfg, logger, store, target, mode, uuid.NewString(), sink)

					mu.Lock()
					defer mu.Unlock()
					total.Add(stats)
					if err != nil && runErr == nil {
						runErr = err
					}
				})
			}
			pool.Wait()

			fmt.Printf("\n  Done. scraped=%d new=%d updated=%d duplicates=%d\n\n",
				total.Total, total.Inserted, total.Updated, total.Duplicates)

			if export {
				for _, target := range targets {
					exportResults(ctx, cfg, logger, store, target)
				}
			}
			return runErr
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "dom", `extraction strategy: "dom" or "api"`)
	cmd.Flags().IntVar(&pages, "pages", 0, "max units of work per session (defaults to MAX_PAGES)")
	cmd.Flags().BoolVar(&export, "export", false, "export stored records to CSV and JSON afterwards")
	return cmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with SSE session logs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := utils.NewLogger()
			cfg := config.Load()

			store, err := storage.NewPostgresStore(cfg.DSN(), logger)
			if err != nil {
				logger.Error("Failed to connect to PostgreSQL: %v", err)
				return err
			}
			defer store.Close()

			run := func(ctx context.Context, url, mode, sessionID string, sink scrape.EventSink) error {
				_, err := runSession(ctx, cfg, logger, store, url, mode, sessionID, sink)
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := server.New(cfg.ServerAddr, run, logger)
			return srv.ListenAndServe(ctx)
		},
	}
}

// runSession wires one full session: a fresh browser context, the requested
// extraction strategy and an orchestrator over the shared store.
func runSession(
	ctx context.Context,
	cfg *config.Config,
	logger *utils.Logger,
	store *storage.PostgresStore,
	targetURL, mode, sessionID string,
	sink scrape.EventSink,
) (models.BatchStats, error) {
	page, err := browser.NewPage(cfg, logger)
	if err != nil {
		return models.BatchStats{}, fmt.Errorf("launch browser: %w", err)
	}
	defer page.Close()

	var strategy scrape.Strategy
	switch mode {
	case "api":
		client := resty.New().
			SetTimeout(time.Duration(cfg.NavigationTimeout) * time.Millisecond).
			SetRetryCount(cfg.MaxRetries)
		strategy = scrape.NewAPIReplayStrategy(page, client, targetURL,
			time.Duration(cfg.CaptureWaitMs)*time.Millisecond, logger)
	default:
		driver := scrape.NewPageDriver(page, scrape.DriverOptions{
			CardSelector:             cfg.Selectors.PropertyCard,
			PaginationSelector:       cfg.Selectors.Pagination,
			NextSelector:             cfg.Selectors.NextButton,
			MaxScrollCycles:          cfg.MaxScrollCycles,
			MaxNoNewCardTries:        cfg.MaxNoNewCardTries,
			BottomHitTriesBeforeNext: cfg.BottomHitTriesBeforeNext,
			ContentWait:              time.Duration(cfg.ContentWaitMs) * time.Millisecond,
			ClickWait:                time.Duration(cfg.ClickWaitMs) * time.Millisecond,
		}, logger)
		strategy = scrape.NewDOMStrategy(page, driver, cfg.Selectors, targetURL, logger)
	}

	orch := scrape.NewOrchestrator(
		strategy,
		services.NewNormalizer(),
		services.NewValidator(services.DefaultValidationRules(), logger),
		store,
		store,
		sink,
		logger,
		cfg.MaxPages,
		time.Duration(cfg.DelayBetweenPages)*time.Millisecond,
	)

	return orch.RunSession(ctx, targetURL, sessionID)
}

func exportResults(ctx context.Context, cfg *config.Config, logger *utils.Logger, store *storage.PostgresStore, targetURL string) {
	properties, err := store.FetchBySource(ctx, scrape.NormalizeSourceKey(targetURL))
	if err != nil {
		logger.Error("Fetch for export failed: %v", err)
		return
	}

	exporter := storage.NewExporter(cfg.ExportDir)
	if path, err := exporter.ExportCSV(properties); err != nil {
		logger.Error("CSV export failed: %v", err)
	} else {
		logger.Info("Exported %d records to %s", len(properties), path)
	}
	if path, err := exporter.ExportJSON(properties); err != nil {
		logger.Error("JSON export failed: %v", err)
	} else {
		logger.Info("Exported %d records to %s", len(properties), path)
	}
}
