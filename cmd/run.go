package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"cruise-scraper/config"
	"cruise-scraper/metrics"
	"cruise-scraper/models"
	"cruise-scraper/ratelimit"
	"cruise-scraper/scraper"
	"cruise-scraper/scraper/api"
	"cruise-scraper/scraper/browser"
	"cruise-scraper/services"
	"cruise-scraper/storage"
	"cruise-scraper/utils"
)

var (
	runDestination string
	runLine        string
	runFrom        string
	runTo          string
	runTags        []string
	runMax         int
	runPriority    string
)

// runCmd is the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run one acquisition and write the batch",
	Long: `Run one acquisition for a query.

Every outbound call waits for a token from the chosen priority's bucket. The
API adapter is tried first; the browser adapter only runs when the API returned
nothing. Listings are normalized, scored for completeness and written as
listings_<date>.json, listings_import_<date>.json and summary_<date>.json.`,
	Example: `  $ cruise-scraper run --destination Alaska --max 20
  $ cruise-scraper run --line RCI --from 2025-06-01 --priority low`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runDestination, "destination", "d", "", "destination region or port")
	runCmd.Flags().StringVarP(&runLine, "line", "l", "", "cruise line name or abbreviation")
	runCmd.Flags().StringVar(&runFrom, "from", "", "earliest sail date (YYYY-MM-DD)")
	runCmd.Flags().StringVar(&runTo, "to", "", "latest sail date (YYYY-MM-DD)")
	runCmd.Flags().StringSliceVarP(&runTags, "tag", "t", nil, "search tag, repeatable")
	runCmd.Flags().IntVarP(&runMax, "max", "m", 0, "maximum results to request")
	runCmd.Flags().StringVarP(&runPriority, "priority", "p", "", "rate limit priority (defaults to RUN_PRIORITY)")

	// Silence usage to avoid showing help on every error
	runCmd.SilenceUsage = true
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	logger := utils.NewLoggerWithLevel(cfg.LogLevel)

	q, err := buildQuery()
	if err != nil {
		return err
	}
	priority := runPriority
	if priority == "" {
		priority = cfg.RunPriority
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	if cfg.MetricsAddr != "" {
		go func() {
			if err := m.Serve(ctx, cfg.MetricsAddr); err != nil {
				logger.Error("[metrics] Server stopped: %v", err)
			}
		}()
		logger.Info("[metrics] Serving /metrics on %s", cfg.MetricsAddr)
	}

	logger.Info("=== Cruise scraper starting ===")
	logger.Info("Config: pages: %d | concurrency: %d | rate: %dms | priority: %s",
		cfg.PagesToScrape, cfg.MaxConcurrency, cfg.RateLimitMs, priority)

	pipeline, closeSinks, err := buildPipeline(ctx, cfg, logger, m)
	if err != nil {
		return err
	}
	defer closeSinks()

	res, err := pipeline.Run(ctx, q, priority)
	if err != nil {
		logger.Error("Run failed: %v", err)
		return err
	}

	pipeline.Insights.Print(res.Summary, res.Quality)
	fmt.Printf("  Done. Listings → %s | Import → %s | Summary → %s\n\n",
		res.Artifacts.ListingsPath, res.Artifacts.ImportPath, res.Artifacts.SummaryPath)
	return nil
}

func buildQuery() (models.Query, error) {
	q := models.Query{
		Destination: runDestination,
		CruiseLine:  runLine,
		Tags:        runTags,
		MaxResults:  runMax,
	}
	var err error
	if runFrom != "" {
		if q.DateFrom, err = time.Parse("2006-01-02", runFrom); err != nil {
			return q, fmt.Errorf("invalid --from: %w", err)
		}
	}
	if runTo != "" {
		if q.DateTo, err = time.Parse("2006-01-02", runTo); err != nil {
			return q, fmt.Errorf("invalid --to: %w", err)
		}
	}
	if !q.DateFrom.IsZero() && !q.DateTo.IsZero() && q.DateTo.Before(q.DateFrom) {
		return q, fmt.Errorf("--to %s is before --from %s", runTo, runFrom)
	}
	return q, nil
}

// buildPipeline wires adapters, limiter, policy and sinks from cfg.
func buildPipeline(ctx context.Context, cfg *config.Config, logger *utils.Logger, m *metrics.Metrics) (*services.Pipeline, func(), error) {
	priorities, err := config.LoadPriorities(cfg.RateLimitsFile)
	if err != nil {
		return nil, nil, err
	}
	limiter := ratelimit.NewPriority(priorities).WithMetrics(m)

	var adapters []scraper.Adapter
	baseURLs := map[string]string{}
	if cfg.APIBaseURL != "" {
		a, err := api.New(api.Options{
			BaseURL:    cfg.APIBaseURL,
			APIKey:     cfg.APIKey,
			Timeout:    time.Duration(cfg.APITimeoutSeconds) * time.Second,
			MaxRetries: cfg.MaxRetries,
			Logger:     logger,
		})
		if err != nil {
			return nil, nil, err
		}
		adapters = append(adapters, a)
		baseURLs[a.Name()] = a.BaseURL()
	} else {
		logger.Warn("[config] API_BASE_URL not set, API adapter disabled")
	}
	if cfg.ScraperBaseURL != "" {
		b := browser.New(browser.Options{
			BaseURL:         cfg.ScraperBaseURL,
			ChromeBin:       cfg.ChromeBin,
			PagesToScrape:   cfg.PagesToScrape,
			MaxConcurrency:  cfg.MaxConcurrency,
			RequestInterval: cfg.RequestInterval(),
			MaxRetries:      cfg.MaxRetries,
			Logger:          logger,
		})
		adapters = append(adapters, b)
		baseURLs[b.Name()] = b.BaseURL()
	} else {
		logger.Warn("[config] SCRAPER_BASE_URL not set, browser adapter disabled")
	}

	rule := services.NewRulePolicy(cfg.SearchURL())
	opts := []services.CoordinatorOption{services.WithCoordinatorMetrics(m)}
	if cfg.OpenAIAPIKey != "" {
		opts = append(opts, services.WithPolicy(services.NewLLMPolicy(services.LLMOptions{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAIModel,
			Rule:    rule,
			Logger:  logger,
		})))
	}
	if cfg.CacheTTLSeconds > 0 {
		opts = append(opts, services.WithCache(services.NewRecordCache(cfg.CacheTTL(), cfg.CacheMaxEntries)))
	}
	coordinator := services.NewCoordinator(limiter, rule, adapters, logger, opts...)

	var sinks []storage.Sink
	closeSinks := func() {
		for _, s := range sinks {
			if err := s.Close(); err != nil {
				logger.Warn("[storage] Closing %s: %v", s.Name(), err)
			}
		}
	}
	if cfg.CSVOutputPath != "" {
		w, err := storage.NewCSVWriter(cfg.CSVOutputPath)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, w)
	}
	if cfg.PostgresEnabled {
		pw, err := storage.NewPostgresWriter(ctx, cfg.DSN())
		if err != nil {
			closeSinks()
			logger.Error("Make sure PostgreSQL is running: docker compose up -d")
			return nil, nil, err
		}
		sinks = append(sinks, pw)
	}

	return &services.Pipeline{
		Retriever:  coordinator,
		Normalizer: services.NewNormalizer(logger, baseURLs),
		Quality:    services.NewQualityMonitor(cfg.QualityThreshold, m, logger),
		Insights:   services.NewInsightService(logger),
		Writer:     storage.NewFileWriter(cfg.OutputDir, logger),
		Sinks:      sinks,
		Metrics:    m,
		Logger:     logger,
	}, closeSinks, nil
}
