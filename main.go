package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"metals_scanner/config"
	"metals_scanner/db"
	"metals_scanner/feed"
	"metals_scanner/fetch"
	"metals_scanner/middleware"
	"metals_scanner/models"
	"metals_scanner/monitoring"
	"metals_scanner/pricecache"
	"metals_scanner/prices"
	"metals_scanner/ratelimit"
	"metals_scanner/scanner"
	"metals_scanner/scraper"
	"metals_scanner/utils"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	if err := utils.InitLogger(); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	// Initialize DB
	store, err := db.NewClickHouseDB(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Seed one quota tracker per provider
	if err := store.EnsureTracker(ctx, "ebay", models.PeriodDaily, int64(cfg.Providers.EbayDailyLimit)); err != nil {
		log.Fatalf("Failed to seed ebay quota tracker: %v", err)
	}
	if err := store.EnsureTracker(ctx, "metals-api", models.PeriodMonthly, int64(cfg.Providers.MetalsMonthlyLimit)); err != nil {
		log.Fatalf("Failed to seed metals-api quota tracker: %v", err)
	}

	limiter := ratelimit.New(store, cfg.Providers.MinCallInterval, utils.Logger)

	cache, err := pricecache.New(store, pricecache.Windows{
		MarketHours: cfg.Cache.MarketHours,
		OffHours:    cfg.Cache.OffHours,
		Weekend:     cfg.Cache.Weekend,
	}, cfg.Cache.Timezone, utils.Logger)
	if err != nil {
		log.Fatalf("Failed to initialize price cache: %v", err)
	}

	// Provider clients share the resilient fetch layer
	ebayFetcher := fetch.New("ebay", scraper.EbayBaseURL(),
		cfg.HTTP.Timeout, cfg.HTTP.RetryAttempts, store, utils.Logger)
	metalsFetcher := fetch.New("metals-api", prices.MetalsBaseURL(),
		cfg.HTTP.Timeout, cfg.HTTP.RetryAttempts, store, utils.Logger)

	ebay := scraper.NewEbay(cfg.Providers.EbayAppID, ebayFetcher, limiter, utils.Logger)
	spotClient := prices.NewClient(cfg.Providers.MetalsAPIKey, metalsFetcher, limiter, cache, utils.Logger)

	orchestrator := scanner.New(spotClient, ebay, store, utils.Logger)

	// Monitoring
	monitoring.RegisterHealthCheck("database", func() bool {
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		defer pingCancel()
		return store.Ping(pingCtx) == nil
	})
	monitoring.StartMetricsCollection()

	// Optional streaming spot price feed
	if cfg.Feed.Enabled && cfg.Feed.URL != "" {
		go func() {
			feedClient := feed.NewClient(cfg.Feed.URL, store, utils.Logger)
			operation := func() error {
				return feedClient.Listen(ctx)
			}
			retry := backoff.WithContext(utils.NewReconnectBackoff(), ctx)
			if err := backoff.RetryNotify(operation, retry,
				func(err error, duration time.Duration) {
					utils.Logger.Warnw("Feed error, reconnecting",
						"error", err,
						"retry_in", duration,
					)
				}); err != nil {
				utils.Error(err, "Feed stopped")
			}
		}()
	}

	// Scheduled scans
	if cfg.App.EnableScans {
		go runScanLoop(ctx, cfg, orchestrator)
	}

	// Price retention sweep
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := cache.Cleanup(ctx, cfg.Cache.RetentionDays); err != nil {
					utils.Error(err, "Price retention sweep failed")
				}
			}
		}
	}()

	// Health and metrics endpoints
	mux := http.NewServeMux()
	mux.HandleFunc("/health", monitoring.HealthCheckHandler)
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    cfg.App.ListenAddr,
		Handler: utils.RequestLogger(mux),
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			utils.Error(err, "Monitoring server error")
		}
	}()

	utils.Logger.Infow("Scanner started",
		"environment", cfg.App.Environment,
		"auto_scan", cfg.App.EnableScans,
		"scan_every", cfg.App.ScanEvery,
	)

	// Block until shutdown signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	utils.Logger.Infow("Shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		utils.Error(err, "Server shutdown error")
	}
}

// runScanLoop performs one scan immediately and then one per interval.
// Each pass is wrapped in panic recovery so a bad scan cannot take the
// scheduler down.
func runScanLoop(ctx context.Context, cfg *config.Config, orchestrator *scanner.Orchestrator) {
	scanOnce := func() {
		middleware.Recover(func() {
			outcome := orchestrator.RunScan(ctx, cfg.Scan.SearchTerms, cfg.Scan.MaxResults)
			monitoring.RecordScan(outcome.CompletedAt)
			if !outcome.Success {
				utils.Logger.Warnw("Scan finished with errors",
					"scan_id", outcome.ScanID,
					"errors", outcome.Errors,
				)
			}
		})
	}

	scanOnce()

	ticker := time.NewTicker(cfg.App.ScanEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			scanOnce()
		}
	}
}
