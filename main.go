package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sjsage522/pricecrawler/config"
	"sjsage522/pricecrawler/internal/crawler"
	"sjsage522/pricecrawler/logger"
	"sjsage522/pricecrawler/services/cache"
	"sjsage522/pricecrawler/services/metrics"
	"sjsage522/pricecrawler/services/publisher"
	"sjsage522/pricecrawler/services/storage"
	"sjsage522/pricecrawler/services/worker"

	"github.com/joho/godotenv"
)

// healthMaxAge allows one missed daily crawl before /healthz fails
const healthMaxAge = 36 * time.Hour

func main() {
	// Load environment variables
	_ = godotenv.Load()

	// Initialize logger first
	logger.Init()
	log := logger.Default

	// Load and validate configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	logger.Debug("Crawl pacing: page delay %s, short backoff %s, long backoff %s, escalation after %d",
		cfg.BasePageDelay, cfg.ShortBackoff, cfg.LongBackoff, cfg.RateLimitEscalationThreshold)

	log.Info().
		Str("environment", cfg.Environment).
		Str("query", cfg.SearchQuery).
		Str("listing_origin", cfg.ListingOrigin).
		Bool("run_once", cfg.RunOnce).
		Msg("Starting application")

	// Cancel on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize services
	services, err := initializeServices(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}
	defer services.Cleanup()

	w, err := newWorker(cfg, services)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create crawler")
	}

	if cfg.RunOnce {
		report := w.RunOnce(ctx)
		log.Info().
			Str("end", string(report.End)).
			Int("records", report.Records).
			Bool("committed", report.Committed()).
			Msg("Single crawl finished")
		if !report.Committed() {
			services.Cleanup()
			os.Exit(1)
		}
		return
	}

	log.Info().Msg("Starting price crawler worker")
	if err := w.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.LogError("worker", err, "Worker exited with error")
	}

	// Graceful shutdown
	log.Info().Msg("Shutting down gracefully...")
}

// Services holds all the initialized services
type Services struct {
	Store     *storage.ProductStore
	Cache     cache.CacheService
	Publisher publisher.Publisher
	Metrics   *metrics.Metrics
	server    *http.Server
}

// Cleanup cleans up all services
func (s *Services) Cleanup() {
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(ctx)
		s.server = nil
	}
	if s.Publisher != nil {
		_ = s.Publisher.Close()
		s.Publisher = nil
	}
	if s.Store != nil {
		s.Store.Close()
		s.Store = nil
	}
}

// initializeServices initializes all required services. Postgres is required;
// memcache, Redis and the metrics listener are enabled by their addresses.
func initializeServices(ctx context.Context, cfg *config.Config) (*Services, error) {
	services := &Services{Metrics: metrics.New()}

	store, err := storage.NewProductStore(ctx, storage.Config{
		DSN:      cfg.DatabaseURL,
		Table:    cfg.ProductsTable,
		MaxConns: int32(cfg.DatabaseMaxConns),
	})
	if err != nil {
		return nil, err
	}
	services.Store = store
	if err := store.EnsureSchema(ctx); err != nil {
		services.Cleanup()
		return nil, err
	}
	logger.Info("Connected to Postgres (table: %s)", cfg.ProductsTable)

	if cfg.MemcacheAddr != "" {
		memcacheService := cache.NewMemcacheService(cfg.MemcacheAddr)
		if err := memcacheService.Ping(); err != nil {
			logger.Warn("Memcache at %s is not answering: %v", cfg.MemcacheAddr, err)
		}
		services.Cache = memcacheService
		logger.Info("Using Memcache at %s", cfg.MemcacheAddr)
	}

	if cfg.RedisAddr != "" {
		redisPublisher, err := publisher.NewRedisPublisher(
			ctx,
			cfg.RedisAddr,
			cfg.RedisDB,
			cfg.RedisStream,
			cfg.RedisStreamCount,
			cfg.RedisStreamMaxLength,
		)
		if err != nil {
			services.Cleanup()
			return nil, err
		}
		services.Publisher = redisPublisher
		logger.Info("Connected to Redis at %s (DB: %d, Stream: %s)",
			cfg.RedisAddr, cfg.RedisDB, cfg.RedisStream)
	}

	if cfg.MetricsAddr != "" {
		services.server = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           services.Metrics.Handler(healthMaxAge, time.Now),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := services.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics listener on %s stopped: %v", cfg.MetricsAddr, err)
			}
		}()
		logger.Info("Serving /metrics and /healthz on %s", cfg.MetricsAddr)
	}

	return services, nil
}

// crawlerConfig maps environment configuration onto the crawl settings
func crawlerConfig(cfg *config.Config) crawler.CrawlerConfig {
	return crawler.CrawlerConfig{
		ListingOrigin:                cfg.ListingOrigin,
		LinkOrigin:                   cfg.LinkOrigin,
		SearchQuery:                  cfg.SearchQuery,
		UserAgent:                    cfg.UserAgent,
		RequestTimeout:               cfg.RequestTimeout,
		BasePageDelay:                cfg.BasePageDelay,
		ShortBackoff:                 cfg.ShortBackoff,
		LongBackoff:                  cfg.LongBackoff,
		RateLimitEscalationThreshold: cfg.RateLimitEscalationThreshold,
		CacheKeyPrefix:               "pricecrawler",
		Selectors:                    crawler.DefaultSelectors(),
	}
}

// newWorker wires fetcher, extractor and driver into the daily worker
func newWorker(cfg *config.Config, services *Services) (*worker.Worker, error) {
	crawlCfg := crawlerConfig(cfg)

	fetcher, err := crawler.NewPageFetcher(crawlCfg, nil, services.Metrics)
	if err != nil {
		return nil, err
	}
	extractor, err := crawler.NewExtractor(crawlCfg.LinkOrigin, crawlCfg.Selectors)
	if err != nil {
		return nil, err
	}

	driverOpts := []crawler.DriverOption{crawler.WithMetrics(services.Metrics)}
	workerOpts := []worker.Option{worker.WithMetrics(services.Metrics)}
	if services.Cache != nil {
		driverOpts = append(driverOpts, crawler.WithCache(services.Cache))
		workerOpts = append(workerOpts, worker.WithCache(services.Cache, crawlCfg.CacheKeyPrefix))
	}
	if services.Publisher != nil {
		workerOpts = append(workerOpts, worker.WithPublisher(services.Publisher))
	}

	driver := crawler.NewDriver(crawlCfg, fetcher, extractor, driverOpts...)
	return worker.NewWorker(driver, services.Store, workerOpts...), nil
}
