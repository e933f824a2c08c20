// Package main wires together the accommodation price service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcppubsub "cloud.google.com/go/pubsub"
	gcpstorage "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/accomopricer/accomopricer/internal/api"
	archivegcs "github.com/accomopricer/accomopricer/internal/archive/gcs"
	archivelocal "github.com/accomopricer/accomopricer/internal/archive/local"
	archivememory "github.com/accomopricer/accomopricer/internal/archive/memory"
	cachememory "github.com/accomopricer/accomopricer/internal/cache/memory"
	cacheredis "github.com/accomopricer/accomopricer/internal/cache/redis"
	"github.com/accomopricer/accomopricer/internal/clock/system"
	"github.com/accomopricer/accomopricer/internal/config"
	"github.com/accomopricer/accomopricer/internal/coordinator"
	"github.com/accomopricer/accomopricer/internal/id/uuid"
	"github.com/accomopricer/accomopricer/internal/logging"
	"github.com/accomopricer/accomopricer/internal/metrics"
	"github.com/accomopricer/accomopricer/internal/pricing"
	pubsubpublisher "github.com/accomopricer/accomopricer/internal/publisher/pubsub"
	"github.com/accomopricer/accomopricer/internal/registry"
	"github.com/accomopricer/accomopricer/internal/source"
	"github.com/accomopricer/accomopricer/internal/source/collyfetch"
	"github.com/accomopricer/accomopricer/internal/source/headless"
	"github.com/accomopricer/accomopricer/internal/source/static"
	storagememory "github.com/accomopricer/accomopricer/internal/storage/memory"
	storagepostgres "github.com/accomopricer/accomopricer/internal/storage/postgres"
	"github.com/accomopricer/accomopricer/internal/stream"
)

// lateRunner defers binding the coordinator so the registry (which the
// coordinator uses as its tracker) can be constructed first.
type lateRunner struct {
	coord *coordinator.Coordinator
}

func (l *lateRunner) Run(ctx context.Context, job pricing.Job, fingerprint string, sources []coordinator.Source) {
	l.coord.Run(ctx, job, fingerprint, sources)
}

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("service failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	promReg := prometheus.NewRegistry()
	stats, err := metrics.New(promReg)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	clk := system.New()

	cache, closeCache, err := buildCache(ctx, cfg, clk)
	if err != nil {
		return err
	}
	defer closeCache()

	store, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	archiver, err := buildArchiver(ctx, cfg)
	if err != nil {
		return err
	}

	var publisher pricing.Publisher
	completionTopic := ""
	if cfg.PubSub.Enabled {
		client, err := gcppubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("pubsub client: %w", err)
		}
		pub := pubsubpublisher.New(client)
		defer pub.Stop()
		publisher = pub
		completionTopic = cfg.PubSub.TopicName
	}

	fetchers, sources, err := buildSources(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		for _, f := range fetchers.All() {
			if closer, ok := f.(interface{ Close() }); ok {
				closer.Close()
			}
		}
	}()

	streams := stream.New(stream.Config{
		SubscriberBuffer: cfg.Stream.SubscriberBuffer,
		RetainedTail:     cfg.Stream.RetainedTail,
		Retention:        time.Duration(cfg.Stream.RetentionSeconds) * time.Second,
		Logger:           logger.Named("stream"),
		Stats:            stats,
	})
	defer streams.Close()

	runner := &lateRunner{}
	reg := registry.New(
		runner,
		cache,
		store,
		streams,
		clk,
		uuid.New(),
		stats,
		sources,
		logger.Named("registry"),
	)
	defer reg.Shutdown()

	runner.coord = coordinator.New(
		store,
		cache,
		streams,
		reg,
		publisher,
		archiver,
		clk,
		stats,
		coordinator.Config{
			MaxConcurrent:   cfg.Search.MaxConcurrent,
			CacheTTL:        cfg.CacheTTL(),
			CompletionTopic: completionTopic,
			ArchivePrefix:   cfg.Archive.Prefix,
		},
		logger.Named("coordinator"),
	)

	apiServer := api.NewServer(
		reg,
		streams,
		store,
		cache,
		fetchers.Names(),
		promReg,
		api.Config{
			RequestTimeout: cfg.RequestTimeout(),
			Auth:           api.AuthConfig{Enabled: cfg.Auth.Enabled, APIKey: cfg.Auth.APIKey},
		},
		logger.Named("api"),
	)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server started",
			zap.Int("port", cfg.Server.Port),
			zap.Strings("platforms", fetchers.Names()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}

func buildCache(ctx context.Context, cfg config.Config, clk pricing.Clock) (pricing.CacheGateway, func(), error) {
	switch cfg.Cache.Backend {
	case "redis":
		cache, err := cacheredis.Dial(ctx, cfg.Cache.Addr, cfg.Cache.Password, cfg.Cache.DB)
		if err != nil {
			return nil, nil, fmt.Errorf("redis cache: %w", err)
		}
		return cache, func() { _ = cache.Close() }, nil
	default:
		return cachememory.New(clk), func() {}, nil
	}
}

func buildStore(ctx context.Context, cfg config.Config) (pricing.ResultStore, func(), error) {
	switch cfg.Database.Backend {
	case "postgres":
		store, err := storagepostgres.NewResultStore(ctx, storagepostgres.ResultStoreConfig{
			DSN:      cfg.Database.DSN,
			Table:    cfg.Database.Table,
			MaxConns: cfg.Database.MaxConns,
			MinConns: cfg.Database.MinConns,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("postgres store: %w", err)
		}
		return store, store.Close, nil
	default:
		return storagememory.NewResultStore(), func() {}, nil
	}
}

func buildArchiver(ctx context.Context, cfg config.Config) (pricing.Archiver, error) {
	switch cfg.Archive.Backend {
	case "local":
		archiver, err := archivelocal.New(archivelocal.Config{BaseDir: cfg.Archive.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local archive: %w", err)
		}
		return archiver, nil
	case "gcs":
		client, err := gcpstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		archiver, err := archivegcs.New(client, archivegcs.Config{Bucket: cfg.Archive.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs archive: %w", err)
		}
		return archiver, nil
	default:
		return archivememory.NewBlobStore(), nil
	}
}

// buildSources constructs one fetcher per enabled platform and pairs it with
// its retry policy.
func buildSources(cfg config.Config, logger *zap.Logger) (*source.Registry, []coordinator.Source, error) {
	fetchers := source.NewRegistry()
	sources := make([]coordinator.Source, 0, len(cfg.Platforms))

	for _, name := range cfg.EnabledPlatforms() {
		p := cfg.Platforms[name]
		fetcher, err := buildFetcher(cfg, name, p)
		if err != nil {
			return nil, nil, fmt.Errorf("platform %s: %w", name, err)
		}
		if err := fetchers.Register(fetcher); err != nil {
			return nil, nil, err
		}
		sources = append(sources, coordinator.Source{
			Fetcher: fetcher,
			Policy: pricing.SourcePolicy{
				AttemptTimeout: cfg.AttemptTimeout(p),
				MaxRetries:     p.MaxRetries,
				RetryDelay:     time.Duration(p.DelaySeconds) * time.Second,
			},
		})
		logger.Info("platform enabled", zap.String("platform", name), zap.String("mode", p.Mode))
	}
	return fetchers, sources, nil
}

func buildFetcher(cfg config.Config, name string, p config.PlatformConfig) (pricing.SourceFetcher, error) {
	selectors := collyfetch.Selectors{
		Listing: p.Selectors.Listing,
		Price:   p.Selectors.Price,
		Name:    p.Selectors.Name,
		URL:     p.Selectors.URL,
		Rating:  p.Selectors.Rating,
		Reviews: p.Selectors.Reviews,
	}
	switch p.Mode {
	case "colly":
		return collyfetch.New(collyfetch.Config{
			Platform:  name,
			SearchURL: p.SearchURL,
			UserAgent: cfg.Search.UserAgent,
			Timeout:   cfg.AttemptTimeout(p),
			Selectors: selectors,
		})
	case "headless":
		return headless.New(headless.Config{
			Platform:          name,
			SearchURL:         p.SearchURL,
			Selectors:         selectors,
			MaxParallel:       p.MaxParallel,
			UserAgent:         cfg.Search.UserAgent,
			NavigationTimeout: cfg.AttemptTimeout(p),
		})
	default:
		return static.New(static.Config{
			Platform:   name,
			BasePrice:  p.BasePrice,
			QuoteCount: p.QuoteCount,
		}), nil
	}
}
