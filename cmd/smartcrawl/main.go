// Package main wires together the crawl service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"smartcrawl/internal/api"
	"smartcrawl/internal/classify"
	"smartcrawl/internal/config"
	"smartcrawl/internal/crawler"
	"smartcrawl/internal/discovery"
	"smartcrawl/internal/extract"
	collyfetcher "smartcrawl/internal/fetcher/colly"
	headlessfetcher "smartcrawl/internal/fetcher/headless"
	"smartcrawl/internal/logging"
	memorypublisher "smartcrawl/internal/publisher/memory"
	pubsubpublisher "smartcrawl/internal/publisher/pubsub"
	memorystore "smartcrawl/internal/store/memory"
	postgresstore "smartcrawl/internal/store/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	resume := flag.Bool("resume", false, "Load the crawl checkpoint before starting")
	seeds := flag.String("seeds", "", "Comma-separated seed URLs (defaults to the base URL)")
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
	defer func() {
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var renderer crawler.Fetcher
	if cfg.Headless.Enabled {
		headless, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Crawler.UserAgent,
			NavigationTimeout: cfg.Headless.NavTimeout(),
		})
		if err != nil {
			logger.Warn("headless fetcher init failed", zap.Error(err))
		} else {
			defer headless.Close()
			renderer = headless
		}
	}

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:         cfg.Crawler.UserAgent,
		Timeout:           cfg.Crawler.FetchTimeout(),
		RespectRobots:     cfg.Crawler.RespectRobots,
		RequestsPerSecond: cfg.Crawler.RequestsPerSecond,
	}, renderer, logger.Named("fetcher"))

	robots := collyfetcher.NewRobotsGate(cfg.Crawler.UserAgent, logger.Named("robots"))
	sitemaps := collyfetcher.NewSitemapSource(cfg.Crawler.BaseURL, robots, logger.Named("sitemaps"))

	structure, err := discovery.New(cfg.Crawler.BaseURL, fetcher, discovery.Options{
		Dir:      cfg.Discovery.Dir,
		MaxPages: cfg.Discovery.MaxSamplePages,
	}, logger.Named("discovery"))
	if err != nil {
		logger.Fatal("discovery init failed", zap.Error(err))
	}

	store, closeStore, err := buildStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("store init failed", zap.Error(err))
	}
	defer closeStore()

	publisher, closePublisher, err := buildPublisher(ctx, cfg)
	if err != nil {
		logger.Fatal("publisher init failed", zap.Error(err))
	}
	defer closePublisher()

	c, err := crawler.New(crawler.Config{
		BaseURL:            cfg.Crawler.BaseURL,
		MaxWorkers:         cfg.Crawler.Workers,
		MaxDepth:           cfg.Crawler.MaxDepth,
		MaxRetries:         cfg.Crawler.MaxRetries,
		MaxURLs:            cfg.Crawler.MaxURLs,
		PollInterval:       cfg.Crawler.PollInterval(),
		CheckpointPath:     cfg.Crawler.CheckpointPath,
		CheckpointInterval: cfg.Crawler.CheckpointInterval(),
		StopTimeout:        cfg.Crawler.StopTimeout(),
	}, crawler.Dependencies{
		Fetcher:    fetcher,
		Sitemaps:   sitemaps,
		Structure:  structure,
		Extractor:  extract.New(structure, logger.Named("extract")),
		Classifier: classify.New(classify.Config{}, logger.Named("classify")),
		Store:      store,
		Publisher:  publisher,
	}, logger.Named("crawler"))
	if err != nil {
		logger.Fatal("crawler init failed", zap.Error(err))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewServer(c, logger.Named("api")).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	if err := c.Start(ctx, seedURLs(*seeds), *resume); err != nil {
		logger.Fatal("crawl start failed", zap.Error(err))
	}

	<-ctx.Done()
	logger.Info("shutdown initiated")

	if err := c.Stop(true, true); err != nil && !errors.Is(err, crawler.ErrNotRunning) {
		logger.Error("crawl stop error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func buildStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (crawler.Store, func(), error) {
	if cfg.Storage.Backend == "postgres" {
		store, err := postgresstore.New(ctx, postgresstore.Config{
			DSN:   cfg.Storage.DSN,
			Table: cfg.Storage.Table,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := store.Init(ctx); err != nil {
			store.Close()
			return nil, nil, err
		}
		return store, store.Close, nil
	}
	return memorystore.New(logger.Named("store")), func() {}, nil
}

func buildPublisher(ctx context.Context, cfg config.Config) (crawler.Publisher, func(), error) {
	if cfg.PubSub.Enabled {
		return pubsubpublisher.Open(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
	}
	return memorypublisher.New(), func() {}, nil
}

func seedURLs(flagValue string) []string {
	if flagValue == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(flagValue, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
