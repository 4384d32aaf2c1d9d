package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/theoremus-urban-solutions/gtfs-ingest/api"
	"github.com/theoremus-urban-solutions/gtfs-ingest/config"
	"github.com/theoremus-urban-solutions/gtfs-ingest/ingest"
	"github.com/theoremus-urban-solutions/gtfs-ingest/internal/logging"
	"github.com/theoremus-urban-solutions/gtfs-ingest/internal/tracing"
	"github.com/theoremus-urban-solutions/gtfs-ingest/metrics"
	"github.com/theoremus-urban-solutions/gtfs-ingest/pipeline"
	"github.com/theoremus-urban-solutions/gtfs-ingest/siri"
	"github.com/theoremus-urban-solutions/gtfs-ingest/storage/sqlite"
)

const serviceName = "gtfs-ingest"

func main() {
	configPath := flag.String("config", "", "path to config.yml (default: config.yml, ./config/config.yml)")
	feedName := flag.String("feed", "", "feed name from config.feeds[] (default: all feeds)")
	mode := flag.String("mode", "all", "static|realtime|serve|all")
	once := flag.Bool("once", false, "run each realtime pipeline once and exit")
	flag.Parse()

	// Load .env file if it exists
	_ = godotenv.Load()

	if err := run(*configPath, *feedName, *mode, *once); err != nil {
		log.Fatalf("gtfs-ingest: %v", err)
	}
}

func run(configPath, feedName, mode string, once bool) error {
	var paths []string
	if configPath != "" {
		paths = append(paths, configPath)
	}
	if err := config.LoadAppConfig(paths...); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := config.Config

	logger, err := logging.Init(cfg.Ingest.LogLevel)
	if err != nil {
		return err
	}

	shutdown, err := tracing.Init(serviceName, cfg.Ingest.Tracing, os.Stderr, logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	serve := mode == "serve" || mode == "all"
	var jobs ingest.Mode
	if mode != "serve" {
		if jobs, err = ingest.ParseMode(mode); err != nil {
			return err
		}
	}
	policy, err := pipeline.ParseErrorPolicy(cfg.Ingest.ErrorPolicy)
	if err != nil {
		return err
	}

	feeds := cfg.FeedList()
	if feedName != "" {
		f, err := cfg.SelectFeed(feedName)
		if err != nil {
			return err
		}
		feeds = []config.Feed{f}
	}
	if jobs != 0 && len(feeds) == 0 {
		return errors.New("no feeds configured")
	}

	store, err := sqlite.New(cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	m := metrics.New()
	runner := &ingest.Runner{
		Registry:  ingest.DefaultRegistry(ingest.Deps{Store: store}),
		Pipelines: ingest.MergePipelines(cfg.Pipelines),
		Policy:    policy,
		Logger:    logger,
		Metrics:   m,
		Tracer:    otel.Tracer(serviceName),
		Once:      once,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	if jobs != 0 {
		g.Go(func() error {
			if err := runner.Run(ctx, feeds, jobs); err != nil {
				return err
			}
			logger.Info("ingest finished")
			return nil
		})
	}
	if serve {
		codespace := ""
		if len(feeds) > 0 {
			codespace = feeds[0].GTFS.AgencyID
		}
		srv := api.New(api.Options{
			Port:    cfg.Server.Port,
			Logger:  logger,
			Store:   store,
			Jobs:    runner,
			Metrics: m.Handler(),
			SIRI:    siri.Options{Codespace: codespace, ReadInterval: readInterval(feeds)},
		})
		g.Go(func() error { return srv.Start(ctx) })
	}

	logger.Info("gtfs-ingest started",
		slog.String("mode", mode),
		slog.Int("feeds", len(feeds)),
		slog.String("storage", cfg.Storage.Path),
		slog.String("error_policy", policy.String()))

	return g.Wait()
}

// readInterval is the shortest configured realtime interval.
func readInterval(feeds []config.Feed) time.Duration {
	var d time.Duration
	for _, f := range feeds {
		if i := f.GTFSRT.ReadInterval(); i > 0 && (d == 0 || i < d) {
			d = i
		}
	}
	return d
}
