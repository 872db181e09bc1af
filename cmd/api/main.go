package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/urlmonitor/internal/checker"
	"github.com/hamed0406/urlmonitor/internal/config"
	"github.com/hamed0406/urlmonitor/internal/events"
	"github.com/hamed0406/urlmonitor/internal/httpapi"
	"github.com/hamed0406/urlmonitor/internal/logging"
	"github.com/hamed0406/urlmonitor/internal/monitor"
	"github.com/hamed0406/urlmonitor/internal/notify"
	"github.com/hamed0406/urlmonitor/internal/probe"
	"github.com/hamed0406/urlmonitor/internal/repo"
	"github.com/hamed0406/urlmonitor/internal/repo/memory"
	"github.com/hamed0406/urlmonitor/internal/repo/postgres"
	"github.com/hamed0406/urlmonitor/internal/repo/sqlite"
	"github.com/hamed0406/urlmonitor/internal/scheduler"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Logging.Dir, cfg.Logging.Level, cfg.Logging.Console)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("fatal", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func openStore(ctx context.Context, db config.Database, logger *zap.Logger) (repo.Store, error) {
	switch db.Driver {
	case "memory":
		return memory.New(), nil
	case "postgres":
		s, err := postgres.New(ctx, db.URL, logger)
		if err != nil {
			return nil, err
		}
		s.PruneBatch = db.PruneBatch
		return s, nil
	case "sqlite":
		if dir := filepath.Dir(db.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
		s, err := sqlite.New(ctx, db.Path, logger)
		if err != nil {
			return nil, err
		}
		s.PruneBatch = db.PruneBatch
		return s, nil
	}
	return nil, fmt.Errorf("unknown database driver %q", db.Driver)
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	store, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	logger.Info("store_opened", zap.String("driver", cfg.Database.Driver))

	prober := probe.NewProber(
		probe.NewHTTPChecker(probe.HTTPOptions{
			ConnectTimeout:  cfg.Checker.ConnectTimeout,
			UserAgent:       cfg.Checker.UserAgent,
			FollowRedirects: cfg.Checker.FollowRedirects,
			MaxRedirects:    cfg.Checker.MaxRedirects,
		}),
		cfg.Checker.RetryPolicy(),
		cfg.Checker.RequestTimeout,
	)

	hub := events.New(logger, cfg.API.AllowedOrigins)
	go hub.Run()

	orch := checker.NewOrchestrator(logger, store, store, prober, cfg.Checker.ConcurrentLimit)
	orch.Observer = hub

	opts := monitor.Options{
		DefaultTimeout: cfg.Checker.RequestTimeout,
		Retention:      cfg.Retention(),
		AutoCleanup:    cfg.Database.AutoCleanup,
	}
	if cfg.Notify.SlackWebhook != "" {
		opts.Notifier = notify.Multi{notify.NewSlack(cfg.Notify.SlackWebhook)}
	}
	svc := monitor.New(logger, store, orch, opts)
	svc.OnClose(func() error { hub.Close(); return nil })
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Warn("shutdown_error", zap.Error(err))
		}
	}()

	if cfg.Scheduler.Enabled {
		times, err := cfg.ScheduleTimes()
		if err != nil {
			return err
		}
		sc, err := scheduler.New(logger, svc.RunCycle, scheduler.Options{
			Times:        times,
			Timezone:     cfg.Scheduler.Timezone,
			RunOnStartup: cfg.Scheduler.RunOnStartup,
			Cooldown:     cfg.Scheduler.Cooldown,
		})
		if err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
		svc.SetScheduler(sc)
		if err := sc.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
	}

	api := httpapi.NewServer(logger, svc, http.HandlerFunc(hub.HandleConnect), httpapi.Options{
		AllowedOrigins: cfg.API.AllowedOrigins,
		TriggerRPM:     cfg.API.TriggerRPM,
		TriggerBurst:   cfg.API.TriggerBurst,
	})
	srv := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("api_listen", zap.String("addr", cfg.API.Addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutdown_started")
	sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(sctx)
}
