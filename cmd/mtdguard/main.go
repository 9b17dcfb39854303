package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"mtdguard/internal/correlation"
	"mtdguard/internal/policy"
	"mtdguard/internal/server"
	"mtdguard/internal/threat"
)

func main() {
	if err := run(); err != nil {
		slog.Error("mtdguard exited", "err", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := server.LoadConfig()
	if err != nil {
		return err
	}
	server.InitLogging("mtdguard", cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	if cfg.SeedIndicators {
		threat.SeedIndicators(ctx, store)
	}

	pol := policy.NewEngine(policy.DefaultRules())
	if cfg.PolicyFile != "" {
		rules, err := policy.LoadRulesFile(cfg.PolicyFile)
		if err != nil {
			return err
		}
		pol.SetRules(rules)
		slog.Info("policy rules loaded", "path", cfg.PolicyFile, "count", len(rules))
	}

	analyzer := correlation.NewAnalyzer(correlation.Deps{
		Store:   store,
		Policy:  pol,
		Workers: cfg.Workers,
	})
	defer analyzer.Close()

	var feeds *threat.FeedScheduler
	if len(cfg.FeedPaths) > 0 {
		etl, err := threat.NewFileETL(store, cfg.FeedPaths)
		if err != nil {
			return err
		}
		threat.RunAndLog(ctx, etl)
		if cfg.FeedSchedule != "" {
			feeds = threat.NewFeedScheduler(ctx, etl)
			if err := feeds.AddSchedule(cfg.FeedSchedule); err != nil {
				return err
			}
			feeds.Start()
		}
	}

	srv := server.New(analyzer, store, cfg)
	if cfg.MetricsAddr != "" {
		srv.StartMetrics(cfg.MetricsAddr)
	}

	errCh := make(chan error, 2)
	go func() { errCh <- srv.StartHTTP() }()
	if cfg.GRPCAddr != "" {
		go func() { errCh <- srv.StartGRPC(cfg.GRPCAddr) }()
	}

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err = <-errCh:
		slog.Error("listener failed", "err", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	var errs []error
	if feeds != nil {
		errs = append(errs, feeds.Stop(shutdownCtx))
	}
	errs = append(errs, srv.Shutdown(shutdownCtx), err)
	return errors.Join(errs...)
}

// openStore returns a Redis store when an address is configured and the
// in-memory store otherwise.
func openStore(ctx context.Context, cfg *server.Config) (threat.IndicatorStore, func(), error) {
	if cfg.RedisAddr == "" {
		slog.Info("using in-memory indicator store")
		return threat.NewMemoryStore(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	store := threat.NewRedisStore(client, cfg.RedisPrefix)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		client.Close()
		return nil, nil, err
	}
	slog.Info("using redis indicator store", "addr", cfg.RedisAddr, "prefix", cfg.RedisPrefix)
	return store, func() { client.Close() }, nil
}
