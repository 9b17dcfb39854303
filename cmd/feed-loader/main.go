package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"mtdguard/internal/server"
	"mtdguard/internal/threat"
)

func main() {
	var (
		schedule = flag.String("schedule", "", "cron expression; run once when empty")
		timeout  = flag.Duration("timeout", 2*time.Minute, "timeout for a single run")
	)
	flag.Parse()

	cfg, err := server.LoadConfig()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	server.InitLogging("feed-loader", cfg)

	feeds := append(cfg.FeedPaths, flag.Args()...)
	if len(feeds) == 0 {
		slog.Error("no feeds given; pass feed specs as arguments or set MTD_FEED_PATHS")
		os.Exit(2)
	}
	if *schedule == "" {
		*schedule = cfg.FeedSchedule
	}

	var store threat.IndicatorStore = threat.NewMemoryStore()
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer client.Close()
		store = threat.NewRedisStore(client, cfg.RedisPrefix)
	} else {
		slog.Warn("no redis address configured; indicators are kept in memory and discarded on exit")
	}

	etl, err := threat.NewFileETL(store, feeds)
	if err != nil {
		slog.Error("build feeds", "err", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *schedule == "" {
		runCtx, cancel := context.WithTimeout(ctx, *timeout)
		report := threat.RunAndLog(runCtx, etl)
		cancel()
		if err := json.NewEncoder(os.Stdout).Encode(report); err != nil {
			slog.Error("write report", "err", err)
		}
		return
	}

	scheduler := threat.NewFeedScheduler(ctx, etl)
	if err := scheduler.AddSchedule(*schedule); err != nil {
		slog.Error("schedule feeds", "err", err)
		os.Exit(2)
	}
	scheduler.Start()
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	if err := scheduler.Stop(stopCtx); err != nil {
		slog.Warn("feed scheduler stop", "err", err)
	}
}
