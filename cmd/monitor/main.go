package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/yukun80/Quant-Gutao-chaodi/internal/app/monitor"
	alertv1 "github.com/yukun80/Quant-Gutao-chaodi/internal/domain/alert/v1"
	"github.com/yukun80/Quant-Gutao-chaodi/internal/infrastructure/archive"
	"github.com/yukun80/Quant-Gutao-chaodi/internal/infrastructure/calendar"
	"github.com/yukun80/Quant-Gutao-chaodi/internal/infrastructure/eastmoney"
	"github.com/yukun80/Quant-Gutao-chaodi/internal/infrastructure/notifier"
	"github.com/yukun80/Quant-Gutao-chaodi/internal/infrastructure/pool"
	"github.com/yukun80/Quant-Gutao-chaodi/internal/infrastructure/stream"
	"github.com/yukun80/Quant-Gutao-chaodi/internal/usecase/session"
	"github.com/yukun80/Quant-Gutao-chaodi/pkg/config"
	"github.com/yukun80/Quant-Gutao-chaodi/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zlog, err := logger.New(cfg.App.LogLevel, cfg.App.Environment)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer zlog.Sync()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	universe := pool.NewHTTPUniverse(cfg.Pool, zlog)
	registry := pool.NewRegistry(cfg.Pool, universe, rdb, zlog)
	fetcher := eastmoney.NewFetcher(cfg.Fetch, zlog)
	cal := calendar.New(cfg.Calendar, zlog)

	var sinks []alertv1.Sink
	var textNotifier monitor.TextNotifier
	if cfg.DingTalk.Enabled {
		ding := notifier.NewDingTalk(cfg.DingTalk, zlog)
		sinks = append(sinks, ding)
		textNotifier = ding
	}
	if cfg.Kafka.Enabled {
		publisher := stream.NewPublisher(cfg.Kafka, zlog)
		defer publisher.Close()
		sinks = append(sinks, publisher)
	}

	var alertArchive monitor.AlertArchive
	if cfg.QuestDB.Enabled {
		store, err := archive.New(ctx, cfg.QuestDB, zlog)
		if err != nil {
			zlog.Fatal("failed to initialize alert archive", zap.Error(err))
		}
		defer store.Close()
		alertArchive = store
	}

	status := monitor.NewRuntimeStatus(time.Now())
	scheduler, err := monitor.NewScheduler(cfg, monitor.SchedulerDeps{
		Source:   fetcher,
		Registry: registry,
		Calendar: cal,
		Notifier: textNotifier,
		Sinks:    sinks,
		Archive:  alertArchive,
		Factory: func() (*session.Session, error) {
			return session.NewSession(session.Config{
				AskDropThreshold: cfg.Rules.AskDropThreshold,
				MinAbsDeltaAsk:   cfg.Rules.MinAbsDeltaAsk,
				ConfirmMinutes:   cfg.Rules.ConfirmMinutes,
			}, zlog)
		},
		Status: status,
		Log:    zlog,
	})
	if err != nil {
		zlog.Fatal("failed to build scheduler", zap.Error(err))
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.App.Port),
		Handler: monitor.NewRouter(status),
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Error("status server failed", zap.Error(err))
		}
	}()

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				status.MarkHeartbeat(now)
			}
		}
	}()

	zlog.Info("monitor started",
		zap.String("app", cfg.App.Name),
		zap.String("environment", cfg.App.Environment),
		zap.Int("port", cfg.App.Port),
		zap.String("window", cfg.Window.LiveStart+"-"+cfg.Window.LiveEnd))

	if err := scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		zlog.Error("scheduler stopped", zap.Error(err))
	}

	zlog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Error("status server shutdown failed", zap.Error(err))
	}
}
