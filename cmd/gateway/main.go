package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/treyvum/smsgate/internal/channel"
	"github.com/treyvum/smsgate/internal/config"
	"github.com/treyvum/smsgate/internal/forwarder"
	"github.com/treyvum/smsgate/internal/httpserver"
	"github.com/treyvum/smsgate/internal/logging"
	"github.com/treyvum/smsgate/internal/smpp"
	"github.com/treyvum/smsgate/internal/sms"
	"github.com/treyvum/smsgate/internal/store"
	"github.com/treyvum/smsgate/internal/workers"
	"github.com/treyvum/smsgate/pkg/segmenter"
)

func main() {
	appCtx, rootCancel := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer rootCancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logLevel := slog.LevelInfo
	if cfg.LogLevel == "debug" {
		logLevel = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: logLevel <= slog.LevelDebug,
	}
	baseHandler := slog.NewJSONHandler(os.Stdout, opts)
	slog.SetDefault(slog.New(logging.NewContextHandler(baseHandler)))
	slog.Info("logging initialized", "level", logLevel.String())

	// Message and config storage: postgres when configured, in-memory for
	// development.
	var (
		messages store.MessageStore
		configs  store.ChannelConfigStore
	)
	if cfg.DatabaseURL != "" {
		dbpool, err := pgxpool.New(appCtx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("unable to connect to database", slog.Any("error", err))
			os.Exit(1)
		}
		defer dbpool.Close()
		if err := dbpool.Ping(appCtx); err != nil {
			slog.Error("failed to ping database", slog.Any("error", err))
			os.Exit(1)
		}
		slog.Info("database connection pool established")
		pg := store.NewPostgres(dbpool)
		messages, configs = pg, pg
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store")
		mem := store.NewMemory()
		messages, configs = mem, mem
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(appCtx).Err(); err != nil {
		slog.Warn("redis unreachable, status callbacks limited to stored urls", slog.Any("error", err))
	}

	clock := store.SystemClock{}
	statusForwarder := forwarder.New(redisClient)

	// Receipt path: session sink -> router -> aggregator -> forwarder.
	aggregator := sms.NewAggregator(messages, clock)
	router := sms.NewRouter(messages, aggregator, clock, statusForwarder)

	registry := channel.NewRegistry(configs, channel.DefaultFactory(
		smpp.GosmppDialer{},
		segmenter.New(),
		router.Route,
	))
	defer registry.DisposeAll(context.Background())

	submitter := sms.NewSubmitter(messages, registry, clock, statusForwarder)
	escalator := sms.NewEscalator(messages, configs, clock, statusForwarder)

	workerManager := workers.NewManager(messages, configs, clock, submitter, escalator, workers.Config{
		DispatchInterval:   cfg.Worker.DispatchInterval,
		DispatchBatchSize:  cfg.Worker.DispatchBatchSize,
		EscalatorInterval:  cfg.Worker.EscalatorInterval,
		EscalatorBatchSize: cfg.Worker.EscalatorBatchSize,
	})
	workerManager.Start(appCtx)

	admin := httpserver.NewAdmin(cfg.Admin, registry, messages)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := admin.Start(); err != nil {
			slog.Error("admin server failed", slog.Any("error", err))
			rootCancel()
		}
	}()

	<-appCtx.Done()
	slog.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := admin.Shutdown(shutdownCtx); err != nil {
		slog.Error("admin server shutdown failed", slog.Any("error", err))
	}

	wg.Wait()
	slog.Info("gateway stopped")
}
