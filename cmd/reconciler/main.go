package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nimasrn/engagement-reseller/internal/config"
	gateway "github.com/nimasrn/engagement-reseller/internal/gateways"
	"github.com/nimasrn/engagement-reseller/internal/notify"
	"github.com/nimasrn/engagement-reseller/internal/queue"
	"github.com/nimasrn/engagement-reseller/internal/reconciler"
	"github.com/nimasrn/engagement-reseller/internal/repository"
	"github.com/nimasrn/engagement-reseller/internal/services"
	"github.com/nimasrn/engagement-reseller/pkg/logger"
	"github.com/nimasrn/engagement-reseller/pkg/pg"
	"github.com/nimasrn/engagement-reseller/pkg/prom"
	"github.com/nimasrn/engagement-reseller/pkg/redis"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	defer logger.Sync()


	err := config.Load(argContainsEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}
	cfg := config.Get()
	logger.Info("starting reconciler", "version", version, "commit", commit, "date", date)

	pgDebug := false
	if cfg.AppEnv == "dev" {
		pgDebug = true
	}
	db, err := pg.CreateReadWrite(cfg.PostgresRead(), cfg.PostgresWrite(), pgDebug)
	if err != nil {
		logger.Error("failed connecting to pg", "error", err)
		return
	}

	redisAdap, err := redis.NewRedisAdapter("default", cfg.RedisUniversalKeyPrefix, &redis.Options{
		Addrs:      []string{cfg.RedisAddr},
		ClientName: "reconciler",
		DB:         cfg.RedisDatabase,
		Username:   cfg.RedisUsername,
		Password:   cfg.RedisPassword,
	})
	if err != nil {
		logger.Error("failed connecting to redis", "error", err)
		return
	}

	var hostname string
	hostname, err = os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	err = prom.Create(hostname, cfg.AppEnv, cfg.PromNamespace)
	if err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}

	go func() {
		prom.ListenAndServer(":9100", "/metrics")
	}()

	integrationLog := services.NewIntegrationLog(repository.NewIntegrationLogRepository(db), cfg.IntegrationLogBuffer, cfg.IntegrationLogWorkers)
	integrationLog.Start()

	client, err := gateway.NewClient(&gateway.Config{
		BaseURL:                 cfg.ProviderURL,
		APIKey:                  cfg.ProviderAPIKey,
		Timeout:                 cfg.ProviderTimeout,
		MaxAttempts:             cfg.ProviderMaxAttempts,
		BaseDelay:               cfg.ProviderRetryBaseDelay,
		MaxConns:                64,
		ReadBufferSize:          1024 * 64,
		WriteBufferSize:         1024 * 4,
		CircuitBreakerThreshold: cfg.ProviderCircuitBreakerThreshold,
		CircuitBreakerTimeout:   cfg.ProviderCircuitBreakerTimeout,
		Observer:                integrationLog,
	})
	if err != nil {
		logger.Error("failed to create gateway", "error", err)
		return
	}

	notifyQueue, err := queue.NewQueue(redisAdap, queue.QueueConfig{
		Name:              cfg.NotifyQueueName,
		ConsumerGroup:     cfg.QueueConsumerGroup,
		ConsumerName:      cfg.QueueConsumerName,
		MaxRetries:        cfg.QueueMaxRetries,
		VisibilityTimeout: cfg.QueueVisibilityTimeout,
		PollInterval:      cfg.QueuePollInterval,
		BatchSize:         cfg.QueueBatchSize,
		MaxLen:            cfg.QueueMaxLen,
		EnableDLQ:         cfg.QueueEnableDLQ,
	})
	if err != nil {
		logger.Error("failed creating notification queue", "error", err)
		return
	}
	publisher := notify.NewPublisher(notifyQueue, 1000, 2)
	publisher.Start()

	rec := reconciler.New(repository.NewOrderRepository(db), client, publisher, reconciler.Config{
		BatchSize: cfg.ReconcileBatchSize,
		ChunkSize: cfg.ReconcileChunkSize,
		Throttle:  cfg.ReconcileThrottle,
	})
	scheduler := reconciler.NewScheduler(rec, reconciler.NewRunLock(redisAdap, reconciler.DefaultRunLockConfig()), reconciler.SchedulerConfig{
		Interval:       cfg.ReconcileInterval,
		CoarseInterval: cfg.ReconcileCoarseInterval,
		CoarseMaxPages: cfg.ReconcileCoarseMaxPages,
	})

	// notifications published by the api and by this process are delivered here
	consumer := notify.NewConsumer(notifyQueue, notify.LogSink{})
	if err := consumer.Start(); err != nil {
		logger.Error("failed to start notification consumer", "error", err)
		return
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	scheduler.Start()

	<-c
	logger.Info("shutting down reconciler")
	scheduler.Stop()
	publisher.Close()
	if err := notifyQueue.Stop(10 * time.Second); err != nil {
		logger.Warn("notification queue did not stop cleanly", "error", err)
	}
	integrationLog.Close()
}

func argContainsEnvPath() string {
	for _, v := range os.Args {
		if strings.Contains(v, "--env=") {
			s := strings.Split(v, "=")
			if _, err := os.Open(s[1]); err != nil {
				logger.Error("failed to open the passed env file, got error" + err.Error())
				return ""
			}
			return s[1]
		}
	}
	return ""
}
