package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/nimasrn/engagement-reseller/internal/catalog"
	"github.com/nimasrn/engagement-reseller/internal/config"
	gateway "github.com/nimasrn/engagement-reseller/internal/gateways"
	"github.com/nimasrn/engagement-reseller/internal/handlers"
	"github.com/nimasrn/engagement-reseller/internal/ledger"
	"github.com/nimasrn/engagement-reseller/internal/notify"
	"github.com/nimasrn/engagement-reseller/internal/pricing"
	"github.com/nimasrn/engagement-reseller/internal/queue"
	"github.com/nimasrn/engagement-reseller/internal/reconciler"
	"github.com/nimasrn/engagement-reseller/internal/repository"
	"github.com/nimasrn/engagement-reseller/internal/services"
	xhttp "github.com/nimasrn/engagement-reseller/pkg/http"
	"github.com/nimasrn/engagement-reseller/pkg/logger"
	"github.com/nimasrn/engagement-reseller/pkg/pg"
	"github.com/nimasrn/engagement-reseller/pkg/prom"
	"github.com/nimasrn/engagement-reseller/pkg/redis"
	"github.com/shopspring/decimal"
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
	logger.Info("starting api", "version", version, "commit", commit, "date", date)

	// transport (tcp for now)
	s := xhttp.NewServer(xhttp.DefaultServerOption.WithBuffers(cfg.HttpServerReadBufSize, cfg.HttpServerWriteBufSize))
	s.Use(xhttp.RequestIDMiddleware)
	s.Use(xhttp.RequestLoggerMiddleware)
	s.Use(xhttp.MetricsMiddleware(prom.ObserveHTTPRequest))
	s.Use(xhttp.CompressMiddleware(6))
	s.Use(xhttp.TimeoutMiddleware(cfg.HttpRequestTimeout))
	// innermost: the timeout handler runs the rest on its own goroutine
	s.Use(xhttp.RecoverMiddleware)
	s.Router = xhttp.CreateDefaultRouter()

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
		ClientName: "default",
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
	if err = prom.Create(hostname, cfg.AppEnv, cfg.PromNamespace); err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}
	if cfg.AppDebugMetricsAddr != "" {
		go prom.ListenAndServer(cfg.AppDebugMetricsAddr, cfg.AppDebugMetricsURI)
	}

	// repositories
	userRepo := repository.NewUserRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	transactionRepo := repository.NewTransactionRepository(db)
	invoiceRepo := repository.NewInvoiceRepository(db)
	pricingRuleRepo := repository.NewPricingRuleRepository(db)
	integrationLogRepo := repository.NewIntegrationLogRepository(db)

	integrationLog := services.NewIntegrationLog(integrationLogRepo, cfg.IntegrationLogBuffer, cfg.IntegrationLogWorkers)
	integrationLog.Start()
	defer integrationLog.Close()

	provider, err := gateway.NewClient(&gateway.Config{
		BaseURL:                 cfg.ProviderURL,
		APIKey:                  cfg.ProviderAPIKey,
		Timeout:                 cfg.ProviderTimeout,
		MaxAttempts:             cfg.ProviderMaxAttempts,
		BaseDelay:               cfg.ProviderRetryBaseDelay,
		MaxConns:                512,
		ReadBufferSize:          1024 * 16,
		WriteBufferSize:         1024 * 4,
		CircuitBreakerThreshold: cfg.ProviderCircuitBreakerThreshold,
		CircuitBreakerTimeout:   cfg.ProviderCircuitBreakerTimeout,
		Observer:                integrationLog,
	})
	if err != nil {
		logger.Error("failed to create provider gateway", "error", err)
		return
	}

	notifyQueue, err := queue.NewQueue(redisAdap, queue.QueueConfig{
		Name:          cfg.NotifyQueueName,
		ConsumerGroup: cfg.QueueConsumerGroup,
		MaxLen:        cfg.QueueMaxLen,
	})
	if err != nil {
		logger.Error("failed creating notification queue", "error", err)
		return
	}
	publisher := notify.NewPublisher(notifyQueue, 1000, 2)
	publisher.Start()
	defer publisher.Close()

	serviceCatalog := catalog.New(provider, catalog.Options{
		TTL:       cfg.CatalogTTL,
		Snapshots: redisAdap,
	})

	flatRate, err := decimal.NewFromString(cfg.PricingFlatRate)
	if err != nil {
		logger.Error("invalid PRICING_FLAT_RATE", "value", cfg.PricingFlatRate, "error", err)
		return
	}
	resolver, err := pricing.NewResolver(pricingRuleRepo, userRepo, pricing.Options{FlatRate: flatRate})
	if err != nil {
		logger.Error("failed to create pricing resolver", "error", err)
		return
	}

	multiplier, err := decimal.NewFromString(cfg.InvoiceMultiplier)
	if err != nil {
		logger.Error("invalid INVOICE_MULTIPLIER", "value", cfg.InvoiceMultiplier, "error", err)
		return
	}
	invoiceService, err := services.NewInvoiceService(invoiceRepo, orderRepo, db, services.InvoiceServiceConfig{
		Multiplier:    multiplier,
		Currency:      cfg.InvoiceCurrency,
		SnowflakeNode: cfg.SnowflakeNode,
	})
	if err != nil {
		logger.Error("failed to create invoice service", "error", err)
		return
	}

	credits := ledger.New(userRepo, transactionRepo, db)
	checker := reconciler.New(orderRepo, provider, publisher, reconciler.Config{})

	// services
	orderService := services.NewOrderService(services.OrderServiceDeps{
		Users:        userRepo,
		Orders:       orderRepo,
		Transactions: transactionRepo,
		Catalog:      serviceCatalog,
		Pricing:      resolver,
		Ledger:       credits,
		Gateway:      provider,
		Invoicer:     invoiceService,
		Checker:      checker,
		Notifier:     publisher,
	}, services.OrderServiceConfig{
		AutoInvoice:        cfg.InvoiceAuto,
		LowCreditThreshold: cfg.LowCreditThreshold,
	})
	accountService := services.NewAccountService(userRepo, credits, invoiceService)
	healthService := services.NewHealthService(map[string]services.Pinger{
		"postgres": db,
		"redis":    redisAdap,
	})

	// warm the catalog; a failure here is served from the snapshot or retried on first use
	warmCtx, cancel := context.WithTimeout(context.Background(), cfg.ProviderTimeout)
	if err := serviceCatalog.Refresh(warmCtx); err != nil {
		logger.Warn("catalog warm-up failed", "error", err)
	}
	cancel()

	// v1 handlers
	g := s.Router.Group("/api/v1")
	handlers.RegisterOrderRoutes(g, handlers.NewOrderHandler(orderService))
	handlers.RegisterInvoiceRoutes(g, handlers.NewInvoiceHandler(invoiceService, orderService))
	handlers.RegisterAccountRoutes(g, handlers.NewAccountHandler(accountService))
	handlers.RegisterProviderRoutes(g, handlers.NewProviderHandler(orderService, integrationLog).WithStats(provider))
	handlers.RegisterHealthRoutes(g, handlers.NewHealthHandler(healthService))

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		var err = s.ListenAndServe(cfg.HttpListenAddr)
		if err != nil {
			logger.Error("error in running http-server", "error", err)
		}
	}()

	<-c
	logger.Info("shutting down api")
	s.Shutdown()
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
