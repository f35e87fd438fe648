package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"credit-billing/internal/calendar"
	"credit-billing/internal/config"
	"credit-billing/internal/handler"
	"credit-billing/internal/idempotency"
	"credit-billing/internal/jobs"
	"credit-billing/internal/repository"
	"credit-billing/internal/repository/memory"
	"credit-billing/internal/service"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load configuration: %v", err)
	}
	logger.SetLevel(cfg.LogLevel)

	cal, err := calendar.LoadJalali(cfg.BillingTimezone)
	if err != nil {
		logger.Fatalf("failed to load billing calendar: %v", err)
	}

	ctx := context.Background()

	var (
		store  service.Store
		wallet service.TransactionSource
		users  service.UserDirectory
	)
	switch cfg.StorageDriver {
	case config.StorageDriverMemory:
		logger.Warn("using in-memory storage, data is lost on restart")
		mem := memory.NewStore()
		store, wallet, users = mem, mem, mem
	default:
		db, err := sql.Open("postgres", cfg.DSN())
		if err != nil {
			logger.Fatalf("failed to open database: %v", err)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			logger.Fatalf("failed to reach database: %v", err)
		}
		if err := repository.Migrate(ctx, db); err != nil {
			logger.Fatalf("failed to apply schema: %v", err)
		}
		store = repository.NewStore(db, cfg.DBLockTimeout, logger)
		wallet = repository.NewTransactionRepository(db, logger)
		users = repository.NewUserRepository(db, logger)
	}

	var (
		keeper idempotency.Keeper = idempotency.NewMemoryKeeper(cfg.IdempotencyTTL)
		locker jobs.Locker        = jobs.NewLocalLocker()
	)
	if cfg.RedisURL != "" {
		client, err := idempotency.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatalf("failed to connect to redis: %v", err)
		}
		defer client.Close()
		keeper = idempotency.NewRedisKeeper(client, cfg.IdempotencyTTL, logger)
		locker = jobs.NewRedisLocker(client)
		logger.Info("redis connected")
	}

	var (
		notifier service.Notifier = service.NopNotifier{}
		mailer   *service.EmailSender
	)
	if cfg.SMTP.Enabled {
		mailer = service.NewEmailSender(cfg.SMTP, users, logger)
		notifier = mailer
	}

	logger.Info("initializing services...")
	statementService := service.NewStatementService(store, wallet, cal, cfg.Rates, logger, service.WithNotifier(notifier))
	billingService := service.NewBillingService(statementService, logger)
	creditService := service.NewCreditService(store, cfg.Rates, nil, nil, logger)
	billingCycle := service.NewBillingCycle(statementService, logger)
	authService := service.NewAuthService(cfg.JWTSecret, cfg.TokenExpiry, logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	jobCfg := cfg.Jobs
	jobCfg.Location = cal.Location()
	runner := jobs.NewRunner(billingCycle, jobCfg, locker, jobs.NewMetrics(registry), logger)
	if err := runner.Start(); err != nil {
		logger.Fatalf("failed to start job scheduler: %v", err)
	}

	if cfg.JobToken == "" {
		logger.Warn("JOB_TOKEN is not set, internal API is disabled")
	}
	router := handler.NewRouter(handler.Routes{
		Statements: handler.NewStatementHandler(billingService, keeper, logger),
		Credit:     handler.NewCreditHandler(creditService, logger),
		Internal:   handler.NewInternalHandler(statementService, creditService, runner, logger),
		Tokens:     authService,
		JobToken:   cfg.JobToken,
		Metrics:    promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}, logger)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("starting server on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("failed to stop server: %v", err)
	}
	select {
	case <-runner.Stop().Done():
	case <-shutdownCtx.Done():
		logger.Warn("running jobs did not finish before shutdown timeout")
	}
	if mailer != nil {
		if err := mailer.Close(shutdownCtx); err != nil {
			logger.Warnf("pending emails were not sent before shutdown: %v", err)
		}
	}
	logger.Info("server stopped")
}
