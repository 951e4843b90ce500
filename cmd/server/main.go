package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"recovery-service/config"
	"recovery-service/internal/api"
	"recovery-service/internal/broker"
	"recovery-service/internal/outcome"
	"recovery-service/internal/provider"
	"recovery-service/internal/redisclient"
	"recovery-service/internal/service"
	"recovery-service/internal/store"
	"recovery-service/internal/store/memory"
	"recovery-service/internal/summarizer"
	"recovery-service/internal/util"
	"recovery-service/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const serviceName = "recovery-service"

func main() {

	cfg := config.Load()

	if err := util.InitLogger(util.LoggerOptions{
		Service: serviceName,
		Env:     cfg.Server.Env,
		Level:   cfg.Observ.LogLevel,
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}
	logger.Info("Starting recovery service", zap.String("env", cfg.Server.Env))

	if cfg.Observ.TracingEnabled {
		tp, err := util.InitTracer(util.TracerOptions{
			Service:     serviceName,
			Env:         cfg.Server.Env,
			Endpoint:    cfg.Observ.JaegerEndpoint,
			SampleRatio: cfg.Observ.TraceSampleRatio,
		})
		if err != nil {
			logger.Fatal("Failed to initialize tracer", zap.Error(err))
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(ctx); err != nil {
				logger.Warn("Error shutting down tracer", zap.Error(err))
			}
		}()
	}

	var repo store.Repository
	if cfg.Database.Driver == "memory" {
		repo = memory.New()
		logger.Warn("Using in-memory store; data is lost on restart")
	} else {
		db, err := store.NewStore(cfg.Database.URL)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()
		if err := db.Migrate(context.Background()); err != nil {
			logger.Fatal("Failed to migrate database", zap.Error(err))
		}
		repo = db
		logger.Info("Database connected")
	}

	var redisClient *redisclient.Client
	var locker service.Locker
	if cfg.Redis.Enabled {
		rc, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Warn("Redis unavailable, continuing without it", zap.Error(err))
		} else {
			defer rc.Close()
			redisClient = rc
			locker = rc
			logger.Info("Redis connected")
		}
	}

	var publisher broker.Publisher = broker.NopPublisher{}
	if cfg.Kafka.Enabled {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicCallEvents)
		defer producer.Close()
		publisher = broker.NewEventPublisher(producer)
		logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicCallEvents))
	}

	var caller provider.Caller
	switch cfg.Provider.Name {
	case "sim":
		caller = provider.NewSimulator(cfg.Provider.SimSuccessRate, 2*time.Second)
	default:
		caller = provider.NewVapiClient(provider.VapiConfig{
			BaseURL:   cfg.Provider.BaseURL,
			APIKey:    cfg.Provider.APIKey,
			ServerURL: cfg.Provider.ServerURL,
			Timeout:   cfg.Provider.Timeout,
		})
	}
	logger.Info("Call provider selected", zap.String("provider", caller.Name()))

	var summarizerClient outcome.Summarizer
	if cfg.Summarizer.Enabled {
		summarizerClient = summarizer.NewClient(summarizer.Config{
			BaseURL: cfg.Summarizer.BaseURL,
			APIKey:  cfg.Summarizer.APIKey,
			Model:   cfg.Summarizer.Model,
			Timeout: cfg.Summarizer.Timeout,
		})
	}

	checkoutService := service.NewCheckoutService(repo)
	enqueuer := service.NewEnqueuer(repo, repo, publisher)
	dispatcher := service.NewDispatcher(repo, repo, repo, caller, publisher)
	conversionService := service.NewConversionService(repo, repo, repo, publisher)
	scheduler := service.NewScheduler(repo, checkoutService, enqueuer, dispatcher, locker, service.SchedulerConfig{
		AbandonAfterMinutes: cfg.Scheduler.AbandonAfterMinutes,
		DispatchLimit:       cfg.Scheduler.DispatchLimit,
		DispatchGrace:       cfg.Scheduler.DispatchGrace,
		Concurrency:         cfg.Scheduler.Concurrency,
	})
	ingestor := outcome.NewIngestor(repo, summarizerClient, publisher)
	guard := outcome.NewDeliveryGuard(redisClient, repo, 24*time.Hour)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var commerceWorker *worker.CommerceWorker
	if cfg.Kafka.Enabled {
		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicCommerce, cfg.Kafka.ConsumerGroup)
		commerceWorker = worker.NewCommerceWorker(consumer, checkoutService, conversionService)
		go func() {
			if err := commerceWorker.Start(workerCtx); err != nil && workerCtx.Err() == nil {
				logger.Error("Commerce worker error", zap.Error(err))
			}
		}()
	}

	var ticker *cron.Cron
	if cfg.Scheduler.Enabled {
		ticker = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
		_, err := ticker.AddFunc(cfg.Scheduler.Cron, func() {
			if _, err := scheduler.RunTick(workerCtx); err != nil {
				logger.Error("Scheduler tick failed", zap.Error(err))
			}
		})
		if err != nil {
			logger.Fatal("Invalid scheduler cron expression", zap.String("cron", cfg.Scheduler.Cron), zap.Error(err))
		}
		ticker.Start()
		logger.Info("Scheduler started", zap.String("cron", cfg.Scheduler.Cron))
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(api.Deps{
		Repo:          repo,
		Redis:         redisClient,
		Checkouts:     checkoutService,
		Scheduler:     scheduler,
		Dispatcher:    dispatcher,
		Conversions:   conversionService,
		Ingestor:      ingestor,
		Guard:         guard,
		Security:      cfg.Security,
		DispatchGrace: cfg.Scheduler.DispatchGrace,
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server forced to shutdown", zap.Error(err))
	}

	// Cancel first so an in-flight tick stops between jobs instead of
	// holding shutdown open.
	workerCancel()
	if ticker != nil {
		select {
		case <-ticker.Stop().Done():
		case <-shutdownCtx.Done():
			logger.Warn("Scheduler tick still running at shutdown")
		}
	}

	if commerceWorker != nil {
		if err := commerceWorker.Stop(); err != nil {
			logger.Warn("Error stopping commerce worker", zap.Error(err))
		}
	}

	logger.Info("Server exited")
}
