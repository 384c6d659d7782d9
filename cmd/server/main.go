// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"todocore/internal/api"
	"todocore/internal/bus"
	"todocore/internal/clock"
	"todocore/internal/config"
	"todocore/internal/middleware"
	"todocore/internal/repository"
	"todocore/internal/service"
	"todocore/internal/ws"
	"todocore/pkg/auth"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.ValidateConfig(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("connecting to database")
	db, err := repository.Connect(ctx, cfg.Database.URL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	tokenManager, err := auth.NewTokenManager(cfg.Auth.SharedSecret, cfg.Auth.TokenTTL)
	if err != nil {
		logger.Fatal("failed to initialize token manager", zap.Error(err))
	}

	clk := clock.Real{}
	secLog := service.NewSecurityLogger(logger)

	// Persistence.
	outboxRepo := repository.NewOutboxRepository(db)
	taskRepo := repository.NewTaskRepository(db, outboxRepo)
	userRepo := repository.NewUserRepository(db)
	reminderRepo := repository.NewReminderRepository(db)
	processedRepo := repository.NewProcessedEventRepository(db)

	// Event plumbing: outbox relay feeds the sink, the dispatcher runs
	// consumers behind the idempotency ledger.
	sink := bus.NewMemorySink(logger.Named("bus"))
	defer sink.Close()
	relay := repository.NewRelay(db, sink, time.Second, cfg.Bus.PublishTimeout, logger.Named("relay"))
	go relay.Run(ctx)

	dispatcher := bus.NewDispatcher(sink, processedRepo,
		cfg.Bus.MaxAttempts, cfg.Bus.BaseBackoff, cfg.Bus.MaxBackoff, logger.Named("dispatcher"))

	// Services.
	taskService := service.NewTaskService(taskRepo, clk, logger.Named("tasks"))
	authService := service.NewAuthService(userRepo, tokenManager, secLog, clk)
	reminderService := service.NewReminderService(reminderRepo, sink, clk, logger.Named("reminders"))
	recurrenceService := service.NewRecurrenceService(taskService, sink, clk, logger.Named("recurrence"))
	hub := ws.NewHub(cfg.Sync.PingInterval, cfg.Sync.IdleTimeout, cfg.Sync.SendTimeout, clk, logger.Named("sync"))

	reminderService.Register(dispatcher)
	recurrenceService.Register(dispatcher)
	hub.Register(dispatcher)

	// Background jobs.
	scheduler := service.NewSchedulerService()
	if _, err := scheduler.ScheduleInterval(cfg.Scheduler.SweepInterval, func() {
		tickCtx, cancel := context.WithTimeout(context.Background(), cfg.Scheduler.TickTimeout)
		defer cancel()
		if err := reminderService.Sweep(tickCtx); err != nil {
			logger.Error("reminder sweep failed", zap.Error(err))
		}
	}); err != nil {
		logger.Fatal("failed to schedule reminder sweep", zap.Error(err))
	}
	if _, err := scheduler.ScheduleInterval(time.Hour, func() {
		tickCtx, cancel := context.WithTimeout(context.Background(), cfg.Scheduler.TickTimeout)
		defer cancel()
		reaped, err := processedRepo.Reap(tickCtx, cfg.Scheduler.LedgerTTL)
		if err != nil {
			logger.Error("ledger reap failed", zap.Error(err))
			return
		}
		if reaped > 0 {
			logger.Info("reaped processed events", zap.Int64("count", reaped))
		}
	}); err != nil {
		logger.Fatal("failed to schedule ledger reap", zap.Error(err))
	}
	scheduler.Start()
	defer scheduler.Stop()

	limiter := middleware.NewLimiter(cfg.RateLimit, clk)
	limiter.Start()
	defer limiter.Stop()

	router := api.NewRouter(api.Handlers{
		Auth:   api.NewAuthHandler(authService),
		Tasks:  api.NewTaskHandler(taskService),
		Health: api.NewHealthHandler(db),
		WS:     api.NewWSHandler(hub, tokenManager, secLog, logger.Named("ws")),
	}, tokenManager, secLog, limiter, logger)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.HTTPPort,
		Handler: router,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	hub.Shutdown()

	logger.Info("server stopped")
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsDevelopment() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
