package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/invigilo/invigilo-backend/internal/config"
	"github.com/invigilo/invigilo-backend/internal/database"
	"github.com/invigilo/invigilo-backend/internal/grader"
	"github.com/invigilo/invigilo-backend/internal/handler"
	"github.com/invigilo/invigilo-backend/internal/logger"
	"github.com/invigilo/invigilo-backend/internal/model"
	"github.com/invigilo/invigilo-backend/internal/repository"
	"github.com/invigilo/invigilo-backend/internal/router"
	"github.com/invigilo/invigilo-backend/internal/service"
	"github.com/invigilo/invigilo-backend/internal/session"
	"github.com/invigilo/invigilo-backend/internal/validator"
	"github.com/invigilo/invigilo-backend/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting Invigilo Backend")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	userRepo := repository.NewUserRepository(pool)
	assignmentRepo := repository.NewAssignmentRepository(pool)
	sessionRepo := repository.NewSessionRepository(pool, rdb)
	monitorRepo := repository.NewMonitorRepository(pool)

	// ─── Initialize Grading Sandbox ────────────────────────────────────
	sandbox, err := grader.NewSandbox(grader.SandboxConfig{
		WorkRoot:       cfg.SandboxWorkDir,
		MemoryMB:       cfg.SandboxMemoryMB,
		CaseTimeout:    cfg.CaseTimeout,
		CompileTimeout: cfg.CompileTimeout,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to prepare grading sandbox")
	}
	engine := grader.NewEngine(sandbox, cfg.GraderWorkers, log)

	// ─── Initialize Session Registry ───────────────────────────────────
	registry := session.NewRegistry(session.Config{
		Store:            sessionRepo,
		Grader:           engine,
		Log:              log,
		AutosaveInterval: cfg.AutosaveInterval,
		AutosaveDebounce: cfg.AutosaveDebounce,
		HeartbeatTick:    cfg.HeartbeatTick,
		FinalSaveRetries: cfg.FinalSaveRetries,
	}, func(ctx context.Context, assignmentID uuid.UUID) (*model.Assignment, error) {
		return assignmentRepo.GetByID(ctx, assignmentID)
	})

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg, rdb)
	userService := service.NewUserService(userRepo, authService)
	assignmentService := service.NewAssignmentService(assignmentRepo, rdb, log)
	monitorService := service.NewMonitorService(monitorRepo, rdb, log)
	gatewayService := service.NewGatewayService(registry, assignmentService, sessionRepo, monitorService, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Auth:       handler.NewAuthHandler(authService, userService),
		Assignment: handler.NewAssignmentHandler(assignmentService, sessionRepo),
		Attempt:    handler.NewAttemptHandler(gatewayService),
		Monitor:    handler.NewMonitorHandler(assignmentService, monitorService, log),
		WS:         handler.NewWSHandler(gatewayService, log, cfg.AllowedOrigins),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())

	answerWorker := worker.NewAnswerWorker(pool, rdb, log)
	violationWorker := worker.NewViolationWorker(pool, rdb, log)
	cleanupWorker := worker.NewCleanupWorker(pool, rdb, log)

	go answerWorker.Start(workerCtx)
	go violationWorker.Start(workerCtx)
	go cleanupWorker.Start(workerCtx)

	// ─── Prewarm Redis Caches ─────────────────────────────────────────
	// Load all published assignments into Redis BEFORE accepting traffic.
	// This avoids race conditions from lazy loading under thundering herd.
	if err := assignmentService.PrewarmAllCaches(ctx); err != nil {
		log.Warn().Err(err).Msg("Cache prewarm failed")
	}

	// ─── Recover In-Flight Attempts ───────────────────────────────────
	// Rebuild session machines for attempts interrupted by the last stop.
	if err := registry.Recover(ctx); err != nil {
		log.Error().Err(err).Msg("Session recovery failed")
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Snapshot active attempts and wait for in-flight grading.
	registryCtx, registryCancel := context.WithTimeout(context.Background(), 30*time.Second)
	registry.Shutdown(registryCtx)
	registryCancel()

	// 3. Stop background workers and wait for queues to drain.
	workerCancel()
	time.Sleep(2 * time.Second) // Allow workers to drain.

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
