package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/backend"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/database"
	"github.com/stemsi/exstem-proctor/internal/events"
	"github.com/stemsi/exstem-proctor/internal/handler"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/router"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
	"github.com/stemsi/exstem-proctor/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("backend", cfg.BackendURL).
		Int("violation_threshold", cfg.Proctor.ViolationThreshold).
		Bool("require_fullscreen", cfg.Proctor.RequireFullscreen).
		Msg("Starting ExStem Proctor")

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

	// ─── Event Publisher ───────────────────────────────────────────────
	pub, err := events.New(cfg.Events, log, logger.NewWatermillAdapter(log))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create event publisher")
	}

	// ─── Repositories & Services ──────────────────────────────────────
	stateRepo := repository.NewSessionStateRepository(rdb)
	monitorRepo := repository.NewMonitorRepository(pool)

	authService := service.NewAuthService(cfg, rdb)
	gateway := backend.NewClient(cfg.BackendURL, cfg.BackendTimeout, log)
	sessions := service.NewSessionService(gateway, stateRepo, pub, cfg.Proctor, log)
	monitorService := service.NewMonitorService(monitorRepo)

	openLimiter := middleware.NewRateLimiter(30, time.Minute, middleware.ByStudent)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Session:     handler.NewSessionHandler(sessions, stateRepo, log),
		WS:          handler.NewWSHandler(sessions, log, cfg.AllowedOrigins),
		Monitor:     handler.NewMonitorHandler(stateRepo, monitorService, authService, log),
		System:      handler.NewSystemHandler(pool, rdb, sessions, log),
		OpenLimiter: openLimiter,
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	starters := []func(context.Context){
		worker.NewViolationWorker(pool, rdb, log).Start,
		worker.NewAutosaveWorker(pool, rdb, log).Start,
		worker.NewQuestionOrderWorker(pool, rdb, log).Start,
		worker.NewResultWorker(pool, rdb, log).Start,
	}
	for _, start := range starters {
		workers.Add(1)
		go func() {
			defer workers.Done()
			start(workerCtx)
		}()
	}

	// Janitor for submitted sessions past their retention.
	go sessions.Run(workerCtx)

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, cfg)

	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

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

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	// 1. Stop accepting new HTTP requests. Hijacked WebSocket connections are
	//    not tracked by the server, so the sessions close them next.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Close every live session. Snapshots are flushed to Redis.
	sessions.Shutdown(shutdownCtx)

	// 3. Stop background workers and wait for their final flush.
	workerCancel()
	drained := make(chan struct{})
	go func() {
		workers.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(5 * time.Second):
		log.Warn().Msg("Workers did not drain in time")
	}

	if err := pub.Close(); err != nil {
		log.Error().Err(err).Msg("Event publisher close error")
	}
	openLimiter.Stop()

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
