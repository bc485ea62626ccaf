package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"attendance-service/internal/catalog"
	"attendance-service/internal/clock"
	"attendance-service/internal/config"
	attendanceAudit "attendance-service/internal/http-server/handlers/attendance/audit"
	attendanceBulk "attendance-service/internal/http-server/handlers/attendance/bulk"
	attendanceMark "attendance-service/internal/http-server/handlers/attendance/mark"
	attendanceOverride "attendance-service/internal/http-server/handlers/attendance/override"
	attendanceRecords "attendance-service/internal/http-server/handlers/attendance/records"
	permissionCheck "attendance-service/internal/http-server/handlers/permission/check"
	scheduleGet "attendance-service/internal/http-server/handlers/schedule/get"
	subscribeHandler "attendance-service/internal/http-server/handlers/subscribe"
	summaryRolling "attendance-service/internal/http-server/handlers/summary/rolling"
	summarySubjects "attendance-service/internal/http-server/handlers/summary/subjects"
	"attendance-service/internal/lock"
	"attendance-service/internal/pubsub"
	svc "attendance-service/internal/service"
	"attendance-service/internal/storage/memory"
	"attendance-service/internal/storage/postgres"
	"attendance-service/internal/window"
	slogpretty "attendance-service/pkg/handlers/slogPretty"
	"attendance-service/pkg/middleware/identity"
	"attendance-service/pkg/middleware/mwLogger"
	"attendance-service/pkg/sl"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/chi/v5"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-User-Id, X-User-Role, X-Section, X-Branch, X-Year")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func main() {

	cfg := config.MustLoad()

	log := setupLogger(cfg.Env)

	log.Info("Starting API", slog.String("env", cfg.Env))
	log.Debug("Debug messages are enabled")

	var store svc.Store
	var catalogStore catalog.Store
	var closeStore func() error

	// The in-memory store is selected by wiring, never by a dev-mode flag
	// inside the engine.
	if cfg.StoragePath == ":memory:" {
		mem := memory.New()
		store, catalogStore = mem, mem
		closeStore = func() error { return nil }
	} else {
		pg, err := postgres.New(cfg.StoragePath)
		if err != nil {
			log.Error("Failed to init storage", sl.Err(err))
			os.Exit(1)
		}
		store, catalogStore = pg, pg
		closeStore = pg.Close
	}

	locker, err := lock.NewRedisLock(cfg.RedisAddr)
	if err != nil {
		log.Error("Failed to init redis lock", sl.Err(err))
		os.Exit(1)
	}

	clk, err := clock.NewRedisClock(cfg.RedisAddr, cfg.ClockRefresh, cfg.ClockStaleAfter, cfg.DependencyTimeout)
	if err != nil {
		log.Error("Failed to init clock source", sl.Err(err))
		os.Exit(1)
	}

	cat := catalog.New(catalogStore, cfg.DependencyTimeout)
	windows := window.NewController(cfg.LockBuffer)
	bus := pubsub.NewBus()

	service := svc.NewService(store, cat, clk, locker, windows, bus, cfg.WindowWeeks)

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(mwLogger.New(log))
	router.Use(middleware.Recoverer)
	router.Use(middleware.URLFormat)
	router.Use(CORS)
	router.Use(identity.New)

	// Schedule
	router.Get("/schedule/today", scheduleGet.New(log, service))

	// Attendance
	router.Post("/attendance/mark", attendanceMark.New(log, service))
	router.Post("/attendance/mark-bulk", attendanceBulk.New(log, service))
	router.Post("/attendance/override", attendanceOverride.New(log, service))
	router.Get("/attendance/records", attendanceRecords.New(log, service))
	router.Get("/attendance/audit", attendanceAudit.New(log, service))

	// Summaries
	router.Get("/summary/subjects", summarySubjects.New(log, service))
	router.Get("/summary/rolling", summaryRolling.New(log, service))

	// Permission
	router.Get("/permission/check", permissionCheck.New(log, service))

	// Live updates
	router.Get("/subscribe", subscribeHandler.New(log, service.Bus()))

	serv := &http.Server{
		Addr:         cfg.Address,
		Handler:      router,
		ReadTimeout:  cfg.HTTPServer.Timeout,
		WriteTimeout: cfg.HTTPServer.Timeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	serverErrCh := make(chan error, 1)

	go func() {
		log.Info("Starting HTTP server", slog.String("addr", cfg.Address))
		if err := serv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- err
		} else {
			serverErrCh <- nil
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case err := <-serverErrCh:
		if err != nil {
			log.Error("HTTP server stopped unexpectedly", sl.Err(err))
		} else {
			log.Info("HTTP server stopped gracefully")
		}
	}

	shutdownTimeout := cfg.HTTPServer.ShutdownTimeout

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	log.Info("Shutting down HTTP server", slog.String("timeout", shutdownTimeout.String()))

	if err := serv.Shutdown(ctx); err != nil {
		log.Error("Server shutdown failed", sl.Err(err))
	} else {
		log.Info("Server shutdown complete")
	}

	if err := closeStore(); err != nil {
		log.Error("Failed to close storage", sl.Err(err))
	} else {
		log.Info("Storage closed")
	}

	if err := clk.Close(); err != nil {
		log.Error("Failed to close clock source", sl.Err(err))
	} else {
		log.Info("Clock source closed")
	}

	if err := locker.Close(); err != nil {
		log.Error("Failed to close locker", sl.Err(err))
	} else {
		log.Info("Locker closed")
	}

	log.Info("Shutdown finished, server stopped")

}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger
	switch env {
	case envLocal:
		log = setupPrettySlog()
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}

	return log
}

func setupPrettySlog() *slog.Logger {
	opts := slogpretty.PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{
			Level: slog.LevelDebug,
		},
	}

	handler := opts.NewPrettyHandler(os.Stdout)

	return slog.New(handler)
}
