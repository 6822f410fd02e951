package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lendinglibrary/internal/borrowing"
	"lendinglibrary/internal/config"
	"lendinglibrary/internal/httpx"
	"lendinglibrary/internal/policy"
	"lendinglibrary/internal/store"
)

func main() {
	config.LoadEnvFiles()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	pool, err := store.OpenPool(ctx, store.PoolConfig{
		DSN:      cfg.DatabaseDSN,
		MaxConns: cfg.DBMaxConns,
	})
	if err != nil {
		return err
	}
	defer pool.Close()
	logger.Info("database connection OK", slog.String("dsn", config.RedactDSN(cfg.DatabaseDSN)))

	uow, err := store.NewPostgres(pool, cfg.DBTimeout, logger, store.WithMaxAttempts(cfg.TxMaxAttempts))
	if err != nil {
		return err
	}
	engine := borrowing.NewEngine(uow, policy.NewPostgresRepo(pool, cfg.DBTimeout), borrowing.WithLogger(logger))

	handler := newRouter(ctx, cfg, logger, engine, pool.Ping)

	httpServer := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.String("addr", cfg.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// newRouter wires the routes and the middleware chain. ping reports database
// readiness.
func newRouter(ctx context.Context, cfg config.Config, logger *slog.Logger, engine *borrowing.Engine, ping func(context.Context) error) http.Handler {
	router := http.NewServeMux()

	router.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		pingCtx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()
		if err := ping(pingCtx); err != nil {
			httpx.JSONError(w, r, http.StatusServiceUnavailable, "NOT_READY", "database not ready", nil)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	borrowing.NewHTTPHandler(engine, logger).Register(router,
		httpx.AuthMiddleware(cfg.JWTSecret),
		httpx.RequireRole(string(borrowing.RoleStaff), string(borrowing.RoleSuperstaff)),
	)

	limiter := httpx.NewRateLimitMiddleware(ctx, cfg.RateLimitRPS, cfg.RateLimitBurst, cfg.TrustProxyHeaders)
	return httpx.Chain(router,
		httpx.RequestIDMiddleware(logger),
		httpx.AccessLogMiddleware(logger),
		httpx.RecoveryMiddleware(logger),
		httpx.SecurityHeadersMiddleware(cfg.EnableHSTS),
		httpx.CORSMiddleware(cfg.AllowedOrigins),
		limiter.Middleware,
		httpx.RequestSizeLimitMiddleware(1<<20),
	)
}
