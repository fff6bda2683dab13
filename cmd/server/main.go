// Command cm-server starts the cross-messenger hub.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/and161185/cross-messenger/internal/config"
	"github.com/and161185/cross-messenger/internal/engine"
	"github.com/and161185/cross-messenger/internal/limiter"
	"github.com/and161185/cross-messenger/internal/migrate"
	"github.com/and161185/cross-messenger/internal/platform"
	"github.com/and161185/cross-messenger/internal/registry"
	"github.com/and161185/cross-messenger/internal/repository/postgres"
	httpserver "github.com/and161185/cross-messenger/internal/server/http"
	"github.com/and161185/cross-messenger/internal/service"
	"github.com/and161185/cross-messenger/internal/vault"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main loads configuration, runs migrations, restores platform sessions and
// serves the HTTP API until a shutdown signal arrives.
func main() {
	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Addr),
	)

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := migrate.Up(ctx, cfg.DatabaseURL); err != nil {
		logger.Fatal("migrate up", zap.Error(err))
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("pgxpool.New", zap.Error(err))
	}
	defer pool.Close()

	// Repositories
	db := &postgres.DB{Pool: pool}
	userRepo := postgres.NewUserRepo(db)
	chatRepo := postgres.NewChatRepo(db)

	lim := limiter.NewPG(pool, 15*time.Minute, 5, 15*time.Minute)

	vaultKey, err := cfg.VaultKeyBytes()
	if err != nil {
		logger.Fatal("vault key", zap.Error(err))
	}
	v, err := vault.New(vaultKey)
	if err != nil {
		logger.Fatal("vault", zap.Error(err))
	}

	// Services
	authSvc := service.NewAuthService(userRepo, []byte(cfg.JWTKey), cfg.AccessTTL, lim)

	reg := registry.New(logger)
	adapters := []platform.Adapter{
		platform.NewTelegram(logger),
		platform.NewInstagram(logger, platform.InstagramConfig{
			AppID:       cfg.InstagramAppID,
			AppSecret:   cfg.InstagramAppSecret,
			RedirectURL: cfg.InstagramRedirect,
		}),
	}
	eng := engine.New(logger, chatRepo, v, reg, adapters, engine.Options{
		BackfillLimit:    cfg.BackfillLimit,
		ListenerRetries:  cfg.ListenerRetries,
		ListenerBaseWait: cfg.ListenerBaseWait,
	})

	if err := eng.RestoreAllSessions(ctx); err != nil {
		logger.Fatal("restore sessions", zap.Error(err))
	}

	api := httpserver.New(logger, authSvc, eng, chatRepo, reg, cfg.BackfillLimit)
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", zap.Error(err))
		}
		if err := eng.Shutdown(shutdownCtx); err != nil {
			logger.Warn("engine shutdown", zap.Error(err))
		}
		reg.CloseAll()
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}

	logger.Info("shutdown complete")
}
