// Package main запускает HTTP-сервер сервиса кудос.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mkovalev/kudos-system/internal/cache"
	"github.com/mkovalev/kudos-system/internal/config"
	"github.com/mkovalev/kudos-system/internal/handler"
	"github.com/mkovalev/kudos-system/internal/repository"
	"github.com/mkovalev/kudos-system/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	var leaderboardCache service.LeaderboardCache
	if cfg.RedisAddress != "" {
		c := cache.NewLeaderboardCache(cfg.RedisAddress)
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := c.Ping(pingCtx); err != nil {
			sugar.Warnw("redis unavailable, leaderboard cache disabled", "error", err.Error())
			c.Close()
		} else {
			leaderboardCache = c
			defer c.Close()
		}
		cancel()
	}

	svc := service.NewService(repo, leaderboardCache, cfg.RedemptionRate)
	defer svc.Close()

	h := handler.NewHandler(svc, logger)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting kudos server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
