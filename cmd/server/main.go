package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/qs3c/entitlement_server/config"
	"github.com/qs3c/entitlement_server/internal/api"
	"github.com/qs3c/entitlement_server/internal/api/handler"
	"github.com/qs3c/entitlement_server/internal/app"
	"github.com/qs3c/entitlement_server/internal/pkg/logger"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	// 加载配置
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zl, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("Cannot initialize logger: %v", err)
	}
	defer zl.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, zl)
	if err != nil {
		zl.Fatal("Cannot initialize application", zap.Error(err))
	}
	defer a.Close()

	// 初始化 Handler
	subscriptionHandler := handler.NewSubscriptionHandler(a.Lifecycle, a.Subscriptions)
	adminHandler := handler.NewAdminHandler(a.Subscriptions, a.Settings, a.APIKeys)
	planHandler := handler.NewPlanHandler(a.Plans)
	healthHandler := handler.NewHealthHandler(map[string]handler.Pinger{
		"database": handler.DBPinger(a.DB),
		"redis": handler.PingerFunc(func(ctx context.Context) error {
			return a.Redis.Ping(ctx).Err()
		}),
	})

	// 初始化 Router
	router := api.NewRouter(
		subscriptionHandler,
		adminHandler,
		planHandler,
		healthHandler,
		a.Users,
		a.APIKeys,
		a.Metrics,
		zl,
		cfg,
	)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		zl.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zl.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Error("Server forced to shutdown", zap.Error(err))
	}
}
