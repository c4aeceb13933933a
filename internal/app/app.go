// Package app wires configuration, storage and services shared by the binaries.
package app

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs3c/entitlement_server/config"
	"github.com/qs3c/entitlement_server/internal/database"
	"github.com/qs3c/entitlement_server/internal/pkg/metrics"
	"github.com/qs3c/entitlement_server/internal/pkg/payment"
	"github.com/qs3c/entitlement_server/internal/pkg/pubsub"
	"github.com/qs3c/entitlement_server/internal/pkg/queue"
	"github.com/qs3c/entitlement_server/internal/repository"
	"github.com/qs3c/entitlement_server/internal/service"
)

type App struct {
	Config  *config.Config
	Logger  *zap.Logger
	DB      *gorm.DB
	Redis   *redis.Client
	Metrics *metrics.Metrics

	Users         *repository.UserRepository
	Processor     payment.Processor
	Notifications *queue.Queue

	Plans         *service.PlanService
	Settings      *service.SettingService
	APIKeys       *service.APIKeyService
	Lifecycle     *service.LifecycleService
	Subscriptions *service.SubscriptionService
	Entitlements  *service.EntitlementService
}

// New 按配置连接数据库与 Redis 并组装服务
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	db, err := database.NewDB(&cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("database connected", zap.String("driver", cfg.Database.Driver))

	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		closeConns(logger, db, nil)
		return nil, err
	}
	logger.Info("redis connected")

	processor, err := NewProcessor(cfg.Payment, logger)
	if err != nil {
		closeConns(logger, db, rdb)
		return nil, err
	}

	a, err := Assemble(ctx, cfg, logger, db, rdb, processor)
	if err != nil {
		closeConns(logger, db, rdb)
		return nil, err
	}
	return a, nil
}

// Assemble 用已建立的连接组装服务，并初始化缺失的设置项
func Assemble(ctx context.Context, cfg *config.Config, logger *zap.Logger, db *gorm.DB, rdb *redis.Client, processor payment.Processor) (*App, error) {
	plans, err := service.NewPlanService(cfg.Plans)
	if err != nil {
		return nil, errors.Wrap(err, "invalid plan configuration")
	}

	subRepo := repository.NewSubscriptionRepository(db)
	refundRepo := repository.NewRefundRepository(db)
	eventRepo := repository.NewEventRepository(db)
	userRepo := repository.NewUserRepository(db)

	settings := service.NewSettingService(repository.NewSettingRepository(db), cfg.Settings)
	if err := settings.Init(ctx); err != nil {
		return nil, errors.Wrap(err, "cannot initialize settings")
	}

	m := metrics.New()
	notifications := queue.NewQueue(rdb, cfg.Queue.NotificationQueue)

	opts := []service.LifecycleOption{
		service.WithPublisher(pubsub.NewPublisher(rdb)),
		service.WithNotifications(notifications),
		service.WithMetrics(m),
	}
	if cfg.Database.Serializable {
		opts = append(opts, service.WithSerializable())
	}

	return &App{
		Config:        cfg,
		Logger:        logger,
		DB:            db,
		Redis:         rdb,
		Metrics:       m,
		Users:         userRepo,
		Processor:     processor,
		Notifications: notifications,
		Plans:         plans,
		Settings:      settings,
		APIKeys:       service.NewAPIKeyService(repository.NewAPIKeyRepository(db), logger),
		Lifecycle:     service.NewLifecycleService(db, subRepo, refundRepo, eventRepo, userRepo, plans, settings, processor, logger, opts...),
		Subscriptions: service.NewSubscriptionService(subRepo, refundRepo, eventRepo, plans),
		Entitlements:  service.NewEntitlementService(subRepo, userRepo, notifications, m, logger),
	}, nil
}

// NewProcessor 根据配置选择支付方实现，并包上熔断器
func NewProcessor(cfg config.PaymentConfig, logger *zap.Logger) (payment.Processor, error) {
	var next payment.Processor
	switch cfg.Provider {
	case "stripe":
		if cfg.StripeSecretKey == "" {
			return nil, errors.New("payment.stripe_secret_key is required for the stripe provider")
		}
		next = payment.NewStripe(payment.NewStripeClient(cfg.StripeSecretKey), logger)
	case "", "stub":
		logger.Warn("using the stub payment processor, no money will move")
		next = payment.NewStub()
	default:
		return nil, fmt.Errorf("unsupported payment provider %q", cfg.Provider)
	}

	return payment.NewBreaker(next, payment.BreakerSettings{
		Name:             "payment-" + cfg.Provider,
		FailureThreshold: cfg.BreakerFailures,
		HalfOpenRequests: cfg.BreakerHalfOpens,
		OpenTimeout:      cfg.BreakerTimeout,
	}, logger), nil
}

// Close 释放连接
func (a *App) Close() {
	closeConns(a.Logger, a.DB, a.Redis)
}

func closeConns(logger *zap.Logger, db *gorm.DB, rdb *redis.Client) {
	if rdb != nil {
		if err := rdb.Close(); err != nil {
			logger.Warn("failed to close redis", zap.Error(err))
		}
	}
	if db == nil {
		return
	}
	if sqlDB, err := db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			logger.Warn("failed to close database", zap.Error(err))
		}
	}
}
