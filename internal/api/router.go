package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/qs3c/entitlement_server/config"
	"github.com/qs3c/entitlement_server/internal/api/handler"
	"github.com/qs3c/entitlement_server/internal/api/middleware"
	"github.com/qs3c/entitlement_server/internal/pkg/metrics"
)

type Router struct {
	subscriptionHandler *handler.SubscriptionHandler
	adminHandler        *handler.AdminHandler
	planHandler         *handler.PlanHandler
	healthHandler       *handler.HealthHandler
	users               middleware.UserLookup
	keys                middleware.KeyAuthenticator
	metrics             *metrics.Metrics
	logger              *zap.Logger
	cfg                 *config.Config
}

func NewRouter(
	subscriptionHandler *handler.SubscriptionHandler,
	adminHandler *handler.AdminHandler,
	planHandler *handler.PlanHandler,
	healthHandler *handler.HealthHandler,
	users middleware.UserLookup,
	keys middleware.KeyAuthenticator,
	m *metrics.Metrics,
	logger *zap.Logger,
	cfg *config.Config,
) *Router {
	return &Router{
		subscriptionHandler: subscriptionHandler,
		adminHandler:        adminHandler,
		planHandler:         planHandler,
		healthHandler:       healthHandler,
		users:               users,
		keys:                keys,
		metrics:             m,
		logger:              logger,
		cfg:                 cfg,
	}
}

func (r *Router) Setup() *gin.Engine {
	if r.cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	handler.RegisterValidators()

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.Logger(r.logger))
	engine.Use(middleware.Metrics(r.metrics))
	engine.Use(middleware.CORS(r.cfg.CORS))

	engine.GET("/healthz", r.healthHandler.Healthz)
	engine.GET("/metrics", gin.WrapH(r.metrics.Handler()))

	auth := middleware.Auth(r.cfg.JWT.Secret, r.users, r.keys)

	api := engine.Group("/api/v1")
	{
		// 公开接口
		api.GET("/plans", r.planHandler.List)

		// 订阅，本人或管理员
		subs := api.Group("/subscriptions")
		subs.Use(auth)
		{
			subs.GET("/me", r.subscriptionHandler.Me)
			subs.GET("/:id", r.subscriptionHandler.Get)
			subs.GET("/:id/events", r.subscriptionHandler.Events)
			subs.POST("/:id/cancel", r.subscriptionHandler.Cancel)
			subs.POST("/:id/reactivate", r.subscriptionHandler.Reactivate)
			subs.POST("/:id/refund", middleware.RequireAdmin(), r.subscriptionHandler.Refund)
		}

		// 管理端
		admin := api.Group("/admin")
		admin.Use(auth, middleware.RequireAdmin())
		{
			admin.GET("/subscriptions", r.adminHandler.ListSubscriptions)
			admin.GET("/subscriptions/:id/refunds", r.adminHandler.ListRefunds)

			admin.GET("/settings", r.adminHandler.ListSettings)
			admin.GET("/settings/:key", r.adminHandler.GetSetting)
			admin.PUT("/settings/:key", r.adminHandler.UpdateSetting)

			admin.GET("/api-keys", r.adminHandler.ListAPIKeys)
			admin.POST("/api-keys", r.adminHandler.CreateAPIKey)
			admin.DELETE("/api-keys/:id", r.adminHandler.RevokeAPIKey)
		}
	}

	return engine
}
