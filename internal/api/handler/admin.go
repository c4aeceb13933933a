package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/entitlement_server/internal/api/middleware"
	"github.com/qs3c/entitlement_server/internal/model/dto"
	"github.com/qs3c/entitlement_server/internal/pkg/response"
	"github.com/qs3c/entitlement_server/internal/service"
)

type AdminHandler struct {
	subscriptions *service.SubscriptionService
	settings      *service.SettingService
	apiKeys       *service.APIKeyService
}

func NewAdminHandler(subscriptions *service.SubscriptionService, settings *service.SettingService, apiKeys *service.APIKeyService) *AdminHandler {
	return &AdminHandler{
		subscriptions: subscriptions,
		settings:      settings,
		apiKeys:       apiKeys,
	}
}

// ListSubscriptions 订阅列表
// GET /api/v1/admin/subscriptions
func (h *AdminHandler) ListSubscriptions(c *gin.Context) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	var req dto.ListSubscriptionsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}
	if req.Page < 1 {
		req.Page = 1
	}
	if req.PageSize < 1 {
		req.PageSize = 20
	}

	items, total, err := h.subscriptions.List(c.Request.Context(), actor, &req)
	if err != nil {
		response.Fail(c, err)
		return
	}

	response.SuccessPage(c, total, req.Page, req.PageSize, items)
}

// ListRefunds 某订阅的退款记录
// GET /api/v1/admin/subscriptions/:id/refunds
func (h *AdminHandler) ListRefunds(c *gin.Context) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	refunds, err := h.subscriptions.ListRefunds(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		response.Fail(c, err)
		return
	}

	response.Success(c, gin.H{"refunds": refunds})
}

// ListSettings 全部设置
// GET /api/v1/admin/settings
func (h *AdminHandler) ListSettings(c *gin.Context) {
	settings, err := h.settings.List(c.Request.Context())
	if err != nil {
		response.Fail(c, err)
		return
	}

	response.Success(c, gin.H{"settings": settings})
}

// GetSetting 单个设置
// GET /api/v1/admin/settings/:key
func (h *AdminHandler) GetSetting(c *gin.Context) {
	setting, err := h.settings.Get(c.Request.Context(), c.Param("key"))
	if err != nil {
		response.Fail(c, err)
		return
	}

	response.Success(c, setting)
}

// UpdateSetting 修改设置
// PUT /api/v1/admin/settings/:key
func (h *AdminHandler) UpdateSetting(c *gin.Context) {
	var req dto.UpdateSettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	setting, err := h.settings.Set(c.Request.Context(), c.Param("key"), req.Value)
	if err != nil {
		response.Fail(c, err)
		return
	}

	response.SuccessWithMessage(c, "setting updated", setting)
}

// ListAPIKeys API Key 列表
// GET /api/v1/admin/api-keys
func (h *AdminHandler) ListAPIKeys(c *gin.Context) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	keys, err := h.apiKeys.List(c.Request.Context(), actor)
	if err != nil {
		response.Fail(c, err)
		return
	}

	response.Success(c, gin.H{"api_keys": keys})
}

// CreateAPIKey 创建 API Key
// POST /api/v1/admin/api-keys
func (h *AdminHandler) CreateAPIKey(c *gin.Context) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	var req dto.CreateAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	created, err := h.apiKeys.Create(c.Request.Context(), actor, &req)
	if err != nil {
		response.Fail(c, err)
		return
	}

	response.SuccessWithMessage(c, "api key created, store it now: it will not be shown again", created)
}

// RevokeAPIKey 吊销 API Key
// DELETE /api/v1/admin/api-keys/:id
func (h *AdminHandler) RevokeAPIKey(c *gin.Context) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "invalid api key id")
		return
	}

	if err := h.apiKeys.Revoke(c.Request.Context(), actor, id); err != nil {
		response.Fail(c, err)
		return
	}

	response.SuccessWithMessage(c, "api key revoked", nil)
}
