package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/qs3c/entitlement_server/internal/api/middleware"
	"github.com/qs3c/entitlement_server/internal/model/dto"
	"github.com/qs3c/entitlement_server/internal/pkg/response"
	"github.com/qs3c/entitlement_server/internal/service"
)

// IdempotencyKeyHeader 退款幂等键
const IdempotencyKeyHeader = "Idempotency-Key"

type SubscriptionHandler struct {
	lifecycle     *service.LifecycleService
	subscriptions *service.SubscriptionService
}

func NewSubscriptionHandler(lifecycle *service.LifecycleService, subscriptions *service.SubscriptionService) *SubscriptionHandler {
	return &SubscriptionHandler{
		lifecycle:     lifecycle,
		subscriptions: subscriptions,
	}
}

// Cancel 取消订阅
// POST /api/v1/subscriptions/:id/cancel
func (h *SubscriptionHandler) Cancel(c *gin.Context) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	info, err := h.lifecycle.Cancel(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		response.Fail(c, err)
		return
	}

	response.SuccessWithMessage(c, "subscription canceled", info)
}

// Reactivate 恢复订阅
// POST /api/v1/subscriptions/:id/reactivate
func (h *SubscriptionHandler) Reactivate(c *gin.Context) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	info, err := h.lifecycle.Reactivate(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		response.Fail(c, err)
		return
	}

	response.SuccessWithMessage(c, "subscription reactivated", info)
}

// Refund 管理员退款
// POST /api/v1/subscriptions/:id/refund
func (h *SubscriptionHandler) Refund(c *gin.Context) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	var req dto.RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "amount must be a positive integer and reason 3 to 500 printable characters")
		return
	}

	result, err := h.lifecycle.Refund(c.Request.Context(), c.Param("id"), service.RefundInput{
		Amount:         req.Amount,
		Reason:         req.Reason,
		IdempotencyKey: c.GetHeader(IdempotencyKeyHeader),
	}, actor)
	if err != nil {
		response.Fail(c, err)
		return
	}

	message := "refund processed"
	if result.Replayed {
		message = "refund already processed"
	}
	response.SuccessWithMessage(c, message, result)
}

// Get 获取订阅
// GET /api/v1/subscriptions/:id
func (h *SubscriptionHandler) Get(c *gin.Context) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	info, err := h.subscriptions.Get(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		response.Fail(c, err)
		return
	}

	response.Success(c, info)
}

// Me 当前用户的订阅
// GET /api/v1/subscriptions/me
func (h *SubscriptionHandler) Me(c *gin.Context) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	info, err := h.subscriptions.GetMine(c.Request.Context(), actor)
	if err != nil {
		response.Fail(c, err)
		return
	}

	response.Success(c, info)
}

// Events 生命周期事件
// GET /api/v1/subscriptions/:id/events
func (h *SubscriptionHandler) Events(c *gin.Context) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	var req dto.ListEventsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	events, err := h.subscriptions.ListEvents(c.Request.Context(), c.Param("id"), actor, req.Limit)
	if err != nil {
		response.Fail(c, err)
		return
	}

	response.Success(c, gin.H{"events": events})
}
