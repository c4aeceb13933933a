package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/qs3c/entitlement_server/internal/pkg/response"
	"github.com/qs3c/entitlement_server/internal/service"
)

type PlanHandler struct {
	plans *service.PlanService
}

func NewPlanHandler(plans *service.PlanService) *PlanHandler {
	return &PlanHandler{plans: plans}
}

// List 获取套餐列表
// GET /api/v1/plans
func (h *PlanHandler) List(c *gin.Context) {
	response.Success(c, gin.H{
		"plans": h.plans.List(),
	})
}
