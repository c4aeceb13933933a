package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs3c/entitlement_server/config"
	"github.com/qs3c/entitlement_server/internal/api/middleware"
	"github.com/qs3c/entitlement_server/internal/model"
	"github.com/qs3c/entitlement_server/internal/pkg/payment"
	"github.com/qs3c/entitlement_server/internal/pkg/response"
	"github.com/qs3c/entitlement_server/internal/repository"
	"github.com/qs3c/entitlement_server/internal/service"
	"github.com/qs3c/entitlement_server/internal/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
	RegisterValidators()
}

// testContext 本地测试上下文
type testContext struct {
	DB       *gorm.DB
	Stub     *payment.Stub
	Settings *service.SettingService
	Subs     *SubscriptionHandler
	Admin    *AdminHandler
	Plans    *PlanHandler
}

func setupHandlers(t *testing.T) *testContext {
	t.Helper()

	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })

	plans, err := service.NewPlanService(map[string]config.PlanConfig{
		"pro_monthly": {Name: "Pro", Price: 2000, Currency: "usd", BillingCycle: "monthly", MaxRefundable: 2000},
	})
	require.NoError(t, err)

	subRepo := repository.NewSubscriptionRepository(db)
	refundRepo := repository.NewRefundRepository(db)
	eventRepo := repository.NewEventRepository(db)
	userRepo := repository.NewUserRepository(db)

	settings := service.NewSettingService(repository.NewSettingRepository(db), nil)
	require.NoError(t, settings.Init(context.Background()))

	stub := payment.NewStub()
	lifecycle := service.NewLifecycleService(db, subRepo, refundRepo, eventRepo, userRepo, plans, settings, stub, zap.NewNop())
	subscriptions := service.NewSubscriptionService(subRepo, refundRepo, eventRepo, plans)
	apiKeys := service.NewAPIKeyService(repository.NewAPIKeyRepository(db), zap.NewNop())

	return &testContext{
		DB:       db,
		Stub:     stub,
		Settings: settings,
		Subs:     NewSubscriptionHandler(lifecycle, subscriptions),
		Admin:    NewAdminHandler(subscriptions, settings, apiKeys),
		Plans:    NewPlanHandler(plans),
	}
}

// mockAuth 直接注入调用方，跳过 JWT
func mockAuth(user *model.User) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.ActorKey, &model.Actor{UserID: user.ID, Role: user.Role})
		c.Next()
	}
}

func performRequest(r *gin.Engine, method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer
	if body != nil {
		jsonBody, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBody)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func parseResponse(t *testing.T, w *httptest.ResponseRecorder) response.Response {
	var resp response.Response
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)
	return resp
}

func dataMap(t *testing.T, resp response.Response) map[string]interface{} {
	t.Helper()
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok, "data is not an object: %#v", resp.Data)
	return data
}
