package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs3c/entitlement_server/internal/model"
	"github.com/qs3c/entitlement_server/internal/pkg/apperr"
	"github.com/qs3c/entitlement_server/internal/pkg/metrics"
	"github.com/qs3c/entitlement_server/internal/pkg/payment"
	"github.com/qs3c/entitlement_server/internal/repository"
	"github.com/qs3c/entitlement_server/internal/testutil"
)

type lifecycleEnv struct {
	db        *gorm.DB
	svc       *LifecycleService
	stub      *payment.Stub
	settings  *SettingService
	publisher *fakePublisher
	jobs      *fakeQueue
	subRepo   *repository.SubscriptionRepository
	now       time.Time
}

func setupLifecycleService(t *testing.T) *lifecycleEnv {
	t.Helper()

	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })

	env := &lifecycleEnv{
		db:        db,
		stub:      payment.NewStub(),
		publisher: &fakePublisher{},
		jobs:      &fakeQueue{},
		subRepo:   repository.NewSubscriptionRepository(db),
		now:       time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC),
	}
	env.settings = NewSettingService(repository.NewSettingRepository(db), nil)
	require.NoError(t, env.settings.Init(context.Background()))

	env.svc = NewLifecycleService(
		db,
		env.subRepo,
		repository.NewRefundRepository(db),
		repository.NewEventRepository(db),
		repository.NewUserRepository(db),
		testPlanService(t),
		env.settings,
		env.stub,
		zap.NewNop(),
		WithPublisher(env.publisher),
		WithNotifications(env.jobs),
		WithMetrics(metrics.New()),
		WithClock(func() time.Time { return env.now }),
	)
	return env
}

func (e *lifecycleEnv) reload(t *testing.T, id string) *model.Subscription {
	t.Helper()
	sub, err := e.subRepo.GetByID(context.Background(), id)
	require.NoError(t, err)
	return sub
}

func (e *lifecycleEnv) events(t *testing.T, id string) []model.SubscriptionEvent {
	t.Helper()
	events, err := repository.NewEventRepository(e.db).ListBySubscription(context.Background(), id, 0)
	require.NoError(t, err)
	return events
}

func (e *lifecycleEnv) refunds(t *testing.T, id string) []model.Refund {
	t.Helper()
	refunds, err := repository.NewRefundRepository(e.db).ListBySubscription(context.Background(), id)
	require.NoError(t, err)
	return refunds
}

func TestLifecycleService_Cancel(t *testing.T) {
	env := setupLifecycleService(t)
	ctx := context.Background()

	user := testutil.TestUser(t, env.db)
	sub := testutil.TestSubscription(t, env.db, user.ID)

	info, err := env.svc.Cancel(ctx, sub.ID, actorOf(user))
	require.NoError(t, err)

	assert.Equal(t, "CANCELED", info.Status)
	assert.True(t, info.CancelAtPeriodEnd)
	assert.True(t, info.Entitled, "access is kept until the period ends")
	assert.Equal(t, "Pro", info.PlanName)

	stored := env.reload(t, sub.ID)
	assert.Equal(t, model.StatusCanceled, stored.Status)
	assert.True(t, stored.CancelAtPeriodEnd)
	assert.Equal(t, int64(2), stored.Version)
	assert.WithinDuration(t, env.now, stored.UpdatedAt, time.Second)

	calls := env.stub.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "cancel", calls[0].Method)
	assert.Equal(t, sub.ProcessorSubscriptionID, calls[0].Ref.SubscriptionID)

	events := env.events(t, sub.ID)
	require.Len(t, events, 1)
	assert.Equal(t, model.ActionCancel, events[0].Action)
	assert.Equal(t, model.StatusActive, events[0].FromStatus)
	assert.Equal(t, model.StatusCanceled, events[0].ToStatus)
	assert.Equal(t, user.ID, events[0].ActorID)

	published := env.publisher.all()
	require.Len(t, published, 1)
	assert.Equal(t, "cancel", published[0].Action)
	assert.Equal(t, int64(2), published[0].Version)

	jobs := env.jobs.all()
	require.Len(t, jobs, 1)
	assert.Equal(t, "cancel", jobs[0].Action)
	assert.Equal(t, user.ID, jobs[0].UserID)
}

func TestLifecycleService_Cancel_Twice(t *testing.T) {
	env := setupLifecycleService(t)
	ctx := context.Background()

	user := testutil.TestUser(t, env.db)
	sub := testutil.TestSubscription(t, env.db, user.ID)

	_, err := env.svc.Cancel(ctx, sub.ID, actorOf(user))
	require.NoError(t, err)

	_, err = env.svc.Cancel(ctx, sub.ID, actorOf(user))
	assert.ErrorIs(t, err, ErrAlreadyCanceled)
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))

	assert.Len(t, env.stub.Calls(), 1, "second cancel must not reach the processor")
	assert.Equal(t, int64(2), env.reload(t, sub.ID).Version)
}

func TestLifecycleService_Cancel_PastDue(t *testing.T) {
	env := setupLifecycleService(t)

	user := testutil.TestUser(t, env.db)
	sub := testutil.TestSubscription(t, env.db, user.ID, testutil.WithStatus(model.StatusPastDue))

	info, err := env.svc.Cancel(context.Background(), sub.ID, actorOf(user))
	require.NoError(t, err)
	assert.Equal(t, "CANCELED", info.Status)
	assert.True(t, info.CancelAtPeriodEnd)
}

func TestLifecycleService_Cancel_Authorization(t *testing.T) {
	env := setupLifecycleService(t)
	ctx := context.Background()

	owner := testutil.TestUser(t, env.db)
	other := testutil.TestUser(t, env.db)
	admin := testutil.TestAdmin(t, env.db)
	sub := testutil.TestSubscription(t, env.db, owner.ID)

	t.Run("nil actor is unauthorized", func(t *testing.T) {
		_, err := env.svc.Cancel(ctx, sub.ID, nil)
		assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
	})

	t.Run("unknown role is forbidden", func(t *testing.T) {
		_, err := env.svc.Cancel(ctx, sub.ID, &model.Actor{UserID: owner.ID, Role: "superuser"})
		assert.ErrorIs(t, err, ErrUnknownRole)
	})

	t.Run("other member sees not found", func(t *testing.T) {
		_, err := env.svc.Cancel(ctx, sub.ID, actorOf(other))
		assert.ErrorIs(t, err, ErrSubscriptionNotFound)
	})

	t.Run("missing subscription", func(t *testing.T) {
		_, err := env.svc.Cancel(ctx, "does-not-exist", actorOf(admin))
		assert.ErrorIs(t, err, ErrSubscriptionNotFound)
	})

	t.Run("admin may cancel any subscription", func(t *testing.T) {
		info, err := env.svc.Cancel(ctx, sub.ID, actorOf(admin))
		require.NoError(t, err)
		assert.Equal(t, "CANCELED", info.Status)

		events := env.events(t, sub.ID)
		require.Len(t, events, 1)
		assert.Equal(t, admin.ID, events[0].ActorID)
		assert.Equal(t, model.RoleAdmin, events[0].ActorRole)
	})

	assert.Len(t, env.stub.Calls(), 1)
}

func TestLifecycleService_Cancel_ProcessorFailure(t *testing.T) {
	env := setupLifecycleService(t)

	user := testutil.TestUser(t, env.db)
	sub := testutil.TestSubscription(t, env.db, user.ID)
	env.stub.FailWith(errors.New("stripe: connection reset"))

	_, err := env.svc.Cancel(context.Background(), sub.ID, actorOf(user))
	require.Error(t, err)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))

	stored := env.reload(t, sub.ID)
	assert.Equal(t, model.StatusActive, stored.Status)
	assert.False(t, stored.CancelAtPeriodEnd)
	assert.Equal(t, int64(1), stored.Version)
	assert.Empty(t, env.events(t, sub.ID))
	assert.Empty(t, env.publisher.all())
	assert.Empty(t, env.jobs.all())
}

func TestLifecycleService_Reactivate_AfterCancel(t *testing.T) {
	env := setupLifecycleService(t)
	ctx := context.Background()

	start := env.now.AddDate(0, 0, -10)
	user := testutil.TestUser(t, env.db, testutil.WithEntitlement("pro_monthly", nil))
	sub := testutil.TestSubscription(t, env.db, user.ID, testutil.WithPeriod(start, start.AddDate(0, 1, 0)))

	_, err := env.svc.Cancel(ctx, sub.ID, actorOf(user))
	require.NoError(t, err)
	prevEnd := env.reload(t, sub.ID).CurrentPeriodEnd

	info, err := env.svc.Reactivate(ctx, sub.ID, actorOf(user))
	require.NoError(t, err)
	assert.Equal(t, "ACTIVE", info.Status)
	assert.False(t, info.CancelAtPeriodEnd)

	stored := env.reload(t, sub.ID)
	assert.Equal(t, model.StatusActive, stored.Status)
	assert.False(t, stored.CancelAtPeriodEnd)
	assert.True(t, stored.CurrentPeriodStart.Equal(env.now))
	assert.True(t, stored.CurrentPeriodEnd.Equal(env.now.AddDate(0, 1, 0)))
	assert.True(t, stored.CurrentPeriodEnd.After(prevEnd), "new period must end after the previous one")
	assert.True(t, stored.CurrentPeriodEnd.After(stored.CurrentPeriodStart))
	assert.Equal(t, int64(3), stored.Version)

	u, err := repository.NewUserRepository(env.db).GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "pro_monthly", u.EntitlementLevel)
	require.NotNil(t, u.EntitlementExpiresAt)
	assert.True(t, u.EntitlementExpiresAt.Equal(stored.CurrentPeriodEnd))

	calls := env.stub.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "resume", calls[1].Method)

	events := env.events(t, sub.ID)
	require.Len(t, events, 2)
	assert.Equal(t, model.ActionReactivate, events[0].Action)
	assert.Equal(t, model.StatusCanceled, events[0].FromStatus)
}

func TestLifecycleService_Reactivate_AlreadyActive(t *testing.T) {
	env := setupLifecycleService(t)

	user := testutil.TestUser(t, env.db)
	sub := testutil.TestSubscription(t, env.db, user.ID)

	_, err := env.svc.Reactivate(context.Background(), sub.ID, actorOf(user))
	assert.ErrorIs(t, err, ErrAlreadyActive)
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))
	assert.Empty(t, env.stub.Calls())
}

func TestLifecycleService_Reactivate_PendingCancel(t *testing.T) {
	env := setupLifecycleService(t)

	user := testutil.TestUser(t, env.db)
	sub := testutil.TestSubscription(t, env.db, user.ID, testutil.WithCancelAtPeriodEnd(true))

	info, err := env.svc.Reactivate(context.Background(), sub.ID, actorOf(user))
	require.NoError(t, err)
	assert.Equal(t, "ACTIVE", info.Status)
	assert.False(t, info.CancelAtPeriodEnd)
}

func TestLifecycleService_Reactivate_PastDue(t *testing.T) {
	env := setupLifecycleService(t)

	user := testutil.TestUser(t, env.db)
	sub := testutil.TestSubscription(t, env.db, user.ID, testutil.WithStatus(model.StatusPastDue))

	info, err := env.svc.Reactivate(context.Background(), sub.ID, actorOf(user))
	require.NoError(t, err)
	assert.Equal(t, "ACTIVE", info.Status)
	assert.True(t, info.Entitled)
}

func TestLifecycleService_Reactivate_BillingCycle(t *testing.T) {
	t.Run("yearly plan", func(t *testing.T) {
		env := setupLifecycleService(t)
		user := testutil.TestUser(t, env.db)
		start := env.now.AddDate(0, -2, 0)
		sub := testutil.TestSubscription(t, env.db, user.ID,
			testutil.WithPlan("pro_yearly"),
			testutil.WithStatus(model.StatusCanceled),
			testutil.WithPeriod(start, start.AddDate(1, 0, 0)),
		)

		_, err := env.svc.Reactivate(context.Background(), sub.ID, actorOf(user))
		require.NoError(t, err)

		stored := env.reload(t, sub.ID)
		assert.True(t, stored.CurrentPeriodEnd.Equal(env.now.AddDate(1, 0, 0)))
	})

	t.Run("previous end later than one cycle from now", func(t *testing.T) {
		env := setupLifecycleService(t)
		user := testutil.TestUser(t, env.db)
		prevEnd := env.now.AddDate(0, 2, 0)
		sub := testutil.TestSubscription(t, env.db, user.ID,
			testutil.WithStatus(model.StatusCanceled),
			testutil.WithPeriod(env.now.AddDate(0, -1, 0), prevEnd),
		)

		_, err := env.svc.Reactivate(context.Background(), sub.ID, actorOf(user))
		require.NoError(t, err)

		stored := env.reload(t, sub.ID)
		assert.True(t, stored.CurrentPeriodEnd.Equal(prevEnd.AddDate(0, 1, 0)))
		assert.True(t, stored.CurrentPeriodStart.Equal(env.now))
	})
}

func TestLifecycleService_Reactivate_NotFoundForOtherMember(t *testing.T) {
	env := setupLifecycleService(t)

	owner := testutil.TestUser(t, env.db)
	other := testutil.TestUser(t, env.db)
	sub := testutil.TestSubscription(t, env.db, owner.ID, testutil.WithStatus(model.StatusCanceled))

	_, err := env.svc.Reactivate(context.Background(), sub.ID, actorOf(other))
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)
}

func TestLifecycleService_Reactivate_ProcessorFailure(t *testing.T) {
	env := setupLifecycleService(t)

	user := testutil.TestUser(t, env.db)
	sub := testutil.TestSubscription(t, env.db, user.ID, testutil.WithStatus(model.StatusCanceled))
	env.stub.FailWith(errors.New("timeout"))

	_, err := env.svc.Reactivate(context.Background(), sub.ID, actorOf(user))
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))

	stored := env.reload(t, sub.ID)
	assert.Equal(t, model.StatusCanceled, stored.Status)
	assert.True(t, stored.CancelAtPeriodEnd)
	assert.Equal(t, int64(1), stored.Version)
	assert.Empty(t, env.events(t, sub.ID))
}

// dropEvents 让事务在支付方调用成功之后、提交之前失败
func (e *lifecycleEnv) dropEvents(t *testing.T) {
	t.Helper()
	require.NoError(t, e.db.Migrator().DropTable(&model.SubscriptionEvent{}))
}

func methods(calls []payment.Call) []string {
	out := make([]string, 0, len(calls))
	for _, c := range calls {
		out = append(out, c.Method)
	}
	return out
}

func TestLifecycleService_Cancel_CommitFailure(t *testing.T) {
	t.Run("undoes processor cancel", func(t *testing.T) {
		env := setupLifecycleService(t)
		user := testutil.TestUser(t, env.db)
		sub := testutil.TestSubscription(t, env.db, user.ID)
		env.dropEvents(t)

		_, err := env.svc.Cancel(context.Background(), sub.ID, actorOf(user))
		assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))

		stored := env.reload(t, sub.ID)
		assert.Equal(t, model.StatusActive, stored.Status)
		assert.False(t, stored.CancelAtPeriodEnd)
		assert.Equal(t, []string{"cancel", "resume"}, methods(env.stub.Calls()))
		assert.Empty(t, env.publisher.all())
	})

	t.Run("keeps pending cancel at processor", func(t *testing.T) {
		env := setupLifecycleService(t)
		user := testutil.TestUser(t, env.db)
		sub := testutil.TestSubscription(t, env.db, user.ID, testutil.WithCancelAtPeriodEnd(true))
		env.dropEvents(t)

		_, err := env.svc.Cancel(context.Background(), sub.ID, actorOf(user))
		assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))

		stored := env.reload(t, sub.ID)
		assert.Equal(t, model.StatusActive, stored.Status)
		assert.True(t, stored.CancelAtPeriodEnd)
		assert.Equal(t, []string{"cancel"}, methods(env.stub.Calls()))
	})
}

func TestLifecycleService_Reactivate_CommitFailure(t *testing.T) {
	t.Run("restores pending cancel at processor", func(t *testing.T) {
		env := setupLifecycleService(t)
		user := testutil.TestUser(t, env.db)
		sub := testutil.TestSubscription(t, env.db, user.ID, testutil.WithStatus(model.StatusCanceled))
		env.dropEvents(t)

		_, err := env.svc.Reactivate(context.Background(), sub.ID, actorOf(user))
		assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))

		stored := env.reload(t, sub.ID)
		assert.Equal(t, model.StatusCanceled, stored.Status)
		assert.True(t, stored.CancelAtPeriodEnd)
		assert.Equal(t, []string{"resume", "cancel"}, methods(env.stub.Calls()))
	})

	t.Run("past due without pending cancel", func(t *testing.T) {
		env := setupLifecycleService(t)
		user := testutil.TestUser(t, env.db)
		sub := testutil.TestSubscription(t, env.db, user.ID, testutil.WithStatus(model.StatusPastDue))
		env.dropEvents(t)

		_, err := env.svc.Reactivate(context.Background(), sub.ID, actorOf(user))
		assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))

		stored := env.reload(t, sub.ID)
		assert.Equal(t, model.StatusPastDue, stored.Status)
		assert.Equal(t, []string{"resume"}, methods(env.stub.Calls()))
	})
}

func TestLifecycleService_Refund_NonPositiveAmount(t *testing.T) {
	env := setupLifecycleService(t)
	admin := testutil.TestAdmin(t, env.db)

	states := []model.SubscriptionStatus{model.StatusActive, model.StatusCanceled, model.StatusPastDue}
	for _, status := range states {
		user := testutil.TestUser(t, env.db)
		sub := testutil.TestSubscription(t, env.db, user.ID, testutil.WithStatus(status))

		for _, amount := range []int64{0, -1, -2000} {
			_, err := env.svc.Refund(context.Background(), sub.ID, RefundInput{Amount: amount, Reason: "customer request"}, actorOf(admin))
			assert.ErrorIs(t, err, ErrInvalidAmount, "status=%s amount=%d", status, amount)
			assert.Equal(t, apperr.KindInvalidArgument, apperr.KindOf(err))
		}
	}

	_, err := env.svc.Refund(context.Background(), "missing", RefundInput{Amount: 0, Reason: "customer request"}, actorOf(admin))
	assert.ErrorIs(t, err, ErrInvalidAmount, "amount is checked before the lookup")
	assert.Empty(t, env.stub.Calls())
}

func TestLifecycleService_Refund_Authorization(t *testing.T) {
	env := setupLifecycleService(t)
	ctx := context.Background()

	user := testutil.TestUser(t, env.db)
	sub := testutil.TestSubscription(t, env.db, user.ID)
	in := RefundInput{Amount: 100, Reason: "customer request"}

	_, err := env.svc.Refund(ctx, sub.ID, in, nil)
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))

	_, err = env.svc.Refund(ctx, sub.ID, in, actorOf(user))
	assert.ErrorIs(t, err, ErrAdminOnly)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	admin := testutil.TestAdmin(t, env.db)
	_, err = env.svc.Refund(ctx, "missing", in, actorOf(admin))
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)

	assert.Empty(t, env.stub.Calls())
}

func TestLifecycleService_Refund_InvalidReason(t *testing.T) {
	env := setupLifecycleService(t)
	admin := testutil.TestAdmin(t, env.db)
	user := testutil.TestUser(t, env.db)
	sub := testutil.TestSubscription(t, env.db, user.ID)

	for _, reason := range []string{"", "  ", "ok", "bad\x00reason"} {
		_, err := env.svc.Refund(context.Background(), sub.ID, RefundInput{Amount: 100, Reason: reason}, actorOf(admin))
		assert.ErrorIs(t, err, ErrInvalidReason, "reason=%q", reason)
	}
}

func TestLifecycleService_Refund_Partial(t *testing.T) {
	env := setupLifecycleService(t)

	admin := testutil.TestAdmin(t, env.db)
	user := testutil.TestUser(t, env.db)
	sub := testutil.TestSubscription(t, env.db, user.ID)

	res, err := env.svc.Refund(context.Background(), sub.ID, RefundInput{Amount: 500, Reason: "  service outage  "}, actorOf(admin))
	require.NoError(t, err)

	assert.False(t, res.Replayed)
	assert.Equal(t, "ACTIVE", res.Subscription.Status)
	assert.False(t, res.Subscription.CancelAtPeriodEnd)
	assert.Equal(t, int64(500), res.Refund.Amount)
	assert.Equal(t, "service outage", res.Refund.Reason)
	assert.Equal(t, admin.ID, res.Refund.ProcessedBy)
	assert.Equal(t, "re_stub_1", res.Refund.ProcessorRefundID)
	assert.False(t, res.Refund.ForcedCancel)

	stored := env.reload(t, sub.ID)
	assert.Equal(t, model.StatusActive, stored.Status)
	assert.Equal(t, int64(2), stored.Version)

	refunds := env.refunds(t, sub.ID)
	require.Len(t, refunds, 1)
	assert.Equal(t, "usd", refunds[0].Currency)
	assert.Equal(t, admin.ID, refunds[0].ProcessedBy)

	calls := env.stub.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "refund", calls[0].Method)
	assert.Equal(t, int64(500), calls[0].Params.Amount)
	assert.False(t, calls[0].Params.CancelSubscription)

	events := env.events(t, sub.ID)
	require.Len(t, events, 1)
	assert.Equal(t, model.ActionRefund, events[0].Action)
	assert.Equal(t, model.StatusActive, events[0].ToStatus)
	assert.Equal(t, "amount=5.00 USD", events[0].Detail)

	jobs := env.jobs.all()
	require.Len(t, jobs, 1)
	assert.Equal(t, int64(500), jobs[0].RefundAmount)
}

func TestLifecycleService_Refund_FullForcesCancel(t *testing.T) {
	env := setupLifecycleService(t)

	admin := testutil.TestAdmin(t, env.db)
	user := testutil.TestUser(t, env.db)
	sub := testutil.TestSubscription(t, env.db, user.ID)

	res, err := env.svc.Refund(context.Background(), sub.ID, RefundInput{Amount: 2000, Reason: "charged twice"}, actorOf(admin))
	require.NoError(t, err)

	assert.Equal(t, "CANCELED", res.Subscription.Status)
	assert.True(t, res.Subscription.CancelAtPeriodEnd)
	assert.True(t, res.Refund.ForcedCancel)

	stored := env.reload(t, sub.ID)
	assert.Equal(t, model.StatusCanceled, stored.Status)
	assert.True(t, stored.CancelAtPeriodEnd)

	calls := env.stub.Calls()
	require.Len(t, calls, 1)
	assert.True(t, calls[0].Params.CancelSubscription)
}

func TestLifecycleService_Refund_FullOnCanceledSubscription(t *testing.T) {
	env := setupLifecycleService(t)

	admin := testutil.TestAdmin(t, env.db)
	user := testutil.TestUser(t, env.db)
	sub := testutil.TestSubscription(t, env.db, user.ID, testutil.WithStatus(model.StatusCanceled))

	res, err := env.svc.Refund(context.Background(), sub.ID, RefundInput{Amount: 2000, Reason: "charged twice"}, actorOf(admin))
	require.NoError(t, err)
	assert.Equal(t, "CANCELED", res.Subscription.Status)

	calls := env.stub.Calls()
	require.Len(t, calls, 1)
	assert.False(t, calls[0].Params.CancelSubscription, "already canceled at the processor")
}

func TestLifecycleService_Refund_Limits(t *testing.T) {
	env := setupLifecycleService(t)
	ctx := context.Background()
	admin := testutil.TestAdmin(t, env.db)

	t.Run("amount above plan maximum", func(t *testing.T) {
		user := testutil.TestUser(t, env.db)
		sub := testutil.TestSubscription(t, env.db, user.ID)

		_, err := env.svc.Refund(ctx, sub.ID, RefundInput{Amount: 2001, Reason: "too much"}, actorOf(admin))
		assert.ErrorIs(t, err, ErrAmountExceedsMax)
		assert.Equal(t, apperr.KindInvalidArgument, apperr.KindOf(err))
	})

	t.Run("yearly plan uses its own maximum", func(t *testing.T) {
		user := testutil.TestUser(t, env.db)
		sub := testutil.TestSubscription(t, env.db, user.ID, testutil.WithPlan("pro_yearly"))

		_, err := env.svc.Refund(ctx, sub.ID, RefundInput{Amount: 15001, Reason: "too much"}, actorOf(admin))
		assert.ErrorIs(t, err, ErrAmountExceedsMax)

		res, err := env.svc.Refund(ctx, sub.ID, RefundInput{Amount: 14999, Reason: "partial year"}, actorOf(admin))
		require.NoError(t, err)
		assert.Equal(t, "ACTIVE", res.Subscription.Status)
	})

	t.Run("cumulative refunds capped", func(t *testing.T) {
		user := testutil.TestUser(t, env.db)
		sub := testutil.TestSubscription(t, env.db, user.ID)
		testutil.TestRefund(t, env.db, sub, 1500, admin.ID)

		_, err := env.svc.Refund(ctx, sub.ID, RefundInput{Amount: 600, Reason: "second refund"}, actorOf(admin))
		assert.ErrorIs(t, err, ErrRefundTotalExceeded)

		res, err := env.svc.Refund(ctx, sub.ID, RefundInput{Amount: 500, Reason: "second refund"}, actorOf(admin))
		require.NoError(t, err)
		assert.Equal(t, "ACTIVE", res.Subscription.Status, "only a single refund at the maximum forces cancel")
	})

	assert.Len(t, env.stub.Calls(), 2)
}

func TestLifecycleService_Refund_Disabled(t *testing.T) {
	env := setupLifecycleService(t)
	ctx := context.Background()

	admin := testutil.TestAdmin(t, env.db)
	user := testutil.TestUser(t, env.db)
	sub := testutil.TestSubscription(t, env.db, user.ID)

	_, err := env.settings.Set(ctx, model.SettingRefundsEnabled, "false")
	require.NoError(t, err)

	_, err = env.svc.Refund(ctx, sub.ID, RefundInput{Amount: 100, Reason: "customer request"}, actorOf(admin))
	assert.ErrorIs(t, err, ErrRefundsDisabled)
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))
	assert.Empty(t, env.stub.Calls())
}

func TestLifecycleService_Refund_Idempotency(t *testing.T) {
	env := setupLifecycleService(t)
	ctx := context.Background()

	admin := testutil.TestAdmin(t, env.db)
	user := testutil.TestUser(t, env.db)
	sub := testutil.TestSubscription(t, env.db, user.ID)
	in := RefundInput{Amount: 700, Reason: "goodwill credit", IdempotencyKey: "req-123"}

	first, err := env.svc.Refund(ctx, sub.ID, in, actorOf(admin))
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := env.svc.Refund(ctx, sub.ID, in, actorOf(admin))
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Refund.ID, second.Refund.ID)

	assert.Len(t, env.stub.Calls(), 1)
	assert.Len(t, env.refunds(t, sub.ID), 1)
	assert.Len(t, env.events(t, sub.ID), 1)
	assert.Equal(t, "req-123", env.stub.Calls()[0].Params.IdempotencyKey)

	t.Run("same key different amount", func(t *testing.T) {
		_, err := env.svc.Refund(ctx, sub.ID, RefundInput{Amount: 800, Reason: "goodwill credit", IdempotencyKey: "req-123"}, actorOf(admin))
		assert.ErrorIs(t, err, ErrIdempotencyKeyReused)
	})

	t.Run("same key different reason", func(t *testing.T) {
		_, err := env.svc.Refund(ctx, sub.ID, RefundInput{Amount: 700, Reason: "duplicate charge", IdempotencyKey: "req-123"}, actorOf(admin))
		assert.ErrorIs(t, err, ErrIdempotencyKeyReused)
		assert.Len(t, env.stub.Calls(), 1)
	})

	t.Run("same key different subscription", func(t *testing.T) {
		otherUser := testutil.TestUser(t, env.db)
		other := testutil.TestSubscription(t, env.db, otherUser.ID)
		_, err := env.svc.Refund(ctx, other.ID, in, actorOf(admin))
		assert.ErrorIs(t, err, ErrIdempotencyKeyReused)
	})
}

func TestLifecycleService_Refund_ProcessorFailure(t *testing.T) {
	env := setupLifecycleService(t)

	admin := testutil.TestAdmin(t, env.db)
	user := testutil.TestUser(t, env.db)
	sub := testutil.TestSubscription(t, env.db, user.ID)
	env.stub.FailWith(errors.New("card_declined"))

	_, err := env.svc.Refund(context.Background(), sub.ID, RefundInput{Amount: 2000, Reason: "charged twice"}, actorOf(admin))
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))

	stored := env.reload(t, sub.ID)
	assert.Equal(t, model.StatusActive, stored.Status)
	assert.Equal(t, int64(1), stored.Version)
	assert.Empty(t, env.refunds(t, sub.ID))
	assert.Empty(t, env.events(t, sub.ID))
}

func TestLifecycleService_Refund_NotBound(t *testing.T) {
	env := setupLifecycleService(t)

	admin := testutil.TestAdmin(t, env.db)
	user := testutil.TestUser(t, env.db)
	sub := testutil.TestSubscription(t, env.db, user.ID)
	env.stub.FailWith(payment.ErrNotBound)

	_, err := env.svc.Refund(context.Background(), sub.ID, RefundInput{Amount: 100, Reason: "customer request"}, actorOf(admin))
	assert.ErrorIs(t, err, ErrNotRefundable)
}

func TestLifecycleService_ConcurrentCancelReactivate(t *testing.T) {
	env := setupLifecycleService(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		user := testutil.TestUser(t, env.db)
		sub := testutil.TestSubscription(t, env.db, user.ID, testutil.WithStatus(model.StatusPastDue))
		actor := actorOf(user)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, errs[0] = env.svc.Cancel(ctx, sub.ID, actor)
		}()
		go func() {
			defer wg.Done()
			_, errs[1] = env.svc.Reactivate(ctx, sub.ID, actor)
		}()
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
				continue
			}
			kind := apperr.KindOf(err)
			assert.Contains(t, []apperr.Kind{apperr.KindConflict, apperr.KindInvalidState}, kind, "unexpected error: %v", err)
		}
		require.GreaterOrEqual(t, succeeded, 1)

		stored := env.reload(t, sub.ID)
		events := env.events(t, sub.ID)
		require.Len(t, events, succeeded)
		assert.Equal(t, int64(1+succeeded), stored.Version)

		// 最后提交的操作决定最终状态
		last := events[0]
		assert.Equal(t, last.ToStatus, stored.Status)
		switch stored.Status {
		case model.StatusCanceled:
			assert.True(t, stored.CancelAtPeriodEnd)
		case model.StatusActive:
			assert.False(t, stored.CancelAtPeriodEnd)
			assert.True(t, stored.CurrentPeriodEnd.After(stored.CurrentPeriodStart))
		default:
			t.Fatalf("unexpected final status %s", stored.Status)
		}
	}
}

func TestLifecycleService_Example(t *testing.T) {
	env := setupLifecycleService(t)
	ctx := context.Background()

	user := testutil.TestUser(t, env.db)
	sub := testutil.TestSubscription(t, env.db, user.ID, testutil.WithPeriod(env.now.AddDate(0, 0, -3), env.now.AddDate(0, 1, -3)))

	canceled, err := env.svc.Cancel(ctx, sub.ID, actorOf(user))
	require.NoError(t, err)
	assert.Equal(t, "CANCELED", canceled.Status)
	assert.True(t, canceled.CancelAtPeriodEnd)

	active, err := env.svc.Reactivate(ctx, sub.ID, actorOf(user))
	require.NoError(t, err)
	assert.Equal(t, "ACTIVE", active.Status)
	assert.False(t, active.CancelAtPeriodEnd)
	assert.Equal(t, env.now.AddDate(0, 1, 0).Format(time.RFC3339), active.CurrentPeriodEnd)
}
