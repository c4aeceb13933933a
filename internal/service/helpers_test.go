package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/qs3c/entitlement_server/config"
	"github.com/qs3c/entitlement_server/internal/model"
	"github.com/qs3c/entitlement_server/internal/pkg/pubsub"
	"github.com/qs3c/entitlement_server/internal/pkg/queue"
)

func testPlanService(t *testing.T) *PlanService {
	t.Helper()

	plans, err := NewPlanService(map[string]config.PlanConfig{
		"pro_monthly": {Name: "Pro", Price: 2000, Currency: "usd", BillingCycle: "monthly", MaxRefundable: 2000},
		"pro_yearly":  {Name: "Pro Yearly", Price: 20000, Currency: "usd", BillingCycle: "yearly", MaxRefundable: 15000},
	})
	require.NoError(t, err)
	return plans
}

func actorOf(u *model.User) *model.Actor {
	return &model.Actor{UserID: u.ID, Role: u.Role}
}

type fakePublisher struct {
	mu     sync.Mutex
	events []*pubsub.LifecycleEvent
}

func (p *fakePublisher) PublishLifecycle(ctx context.Context, evt *pubsub.LifecycleEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *fakePublisher) all() []*pubsub.LifecycleEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*pubsub.LifecycleEvent(nil), p.events...)
}

type fakeQueue struct {
	mu   sync.Mutex
	jobs []*queue.NotificationJob
}

func (q *fakeQueue) Push(ctx context.Context, job *queue.NotificationJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *fakeQueue) all() []*queue.NotificationJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*queue.NotificationJob(nil), q.jobs...)
}
