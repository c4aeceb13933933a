package pubsub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
)

const (
	ChannelSubscriptionLifecycle = "subscription_lifecycle"
)

// LifecycleEvent 订阅状态变更事件，仅在事务提交后发布
type LifecycleEvent struct {
	Type           string    `json:"type"`
	SubscriptionID string    `json:"subscription_id"`
	UserID         int64     `json:"user_id"`
	Action         string    `json:"action"`
	FromStatus     string    `json:"from_status"`
	ToStatus       string    `json:"to_status"`
	ActorID        int64     `json:"actor_id"`
	RefundAmount   int64     `json:"refund_amount,omitempty"`
	Version        int64     `json:"version"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Publisher Redis 发布者
type Publisher struct {
	client *redis.Client
}

// NewPublisher 创建发布者
func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

// PublishLifecycle 发布生命周期事件
func (p *Publisher) PublishLifecycle(ctx context.Context, evt *LifecycleEvent) error {
	evt.Type = "subscription_lifecycle"
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return errors.Wrap(err, "failed to marshal lifecycle event")
	}

	return p.client.Publish(ctx, ChannelSubscriptionLifecycle, data).Err()
}

// Subscriber Redis 订阅者
type Subscriber struct {
	client *redis.Client
}

// NewSubscriber 创建订阅者
func NewSubscriber(client *redis.Client) *Subscriber {
	return &Subscriber{client: client}
}

// Subscribe 订阅生命周期事件，直到 ctx 结束
func (s *Subscriber) Subscribe(ctx context.Context, handler func(*LifecycleEvent)) error {
	ps := s.client.Subscribe(ctx, ChannelSubscriptionLifecycle)
	defer ps.Close()

	// 等待订阅确认，避免订阅前发布的消息丢失
	if _, err := ps.Receive(ctx); err != nil {
		return errors.Wrap(err, "failed to subscribe")
	}

	ch := ps.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var evt LifecycleEvent
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				continue // 忽略解析错误
			}

			handler(&evt)
		}
	}
}
