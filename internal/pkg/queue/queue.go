package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
)

type Queue struct {
	client    *redis.Client
	queueName string
}

// NotificationJob 订阅变更后需要发送的通知
type NotificationJob struct {
	Action         string    `json:"action"` // cancel, reactivate, refund, lapsed
	SubscriptionID string    `json:"subscription_id"`
	UserID         int64     `json:"user_id"`
	PlanID         string    `json:"plan_id"`
	PeriodEnd      time.Time `json:"period_end"`
	RefundAmount   int64     `json:"refund_amount,omitempty"`
	Currency       string    `json:"currency,omitempty"`
	Attempts       int       `json:"attempts"`
}

func NewQueue(client *redis.Client, queueName string) *Queue {
	return &Queue{
		client:    client,
		queueName: queueName,
	}
}

// Name 队列名
func (q *Queue) Name() string {
	return q.queueName
}

// Push 将任务加入队列
func (q *Queue) Push(ctx context.Context, job *NotificationJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return errors.Wrap(err, "failed to marshal job")
	}

	return q.client.LPush(ctx, q.queueName, data).Err()
}

// Pop 从队列获取任务（阻塞），超时返回 nil, nil
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (*NotificationJob, error) {
	result, err := q.client.BRPop(ctx, timeout, q.queueName).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // 超时，无任务
		}
		return nil, errors.Wrap(err, "failed to pop from queue")
	}

	if len(result) < 2 {
		return nil, nil
	}

	var job NotificationJob
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal job")
	}

	return &job, nil
}

// Length 获取队列长度
func (q *Queue) Length(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.queueName).Result()
}
