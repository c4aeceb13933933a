package payment

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// BreakerSettings 熔断参数
type BreakerSettings struct {
	Name             string
	FailureThreshold uint32
	HalfOpenRequests uint32
	OpenTimeout      time.Duration
}

// Breaker 用熔断器包装 Processor，支付方持续失败时快速失败
type Breaker struct {
	next    Processor
	breaker *gobreaker.CircuitBreaker[string]
}

func NewBreaker(next Processor, s BreakerSettings, logger *zap.Logger) *Breaker {
	if s.FailureThreshold == 0 {
		s.FailureThreshold = 5
	}
	settings := gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: s.HalfOpenRequests,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("payment circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		// ErrNotBound 是业务结果，不计入失败
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotBound)
		},
	}
	return &Breaker{
		next:    next,
		breaker: gobreaker.NewCircuitBreaker[string](settings),
	}
}

// State 当前熔断状态
func (b *Breaker) State() gobreaker.State {
	return b.breaker.State()
}

func (b *Breaker) execute(fn func() (string, error)) (string, error) {
	out, err := b.breaker.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", ErrUnavailable
	}
	return out, err
}

func (b *Breaker) Cancel(ctx context.Context, ref SubscriptionRef) error {
	_, err := b.execute(func() (string, error) {
		return "", b.next.Cancel(ctx, ref)
	})
	return err
}

func (b *Breaker) Resume(ctx context.Context, ref SubscriptionRef) error {
	_, err := b.execute(func() (string, error) {
		return "", b.next.Resume(ctx, ref)
	})
	return err
}

func (b *Breaker) Refund(ctx context.Context, ref SubscriptionRef, params RefundParams) (string, error) {
	return b.execute(func() (string, error) {
		return b.next.Refund(ctx, ref, params)
	})
}
