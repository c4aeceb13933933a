package payment

import (
	"context"

	"github.com/pkg/errors"
	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"
	"go.uber.org/zap"
)

// Stripe 基于 Stripe API 的实现
type Stripe struct {
	api    *client.API
	logger *zap.Logger
}

func NewStripeClient(key string) *client.API {
	sc := &client.API{}
	sc.Init(key, nil)
	return sc
}

func NewStripe(api *client.API, logger *zap.Logger) *Stripe {
	return &Stripe{api: api, logger: logger}
}

// Cancel 周期末取消；未关联 Stripe 订阅时无需调用
func (s *Stripe) Cancel(ctx context.Context, ref SubscriptionRef) error {
	if ref.SubscriptionID == "" {
		return nil
	}
	sub, err := s.api.Subscriptions.Update(ref.SubscriptionID, &stripe.SubscriptionParams{
		Params:            stripe.Params{Context: ctx},
		CancelAtPeriodEnd: stripe.Bool(true),
	})
	if err != nil {
		return errors.Wrap(err, "unable to cancel subscription on stripe")
	}
	if !sub.CancelAtPeriodEnd {
		return errors.New("stripe did not mark subscription as cancel at period end")
	}
	return nil
}

// Resume 撤销周期末取消
func (s *Stripe) Resume(ctx context.Context, ref SubscriptionRef) error {
	if ref.SubscriptionID == "" {
		return nil
	}
	sub, err := s.api.Subscriptions.Update(ref.SubscriptionID, &stripe.SubscriptionParams{
		Params:            stripe.Params{Context: ctx},
		CancelAtPeriodEnd: stripe.Bool(false),
	})
	if err != nil {
		return errors.Wrap(err, "unable to resume subscription on stripe")
	}
	if sub.CancelAtPeriodEnd {
		return errors.New("stripe kept subscription marked as cancel at period end")
	}
	return nil
}

// Refund 对最近一张发票的付款退款；需要取消时先在 Stripe 标记取消，退款失败再恢复
func (s *Stripe) Refund(ctx context.Context, ref SubscriptionRef, params RefundParams) (string, error) {
	if ref.SubscriptionID == "" {
		return "", ErrNotBound
	}

	getParams := &stripe.SubscriptionParams{Params: stripe.Params{Context: ctx}}
	getParams.AddExpand("latest_invoice.payment_intent")
	sub, err := s.api.Subscriptions.Get(ref.SubscriptionID, getParams)
	if err != nil {
		return "", errors.Wrap(err, "unable to fetch subscription from stripe")
	}
	if sub.LatestInvoice == nil || sub.LatestInvoice.PaymentIntent == nil {
		return "", ErrNotBound
	}

	if params.CancelSubscription && !sub.CancelAtPeriodEnd {
		if err := s.Cancel(ctx, ref); err != nil {
			return "", err
		}
	}

	refundParams := &stripe.RefundParams{
		Params:        stripe.Params{Context: ctx},
		PaymentIntent: stripe.String(sub.LatestInvoice.PaymentIntent.ID),
		Amount:        stripe.Int64(params.Amount),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	if params.IdempotencyKey != "" {
		refundParams.SetIdempotencyKey(params.IdempotencyKey)
	}
	refundParams.AddMetadata("reason", params.Reason)

	refund, err := s.api.Refunds.New(refundParams)
	if err != nil {
		if params.CancelSubscription && !sub.CancelAtPeriodEnd {
			if rerr := s.Resume(ctx, ref); rerr != nil {
				s.logger.Error("Unable to restore subscription after failed refund",
					zap.String("SubscriptionID", ref.SubscriptionID),
					zap.Error(rerr),
				)
			}
		}
		return "", errors.Wrap(err, "unable to create refund on stripe")
	}
	return refund.ID, nil
}
