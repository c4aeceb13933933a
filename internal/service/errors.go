package service

import (
	"github.com/qs3c/entitlement_server/internal/model"
	"github.com/qs3c/entitlement_server/internal/pkg/apperr"
)

var (
	ErrUnauthenticated = apperr.Unauthorized("authentication required")
	ErrUnknownRole     = apperr.Forbidden("unknown role")
	ErrAdminOnly       = apperr.Forbidden("administrator role required")

	ErrSubscriptionNotFound = apperr.NotFound("subscription not found")
	ErrUserNotFound         = apperr.NotFound("user not found")
	ErrSettingNotFound      = apperr.NotFound("setting not found")
	ErrAPIKeyNotFound       = apperr.NotFound("api key not found")

	ErrAlreadyCanceled = apperr.InvalidState("subscription is already canceled")
	ErrAlreadyActive   = apperr.InvalidState("subscription is already active")
	ErrRefundsDisabled = apperr.InvalidState("refunds are currently disabled")
	ErrNotRefundable   = apperr.InvalidState("subscription has no payment to refund")

	ErrInvalidAmount        = apperr.InvalidArgument("refund amount must be greater than zero")
	ErrInvalidReason        = apperr.InvalidArgument("refund reason must be 3 to 500 printable characters")
	ErrAmountExceedsMax     = apperr.InvalidArgument("refund amount exceeds the maximum refundable amount for the plan")
	ErrRefundTotalExceeded  = apperr.InvalidArgument("total refunds would exceed the maximum refundable amount for the plan")
	ErrIdempotencyKeyReused = apperr.InvalidArgument("idempotency key was already used for a different refund")
	ErrInvalidSettingValue  = apperr.InvalidArgument("setting value must be true or false")
	ErrInvalidAPIKeyName    = apperr.InvalidArgument("api key name must be 3 to 100 characters")

	ErrInvalidAPIKey    = apperr.Unauthorized("invalid api key")
	ErrConcurrentUpdate = apperr.Conflict("subscription was modified concurrently, resubmit the request")
)

// authorize 校验调用方身份；角色在此处穷举检查
func authorize(actor *model.Actor) error {
	if actor == nil {
		return ErrUnauthenticated
	}
	if !actor.Role.Valid() {
		return ErrUnknownRole
	}
	return nil
}

func requireAdmin(actor *model.Actor) error {
	if err := authorize(actor); err != nil {
		return err
	}
	if !actor.IsAdmin() {
		return ErrAdminOnly
	}
	return nil
}
