package models

import "errors"

var (
	ErrOrderNotFound          = errors.New("order not found")
	ErrVersionConflict        = errors.New("order was modified concurrently")
	ErrDuplicateUpdate        = errors.New("status update already applied")
	ErrInvalidTransition      = errors.New("invalid status transition")
	ErrUnknownStatus          = errors.New("unknown status")
	ErrNotCourierOrder        = errors.New("order is not a courier delivery")
	ErrDispatchFailed         = errors.New("delivery provider request failed")
	ErrPaymentNotConfirmed    = errors.New("payment is not confirmed")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrProductNotFound        = errors.New("product not found")
	ErrInvalidCoupon          = errors.New("invalid coupon")
	ErrUnauthenticatedWebhook = errors.New("webhook is not authenticated")
	ErrInvalidCredentials     = errors.New("invalid credentials")
	ErrConflictData           = errors.New("data conflicts with existing data")
	ErrDataNotFound           = errors.New("data not found")
	ErrInvalidOrder           = errors.New("invalid order request")
	ErrMalformedPayload       = errors.New("malformed payload")
	ErrForbidden              = errors.New("forbidden")
)
