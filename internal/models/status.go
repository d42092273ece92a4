package models

import (
	"fmt"
	"strings"
)

// OrderStatus is the customer-facing status of an order.
type OrderStatus string

const (
	StatusReceived  OrderStatus = "received"
	StatusPreparing OrderStatus = "preparing"
	StatusPrepared  OrderStatus = "prepared"
	StatusPlaced    OrderStatus = "placed"
	StatusPickedUp  OrderStatus = "picked_up"
	StatusCompleted OrderStatus = "completed"
	StatusCancelled OrderStatus = "cancelled"
)

// orderStatusRank orders the forward progression. Cancelled sits outside the
// progression and is handled separately.
var orderStatusRank = map[OrderStatus]int{
	StatusReceived:  1,
	StatusPreparing: 2,
	StatusPrepared:  3,
	StatusPlaced:    4,
	StatusPickedUp:  5,
	StatusCompleted: 6,
}

func (s OrderStatus) String() string {
	return string(s)
}

// Rank returns the position of s in the forward progression, 0 for cancelled.
func (s OrderStatus) Rank() int {
	return orderStatusRank[s]
}

// IsTerminal reports whether no further transition may leave s.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// ParseOrderStatus maps a raw string to an OrderStatus. Admin UIs send the
// "order_" prefixed workflow names, so the prefix is accepted too.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	s := OrderStatus(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(raw)), "order_"))
	if _, ok := orderStatusRank[s]; ok || s == StatusCancelled {
		return s, nil
	}
	return "", fmt.Errorf("%w: order status %q", ErrUnknownStatus, raw)
}

// ProviderStatus is the delivery courier's own status vocabulary.
type ProviderStatus string

const (
	// ProviderPendingPlacement is set at checkout before the courier order exists.
	ProviderPendingPlacement ProviderStatus = "pending_placement"
	ProviderAssigningDriver  ProviderStatus = "ASSIGNING_DRIVER"
	ProviderOnGoing          ProviderStatus = "ON_GOING"
	ProviderPickedUp         ProviderStatus = "PICKED_UP"
	ProviderCompleted        ProviderStatus = "COMPLETED"
	ProviderCanceled         ProviderStatus = "CANCELED"
	ProviderRejected         ProviderStatus = "REJECTED"
	ProviderExpired          ProviderStatus = "EXPIRED"
)

var providerStatusRank = map[ProviderStatus]int{
	ProviderPendingPlacement: 0,
	ProviderAssigningDriver:  1,
	ProviderOnGoing:          2,
	ProviderPickedUp:         3,
	ProviderCompleted:        4,
	ProviderCanceled:         5,
	ProviderRejected:         5,
	ProviderExpired:          5,
}

var providerToOrderStatus = map[ProviderStatus]OrderStatus{
	ProviderAssigningDriver: StatusPlaced,
	ProviderOnGoing:         StatusPlaced,
	ProviderPickedUp:        StatusPickedUp,
	ProviderCompleted:       StatusCompleted,
}

func (s ProviderStatus) String() string {
	return string(s)
}

// Rank returns the position of s in the courier progression.
func (s ProviderStatus) Rank() int {
	return providerStatusRank[s]
}

// IsFailure reports whether the courier gave up on the delivery.
func (s ProviderStatus) IsFailure() bool {
	return s == ProviderCanceled || s == ProviderRejected || s == ProviderExpired
}

// IsActive reports whether a courier order exists and may still change.
func (s ProviderStatus) IsActive() bool {
	return s == ProviderAssigningDriver || s == ProviderOnGoing || s == ProviderPickedUp
}

// OrderStatus returns the customer-facing status implied by s. Failure and
// pre-placement statuses imply none.
func (s ProviderStatus) OrderStatus() (OrderStatus, bool) {
	st, ok := providerToOrderStatus[s]
	return st, ok
}

// ParseProviderStatus maps a raw courier status, rejecting anything outside
// the known vocabulary.
func ParseProviderStatus(raw string) (ProviderStatus, error) {
	trimmed := strings.TrimSpace(raw)
	if ProviderStatus(trimmed) == ProviderPendingPlacement {
		return ProviderPendingPlacement, nil
	}
	s := ProviderStatus(strings.ToUpper(trimmed))
	if s == "CANCELLED" {
		s = ProviderCanceled
	}
	if _, ok := providerStatusRank[s]; !ok || s == ProviderPendingPlacement {
		return "", fmt.Errorf("%w: provider status %q", ErrUnknownStatus, raw)
	}
	return s, nil
}
