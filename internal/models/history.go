package models

import (
	"fmt"
	"time"
)

// UpdateSource tags where a status signal came from.
type UpdateSource string

const (
	SourceCheckout UpdateSource = "checkout"
	SourceWebhook  UpdateSource = "webhook"
	SourcePoll     UpdateSource = "poll"
	SourceAdmin    UpdateSource = "admin"
	SourceDispatch UpdateSource = "dispatch"
)

// StatusHistory is one audited transition of an order.
type StatusHistory struct {
	ID             uint           `json:"id" gorm:"primaryKey"`
	OrderID        string         `json:"order_id" gorm:"type:varchar(36);uniqueIndex:idx_status_history_dedup,priority:1"`
	DedupKey       string         `json:"-" gorm:"type:varchar(128);uniqueIndex:idx_status_history_dedup,priority:2"`
	Status         OrderStatus    `json:"status" gorm:"type:varchar(16)"`
	ProviderStatus ProviderStatus `json:"provider_status,omitempty" gorm:"type:varchar(32)"`
	Source         UpdateSource   `json:"source" gorm:"type:varchar(16)"`
	Actor          string         `json:"actor,omitempty" gorm:"type:varchar(100)"`
	Notes          string         `json:"notes,omitempty" gorm:"type:varchar(500)"`
	EventAt        time.Time      `json:"event_at"`
	CreatedAt      time.Time      `json:"created_at"`
}

// DedupKey identifies a (status, timestamp) pair within one order.
func DedupKey(rawStatus string, eventAt time.Time) string {
	return fmt.Sprintf("%s@%s", rawStatus, eventAt.UTC().Format(time.RFC3339Nano))
}

// Transition is the set of writes applied atomically to one order.
type Transition struct {
	Status    OrderStatus
	Delivery  *DeliveryChange
	History   StatusHistory
	UpdatedAt time.Time
}

// DeliveryChange updates the delivery sub-record. Empty fields are left as is.
type DeliveryChange struct {
	ProviderOrderID string
	Status          ProviderStatus
	DriverID        string
	ShareLink       string
	Quote           *QuoteSnapshot
	UpdatedAt       time.Time
}
