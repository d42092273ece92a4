package models

import "time"

// WebhookEvent is the audit row of one inbound provider callback.
type WebhookEvent struct {
	ID              uint      `json:"id" gorm:"primaryKey"`
	EventID         string    `json:"event_id" gorm:"uniqueIndex;type:varchar(64)"`
	EventType       string    `json:"event_type" gorm:"type:varchar(64)"`
	ProviderOrderID string    `json:"provider_order_id,omitempty" gorm:"index;type:varchar(64)"`
	Authenticated   bool      `json:"authenticated"`
	Outcome         string    `json:"outcome" gorm:"type:varchar(16)"`
	Reason          string    `json:"reason,omitempty" gorm:"type:varchar(255)"`
	ReceivedAt      time.Time `json:"received_at"`
}

// NotificationAudience selects who sees a notification.
type NotificationAudience string

const (
	AudienceAdmin    NotificationAudience = "admin"
	AudienceCustomer NotificationAudience = "customer"
)

// Notification is a user or admin visible message about an order.
type Notification struct {
	ID        uint                 `json:"id" gorm:"primaryKey"`
	Audience  NotificationAudience `json:"audience" gorm:"index;type:varchar(16)"`
	UserID    string               `json:"user_id,omitempty" gorm:"index;type:varchar(36)"`
	OrderID   string               `json:"order_id" gorm:"index;type:varchar(36)"`
	Type      string               `json:"type" gorm:"type:varchar(32)"`
	Title     string               `json:"title" gorm:"type:varchar(150)"`
	Message   string               `json:"message" gorm:"type:varchar(500)"`
	Read      bool                 `json:"read" gorm:"column:is_read"`
	CreatedAt time.Time            `json:"created_at"`
}

// StatusEvent is published on every applied transition.
type StatusEvent struct {
	OrderID        string         `json:"order_id"`
	OrderNumber    string         `json:"order_number"`
	UserID         string         `json:"user_id"`
	Previous       OrderStatus    `json:"previous_status"`
	Status         OrderStatus    `json:"status"`
	ProviderStatus ProviderStatus `json:"provider_status,omitempty"`
	Source         UpdateSource   `json:"source"`
	OccurredAt     time.Time      `json:"occurred_at"`
}
