package repositories

import (
	"context"

	"frostmart/internal/models"
)

// OrderRepository defines the interface for order data access.
type OrderRepository interface {
	// Create inserts the order, its lines, its delivery sub-record and the
	// first history entry in one transaction.
	Create(ctx context.Context, order *models.Order, initial models.StatusHistory) error
	GetByID(ctx context.Context, id string) (*models.Order, error)
	// GetByProviderOrderID finds the order whose delivery sub-record carries
	// the courier's order id.
	GetByProviderOrderID(ctx context.Context, providerOrderID string) (*models.Order, error)
	List(ctx context.Context, filter models.OrderFilter) ([]models.Order, int64, error)
	// ListActiveDeliveries returns non-terminal orders with a live courier order.
	ListActiveDeliveries(ctx context.Context) ([]models.Order, error)
	// ApplyTransition writes t only if the stored version still equals
	// expectedVersion. It returns ErrVersionConflict when another writer got
	// there first and ErrDuplicateUpdate when the history dedup key exists.
	ApplyTransition(ctx context.Context, orderID string, expectedVersion int64, t models.Transition) error
	History(ctx context.Context, orderID string) ([]models.StatusHistory, error)
}

// WebhookEventRepository stores the audit trail of provider callbacks.
type WebhookEventRepository interface {
	// Record inserts the event; a repeated event id returns ErrConflictData.
	Record(ctx context.Context, event *models.WebhookEvent) error
	Exists(ctx context.Context, eventID string) (bool, error)
}

// NotificationRepository defines the interface for notification data access.
type NotificationRepository interface {
	Create(ctx context.Context, notifications ...*models.Notification) error
	List(ctx context.Context, audience models.NotificationAudience, userID string, unreadOnly bool, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, id uint, audience models.NotificationAudience, userID string) error
}
