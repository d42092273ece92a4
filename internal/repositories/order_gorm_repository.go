package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"frostmart/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GORMOrderRepository is a GORM implementation of OrderRepository.
type GORMOrderRepository struct {
	db *gorm.DB
}

// NewGORMOrderRepository creates a new instance of GORMOrderRepository.
func NewGORMOrderRepository(db *gorm.DB) *GORMOrderRepository {
	return &GORMOrderRepository{
		db: db,
	}
}

func (r *GORMOrderRepository) preloaded(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Preload("Items").Preload("LalamoveDetails")
}

// Create inserts a new order with its lines, delivery sub-record and initial history entry.
func (r *GORMOrderRepository) Create(ctx context.Context, order *models.Order, initial models.StatusHistory) error {
	if order.ID == "" {
		order.ID = uuid.New().String()
	}
	if order.Version == 0 {
		order.Version = 1
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(order).Error; err != nil {
			if isDuplicateKey(err) {
				return models.ErrConflictData
			}
			return fmt.Errorf("failed to create order: %w", err)
		}
		initial.OrderID = order.ID
		if err := tx.Create(&initial).Error; err != nil {
			return fmt.Errorf("failed to create order history: %w", err)
		}
		return nil
	})
}

// GetByID retrieves a single order by its ID.
func (r *GORMOrderRepository) GetByID(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	if err := r.preloaded(ctx).First(&order, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("order with ID %s: %w", id, models.ErrOrderNotFound)
		}
		return nil, fmt.Errorf("failed to get order by ID %s: %w", id, err)
	}
	return &order, nil
}

// GetByProviderOrderID retrieves the order linked to a courier order id.
func (r *GORMOrderRepository) GetByProviderOrderID(ctx context.Context, providerOrderID string) (*models.Order, error) {
	if providerOrderID == "" {
		return nil, fmt.Errorf("empty provider order id: %w", models.ErrOrderNotFound)
	}
	var details models.LalamoveDetails
	err := r.db.WithContext(ctx).First(&details, "provider_order_id = ?", providerOrderID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("order with provider ID %s: %w", providerOrderID, models.ErrOrderNotFound)
		}
		return nil, fmt.Errorf("failed to get order by provider ID %s: %w", providerOrderID, err)
	}
	return r.GetByID(ctx, details.OrderID)
}

// List returns one page of orders matching filter, newest first, and the total match count.
func (r *GORMOrderRepository) List(ctx context.Context, filter models.OrderFilter) ([]models.Order, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Order{})
	if filter.Status != "" {
		query = query.Where("status = ?", string(filter.Status))
	}
	if filter.UserID != "" {
		query = query.Where("user_id = ?", filter.UserID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count orders: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}

	var orders []models.Order
	err := query.Preload("Items").Preload("LalamoveDetails").
		Order("created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, total, nil
}

// ListActiveDeliveries returns orders whose courier order may still change.
func (r *GORMOrderRepository) ListActiveDeliveries(ctx context.Context) ([]models.Order, error) {
	active := []string{
		string(models.ProviderAssigningDriver),
		string(models.ProviderOnGoing),
		string(models.ProviderPickedUp),
	}
	sub := r.db.Model(&models.LalamoveDetails{}).
		Select("order_id").
		Where("provider_order_id <> '' AND status IN ?", active)

	var orders []models.Order
	err := r.preloaded(ctx).
		Where("id IN (?)", sub).
		Where("status NOT IN ?", []string{string(models.StatusCompleted), string(models.StatusCancelled)}).
		Find(&orders).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list active deliveries: %w", err)
	}
	return orders, nil
}

// ApplyTransition performs the compare-and-set write of one transition.
func (r *GORMOrderRepository) ApplyTransition(ctx context.Context, orderID string, expectedVersion int64, t models.Transition) error {
	now := t.UpdatedAt
	if now.IsZero() {
		now = time.Now()
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Order{}).
			Where("id = ? AND version = ?", orderID, expectedVersion).
			Updates(map[string]interface{}{
				"status":     string(t.Status),
				"version":    gorm.Expr("version + 1"),
				"updated_at": now,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to update order %s: %w", orderID, res.Error)
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&models.Order{}).Where("id = ?", orderID).Count(&count).Error; err != nil {
				return fmt.Errorf("failed to check order %s: %w", orderID, err)
			}
			if count == 0 {
				return fmt.Errorf("order with ID %s: %w", orderID, models.ErrOrderNotFound)
			}
			return models.ErrVersionConflict
		}

		if d := t.Delivery; d != nil {
			res := tx.Model(&models.LalamoveDetails{}).
				Where("order_id = ?", orderID).
				Updates(deliveryUpdates(d, now))
			if res.Error != nil {
				return fmt.Errorf("failed to update delivery of order %s: %w", orderID, res.Error)
			}
			if res.RowsAffected == 0 {
				return models.ErrNotCourierOrder
			}
		}

		entry := t.History
		entry.OrderID = orderID
		if err := tx.Create(&entry).Error; err != nil {
			if isDuplicateKey(err) {
				return models.ErrDuplicateUpdate
			}
			return fmt.Errorf("failed to append history of order %s: %w", orderID, err)
		}
		return nil
	})
}

func deliveryUpdates(d *models.DeliveryChange, now time.Time) map[string]interface{} {
	updated := d.UpdatedAt
	if updated.IsZero() {
		updated = now
	}
	updates := map[string]interface{}{
		"last_status_update": updated,
		"updated_at":         now,
	}
	if d.Status != "" {
		updates["status"] = string(d.Status)
	}
	// A new courier booking replaces the driver and tracking link of the old one.
	if d.ProviderOrderID != "" {
		updates["provider_order_id"] = d.ProviderOrderID
		updates["driver_id"] = d.DriverID
		updates["share_link"] = d.ShareLink
	}
	if d.DriverID != "" {
		updates["driver_id"] = d.DriverID
	}
	if d.ShareLink != "" {
		updates["share_link"] = d.ShareLink
	}
	if q := d.Quote; q != nil {
		updates["quote_quotation_id"] = q.QuotationID
		updates["quote_total"] = q.Total
		updates["quote_currency"] = q.Currency
		updates["quote_quoted_at"] = q.QuotedAt
		updates["quote_expires_at"] = q.ExpiresAt
	}
	return updates
}

// History returns the status history of an order, oldest first.
func (r *GORMOrderRepository) History(ctx context.Context, orderID string) ([]models.StatusHistory, error) {
	var history []models.StatusHistory
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("id ASC").
		Find(&history).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get history of order %s: %w", orderID, err)
	}
	return history, nil
}

// isDuplicateKey reports unique constraint violations. TranslateError maps
// most drivers to gorm.ErrDuplicatedKey; the string checks cover the rest.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "duplicate key value")
}
