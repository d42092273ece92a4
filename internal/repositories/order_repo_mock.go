package repositories

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"frostmart/internal/models"

	"github.com/google/uuid"
)

// MockOrderRepository is an in-memory implementation of OrderRepository with
// the same compare-and-set semantics as the GORM one.
type MockOrderRepository struct {
	orders  map[string]models.Order
	history map[string][]models.StatusHistory
	seq     uint
	mu      sync.RWMutex
}

// NewMockOrderRepository creates a new instance of MockOrderRepository.
func NewMockOrderRepository() *MockOrderRepository {
	return &MockOrderRepository{
		orders:  make(map[string]models.Order),
		history: make(map[string][]models.StatusHistory),
	}
}

func cloneOrder(o models.Order) models.Order {
	o.Items = append([]models.OrderItem(nil), o.Items...)
	if o.LalamoveDetails != nil {
		d := *o.LalamoveDetails
		o.LalamoveDetails = &d
	}
	return o
}

// Create adds a new order.
func (r *MockOrderRepository) Create(_ context.Context, order *models.Order, initial models.StatusHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if order.ID == "" {
		order.ID = uuid.New().String()
	}
	if _, ok := r.orders[order.ID]; ok {
		return models.ErrConflictData
	}
	if order.Version == 0 {
		order.Version = 1
	}
	now := time.Now()
	order.CreatedAt = now
	order.UpdatedAt = now
	if order.LalamoveDetails != nil {
		order.LalamoveDetails.OrderID = order.ID
	}
	r.orders[order.ID] = cloneOrder(*order)

	r.seq++
	initial.ID = r.seq
	initial.OrderID = order.ID
	initial.CreatedAt = now
	r.history[order.ID] = []models.StatusHistory{initial}
	return nil
}

// GetByID returns an order by its ID.
func (r *MockOrderRepository) GetByID(_ context.Context, id string) (*models.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.orders[id]
	if !ok {
		return nil, fmt.Errorf("order with ID %s: %w", id, models.ErrOrderNotFound)
	}
	order = cloneOrder(order)
	return &order, nil
}

// GetByProviderOrderID returns the order linked to a courier order id.
func (r *MockOrderRepository) GetByProviderOrderID(_ context.Context, providerOrderID string) (*models.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, order := range r.orders {
		if providerOrderID != "" && order.LalamoveDetails != nil && order.LalamoveDetails.ProviderOrderID == providerOrderID {
			order = cloneOrder(order)
			return &order, nil
		}
	}
	return nil, fmt.Errorf("order with provider ID %s: %w", providerOrderID, models.ErrOrderNotFound)
}

// List returns orders matching filter, newest first.
func (r *MockOrderRepository) List(_ context.Context, filter models.OrderFilter) ([]models.Order, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]models.Order, 0, len(r.orders))
	for _, order := range r.orders {
		if filter.Status != "" && order.Status != filter.Status {
			continue
		}
		if filter.UserID != "" && order.UserID != filter.UserID {
			continue
		}
		matched = append(matched, cloneOrder(order))
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	total := int64(len(matched))
	limit, page := filter.Limit, filter.Page
	if limit <= 0 {
		limit = 20
	}
	if page <= 0 {
		page = 1
	}
	start := (page - 1) * limit
	if start >= len(matched) {
		return []models.Order{}, total, nil
	}
	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

// ListActiveDeliveries returns orders whose courier order may still change.
func (r *MockOrderRepository) ListActiveDeliveries(_ context.Context) ([]models.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var orders []models.Order
	for _, order := range r.orders {
		d := order.LalamoveDetails
		if d == nil || d.ProviderOrderID == "" || !d.Status.IsActive() || order.Status.IsTerminal() {
			continue
		}
		orders = append(orders, cloneOrder(order))
	}
	return orders, nil
}

// ApplyTransition writes t if the stored version matches expectedVersion.
func (r *MockOrderRepository) ApplyTransition(_ context.Context, orderID string, expectedVersion int64, t models.Transition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[orderID]
	if !ok {
		return fmt.Errorf("order with ID %s: %w", orderID, models.ErrOrderNotFound)
	}
	if order.Version != expectedVersion {
		return models.ErrVersionConflict
	}
	for _, h := range r.history[orderID] {
		if h.DedupKey == t.History.DedupKey {
			return models.ErrDuplicateUpdate
		}
	}
	if t.Delivery != nil && order.LalamoveDetails == nil {
		return models.ErrNotCourierOrder
	}

	now := t.UpdatedAt
	if now.IsZero() {
		now = time.Now()
	}
	order = cloneOrder(order)
	order.Status = t.Status
	order.Version++
	order.UpdatedAt = now
	if d := t.Delivery; d != nil {
		details := order.LalamoveDetails
		if d.Status != "" {
			details.Status = d.Status
		}
		if d.ProviderOrderID != "" {
			details.ProviderOrderID = d.ProviderOrderID
			details.DriverID = d.DriverID
			details.ShareLink = d.ShareLink
		}
		if d.DriverID != "" {
			details.DriverID = d.DriverID
		}
		if d.ShareLink != "" {
			details.ShareLink = d.ShareLink
		}
		if d.Quote != nil {
			details.Quote = *d.Quote
		}
		details.LastStatusUpdate = d.UpdatedAt
		if details.LastStatusUpdate.IsZero() {
			details.LastStatusUpdate = now
		}
		details.UpdatedAt = now
	}
	r.orders[orderID] = order

	r.seq++
	entry := t.History
	entry.ID = r.seq
	entry.OrderID = orderID
	entry.CreatedAt = now
	r.history[orderID] = append(r.history[orderID], entry)
	return nil
}

// History returns the status history of an order, oldest first.
func (r *MockOrderRepository) History(_ context.Context, orderID string) ([]models.StatusHistory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]models.StatusHistory(nil), r.history[orderID]...), nil
}
