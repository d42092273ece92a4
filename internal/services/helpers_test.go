package services_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"frostmart/internal/models"
	"frostmart/internal/repositories"

	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []models.StatusEvent
}

func (n *recordingNotifier) Notify(event models.StatusEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) Events() []models.StatusEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.StatusEvent(nil), n.events...)
}

var baseTime = time.Date(2025, 9, 10, 10, 0, 0, 0, time.UTC)

func at(minutes int) time.Time {
	return baseTime.Add(time.Duration(minutes) * time.Minute)
}

// seedCourierOrder stores a courier order in status with the given delivery state.
func seedCourierOrder(t *testing.T, repo repositories.OrderRepository, status models.OrderStatus, provider models.ProviderStatus, providerOrderID string) *models.Order {
	t.Helper()
	order := &models.Order{
		OrderNumber:    "FM-20250910-" + providerOrderID,
		UserID:         "user-1",
		ShippingMethod: models.ShippingLalamove,
		DeliveryAddress: models.Address{
			Line:           "12 Mango St, Makati",
			Lat:            14.5547,
			Lng:            121.0244,
			RecipientName:  "Ana",
			RecipientPhone: "+639171234567",
		},
		Items:  []models.OrderItem{{ProductID: "prod-1", Name: "Pork Belly", Quantity: 2}},
		Status: status,
		LalamoveDetails: &models.LalamoveDetails{
			ProviderOrderID: providerOrderID,
			Status:          provider,
		},
	}
	err := repo.Create(context.Background(), order, models.StatusHistory{
		Status:   status,
		Source:   models.SourceCheckout,
		DedupKey: models.DedupKey("seed", baseTime),
		EventAt:  baseTime,
	})
	require.NoError(t, err)
	return order
}

func seedPickupOrder(t *testing.T, repo repositories.OrderRepository, status models.OrderStatus) *models.Order {
	t.Helper()
	order := &models.Order{
		OrderNumber:    "FM-20250910-PICKUP",
		UserID:         "user-2",
		ShippingMethod: models.ShippingPickup,
		Status:         status,
	}
	err := repo.Create(context.Background(), order, models.StatusHistory{
		Status:   status,
		Source:   models.SourceCheckout,
		DedupKey: models.DedupKey("seed", baseTime),
		EventAt:  baseTime,
	})
	require.NoError(t, err)
	return order
}
