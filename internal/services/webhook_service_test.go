package services_test

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"

	"frostmart/internal/lalamove"
	"frostmart/internal/models"
	"frostmart/internal/repositories"
	"frostmart/internal/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	webhookKey    = "pk_test_key"
	webhookSecret = "sk_test_secret"
	webhookPath   = "/api/webhooks/lalamove"
)

type webhookFixture struct {
	orders  *repositories.MockOrderRepository
	events  *repositories.MockWebhookEventRepository
	service *services.WebhookService
}

func newWebhookFixture(allowUnsigned bool) *webhookFixture {
	f := &webhookFixture{
		orders: repositories.NewMockOrderRepository(),
		events: repositories.NewMockWebhookEventRepository(),
	}
	reconciler := services.NewReconciler(f.orders, nil, nil)
	f.service = services.NewWebhookService(reconciler, f.events, services.WebhookAuth{
		APIKey:        webhookKey,
		APISecret:     webhookSecret,
		Path:          webhookPath,
		AllowUnsigned: allowUnsigned,
	}, nil)
	return f
}

func signedPayload(t *testing.T, eventID, eventType string, data interface{}) *services.WebhookPayload {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	ts := at(0).Unix()
	return &services.WebhookPayload{
		APIKey:    webhookKey,
		Timestamp: ts,
		Signature: lalamove.Sign(webhookSecret, strconv.FormatInt(ts, 10), "POST", webhookPath, string(raw)),
		EventID:   eventID,
		EventType: eventType,
		Data:      raw,
	}
}

func statusData(orderID, status, updatedAt string) map[string]interface{} {
	return map[string]interface{}{
		"order":     map[string]interface{}{"orderId": orderID, "status": status},
		"updatedAt": updatedAt,
	}
}

func TestWebhookService_AppliesSignedStatusChange(t *testing.T) {
	f := newWebhookFixture(false)
	ctx := context.Background()
	order := seedCourierOrder(t, f.orders, models.StatusPlaced, models.ProviderOnGoing, "LL-W1")

	p := signedPayload(t, "evt-1", services.EventOrderStatusChanged, statusData("LL-W1", "PICKED_UP", "2025-09-10T10:05:00Z"))
	res, err := f.service.Receive(ctx, p, "")
	require.NoError(t, err)
	assert.Equal(t, services.OutcomeApplied, res.Outcome)
	assert.True(t, res.Authenticated)

	after, err := f.orders.GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPickedUp, after.Status)

	recorded, ok := f.events.Get("evt-1")
	require.True(t, ok)
	assert.True(t, recorded.Authenticated)
	assert.Equal(t, "applied", recorded.Outcome)
	assert.Equal(t, "LL-W1", recorded.ProviderOrderID)
}

func TestWebhookService_DuplicateEventIsNotReprocessed(t *testing.T) {
	f := newWebhookFixture(false)
	ctx := context.Background()
	order := seedCourierOrder(t, f.orders, models.StatusPlaced, models.ProviderOnGoing, "LL-W2")

	p := signedPayload(t, "evt-2", services.EventOrderStatusChanged, statusData("LL-W2", "PICKED_UP", "2025-09-10T10:05:00Z"))
	_, err := f.service.Receive(ctx, p, "")
	require.NoError(t, err)
	first, err := f.orders.GetByID(ctx, order.ID)
	require.NoError(t, err)

	res, err := f.service.Receive(ctx, p, "")
	require.NoError(t, err)
	assert.Equal(t, "duplicate event", res.Message)
	assert.Equal(t, services.OutcomeIgnored, res.Outcome)

	second, err := f.orders.GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Version, second.Version)
	assert.Equal(t, 1, f.events.Len())
}

func TestWebhookService_SameStatusUnderNewEventID(t *testing.T) {
	f := newWebhookFixture(false)
	ctx := context.Background()
	order := seedCourierOrder(t, f.orders, models.StatusPlaced, models.ProviderOnGoing, "LL-W3")

	data := statusData("LL-W3", "PICKED_UP", "2025-09-10T10:05:00Z")
	_, err := f.service.Receive(ctx, signedPayload(t, "evt-3a", services.EventOrderStatusChanged, data), "")
	require.NoError(t, err)
	res, err := f.service.Receive(ctx, signedPayload(t, "evt-3b", services.EventOrderStatusChanged, data), "")
	require.NoError(t, err)
	assert.Equal(t, services.OutcomeIgnored, res.Outcome)

	history, err := f.orders.History(ctx, order.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestWebhookService_Authentication(t *testing.T) {
	ctx := context.Background()

	t.Run("bad signature is rejected", func(t *testing.T) {
		f := newWebhookFixture(false)
		seedCourierOrder(t, f.orders, models.StatusPlaced, models.ProviderOnGoing, "LL-W4")
		p := signedPayload(t, "evt-4", services.EventOrderStatusChanged, statusData("LL-W4", "PICKED_UP", ""))
		p.Signature = "deadbeef"

		_, err := f.service.Receive(ctx, p, "")
		assert.ErrorIs(t, err, models.ErrUnauthenticatedWebhook)
		assert.Equal(t, 0, f.events.Len())
	})

	t.Run("wrong api key is rejected", func(t *testing.T) {
		f := newWebhookFixture(false)
		p := signedPayload(t, "evt-5", services.EventOrderStatusChanged, statusData("LL-W5", "PICKED_UP", ""))
		p.APIKey = "pk_other"
		_, err := f.service.Receive(ctx, p, "")
		assert.ErrorIs(t, err, models.ErrUnauthenticatedWebhook)
	})

	t.Run("header signature is accepted", func(t *testing.T) {
		f := newWebhookFixture(false)
		seedCourierOrder(t, f.orders, models.StatusPlaced, models.ProviderOnGoing, "LL-W6")
		p := signedPayload(t, "evt-6", services.EventOrderStatusChanged, statusData("LL-W6", "PICKED_UP", ""))
		header := p.Signature
		p.Signature = ""

		res, err := f.service.Receive(ctx, p, header)
		require.NoError(t, err)
		assert.True(t, res.Authenticated)
	})

	t.Run("unsigned accepted and flagged when allowed", func(t *testing.T) {
		f := newWebhookFixture(true)
		seedCourierOrder(t, f.orders, models.StatusPlaced, models.ProviderOnGoing, "LL-W7")
		p := signedPayload(t, "evt-7", services.EventOrderStatusChanged, statusData("LL-W7", "PICKED_UP", ""))
		p.Signature = ""

		res, err := f.service.Receive(ctx, p, "")
		require.NoError(t, err)
		assert.False(t, res.Authenticated)
		assert.Equal(t, services.OutcomeApplied, res.Outcome)

		recorded, ok := f.events.Get("evt-7")
		require.True(t, ok)
		assert.False(t, recorded.Authenticated)
	})
}

func TestWebhookService_AcknowledgedEvents(t *testing.T) {
	ctx := context.Background()
	f := newWebhookFixture(false)

	res, err := f.service.Receive(ctx, signedPayload(t, "evt-8", services.EventOrderStatusChanged, statusData("LL-NOPE", "PICKED_UP", "")), "")
	require.NoError(t, err)
	assert.Equal(t, services.OutcomeIgnored, res.Outcome)
	assert.Equal(t, "unknown order", res.Reason)

	res, err = f.service.Receive(ctx, signedPayload(t, "evt-9", "WALLET_BALANCE_CHANGED", map[string]interface{}{"balance": "100"}), "")
	require.NoError(t, err)
	assert.Equal(t, services.OutcomeIgnored, res.Outcome)
	assert.Equal(t, 2, f.events.Len())
}

func TestWebhookService_DriverAssigned(t *testing.T) {
	ctx := context.Background()
	f := newWebhookFixture(false)
	order := seedCourierOrder(t, f.orders, models.StatusPlaced, models.ProviderAssigningDriver, "LL-W10")

	data := map[string]interface{}{
		"order":     map[string]interface{}{"orderId": "LL-W10"},
		"driver":    map[string]interface{}{"driverId": "drv-9", "name": "Jun"},
		"updatedAt": "2025-09-10T10:03:00Z",
	}
	res, err := f.service.Receive(ctx, signedPayload(t, "evt-10", services.EventDriverAssigned, data), "")
	require.NoError(t, err)
	assert.Equal(t, services.OutcomeApplied, res.Outcome)

	after, err := f.orders.GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "drv-9", after.LalamoveDetails.DriverID)
	assert.Equal(t, models.StatusPlaced, after.Status)
}

func TestWebhookService_MalformedData(t *testing.T) {
	ctx := context.Background()
	f := newWebhookFixture(false)

	p := signedPayload(t, "evt-11", services.EventOrderStatusChanged, map[string]interface{}{"order": map[string]interface{}{"status": "PICKED_UP"}})
	_, err := f.service.Receive(ctx, p, "")
	assert.ErrorIs(t, err, models.ErrMalformedPayload)

	p = signedPayload(t, "evt-12", services.EventOrderStatusChanged, []string{"not", "an", "object"})
	_, err = f.service.Receive(ctx, p, "")
	assert.ErrorIs(t, err, models.ErrMalformedPayload)
}
