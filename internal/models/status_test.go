package models_test

import (
	"testing"
	"time"

	"frostmart/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOrderStatus(t *testing.T) {
	cases := map[string]models.OrderStatus{
		"received":        models.StatusReceived,
		"order_preparing": models.StatusPreparing,
		" Prepared ":      models.StatusPrepared,
		"picked_up":       models.StatusPickedUp,
		"cancelled":       models.StatusCancelled,
	}
	for raw, want := range cases {
		got, err := models.ParseOrderStatus(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}

	_, err := models.ParseOrderStatus("shipped")
	assert.ErrorIs(t, err, models.ErrUnknownStatus)
}

func TestParseProviderStatus(t *testing.T) {
	got, err := models.ParseProviderStatus("picked_up")
	require.NoError(t, err)
	assert.Equal(t, models.ProviderPickedUp, got)

	got, err = models.ParseProviderStatus("CANCELLED")
	require.NoError(t, err)
	assert.Equal(t, models.ProviderCanceled, got)

	got, err = models.ParseProviderStatus("pending_placement")
	require.NoError(t, err)
	assert.Equal(t, models.ProviderPendingPlacement, got)

	for _, raw := range []string{"", "PENDING_PLACEMENT", "DELIVERED", "on going"} {
		_, err := models.ParseProviderStatus(raw)
		assert.ErrorIs(t, err, models.ErrUnknownStatus, raw)
	}
}

func TestOrderStatusRanks(t *testing.T) {
	progression := []models.OrderStatus{
		models.StatusReceived,
		models.StatusPreparing,
		models.StatusPrepared,
		models.StatusPlaced,
		models.StatusPickedUp,
		models.StatusCompleted,
	}
	for i := 1; i < len(progression); i++ {
		assert.Greater(t, progression[i].Rank(), progression[i-1].Rank())
	}
	assert.True(t, models.StatusCompleted.IsTerminal())
	assert.True(t, models.StatusCancelled.IsTerminal())
	assert.False(t, models.StatusPlaced.IsTerminal())
}

func TestProviderStatusMapping(t *testing.T) {
	cases := []struct {
		provider models.ProviderStatus
		want     models.OrderStatus
		ok       bool
	}{
		{models.ProviderAssigningDriver, models.StatusPlaced, true},
		{models.ProviderOnGoing, models.StatusPlaced, true},
		{models.ProviderPickedUp, models.StatusPickedUp, true},
		{models.ProviderCompleted, models.StatusCompleted, true},
		{models.ProviderCanceled, "", false},
		{models.ProviderRejected, "", false},
		{models.ProviderExpired, "", false},
		{models.ProviderPendingPlacement, "", false},
	}
	for _, tc := range cases {
		got, ok := tc.provider.OrderStatus()
		assert.Equal(t, tc.ok, ok, tc.provider)
		assert.Equal(t, tc.want, got, tc.provider)
	}

	assert.True(t, models.ProviderExpired.IsFailure())
	assert.False(t, models.ProviderCompleted.IsFailure())
	assert.True(t, models.ProviderOnGoing.IsActive())
	assert.False(t, models.ProviderPendingPlacement.IsActive())
	assert.Less(t, models.ProviderOnGoing.Rank(), models.ProviderCompleted.Rank())
	assert.Equal(t, models.ProviderCanceled.Rank(), models.ProviderRejected.Rank())
}

func TestDedupKeyNormalizesZone(t *testing.T) {
	at := time.Date(2025, 9, 10, 19, 8, 0, 0, time.FixedZone("PHT", 8*3600))
	assert.Equal(t, models.DedupKey("PICKED_UP", at), models.DedupKey("PICKED_UP", at.UTC()))
	assert.NotEqual(t, models.DedupKey("PICKED_UP", at), models.DedupKey("ON_GOING", at))
}

func TestCouponUsable(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	assert.True(t, (&models.Coupon{Active: true}).Usable(now))
	assert.True(t, (&models.Coupon{Active: true, ExpiresAt: &future}).Usable(now))
	assert.False(t, (&models.Coupon{Active: true, ExpiresAt: &past}).Usable(now))
	assert.False(t, (&models.Coupon{Active: false}).Usable(now))
}
