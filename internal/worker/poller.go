package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"frostmart/internal/lalamove"
	"frostmart/internal/models"
	"frostmart/internal/services"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// OrderSource lists the orders that still wait on the courier.
type OrderSource interface {
	ListActiveDeliveries(ctx context.Context) ([]models.Order, error)
}

// StatusFetcher reads a courier order from the provider.
type StatusFetcher interface {
	GetOrder(ctx context.Context, orderID string) (*lalamove.DeliveryOrder, error)
}

// Applier reconciles one status signal.
type Applier interface {
	Apply(ctx context.Context, u services.Update) (services.Result, error)
}

// DeliveryPoller is the fallback for lost webhooks: it periodically asks the
// provider for the status of every active delivery.
type DeliveryPoller struct {
	orders      OrderSource
	fetcher     StatusFetcher
	applier     Applier
	interval    time.Duration
	concurrency int
	logger      *zap.Logger
}

// NewDeliveryPoller creates new DeliveryPoller
func NewDeliveryPoller(orders OrderSource, fetcher StatusFetcher, applier Applier, interval time.Duration, concurrency int, logger *zap.Logger) *DeliveryPoller {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeliveryPoller{
		orders:      orders,
		fetcher:     fetcher,
		applier:     applier,
		interval:    interval,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Run polls on every tick until ctx is done.
func (p *DeliveryPoller) Run(ctx context.Context) {
	if p.interval <= 0 {
		p.logger.Info("delivery poller disabled")
		return
	}
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var pause time.Time
	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("delivery poller is done")
			return
		case now := <-ticker.C:
			if now.Before(pause) {
				continue
			}
			if wait := p.PollOnce(ctx); wait > 0 {
				pause = now.Add(wait)
			}
		}
	}
}

// PollOnce polls every active delivery once. It returns how long to back
// off when the provider rate limited the pass.
func (p *DeliveryPoller) PollOnce(ctx context.Context) time.Duration {
	orders, err := p.orders.ListActiveDeliveries(ctx)
	if err != nil {
		p.logger.Error("failed to list active deliveries", zap.Error(err))
		return 0
	}
	if len(orders) == 0 {
		return 0
	}

	var backoff atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i := range orders {
		order := orders[i]
		g.Go(func() error {
			if backoff.Load() > 0 {
				return nil
			}
			if wait := p.pollOrder(gctx, &order); wait > 0 {
				backoff.Store(int64(wait))
			}
			return nil
		})
	}
	_ = g.Wait()

	if wait := time.Duration(backoff.Load()); wait > 0 {
		p.logger.Warn("provider rate limited polling", zap.Duration("retry_after", wait))
		return wait
	}
	return 0
}

func (p *DeliveryPoller) pollOrder(ctx context.Context, order *models.Order) time.Duration {
	if order.LalamoveDetails == nil || order.LalamoveDetails.ProviderOrderID == "" {
		return 0
	}
	providerID := order.LalamoveDetails.ProviderOrderID

	remote, err := p.fetcher.GetOrder(ctx, providerID)
	if err != nil {
		var apiErr *lalamove.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == 429 {
			wait := apiErr.RetryAfter
			if wait <= 0 {
				wait = p.interval
			}
			return wait
		}
		p.logger.Error("failed to poll courier order",
			zap.String("order_id", order.ID),
			zap.String("provider_order_id", providerID),
			zap.Error(err))
		return 0
	}

	res, err := p.applier.Apply(ctx, services.Update{
		OrderID:  order.ID,
		Source:   models.SourcePoll,
		Status:   remote.Status,
		DriverID: remote.DriverID,
	})
	if err != nil {
		p.logger.Error("failed to reconcile polled status",
			zap.String("order_id", order.ID),
			zap.String("status", remote.Status),
			zap.Error(err))
		return 0
	}
	if res.Outcome == services.OutcomeApplied {
		p.logger.Info("poll caught up delivery status",
			zap.String("order_id", order.ID),
			zap.String("provider_status", string(res.ProviderStatus)))
	}
	return 0
}
