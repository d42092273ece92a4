package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"frostmart/internal/models"
	"frostmart/internal/repositories"

	"go.uber.org/zap"
)

const defaultMaxAttempts = 5

// Notifier receives every applied transition.
type Notifier interface {
	Notify(event models.StatusEvent)
}

// Outcome tells whether an update changed the order.
type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	OutcomeIgnored Outcome = "ignored"
)

// Update is one candidate status signal.
type Update struct {
	// OrderID or ProviderOrderID locates the order; OrderID wins when both are set.
	OrderID         string
	ProviderOrderID string
	Source          models.UpdateSource
	// Status is the raw status: courier vocabulary for webhook, poll and
	// dispatch, OrderStatus for admin. Empty together with DriverID means a driver
	// assignment without a status change.
	Status   string
	EventAt  time.Time
	DriverID string
	Actor    string
	Notes    string
}

// Result reports what Apply did.
type Result struct {
	Outcome        Outcome               `json:"outcome"`
	Reason         string                `json:"reason,omitempty"`
	OrderID        string                `json:"order_id,omitempty"`
	Status         models.OrderStatus    `json:"status,omitempty"`
	ProviderStatus models.ProviderStatus `json:"provider_status,omitempty"`
}

// Reconciler merges admin actions, courier webhooks and polling results into
// one monotonic order status.
type Reconciler struct {
	repo        repositories.OrderRepository
	notifier    Notifier
	logger      *zap.Logger
	maxAttempts int
	now         func() time.Time
}

// NewReconciler creates a new Reconciler. notifier may be nil.
func NewReconciler(repo repositories.OrderRepository, notifier Notifier, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		repo:        repo,
		notifier:    notifier,
		logger:      logger,
		maxAttempts: defaultMaxAttempts,
		now:         time.Now,
	}
}

type decision struct {
	apply      bool
	reason     string
	transition models.Transition
	provider   models.ProviderStatus
	notify     bool
}

func ignore(reason string) decision {
	return decision{reason: reason}
}

// Apply decides whether u should change its order and, if so, writes the
// transition with a compare-and-set on the order version. A lost race is
// retried against the fresh order state.
func (r *Reconciler) Apply(ctx context.Context, u Update) (Result, error) {
	if u.EventAt.IsZero() {
		u.EventAt = r.now()
	}

	for attempt := 1; ; attempt++ {
		order, err := r.load(ctx, u)
		if err != nil {
			return Result{}, err
		}

		var d decision
		switch u.Source {
		case models.SourceWebhook, models.SourcePoll, models.SourceDispatch:
			d = r.decideProvider(order, u)
		case models.SourceAdmin:
			d, err = r.decideAdmin(order, u)
			if err != nil {
				return Result{}, err
			}
		default:
			return Result{}, fmt.Errorf("unsupported update source %q", u.Source)
		}

		if !d.apply {
			r.logIgnored(order, u, d.reason)
			return r.ignoredResult(order, d.reason), nil
		}

		err = r.repo.ApplyTransition(ctx, order.ID, order.Version, d.transition)
		switch {
		case err == nil:
			r.emit(order, d, u.Source)
			return Result{
				Outcome:        OutcomeApplied,
				OrderID:        order.ID,
				Status:         d.transition.Status,
				ProviderStatus: d.provider,
			}, nil
		case errors.Is(err, models.ErrDuplicateUpdate):
			r.logIgnored(order, u, "duplicate update")
			return r.ignoredResult(order, "duplicate update"), nil
		case errors.Is(err, models.ErrVersionConflict) && attempt < r.maxAttempts:
			r.logger.Debug("order changed concurrently, retrying",
				zap.String("order_id", order.ID),
				zap.Int("attempt", attempt))
			continue
		default:
			return Result{}, fmt.Errorf("failed to apply %s update to order %s: %w", u.Source, order.ID, err)
		}
	}
}

// RecordPlacement stores a freshly booked courier order and moves the order
// to placed. Allowed from prepared, or from placed after the previous
// courier order failed.
func (r *Reconciler) RecordPlacement(ctx context.Context, orderID string, change models.DeliveryChange, actor string) (Result, error) {
	now := r.now()
	if change.UpdatedAt.IsZero() {
		change.UpdatedAt = now
	}

	for attempt := 1; ; attempt++ {
		order, err := r.repo.GetByID(ctx, orderID)
		if err != nil {
			return Result{}, err
		}
		if err := CanPlaceCourier(order); err != nil {
			return Result{}, err
		}

		d := decision{
			apply:    true,
			provider: change.Status,
			notify:   order.Status != models.StatusPlaced,
			transition: models.Transition{
				Status:    models.StatusPlaced,
				Delivery:  &change,
				UpdatedAt: now,
				History: models.StatusHistory{
					Status:         models.StatusPlaced,
					ProviderStatus: change.Status,
					Source:         models.SourceDispatch,
					Actor:          actor,
					Notes:          "courier order " + change.ProviderOrderID,
					DedupKey:       models.DedupKey("placed:"+change.ProviderOrderID, now),
					EventAt:        now,
				},
			},
		}

		err = r.repo.ApplyTransition(ctx, order.ID, order.Version, d.transition)
		switch {
		case err == nil:
			r.emit(order, d, models.SourceDispatch)
			return Result{Outcome: OutcomeApplied, OrderID: order.ID, Status: models.StatusPlaced, ProviderStatus: change.Status}, nil
		case errors.Is(err, models.ErrVersionConflict) && attempt < r.maxAttempts:
			continue
		default:
			return Result{}, fmt.Errorf("failed to record placement of order %s: %w", order.ID, err)
		}
	}
}

// CanPlaceCourier reports whether a courier may be booked for order now.
func CanPlaceCourier(order *models.Order) error {
	if !order.IsCourier() {
		return models.ErrNotCourierOrder
	}
	switch {
	case order.Status == models.StatusPrepared:
		return nil
	case order.Status == models.StatusPlaced && order.LalamoveDetails.Status.IsFailure():
		return nil
	default:
		return fmt.Errorf("%w: courier can be booked only for prepared orders, order is %s with delivery %s",
			models.ErrInvalidTransition, order.Status, order.LalamoveDetails.Status)
	}
}

func (r *Reconciler) load(ctx context.Context, u Update) (*models.Order, error) {
	if u.OrderID != "" {
		return r.repo.GetByID(ctx, u.OrderID)
	}
	return r.repo.GetByProviderOrderID(ctx, u.ProviderOrderID)
}

func (r *Reconciler) decideProvider(order *models.Order, u Update) decision {
	details := order.LalamoveDetails
	if !order.IsCourier() {
		return ignore("order has no courier delivery")
	}
	if order.Status.IsTerminal() {
		return ignore(fmt.Sprintf("order is already %s", order.Status))
	}
	current := details.Status

	if u.Status == "" {
		if u.DriverID == "" || u.DriverID == details.DriverID {
			return ignore("no change")
		}
		return r.providerDecision(order, u, current, order.Status, "driver:"+u.DriverID, false)
	}

	incoming, err := models.ParseProviderStatus(u.Status)
	if err != nil {
		r.logger.Warn("unrecognized provider status",
			zap.String("order_id", order.ID),
			zap.String("source", string(u.Source)),
			zap.String("status", u.Status))
		return ignore("unrecognized status " + u.Status)
	}

	switch {
	case incoming == current:
		if u.DriverID != "" && u.DriverID != details.DriverID {
			return r.providerDecision(order, u, current, order.Status, "driver:"+u.DriverID, false)
		}
		return ignore("provider status unchanged")
	case incoming.IsFailure():
		if current == models.ProviderCompleted || current.IsFailure() {
			return ignore(fmt.Sprintf("stale %s after %s", incoming, current))
		}
		// Provider timestamps carry whole seconds.
		if u.EventAt.Before(details.LastStatusUpdate.Truncate(time.Second)) {
			return ignore(fmt.Sprintf("stale %s: delivery last changed at %s", incoming, details.LastStatusUpdate.Format(time.RFC3339)))
		}
		// The customer-facing status never moves backwards; an admin decides
		// whether to rebook or cancel.
		return r.providerDecision(order, u, incoming, order.Status, string(incoming), true)
	case current.IsFailure():
		// A courier that still picks up or delivers overrides the failure.
		if u.ProviderOrderID != "" && u.ProviderOrderID != details.ProviderOrderID {
			return ignore("update for a replaced courier order")
		}
		if mapped, ok := incoming.OrderStatus(); !ok || mapped.Rank() <= order.Status.Rank() {
			return ignore(fmt.Sprintf("delivery already %s", current))
		}
	case incoming.Rank() < current.Rank():
		return ignore(fmt.Sprintf("stale %s after %s", incoming, current))
	}

	mapped, ok := incoming.OrderStatus()
	if !ok {
		return ignore(fmt.Sprintf("status %s does not map to an order status", incoming))
	}
	if mapped.Rank() < order.Status.Rank() {
		return ignore(fmt.Sprintf("stale %s: order is already %s", incoming, order.Status))
	}

	return r.providerDecision(order, u, incoming, mapped, string(incoming), mapped != order.Status)
}

func (r *Reconciler) providerDecision(order *models.Order, u Update, provider models.ProviderStatus, status models.OrderStatus, key string, notify bool) decision {
	now := r.now()
	changedAt := u.EventAt
	if last := order.LalamoveDetails.LastStatusUpdate; last.After(changedAt) {
		changedAt = last
	}
	return decision{
		apply:    true,
		provider: provider,
		notify:   notify,
		transition: models.Transition{
			Status:    status,
			UpdatedAt: now,
			Delivery: &models.DeliveryChange{
				Status:    provider,
				DriverID:  u.DriverID,
				UpdatedAt: changedAt,
			},
			History: models.StatusHistory{
				Status:         status,
				ProviderStatus: provider,
				Source:         u.Source,
				Actor:          u.Actor,
				Notes:          u.Notes,
				DedupKey:       models.DedupKey(key, u.EventAt),
				EventAt:        u.EventAt,
			},
		},
	}
}

func (r *Reconciler) decideAdmin(order *models.Order, u Update) (decision, error) {
	target, err := models.ParseOrderStatus(u.Status)
	if err != nil {
		return decision{}, err
	}
	if order.Status.IsTerminal() {
		return decision{}, fmt.Errorf("%w: order is already %s", models.ErrInvalidTransition, order.Status)
	}

	var delivery *models.DeliveryChange
	switch {
	case target == models.StatusCancelled:
		if order.IsCourier() && order.LalamoveDetails.Status.IsActive() {
			delivery = &models.DeliveryChange{Status: models.ProviderCanceled, UpdatedAt: u.EventAt}
		}
	case target.Rank() <= order.Status.Rank():
		return decision{}, fmt.Errorf("%w: %s -> %s is not a forward transition", models.ErrInvalidTransition, order.Status, target)
	case target == models.StatusPlaced && order.IsCourier():
		return decision{}, fmt.Errorf("%w: courier orders are placed through dispatch", models.ErrInvalidTransition)
	}

	var provider models.ProviderStatus
	if delivery != nil {
		provider = delivery.Status
	}
	return decision{
		apply:    true,
		provider: provider,
		notify:   true,
		transition: models.Transition{
			Status:    target,
			Delivery:  delivery,
			UpdatedAt: r.now(),
			History: models.StatusHistory{
				Status:         target,
				ProviderStatus: provider,
				Source:         models.SourceAdmin,
				Actor:          u.Actor,
				Notes:          u.Notes,
				DedupKey:       models.DedupKey("admin:"+string(target), u.EventAt),
				EventAt:        u.EventAt,
			},
		},
	}, nil
}

func (r *Reconciler) ignoredResult(order *models.Order, reason string) Result {
	res := Result{Outcome: OutcomeIgnored, Reason: reason, OrderID: order.ID, Status: order.Status}
	if order.LalamoveDetails != nil {
		res.ProviderStatus = order.LalamoveDetails.Status
	}
	return res
}

func (r *Reconciler) logIgnored(order *models.Order, u Update, reason string) {
	log := r.logger.Info
	if u.Source == models.SourcePoll {
		// Polls repeat the current status every interval.
		log = r.logger.Debug
	}
	log("status update ignored",
		zap.String("order_id", order.ID),
		zap.String("source", string(u.Source)),
		zap.String("status", u.Status),
		zap.String("current", string(order.Status)),
		zap.String("reason", reason))
}

func (r *Reconciler) emit(order *models.Order, d decision, source models.UpdateSource) {
	r.logger.Info("order status reconciled",
		zap.String("order_id", order.ID),
		zap.String("source", string(source)),
		zap.String("from", string(order.Status)),
		zap.String("to", string(d.transition.Status)),
		zap.String("provider_status", string(d.provider)))

	if r.notifier == nil || (!d.notify && !d.provider.IsFailure()) {
		return
	}
	r.notifier.Notify(models.StatusEvent{
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		UserID:         order.UserID,
		Previous:       order.Status,
		Status:         d.transition.Status,
		ProviderStatus: d.provider,
		Source:         source,
		OccurredAt:     d.transition.UpdatedAt,
	})
}
