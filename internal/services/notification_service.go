package services

import (
	"context"
	"encoding/json"
	"fmt"

	"frostmart/internal/models"
	"frostmart/internal/repositories"

	"go.uber.org/zap"
)

// EventPublisher publishes an event body under a routing key.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
}

// NotificationService turns status events into admin and customer
// notifications. Notify only enqueues; Run does the work.
type NotificationService struct {
	repo      repositories.NotificationRepository
	publisher EventPublisher
	queue     chan models.StatusEvent
	logger    *zap.Logger
}

// NewNotificationService creates a new NotificationService. With a nil
// publisher events are persisted in-process instead of going through the broker.
func NewNotificationService(repo repositories.NotificationRepository, publisher EventPublisher, buffer int, logger *zap.Logger) *NotificationService {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		repo:      repo,
		publisher: publisher,
		queue:     make(chan models.StatusEvent, buffer),
		logger:    logger,
	}
}

// Notify enqueues an event without blocking. When the queue is full the
// event is dropped and logged; the order history still has the transition.
func (s *NotificationService) Notify(event models.StatusEvent) {
	select {
	case s.queue <- event:
	default:
		s.logger.Warn("notification queue full, dropping event",
			zap.String("order_id", event.OrderID),
			zap.String("status", string(event.Status)))
	}
}

// Run drains the queue until ctx is done, then flushes what is left.
func (s *NotificationService) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.drain()
			s.logger.Debug("notification dispatcher is done")
			return
		case event := <-s.queue:
			s.dispatch(ctx, event)
		}
	}
}

func (s *NotificationService) drain() {
	ctx := context.Background()
	for {
		select {
		case event := <-s.queue:
			s.dispatch(ctx, event)
		default:
			return
		}
	}
}

func (s *NotificationService) dispatch(ctx context.Context, event models.StatusEvent) {
	if s.publisher != nil {
		body, err := json.Marshal(event)
		if err == nil {
			err = s.publisher.Publish(ctx, RoutingKey(event), body)
		}
		if err == nil {
			return
		}
		s.logger.Error("failed to publish status event, storing locally",
			zap.String("order_id", event.OrderID),
			zap.Error(err))
	}
	if err := s.Handle(ctx, event); err != nil {
		s.logger.Error("failed to store notifications",
			zap.String("order_id", event.OrderID),
			zap.Error(err))
	}
}

// RoutingKey is the broker routing key of a status event.
func RoutingKey(event models.StatusEvent) string {
	if event.ProviderStatus.IsFailure() && event.Status == event.Previous {
		return "order.delivery.failed"
	}
	return "order.status." + string(event.Status)
}

// HandleMessage decodes a broker message and stores its notifications.
func (s *NotificationService) HandleMessage(ctx context.Context, body []byte) error {
	var event models.StatusEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("failed to decode status event: %w", err)
	}
	return s.Handle(ctx, event)
}

// Handle stores the notifications an event produces.
func (s *NotificationService) Handle(ctx context.Context, event models.StatusEvent) error {
	return s.repo.Create(ctx, BuildNotifications(event)...)
}

var customerMessages = map[models.OrderStatus]string{
	models.StatusReceived:  "We received your order and payment.",
	models.StatusPreparing: "Your order is being prepared.",
	models.StatusPrepared:  "Your order is packed and ready.",
	models.StatusPlaced:    "A courier has been booked for your order.",
	models.StatusPickedUp:  "Your order is on its way.",
	models.StatusCompleted: "Your order has been delivered. Enjoy!",
	models.StatusCancelled: "Your order was cancelled.",
}

// BuildNotifications renders the admin and customer notifications of an event.
func BuildNotifications(event models.StatusEvent) []*models.Notification {
	label := event.OrderNumber
	if label == "" {
		label = event.OrderID
	}

	if event.ProviderStatus.IsFailure() && event.Status == event.Previous {
		return []*models.Notification{{
			Audience: models.AudienceAdmin,
			OrderID:  event.OrderID,
			Type:     "delivery_failed",
			Title:    fmt.Sprintf("Delivery for order %s failed", label),
			Message:  fmt.Sprintf("Courier reported %s. Rebook the courier or cancel the order.", event.ProviderStatus),
		}}
	}

	notifications := []*models.Notification{{
		Audience: models.AudienceAdmin,
		OrderID:  event.OrderID,
		Type:     "order_status",
		Title:    fmt.Sprintf("Order %s is %s", label, event.Status),
		Message:  fmt.Sprintf("Status changed from %s to %s (%s).", orDash(string(event.Previous)), event.Status, event.Source),
	}}
	if msg, ok := customerMessages[event.Status]; ok && event.UserID != "" && event.Status != event.Previous {
		notifications = append(notifications, &models.Notification{
			Audience: models.AudienceCustomer,
			UserID:   event.UserID,
			OrderID:  event.OrderID,
			Type:     "order_status",
			Title:    fmt.Sprintf("Order %s update", label),
			Message:  msg,
		})
	}
	return notifications
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// List returns notifications for an audience.
func (s *NotificationService) List(ctx context.Context, audience models.NotificationAudience, userID string, unreadOnly bool, limit int) ([]models.Notification, error) {
	return s.repo.List(ctx, audience, userID, unreadOnly, limit)
}

// MarkRead flags a notification as read.
func (s *NotificationService) MarkRead(ctx context.Context, id uint, audience models.NotificationAudience, userID string) error {
	return s.repo.MarkRead(ctx, id, audience, userID)
}
