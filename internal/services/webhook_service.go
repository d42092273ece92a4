package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"frostmart/internal/lalamove"
	"frostmart/internal/models"
	"frostmart/internal/repositories"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Courier callback event types.
const (
	EventOrderStatusChanged = "ORDER_STATUS_CHANGED"
	EventDriverAssigned     = "DRIVER_ASSIGNED"
)

// WebhookPayload is the envelope of a courier callback. Data stays raw
// because the signature covers its exact bytes.
type WebhookPayload struct {
	APIKey       string          `json:"apiKey"`
	Timestamp    int64           `json:"timestamp"`
	Signature    string          `json:"signature"`
	EventID      string          `json:"eventId"`
	EventType    string          `json:"eventType" validate:"required"`
	EventVersion string          `json:"eventVersion"`
	Data         json.RawMessage `json:"data"`
}

// WebhookData is the decoded data object of a callback.
type WebhookData struct {
	Order     WebhookOrder   `json:"order"`
	Driver    *WebhookDriver `json:"driver,omitempty"`
	UpdatedAt string         `json:"updatedAt"`
}

// WebhookOrder is the courier order inside a callback.
type WebhookOrder struct {
	OrderID        string `json:"orderId"`
	Status         string `json:"status"`
	PreviousStatus string `json:"previousStatus"`
	DriverID       string `json:"driverId"`
	ShareLink      string `json:"shareLink"`
}

// WebhookDriver is sent with DRIVER_ASSIGNED.
type WebhookDriver struct {
	DriverID string `json:"driverId"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Plate    string `json:"plateNumber"`
}

// WebhookResult is what the receiver acknowledges.
type WebhookResult struct {
	Message       string  `json:"message"`
	Outcome       Outcome `json:"outcome"`
	Reason        string  `json:"reason,omitempty"`
	Authenticated bool    `json:"-"`
}

// WebhookAuth holds what is needed to verify callbacks.
type WebhookAuth struct {
	APIKey        string
	APISecret     string
	Path          string
	AllowUnsigned bool
}

// WebhookService authenticates courier callbacks and feeds them to the reconciler.
type WebhookService struct {
	reconciler *Reconciler
	events     repositories.WebhookEventRepository
	auth       WebhookAuth
	logger     *zap.Logger
	now        func() time.Time
}

// NewWebhookService creates a new WebhookService.
func NewWebhookService(reconciler *Reconciler, events repositories.WebhookEventRepository, auth WebhookAuth, logger *zap.Logger) *WebhookService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookService{
		reconciler: reconciler,
		events:     events,
		auth:       auth,
		logger:     logger,
		now:        time.Now,
	}
}

// Authenticate checks the api key and the HMAC signature of a callback. The
// signature may come in the body or in the header.
func (s *WebhookService) Authenticate(p *WebhookPayload, headerSignature string) bool {
	if s.auth.APISecret == "" || p.APIKey != s.auth.APIKey {
		return false
	}
	signature := p.Signature
	if signature == "" {
		signature = headerSignature
	}
	return lalamove.VerifyWebhook(s.auth.APISecret, s.auth.Path, p.Timestamp, p.Data, signature)
}

// Receive authenticates and processes one callback. Unauthenticated
// callbacks fail with ErrUnauthenticatedWebhook unless unsigned delivery is
// allowed, in which case they are processed and flagged.
func (s *WebhookService) Receive(ctx context.Context, p *WebhookPayload, headerSignature string) (WebhookResult, error) {
	authenticated := s.Authenticate(p, headerSignature)
	if !authenticated {
		if !s.auth.AllowUnsigned {
			s.logger.Warn("rejected unauthenticated webhook",
				zap.String("event_id", p.EventID),
				zap.String("event_type", p.EventType))
			return WebhookResult{}, models.ErrUnauthenticatedWebhook
		}
		s.logger.Warn("accepting unauthenticated webhook",
			zap.String("event_id", p.EventID),
			zap.String("event_type", p.EventType))
	}
	return s.Process(ctx, p, authenticated)
}

// Process applies an already authenticated callback. Store failures are
// returned so the provider retries; everything else is acknowledged.
func (s *WebhookService) Process(ctx context.Context, p *WebhookPayload, authenticated bool) (WebhookResult, error) {
	if p.EventID != "" {
		seen, err := s.events.Exists(ctx, p.EventID)
		if err != nil {
			return WebhookResult{}, err
		}
		if seen {
			s.logger.Info("duplicate webhook event", zap.String("event_id", p.EventID))
			return WebhookResult{Message: "duplicate event", Outcome: OutcomeIgnored, Reason: "duplicate event", Authenticated: authenticated}, nil
		}
	}

	var data WebhookData
	if len(p.Data) > 0 {
		if err := json.Unmarshal(p.Data, &data); err != nil {
			return WebhookResult{}, fmt.Errorf("%w: data: %v", models.ErrMalformedPayload, err)
		}
	}

	result := WebhookResult{Message: "event processed", Authenticated: authenticated}
	switch p.EventType {
	case EventOrderStatusChanged, EventDriverAssigned:
		if data.Order.OrderID == "" {
			return WebhookResult{}, fmt.Errorf("%w: data.order.orderId is required", models.ErrMalformedPayload)
		}
		driverID := data.Order.DriverID
		if driverID == "" && data.Driver != nil {
			driverID = data.Driver.DriverID
		}
		status := data.Order.Status
		if p.EventType == EventOrderStatusChanged && status == "" {
			return WebhookResult{}, fmt.Errorf("%w: data.order.status is required", models.ErrMalformedPayload)
		}

		res, err := s.reconciler.Apply(ctx, Update{
			ProviderOrderID: data.Order.OrderID,
			Source:          models.SourceWebhook,
			Status:          status,
			EventAt:         s.eventTime(p, data),
			DriverID:        driverID,
			Actor:           "lalamove",
			Notes:           p.EventType + " " + p.EventID,
		})
		switch {
		case errors.Is(err, models.ErrOrderNotFound):
			s.logger.Warn("webhook for unknown courier order",
				zap.String("event_id", p.EventID),
				zap.String("provider_order_id", data.Order.OrderID))
			result.Outcome, result.Reason = OutcomeIgnored, "unknown order"
		case err != nil:
			return WebhookResult{}, err
		default:
			result.Outcome, result.Reason = res.Outcome, res.Reason
		}
	default:
		s.logger.Info("ignoring webhook event type",
			zap.String("event_id", p.EventID),
			zap.String("event_type", p.EventType))
		result.Outcome, result.Reason = OutcomeIgnored, "unhandled event type "+p.EventType
	}
	if result.Outcome == OutcomeIgnored {
		result.Message = "event acknowledged"
	}

	s.record(ctx, p, data.Order.OrderID, result)
	return result, nil
}

func (s *WebhookService) record(ctx context.Context, p *WebhookPayload, providerOrderID string, result WebhookResult) {
	eventID := p.EventID
	if eventID == "" {
		eventID = "local-" + uuid.New().String()
	}
	err := s.events.Record(ctx, &models.WebhookEvent{
		EventID:         eventID,
		EventType:       p.EventType,
		ProviderOrderID: providerOrderID,
		Authenticated:   result.Authenticated,
		Outcome:         string(result.Outcome),
		Reason:          result.Reason,
		ReceivedAt:      s.now(),
	})
	if err != nil && !errors.Is(err, models.ErrConflictData) {
		// The transition itself is stored; only the audit row is lost.
		s.logger.Error("failed to record webhook event",
			zap.String("event_id", eventID),
			zap.Error(err))
	}
}

// eventTime prefers data.updatedAt, then the envelope timestamp (seconds, or
// milliseconds on some accounts), then the receive time.
func (s *WebhookService) eventTime(p *WebhookPayload, data WebhookData) time.Time {
	if t := lalamove.ParseTime(data.UpdatedAt); !t.IsZero() {
		return t
	}
	switch {
	case p.Timestamp > 1e12:
		return time.UnixMilli(p.Timestamp)
	case p.Timestamp > 0:
		return time.Unix(p.Timestamp, 0)
	}
	return s.now()
}
