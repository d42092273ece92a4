package handlers

import (
	"context"
	"encoding/json"
	"time"

	"frostmart/internal/services"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// SignatureHeader carries the callback signature when it is not in the body.
const SignatureHeader = "X-Lalamove-Signature"

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping() error
}

// WebhookHandler receives courier callbacks.
type WebhookHandler struct {
	service  *services.WebhookService
	store    Pinger
	validate *validator.Validate
	timeout  time.Duration
	logger   *zap.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(service *services.WebhookService, store Pinger, validate *validator.Validate, timeout time.Duration, logger *zap.Logger) *WebhookHandler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookHandler{
		service:  service,
		store:    store,
		validate: validate,
		timeout:  timeout,
		logger:   logger,
	}
}

// RegisterRoutes registers the callback endpoint at path and the health check.
func (h *WebhookHandler) RegisterRoutes(app fiber.Router, path string) {
	app.Post(path, h.HandleLalamove)
	app.Get("/api/webhooks/health", h.HandleHealth)
}

// HandleLalamove processes one courier callback. Any answer other than 2xx
// makes the provider retry, so only store failures return 500.
func (h *WebhookHandler) HandleLalamove(c *fiber.Ctx) error {
	var payload services.WebhookPayload
	if err := json.Unmarshal(c.Body(), &payload); err != nil {
		h.logger.Warn("malformed webhook body", zap.Error(err))
		return badRequest(c, err)
	}
	if err := h.validate.Struct(payload); err != nil {
		return validationFailed(c, err)
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	res, err := h.service.Receive(ctx, &payload, c.Get(SignatureHeader))
	if err != nil {
		status := statusOf(err)
		if status >= fiber.StatusInternalServerError {
			h.logger.Error("webhook processing failed",
				zap.String("event_id", payload.EventID),
				zap.String("event_type", payload.EventType),
				zap.Error(err))
		}
		return c.Status(status).JSON(fiber.Map{
			"message": "Webhook rejected",
			"error":   err.Error(),
		})
	}
	return c.JSON(res)
}

// HandleHealth reports whether the store is reachable.
func (h *WebhookHandler) HandleHealth(c *fiber.Ctx) error {
	if err := h.store.Ping(); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "unhealthy",
			"error":  err.Error(),
		})
	}
	return c.JSON(fiber.Map{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}
