package handlers

import (
	"errors"
	"fmt"

	"frostmart/internal/models"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

// statusOf maps domain errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, models.ErrOrderNotFound),
		errors.Is(err, models.ErrProductNotFound),
		errors.Is(err, models.ErrDataNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, models.ErrUnknownStatus),
		errors.Is(err, models.ErrInvalidOrder),
		errors.Is(err, models.ErrInvalidCoupon),
		errors.Is(err, models.ErrMalformedPayload):
		return fiber.StatusBadRequest
	case errors.Is(err, models.ErrInvalidCredentials),
		errors.Is(err, models.ErrUnauthenticatedWebhook):
		return fiber.StatusUnauthorized
	case errors.Is(err, models.ErrForbidden):
		return fiber.StatusForbidden
	case errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, models.ErrNotCourierOrder),
		errors.Is(err, models.ErrConflictData):
		return fiber.StatusConflict
	case errors.Is(err, models.ErrPaymentNotConfirmed),
		errors.Is(err, models.ErrInsufficientStock):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, models.ErrDispatchFailed):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

func errorResponse(c *fiber.Ctx, err error, message string) error {
	return c.Status(statusOf(err)).JSON(fiber.Map{
		"message": message,
		"error":   err.Error(),
	})
}

func badRequest(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"message": "Invalid request body",
		"error":   err.Error(),
	})
}

func validationFailed(c *fiber.Ctx, err error) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return badRequest(c, err)
	}
	errorMessages := make(map[string]string, len(validationErrors))
	for _, e := range validationErrors {
		errorMessages[e.Field()] = fmt.Sprintf("Field '%s' failed on the '%s' tag", e.Field(), e.Tag())
	}
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"message": "Validation failed",
		"errors":  errorMessages,
	})
}
