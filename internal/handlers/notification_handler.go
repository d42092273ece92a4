package handlers

import (
	"frostmart/internal/middleware"
	"frostmart/internal/models"
	"frostmart/internal/services"

	"github.com/gofiber/fiber/v2"
)

// NotificationHandler serves admin and customer notifications.
type NotificationHandler struct {
	service *services.NotificationService
}

// NewNotificationHandler creates a new NotificationHandler.
func NewNotificationHandler(service *services.NotificationService) *NotificationHandler {
	return &NotificationHandler{service: service}
}

// RegisterRoutes registers the notification routes behind auth.
func (h *NotificationHandler) RegisterRoutes(router fiber.Router, auth fiber.Handler) {
	routes := router.Group("/notifications", auth)
	routes.Get("/", h.HandleList)
	routes.Patch("/:id/read", h.HandleMarkRead)
}

// audience returns which notifications the caller may see.
func audience(c *fiber.Ctx) (models.NotificationAudience, string) {
	user := middleware.CurrentUser(c)
	if user.Role == models.RoleAdmin {
		return models.AudienceAdmin, ""
	}
	return models.AudienceCustomer, user.UserID
}

// HandleList lists the caller's notifications, newest first.
func (h *NotificationHandler) HandleList(c *fiber.Ctx) error {
	aud, userID := audience(c)
	notifications, err := h.service.List(c.UserContext(), aud, userID, c.QueryBool("unread"), c.QueryInt("limit", 50))
	if err != nil {
		return errorResponse(c, err, "Could not retrieve notifications")
	}
	return c.JSON(notifications)
}

// HandleMarkRead flags one notification as read.
func (h *NotificationHandler) HandleMarkRead(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Invalid notification id",
		})
	}
	aud, userID := audience(c)
	if err := h.service.MarkRead(c.UserContext(), uint(id), aud, userID); err != nil {
		return errorResponse(c, err, "Could not update notification")
	}
	return c.JSON(fiber.Map{"message": "Notification marked as read"})
}
