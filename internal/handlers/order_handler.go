package handlers

import (
	"fmt"

	"frostmart/internal/middleware"
	"frostmart/internal/models"
	"frostmart/internal/services"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// OrderHandler handles HTTP requests for orders.
type OrderHandler struct {
	service  *services.OrderService
	validate *validator.Validate
	logger   *zap.Logger
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(service *services.OrderService, validate *validator.Validate, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{
		service:  service,
		validate: validate,
		logger:   logger,
	}
}

// RegisterRoutes registers customer order routes behind auth and admin
// order routes behind auth plus admin.
func (h *OrderHandler) RegisterRoutes(router fiber.Router, auth, admin fiber.Handler) {
	orderRoutes := router.Group("/orders", auth)
	orderRoutes.Post("/", h.HandleCreateOrder)
	orderRoutes.Get("/mine", h.HandleGetMyOrders)
	orderRoutes.Get("/:id", h.HandleGetOrderByID)
	orderRoutes.Get("/:id/history", h.HandleGetOrderHistory)

	adminRoutes := router.Group("/admin/orders", auth, admin)
	adminRoutes.Get("/", h.HandleListOrders)
	adminRoutes.Patch("/:id/status", h.HandleUpdateOrderStatus)
	adminRoutes.Post("/:id/lalamove", h.HandlePlaceCourierOrder)
	adminRoutes.Post("/:id/cancel", h.HandleCancelOrder)
	adminRoutes.Post("/:id/refresh", h.HandleRefreshDelivery)
}

// HandleCreateOrder completes a paid checkout.
func (h *OrderHandler) HandleCreateOrder(c *fiber.Ctx) error {
	var req services.CheckoutRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err)
	}
	if err := h.validate.Struct(req); err != nil {
		return validationFailed(c, err)
	}

	user := middleware.CurrentUser(c)
	order, err := h.service.CreateOrder(c.UserContext(), user.UserID, req)
	if err != nil {
		h.logger.Warn("checkout failed", zap.String("user_id", user.UserID), zap.Error(err))
		return errorResponse(c, err, "Could not create order")
	}
	return c.Status(fiber.StatusCreated).JSON(order)
}

// HandleGetMyOrders lists the caller's orders.
func (h *OrderHandler) HandleGetMyOrders(c *fiber.Ctx) error {
	page, limit := c.QueryInt("page", 1), c.QueryInt("limit", 20)
	orders, total, err := h.service.ListUserOrders(c.UserContext(), middleware.CurrentUser(c).UserID, page, limit)
	if err != nil {
		return errorResponse(c, err, "Could not retrieve orders")
	}
	return c.JSON(fiber.Map{"orders": orders, "total": total, "page": page, "limit": limit})
}

// ownerFilter returns the user id an order lookup is restricted to; admins
// see every order.
func ownerFilter(c *fiber.Ctx) string {
	user := middleware.CurrentUser(c)
	if user.Role == models.RoleAdmin {
		return ""
	}
	return user.UserID
}

// HandleGetOrderByID retrieves a single order by its ID.
func (h *OrderHandler) HandleGetOrderByID(c *fiber.Ctx) error {
	order, err := h.service.GetOrder(c.UserContext(), c.Params("id"), ownerFilter(c))
	if err != nil {
		return errorResponse(c, err, "Could not retrieve order")
	}
	return c.JSON(order)
}

// HandleGetOrderHistory returns the audited transitions of an order.
func (h *OrderHandler) HandleGetOrderHistory(c *fiber.Ctx) error {
	history, err := h.service.History(c.UserContext(), c.Params("id"), ownerFilter(c))
	if err != nil {
		return errorResponse(c, err, "Could not retrieve order history")
	}
	return c.JSON(history)
}

// HandleListOrders lists all orders, optionally by status.
func (h *OrderHandler) HandleListOrders(c *fiber.Ctx) error {
	filter := models.OrderFilter{
		Status: models.OrderStatus(c.Query("status")),
		Page:   c.QueryInt("page", 1),
		Limit:  c.QueryInt("limit", 20),
	}
	orders, total, err := h.service.ListOrders(c.UserContext(), filter)
	if err != nil {
		return errorResponse(c, err, "Could not retrieve orders")
	}
	return c.JSON(fiber.Map{"orders": orders, "total": total, "page": filter.Page, "limit": filter.Limit})
}

// StatusUpdateRequest is the body of an admin status change.
type StatusUpdateRequest struct {
	Status string `json:"status" validate:"required"`
	Notes  string `json:"notes" validate:"max=500"`
}

// HandleUpdateOrderStatus applies an admin status change.
func (h *OrderHandler) HandleUpdateOrderStatus(c *fiber.Ctx) error {
	orderID := c.Params("id")
	var req StatusUpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err)
	}
	if err := h.validate.Struct(req); err != nil {
		return validationFailed(c, err)
	}

	res, err := h.service.UpdateStatus(c.UserContext(), orderID, req.Status, req.Notes, middleware.CurrentUser(c).Username)
	if err != nil {
		h.logger.Info("admin status update rejected",
			zap.String("order_id", orderID),
			zap.String("status", req.Status),
			zap.Error(err))
		return errorResponse(c, err, "Order update failed")
	}
	return c.JSON(fiber.Map{
		"message": fmt.Sprintf("Order %s is %s", orderID, res.Status),
		"result":  res,
	})
}

// HandlePlaceCourierOrder books the courier for a prepared order.
func (h *OrderHandler) HandlePlaceCourierOrder(c *fiber.Ctx) error {
	orderID := c.Params("id")
	order, err := h.service.PlaceCourierOrder(c.UserContext(), orderID, middleware.CurrentUser(c).Username)
	if err != nil {
		h.logger.Error("courier placement failed", zap.String("order_id", orderID), zap.Error(err))
		return errorResponse(c, err, "Could not place courier order")
	}
	return c.JSON(order)
}

// CancelRequest is the optional body of an admin cancellation.
type CancelRequest struct {
	Notes string `json:"notes" validate:"max=500"`
}

// HandleCancelOrder cancels an order, and its courier order if active.
func (h *OrderHandler) HandleCancelOrder(c *fiber.Ctx) error {
	orderID := c.Params("id")
	var req CancelRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, err)
		}
		if err := h.validate.Struct(req); err != nil {
			return validationFailed(c, err)
		}
	}

	res, err := h.service.CancelOrder(c.UserContext(), orderID, req.Notes, middleware.CurrentUser(c).Username)
	if err != nil {
		h.logger.Warn("cancellation failed", zap.String("order_id", orderID), zap.Error(err))
		return errorResponse(c, err, "Could not cancel order")
	}
	return c.JSON(fiber.Map{
		"message": fmt.Sprintf("Order %s cancelled", orderID),
		"result":  res,
	})
}

// HandleRefreshDelivery pulls the courier status of one order on demand.
func (h *OrderHandler) HandleRefreshDelivery(c *fiber.Ctx) error {
	res, err := h.service.RefreshDelivery(c.UserContext(), c.Params("id"))
	if err != nil {
		return errorResponse(c, err, "Could not refresh delivery status")
	}
	return c.JSON(res)
}
