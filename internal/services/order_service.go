package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"frostmart/internal/lalamove"
	"frostmart/internal/models"
	"frostmart/internal/repositories"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const paymentPaid = "paid"

// DeliveryClient is the subset of the courier API the order flow needs.
type DeliveryClient interface {
	Quote(ctx context.Context, req lalamove.QuoteRequest) (*lalamove.Quotation, error)
	PlaceOrder(ctx context.Context, req lalamove.PlaceOrderRequest) (*lalamove.DeliveryOrder, error)
	GetOrder(ctx context.Context, orderID string) (*lalamove.DeliveryOrder, error)
	CancelOrder(ctx context.Context, orderID string) error
}

// DispatchOptions describe the pickup stop and courier service used for quotes.
type DispatchOptions struct {
	ServiceType  string
	Language     string
	StoreName    string
	StorePhone   string
	StoreAddress string
	StoreLat     float64
	StoreLng     float64
}

// CheckoutItem is one requested product line.
type CheckoutItem struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,gt=0"`
}

// CheckoutRequest is the payload of a completed checkout.
type CheckoutRequest struct {
	Items           []CheckoutItem        `json:"items" validate:"required,min=1,dive"`
	ShippingMethod  models.ShippingMethod `json:"shipping_method" validate:"required,oneof=pickup lalamove"`
	DeliveryAddress models.Address        `json:"delivery_address"`
	CouponCode      string                `json:"coupon_code" validate:"omitempty,max=32"`
	Payment         models.PaymentDetails `json:"payment" validate:"required"`
}

// OrderService handles business logic related to orders.
type OrderService struct {
	orderRepo   repositories.OrderRepository
	productRepo repositories.ProductRepository
	couponRepo  repositories.CouponRepository
	reconciler  *Reconciler
	delivery    DeliveryClient
	notifier    Notifier
	dispatch    DispatchOptions
	logger      *zap.Logger
	now         func() time.Time
}

// NewOrderService creates a new OrderService. delivery may be nil when no
// courier credentials are configured; courier operations then fail with
// ErrDispatchFailed.
func NewOrderService(
	orderRepo repositories.OrderRepository,
	productRepo repositories.ProductRepository,
	couponRepo repositories.CouponRepository,
	reconciler *Reconciler,
	delivery DeliveryClient,
	notifier Notifier,
	dispatch DispatchOptions,
	logger *zap.Logger,
) *OrderService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderService{
		orderRepo:   orderRepo,
		productRepo: productRepo,
		couponRepo:  couponRepo,
		reconciler:  reconciler,
		delivery:    delivery,
		notifier:    notifier,
		dispatch:    dispatch,
		logger:      logger,
		now:         time.Now,
	}
}

// CreateOrder turns a paid checkout into an order in status received.
// Stock is reserved line by line and given back if anything fails.
func (s *OrderService) CreateOrder(ctx context.Context, userID string, req CheckoutRequest) (*models.Order, error) {
	if !strings.EqualFold(req.Payment.Status, paymentPaid) {
		return nil, fmt.Errorf("%w: payment status is %q", models.ErrPaymentNotConfirmed, req.Payment.Status)
	}
	if req.ShippingMethod == models.ShippingLalamove {
		addr := req.DeliveryAddress
		if addr.Line == "" || (addr.Lat == 0 && addr.Lng == 0) || addr.RecipientPhone == "" {
			return nil, fmt.Errorf("%w: courier delivery needs a geocoded address and a recipient phone", models.ErrInvalidOrder)
		}
	}

	now := s.now()
	var reserved []models.OrderItem
	release := func() {
		rctx := context.WithoutCancel(ctx)
		for _, item := range reserved {
			if err := s.productRepo.IncrementStock(rctx, item.ProductID, item.Quantity); err != nil {
				s.logger.Error("failed to release reserved stock",
					zap.String("product_id", item.ProductID),
					zap.Int("quantity", item.Quantity),
					zap.Error(err))
			}
		}
	}

	subtotal := decimal.Zero
	for _, line := range req.Items {
		product, err := s.productRepo.GetByID(ctx, line.ProductID)
		if err != nil {
			release()
			return nil, err
		}
		if err := s.productRepo.DecrementStock(ctx, product.ID, line.Quantity); err != nil {
			release()
			return nil, fmt.Errorf("%s (requested %d): %w", product.Name, line.Quantity, err)
		}
		item := models.OrderItem{
			ProductID: product.ID,
			Name:      product.Name,
			Quantity:  line.Quantity,
			UnitPrice: product.Price,
		}
		reserved = append(reserved, item)
		subtotal = subtotal.Add(item.LineTotal())
	}

	discount := decimal.Zero
	couponCode := ""
	if req.CouponCode != "" {
		coupon, err := s.couponRepo.GetByCode(ctx, req.CouponCode)
		if err != nil {
			release()
			return nil, err
		}
		if !coupon.Usable(now) {
			release()
			return nil, fmt.Errorf("coupon %s: %w", coupon.Code, models.ErrInvalidCoupon)
		}
		discount = subtotal.Mul(coupon.PercentOff).Div(decimal.NewFromInt(100)).Round(2)
		couponCode = coupon.Code
	}

	order := &models.Order{
		ID:             uuid.New().String(),
		OrderNumber:    newOrderNumber(now),
		UserID:         userID,
		Items:          reserved,
		Subtotal:       subtotal,
		Discount:       discount,
		CouponCode:     couponCode,
		Total:          subtotal.Sub(discount),
		ShippingMethod: req.ShippingMethod,
		Status:         models.StatusReceived,
		Version:        1,
		Payment:        req.Payment,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	order.Payment.Status = paymentPaid

	initial := models.StatusHistory{
		Status:   models.StatusReceived,
		Source:   models.SourceCheckout,
		Actor:    userID,
		DedupKey: models.DedupKey("checkout", now),
		EventAt:  now,
	}

	if req.ShippingMethod == models.ShippingLalamove {
		order.DeliveryAddress = req.DeliveryAddress
		order.LalamoveDetails = &models.LalamoveDetails{
			Status:           models.ProviderPendingPlacement,
			LastStatusUpdate: now,
		}
		if snapshot, err := s.quote(ctx, order); err != nil {
			// The quote is informational; placement asks for a fresh one.
			s.logger.Warn("checkout quotation failed",
				zap.String("order_number", order.OrderNumber),
				zap.Error(err))
		} else {
			order.LalamoveDetails.Quote = *snapshot
		}
		initial.ProviderStatus = models.ProviderPendingPlacement
	}

	if err := s.orderRepo.Create(ctx, order, initial); err != nil {
		release()
		return nil, err
	}

	s.logger.Info("order created",
		zap.String("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.String("shipping_method", string(order.ShippingMethod)),
		zap.String("total", order.Total.StringFixed(2)))

	if s.notifier != nil {
		s.notifier.Notify(models.StatusEvent{
			OrderID:        order.ID,
			OrderNumber:    order.OrderNumber,
			UserID:         order.UserID,
			Status:         models.StatusReceived,
			ProviderStatus: initial.ProviderStatus,
			Source:         models.SourceCheckout,
			OccurredAt:     now,
		})
	}
	return order, nil
}

// newOrderNumber returns a human readable order number, FM-YYYYMMDD-XXXXXX.
func newOrderNumber(t time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:6])
	return fmt.Sprintf("FM-%s-%s", t.UTC().Format("20060102"), suffix)
}

// PlaceCourierOrder books a courier for a prepared order. A provider failure
// leaves the order untouched so the admin can retry.
func (s *OrderService) PlaceCourierOrder(ctx context.Context, orderID, actor string) (*models.Order, error) {
	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := CanPlaceCourier(order); err != nil {
		return nil, err
	}
	if s.delivery == nil {
		return nil, fmt.Errorf("%w: courier client is not configured", models.ErrDispatchFailed)
	}

	quote, err := s.delivery.Quote(ctx, s.quoteRequest(order))
	if err != nil {
		return nil, fmt.Errorf("%w: quotation: %v", models.ErrDispatchFailed, err)
	}
	if len(quote.Stops) < 2 {
		return nil, fmt.Errorf("%w: quotation %s has %d stops", models.ErrDispatchFailed, quote.QuotationID, len(quote.Stops))
	}

	addr := order.DeliveryAddress
	placed, err := s.delivery.PlaceOrder(ctx, lalamove.PlaceOrderRequest{
		QuotationID: quote.QuotationID,
		Sender: lalamove.Contact{
			StopID: quote.Stops[0].StopID,
			Name:   s.dispatch.StoreName,
			Phone:  s.dispatch.StorePhone,
		},
		Recipients: []lalamove.Contact{{
			StopID:  quote.Stops[1].StopID,
			Name:    addr.RecipientName,
			Phone:   addr.RecipientPhone,
			Remarks: addr.Remarks,
		}},
		IsPODEnabled: true,
		Metadata:     map[string]string{"orderNumber": order.OrderNumber},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: place order: %v", models.ErrDispatchFailed, err)
	}

	status, err := models.ParseProviderStatus(placed.Status)
	if err != nil || status == models.ProviderPendingPlacement {
		status = models.ProviderAssigningDriver
	}
	change := models.DeliveryChange{
		ProviderOrderID: placed.OrderID,
		Status:          status,
		DriverID:        placed.DriverID,
		ShareLink:       placed.ShareLink,
		Quote:           snapshotOf(quote, s.now()),
	}

	if _, err := s.reconciler.RecordPlacement(ctx, order.ID, change, actor); err != nil {
		// The booking exists at the provider but not here; release it.
		if cerr := s.delivery.CancelOrder(context.WithoutCancel(ctx), placed.OrderID); cerr != nil {
			s.logger.Error("failed to cancel unrecorded courier order",
				zap.String("order_id", order.ID),
				zap.String("provider_order_id", placed.OrderID),
				zap.Error(cerr))
		}
		return nil, err
	}
	return s.orderRepo.GetByID(ctx, order.ID)
}

// UpdateStatus applies an admin status change. Cancellation goes through
// CancelOrder so an active courier order is cancelled first.
func (s *OrderService) UpdateStatus(ctx context.Context, orderID, status, notes, actor string) (Result, error) {
	target, err := models.ParseOrderStatus(status)
	if err != nil {
		return Result{}, err
	}
	if target == models.StatusCancelled {
		return s.CancelOrder(ctx, orderID, notes, actor)
	}
	return s.reconciler.Apply(ctx, Update{
		OrderID: orderID,
		Source:  models.SourceAdmin,
		Status:  string(target),
		Actor:   actor,
		Notes:   notes,
	})
}

// CancelOrder cancels an order. An active courier order is cancelled at the
// provider first; if that fails the order is left as it is.
func (s *OrderService) CancelOrder(ctx context.Context, orderID, notes, actor string) (Result, error) {
	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return Result{}, err
	}
	if order.Status.IsTerminal() {
		return Result{}, fmt.Errorf("%w: order is already %s", models.ErrInvalidTransition, order.Status)
	}

	var providerOrderID string
	if order.IsCourier() && order.LalamoveDetails.Status.IsActive() && order.LalamoveDetails.ProviderOrderID != "" {
		if s.delivery == nil {
			return Result{}, fmt.Errorf("%w: courier client is not configured", models.ErrDispatchFailed)
		}
		providerOrderID = order.LalamoveDetails.ProviderOrderID
		if err := s.delivery.CancelOrder(ctx, providerOrderID); err != nil {
			return Result{}, fmt.Errorf("%w: cancel courier order %s: %v", models.ErrDispatchFailed, providerOrderID, err)
		}
	}

	res, err := s.reconciler.Apply(ctx, Update{
		OrderID: order.ID,
		Source:  models.SourceAdmin,
		Status:  string(models.StatusCancelled),
		Actor:   actor,
		Notes:   notes,
	})
	if err != nil {
		if providerOrderID != "" {
			s.recordProviderCancel(ctx, order.ID, providerOrderID, actor, err)
		}
		return Result{}, err
	}
	if res.Outcome == OutcomeApplied {
		s.restock(ctx, order)
	}
	return res, nil
}

// recordProviderCancel stores the CANCELED delivery after the order itself
// could not be cancelled, so a retry does not cancel at the provider again.
func (s *OrderService) recordProviderCancel(ctx context.Context, orderID, providerOrderID, actor string, cause error) {
	s.logger.Error("courier order cancelled but order was not updated",
		zap.String("order_id", orderID),
		zap.String("provider_order_id", providerOrderID),
		zap.Error(cause))

	_, err := s.reconciler.Apply(context.WithoutCancel(ctx), Update{
		OrderID:         orderID,
		ProviderOrderID: providerOrderID,
		Source:          models.SourceDispatch,
		Status:          string(models.ProviderCanceled),
		Actor:           actor,
		Notes:           "cancelled at provider by " + actor,
	})
	if err != nil {
		s.logger.Error("failed to record courier cancellation",
			zap.String("order_id", orderID),
			zap.String("provider_order_id", providerOrderID),
			zap.Error(err))
	}
}

func (s *OrderService) restock(ctx context.Context, order *models.Order) {
	rctx := context.WithoutCancel(ctx)
	for _, item := range order.Items {
		if err := s.productRepo.IncrementStock(rctx, item.ProductID, item.Quantity); err != nil {
			s.logger.Error("failed to restock cancelled order line",
				zap.String("order_id", order.ID),
				zap.String("product_id", item.ProductID),
				zap.Error(err))
		}
	}
}

// GetOrder returns an order. A non-empty userID restricts access to the owner.
func (s *OrderService) GetOrder(ctx context.Context, orderID, userID string) (*models.Order, error) {
	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if userID != "" && order.UserID != userID {
		return nil, models.ErrForbidden
	}
	return order, nil
}

// ListOrders returns one page of orders and the total count.
func (s *OrderService) ListOrders(ctx context.Context, filter models.OrderFilter) ([]models.Order, int64, error) {
	if filter.Status != "" {
		status, err := models.ParseOrderStatus(string(filter.Status))
		if err != nil {
			return nil, 0, err
		}
		filter.Status = status
	}
	return s.orderRepo.List(ctx, filter)
}

// ListUserOrders returns the orders of one customer.
func (s *OrderService) ListUserOrders(ctx context.Context, userID string, page, limit int) ([]models.Order, int64, error) {
	return s.orderRepo.List(ctx, models.OrderFilter{UserID: userID, Page: page, Limit: limit})
}

// History returns the audited transitions of an order.
func (s *OrderService) History(ctx context.Context, orderID, userID string) ([]models.StatusHistory, error) {
	if _, err := s.GetOrder(ctx, orderID, userID); err != nil {
		return nil, err
	}
	return s.orderRepo.History(ctx, orderID)
}

// RefreshDelivery fetches the courier order and reconciles it as a poll result.
func (s *OrderService) RefreshDelivery(ctx context.Context, orderID string) (Result, error) {
	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return Result{}, err
	}
	if !order.IsCourier() || order.LalamoveDetails.ProviderOrderID == "" {
		return Result{}, models.ErrNotCourierOrder
	}
	if s.delivery == nil {
		return Result{}, fmt.Errorf("%w: courier client is not configured", models.ErrDispatchFailed)
	}
	remote, err := s.delivery.GetOrder(ctx, order.LalamoveDetails.ProviderOrderID)
	if err != nil {
		var apiErr *lalamove.APIError
		if errors.As(err, &apiErr) {
			return Result{}, fmt.Errorf("%w: %v", models.ErrDispatchFailed, apiErr)
		}
		return Result{}, fmt.Errorf("%w: get order: %v", models.ErrDispatchFailed, err)
	}
	return s.reconciler.Apply(ctx, Update{
		OrderID:  order.ID,
		Source:   models.SourcePoll,
		Status:   remote.Status,
		DriverID: remote.DriverID,
	})
}

func (s *OrderService) quote(ctx context.Context, order *models.Order) (*models.QuoteSnapshot, error) {
	if s.delivery == nil {
		return nil, errors.New("courier client is not configured")
	}
	q, err := s.delivery.Quote(ctx, s.quoteRequest(order))
	if err != nil {
		return nil, err
	}
	return snapshotOf(q, s.now()), nil
}

func (s *OrderService) quoteRequest(order *models.Order) lalamove.QuoteRequest {
	addr := order.DeliveryAddress
	return lalamove.QuoteRequest{
		ServiceType: s.dispatch.ServiceType,
		Language:    s.dispatch.Language,
		Stops: []lalamove.Stop{
			{
				Coordinates: lalamove.NewCoordinates(s.dispatch.StoreLat, s.dispatch.StoreLng),
				Address:     s.dispatch.StoreAddress,
			},
			{
				Coordinates: lalamove.NewCoordinates(addr.Lat, addr.Lng),
				Address:     addr.Line,
			},
		},
		Item: &lalamove.Item{
			Quantity:          fmt.Sprint(totalQuantity(order.Items)),
			Categories:        []string{"FOOD_DELIVERY"},
			HandlingInstructs: []string{"KEEP_UPRIGHT"},
		},
	}
}

func snapshotOf(q *lalamove.Quotation, quotedAt time.Time) *models.QuoteSnapshot {
	return &models.QuoteSnapshot{
		QuotationID: q.QuotationID,
		Total:       q.PriceBreakdown.Total,
		Currency:    q.PriceBreakdown.Currency,
		QuotedAt:    quotedAt,
		ExpiresAt:   q.Expiry(),
	}
}

func totalQuantity(items []models.OrderItem) int {
	n := 0
	for _, item := range items {
		n += item.Quantity
	}
	return n
}
