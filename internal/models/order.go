package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ShippingMethod selects how an order leaves the store.
type ShippingMethod string

const (
	ShippingPickup   ShippingMethod = "pickup"
	ShippingLalamove ShippingMethod = "lalamove"
)

// OrderItem represents a single product line within an order.
type OrderItem struct {
	ID        uint            `json:"-" gorm:"primaryKey"`
	OrderID   string          `json:"-" gorm:"index;type:varchar(36)"`
	ProductID string          `json:"product_id" gorm:"type:varchar(36)"`
	Name      string          `json:"name" gorm:"type:varchar(100)"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price" gorm:"type:decimal(12,2)"` // Price at the time of order
}

// LineTotal returns quantity times unit price.
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Address is a geocoded delivery destination.
type Address struct {
	Line           string  `json:"line" gorm:"type:varchar(255)"`
	Lat            float64 `json:"lat"`
	Lng            float64 `json:"lng"`
	RecipientName  string  `json:"recipient_name" gorm:"type:varchar(100)"`
	RecipientPhone string  `json:"recipient_phone" gorm:"type:varchar(32)"`
	Remarks        string  `json:"remarks,omitempty" gorm:"type:varchar(255)"`
}

// PaymentDetails mirrors the payment provider checkout session.
type PaymentDetails struct {
	SessionID string `json:"session_id" gorm:"type:varchar(128)"`
	Status    string `json:"status" gorm:"type:varchar(32)"`
}

// QuoteSnapshot is the courier quotation an order was priced or placed with.
type QuoteSnapshot struct {
	QuotationID string          `json:"quotation_id,omitempty" gorm:"type:varchar(64)"`
	Total       decimal.Decimal `json:"total" gorm:"type:decimal(12,2)"`
	Currency    string          `json:"currency,omitempty" gorm:"type:varchar(8)"`
	QuotedAt    time.Time       `json:"quoted_at"`
	ExpiresAt   time.Time       `json:"expires_at"`
}

// LalamoveDetails is the delivery sub-record. It exists only for orders
// shipped by courier.
type LalamoveDetails struct {
	ID               uint           `json:"-" gorm:"primaryKey"`
	OrderID          string         `json:"-" gorm:"uniqueIndex;type:varchar(36)"`
	ProviderOrderID  string         `json:"order_id,omitempty" gorm:"index;type:varchar(64)"`
	Status           ProviderStatus `json:"status" gorm:"type:varchar(32)"`
	DriverID         string         `json:"driver_id,omitempty" gorm:"type:varchar(64)"`
	ShareLink        string         `json:"share_link,omitempty" gorm:"type:varchar(512)"`
	LastStatusUpdate time.Time      `json:"last_status_update"`
	Quote            QuoteSnapshot  `json:"quote" gorm:"embedded;embeddedPrefix:quote_"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Order represents one customer purchase.
type Order struct {
	ID              string           `json:"id" gorm:"primaryKey;type:varchar(36)"`
	OrderNumber     string           `json:"order_number" gorm:"uniqueIndex;type:varchar(32)"`
	UserID          string           `json:"user_id" gorm:"index;type:varchar(36)"`
	Items           []OrderItem      `json:"items" gorm:"foreignKey:OrderID"`
	Subtotal        decimal.Decimal  `json:"subtotal" gorm:"type:decimal(12,2)"`
	Discount        decimal.Decimal  `json:"discount" gorm:"type:decimal(12,2)"`
	CouponCode      string           `json:"coupon_code,omitempty" gorm:"type:varchar(32)"`
	Total           decimal.Decimal  `json:"total" gorm:"type:decimal(12,2)"`
	ShippingMethod  ShippingMethod   `json:"shipping_method" gorm:"type:varchar(16)"`
	DeliveryAddress Address          `json:"delivery_address" gorm:"embedded;embeddedPrefix:delivery_"`
	Status          OrderStatus      `json:"status" gorm:"index;type:varchar(16)"`
	Version         int64            `json:"version" gorm:"not null"`
	Payment         PaymentDetails   `json:"payment" gorm:"embedded;embeddedPrefix:payment_"`
	LalamoveDetails *LalamoveDetails `json:"lalamove_details,omitempty" gorm:"foreignKey:OrderID"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// IsCourier reports whether the order is delivered by the third-party courier.
func (o *Order) IsCourier() bool {
	return o.ShippingMethod == ShippingLalamove && o.LalamoveDetails != nil
}

// OrderFilter narrows order listings.
type OrderFilter struct {
	Status OrderStatus
	UserID string
	Page   int
	Limit  int
}
