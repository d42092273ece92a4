package lalamove

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Coordinates are sent as strings by the API.
type Coordinates struct {
	Lat string `json:"lat"`
	Lng string `json:"lng"`
}

// NewCoordinates formats a lat/lng pair.
func NewCoordinates(lat, lng float64) Coordinates {
	return Coordinates{
		Lat: decimal.NewFromFloat(lat).String(),
		Lng: decimal.NewFromFloat(lng).String(),
	}
}

// Stop is one pickup or drop-off point.
type Stop struct {
	StopID      string      `json:"stopId,omitempty"`
	Coordinates Coordinates `json:"coordinates"`
	Address     string      `json:"address"`
}

// Item describes the parcel.
type Item struct {
	Quantity          string   `json:"quantity,omitempty"`
	Weight            string   `json:"weight,omitempty"`
	Categories        []string `json:"categories,omitempty"`
	HandlingInstructs []string `json:"handlingInstructions,omitempty"`
}

// QuoteRequest is the body of POST /v3/quotations.
type QuoteRequest struct {
	ScheduleAt  string `json:"scheduleAt,omitempty"`
	ServiceType string `json:"serviceType"`
	Language    string `json:"language"`
	Stops       []Stop `json:"stops"`
	Item        *Item  `json:"item,omitempty"`
}

// PriceBreakdown is the quoted price.
type PriceBreakdown struct {
	Total    decimal.Decimal `json:"total"`
	Currency string          `json:"currency"`
}

// Quotation is the response of POST /v3/quotations.
type Quotation struct {
	QuotationID    string         `json:"quotationId"`
	ScheduleAt     string         `json:"scheduleAt"`
	ExpiresAt      string         `json:"expiresAt"`
	ServiceType    string         `json:"serviceType"`
	PriceBreakdown PriceBreakdown `json:"priceBreakdown"`
	Stops          []Stop         `json:"stops"`
}

// Expiry parses ExpiresAt. The API emits both RFC 3339 and a seconds-less
// variant ("2025-09-10T19:08.00Z").
func (q *Quotation) Expiry() time.Time {
	return ParseTime(q.ExpiresAt)
}

// Contact is a sender or recipient bound to a quoted stop.
type Contact struct {
	StopID  string `json:"stopId"`
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Remarks string `json:"remarks,omitempty"`
}

// PlaceOrderRequest is the body of POST /v3/orders.
type PlaceOrderRequest struct {
	QuotationID  string            `json:"quotationId"`
	Sender       Contact           `json:"sender"`
	Recipients   []Contact         `json:"recipients"`
	IsPODEnabled bool              `json:"isPODEnabled"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// DeliveryOrder is a courier order as returned by the API.
type DeliveryOrder struct {
	OrderID        string         `json:"orderId"`
	QuotationID    string         `json:"quotationId"`
	DriverID       string         `json:"driverId"`
	ShareLink      string         `json:"shareLink"`
	Status         string         `json:"status"`
	PriceBreakdown PriceBreakdown `json:"priceBreakdown"`
	Stops          []Stop         `json:"stops"`
}

// APIError is a non-2xx answer from the API.
type APIError struct {
	StatusCode int             `json:"-"`
	RetryAfter time.Duration   `json:"-"`
	Errors     []APIErrorEntry `json:"errors"`
}

// APIErrorEntry is one entry of the error list.
type APIErrorEntry struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if len(e.Errors) == 0 {
		return fmt.Sprintf("lalamove: status %d", e.StatusCode)
	}
	parts := make([]string, 0, len(e.Errors))
	for _, entry := range e.Errors {
		parts = append(parts, fmt.Sprintf("%s: %s", entry.ID, entry.Message))
	}
	return fmt.Sprintf("lalamove: status %d: %s", e.StatusCode, strings.Join(parts, "; "))
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04.00Z",
	"2006-01-02T15:04Z",
}

// ParseTime parses API timestamps, returning the zero time when none of the
// known layouts match.
func ParseTime(raw string) time.Time {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return time.Time{}
}
