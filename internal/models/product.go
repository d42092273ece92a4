package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product represents a frozen-meat catalog entry.
type Product struct {
	ID          string          `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Name        string          `json:"name" gorm:"type:varchar(100)" validate:"required,min=3,max=100"`
	Description string          `json:"description" gorm:"type:varchar(500)" validate:"omitempty,max=500"`
	Category    string          `json:"category" gorm:"index;type:varchar(50)"`
	Unit        string          `json:"unit" gorm:"type:varchar(16)"` // e.g. "kg", "pack"
	Price       decimal.Decimal `json:"price" gorm:"type:decimal(12,2)"`
	Stock       int             `json:"stock" validate:"gte=0"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Coupon is a percentage discount applied at checkout.
type Coupon struct {
	Code       string          `json:"code" gorm:"primaryKey;type:varchar(32)"`
	PercentOff decimal.Decimal `json:"percent_off" gorm:"type:decimal(5,2)"`
	Active     bool            `json:"active"`
	ExpiresAt  *time.Time      `json:"expires_at,omitempty"`
}

// Usable reports whether the coupon may be applied at t.
func (c *Coupon) Usable(t time.Time) bool {
	if !c.Active {
		return false
	}
	return c.ExpiresAt == nil || t.Before(*c.ExpiresAt)
}
