package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order is the snapshot of a commerce order delivered with each lifecycle webhook.
type Order struct {
	ID         uint            `gorm:"primaryKey" json:"-"`
	OrderID    string          `gorm:"uniqueIndex;size:64;not null" json:"order_id"`
	CustomerID uint            `gorm:"not null;index" json:"customer_id"`
	Email      string          `gorm:"size:255" json:"email"`
	Total      decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"total"`
	Status     string          `gorm:"size:20;not null;index" json:"status"`
	CouponCode string          `gorm:"size:64" json:"coupon_code"`
	IP         string          `gorm:"size:45" json:"-"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

func (Order) TableName() string { return "orders" }

// QualifyingOrder records that an order was counted for a (child, parent) pair
// in a tier. ReversedAt is set when the order is refunded.
type QualifyingOrder struct {
	ID         uint            `gorm:"primaryKey" json:"id"`
	Tier       string          `gorm:"size:16;not null;uniqueIndex:idx_qualifying_tier_order" json:"tier"`
	OrderID    string          `gorm:"size:64;not null;uniqueIndex:idx_qualifying_tier_order" json:"order_id"`
	ChildID    uint            `gorm:"not null;index" json:"child_id"`
	ParentID   uint            `gorm:"not null;index" json:"parent_id"`
	Amount     decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	CountedAt  time.Time       `gorm:"not null" json:"counted_at"`
	ReversedAt *time.Time      `json:"reversed_at"`
}

func (QualifyingOrder) TableName() string { return "qualifying_orders" }
