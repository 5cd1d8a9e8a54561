package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Coupon is a single-use, fixed-amount voucher scoped to one account.
type Coupon struct {
	ID         uint            `gorm:"primaryKey" json:"id"`
	Code       string          `gorm:"uniqueIndex;size:64;not null" json:"code"`
	UserID     uint            `gorm:"not null;index" json:"user_id"`
	Email      string          `gorm:"size:255" json:"email"`
	Amount     decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	UsageLimit int             `gorm:"not null;default:1" json:"usage_limit"`
	UsedCount  int             `gorm:"not null;default:0" json:"used_count"`
	Reference  string          `gorm:"size:64;index" json:"reference"` // e.g. block:12, commission:7
	ExpiresAt  *time.Time      `json:"expires_at"`
	VoidedAt   *time.Time      `json:"voided_at,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

func (Coupon) TableName() string { return "coupons" }
