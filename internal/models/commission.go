package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CommissionRecord is the per-order commission owed to an ambassador.
// Written once per order; refunds zero the amount but keep the row, with the
// pre-refund amount in RefundedAmount.
type CommissionRecord struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	OrderID         string          `gorm:"uniqueIndex;size:64;not null" json:"order_id"`
	AmbassadorID    uint            `gorm:"not null;index" json:"ambassador_id"`
	CustomerID      uint            `gorm:"not null;index" json:"customer_id"`
	OrderTotal      decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"order_total"`
	Amount          decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Source          string          `gorm:"size:32;not null" json:"source"`
	Refunded        bool            `gorm:"not null;default:false" json:"refunded"`
	RefundedAmount  decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"refunded_amount"`
	AwardedAt       time.Time       `gorm:"not null;index" json:"awarded_at"`
	Paid            bool            `gorm:"not null;default:false;index" json:"paid"`
	RewardReference string          `gorm:"size:64" json:"reward_reference,omitempty"`
	ClaimedAt       *time.Time      `json:"-"`
	PaidAt          *time.Time      `json:"paid_at,omitempty"`
}

func (CommissionRecord) TableName() string { return "commission_records" }
