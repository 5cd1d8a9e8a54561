package models

import (
	"time"
)

// ReferralCode is a unique invite code belonging to an ambassador.
// The same code is accepted as an affiliate coupon code on orders.
type ReferralCode struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"uniqueIndex;not null" json:"user_id"`
	Code      string    `gorm:"uniqueIndex;size:20;not null" json:"code"`
	IsActive  bool      `gorm:"default:true" json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (ReferralCode) TableName() string { return "referral_codes" }

// ReferralVisit is the first-touch capture of a referral link for a customer.
// Only the first capture counts until it falls outside the conversion window.
type ReferralVisit struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	CustomerID   uint      `gorm:"uniqueIndex;not null" json:"customer_id"`
	AmbassadorID uint      `gorm:"not null;index" json:"ambassador_id"`
	Code         string    `gorm:"size:20" json:"code"`
	IP           string    `gorm:"size:45" json:"-"`
	CapturedAt   time.Time `gorm:"not null" json:"captured_at"`
}

func (ReferralVisit) TableName() string { return "referral_visits" }
