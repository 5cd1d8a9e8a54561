package models

import "time"

// Attribution links a customer to the ambassador credited for referring them.
// One row per customer; it can only be replaced once it has expired.
type Attribution struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	CustomerID   uint      `gorm:"uniqueIndex;not null" json:"customer_id"`
	AmbassadorID uint      `gorm:"not null;index" json:"ambassador_id"`
	Method       string    `gorm:"size:10;not null" json:"method"` // link | coupon
	OrderID      string    `gorm:"size:64" json:"order_id"`
	AttachedAt   time.Time `gorm:"not null" json:"attached_at"`
	ExpiresAt    time.Time `gorm:"not null;index" json:"expires_at"`
}

func (Attribution) TableName() string { return "attributions" }

// ActiveAt reports whether the attribution is still valid at t.
func (a *Attribution) ActiveAt(t time.Time) bool { return t.Before(a.ExpiresAt) }

// OrderAttribution is the referral-method metadata the resolver stamps on the
// order that produced an attachment.
type OrderAttribution struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	OrderID      string    `gorm:"uniqueIndex;size:64;not null" json:"order_id"`
	AmbassadorID uint      `gorm:"not null;index" json:"ambassador_id"`
	Method       string    `gorm:"size:10;not null" json:"method"`
	CreatedAt    time.Time `json:"created_at"`
}

func (OrderAttribution) TableName() string { return "order_attributions" }
