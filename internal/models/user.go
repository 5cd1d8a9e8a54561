package models

import (
	"time"

	"ambassadorbonus/internal/domain"
)

// User mirrors the identity store attributes the engine reads and maintains.
type User struct {
	ID             uint   `gorm:"primaryKey" json:"id"`
	Email          string `gorm:"uniqueIndex;size:255;not null" json:"email"`
	Role           string `gorm:"size:20;not null;index" json:"role"` // CUSTOMER | AMBASSADOR | ADMIN
	IsAmbassador   bool   `gorm:"default:false" json:"is_ambassador"` // explicit flag, independent of role
	RegistrationIP string `gorm:"size:45" json:"-"`
	LastOrderIP    string `gorm:"size:45" json:"-"`

	// Parent links for the two qualification tiers.
	ParentAmbassadorID *uint `gorm:"index" json:"parent_ambassador_id"`
	ParentCustomerID   *uint `gorm:"index" json:"parent_customer_id"`

	LifetimeQualifyingOrders int       `gorm:"not null;default:0" json:"lifetime_qualifying_orders"`
	CreatedAt                time.Time `json:"created_at"`
	UpdatedAt                time.Time `json:"updated_at"`
}

func (User) TableName() string { return "users" }

func (u *User) IsAdmin() bool { return u.Role == domain.RoleAdmin }

// ParentFor returns the parent id of the user in the given tier, or 0.
func (u *User) ParentFor(tier domain.Tier) uint {
	var p *uint
	switch tier {
	case domain.TierAmbassador:
		p = u.ParentAmbassadorID
	case domain.TierCustomer:
		p = u.ParentCustomerID
	}
	if p == nil {
		return 0
	}
	return *p
}
