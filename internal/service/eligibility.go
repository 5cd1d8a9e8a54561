package service

import (
	"context"
	"errors"
	"log"

	"ambassadorbonus/internal/domain"
	"ambassadorbonus/internal/repository"
)

// EligibilityChecker decides whether a user may be credited as an ambassador.
type EligibilityChecker interface {
	IsEligibleAmbassador(ctx context.Context, userID uint) bool
}

// EligibilityFunc adapts a plain function to EligibilityChecker.
type EligibilityFunc func(ctx context.Context, userID uint) bool

func (f EligibilityFunc) IsEligibleAmbassador(ctx context.Context, userID uint) bool {
	return f(ctx, userID)
}

// UserEligibility accepts the AMBASSADOR role, the explicit ambassador flag,
// or ownership of an active referral code.
type UserEligibility struct {
	users     *repository.UserRepository
	referrals *repository.ReferralRepository
}

func NewUserEligibility(users *repository.UserRepository, referrals *repository.ReferralRepository) *UserEligibility {
	return &UserEligibility{users: users, referrals: referrals}
}

func (e *UserEligibility) IsEligibleAmbassador(ctx context.Context, userID uint) bool {
	if userID == 0 {
		return false
	}
	u, err := e.users.GetByID(ctx, userID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			log.Printf("[eligibility] load user %d: %v", userID, err)
		}
		return false
	}
	if u.Role == domain.RoleAmbassador || u.IsAmbassador {
		return true
	}
	ok, err := e.referrals.HasActiveCode(ctx, userID)
	if err != nil {
		log.Printf("[eligibility] referral code lookup %d: %v", userID, err)
		return false
	}
	return ok
}
