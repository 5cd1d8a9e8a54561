package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ambassadorbonus/internal/models"
	"ambassadorbonus/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CouponRequest describes a single-use, fixed-amount voucher for one account.
type CouponRequest struct {
	UserID    uint
	Email     string
	Amount    decimal.Decimal
	Reference string // payout record, e.g. block:12
	Prefix    string
	ExpiresAt *time.Time
}

// CouponIssuer creates vouchers and returns their code. VoidCoupon withdraws
// a voucher that was issued but never recorded against its payout.
type CouponIssuer interface {
	IssueCoupon(ctx context.Context, req CouponRequest) (string, error)
	VoidCoupon(ctx context.Context, code string) error
}

// CouponService issues coupons into the coupons table. A reference that
// already has a coupon gets the same code back.
type CouponService struct {
	coupons *repository.CouponRepository
}

func NewCouponService(coupons *repository.CouponRepository) *CouponService {
	return &CouponService{coupons: coupons}
}

func (s *CouponService) IssueCoupon(ctx context.Context, req CouponRequest) (string, error) {
	if req.UserID == 0 {
		return "", errors.New("coupon: user required")
	}
	if !req.Amount.IsPositive() {
		return "", fmt.Errorf("coupon: amount %s must be positive", req.Amount)
	}
	if req.Reference != "" {
		existing, err := s.coupons.GetByReference(ctx, req.Reference)
		if err == nil && existing.UserID == req.UserID && existing.VoidedAt == nil {
			return existing.Code, nil
		}
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return "", fmt.Errorf("coupon: lookup reference: %w", err)
		}
	}
	var lastErr error
	for i := 0; i < 5; i++ {
		c := &models.Coupon{
			Code:       couponCode(req.Prefix),
			UserID:     req.UserID,
			Email:      req.Email,
			Amount:     req.Amount.Round(2),
			UsageLimit: 1,
			Reference:  req.Reference,
			ExpiresAt:  req.ExpiresAt,
		}
		if lastErr = s.coupons.Create(ctx, c); lastErr == nil {
			return c.Code, nil
		}
	}
	return "", fmt.Errorf("coupon: create after retries: %w", lastErr)
}

func (s *CouponService) VoidCoupon(ctx context.Context, code string) error {
	if _, err := s.coupons.Void(ctx, code, time.Now()); err != nil {
		return fmt.Errorf("coupon: void %s: %w", code, err)
	}
	return nil
}

func couponCode(prefix string) string {
	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:12]
	if prefix == "" {
		return id
	}
	return prefix + "-" + id
}
