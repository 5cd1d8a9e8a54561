package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"ambassadorbonus/internal/domain"
	"ambassadorbonus/internal/models"
	"ambassadorbonus/internal/repository"

	"github.com/shopspring/decimal"
)

const (
	ReasonNotCompletion   = "not_completion_status"
	ReasonAlreadyRecorded = "already_recorded"
	ReasonUnknownOrder    = "unknown_order"
	ReasonNoAmbassador    = "no_ambassador"
	ReasonNoCommission    = "no_commission"
)

// CommissionOverrider may replace the computed commission for an order.
type CommissionOverrider interface {
	OverrideCommission(ctx context.Context, order *models.Order, ambassadorID uint, computed decimal.Decimal) decimal.Decimal
}

type CommissionOutcome struct {
	Recorded       bool            `json:"recorded"`
	Refunded       bool            `json:"refunded"`
	AmbassadorID   uint            `json:"ambassador_id,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	RefundedAmount decimal.Decimal `json:"refunded_amount"`
	Reason         string          `json:"reason,omitempty"`
}

// CommissionService records one commission per completed order.
type CommissionService struct {
	orders       *repository.OrderRepository
	commissions  *repository.CommissionRepository
	attributions *repository.AttributionRepository
	referrals    *repository.ReferralRepository
	settings     SettingsProvider
	eligibility  EligibilityChecker
	overrider    CommissionOverrider
	now          func() time.Time
	metrics      *EngineMetrics
}

func NewCommissionService(
	orders *repository.OrderRepository,
	commissions *repository.CommissionRepository,
	attributions *repository.AttributionRepository,
	referrals *repository.ReferralRepository,
	settings SettingsProvider,
	eligibility EligibilityChecker,
) *CommissionService {
	return &CommissionService{
		orders:       orders,
		commissions:  commissions,
		attributions: attributions,
		referrals:    referrals,
		settings:     settings,
		eligibility:  eligibility,
		now:          time.Now,
	}
}

func (s *CommissionService) WithOverrider(o CommissionOverrider) *CommissionService {
	s.overrider = o
	return s
}

func (s *CommissionService) WithMetrics(m *EngineMetrics) *CommissionService {
	s.metrics = m
	return s
}

func (s *CommissionService) WithClock(now func() time.Time) *CommissionService {
	s.now = now
	return s
}

// OnOrderEvent records the commission on a completion-class status and zeroes
// it on refund.
func (s *CommissionService) OnOrderEvent(ctx context.Context, orderID, status string) (CommissionOutcome, error) {
	if status == domain.OrderEventRefunded {
		return s.refund(ctx, orderID)
	}
	snap := s.settings.Snapshot(ctx)
	if !snap.IsCompletionStatus(status) {
		return CommissionOutcome{Reason: ReasonNotCompletion}, nil
	}
	if _, err := s.commissions.GetByOrderID(ctx, orderID); err == nil {
		return CommissionOutcome{Reason: ReasonAlreadyRecorded}, nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return CommissionOutcome{}, fmt.Errorf("load commission: %w", err)
	}

	order, err := s.orders.GetByOrderID(ctx, orderID)
	if errors.Is(err, repository.ErrNotFound) {
		return CommissionOutcome{Reason: ReasonUnknownOrder}, nil
	}
	if err != nil {
		return CommissionOutcome{}, fmt.Errorf("load order: %w", err)
	}

	ambassadorID, err := s.resolveAmbassador(ctx, order)
	if err != nil {
		return CommissionOutcome{}, err
	}
	if ambassadorID == 0 || ambassadorID == order.CustomerID || !s.eligibility.IsEligibleAmbassador(ctx, ambassadorID) {
		return CommissionOutcome{Reason: ReasonNoAmbassador}, nil
	}

	amount := computeCommission(snap.CommissionType, snap.CommissionValue, order.Total)
	if s.overrider != nil {
		amount = s.overrider.OverrideCommission(ctx, order, ambassadorID, amount)
	}
	if amount.IsNegative() {
		amount = decimal.Zero
	}
	rec := &models.CommissionRecord{
		OrderID:      orderID,
		AmbassadorID: ambassadorID,
		CustomerID:   order.CustomerID,
		OrderTotal:   order.Total,
		Amount:       amount.Round(2),
		Source:       domain.CommissionSourceCustomerReferral,
		AwardedAt:    s.now(),
	}
	created, err := s.commissions.CreateIfAbsent(ctx, rec)
	if err != nil {
		return CommissionOutcome{}, fmt.Errorf("create commission: %w", err)
	}
	if !created {
		return CommissionOutcome{Reason: ReasonAlreadyRecorded}, nil
	}
	s.metrics.Commission("recorded")
	log.Printf("[commission] order=%s ambassador=%d amount=%s", orderID, ambassadorID, rec.Amount.StringFixed(2))
	return CommissionOutcome{Recorded: true, AmbassadorID: ambassadorID, Amount: rec.Amount}, nil
}

func (s *CommissionService) refund(ctx context.Context, orderID string) (CommissionOutcome, error) {
	rec, err := s.commissions.MarkRefunded(ctx, orderID)
	if err != nil {
		return CommissionOutcome{}, fmt.Errorf("refund commission: %w", err)
	}
	if rec == nil {
		return CommissionOutcome{Reason: ReasonNoCommission}, nil
	}
	s.metrics.Commission("refunded")
	log.Printf("[commission] order=%s refunded amount=%s paid=%t", orderID, rec.RefundedAmount.StringFixed(2), rec.Paid)
	return CommissionOutcome{
		Refunded:       true,
		AmbassadorID:   rec.AmbassadorID,
		Amount:         rec.Amount,
		RefundedAmount: rec.RefundedAmount,
	}, nil
}

// resolveAmbassador tries the order stamp, then the order's coupon code, then
// the customer's current attribution.
func (s *CommissionService) resolveAmbassador(ctx context.Context, order *models.Order) (uint, error) {
	stamp, err := s.attributions.GetOrderStamp(ctx, order.OrderID)
	if err == nil {
		return stamp.AmbassadorID, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return 0, fmt.Errorf("load order stamp: %w", err)
	}
	if order.CouponCode != "" {
		rc, err := s.referrals.GetByCode(ctx, order.CouponCode)
		if err == nil {
			return rc.UserID, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return 0, fmt.Errorf("lookup coupon code: %w", err)
		}
	}
	a, err := s.attributions.GetByCustomer(ctx, order.CustomerID)
	if errors.Is(err, repository.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load attribution: %w", err)
	}
	if !a.ActiveAt(s.now()) {
		return 0, nil
	}
	return a.AmbassadorID, nil
}

func computeCommission(kind string, value, total decimal.Decimal) decimal.Decimal {
	if kind == domain.CommissionFixed {
		return value
	}
	return total.Mul(value).Div(decimal.NewFromInt(100)).Round(2)
}
