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
	ReasonTierDisabled = "tier_disabled"
	ReasonNoParent     = "no_parent"
	ReasonNotChild     = "not_child_of_parent"
	ReasonBelowMinimum = "below_minimum"
	ReasonDuplicate    = "already_counted"
	ReasonNotCounted   = "not_counted"
)

// Threshold crossing directions.
const (
	TransitionQualified    = "qualified"
	TransitionDisqualified = "disqualified"
)

// QualifyingEvent is one completed order, or its refund, seen from a tier.
type QualifyingEvent struct {
	Tier     domain.Tier
	ChildID  uint
	ParentID uint
	OrderID  string
	Amount   decimal.Decimal
	IsRefund bool
}

// CounterOutcome describes what one event did to the counters and blocks.
type CounterOutcome struct {
	Counted       bool                    `json:"counted"`
	Count         int                     `json:"count"`
	Transition    string                  `json:"transition,omitempty"`
	BlocksAwarded []models.MilestoneBlock `json:"blocks_awarded,omitempty"`
	BlockReversed *models.MilestoneBlock  `json:"block_reversed,omitempty"`
	Reason        string                  `json:"reason,omitempty"`
}

// CounterService maintains per-(child, parent) qualifying order counts and
// hands threshold crossings to the block evaluator.
type CounterService struct {
	users    *repository.UserRepository
	counters *repository.CounterRepository
	blocks   *BlockService
	settings SettingsProvider
	now      func() time.Time
	metrics  *EngineMetrics
}

func NewCounterService(users *repository.UserRepository, counters *repository.CounterRepository, blocks *BlockService, settings SettingsProvider) *CounterService {
	return &CounterService{users: users, counters: counters, blocks: blocks, settings: settings, now: time.Now}
}

func (s *CounterService) WithMetrics(m *EngineMetrics) *CounterService {
	s.metrics = m
	return s
}

func (s *CounterService) WithClock(now func() time.Time) *CounterService {
	s.now = now
	return s
}

// OnQualifyingOrder counts an order once per tier, or reverses a previously
// counted order on refund. Crossing required_orders upward evaluates blocks
// for the parent; dropping back below it runs the disqualification path.
func (s *CounterService) OnQualifyingOrder(ctx context.Context, ev QualifyingEvent) (CounterOutcome, error) {
	rules := s.settings.Snapshot(ctx).Tier(ev.Tier)
	if !rules.Enabled {
		return CounterOutcome{Reason: ReasonTierDisabled}, nil
	}
	if ev.IsRefund {
		return s.reverse(ctx, ev, rules)
	}
	if ev.ParentID == 0 || ev.ParentID == ev.ChildID {
		return CounterOutcome{Reason: ReasonNoParent}, nil
	}
	if ev.Amount.LessThan(rules.MinOrderAmount) {
		return CounterOutcome{Reason: ReasonBelowMinimum}, nil
	}
	child, err := s.users.GetByID(ctx, ev.ChildID)
	if errors.Is(err, repository.ErrNotFound) {
		return CounterOutcome{Reason: ReasonNotChild}, nil
	}
	if err != nil {
		return CounterOutcome{}, fmt.Errorf("load child: %w", err)
	}
	if child.ParentFor(ev.Tier) != ev.ParentID {
		return CounterOutcome{Reason: ReasonNotChild}, nil
	}

	change, err := s.counters.RecordQualifying(ctx, &models.QualifyingOrder{
		Tier:      string(ev.Tier),
		OrderID:   ev.OrderID,
		ChildID:   ev.ChildID,
		ParentID:  ev.ParentID,
		Amount:    ev.Amount,
		CountedAt: s.now(),
	})
	if err != nil {
		return CounterOutcome{}, fmt.Errorf("record qualifying order: %w", err)
	}
	out := CounterOutcome{Counted: change.Applied, Count: change.Count}
	if !change.Applied {
		out.Reason = ReasonDuplicate
		return out, nil
	}
	if change.Count != rules.RequiredOrders {
		return out, nil
	}
	out.Transition = TransitionQualified
	s.metrics.Transition(string(ev.Tier), TransitionQualified)
	log.Printf("[counter] tier=%s child=%d parent=%d qualified at order=%s", ev.Tier, ev.ChildID, ev.ParentID, ev.OrderID)
	out.BlocksAwarded, err = s.blocks.EvaluateBlocks(ctx, ev.Tier, ev.ParentID)
	if err != nil {
		return out, fmt.Errorf("evaluate blocks: %w", err)
	}
	return out, nil
}

// reverse undoes the counted order. The parent comes from the stored
// membership row, not the event.
func (s *CounterService) reverse(ctx context.Context, ev QualifyingEvent, rules TierRules) (CounterOutcome, error) {
	change, err := s.counters.ReverseQualifying(ctx, string(ev.Tier), ev.OrderID, s.now())
	if err != nil {
		return CounterOutcome{}, fmt.Errorf("reverse qualifying order: %w", err)
	}
	out := CounterOutcome{Counted: change.Applied, Count: change.Count}
	if !change.Applied {
		out.Reason = ReasonNotCounted
		return out, nil
	}
	if change.Count != rules.RequiredOrders-1 {
		return out, nil
	}
	parentID := change.Order.ParentID
	out.Transition = TransitionDisqualified
	s.metrics.Transition(string(ev.Tier), TransitionDisqualified)
	log.Printf("[counter] tier=%s child=%d parent=%d disqualified by refund of order=%s", ev.Tier, change.Order.ChildID, parentID, ev.OrderID)
	out.BlockReversed, err = s.blocks.ReverseOnDisqualify(ctx, ev.Tier, parentID)
	if err != nil {
		return out, fmt.Errorf("reverse block: %w", err)
	}
	return out, nil
}
