package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"ambassadorbonus/internal/domain"
	"ambassadorbonus/internal/models"
	"ambassadorbonus/internal/repository"
	"ambassadorbonus/pkg/loyalty"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

var (
	ErrUnknownRecordKind = errors.New("payout: unknown record kind")
	ErrRecordNotFound    = errors.New("payout: record not found")
)

// Dispatch statuses.
const (
	DispatchPaidPoints       = "paid_points"
	DispatchPaidCoupon       = "paid_coupon"
	DispatchAlreadyPaid      = "already_paid"
	DispatchInFlight         = "in_flight"
	DispatchRefunded         = "refunded"
	DispatchMissingRecipient = "missing_recipient"
	DispatchFailed           = "failed"
)

const defaultClaimLease = 10 * time.Minute

// PointsClient credits loyalty points. *loyalty.Client implements it.
type PointsClient interface {
	Enabled() bool
	AddPoints(ctx context.Context, email string, points int64, reason string) (*loyalty.Response, error)
}

// RecordRef names one payable record.
type RecordRef struct {
	Kind domain.RecordKind `json:"kind"`
	ID   uint              `json:"id"`
}

func (r RecordRef) String() string { return fmt.Sprintf("%s:%d", r.Kind, r.ID) }

// ParseRecordKind validates a record kind taken from user input.
func ParseRecordKind(s string) (domain.RecordKind, error) {
	switch k := domain.RecordKind(strings.ToLower(s)); k {
	case domain.RecordKindBlock, domain.RecordKindCommission:
		return k, nil
	}
	return "", ErrUnknownRecordKind
}

type DispatchResult struct {
	Kind      domain.RecordKind `json:"kind"`
	ID        uint              `json:"id"`
	Status    string            `json:"status"`
	Reference string            `json:"reward_reference,omitempty"`
	Amount    decimal.Decimal   `json:"amount"`
	Error     string            `json:"error,omitempty"`
}

// BatchSummary is what one RunMonthlyBatch call did.
type BatchSummary struct {
	RunID        string           `json:"run_id"`
	StartedAt    time.Time        `json:"started_at"`
	FinishedAt   time.Time        `json:"finished_at"`
	Considered   int              `json:"considered"`
	BelowMinimum int              `json:"below_minimum"`
	PaidPoints   int              `json:"paid_points"`
	PaidCoupon   int              `json:"paid_coupon"`
	Skipped      int              `json:"skipped"`
	Failed       int              `json:"failed"`
	TotalPaid    decimal.Decimal  `json:"total_paid"`
	Failures     []DispatchResult `json:"failures,omitempty"`
}

func (b *BatchSummary) record(r DispatchResult) {
	switch r.Status {
	case DispatchPaidPoints:
		b.PaidPoints++
		b.TotalPaid = b.TotalPaid.Add(r.Amount)
	case DispatchPaidCoupon:
		b.PaidCoupon++
		b.TotalPaid = b.TotalPaid.Add(r.Amount)
	case DispatchFailed, DispatchMissingRecipient:
		b.Failed++
		b.Failures = append(b.Failures, r)
	default:
		b.Skipped++
	}
}

// payable is the common view of a block or commission at dispatch time.
type payable struct {
	ref         RecordRef
	recipientID uint
	amount      decimal.Decimal
	paid        bool
	reference   string
	refunded    bool
}

// PayoutService drives unpaid blocks and commissions to paid, through loyalty
// points with a coupon fallback. A record is claimed before any reward is
// issued and settled with a paid=false guard, so it is paid at most once.
type PayoutService struct {
	users       *repository.UserRepository
	blocks      *repository.BlockRepository
	commissions *repository.CommissionRepository
	points      PointsClient
	coupons     CouponIssuer
	notifier    OperatorNotifier
	settings    SettingsProvider
	now         func() time.Time
	metrics     *EngineMetrics
}

func NewPayoutService(
	users *repository.UserRepository,
	blocks *repository.BlockRepository,
	commissions *repository.CommissionRepository,
	points PointsClient,
	coupons CouponIssuer,
	notifier OperatorNotifier,
	settings SettingsProvider,
) *PayoutService {
	return &PayoutService{
		users:       users,
		blocks:      blocks,
		commissions: commissions,
		points:      points,
		coupons:     coupons,
		notifier:    notifier,
		settings:    settings,
		now:         time.Now,
	}
}

func (s *PayoutService) WithMetrics(m *EngineMetrics) *PayoutService {
	s.metrics = m
	return s
}

func (s *PayoutService) WithClock(now func() time.Time) *PayoutService {
	s.now = now
	return s
}

// RunMonthlyBatch dispatches every unpaid record awarded up to now whose
// amount reaches the payout minimum. Per-record failures land in the summary.
func (s *PayoutService) RunMonthlyBatch(ctx context.Context) (BatchSummary, error) {
	snap := s.settings.Snapshot(ctx)
	summary := BatchSummary{RunID: uuid.NewString(), StartedAt: s.now(), TotalPaid: decimal.Zero}
	cutoff := summary.StartedAt

	blocks, err := s.blocks.ListPayable(ctx, cutoff)
	if err != nil {
		return summary, fmt.Errorf("list payable blocks: %w", err)
	}
	commissions, err := s.commissions.ListPayable(ctx, cutoff)
	if err != nil {
		return summary, fmt.Errorf("list payable commissions: %w", err)
	}

	var refs []RecordRef
	consider := func(ref RecordRef, amount decimal.Decimal) {
		summary.Considered++
		if !amount.IsPositive() || amount.LessThan(snap.PayoutMinAmount) {
			summary.BelowMinimum++
			return
		}
		refs = append(refs, ref)
	}
	for _, b := range blocks {
		consider(RecordRef{Kind: domain.RecordKindBlock, ID: b.ID}, b.Amount)
	}
	for _, c := range commissions {
		consider(RecordRef{Kind: domain.RecordKindCommission, ID: c.ID}, c.Amount)
	}

	workers := snap.Workers
	if workers < 1 {
		workers = 1
	}
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(workers)
	for _, ref := range refs {
		g.Go(func() error {
			res, err := s.dispatch(ctx, ref, snap)
			if err != nil {
				log.Printf("[payout] batch %s %s: %v", summary.RunID, ref, err)
				if res.Status == "" {
					res = DispatchResult{Kind: ref.Kind, ID: ref.ID, Status: DispatchFailed, Error: err.Error()}
				}
			}
			mu.Lock()
			summary.record(res)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	summary.FinishedAt = s.now()

	if s.notifier != nil {
		if err := s.notifier.BatchCompleted(ctx, summary); err != nil {
			log.Printf("[payout] batch %s operator notification: %v", summary.RunID, err)
		}
	}
	return summary, nil
}

// DispatchOne pays a single record outside the batch, for operator retries.
func (s *PayoutService) DispatchOne(ctx context.Context, ref RecordRef) (DispatchResult, error) {
	if _, err := ParseRecordKind(string(ref.Kind)); err != nil {
		return DispatchResult{}, err
	}
	return s.dispatch(ctx, ref, s.settings.Snapshot(ctx))
}

func (s *PayoutService) dispatch(ctx context.Context, ref RecordRef, snap Snapshot) (DispatchResult, error) {
	rec, err := s.load(ctx, ref)
	if errors.Is(err, repository.ErrNotFound) {
		return DispatchResult{Kind: ref.Kind, ID: ref.ID, Status: DispatchFailed, Error: ErrRecordNotFound.Error()}, ErrRecordNotFound
	}
	if err != nil {
		return DispatchResult{}, err
	}
	res := DispatchResult{Kind: ref.Kind, ID: ref.ID, Amount: rec.amount}
	if rec.paid || rec.reference != "" {
		res.Status = DispatchAlreadyPaid
		res.Reference = rec.reference
		return res, nil
	}
	if rec.refunded {
		res.Status = DispatchRefunded
		return res, nil
	}

	lease := snap.ClaimLease
	if lease <= 0 {
		lease = defaultClaimLease
	}
	claimed, err := s.claim(ctx, ref, s.now(), lease)
	if err != nil {
		return res, fmt.Errorf("claim %s: %w", ref, err)
	}
	if !claimed {
		res.Status = DispatchInFlight
		return res, nil
	}

	if rec, err = s.load(ctx, ref); err != nil {
		s.release(ctx, ref)
		return res, fmt.Errorf("reload %s: %w", ref, err)
	}
	if rec.refunded {
		s.release(ctx, ref)
		res.Status = DispatchRefunded
		return res, nil
	}
	res.Amount = rec.amount

	user, err := s.users.GetByID(ctx, rec.recipientID)
	if err != nil {
		s.release(ctx, ref)
		res.Status = DispatchMissingRecipient
		res.Error = err.Error()
		log.Printf("[payout] %s recipient %d: %v", ref, rec.recipientID, err)
		return res, nil
	}

	reference, status := "", ""
	if snap.PayoutMethod == domain.PayoutMethodPoints && s.awardPoints(ctx, ref, user, rec.amount, snap) {
		reference, status = domain.RewardReferencePoints, DispatchPaidPoints
	}
	if reference == "" {
		if refunded, err := s.refundedSinceClaim(ctx, ref); err != nil || refunded {
			s.release(ctx, ref)
			if err != nil {
				return res, fmt.Errorf("recheck %s: %w", ref, err)
			}
			res.Status = DispatchRefunded
			return res, nil
		}
		var expires *time.Time
		if snap.CouponExpiry > 0 {
			t := s.now().Add(snap.CouponExpiry)
			expires = &t
		}
		code, err := s.coupons.IssueCoupon(ctx, CouponRequest{
			UserID:    user.ID,
			Email:     user.Email,
			Amount:    rec.amount,
			Reference: ref.String(),
			Prefix:    snap.CouponPrefix,
			ExpiresAt: expires,
		})
		if err != nil {
			s.release(ctx, ref)
			res.Status = DispatchFailed
			res.Error = err.Error()
			log.Printf("[payout] %s coupon fallback user=%d amount=%s: %v", ref, user.ID, rec.amount.StringFixed(2), err)
			return res, nil
		}
		reference, status = code, DispatchPaidCoupon
	}

	settled, err := s.markPaid(ctx, ref, reference, s.now())
	if err != nil {
		return res, fmt.Errorf("settle %s with %s: %w", ref, reference, err)
	}
	if !settled {
		return s.settleLost(ctx, ref, reference, status, res), nil
	}
	res.Status = status
	res.Reference = reference
	s.metrics.Dispatch(string(ref.Kind), status)
	log.Printf("[payout] %s paid user=%d amount=%s via %s", ref, user.ID, rec.amount.StringFixed(2), reference)
	return res, nil
}

// refundedSinceClaim reports whether a commission was refunded after it was
// claimed. Blocks are never refunded.
func (s *PayoutService) refundedSinceClaim(ctx context.Context, ref RecordRef) (bool, error) {
	if ref.Kind != domain.RecordKindCommission {
		return false, nil
	}
	c, err := s.commissions.GetByID(ctx, ref.ID)
	if err != nil {
		return false, err
	}
	return c.Refunded, nil
}

// settleLost handles a reward issued for a record that was settled or
// refunded by someone else in the meantime. A coupon issued here is voided.
func (s *PayoutService) settleLost(ctx context.Context, ref RecordRef, reference, status string, res DispatchResult) DispatchResult {
	if status == DispatchPaidCoupon {
		if err := s.coupons.VoidCoupon(ctx, reference); err != nil {
			log.Printf("[payout] %s void coupon %s: %v", ref, reference, err)
		}
	}
	rec, err := s.load(ctx, ref)
	switch {
	case err != nil:
		log.Printf("[payout] %s reload after lost settle: %v", ref, err)
		res.Status = DispatchAlreadyPaid
	case rec.refunded && !rec.paid:
		s.release(ctx, ref)
		res.Status = DispatchRefunded
		if status == DispatchPaidPoints {
			log.Printf("[payout] %s refunded during dispatch, points already credited", ref)
		}
	default:
		res.Status = DispatchAlreadyPaid
		res.Reference = rec.reference
	}
	log.Printf("[payout] %s settled elsewhere (%s), issued %s not recorded", ref, res.Status, reference)
	return res
}

func (s *PayoutService) awardPoints(ctx context.Context, ref RecordRef, user *models.User, amount decimal.Decimal, snap Snapshot) bool {
	if s.points == nil || !s.points.Enabled() {
		log.Printf("[payout] %s points api disabled, using coupon", ref)
		return false
	}
	multiplier := snap.BonusMultiplier
	if !multiplier.IsPositive() {
		multiplier = decimal.NewFromInt(1)
	}
	points := amount.Mul(multiplier).Round(0).IntPart()
	if points <= 0 {
		return false
	}
	start := time.Now()
	resp, err := s.points.AddPoints(ctx, user.Email, points, ref.String())
	s.metrics.PointsCall(time.Since(start))
	if err != nil {
		log.Printf("[payout] %s points user=%d email=%s amount=%s points=%d: %v", ref, user.ID, user.Email, amount.StringFixed(2), points, err)
		return false
	}
	if !pointsSucceeded(resp) {
		log.Printf("[payout] %s points rejected user=%d email=%s amount=%s points=%d route=%s status=%d body=%q",
			ref, user.ID, user.Email, amount.StringFixed(2), points, resp.Route, resp.StatusCode, truncate(resp.Body, 512))
		return false
	}
	return true
}

// pointsSucceeded accepts a 2xx response carrying a non-empty JSON object that
// neither sets a truthy "error" nor "success": false.
func pointsSucceeded(resp *loyalty.Response) bool {
	if resp == nil || resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false
	}
	body := bytes.TrimSpace(resp.Body)
	if len(body) == 0 {
		return false
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil || len(payload) == 0 {
		return false
	}
	if v, ok := payload["error"]; ok && truthy(v) {
		return false
	}
	if v, ok := payload["success"]; ok {
		if b, isBool := v.(bool); isBool && !b {
			return false
		}
	}
	return true
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case map[string]interface{}:
		return len(t) > 0
	case []interface{}:
		return len(t) > 0
	}
	return true
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

func (s *PayoutService) load(ctx context.Context, ref RecordRef) (*payable, error) {
	switch ref.Kind {
	case domain.RecordKindBlock:
		b, err := s.blocks.GetByID(ctx, ref.ID)
		if err != nil {
			return nil, err
		}
		return &payable{ref: ref, recipientID: b.ParentID, amount: b.Amount, paid: b.Paid, reference: b.RewardReference}, nil
	case domain.RecordKindCommission:
		c, err := s.commissions.GetByID(ctx, ref.ID)
		if err != nil {
			return nil, err
		}
		return &payable{ref: ref, recipientID: c.AmbassadorID, amount: c.Amount, paid: c.Paid, reference: c.RewardReference, refunded: c.Refunded}, nil
	}
	return nil, ErrUnknownRecordKind
}

func (s *PayoutService) claim(ctx context.Context, ref RecordRef, now time.Time, lease time.Duration) (bool, error) {
	if ref.Kind == domain.RecordKindBlock {
		return s.blocks.Claim(ctx, ref.ID, now, lease)
	}
	return s.commissions.Claim(ctx, ref.ID, now, lease)
}

func (s *PayoutService) markPaid(ctx context.Context, ref RecordRef, reference string, now time.Time) (bool, error) {
	if ref.Kind == domain.RecordKindBlock {
		return s.blocks.MarkPaid(ctx, ref.ID, reference, now)
	}
	return s.commissions.MarkPaid(ctx, ref.ID, reference, now)
}

func (s *PayoutService) release(ctx context.Context, ref RecordRef) {
	var err error
	if ref.Kind == domain.RecordKindBlock {
		err = s.blocks.ReleaseClaim(ctx, ref.ID)
	} else {
		err = s.commissions.ReleaseClaim(ctx, ref.ID)
	}
	if err != nil {
		log.Printf("[payout] release %s: %v", ref, err)
	}
}
