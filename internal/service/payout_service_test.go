package service

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"ambassadorbonus/internal/domain"
	"ambassadorbonus/internal/models"
	"ambassadorbonus/pkg/loyalty"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) awardBlock(parentID uint, amount string) *models.MilestoneBlock {
	f.t.Helper()
	idx, err := f.blockRepo.MaxIndex(context.Background(), string(domain.TierAmbassador), parentID)
	require.NoError(f.t, err)
	b := &models.MilestoneBlock{
		Tier:              string(domain.TierAmbassador),
		ParentID:          parentID,
		BlockIndex:        idx + 1,
		Amount:            decimal.RequireFromString(amount),
		RequiredUnitCount: 10,
		AwardedAt:         f.now,
	}
	ok, err := f.blockRepo.InsertIfAbsent(context.Background(), b)
	require.NoError(f.t, err)
	require.True(f.t, ok)
	return b
}

func (f *fixture) awardCommission(ambassadorID uint, amount string) *models.CommissionRecord {
	f.t.Helper()
	c := &models.CommissionRecord{
		OrderID:      nextOrderID(),
		AmbassadorID: ambassadorID,
		CustomerID:   ambassadorID + 1000,
		OrderTotal:   decimal.NewFromInt(100),
		Amount:       decimal.RequireFromString(amount),
		Source:       domain.CommissionSourceCustomerReferral,
		AwardedAt:    f.now,
	}
	ok, err := f.commissions.CreateIfAbsent(context.Background(), c)
	require.NoError(f.t, err)
	require.True(f.t, ok)
	return c
}

func blockRef(id uint) RecordRef { return RecordRef{Kind: domain.RecordKindBlock, ID: id} }

func TestDispatchPaysThroughPoints(t *testing.T) {
	f := newFixture(t, func(s *Snapshot) { s.BonusMultiplier = decimal.RequireFromString("1.5") })
	ctx := context.Background()
	amb := f.ambassador()
	b := f.awardBlock(amb.ID, "250")

	res, err := f.payouts.DispatchOne(ctx, blockRef(b.ID))
	require.NoError(t, err)
	require.Equal(t, DispatchPaidPoints, res.Status)
	require.Equal(t, domain.RewardReferencePoints, res.Reference)
	require.Equal(t, []string{amb.Email}, f.points.emails)
	require.Equal(t, []int64{375}, f.points.points)

	stored, err := f.blockRepo.GetByID(ctx, b.ID)
	require.NoError(t, err)
	require.True(t, stored.Paid)
	require.NotNil(t, stored.PaidAt)
	require.Nil(t, stored.ClaimedAt)
	require.Equal(t, domain.RewardReferencePoints, stored.RewardReference)
}

func TestDispatchFallsBackToCoupon(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name   string
		mutate func(*fakePoints)
	}{
		{"server error", func(p *fakePoints) { p.status, p.body = http.StatusInternalServerError, `{"success":true}` }},
		{"rejected body", func(p *fakePoints) { p.body = `{"success":false}` }},
		{"error field", func(p *fakePoints) { p.body = `{"error":"unknown email"}` }},
		{"empty body", func(p *fakePoints) { p.body = "" }},
		{"transport error", func(p *fakePoints) { p.err = errors.New("dial tcp: refused") }},
		{"disabled", func(p *fakePoints) { p.enabled = false }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, nil)
			tc.mutate(f.points)
			amb := f.ambassador()
			b := f.awardBlock(amb.ID, "250")

			res, err := f.payouts.DispatchOne(ctx, blockRef(b.ID))
			require.NoError(t, err)
			require.Equal(t, DispatchPaidCoupon, res.Status)
			require.True(t, strings.HasPrefix(res.Reference, f.snap.CouponPrefix+"-"), res.Reference)

			stored, err := f.blockRepo.GetByID(ctx, b.ID)
			require.NoError(t, err)
			require.True(t, stored.Paid)
			require.Equal(t, res.Reference, stored.RewardReference)

			coupon, err := f.coupons.GetByCode(ctx, res.Reference)
			require.NoError(t, err)
			require.Equal(t, amb.ID, coupon.UserID)
			require.Equal(t, 1, coupon.UsageLimit)
			require.Equal(t, "250.00", coupon.Amount.StringFixed(2))
			require.Equal(t, blockRef(b.ID).String(), coupon.Reference)
		})
	}
}

func TestDispatchCouponMethodSkipsPoints(t *testing.T) {
	f := newFixture(t, func(s *Snapshot) { s.PayoutMethod = domain.PayoutMethodCoupon })
	amb := f.ambassador()
	c := f.awardCommission(amb.ID, "12.50")

	res, err := f.payouts.DispatchOne(context.Background(), RecordRef{Kind: domain.RecordKindCommission, ID: c.ID})
	require.NoError(t, err)
	require.Equal(t, DispatchPaidCoupon, res.Status)
	require.Zero(t, f.points.Calls())
}

func TestDispatchIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	amb := f.ambassador()
	b := f.awardBlock(amb.ID, "250")

	first, err := f.payouts.DispatchOne(ctx, blockRef(b.ID))
	require.NoError(t, err)
	require.Equal(t, DispatchPaidPoints, first.Status)

	for i := 0; i < 3; i++ {
		again, err := f.payouts.DispatchOne(ctx, blockRef(b.ID))
		require.NoError(t, err)
		require.Equal(t, DispatchAlreadyPaid, again.Status)
		require.Equal(t, domain.RewardReferencePoints, again.Reference)
	}
	require.Equal(t, 1, f.points.Calls())
}

func TestDispatchSkipsClaimedRecordUntilLeaseExpires(t *testing.T) {
	f := newFixture(t, func(s *Snapshot) { s.ClaimLease = 5 * time.Minute })
	ctx := context.Background()
	amb := f.ambassador()
	b := f.awardBlock(amb.ID, "250")

	ok, err := f.blockRepo.Claim(ctx, b.ID, f.now, 5*time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	res, err := f.payouts.DispatchOne(ctx, blockRef(b.ID))
	require.NoError(t, err)
	require.Equal(t, DispatchInFlight, res.Status)
	require.Zero(t, f.points.Calls())

	f.advance(6 * time.Minute)
	res, err = f.payouts.DispatchOne(ctx, blockRef(b.ID))
	require.NoError(t, err)
	require.Equal(t, DispatchPaidPoints, res.Status)
}

func TestDispatchSkipsRefundedCommission(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	amb := f.ambassador()
	c := f.awardCommission(amb.ID, "9.00")
	_, err := f.commissions.MarkRefunded(ctx, c.OrderID)
	require.NoError(t, err)

	res, err := f.payouts.DispatchOne(ctx, RecordRef{Kind: domain.RecordKindCommission, ID: c.ID})
	require.NoError(t, err)
	require.Equal(t, DispatchRefunded, res.Status)
	require.Zero(t, f.points.Calls())
}

func TestDispatchMissingRecipientReleasesClaim(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	b := f.awardBlock(424242, "250")

	res, err := f.payouts.DispatchOne(ctx, blockRef(b.ID))
	require.NoError(t, err)
	require.Equal(t, DispatchMissingRecipient, res.Status)

	stored, err := f.blockRepo.GetByID(ctx, b.ID)
	require.NoError(t, err)
	require.False(t, stored.Paid)
	require.Nil(t, stored.ClaimedAt)
}

func TestDispatchOneErrors(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.payouts.DispatchOne(ctx, RecordRef{Kind: "invoice", ID: 1})
	require.ErrorIs(t, err, ErrUnknownRecordKind)

	_, err = f.payouts.DispatchOne(ctx, blockRef(999))
	require.ErrorIs(t, err, ErrRecordNotFound)
}

func TestRunMonthlyBatch(t *testing.T) {
	f := newFixture(t, func(s *Snapshot) { s.PayoutMinAmount = decimal.NewFromInt(5) })
	ctx := context.Background()
	amb := f.ambassador()
	other := f.ambassador()
	f.awardBlock(amb.ID, "250")
	f.awardBlock(other.ID, "250")
	f.awardCommission(amb.ID, "10.00")
	small := f.awardCommission(other.ID, "4.99")
	zero := f.awardCommission(other.ID, "0")
	refunded := f.awardCommission(amb.ID, "20.00")
	_, err := f.commissions.MarkRefunded(ctx, refunded.OrderID)
	require.NoError(t, err)

	f.advance(time.Hour)
	summary, err := f.payouts.RunMonthlyBatch(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, summary.RunID)
	require.Equal(t, 5, summary.Considered)
	require.Equal(t, 2, summary.BelowMinimum)
	require.Equal(t, 3, summary.PaidPoints)
	require.Zero(t, summary.Failed)
	require.Equal(t, "510.00", summary.TotalPaid.StringFixed(2))

	for _, id := range []uint{small.ID, zero.ID} {
		c, err := f.commissions.GetByID(ctx, id)
		require.NoError(t, err)
		require.False(t, c.Paid)
	}

	require.Len(t, f.notifier.summaries, 1)
	require.Equal(t, summary.RunID, f.notifier.summaries[0].RunID)

	second, err := f.payouts.RunMonthlyBatch(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, second.Considered)
	require.Zero(t, second.PaidPoints+second.PaidCoupon)
	require.Equal(t, 3, f.points.Calls())
}

func TestRunMonthlyBatchSkipsFutureRecords(t *testing.T) {
	f := newFixture(t, nil)
	amb := f.ambassador()
	f.advance(time.Hour)
	f.awardBlock(amb.ID, "250")
	f.advance(-2 * time.Hour)

	summary, err := f.payouts.RunMonthlyBatch(context.Background())
	require.NoError(t, err)
	require.Zero(t, summary.Considered)
}

func TestConcurrentBatchesPayEachRecordOnce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	for i := 0; i < 12; i++ {
		f.awardBlock(f.ambassador().ID, "250")
	}
	f.advance(time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.payouts.RunMonthlyBatch(ctx)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Equal(t, 12, f.points.Calls())
	payable, err := f.blockRepo.ListPayable(ctx, f.now)
	require.NoError(t, err)
	require.Empty(t, payable)
}

func TestPointsSucceeded(t *testing.T) {
	cases := []struct {
		status int
		body   string
		want   bool
	}{
		{200, `{"success":true}`, true},
		{201, `{"balance":120}`, true},
		{200, `{"error":null,"ok":1}`, true},
		{200, `{"error":false}`, true},
		{200, `{"error":""}`, true},
		{200, `{"success":false}`, false},
		{200, `{"error":"no such user"}`, false},
		{200, `{"error":{"code":4}}`, false},
		{200, `{}`, false},
		{200, ``, false},
		{200, `   `, false},
		{200, `[1,2]`, false},
		{200, `null`, false},
		{200, `not json`, false},
		{204, ``, false},
		{302, `{"success":true}`, false},
		{500, `{"success":true}`, false},
	}
	for _, tc := range cases {
		got := pointsSucceeded(&loyalty.Response{StatusCode: tc.status, Body: []byte(tc.body)})
		require.Equal(t, tc.want, got, "status=%d body=%q", tc.status, tc.body)
	}
	require.False(t, pointsSucceeded(nil))
}

func TestParseRecordKind(t *testing.T) {
	k, err := ParseRecordKind("Block")
	require.NoError(t, err)
	require.Equal(t, domain.RecordKindBlock, k)
	_, err = ParseRecordKind("order")
	require.ErrorIs(t, err, ErrUnknownRecordKind)
}

func commissionRef(id uint) RecordRef { return RecordRef{Kind: domain.RecordKindCommission, ID: id} }

func TestRefundDuringFailedPointsCallIssuesNoCoupon(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	amb := f.ambassador()
	c := f.awardCommission(amb.ID, "10.00")
	f.points.status = http.StatusInternalServerError
	f.points.onCall = func() {
		out, err := f.commission.OnOrderEvent(ctx, c.OrderID, domain.OrderEventRefunded)
		require.NoError(t, err)
		require.True(t, out.Refunded)
	}

	res, err := f.payouts.DispatchOne(ctx, commissionRef(c.ID))
	require.NoError(t, err)
	require.Equal(t, DispatchRefunded, res.Status)
	require.Empty(t, res.Reference)
	require.Equal(t, 1, f.points.Calls())

	stored, err := f.commissions.GetByID(ctx, c.ID)
	require.NoError(t, err)
	require.False(t, stored.Paid)
	require.True(t, stored.Refunded)
	require.True(t, stored.Amount.IsZero())
	require.Equal(t, "10.00", stored.RefundedAmount.StringFixed(2))
	require.Empty(t, stored.RewardReference)
	require.Nil(t, stored.ClaimedAt)

	_, err = f.coupons.GetByReference(ctx, commissionRef(c.ID).String())
	require.Error(t, err)
}

func TestRefundDuringPointsCallIsNotSettled(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	amb := f.ambassador()
	c := f.awardCommission(amb.ID, "10.00")
	f.points.onCall = func() {
		_, err := f.commission.OnOrderEvent(ctx, c.OrderID, domain.OrderEventRefunded)
		require.NoError(t, err)
	}

	res, err := f.payouts.DispatchOne(ctx, commissionRef(c.ID))
	require.NoError(t, err)
	require.Equal(t, DispatchRefunded, res.Status)

	stored, err := f.commissions.GetByID(ctx, c.ID)
	require.NoError(t, err)
	require.False(t, stored.Paid)
	require.True(t, stored.Refunded)
	require.Empty(t, stored.RewardReference)

	// Nothing left to pay on the next sweep.
	f.advance(time.Hour)
	summary, err := f.payouts.RunMonthlyBatch(ctx)
	require.NoError(t, err)
	require.Zero(t, summary.PaidPoints+summary.PaidCoupon)
	require.Equal(t, 1, f.points.Calls())
}

// refundingIssuer refunds the commission while its coupon is being created.
type refundingIssuer struct {
	*CouponService
	refund func()
}

func (r refundingIssuer) IssueCoupon(ctx context.Context, req CouponRequest) (string, error) {
	r.refund()
	return r.CouponService.IssueCoupon(ctx, req)
}

func TestLostSettleVoidsCoupon(t *testing.T) {
	f := newFixture(t, func(s *Snapshot) { s.PayoutMethod = domain.PayoutMethodCoupon })
	ctx := context.Background()
	amb := f.ambassador()
	c := f.awardCommission(amb.ID, "12.00")
	issuer := refundingIssuer{
		CouponService: NewCouponService(f.coupons),
		refund: func() {
			_, err := f.commissions.MarkRefunded(ctx, c.OrderID)
			require.NoError(t, err)
		},
	}
	payouts := NewPayoutService(f.users, f.blockRepo, f.commissions, f.points, issuer, f.notifier, snapshotProvider{f: f}).
		WithClock(func() time.Time { return f.now })

	res, err := payouts.DispatchOne(ctx, commissionRef(c.ID))
	require.NoError(t, err)
	require.Equal(t, DispatchRefunded, res.Status)

	coupon, err := f.coupons.GetByReference(ctx, commissionRef(c.ID).String())
	require.NoError(t, err)
	require.NotNil(t, coupon.VoidedAt)
	require.Zero(t, coupon.UsageLimit)

	stored, err := f.commissions.GetByID(ctx, c.ID)
	require.NoError(t, err)
	require.False(t, stored.Paid)
	require.Empty(t, stored.RewardReference)
}

func TestDispatchRecordsMetrics(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	m := NewEngineMetrics(reg)
	f.payouts.WithMetrics(m)
	amb := f.ambassador()
	b := f.awardBlock(amb.ID, "250")

	res, err := f.payouts.DispatchOne(ctx, blockRef(b.ID))
	require.NoError(t, err)
	require.Equal(t, DispatchPaidPoints, res.Status)
	families, err := reg.Gather()
	require.NoError(t, err)
	got := map[string]float64{}
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			switch {
			case metric.GetCounter() != nil:
				got[mf.GetName()] += metric.GetCounter().GetValue()
			case metric.GetHistogram() != nil:
				got[mf.GetName()] += float64(metric.GetHistogram().GetSampleCount())
			}
		}
	}
	require.Equal(t, float64(1), got["bonus_payout_dispatch_total"])
	require.Equal(t, float64(1), got["bonus_payout_points_api_duration_seconds"])

	var none *EngineMetrics
	require.NotPanics(t, func() { none.Dispatch("block", DispatchPaidPoints) })
}
