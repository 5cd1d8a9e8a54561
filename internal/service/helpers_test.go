package service

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ambassadorbonus/config"
	"ambassadorbonus/internal/database"
	"ambassadorbonus/internal/domain"
	"ambassadorbonus/internal/models"
	"ambassadorbonus/internal/repository"
	"ambassadorbonus/pkg/loyalty"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupServiceTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type fakePoints struct {
	mu      sync.Mutex
	enabled bool
	status  int
	body    string
	err     error
	calls   int32
	emails  []string
	points  []int64
	// onCall runs inside AddPoints before the response is returned.
	onCall func()
}

func (f *fakePoints) Enabled() bool { return f.enabled }

func (f *fakePoints) AddPoints(_ context.Context, email string, points int64, _ string) (*loyalty.Response, error) {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	f.emails = append(f.emails, email)
	f.points = append(f.points, points)
	f.mu.Unlock()
	if f.onCall != nil {
		f.onCall()
	}
	if f.err != nil {
		return nil, f.err
	}
	return &loyalty.Response{StatusCode: f.status, Body: []byte(f.body), Route: "test://points"}, nil
}

func (f *fakePoints) Calls() int { return int(atomic.LoadInt32(&f.calls)) }

type recordingNotifier struct {
	mu        sync.Mutex
	summaries []BatchSummary
}

func (n *recordingNotifier) BatchCompleted(_ context.Context, s BatchSummary) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.summaries = append(n.summaries, s)
	return nil
}

type fixture struct {
	t   *testing.T
	db  *gorm.DB
	now time.Time

	snap Snapshot

	users        *repository.UserRepository
	referrals    *repository.ReferralRepository
	attributions *repository.AttributionRepository
	audit        *repository.AuditLogRepository
	orders       *repository.OrderRepository
	counterRepo  *repository.CounterRepository
	blockRepo    *repository.BlockRepository
	commissions  *repository.CommissionRepository
	coupons      *repository.CouponRepository

	attach     *AttachmentService
	blocks     *BlockService
	counter    *CounterService
	commission *CommissionService
	payouts    *PayoutService
	engine     *OrderEngine

	points   *fakePoints
	notifier *recordingNotifier
}

// snapshotProvider reads the fixture snapshot on every call so tests can
// change settings mid-test.
type snapshotProvider struct{ f *fixture }

func (p snapshotProvider) Snapshot(context.Context) Snapshot { return p.f.snap }

func newFixture(t *testing.T, mutate func(*Snapshot)) *fixture {
	t.Helper()
	db := setupServiceTestDB(t)
	snap := SnapshotFromConfig(config.Defaults())
	snap.Tiers[domain.TierAmbassador] = TierRules{
		Enabled: true, RequiredOrders: 5, BlockSize: 10,
		BonusAmount: decimal.NewFromInt(250), MinOrderAmount: decimal.NewFromInt(20),
	}
	snap.Tiers[domain.TierCustomer] = TierRules{
		Enabled: true, RequiredOrders: 3, BlockSize: 5,
		BonusAmount: decimal.NewFromInt(50), MinOrderAmount: decimal.NewFromInt(20),
	}
	snap.FraudIPCheck = true
	if mutate != nil {
		mutate(&snap)
	}
	f := &fixture{
		t:            t,
		db:           db,
		now:          time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
		snap:         snap,
		users:        repository.NewUserRepository(db),
		referrals:    repository.NewReferralRepository(db),
		attributions: repository.NewAttributionRepository(db),
		audit:        repository.NewAuditLogRepository(db),
		orders:       repository.NewOrderRepository(db),
		counterRepo:  repository.NewCounterRepository(db),
		blockRepo:    repository.NewBlockRepository(db),
		commissions:  repository.NewCommissionRepository(db),
		coupons:      repository.NewCouponRepository(db),
		points:       &fakePoints{enabled: true, status: http.StatusOK, body: `{"success":true}`},
		notifier:     &recordingNotifier{},
	}
	clock := func() time.Time { return f.now }
	settings := snapshotProvider{f: f}
	eligibility := NewUserEligibility(f.users, f.referrals)

	f.attach = NewAttachmentService(f.users, f.referrals, f.attributions, f.audit, settings, eligibility).WithClock(clock)
	f.blocks = NewBlockService(f.counterRepo, f.blockRepo, settings).WithClock(clock)
	f.counter = NewCounterService(f.users, f.counterRepo, f.blocks, settings).WithClock(clock)
	f.commission = NewCommissionService(f.orders, f.commissions, f.attributions, f.referrals, settings, eligibility).WithClock(clock)
	f.payouts = NewPayoutService(f.users, f.blockRepo, f.commissions, f.points, NewCouponService(f.coupons), f.notifier, settings).WithClock(clock)
	f.engine = NewOrderEngine(f.orders, f.users, f.attach, f.counter, f.commission)
	return f
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

var userSeq int64

func (f *fixture) createUser(role string, with func(*models.User)) *models.User {
	f.t.Helper()
	u := &models.User{
		Email: fmt.Sprintf("user%d-%s@example.com", atomic.AddInt64(&userSeq, 1), uuid.NewString()[:6]),
		Role:  role,
	}
	if with != nil {
		with(u)
	}
	require.NoError(f.t, f.users.Create(context.Background(), u))
	return u
}

func (f *fixture) ambassador() *models.User {
	return f.createUser(domain.RoleAmbassador, nil)
}

// childOf creates a user whose parent in tier is parentID.
func (f *fixture) childOf(tier domain.Tier, parentID uint) *models.User {
	pid := parentID
	return f.createUser(domain.RoleCustomer, func(u *models.User) {
		if tier == domain.TierAmbassador {
			u.ParentAmbassadorID = &pid
		} else {
			u.ParentCustomerID = &pid
		}
	})
}

func (f *fixture) code(userID uint) string {
	f.t.Helper()
	rc, err := f.referrals.GetOrCreateCode(context.Background(), userID)
	require.NoError(f.t, err)
	return rc.Code
}

var orderSeq int64

func nextOrderID() string {
	return fmt.Sprintf("ord-%d", atomic.AddInt64(&orderSeq, 1))
}

// qualify records n qualifying orders for child in tier and returns their ids.
func (f *fixture) qualify(tier domain.Tier, child *models.User, n int) []string {
	f.t.Helper()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id := nextOrderID()
		_, err := f.counter.OnQualifyingOrder(context.Background(), QualifyingEvent{
			Tier:     tier,
			ChildID:  child.ID,
			ParentID: child.ParentFor(tier),
			OrderID:  id,
			Amount:   decimal.NewFromInt(50),
		})
		require.NoError(f.t, err)
		ids = append(ids, id)
	}
	return ids
}

func (f *fixture) blocksOf(tier domain.Tier, parentID uint) []models.MilestoneBlock {
	f.t.Helper()
	list, err := f.blockRepo.ListByParent(context.Background(), string(tier), parentID)
	require.NoError(f.t, err)
	return list
}

func blockIndexes(list []models.MilestoneBlock) []int {
	out := make([]int, 0, len(list))
	for _, b := range list {
		out = append(out, b.BlockIndex)
	}
	return out
}

func idString(id uint) string { return fmt.Sprintf("%d", id) }
