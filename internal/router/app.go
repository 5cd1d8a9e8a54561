package router

import (
	"log"
	"time"

	"ambassadorbonus/config"
	"ambassadorbonus/internal/repository"
	"ambassadorbonus/internal/service"
	"ambassadorbonus/pkg/loyalty"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gorm.io/gorm"
)

// App holds the repositories and services built once at process start.
type App struct {
	Users        *repository.UserRepository
	Referrals    *repository.ReferralRepository
	Attributions *repository.AttributionRepository
	Audit        *repository.AuditLogRepository
	Orders       *repository.OrderRepository
	Counters     *repository.CounterRepository
	Blocks       *repository.BlockRepository
	Commissions  *repository.CommissionRepository
	Coupons      *repository.CouponRepository
	SettingRepo  *repository.SettingRepository

	Registry *prometheus.Registry
	Metrics  *service.EngineMetrics

	Settings    service.SettingsProvider
	Attachment  *service.AttachmentService
	BlockEval   *service.BlockService
	Counter     *service.CounterService
	Commission  *service.CommissionService
	Payouts     *service.PayoutService
	OrderEngine *service.OrderEngine
}

func NewApp(cfg *config.Config, db *gorm.DB) *App {
	a := &App{
		Users:        repository.NewUserRepository(db),
		Referrals:    repository.NewReferralRepository(db),
		Attributions: repository.NewAttributionRepository(db),
		Audit:        repository.NewAuditLogRepository(db),
		Orders:       repository.NewOrderRepository(db),
		Counters:     repository.NewCounterRepository(db),
		Blocks:       repository.NewBlockRepository(db),
		Commissions:  repository.NewCommissionRepository(db),
		Coupons:      repository.NewCouponRepository(db),
		SettingRepo:  repository.NewSettingRepository(db),
	}
	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = service.NewEngineMetrics(a.Registry)

	a.Settings = service.NewSettings(cfg, a.SettingRepo)
	eligibility := service.NewUserEligibility(a.Users, a.Referrals)

	points := loyalty.NewClient(cfg.PointsAPI.BaseURL, cfg.PointsAPI.APIKey, cfg.PointsAPI.Timeout, cfg.PointsAPI.RatePerSecond)
	if points.Enabled() {
		log.Printf("[payout] loyalty points api at %s", points.BaseURL)
	} else {
		log.Printf("[payout] loyalty points api disabled: set BONUS_POINTS_API_URL to enable, coupons will be issued")
	}
	var notifier service.OperatorNotifier = service.LogNotifier{}
	if cfg.Notify.OperatorWebhookURL != "" {
		notifier = service.NewWebhookNotifier(cfg.Notify.OperatorWebhookURL, 10*time.Second)
	}

	a.Attachment = service.NewAttachmentService(a.Users, a.Referrals, a.Attributions, a.Audit, a.Settings, eligibility).
		WithMetrics(a.Metrics)
	a.BlockEval = service.NewBlockService(a.Counters, a.Blocks, a.Settings).WithMetrics(a.Metrics)
	a.Counter = service.NewCounterService(a.Users, a.Counters, a.BlockEval, a.Settings).WithMetrics(a.Metrics)
	a.Commission = service.NewCommissionService(a.Orders, a.Commissions, a.Attributions, a.Referrals, a.Settings, eligibility).
		WithMetrics(a.Metrics)
	a.Payouts = service.NewPayoutService(a.Users, a.Blocks, a.Commissions, points, service.NewCouponService(a.Coupons), notifier, a.Settings).
		WithMetrics(a.Metrics)
	a.OrderEngine = service.NewOrderEngine(a.Orders, a.Users, a.Attachment, a.Counter, a.Commission)
	return a
}

// Scheduler builds the monthly payout scheduler from config.
func (a *App) Scheduler(cfg *config.SchedulerConfig) *service.Scheduler {
	loc, err := time.LoadLocation(cfg.Location)
	if err != nil {
		log.Printf("[scheduler] unknown location %q, using UTC", cfg.Location)
		loc = time.UTC
	}
	return service.NewScheduler(service.SchedulerConfig{
		Payouts:    a.Payouts,
		Audit:      a.Audit,
		Settings:   a.Settings,
		DayOfMonth: cfg.DayOfMonth,
		RunHour:    cfg.Hour,
		RunMinute:  cfg.Minute,
		Location:   loc,
	})
}
