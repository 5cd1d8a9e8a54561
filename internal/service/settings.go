package service

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"ambassadorbonus/config"
	"ambassadorbonus/internal/domain"

	"github.com/shopspring/decimal"
)

// TierRules are the qualification and block thresholds of one tier.
type TierRules struct {
	Enabled        bool            `json:"enabled"`
	RequiredOrders int             `json:"required_orders"`
	BlockSize      int             `json:"block_size"`
	BonusAmount    decimal.Decimal `json:"bonus_amount"`
	MinOrderAmount decimal.Decimal `json:"min_order_amount"`
}

// Snapshot is an immutable view of the settings one operation runs with.
type Snapshot struct {
	ConversionWindow time.Duration
	AttachmentWindow time.Duration
	FraudIPCheck     bool
	AuditRetention   time.Duration

	Tiers map[domain.Tier]TierRules

	CommissionType     string
	CommissionValue    decimal.Decimal
	CompletionStatuses []string

	PayoutMethod    string
	PayoutMinAmount decimal.Decimal
	BonusMultiplier decimal.Decimal
	ClaimLease      time.Duration
	Workers         int
	CouponPrefix    string
	CouponExpiry    time.Duration
}

// Tier returns the rules for t. Unknown tiers come back disabled.
func (s Snapshot) Tier(t domain.Tier) TierRules { return s.Tiers[t] }

// IsCompletionStatus reports whether an order status counts as completed.
func (s Snapshot) IsCompletionStatus(status string) bool {
	for _, st := range s.CompletionStatuses {
		if st == status {
			return true
		}
	}
	return false
}

// SettingsProvider hands out a settings snapshot per operation.
type SettingsProvider interface {
	Snapshot(ctx context.Context) Snapshot
}

// StaticSettings serves a fixed snapshot.
type StaticSettings struct{ S Snapshot }

func (s StaticSettings) Snapshot(context.Context) Snapshot { return s.S }

type settingsReader interface {
	GetAll(ctx context.Context) (map[string]string, error)
}

// Settings overlays operator overrides from system_settings on the static config.
type Settings struct {
	cfg  *config.Config
	repo settingsReader
}

func NewSettings(cfg *config.Config, repo settingsReader) *Settings {
	return &Settings{cfg: cfg, repo: repo}
}

// SnapshotFromConfig converts static config into a snapshot without overrides.
func SnapshotFromConfig(cfg *config.Config) Snapshot {
	tier := func(t config.TierConfig) TierRules {
		return TierRules{
			Enabled:        t.Enabled,
			RequiredOrders: t.RequiredOrders,
			BlockSize:      t.BlockSize,
			BonusAmount:    decimal.NewFromFloat(t.BonusAmount),
			MinOrderAmount: decimal.NewFromFloat(t.MinOrderAmount),
		}
	}
	return Snapshot{
		ConversionWindow: cfg.Attachment.ConversionWindow,
		AttachmentWindow: cfg.Attachment.AttachmentWindow,
		FraudIPCheck:     cfg.Attachment.FraudIPCheck,
		AuditRetention:   cfg.Attachment.AuditRetention,
		Tiers: map[domain.Tier]TierRules{
			domain.TierAmbassador: tier(cfg.Tiers.Ambassador),
			domain.TierCustomer:   tier(cfg.Tiers.Customer),
		},
		CommissionType:     cfg.Commission.Type,
		CommissionValue:    decimal.NewFromFloat(cfg.Commission.Value),
		CompletionStatuses: append([]string(nil), cfg.Commission.CompletionStatuses...),
		PayoutMethod:       cfg.Payout.Method,
		PayoutMinAmount:    decimal.NewFromFloat(cfg.Payout.MinAmount),
		BonusMultiplier:    decimal.NewFromFloat(cfg.Payout.BonusMultiplier),
		ClaimLease:         cfg.Payout.ClaimLease,
		Workers:            cfg.Payout.Workers,
		CouponPrefix:       cfg.Payout.CouponPrefix,
		CouponExpiry:       cfg.Payout.CouponExpiry,
	}
}

func (s *Settings) Snapshot(ctx context.Context) Snapshot {
	snap := SnapshotFromConfig(s.cfg)
	overrides, err := s.repo.GetAll(ctx)
	if err != nil {
		log.Printf("[settings] load overrides: %v", err)
		return snap
	}
	applyOverrides(&snap, overrides)
	return snap
}

func applyOverrides(snap *Snapshot, kv map[string]string) {
	amb := snap.Tiers[domain.TierAmbassador]
	cus := snap.Tiers[domain.TierCustomer]
	amb.RequiredOrders = overrideInt(kv, domain.SettingAmbassadorRequiredOrders, amb.RequiredOrders)
	amb.BlockSize = overrideInt(kv, domain.SettingAmbassadorBlockSize, amb.BlockSize)
	amb.BonusAmount = overrideDecimal(kv, domain.SettingAmbassadorBonusAmount, amb.BonusAmount)
	amb.MinOrderAmount = overrideDecimal(kv, domain.SettingAmbassadorMinOrder, amb.MinOrderAmount)
	cus.RequiredOrders = overrideInt(kv, domain.SettingCustomerRequiredOrders, cus.RequiredOrders)
	cus.BlockSize = overrideInt(kv, domain.SettingCustomerBlockSize, cus.BlockSize)
	cus.BonusAmount = overrideDecimal(kv, domain.SettingCustomerBonusAmount, cus.BonusAmount)
	cus.MinOrderAmount = overrideDecimal(kv, domain.SettingCustomerMinOrder, cus.MinOrderAmount)
	snap.Tiers = map[domain.Tier]TierRules{domain.TierAmbassador: amb, domain.TierCustomer: cus}

	snap.CommissionValue = overrideDecimal(kv, domain.SettingCommissionValue, snap.CommissionValue)
	snap.PayoutMinAmount = overrideDecimal(kv, domain.SettingPayoutMinAmount, snap.PayoutMinAmount)
	if m := kv[domain.SettingPayoutMethod]; m == domain.PayoutMethodPoints || m == domain.PayoutMethodCoupon {
		snap.PayoutMethod = m
	}
}

// overrideInt ignores values below 1.
func overrideInt(kv map[string]string, key string, fallback int) int {
	val, ok := kv[key]
	if !ok || val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

func overrideDecimal(kv map[string]string, key string, fallback decimal.Decimal) decimal.Decimal {
	val, ok := kv[key]
	if !ok || val == "" {
		return fallback
	}
	d, err := decimal.NewFromString(val)
	if err != nil || d.IsNegative() {
		return fallback
	}
	return d
}

// ValidateSettingValue checks value against the type of an overridable key.
func ValidateSettingValue(key, value string) error {
	switch key {
	case domain.SettingAmbassadorRequiredOrders, domain.SettingAmbassadorBlockSize,
		domain.SettingCustomerRequiredOrders, domain.SettingCustomerBlockSize:
		if n, err := strconv.Atoi(value); err != nil || n < 1 {
			return fmt.Errorf("%s must be an integer >= 1", key)
		}
	case domain.SettingPayoutMethod:
		if value != domain.PayoutMethodPoints && value != domain.PayoutMethodCoupon {
			return fmt.Errorf("%s must be points or coupon", key)
		}
	default:
		if !IsOverridableSetting(key) {
			return fmt.Errorf("unknown setting %s", key)
		}
		if d, err := decimal.NewFromString(value); err != nil || d.IsNegative() {
			return fmt.Errorf("%s must be a non-negative amount", key)
		}
	}
	return nil
}

// ThresholdSettingTier returns the tier whose block thresholds key controls.
func ThresholdSettingTier(key string) (domain.Tier, bool) {
	switch key {
	case domain.SettingAmbassadorRequiredOrders, domain.SettingAmbassadorBlockSize:
		return domain.TierAmbassador, true
	case domain.SettingCustomerRequiredOrders, domain.SettingCustomerBlockSize:
		return domain.TierCustomer, true
	}
	return "", false
}

// IsOverridableSetting reports whether key is one of the runtime overrides.
func IsOverridableSetting(key string) bool {
	switch key {
	case domain.SettingAmbassadorRequiredOrders, domain.SettingAmbassadorBlockSize,
		domain.SettingAmbassadorBonusAmount, domain.SettingAmbassadorMinOrder,
		domain.SettingCustomerRequiredOrders, domain.SettingCustomerBlockSize,
		domain.SettingCustomerBonusAmount, domain.SettingCustomerMinOrder,
		domain.SettingCommissionValue, domain.SettingPayoutMinAmount, domain.SettingPayoutMethod:
		return true
	}
	return false
}
