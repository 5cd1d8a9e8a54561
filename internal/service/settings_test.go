package service

import (
	"context"
	"errors"
	"testing"

	"ambassadorbonus/config"
	"ambassadorbonus/internal/domain"

	"github.com/stretchr/testify/require"
)

type mapSettings map[string]string

func (m mapSettings) GetAll(context.Context) (map[string]string, error) { return m, nil }

type failingSettings struct{}

func (failingSettings) GetAll(context.Context) (map[string]string, error) {
	return nil, errors.New("db down")
}

func TestSettingsOverlayOverrides(t *testing.T) {
	cfg := config.Defaults()
	s := NewSettings(cfg, mapSettings{
		domain.SettingAmbassadorRequiredOrders: "7",
		domain.SettingCustomerBlockSize:        "0",
		domain.SettingAmbassadorBonusAmount:    "300.50",
		domain.SettingCustomerBonusAmount:      "-1",
		domain.SettingPayoutMethod:             domain.PayoutMethodCoupon,
		domain.SettingCommissionValue:          "abc",
	})
	snap := s.Snapshot(context.Background())

	amb := snap.Tier(domain.TierAmbassador)
	require.Equal(t, 7, amb.RequiredOrders)
	require.Equal(t, "300.50", amb.BonusAmount.StringFixed(2))

	cus := snap.Tier(domain.TierCustomer)
	require.Equal(t, cfg.Tiers.Customer.BlockSize, cus.BlockSize)
	require.Equal(t, cfg.Tiers.Customer.BonusAmount, cus.BonusAmount.InexactFloat64())

	require.Equal(t, domain.PayoutMethodCoupon, snap.PayoutMethod)
	require.Equal(t, cfg.Commission.Value, snap.CommissionValue.InexactFloat64())
}

func TestSettingsFallBackToConfigOnError(t *testing.T) {
	cfg := config.Defaults()
	snap := NewSettings(cfg, failingSettings{}).Snapshot(context.Background())
	require.Equal(t, cfg.Tiers.Ambassador.RequiredOrders, snap.Tier(domain.TierAmbassador).RequiredOrders)
	require.Equal(t, cfg.Payout.Method, snap.PayoutMethod)
}

func TestSnapshotCompletionStatus(t *testing.T) {
	snap := Snapshot{CompletionStatuses: []string{"completed", "delivered"}}
	require.True(t, snap.IsCompletionStatus("delivered"))
	require.False(t, snap.IsCompletionStatus("processing"))
	require.False(t, snap.Tier("gold").Enabled)
}

func TestValidateSettingValue(t *testing.T) {
	cases := []struct {
		key, value string
		ok         bool
	}{
		{domain.SettingAmbassadorRequiredOrders, "5", true},
		{domain.SettingAmbassadorRequiredOrders, "0", false},
		{domain.SettingCustomerBlockSize, "x", false},
		{domain.SettingPayoutMethod, "points", true},
		{domain.SettingPayoutMethod, "cash", false},
		{domain.SettingPayoutMinAmount, "12.5", true},
		{domain.SettingPayoutMinAmount, "-1", false},
		{"tier.gold.block_size", "3", false},
	}
	for _, tc := range cases {
		err := ValidateSettingValue(tc.key, tc.value)
		if tc.ok {
			require.NoError(t, err, "%s=%s", tc.key, tc.value)
		} else {
			require.Error(t, err, "%s=%s", tc.key, tc.value)
		}
	}
	require.True(t, IsOverridableSetting(domain.SettingCommissionValue))
	require.False(t, IsOverridableSetting("server.port"))
}
