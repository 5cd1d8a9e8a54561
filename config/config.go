package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	JWT        JWTConfig        `yaml:"jwt"`
	Webhook    WebhookConfig    `yaml:"webhook"`
	Attachment AttachmentConfig `yaml:"attachment"`
	Tiers      TiersConfig      `yaml:"tiers"`
	Commission CommissionConfig `yaml:"commission"`
	Payout     PayoutConfig     `yaml:"payout"`
	PointsAPI  PointsAPIConfig  `yaml:"points_api"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Notify     NotifyConfig     `yaml:"notify"`
}

type ServerConfig struct {
	Port           string        `yaml:"port"`
	Env            string        `yaml:"env"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	RequestsPerMin float64       `yaml:"requests_per_min"`
	Burst          int           `yaml:"burst"`
}

type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type JWTConfig struct {
	AccessSecret string        `yaml:"access_secret"`
	AccessExpiry time.Duration `yaml:"access_expiry"`
	Issuer       string        `yaml:"issuer"`
}

// WebhookConfig guards the order lifecycle webhook pushed by the commerce system.
type WebhookConfig struct {
	Secret string `yaml:"secret"`
}

type AttachmentConfig struct {
	// ConversionWindow bounds first-touch capture to qualifying order for link attachment.
	ConversionWindow time.Duration `yaml:"conversion_window"`
	// AttachmentWindow is how long an attribution stays valid after it is written.
	AttachmentWindow time.Duration `yaml:"attachment_window"`
	FraudIPCheck     bool          `yaml:"fraud_ip_check"`
	AuditRetention   time.Duration `yaml:"audit_retention"`
}

type TierConfig struct {
	Enabled        bool    `yaml:"enabled"`
	RequiredOrders int     `yaml:"required_orders"`
	BlockSize      int     `yaml:"block_size"`
	BonusAmount    float64 `yaml:"bonus_amount"`
	MinOrderAmount float64 `yaml:"min_order_amount"`
}

type TiersConfig struct {
	Ambassador TierConfig `yaml:"ambassador"`
	Customer   TierConfig `yaml:"customer"`
}

type CommissionConfig struct {
	Type               string   `yaml:"type"` // fixed | percent
	Value              float64  `yaml:"value"`
	CompletionStatuses []string `yaml:"completion_statuses"`
}

type PayoutConfig struct {
	Method          string        `yaml:"method"` // points | coupon
	MinAmount       float64       `yaml:"min_amount"`
	BonusMultiplier float64       `yaml:"bonus_multiplier"`
	Workers         int           `yaml:"workers"`
	ClaimLease      time.Duration `yaml:"claim_lease"`
	CouponPrefix    string        `yaml:"coupon_prefix"`
	CouponExpiry    time.Duration `yaml:"coupon_expiry"`
}

// PointsAPIConfig for the internal loyalty points service. An empty BaseURL disables it.
type PointsAPIConfig struct {
	BaseURL       string        `yaml:"base_url"`
	APIKey        string        `yaml:"api_key"`
	Timeout       time.Duration `yaml:"timeout"`
	RatePerSecond float64       `yaml:"rate_per_second"`
}

type SchedulerConfig struct {
	Enabled    bool   `yaml:"enabled"`
	DayOfMonth int    `yaml:"day_of_month"`
	Hour       int    `yaml:"hour"`
	Minute     int    `yaml:"minute"`
	Location   string `yaml:"location"`
}

type NotifyConfig struct {
	OperatorWebhookURL string `yaml:"operator_webhook_url"`
}

// Defaults returns the compiled-in configuration.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           "8099",
			Env:            "development",
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   10 * time.Second,
			RequestsPerMin: 600,
			Burst:          50,
		},
		Database: DatabaseConfig{
			DSN:             "bonus:bonus@tcp(localhost:3306)/ambassador_bonus?charset=utf8mb4&parseTime=True&loc=UTC",
			MaxIdleConns:    10,
			MaxOpenConns:    100,
			ConnMaxLifetime: time.Hour,
		},
		JWT: JWTConfig{
			AccessSecret: "change-me-in-production",
			AccessExpiry: 15 * time.Minute,
			Issuer:       "ambassador-bonus",
		},
		Attachment: AttachmentConfig{
			ConversionWindow: 30 * 24 * time.Hour,
			AttachmentWindow: 30 * 24 * time.Hour,
			FraudIPCheck:     true,
			AuditRetention:   365 * 24 * time.Hour,
		},
		Tiers: TiersConfig{
			Ambassador: TierConfig{Enabled: true, RequiredOrders: 5, BlockSize: 10, BonusAmount: 250, MinOrderAmount: 20},
			Customer:   TierConfig{Enabled: true, RequiredOrders: 3, BlockSize: 5, BonusAmount: 50, MinOrderAmount: 20},
		},
		Commission: CommissionConfig{
			Type:               "percent",
			Value:              5,
			CompletionStatuses: []string{"completed"},
		},
		Payout: PayoutConfig{
			Method:          "points",
			MinAmount:       0,
			BonusMultiplier: 1,
			Workers:         4,
			ClaimLease:      10 * time.Minute,
			CouponPrefix:    "AMB",
			CouponExpiry:    90 * 24 * time.Hour,
		},
		PointsAPI: PointsAPIConfig{
			Timeout:       10 * time.Second,
			RatePerSecond: 5,
		},
		Scheduler: SchedulerConfig{
			Enabled:    true,
			DayOfMonth: 1,
			Hour:       3,
			Minute:     0,
			Location:   "UTC",
		},
	}
}

// Load builds the config from defaults, the optional YAML file named by
// BONUS_CONFIG_FILE, then BONUS_* environment overrides.
func Load() (*Config, error) {
	cfg := Defaults()
	if path := os.Getenv("BONUS_CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("BONUS_PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("BONUS_ENV"); v != "" {
		c.Server.Env = v
	}
	if v := os.Getenv("BONUS_DATABASE_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("BONUS_JWT_SECRET"); v != "" {
		c.JWT.AccessSecret = v
	}
	if v := os.Getenv("BONUS_WEBHOOK_SECRET"); v != "" {
		c.Webhook.Secret = v
	}
	if v := os.Getenv("BONUS_POINTS_API_URL"); v != "" {
		c.PointsAPI.BaseURL = v
	}
	if v := os.Getenv("BONUS_POINTS_API_KEY"); v != "" {
		c.PointsAPI.APIKey = v
	}
	if v := os.Getenv("BONUS_PAYOUT_METHOD"); v != "" {
		c.Payout.Method = v
	}
	if v := os.Getenv("BONUS_OPERATOR_WEBHOOK_URL"); v != "" {
		c.Notify.OperatorWebhookURL = v
	}
	if v, err := strconv.ParseBool(os.Getenv("BONUS_SCHEDULER_ENABLED")); err == nil {
		c.Scheduler.Enabled = v
	}
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	for name, t := range map[string]TierConfig{"ambassador": c.Tiers.Ambassador, "customer": c.Tiers.Customer} {
		if !t.Enabled {
			continue
		}
		if t.RequiredOrders < 1 {
			errs = append(errs, fmt.Errorf("tiers.%s.required_orders must be >= 1", name))
		}
		if t.BlockSize < 1 {
			errs = append(errs, fmt.Errorf("tiers.%s.block_size must be >= 1", name))
		}
		if t.BonusAmount < 0 || t.MinOrderAmount < 0 {
			errs = append(errs, fmt.Errorf("tiers.%s amounts must not be negative", name))
		}
	}
	if c.Attachment.ConversionWindow < 0 || c.Attachment.AttachmentWindow < 0 {
		errs = append(errs, errors.New("attachment windows must not be negative"))
	}
	switch c.Commission.Type {
	case "fixed", "percent":
	default:
		errs = append(errs, fmt.Errorf("commission.type %q must be fixed or percent", c.Commission.Type))
	}
	switch c.Payout.Method {
	case "points", "coupon":
	default:
		errs = append(errs, fmt.Errorf("payout.method %q must be points or coupon", c.Payout.Method))
	}
	if c.Payout.BonusMultiplier <= 0 {
		errs = append(errs, errors.New("payout.bonus_multiplier must be > 0"))
	}
	if c.Scheduler.DayOfMonth < 1 || c.Scheduler.DayOfMonth > 28 {
		errs = append(errs, errors.New("scheduler.day_of_month must be between 1 and 28"))
	}
	return errors.Join(errs...)
}
