package domain

const (
	RoleCustomer   = "CUSTOMER"
	RoleAmbassador = "AMBASSADOR"
	RoleAdmin      = "ADMIN"
)

// Tier names one of the two parallel qualification hierarchies.
type Tier string

const (
	TierAmbassador Tier = "ambassador" // ambassador -> ambassador
	TierCustomer   Tier = "customer"   // customer -> customer
)

var Tiers = []Tier{TierAmbassador, TierCustomer}

func (t Tier) Valid() bool { return t == TierAmbassador || t == TierCustomer }

const (
	MethodLink   = "link"
	MethodCoupon = "coupon"
)

const (
	OrderEventCreated   = "created"
	OrderEventCompleted = "completed"
	OrderEventRefunded  = "refunded"
)

const (
	CommissionFixed   = "fixed"
	CommissionPercent = "percent"

	CommissionSourceCustomerReferral = "customer_referral"
)

const (
	PayoutMethodPoints = "points"
	PayoutMethodCoupon = "coupon"

	// RewardReferencePoints marks a record paid through the loyalty points API.
	RewardReferencePoints = "points"
)

// RecordKind identifies which payout table a record lives in.
type RecordKind string

const (
	RecordKindBlock      RecordKind = "block"
	RecordKindCommission RecordKind = "commission"
)

// Runtime setting keys stored in system_settings.
const (
	SettingAmbassadorRequiredOrders = "tier.ambassador.required_orders"
	SettingAmbassadorBlockSize      = "tier.ambassador.block_size"
	SettingAmbassadorBonusAmount    = "tier.ambassador.bonus_amount"
	SettingAmbassadorMinOrder       = "tier.ambassador.min_order_amount"
	SettingCustomerRequiredOrders   = "tier.customer.required_orders"
	SettingCustomerBlockSize        = "tier.customer.block_size"
	SettingCustomerBonusAmount      = "tier.customer.bonus_amount"
	SettingCustomerMinOrder         = "tier.customer.min_order_amount"
	SettingCommissionValue          = "commission.value"
	SettingPayoutMinAmount          = "payout.min_amount"
	SettingPayoutMethod             = "payout.method"
)

// Audit actions for the attribution trail.
const (
	AuditAttributionCreated = "attribution_created"
	AuditAttributionRenewed = "attribution_renewed"
	AuditVisitCaptured      = "referral_visit_captured"
)
