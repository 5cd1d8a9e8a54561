package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MilestoneBlock is one awarded bonus of block_size qualified children.
// BlockIndex is 1-based per (tier, parent). A paid block is never modified.
type MilestoneBlock struct {
	ID                uint            `gorm:"primaryKey" json:"id"`
	Tier              string          `gorm:"size:16;not null;uniqueIndex:idx_block_tier_parent_index" json:"tier"`
	ParentID          uint            `gorm:"not null;uniqueIndex:idx_block_tier_parent_index" json:"parent_id"`
	BlockIndex        int             `gorm:"not null;uniqueIndex:idx_block_tier_parent_index" json:"block_index"`
	Amount            decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	RequiredUnitCount int             `gorm:"not null" json:"required_unit_count"`
	AwardedAt         time.Time       `gorm:"not null;index" json:"awarded_at"`
	Paid              bool            `gorm:"not null;default:false;index" json:"paid"`
	RewardReference   string          `gorm:"size:64" json:"reward_reference,omitempty"`
	ClaimedAt         *time.Time      `json:"-"`
	PaidAt            *time.Time      `json:"paid_at,omitempty"`
}

func (MilestoneBlock) TableName() string { return "milestone_blocks" }
