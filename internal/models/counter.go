package models

import "time"

// ChildCounter counts qualifying orders per (child, parent) within a tier.
type ChildCounter struct {
	ID                   uint       `gorm:"primaryKey" json:"id"`
	Tier                 string     `gorm:"size:16;not null;uniqueIndex:idx_counter_tier_child_parent" json:"tier"`
	ChildID              uint       `gorm:"not null;uniqueIndex:idx_counter_tier_child_parent" json:"child_id"`
	ParentID             uint       `gorm:"not null;uniqueIndex:idx_counter_tier_child_parent;index" json:"parent_id"`
	QualifyingOrderCount int        `gorm:"not null;default:0" json:"qualifying_order_count"`
	LastOrderAt          *time.Time `json:"last_order_at"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

func (ChildCounter) TableName() string { return "child_counters" }
