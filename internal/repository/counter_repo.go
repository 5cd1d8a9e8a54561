package repository

import (
	"context"
	"errors"
	"time"

	"ambassadorbonus/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CounterRepository struct {
	db *gorm.DB
}

func NewCounterRepository(db *gorm.DB) *CounterRepository {
	return &CounterRepository{db: db}
}

// CounterChange is the result of applying one qualifying order or its refund.
type CounterChange struct {
	Applied bool // false when the order was already counted (or already reversed)
	Count   int  // qualifying_order_count after the change
	Order   models.QualifyingOrder
}

// RecordQualifying counts q for its (tier, child, parent) exactly once per order.
// The membership row, counter increment and lifetime increment commit together.
func (r *CounterRepository) RecordQualifying(ctx context.Context, q *models.QualifyingOrder) (CounterChange, error) {
	var change CounterChange
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(q)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var existing models.QualifyingOrder
			if err := tx.Where("tier = ? AND order_id = ?", q.Tier, q.OrderID).First(&existing).Error; err != nil {
				return err
			}
			change.Order = existing
			count, err := counterValue(tx, existing.Tier, existing.ChildID, existing.ParentID)
			change.Count = count
			return err
		}
		row := models.ChildCounter{Tier: q.Tier, ChildID: q.ChildID, ParentID: q.ParentID}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
			return err
		}
		err := tx.Model(&models.ChildCounter{}).
			Where("tier = ? AND child_id = ? AND parent_id = ?", q.Tier, q.ChildID, q.ParentID).
			Updates(map[string]interface{}{
				"qualifying_order_count": gorm.Expr("qualifying_order_count + 1"),
				"last_order_at":          q.CountedAt,
				"updated_at":             q.CountedAt,
			}).Error
		if err != nil {
			return err
		}
		err = tx.Model(&models.User{}).Where("id = ?", q.ChildID).
			UpdateColumn("lifetime_qualifying_orders", gorm.Expr("lifetime_qualifying_orders + 1")).Error
		if err != nil {
			return err
		}
		count, err := counterValue(tx, q.Tier, q.ChildID, q.ParentID)
		change = CounterChange{Applied: true, Count: count, Order: *q}
		return err
	})
	return change, err
}

// ReverseQualifying undoes a counted order on refund. Orders that were never
// counted, or were already reversed, leave the counters untouched. Counters
// never drop below zero.
func (r *CounterRepository) ReverseQualifying(ctx context.Context, tier, orderID string, at time.Time) (CounterChange, error) {
	var change CounterChange
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var q models.QualifyingOrder
		if err := tx.Where("tier = ? AND order_id = ?", tier, orderID).First(&q).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		change.Order = q
		res := tx.Model(&models.QualifyingOrder{}).
			Where("id = ? AND reversed_at IS NULL", q.ID).
			Update("reversed_at", at)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			count, err := counterValue(tx, q.Tier, q.ChildID, q.ParentID)
			change.Count = count
			return err
		}
		err := tx.Model(&models.ChildCounter{}).
			Where("tier = ? AND child_id = ? AND parent_id = ? AND qualifying_order_count > 0", q.Tier, q.ChildID, q.ParentID).
			Updates(map[string]interface{}{
				"qualifying_order_count": gorm.Expr("qualifying_order_count - 1"),
				"updated_at":             at,
			}).Error
		if err != nil {
			return err
		}
		err = tx.Model(&models.User{}).Where("id = ? AND lifetime_qualifying_orders > 0", q.ChildID).
			UpdateColumn("lifetime_qualifying_orders", gorm.Expr("lifetime_qualifying_orders - 1")).Error
		if err != nil {
			return err
		}
		count, err := counterValue(tx, q.Tier, q.ChildID, q.ParentID)
		change.Applied = true
		change.Count = count
		change.Order.ReversedAt = &at
		return err
	})
	return change, err
}

func counterValue(tx *gorm.DB, tier string, childID, parentID uint) (int, error) {
	var c models.ChildCounter
	err := tx.Where("tier = ? AND child_id = ? AND parent_id = ?", tier, childID, parentID).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	return c.QualifyingOrderCount, err
}

func (r *CounterRepository) Get(ctx context.Context, tier string, childID, parentID uint) (*models.ChildCounter, error) {
	var c models.ChildCounter
	err := r.db.WithContext(ctx).
		Where("tier = ? AND child_id = ? AND parent_id = ?", tier, childID, parentID).
		First(&c).Error
	if err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

// CountQualifiedChildren counts children of parentID whose counter reached required.
func (r *CounterRepository) CountQualifiedChildren(ctx context.Context, tier string, parentID uint, required int) (int, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.ChildCounter{}).
		Where("tier = ? AND parent_id = ? AND qualifying_order_count >= ?", tier, parentID, required).
		Count(&n).Error
	return int(n), err
}

// ListByParent returns the counters of all children of parentID in a tier.
func (r *CounterRepository) ListByParent(ctx context.Context, tier string, parentID uint) ([]models.ChildCounter, error) {
	var list []models.ChildCounter
	err := r.db.WithContext(ctx).
		Where("tier = ? AND parent_id = ?", tier, parentID).
		Order("qualifying_order_count DESC, child_id ASC").
		Find(&list).Error
	return list, err
}

// ParentIDs lists the distinct parents holding counters in a tier.
func (r *CounterRepository) ParentIDs(ctx context.Context, tier string) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&models.ChildCounter{}).
		Where("tier = ?", tier).
		Distinct("parent_id").
		Order("parent_id ASC").
		Pluck("parent_id", &ids).Error
	return ids, err
}
