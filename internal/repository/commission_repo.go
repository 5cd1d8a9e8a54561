package repository

import (
	"context"
	"errors"
	"time"

	"ambassadorbonus/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CommissionRepository struct {
	db *gorm.DB
}

func NewCommissionRepository(db *gorm.DB) *CommissionRepository {
	return &CommissionRepository{db: db}
}

// CreateIfAbsent stores c unless the order already carries a commission.
func (r *CommissionRepository) CreateIfAbsent(ctx context.Context, c *models.CommissionRecord) (bool, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(c)
	return res.RowsAffected == 1, res.Error
}

func (r *CommissionRepository) GetByID(ctx context.Context, id uint) (*models.CommissionRecord, error) {
	var c models.CommissionRecord
	if err := r.db.WithContext(ctx).First(&c, id).Error; err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

func (r *CommissionRepository) GetByOrderID(ctx context.Context, orderID string) (*models.CommissionRecord, error) {
	var c models.CommissionRecord
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&c).Error; err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

// MarkRefunded zeroes the order's commission and flags it refunded, keeping
// the previous amount in refunded_amount. Paid status and reward reference are
// left as they are. Returns nil when there was nothing left to refund.
func (r *CommissionRepository) MarkRefunded(ctx context.Context, orderID string) (*models.CommissionRecord, error) {
	var refunded *models.CommissionRecord
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c models.CommissionRecord
		err := tx.Where("order_id = ? AND refunded = ?", orderID, false).First(&c).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		res := tx.Model(&models.CommissionRecord{}).
			Where("id = ? AND refunded = ?", c.ID, false).
			Updates(map[string]interface{}{
				"refunded":        true,
				"refunded_amount": c.Amount,
				"amount":          decimal.Zero,
			})
		if res.Error != nil || res.RowsAffected == 0 {
			return res.Error
		}
		c.Refunded = true
		c.RefundedAmount = c.Amount
		c.Amount = decimal.Zero
		refunded = &c
		return nil
	})
	return refunded, err
}

func (r *CommissionRepository) ListByAmbassador(ctx context.Context, ambassadorID uint, limit, offset int) ([]models.CommissionRecord, error) {
	var list []models.CommissionRecord
	err := r.db.WithContext(ctx).
		Where("ambassador_id = ?", ambassadorID).
		Order("awarded_at DESC, id DESC").
		Limit(limit).Offset(offset).
		Find(&list).Error
	return list, err
}

// ListPayable returns unpaid, unrefunded commissions awarded at or before cutoff.
func (r *CommissionRepository) ListPayable(ctx context.Context, cutoff time.Time) ([]models.CommissionRecord, error) {
	var list []models.CommissionRecord
	err := r.db.WithContext(ctx).
		Where("paid = ? AND refunded = ? AND awarded_at <= ?", false, false, cutoff).
		Order("awarded_at ASC, id ASC").
		Find(&list).Error
	return list, err
}

func (r *CommissionRepository) Claim(ctx context.Context, id uint, now time.Time, lease time.Duration) (bool, error) {
	return claimUnpaid(ctx, r.db, &models.CommissionRecord{}, id, now, lease)
}

// MarkPaid settles an unpaid commission. A commission refunded while in
// dispatch is not settled.
func (r *CommissionRepository) MarkPaid(ctx context.Context, id uint, reference string, now time.Time) (bool, error) {
	return settlePaid(ctx, r.db.Where("refunded = ?", false), &models.CommissionRecord{}, id, reference, now)
}

func (r *CommissionRepository) ReleaseClaim(ctx context.Context, id uint) error {
	return releaseClaim(ctx, r.db, &models.CommissionRecord{}, id)
}
