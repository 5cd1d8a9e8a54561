package repository

import (
	"context"
	"time"

	"ambassadorbonus/internal/models"

	"gorm.io/gorm"
)

type CouponRepository struct {
	db *gorm.DB
}

func NewCouponRepository(db *gorm.DB) *CouponRepository {
	return &CouponRepository{db: db}
}

func (r *CouponRepository) Create(ctx context.Context, c *models.Coupon) error {
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *CouponRepository) GetByCode(ctx context.Context, code string) (*models.Coupon, error) {
	var c models.Coupon
	if err := r.db.WithContext(ctx).Where("code = ?", code).First(&c).Error; err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

// GetByReference returns the coupon issued for a payout record, if any.
func (r *CouponRepository) GetByReference(ctx context.Context, reference string) (*models.Coupon, error) {
	var c models.Coupon
	if err := r.db.WithContext(ctx).Where("reference = ?", reference).Order("id DESC").First(&c).Error; err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

// Void withdraws an unused coupon by dropping its usage limit to zero.
func (r *CouponRepository) Void(ctx context.Context, code string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Coupon{}).
		Where("code = ? AND voided_at IS NULL", code).
		Updates(map[string]interface{}{"usage_limit": 0, "voided_at": at})
	return res.RowsAffected == 1, res.Error
}
