package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// Both payout tables share the paid / reward_reference / claimed_at columns,
// so claim, settle and release are written once against the model passed in.

// claimUnpaid marks an unpaid row as in dispatch. A claim older than lease is
// considered abandoned and can be taken over. Exactly one caller wins.
func claimUnpaid(ctx context.Context, db *gorm.DB, model interface{}, id uint, now time.Time, lease time.Duration) (bool, error) {
	res := db.WithContext(ctx).Model(model).
		Where("id = ? AND paid = ? AND (claimed_at IS NULL OR claimed_at < ?)", id, false, now.Add(-lease)).
		Update("claimed_at", now)
	return res.RowsAffected == 1, res.Error
}

// settlePaid flips an unpaid row to paid with its reward reference.
func settlePaid(ctx context.Context, db *gorm.DB, model interface{}, id uint, reference string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Model(model).
		Where("id = ? AND paid = ?", id, false).
		Updates(map[string]interface{}{
			"paid":             true,
			"reward_reference": reference,
			"paid_at":          now,
			"claimed_at":       nil,
		})
	return res.RowsAffected == 1, res.Error
}

// releaseClaim hands an unpaid row back to the next sweep.
func releaseClaim(ctx context.Context, db *gorm.DB, model interface{}, id uint) error {
	return db.WithContext(ctx).Model(model).
		Where("id = ? AND paid = ?", id, false).
		Update("claimed_at", nil).Error
}
