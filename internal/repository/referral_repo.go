package repository

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"ambassadorbonus/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ReferralRepository struct {
	db *gorm.DB
}

func NewReferralRepository(db *gorm.DB) *ReferralRepository {
	return &ReferralRepository{db: db}
}

// generateReferralCode returns an 8-character uppercase hex referral code.
func generateReferralCode() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(b)), nil
}

// GetOrCreateCode returns the existing referral code for a user, or creates a new unique one.
func (r *ReferralRepository) GetOrCreateCode(ctx context.Context, userID uint) (*models.ReferralCode, error) {
	var rc models.ReferralCode
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&rc).Error; err == nil {
		return &rc, nil
	}
	for i := 0; i < 10; i++ {
		code, err := generateReferralCode()
		if err != nil {
			return nil, err
		}
		rc = models.ReferralCode{UserID: userID, Code: code, IsActive: true}
		if err := r.db.WithContext(ctx).Create(&rc).Error; err == nil {
			return &rc, nil
		}
		// Collision (or a concurrent create for the same user): retry, then re-read.
		var existing models.ReferralCode
		if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&existing).Error; err == nil {
			return &existing, nil
		}
	}
	return nil, fmt.Errorf("failed to generate a unique referral code after retries")
}

// GetByCode returns an active ReferralCode matching the given code, case-insensitively.
func (r *ReferralRepository) GetByCode(ctx context.Context, code string) (*models.ReferralCode, error) {
	var rc models.ReferralCode
	err := r.db.WithContext(ctx).
		Where("code = ? AND is_active = ?", strings.ToUpper(strings.TrimSpace(code)), true).
		First(&rc).Error
	if err != nil {
		return nil, translate(err)
	}
	return &rc, nil
}

// HasActiveCode reports whether the user owns an active referral code.
func (r *ReferralRepository) HasActiveCode(ctx context.Context, userID uint) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.ReferralCode{}).
		Where("user_id = ? AND is_active = ?", userID, true).
		Count(&n).Error
	return n > 0, err
}

// CaptureVisit stores first-touch data for a customer. An existing capture is
// only replaced when it was taken before staleBefore. Returns true when v was stored.
func (r *ReferralRepository) CaptureVisit(ctx context.Context, v *models.ReferralVisit, staleBefore time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(v)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		return true, nil
	}
	res = r.db.WithContext(ctx).Model(&models.ReferralVisit{}).
		Where("customer_id = ? AND captured_at < ?", v.CustomerID, staleBefore).
		Updates(map[string]interface{}{
			"ambassador_id": v.AmbassadorID,
			"code":          v.Code,
			"ip":            v.IP,
			"captured_at":   v.CapturedAt,
		})
	return res.RowsAffected == 1, res.Error
}

// GetVisit returns the first-touch capture for a customer.
func (r *ReferralRepository) GetVisit(ctx context.Context, customerID uint) (*models.ReferralVisit, error) {
	var v models.ReferralVisit
	if err := r.db.WithContext(ctx).Where("customer_id = ?", customerID).First(&v).Error; err != nil {
		return nil, translate(err)
	}
	return &v, nil
}

// DeleteVisit discards first-touch data, e.g. once it falls outside the conversion window.
func (r *ReferralRepository) DeleteVisit(ctx context.Context, customerID uint) error {
	return r.db.WithContext(ctx).Where("customer_id = ?", customerID).Delete(&models.ReferralVisit{}).Error
}
