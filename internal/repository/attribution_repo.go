package repository

import (
	"context"

	"ambassadorbonus/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AttachOutcome tells how an Attach call changed the attribution table.
type AttachOutcome int

const (
	AttachNone    AttachOutcome = iota // a valid attribution already exists
	AttachCreated                      // first attribution for the customer
	AttachRenewed                      // replaced an expired attribution
)

type AttributionRepository struct {
	db *gorm.DB
}

func NewAttributionRepository(db *gorm.DB) *AttributionRepository {
	return &AttributionRepository{db: db}
}

// GetByCustomer returns the attribution row for a customer, expired or not.
func (r *AttributionRepository) GetByCustomer(ctx context.Context, customerID uint) (*models.Attribution, error) {
	var a models.Attribution
	if err := r.db.WithContext(ctx).Where("customer_id = ?", customerID).First(&a).Error; err != nil {
		return nil, translate(err)
	}
	return &a, nil
}

// Attach writes a as the customer's attribution unless a non-expired one exists
// at a.AttachedAt. The insert and the expired-row replacement are both single
// conditional statements, so concurrent callers cannot both succeed.
func (r *AttributionRepository) Attach(ctx context.Context, a *models.Attribution) (AttachOutcome, error) {
	db := r.db.WithContext(ctx)
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(a)
	if res.Error != nil {
		return AttachNone, res.Error
	}
	if res.RowsAffected == 1 {
		return AttachCreated, nil
	}
	res = db.Model(&models.Attribution{}).
		Where("customer_id = ? AND expires_at <= ?", a.CustomerID, a.AttachedAt).
		Updates(map[string]interface{}{
			"ambassador_id": a.AmbassadorID,
			"method":        a.Method,
			"order_id":      a.OrderID,
			"attached_at":   a.AttachedAt,
			"expires_at":    a.ExpiresAt,
		})
	if res.Error != nil {
		return AttachNone, res.Error
	}
	if res.RowsAffected == 0 {
		return AttachNone, nil
	}
	var stored models.Attribution
	if err := db.Where("customer_id = ?", a.CustomerID).First(&stored).Error; err != nil {
		return AttachRenewed, err
	}
	a.ID = stored.ID
	return AttachRenewed, nil
}

// StampOrder records the referral method on the order that produced an attachment.
// The first stamp for an order wins.
func (r *AttributionRepository) StampOrder(ctx context.Context, oa *models.OrderAttribution) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(oa).Error
}

func (r *AttributionRepository) GetOrderStamp(ctx context.Context, orderID string) (*models.OrderAttribution, error) {
	var oa models.OrderAttribution
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&oa).Error; err != nil {
		return nil, translate(err)
	}
	return &oa, nil
}
