package repository

import (
	"context"

	"ambassadorbonus/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Upsert stores the latest snapshot of an order keyed by order_id. Empty
// fields in o leave the stored values alone.
func (r *OrderRepository) Upsert(ctx context.Context, o *models.Order) error {
	cols := []string{"status", "updated_at"}
	if o.CustomerID != 0 {
		cols = append(cols, "customer_id")
	}
	if o.Email != "" {
		cols = append(cols, "email")
	}
	if !o.Total.IsZero() {
		cols = append(cols, "total")
	}
	if o.CouponCode != "" {
		cols = append(cols, "coupon_code")
	}
	if o.IP != "" {
		cols = append(cols, "ip")
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "order_id"}},
		DoUpdates: clause.AssignmentColumns(cols),
	}).Create(o).Error
}

// UpdateStatus changes only the status of a stored order.
func (r *OrderRepository) UpdateStatus(ctx context.Context, orderID, status string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("order_id = ?", orderID).
		Update("status", status)
	return res.RowsAffected == 1, res.Error
}

func (r *OrderRepository) GetByOrderID(ctx context.Context, orderID string) (*models.Order, error) {
	var o models.Order
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&o).Error; err != nil {
		return nil, translate(err)
	}
	return &o, nil
}
