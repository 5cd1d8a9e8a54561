package repository

import (
	"context"

	"ambassadorbonus/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, u *models.User) error {
	return r.db.WithContext(ctx).Create(u).Error
}

func (r *UserRepository) GetByID(ctx context.Context, id uint) (*models.User, error) {
	var u models.User
	if err := r.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&u).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

// UpdateLastOrderIP records the network origin of the user's latest order.
func (r *UserRepository) UpdateLastOrderIP(ctx context.Context, id uint, ip string) error {
	if ip == "" {
		return nil
	}
	return r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", id).
		UpdateColumn("last_order_ip", ip).Error
}

// Upsert mirrors identity attributes for u.ID. Parent links are only filled
// when the stored user has none; counters and IPs owned by the engine are
// never overwritten.
func (r *UserRepository) Upsert(ctx context.Context, u *models.User) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := *u
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"email", "role", "is_ambassador", "registration_ip", "updated_at"}),
		}).Omit("LastOrderIP", "LifetimeQualifyingOrders", "ParentAmbassadorID", "ParentCustomerID").Create(&row).Error
		if err != nil {
			return err
		}
		if u.ParentAmbassadorID != nil {
			if err := setParentIfUnset(tx, u.ID, "parent_ambassador_id", *u.ParentAmbassadorID); err != nil {
				return err
			}
		}
		if u.ParentCustomerID != nil {
			if err := setParentIfUnset(tx, u.ID, "parent_customer_id", *u.ParentCustomerID); err != nil {
				return err
			}
		}
		return nil
	})
}

// SetParentAmbassadorIfUnset links the user to ambassadorID unless an
// ambassador parent is already recorded. Reports whether the link was written.
func (r *UserRepository) SetParentAmbassadorIfUnset(ctx context.Context, id, ambassadorID uint) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND parent_ambassador_id IS NULL", id).
		UpdateColumn("parent_ambassador_id", ambassadorID)
	return res.RowsAffected == 1, res.Error
}

func setParentIfUnset(tx *gorm.DB, id uint, column string, parentID uint) error {
	if parentID == 0 || parentID == id {
		return nil
	}
	return tx.Model(&models.User{}).
		Where("id = ? AND "+column+" IS NULL", id).
		UpdateColumn(column, parentID).Error
}
