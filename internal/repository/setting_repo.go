package repository

import (
	"context"

	"ambassadorbonus/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SettingRepository struct {
	db *gorm.DB
}

func NewSettingRepository(db *gorm.DB) *SettingRepository {
	return &SettingRepository{db: db}
}

func (r *SettingRepository) Get(ctx context.Context, key string) (string, error) {
	var s models.SystemSetting
	if err := r.db.WithContext(ctx).Where("`key` = ?", key).First(&s).Error; err != nil {
		return "", translate(err)
	}
	return s.Value, nil
}

func (r *SettingRepository) Set(ctx context.Context, key, value string, updatedBy *uint) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_by", "updated_at"}),
	}).Create(&models.SystemSetting{Key: key, Value: value, UpdatedBy: updatedBy}).Error
}

// GetAll returns every override as a key/value map.
func (r *SettingRepository) GetAll(ctx context.Context) (map[string]string, error) {
	var list []models.SystemSetting
	if err := r.db.WithContext(ctx).Order("`key` ASC").Find(&list).Error; err != nil {
		return nil, err
	}
	out := make(map[string]string, len(list))
	for _, s := range list {
		out[s.Key] = s.Value
	}
	return out, nil
}
