package database

import (
	"ambassadorbonus/config"
	"ambassadorbonus/internal/models"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func NewDB(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Error), // Only log errors, not every SQL query
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	return db, nil
}

// AutoMigrate runs Gorm auto-migration for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.ReferralCode{},
		&models.ReferralVisit{},
		&models.Attribution{},
		&models.OrderAttribution{},
		&models.Order{},
		&models.QualifyingOrder{},
		&models.ChildCounter{},
		&models.MilestoneBlock{},
		&models.CommissionRecord{},
		&models.Coupon{},
		&models.AuditLog{},
		&models.SystemSetting{},
	)
}
