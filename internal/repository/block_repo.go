package repository

import (
	"context"
	"time"

	"ambassadorbonus/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type BlockRepository struct {
	db *gorm.DB
}

func NewBlockRepository(db *gorm.DB) *BlockRepository {
	return &BlockRepository{db: db}
}

func (r *BlockRepository) GetByID(ctx context.Context, id uint) (*models.MilestoneBlock, error) {
	var b models.MilestoneBlock
	if err := r.db.WithContext(ctx).First(&b, id).Error; err != nil {
		return nil, translate(err)
	}
	return &b, nil
}

func (r *BlockRepository) CountByParent(ctx context.Context, tier string, parentID uint) (int, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.MilestoneBlock{}).
		Where("tier = ? AND parent_id = ?", tier, parentID).
		Count(&n).Error
	return int(n), err
}

// MaxIndex returns the highest block_index for the parent, 0 when none exist.
func (r *BlockRepository) MaxIndex(ctx context.Context, tier string, parentID uint) (int, error) {
	var max struct{ Max int }
	err := r.db.WithContext(ctx).Model(&models.MilestoneBlock{}).
		Select("COALESCE(MAX(block_index), 0) AS max").
		Where("tier = ? AND parent_id = ?", tier, parentID).
		Scan(&max).Error
	return max.Max, err
}

// InsertIfAbsent creates b unless (tier, parent_id, block_index) already exists.
func (r *BlockRepository) InsertIfAbsent(ctx context.Context, b *models.MilestoneBlock) (bool, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(b)
	return res.RowsAffected == 1, res.Error
}

// LatestUnpaid returns the highest-indexed unpaid block for the parent.
func (r *BlockRepository) LatestUnpaid(ctx context.Context, tier string, parentID uint) (*models.MilestoneBlock, error) {
	var b models.MilestoneBlock
	err := r.db.WithContext(ctx).
		Where("tier = ? AND parent_id = ? AND paid = ?", tier, parentID, false).
		Order("block_index DESC").
		First(&b).Error
	if err != nil {
		return nil, translate(err)
	}
	return &b, nil
}

// DeleteUnpaid removes a block that is neither paid nor claimed by a dispatcher.
func (r *BlockRepository) DeleteUnpaid(ctx context.Context, id uint) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("id = ? AND paid = ? AND claimed_at IS NULL", id, false).
		Delete(&models.MilestoneBlock{})
	return res.RowsAffected == 1, res.Error
}

func (r *BlockRepository) ListByParent(ctx context.Context, tier string, parentID uint) ([]models.MilestoneBlock, error) {
	var list []models.MilestoneBlock
	q := r.db.WithContext(ctx).Where("parent_id = ?", parentID)
	if tier != "" {
		q = q.Where("tier = ?", tier)
	}
	err := q.Order("tier ASC, block_index ASC").Find(&list).Error
	return list, err
}

// BlockFilter narrows admin listings. Nil fields are not applied.
type BlockFilter struct {
	Tier  string
	Paid  *bool
	Page  int
	Limit int
}

func (r *BlockRepository) List(ctx context.Context, f BlockFilter) ([]models.MilestoneBlock, int64, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	q := r.db.WithContext(ctx).Model(&models.MilestoneBlock{})
	if f.Tier != "" {
		q = q.Where("tier = ?", f.Tier)
	}
	if f.Paid != nil {
		q = q.Where("paid = ?", *f.Paid)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var list []models.MilestoneBlock
	err := q.Order("awarded_at DESC, id DESC").Limit(f.Limit).Offset((f.Page - 1) * f.Limit).Find(&list).Error
	return list, total, err
}

// ListPayable returns unpaid blocks awarded at or before cutoff.
func (r *BlockRepository) ListPayable(ctx context.Context, cutoff time.Time) ([]models.MilestoneBlock, error) {
	var list []models.MilestoneBlock
	err := r.db.WithContext(ctx).
		Where("paid = ? AND awarded_at <= ?", false, cutoff).
		Order("awarded_at ASC, id ASC").
		Find(&list).Error
	return list, err
}

func (r *BlockRepository) Claim(ctx context.Context, id uint, now time.Time, lease time.Duration) (bool, error) {
	return claimUnpaid(ctx, r.db, &models.MilestoneBlock{}, id, now, lease)
}

func (r *BlockRepository) MarkPaid(ctx context.Context, id uint, reference string, now time.Time) (bool, error) {
	return settlePaid(ctx, r.db, &models.MilestoneBlock{}, id, reference, now)
}

func (r *BlockRepository) ReleaseClaim(ctx context.Context, id uint) error {
	return releaseClaim(ctx, r.db, &models.MilestoneBlock{}, id)
}
