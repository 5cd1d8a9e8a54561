package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"ambassadorbonus/internal/domain"
	"ambassadorbonus/internal/models"
	"ambassadorbonus/internal/repository"
)

// keyedMutex serializes work per key. Entries are dropped once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// BlockService turns qualified-children counts into numbered milestone blocks.
// Every evaluation for a (tier, parent) runs under that parent's lock; the
// unique (tier, parent_id, block_index) index backs it up across processes.
type BlockService struct {
	counters *repository.CounterRepository
	blocks   *repository.BlockRepository
	settings SettingsProvider
	locks    *keyedMutex
	now      func() time.Time
	metrics  *EngineMetrics
}

func NewBlockService(counters *repository.CounterRepository, blocks *repository.BlockRepository, settings SettingsProvider) *BlockService {
	return &BlockService{
		counters: counters,
		blocks:   blocks,
		settings: settings,
		locks:    newKeyedMutex(),
		now:      time.Now,
	}
}

func (s *BlockService) WithMetrics(m *EngineMetrics) *BlockService {
	s.metrics = m
	return s
}

func (s *BlockService) WithClock(now func() time.Time) *BlockService {
	s.now = now
	return s
}

// BlockPosition is the evaluator's view of one parent.
type BlockPosition struct {
	QualifiedUnits  int
	AvailableBlocks int
	ExistingBlocks  int
}

func (s *BlockService) position(ctx context.Context, tier domain.Tier, parentID uint, rules TierRules) (BlockPosition, error) {
	qualified, err := s.counters.CountQualifiedChildren(ctx, string(tier), parentID, rules.RequiredOrders)
	if err != nil {
		return BlockPosition{}, fmt.Errorf("count qualified children: %w", err)
	}
	existing, err := s.blocks.CountByParent(ctx, string(tier), parentID)
	if err != nil {
		return BlockPosition{}, fmt.Errorf("count blocks: %w", err)
	}
	return BlockPosition{
		QualifiedUnits:  qualified,
		AvailableBlocks: qualified / rules.BlockSize,
		ExistingBlocks:  existing,
	}, nil
}

// EvaluateBlocks awards floor(qualified/block_size) - existing new blocks for
// the parent and returns them. Blocks are left unpaid for the dispatcher.
func (s *BlockService) EvaluateBlocks(ctx context.Context, tier domain.Tier, parentID uint) ([]models.MilestoneBlock, error) {
	rules := s.settings.Snapshot(ctx).Tier(tier)
	if !rules.Enabled || rules.BlockSize < 1 || parentID == 0 {
		return nil, nil
	}
	unlock := s.locks.Lock(lockKey(tier, parentID))
	defer unlock()

	pos, err := s.position(ctx, tier, parentID, rules)
	if err != nil {
		return nil, err
	}
	missing := pos.AvailableBlocks - pos.ExistingBlocks
	if missing <= 0 {
		return nil, nil
	}
	// Indices continue after the highest existing one; a reversal can leave a gap.
	maxIndex, err := s.blocks.MaxIndex(ctx, string(tier), parentID)
	if err != nil {
		return nil, fmt.Errorf("max block index: %w", err)
	}
	now := s.now()
	var awarded []models.MilestoneBlock
	for i := 0; i < missing; i++ {
		b := models.MilestoneBlock{
			Tier:              string(tier),
			ParentID:          parentID,
			BlockIndex:        maxIndex + i + 1,
			Amount:            rules.BonusAmount,
			RequiredUnitCount: rules.BlockSize,
			AwardedAt:         now,
		}
		created, err := s.blocks.InsertIfAbsent(ctx, &b)
		if err != nil {
			return awarded, fmt.Errorf("insert block %d: %w", b.BlockIndex, err)
		}
		if !created {
			log.Printf("[blocks] tier=%s parent=%d index=%d already present", tier, parentID, b.BlockIndex)
			continue
		}
		awarded = append(awarded, b)
	}
	s.metrics.Blocks(string(tier), "awarded", len(awarded))
	log.Printf("[blocks] tier=%s parent=%d qualified=%d awarded=%d", tier, parentID, pos.QualifiedUnits, len(awarded))
	return awarded, nil
}

// ReverseOnDisqualify deletes the highest-indexed unpaid block when the parent
// holds more blocks than its qualified children justify. A parent whose
// remaining qualified children still cover every existing block keeps them
// all, so a disqualification can remove nothing. Paid blocks are never
// touched, nor is a block currently claimed by a dispatcher.
func (s *BlockService) ReverseOnDisqualify(ctx context.Context, tier domain.Tier, parentID uint) (*models.MilestoneBlock, error) {
	rules := s.settings.Snapshot(ctx).Tier(tier)
	if rules.BlockSize < 1 || parentID == 0 {
		return nil, nil
	}
	unlock := s.locks.Lock(lockKey(tier, parentID))
	defer unlock()

	pos, err := s.position(ctx, tier, parentID, rules)
	if err != nil {
		return nil, err
	}
	if pos.ExistingBlocks <= pos.AvailableBlocks {
		return nil, nil
	}
	b, err := s.blocks.LatestUnpaid(ctx, string(tier), parentID)
	if errors.Is(err, repository.ErrNotFound) {
		log.Printf("[blocks] tier=%s parent=%d disqualified but every block is paid", tier, parentID)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest unpaid block: %w", err)
	}
	deleted, err := s.blocks.DeleteUnpaid(ctx, b.ID)
	if err != nil {
		return nil, fmt.Errorf("delete block %d: %w", b.ID, err)
	}
	if !deleted {
		log.Printf("[blocks] tier=%s parent=%d block=%d in dispatch, not reversed", tier, parentID, b.BlockIndex)
		return nil, nil
	}
	s.metrics.Blocks(string(tier), "reversed", 1)
	log.Printf("[blocks] tier=%s parent=%d reversed block index=%d", tier, parentID, b.BlockIndex)
	return b, nil
}

// ReevaluateTier runs EvaluateBlocks for every parent with counted children in
// the tier, for use after required_orders or block_size change at runtime.
// Existing blocks are never reversed here. Returns the number of new blocks.
func (s *BlockService) ReevaluateTier(ctx context.Context, tier domain.Tier) (int, error) {
	parents, err := s.counters.ParentIDs(ctx, string(tier))
	if err != nil {
		return 0, fmt.Errorf("list parents: %w", err)
	}
	total := 0
	for _, parentID := range parents {
		awarded, err := s.EvaluateBlocks(ctx, tier, parentID)
		total += len(awarded)
		if err != nil {
			return total, fmt.Errorf("evaluate parent %d: %w", parentID, err)
		}
	}
	log.Printf("[blocks] tier=%s reevaluated parents=%d awarded=%d", tier, len(parents), total)
	return total, nil
}

func lockKey(tier domain.Tier, parentID uint) string {
	return fmt.Sprintf("%s:%d", tier, parentID)
}
