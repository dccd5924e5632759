package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// GormCycleRepository implements CycleRepository using GORM.
type GormCycleRepository struct {
	db *gorm.DB
}

// NewGormCycleRepository creates a new GormCycleRepository.
func NewGormCycleRepository(db *gorm.DB) *GormCycleRepository {
	return &GormCycleRepository{db: db}
}

// SaveCycle inserts the record of one completed cycle.
func (r *GormCycleRepository) SaveCycle(ctx context.Context, rec *CycleRecord) error {
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("failed to save cycle record: %w", err)
	}
	return nil
}

// RecentCycles retrieves the most recent cycle records, newest first.
func (r *GormCycleRepository) RecentCycles(ctx context.Context, limit int) ([]*CycleRecord, error) {
	var recs []*CycleRecord

	err := r.db.WithContext(ctx).
		Order("cycle DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query cycle records: %w", err)
	}

	return recs, nil
}

// CycleCount returns the number of stored cycle records.
func (r *GormCycleRepository) CycleCount(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&CycleRecord{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count cycle records: %w", err)
	}
	return count, nil
}

// PurgeBefore deletes records older than the cutoff cycle.
func (r *GormCycleRepository) PurgeBefore(ctx context.Context, cutoffCycle int64) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("cycle < ?", cutoffCycle).
		Delete(&CycleRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to purge cycle records: %w", result.Error)
	}
	return result.RowsAffected, nil
}
