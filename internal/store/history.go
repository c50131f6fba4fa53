package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// HistoryStore queries flood-status transition records. Writes go through
// LocationStore.ApplyStatusChange so they share a transaction with the
// snapshot update.
type HistoryStore struct {
	db *gorm.DB
}

// NewHistoryStore creates a HistoryStore over an open database handle.
func NewHistoryStore(db *gorm.DB) *HistoryStore {
	return &HistoryStore{db: db}
}

// RecentByLocation returns the newest transitions for one location.
func (s *HistoryStore) RecentByLocation(ctx context.Context, locationID uint, limit int) ([]LocationStatusHistory, error) {
	if limit <= 0 {
		limit = 20
	}
	var records []LocationStatusHistory
	err := s.db.WithContext(ctx).
		Where("location_id = ?", locationID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history for location %d: %w", locationID, err)
	}
	return records, nil
}

// Recent returns the newest transitions across all locations, for the
// general flood-history channel.
func (s *HistoryStore) Recent(ctx context.Context, limit int) ([]LocationStatusHistory, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []LocationStatusHistory
	err := s.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch recent history: %w", err)
	}
	return records, nil
}
