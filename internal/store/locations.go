package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"banjir.dev/floodwatch/internal/flood"
)

// LocationStore persists and queries locations and their current-state
// snapshots.
type LocationStore struct {
	db *gorm.DB
}

// NewLocationStore creates a LocationStore over an open database handle.
func NewLocationStore(db *gorm.DB) *LocationStore {
	return &LocationStore{db: db}
}

// StatusSnapshot is the denormalized latest-state update applied to a
// location after each processed reading.
type StatusSnapshot struct {
	Status     flood.Status
	WaterLevel *float64
	Rainfall   *float64
	UpdatedAt  time.Time
}

// FloodSummary aggregates location counts per status for the summary
// broadcast.
type FloodSummary struct {
	Total     int64            `json:"total"`
	ByStatus  map[string]int64 `json:"byStatus"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

// FindByID returns the location with the given id, or ErrNotFound.
func (s *LocationStore) FindByID(ctx context.Context, id uint) (*Location, error) {
	var loc Location
	err := s.db.WithContext(ctx).First(&loc, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("location %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find location %d: %w", id, err)
	}
	return &loc, nil
}

// FindByDeviceCode returns the location owning the device with the given
// code, or ErrNotFound when the device is unknown or unattached.
func (s *LocationStore) FindByDeviceCode(ctx context.Context, code string) (*Location, error) {
	var loc Location
	err := s.db.WithContext(ctx).
		Joins("JOIN devices ON devices.location_id = locations.id").
		Where("devices.code = ?", code).
		First(&loc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("location for device %q: %w", code, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find location for device %q: %w", code, err)
	}
	return &loc, nil
}

// FirstAvailable returns the fallback location used for auto-registered
// devices: the oldest location without an attached device, or failing that
// the oldest location of all.
func (s *LocationStore) FirstAvailable(ctx context.Context) (*Location, error) {
	var loc Location
	err := s.db.WithContext(ctx).
		Joins("LEFT JOIN devices ON devices.location_id = locations.id").
		Where("devices.id IS NULL").
		Order("locations.id").
		First(&loc).Error
	if err == nil {
		return &loc, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to find available location: %w", err)
	}

	err = s.db.WithContext(ctx).Order("id").First(&loc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("fallback location: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find fallback location: %w", err)
	}
	return &loc, nil
}

// Create inserts a new location.
func (s *LocationStore) Create(ctx context.Context, loc *Location) error {
	if err := s.db.WithContext(ctx).Create(loc).Error; err != nil {
		return fmt.Errorf("failed to create location %q: %w", loc.Name, err)
	}
	return nil
}

// UpdateCurrentStatus applies the snapshot fields to the location row.
func (s *LocationStore) UpdateCurrentStatus(ctx context.Context, id uint, snap StatusSnapshot) error {
	return s.updateCurrentStatus(ctx, s.db, id, snap)
}

func (s *LocationStore) updateCurrentStatus(ctx context.Context, tx *gorm.DB, id uint, snap StatusSnapshot) error {
	res := tx.WithContext(ctx).Model(&Location{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"current_status":      string(snap.Status),
			"current_water_level": snap.WaterLevel,
			"current_rainfall":    snap.Rainfall,
			"last_update":         snap.UpdatedAt,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update status snapshot for location %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("location %d: %w", id, ErrNotFound)
	}
	return nil
}

// ApplyStatusChange updates the snapshot and, when a history record is given,
// writes it in the same transaction. The status engine relies on this for the
// snapshot/history atomicity rule.
func (s *LocationStore) ApplyStatusChange(ctx context.Context, id uint, snap StatusSnapshot, history *LocationStatusHistory) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.updateCurrentStatus(ctx, tx, id, snap); err != nil {
			return err
		}
		if history != nil {
			if err := tx.Create(history).Error; err != nil {
				return fmt.Errorf("failed to create status history for location %d: %w", id, err)
			}
		}
		return nil
	})
}

// GetFloodSummary returns location counts grouped by current status.
func (s *LocationStore) GetFloodSummary(ctx context.Context) (*FloodSummary, error) {
	type row struct {
		CurrentStatus string
		N             int64
	}
	var rows []row
	err := s.db.WithContext(ctx).Model(&Location{}).
		Select("current_status, count(*) as n").
		Group("current_status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to build flood summary: %w", err)
	}

	summary := &FloodSummary{
		ByStatus:  make(map[string]int64, len(rows)),
		UpdatedAt: time.Now().UTC(),
	}
	for _, r := range rows {
		summary.ByStatus[r.CurrentStatus] = r.N
		summary.Total += r.N
	}
	return summary, nil
}

// GetActiveFloodWarnings returns every location whose current status is not
// AMAN, most severe first.
func (s *LocationStore) GetActiveFloodWarnings(ctx context.Context) ([]Location, error) {
	var locs []Location
	err := s.db.WithContext(ctx).
		Where("current_status <> ?", string(flood.StatusAman)).
		Order(`CASE current_status
			WHEN 'BAHAYA' THEN 0
			WHEN 'SIAGA' THEN 1
			WHEN 'WASPADA' THEN 2
			ELSE 3 END, last_update DESC NULLS LAST`).
		Find(&locs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch active flood warnings: %w", err)
	}
	return locs, nil
}

// CountActive returns the number of monitored locations.
func (s *LocationStore) CountActive(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&Location{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count locations: %w", err)
	}
	return n, nil
}
