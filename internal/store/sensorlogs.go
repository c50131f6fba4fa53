package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// SensorLogStore appends and queries raw sensor readings.
type SensorLogStore struct {
	db *gorm.DB
}

// NewSensorLogStore creates a SensorLogStore over an open database handle.
func NewSensorLogStore(db *gorm.DB) *SensorLogStore {
	return &SensorLogStore{db: db}
}

// MetricStats holds aggregate statistics for one metric over a time range.
type MetricStats struct {
	Avg   float64 `json:"avg"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Count int64   `json:"count"`
}

// RangeStats holds per-metric statistics for a device over a window.
type RangeStats struct {
	WaterLevel MetricStats `json:"waterLevel"`
	Rainfall   MetricStats `json:"rainfall"`
}

// Append persists one reading. It rejects readings carrying neither metric
// with ErrNoData, readings for an unregistered device with ErrUnknownDevice,
// and defaults a zero timestamp to the current time.
func (s *SensorLogStore) Append(ctx context.Context, log *SensorLog) (uint, error) {
	if log.Rainfall == nil && log.WaterLevel == nil {
		return 0, ErrNoData
	}
	if log.Timestamp.IsZero() {
		log.Timestamp = time.Now().UTC()
	}

	if err := s.db.WithContext(ctx).Create(log).Error; err != nil {
		if errors.Is(err, gorm.ErrForeignKeyViolated) {
			return 0, fmt.Errorf("sensor log for %q: %w", log.DeviceCode, ErrUnknownDevice)
		}
		return 0, fmt.Errorf("failed to append sensor log for %q: %w", log.DeviceCode, err)
	}
	return log.ID, nil
}

// Latest returns the most recent reading for a device, ties broken by
// insertion order, or ErrNotFound when the device has no readings.
func (s *SensorLogStore) Latest(ctx context.Context, deviceCode string) (*SensorLog, error) {
	var log SensorLog
	err := s.db.WithContext(ctx).
		Where("device_code = ?", deviceCode).
		Order("timestamp DESC, id DESC").
		First(&log).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("latest reading for %q: %w", deviceCode, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to fetch latest reading for %q: %w", deviceCode, err)
	}
	return &log, nil
}

// Range returns every reading for a device within [start, end], ascending by
// timestamp with insertion order as the tiebreak.
func (s *SensorLogStore) Range(ctx context.Context, deviceCode string, start, end time.Time) ([]SensorLog, error) {
	var logs []SensorLog
	err := s.db.WithContext(ctx).
		Where("device_code = ? AND timestamp >= ? AND timestamp <= ?", deviceCode, start, end).
		Order("timestamp ASC, id ASC").
		Find(&logs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch readings for %q: %w", deviceCode, err)
	}
	return logs, nil
}

// Statistics computes avg/min/max/count per metric over a window. Readings
// where a metric is null do not contribute to that metric's aggregates.
func (s *SensorLogStore) Statistics(ctx context.Context, deviceCode string, start, end time.Time) (*RangeStats, error) {
	logs, err := s.Range(ctx, deviceCode, start, end)
	if err != nil {
		return nil, err
	}
	return ComputeRangeStats(logs), nil
}

// ComputeRangeStats aggregates statistics from an ordered slice of readings.
// Split out from Statistics so the math is testable without a database.
func ComputeRangeStats(logs []SensorLog) *RangeStats {
	stats := &RangeStats{}
	var wlSum, rfSum float64

	for _, log := range logs {
		if log.WaterLevel != nil {
			v := *log.WaterLevel
			if stats.WaterLevel.Count == 0 || v < stats.WaterLevel.Min {
				stats.WaterLevel.Min = v
			}
			if stats.WaterLevel.Count == 0 || v > stats.WaterLevel.Max {
				stats.WaterLevel.Max = v
			}
			wlSum += v
			stats.WaterLevel.Count++
		}
		if log.Rainfall != nil {
			v := *log.Rainfall
			if stats.Rainfall.Count == 0 || v < stats.Rainfall.Min {
				stats.Rainfall.Min = v
			}
			if stats.Rainfall.Count == 0 || v > stats.Rainfall.Max {
				stats.Rainfall.Max = v
			}
			rfSum += v
			stats.Rainfall.Count++
		}
	}

	if stats.WaterLevel.Count > 0 {
		stats.WaterLevel.Avg = wlSum / float64(stats.WaterLevel.Count)
	}
	if stats.Rainfall.Count > 0 {
		stats.Rainfall.Avg = rfSum / float64(stats.Rainfall.Count)
	}
	return stats
}
