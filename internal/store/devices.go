package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DeviceStore persists and queries devices.
type DeviceStore struct {
	db *gorm.DB
}

// NewDeviceStore creates a DeviceStore over an open database handle.
func NewDeviceStore(db *gorm.DB) *DeviceStore {
	return &DeviceStore{db: db}
}

// FindByCode returns the device with the given code, or ErrNotFound.
func (s *DeviceStore) FindByCode(ctx context.Context, code string) (*Device, error) {
	var device Device
	err := s.db.WithContext(ctx).Where("code = ?", code).First(&device).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("device %q: %w", code, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find device %q: %w", code, err)
	}
	return &device, nil
}

// Create inserts a new device. A unique-constraint violation on the code is
// reported as ErrConflict so callers can converge on the existing row.
func (s *DeviceStore) Create(ctx context.Context, device *Device) error {
	if err := s.db.WithContext(ctx).Create(device).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("device %q: %w", device.Code, ErrConflict)
		}
		return fmt.Errorf("failed to create device %q: %w", device.Code, err)
	}
	return nil
}

// UpdateHeartbeat marks the device connected and advances its last-seen
// timestamp. The update is conditional on the stored last-seen being older,
// so an out-of-order heartbeat cannot move the timestamp backwards. The
// prior status is read under the same row lock as the write, so a
// connectivity flip landing between read and write cannot be misreported.
func (s *DeviceStore) UpdateHeartbeat(ctx context.Context, code string, seenAt time.Time) (*Device, bool, error) {
	var row Device
	var wasConnected bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("code = ?", code).First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("device %q: %w", code, ErrNotFound)
			}
			return fmt.Errorf("failed to lock device %q: %w", code, err)
		}

		wasConnected = row.Connected()
		if row.LastSeen != nil && row.LastSeen.After(seenAt) {
			return nil
		}

		row.Status = DeviceConnected
		row.LastSeen = &seenAt
		return tx.Model(&Device{}).Where("code = ?", code).
			Updates(map[string]any{
				"status":    DeviceConnected,
				"last_seen": seenAt,
			}).Error
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, false, err
		}
		return nil, false, fmt.Errorf("failed to update heartbeat for %q: %w", code, err)
	}
	return &row, wasConnected, nil
}

// UpdateStatus sets the connectivity status of one device.
func (s *DeviceStore) UpdateStatus(ctx context.Context, code, status string) error {
	res := s.db.WithContext(ctx).Model(&Device{}).
		Where("code = ?", code).
		Update("status", status)
	if res.Error != nil {
		return fmt.Errorf("failed to update status for %q: %w", code, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("device %q: %w", code, ErrNotFound)
	}
	return nil
}

// FindPotentiallyOffline returns all connected devices whose last-seen
// timestamp is older than the cutoff, or was never recorded. The result is a
// single consistent read that the sweeper evaluates against.
func (s *DeviceStore) FindPotentiallyOffline(ctx context.Context, cutoff time.Time) ([]Device, error) {
	var devices []Device
	err := s.db.WithContext(ctx).
		Where("status = ? AND (last_seen IS NULL OR last_seen < ?)", DeviceConnected, cutoff).
		Find(&devices).Error
	if err != nil {
		return nil, fmt.Errorf("failed to scan for offline devices: %w", err)
	}
	return devices, nil
}

// BulkMarkDisconnected flips the given device ids to disconnected in one
// statement and returns the rows that actually changed. The staleness guard
// is re-evaluated inside the UPDATE so a heartbeat landing between the scan
// and this write keeps its device connected.
func (s *DeviceStore) BulkMarkDisconnected(ctx context.Context, ids []uint, cutoff time.Time) ([]Device, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var flipped []Device
	res := s.db.WithContext(ctx).Model(&flipped).
		Clauses(clause.Returning{}).
		Where("id IN ? AND status = ? AND (last_seen IS NULL OR last_seen < ?)", ids, DeviceConnected, cutoff).
		Update("status", DeviceDisconnected)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to bulk mark devices disconnected: %w", res.Error)
	}
	return flipped, nil
}

// CountByStatus returns the number of devices in total, connected and
// disconnected, for the device-status summary broadcast.
func (s *DeviceStore) CountByStatus(ctx context.Context) (total, connected, disconnected int64, err error) {
	if err = s.db.WithContext(ctx).Model(&Device{}).Count(&total).Error; err != nil {
		return 0, 0, 0, fmt.Errorf("failed to count devices: %w", err)
	}
	if err = s.db.WithContext(ctx).Model(&Device{}).
		Where("status = ?", DeviceConnected).Count(&connected).Error; err != nil {
		return 0, 0, 0, fmt.Errorf("failed to count connected devices: %w", err)
	}
	return total, connected, total - connected, nil
}

// List returns all devices ordered by code, for the summary payload.
func (s *DeviceStore) List(ctx context.Context) ([]Device, error) {
	var devices []Device
	if err := s.db.WithContext(ctx).Order("code").Find(&devices).Error; err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	return devices, nil
}
