// Package directory resolves device codes to device records, auto-registers
// unknown devices under a fallback location, and tracks connectivity state
// with a heartbeat timeout.
package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"banjir.dev/floodwatch/internal/kmutex"
	"banjir.dev/floodwatch/internal/store"
)

// DeviceStore is the subset of the device persistence layer the directory
// needs. Implemented by *store.DeviceStore.
type DeviceStore interface {
	FindByCode(ctx context.Context, code string) (*store.Device, error)
	Create(ctx context.Context, device *store.Device) error
	UpdateHeartbeat(ctx context.Context, code string, seenAt time.Time) (*store.Device, bool, error)
	FindPotentiallyOffline(ctx context.Context, cutoff time.Time) ([]store.Device, error)
	BulkMarkDisconnected(ctx context.Context, ids []uint, cutoff time.Time) ([]store.Device, error)
}

// LocationResolver finds the fallback location for auto-registered devices.
// Implemented by *store.LocationStore.
type LocationResolver interface {
	FindByID(ctx context.Context, id uint) (*store.Location, error)
	FirstAvailable(ctx context.Context) (*store.Location, error)
}

// Directory is the device directory service.
type Directory struct {
	logger    *slog.Logger
	devices   DeviceStore
	locations LocationResolver
	clock     clockwork.Clock
	locks     *kmutex.KMutex
}

// Config holds the configuration for the Directory.
type Config struct {
	Logger    *slog.Logger
	Devices   DeviceStore
	Locations LocationResolver
	Clock     clockwork.Clock
}

// New creates a Directory.
func New(cfg *Config) (*Directory, error) {
	if cfg == nil {
		return nil, errors.New("directory config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Devices == nil {
		return nil, errors.New("device store cannot be nil")
	}
	if cfg.Locations == nil {
		return nil, errors.New("location resolver cannot be nil")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Directory{
		logger:    cfg.Logger,
		devices:   cfg.Devices,
		locations: cfg.Locations,
		clock:     clock,
		locks:     kmutex.New(),
	}, nil
}

// Resolve returns the device with the given code. Empty or blank codes are
// rejected with store.ErrInvalidCode.
func (d *Directory) Resolve(ctx context.Context, code string) (*store.Device, error) {
	if strings.TrimSpace(code) == "" {
		return nil, store.ErrInvalidCode
	}
	return d.devices.FindByCode(ctx, code)
}

// EnsureExists returns the device with the given code, creating it first when
// unknown. Created is true only when this call inserted the record. Creation
// is idempotent: a concurrent create losing the unique-constraint race
// resolves to the winner's row instead of erroring.
func (d *Directory) EnsureExists(ctx context.Context, code, description, locationHint string) (device *store.Device, created bool, err error) {
	if strings.TrimSpace(code) == "" {
		return nil, false, store.ErrInvalidCode
	}

	d.locks.Lock(code)
	defer d.locks.Unlock(code)

	return d.ensureLocked(ctx, code, description, locationHint)
}

// ensureLocked is EnsureExists with the per-code lock already held, so the
// heartbeat path can auto-register and update inside one critical section.
func (d *Directory) ensureLocked(ctx context.Context, code, description, locationHint string) (device *store.Device, created bool, err error) {
	device, err = d.devices.FindByCode(ctx, code)
	if err == nil {
		return device, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}

	loc, err := d.fallbackLocation(ctx, locationHint)
	if err != nil {
		return nil, false, fmt.Errorf("no location available for device %q: %w", code, err)
	}

	now := d.clock.Now().UTC()
	fresh := &store.Device{
		Code:        code,
		Description: description,
		Status:      store.DeviceConnected,
		LastSeen:    &now,
		LocationID:  &loc.ID,
	}

	if err := d.devices.Create(ctx, fresh); err != nil {
		if errors.Is(err, store.ErrConflict) {
			// Another writer registered the code first; converge on its row.
			existing, ferr := d.devices.FindByCode(ctx, code)
			if ferr != nil {
				return nil, false, ferr
			}
			return existing, false, nil
		}
		return nil, false, err
	}

	d.logger.Info("auto-registered device",
		"code", code,
		"location_id", loc.ID,
	)
	return fresh, true, nil
}

// Heartbeat marks the device connected and advances its last-seen timestamp,
// auto-registering unknown devices. Description and locationHint only apply
// on first contact. StatusChanged is true when the device flipped from
// disconnected (or was just created); the pre-update status is read
// atomically with the write, so concurrent heartbeats for the same device
// report the flip exactly once. Heartbeats older than the stored last-seen
// move nothing.
func (d *Directory) Heartbeat(ctx context.Context, code, description, locationHint string, at *time.Time) (device *store.Device, statusChanged bool, err error) {
	if strings.TrimSpace(code) == "" {
		return nil, false, store.ErrInvalidCode
	}

	seenAt := d.clock.Now().UTC()
	if at != nil {
		seenAt = at.UTC()
	}

	d.locks.Lock(code)
	defer d.locks.Unlock(code)

	device, created, err := d.ensureLocked(ctx, code, description, locationHint)
	if err != nil {
		return nil, false, err
	}
	if created {
		return device, true, nil
	}

	updated, wasConnected, err := d.devices.UpdateHeartbeat(ctx, code, seenAt)
	if err != nil {
		return nil, false, err
	}

	return updated, !wasConnected && updated.Connected(), nil
}

// MarkOfflineIfStale flips every connected device whose last heartbeat is
// older than timeout (or missing) to disconnected, and returns the affected
// set for notification purposes.
func (d *Directory) MarkOfflineIfStale(ctx context.Context, timeout time.Duration) ([]store.Device, error) {
	cutoff := d.clock.Now().UTC().Add(-timeout)

	candidates, err := d.devices.FindPotentiallyOffline(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	ids := make([]uint, len(candidates))
	for i, dev := range candidates {
		ids[i] = dev.ID
	}

	flipped, err := d.devices.BulkMarkDisconnected(ctx, ids, cutoff)
	if err != nil {
		return nil, err
	}

	if len(flipped) > 0 {
		d.logger.Info("marked stale devices offline",
			"count", len(flipped),
			"timeout", timeout.String(),
		)
	}
	return flipped, nil
}

// fallbackLocation resolves the location a new device attaches to. A numeric
// hint is treated as a location id; anything else falls back to the first
// available location.
func (d *Directory) fallbackLocation(ctx context.Context, hint string) (*store.Location, error) {
	if hint != "" {
		if id, err := strconv.ParseUint(hint, 10, 32); err == nil {
			loc, err := d.locations.FindByID(ctx, uint(id))
			if err == nil {
				return loc, nil
			}
			if !errors.Is(err, store.ErrNotFound) {
				return nil, err
			}
			d.logger.Warn("location hint did not resolve, using fallback", "hint", hint)
		}
	}
	return d.locations.FirstAvailable(ctx)
}
