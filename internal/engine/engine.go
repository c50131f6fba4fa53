// Package engine derives a location's flood status from incoming readings,
// maintains the location's current-state snapshot, and records a history row
// for every status transition.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"

	"banjir.dev/floodwatch/internal/flood"
	"banjir.dev/floodwatch/internal/kmutex"
	"banjir.dev/floodwatch/internal/store"
)

// LocationStore is the subset of the location persistence layer the engine
// needs. Implemented by *store.LocationStore.
type LocationStore interface {
	FindByDeviceCode(ctx context.Context, code string) (*store.Location, error)
	ApplyStatusChange(ctx context.Context, id uint, snap store.StatusSnapshot, history *store.LocationStatusHistory) error
}

// Result describes the outcome of processing one reading.
type Result struct {
	Location       *store.Location
	PreviousStatus flood.Status
	NewStatus      flood.Status
	Changed        bool
	History        *store.LocationStatusHistory
}

// Engine is the location status engine.
type Engine struct {
	logger    *slog.Logger
	locations LocationStore
	clock     clockwork.Clock
	locks     *kmutex.KMutex
}

// Config holds the configuration for the Engine.
type Config struct {
	Logger    *slog.Logger
	Locations LocationStore
	Clock     clockwork.Clock
}

// New creates an Engine.
func New(cfg *Config) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("engine config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Locations == nil {
		return nil, errors.New("location store cannot be nil")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Engine{
		logger:    cfg.Logger,
		locations: cfg.Locations,
		clock:     clock,
		locks:     kmutex.New(),
	}, nil
}

// ProcessSensorData classifies a water-level reading against the owning
// location's threshold bands, unconditionally refreshes the location
// snapshot, and, only when the classified status differs from the stored
// one, writes a history record carrying the minutes spent in the previous
// status. Snapshot update and history insert share one transaction, and all
// processing for a single location is serialized.
func (e *Engine) ProcessSensorData(ctx context.Context, deviceCode string, waterLevel float64, rainfall *float64) (*Result, error) {
	loc, err := e.locations.FindByDeviceCode(ctx, deviceCode)
	if err != nil {
		return nil, fmt.Errorf("resolve location for device %q: %w", deviceCode, err)
	}

	e.locks.Lock(locationKey(loc.ID))
	defer e.locks.Unlock(locationKey(loc.ID))

	// Re-read under the lock: the previous-status comparison must see the
	// snapshot as committed by the last serialized writer.
	loc, err = e.locations.FindByDeviceCode(ctx, deviceCode)
	if err != nil {
		return nil, fmt.Errorf("resolve location for device %q: %w", deviceCode, err)
	}

	newStatus, err := flood.Classify(waterLevel, loc.Bands())
	if err != nil {
		return nil, fmt.Errorf("classify reading for device %q: %w", deviceCode, err)
	}

	previous := flood.Status(loc.CurrentStatus)
	now := e.clock.Now().UTC()

	snap := store.StatusSnapshot{
		Status:     newStatus,
		WaterLevel: &waterLevel,
		Rainfall:   rainfall,
		UpdatedAt:  now,
	}

	result := &Result{
		Location:       loc,
		PreviousStatus: previous,
		NewStatus:      newStatus,
	}

	var history *store.LocationStatusHistory
	if newStatus != previous {
		history = &store.LocationStatusHistory{
			LocationID:      &loc.ID,
			PreviousStatus:  string(previous),
			NewStatus:       string(newStatus),
			WaterLevel:      waterLevel,
			Rainfall:        rainfall,
			DurationMinutes: dwellMinutes(loc.LastUpdate, now),
		}
	}

	if err := e.locations.ApplyStatusChange(ctx, loc.ID, snap, history); err != nil {
		return nil, fmt.Errorf("apply status for location %d: %w", loc.ID, err)
	}

	// Reflect the committed snapshot in the returned location.
	loc.CurrentStatus = string(newStatus)
	loc.CurrentWaterLevel = &waterLevel
	loc.CurrentRainfall = rainfall
	loc.LastUpdate = &now

	if history != nil {
		result.Changed = true
		result.History = history
		e.logger.Info("location status changed",
			"location_id", loc.ID,
			"location", loc.Name,
			"previous", previous,
			"new", newStatus,
			"water_level", waterLevel,
			"dwell_minutes", history.DurationMinutes,
		)
	}

	return result, nil
}

// dwellMinutes is the whole minutes between the prior snapshot update and
// now, 0 when the location had no prior update.
func dwellMinutes(lastUpdate *time.Time, now time.Time) int64 {
	if lastUpdate == nil {
		return 0
	}
	d := now.Sub(*lastUpdate)
	if d < 0 {
		return 0
	}
	return int64(d.Minutes())
}

func locationKey(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
