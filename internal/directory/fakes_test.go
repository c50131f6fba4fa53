package directory_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"banjir.dev/floodwatch/internal/store"
)

// fakeDeviceStore is an in-memory DeviceStore with the same conditional
// update semantics as the real one.
type fakeDeviceStore struct {
	mu      sync.Mutex
	nextID  uint
	devices map[string]*store.Device

	// CreateConflict forces the next Create to report ErrConflict after
	// inserting the record under conflictCode, simulating a lost race.
	createConflictWith *store.Device

	// beforeHeartbeatUpdate runs against the stored record at the start of
	// UpdateHeartbeat, simulating a write landing just before the update.
	beforeHeartbeatUpdate func(*store.Device)
}

func newFakeDeviceStore() *fakeDeviceStore {
	return &fakeDeviceStore{nextID: 1, devices: make(map[string]*store.Device)}
}

func (f *fakeDeviceStore) FindByCode(_ context.Context, code string) (*store.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.devices[code]
	if !ok {
		return nil, fmt.Errorf("device %q: %w", code, store.ErrNotFound)
	}
	cp := *d
	return &cp, nil
}

func (f *fakeDeviceStore) Create(_ context.Context, device *store.Device) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createConflictWith != nil {
		f.devices[f.createConflictWith.Code] = f.createConflictWith
		f.createConflictWith = nil
		return fmt.Errorf("device %q: %w", device.Code, store.ErrConflict)
	}
	if _, ok := f.devices[device.Code]; ok {
		return fmt.Errorf("device %q: %w", device.Code, store.ErrConflict)
	}
	device.ID = f.nextID
	f.nextID++
	cp := *device
	f.devices[device.Code] = &cp
	return nil
}

func (f *fakeDeviceStore) UpdateHeartbeat(_ context.Context, code string, seenAt time.Time) (*store.Device, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.devices[code]
	if !ok {
		return nil, false, fmt.Errorf("device %q: %w", code, store.ErrNotFound)
	}
	if f.beforeHeartbeatUpdate != nil {
		f.beforeHeartbeatUpdate(d)
		f.beforeHeartbeatUpdate = nil
	}
	wasConnected := d.Status == store.DeviceConnected
	if d.LastSeen == nil || !d.LastSeen.After(seenAt) {
		ts := seenAt
		d.LastSeen = &ts
		d.Status = store.DeviceConnected
	}
	cp := *d
	return &cp, wasConnected, nil
}

func (f *fakeDeviceStore) FindPotentiallyOffline(_ context.Context, cutoff time.Time) ([]store.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Device
	for _, d := range f.devices {
		if d.Status == store.DeviceConnected && (d.LastSeen == nil || d.LastSeen.Before(cutoff)) {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (f *fakeDeviceStore) BulkMarkDisconnected(_ context.Context, ids []uint, cutoff time.Time) ([]store.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idSet := make(map[uint]bool, len(ids))
	for _, id := range ids {
		idSet[id] = true
	}
	var flipped []store.Device
	for _, d := range f.devices {
		if idSet[d.ID] && d.Status == store.DeviceConnected && (d.LastSeen == nil || d.LastSeen.Before(cutoff)) {
			d.Status = store.DeviceDisconnected
			flipped = append(flipped, *d)
		}
	}
	return flipped, nil
}

// fakeLocationResolver serves a fixed set of locations.
type fakeLocationResolver struct {
	locations []store.Location
}

func (f *fakeLocationResolver) FindByID(_ context.Context, id uint) (*store.Location, error) {
	for i := range f.locations {
		if f.locations[i].ID == id {
			cp := f.locations[i]
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("location %d: %w", id, store.ErrNotFound)
}

func (f *fakeLocationResolver) FirstAvailable(_ context.Context) (*store.Location, error) {
	if len(f.locations) == 0 {
		return nil, fmt.Errorf("fallback location: %w", store.ErrNotFound)
	}
	cp := f.locations[0]
	return &cp, nil
}
