package router

import (
	"sync"
	"time"
)

// Reading is the latest telemetry seen for one device.
type Reading struct {
	DeviceCode string    `json:"deviceCode"`
	WaterLevel *float64  `json:"waterLevel,omitempty"`
	Rainfall   *float64  `json:"rainfall,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// LatestCache keeps the most recent reading per device. It replaces the
// single shared scratch variable the original design used, so concurrent
// messages for different devices cannot clobber each other.
type LatestCache struct {
	mu       sync.RWMutex
	readings map[string]Reading
}

// NewLatestCache creates an empty cache.
func NewLatestCache() *LatestCache {
	return &LatestCache{readings: make(map[string]Reading)}
}

// Put stores the latest reading for a device.
func (c *LatestCache) Put(r Reading) {
	c.mu.Lock()
	c.readings[r.DeviceCode] = r
	c.mu.Unlock()
}

// Get returns the latest reading for a device.
func (c *LatestCache) Get(deviceCode string) (Reading, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.readings[deviceCode]
	return r, ok
}

// Snapshot returns a copy of every cached reading, keyed by device code.
func (c *LatestCache) Snapshot() map[string]Reading {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Reading, len(c.readings))
	for k, v := range c.readings {
		out[k] = v
	}
	return out
}
