// Package store provides the persistence layer for floodwatch: GORM models
// for devices, locations, sensor logs and status-transition history, plus
// typed store operations over a PostgreSQL database.
package store

import (
	"time"

	"banjir.dev/floodwatch/internal/flood"
)

// Device connectivity states.
const (
	DeviceConnected    = "connected"
	DeviceDisconnected = "disconnected"
)

// Device represents a field sensor unit identified by a stable code.
// Devices are created implicitly on first contact and never deleted by the
// ingestion pipeline.
type Device struct {
	Code        string     `gorm:"uniqueIndex;not null"`
	Description string     `gorm:""`
	Status      string     `gorm:"not null;default:disconnected"`
	LastSeen    *time.Time `gorm:"index:idx_devices_last_seen"`
	LocationID  *uint      `gorm:"index"`
	Location    *Location  `gorm:"foreignKey:LocationID"`
	CreatedAt   time.Time  `gorm:"autoCreateTime"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime"`
	ID          uint       `gorm:"primaryKey"`
}

// TableName specifies the table name for the Device model.
func (Device) TableName() string {
	return "devices"
}

// Connected reports whether the device is currently marked connected.
func (d *Device) Connected() bool {
	return d.Status == DeviceConnected
}

// Location is a monitored site with threshold bands and a denormalized
// snapshot of its latest known state. The schema keeps the source's 1:1
// device-per-location relation.
type Location struct {
	Name    string `gorm:"not null"`
	Address string `gorm:""`

	// Threshold bands (water level, cm).
	AmanMax    float64 `gorm:"not null"`
	WaspadaMin float64 `gorm:"not null"`
	WaspadaMax float64 `gorm:"not null"`
	SiagaMin   float64 `gorm:"not null"`
	SiagaMax   float64 `gorm:"not null"`
	BahayaMin  float64 `gorm:"not null"`

	// Current-state snapshot, authoritative for dashboards and for the
	// previous-status comparison in the status engine.
	CurrentStatus     string     `gorm:"not null;default:AMAN"`
	CurrentWaterLevel *float64   `gorm:""`
	CurrentRainfall   *float64   `gorm:""`
	LastUpdate        *time.Time `gorm:""`

	Device    *Device   `gorm:"foreignKey:LocationID"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
	ID        uint      `gorm:"primaryKey"`
}

// TableName specifies the table name for the Location model.
func (Location) TableName() string {
	return "locations"
}

// Bands returns the location's threshold bands for classification.
func (l *Location) Bands() flood.ThresholdBands {
	return flood.ThresholdBands{
		AmanMax:    l.AmanMax,
		WaspadaMin: l.WaspadaMin,
		WaspadaMax: l.WaspadaMax,
		SiagaMin:   l.SiagaMin,
		SiagaMax:   l.SiagaMax,
		BahayaMin:  l.BahayaMin,
	}
}

// SensorLog is an immutable raw reading. At least one of Rainfall or
// WaterLevel is always present, and DeviceCode must reference a registered
// device: the foreign key rejects orphan readings at the database.
type SensorLog struct {
	DeviceCode string    `gorm:"index:idx_sensor_logs_device_ts;not null"`
	Device     *Device   `gorm:"foreignKey:DeviceCode;references:Code;constraint:OnDelete:CASCADE"`
	Rainfall   *float64  `gorm:""`
	WaterLevel *float64  `gorm:""`
	Timestamp  time.Time `gorm:"index:idx_sensor_logs_device_ts;index:idx_sensor_logs_ts;not null"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
	ID         uint      `gorm:"primaryKey"`
}

// TableName specifies the table name for the SensorLog model.
func (SensorLog) TableName() string {
	return "sensor_logs"
}

// LocationStatusHistory is an immutable record of a flood-status transition.
// LocationID is nullable so history survives location deletion: the foreign
// key nulls it out instead of cascading the delete.
type LocationStatusHistory struct {
	LocationID      *uint     `gorm:"index"`
	Location        *Location `gorm:"foreignKey:LocationID;constraint:OnDelete:SET NULL"`
	PreviousStatus  string    `gorm:"not null"`
	NewStatus       string    `gorm:"not null"`
	WaterLevel      float64   `gorm:"not null"`
	Rainfall        *float64  `gorm:""`
	DurationMinutes int64     `gorm:"not null"`
	CreatedAt       time.Time `gorm:"autoCreateTime;index"`
	ID              uint      `gorm:"primaryKey"`
}

// TableName specifies the table name for the LocationStatusHistory model.
func (LocationStatusHistory) TableName() string {
	return "location_status_histories"
}
