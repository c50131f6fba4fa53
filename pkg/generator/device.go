// Package generator produces synthetic flood telemetry for the simulator.
package generator

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/brianvoe/gofakeit/v7"
)

// StationDevice is a simulated water-level monitoring station.
type StationDevice struct {
	Timestamp   time.Time
	DeviceCode  string
	Description string
	Street      string `fake:"{street}"`
	City        string `fake:"{city}"`
	Latitude    float64
	Longitude   float64
}

// Reading is one simulated telemetry sample.
type Reading struct {
	DeviceCode string
	Timestamp  time.Time
	WaterLevel float64
	Rainfall   float64
}

// TelemetryGenerator produces a correlated stream of water-level and
// rainfall samples for one station. Water level follows a random walk pushed
// upward while it rains and relaxing toward the baseline otherwise.
type TelemetryGenerator struct {
	deviceCode    string
	baselineLevel float64
	level         float64
	rainIntensity float64
	noise         float64
}

// NewStationDevice generates a random station around Jakarta.
// Note: Uses math/rand which is acceptable for simulation data.
func NewStationDevice(index int) *StationDevice {
	var device StationDevice
	if err := gofakeit.Struct(&device); err != nil {
		return nil
	}

	device.DeviceCode = fmt.Sprintf("WL-%03d", index)
	device.Description = fmt.Sprintf("Water level station %s, %s", device.Street, device.City)
	device.Timestamp = time.Now()

	// Greater Jakarta bounding box
	device.Latitude = -6.4 + rand.Float64()*0.4   // #nosec G404 - weak random is acceptable for test data generation
	device.Longitude = 106.7 + rand.Float64()*0.3 // #nosec G404

	return &device
}

// NewTelemetryGenerator creates a generator for one station.
func NewTelemetryGenerator(deviceCode string) *TelemetryGenerator {
	baseline := 40.0 + rand.Float64()*40 // #nosec G404 - 40-80 cm, safe band
	return &TelemetryGenerator{
		deviceCode:    deviceCode,
		baselineLevel: baseline,
		level:         baseline,
		noise:         1.0 + rand.Float64()*2, // #nosec G404
	}
}

// Generate produces the next correlated sample.
func (g *TelemetryGenerator) Generate(t time.Time) Reading {
	rainfall := g.nextRainfall(t)

	// Rain raises the level, dry readings relax it toward the baseline.
	inflow := rainfall * (0.8 + rand.Float64()*0.4) // #nosec G404
	relax := (g.baselineLevel - g.level) * 0.05
	noise := (rand.Float64() - 0.5) * g.noise // #nosec G404

	g.level = math.Max(0, g.level+inflow+relax+noise)

	return Reading{
		DeviceCode: g.deviceCode,
		Timestamp:  t,
		WaterLevel: round1(g.level),
		Rainfall:   round1(rainfall),
	}
}

// nextRainfall evolves the rain state. Storms start rarely, persist for a
// while and fade out.
func (g *TelemetryGenerator) nextRainfall(t time.Time) float64 {
	if g.rainIntensity > 0 {
		// Storm in progress: fade with some gusting
		g.rainIntensity *= 0.85 + rand.Float64()*0.2 // #nosec G404
		if g.rainIntensity < 0.2 {
			g.rainIntensity = 0
		}
		return g.rainIntensity
	}

	// Afternoon storms are more likely, matching the tropical pattern
	chance := 0.02
	if hour := t.Hour(); hour >= 14 && hour <= 18 {
		chance = 0.08
	}
	if rand.Float64() < chance { // #nosec G404
		g.rainIntensity = 2 + rand.Float64()*15 // #nosec G404
	}
	return g.rainIntensity
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
