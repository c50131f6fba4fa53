// Package simulator publishes synthetic flood telemetry to the broker.
package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"banjir.dev/floodwatch/pkg/broker"
	"banjir.dev/floodwatch/pkg/generator"
	"banjir.dev/floodwatch/pkg/metrics"
)

// Station simulates one water-level monitoring station: it announces itself
// with a device check and then publishes correlated sensor readings.
type Station struct {
	client    broker.ClientInterface
	device    *generator.StationDevice
	telemetry *generator.TelemetryGenerator
	prefix    string
	metrics   *metrics.SimulatorMetrics // optional
}

// NewStation creates a simulated station.
func NewStation(client broker.ClientInterface, prefix string, index int) (*Station, error) {
	device := generator.NewStationDevice(index)
	if device == nil {
		return nil, fmt.Errorf("failed to generate station %d", index)
	}

	return &Station{
		client:    client,
		device:    device,
		telemetry: generator.NewTelemetryGenerator(device.DeviceCode),
		prefix:    prefix,
	}, nil
}

// SetMetrics sets the metrics collector for this station.
func (s *Station) SetMetrics(m *metrics.SimulatorMetrics) {
	s.metrics = m
}

// Code returns the station's device code.
func (s *Station) Code() string {
	return s.device.DeviceCode
}

// Announce publishes the device-check message that registers the station.
func (s *Station) Announce(ctx context.Context) error {
	payload, err := json.Marshal(map[string]any{
		"deviceCode":  s.device.DeviceCode,
		"description": s.device.Description,
		"location":    fmt.Sprintf("%s, %s", s.device.Street, s.device.City),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal device check: %w", err)
	}

	topic := s.prefix + "/check/device"
	if err := s.client.Publish(ctx, topic, 1, false, payload); err != nil {
		if s.metrics != nil {
			s.metrics.PublishFailures.WithLabelValues("device_check").Inc()
		}
		return err
	}
	return nil
}

// Heartbeat publishes a bare heartbeat for the station.
func (s *Station) Heartbeat(ctx context.Context) error {
	topic := fmt.Sprintf("%s/%s/heartbeat", s.prefix, s.device.DeviceCode)
	if err := s.client.Publish(ctx, topic, 0, false, []byte(`{}`)); err != nil {
		if s.metrics != nil {
			s.metrics.PublishFailures.WithLabelValues("heartbeat").Inc()
		}
		return err
	}
	return nil
}

// PublishReading generates and publishes the next sensor reading.
func (s *Station) PublishReading(ctx context.Context, at time.Time) error {
	reading := s.telemetry.Generate(at)

	payload, err := json.Marshal(map[string]any{
		"deviceCode":    reading.DeviceCode,
		"waterlevel_cm": reading.WaterLevel,
		"rainfall_mm":   reading.Rainfall,
		"timestamp":     reading.Timestamp.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal reading: %w", err)
	}

	topic := fmt.Sprintf("%s/%s/sensor", s.prefix, reading.DeviceCode)
	if err := s.client.Publish(ctx, topic, 1, false, payload); err != nil {
		if s.metrics != nil {
			s.metrics.PublishFailures.WithLabelValues("sensor_reading").Inc()
		}
		return err
	}

	if s.metrics != nil {
		s.metrics.ReadingsPublished.Inc()
	}
	return nil
}
