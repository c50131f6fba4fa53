// Package router classifies inbound broker messages into typed events and
// dispatches them through the ingestion pipeline: device directory, sensor
// log store, location status engine and notification fanout.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"banjir.dev/floodwatch/internal/engine"
	"banjir.dev/floodwatch/internal/flood"
	"banjir.dev/floodwatch/internal/notify"
	"banjir.dev/floodwatch/internal/store"
	"banjir.dev/floodwatch/pkg/metrics"
)

// Outbound broadcast events.
const (
	EventDeviceStatusSummary  = "device-status-summary"
	EventDeviceStatusChanged  = "device-status-changed"
	EventLocationStatus       = "location-status-changed"
	EventStatusHistoryCreated = "location-status-history-created"
	EventFloodWarnings        = "flood-warnings-updated"
	EventFloodSummary         = "flood-summary-updated"
	EventSensorData           = "sensor-data"
	EventSensorDataSaved      = "sensor-data-saved"
	EventSensorDataError      = "sensor-data-error"
	EventDeviceCheckResult    = "device-check-result"
	EventDeviceCheckError     = "device-check-error"
)

// FloodHistoryChannel carries every status transition regardless of location.
const FloodHistoryChannel = "flood-history"

// Notification types.
const (
	TypeDeviceStatusChanged   = "device-status-changed"
	TypeNewDevice             = "new-device"
	TypeLocationStatusChanged = "location-status-changed"
	TypeStatusHistory         = "flood-status-history"
	TypeError                 = "error"
)

// Directory is the device directory surface the router drives.
type Directory interface {
	Heartbeat(ctx context.Context, code, description, locationHint string, at *time.Time) (*store.Device, bool, error)
	EnsureExists(ctx context.Context, code, description, locationHint string) (*store.Device, bool, error)
}

// StatusEngine processes water-level readings into status transitions.
type StatusEngine interface {
	ProcessSensorData(ctx context.Context, deviceCode string, waterLevel float64, rainfall *float64) (*engine.Result, error)
}

// SensorLogs appends raw readings.
type SensorLogs interface {
	Append(ctx context.Context, log *store.SensorLog) (uint, error)
}

// LocationQueries feeds the flood summary and warning broadcasts.
type LocationQueries interface {
	GetFloodSummary(ctx context.Context) (*store.FloodSummary, error)
	GetActiveFloodWarnings(ctx context.Context) ([]store.Location, error)
}

// DeviceQueries feeds the device-status summary broadcast.
type DeviceQueries interface {
	CountByStatus(ctx context.Context) (total, connected, disconnected int64, err error)
}

// Notifier emits validated notifications.
type Notifier interface {
	Emit(n notify.Notification) error
}

// Broadcaster delivers raw events to dashboard channels.
type Broadcaster interface {
	Publish(channel, event string, payload any)
}

// Router dispatches classified events to their handlers.
type Router struct {
	logger    *slog.Logger
	scheme    TopicScheme
	directory Directory
	engine    StatusEngine
	logs      SensorLogs
	locations LocationQueries
	devices   DeviceQueries
	notifier  Notifier
	hub       Broadcaster
	cache     *LatestCache
	metrics   *metrics.MonitorMetrics // optional

	handlers map[Kind]func(context.Context, Event)
}

// Config holds the configuration for the Router.
type Config struct {
	Logger    *slog.Logger
	Scheme    TopicScheme
	Directory Directory
	Engine    StatusEngine
	Logs      SensorLogs
	Locations LocationQueries
	Devices   DeviceQueries
	Notifier  Notifier
	Hub       Broadcaster
	Metrics   *metrics.MonitorMetrics
}

// New creates a Router.
func New(cfg *Config) (*Router, error) {
	if cfg == nil {
		return nil, errors.New("router config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Directory == nil {
		return nil, errors.New("directory cannot be nil")
	}
	if cfg.Engine == nil {
		return nil, errors.New("status engine cannot be nil")
	}
	if cfg.Logs == nil {
		return nil, errors.New("sensor log store cannot be nil")
	}
	if cfg.Locations == nil {
		return nil, errors.New("location queries cannot be nil")
	}
	if cfg.Devices == nil {
		return nil, errors.New("device queries cannot be nil")
	}
	if cfg.Notifier == nil {
		return nil, errors.New("notifier cannot be nil")
	}
	if cfg.Hub == nil {
		return nil, errors.New("broadcaster cannot be nil")
	}
	if cfg.Scheme.Prefix == "" {
		return nil, errors.New("topic prefix cannot be empty")
	}
	if cfg.Scheme.CheckTopic == "" {
		cfg.Scheme.CheckTopic = cfg.Scheme.Prefix + "/check/device"
	}

	r := &Router{
		logger:    cfg.Logger,
		scheme:    cfg.Scheme,
		directory: cfg.Directory,
		engine:    cfg.Engine,
		logs:      cfg.Logs,
		locations: cfg.Locations,
		devices:   cfg.Devices,
		notifier:  cfg.Notifier,
		hub:       cfg.Hub,
		cache:     NewLatestCache(),
		metrics:   cfg.Metrics,
	}
	r.handlers = map[Kind]func(context.Context, Event){
		KindHeartbeat:     r.handleHeartbeat,
		KindDeviceCheck:   r.handleDeviceCheck,
		KindSensorReading: r.handleSensorReading,
		KindUnhandled:     r.handleUnhandled,
	}
	return r, nil
}

// Scheme returns the topic scheme the router was built with.
func (r *Router) Scheme() TopicScheme {
	return r.scheme
}

// Latest returns the per-device latest-reading cache.
func (r *Router) Latest() *LatestCache {
	return r.cache
}

// Handle processes one inbound message to completion. No payload, however
// malformed, may crash the processing loop: failures are logged, reported as
// error notifications, and the router moves on.
func (r *Router) Handle(ctx context.Context, topic string, payload []byte) {
	ev := Classify(r.scheme, topic, payload)
	kind := ev.Kind.String()

	if r.metrics != nil {
		r.metrics.MessagesTotal.WithLabelValues(kind).Inc()
		timer := prometheus.NewTimer(r.metrics.ProcessingDuration.WithLabelValues(kind))
		defer timer.ObserveDuration()
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("panic handling message",
				"topic", topic,
				"kind", kind,
				"panic", rec,
			)
			r.reportError(ev, fmt.Errorf("internal error handling %s message", kind))
		}
	}()

	if ev.ParseError != nil {
		r.logger.Error("malformed message payload",
			"topic", topic,
			"kind", kind,
			"error", ev.ParseError,
		)
		r.reportError(ev, fmt.Errorf("malformed payload: %w", ev.ParseError))
		return
	}

	r.handlers[ev.Kind](ctx, ev)
}

func (r *Router) handleHeartbeat(ctx context.Context, ev Event) {
	device, changed, err := r.directory.Heartbeat(ctx, ev.DeviceCode, ev.Description, ev.LocationHint, ev.Timestamp)
	if err != nil {
		r.logger.Error("heartbeat failed", "device", ev.DeviceCode, "error", err)
		r.reportError(ev, fmt.Errorf("heartbeat for %s: %w", ev.DeviceCode, err))
		return
	}

	r.logger.Debug("heartbeat", "device", device.Code, "status", device.Status)

	if changed {
		r.emitDeviceStatusChange(ctx, device)
	}
}

func (r *Router) handleDeviceCheck(ctx context.Context, ev Event) {
	if ev.DeviceCode == "" {
		r.logger.Warn("device check without device code", "topic", ev.Topic)
		r.hub.Publish(notify.ChannelNotifications, EventDeviceCheckError, map[string]any{
			"error": "missing device code",
		})
		r.reportError(ev, errors.New("device check missing device code"))
		return
	}

	device, created, err := r.directory.EnsureExists(ctx, ev.DeviceCode, ev.Description, ev.LocationHint)
	if err != nil {
		r.logger.Error("device check failed", "device", ev.DeviceCode, "error", err)
		r.hub.Publish(notify.ChannelNotifications, EventDeviceCheckError, map[string]any{
			"deviceCode": ev.DeviceCode,
			"error":      err.Error(),
		})
		r.reportError(ev, fmt.Errorf("device check for %s: %w", ev.DeviceCode, err))
		return
	}

	r.hub.Publish(notify.ChannelNotifications, EventDeviceCheckResult, map[string]any{
		"deviceCode": device.Code,
		"status":     device.Status,
		"created":    created,
	})

	if created {
		_ = r.notifier.Emit(notify.Notification{
			Type:       TypeNewDevice,
			Title:      fmt.Sprintf("New Device %s Registered", device.Code),
			Message:    device.Description,
			Severity:   flood.SeverityLow,
			DeviceCode: device.Code,
			LocationID: device.LocationID,
		})
	}
}

func (r *Router) handleSensorReading(ctx context.Context, ev Event) {
	if ev.DeviceCode == "" {
		r.logger.Warn("sensor reading without device code", "topic", ev.Topic)
		r.reportError(ev, errors.New("sensor reading missing device code"))
		return
	}

	// Heartbeat side-effect is best effort: a directory failure must not
	// abort reading processing.
	device, changed, err := r.directory.Heartbeat(ctx, ev.DeviceCode, ev.Description, ev.LocationHint, ev.Timestamp)
	if err != nil {
		r.logger.Warn("heartbeat touch failed during reading", "device", ev.DeviceCode, "error", err)
	} else if changed {
		r.emitDeviceStatusChange(ctx, device)
	}

	if ev.WaterLevel == nil && ev.Rainfall == nil {
		r.logger.Debug("reading carried no metrics", "device", ev.DeviceCode, "topic", ev.Topic)
		return
	}

	r.persistReading(ctx, ev)

	if ev.WaterLevel != nil {
		r.classifyReading(ctx, ev)
	}
}

func (r *Router) persistReading(ctx context.Context, ev Event) {
	log := &store.SensorLog{
		DeviceCode: ev.DeviceCode,
		WaterLevel: ev.WaterLevel,
		Rainfall:   ev.Rainfall,
	}
	if ev.Timestamp != nil {
		log.Timestamp = *ev.Timestamp
	}

	if _, err := r.logs.Append(ctx, log); err != nil {
		r.logger.Error("failed to persist reading", "device", ev.DeviceCode, "error", err)
		r.hub.Publish(notify.ChannelNotifications, EventSensorDataError, map[string]any{
			"deviceCode": ev.DeviceCode,
			"error":      err.Error(),
		})
		r.reportError(ev, fmt.Errorf("persist reading for %s: %w", ev.DeviceCode, err))
		return
	}

	if r.metrics != nil {
		r.metrics.SensorLogsSaved.Inc()
	}

	reading := Reading{
		DeviceCode: ev.DeviceCode,
		WaterLevel: ev.WaterLevel,
		Rainfall:   ev.Rainfall,
		Timestamp:  log.Timestamp,
	}
	r.cache.Put(reading)

	r.hub.Publish(notify.ChannelNotifications, EventSensorData, reading)
	r.hub.Publish(notify.DeviceChannel(ev.DeviceCode), EventSensorData, reading)
	r.hub.Publish(notify.ChannelNotifications, EventSensorDataSaved, map[string]any{
		"deviceCode": ev.DeviceCode,
	})
}

func (r *Router) classifyReading(ctx context.Context, ev Event) {
	result, err := r.engine.ProcessSensorData(ctx, ev.DeviceCode, *ev.WaterLevel, ev.Rainfall)
	if err != nil {
		r.logger.Error("status engine failed", "device", ev.DeviceCode, "error", err)
		r.reportError(ev, fmt.Errorf("process reading for %s: %w", ev.DeviceCode, err))
		return
	}

	if !result.Changed {
		return
	}

	if r.metrics != nil {
		r.metrics.StatusTransitions.
			WithLabelValues(string(result.PreviousStatus), string(result.NewStatus)).Inc()
	}

	loc := result.Location
	statusPayload := map[string]any{
		"locationId":     loc.ID,
		"location":       loc.Name,
		"previousStatus": result.PreviousStatus,
		"newStatus":      result.NewStatus,
		"waterLevel":     *ev.WaterLevel,
	}
	r.hub.Publish(notify.ChannelNotifications, EventLocationStatus, statusPayload)
	r.hub.Publish(notify.LocationChannel(loc.ID), EventLocationStatus, statusPayload)

	_ = r.notifier.Emit(notify.Notification{
		Type:       TypeLocationStatusChanged,
		Title:      fmt.Sprintf("%s: %s → %s", loc.Name, result.PreviousStatus, result.NewStatus),
		Severity:   result.NewStatus.Severity(),
		DeviceCode: ev.DeviceCode,
		LocationID: &loc.ID,
	})

	if result.History != nil {
		historyPayload := map[string]any{
			"locationId":      loc.ID,
			"previousStatus":  result.History.PreviousStatus,
			"newStatus":       result.History.NewStatus,
			"waterLevel":      result.History.WaterLevel,
			"durationMinutes": result.History.DurationMinutes,
		}
		r.hub.Publish(notify.ChannelNotifications, EventStatusHistoryCreated, historyPayload)
		r.hub.Publish(notify.LocationChannel(loc.ID), EventStatusHistoryCreated, historyPayload)
		r.hub.Publish(FloodHistoryChannel, EventStatusHistoryCreated, historyPayload)

		_ = r.notifier.Emit(notify.Notification{
			Type:       TypeStatusHistory,
			Title:      fmt.Sprintf("%s entered %s", loc.Name, result.NewStatus),
			Severity:   result.NewStatus.Severity(),
			LocationID: &loc.ID,
		})
	}

	r.broadcastFloodState(ctx)
}

func (r *Router) handleUnhandled(_ context.Context, ev Event) {
	// Not an error: foreign topics share the broker.
	r.logger.Info("unhandled topic", "topic", ev.Topic)
}

// emitDeviceStatusChange reports a connectivity flip and refreshes the
// device summary broadcast. Shared by live heartbeats and the sweeper path.
func (r *Router) emitDeviceStatusChange(ctx context.Context, device *store.Device) {
	title := fmt.Sprintf("Device %s Connected", device.Code)
	severity := flood.SeverityLow
	if !device.Connected() {
		title = fmt.Sprintf("Device %s Disconnected", device.Code)
		severity = flood.SeverityMedium
	}

	_ = r.notifier.Emit(notify.Notification{
		Type:       TypeDeviceStatusChanged,
		Title:      title,
		Severity:   severity,
		DeviceCode: device.Code,
		LocationID: device.LocationID,
	})

	r.hub.Publish(notify.DeviceChannel(device.Code), EventDeviceStatusChanged, map[string]any{
		"deviceCode": device.Code,
		"status":     device.Status,
	})

	r.BroadcastDeviceSummary(ctx)
}

// BroadcastDeviceSummary publishes the aggregate connectivity summary.
func (r *Router) BroadcastDeviceSummary(ctx context.Context) {
	total, connected, disconnected, err := r.devices.CountByStatus(ctx)
	if err != nil {
		r.logger.Error("failed to build device summary", "error", err)
		return
	}
	r.hub.Publish(notify.ChannelNotifications, EventDeviceStatusSummary, map[string]any{
		"total":        total,
		"connected":    connected,
		"disconnected": disconnected,
	})
}

// NotifyDeviceOffline emits the disconnect notification and summary refresh
// for one device flipped by the offline sweeper.
func (r *Router) NotifyDeviceOffline(ctx context.Context, device *store.Device) {
	r.emitDeviceStatusChange(ctx, device)
}

func (r *Router) broadcastFloodState(ctx context.Context) {
	if summary, err := r.locations.GetFloodSummary(ctx); err != nil {
		r.logger.Error("failed to build flood summary", "error", err)
	} else {
		r.hub.Publish(notify.ChannelNotifications, EventFloodSummary, summary)
	}

	if warnings, err := r.locations.GetActiveFloodWarnings(ctx); err != nil {
		r.logger.Error("failed to fetch flood warnings", "error", err)
	} else {
		r.hub.Publish(notify.ChannelNotifications, EventFloodWarnings, warnings)
	}
}

// reportError converts a per-message failure into a logged error
// notification. Processing of subsequent messages is unaffected.
func (r *Router) reportError(ev Event, err error) {
	if r.metrics != nil {
		r.metrics.MessageErrors.WithLabelValues(ev.Kind.String()).Inc()
	}
	_ = r.notifier.Emit(notify.Notification{
		Type:       TypeError,
		Title:      "Message Processing Error",
		Message:    err.Error(),
		Severity:   flood.SeverityMedium,
		DeviceCode: ev.DeviceCode,
	})
}
