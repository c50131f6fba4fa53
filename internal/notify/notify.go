// Package notify turns typed domain events into addressed broadcast messages
// and tracks delivery statistics. It carries no business logic: validation,
// channel routing and counters only.
package notify

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"banjir.dev/floodwatch/internal/flood"
	"banjir.dev/floodwatch/pkg/metrics"
)

// Broadcast channel names.
const (
	ChannelNotifications = "notifications"

	// EventNewNotification is the envelope event every notification rides on.
	EventNewNotification = "new-notification"
)

// DeviceChannel is the per-device notification channel name.
func DeviceChannel(code string) string {
	return "device:" + code
}

// LocationChannel is the per-location notification channel name.
func LocationChannel(id uint) string {
	return fmt.Sprintf("location:%d", id)
}

// Notification is the envelope broadcast for every domain event.
type Notification struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Title      string         `json:"title"`
	Message    string         `json:"message,omitempty"`
	Severity   flood.Severity `json:"severity"`
	DeviceCode string         `json:"deviceCode,omitempty"`
	LocationID *uint          `json:"locationId,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Data       map[string]any `json:"data,omitempty"`
}

// Broadcaster delivers an event payload to every subscriber of a channel.
// Implemented by *ws.Hub.
type Broadcaster interface {
	Publish(channel, event string, payload any)
}

// Stats is a snapshot of emission counters.
type Stats struct {
	Total      int64            `json:"total"`
	ByType     map[string]int64 `json:"byType"`
	BySeverity map[string]int64 `json:"bySeverity"`
	Errors     int64            `json:"errors"`
}

// Notifier validates, addresses and emits notifications.
type Notifier struct {
	logger      *slog.Logger
	broadcaster Broadcaster
	clock       clockwork.Clock
	metrics     *metrics.MonitorMetrics // optional

	mu         sync.Mutex
	total      int64
	byType     map[string]int64
	bySeverity map[string]int64
	errors     int64
}

// Config holds the configuration for the Notifier.
type Config struct {
	Logger      *slog.Logger
	Broadcaster Broadcaster
	Clock       clockwork.Clock
	Metrics     *metrics.MonitorMetrics
}

// New creates a Notifier.
func New(cfg *Config) (*Notifier, error) {
	if cfg == nil {
		return nil, errors.New("notifier config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Broadcaster == nil {
		return nil, errors.New("broadcaster cannot be nil")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Notifier{
		logger:      cfg.Logger,
		broadcaster: cfg.Broadcaster,
		clock:       clock,
		metrics:     cfg.Metrics,
		byType:      make(map[string]int64),
		bySeverity:  make(map[string]int64),
	}, nil
}

// Emit validates the notification, assigns id and timestamp, and broadcasts
// it to the global channel plus the per-device and per-location channels when
// addressed. Invalid notifications only bump the error counter.
func (n *Notifier) Emit(notification Notification) error {
	if notification.Type == "" || notification.Title == "" {
		n.countError()
		return errors.New("notification requires type and title")
	}
	if !flood.ValidSeverity(notification.Severity) {
		n.countError()
		return fmt.Errorf("unrecognized severity %q", notification.Severity)
	}

	notification.ID = uuid.NewString()
	notification.Timestamp = n.clock.Now().UTC()

	n.broadcaster.Publish(ChannelNotifications, EventNewNotification, notification)
	if notification.DeviceCode != "" {
		n.broadcaster.Publish(DeviceChannel(notification.DeviceCode), EventNewNotification, notification)
	}
	if notification.LocationID != nil {
		n.broadcaster.Publish(LocationChannel(*notification.LocationID), EventNewNotification, notification)
	}

	n.count(notification)

	n.logger.Debug("notification emitted",
		"id", notification.ID,
		"type", notification.Type,
		"severity", notification.Severity,
	)
	return nil
}

// Stats returns a snapshot of the emission counters.
func (n *Notifier) Stats() Stats {
	n.mu.Lock()
	defer n.mu.Unlock()

	stats := Stats{
		Total:      n.total,
		ByType:     make(map[string]int64, len(n.byType)),
		BySeverity: make(map[string]int64, len(n.bySeverity)),
		Errors:     n.errors,
	}
	for k, v := range n.byType {
		stats.ByType[k] = v
	}
	for k, v := range n.bySeverity {
		stats.BySeverity[k] = v
	}
	return stats
}

func (n *Notifier) count(notification Notification) {
	n.mu.Lock()
	n.total++
	n.byType[notification.Type]++
	n.bySeverity[string(notification.Severity)]++
	n.mu.Unlock()

	if n.metrics != nil {
		n.metrics.NotificationsTotal.WithLabelValues(notification.Type, string(notification.Severity)).Inc()
	}
}

func (n *Notifier) countError() {
	n.mu.Lock()
	n.errors++
	n.mu.Unlock()

	if n.metrics != nil {
		n.metrics.NotificationErrors.Inc()
	}
}
