// Package flood defines the flood-risk status taxonomy and the threshold
// classification used to derive a location's status from a water-level reading.
package flood

import "fmt"

// Status is the flood-risk level of a monitored location.
type Status string

const (
	// StatusAman means the water level is within the safe band.
	StatusAman Status = "AMAN"
	// StatusWaspada means the water level is within the watch band.
	StatusWaspada Status = "WASPADA"
	// StatusSiaga means the water level is within the alert band.
	StatusSiaga Status = "SIAGA"
	// StatusBahaya means the water level is at or above the danger floor.
	StatusBahaya Status = "BAHAYA"
)

// Severity is the notification severity associated with an event.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ParseStatus converts a stored string into a Status.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusAman, StatusWaspada, StatusSiaga, StatusBahaya:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown flood status %q", s)
}

// Severity maps a flood status to the severity used for its notifications.
func (s Status) Severity() Severity {
	switch s {
	case StatusBahaya:
		return SeverityCritical
	case StatusSiaga:
		return SeverityHigh
	case StatusWaspada:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// ValidSeverity reports whether s is one of the recognized severities.
func ValidSeverity(s Severity) bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}
