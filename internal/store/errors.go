package store

import "errors"

var (
	// ErrNotFound is returned when a device or location lookup matches nothing.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when a create violates a unique constraint.
	ErrConflict = errors.New("duplicate record")

	// ErrNoData is returned when a sensor log carries neither rainfall nor
	// water level.
	ErrNoData = errors.New("sensor log has no rainfall and no water level")

	// ErrInvalidCode is returned when a device code is empty or malformed.
	ErrInvalidCode = errors.New("invalid device code")

	// ErrUnknownDevice is returned when a sensor log references a device
	// code no device row carries.
	ErrUnknownDevice = errors.New("unknown device code")
)
