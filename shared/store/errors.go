package store

import "errors"

var (
	// ErrNotFound is returned when a row addressed by id does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrInvalidEquipment is returned for an empty equipment id.
	ErrInvalidEquipment = errors.New("store: equipment_id is required")
	// ErrUnsupportedDriver is returned by Open for drivers other than postgres and sqlite.
	ErrUnsupportedDriver = errors.New("store: unsupported driver")
)
