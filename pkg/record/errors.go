package record

import "errors"

var (
	// ErrDuplicateRecord is returned when a record name is already registered.
	ErrDuplicateRecord = errors.New("record already defined")

	// ErrInvalidName is returned for empty or malformed record names.
	ErrInvalidName = errors.New("invalid record name")

	// ErrDatabaseLoaded is returned when the builder is used after LoadDatabase.
	ErrDatabaseLoaded = errors.New("database already loaded")

	// ErrReadOnly is returned when a client writes an input record.
	ErrReadOnly = errors.New("record is read-only")

	// ErrTypeMismatch is returned when a value cannot be stored in a record.
	ErrTypeMismatch = errors.New("value type mismatch")

	// ErrOutOfRange is returned for enum indices past the record's labels.
	ErrOutOfRange = errors.New("value out of range")

	// ErrTooManyLabels is returned when an enum record has more labels than
	// the record type can carry.
	ErrTooManyLabels = errors.New("too many enum labels")
)
