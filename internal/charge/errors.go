package charge

import "errors"

var (
	// ErrInvalidArgument is returned when a charge request is malformed. It is
	// always raised before the store is touched.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrStoreUnavailable wraps connectivity and protocol failures reported by
	// a store adapter.
	ErrStoreUnavailable = errors.New("store unavailable")

	ErrCorruptBalance = errors.New("stored balance is not an integer")
)
