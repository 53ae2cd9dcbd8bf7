package entity

import "errors"

var (
	// ErrNotFound is returned for a DeviceKey with no entity.
	ErrNotFound = errors.New("entity: not found")

	// ErrNotCover is returned when a cover action targets another domain.
	ErrNotCover = errors.New("entity: not a cover")

	// ErrInvalidPosition is returned for positions outside 0-100.
	ErrInvalidPosition = errors.New("entity: position must be between 0 and 100")
)
