package registry

import "errors"

var (
	// ErrNodeNotFound is returned when an operation names a node that was never presented.
	ErrNodeNotFound = errors.New("registry: node not found")

	// ErrChildNotFound is returned when a device key names an unknown child.
	ErrChildNotFound = errors.New("registry: child not found")

	// ErrDeviceNotFound is returned when a device key has no record.
	ErrDeviceNotFound = errors.New("registry: device not found")

	// ErrPresentationConflict is returned when a child is re-presented with a
	// different sensor type. The original presentation is kept.
	ErrPresentationConflict = errors.New("registry: child re-presented with a different type")

	// ErrNoFreeNodeID is returned when every node id 1-254 is taken.
	ErrNoFreeNodeID = errors.New("registry: no free node id")
)
