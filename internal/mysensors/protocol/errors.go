package protocol

import "errors"

// Sentinel errors for frame decoding.
var (
	// ErrMalformedFrame indicates missing delimiters, non-numeric or
	// out-of-range fields, or an oversized payload.
	ErrMalformedFrame = errors.New("protocol: malformed frame")

	// ErrUnknownCommand indicates a command code outside 0-4.
	ErrUnknownCommand = errors.New("protocol: unknown command")

	// ErrUnsupportedVersion indicates a protocol version this package does not speak.
	ErrUnsupportedVersion = errors.New("protocol: unsupported version")
)
