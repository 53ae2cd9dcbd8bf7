package transport

import (
	"context"
	"errors"
)

var (
	// ErrConnect wraps every failure to open a gateway connection.
	ErrConnect = errors.New("transport: connect failed")

	// ErrClosed is returned by Write after Close.
	ErrClosed = errors.New("transport: connection closed")

	// ErrFrameTooLong is returned by Read when a line exceeds MaxFrameSize.
	ErrFrameTooLong = errors.New("transport: frame too long")
)

// MaxFrameSize bounds one inbound line. Real frames are far shorter; the
// limit only protects against a gateway streaming garbage without newlines.
const MaxFrameSize = 4096

// Transport opens a connection to one gateway.
type Transport interface {
	// Open connects to address. The meaning of address is transport specific:
	// a serial device path, a host:port pair, or ignored for MQTT.
	Open(ctx context.Context, address string) (Conn, error)
}

// Conn is an open gateway connection carrying newline-delimited frames.
//
// Read is called from a single goroutine. Write may be called concurrently
// with Read. Close unblocks a pending Read, which then returns io.EOF.
type Conn interface {
	// Read blocks for the next frame, without its line terminator.
	Read() ([]byte, error)

	// Write sends one encoded frame. The frame must already end in '\n'.
	Write(frame []byte) error

	Close() error
}
