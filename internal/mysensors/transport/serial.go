package transport

import (
	"context"
	"fmt"

	"go.bug.st/serial.v1"
)

// SerialTransport opens USB and UART gateways.
type SerialTransport struct {
	BaudRate int
}

var _ Transport = (*SerialTransport)(nil)

// Open opens the serial device at address (for example /dev/ttyUSB0).
//
// serial.Open does not take a context, so ctx is only checked up front.
func (t *SerialTransport) Open(ctx context.Context, address string) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnect, err)
	}

	mode := &serial.Mode{
		BaudRate: t.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(address, mode)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrConnect, address, err)
	}

	if err := port.SetRTS(true); err != nil {
		port.Close()
		return nil, fmt.Errorf("%w: set RTS on %s: %w", ErrConnect, address, err)
	}
	// Drop whatever the gateway printed before we were listening.
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("%w: reset input on %s: %w", ErrConnect, address, err)
	}

	return newLineConn(port, 0), nil
}
