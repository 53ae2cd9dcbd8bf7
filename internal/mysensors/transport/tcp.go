package transport

import (
	"context"
	"fmt"
	"net"
	"time"
)

const (
	defaultDialTimeout  = 10 * time.Second
	defaultWriteTimeout = 5 * time.Second
	tcpKeepAlive        = 30 * time.Second
)

// TCPTransport connects to Ethernet gateways.
type TCPTransport struct {
	// DialTimeout bounds connection setup when ctx has no earlier deadline.
	DialTimeout time.Duration

	// WriteTimeout bounds each frame write. Zero means defaultWriteTimeout.
	WriteTimeout time.Duration
}

var _ Transport = (*TCPTransport)(nil)

// Open dials address, which must be host:port.
func (t *TCPTransport) Open(ctx context.Context, address string) (Conn, error) {
	timeout := t.DialTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	d := net.Dialer{KeepAlive: tcpKeepAlive}
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrConnect, address, err)
	}

	writeTimeout := t.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return newLineConn(conn, writeTimeout), nil
}
