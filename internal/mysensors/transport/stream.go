package transport

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// lineConn frames an io.ReadWriteCloser as newline-delimited MySensors frames.
type lineConn struct {
	rwc          io.ReadWriteCloser
	scanner      *bufio.Scanner
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func newLineConn(rwc io.ReadWriteCloser, writeTimeout time.Duration) *lineConn {
	s := bufio.NewScanner(rwc)
	s.Buffer(make([]byte, 0, 256), MaxFrameSize)
	s.Split(bufio.ScanLines)
	return &lineConn{rwc: rwc, scanner: s, writeTimeout: writeTimeout}
}

// Read returns the next non-empty line. Once the connection has been closed
// locally, any underlying error is reported as io.EOF.
func (c *lineConn) Read() ([]byte, error) {
	for c.scanner.Scan() {
		line := c.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		frame := make([]byte, len(line))
		copy(frame, line)
		return frame, nil
	}

	err := c.scanner.Err()
	switch {
	case err == nil, c.closed.Load():
		return nil, io.EOF
	case errors.Is(err, bufio.ErrTooLong):
		return nil, fmt.Errorf("%w: more than %d bytes without newline", ErrFrameTooLong, MaxFrameSize)
	default:
		return nil, err
	}
}

func (c *lineConn) Write(frame []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if d, ok := c.rwc.(writeDeadliner); ok && c.writeTimeout > 0 {
		if err := d.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return fmt.Errorf("setting write deadline: %w", err)
		}
	}

	for len(frame) > 0 {
		n, err := c.rwc.Write(frame)
		if err != nil {
			if c.closed.Load() {
				return ErrClosed
			}
			return err
		}
		frame = frame[n:]
	}
	return nil
}

func (c *lineConn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr = c.rwc.Close()
	})
	return c.closeErr
}
