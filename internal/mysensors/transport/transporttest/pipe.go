// Package transporttest provides an in-memory gateway for session tests.
package transporttest

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/transport"
)

const pipeBuffer = 256

// Transport hands out in-memory connections. The gateway end of every
// opened connection is delivered through Accept.
type Transport struct {
	mu       sync.Mutex
	failures int
	failErr  error

	peers     chan *Peer
	opens     atomic.Int32
	addresses []string
}

var _ transport.Transport = (*Transport)(nil)

// New returns an empty pipe transport.
func New() *Transport {
	return &Transport{peers: make(chan *Peer, 16)}
}

// FailNext makes the next n calls to Open fail with err wrapped in
// transport.ErrConnect.
func (t *Transport) FailNext(n int, err error) {
	t.mu.Lock()
	t.failures = n
	t.failErr = err
	t.mu.Unlock()
}

// Open implements transport.Transport.
func (t *Transport) Open(ctx context.Context, address string) (transport.Conn, error) {
	t.opens.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", transport.ErrConnect, err)
	}

	t.mu.Lock()
	t.addresses = append(t.addresses, address)
	if t.failures > 0 {
		t.failures--
		err := t.failErr
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: %w", transport.ErrConnect, err)
	}
	t.mu.Unlock()

	p := &Peer{
		toSession:   make(chan []byte, pipeBuffer),
		fromSession: make(chan []byte, pipeBuffer),
		done:        make(chan struct{}),
	}
	t.peers <- p
	return &conn{p: p}, nil
}

// Opens returns how many times Open was called, failures included.
func (t *Transport) Opens() int {
	return int(t.opens.Load())
}

// Addresses returns every address passed to Open, in order.
func (t *Transport) Addresses() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.addresses...)
}

// Accept waits for the next successful Open and returns its gateway end.
func (t *Transport) Accept(timeout time.Duration) (*Peer, error) {
	select {
	case p := <-t.peers:
		return p, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("transporttest: no connection within %v", timeout)
	}
}

// Peer is the gateway side of an in-memory connection.
type Peer struct {
	toSession   chan []byte
	fromSession chan []byte

	done     chan struct{}
	doneOnce sync.Once

	writeErr atomic.Pointer[error]
}

// Send delivers one frame to the session. A trailing newline is optional.
func (p *Peer) Send(frame string) {
	select {
	case p.toSession <- []byte(strings.TrimRight(frame, "\r\n")):
	case <-p.done:
	}
}

// Recv returns the next frame the session wrote, without its newline.
func (p *Peer) Recv(timeout time.Duration) (string, error) {
	select {
	case f := <-p.fromSession:
		return strings.TrimRight(string(f), "\n"), nil
	case <-time.After(timeout):
		return "", fmt.Errorf("transporttest: nothing written within %v", timeout)
	}
}

// RecvMatching skips frames until one satisfies match.
func (p *Peer) RecvMatching(timeout time.Duration, match func(string) bool) (string, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", fmt.Errorf("transporttest: no matching frame within %v", timeout)
		}
		f, err := p.Recv(remaining)
		if err != nil {
			return "", err
		}
		if match(f) {
			return f, nil
		}
	}
}

// Pending returns the number of written frames not yet received.
func (p *Peer) Pending() int {
	return len(p.fromSession)
}

// FailWrites makes every later session Write return err. nil restores writes.
func (p *Peer) FailWrites(err error) {
	if err == nil {
		p.writeErr.Store(nil)
		return
	}
	p.writeErr.Store(&err)
}

// Hangup closes the connection from the gateway side. The session's next
// Read returns io.EOF.
func (p *Peer) Hangup() {
	p.doneOnce.Do(func() { close(p.done) })
}

// Closed reports whether either side has closed the connection.
func (p *Peer) Closed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

type conn struct {
	p *Peer
}

func (c *conn) Read() ([]byte, error) {
	select {
	case f := <-c.p.toSession:
		return f, nil
	case <-c.p.done:
		return nil, io.EOF
	}
}

func (c *conn) Write(frame []byte) error {
	if errp := c.p.writeErr.Load(); errp != nil {
		return *errp
	}
	select {
	case <-c.p.done:
		return transport.ErrClosed
	default:
	}

	cp := make([]byte, len(frame))
	copy(cp, frame)
	select {
	case c.p.fromSession <- cp:
		return nil
	case <-c.p.done:
		return transport.ErrClosed
	}
}

func (c *conn) Close() error {
	c.p.Hangup()
	return nil
}
