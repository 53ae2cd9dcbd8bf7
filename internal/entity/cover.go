package entity

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/protocol"
)

// Cover positions.
const (
	PositionClosed = 0
	PositionOpen   = 100
)

// Cover is a blind, shutter or garage door. Its record holds the position
// in percent; open, close and stop are sent as V_UP, V_DOWN and V_STOP.
// A cover that only reports V_STATUS (V_LIGHT) is closed when the status
// is off and open otherwise.
type Cover struct {
	base
	cmd Commander
	now func() time.Time

	// assumed is the position expected after an open or close on an
	// optimistic gateway, shown until the device reports again.
	mu        sync.Mutex
	assumed   int
	assumedAt time.Time
	hasAssume bool
}

// Position returns the position in percent and whether it is known.
func (c *Cover) Position() (int, bool) {
	v, has := c.rec.Value()

	c.mu.Lock()
	if c.hasAssume && (!has || c.rec.Updated().Before(c.assumedAt)) {
		p := c.assumed
		c.mu.Unlock()
		return p, true
	}
	c.mu.Unlock()

	if !has {
		return c.statusPosition()
	}
	p, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return p, true
}

// statusPosition maps the child's V_STATUS record to fully closed or fully
// open.
func (c *Cover) statusPosition() (int, bool) {
	key := c.key
	key.ValueType = protocol.ValueStatus
	rec, ok := c.reg.Lookup(key)
	if !ok {
		return 0, false
	}
	v, has := rec.Value()
	if !has {
		return 0, false
	}
	if v == "0" {
		return PositionClosed, true
	}
	return PositionOpen, true
}

// IsClosed reports whether the cover is fully closed. An unknown position
// is not closed.
func (c *Cover) IsClosed() bool {
	p, ok := c.Position()
	return ok && p == PositionClosed
}

// State is "open", "closed" or "unknown".
func (c *Cover) State() string {
	p, ok := c.Position()
	switch {
	case !ok:
		return StateUnknown
	case p == PositionClosed:
		return "closed"
	default:
		return "open"
	}
}

// Open sends V_UP. On an optimistic gateway the cover is assumed fully open
// until the device reports.
func (c *Cover) Open(ctx context.Context) error {
	if err := c.send(ctx, protocol.ValueUp); err != nil {
		return err
	}
	c.assume(PositionOpen)
	return nil
}

// Close sends V_DOWN. On an optimistic gateway the cover is assumed fully
// closed until the device reports.
func (c *Cover) Close(ctx context.Context) error {
	if err := c.send(ctx, protocol.ValueDown); err != nil {
		return err
	}
	c.assume(PositionClosed)
	return nil
}

// Stop sends V_STOP. The position stays whatever it was.
func (c *Cover) Stop(ctx context.Context) error {
	return c.send(ctx, protocol.ValueStop)
}

// SetPosition sends the target position with an ack. The session stores it
// optimistically until the device reports.
func (c *Cover) SetPosition(ctx context.Context, position int) error {
	if position < PositionClosed || position > PositionOpen {
		return fmt.Errorf("%w: %d", ErrInvalidPosition, position)
	}
	if err := c.cmd.SendSetValue(ctx, c.key, strconv.Itoa(position), true); err != nil {
		return fmt.Errorf("setting %s to %d: %w", c.key, position, err)
	}
	c.clearAssumed()
	return nil
}

func (c *Cover) send(ctx context.Context, vt protocol.SetReq) error {
	key := c.key
	key.ValueType = vt
	if err := c.cmd.SendSetValue(ctx, key, "1", true); err != nil {
		return fmt.Errorf("sending %s to %s: %w", vt, c.key, err)
	}
	return nil
}

func (c *Cover) assume(position int) {
	if !c.cmd.Optimistic(c.key.Gateway) {
		return
	}
	c.mu.Lock()
	c.assumed = position
	c.assumedAt = c.now()
	c.hasAssume = true
	c.mu.Unlock()
}

func (c *Cover) clearAssumed() {
	c.mu.Lock()
	c.hasAssume = false
	c.mu.Unlock()
}

var _ Entity = (*Cover)(nil)

