package events

import (
	"sync"
	"sync/atomic"
)

// DefaultBuffer is the subscriber channel capacity used when Subscribe is
// given a non-positive size.
const DefaultBuffer = 64

// Bus is a typed broadcast channel. Publish never blocks.
//
// On a bus from NewBus a subscriber whose buffer is full misses the event
// and the drop is counted. On a bus from NewLosslessBus every subscriber
// has an unbounded queue drained by its own goroutine, so nothing is
// dropped; use it for low-rate events every consumer must see.
//
// The zero value is not usable; create with NewBus or NewLosslessBus.
type Bus[T any] struct {
	lossless bool

	mu      sync.RWMutex
	subs    map[uint64]*subscriber[T]
	nextID  uint64
	closed  bool
	dropped atomic.Uint64
	sent    atomic.Uint64
}

type subscriber[T any] struct {
	ch chan T

	// Lossless buses only.
	mu    sync.Mutex
	queue []T
	wake  chan struct{}
	done  chan struct{}
}

// NewBus creates an empty bus that drops events for full subscribers.
func NewBus[T any]() *Bus[T] {
	return &Bus[T]{subs: make(map[uint64]*subscriber[T])}
}

// NewLosslessBus creates an empty bus that queues events for slow
// subscribers instead of dropping them.
func NewLosslessBus[T any]() *Bus[T] {
	return &Bus[T]{lossless: true, subs: make(map[uint64]*subscriber[T])}
}

// Subscribe registers a new subscriber and returns its channel and a cancel
// function. The channel is closed by cancel or by Close. Events still
// queued for a cancelled subscriber are discarded.
func (b *Bus[T]) Subscribe(buffer int) (<-chan T, func()) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	s := &subscriber[T]{ch: make(chan T, buffer)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(s.ch)
		return s.ch, func() {}
	}
	if b.lossless {
		s.wake = make(chan struct{}, 1)
		s.done = make(chan struct{})
		go s.pump(&b.sent)
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = s

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				b.stop(sub)
			}
		})
	}
}

// Publish delivers ev to every subscriber.
func (b *Bus[T]) Publish(ev T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if b.lossless {
			s.enqueue(ev)
			continue
		}
		select {
		case s.ch <- ev:
			b.sent.Add(1)
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribers returns the current subscriber count.
func (b *Bus[T]) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped because a subscriber was
// full. Always zero on a lossless bus.
func (b *Bus[T]) Dropped() uint64 {
	return b.dropped.Load()
}

// Delivered returns how many deliveries succeeded.
func (b *Bus[T]) Delivered() uint64 {
	return b.sent.Load()
}

// Close closes every subscriber channel. Later Publish calls are no-ops and
// later Subscribe calls return a closed channel.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		b.stop(s)
		delete(b.subs, id)
	}
}

// stop ends delivery to s. Called with b.mu held.
func (b *Bus[T]) stop(s *subscriber[T]) {
	if b.lossless {
		// The pump goroutine owns s.ch and closes it on exit.
		close(s.done)
		return
	}
	close(s.ch)
}

func (s *subscriber[T]) enqueue(ev T) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// pump moves queued events onto s.ch in order until s.done is closed.
func (s *subscriber[T]) pump(sent *atomic.Uint64) {
	defer close(s.ch)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.queue = nil
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		ev := s.queue[0]
		var zero T
		s.queue[0] = zero
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.ch <- ev:
			sent.Add(1)
		case <-s.done:
			return
		}
	}
}
