package eventbus

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
)

// Event is a lightweight, in-memory signal used to decouple components.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers MUST use buffered channels.
//   - Slow subscribers may drop events (bounded backpressure).
//
// Data should be small and ideally JSON-serializable.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns a simple in-memory fanout bus.
//
// It does not own any background goroutines.
func New() Bus { return NewWithClock(clock.New()) }

// NewWithClock is New with the clock used to stamp events lacking a Time.
func NewWithClock(c clock.Clock) Bus {
	return &memBus{subs: map[uint64]chan Event{}, clock: c}
}

type memBus struct {
	mu    sync.RWMutex
	subs  map[uint64]chan Event
	seq   atomic.Uint64
	clock clock.Clock
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = b.clock.Now()
	}
	// Snapshot subscribers so Publish doesn't hold locks while attempting sends.
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// Non-blocking delivery. If subscriber is slow, we drop.
		// If a subscriber unsubscribes concurrently and the channel closes,
		// recover from a possible panic (send on closed channel).
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			// Closing is safe because Publish recovers from send panics.
			close(ch)
		})
	}
	return ch, unsub
}

// HasPrefix matches events whose type starts with prefix, e.g. "job.".
func HasPrefix(prefix string) func(Event) bool {
	return func(e Event) bool { return strings.HasPrefix(e.Type, prefix) }
}

// Forward subscribes to b and calls fn for every matching event until ctx is
// done. It blocks; run it on its own goroutine. A nil match forwards all.
func Forward(ctx context.Context, b Bus, buffer int, match func(Event) bool, fn func(Event)) {
	ch, unsub := b.Subscribe(buffer)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if match == nil || match(e) {
				fn(e)
			}
		}
	}
}
