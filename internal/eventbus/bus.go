// Package eventbus is an in-memory fan-out of engine events.
//
// Publish never blocks: a subscriber whose buffer is full misses the event.
package eventbus

import (
	"sync"
	"time"
)

const (
	TypeStatusChanged = "statusChanged"
	TypeTick          = "tick"
)

type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  uint64
}

func New() *Bus {
	return &Bus{subs: make(map[uint64]chan Event)}
}

func (b *Bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	// Sends happen under the read lock so unsubscribe cannot close a channel
	// mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe returns a buffered channel of events and a function that
// unsubscribes and closes it. The function is safe to call more than once.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.seq++
	id := b.seq
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}

// Subscribers is the current number of subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
