package events

import "sync"

const defaultBuffer = 256

// Bus is a channel-based pub-sub bus. Publishing never blocks: a subscriber
// whose buffer is full misses the event.
type Bus struct {
	mu      sync.RWMutex
	subs    map[string][]chan Event
	allSubs []chan Event
	closed  bool
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string][]chan Event)}
}

// Subscribe returns a channel receiving events of one topic.
func (b *Bus) Subscribe(topic string, bufSize int) <-chan Event {
	ch := newChan(bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subs[topic] = append(b.subs[topic], ch)
	return ch
}

// SubscribeAll returns a channel receiving every event.
func (b *Bus) SubscribeAll(bufSize int) <-chan Event {
	ch := newChan(bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.allSubs = append(b.allSubs, ch)
	return ch
}

func newChan(bufSize int) chan Event {
	if bufSize <= 0 {
		bufSize = defaultBuffer
	}
	return make(chan Event, bufSize)
}

// Publish routes e to its topic's subscribers and to SubscribeAll
// subscribers. A nil bus discards the event.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs[e.Topic()] {
		select {
		case ch <- e:
		default:
		}
	}
	for _, ch := range b.allSubs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Close closes every subscriber channel. It is idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, chans := range b.subs {
		for _, ch := range chans {
			close(ch)
		}
	}
	for _, ch := range b.allSubs {
		close(ch)
	}
}
