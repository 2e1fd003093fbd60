// Package events implements the four named notifications the core emits
// to its host: ValueChanged, Clear, StartFlush and Flush. It is a typed,
// non-blocking observer list rather than a deep event-type hierarchy.
//
// The non-blocking delivery (drop-oldest on a full subscriber buffer)
// keeps a slow subscriber from ever stalling a publisher.
package events

import "sync"

// Event is the sum type of everything the core can emit.
type Event interface {
	isEvent()
}

// ValueChanged fires after a Set or Delete op is applied, local or remote.
type ValueChanged struct {
	Key   []byte
	Local bool
}

func (ValueChanged) isEvent() {}

// Clear fires after a Clear op is applied, local or remote.
type Clear struct {
	Local bool
}

func (Clear) isEvent() {}

// StartFlush fires when the leader begins uploading chunks for a flush.
type StartFlush struct{}

func (StartFlush) isEvent() {}

// Flush fires once a Flush op has been applied to the tree, whether or not
// this client produced it.
type Flush struct {
	IsLeader bool
}

func (Flush) isEvent() {}

// bufferSize is the number of pending events a slow subscriber may fall
// behind by before older events are dropped in its favor.
const bufferSize = 64

// subscriber is one registered observer: a buffered channel whose oldest
// entry Publish drops when it is full, so Publish never blocks.
type subscriber struct {
	ch chan Event
}

// Bus is a non-blocking, many-subscriber dispatcher for core events.
type Bus struct {
	mu          sync.Mutex
	nextID      int
	subscribers map[int]*subscriber
}

// NewBus returns an empty event bus.
func NewBus() *Bus {
	return &Bus{subscribers: map[int]*subscriber{}}
}

// Subscription is a handle returned by Subscribe; call Close to stop
// receiving events and release the channel.
type Subscription struct {
	id   int
	bus  *Bus
	Chan <-chan Event
}

// Close unregisters the subscription.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if sub, found := s.bus.subscribers[s.id]; found {
		close(sub.ch)
		delete(s.bus.subscribers, s.id)
	}
}

// Subscribe registers a new observer and returns its subscription.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	sub := &subscriber{ch: make(chan Event, bufferSize)}
	b.subscribers[id] = sub
	return &Subscription{id: id, bus: b, Chan: sub.ch}
}

// Publish delivers ev to every current subscriber. Delivery never blocks:
// a subscriber that isn't keeping up has its oldest buffered event dropped
// to make room, rather than stalling the caller (the controller, which
// must never suspend on a non-suspending op application).
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subscribers {
		select {
		case sub.ch <- ev:
		default:
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- ev:
			default:
			}
		}
	}
}

// Len returns the number of active subscribers, mostly for tests.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}
