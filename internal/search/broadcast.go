package search

import (
	"sync"

	"github.com/standardbeagle/lsi/internal/types"
)

// Broadcaster fans lifecycle updates out to any number of subscribers with
// replay-1, drop-oldest semantics: a new subscriber immediately sees the
// latest update, and a slow subscriber loses intermediate updates rather
// than blocking the supervisor.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan types.IndexStateUpdate
	nextID int
	last   types.IndexStateUpdate
	closed bool
}

// NewBroadcaster seeds the stream with the synthetic Initial update.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subs: make(map[int]chan types.IndexStateUpdate),
		last: types.IndexStateUpdate{Kind: types.StateInitial},
	}
}

// Publish replaces the replay value and offers the update to every
// subscriber, dropping each subscriber's oldest pending update on overflow.
func (b *Broadcaster) Publish(u types.IndexStateUpdate) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.last = u

	for _, ch := range b.subs {
		for {
			select {
			case ch <- u:
			default:
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// Subscribe returns a stream primed with the latest update. The returned
// cancel function detaches the subscriber and closes its channel.
func (b *Broadcaster) Subscribe() (<-chan types.IndexStateUpdate, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan types.IndexStateUpdate, 2)
	ch <- b.last
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// Close completes every subscriber's stream. Publishing after Close is a
// no-op.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
