package broadcast

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/j-veylop/antigravity-quota-hub/internal/logger"
)

// subscriberBuffer is the per-subscriber delivery queue depth. A
// subscriber that falls this far behind is dropped rather than allowed
// to backpressure the broadcaster.
const subscriberBuffer = 64

// Subscriber is one live event consumer. The first envelope on its
// channel is always a full snapshot; the channel is closed when the
// subscriber is dropped or the broadcaster shuts down.
type Subscriber struct {
	ID string
	ch chan Envelope
}

// Events returns the delivery channel.
func (s *Subscriber) Events() <-chan Envelope {
	return s.ch
}

// SnapshotFunc produces the full current state for a joining
// subscriber. It is called under the broadcaster lock so the snapshot
// and the subscriber's registration are atomic with respect to
// publishes: no event can slip between them.
type SnapshotFunc func() Event

// Broadcaster fans out envelopes to all registered subscribers.
// Delivery per subscriber is FIFO in publish order; there is no
// ordering guarantee across subscribers.
type Broadcaster struct {
	mu        sync.Mutex
	snapshot  SnapshotFunc
	subs      map[string]*Subscriber
	stopChan  chan struct{}
	heartbeat time.Duration
	seq       uint64
	stopOnce  sync.Once
}

// New creates a broadcaster. heartbeat <= 0 disables the keepalive
// ticker.
func New(snapshot SnapshotFunc, heartbeat time.Duration) *Broadcaster {
	return &Broadcaster{
		snapshot:  snapshot,
		subs:      make(map[string]*Subscriber),
		stopChan:  make(chan struct{}),
		heartbeat: heartbeat,
	}
}

// Start launches the heartbeat loop.
func (b *Broadcaster) Start() {
	if b.heartbeat > 0 {
		go b.heartbeatLoop()
	}
}

func (b *Broadcaster) heartbeatLoop() {
	ticker := time.NewTicker(b.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.Publish(HeartbeatEvent{})
		case <-b.stopChan:
			return
		}
	}
}

// Subscribe registers a new subscriber. The returned subscriber's first
// delivery is a consistent full-state snapshot; every later delivery is
// an event published strictly after registration.
func (b *Broadcaster) Subscribe() *Subscriber {
	sub := &Subscriber{
		ID: uuid.NewString(),
		ch: make(chan Envelope, subscriberBuffer),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// Snapshot under the lock: concurrent publishes are ordered either
	// entirely before (reflected in the snapshot) or entirely after
	// (delivered as events).
	env := b.wrapLocked(b.snapshot())
	sub.ch <- env
	b.subs[sub.ID] = sub

	return sub
}

// Unsubscribe removes a subscriber and closes its channel. Unknown IDs
// are ignored.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(id)
}

func (b *Broadcaster) removeLocked(id string) {
	if sub, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(sub.ch)
	}
}

// Publish fans an event out to all subscribers. A subscriber whose
// buffer is full is dropped, never retried; publish itself never
// blocks.
func (b *Broadcaster) Publish(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	env := b.wrapLocked(event)

	var stuck []string
	for id, sub := range b.subs {
		select {
		case sub.ch <- env:
		default:
			stuck = append(stuck, id)
		}
	}

	for _, id := range stuck {
		logger.Warn("dropping slow subscriber", "id", id)
		b.removeLocked(id)
	}
}

// wrapLocked stamps an event with the next sequence number. Caller must
// hold the lock.
func (b *Broadcaster) wrapLocked(event Event) Envelope {
	b.seq++
	return Envelope{
		Seq:  b.seq,
		Time: time.Now(),
		Type: event.EventType(),
		Data: event,
	}
}

// SubscriberCount returns the number of live subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close stops the heartbeat and disconnects all subscribers.
func (b *Broadcaster) Close() error {
	b.stopOnce.Do(func() {
		close(b.stopChan)

		b.mu.Lock()
		for id := range b.subs {
			b.removeLocked(id)
		}
		b.mu.Unlock()
	})
	return nil
}
