package progress

import (
	"sync"
	"time"
)

// Event is one progress update delivered to subscribers.
type Event struct {
	TaskID   string
	Snapshot Snapshot
}

// subscriber is one fan-out destination: its own buffered channel fed by
// the bus's single internal dispatch goroutine, so a slow SSE client never
// backs up delivery to any other subscriber.
type subscriber struct {
	ch     chan Event
	closed bool
}

// Bus is the internal event stream every Task update is published to, and
// the fan-out point subscribers attach to. At most one event per task per
// emit interval reaches subscribers, except status transitions which are
// always forced through.
type Bus struct {
	mu          sync.Mutex
	subs        map[int]*subscriber
	nextID      int
	lastEmitted map[string]time.Time
	internal    chan Event
}

func newBus() *Bus {
	b := &Bus{
		subs:        make(map[int]*subscriber),
		lastEmitted: make(map[string]time.Time),
		internal:    make(chan Event, 256),
	}
	go b.dispatch()
	return b
}

// publish is called by the Registry on every tracker update. It throttles
// to emitInterval per task unless force is set, then hands the event to
// the internal channel for fan-out. The internal channel is large and
// drains fast (dispatch just copies to subscriber channels), so this does
// not block the downloader in practice.
func (b *Bus) publish(ev Event, force bool) {
	b.mu.Lock()
	if !force {
		if last, ok := b.lastEmitted[ev.TaskID]; ok && time.Since(last) < emitInterval {
			b.mu.Unlock()
			return
		}
	}
	b.lastEmitted[ev.TaskID] = time.Now()
	b.mu.Unlock()

	select {
	case b.internal <- ev:
	default:
		// Internal buffer full: drop rather than block the caller.
	}
}

// dispatch copies every internal event out to each subscriber's own
// channel, dropping (never blocking) on a full one.
func (b *Bus) dispatch() {
	for ev := range b.internal {
		b.mu.Lock()
		for _, s := range b.subs {
			select {
			case s.ch <- ev:
			default:
			}
		}
		b.mu.Unlock()
	}
}

// Subscribe registers a new fan-out destination with the given buffer
// depth and returns its channel plus an unsubscribe func.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 32
	}
	s := &subscriber{ch: make(chan Event, buffer)}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = s
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if cur, ok := b.subs[id]; ok && !cur.closed {
			cur.closed = true
			delete(b.subs, id)
			close(cur.ch)
		}
	}
	return s.ch, unsubscribe
}
