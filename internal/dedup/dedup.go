// Package dedup tracks recently processed queue message ids so that
// redelivered messages are not dispatched twice.
package dedup

import (
	"container/list"
	"sync"
	"time"
)

// Deduplicator is a bounded, time-windowed set of message ids. An id stays
// known until the window elapses or capacity pushes it out, oldest first.
// It never reports an id as seen that was not recorded; after expiry a
// redelivered id is treated as new.
//
// A Deduplicator is safe for concurrent use and may be shared by the
// outgoing and incoming monitor of a queue during reconfiguration.
type Deduplicator struct {
	mu       sync.Mutex
	window   time.Duration
	capacity int
	now      func() time.Time

	// order holds *entry values, oldest at the front.
	order *list.List
	index map[string]*list.Element
}

type entry struct {
	id string
	at time.Time
}

// Option configures a Deduplicator.
type Option func(*Deduplicator)

// WithClock replaces time.Now. Used by tests to control expiry.
func WithClock(now func() time.Time) Option {
	return func(d *Deduplicator) { d.now = now }
}

// New returns a Deduplicator remembering ids for window, holding at most
// capacity ids. A non-positive capacity means unbounded.
func New(window time.Duration, capacity int, opts ...Option) *Deduplicator {
	d := &Deduplicator{
		window:   window,
		capacity: capacity,
		now:      time.Now,
		order:    list.New(),
		index:    make(map[string]*list.Element),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Seen reports whether id was recorded within the window.
func (d *Deduplicator) Seen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.expire(d.now())
	_, ok := d.index[id]
	return ok
}

// Record remembers id. Recording a known id restarts its window.
func (d *Deduplicator) Record(id string) {
	if id == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.expire(now)
	if el, ok := d.index[id]; ok {
		el.Value.(*entry).at = now
		d.order.MoveToBack(el)
		return
	}
	d.insert(id, now)
}

// Observe records id and reports whether it was fresh. It is the atomic
// form of Seen followed by Record: of two concurrent callers with the same
// id exactly one gets true. Ids that are empty are always fresh and never
// recorded.
func (d *Deduplicator) Observe(id string) bool {
	if id == "" {
		return true
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.expire(now)
	if _, ok := d.index[id]; ok {
		return false
	}
	d.insert(id, now)
	return true
}

// Len returns the number of ids currently remembered.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.expire(d.now())
	return d.order.Len()
}

func (d *Deduplicator) insert(id string, now time.Time) {
	d.index[id] = d.order.PushBack(&entry{id: id, at: now})
	for d.capacity > 0 && d.order.Len() > d.capacity {
		d.remove(d.order.Front())
	}
}

// expire drops entries older than the window. Must hold mu.
func (d *Deduplicator) expire(now time.Time) {
	for el := d.order.Front(); el != nil; el = d.order.Front() {
		if now.Sub(el.Value.(*entry).at) < d.window {
			return
		}
		d.remove(el)
	}
}

func (d *Deduplicator) remove(el *list.Element) {
	e := d.order.Remove(el).(*entry)
	delete(d.index, e.id)
}
