// Package dedupe coalesces processing triggers that are already pending.
//
// A trigger is identified by its request id. While a trigger is queued or
// running, further triggers with the same id are dropped; once processing
// finishes the id is released and the next trigger runs again. Re-running a
// finished request is harmless because results are keyed idempotently.
package dedupe

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/tremor/pkg/metrics"
)

// Deduper tracks pending trigger ids.
type Deduper interface {
	// Acquire claims id. It returns false when id is already pending.
	Acquire(ctx context.Context, id string) bool

	// Release frees id once its trigger finished or could not be queued.
	Release(ctx context.Context, id string)

	// Pending returns the number of claimed ids.
	Pending() int64
}

type entry struct {
	id      string
	claimed time.Time
}

// inMemoryDeduper keeps claims in a map plus a list ordered by claim time.
// In bounded mode (maxSize > 0) the oldest claim is evicted when full.
// Claims older than ttl are treated as abandoned and may be re-acquired.
type inMemoryDeduper struct {
	mu      sync.Mutex
	claims  map[string]*list.Element
	order   *list.List
	maxSize int
	ttl     time.Duration
	now     func() time.Time
	size    atomic.Int64
}

// NewInMemoryDeduper creates a new in-memory deduper.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		maxSize: 4096,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.claims = make(map[string]*list.Element)
	d.order = list.New()
	return d
}

func (d *inMemoryDeduper) Acquire(_ context.Context, id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if el, ok := d.claims[id]; ok {
		e := el.Value.(*entry)
		if d.ttl <= 0 || now.Sub(e.claimed) < d.ttl {
			metrics.RecordTriggerDuplicate()
			return false
		}
		// abandoned claim: refresh it
		e.claimed = now
		d.order.MoveToBack(el)
		return true
	}

	if d.maxSize > 0 && len(d.claims) >= d.maxSize {
		d.evictOldest()
	}
	d.claims[id] = d.order.PushBack(&entry{id: id, claimed: now})
	d.size.Add(1)
	return true
}

func (d *inMemoryDeduper) Release(_ context.Context, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, ok := d.claims[id]; ok {
		d.order.Remove(el)
		delete(d.claims, id)
		d.size.Add(-1)
	}
}

// evictOldest drops the earliest claim. Caller holds d.mu.
func (d *inMemoryDeduper) evictOldest() {
	el := d.order.Front()
	if el == nil {
		return
	}
	d.order.Remove(el)
	delete(d.claims, el.Value.(*entry).id)
	d.size.Add(-1)
}

func (d *inMemoryDeduper) Pending() int64 {
	return d.size.Load()
}
