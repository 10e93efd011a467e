package queue

import (
	"container/heap"
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/perdure/perdure/persistence"
)

// DefaultBufferSize is the default size of the in-memory queue buffer.
var DefaultBufferSize = runtime.GOMAXPROCS(0) * 10

// A Queue is the durable dispatch queue used to resume suspended
// operations.
//
// It exposes the persisted resume messages to multiple consumers,
// ensuring each consumer receives a different message, and hides a
// message until its next-attempt time arrives (the visibility timeout).
// Any worker process sharing the data store can consume the same queue.
type Queue struct {
	// DataStore is the data store holding the persisted queue items.
	DataStore persistence.DataStore

	// BufferSize is the maximum number of items to buffer in memory. If
	// it is non-positive, DefaultBufferSize is used.
	//
	// It should be larger than the number of concurrent consumers.
	BufferSize int

	// A "buffered" item is a persisted item that has been loaded into
	// memory. Every buffered item is either being handled now (inside a
	// Message) or sits in the pending heap ordered by next-attempt time.
	m          sync.Mutex
	buffered   map[string]struct{}
	pending    pendingHeap
	exhaustive bool          // all persisted items are buffered
	loading    bool          // a goroutine is loading from the store
	changed    chan struct{} // closed and replaced when the pending heap changes
}

// Pop removes the item at the front of the queue.
//
// It blocks until an item is ready to be handled or ctx is canceled. The
// returned message must be acknowledged, negatively acknowledged, or
// closed.
func (q *Queue) Pop(ctx context.Context) (*Message, error) {
	for {
		i, wait, load := q.next()

		if i != nil {
			return &Message{queue: q, item: *i}, nil
		}

		if load {
			if err := q.load(ctx); err != nil {
				return nil, err
			}
			continue
		}

		var (
			timer   *time.Timer
			elapsed <-chan time.Time
		)
		if wait > 0 {
			timer = time.NewTimer(wait)
			elapsed = timer.C
		}

		q.m.Lock()
		if q.changed == nil {
			q.changed = make(chan struct{})
		}
		changed := q.changed
		q.m.Unlock()

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil, ctx.Err()
		case <-elapsed:
		case <-changed:
			if timer != nil {
				timer.Stop()
			}
		}
	}
}

// Push persists a new resume message and makes it visible to consumers at
// its next-attempt time.
//
// Callers that persist the item themselves, as part of a larger atomic
// batch, use Track() instead.
func (q *Queue) Push(ctx context.Context, i persistence.QueueItem) error {
	if err := q.DataStore.Persist(
		ctx,
		persistence.Batch{
			persistence.SaveQueueItem{Item: i},
		},
	); err != nil {
		return err
	}

	i.Revision++
	q.Track(i)

	return nil
}

// Track buffers an item that has already been persisted.
//
// i.Revision must reflect the persisted revision.
func (q *Queue) Track(i persistence.QueueItem) {
	q.m.Lock()
	defer q.m.Unlock()

	if !q.track(i.ID()) {
		return
	}

	heap.Push(&q.pending, &i)
	q.trim()
	q.notify()
}

// next pops the item at the front of the pending heap if it is ready.
//
// If the heap's front item is not yet visible, wait is the time until it
// becomes so. If the buffer may be missing persisted items and no load is
// in flight, load is true and the caller must load.
func (q *Queue) next() (i *persistence.QueueItem, wait time.Duration, load bool) {
	q.m.Lock()
	defer q.m.Unlock()

	if len(q.pending) > 0 {
		head := q.pending[0]
		wait = time.Until(head.NextAttemptAt)

		if wait <= 0 {
			heap.Pop(&q.pending)
			return head, 0, false
		}

		return nil, wait, false
	}

	if !q.exhaustive && !q.loading && len(q.buffered) == 0 {
		q.loading = true
		return nil, 0, true
	}

	return nil, 0, false
}

// load reads persisted items into the buffer.
func (q *Queue) load(ctx context.Context) error {
	size := q.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}

	items, err := q.DataStore.LoadQueueItems(ctx, size)

	q.m.Lock()
	defer q.m.Unlock()

	q.loading = false

	if err != nil {
		return err
	}

	if len(items) < size {
		// The store has nothing beyond what is now in memory.
		q.exhaustive = true
	}

	for _, i := range items {
		i := i
		if q.track(i.ID()) {
			heap.Push(&q.pending, &i)
		}
	}

	q.notify()

	return nil
}

// requeue returns an item to the pending heap after a failed or abandoned
// handling attempt.
func (q *Queue) requeue(i persistence.QueueItem) {
	q.m.Lock()
	defer q.m.Unlock()

	heap.Push(&q.pending, &i)
	q.notify()
}

// discard removes an item from the buffer once it has been removed from
// the store.
func (q *Queue) discard(id string) {
	q.m.Lock()
	defer q.m.Unlock()

	delete(q.buffered, id)
	q.notify()
}

// track adds an item ID to the buffered set, or returns false if it is
// already present. It assumes q.m is held.
func (q *Queue) track(id string) bool {
	if q.buffered == nil {
		q.buffered = map[string]struct{}{}
	}

	if _, ok := q.buffered[id]; ok {
		return false
	}

	q.buffered[id] = struct{}{}
	return true
}

// trim drops the lowest-priority pending item if the buffer exceeds its
// size limit. It assumes q.m is held.
func (q *Queue) trim() {
	size := q.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}

	if len(q.buffered) <= size || len(q.pending) == 0 {
		return
	}

	last := q.pending.dropLast()
	delete(q.buffered, last.ID())

	// There are now persisted items that are not in memory.
	q.exhaustive = false
}

// notify wakes every blocked Pop() call. It assumes q.m is held.
func (q *Queue) notify() {
	if q.changed != nil {
		close(q.changed)
		q.changed = nil
	}
}

// pendingHeap is a min-heap of queue items ordered by next-attempt time.
type pendingHeap []*persistence.QueueItem

func (h pendingHeap) Len() int { return len(h) }

func (h pendingHeap) Less(a, b int) bool {
	return h[a].NextAttemptAt.Before(h[b].NextAttemptAt)
}

func (h pendingHeap) Swap(a, b int) { h[a], h[b] = h[b], h[a] }

func (h *pendingHeap) Push(v interface{}) {
	*h = append(*h, v.(*persistence.QueueItem))
}

func (h *pendingHeap) Pop() interface{} {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

// dropLast removes and returns the item with the latest next-attempt
// time.
func (h *pendingHeap) dropLast() *persistence.QueueItem {
	old := *h
	worst := 0

	for i := range old {
		if old[i].NextAttemptAt.After(old[worst].NextAttemptAt) {
			worst = i
		}
	}

	v := old[worst]
	heap.Remove(h, worst)
	return v
}
