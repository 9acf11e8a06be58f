// Package pqueue implements a bounded multi-priority FIFO queue with
// path-based deduplication, feeding the ingestion pipeline between the
// file watcher and the chunk stage.
//
// The teacher's index.Coordinator processes watcher events synchronously
// and has no priority concept; this is new construction, built around a
// single mutex + condition variable the way the teacher's
// BackgroundIndexer guards its own run state.
package pqueue

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"
)

// Priority orders bands from most to least urgent. Lower values preempt
// higher ones.
type Priority int

const (
	Urgent Priority = iota
	High
	Normal
	Low

	numBands = 4
)

func (p Priority) String() string {
	switch p {
	case Urgent:
		return "urgent"
	case High:
		return "high"
	case Normal:
		return "normal"
	case Low:
		return "low"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// Item is a unit of pending work identified by its canonical path.
type Item struct {
	Path       string
	Priority   Priority
	Force      bool
	EnqueuedAt time.Time
}

// EnqueueResult reports whether enqueue created a new entry or promoted
// an existing one.
type EnqueueResult int

const (
	Enqueued EnqueueResult = iota
	Deduplicated
)

// entry is the dedup index's value: the band it currently lives in and
// its list element, so promotion can relocate it in O(1).
type entry struct {
	band Priority
	elem *list.Element
}

// Queue is a bounded multi-priority FIFO with deduplication by path.
// Safe for concurrent use by multiple producers and consumers.
type Queue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond

	bands    [numBands]*list.List
	dedup    map[string]*entry
	paused   bool
	capacity int // 0 means unbounded
	size     int
	closed   bool
}

// New creates a queue. capacity <= 0 means unbounded.
func New(capacity int) *Queue {
	q := &Queue{
		dedup:    make(map[string]*entry),
		capacity: capacity,
	}
	for i := range q.bands {
		q.bands[i] = list.New()
	}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// Enqueue adds path at the given priority, or promotes an existing entry
// for path to the higher of its current and the requested priority. If
// force is true on either the existing or the new request, the merged
// entry is force=true. Blocks while the queue is at capacity and the
// path is not already present; returns ctx.Err() if ctx is cancelled
// first.
func (q *Queue) Enqueue(ctx context.Context, path string, priority Priority, force bool) (EnqueueResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if existing, ok := q.dedup[path]; ok {
		item := existing.elem.Value.(*Item)
		merged := item.Priority
		if priority < merged {
			merged = priority
		}
		if merged != item.Priority {
			q.bands[item.Priority].Remove(existing.elem)
			item.Priority = merged
			elem := q.bands[merged].PushBack(item)
			existing.elem = elem
			existing.band = merged
			q.notEmpty.Broadcast()
		}
		item.Force = item.Force || force
		return Deduplicated, nil
	}

	for q.capacity > 0 && q.size >= q.capacity && !q.closed {
		if err := q.waitOrCancel(ctx, q.notFull); err != nil {
			return 0, err
		}
	}
	if q.closed {
		return 0, fmt.Errorf("queue closed")
	}

	item := &Item{Path: path, Priority: priority, Force: force, EnqueuedAt: time.Now()}
	elem := q.bands[priority].PushBack(item)
	q.dedup[path] = &entry{band: priority, elem: elem}
	q.size++
	q.notEmpty.Broadcast()

	return Enqueued, nil
}

// Dequeue removes and returns the oldest item in the highest non-empty
// band. Blocks while the queue is empty or paused; returns ctx.Err() if
// ctx is cancelled first.
func (q *Queue) Dequeue(ctx context.Context) (*Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if q.closed {
			return nil, fmt.Errorf("queue closed")
		}
		if !q.paused {
			for band := Priority(0); band < numBands; band++ {
				if front := q.bands[band].Front(); front != nil {
					q.bands[band].Remove(front)
					item := front.Value.(*Item)
					delete(q.dedup, item.Path)
					q.size--
					q.notFull.Broadcast()
					return item, nil
				}
			}
		}
		if err := q.waitOrCancel(ctx, q.notEmpty); err != nil {
			return nil, err
		}
	}
}

// waitOrCancel blocks on cond until woken, returning ctx.Err() promptly
// if ctx is done. Condition variables don't natively support context
// cancellation, so a watcher goroutine broadcasts when ctx finishes.
func (q *Queue) waitOrCancel(ctx context.Context, cond *sync.Cond) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		cond.Broadcast()
		close(done)
	})
	defer stop()

	cond.Wait()

	select {
	case <-done:
		return ctx.Err()
	default:
		return nil
	}
}

// Pause suspends dequeue; idempotent.
func (q *Queue) Pause() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused = true
}

// Resume re-enables dequeue; idempotent.
func (q *Queue) Resume() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused = false
	q.notEmpty.Broadcast()
}

// Paused reports the current run state.
func (q *Queue) Paused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused
}

// Clear empties every band and the dedup set atomically. Permitted while
// running or paused.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.bands {
		q.bands[i].Init()
	}
	q.dedup = make(map[string]*entry)
	q.size = 0
	q.notFull.Broadcast()
}

// Size returns the total number of items across all bands.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Contains reports whether path currently has a pending entry.
func (q *Queue) Contains(path string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.dedup[path]
	return ok
}

// MarkDone removes path from the dedup set without requiring it to pass
// through Dequeue — used when the final pipeline stage commits or drops
// a job whose path re-arrived via a separate enqueue path (e.g. a
// storage-stage retry loop rather than the queue itself).
func (q *Queue) MarkDone(path string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e, ok := q.dedup[path]; ok {
		q.bands[e.band].Remove(e.elem)
		delete(q.dedup, path)
		q.size--
		q.notFull.Broadcast()
	}
}

// Close unblocks every waiter with an error; subsequent calls also
// return errors. Used for shutdown.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}
