package core

import (
	"fmt"
	"sync/atomic"
)

// WaitFiberContextQueue is the hand-off between a fiber suspending on a counter
// and the completion that satisfies it.
//
// Each pooled context has a wait flag, set by Enqueue and cleared by
// MoveToReadyToResume. Woken ids land in a ready-to-resume queue per size
// class, from which workers pick fibers to resume.
type WaitFiberContextQueue struct {
	waiting [2][]atomic.Bool
	ready   [2]*ConcurrentQueue[FiberID]
	parked  atomic.Int64
}

// NewWaitFiberContextQueue creates flags for smallCount small and bigCount big contexts.
func NewWaitFiberContextQueue(smallCount, bigCount int) *WaitFiberContextQueue {
	q := &WaitFiberContextQueue{}
	q.waiting[FiberTypeSmall] = make([]atomic.Bool, smallCount)
	q.waiting[FiberTypeBig] = make([]atomic.Bool, bigCount)
	q.ready[FiberTypeSmall] = NewConcurrentQueue[FiberID]()
	q.ready[FiberTypeBig] = NewConcurrentQueue[FiberID]()
	return q
}

func (q *WaitFiberContextQueue) flag(id FiberID, fiberType FiberType) (*atomic.Bool, error) {
	if !fiberType.pooled() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidFiberType, fiberType)
	}
	flags := q.waiting[fiberType]
	if id < 0 || int(id) >= len(flags) {
		return nil, fmt.Errorf("%w: %s fiber %d", ErrInvalidFiberID, fiberType, id)
	}
	return &flags[id], nil
}

// Enqueue marks the fiber as waiting. Marking a fiber that already waits
// fails with ErrAlreadyWaiting.
func (q *WaitFiberContextQueue) Enqueue(id FiberID, fiberType FiberType) error {
	f, err := q.flag(id, fiberType)
	if err != nil {
		return err
	}
	if !f.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: %s fiber %d", ErrAlreadyWaiting, fiberType, id)
	}
	q.parked.Add(1)
	return nil
}

// Dequeue pops a fiber that is ready to resume. ok is false when none is.
func (q *WaitFiberContextQueue) Dequeue(fiberType FiberType) (FiberID, bool) {
	if !fiberType.pooled() {
		return InvalidFiberID, false
	}
	return q.ready[fiberType].Dequeue()
}

// MoveToReadyToResume clears the fiber's wait flag and queues it for resumption.
func (q *WaitFiberContextQueue) MoveToReadyToResume(id FiberID, fiberType FiberType) error {
	f, err := q.flag(id, fiberType)
	if err != nil {
		return err
	}
	if !f.CompareAndSwap(true, false) {
		return fmt.Errorf("%w: %s fiber %d", ErrNotWaiting, fiberType, id)
	}
	q.parked.Add(-1)
	q.ready[fiberType].Enqueue(id)
	return nil
}

// cancel clears the wait flag of a fiber that never actually suspended.
func (q *WaitFiberContextQueue) cancel(id FiberID, fiberType FiberType) {
	f, err := q.flag(id, fiberType)
	if err != nil {
		return
	}
	if f.CompareAndSwap(true, false) {
		q.parked.Add(-1)
	}
}

// IsWaiting reports the fiber's wait flag.
func (q *WaitFiberContextQueue) IsWaiting(id FiberID, fiberType FiberType) bool {
	f, err := q.flag(id, fiberType)
	return err == nil && f.Load()
}

// WaitingCount returns the number of fibers with their wait flag set.
func (q *WaitFiberContextQueue) WaitingCount() int {
	return int(q.parked.Load())
}

// ReadyCount returns the approximate number of fibers ready to resume in a size class.
func (q *WaitFiberContextQueue) ReadyCount(fiberType FiberType) int {
	if !fiberType.pooled() {
		return 0
	}
	return q.ready[fiberType].Len()
}

// Clear drops every ready id and wait flag.
func (q *WaitFiberContextQueue) Clear() {
	for i := range q.waiting {
		for j := range q.waiting[i] {
			q.waiting[i][j].Store(false)
		}
		q.ready[i].Clear()
	}
	q.parked.Store(0)
}
