package core

import (
	"context"
	"math"
	"sync/atomic"
)

// MaxWaitTarget is the largest target a fiber can wait for.
const MaxWaitTarget = math.MaxUint16

// waiterToken identifies a waiting fiber inside a counter word. Zero means no waiter.
type waiterToken uint16

const bigFiberTokenBit waiterToken = 1 << 15

// maxPooledFibers is the per size class limit imposed by the token encoding.
const maxPooledFibers = int(bigFiberTokenBit) - 1

func newWaiterToken(id FiberID, fiberType FiberType) waiterToken {
	tok := waiterToken(id + 1)
	if fiberType == FiberTypeBig {
		tok |= bigFiberTokenBit
	}
	return tok
}

func (tok waiterToken) fiber() (FiberID, FiberType) {
	if tok&bigFiberTokenBit != 0 {
		return FiberID(tok&^bigFiberTokenBit) - 1, FiberTypeBig
	}
	return FiberID(tok) - 1, FiberTypeSmall
}

// counter word layout:
//
//	bits  0..31  remaining count
//	bits 32..47  target of the installed fiber waiter
//	bits 48..63  waiter token
func packCounter(count int32, target uint16, tok waiterToken) uint64 {
	return uint64(uint32(count)) | uint64(target)<<32 | uint64(tok)<<48
}

func unpackCounter(word uint64) (count int32, target uint16, tok waiterToken) {
	return int32(uint32(word)), uint16(word >> 32), waiterToken(word >> 48)
}

// TaskCounter tracks how many tasks of a batch are still outstanding.
//
// The count and the (single) fiber waiter share one atomic word, so a waiter
// is either installed before a decrement or observes its result. A decrement
// that lands on the waiter's target clears the waiter in the same CAS and is
// the only thing that wakes it.
//
// Main-thread waiters do not occupy the waiter slot; they block on a channel
// that every decrement closes.
type TaskCounter struct {
	word   atomic.Uint64
	notify atomic.Pointer[chan struct{}]
}

// NewTaskCounter creates a counter at zero.
func NewTaskCounter() *TaskCounter {
	return &TaskCounter{}
}

// Get returns the remaining count.
func (c *TaskCounter) Get() int32 {
	count, _, _ := unpackCounter(c.word.Load())
	return count
}

// Reached reports whether the count is at or below target.
func (c *TaskCounter) Reached(target int32) bool {
	return c.Get() <= target
}

// HasWaiter reports whether a fiber is waiting on the counter.
func (c *TaskCounter) HasWaiter() bool {
	_, _, tok := unpackCounter(c.word.Load())
	return tok != 0
}

// FetchAndAdd adds delta to the count and returns the previous count.
func (c *TaskCounter) FetchAndAdd(delta int32) int32 {
	for {
		old := c.word.Load()
		count, target, tok := unpackCounter(old)
		if c.word.CompareAndSwap(old, packCounter(count+delta, target, tok)) {
			return count
		}
	}
}

// Reset sets the count to value. It must not be called while a fiber waits on
// the counter; the waiter slot is cleared.
func (c *TaskCounter) Reset(value int32) int32 {
	c.word.Store(packCounter(value, 0, 0))
	c.broadcast()
	return value
}

// decrement removes one outstanding task. When the new count reaches the
// installed waiter's target, the waiter is detached and returned.
func (c *TaskCounter) decrement() (remaining int32, woken waiterToken, err error) {
	for {
		old := c.word.Load()
		count, target, tok := unpackCounter(old)
		if count <= 0 {
			return count, 0, ErrCounterUnderflow
		}

		next := count - 1
		word := packCounter(next, target, tok)
		wake := waiterToken(0)
		if tok != 0 && next <= int32(target) {
			word = packCounter(next, 0, 0)
			wake = tok
		}

		if c.word.CompareAndSwap(old, word) {
			c.broadcast()
			return next, wake, nil
		}
	}
}

// attachWaiter installs a fiber waiter for target. It fails with
// ErrCounterAlreadySatisfied when the count is already at or below target.
func (c *TaskCounter) attachWaiter(tok waiterToken, target int32) error {
	if target < 0 || target > MaxWaitTarget {
		return ErrInvalidTarget
	}
	for {
		old := c.word.Load()
		count, _, cur := unpackCounter(old)
		if count <= target {
			return ErrCounterAlreadySatisfied
		}
		if cur != 0 {
			return ErrCounterHasWaiter
		}
		if c.word.CompareAndSwap(old, packCounter(count, uint16(target), tok)) {
			return nil
		}
	}
}

// wait blocks the calling goroutine until the count reaches target, ctx is
// done or stopped is closed. A nil stopped never fires.
func (c *TaskCounter) wait(ctx context.Context, target int32, stopped <-chan struct{}) error {
	for {
		if c.Reached(target) {
			return nil
		}
		ch := c.notifyChan()
		// Re-check after publishing the channel so a decrement in between is not missed.
		if c.Reached(target) {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		case <-stopped:
			if c.Reached(target) {
				return nil
			}
			return ErrNotInitialized
		}
	}
}

func (c *TaskCounter) notifyChan() chan struct{} {
	for {
		if p := c.notify.Load(); p != nil {
			return *p
		}
		ch := make(chan struct{})
		if c.notify.CompareAndSwap(nil, &ch) {
			return ch
		}
	}
}

func (c *TaskCounter) broadcast() {
	if p := c.notify.Swap(nil); p != nil {
		close(*p)
	}
}
