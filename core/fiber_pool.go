package core

import (
	"fmt"
	"sync"

	"go.uber.org/multierr"

	"github.com/Swind/go-fiber-scheduler/platform"
)

// fiberFactory creates the fiber backing a pooled context.
type fiberFactory func(stackSize int, entry platform.FiberEntryPoint, arg any) (*platform.Fiber, error)

// fiberClass is the fixed set of contexts of one size class plus its free-list.
type fiberClass struct {
	fiberType FiberType
	stackSize int
	contexts  []*FiberContext
	free      *ConcurrentQueue[FiberID]
}

// FiberContextPool owns every pooled fiber context. Capacity is fixed at
// Initialize; contexts are leased for exactly one task and handed back once
// that task finished.
type FiberContextPool struct {
	classes [2]fiberClass

	// goroutine id of each fiber -> context; read-only after Initialize.
	byGoroutine map[uint64]*FiberContext

	newFiber fiberFactory
	logger   Logger

	destroyOnce sync.Once
	destroyErr  error
}

// NewFiberContextPool creates an empty pool. Call Initialize before use.
func NewFiberContextPool(logger Logger) *FiberContextPool {
	if logger == nil {
		logger = NewNoOpLogger()
	}
	return &FiberContextPool{
		newFiber: platform.CreateFiber,
		logger:   logger,
	}
}

// Initialize eagerly creates every small and big context and seeds both
// free-lists. On failure every fiber created so far is deleted again.
func (p *FiberContextPool) Initialize(cfg *Config, s *TaskScheduler) error {
	if cfg.SmallFiberCount > maxPooledFibers || cfg.BigFiberCount > maxPooledFibers {
		return fmt.Errorf("%w: at most %d fibers per size class", ErrInvalidConfig, maxPooledFibers)
	}

	p.byGoroutine = make(map[uint64]*FiberContext, cfg.SmallFiberCount+cfg.BigFiberCount)
	p.classes[FiberTypeSmall] = fiberClass{fiberType: FiberTypeSmall, stackSize: cfg.SmallFiberStackSize}
	p.classes[FiberTypeBig] = fiberClass{fiberType: FiberTypeBig, stackSize: cfg.BigFiberStackSize}
	counts := [2]int{cfg.SmallFiberCount, cfg.BigFiberCount}

	for i := range p.classes {
		c := &p.classes[i]
		c.contexts = make([]*FiberContext, 0, counts[i])
		c.free = NewConcurrentQueue[FiberID]()

		for id := 0; id < counts[i]; id++ {
			fc := newFiberContext(FiberID(id), c.fiberType, c.stackSize, s)
			fiber, err := p.newFiber(c.stackSize, fc.main, nil)
			if err != nil {
				err = fmt.Errorf("create %s fiber %d: %w", c.fiberType, id, err)
				return multierr.Append(err, p.Destroy())
			}
			fc.fiber = fiber
			c.contexts = append(c.contexts, fc)
			c.free.Enqueue(fc.id)
			p.byGoroutine[fiber.GoroutineID()] = fc
		}
	}

	p.logger.Debug("Fiber context pool initialized",
		F("small", counts[FiberTypeSmall]),
		F("big", counts[FiberTypeBig]),
		F("small_stack", cfg.SmallFiberStackSize),
		F("big_stack", cfg.BigFiberStackSize))
	return nil
}

// Destroy deletes every pooled fiber. Suspended fibers are unwound; running
// fibers cannot be deleted and are reported in the returned error.
func (p *FiberContextPool) Destroy() error {
	p.destroyOnce.Do(func() {
		var errs error
		for i := range p.classes {
			c := &p.classes[i]
			for _, fc := range c.contexts {
				if err := platform.DeleteFiber(fc.fiber); err != nil {
					errs = multierr.Append(errs, fmt.Errorf("delete %s fiber %d: %w", c.fiberType, fc.id, err))
				}
			}
			if c.free != nil {
				c.free.Clear()
			}
		}
		p.destroyErr = errs
	})
	return p.destroyErr
}

func (p *FiberContextPool) class(fiberType FiberType) (*fiberClass, error) {
	if !fiberType.pooled() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidFiberType, fiberType)
	}
	return &p.classes[fiberType], nil
}

// Get returns the context with the given id and size class.
func (p *FiberContextPool) Get(id FiberID, fiberType FiberType) (*FiberContext, error) {
	c, err := p.class(fiberType)
	if err != nil {
		return nil, err
	}
	if id < 0 || int(id) >= len(c.contexts) {
		return nil, fmt.Errorf("%w: %s fiber %d", ErrInvalidFiberID, fiberType, id)
	}
	return c.contexts[id], nil
}

// Dequeue leases a free context id. It never blocks; an empty free-list
// yields ErrFiberPoolExhausted.
func (p *FiberContextPool) Dequeue(fiberType FiberType) (FiberID, error) {
	c, err := p.class(fiberType)
	if err != nil {
		return InvalidFiberID, err
	}
	id, ok := c.free.Dequeue()
	if !ok {
		return InvalidFiberID, fmt.Errorf("%w: %s", ErrFiberPoolExhausted, fiberType)
	}
	if !c.contexts[id].leased.CompareAndSwap(false, true) {
		// A free-list entry for a leased context means Enqueue was bypassed.
		panic(fmt.Sprintf("fibersched: %s fiber %d on the free-list while leased", fiberType, id))
	}
	return id, nil
}

// Enqueue returns a leased context to the free-list. The context must no
// longer be bound to a task.
func (p *FiberContextPool) Enqueue(id FiberID, fiberType FiberType) error {
	fc, err := p.Get(id, fiberType)
	if err != nil {
		return err
	}
	if fc.Task() != nil {
		return fmt.Errorf("%w: %s fiber %d", ErrFiberStillBound, fiberType, id)
	}
	if !fc.leased.CompareAndSwap(true, false) {
		return fmt.Errorf("%w: %s fiber %d", ErrFiberNotLeased, fiberType, id)
	}
	p.classes[fiberType].free.Enqueue(id)
	return nil
}

// Construct binds task to a leased context (Free -> Bound).
func (p *FiberContextPool) Construct(id FiberID, fiberType FiberType, task *Task) (*FiberContext, error) {
	fc, err := p.Get(id, fiberType)
	if err != nil {
		return nil, err
	}
	if !fc.Leased() {
		return nil, fmt.Errorf("%w: %s fiber %d", ErrFiberNotLeased, fiberType, id)
	}
	if fc.Task() != nil {
		return nil, fmt.Errorf("%w: %s fiber %d", ErrFiberStillBound, fiberType, id)
	}
	fc.bind(task)
	return fc, nil
}

// Lease dequeues a context of the task's size class and binds the task to it.
func (p *FiberContextPool) Lease(task *Task) (*FiberContext, error) {
	id, err := p.Dequeue(task.FiberType)
	if err != nil {
		return nil, err
	}
	fc, err := p.Construct(id, task.FiberType, task)
	if err != nil {
		return nil, multierr.Append(err, p.Enqueue(id, task.FiberType))
	}
	return fc, nil
}

// Release unbinds the finished task and returns the context to the free-list.
func (p *FiberContextPool) Release(fc *FiberContext) error {
	fc.unbind()
	return p.Enqueue(fc.id, fc.fiberType)
}

// FreeCount returns the approximate number of free contexts of a size class.
func (p *FiberContextPool) FreeCount(fiberType FiberType) int {
	c, err := p.class(fiberType)
	if err != nil || c.free == nil {
		return 0
	}
	return c.free.Len()
}

// Len returns the capacity of a size class.
func (p *FiberContextPool) Len(fiberType FiberType) int {
	c, err := p.class(fiberType)
	if err != nil {
		return 0
	}
	return len(c.contexts)
}

// Contexts returns every context of a size class.
func (p *FiberContextPool) Contexts(fiberType FiberType) []*FiberContext {
	c, err := p.class(fiberType)
	if err != nil {
		return nil
	}
	return c.contexts
}

// lookupGoroutine returns the context whose fiber runs on goroutine gid.
func (p *FiberContextPool) lookupGoroutine(gid uint64) (*FiberContext, bool) {
	fc, ok := p.byGoroutine[gid]
	return fc, ok
}

// Stats returns a snapshot of one size class.
func (p *FiberContextPool) Stats(fiberType FiberType) FiberPoolStats {
	st := FiberPoolStats{Type: fiberType.String()}
	c, err := p.class(fiberType)
	if err != nil {
		return st
	}
	st.Capacity = len(c.contexts)
	st.StackSize = c.stackSize
	for _, fc := range c.contexts {
		if fc.Leased() {
			st.Leased++
		}
		switch fc.State() {
		case FiberContextRunning:
			st.Running++
		case FiberContextSuspended:
			st.Suspended++
		case FiberContextReadyToResume:
			st.ReadyToResume++
		}
	}
	st.Free = st.Capacity - st.Leased
	return st
}
