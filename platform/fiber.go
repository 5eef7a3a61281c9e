package platform

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
)

var (
	// ErrFiberBusy is returned when deleting a fiber that is currently running.
	ErrFiberBusy = errors.New("platform: fiber is running")

	// ErrFiberDeleted is returned when switching into a deleted fiber.
	ErrFiberDeleted = errors.New("platform: fiber deleted")

	// ErrNilFiber is returned when switching from or into a nil fiber.
	ErrNilFiber = errors.New("platform: nil fiber")

	// ErrInvalidStackSize is returned for negative or oversized stack sizes.
	ErrInvalidStackSize = errors.New("platform: invalid fiber stack size")
)

// MaxFiberStackSize mirrors the runtime's default maximum goroutine stack on 64-bit targets.
const MaxFiberStackSize = 1 << 30

// FiberEntryPoint is the body of a fiber. It runs the first time the fiber is
// switched into. Returning from it hands control back to whichever fiber
// switched in last, and the fiber is dead afterwards.
type FiberEntryPoint func(arg any)

// FiberState is the lifecycle state of a fiber.
type FiberState int32

const (
	FiberParked FiberState = iota
	FiberRunning
	FiberDead
)

func (s FiberState) String() string {
	switch s {
	case FiberParked:
		return "parked"
	case FiberRunning:
		return "running"
	case FiberDead:
		return "dead"
	default:
		return fmt.Sprintf("FiberState(%d)", int32(s))
	}
}

// Fiber is a switchable execution context.
//
// Each fiber owns a goroutine and a baton. Switch hands the baton from one
// fiber to another: the target resumes and the caller parks until somebody
// switches back into it. Only the holder of the baton runs, so a set of
// fibers sharing one thread fiber behaves like cooperative stack switching.
type Fiber struct {
	baton     chan struct{}
	quit      chan struct{}
	done      chan struct{}
	quitOnce  sync.Once
	stackSize int
	thread    bool

	goid    atomic.Uint64
	state   atomic.Int32
	resumer atomic.Pointer[Fiber]
}

// CreateFiber creates a parked fiber that runs entry(arg) on its first switch.
// stackSize is advisory: goroutine stacks grow on demand.
func CreateFiber(stackSize int, entry FiberEntryPoint, arg any) (*Fiber, error) {
	if entry == nil {
		return nil, ErrNilEntryPoint
	}
	if stackSize < 0 || stackSize > MaxFiberStackSize {
		return nil, fmt.Errorf("%w: %d", ErrInvalidStackSize, stackSize)
	}

	f := &Fiber{
		baton:     make(chan struct{}),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		stackSize: stackSize,
	}
	f.state.Store(int32(FiberParked))

	started := make(chan struct{})
	go f.main(entry, arg, started)
	<-started
	return f, nil
}

func (f *Fiber) main(entry FiberEntryPoint, arg any, started chan<- struct{}) {
	defer close(f.done)

	f.goid.Store(GoroutineID())
	close(started)

	if !f.park() {
		return
	}

	entry(arg)

	f.state.Store(int32(FiberDead))
	if r := f.resumer.Load(); r != nil {
		select {
		case r.baton <- struct{}{}:
		case <-r.quit:
		}
	}
}

// ConvertThreadToFiber wraps the calling goroutine as a fiber so it can be
// switched away from and back into. The result is already running.
func ConvertThreadToFiber() *Fiber {
	f := &Fiber{
		baton:  make(chan struct{}),
		done:   make(chan struct{}),
		thread: true,
	}
	f.goid.Store(GoroutineID())
	f.state.Store(int32(FiberRunning))
	return f
}

// Switch transfers control from the calling fiber to another one and blocks
// until control is switched back into from.
//
// Switching into a fiber that is still on its way to parking is allowed: the
// hand-off completes once it parks. If from is deleted while parked, the
// calling goroutine exits.
func Switch(from, to *Fiber) error {
	if from == nil || to == nil {
		return ErrNilFiber
	}
	if from == to {
		return nil
	}
	if FiberState(to.state.Load()) == FiberDead {
		return ErrFiberDeleted
	}

	to.resumer.Store(from)
	from.state.Store(int32(FiberParked))

	select {
	case to.baton <- struct{}{}:
	case <-to.quit:
		from.state.Store(int32(FiberRunning))
		return ErrFiberDeleted
	}

	if !from.park() {
		runtime.Goexit()
	}
	return nil
}

// park blocks until the fiber receives the baton. It reports false when the
// fiber was deleted instead.
func (f *Fiber) park() bool {
	select {
	case <-f.baton:
		f.state.Store(int32(FiberRunning))
		return true
	case <-f.quit:
		f.state.Store(int32(FiberDead))
		return false
	}
}

// DeleteFiber releases a parked fiber and waits for its goroutine to exit.
// Thread fibers are only marked dead. Deleting a running fiber fails with
// ErrFiberBusy.
func DeleteFiber(f *Fiber) error {
	if f == nil {
		return nil
	}
	if f.thread {
		f.state.Store(int32(FiberDead))
		return nil
	}
	if FiberState(f.state.Load()) == FiberRunning {
		return ErrFiberBusy
	}

	f.quitOnce.Do(func() { close(f.quit) })
	<-f.done
	return nil
}

// State returns the current fiber state.
func (f *Fiber) State() FiberState {
	return FiberState(f.state.Load())
}

// StackSize returns the stack size the fiber was created with.
func (f *Fiber) StackSize() int {
	return f.stackSize
}

// IsThreadFiber reports whether the fiber wraps a thread's own stack.
func (f *Fiber) IsThreadFiber() bool {
	return f.thread
}

// GoroutineID returns the id of the goroutine backing the fiber.
func (f *Fiber) GoroutineID() uint64 {
	return f.goid.Load()
}
