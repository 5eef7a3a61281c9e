package core

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/Swind/go-fiber-scheduler/platform"
)

// =============================================================================
// FiberType: size class of a fiber context
// =============================================================================

type FiberType int

const (
	// FiberTypeSmall is the default class for ordinary tasks.
	FiberTypeSmall FiberType = iota

	// FiberTypeBig is reserved for tasks with deep call stacks.
	FiberTypeBig

	// FiberTypeThread marks a worker's own thread-fiber. It is never pooled.
	FiberTypeThread
)

func (t FiberType) String() string {
	switch t {
	case FiberTypeSmall:
		return "small"
	case FiberTypeBig:
		return "big"
	case FiberTypeThread:
		return "thread"
	default:
		return "unknown"
	}
}

func (t FiberType) pooled() bool {
	return t == FiberTypeSmall || t == FiberTypeBig
}

// FiberID is the index of a fiber context inside its size class.
type FiberID int

// InvalidFiberID means "no fiber".
const InvalidFiberID FiberID = -1

// =============================================================================
// FiberContextState
// =============================================================================

// FiberContextState follows
//
//	Free -> Bound -> Running -> Finished -> Free
//	                 Running -> Suspended -> ReadyToResume -> Running
type FiberContextState int32

const (
	FiberContextFree FiberContextState = iota
	FiberContextBound
	FiberContextRunning
	FiberContextSuspended
	FiberContextReadyToResume
	FiberContextFinished
)

func (s FiberContextState) String() string {
	switch s {
	case FiberContextFree:
		return "free"
	case FiberContextBound:
		return "bound"
	case FiberContextRunning:
		return "running"
	case FiberContextSuspended:
		return "suspended"
	case FiberContextReadyToResume:
		return "ready_to_resume"
	case FiberContextFinished:
		return "finished"
	default:
		return fmt.Sprintf("FiberContextState(%d)", int32(s))
	}
}

// =============================================================================
// FiberContext: a pooled fiber bound to at most one task
// =============================================================================

// FiberContext is a reusable fiber that executes one task at a time. It owns
// the counter of the tasks it spawns.
type FiberContext struct {
	id        FiberID
	fiberType FiberType
	stackSize int
	fiber     *platform.Fiber
	scheduler *TaskScheduler

	children *TaskCounter

	state      atomic.Int32
	leased     atomic.Bool
	generation atomic.Uint64
	task       atomic.Pointer[Task]
	owner      atomic.Pointer[WorkerThread]
	ctx        atomic.Pointer[context.Context]

	// pinnedCore is the core the fiber's OS thread is pinned to, -1 when unpinned.
	pinnedCore atomic.Int32
	// Owned by the fiber goroutine.
	triedCore int
}

func newFiberContext(id FiberID, fiberType FiberType, stackSize int, s *TaskScheduler) *FiberContext {
	fc := &FiberContext{
		id:        id,
		fiberType: fiberType,
		stackSize: stackSize,
		scheduler: s,
		children:  NewTaskCounter(),
	}
	fc.pinnedCore.Store(-1)
	fc.triedCore = -1
	return fc
}

// ID returns the index of the context inside its size class.
func (fc *FiberContext) ID() FiberID { return fc.id }

// Type returns the size class.
func (fc *FiberContext) Type() FiberType { return fc.fiberType }

// StackSize returns the configured stack size.
func (fc *FiberContext) StackSize() int { return fc.stackSize }

// State returns the current state.
func (fc *FiberContext) State() FiberContextState {
	return FiberContextState(fc.state.Load())
}

func (fc *FiberContext) setState(s FiberContextState) {
	fc.state.Store(int32(s))
}

// Task returns the bound task, nil when free.
func (fc *FiberContext) Task() *Task {
	return fc.task.Load()
}

// Owner returns the worker currently running (or last resuming) the context.
func (fc *FiberContext) Owner() *WorkerThread {
	return fc.owner.Load()
}

// ChildCounter returns the counter shared by tasks this context spawns.
func (fc *FiberContext) ChildCounter() *TaskCounter {
	return fc.children
}

// PinnedCore returns the core the context's OS thread is pinned to, -1 when
// it is not pinned.
func (fc *FiberContext) PinnedCore() int {
	return int(fc.pinnedCore.Load())
}

// Leased reports whether the context is checked out of the pool.
func (fc *FiberContext) Leased() bool {
	return fc.leased.Load()
}

func (fc *FiberContext) token() waiterToken {
	return newWaiterToken(fc.id, fc.fiberType)
}

// taskContext returns the context handed to the bound task body.
func (fc *FiberContext) taskContext() context.Context {
	if p := fc.ctx.Load(); p != nil {
		return *p
	}
	return context.Background()
}

// bind attaches task. The pool calls it on the Free -> Bound transition.
func (fc *FiberContext) bind(task *Task) {
	gen := fc.generation.Add(1)
	task.setFiberContext(fc)
	base := context.Background()
	if fc.scheduler != nil {
		base = fc.scheduler.baseCtx
	}
	ctx := withBinding(base, &binding{scheduler: fc.scheduler, fiber: fc, task: task, generation: gen})
	fc.ctx.Store(&ctx)
	fc.task.Store(task)
	fc.setState(FiberContextBound)
}

// unbind detaches the finished task and the owner.
func (fc *FiberContext) unbind() {
	fc.task.Store(nil)
	fc.ctx.Store(nil)
	fc.owner.Store(nil)
	fc.setState(FiberContextFree)
}

// main is the fiber entry point. The fiber loops forever: every switch into it
// after a bind runs exactly one task, and every completion yields back to the
// owning worker. The fiber goroutine only ends when the pool deletes it.
//
// With pinned workers the fiber goroutine holds its own OS thread and follows
// the owning worker's core, so task bodies run where the worker is pinned.
func (fc *FiberContext) main(any) {
	if fc.scheduler != nil && fc.scheduler.cfg.PinWorkers {
		// Never unlocked: the thread dies with the fiber instead of returning
		// to the runtime with a narrowed mask.
		runtime.LockOSThread()
	}
	fc.followOwner()
	for {
		t := fc.Task()
		if t == nil {
			// Switched into without a task; hand control straight back.
			fc.yield(fc.Owner(), yieldFinished)
			continue
		}
		fc.scheduler.runTask(fc, t)
		fc.setState(FiberContextFinished)
		fc.yield(fc.Owner(), yieldFinished)
	}
}

// yield switches back to w's thread-fiber and records why. It returns when
// some worker switches into the context again.
func (fc *FiberContext) yield(w *WorkerThread, reason yieldReason) {
	if w == nil {
		panic("fibersched: fiber yielded without an owning worker")
	}
	w.yield = reason
	if err := platform.Switch(fc.fiber, w.threadFiber); err != nil {
		panic(fmt.Sprintf("fibersched: switch to worker %d: %v", w.index, err))
	}
	fc.followOwner()
}

// followOwner pins the fiber's OS thread to the core of the worker that just
// switched into it. It runs on the fiber goroutine.
func (fc *FiberContext) followOwner() {
	if fc.scheduler == nil || !fc.scheduler.cfg.PinWorkers {
		return
	}
	w := fc.Owner()
	if w == nil || w.core < 0 || w.core == fc.triedCore {
		return
	}
	fc.triedCore = w.core
	if err := platform.SetCurrentThreadAffinity(w.core); err != nil {
		fc.pinnedCore.Store(-1)
		fc.scheduler.logger.Debug("Fiber thread not pinned",
			F("fiber", fc.id),
			F("size_class", fc.fiberType.String()),
			F("core", w.core),
			F("error", err))
		return
	}
	fc.pinnedCore.Store(int32(w.core))
}
