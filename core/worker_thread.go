package core

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Swind/go-fiber-scheduler/platform"
)

// yieldReason tells a worker why a fiber switched back to it.
type yieldReason int

const (
	yieldNone yieldReason = iota
	yieldFinished
	yieldSuspended
)

// WorkerThread is one OS thread running the cooperative scheduling loop.
// Exactly one fiber runs on it at any instant: either its own thread-fiber
// (the loop) or the task fiber it switched into.
type WorkerThread struct {
	index     int
	core      int
	scheduler *TaskScheduler
	logger    Logger

	thread      *platform.Thread
	threadFiber *platform.Fiber
	quit        chan struct{}
	quitOnce    sync.Once
	started     atomic.Bool
	running     atomic.Bool
	goid        atomic.Uint64

	current atomic.Pointer[FiberContext]

	// Owned by the worker goroutine and whichever fiber holds its baton.
	yield     yieldReason
	pending   *Task
	exhausted bool
	idleTimer *time.Timer

	hasPending    atomic.Bool
	tasksStarted  atomic.Uint64
	fibersResumed atomic.Uint64
	exhaustions   atomic.Uint64
}

func newWorkerThread(index, core int, s *TaskScheduler, logger Logger) *WorkerThread {
	return &WorkerThread{
		index:     index,
		core:      core,
		scheduler: s,
		logger:    logger,
		quit:      make(chan struct{}),
	}
}

// Index returns the worker's position in its pool.
func (w *WorkerThread) Index() int { return w.index }

// ThreadID returns the OS thread id, 0 before the worker started.
func (w *WorkerThread) ThreadID() platform.ThreadID {
	if w.thread == nil {
		return 0
	}
	return w.thread.ID()
}

// CoreAffinity returns the core the worker is pinned to, -1 when unpinned.
func (w *WorkerThread) CoreAffinity() int {
	if w.thread == nil {
		return w.core
	}
	return w.thread.CoreAffinity()
}

// CurrentFiber returns the task fiber the worker is running, nil when it runs
// its own loop.
func (w *WorkerThread) CurrentFiber() *FiberContext {
	return w.current.Load()
}

// Running reports whether the worker loop is live.
func (w *WorkerThread) Running() bool {
	return w.running.Load()
}

func (w *WorkerThread) start() error {
	if !w.started.CompareAndSwap(false, true) {
		return ErrWorkerAlreadyStarted
	}
	th, err := platform.CreateThread(w.main, nil, platform.ThreadOptions{CoreAffinity: w.core})
	if err != nil {
		w.started.Store(false)
		return err
	}
	w.thread = th
	if err := th.AffinityErr(); err != nil {
		w.logger.Warn("Worker thread not pinned",
			F("worker", w.index),
			F("core", w.core),
			F("error", err))
	}
	return nil
}

func (w *WorkerThread) signalQuit() {
	w.quitOnce.Do(func() { close(w.quit) })
}

func (w *WorkerThread) main(any) {
	w.goid.Store(platform.GoroutineID())
	w.threadFiber = platform.ConvertThreadToFiber()
	w.running.Store(true)
	defer func() {
		w.running.Store(false)
		_ = platform.DeleteFiber(w.threadFiber)
		w.logger.Debug("Worker thread stopped", F("worker", w.index))
	}()

	w.logger.Debug("Worker thread started",
		F("worker", w.index),
		F("thread", platform.CurrentThreadID()),
		F("core", w.core))

	if w.scheduler == nil {
		<-w.quit
		return
	}
	w.loop()
}

func (w *WorkerThread) loop() {
	s := w.scheduler
	w.idleTimer = time.NewTimer(s.idlePoll)
	defer w.idleTimer.Stop()

	for {
		select {
		case <-w.quit:
			w.dropPending()
			return
		default:
		}

		fc := w.nextFiber()
		if fc == nil {
			w.idle()
			continue
		}
		w.runFiber(fc)
	}
}

// nextFiber picks the fiber to switch into: a fiber ready to resume, or a
// freshly leased one bound to the next queued task.
func (w *WorkerThread) nextFiber() *FiberContext {
	s := w.scheduler

	for _, ft := range [...]FiberType{FiberTypeSmall, FiberTypeBig} {
		id, ok := s.waitQueue.Dequeue(ft)
		if !ok {
			continue
		}
		fc, err := s.fibers.Get(id, ft)
		if err != nil {
			w.logger.Error("Ready fiber lookup failed", F("worker", w.index), F("error", err))
			continue
		}
		w.fibersResumed.Add(1)
		return fc
	}

	t := w.pending
	if t == nil {
		t = s.dequeueTask()
		if t == nil {
			return nil
		}
	}

	fc, err := s.fibers.Lease(t)
	if err != nil {
		w.pending = t
		w.hasPending.Store(true)
		if !w.exhausted {
			w.exhausted = true
			w.exhaustions.Add(1)
			if errors.Is(err, ErrFiberPoolExhausted) {
				s.metrics.RecordFiberPoolExhausted(t.FiberType.String())
			}
			w.logger.Warn("No fiber available, holding task for retry",
				F("worker", w.index),
				F("task", t.Name),
				F("size_class", t.FiberType.String()),
				F("error", err))
		}
		return nil
	}

	if w.exhausted {
		w.exhausted = false
		w.logger.Debug("Fiber available again", F("worker", w.index))
	}
	w.pending = nil
	w.hasPending.Store(false)
	w.tasksStarted.Add(1)
	return fc
}

// dropPending discards the task held for retry when the worker quits. Its
// counter never reaches zero, so whoever waits on it is left to Destroy or to
// its own deadline.
func (w *WorkerThread) dropPending() {
	t := w.pending
	if t == nil {
		return
	}
	w.pending = nil
	w.hasPending.Store(false)
	w.logger.Warn("Dropping task held for retry",
		F("worker", w.index),
		F("task", t.Name),
		F("size_class", t.FiberType.String()),
		F("outstanding", t.counter.Get()))
}

func (w *WorkerThread) runFiber(fc *FiberContext) {
	fc.owner.Store(w)
	fc.setState(FiberContextRunning)
	w.current.Store(fc)
	w.yield = yieldNone

	err := platform.Switch(w.threadFiber, fc.fiber)
	w.current.Store(nil)
	if err != nil {
		w.logger.Error("Switch into fiber failed",
			F("worker", w.index),
			F("fiber", fc.id),
			F("size_class", fc.fiberType.String()),
			F("error", err))
		return
	}

	switch w.yield {
	case yieldFinished:
		if err := w.scheduler.fibers.Release(fc); err != nil {
			w.logger.Error("Fiber release failed", F("worker", w.index), F("fiber", fc.id), F("error", err))
		}
	case yieldSuspended:
		// The completion that satisfies its counter queues it again.
	default:
		w.logger.Error("Fiber returned without a yield reason", F("worker", w.index), F("fiber", fc.id))
	}
}

func (w *WorkerThread) idle() {
	w.idleTimer.Reset(w.scheduler.idlePoll)
	select {
	case <-w.scheduler.signal:
	case <-w.quit:
	case <-w.idleTimer.C:
	}
}

// Stats returns a snapshot of the worker.
func (w *WorkerThread) Stats() WorkerStats {
	st := WorkerStats{
		Index:           w.index,
		ThreadID:        int64(w.ThreadID()),
		Core:            w.CoreAffinity(),
		Running:         w.Running(),
		CurrentFiber:    InvalidFiberID,
		HasPendingTask:  w.hasPending.Load(),
		TasksStarted:    w.tasksStarted.Load(),
		FibersResumed:   w.fibersResumed.Load(),
		PoolExhaustions: w.exhaustions.Load(),
	}
	if fc := w.CurrentFiber(); fc != nil {
		st.CurrentFiber = fc.id
		st.CurrentFiberType = fc.fiberType.String()
	}
	return st
}
