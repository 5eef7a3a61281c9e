package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/Swind/go-fiber-scheduler/platform"
)

// TaskScheduler coordinates the fiber pool, the worker threads, the wait queue
// and the three task queues.
//
// Tasks are submitted with RunTasks from either an external goroutine (the
// "main thread") or from inside a running task. Each batch shares one
// TaskCounter; WaitForCounter blocks a main thread, or suspends a task's fiber
// without blocking its worker.
type TaskScheduler struct {
	id   string
	cfg  Config
	mu   sync.Mutex // serializes Initialize and Destroy
	live atomic.Bool

	baseCtx context.Context

	fibers      *FiberContextPool
	workers     *WorkerThreadPool
	waitQueue   *WaitFiberContextQueue
	queues      [taskQueueCount]*TaskQueue
	mainCounter *TaskCounter
	mainThread  platform.ThreadID

	signal   chan struct{}
	idlePoll time.Duration
	// stopped is closed by Destroy to release main-thread waiters.
	stopped atomic.Pointer[chan struct{}]

	// Handlers and Metrics
	logger       Logger
	panicHandler PanicHandler
	metrics      Metrics

	tasksSubmitted atomic.Uint64
	tasksCompleted atomic.Uint64
	tasksPanicked  atomic.Uint64
}

// NewTaskScheduler creates an uninitialized scheduler. A nil cfg means DefaultConfig.
func NewTaskScheduler(cfg *Config) *TaskScheduler {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	s := &TaskScheduler{
		id:      uuid.NewString(),
		cfg:     *cfg,
		baseCtx: context.Background(),
	}

	// Use defaults if not provided
	s.logger = cfg.Logger
	if s.logger == nil {
		s.logger = NewDefaultLogger()
	}
	s.panicHandler = cfg.PanicHandler
	if s.panicHandler == nil {
		s.panicHandler = &DefaultPanicHandler{Logger: s.logger}
	}
	s.metrics = cfg.Metrics
	if s.metrics == nil {
		s.metrics = &NilMetrics{}
	}
	return s
}

// Initialize creates every fiber context, the wait queue, the task queues and
// the (stopped) worker pool. Start the workers with Workers().StartAll().
func (s *TaskScheduler) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.live.Load() {
		return ErrAlreadyInitialized
	}
	if err := s.cfg.Validate(); err != nil {
		return err
	}

	workers := s.cfg.workers()
	s.idlePoll = s.cfg.IdlePollInterval
	s.signal = make(chan struct{}, workers*2)
	for i := range s.queues {
		s.queues[i] = NewTaskQueue(TaskQueuePriority(i))
	}
	s.mainCounter = NewTaskCounter()
	stopped := make(chan struct{})
	s.stopped.Store(&stopped)
	s.waitQueue = NewWaitFiberContextQueue(s.cfg.SmallFiberCount, s.cfg.BigFiberCount)

	fibers := NewFiberContextPool(s.logger)
	if err := fibers.Initialize(&s.cfg, s); err != nil {
		s.logger.Error("Task scheduler initialization failed", F("scheduler", s.id), F("error", err))
		return fmt.Errorf("initialize fiber pool: %w", err)
	}
	s.fibers = fibers
	s.workers = NewWorkerThreadPool(s, workers, s.cfg.PinWorkers, s.logger)
	s.mainThread = platform.CurrentThreadID()
	s.live.Store(true)

	s.logger.Info("Task scheduler initialized",
		F("scheduler", s.id),
		F("name", s.cfg.Name),
		F("workers", workers),
		F("small_fibers", s.cfg.SmallFiberCount),
		F("big_fibers", s.cfg.BigFiberCount))
	return nil
}

// Destroy stops and joins the workers, deletes every fiber and drops queued
// tasks. It must not be called from inside a task.
func (s *TaskScheduler) Destroy() error {
	caller, err := s.resolveCaller(context.Background())
	if err != nil || caller != nil {
		return ErrInvalidCallerContext
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.live.CompareAndSwap(true, false) {
		return ErrNotInitialized
	}
	if p := s.stopped.Load(); p != nil {
		close(*p)
	}

	s.workers.Destroy()

	var errs error
	if err := s.fibers.Destroy(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("destroy fiber pool: %w", err))
	}
	for _, q := range s.queues {
		q.Clear()
	}
	s.waitQueue.Clear()

	s.logger.Info("Task scheduler destroyed",
		F("scheduler", s.id),
		F("completed", s.tasksCompleted.Load()))
	return errs
}

// IsInitialized reports whether Initialize succeeded and Destroy has not run.
func (s *TaskScheduler) IsInitialized() bool {
	return s.live.Load()
}

// RunTasks submits tasks at TaskPriorityUserBlocking. See RunTasksWithPriority.
func (s *TaskScheduler) RunTasks(ctx context.Context, tasks []Task) (*TaskCounter, error) {
	return s.RunTasksWithPriority(ctx, tasks, TaskPriorityUserBlocking)
}

// RunTasksWithPriority attaches one counter to every task of the batch and
// queues them.
//
// Called from a main thread, the batch uses the scheduler's main counter and
// has no parent. Called with the context of a running task, the batch uses
// that task's fiber child counter and the task becomes the parent.
//
// The scheduler keeps pointers into tasks: the slice must not be modified
// until the counter shows the batch completed.
func (s *TaskScheduler) RunTasksWithPriority(ctx context.Context, tasks []Task, priority TaskPriority) (*TaskCounter, error) {
	if !s.live.Load() {
		return nil, ErrNotInitialized
	}
	if len(tasks) > math.MaxInt32 {
		return nil, ErrTooManyTasks
	}
	for i := range tasks {
		if err := s.checkTask(&tasks[i]); err != nil {
			return nil, fmt.Errorf("task %d: %w", i, err)
		}
	}

	fc, err := s.resolveCaller(ctx)
	if err != nil {
		s.logger.Warn("RunTasks from invalid caller", F("scheduler", s.id))
		return nil, err
	}

	counter := s.mainCounter
	var parent *Task
	if fc != nil {
		counter = fc.children
		parent = fc.Task()
	}
	if len(tasks) == 0 {
		return counter, nil
	}

	counter.FetchAndAdd(int32(len(tasks)))
	for i := range tasks {
		t := &tasks[i]
		t.setCounter(counter)
		t.setParent(parent)
		t.setFiberContext(nil)
		t.priority = priority
	}

	q := s.queues[queueFor(priority)]
	q.EnqueueRange(tasks)
	s.tasksSubmitted.Add(uint64(len(tasks)))
	s.metrics.RecordQueueDepth(q.Name(), q.Len())
	s.wakeN(len(tasks))
	return counter, nil
}

func (s *TaskScheduler) checkTask(t *Task) error {
	if t.Entry == nil {
		return ErrNilEntryPoint
	}
	switch t.FiberType {
	case FiberTypeSmall:
	case FiberTypeBig:
		if s.cfg.BigFiberCount == 0 {
			return fmt.Errorf("%w: no big fibers configured", ErrInvalidFiberType)
		}
	default:
		return fmt.Errorf("%w: %s", ErrInvalidFiberType, t.FiberType)
	}
	return nil
}

// WaitForCounter waits until counter drops to target or below.
//
// From a main thread it blocks until then, until ctx is done, or until Destroy
// releases it with ErrNotInitialized. From a running task it suspends the
// task's fiber and frees the worker for other work; waiting there on a counter that already reached target is a caller
// error and returns ErrCounterAlreadySatisfied.
func (s *TaskScheduler) WaitForCounter(ctx context.Context, counter *TaskCounter, target int32) error {
	if counter == nil {
		return ErrNilCounter
	}
	if target < 0 {
		return ErrInvalidTarget
	}
	if !s.live.Load() {
		return ErrNotInitialized
	}

	fc, err := s.resolveCaller(ctx)
	if err != nil {
		s.logger.Warn("WaitForCounter from invalid caller", F("scheduler", s.id))
		return err
	}
	if fc == nil {
		var stopped <-chan struct{}
		if p := s.stopped.Load(); p != nil {
			stopped = *p
		}
		return counter.wait(ctx, target, stopped)
	}

	if counter.Reached(target) {
		return ErrCounterAlreadySatisfied
	}
	if target > MaxWaitTarget {
		return ErrInvalidTarget
	}
	return s.waitOnFiber(fc, counter, target)
}

// resolveCaller tells a main thread (nil, nil) from a running task fiber
// (fc, nil). Worker loops, suspended fibers and goroutines carrying a task's
// context away from its fiber are invalid callers.
func (s *TaskScheduler) resolveCaller(ctx context.Context) (*FiberContext, error) {
	if s.fibers == nil {
		return nil, nil
	}
	gid := platform.GoroutineID()
	if fc, ok := s.fibers.lookupGoroutine(gid); ok {
		if fc.State() != FiberContextRunning || fc.Task() == nil {
			return nil, ErrInvalidCallerContext
		}
		return fc, nil
	}
	if s.workers != nil && s.workers.ownsGoroutine(gid) {
		return nil, ErrInvalidCallerContext
	}
	if b := bindingFrom(ctx); b != nil {
		return nil, ErrInvalidCallerContext
	}
	return nil, nil
}

// waitOnFiber suspends fc until counter reaches target.
//
// The fiber marks itself waiting, then installs itself on the counter with a
// single CAS. Either the CAS sees the target already reached (no suspension)
// or every later decrement sees the waiter, so the wake cannot be lost.
func (s *TaskScheduler) waitOnFiber(fc *FiberContext, counter *TaskCounter, target int32) error {
	tok := fc.token()
	for {
		w := fc.Owner()
		if err := s.waitQueue.Enqueue(fc.id, fc.fiberType); err != nil {
			return err
		}
		fc.setState(FiberContextSuspended)

		if err := counter.attachWaiter(tok, target); err != nil {
			s.waitQueue.cancel(fc.id, fc.fiberType)
			fc.setState(FiberContextRunning)
			if errors.Is(err, ErrCounterAlreadySatisfied) {
				return nil
			}
			return err
		}

		s.metrics.RecordFiberSuspended(fc.fiberType.String())
		fc.yield(w, yieldSuspended)

		// Resumed, possibly on another worker. New tasks may have been
		// added to the counter in the meantime.
		if counter.Reached(target) {
			return nil
		}
	}
}

// runTask executes t on fc and completes it. It runs on the fiber goroutine.
func (s *TaskScheduler) runTask(fc *FiberContext, t *Task) {
	workerID := -1
	if w := fc.Owner(); w != nil {
		workerID = w.index
	}

	start := time.Now()
	if t.execute(fc.taskContext(), s, workerID) {
		s.tasksPanicked.Add(1)
	}

	// Children still outstanding: finish them before reporting completion,
	// so the fiber slot is not recycled while they may still wake it.
	if !fc.children.Reached(0) {
		if err := s.waitOnFiber(fc, fc.children, 0); err != nil {
			s.logger.Error("Waiting for child tasks failed",
				F("task", t.Name),
				F("fiber", fc.id),
				F("error", err))
		}
	}

	s.metrics.RecordTaskDuration(t.Name, t.priority, time.Since(start))
	s.completeTask(t)
}

// completeTask decrements the task's counter and wakes the fiber waiting on
// it when the decrement satisfied that wait. t must not be used afterwards:
// the producer may reuse its storage once the counter drops.
func (s *TaskScheduler) completeTask(t *Task) {
	counter, name := t.counter, t.Name

	s.tasksCompleted.Add(1)
	_, woken, err := counter.decrement()
	if err != nil {
		s.logger.Error("Task counter decrement failed", F("task", name), F("error", err))
		return
	}
	if woken == 0 {
		return
	}

	id, ft := woken.fiber()
	// The decrement that cleared the waiter is the only waker, and the state
	// must read ReadyToResume before the id becomes visible to workers.
	if fc, err := s.fibers.Get(id, ft); err == nil {
		fc.state.CompareAndSwap(int32(FiberContextSuspended), int32(FiberContextReadyToResume))
	}
	if err := s.waitQueue.MoveToReadyToResume(id, ft); err != nil {
		s.logger.Error("Waking fiber failed",
			F("fiber", id),
			F("size_class", ft.String()),
			F("error", err))
		return
	}
	s.wake()
}

func (s *TaskScheduler) dequeueTask() *Task {
	for _, q := range s.queues {
		if t, ok := q.Dequeue(); ok {
			return t
		}
	}
	return nil
}

func (s *TaskScheduler) wake() {
	select {
	case s.signal <- struct{}{}:
	default:
		// Signal channel full; every idle worker will look again anyway.
	}
}

func (s *TaskScheduler) wakeN(n int) {
	n = min(n, cap(s.signal))
	for i := 0; i < n; i++ {
		s.wake()
	}
}

func (s *TaskScheduler) wakeAll() {
	if s.signal != nil {
		s.wakeN(cap(s.signal))
	}
}

// =============================================================================
// Accessors
// =============================================================================

// ID returns the scheduler instance id.
func (s *TaskScheduler) ID() string { return s.id }

// Name returns Config.Name.
func (s *TaskScheduler) Name() string { return s.cfg.Name }

// Workers returns the worker pool, nil before Initialize.
func (s *TaskScheduler) Workers() *WorkerThreadPool { return s.workers }

// FiberPool returns the fiber context pool, nil before Initialize.
func (s *TaskScheduler) FiberPool() *FiberContextPool { return s.fibers }

// WaitQueue returns the wait queue, nil before Initialize.
func (s *TaskScheduler) WaitQueue() *WaitFiberContextQueue { return s.waitQueue }

// MainCounter returns the counter shared by batches submitted from main threads.
func (s *TaskScheduler) MainCounter() *TaskCounter { return s.mainCounter }

// MainThreadID returns the OS thread Initialize ran on.
func (s *TaskScheduler) MainThreadID() platform.ThreadID { return s.mainThread }

// Queue returns one of the three task queues.
func (s *TaskScheduler) Queue(p TaskQueuePriority) *TaskQueue {
	if p < 0 || p >= taskQueueCount {
		return nil
	}
	return s.queues[p]
}

// GetLogger returns the logger for this scheduler
func (s *TaskScheduler) GetLogger() Logger {
	return s.logger
}

// GetPanicHandler returns the panic handler for this scheduler
func (s *TaskScheduler) GetPanicHandler() PanicHandler {
	return s.panicHandler
}

// GetMetrics returns the metrics collector for this scheduler
func (s *TaskScheduler) GetMetrics() Metrics {
	return s.metrics
}

// Stats returns a point-in-time snapshot. Values are read without a global
// lock and may be slightly inconsistent with each other.
func (s *TaskScheduler) Stats() SchedulerStats {
	st := SchedulerStats{
		ID:             s.id,
		Name:           s.cfg.Name,
		Initialized:    s.live.Load(),
		TasksSubmitted: s.tasksSubmitted.Load(),
		TasksCompleted: s.tasksCompleted.Load(),
		TasksPanicked:  s.tasksPanicked.Load(),
	}
	if s.queues[TaskQueueHigh] != nil {
		st.HighQueued = s.queues[TaskQueueHigh].Len()
		st.MidQueued = s.queues[TaskQueueMid].Len()
		st.LowQueued = s.queues[TaskQueueLow].Len()
	}
	if s.mainCounter != nil {
		st.MainCounter = s.mainCounter.Get()
	}
	if s.fibers != nil {
		st.SmallFibers = s.fibers.Stats(FiberTypeSmall)
		st.BigFibers = s.fibers.Stats(FiberTypeBig)
	}
	if s.waitQueue != nil {
		st.WaitingFibers = s.waitQueue.WaitingCount()
		st.ReadySmall = s.waitQueue.ReadyCount(FiberTypeSmall)
		st.ReadyBig = s.waitQueue.ReadyCount(FiberTypeBig)
	}
	if s.workers != nil {
		st.Workers = s.workers.Stats()
	}
	return st
}
