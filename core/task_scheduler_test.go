package core

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Swind/go-fiber-scheduler/platform"
)

type addArgs struct {
	a, b   int
	result *atomic.Int64
}

func addPair(_ context.Context, data any) {
	args := data.(*addArgs)
	args.result.Add(int64(args.a + args.b))
}

// additionBatch builds the five pair additions over 1..9.
func additionBatch(sum *atomic.Int64) []Task {
	pairs := [][2]int{{1, 2}, {3, 4}, {5, 6}, {7, 8}, {9, 0}}
	tasks := make([]Task, len(pairs))
	for i, p := range pairs {
		tasks[i] = NewTask(addPair, &addArgs{a: p[0], b: p[1], result: sum})
		tasks[i].Name = "add"
	}
	return tasks
}

// TestTaskScheduler_MainThreadBatch verifies a batch submitted from outside any task
// Given: A started scheduler
// When: The main thread submits five additions and waits on the counter
// Then: The sum is 45 and the counter is back to zero
func TestTaskScheduler_MainThreadBatch(t *testing.T) {
	s := newStartedScheduler(t, nil)
	var sum atomic.Int64

	counter, err := s.RunTasks(context.Background(), additionBatch(&sum))
	require.NoError(t, err)
	assert.Same(t, s.MainCounter(), counter)

	waitMain(t, s, counter)

	assert.Equal(t, int64(45), sum.Load())
	assert.Equal(t, int32(0), counter.Get())
}

// TestTaskScheduler_NestedBatchAndShutdown verifies a task that spawns, waits and stops the workers
// Given: A started scheduler
// When: A task submits the additions, waits for them inside its fiber, then signals quit
// Then: The driver sees the task complete, every worker joins and the sum is 45
func TestTaskScheduler_NestedBatchAndShutdown(t *testing.T) {
	s := newStartedScheduler(t, nil)
	var sum atomic.Int64
	var innerErr atomic.Value

	root := NewTaskFunc(func(ctx context.Context) {
		children := additionBatch(&sum)
		counter, err := s.RunTasks(ctx, children)
		if err != nil {
			innerErr.Store(err)
			return
		}
		if err := s.WaitForCounter(ctx, counter, 0); err != nil {
			innerErr.Store(err)
			return
		}
		s.Workers().SignalQuitAll()
	})
	root.Name = "shutdown"

	counter, err := s.RunTasks(context.Background(), []Task{root})
	require.NoError(t, err)
	waitMain(t, s, counter)

	waitAllWithin(t, s.Workers(), testTimeout)
	assert.Nil(t, innerErr.Load())
	assert.True(t, s.Workers().AllTerminated())
	assert.Equal(t, int64(45), sum.Load())
	require.NoError(t, s.Destroy())
}

// TestTaskScheduler_DestroyWithoutStart verifies teardown of a scheduler whose workers never ran
// Given: An initialized scheduler with stopped workers
// When: Destroy is called
// Then: It returns promptly and the scheduler is no longer initialized
func TestTaskScheduler_DestroyWithoutStart(t *testing.T) {
	s := NewTaskScheduler(testConfig(nil))
	require.NoError(t, s.Initialize())

	done := make(chan error, 1)
	go func() { done <- s.Destroy() }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(testTimeout):
		t.Fatal("Destroy did not return")
	}
	assert.False(t, s.IsInitialized())
	for _, fc := range s.FiberPool().Contexts(FiberTypeSmall) {
		assert.Equal(t, platform.FiberDead, fc.fiber.State())
	}
}

// TestTaskScheduler_BatchSizes verifies every task of a batch runs exactly once
// Given: Batches of 0, 1, 7 and 100 tasks
// When: Each is submitted from the main thread and waited on
// Then: Every task ran once and the counter is zero
func TestTaskScheduler_BatchSizes(t *testing.T) {
	s := newStartedScheduler(t, nil)

	for _, n := range []int{0, 1, 7, 100} {
		runs := make([]atomic.Int32, n)
		tasks := make([]Task, n)
		for i := range tasks {
			i := i
			tasks[i] = NewTaskFunc(func(context.Context) { runs[i].Add(1) })
		}

		counter, err := s.RunTasks(context.Background(), tasks)
		require.NoError(t, err)
		if n == 0 {
			assert.Equal(t, int32(0), counter.Get())
		}
		waitMain(t, s, counter)

		for i := range runs {
			assert.Equal(t, int32(1), runs[i].Load(), "n=%d task %d", n, i)
		}
	}
	assert.Equal(t, uint64(108), s.Stats().TasksCompleted)
}

// TestTaskScheduler_NestedDepth verifies fibers waiting on fibers
// Given: A task tree three levels deep with two children per task
// When: Every inner task waits on its children before returning
// Then: All 15 tasks run and each inner task saw its subtree finish
func TestTaskScheduler_NestedDepth(t *testing.T) {
	s := newStartedScheduler(t, nil)
	var ran atomic.Int32
	var failures atomic.Int32

	var spawn func(ctx context.Context, depth int) int32
	spawn = func(ctx context.Context, depth int) int32 {
		ran.Add(1)
		if depth == 3 {
			return 1
		}
		var subtree [2]atomic.Int32
		tasks := make([]Task, 2)
		for i := range tasks {
			i := i
			tasks[i] = NewTaskFunc(func(ctx context.Context) {
				subtree[i].Store(spawn(ctx, depth+1))
			})
		}
		counter, err := s.RunTasks(ctx, tasks)
		if err != nil {
			failures.Add(1)
			return 0
		}
		if err := s.WaitForCounter(ctx, counter, 0); err != nil {
			failures.Add(1)
			return 0
		}
		return 1 + subtree[0].Load() + subtree[1].Load()
	}

	var total atomic.Int32
	root := NewTaskFunc(func(ctx context.Context) { total.Store(spawn(ctx, 0)) })
	counter, err := s.RunTasks(context.Background(), []Task{root})
	require.NoError(t, err)
	waitMain(t, s, counter)

	assert.Zero(t, failures.Load())
	assert.Equal(t, int32(15), ran.Load())
	assert.Equal(t, int32(15), total.Load())
}

// TestTaskScheduler_ImplicitChildJoin verifies a task completes only after its children
// Given: A task that spawns a slow child and returns without waiting
// When: The main thread waits on the task's counter
// Then: The child has finished by the time the wait returns
func TestTaskScheduler_ImplicitChildJoin(t *testing.T) {
	s := newStartedScheduler(t, nil)
	var childDone atomic.Bool

	parent := NewTaskFunc(func(ctx context.Context) {
		child := NewTaskFunc(func(context.Context) {
			time.Sleep(20 * time.Millisecond)
			childDone.Store(true)
		})
		_, _ = s.RunTasks(ctx, []Task{child})
	})

	counter, err := s.RunTasks(context.Background(), []Task{parent})
	require.NoError(t, err)
	waitMain(t, s, counter)

	assert.True(t, childDone.Load())
}

// TestTaskScheduler_WaitForPartialTarget verifies a fiber waking before the whole batch is done
// Given: A task that spawns three children, one of which blocks until released
// When: The task waits for the counter to drop to 1
// Then: It resumes while the blocked child is still outstanding
func TestTaskScheduler_WaitForPartialTarget(t *testing.T) {
	s := newStartedScheduler(t, nil)
	release := make(chan struct{})
	var remaining atomic.Int32
	var waitErr atomic.Value

	parent := NewTaskFunc(func(ctx context.Context) {
		children := []Task{
			NewTaskFunc(func(context.Context) {}),
			NewTaskFunc(func(context.Context) {}),
			NewTaskFunc(func(context.Context) { <-release }),
		}
		counter, err := s.RunTasks(ctx, children)
		if err == nil {
			err = s.WaitForCounter(ctx, counter, 1)
		}
		if err != nil {
			waitErr.Store(err)
		}
		remaining.Store(counter.Get())
		close(release)
	})

	counter, err := s.RunTasks(context.Background(), []Task{parent})
	require.NoError(t, err)
	waitMain(t, s, counter)

	assert.Nil(t, waitErr.Load())
	assert.Equal(t, int32(1), remaining.Load())
}

// TestTaskScheduler_InvalidCaller verifies a task context cannot be used off its fiber
// Given: A task that hands its context to a plain goroutine
// When: The goroutine calls RunTasks and WaitForCounter with it
// Then: Both fail with ErrInvalidCallerContext
func TestTaskScheduler_InvalidCaller(t *testing.T) {
	s := newStartedScheduler(t, nil)
	var runErr, waitErr error

	task := NewTaskFunc(func(ctx context.Context) {
		done := make(chan struct{})
		go func() {
			defer close(done)
			_, runErr = s.RunTasks(ctx, []Task{NewTaskFunc(func(context.Context) {})})
			waitErr = s.WaitForCounter(ctx, s.MainCounter(), 0)
		}()
		<-done
	})

	counter, err := s.RunTasks(context.Background(), []Task{task})
	require.NoError(t, err)
	waitMain(t, s, counter)

	assert.ErrorIs(t, runErr, ErrInvalidCallerContext)
	assert.ErrorIs(t, waitErr, ErrInvalidCallerContext)
}

// TestTaskScheduler_AlreadySatisfied verifies waits on finished counters
// Given: A counter at zero
// When: A task waits on it, and the main thread waits on it
// Then: The task gets ErrCounterAlreadySatisfied and the main thread returns nil
func TestTaskScheduler_AlreadySatisfied(t *testing.T) {
	s := newStartedScheduler(t, nil)
	var taskErr atomic.Value

	task := NewTaskFunc(func(ctx context.Context) {
		counter, err := s.RunTasks(ctx, nil)
		if err == nil {
			err = s.WaitForCounter(ctx, counter, 0)
		}
		taskErr.Store(err)
	})

	counter, err := s.RunTasks(context.Background(), []Task{task})
	require.NoError(t, err)
	waitMain(t, s, counter)

	got, _ := taskErr.Load().(error)
	assert.ErrorIs(t, got, ErrCounterAlreadySatisfied)
	assert.NoError(t, s.WaitForCounter(context.Background(), counter, 0))
}

// TestTaskScheduler_PoolSaturation verifies the documented deadlock when every fiber waits
// Given: One worker and two small fibers
// When: Two tasks each spawn a child and wait for it
// Then: Both fibers park, the children cannot get a fiber, the held child is
// reported when the worker quits, and teardown still succeeds
func TestTaskScheduler_PoolSaturation(t *testing.T) {
	metrics := newRecordingMetrics()
	logs := &lockedBuffer{}
	s := newTestScheduler(t, func(c *Config) {
		c.WorkerCount = 1
		c.SmallFiberCount = 2
		c.Metrics = metrics
		c.Logger = NewJSONLogger(logs, zerolog.WarnLevel)
	})

	parent := func(ctx context.Context) {
		counter, err := s.RunTasks(ctx, []Task{NewTaskFunc(func(context.Context) {})})
		if err == nil {
			_ = s.WaitForCounter(ctx, counter, 0)
		}
	}
	tasks := []Task{NewTaskFunc(parent), NewTaskFunc(parent)}
	_, err := s.RunTasks(context.Background(), tasks)
	require.NoError(t, err)
	require.NoError(t, s.Workers().StartAll())

	assert.Eventually(t, func() bool {
		st := s.Stats()
		w := st.Workers[0]
		return st.SmallFibers.Leased == 2 &&
			st.WaitingFibers == 2 &&
			w.PoolExhaustions >= 1 &&
			w.HasPendingTask
	}, testTimeout, time.Millisecond)

	_, _, suspended, exhausted := metrics.snapshot()
	assert.Equal(t, 2, suspended)
	assert.GreaterOrEqual(t, exhausted, 1)

	s.Workers().SignalQuitAll()
	waitAllWithin(t, s.Workers(), testTimeout)
	assert.False(t, s.Stats().Workers[0].HasPendingTask)
	assert.Contains(t, logs.String(), `"message":"Dropping task held for retry"`)
	assert.Contains(t, logs.String(), `"outstanding":1`)
	require.NoError(t, s.Destroy())
}

// TestTaskScheduler_RetryWhenPoolBusy verifies held tasks run once a fiber frees up
// Given: Four workers sharing a single small fiber
// When: Twenty tasks are submitted
// Then: All of them run and the fiber returns to the pool
func TestTaskScheduler_RetryWhenPoolBusy(t *testing.T) {
	s := newStartedScheduler(t, func(c *Config) {
		c.WorkerCount = 4
		c.SmallFiberCount = 1
	})
	var ran atomic.Int32

	tasks := make([]Task, 20)
	for i := range tasks {
		tasks[i] = NewTaskFunc(func(context.Context) { ran.Add(1) })
	}
	counter, err := s.RunTasks(context.Background(), tasks)
	require.NoError(t, err)
	waitMain(t, s, counter)

	assert.Equal(t, int32(20), ran.Load())
	assert.Eventually(t, func() bool {
		return s.FiberPool().FreeCount(FiberTypeSmall) == 1
	}, testTimeout, time.Millisecond)
}

// TestTaskScheduler_PriorityOrder verifies the high queue drains before mid and low
// Given: One stopped worker and one task per priority submitted lowest first
// When: The worker starts
// Then: Tasks run user-blocking, user-visible, best-effort
func TestTaskScheduler_PriorityOrder(t *testing.T) {
	s := newTestScheduler(t, func(c *Config) { c.WorkerCount = 1 })
	var mu sync.Mutex
	var order []TaskPriority

	record := func(ctx context.Context) {
		mu.Lock()
		order = append(order, GetCurrentTask(ctx).Priority())
		mu.Unlock()
	}
	for _, p := range []TaskPriority{TaskPriorityBestEffort, TaskPriorityUserVisible, TaskPriorityUserBlocking} {
		_, err := s.RunTasksWithPriority(context.Background(), []Task{NewTaskFunc(record)}, p)
		require.NoError(t, err)
	}
	st := s.Stats()
	assert.Equal(t, 3, st.Queued())
	assert.Equal(t, 1, st.LowQueued)

	require.NoError(t, s.Workers().StartAll())
	waitMain(t, s, s.MainCounter())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []TaskPriority{TaskPriorityUserBlocking, TaskPriorityUserVisible, TaskPriorityBestEffort}, order)
}

// TestTaskScheduler_PanicIsReported verifies a panicking task still completes
// Given: A scheduler with recording panic handler and metrics
// When: A named task panics
// Then: The handler sees the panic, the counter drains and the stats count it
func TestTaskScheduler_PanicIsReported(t *testing.T) {
	handler := &recordingPanicHandler{}
	metrics := newRecordingMetrics()
	s := newStartedScheduler(t, func(c *Config) {
		c.PanicHandler = handler
		c.Metrics = metrics
	})

	task := NewTaskFunc(func(context.Context) { panic("boom") })
	task.Name = "exploder"
	counter, err := s.RunTasks(context.Background(), []Task{task, NewTaskFunc(func(context.Context) {})})
	require.NoError(t, err)
	waitMain(t, s, counter)

	handler.mu.Lock()
	assert.Equal(t, 1, handler.calls)
	assert.Equal(t, "exploder", handler.taskName)
	assert.Equal(t, "boom", handler.info)
	assert.NotEmpty(t, handler.stack)
	handler.mu.Unlock()

	durations, panics, _, _ := metrics.snapshot()
	assert.Equal(t, 2, durations)
	assert.Equal(t, 1, panics)
	assert.Equal(t, uint64(1), s.Stats().TasksPanicked)
}

// TestTaskScheduler_BigFibers verifies size class selection
// Given: A scheduler with big fibers, and one without
// When: A big-fiber task is submitted to each
// Then: The first runs on a big fiber, the second is rejected
func TestTaskScheduler_BigFibers(t *testing.T) {
	s := newStartedScheduler(t, nil)
	var got atomic.Value

	task := NewTaskFunc(func(ctx context.Context) {
		got.Store(GetCurrentFiberContext(ctx).Type())
	})
	task.FiberType = FiberTypeBig
	counter, err := s.RunTasks(context.Background(), []Task{task})
	require.NoError(t, err)
	waitMain(t, s, counter)
	assert.Equal(t, FiberTypeBig, got.Load())

	small := newTestScheduler(t, func(c *Config) { c.BigFiberCount = 0 })
	big := NewTaskFunc(func(context.Context) {})
	big.FiberType = FiberTypeBig
	_, err = small.RunTasks(context.Background(), []Task{big})
	assert.ErrorIs(t, err, ErrInvalidFiberType)
}

// TestTaskScheduler_RejectsBadBatches verifies nothing is queued when a batch is invalid
// Given: A batch whose second task has no entry point
// When: It is submitted
// Then: ErrNilEntryPoint is returned and the counter is untouched
func TestTaskScheduler_RejectsBadBatches(t *testing.T) {
	s := newTestScheduler(t, nil)

	tasks := []Task{NewTaskFunc(func(context.Context) {}), {}}
	_, err := s.RunTasks(context.Background(), tasks)

	assert.ErrorIs(t, err, ErrNilEntryPoint)
	assert.Equal(t, int32(0), s.MainCounter().Get())
	assert.Equal(t, 0, s.Stats().Queued())

	thread := NewTaskFunc(func(context.Context) {})
	thread.FiberType = FiberTypeThread
	_, err = s.RunTasks(context.Background(), []Task{thread})
	assert.ErrorIs(t, err, ErrInvalidFiberType)
}

// TestTaskScheduler_LifecycleErrors verifies calls outside the initialized window
// Given: A scheduler before Initialize, after Initialize, and after Destroy
// When: Lifecycle and submission calls are made
// Then: The matching sentinel errors are returned
func TestTaskScheduler_LifecycleErrors(t *testing.T) {
	s := NewTaskScheduler(testConfig(nil))
	ctx := context.Background()

	_, err := s.RunTasks(ctx, []Task{NewTaskFunc(func(context.Context) {})})
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.ErrorIs(t, s.WaitForCounter(ctx, NewTaskCounter(), 0), ErrNotInitialized)
	assert.ErrorIs(t, s.Destroy(), ErrNotInitialized)

	require.NoError(t, s.Initialize())
	assert.ErrorIs(t, s.Initialize(), ErrAlreadyInitialized)
	assert.ErrorIs(t, s.WaitForCounter(ctx, nil, 0), ErrNilCounter)
	assert.ErrorIs(t, s.WaitForCounter(ctx, s.MainCounter(), -1), ErrInvalidTarget)

	require.NoError(t, s.Destroy())
	assert.ErrorIs(t, s.Destroy(), ErrNotInitialized)
	_, err = s.RunTasks(ctx, nil)
	assert.ErrorIs(t, err, ErrNotInitialized)

	bad := NewTaskScheduler(testConfig(func(c *Config) { c.SmallFiberCount = 0 }))
	assert.ErrorIs(t, bad.Initialize(), ErrInvalidConfig)
	assert.False(t, bad.IsInitialized())
}

// TestTaskScheduler_DestroyFromTask verifies a task cannot tear down its own scheduler
// Given: A running task
// When: It calls Destroy
// Then: ErrInvalidCallerContext is returned and the scheduler keeps running
func TestTaskScheduler_DestroyFromTask(t *testing.T) {
	s := newStartedScheduler(t, nil)
	var destroyErr atomic.Value

	task := NewTaskFunc(func(context.Context) {
		destroyErr.Store(s.Destroy())
	})
	counter, err := s.RunTasks(context.Background(), []Task{task})
	require.NoError(t, err)
	waitMain(t, s, counter)

	got, _ := destroyErr.Load().(error)
	assert.ErrorIs(t, got, ErrInvalidCallerContext)
	assert.True(t, s.IsInitialized())
}

// TestTaskScheduler_MainWaitHonorsContext verifies a blocked main thread can give up
// Given: A queued task and workers that were never started
// When: The main thread waits with a short deadline
// Then: The wait returns the context error
func TestTaskScheduler_MainWaitHonorsContext(t *testing.T) {
	s := newTestScheduler(t, nil)
	counter, err := s.RunTasks(context.Background(), []Task{NewTaskFunc(func(context.Context) {})})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = s.WaitForCounter(ctx, counter, 0)

	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, int32(1), counter.Get())
}

// TestTaskScheduler_ContextHelpers verifies the task context exposes its binding
// Given: A parent task spawning one child
// When: Both inspect their contexts
// Then: The child sees its parent, both see the scheduler, and plain contexts see nothing
func TestTaskScheduler_ContextHelpers(t *testing.T) {
	s := newStartedScheduler(t, nil)
	var parentTask, childParent atomic.Pointer[Task]
	var sameScheduler atomic.Bool
	var counters atomic.Bool

	parent := NewTaskFunc(func(ctx context.Context) {
		self := GetCurrentTask(ctx)
		parentTask.Store(self)
		fc := GetCurrentFiberContext(ctx)

		child := NewTaskFunc(func(ctx context.Context) {
			childParent.Store(GetCurrentTask(ctx).Parent())
			sameScheduler.Store(GetCurrentTaskScheduler(ctx) == s)
		})
		children := []Task{child}
		counter, err := s.RunTasks(ctx, children)
		if err != nil {
			return
		}
		counters.Store(counter == fc.ChildCounter() && children[0].Counter() == counter)
		_ = s.WaitForCounter(ctx, counter, 0)
	})

	counter, err := s.RunTasks(context.Background(), []Task{parent})
	require.NoError(t, err)
	waitMain(t, s, counter)

	require.NotNil(t, parentTask.Load())
	assert.Same(t, parentTask.Load(), childParent.Load())
	assert.True(t, sameScheduler.Load())
	assert.True(t, counters.Load())

	assert.Nil(t, GetCurrentTask(context.Background()))
	assert.Nil(t, GetCurrentFiberContext(context.Background()))
	assert.Nil(t, GetCurrentTaskScheduler(context.Background()))
}

// TestTaskScheduler_FibersReturnToPool verifies every leased fiber is released
// Given: A nested workload
// When: It has completed
// Then: Every fiber context is free again and nothing waits
func TestTaskScheduler_FibersReturnToPool(t *testing.T) {
	metrics := newRecordingMetrics()
	s := newStartedScheduler(t, func(c *Config) { c.Metrics = metrics })
	var sum atomic.Int64

	root := NewTaskFunc(func(ctx context.Context) {
		counter, err := s.RunTasks(ctx, additionBatch(&sum))
		if err == nil {
			_ = s.WaitForCounter(ctx, counter, 0)
		}
	})
	counter, err := s.RunTasks(context.Background(), []Task{root})
	require.NoError(t, err)
	waitMain(t, s, counter)

	assert.Eventually(t, func() bool {
		st := s.Stats()
		return st.SmallFibers.Free == st.SmallFibers.Capacity && st.WaitingFibers == 0
	}, testTimeout, time.Millisecond)
	for _, fc := range s.FiberPool().Contexts(FiberTypeSmall) {
		assert.Equal(t, FiberContextFree, fc.State())
	}

	durations, _, suspended, _ := metrics.snapshot()
	assert.Equal(t, 6, durations)
	assert.LessOrEqual(t, suspended, 1)
	metrics.mu.Lock()
	_, ok := metrics.queueDepth["high"]
	metrics.mu.Unlock()
	assert.True(t, ok)
	assert.Equal(t, uint64(6), s.Stats().TasksSubmitted)
}

// TestTaskScheduler_WakeMarksReadyToResume verifies a woken fiber is reported ready before it runs
// Given: A stopped scheduler and a leased fiber parked on a counter with one outstanding task
// When: That task completes
// Then: The fiber reads ReadyToResume, is counted as such and sits in the ready queue
func TestTaskScheduler_WakeMarksReadyToResume(t *testing.T) {
	s := newTestScheduler(t, nil)
	parent := NewTaskFunc(func(context.Context) {})
	fc, err := s.FiberPool().Lease(&parent)
	require.NoError(t, err)

	counter := NewTaskCounter()
	counter.FetchAndAdd(1)
	child := NewTaskFunc(func(context.Context) {})
	child.setCounter(counter)

	require.NoError(t, s.waitQueue.Enqueue(fc.id, fc.fiberType))
	fc.setState(FiberContextSuspended)
	require.NoError(t, counter.attachWaiter(fc.token(), 0))

	s.completeTask(&child)

	assert.Equal(t, FiberContextReadyToResume, fc.State())
	assert.Equal(t, 1, s.Stats().SmallFibers.ReadyToResume)
	assert.Equal(t, 0, s.Stats().SmallFibers.Suspended)
	assert.False(t, s.waitQueue.IsWaiting(fc.id, fc.fiberType))

	id, ok := s.waitQueue.Dequeue(FiberTypeSmall)
	require.True(t, ok)
	assert.Equal(t, fc.id, id)
}

// TestTaskScheduler_TaskBodiesFollowWorkerCore verifies task bodies run on pinned threads
// Given: Two pinned workers
// When: A task reads its thread before and after waiting for a child
// Then: Its OS thread is unchanged and its mask is the owning worker's core
func TestTaskScheduler_TaskBodiesFollowWorkerCore(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("thread ids and masks are only reported on linux")
	}
	s := newStartedScheduler(t, func(c *Config) { c.PinWorkers = true })
	for _, w := range s.Workers().Workers() {
		if err := w.thread.AffinityErr(); err != nil {
			t.Skipf("pinning not permitted here: %v", err)
		}
	}

	type sample struct {
		tid    platform.ThreadID
		core   int
		pinned int
		mask   []int
		err    error
	}
	var before, after sample
	read := func(fc *FiberContext, out *sample) {
		out.tid = platform.CurrentThreadID()
		out.core = fc.Owner().CoreAffinity()
		out.pinned = fc.PinnedCore()
		out.mask, out.err = platform.CurrentThreadAffinity()
	}

	root := NewTaskFunc(func(ctx context.Context) {
		fc := GetCurrentFiberContext(ctx)
		read(fc, &before)
		counter, err := s.RunTasks(ctx, []Task{NewTaskFunc(func(context.Context) {
			time.Sleep(5 * time.Millisecond)
		})})
		if err == nil {
			_ = s.WaitForCounter(ctx, counter, 0)
		}
		read(fc, &after)
	})
	counter, err := s.RunTasks(context.Background(), []Task{root})
	require.NoError(t, err)
	waitMain(t, s, counter)

	for _, smp := range []sample{before, after} {
		require.NoError(t, smp.err)
		assert.Equal(t, []int{smp.core}, smp.mask)
		assert.Equal(t, smp.core, smp.pinned)
	}
	assert.Equal(t, before.tid, after.tid)
}

// TestTaskScheduler_DestroyReleasesMainWaiter verifies teardown ends main-thread waits
// Given: A stopped scheduler with one queued task that never runs
// When: The main thread waits without a deadline and Destroy is called
// Then: The wait returns ErrNotInitialized
func TestTaskScheduler_DestroyReleasesMainWaiter(t *testing.T) {
	s := newTestScheduler(t, nil)
	counter, err := s.RunTasks(context.Background(), []Task{NewTaskFunc(func(context.Context) {})})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.WaitForCounter(context.Background(), counter, 0) }()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, s.Destroy())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrNotInitialized)
	case <-time.After(testTimeout):
		t.Fatal("WaitForCounter still blocked after Destroy")
	}
}
