// Package fibersched provides a fiber-based fine-grained task scheduler.
//
// Work is split into small tasks that run on a fixed pool of worker threads,
// one per hardware thread and pinned to its core. Every task runs on a pooled
// fiber; with pinning on, each fiber holds its own OS thread and moves it to
// the core of whichever worker switches into it. A task can wait for tasks it spawned without blocking its worker: the
// fiber is parked and the worker picks up other work until the last child
// completes and the fiber is queued to resume.
//
// # Quick Start
//
// Initialize the global scheduler at application startup:
//
//	if err := fibersched.InitializeTaskScheduler(nil); err != nil {
//		log.Fatal(err)
//	}
//	defer fibersched.DestroyTaskScheduler()
//	fibersched.StartWorkers()
//
// Submit a batch and wait for it:
//
//	tasks := []fibersched.Task{
//		fibersched.NewTaskFunc(func(ctx context.Context) { work(1) }),
//		fibersched.NewTaskFunc(func(ctx context.Context) { work(2) }),
//	}
//	counter, err := fibersched.RunTasks(context.Background(), tasks)
//	if err != nil {
//		return err
//	}
//	err = fibersched.WaitForCounter(context.Background(), counter, 0)
//
// # Key Concepts
//
// Task: an entry point plus payload. The caller owns the slice of tasks and
// must keep it untouched until the batch completed.
//
// TaskCounter: the number of outstanding tasks of a batch. Waiting means
// waiting for it to drop to a target, usually 0.
//
// Caller identity: RunTasks and WaitForCounter behave differently for the
// main thread (any goroutine outside the scheduler) and for a running task.
// Inside a task, pass the task's own ctx. Batches spawned there become
// children of the task, and waiting suspends the fiber instead of blocking.
//
// Fiber pool: fiber contexts are preallocated, 128 small and 32 big by
// default. When all are busy, workers hold the next task until one is free.
// A workload where every fiber waits for tasks that cannot get a fiber will
// deadlock; size the pool for the deepest fan-out.
package fibersched
