package fibersched

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/Swind/go-fiber-scheduler/core"
)

// =============================================================================
// Global Task Scheduler (Singleton)
// =============================================================================

var (
	globalScheduler atomic.Pointer[core.TaskScheduler]
	globalMu        sync.Mutex // serializes Initialize and Destroy only
)

// InitializeTaskScheduler creates and initializes the process-wide scheduler.
// Workers are created stopped; call StartWorkers to run tasks. A nil cfg means
// core.DefaultConfig.
func InitializeTaskScheduler(cfg *core.Config) error {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalScheduler.Load() != nil {
		return core.ErrAlreadyInitialized
	}

	s := core.NewTaskScheduler(cfg)
	if err := s.Initialize(); err != nil {
		return err
	}
	globalScheduler.Store(s)
	return nil
}

// DestroyTaskScheduler stops the workers, tears the scheduler down and clears
// the global handle. It must not be called from inside a task.
func DestroyTaskScheduler() error {
	globalMu.Lock()
	defer globalMu.Unlock()

	s := globalScheduler.Load()
	if s == nil {
		return core.ErrNotInitialized
	}

	err := s.Destroy()
	if errors.Is(err, core.ErrInvalidCallerContext) {
		return err
	}
	globalScheduler.Store(nil)
	return err
}

// GetTaskScheduler returns the global scheduler, nil when none is initialized.
func GetTaskScheduler() *core.TaskScheduler {
	return globalScheduler.Load()
}

func mustScheduler() (*core.TaskScheduler, error) {
	s := globalScheduler.Load()
	if s == nil {
		return nil, core.ErrNotInitialized
	}
	return s, nil
}

// StartWorkers starts every worker thread of the global scheduler.
func StartWorkers() error {
	s, err := mustScheduler()
	if err != nil {
		return err
	}
	return s.Workers().StartAll()
}

// SignalQuitAll asks every worker of the global scheduler to stop. It may be
// called from inside a task.
func SignalQuitAll() error {
	s, err := mustScheduler()
	if err != nil {
		return err
	}
	s.Workers().SignalQuitAll()
	return nil
}

// WaitAll joins every worker of the global scheduler.
func WaitAll() error {
	s, err := mustScheduler()
	if err != nil {
		return err
	}
	s.Workers().WaitAll()
	return nil
}

// RunTasks submits tasks to the global scheduler at the highest priority.
func RunTasks(ctx context.Context, tasks []Task) (*TaskCounter, error) {
	s, err := mustScheduler()
	if err != nil {
		return nil, err
	}
	return s.RunTasks(ctx, tasks)
}

// RunTasksWithPriority submits tasks to the global scheduler's queue for priority.
func RunTasksWithPriority(ctx context.Context, tasks []Task, priority TaskPriority) (*TaskCounter, error) {
	s, err := mustScheduler()
	if err != nil {
		return nil, err
	}
	return s.RunTasksWithPriority(ctx, tasks, priority)
}

// WaitForCounter waits on the global scheduler until counter drops to target.
func WaitForCounter(ctx context.Context, counter *TaskCounter, target int32) error {
	s, err := mustScheduler()
	if err != nil {
		return err
	}
	return s.WaitForCounter(ctx, counter, target)
}
