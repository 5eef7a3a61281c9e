package core

import (
	"context"
	"runtime/debug"
)

// TaskEntryPoint is the body of a task. data is the task's payload; its layout
// is owned by the task author.
type TaskEntryPoint func(ctx context.Context, data any)

// =============================================================================
// TaskPriority: selects one of the three task queues
// =============================================================================

type TaskPriority int

const (
	// TaskPriorityBestEffort: Lowest priority, served from the low queue
	TaskPriorityBestEffort TaskPriority = iota

	// TaskPriorityUserVisible: served from the mid queue
	TaskPriorityUserVisible

	// TaskPriorityUserBlocking: Highest priority, served from the high queue.
	// RunTasks uses this priority.
	TaskPriorityUserBlocking
)

func (p TaskPriority) String() string {
	switch p {
	case TaskPriorityUserBlocking:
		return "user_blocking"
	case TaskPriorityUserVisible:
		return "user_visible"
	case TaskPriorityBestEffort:
		return "best_effort"
	default:
		return "unknown"
	}
}

// =============================================================================
// Task: unit of work
// =============================================================================

// Task is a unit of work: an entry point and its payload.
//
// The producer owns the Task values. RunTasks keeps pointers into the slice it
// is given, so the slice must stay alive and untouched until the returned
// counter reaches zero.
type Task struct {
	Entry TaskEntryPoint
	Data  any

	// Name is used in logs and metrics.
	Name string

	// FiberType selects the fiber size class. The zero value is FiberTypeSmall;
	// use FiberTypeBig for deep call stacks.
	FiberType FiberType

	counter  *TaskCounter
	parent   *Task
	owner    *FiberContext
	priority TaskPriority
}

// NewTask creates a task running entry with data as payload.
func NewTask(entry TaskEntryPoint, data any) Task {
	return Task{Entry: entry, Data: data}
}

// NewTaskFunc creates a task from a closure.
func NewTaskFunc(fn func(ctx context.Context)) Task {
	return Task{Entry: func(ctx context.Context, _ any) { fn(ctx) }}
}

// Counter returns the counter shared by the task's batch.
func (t *Task) Counter() *TaskCounter {
	return t.counter
}

// Parent returns the task that spawned this one, nil when spawned from the main thread.
func (t *Task) Parent() *Task {
	return t.parent
}

// FiberContext returns the fiber context executing the task, nil when not bound.
func (t *Task) FiberContext() *FiberContext {
	return t.owner
}

// Priority returns the priority the task was queued with.
func (t *Task) Priority() TaskPriority {
	return t.priority
}

func (t *Task) setCounter(counter *TaskCounter) {
	t.counter = counter
}

func (t *Task) setParent(parent *Task) {
	t.parent = parent
}

func (t *Task) setFiberContext(fc *FiberContext) {
	t.owner = fc
}

// execute runs the entry point and reports whether it panicked. A panic is
// reported and swallowed: the scheduler only knows completed tasks.
func (t *Task) execute(ctx context.Context, s *TaskScheduler, workerID int) (panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			s.panicHandler.HandlePanic(ctx, t.Name, workerID, r, debug.Stack())
			s.metrics.RecordTaskPanic(t.Name, r)
		}
	}()
	t.Entry(ctx, t.Data)
	return false
}
