package core

import "context"

// =============================================================================
// Context Helper
// =============================================================================

// binding ties a task body's context to the fiber that runs it. generation
// changes on every bind, so a context kept past its task no longer matches.
type binding struct {
	scheduler  *TaskScheduler
	fiber      *FiberContext
	task       *Task
	generation uint64
}

type bindingKeyType struct{}

var bindingKey bindingKeyType

func withBinding(ctx context.Context, b *binding) context.Context {
	return context.WithValue(ctx, bindingKey, b)
}

func bindingFrom(ctx context.Context) *binding {
	if ctx == nil {
		return nil
	}
	if v := ctx.Value(bindingKey); v != nil {
		return v.(*binding)
	}
	return nil
}

// live reports whether the binding still describes the fiber's current task.
func (b *binding) live() bool {
	return b.fiber != nil &&
		b.fiber.generation.Load() == b.generation &&
		b.fiber.Task() == b.task
}

// GetCurrentFiberContext returns the fiber running the task that owns ctx.
func GetCurrentFiberContext(ctx context.Context) *FiberContext {
	if b := bindingFrom(ctx); b != nil && b.live() {
		return b.fiber
	}
	return nil
}

// GetCurrentTask returns the task that owns ctx.
func GetCurrentTask(ctx context.Context) *Task {
	if b := bindingFrom(ctx); b != nil && b.live() {
		return b.task
	}
	return nil
}

// GetCurrentTaskScheduler returns the scheduler running the task that owns ctx.
func GetCurrentTaskScheduler(ctx context.Context) *TaskScheduler {
	if b := bindingFrom(ctx); b != nil {
		return b.scheduler
	}
	return nil
}
