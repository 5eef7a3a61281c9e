package core

import (
	"context"
	"time"
)

// =============================================================================
// PanicHandler: Interface for handling task panics
// =============================================================================

// PanicHandler is called when a task body panics. The task still counts as
// completed afterwards.
//
// Implementations should be thread-safe as they may be called concurrently.
type PanicHandler interface {
	// HandlePanic is called when a task panics.
	//
	// Parameters:
	// - ctx: The context of the panicked task
	// - taskName: Task.Name, possibly empty
	// - workerID: Index of the worker the fiber ran on, -1 if unknown
	// - panicInfo: The panic value recovered from the task
	// - stackTrace: The stack trace at the time of panic
	HandlePanic(ctx context.Context, taskName string, workerID int, panicInfo any, stackTrace []byte)
}

// DefaultPanicHandler logs the panic at error level.
type DefaultPanicHandler struct {
	Logger Logger
}

// HandlePanic logs panic information.
func (h *DefaultPanicHandler) HandlePanic(ctx context.Context, taskName string, workerID int, panicInfo any, stackTrace []byte) {
	logger := h.Logger
	if logger == nil {
		logger = NewDefaultLogger()
	}
	logger.Error("Task panicked",
		F("task", taskName),
		F("worker", workerID),
		F("panic", panicInfo),
		F("stack", string(stackTrace)))
}

// =============================================================================
// Metrics: Interface for observability and monitoring
// =============================================================================

// Metrics defines the interface for collecting scheduler metrics.
// Implementations can send metrics to monitoring systems (Prometheus, StatsD, etc.).
//
// Methods should be non-blocking and fast: they run on worker threads and
// inside fibers.
type Metrics interface {
	// RecordTaskDuration records how long a task took, including the time it
	// spent suspended.
	RecordTaskDuration(taskName string, priority TaskPriority, duration time.Duration)

	// RecordTaskPanic records that a task panicked during execution.
	RecordTaskPanic(taskName string, panicInfo any)

	// RecordQueueDepth records the depth of one task queue ("high", "mid", "low").
	RecordQueueDepth(queue string, depth int)

	// RecordFiberSuspended records a fiber parking on an outstanding counter.
	RecordFiberSuspended(sizeClass string)

	// RecordFiberPoolExhausted records a worker finding no free fiber of a size class.
	RecordFiberPoolExhausted(sizeClass string)
}

// NilMetrics provides a no-op metrics implementation that does nothing.
// This is the default when no metrics interface is provided.
type NilMetrics struct{}

// RecordTaskDuration is a no-op.
func (m *NilMetrics) RecordTaskDuration(taskName string, priority TaskPriority, duration time.Duration) {
}

// RecordTaskPanic is a no-op.
func (m *NilMetrics) RecordTaskPanic(taskName string, panicInfo any) {
}

// RecordQueueDepth is a no-op.
func (m *NilMetrics) RecordQueueDepth(queue string, depth int) {
}

// RecordFiberSuspended is a no-op.
func (m *NilMetrics) RecordFiberSuspended(sizeClass string) {
}

// RecordFiberPoolExhausted is a no-op.
func (m *NilMetrics) RecordFiberPoolExhausted(sizeClass string) {
}
