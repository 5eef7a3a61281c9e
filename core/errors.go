package core

import "errors"

var (
	// ErrNotInitialized is returned by scheduler operations before Initialize or after Destroy.
	ErrNotInitialized = errors.New("task scheduler is not initialized")

	// ErrAlreadyInitialized is returned when Initialize is called twice without Destroy.
	ErrAlreadyInitialized = errors.New("task scheduler is already initialized")

	// ErrInvalidCallerContext is returned when RunTasks or WaitForCounter is called
	// from a context that is neither the main thread nor a running task fiber.
	ErrInvalidCallerContext = errors.New("caller is neither the main thread nor a running task")

	// ErrCounterAlreadySatisfied is returned when a task waits on a counter that
	// already reached its target.
	ErrCounterAlreadySatisfied = errors.New("task counter already reached target")

	// ErrCounterHasWaiter is returned when a second fiber tries to wait on a counter
	// that already has a fiber waiting on it.
	ErrCounterHasWaiter = errors.New("task counter already has a waiting fiber")

	// ErrCounterUnderflow is returned when a counter is decremented below zero.
	ErrCounterUnderflow = errors.New("task counter decremented below zero")

	// ErrInvalidTarget is returned for negative or out of range wait targets.
	ErrInvalidTarget = errors.New("invalid task counter target")

	// ErrNilCounter is returned when a nil counter is passed to WaitForCounter.
	ErrNilCounter = errors.New("nil task counter")

	// ErrNilEntryPoint is returned when a task has no entry point.
	ErrNilEntryPoint = errors.New("task has no entry point")

	// ErrTooManyTasks is returned when a batch does not fit in a task counter.
	ErrTooManyTasks = errors.New("too many tasks in one batch")

	// ErrAlreadyWaiting is returned when a fiber is registered in the wait set twice.
	ErrAlreadyWaiting = errors.New("fiber context is already waiting")

	// ErrNotWaiting is returned when a fiber that is not waiting is moved to the ready queue.
	ErrNotWaiting = errors.New("fiber context is not waiting")

	// ErrFiberPoolExhausted is returned when no free fiber context of the requested size is left.
	ErrFiberPoolExhausted = errors.New("fiber context pool exhausted")

	// ErrInvalidFiberID is returned for fiber ids outside the pool.
	ErrInvalidFiberID = errors.New("invalid fiber context id")

	// ErrInvalidFiberType is returned for size classes that are not pooled.
	ErrInvalidFiberType = errors.New("invalid fiber context type")

	// ErrFiberStillBound is returned when a bound fiber context is returned to the free list.
	ErrFiberStillBound = errors.New("fiber context is still bound to a task")

	// ErrFiberNotLeased is returned when a fiber context that is not leased is freed or bound.
	ErrFiberNotLeased = errors.New("fiber context is not leased")

	// ErrWorkerAlreadyStarted is returned when a worker thread is started twice.
	ErrWorkerAlreadyStarted = errors.New("worker thread already started")

	// ErrInvalidConfig is returned by Config.Validate.
	ErrInvalidConfig = errors.New("invalid task scheduler config")
)
