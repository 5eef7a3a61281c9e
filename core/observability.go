package core

// SchedulerStats represents runtime observability state for a task scheduler.
type SchedulerStats struct {
	ID          string
	Name        string
	Initialized bool

	HighQueued int
	MidQueued  int
	LowQueued  int

	SmallFibers FiberPoolStats
	BigFibers   FiberPoolStats

	WaitingFibers int
	ReadySmall    int
	ReadyBig      int

	MainCounter int32

	TasksSubmitted uint64
	TasksCompleted uint64
	TasksPanicked  uint64

	Workers []WorkerStats
}

// Queued returns the number of tasks waiting in all three queues.
func (s SchedulerStats) Queued() int {
	return s.HighQueued + s.MidQueued + s.LowQueued
}

// FiberPoolStats represents one size class of the fiber context pool.
type FiberPoolStats struct {
	Type          string
	Capacity      int
	StackSize     int
	Free          int
	Leased        int
	Running       int
	Suspended     int
	ReadyToResume int
}

// WorkerStats represents one worker thread.
type WorkerStats struct {
	Index            int
	ThreadID         int64
	Core             int
	Running          bool
	CurrentFiber     FiberID
	CurrentFiberType string
	HasPendingTask   bool
	TasksStarted     uint64
	FibersResumed    uint64
	PoolExhaustions  uint64
}
