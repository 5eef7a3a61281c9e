package fibersched

import "github.com/Swind/go-fiber-scheduler/core"

// Re-export commonly used types from core package for convenience.
// This allows users to import only the fibersched package for most use cases.

// Task is the unit of work (entry point + payload)
type Task = core.Task

// TaskEntryPoint is the body of a task
type TaskEntryPoint = core.TaskEntryPoint

// TaskCounter tracks the outstanding tasks of a batch
type TaskCounter = core.TaskCounter

// TaskPriority selects the queue a batch goes to
type TaskPriority = core.TaskPriority

// FiberType selects the fiber size class of a task
type FiberType = core.FiberType

// Config holds the scheduler tunables
type Config = core.Config

// Priority constants
const (
	TaskPriorityBestEffort   TaskPriority = core.TaskPriorityBestEffort
	TaskPriorityUserVisible  TaskPriority = core.TaskPriorityUserVisible
	TaskPriorityUserBlocking TaskPriority = core.TaskPriorityUserBlocking
)

// Fiber size classes
const (
	FiberTypeSmall FiberType = core.FiberTypeSmall
	FiberTypeBig   FiberType = core.FiberTypeBig
)

// Convenience constructors
var (
	NewTask       = core.NewTask
	NewTaskFunc   = core.NewTaskFunc
	DefaultConfig = core.DefaultConfig
	LoadConfig    = core.LoadConfig
	ParseConfig   = core.ParseConfig
)
