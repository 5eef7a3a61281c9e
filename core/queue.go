package core

import "sync/atomic"

// =============================================================================
// ConcurrentQueue: lock-free multi-producer multi-consumer FIFO
// =============================================================================

type queueNode[T any] struct {
	value T
	next  atomic.Pointer[queueNode[T]]
}

// ConcurrentQueue is an unbounded Michael-Scott queue. Any goroutine may
// enqueue or dequeue concurrently; no call blocks.
type ConcurrentQueue[T any] struct {
	head atomic.Pointer[queueNode[T]]
	tail atomic.Pointer[queueNode[T]]
	len  atomic.Int64 // approximate
}

// NewConcurrentQueue creates an empty queue.
func NewConcurrentQueue[T any]() *ConcurrentQueue[T] {
	q := &ConcurrentQueue[T]{}
	stub := &queueNode[T]{}
	q.head.Store(stub)
	q.tail.Store(stub)
	return q
}

// Enqueue appends v.
func (q *ConcurrentQueue[T]) Enqueue(v T) {
	n := &queueNode[T]{value: v}
	for {
		tail := q.tail.Load()
		next := tail.next.Load()
		if tail != q.tail.Load() {
			continue
		}
		if next != nil {
			// Tail is lagging; help it along.
			q.tail.CompareAndSwap(tail, next)
			continue
		}
		if tail.next.CompareAndSwap(nil, n) {
			q.tail.CompareAndSwap(tail, n)
			q.len.Add(1)
			return
		}
	}
}

// Dequeue pops the oldest value. ok is false when the queue is empty.
func (q *ConcurrentQueue[T]) Dequeue() (v T, ok bool) {
	for {
		head := q.head.Load()
		tail := q.tail.Load()
		next := head.next.Load()
		if head != q.head.Load() {
			continue
		}
		if next == nil {
			return v, false
		}
		if head == tail {
			q.tail.CompareAndSwap(tail, next)
			continue
		}
		// next.value is not cleared: a slower dequeuer may still read it.
		val := next.value
		if q.head.CompareAndSwap(head, next) {
			q.len.Add(-1)
			return val, true
		}
	}
}

// Len returns the approximate number of queued values.
func (q *ConcurrentQueue[T]) Len() int {
	if n := q.len.Load(); n > 0 {
		return int(n)
	}
	return 0
}

// IsEmpty reports whether the queue looked empty at the time of the call.
func (q *ConcurrentQueue[T]) IsEmpty() bool {
	return q.head.Load().next.Load() == nil
}

// Clear drops every queued value.
func (q *ConcurrentQueue[T]) Clear() {
	for {
		if _, ok := q.Dequeue(); !ok {
			return
		}
	}
}

// =============================================================================
// TaskQueue: one priority level of pending tasks
// =============================================================================

// TaskQueuePriority names the three task queues.
type TaskQueuePriority int

const (
	TaskQueueHigh TaskQueuePriority = iota
	TaskQueueMid
	TaskQueueLow
	taskQueueCount
)

func (p TaskQueuePriority) String() string {
	switch p {
	case TaskQueueHigh:
		return "high"
	case TaskQueueMid:
		return "mid"
	case TaskQueueLow:
		return "low"
	default:
		return "unknown"
	}
}

// queueFor maps a task priority onto its queue.
func queueFor(p TaskPriority) TaskQueuePriority {
	switch p {
	case TaskPriorityUserBlocking:
		return TaskQueueHigh
	case TaskPriorityUserVisible:
		return TaskQueueMid
	default:
		return TaskQueueLow
	}
}

// TaskQueue holds tasks waiting for a fiber. The tasks themselves stay owned
// by the producer; the queue only keeps pointers.
type TaskQueue struct {
	priority TaskQueuePriority
	q        *ConcurrentQueue[*Task]
}

// NewTaskQueue creates an empty queue for one priority level.
func NewTaskQueue(priority TaskQueuePriority) *TaskQueue {
	return &TaskQueue{priority: priority, q: NewConcurrentQueue[*Task]()}
}

// Enqueue appends one task.
func (tq *TaskQueue) Enqueue(t *Task) {
	tq.q.Enqueue(t)
}

// EnqueueRange appends every task of the slice, in order.
func (tq *TaskQueue) EnqueueRange(tasks []Task) {
	for i := range tasks {
		tq.q.Enqueue(&tasks[i])
	}
}

// Dequeue pops the oldest task, nil and false when empty.
func (tq *TaskQueue) Dequeue() (*Task, bool) {
	return tq.q.Dequeue()
}

// Len returns the approximate number of queued tasks.
func (tq *TaskQueue) Len() int {
	return tq.q.Len()
}

func (tq *TaskQueue) IsEmpty() bool {
	return tq.q.IsEmpty()
}

// Clear drops every queued task.
func (tq *TaskQueue) Clear() {
	tq.q.Clear()
}

// Name returns "high", "mid" or "low".
func (tq *TaskQueue) Name() string {
	return tq.priority.String()
}

func (tq *TaskQueue) Priority() TaskQueuePriority {
	return tq.priority
}
