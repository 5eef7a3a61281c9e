// Package platform provides the operating-system facing primitives the
// scheduler is built on: OS threads pinned to CPU cores, the number of
// hardware threads, and switchable fibers.
//
// Everything in this package is deliberately small. The scheduling policy
// lives in package core; this package only knows how to start, pin, join and
// switch.
package platform

import (
	"errors"
	"runtime"
	"sync/atomic"
)

var (
	// ErrNilEntryPoint is returned when a thread or fiber is created without an entry point.
	ErrNilEntryPoint = errors.New("platform: nil entry point")

	// ErrAffinityUnsupported is returned by SetCurrentThreadAffinity on platforms without CPU pinning.
	ErrAffinityUnsupported = errors.New("platform: thread affinity not supported")
)

// ThreadID identifies an OS thread.
type ThreadID int64

// ThreadEntryPoint is the body of an OS thread.
type ThreadEntryPoint func(arg any)

// ThreadOptions describes how a thread is created.
type ThreadOptions struct {
	// StackSize is recorded for diagnostics. Go manages thread stacks itself.
	StackSize int

	// CoreAffinity pins the thread to one CPU core. Negative disables pinning.
	CoreAffinity int
}

// Thread is a goroutine locked to its own OS thread for its whole life.
type Thread struct {
	id          atomic.Int64
	opts        ThreadOptions
	affinityErr error
	started     chan struct{}
	done        chan struct{}
}

// CreateThread starts entry(arg) on a dedicated OS thread and returns once the
// thread is running and (optionally) pinned.
//
// A failure to pin is not fatal: the thread still runs and AffinityErr reports
// why pinning failed.
func CreateThread(entry ThreadEntryPoint, arg any, opts ThreadOptions) (*Thread, error) {
	if entry == nil {
		return nil, ErrNilEntryPoint
	}

	t := &Thread{
		opts:    opts,
		started: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go t.run(entry, arg)
	<-t.started
	return t, nil
}

func (t *Thread) run(entry ThreadEntryPoint, arg any) {
	defer close(t.done)

	runtime.LockOSThread()
	pinned := false
	if t.opts.CoreAffinity >= 0 {
		t.affinityErr = SetCurrentThreadAffinity(t.opts.CoreAffinity)
		pinned = t.affinityErr == nil
	}
	if !pinned {
		// An unpinned thread can go back to the runtime when we are done.
		defer runtime.UnlockOSThread()
	}
	// A pinned thread stays locked so the runtime destroys it on exit instead
	// of reusing a thread with a narrowed CPU mask.

	t.id.Store(int64(CurrentThreadID()))
	close(t.started)

	entry(arg)
}

// ID returns the OS thread id.
func (t *Thread) ID() ThreadID {
	return ThreadID(t.id.Load())
}

// CoreAffinity returns the requested core, or -1 when unpinned.
func (t *Thread) CoreAffinity() int {
	if t.opts.CoreAffinity < 0 {
		return -1
	}
	return t.opts.CoreAffinity
}

// AffinityErr reports why pinning failed, nil when pinned or not requested.
func (t *Thread) AffinityErr() error {
	return t.affinityErr
}

// Done is closed when the thread entry point returns.
func (t *Thread) Done() <-chan struct{} {
	return t.done
}

// Join blocks until the thread entry point returns.
func (t *Thread) Join() {
	<-t.done
}

// JoinThreads blocks until every given thread has finished. Nil entries are skipped.
func JoinThreads(threads ...*Thread) {
	for _, t := range threads {
		if t != nil {
			t.Join()
		}
	}
}

// NumHardwareThreads returns the number of logical CPUs usable by the process.
func NumHardwareThreads() int {
	return runtime.NumCPU()
}

// GoroutineID returns the id of the calling goroutine.
func GoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}
