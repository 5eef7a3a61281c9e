package core

import (
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/Swind/go-fiber-scheduler/platform"
)

// WorkerThreadPool owns one WorkerThread per configured worker. Workers are
// created stopped; StartAll launches them, SignalQuitAll asks them to stop and
// WaitAll joins them.
//
// A pool created without a scheduler runs workers that only wait for quit.
type WorkerThreadPool struct {
	scheduler *TaskScheduler
	workers   []*WorkerThread
	logger    Logger

	started       atomic.Bool
	allTerminated atomic.Bool
}

// NewWorkerThreadPool creates count workers. When pin is set, worker i is
// pinned to core i modulo the hardware thread count.
func NewWorkerThreadPool(s *TaskScheduler, count int, pin bool, logger Logger) *WorkerThreadPool {
	if count <= 0 {
		count = platform.NumHardwareThreads()
	}
	if logger == nil {
		logger = NewNoOpLogger()
	}

	p := &WorkerThreadPool{
		scheduler: s,
		workers:   make([]*WorkerThread, count),
		logger:    logger,
	}
	cores := platform.NumHardwareThreads()
	for i := range p.workers {
		core := -1
		if pin {
			core = i % cores
		}
		p.workers[i] = newWorkerThread(i, core, s, logger)
	}
	return p
}

// StartAll starts every worker and returns once all of them run.
func (p *WorkerThreadPool) StartAll() error {
	if !p.started.CompareAndSwap(false, true) {
		return ErrWorkerAlreadyStarted
	}
	p.allTerminated.Store(false)

	var g errgroup.Group
	for _, w := range p.workers {
		g.Go(w.start)
	}
	if err := g.Wait(); err != nil {
		p.SignalQuitAll()
		p.WaitAll()
		return err
	}

	p.logger.Info("Worker threads started", F("workers", len(p.workers)))
	return nil
}

// SignalQuitAll asks every worker to leave its loop. Workers finish the fiber
// they are running first. Safe to call from inside a task.
func (p *WorkerThreadPool) SignalQuitAll() {
	for _, w := range p.workers {
		w.signalQuit()
	}
	if p.scheduler != nil {
		p.scheduler.wakeAll()
	}
}

// WaitAll blocks until every started worker has exited. It must not be called
// from inside a task.
func (p *WorkerThreadPool) WaitAll() {
	threads := make([]*platform.Thread, 0, len(p.workers))
	for _, w := range p.workers {
		threads = append(threads, w.thread)
	}
	platform.JoinThreads(threads...)
	p.allTerminated.Store(true)
}

// Destroy stops and joins every worker.
func (p *WorkerThreadPool) Destroy() {
	p.SignalQuitAll()
	p.WaitAll()
}

// AllTerminated reports whether WaitAll has observed every worker exit.
func (p *WorkerThreadPool) AllTerminated() bool {
	return p.allTerminated.Load()
}

// Len returns the number of workers.
func (p *WorkerThreadPool) Len() int {
	return len(p.workers)
}

// FirstThread returns worker 0.
func (p *WorkerThreadPool) FirstThread() *WorkerThread {
	if len(p.workers) == 0 {
		return nil
	}
	return p.workers[0]
}

// Workers returns every worker.
func (p *WorkerThreadPool) Workers() []*WorkerThread {
	return p.workers
}

// GetWorkerThreadByID returns the worker running on OS thread id, nil if none does.
func (p *WorkerThreadPool) GetWorkerThreadByID(id platform.ThreadID) *WorkerThread {
	for _, w := range p.workers {
		if w.ThreadID() == id && w.thread != nil {
			return w
		}
	}
	return nil
}

// ownsGoroutine reports whether gid is one of the worker loop goroutines.
func (p *WorkerThreadPool) ownsGoroutine(gid uint64) bool {
	for _, w := range p.workers {
		if w.goid.Load() == gid {
			return true
		}
	}
	return false
}

// Stats returns a snapshot of every worker.
func (p *WorkerThreadPool) Stats() []WorkerStats {
	out := make([]WorkerStats, len(p.workers))
	for i, w := range p.workers {
		out[i] = w.Stats()
	}
	return out
}
