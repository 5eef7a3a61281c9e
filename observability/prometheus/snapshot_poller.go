package prometheus

import (
	"context"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/Swind/go-fiber-scheduler/core"
)

// SchedulerSnapshotProvider provides current scheduler stats snapshots.
// *core.TaskScheduler implements it.
type SchedulerSnapshotProvider interface {
	Stats() core.SchedulerStats
}

// SnapshotPoller periodically exports scheduler Stats() snapshots into Prometheus gauges.
type SnapshotPoller struct {
	interval time.Duration

	schedulersMu sync.RWMutex
	schedulers   map[string]SchedulerSnapshotProvider

	initialized    *prom.GaugeVec
	queued         *prom.GaugeVec
	fibersFree     *prom.GaugeVec
	fibersLeased   *prom.GaugeVec
	fibersWaiting  *prom.GaugeVec
	fibersReady    *prom.GaugeVec
	workersRunning *prom.GaugeVec
	tasksSubmitted *prom.GaugeVec
	tasksCompleted *prom.GaugeVec

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func newGauge(name, help string, labels ...string) *prom.GaugeVec {
	return prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "fibersched",
		Name:      name,
		Help:      help,
	}, labels)
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	p := &SnapshotPoller{
		interval:       interval,
		schedulers:     make(map[string]SchedulerSnapshotProvider),
		initialized:    newGauge("scheduler_initialized", "Scheduler state (1=initialized, 0=destroyed).", "scheduler"),
		queued:         newGauge("tasks_queued", "Tasks waiting for a fiber per queue.", "scheduler", "queue"),
		fibersFree:     newGauge("fibers_free", "Free fiber contexts per size class.", "scheduler", "size_class"),
		fibersLeased:   newGauge("fibers_leased", "Leased fiber contexts per size class.", "scheduler", "size_class"),
		fibersWaiting:  newGauge("fibers_waiting", "Fibers suspended on an outstanding counter.", "scheduler"),
		fibersReady:    newGauge("fibers_ready", "Fibers ready to resume per size class.", "scheduler", "size_class"),
		workersRunning: newGauge("workers_running", "Worker threads with a live loop.", "scheduler"),
		tasksSubmitted: newGauge("tasks_submitted", "Tasks submitted snapshot.", "scheduler"),
		tasksCompleted: newGauge("tasks_completed", "Tasks completed snapshot.", "scheduler"),
	}

	for _, g := range []**prom.GaugeVec{
		&p.initialized, &p.queued, &p.fibersFree, &p.fibersLeased, &p.fibersWaiting,
		&p.fibersReady, &p.workersRunning, &p.tasksSubmitted, &p.tasksCompleted,
	} {
		registered, err := registerCollector(reg, *g)
		if err != nil {
			return nil, err
		}
		*g = registered
	}
	return p, nil
}

// AddScheduler adds or replaces a scheduler snapshot provider by name.
func (p *SnapshotPoller) AddScheduler(name string, provider SchedulerSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "scheduler")
	p.schedulersMu.Lock()
	p.schedulers[name] = provider
	p.schedulersMu.Unlock()
}

// RemoveScheduler removes a scheduler snapshot provider by name.
func (p *SnapshotPoller) RemoveScheduler(name string) {
	if p == nil {
		return
	}
	p.schedulersMu.Lock()
	delete(p.schedulers, normalizeLabel(name, "scheduler"))
	p.schedulersMu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.running {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.stateMu.Unlock()

	go p.loop(pollCtx)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.stateMu.Lock()
	p.running = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

func (p *SnapshotPoller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.collectOnce()
		}
	}
}

func (p *SnapshotPoller) collectOnce() {
	p.schedulersMu.RLock()
	defer p.schedulersMu.RUnlock()

	for name, provider := range p.schedulers {
		st := provider.Stats()

		if st.Initialized {
			p.initialized.WithLabelValues(name).Set(1)
		} else {
			p.initialized.WithLabelValues(name).Set(0)
		}
		p.queued.WithLabelValues(name, "high").Set(float64(st.HighQueued))
		p.queued.WithLabelValues(name, "mid").Set(float64(st.MidQueued))
		p.queued.WithLabelValues(name, "low").Set(float64(st.LowQueued))

		for _, fp := range []core.FiberPoolStats{st.SmallFibers, st.BigFibers} {
			class := normalizeLabel(fp.Type, "unknown")
			p.fibersFree.WithLabelValues(name, class).Set(float64(fp.Free))
			p.fibersLeased.WithLabelValues(name, class).Set(float64(fp.Leased))
		}
		p.fibersWaiting.WithLabelValues(name).Set(float64(st.WaitingFibers))
		p.fibersReady.WithLabelValues(name, "small").Set(float64(st.ReadySmall))
		p.fibersReady.WithLabelValues(name, "big").Set(float64(st.ReadyBig))

		running := 0
		for _, w := range st.Workers {
			if w.Running {
				running++
			}
		}
		p.workersRunning.WithLabelValues(name).Set(float64(running))
		p.tasksSubmitted.WithLabelValues(name).Set(float64(st.TasksSubmitted))
		p.tasksCompleted.WithLabelValues(name).Set(float64(st.TasksCompleted))
	}
}
