package core

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testTimeout = 10 * time.Second

func testConfig(mutate func(*Config)) *Config {
	cfg := DefaultConfig()
	cfg.Name = "test"
	cfg.WorkerCount = 2
	cfg.PinWorkers = false
	cfg.SmallFiberCount = 16
	cfg.BigFiberCount = 2
	cfg.Logger = NewNoOpLogger()
	if mutate != nil {
		mutate(cfg)
	}
	return cfg
}

// newTestScheduler returns an initialized scheduler with stopped workers.
func newTestScheduler(t *testing.T, mutate func(*Config)) *TaskScheduler {
	t.Helper()
	s := NewTaskScheduler(testConfig(mutate))
	require.NoError(t, s.Initialize())
	t.Cleanup(func() {
		if s.IsInitialized() {
			_ = s.Destroy()
		}
	})
	return s
}

func newStartedScheduler(t *testing.T, mutate func(*Config)) *TaskScheduler {
	t.Helper()
	s := newTestScheduler(t, mutate)
	require.NoError(t, s.Workers().StartAll())
	return s
}

func waitMain(t *testing.T, s *TaskScheduler, counter *TaskCounter) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	require.NoError(t, s.WaitForCounter(ctx, counter, 0))
}

// recordingMetrics counts calls per method.
type recordingMetrics struct {
	mu         sync.Mutex
	durations  int
	panics     int
	suspended  int
	exhausted  int
	queueDepth map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{queueDepth: make(map[string]int)}
}

func (m *recordingMetrics) RecordTaskDuration(string, TaskPriority, time.Duration) {
	m.mu.Lock()
	m.durations++
	m.mu.Unlock()
}

func (m *recordingMetrics) RecordTaskPanic(string, any) {
	m.mu.Lock()
	m.panics++
	m.mu.Unlock()
}

func (m *recordingMetrics) RecordQueueDepth(queue string, depth int) {
	m.mu.Lock()
	m.queueDepth[queue] = depth
	m.mu.Unlock()
}

func (m *recordingMetrics) RecordFiberSuspended(string) {
	m.mu.Lock()
	m.suspended++
	m.mu.Unlock()
}

func (m *recordingMetrics) RecordFiberPoolExhausted(string) {
	m.mu.Lock()
	m.exhausted++
	m.mu.Unlock()
}

func (m *recordingMetrics) snapshot() (durations, panics, suspended, exhausted int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.durations, m.panics, m.suspended, m.exhausted
}

// recordingPanicHandler keeps the last panic.
type recordingPanicHandler struct {
	mu       sync.Mutex
	calls    int
	taskName string
	info     any
	stack    []byte
}

func (h *recordingPanicHandler) HandlePanic(_ context.Context, taskName string, _ int, panicInfo any, stackTrace []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	h.taskName = taskName
	h.info = panicInfo
	h.stack = stackTrace
}

// lockedBuffer is a bytes.Buffer safe for concurrent log writers.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
