package core

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Swind/go-fiber-scheduler/platform"
)

const (
	DefaultSmallFiberCount     = 128
	DefaultBigFiberCount       = 32
	DefaultSmallFiberStackSize = 64 * 1024
	DefaultBigFiberStackSize   = 512 * 1024
	DefaultIdlePollInterval    = time.Millisecond
)

// =============================================================================
// Config: Configuration for TaskScheduler
// =============================================================================

// Config holds the tunables of a TaskScheduler. Handlers are optional; nil
// handlers are replaced by defaults.
type Config struct {
	// Name shows up in logs and stats.
	Name string `yaml:"name"`

	// WorkerCount is the number of worker threads. 0 means one per hardware thread.
	WorkerCount int `yaml:"worker_count"`

	// PinWorkers pins worker i to core i modulo the hardware thread count.
	PinWorkers bool `yaml:"pin_workers"`

	SmallFiberCount     int `yaml:"small_fiber_count"`
	BigFiberCount       int `yaml:"big_fiber_count"`
	SmallFiberStackSize int `yaml:"small_fiber_stack_size"`
	BigFiberStackSize   int `yaml:"big_fiber_stack_size"`

	// IdlePollInterval bounds how long an idle worker sleeps without a wake signal.
	IdlePollInterval time.Duration `yaml:"idle_poll_interval"`

	Logger       Logger       `yaml:"-"`
	PanicHandler PanicHandler `yaml:"-"`
	Metrics      Metrics      `yaml:"-"`
}

// DefaultConfig returns the default pool sizes with default handlers.
func DefaultConfig() *Config {
	return &Config{
		Name:                "fibersched",
		PinWorkers:          true,
		SmallFiberCount:     DefaultSmallFiberCount,
		BigFiberCount:       DefaultBigFiberCount,
		SmallFiberStackSize: DefaultSmallFiberStackSize,
		BigFiberStackSize:   DefaultBigFiberStackSize,
		IdlePollInterval:    DefaultIdlePollInterval,
	}
}

// ParseConfig decodes YAML on top of DefaultConfig.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse scheduler config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig reads and decodes a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scheduler config: %w", err)
	}
	return ParseConfig(data)
}

// Validate checks the pool sizes and intervals.
func (c *Config) Validate() error {
	switch {
	case c.WorkerCount < 0:
		return fmt.Errorf("%w: worker_count %d", ErrInvalidConfig, c.WorkerCount)
	case c.SmallFiberCount < 1 || c.SmallFiberCount > maxPooledFibers:
		return fmt.Errorf("%w: small_fiber_count %d not in [1, %d]", ErrInvalidConfig, c.SmallFiberCount, maxPooledFibers)
	case c.BigFiberCount < 0 || c.BigFiberCount > maxPooledFibers:
		return fmt.Errorf("%w: big_fiber_count %d not in [0, %d]", ErrInvalidConfig, c.BigFiberCount, maxPooledFibers)
	case c.SmallFiberStackSize < 0 || c.SmallFiberStackSize > platform.MaxFiberStackSize:
		return fmt.Errorf("%w: small_fiber_stack_size %d", ErrInvalidConfig, c.SmallFiberStackSize)
	case c.BigFiberStackSize < 0 || c.BigFiberStackSize > platform.MaxFiberStackSize:
		return fmt.Errorf("%w: big_fiber_stack_size %d", ErrInvalidConfig, c.BigFiberStackSize)
	case c.IdlePollInterval <= 0:
		return fmt.Errorf("%w: idle_poll_interval %s", ErrInvalidConfig, c.IdlePollInterval)
	}
	return nil
}

// workers resolves WorkerCount.
func (c *Config) workers() int {
	if c.WorkerCount > 0 {
		return c.WorkerCount
	}
	return platform.NumHardwareThreads()
}
