//go:build linux

package platform

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// CurrentThreadID returns the kernel thread id of the calling thread.
func CurrentThreadID() ThreadID {
	return ThreadID(unix.Gettid())
}

// SetCurrentThreadAffinity pins the calling OS thread to a single core.
// The caller must hold runtime.LockOSThread for the pin to stick.
func SetCurrentThreadAffinity(core int) error {
	if core < 0 {
		return fmt.Errorf("platform: invalid core %d", core)
	}
	var set unix.CPUSet
	set.Zero()
	set.Set(core)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("platform: pin thread to core %d: %w", core, err)
	}
	return nil
}

// CurrentThreadAffinity returns the cores the calling OS thread may run on.
func CurrentThreadAffinity() ([]int, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return nil, fmt.Errorf("platform: read thread affinity: %w", err)
	}
	n := set.Count()
	cores := make([]int, 0, n)
	for i := 0; len(cores) < n; i++ {
		if set.IsSet(i) {
			cores = append(cores, i)
		}
	}
	return cores, nil
}
