//go:build !linux

package platform

// CurrentThreadID is not available on this platform and always returns 0.
func CurrentThreadID() ThreadID {
	return 0
}

// SetCurrentThreadAffinity always fails on this platform.
func SetCurrentThreadAffinity(core int) error {
	return ErrAffinityUnsupported
}

// CurrentThreadAffinity always fails on this platform.
func CurrentThreadAffinity() ([]int, error) {
	return nil, ErrAffinityUnsupported
}
