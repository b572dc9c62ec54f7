//go:build linux

package orchestrator

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// pinToCPU pins the calling OS thread to CPU (workerID mod NumCPU), matching
// WorkOrchestrator::SetAffinity's round-robin placement. Because Go
// goroutines migrate between OS threads, this also locks the goroutine to
// its current thread for the remainder of its life; that is the only way
// CPU affinity has any meaning for a goroutine-based worker.
func pinToCPU(workerID int) error {
	runtime.LockOSThread()
	ncpu := runtime.NumCPU()
	var set unix.CPUSet
	set.Zero()
	set.Set(workerID % ncpu)
	return unix.SchedSetaffinity(0, &set)
}
