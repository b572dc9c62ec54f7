//go:build !linux

package orchestrator

// pinToCPU is a no-op on platforms with no CPU-affinity syscall wired up
// (only linux/unix.SchedSetaffinity is, per go.mod's golang.org/x/sys
// dependency). RoundRobinCPU then behaves identically to NoAffinity there.
func pinToCPU(workerID int) error {
	return nil
}
