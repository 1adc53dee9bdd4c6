package diagnostics

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/mem"
)

// MemoryReader returns current host memory usage as a percentage.
type MemoryReader func() (float64, error)

// VirtualMemoryPercent reads host memory usage through gopsutil.
func VirtualMemoryPercent() (float64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, fmt.Errorf("reading virtual memory: %w", err)
	}
	return vm.UsedPercent, nil
}

// MemoryGuard reports whether the host has room for more work.
// A zero limit disables the guard.
type MemoryGuard struct {
	limit float64
	read  MemoryReader
}

// NewMemoryGuard creates a guard with the given ceiling in percent.
// A nil reader uses VirtualMemoryPercent.
func NewMemoryGuard(limit float64, read MemoryReader) *MemoryGuard {
	if read == nil {
		read = VirtualMemoryPercent
	}
	return &MemoryGuard{limit: limit, read: read}
}

// Allow returns false with the observed usage when memory is at or above the
// ceiling. Read failures allow work so a broken probe cannot stall the worker.
func (g *MemoryGuard) Allow() (bool, float64) {
	if g == nil || g.limit <= 0 {
		return true, 0
	}
	used, err := g.read()
	if err != nil {
		return true, 0
	}
	return used < g.limit, used
}

// Limit returns the configured ceiling.
func (g *MemoryGuard) Limit() float64 {
	if g == nil {
		return 0
	}
	return g.limit
}
