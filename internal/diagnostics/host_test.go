package diagnostics

import (
	"errors"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCollector_Collect(t *testing.T) {
	c := NewCollector("")
	m := c.Collect()

	assert.Equal(t, runtime.GOOS, m.OS)
	assert.Equal(t, runtime.GOARCH, m.Arch)
	assert.Positive(t, m.Goroutines)
	assert.GreaterOrEqual(t, m.MemPercent, 0.0)
	assert.LessOrEqual(t, m.MemPercent, 100.0)
	assert.Zero(t, m.CPUPercent, "first sample has no delta")

	again := c.Collect()
	assert.Equal(t, m.CPUModel, again.CPUModel)
	assert.Equal(t, m.CPUCores, again.CPUCores)
	assert.Equal(t, m.GPUs, again.GPUs)
}

func TestCollector_DiskPath(t *testing.T) {
	dir := t.TempDir()
	c := NewCollector(dir)
	assert.Equal(t, dir, c.diskPath)

	assert.NotEmpty(t, NewCollector("").diskPath)
}

func TestMemoryGuard(t *testing.T) {
	reading := func(v float64, err error) MemoryReader {
		return func() (float64, error) { return v, err }
	}

	tests := []struct {
		name  string
		limit float64
		read  MemoryReader
		allow bool
	}{
		{"below limit", 90, reading(42, nil), true},
		{"at limit", 90, reading(90, nil), false},
		{"above limit", 90, reading(97.5, nil), false},
		{"disabled", 0, reading(99, nil), true},
		{"read error", 90, reading(0, errors.New("no procfs")), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewMemoryGuard(tt.limit, tt.read)
			ok, _ := g.Allow()
			assert.Equal(t, tt.allow, ok)
		})
	}
}

func TestMemoryGuard_Nil(t *testing.T) {
	var g *MemoryGuard
	ok, used := g.Allow()
	assert.True(t, ok)
	assert.Zero(t, used)
	assert.Zero(t, g.Limit())
}
