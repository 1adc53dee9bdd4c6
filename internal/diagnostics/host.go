package diagnostics

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/jaypipes/ghw"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

const gpuCacheTTL = 30 * time.Second

// HostMetrics is a point-in-time snapshot of host resource usage.
type HostMetrics struct {
	Hostname   string  `json:"hostname,omitempty"`
	OS         string  `json:"os"`
	Arch       string  `json:"arch"`
	Goroutines int     `json:"goroutines"`
	CPUModel   string  `json:"cpuModel,omitempty"`
	CPUCores   int     `json:"cpuCores"`
	CPUThreads int     `json:"cpuThreads"`
	CPUPercent float64 `json:"cpuPercent"`

	MemTotalMB float64 `json:"memTotalMb"`
	MemUsedMB  float64 `json:"memUsedMb"`
	MemPercent float64 `json:"memPercent"`

	DiskTotalGB float64 `json:"diskTotalGb"`
	DiskUsedGB  float64 `json:"diskUsedGb"`
	DiskPercent float64 `json:"diskPercent"`

	LoadAvg1  float64 `json:"loadAvg1"`
	LoadAvg5  float64 `json:"loadAvg5"`
	LoadAvg15 float64 `json:"loadAvg15"`

	GPUs []string `json:"gpus,omitempty"`
}

// Collector gathers HostMetrics. It is safe for concurrent use.
type Collector struct {
	mu        sync.Mutex
	diskPath  string
	lastTotal float64
	lastIdle  float64

	hwRead     bool
	hostname   string
	cpuModel   string
	cpuCores   int
	cpuThreads int

	gpuAt time.Time
	gpus  []string
}

// NewCollector creates a collector that reports disk usage for diskPath.
// An empty diskPath means the filesystem root.
func NewCollector(diskPath string) *Collector {
	if diskPath == "" {
		diskPath = rootDiskPath()
	}
	return &Collector{diskPath: diskPath}
}

// Collect samples the host. Sources that fail leave their fields zero.
func (c *Collector) Collect() HostMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := HostMetrics{
		OS:         runtime.GOOS,
		Arch:       runtime.GOARCH,
		Goroutines: runtime.NumGoroutine(),
	}
	c.hardware(&m)
	c.memory(&m)
	c.cpuUsage(&m)
	c.disk(&m)
	c.loadAvg(&m)
	c.graphics(&m)
	return m
}

func (c *Collector) hardware(m *HostMetrics) {
	if !c.hwRead {
		c.hostname, _ = os.Hostname()
		if infos, err := cpu.Info(); err == nil && len(infos) > 0 {
			c.cpuModel = strings.TrimSpace(infos[0].ModelName)
		}
		if n, err := cpu.Counts(false); err == nil {
			c.cpuCores = n
		}
		if n, err := cpu.Counts(true); err == nil {
			c.cpuThreads = n
		}
		c.hwRead = true
	}
	m.Hostname = c.hostname
	m.CPUModel = c.cpuModel
	m.CPUCores = c.cpuCores
	m.CPUThreads = c.cpuThreads
}

func (c *Collector) memory(m *HostMetrics) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return
	}
	m.MemTotalMB = float64(vm.Total) / 1024 / 1024
	m.MemUsedMB = float64(vm.Used) / 1024 / 1024
	m.MemPercent = vm.UsedPercent
}

// cpuUsage reports utilisation since the previous call; the first call
// reports zero.
func (c *Collector) cpuUsage(m *HostMetrics) {
	times, err := cpu.Times(false)
	if err != nil || len(times) == 0 {
		return
	}
	t := times[0]
	total := t.User + t.Nice + t.System + t.Idle + t.Iowait + t.Irq + t.Softirq + t.Steal
	idle := t.Idle + t.Iowait

	if c.lastTotal > 0 {
		if dt := total - c.lastTotal; dt > 0 {
			m.CPUPercent = (1 - (idle-c.lastIdle)/dt) * 100
		}
	}
	c.lastTotal = total
	c.lastIdle = idle
}

func (c *Collector) disk(m *HostMetrics) {
	usage, err := disk.Usage(c.diskPath)
	if err != nil {
		return
	}
	m.DiskTotalGB = float64(usage.Total) / 1024 / 1024 / 1024
	m.DiskUsedGB = float64(usage.Used) / 1024 / 1024 / 1024
	m.DiskPercent = usage.UsedPercent
}

func (c *Collector) loadAvg(m *HostMetrics) {
	avg, err := load.Avg()
	if err != nil {
		return
	}
	m.LoadAvg1 = avg.Load1
	m.LoadAvg5 = avg.Load5
	m.LoadAvg15 = avg.Load15
}

func (c *Collector) graphics(m *HostMetrics) {
	now := time.Now()
	if c.gpuAt.IsZero() || now.Sub(c.gpuAt) >= gpuCacheTTL {
		c.gpus = listGPUs()
		c.gpuAt = now
	}
	m.GPUs = append([]string(nil), c.gpus...)
}

func listGPUs() []string {
	info, err := ghw.GPU()
	if err != nil || info == nil {
		return nil
	}
	names := make([]string, 0, len(info.GraphicsCards))
	for _, card := range info.GraphicsCards {
		names = append(names, gpuName(card))
	}
	return names
}

func gpuName(card *ghw.GraphicsCard) string {
	var parts []string
	if card.DeviceInfo != nil {
		if card.DeviceInfo.Vendor != nil {
			parts = append(parts, card.DeviceInfo.Vendor.Name)
		}
		if card.DeviceInfo.Product != nil {
			parts = append(parts, card.DeviceInfo.Product.Name)
		}
	}
	if name := strings.TrimSpace(strings.Join(parts, " ")); name != "" {
		return name
	}
	return fmt.Sprintf("GPU %d", card.Index)
}

func rootDiskPath() string {
	if runtime.GOOS == "windows" {
		if drive := os.Getenv("SystemDrive"); drive != "" {
			return drive + "\\"
		}
		return "C:\\"
	}
	return "/"
}
