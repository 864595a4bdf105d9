package schedule

import (
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/inkpulse/inkpulse/errors"
)

// SystemMetrics is host resource usage reported in dispatcher status
type SystemMetrics struct {
	MemoryUsedGB  float64 `json:"memory_used_gb"`
	MemoryTotalGB float64 `json:"memory_total_gb"`
	MemoryPercent float64 `json:"memory_percent"`
}

const bytesPerGB = 1024 * 1024 * 1024

// readSystemMetrics samples host memory. Zero values are returned if sampling fails.
func readSystemMetrics() (SystemMetrics, error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return SystemMetrics{}, errors.Wrap(err, "failed to get memory stats")
	}
	if v.Total == 0 {
		return SystemMetrics{}, nil
	}
	used := v.Total - v.Available
	return SystemMetrics{
		MemoryUsedGB:  float64(used) / bytesPerGB,
		MemoryTotalGB: float64(v.Total) / bytesPerGB,
		MemoryPercent: float64(used) / float64(v.Total) * 100,
	}, nil
}
