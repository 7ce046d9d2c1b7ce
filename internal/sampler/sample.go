package sampler

import (
	"time"

	"github.com/skobkin/hwserial/internal/gpu"
)

// Sample is the telemetry snapshot of a single tick.
type Sample struct {
	Timestamp          time.Time    `json:"ts"`
	CPUUsagePercent    int          `json:"cpu_usage_pct"`
	CPUTempC           int          `json:"cpu_temp_c"`
	CPUPowerW          int          `json:"cpu_power_w"`
	GPU                *gpu.Reading `json:"gpu"`
	RAMUsagePercent    int          `json:"ram_usage_pct"`
	RAMUsedGiB         float64      `json:"ram_used_gib"`
	RAMTotalGiB        float64      `json:"ram_total_gib"`
	GPUMemUsagePercent int          `json:"gpu_mem_usage_pct"`
}

const bytesPerGiB = 1 << 30

func toGiB(bytes uint64) float64 {
	return float64(bytes) / bytesPerGiB
}
