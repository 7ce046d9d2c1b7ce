package sampler

import (
	"context"
	"log/slog"
	"time"

	"github.com/skobkin/hwserial/internal/gpu"
	"github.com/skobkin/hwserial/internal/hostmetrics"
)

// HostMetrics reports CPU utilization and RAM usage.
type HostMetrics interface {
	CPUUsagePercent(ctx context.Context) int
	Memory(ctx context.Context) hostmetrics.Memory
}

// CPUSensors reports CPU temperature and power, 0 when unavailable.
type CPUSensors interface {
	CPUTemperature(ctx context.Context) int
	CPUPower(ctx context.Context) int
}

// GPUReader reports the first GPU, nil when absent.
type GPUReader interface {
	Read(ctx context.Context) *gpu.Reading
}

// Collector gathers one Sample from all metric sources. Every source degrades
// independently, so Collect always yields a complete sample.
type Collector struct {
	host   HostMetrics
	cpu    CPUSensors
	gpu    GPUReader
	now    func() time.Time
	logger *slog.Logger
}

// NewCollector builds a Collector. A nil gpu reader reads as no GPU.
func NewCollector(host HostMetrics, cpu CPUSensors, gpuReader GPUReader, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		host:   host,
		cpu:    cpu,
		gpu:    gpuReader,
		now:    time.Now,
		logger: logger.With("component", "collector"),
	}
}

// Collect reads every source once.
func (c *Collector) Collect(ctx context.Context) Sample {
	sample := Sample{
		Timestamp:       c.now(),
		CPUUsagePercent: c.host.CPUUsagePercent(ctx),
		CPUTempC:        c.cpu.CPUTemperature(ctx),
		CPUPowerW:       c.cpu.CPUPower(ctx),
	}

	if c.gpu != nil {
		sample.GPU = c.gpu.Read(ctx)
	}

	memory := c.host.Memory(ctx)
	sample.RAMUsagePercent = memory.UsagePercent
	sample.RAMUsedGiB = toGiB(memory.UsedBytes)
	sample.RAMTotalGiB = toGiB(memory.TotalBytes)
	sample.GPUMemUsagePercent = sample.GPU.MemUsagePercent()

	var gpuUsage, gpuTemp, gpuPower int
	if sample.GPU != nil {
		gpuUsage, gpuTemp, gpuPower = sample.GPU.UsagePercent, sample.GPU.TempC, sample.GPU.PowerW
	}
	c.logger.Info("sample collected",
		"cpu_pct", sample.CPUUsagePercent,
		"cpu_temp_c", sample.CPUTempC,
		"cpu_power_w", sample.CPUPowerW,
		"gpu_present", sample.GPU != nil,
		"gpu_pct", gpuUsage,
		"gpu_temp_c", gpuTemp,
		"gpu_power_w", gpuPower,
		"ram_pct", sample.RAMUsagePercent,
		"ram_used_gib", sample.RAMUsedGiB,
		"ram_total_gib", sample.RAMTotalGiB,
		"gpu_mem_pct", sample.GPUMemUsagePercent,
	)
	return sample
}
