// Package hostmetrics reports CPU utilization and RAM usage from the OS
// resource accounting interface.
package hostmetrics

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// Memory is a RAM usage snapshot.
type Memory struct {
	UsagePercent int
	UsedBytes    uint64
	TotalBytes   uint64
}

// Reader wraps gopsutil. The function fields exist so tests can substitute
// the OS interface.
type Reader struct {
	cpuPercent    func(ctx context.Context) (float64, error)
	virtualMemory func(ctx context.Context) (*mem.VirtualMemoryStat, error)
	logger        *slog.Logger
}

// New returns a Reader backed by the running host.
func New(logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{
		cpuPercent:    systemCPUPercent,
		virtualMemory: mem.VirtualMemoryWithContext,
		logger:        logger,
	}
}

// Probe verifies the accounting interface once at startup. An error here
// means the host is unsupported.
func (r *Reader) Probe(ctx context.Context) error {
	if _, err := r.cpuPercent(ctx); err != nil {
		return fmt.Errorf("cpu accounting: %w", err)
	}
	if _, err := r.virtualMemory(ctx); err != nil {
		return fmt.Errorf("memory accounting: %w", err)
	}
	return nil
}

// CPUUsagePercent returns system-wide CPU utilization since the previous call,
// truncated to an integer. Errors read as 0.
func (r *Reader) CPUUsagePercent(ctx context.Context) int {
	pct, err := r.cpuPercent(ctx)
	if err != nil {
		r.logger.Warn("cpu usage unavailable", "err", err)
		return 0
	}
	return clampPercent(pct)
}

// Memory returns virtual memory usage. Errors read as a zero Memory.
func (r *Reader) Memory(ctx context.Context) Memory {
	vm, err := r.virtualMemory(ctx)
	if err != nil || vm == nil {
		r.logger.Warn("memory usage unavailable", "err", err)
		return Memory{}
	}
	return Memory{
		UsagePercent: clampPercent(vm.UsedPercent),
		UsedBytes:    vm.Used,
		TotalBytes:   vm.Total,
	}
}

// systemCPUPercent uses a zero interval: the value is the delta since the
// last call, or since process start on the first call.
func systemCPUPercent(ctx context.Context) (float64, error) {
	pcts, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, err
	}
	if len(pcts) == 0 {
		return 0, fmt.Errorf("no cpu usage reported")
	}
	return pcts[0], nil
}

func clampPercent(value float64) int {
	if math.IsNaN(value) {
		return 0
	}
	return int(math.Max(0, math.Min(100, value)))
}
