// Package gpu reads utilization, temperature, power and memory of the first
// GPU exposed by a vendor interface.
package gpu

import (
	"context"
	"errors"
	"log/slog"
	"math"
)

var (
	// ErrUnavailable means the vendor interface cannot be used on this host
	// (library missing, driver not loaded, permission denied).
	ErrUnavailable = errors.New("gpu interface unavailable")
	// ErrNoDevice means the interface works but enumerates no GPU.
	ErrNoDevice = errors.New("no gpu detected")
)

// Reading is a single GPU telemetry snapshot.
type Reading struct {
	Name          string `json:"name,omitempty"`
	UsagePercent  int    `json:"usage_pct"`
	TempC         int    `json:"temp_c"`
	PowerW        int    `json:"power_w"`
	MemUsedBytes  uint64 `json:"mem_used_bytes"`
	MemTotalBytes uint64 `json:"mem_total_bytes"`
}

// MemUsagePercent returns used/total memory as a truncated percentage.
// It is 0 for a nil reading or when total memory is unknown.
func (r *Reading) MemUsagePercent() int {
	if r == nil || r.MemTotalBytes == 0 {
		return 0
	}
	return clampPercent(float64(r.MemUsedBytes) / float64(r.MemTotalBytes) * 100)
}

// Source is a GPU vendor backend bound to the first device it enumerated.
type Source interface {
	Backend() string
	Read(ctx context.Context) (Reading, error)
	Close() error
}

// Reader applies the default-on-failure policy on top of a Source.
type Reader struct {
	source Source
	logger *slog.Logger
}

// NewReader wraps source. A nil source reads as "no GPU".
func NewReader(source Source, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{source: source, logger: logger}
}

// Read returns the current reading or nil when no GPU data is available.
func (r *Reader) Read(ctx context.Context) *Reading {
	if r.source == nil {
		return nil
	}
	reading, err := r.source.Read(ctx)
	if err != nil {
		if errors.Is(err, ErrNoDevice) {
			r.logger.Debug("gpu not present", "backend", r.source.Backend())
		} else {
			r.logger.Warn("gpu query failed", "backend", r.source.Backend(), "err", err)
		}
		return nil
	}
	return &reading
}

// Backend reports the name of the wrapped backend, or "none".
func (r *Reader) Backend() string {
	if r.source == nil {
		return BackendNone
	}
	return r.source.Backend()
}

// Close releases the underlying source.
func (r *Reader) Close() error {
	if r.source == nil {
		return nil
	}
	return r.source.Close()
}

func clampPercent(value float64) int {
	return int(math.Max(0, math.Min(100, value)))
}

func nonNegative(value float64) int {
	if value <= 0 || math.IsNaN(value) {
		return 0
	}
	return int(value)
}
