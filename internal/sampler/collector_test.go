package sampler

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/skobkin/hwserial/internal/gpu"
	"github.com/skobkin/hwserial/internal/hostmetrics"
)

type fakeHost struct {
	cpu    int
	memory hostmetrics.Memory
}

func (h fakeHost) CPUUsagePercent(context.Context) int       { return h.cpu }
func (h fakeHost) Memory(context.Context) hostmetrics.Memory { return h.memory }

type fakeCPU struct {
	temp  int
	power int
}

func (c fakeCPU) CPUTemperature(context.Context) int { return c.temp }
func (c fakeCPU) CPUPower(context.Context) int       { return c.power }

type fakeGPU struct {
	reading *gpu.Reading
}

func (g fakeGPU) Read(context.Context) *gpu.Reading { return g.reading }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCollectorBuildsSample(t *testing.T) {
	t.Parallel()

	host := fakeHost{cpu: 42, memory: hostmetrics.Memory{
		UsagePercent: 60,
		UsedBytes:    10307921510,
		TotalBytes:   16 << 30,
	}}
	reading := &gpu.Reading{UsagePercent: 80, TempC: 70, PowerW: 120, MemUsedBytes: 4 << 30, MemTotalBytes: 8 << 30}
	collector := NewCollector(host, fakeCPU{temp: 55, power: 65}, fakeGPU{reading: reading}, discardLogger())
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	collector.now = func() time.Time { return fixed }

	sample := collector.Collect(context.Background())

	if !sample.Timestamp.Equal(fixed) {
		t.Fatalf("unexpected timestamp %v", sample.Timestamp)
	}
	if got, want := Encode(sample), "CPU:42,55,65,GPU:80,70,120,RAM:60,9.6,16.0,GPUMEM:50\n"; got != want {
		t.Fatalf("Encode() = %q, want %q", got, want)
	}
}

func TestCollectorWithoutGPU(t *testing.T) {
	t.Parallel()

	host := fakeHost{cpu: 3, memory: hostmetrics.Memory{UsagePercent: 10, UsedBytes: 1 << 30, TotalBytes: 10 << 30}}

	for name, reader := range map[string]GPUReader{
		"nil reader":  nil,
		"absent gpu":  fakeGPU{},
		"zero memory": fakeGPU{reading: &gpu.Reading{UsagePercent: 5, MemUsedBytes: 1 << 20}},
	} {
		t.Run(name, func(t *testing.T) {
			sample := NewCollector(host, fakeCPU{}, reader, discardLogger()).Collect(context.Background())
			if sample.GPUMemUsagePercent != 0 {
				t.Fatalf("expected gpu memory 0%%, got %d", sample.GPUMemUsagePercent)
			}
			if sample.RAMUsedGiB != 1 || sample.RAMTotalGiB != 10 {
				t.Fatalf("unexpected ram %.1f/%.1f", sample.RAMUsedGiB, sample.RAMTotalGiB)
			}
		})
	}
}
