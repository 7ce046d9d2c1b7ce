// Command hwsensors prints what the telemetry sampler sees on this host
// without touching the serial port.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/skobkin/hwserial/internal/app"
	"github.com/skobkin/hwserial/internal/config"
	"github.com/skobkin/hwserial/internal/gpu"
	"github.com/skobkin/hwserial/internal/sampler"
	"github.com/skobkin/hwserial/internal/sensors"
)

type options struct {
	sysfsRoot   string
	debugfsRoot string
	gpuBackend  string
	warmup      time.Duration
	jsonOutput  bool
	verbose     bool
}

type report struct {
	Sensors    []sensors.Sensor `json:"sensors"`
	SensorsErr string           `json:"sensors_error,omitempty"`
	GPUBackend string           `json:"gpu_backend"`
	GPU        *gpu.Reading     `json:"gpu"`
	Sample     sampler.Sample   `json:"sample"`
	Frame      string           `json:"frame"`
}

func parseFlags(cfg config.Config) options {
	opts := options{}
	flag.StringVar(&opts.sysfsRoot, "sysfs", cfg.SysfsRoot, "Path to sysfs root")
	flag.StringVar(&opts.debugfsRoot, "debugfs", cfg.DebugfsRoot, "Path to debugfs root")
	flag.StringVar(&opts.gpuBackend, "gpu-backend", cfg.GPUBackend, "GPU backend: auto, nvml, amdgpu, sensors or none")
	flag.DurationVar(&opts.warmup, "warmup", time.Second, "CPU usage measurement window before sampling")
	flag.BoolVar(&opts.jsonOutput, "json", false, "Emit the report as JSON")
	flag.BoolVar(&opts.verbose, "v", false, "Log backend probing at debug level")
	flag.Parse()
	return opts
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration", "err", err)
		os.Exit(1)
	}
	opts := parseFlags(cfg)
	cfg.SysfsRoot = opts.sysfsRoot
	cfg.DebugfsRoot = opts.debugfsRoot
	cfg.GPUBackend = opts.gpuBackend

	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sources, err := app.OpenSources(ctx, logger, cfg)
	if err != nil {
		logger.Error("sensor setup failed", "err", err)
		stop()
		os.Exit(1)
	}
	defer sources.Close()

	rep := report{GPUBackend: sources.GPUBackend}
	if sources.Table != nil {
		rep.Sensors, err = sources.Table.Sensors(ctx)
		if err != nil {
			rep.SensorsErr = err.Error()
		}
	} else {
		rep.SensorsErr = sensors.ErrUnavailable.Error()
	}

	// Prime the CPU usage counter so the sample covers the warmup window.
	sources.Host.CPUUsagePercent(ctx)
	select {
	case <-ctx.Done():
		return
	case <-time.After(opts.warmup):
	}

	rep.Sample = sampler.NewCollector(sources.Host, sources.CPU, sources.GPU, logger).Collect(ctx)
	rep.GPU = rep.Sample.GPU
	rep.Frame = sampler.Format(rep.Sample)

	if opts.jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep); err != nil {
			logger.Error("encode report", "err", err)
			stop()
			os.Exit(1)
		}
		return
	}

	printReport(rep)
}

func printReport(rep report) {
	fmt.Println("Sensor table:")
	if rep.SensorsErr != "" {
		fmt.Printf("  unavailable: %s\n", rep.SensorsErr)
	}
	for _, sensor := range rep.Sensors {
		fmt.Printf("  %-12s %-40s %8.1f\n", sensor.Type, sensor.Name, sensor.Value)
	}

	fmt.Println()
	fmt.Printf("GPU backend: %s\n", rep.GPUBackend)
	if rep.GPU == nil {
		fmt.Println("  no GPU reading")
	} else {
		fmt.Printf("  %s: %d%% %d°C %dW, memory %d/%d MiB\n",
			rep.GPU.Name, rep.GPU.UsagePercent, rep.GPU.TempC, rep.GPU.PowerW,
			rep.GPU.MemUsedBytes>>20, rep.GPU.MemTotalBytes>>20)
	}

	fmt.Println()
	fmt.Printf("Sample at %s\n", rep.Sample.Timestamp.UTC().Format(time.RFC3339))
	fmt.Println(strings.Repeat("-", 60))
	fmt.Println(rep.Frame)
}
