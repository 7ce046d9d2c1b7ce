package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/skobkin/hwserial/internal/config"
	"github.com/skobkin/hwserial/internal/gpu"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	root := t.TempDir()
	return config.Config{
		SampleInterval: 10 * time.Millisecond,
		SysfsRoot:      root,
		DebugfsRoot:    root,
		GPUBackend:     gpu.BackendNone,
		Serial: config.SerialConfig{
			Port:     filepath.Join(root, "ttyMISSING0"),
			BaudRate: 9600,
		},
		Sensors: config.SensorConfig{CPUPowerMinWatts: 1},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunFailsWhenSerialPortCannotBeOpened(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := Run(ctx, discardLogger(), testConfig(t))
	if err == nil {
		t.Fatalf("expected error for missing serial port")
	}
}

func TestSerialOpenerReturnsUntypedNilOnFailure(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	writer, err := SerialOpener(cfg.Serial, discardLogger())(context.Background())
	if err == nil {
		t.Fatalf("expected open error")
	}
	if writer != nil {
		t.Fatalf("expected nil writer, got %T", writer)
	}
}

func TestOpenSourcesDegradesWithoutHardware(t *testing.T) {
	t.Parallel()

	sources, err := OpenSources(context.Background(), discardLogger(), testConfig(t))
	if err != nil {
		t.Skipf("host metrics unavailable: %v", err)
	}
	defer sources.Close()

	if sources.GPUBackend != "none" {
		t.Fatalf("expected gpu backend none, got %q", sources.GPUBackend)
	}
	if got := sources.CPU.CPUTemperature(context.Background()); got != 0 {
		t.Fatalf("expected cpu temperature 0 without hwmon, got %d", got)
	}
	if reading := sources.GPU.Read(context.Background()); reading != nil {
		t.Fatalf("expected no gpu reading, got %+v", reading)
	}
}
