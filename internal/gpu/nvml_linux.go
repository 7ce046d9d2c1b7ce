//go:build linux && cgo

package gpu

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

// NVMLSource queries the first NVIDIA device through the NVIDIA Management
// Library. The library is loaded at runtime; hosts without the driver get
// ErrUnavailable from OpenNVML.
type NVMLSource struct {
	device    nvml.Device
	name      string
	logger    *slog.Logger
	closeOnce sync.Once
}

// OpenNVML initializes NVML and binds to device index 0.
func OpenNVML(logger *slog.Logger) (*NVMLSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if ret := nvml.Init(); ret != nvml.SUCCESS {
		return nil, fmt.Errorf("%w: nvml init: %s", ErrUnavailable, nvml.ErrorString(ret))
	}

	count, ret := nvml.DeviceGetCount()
	if ret != nvml.SUCCESS {
		_ = nvml.Shutdown()
		return nil, fmt.Errorf("%w: nvml device count: %s", ErrUnavailable, nvml.ErrorString(ret))
	}
	if count == 0 {
		_ = nvml.Shutdown()
		return nil, ErrNoDevice
	}

	device, ret := nvml.DeviceGetHandleByIndex(0)
	if ret != nvml.SUCCESS {
		_ = nvml.Shutdown()
		return nil, fmt.Errorf("%w: nvml device 0: %s", ErrUnavailable, nvml.ErrorString(ret))
	}

	name, ret := device.GetName()
	if ret != nvml.SUCCESS {
		name = ""
	}
	if pci, ret := device.GetPciInfo(); ret == nvml.SUCCESS {
		if resolved := NameForPCIDeviceID(pci.PciDeviceId); name == "" && resolved != "" {
			name = resolved
		}
	}

	return &NVMLSource{
		device: device,
		name:   name,
		logger: logger,
	}, nil
}

// Backend implements Source.
func (s *NVMLSource) Backend() string { return BackendNVML }

// Read queries utilization and memory (both required) plus temperature and
// power draw, which read as 0 when the board does not report them.
func (s *NVMLSource) Read(ctx context.Context) (Reading, error) {
	if err := ctx.Err(); err != nil {
		return Reading{}, err
	}

	util, ret := s.device.GetUtilizationRates()
	if ret != nvml.SUCCESS {
		return Reading{}, fmt.Errorf("nvml utilization: %s", nvml.ErrorString(ret))
	}
	memory, ret := s.device.GetMemoryInfo()
	if ret != nvml.SUCCESS {
		return Reading{}, fmt.Errorf("nvml memory info: %s", nvml.ErrorString(ret))
	}

	reading := Reading{
		Name:          s.name,
		UsagePercent:  clampPercent(float64(util.Gpu)),
		MemUsedBytes:  memory.Used,
		MemTotalBytes: memory.Total,
	}

	if temp, ret := s.device.GetTemperature(nvml.TEMPERATURE_GPU); ret == nvml.SUCCESS {
		reading.TempC = int(temp)
	} else {
		s.logger.Debug("nvml temperature unavailable", "err", nvml.ErrorString(ret))
	}
	if milliwatts, ret := s.device.GetPowerUsage(); ret == nvml.SUCCESS {
		reading.PowerW = int(milliwatts / 1000)
	} else if ret != nvml.ERROR_NOT_SUPPORTED {
		s.logger.Debug("nvml power unavailable", "err", nvml.ErrorString(ret))
	}

	return reading, nil
}

// Close shuts NVML down once.
func (s *NVMLSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if ret := nvml.Shutdown(); ret != nvml.SUCCESS {
			err = fmt.Errorf("nvml shutdown: %s", nvml.ErrorString(ret))
		}
	})
	return err
}
