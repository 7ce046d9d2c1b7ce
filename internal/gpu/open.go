package gpu

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/skobkin/hwserial/internal/sensors"
)

// Backend names.
const (
	BackendAuto    = "auto"
	BackendNVML    = "nvml"
	BackendAMDGPU  = "amdgpu"
	BackendSensors = "sensors"
	BackendNone    = "none"
)

// IsBackend reports whether name is a known backend identifier.
func IsBackend(name string) bool {
	switch name {
	case BackendAuto, BackendNVML, BackendAMDGPU, BackendSensors, BackendNone:
		return true
	}
	return false
}

// Options selects and configures a GPU backend.
type Options struct {
	Backend     string
	SysfsRoot   string
	DebugfsRoot string
	Table       sensors.Table
}

// Open returns the configured backend. With BackendAuto every backend is
// tried in turn (nvml, amdgpu, sensors) and the first one that finds a GPU
// wins. BackendNone yields a nil Source and no error.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (Source, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch opts.Backend {
	case BackendNone:
		return nil, nil
	case BackendNVML, BackendAMDGPU, BackendSensors:
		return openBackend(ctx, opts.Backend, opts, logger)
	case BackendAuto, "":
	default:
		return nil, fmt.Errorf("unknown gpu backend %q", opts.Backend)
	}

	var errs []error
	for _, backend := range []string{BackendNVML, BackendAMDGPU, BackendSensors} {
		source, err := openBackend(ctx, backend, opts, logger)
		if err == nil {
			return source, nil
		}
		logger.Debug("gpu backend skipped", "backend", backend, "err", err)
		errs = append(errs, fmt.Errorf("%s: %w", backend, err))
	}
	return nil, errors.Join(errs...)
}

func openBackend(ctx context.Context, backend string, opts Options, logger *slog.Logger) (Source, error) {
	switch backend {
	case BackendNVML:
		source, err := OpenNVML(logger)
		if err != nil {
			return nil, err
		}
		return source, nil
	case BackendAMDGPU:
		source, err := OpenAMDGPU(opts.SysfsRoot, opts.DebugfsRoot, logger)
		if err != nil {
			return nil, err
		}
		return source, nil
	case BackendSensors:
		if opts.Table == nil {
			return nil, ErrUnavailable
		}
		source := NewSensorTableSource(opts.Table)
		if _, err := source.Read(ctx); err != nil {
			return nil, err
		}
		return source, nil
	}
	return nil, fmt.Errorf("unknown gpu backend %q", backend)
}
