//go:build !linux || !cgo

package gpu

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
)

// NVMLSource is not available without cgo on Linux; see nvml_linux.go.
type NVMLSource struct{}

// OpenNVML always fails in this build.
func OpenNVML(_ *slog.Logger) (*NVMLSource, error) {
	return nil, fmt.Errorf("%w: nvml backend not compiled in (%s)", ErrUnavailable, runtime.GOOS)
}

// Backend implements Source.
func (s *NVMLSource) Backend() string { return BackendNVML }

// Read implements Source.
func (s *NVMLSource) Read(context.Context) (Reading, error) { return Reading{}, ErrUnavailable }

// Close implements Source.
func (s *NVMLSource) Close() error { return nil }
