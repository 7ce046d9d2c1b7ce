//go:build !linux && !windows

package sensors

import (
	"fmt"
	"log/slog"
	"runtime"
)

func openPlatformTable(_ Options, _ *slog.Logger) (Table, error) {
	return nil, fmt.Errorf("%w on %s", ErrUnavailable, runtime.GOOS)
}
