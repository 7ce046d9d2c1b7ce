//go:build windows

package sensors

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/yusufpapurcu/wmi"
)

const sensorQuery = "SELECT Name, SensorType, Value FROM Sensor"

// WMITable queries the Sensor class published by OpenHardwareMonitor or
// LibreHardwareMonitor.
type WMITable struct {
	namespace string
	logger    *slog.Logger
}

type wmiSensor struct {
	Name       string
	SensorType string
	Value      float32
}

// NewWMITable returns a table reading from the given WMI namespace.
func NewWMITable(namespace string, logger *slog.Logger) *WMITable {
	return &WMITable{namespace: namespace, logger: logger}
}

func openPlatformTable(opts Options, logger *slog.Logger) (Table, error) {
	namespace := opts.WMINamespace
	if namespace == "" {
		namespace = `root\OpenHardwareMonitor`
	}
	return NewWMITable(namespace, logger), nil
}

// Sensors runs the WMI query. The monitor service must be running for the
// namespace to exist; otherwise the query fails and callers degrade.
func (t *WMITable) Sensors(ctx context.Context) ([]Sensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rows []wmiSensor
	if err := wmi.QueryNamespace(sensorQuery, &rows, t.namespace); err != nil {
		return nil, fmt.Errorf("%w: wmi namespace %s: %v", ErrUnavailable, t.namespace, err)
	}
	out := make([]Sensor, 0, len(rows))
	for _, row := range rows {
		out = append(out, Sensor{
			Name:  row.Name,
			Type:  row.SensorType,
			Value: float64(row.Value),
		})
	}
	return out, nil
}
