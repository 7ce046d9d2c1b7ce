package gpu

import (
	"context"
	"fmt"
	"strings"

	"github.com/skobkin/hwserial/internal/sensors"
)

const mebibyte = 1 << 20

// SensorTableSource derives GPU readings from the hardware monitor sensor
// table. OpenHardwareMonitor names the first GPU's entries "GPU Core",
// "GPU Power" / "GPU Package" and reports memory as SmallData in MiB.
type SensorTableSource struct {
	table sensors.Table
}

// NewSensorTableSource wraps table.
func NewSensorTableSource(table sensors.Table) *SensorTableSource {
	return &SensorTableSource{table: table}
}

// Backend implements Source.
func (s *SensorTableSource) Backend() string { return BackendSensors }

// Read looks up the GPU core load; a table without one has no GPU.
func (s *SensorTableSource) Read(ctx context.Context) (Reading, error) {
	if s.table == nil {
		return Reading{}, ErrUnavailable
	}
	entries, err := s.table.Sensors(ctx)
	if err != nil {
		return Reading{}, fmt.Errorf("query sensor table: %w", err)
	}

	var (
		reading  Reading
		haveLoad bool
		haveTemp bool
		havePow  bool
	)
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name, "GPU") {
			continue
		}
		switch entry.Type {
		case sensors.TypeLoad:
			if entry.Name == "GPU Core" && !haveLoad {
				reading.UsagePercent = clampPercent(entry.Value)
				haveLoad = true
			}
		case sensors.TypeTemperature:
			if !haveTemp {
				reading.TempC = nonNegative(entry.Value)
				haveTemp = true
			}
		case sensors.TypePower:
			if !havePow && (entry.Name == "GPU Power" || entry.Name == "GPU Package" || entry.Name == "GPU Total") {
				reading.PowerW = nonNegative(entry.Value)
				havePow = true
			}
		case sensors.TypeSmallData:
			switch entry.Name {
			case "GPU Memory Used":
				reading.MemUsedBytes = mibToBytes(entry.Value)
			case "GPU Memory Total":
				reading.MemTotalBytes = mibToBytes(entry.Value)
			}
		}
	}
	if !haveLoad {
		return Reading{}, ErrNoDevice
	}
	return reading, nil
}

// Close implements Source.
func (s *SensorTableSource) Close() error { return nil }

func mibToBytes(value float64) uint64 {
	if value <= 0 {
		return 0
	}
	return uint64(value * mebibyte)
}
