// Package sensors reads CPU temperature and power from the host hardware
// monitor's sensor table.
package sensors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Sensor types as reported by the hardware monitor.
const (
	TypeTemperature = "Temperature"
	TypePower       = "Power"
	TypeLoad        = "Load"
	TypeClock       = "Clock"
	TypeSmallData   = "SmallData"
)

var (
	// ErrUnavailable means the sensor table cannot be queried on this host.
	ErrUnavailable = errors.New("sensor table unavailable")
	// ErrNoSensor means the table was read but nothing matched.
	ErrNoSensor = errors.New("no matching sensor")
)

var cpuPowerKeywords = []string{"CPU", "Package", "Core"}

// Sensor is a single named, typed entry of the sensor table.
type Sensor struct {
	Name  string  `json:"name"`
	Type  string  `json:"type"`
	Value float64 `json:"value"`
}

// Table enumerates the sensors currently exposed by the hardware monitor.
type Table interface {
	Sensors(ctx context.Context) ([]Sensor, error)
}

// Options configures platform table discovery.
type Options struct {
	SysfsRoot    string
	WMINamespace string
}

// OpenTable returns the sensor table for the running platform.
func OpenTable(opts Options, logger *slog.Logger) (Table, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return openPlatformTable(opts, logger)
}

// Reader derives CPU metrics from a sensor table. A nil table is valid and
// behaves as an unavailable monitor.
type Reader struct {
	table         Table
	powerMinWatts float64
	logger        *slog.Logger
}

// NewReader constructs a Reader. Power entries at or below powerMinWatts are
// treated as noise.
func NewReader(table Table, powerMinWatts float64, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{
		table:         table,
		powerMinWatts: powerMinWatts,
		logger:        logger,
	}
}

// ReadCPUTemperature returns the first CPU temperature sensor truncated to
// whole degrees. With several matches the winner depends on table order.
func (r *Reader) ReadCPUTemperature(ctx context.Context) (int, error) {
	sensors, err := r.query(ctx)
	if err != nil {
		return 0, err
	}
	for _, sensor := range sensors {
		if sensor.Type == TypeTemperature && strings.Contains(sensor.Name, "CPU") {
			return truncate(sensor.Value), nil
		}
	}
	return 0, fmt.Errorf("cpu temperature: %w", ErrNoSensor)
}

// ReadCPUPower sums CPU package and core power sensors above the noise floor.
func (r *Reader) ReadCPUPower(ctx context.Context) (int, error) {
	sensors, err := r.query(ctx)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, sensor := range sensors {
		if sensor.Type != TypePower || !containsAny(sensor.Name, cpuPowerKeywords) {
			continue
		}
		if sensor.Value > r.powerMinWatts {
			total += sensor.Value
		}
	}
	if total <= 0 {
		return 0, nil
	}
	return truncate(total), nil
}

// CPUTemperature is ReadCPUTemperature with failures logged and reported as 0.
func (r *Reader) CPUTemperature(ctx context.Context) int {
	temp, err := r.ReadCPUTemperature(ctx)
	if err != nil {
		r.logger.Warn("cpu temperature unavailable", "err", err)
		return 0
	}
	return temp
}

// CPUPower is ReadCPUPower with failures logged and reported as 0.
func (r *Reader) CPUPower(ctx context.Context) int {
	power, err := r.ReadCPUPower(ctx)
	if err != nil {
		r.logger.Warn("cpu power unavailable", "err", err)
		return 0
	}
	return power
}

func (r *Reader) query(ctx context.Context) ([]Sensor, error) {
	if r.table == nil {
		return nil, ErrUnavailable
	}
	sensors, err := r.table.Sensors(ctx)
	if err != nil {
		return nil, fmt.Errorf("query sensor table: %w", err)
	}
	return sensors, nil
}

func containsAny(name string, keywords []string) bool {
	for _, keyword := range keywords {
		if strings.Contains(name, keyword) {
			return true
		}
	}
	return false
}

// truncate drops the fractional part and clamps negatives to zero.
func truncate(value float64) int {
	if value <= 0 {
		return 0
	}
	return int(value)
}
