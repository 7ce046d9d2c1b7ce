package sensors

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
)

type staticTable struct {
	sensors []Sensor
	err     error
	calls   int
}

func (s *staticTable) Sensors(context.Context) ([]Sensor, error) {
	s.calls++
	return s.sensors, s.err
}

func newTestReader(table Table) *Reader {
	return NewReader(table, 1, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestReadCPUTemperatureFirstMatch(t *testing.T) {
	t.Parallel()

	table := &staticTable{sensors: []Sensor{
		{Name: "GPU Core", Type: TypeTemperature, Value: 70},
		{Name: "CPU Core #1", Type: TypeLoad, Value: 12},
		{Name: "CPU Package", Type: TypeTemperature, Value: 55.9},
		{Name: "CPU Core #2", Type: TypeTemperature, Value: 61},
	}}

	temp, err := newTestReader(table).ReadCPUTemperature(context.Background())
	if err != nil {
		t.Fatalf("ReadCPUTemperature returned error: %v", err)
	}
	if temp != 55 {
		t.Fatalf("expected 55, got %d", temp)
	}
}

func TestReadCPUTemperatureNoMatch(t *testing.T) {
	t.Parallel()

	table := &staticTable{sensors: []Sensor{{Name: "GPU Core", Type: TypeTemperature, Value: 70}}}
	reader := newTestReader(table)

	if _, err := reader.ReadCPUTemperature(context.Background()); !errors.Is(err, ErrNoSensor) {
		t.Fatalf("expected ErrNoSensor, got %v", err)
	}
	if got := reader.CPUTemperature(context.Background()); got != 0 {
		t.Fatalf("expected default 0, got %d", got)
	}
}

func TestReadCPUPowerSumsAboveFloor(t *testing.T) {
	t.Parallel()

	table := &staticTable{sensors: []Sensor{
		{Name: "CPU Cores", Type: TypePower, Value: 0.5},
		{Name: "CPU Package", Type: TypePower, Value: 5.0},
		{Name: "Core #1", Type: TypePower, Value: 3.0},
		{Name: "CPU DRAM", Type: TypePower, Value: 0.9},
		{Name: "GPU Power", Type: TypePower, Value: 150},
		{Name: "CPU Package", Type: TypeTemperature, Value: 60},
	}}

	power, err := newTestReader(table).ReadCPUPower(context.Background())
	if err != nil {
		t.Fatalf("ReadCPUPower returned error: %v", err)
	}
	if power != 8 {
		t.Fatalf("expected 8, got %d", power)
	}
}

func TestReadCPUPowerNothingAboveFloor(t *testing.T) {
	t.Parallel()

	table := &staticTable{sensors: []Sensor{{Name: "CPU Package", Type: TypePower, Value: 1}}}
	power, err := newTestReader(table).ReadCPUPower(context.Background())
	if err != nil {
		t.Fatalf("ReadCPUPower returned error: %v", err)
	}
	if power != 0 {
		t.Fatalf("expected 0, got %d", power)
	}
}

func TestReaderDegradesOnTableFailure(t *testing.T) {
	t.Parallel()

	failing := &staticTable{err: errors.New("namespace not found")}
	reader := newTestReader(failing)
	ctx := context.Background()

	if got := reader.CPUTemperature(ctx); got != 0 {
		t.Fatalf("expected temperature 0, got %d", got)
	}
	if got := reader.CPUPower(ctx); got != 0 {
		t.Fatalf("expected power 0, got %d", got)
	}
	if failing.calls != 2 {
		t.Fatalf("expected each metric to query independently, got %d calls", failing.calls)
	}

	missing := newTestReader(nil)
	if _, err := missing.ReadCPUPower(ctx); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable for nil table, got %v", err)
	}
	if got := missing.CPUTemperature(ctx); got != 0 {
		t.Fatalf("expected temperature 0 for nil table, got %d", got)
	}
}

func TestNegativeReadingsClampToZero(t *testing.T) {
	t.Parallel()

	table := &staticTable{sensors: []Sensor{{Name: "CPU Package", Type: TypeTemperature, Value: -4}}}
	if got := newTestReader(table).CPUTemperature(context.Background()); got != 0 {
		t.Fatalf("expected clamped 0, got %d", got)
	}
}
