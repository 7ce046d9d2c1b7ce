//go:build linux

package sensors

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const hwmonClassPath = "class/hwmon"

// Chips whose sensors describe the CPU package. Their labels get a "CPU"
// prefix so the name matching rules work the same as on Windows.
var cpuChips = map[string]struct{}{
	"coretemp":     {},
	"k10temp":      {},
	"k8temp":       {},
	"zenpower":     {},
	"cpu_thermal":  {},
	"via_cputemp":  {},
	"fam15h_power": {},
}

// HwmonTable reads the Linux hwmon class from sysfs.
type HwmonTable struct {
	root   string
	logger *slog.Logger
}

// NewHwmonTable returns a table rooted at sysfsRoot (normally "/sys").
func NewHwmonTable(sysfsRoot string, logger *slog.Logger) *HwmonTable {
	return &HwmonTable{
		root:   filepath.Join(sysfsRoot, hwmonClassPath),
		logger: logger,
	}
}

func openPlatformTable(opts Options, logger *slog.Logger) (Table, error) {
	root := opts.SysfsRoot
	if root == "" {
		root = "/sys"
	}
	table := NewHwmonTable(root, logger)
	if _, err := os.Stat(table.root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return table, nil
}

// Sensors walks every hwmon chip and returns its temperature and power inputs.
func (t *HwmonTable) Sensors(ctx context.Context) ([]Sensor, error) {
	entries, err := os.ReadDir(t.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrUnavailable
		}
		return nil, fmt.Errorf("read hwmon class dir: %w", err)
	}

	var out []Sensor
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !strings.HasPrefix(entry.Name(), "hwmon") {
			continue
		}
		chipPath := filepath.Join(t.root, entry.Name())
		out = append(out, t.readChip(chipPath)...)
	}
	return out, nil
}

func (t *HwmonTable) readChip(chipPath string) []Sensor {
	chip, err := readTrimmed(filepath.Join(chipPath, "name"))
	if err != nil {
		t.logger.Debug("hwmon chip without name", "path", chipPath, "err", err)
		return nil
	}
	prefix := chip
	if _, ok := cpuChips[chip]; ok {
		prefix = "CPU"
	}

	files, err := os.ReadDir(chipPath)
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, f.Name())
	}
	sort.Strings(names)

	var out []Sensor
	seenPower := make(map[string]struct{})
	for _, name := range names {
		switch {
		case strings.HasPrefix(name, "temp") && strings.HasSuffix(name, "_input"):
			channel := strings.TrimSuffix(name, "_input")
			value, err := readFloatValue(filepath.Join(chipPath, name))
			if err != nil {
				continue
			}
			out = append(out, Sensor{
				Name:  prefix + " " + t.label(chipPath, channel),
				Type:  TypeTemperature,
				Value: value / 1000,
			})
		case strings.HasPrefix(name, "power") && (strings.HasSuffix(name, "_average") || strings.HasSuffix(name, "_input")):
			channel := name[:strings.LastIndexByte(name, '_')]
			if _, ok := seenPower[channel]; ok {
				continue
			}
			// Prefer the averaged reading when a chip exposes both.
			value, err := readFloatValue(filepath.Join(chipPath, channel+"_average"))
			if err != nil {
				value, err = readFloatValue(filepath.Join(chipPath, channel+"_input"))
			}
			if err != nil {
				continue
			}
			seenPower[channel] = struct{}{}
			out = append(out, Sensor{
				Name:  prefix + " " + t.label(chipPath, channel),
				Type:  TypePower,
				Value: value / 1_000_000,
			})
		}
	}
	return out
}

func (t *HwmonTable) label(chipPath, channel string) string {
	if label, err := readTrimmed(filepath.Join(chipPath, channel+"_label")); err == nil && label != "" {
		return label
	}
	return channel
}

func readTrimmed(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func readFloatValue(path string) (float64, error) {
	valueStr, err := readTrimmed(path)
	if err != nil {
		return 0, err
	}
	if valueStr == "" {
		return 0, fmt.Errorf("empty value")
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("parse float: %w", err)
	}
	return value, nil
}
