package gpu

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"
)

const (
	gpuBusyFilename       = "gpu_busy_percent"
	vramUsedFilename      = "mem_info_vram_used"
	vramTotalFilename     = "mem_info_vram_total"
	debugPmInfoFilename   = "amdgpu_pm_info"
	hwmonTempFile         = "temp1_input"
	hwmonPowerAverageFile = "power1_average"
	hwmonPowerInputFile   = "power1_input"
)

// AMDGPUSource reads the amdgpu sysfs interface of a single card, falling
// back to debugfs for load, temperature and power.
type AMDGPUSource struct {
	info         Info
	devicePath   string
	hwmonPath    string
	debugCardDir string
	logger       *slog.Logger
}

// OpenAMDGPU binds to the first AMD card found under sysfsRoot.
func OpenAMDGPU(sysfsRoot, debugfsRoot string, logger *slog.Logger) (*AMDGPUSource, error) {
	infos, err := Discover(sysfsRoot, logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	info, ok := FirstAMD(infos)
	if !ok {
		return nil, ErrNoDevice
	}
	return NewAMDGPUSource(info, debugfsRoot, logger)
}

// NewAMDGPUSource constructs a source for an already discovered card.
func NewAMDGPUSource(info Info, debugfsRoot string, logger *slog.Logger) (*AMDGPUSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := os.Stat(info.Device); err != nil {
		return nil, fmt.Errorf("stat device path: %w", err)
	}
	return &AMDGPUSource{
		info:         info,
		devicePath:   info.Device,
		hwmonPath:    detectHwmon(info.Device),
		debugCardDir: filepath.Join(debugfsRoot, "dri", strconv.Itoa(info.Index)),
		logger:       logger.With("card", info.ID),
	}, nil
}

// Backend implements Source.
func (s *AMDGPUSource) Backend() string { return BackendAMDGPU }

// Info returns the card this source is bound to.
func (s *AMDGPUSource) Info() Info { return s.info }

// Read samples the card. Busy percentage is mandatory; the rest degrade to 0.
func (s *AMDGPUSource) Read(ctx context.Context) (Reading, error) {
	if err := ctx.Err(); err != nil {
		return Reading{}, err
	}

	busy := s.readPercent(filepath.Join(s.devicePath, gpuBusyFilename))
	var temp, power *float64
	if s.hwmonPath != "" {
		temp = s.readScaledFloat(filepath.Join(s.hwmonPath, hwmonTempFile), 1000)
		power = s.readScaledFloat(filepath.Join(s.hwmonPath, hwmonPowerAverageFile), 1_000_000)
		if power == nil {
			power = s.readScaledFloat(filepath.Join(s.hwmonPath, hwmonPowerInputFile), 1_000_000)
		}
	}

	if busy == nil || temp == nil || power == nil {
		info := s.readDebugFSInfo()
		if busy == nil {
			busy = info.gpuLoad
		}
		if temp == nil {
			temp = info.tempC
		}
		if power == nil {
			power = info.powerW
		}
	}

	if busy == nil {
		return Reading{}, fmt.Errorf("%s: %s unreadable", s.info.ID, gpuBusyFilename)
	}

	return Reading{
		Name:          s.info.Name,
		UsagePercent:  clampPercent(*busy),
		TempC:         nonNegative(deref(temp)),
		PowerW:        nonNegative(deref(power)),
		MemUsedBytes:  s.readUint(filepath.Join(s.devicePath, vramUsedFilename)),
		MemTotalBytes: s.readUint(filepath.Join(s.devicePath, vramTotalFilename)),
	}, nil
}

// Close implements Source. sysfs needs no teardown.
func (s *AMDGPUSource) Close() error { return nil }

func (s *AMDGPUSource) readPercent(path string) *float64 {
	value, err := readFloatFile(path)
	if err != nil || value < 0 {
		return nil
	}
	if value > 100 {
		// Some kernels report busy % scaled by 100.
		value /= 100
	}
	return &value
}

func (s *AMDGPUSource) readUint(path string) uint64 {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	valueStr := strings.TrimSpace(string(data))
	value, err := strconv.ParseUint(valueStr, 10, 64)
	if err != nil {
		s.logger.Debug("failed to parse uint value", "path", path, "value", valueStr, "err", err)
		return 0
	}
	return value
}

func (s *AMDGPUSource) readScaledFloat(path string, divisor float64) *float64 {
	value, err := readFloatFile(path)
	if err != nil {
		return nil
	}
	value /= divisor
	return &value
}

type debugInfo struct {
	gpuLoad *float64
	tempC   *float64
	powerW  *float64
}

func (s *AMDGPUSource) readDebugFSInfo() debugInfo {
	data, err := os.ReadFile(filepath.Join(s.debugCardDir, debugPmInfoFilename))
	if err != nil {
		return debugInfo{}
	}

	info := debugInfo{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		lower := strings.ToLower(line)
		switch {
		case strings.HasPrefix(lower, "gpu load"):
			info.gpuLoad = extractFirstFloat(line)
		case strings.HasPrefix(lower, "gpu temperature"):
			info.tempC = extractFirstFloat(line)
		case strings.HasPrefix(lower, "gpu power"), strings.HasPrefix(lower, "power:"):
			info.powerW = extractFirstFloat(line)
		case strings.Contains(lower, "gpu load") && info.gpuLoad == nil:
			info.gpuLoad = extractFirstFloat(line)
		}
	}
	return info
}

func detectHwmon(devicePath string) string {
	hwmonRoot := filepath.Join(devicePath, "hwmon")
	entries, err := os.ReadDir(hwmonRoot)
	if err != nil {
		return ""
	}
	for _, entry := range entries {
		if entry.IsDir() || entry.Type()&os.ModeSymlink != 0 {
			return filepath.Join(hwmonRoot, entry.Name())
		}
	}
	return ""
}

func readFloatFile(path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	valueStr := strings.TrimSpace(string(data))
	if valueStr == "" {
		return 0, fmt.Errorf("empty value")
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("parse float: %w", err)
	}
	return value, nil
}

// extractFirstFloat pulls the first number out of a debugfs line such as
// "GPU Load: 76 %" or "85.00 W (average GPU)".
func extractFirstFloat(line string) *float64 {
	var buf strings.Builder
	seen := false
	for _, r := range line {
		if unicode.IsDigit(r) || r == '.' || (r == '-' && !seen) {
			buf.WriteRune(r)
			seen = true
			continue
		}
		if seen {
			if r == ',' {
				continue
			}
			break
		}
	}
	if !seen {
		return nil
	}
	value, err := strconv.ParseFloat(buf.String(), 64)
	if err != nil {
		return nil
	}
	return &value
}

func deref(value *float64) float64 {
	if value == nil {
		return 0
	}
	return *value
}
