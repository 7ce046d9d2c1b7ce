package config

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/skobkin/hwserial/internal/gpu"
)

// Config represents runtime configuration sourced from environment variables.
type Config struct {
	SampleInterval   time.Duration
	LogLevel         slog.Level
	SysfsRoot        string
	DebugfsRoot      string
	Serial           SerialConfig
	Sensors          SensorConfig
	GPUBackend       string
	ListenAddr       string
	AllowedOrigins   []string
	EnablePrometheus bool
	EnablePprof      bool
	WS               WebsocketConfig
}

// SerialConfig describes the link to the display device.
type SerialConfig struct {
	Port        string
	BaudRate    int
	Timeout     time.Duration
	SettleDelay time.Duration
}

// SensorConfig tunes the hardware monitor sensor table readers.
type SensorConfig struct {
	WMINamespace     string
	CPUPowerMinWatts float64
}

// WebsocketConfig captures tunables for WebSocket handling.
type WebsocketConfig struct {
	MaxClients   int
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
}

// HTTPEnabled reports whether the diagnostic HTTP surface should be started.
func (c Config) HTTPEnabled() bool {
	return c.ListenAddr != ""
}

// DefaultSerialPort returns the serial device used when APP_SERIAL_PORT is unset.
func DefaultSerialPort() string {
	if runtime.GOOS == "windows" {
		return "COM7"
	}
	return "/dev/ttyACM0"
}

// Load parses configuration from environment variables, applying defaults.
func Load() (Config, error) {
	cfg := Config{
		SampleInterval: 2 * time.Second,
		LogLevel:       slog.LevelInfo,
		SysfsRoot:      "/sys",
		DebugfsRoot:    "/sys/kernel/debug",
		Serial: SerialConfig{
			Port:        DefaultSerialPort(),
			BaudRate:    9600,
			Timeout:     time.Second,
			SettleDelay: 2 * time.Second,
		},
		Sensors: SensorConfig{
			WMINamespace:     `root\OpenHardwareMonitor`,
			CPUPowerMinWatts: 1,
		},
		GPUBackend:     gpu.BackendAuto,
		AllowedOrigins: []string{"*"},
		WS: WebsocketConfig{
			MaxClients:   16,
			WriteTimeout: 3 * time.Second,
			ReadTimeout:  30 * time.Second,
		},
	}

	if value := strings.TrimSpace(os.Getenv("APP_SAMPLE_INTERVAL")); value != "" {
		duration, err := parsePositiveDuration("APP_SAMPLE_INTERVAL", value)
		if err != nil {
			return Config{}, err
		}
		cfg.SampleInterval = duration
	}

	if value := strings.TrimSpace(os.Getenv("APP_LOG_LEVEL")); value != "" {
		level, err := parseLogLevel(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_LOG_LEVEL: %w", err)
		}
		cfg.LogLevel = level
	}

	if value := strings.TrimSpace(os.Getenv("APP_SYSFS_ROOT")); value != "" {
		cfg.SysfsRoot = value
	}

	if value := strings.TrimSpace(os.Getenv("APP_DEBUGFS_ROOT")); value != "" {
		cfg.DebugfsRoot = value
	}

	if value := strings.TrimSpace(os.Getenv("APP_SERIAL_PORT")); value != "" {
		cfg.Serial.Port = value
	}

	if value := strings.TrimSpace(os.Getenv("APP_SERIAL_BAUD_RATE")); value != "" {
		baud, err := strconv.Atoi(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_SERIAL_BAUD_RATE: %w", err)
		}
		if baud <= 0 {
			return Config{}, fmt.Errorf("APP_SERIAL_BAUD_RATE must be > 0")
		}
		cfg.Serial.BaudRate = baud
	}

	if value := strings.TrimSpace(os.Getenv("APP_SERIAL_TIMEOUT")); value != "" {
		timeout, err := parsePositiveDuration("APP_SERIAL_TIMEOUT", value)
		if err != nil {
			return Config{}, err
		}
		cfg.Serial.Timeout = timeout
	}

	if value := strings.TrimSpace(os.Getenv("APP_SERIAL_SETTLE_DELAY")); value != "" {
		delay, err := time.ParseDuration(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_SERIAL_SETTLE_DELAY: %w", err)
		}
		if delay < 0 {
			return Config{}, fmt.Errorf("APP_SERIAL_SETTLE_DELAY must be >= 0")
		}
		cfg.Serial.SettleDelay = delay
	}

	if value := strings.TrimSpace(os.Getenv("APP_GPU_BACKEND")); value != "" {
		backend := strings.ToLower(value)
		if !gpu.IsBackend(backend) {
			return Config{}, fmt.Errorf("unsupported APP_GPU_BACKEND %q", value)
		}
		cfg.GPUBackend = backend
	}

	if value := strings.TrimSpace(os.Getenv("APP_WMI_NAMESPACE")); value != "" {
		cfg.Sensors.WMINamespace = value
	}

	if value := strings.TrimSpace(os.Getenv("APP_CPU_POWER_MIN_WATTS")); value != "" {
		floor, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_CPU_POWER_MIN_WATTS: %w", err)
		}
		if floor < 0 {
			return Config{}, fmt.Errorf("APP_CPU_POWER_MIN_WATTS must be >= 0")
		}
		cfg.Sensors.CPUPowerMinWatts = floor
	}

	if value := strings.TrimSpace(os.Getenv("APP_LISTEN_ADDR")); value != "" {
		cfg.ListenAddr = value
	}

	if value := strings.TrimSpace(os.Getenv("APP_ALLOWED_ORIGINS")); value != "" {
		origins := splitAndTrim(value, ",")
		if len(origins) == 0 {
			return Config{}, fmt.Errorf("APP_ALLOWED_ORIGINS must not be empty")
		}
		cfg.AllowedOrigins = origins
	}

	if value := strings.TrimSpace(os.Getenv("APP_ENABLE_PROMETHEUS")); value != "" {
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_ENABLE_PROMETHEUS: %w", err)
		}
		cfg.EnablePrometheus = enabled
	}

	if value := strings.TrimSpace(os.Getenv("APP_ENABLE_PPROF")); value != "" {
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_ENABLE_PPROF: %w", err)
		}
		cfg.EnablePprof = enabled
	}

	if value := strings.TrimSpace(os.Getenv("APP_WS_MAX_CLIENTS")); value != "" {
		maxClients, err := strconv.Atoi(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_WS_MAX_CLIENTS: %w", err)
		}
		if maxClients <= 0 {
			return Config{}, fmt.Errorf("APP_WS_MAX_CLIENTS must be > 0")
		}
		cfg.WS.MaxClients = maxClients
	}

	if value := strings.TrimSpace(os.Getenv("APP_WS_WRITE_TIMEOUT")); value != "" {
		timeout, err := parsePositiveDuration("APP_WS_WRITE_TIMEOUT", value)
		if err != nil {
			return Config{}, err
		}
		cfg.WS.WriteTimeout = timeout
	}

	if value := strings.TrimSpace(os.Getenv("APP_WS_READ_TIMEOUT")); value != "" {
		timeout, err := parsePositiveDuration("APP_WS_READ_TIMEOUT", value)
		if err != nil {
			return Config{}, err
		}
		cfg.WS.ReadTimeout = timeout
	}

	return cfg, nil
}

func parsePositiveDuration(key, value string) (time.Duration, error) {
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if duration <= 0 {
		return 0, fmt.Errorf("%s must be > 0", key)
	}
	return duration, nil
}

func splitAndTrim(value, sep string) []string {
	raw := strings.Split(value, sep)
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		trimmed := strings.TrimSpace(item)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseLogLevel(input string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(input)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unsupported log level %q", input)
	}
}
