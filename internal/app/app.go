// Package app wires up and runs the application services.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/skobkin/hwserial/internal/config"
	"github.com/skobkin/hwserial/internal/gpu"
	"github.com/skobkin/hwserial/internal/hostmetrics"
	"github.com/skobkin/hwserial/internal/httpserver"
	"github.com/skobkin/hwserial/internal/sampler"
	"github.com/skobkin/hwserial/internal/sensors"
	"github.com/skobkin/hwserial/internal/serialport"
	"github.com/skobkin/hwserial/internal/version"
)

const shutdownTimeout = 10 * time.Second

// Sources bundles the metric readers a sample loop collects from.
type Sources struct {
	Host       *hostmetrics.Reader
	CPU        *sensors.Reader
	GPU        *gpu.Reader
	Table      sensors.Table
	GPUBackend string
}

// OpenSources probes the host and opens every sensor backend. Only a failed
// host metrics probe is fatal; sensor and GPU backends degrade to zeros.
func OpenSources(ctx context.Context, baseLogger *slog.Logger, cfg config.Config) (*Sources, error) {
	appLogger := baseLogger.With("component", "app")

	host := hostmetrics.New(baseLogger.With("component", "hostmetrics"))
	if err := host.Probe(ctx); err != nil {
		return nil, fmt.Errorf("probe host metrics: %w", err)
	}

	sensorLogger := baseLogger.With("component", "sensors")
	table, err := sensors.OpenTable(sensors.Options{
		SysfsRoot:    cfg.SysfsRoot,
		WMINamespace: cfg.Sensors.WMINamespace,
	}, sensorLogger)
	if err != nil {
		appLogger.Warn("sensor table unavailable, cpu temperature and power will read 0", "err", err)
	}

	gpuLogger := baseLogger.With("component", "gpu")
	source, err := gpu.Open(ctx, gpu.Options{
		Backend:     cfg.GPUBackend,
		SysfsRoot:   cfg.SysfsRoot,
		DebugfsRoot: cfg.DebugfsRoot,
		Table:       table,
	}, gpuLogger)
	if err != nil {
		appLogger.Warn("no gpu backend available, gpu fields will read 0", "err", err)
	}
	gpuReader := gpu.NewReader(source, gpuLogger)
	appLogger.Info("gpu backend selected", "backend", gpuReader.Backend())

	return &Sources{
		Host:       host,
		CPU:        sensors.NewReader(table, cfg.Sensors.CPUPowerMinWatts, sensorLogger),
		GPU:        gpuReader,
		Table:      table,
		GPUBackend: gpuReader.Backend(),
	}, nil
}

// Close releases the GPU backend.
func (s *Sources) Close() error {
	return s.GPU.Close()
}

// Run bootstraps the application lifecycle. It returns nil after ctx is
// canceled and an error when startup fails.
func Run(ctx context.Context, baseLogger *slog.Logger, cfg config.Config) error {
	appLogger := baseLogger.With("component", "app")
	build := version.Current()
	appLogger.Info("starting",
		"version", build.Version,
		"commit", build.Commit,
		"serial_port", cfg.Serial.Port,
		"baud_rate", cfg.Serial.BaudRate,
		"interval", cfg.SampleInterval,
	)

	sources, err := OpenSources(ctx, baseLogger, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := sources.Close(); err != nil {
			appLogger.Warn("gpu backend close", "err", err)
		}
	}()

	collector := sampler.NewCollector(sources.Host, sources.CPU, sources.GPU, baseLogger)
	loop, err := sampler.NewLoop(cfg.SampleInterval, collector, SerialOpener(cfg.Serial, baseLogger), baseLogger)
	if err != nil {
		return fmt.Errorf("init sample loop: %w", err)
	}

	loopErrCh := make(chan error, 1)
	go func() {
		loopErrCh <- loop.Run(ctx)
	}()

	var (
		srv      *httpserver.Server
		srvErrCh chan error
	)
	if cfg.HTTPEnabled() {
		srv = httpserver.New(cfg, baseLogger.With("component", "http"), loop, sources.GPUBackend)
		srvErrCh = make(chan error, 1)
		appLogger.Info("starting HTTP server", "listen_addr", cfg.ListenAddr)
		go func() {
			srvErrCh <- srv.Start()
		}()
	}

	for {
		select {
		case err := <-srvErrCh:
			srvErrCh = nil
			srv = nil
			if err != nil {
				appLogger.Error("http server failed, continuing without it", "err", err)
			}
		case err := <-loopErrCh:
			if srv != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				shutdownErr := srv.Shutdown(shutdownCtx)
				cancel()
				if shutdownErr != nil && !errors.Is(shutdownErr, context.Canceled) {
					appLogger.Warn("http shutdown", "err", shutdownErr)
				}
				if err := <-srvErrCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
					appLogger.Warn("http server stopped with error", "err", err)
				}
			}
			if err != nil {
				return err
			}
			appLogger.Info("shutdown complete")
			return nil
		}
	}
}

// SerialOpener adapts serialport.Open to the loop's transport opener.
func SerialOpener(cfg config.SerialConfig, logger *slog.Logger) sampler.Opener {
	return func(ctx context.Context) (sampler.LineWriter, error) {
		channel, err := serialport.Open(ctx, serialport.Config{
			Port:        cfg.Port,
			BaudRate:    cfg.BaudRate,
			ReadTimeout: cfg.Timeout,
			SettleDelay: cfg.SettleDelay,
		}, logger)
		if err != nil {
			return nil, err
		}
		return channel, nil
	}
}
