// Package serialport owns the serial device that receives telemetry lines.
package serialport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.bug.st/serial"
)

// ErrClosed is returned by WriteLine after Close.
var ErrClosed = errors.New("serial port closed")

// Config describes the device and its line settings.
type Config struct {
	Port        string
	BaudRate    int
	ReadTimeout time.Duration
	SettleDelay time.Duration
}

// Port is the subset of a serial port the channel needs.
type Port interface {
	io.Writer
	io.Closer
}

// Opener opens a named device.
type Opener func(cfg Config) (Port, error)

// Channel is an open serial device. Writes are serialized and the device is
// released exactly once.
type Channel struct {
	name   string
	logger *slog.Logger

	mu     sync.Mutex
	port   Port
	closed bool
	buf    []byte

	closeOnce sync.Once
	closeErr  error
}

// Open opens the configured device and waits the settle delay so that boards
// which reset on connect are ready before the first line.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Channel, error) {
	return OpenWith(ctx, cfg, openSystemPort, logger)
}

// OpenWith is Open with a custom device opener.
func OpenWith(ctx context.Context, cfg Config, opener Opener, logger *slog.Logger) (*Channel, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Port == "" {
		return nil, fmt.Errorf("serial port name is empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	port, err := opener(cfg)
	if err != nil {
		return nil, fmt.Errorf("open serial port %q: %w", cfg.Port, err)
	}
	channel := &Channel{
		name:   cfg.Port,
		logger: logger.With("component", "serial", "port", cfg.Port),
		port:   port,
	}
	channel.logger.Info("serial port opened", "baud_rate", cfg.BaudRate, "settle_delay", cfg.SettleDelay)

	if cfg.SettleDelay > 0 {
		timer := time.NewTimer(cfg.SettleDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			if err := channel.Close(); err != nil {
				channel.logger.Warn("close after interrupted settle failed", "err", err)
			}
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return channel, nil
}

// Name returns the device name.
func (c *Channel) Name() string { return c.name }

// WriteLine writes text followed by a newline as a single write.
func (c *Channel) WriteLine(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	c.buf = append(c.buf[:0], text...)
	c.buf = append(c.buf, '\n')
	n, err := c.port.Write(c.buf)
	if err != nil {
		return fmt.Errorf("write %s: %w", c.name, err)
	}
	if n < len(c.buf) {
		return fmt.Errorf("write %s: %w (%d of %d bytes)", c.name, io.ErrShortWrite, n, len(c.buf))
	}
	return nil
}

// Close releases the device. Safe for repeated use.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.closed = true
		c.closeErr = c.port.Close()
		if c.closeErr != nil {
			c.closeErr = fmt.Errorf("close %s: %w", c.name, c.closeErr)
		}
		c.logger.Info("serial port closed")
	})
	return c.closeErr
}

func openSystemPort(cfg Config) (Port, error) {
	port, err := serial.Open(cfg.Port, &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, err
	}
	if cfg.ReadTimeout > 0 {
		if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
			_ = port.Close()
			return nil, fmt.Errorf("set read timeout: %w", err)
		}
	}
	return port, nil
}

// Ports lists the serial devices visible to the OS.
func Ports() ([]string, error) {
	return serial.GetPortsList()
}
