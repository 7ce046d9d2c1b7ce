package serialport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type fakePort struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	writeErr error
	short    bool
	closes   int
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	if p.short {
		return len(b) - 1, nil
	}
	return p.buf.Write(b)
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closes++
	return nil
}

func (p *fakePort) closeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openerFor(port *fakePort) Opener {
	return func(Config) (Port, error) { return port, nil }
}

func TestWriteLineAppendsNewline(t *testing.T) {
	t.Parallel()

	port := &fakePort{}
	channel, err := OpenWith(context.Background(), Config{Port: "/dev/ttyTEST0", BaudRate: 9600}, openerFor(port), discardLogger())
	if err != nil {
		t.Fatalf("OpenWith returned error: %v", err)
	}
	t.Cleanup(func() { _ = channel.Close() })

	for _, line := range []string{"CPU:1,2,3", "CPU:4,5,6"} {
		if err := channel.WriteLine(line); err != nil {
			t.Fatalf("WriteLine returned error: %v", err)
		}
	}
	if got, want := port.buf.String(), "CPU:1,2,3\nCPU:4,5,6\n"; got != want {
		t.Fatalf("unexpected bytes %q, want %q", got, want)
	}
}

func TestWriteLineErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("device disconnected")
	tests := []struct {
		name string
		port *fakePort
		want error
	}{
		{name: "write error", port: &fakePort{writeErr: boom}, want: boom},
		{name: "short write", port: &fakePort{short: true}, want: io.ErrShortWrite},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			channel, err := OpenWith(context.Background(), Config{Port: "COM7"}, openerFor(tc.port), discardLogger())
			if err != nil {
				t.Fatalf("OpenWith returned error: %v", err)
			}
			defer channel.Close()
			if err := channel.WriteLine("x"); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	port := &fakePort{}
	channel, err := OpenWith(context.Background(), Config{Port: "COM7"}, openerFor(port), discardLogger())
	if err != nil {
		t.Fatalf("OpenWith returned error: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := channel.Close(); err != nil {
			t.Fatalf("Close returned error: %v", err)
		}
	}
	if got := port.closeCount(); got != 1 {
		t.Fatalf("expected one close, got %d", got)
	}
	if err := channel.WriteLine("late"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestOpenFailureIsWrapped(t *testing.T) {
	t.Parallel()

	boom := errors.New("no such device")
	opener := func(Config) (Port, error) { return nil, boom }
	if _, err := OpenWith(context.Background(), Config{Port: "/dev/missing"}, opener, discardLogger()); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped open error, got %v", err)
	}
	if _, err := OpenWith(context.Background(), Config{}, opener, discardLogger()); err == nil {
		t.Fatalf("expected error for empty port name")
	}
}

func TestOpenWaitsSettleDelay(t *testing.T) {
	t.Parallel()

	port := &fakePort{}
	start := time.Now()
	channel, err := OpenWith(context.Background(), Config{Port: "COM7", SettleDelay: 30 * time.Millisecond}, openerFor(port), discardLogger())
	if err != nil {
		t.Fatalf("OpenWith returned error: %v", err)
	}
	defer channel.Close()
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Fatalf("Open returned after %s, before the settle delay", elapsed)
	}
}

func TestOpenInterruptedDuringSettleClosesPort(t *testing.T) {
	t.Parallel()

	port := &fakePort{}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := OpenWith(ctx, Config{Port: "COM7", SettleDelay: time.Minute}, openerFor(port), discardLogger())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if got := port.closeCount(); got != 1 {
		t.Fatalf("expected port closed once, got %d", got)
	}
}
