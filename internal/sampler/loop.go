package sampler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// State is the lifecycle phase of a Loop.
type State int32

const (
	StateInitializing State = iota
	StateRunning
	StateShuttingDown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// LineWriter is the transport a Loop writes frames to.
type LineWriter interface {
	WriteLine(text string) error
	Close() error
}

// Opener acquires the transport. It is called once per Run.
type Opener func(ctx context.Context) (LineWriter, error)

// Source produces one sample per tick.
type Source interface {
	Collect(ctx context.Context) Sample
}

// Loop samples at a fixed delay, writes every frame to the transport, caches
// the latest sample and fans it out to subscribers.
type Loop struct {
	interval time.Duration
	source   Source
	open     Opener
	logger   *slog.Logger

	state         atomic.Int32
	ticks         atomic.Uint64
	writeFailures atomic.Uint64

	mu          sync.RWMutex
	latest      Sample
	hasLatest   bool
	stopped     bool
	subscribers map[*subscriber]struct{}
}

// NewLoop builds a Loop in the initializing state.
func NewLoop(interval time.Duration, source Source, open Opener, logger *slog.Logger) (*Loop, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be > 0")
	}
	if source == nil {
		return nil, fmt.Errorf("source is required")
	}
	if open == nil {
		return nil, fmt.Errorf("opener is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		interval:    interval,
		source:      source,
		open:        open,
		logger:      logger.With("component", "sample_loop"),
		subscribers: make(map[*subscriber]struct{}),
	}, nil
}

// Run opens the transport and samples until ctx is canceled. It returns nil
// after an interruption and the wrapped error when the transport cannot be
// opened. Run must be called at most once.
func (l *Loop) Run(ctx context.Context) error {
	defer l.stop()

	writer, err := l.open(ctx)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			l.logger.Info("interrupted before transport was ready")
			return nil
		}
		return fmt.Errorf("open transport: %w", err)
	}
	defer func() {
		l.setState(StateShuttingDown)
		if err := writer.Close(); err != nil {
			l.logger.Warn("failed to close transport", "err", err)
		}
	}()

	l.setState(StateRunning)
	l.logger.Info("sample loop started", "interval", l.interval)

	for {
		if ctx.Err() != nil {
			l.logger.Info("sample loop stopping", "reason", ctx.Err(), "ticks", l.ticks.Load())
			return nil
		}
		l.tick(ctx, writer)
		if !l.wait(ctx) {
			l.logger.Info("sample loop stopping", "reason", ctx.Err(), "ticks", l.ticks.Load())
			return nil
		}
	}
}

func (l *Loop) tick(ctx context.Context, writer LineWriter) {
	n := l.ticks.Add(1)
	sample := l.source.Collect(ctx)
	line := Format(sample)
	if err := writer.WriteLine(line); err != nil {
		l.writeFailures.Add(1)
		l.logger.Warn("failed to write frame", "tick", n, "line", line, "err", err)
	} else {
		l.logger.Info("frame sent", "tick", n, "line", line)
	}
	l.publish(sample)
}

// wait sleeps one interval and reports false when interrupted.
func (l *Loop) wait(ctx context.Context) bool {
	timer := time.NewTimer(l.interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// State returns the current lifecycle phase.
func (l *Loop) State() State {
	return State(l.state.Load())
}

// Ticks returns the number of ticks started.
func (l *Loop) Ticks() uint64 {
	return l.ticks.Load()
}

// WriteFailures returns the number of frames the transport rejected.
func (l *Loop) WriteFailures() uint64 {
	return l.writeFailures.Load()
}

// Latest returns the most recent sample.
func (l *Loop) Latest() (Sample, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.latest, l.hasLatest
}

// Ready reports whether the loop is running and has completed a tick.
func (l *Loop) Ready() bool {
	if l.State() != StateRunning {
		return false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.hasLatest
}

// Subscribe registers a listener for new samples. The latest sample, if any,
// is delivered immediately. The channel is closed when the loop stops or the
// returned function is called.
func (l *Loop) Subscribe() (<-chan Sample, func()) {
	sub := newSubscriber()

	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		sub.close()
		return sub.channel(), func() {}
	}
	l.subscribers[sub] = struct{}{}
	if l.hasLatest {
		sub.send(l.latest)
	}
	l.mu.Unlock()

	return sub.channel(), func() { l.removeSubscriber(sub) }
}

func (l *Loop) setState(state State) {
	l.state.Store(int32(state))
}

func (l *Loop) publish(sample Sample) {
	l.mu.Lock()
	l.latest = sample
	l.hasLatest = true
	targets := make([]*subscriber, 0, len(l.subscribers))
	for sub := range l.subscribers {
		targets = append(targets, sub)
	}
	l.mu.Unlock()

	for _, sub := range targets {
		sub.send(sample)
	}
}

func (l *Loop) removeSubscriber(sub *subscriber) {
	l.mu.Lock()
	delete(l.subscribers, sub)
	l.mu.Unlock()
	sub.close()
}

func (l *Loop) stop() {
	l.setState(StateStopped)

	l.mu.Lock()
	l.stopped = true
	subs := l.subscribers
	l.subscribers = make(map[*subscriber]struct{})
	l.mu.Unlock()

	for sub := range subs {
		sub.close()
	}
}

type subscriber struct {
	ch     chan Sample
	mu     sync.Mutex
	closed bool
}

func newSubscriber() *subscriber {
	return &subscriber{
		ch: make(chan Sample, 1),
	}
}

func (s *subscriber) channel() <-chan Sample {
	return s.ch
}

func (s *subscriber) send(sample Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- sample:
		return
	default:
		// Drop oldest to make room for new sample.
		select {
		case <-s.ch:
		default:
		}
		select {
		case s.ch <- sample:
		default:
		}
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	close(s.ch)
	s.closed = true
}
