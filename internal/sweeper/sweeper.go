// Package sweeper periodically marks silent devices as disconnected.
package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"banjir.dev/floodwatch/internal/store"
	"banjir.dev/floodwatch/pkg/metrics"
)

const (
	// DefaultInterval is the time between sweep passes.
	DefaultInterval = 2 * time.Minute
	// DefaultTimeout is how long a device may stay silent before a sweep
	// flips it to disconnected.
	DefaultTimeout = 5 * time.Minute
)

// Directory is the device directory surface the sweeper drives.
type Directory interface {
	MarkOfflineIfStale(ctx context.Context, timeout time.Duration) ([]store.Device, error)
}

// Reporter receives the devices a sweep flipped to disconnected.
type Reporter interface {
	NotifyDeviceOffline(ctx context.Context, device *store.Device)
}

// Config holds the configuration for the Sweeper.
type Config struct {
	Logger    *slog.Logger
	Directory Directory
	Reporter  Reporter
	Clock     clockwork.Clock
	Interval  time.Duration
	Timeout   time.Duration
	Metrics   *metrics.MonitorMetrics
}

// Sweeper runs the offline sweep loop. Its lifetime follows the broker
// connection: a lost connection stops the loop so devices are not flipped
// while no heartbeat can possibly arrive.
type Sweeper struct {
	logger    *slog.Logger
	directory Directory
	reporter  Reporter
	clock     clockwork.Clock
	interval  time.Duration
	timeout   time.Duration
	metrics   *metrics.MonitorMetrics // optional

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Sweeper.
func New(cfg *Config) (*Sweeper, error) {
	if cfg == nil {
		return nil, errors.New("sweeper config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Directory == nil {
		return nil, errors.New("directory cannot be nil")
	}
	if cfg.Reporter == nil {
		return nil, errors.New("reporter cannot be nil")
	}

	s := &Sweeper{
		logger:    cfg.Logger,
		directory: cfg.Directory,
		reporter:  cfg.Reporter,
		clock:     cfg.Clock,
		interval:  cfg.Interval,
		timeout:   cfg.Timeout,
		metrics:   cfg.Metrics,
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.interval <= 0 {
		s.interval = DefaultInterval
	}
	if s.timeout <= 0 {
		s.timeout = DefaultTimeout
	}
	return s, nil
}

// Start launches the sweep loop. Calling Start on a running sweeper is a
// no-op; the broker reconnect handler may fire more than once.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(ctx, s.done)

	s.logger.Info("offline sweeper started",
		"interval", s.interval,
		"timeout", s.timeout,
	)
}

// Stop halts the sweep loop and waits for the current pass to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	s.logger.Info("offline sweeper stopped")
}

func (s *Sweeper) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.Chan():
			if err := s.Sweep(ctx); err != nil {
				s.logger.Error("sweep failed", "error", err)
				// Continue on error - don't stop the sweeper
				continue
			}
		}
	}
}

// Sweep runs a single pass: every connected device whose last heartbeat is
// older than the timeout is flipped to disconnected and reported.
func (s *Sweeper) Sweep(ctx context.Context) error {
	flipped, err := s.directory.MarkOfflineIfStale(ctx, s.timeout)
	if err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.SweepsTotal.Inc()
		s.metrics.DevicesMarkedOffline.Add(float64(len(flipped)))
	}

	if len(flipped) == 0 {
		s.logger.Debug("sweep found no stale devices")
		return nil
	}

	for i := range flipped {
		device := &flipped[i]
		s.logger.Info("device marked offline",
			"device", device.Code,
			"last_seen", device.LastSeen,
		)
		s.reporter.NotifyDeviceOffline(ctx, device)
	}

	return nil
}
