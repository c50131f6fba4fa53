package sweeper_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"banjir.dev/floodwatch/internal/store"
	"banjir.dev/floodwatch/internal/sweeper"
)

type fakeDirectory struct {
	mu      sync.Mutex
	stale   []store.Device
	err     error
	sweeps  int
	timeout time.Duration
}

func (f *fakeDirectory) MarkOfflineIfStale(_ context.Context, timeout time.Duration) ([]store.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweeps++
	f.timeout = timeout
	if f.err != nil {
		return nil, f.err
	}
	out := f.stale
	f.stale = nil
	return out, nil
}

func (f *fakeDirectory) sweepCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sweeps
}

type fakeReporter struct {
	mu      sync.Mutex
	offline []string
}

func (f *fakeReporter) NotifyDeviceOffline(_ context.Context, device *store.Device) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offline = append(f.offline, device.Code)
}

func (f *fakeReporter) reported() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.offline...)
}

var _ = Describe("Sweeper", func() {
	var (
		logger   *slog.Logger
		dir      *fakeDirectory
		reporter *fakeReporter
		clock    *clockwork.FakeClock
	)

	BeforeEach(func() {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
		dir = &fakeDirectory{}
		reporter = &fakeReporter{}
		clock = clockwork.NewFakeClockAt(time.Date(2025, 1, 15, 8, 0, 0, 0, time.UTC))
	})

	newSweeper := func() *sweeper.Sweeper {
		s, err := sweeper.New(&sweeper.Config{
			Logger:    logger,
			Directory: dir,
			Reporter:  reporter,
			Clock:     clock,
		})
		Expect(err).NotTo(HaveOccurred())
		return s
	}

	Describe("a single pass", func() {
		It("reports every flipped device", func() {
			dir.stale = []store.Device{
				{Code: "WL-01", Status: store.DeviceDisconnected},
				{Code: "WL-02", Status: store.DeviceDisconnected},
			}

			Expect(newSweeper().Sweep(context.Background())).To(Succeed())
			Expect(reporter.reported()).To(Equal([]string{"WL-01", "WL-02"}))
			Expect(dir.timeout).To(Equal(sweeper.DefaultTimeout))
		})

		It("reports nothing when no device is stale", func() {
			Expect(newSweeper().Sweep(context.Background())).To(Succeed())
			Expect(reporter.reported()).To(BeEmpty())
		})

		It("surfaces directory errors", func() {
			dir.err = errors.New("db down")
			Expect(newSweeper().Sweep(context.Background())).NotTo(Succeed())
		})
	})

	Describe("the sweep loop", func() {
		It("sweeps on every tick", func() {
			s := newSweeper()
			ctx := context.Background()

			s.Start(ctx)
			defer s.Stop()

			Expect(clock.BlockUntilContext(ctx, 1)).To(Succeed())
			clock.Advance(sweeper.DefaultInterval)
			Eventually(dir.sweepCount).Should(Equal(1))

			clock.Advance(sweeper.DefaultInterval)
			Eventually(dir.sweepCount).Should(Equal(2))
		})

		It("keeps ticking after a failed sweep", func() {
			dir.err = errors.New("db down")
			s := newSweeper()
			ctx := context.Background()

			s.Start(ctx)
			defer s.Stop()

			Expect(clock.BlockUntilContext(ctx, 1)).To(Succeed())
			clock.Advance(sweeper.DefaultInterval)
			Eventually(dir.sweepCount).Should(Equal(1))

			dir.mu.Lock()
			dir.err = nil
			dir.stale = []store.Device{{Code: "WL-03", Status: store.DeviceDisconnected}}
			dir.mu.Unlock()

			clock.Advance(sweeper.DefaultInterval)
			Eventually(reporter.reported).Should(Equal([]string{"WL-03"}))
		})

		It("stops sweeping after Stop", func() {
			s := newSweeper()
			ctx := context.Background()

			s.Start(ctx)
			Expect(clock.BlockUntilContext(ctx, 1)).To(Succeed())
			s.Stop()

			clock.Advance(sweeper.DefaultInterval)
			Consistently(dir.sweepCount).Should(BeZero())
		})

		It("ignores a second Start while running", func() {
			s := newSweeper()
			ctx := context.Background()

			s.Start(ctx)
			s.Start(ctx)
			defer s.Stop()

			Expect(clock.BlockUntilContext(ctx, 1)).To(Succeed())
			clock.Advance(sweeper.DefaultInterval)
			Eventually(dir.sweepCount).Should(Equal(1))
			Consistently(dir.sweepCount).Should(Equal(1))
		})
	})
})
