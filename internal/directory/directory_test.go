package directory_test

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"banjir.dev/floodwatch/internal/directory"
	"banjir.dev/floodwatch/internal/store"
)

var _ = Describe("Directory", func() {
	var (
		ctx       context.Context
		logger    *slog.Logger
		devices   *fakeDeviceStore
		locations *fakeLocationResolver
		clock     *clockwork.FakeClock
		dir       *directory.Directory
	)

	BeforeEach(func() {
		ctx = context.Background()
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
		devices = newFakeDeviceStore()
		locations = &fakeLocationResolver{locations: []store.Location{
			{ID: 1, Name: "Pintu Air Manggarai"},
			{ID: 2, Name: "Pos Depok"},
		}}
		clock = clockwork.NewFakeClockAt(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))

		var err error
		dir, err = directory.New(&directory.Config{
			Logger:    logger,
			Devices:   devices,
			Locations: locations,
			Clock:     clock,
		})
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("New", func() {
		It("rejects a nil config", func() {
			_, err := directory.New(nil)
			Expect(err).To(HaveOccurred())
		})

		It("rejects a missing device store", func() {
			_, err := directory.New(&directory.Config{Logger: logger, Locations: locations})
			Expect(err).To(MatchError(ContainSubstring("device store")))
		})
	})

	Describe("Resolve", func() {
		It("rejects blank codes with ErrInvalidCode", func() {
			_, err := dir.Resolve(ctx, "   ")
			Expect(err).To(MatchError(store.ErrInvalidCode))
		})

		It("reports unknown codes with ErrNotFound", func() {
			_, err := dir.Resolve(ctx, "GHOST")
			Expect(err).To(MatchError(store.ErrNotFound))
		})
	})

	Describe("EnsureExists", func() {
		It("creates an unknown device under the fallback location", func() {
			device, created, err := dir.EnsureExists(ctx, "X1", "upstream gauge", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(BeTrue())
			Expect(device.Code).To(Equal("X1"))
			Expect(device.Status).To(Equal(store.DeviceConnected))
			Expect(device.LocationID).To(HaveValue(Equal(uint(1))))
		})

		It("is idempotent: a second call returns the same record without creating", func() {
			first, created, err := dir.EnsureExists(ctx, "X1", "", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(BeTrue())

			second, created, err := dir.EnsureExists(ctx, "X1", "", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(BeFalse())
			Expect(second.ID).To(Equal(first.ID))
		})

		It("honors a numeric location hint", func() {
			device, _, err := dir.EnsureExists(ctx, "X2", "", "2")
			Expect(err).NotTo(HaveOccurred())
			Expect(device.LocationID).To(HaveValue(Equal(uint(2))))
		})

		It("converges on the winner when losing a create race", func() {
			winner := &store.Device{ID: 99, Code: "X3", Status: store.DeviceConnected}
			devices.createConflictWith = winner

			device, created, err := dir.EnsureExists(ctx, "X3", "", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(BeFalse())
			Expect(device.ID).To(Equal(uint(99)))
		})
	})

	Describe("Heartbeat", func() {
		It("auto-registers an unknown device and reports a status change", func() {
			device, changed, err := dir.Heartbeat(ctx, "X1", "", "", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(changed).To(BeTrue())
			Expect(device.Status).To(Equal(store.DeviceConnected))
			Expect(device.LastSeen).NotTo(BeNil())
		})

		It("does not report a change for an already-connected device", func() {
			_, _, err := dir.Heartbeat(ctx, "X1", "", "", nil)
			Expect(err).NotTo(HaveOccurred())

			clock.Advance(time.Minute)
			_, changed, err := dir.Heartbeat(ctx, "X1", "", "", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(changed).To(BeFalse())
		})

		It("reports a change when a disconnected device comes back", func() {
			_, _, err := dir.Heartbeat(ctx, "X1", "", "", nil)
			Expect(err).NotTo(HaveOccurred())

			clock.Advance(10 * time.Minute)
			_, err = dir.MarkOfflineIfStale(ctx, 5*time.Minute)
			Expect(err).NotTo(HaveOccurred())

			_, changed, err := dir.Heartbeat(ctx, "X1", "", "", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(changed).To(BeTrue())
		})

		It("applies description and location hint when auto-registering", func() {
			device, changed, err := dir.Heartbeat(ctx, "X5", "bridge gauge", "2", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(changed).To(BeTrue())
			Expect(device.Description).To(Equal("bridge gauge"))
			Expect(device.LocationID).To(HaveValue(Equal(uint(2))))
		})

		It("reports the reconnect when the status flips just before the update", func() {
			_, _, err := dir.Heartbeat(ctx, "X1", "", "", nil)
			Expect(err).NotTo(HaveOccurred())

			devices.beforeHeartbeatUpdate = func(d *store.Device) {
				d.Status = store.DeviceDisconnected
			}

			clock.Advance(time.Minute)
			_, changed, err := dir.Heartbeat(ctx, "X1", "", "", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(changed).To(BeTrue())
		})

		It("reports a reconnect exactly once across concurrent heartbeats", func() {
			_, _, err := dir.Heartbeat(ctx, "X1", "", "", nil)
			Expect(err).NotTo(HaveOccurred())

			clock.Advance(10 * time.Minute)
			_, err = dir.MarkOfflineIfStale(ctx, 5*time.Minute)
			Expect(err).NotTo(HaveOccurred())

			results := make(chan bool, 2)
			var wg sync.WaitGroup
			for range 2 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					defer GinkgoRecover()
					_, changed, err := dir.Heartbeat(ctx, "X1", "", "", nil)
					Expect(err).NotTo(HaveOccurred())
					results <- changed
				}()
			}
			wg.Wait()
			close(results)

			flips := 0
			for changed := range results {
				if changed {
					flips++
				}
			}
			Expect(flips).To(Equal(1))
		})

		It("ignores heartbeats older than the stored last-seen", func() {
			device, _, err := dir.Heartbeat(ctx, "X1", "", "", nil)
			Expect(err).NotTo(HaveOccurred())
			lastSeen := *device.LastSeen

			stale := lastSeen.Add(-time.Hour)
			device, _, err = dir.Heartbeat(ctx, "X1", "", "", &stale)
			Expect(err).NotTo(HaveOccurred())
			Expect(*device.LastSeen).To(Equal(lastSeen))
		})
	})

	Describe("MarkOfflineIfStale", func() {
		It("flips only devices past the timeout", func() {
			_, _, err := dir.Heartbeat(ctx, "OLD", "", "", nil)
			Expect(err).NotTo(HaveOccurred())

			clock.Advance(10 * time.Minute)
			_, _, err = dir.Heartbeat(ctx, "FRESH", "", "", nil)
			Expect(err).NotTo(HaveOccurred())

			flipped, err := dir.MarkOfflineIfStale(ctx, 5*time.Minute)
			Expect(err).NotTo(HaveOccurred())
			Expect(flipped).To(HaveLen(1))
			Expect(flipped[0].Code).To(Equal("OLD"))
			Expect(flipped[0].Status).To(Equal(store.DeviceDisconnected))

			fresh, err := dir.Resolve(ctx, "FRESH")
			Expect(err).NotTo(HaveOccurred())
			Expect(fresh.Status).To(Equal(store.DeviceConnected))
		})

		It("returns nothing when every device is fresh", func() {
			_, _, err := dir.Heartbeat(ctx, "X1", "", "", nil)
			Expect(err).NotTo(HaveOccurred())

			flipped, err := dir.MarkOfflineIfStale(ctx, 5*time.Minute)
			Expect(err).NotTo(HaveOccurred())
			Expect(flipped).To(BeEmpty())
		})
	})
})
