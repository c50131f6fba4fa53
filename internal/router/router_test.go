package router_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"banjir.dev/floodwatch/internal/engine"
	"banjir.dev/floodwatch/internal/flood"
	"banjir.dev/floodwatch/internal/notify"
	"banjir.dev/floodwatch/internal/router"
	"banjir.dev/floodwatch/internal/store"
)

type fakeDirectory struct {
	devices        map[string]*store.Device
	created        []string
	heartbeats     []string
	heartbeatDescs []string
	heartbeatHints []string
	heartbeatErr   error
	flipOnNextBeat bool
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{devices: make(map[string]*store.Device)}
}

func (f *fakeDirectory) Heartbeat(_ context.Context, code, description, locationHint string, _ *time.Time) (*store.Device, bool, error) {
	if f.heartbeatErr != nil {
		return nil, false, f.heartbeatErr
	}
	f.heartbeats = append(f.heartbeats, code)
	f.heartbeatDescs = append(f.heartbeatDescs, description)
	f.heartbeatHints = append(f.heartbeatHints, locationHint)
	d, ok := f.devices[code]
	changed := !ok || f.flipOnNextBeat
	f.flipOnNextBeat = false
	if !ok {
		d = &store.Device{Code: code, Description: description, Status: store.DeviceConnected}
		f.devices[code] = d
		f.created = append(f.created, code)
	}
	d.Status = store.DeviceConnected
	return d, changed, nil
}

func (f *fakeDirectory) EnsureExists(_ context.Context, code, description, _ string) (*store.Device, bool, error) {
	if d, ok := f.devices[code]; ok {
		return d, false, nil
	}
	d := &store.Device{Code: code, Description: description, Status: store.DeviceConnected}
	f.devices[code] = d
	f.created = append(f.created, code)
	return d, true, nil
}

type fakeEngine struct {
	results map[string]*engine.Result
	err     error
	calls   int
}

func (f *fakeEngine) ProcessSensorData(_ context.Context, code string, waterLevel float64, rainfall *float64) (*engine.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if r, ok := f.results[code]; ok {
		return r, nil
	}
	return &engine.Result{
		Location:       &store.Location{ID: 1, Name: "Pos Depok"},
		PreviousStatus: flood.StatusAman,
		NewStatus:      flood.StatusAman,
	}, nil
}

type fakeLogs struct {
	appended []store.SensorLog
	err      error
}

func (f *fakeLogs) Append(_ context.Context, log *store.SensorLog) (uint, error) {
	if f.err != nil {
		return 0, f.err
	}
	if log.Timestamp.IsZero() {
		log.Timestamp = time.Now().UTC()
	}
	f.appended = append(f.appended, *log)
	return uint(len(f.appended)), nil
}

type fakeLocationQueries struct{}

func (fakeLocationQueries) GetFloodSummary(context.Context) (*store.FloodSummary, error) {
	return &store.FloodSummary{Total: 1, ByStatus: map[string]int64{"WASPADA": 1}}, nil
}

func (fakeLocationQueries) GetActiveFloodWarnings(context.Context) ([]store.Location, error) {
	return []store.Location{{ID: 1, Name: "Pos Depok", CurrentStatus: "WASPADA"}}, nil
}

type fakeDeviceQueries struct{}

func (fakeDeviceQueries) CountByStatus(context.Context) (int64, int64, int64, error) {
	return 2, 1, 1, nil
}

type recordingNotifier struct {
	mu            sync.Mutex
	notifications []notify.Notification
}

func (r *recordingNotifier) Emit(n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, n)
	return nil
}

func (r *recordingNotifier) ofType(t string) []notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Notification
	for _, n := range r.notifications {
		if n.Type == t {
			out = append(out, n)
		}
	}
	return out
}

type recordingHub struct {
	mu     sync.Mutex
	frames []struct {
		Channel string
		Event   string
	}
}

func (r *recordingHub) Publish(channel, event string, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, struct {
		Channel string
		Event   string
	}{channel, event})
}

func (r *recordingHub) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.frames))
	for i, f := range r.frames {
		out[i] = f.Event
	}
	return out
}

var _ = Describe("Router", func() {
	var (
		ctx      context.Context
		logger   *slog.Logger
		dir      *fakeDirectory
		eng      *fakeEngine
		logs     *fakeLogs
		notifier *recordingNotifier
		hub      *recordingHub
		rtr      *router.Router
	)

	BeforeEach(func() {
		ctx = context.Background()
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
		dir = newFakeDirectory()
		eng = &fakeEngine{results: make(map[string]*engine.Result)}
		logs = &fakeLogs{}
		notifier = &recordingNotifier{}
		hub = &recordingHub{}

		var err error
		rtr, err = router.New(&router.Config{
			Logger:    logger,
			Scheme:    router.DefaultScheme("floodwatch"),
			Directory: dir,
			Engine:    eng,
			Logs:      logs,
			Locations: fakeLocationQueries{},
			Devices:   fakeDeviceQueries{},
			Notifier:  notifier,
			Hub:       hub,
		})
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("heartbeat dispatch", func() {
		It("touches the directory and broadcasts on a connectivity flip", func() {
			rtr.Handle(ctx, "floodwatch/WL-01/heartbeat", []byte(`{}`))

			Expect(dir.heartbeats).To(Equal([]string{"WL-01"}))
			Expect(notifier.ofType(router.TypeDeviceStatusChanged)).To(HaveLen(1))
			Expect(hub.events()).To(ContainElement(router.EventDeviceStatusSummary))
		})

		It("stays quiet when the device was already connected", func() {
			rtr.Handle(ctx, "floodwatch/WL-01/heartbeat", nil)
			before := len(notifier.ofType(router.TypeDeviceStatusChanged))

			rtr.Handle(ctx, "floodwatch/WL-01/heartbeat", nil)
			Expect(notifier.ofType(router.TypeDeviceStatusChanged)).To(HaveLen(before))
		})

		It("forwards payload enrichments to the directory", func() {
			rtr.Handle(ctx, "floodwatch/WL-01/heartbeat",
				[]byte(`{"description":"upstream gauge","location":"3"}`))

			Expect(dir.heartbeatDescs).To(Equal([]string{"upstream gauge"}))
			Expect(dir.heartbeatHints).To(Equal([]string{"3"}))
		})
	})

	Describe("device check dispatch", func() {
		It("emits a new-device notification only on first contact", func() {
			rtr.Handle(ctx, "floodwatch/check/device", []byte(`{"deviceCode":"X1"}`))
			Expect(notifier.ofType(router.TypeNewDevice)).To(HaveLen(1))
			Expect(hub.events()).To(ContainElement(router.EventDeviceCheckResult))

			rtr.Handle(ctx, "floodwatch/check/device", []byte(`{"deviceCode":"X1"}`))
			Expect(notifier.ofType(router.TypeNewDevice)).To(HaveLen(1))
		})

		It("reports a check without a device code", func() {
			rtr.Handle(ctx, "floodwatch/check/device", []byte(`{}`))
			Expect(hub.events()).To(ContainElement(router.EventDeviceCheckError))
			Expect(notifier.ofType(router.TypeError)).To(HaveLen(1))
		})
	})

	Describe("sensor reading dispatch", func() {
		It("persists, caches and broadcasts a reading", func() {
			rtr.Handle(ctx, "floodwatch/WL-01/sensor", []byte(`{"waterlevel_cm": 85, "rainfall_mm": 3}`))

			Expect(logs.appended).To(HaveLen(1))
			Expect(logs.appended[0].WaterLevel).To(HaveValue(Equal(85.0)))
			Expect(logs.appended[0].Rainfall).To(HaveValue(Equal(3.0)))

			cached, ok := rtr.Latest().Get("WL-01")
			Expect(ok).To(BeTrue())
			Expect(cached.WaterLevel).To(HaveValue(Equal(85.0)))

			Expect(hub.events()).To(ContainElements(
				router.EventSensorData,
				router.EventSensorDataSaved,
			))
		})

		It("skips persistence when no metric is present", func() {
			rtr.Handle(ctx, "floodwatch/WL-01/sensor", []byte(`{"battery": 80}`))
			Expect(logs.appended).To(BeEmpty())
			Expect(eng.calls).To(BeZero())
		})

		It("does not invoke the engine for rainfall-only readings", func() {
			rtr.Handle(ctx, "floodwatch/WL-01/sensor", []byte(`{"rainfall_mm": 3}`))
			Expect(logs.appended).To(HaveLen(1))
			Expect(eng.calls).To(BeZero())
		})

		It("broadcasts transitions with history and flood-state refreshes", func() {
			locID := uint(7)
			eng.results["WL-01"] = &engine.Result{
				Location:       &store.Location{ID: locID, Name: "Pintu Air Manggarai"},
				PreviousStatus: flood.StatusAman,
				NewStatus:      flood.StatusWaspada,
				Changed:        true,
				History: &store.LocationStatusHistory{
					LocationID:     &locID,
					PreviousStatus: "AMAN",
					NewStatus:      "WASPADA",
					WaterLevel:     85,
				},
			}

			rtr.Handle(ctx, "floodwatch/WL-01/sensor", []byte(`{"waterlevel_cm": 85}`))

			Expect(hub.events()).To(ContainElements(
				router.EventLocationStatus,
				router.EventStatusHistoryCreated,
				router.EventFloodSummary,
				router.EventFloodWarnings,
			))
			changes := notifier.ofType(router.TypeLocationStatusChanged)
			Expect(changes).To(HaveLen(1))
			Expect(changes[0].Severity).To(Equal(flood.SeverityMedium))
		})

		It("continues past a failed heartbeat touch", func() {
			dir.heartbeatErr = errors.New("directory down")
			rtr.Handle(ctx, "floodwatch/WL-01/sensor", []byte(`{"waterlevel_cm": 85}`))
			Expect(logs.appended).To(HaveLen(1))
		})

		It("reports a persistence failure and keeps running", func() {
			logs.err = fmt.Errorf("insert: %w", store.ErrNoData)
			rtr.Handle(ctx, "floodwatch/WL-01/sensor", []byte(`{"waterlevel_cm": 85}`))

			Expect(hub.events()).To(ContainElement(router.EventSensorDataError))
			Expect(notifier.ofType(router.TypeError)).To(HaveLen(1))

			logs.err = nil
			rtr.Handle(ctx, "floodwatch/WL-01/sensor", []byte(`{"waterlevel_cm": 90}`))
			Expect(logs.appended).To(HaveLen(1))
		})

		It("reports a legacy reading without a device code", func() {
			rtr.Handle(ctx, "floodwatch/sensor", []byte(`{"waterLevel": 85}`))
			Expect(logs.appended).To(BeEmpty())
			Expect(notifier.ofType(router.TypeError)).To(HaveLen(1))
		})
	})

	Describe("malformed payloads", func() {
		It("emits one error notification and recovers on the next message", func() {
			rtr.Handle(ctx, "floodwatch/WL-01/sensor", []byte(`{broken`))

			Expect(notifier.ofType(router.TypeError)).To(HaveLen(1))
			Expect(logs.appended).To(BeEmpty())

			rtr.Handle(ctx, "floodwatch/WL-01/sensor", []byte(`{"waterlevel_cm": 85}`))
			Expect(logs.appended).To(HaveLen(1))
			Expect(notifier.ofType(router.TypeError)).To(HaveLen(1))
		})
	})

	Describe("unhandled topics", func() {
		It("logs without erroring", func() {
			rtr.Handle(ctx, "weather/jakarta/forecast", []byte(`{}`))
			Expect(notifier.notifications).To(BeEmpty())
			Expect(hub.frames).To(BeEmpty())
		})
	})
})
