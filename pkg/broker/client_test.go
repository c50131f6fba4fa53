package broker_test

import (
	"log/slog"
	"os"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"banjir.dev/floodwatch/pkg/broker"
	"banjir.dev/floodwatch/pkg/broker/mock"
)

var _ = Describe("Broker Client", func() {
	var logger *slog.Logger

	BeforeEach(func() {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
	})

	Describe("New", func() {
		It("rejects a nil config", func() {
			_, err := broker.New(nil)
			Expect(err).To(HaveOccurred())
		})

		It("rejects an empty URL", func() {
			_, err := broker.New(&broker.Config{ClientID: "floodwatch", Logger: logger})
			Expect(err).To(MatchError(ContainSubstring("URL")))
		})

		It("rejects an empty client ID", func() {
			_, err := broker.New(&broker.Config{URL: "tcp://localhost:1883", Logger: logger})
			Expect(err).To(MatchError(ContainSubstring("client ID")))
		})

		It("rejects a nil logger", func() {
			_, err := broker.New(&broker.Config{URL: "tcp://localhost:1883", ClientID: "floodwatch"})
			Expect(err).To(MatchError(ContainSubstring("logger")))
		})
	})

	Describe("MockClient delivery", func() {
		var (
			client *mock.MockClient
			mu     sync.Mutex
			seen   []string
		)

		record := func(topic string, _ []byte) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, topic)
		}

		BeforeEach(func() {
			client = &mock.MockClient{}
			seen = nil
		})

		It("routes messages through matching single-level wildcards", func() {
			Expect(client.Subscribe("floodwatch/+/sensor", 1, record)).To(Succeed())

			client.Deliver("floodwatch/WL-01/sensor", []byte(`{}`))
			client.Deliver("floodwatch/WL-01/heartbeat", []byte(`{}`))
			client.Deliver("floodwatch/a/b/sensor", []byte(`{}`))

			Expect(seen).To(Equal([]string{"floodwatch/WL-01/sensor"}))
		})

		It("routes everything below a multi-level wildcard", func() {
			Expect(client.Subscribe("floodwatch/#", 1, record)).To(Succeed())

			client.Deliver("floodwatch/WL-01/sensor", nil)
			client.Deliver("floodwatch/check/device", nil)
			client.Deliver("weather/jakarta", nil)

			Expect(seen).To(HaveLen(2))
		})

		It("requires exact segment matches without wildcards", func() {
			Expect(client.Subscribe("floodwatch/sensor", 1, record)).To(Succeed())

			client.Deliver("floodwatch/sensor", nil)
			client.Deliver("floodwatch/sensor/extra", nil)

			Expect(seen).To(Equal([]string{"floodwatch/sensor"}))
		})
	})
})
