package monitor_test

import (
	"log/slog"
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"banjir.dev/floodwatch/internal/monitor"
)

var _ = Describe("Monitor Server", func() {
	var (
		logger *slog.Logger
		config *monitor.ServerConfig
	)

	BeforeEach(func() {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
		config = &monitor.ServerConfig{
			Logger:      logger,
			DBHost:      "localhost",
			DBPort:      5432,
			DBUser:      "test",
			DBPassword:  "password",
			DBName:      "floodwatch",
			DBSSLMode:   "disable",
			MQTTURL:     "tcp://localhost:1883",
			TopicPrefix: "floodwatch",
			HTTPPort:    8080,
		}
	})

	Describe("NewServer", func() {
		Context("with valid configuration", func() {
			It("should create a server", func() {
				server, err := monitor.NewServer(config)
				Expect(err).NotTo(HaveOccurred())
				Expect(server).NotTo(BeNil())
			})

			It("should default the MQTT client ID", func() {
				config.MQTTClientID = ""
				_, err := monitor.NewServer(config)
				Expect(err).NotTo(HaveOccurred())
				Expect(config.MQTTClientID).To(Equal("floodwatch-monitor"))
			})
		})

		Context("with invalid configuration", func() {
			It("should reject nil config", func() {
				_, err := monitor.NewServer(nil)
				Expect(err).To(MatchError(ContainSubstring("config")))
			})

			It("should reject nil logger", func() {
				config.Logger = nil
				_, err := monitor.NewServer(config)
				Expect(err).To(MatchError(ContainSubstring("logger")))
			})

			It("should reject empty MQTT URL", func() {
				config.MQTTURL = ""
				_, err := monitor.NewServer(config)
				Expect(err).To(MatchError(ContainSubstring("MQTT URL")))
			})

			It("should reject empty topic prefix", func() {
				config.TopicPrefix = ""
				_, err := monitor.NewServer(config)
				Expect(err).To(MatchError(ContainSubstring("topic prefix")))
			})

			It("should reject empty database host", func() {
				config.DBHost = ""
				_, err := monitor.NewServer(config)
				Expect(err).To(MatchError(ContainSubstring("database host")))
			})

			It("should reject non-positive database port", func() {
				config.DBPort = 0
				_, err := monitor.NewServer(config)
				Expect(err).To(MatchError(ContainSubstring("database port")))
			})

			It("should reject empty database user", func() {
				config.DBUser = ""
				_, err := monitor.NewServer(config)
				Expect(err).To(MatchError(ContainSubstring("database user")))
			})

			It("should reject empty database name", func() {
				config.DBName = ""
				_, err := monitor.NewServer(config)
				Expect(err).To(MatchError(ContainSubstring("database name")))
			})

			It("should reject non-positive HTTP port", func() {
				config.HTTPPort = 0
				_, err := monitor.NewServer(config)
				Expect(err).To(MatchError(ContainSubstring("HTTP port")))
			})
		})
	})
})
