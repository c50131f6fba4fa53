package simulator

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"banjir.dev/floodwatch/pkg/broker"
	"banjir.dev/floodwatch/pkg/metrics"
)

// ServerConfig holds the configuration for the simulator server.
type ServerConfig struct {
	// Logger is the structured logger
	Logger *slog.Logger
	// MQTTURL is the broker address
	MQTTURL string
	// MQTTClientID identifies the simulator session
	MQTTClientID string
	// TopicPrefix is the leading topic segment readings are published under
	TopicPrefix string
	// StationCount is the number of simulated stations
	StationCount int
	// Interval is the time between readings per station
	Interval time.Duration
	// Metrics is the optional Prometheus metrics collector
	Metrics *metrics.SimulatorMetrics
}

// Server manages a fleet of simulated stations.
type Server struct {
	logger   *slog.Logger
	config   *ServerConfig
	client   broker.ClientInterface
	stations []*Station
	wg       sync.WaitGroup
	metrics  *metrics.SimulatorMetrics
}

var (
	errInvalidStationCount = errors.New("station count must be greater than 0")
	errInvalidInterval     = errors.New("interval must be greater than 0")
	errLoggerRequired      = errors.New("logger is required")
	errURLRequired         = errors.New("MQTT URL is required")
	errPrefixRequired      = errors.New("topic prefix is required")
)

// NewServer creates a new simulator server with the given configuration.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg.Logger == nil {
		return nil, errLoggerRequired
	}

	if cfg.MQTTURL == "" {
		return nil, errURLRequired
	}

	if cfg.TopicPrefix == "" {
		return nil, errPrefixRequired
	}

	if cfg.StationCount <= 0 {
		return nil, errInvalidStationCount
	}

	if cfg.Interval <= 0 {
		return nil, errInvalidInterval
	}

	if cfg.MQTTClientID == "" {
		cfg.MQTTClientID = "floodwatch-simulator"
	}

	return &Server{
		logger:  cfg.Logger,
		config:  cfg,
		metrics: cfg.Metrics,
	}, nil
}

// Run starts all stations and blocks until shutdown signal is received.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	client, err := broker.New(&broker.Config{
		URL:      s.config.MQTTURL,
		ClientID: s.config.MQTTClientID,
		Logger: s.logger.With(
			slog.String("component", "broker"),
		),
	})
	if err != nil {
		return err
	}
	s.client = client

	if err := s.createStations(ctx); err != nil {
		return err
	}

	// Start all stations
	for i, station := range s.stations {
		s.wg.Add(1)
		go s.runStation(ctx, i, station)
	}

	s.logger.Info("simulator started",
		"station_count", len(s.stations),
		"interval", s.config.Interval,
		"topic_prefix", s.config.TopicPrefix,
	)

	// Wait for shutdown signal
	select {
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	case <-ctx.Done():
		s.logger.Info("context canceled, shutting down")
	}

	// Wait for all stations to finish
	s.logger.Info("waiting for stations to shut down...")
	s.wg.Wait()

	s.client.Close()
	s.logger.Info("simulator stopped")
	return nil
}

// createStations builds the fleet and announces each station to the monitor.
func (s *Server) createStations(ctx context.Context) error {
	s.stations = make([]*Station, 0, s.config.StationCount)

	for i := 1; i <= s.config.StationCount; i++ {
		station, err := NewStation(s.client, s.config.TopicPrefix, i)
		if err != nil {
			return err
		}

		if s.metrics != nil {
			station.SetMetrics(s.metrics)
		}

		if err := station.Announce(ctx); err != nil {
			// Log error but continue with other stations
			s.logger.Error("failed to announce station",
				"station", station.Code(),
				"error", err,
			)
		}

		s.stations = append(s.stations, station)
	}

	if s.metrics != nil {
		s.metrics.ActiveStations.Set(float64(len(s.stations)))
	}
	return nil
}

// runStation runs a single station, publishing readings at the configured
// interval.
func (s *Server) runStation(ctx context.Context, id int, station *Station) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	stationLogger := s.logger.With(
		slog.Int("station_id", id),
		slog.String("device", station.Code()),
	)

	if err := station.Heartbeat(ctx); err != nil {
		stationLogger.Error("failed to publish heartbeat", "error", err)
	}

	stationLogger.Info("station started")

	for {
		select {
		case <-ctx.Done():
			stationLogger.Info("station shutting down")
			return

		case t := <-ticker.C:
			if err := station.PublishReading(ctx, t); err != nil {
				stationLogger.Error("failed to publish reading", "error", err)
				// Continue on error - don't stop the station
				continue
			}

			stationLogger.Debug("reading published")
		}
	}
}
