// Package monitor wires ingestion, persistence, status derivation and the
// dashboard fanout into one process.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gorm.io/gorm"

	"banjir.dev/floodwatch/internal/directory"
	"banjir.dev/floodwatch/internal/engine"
	"banjir.dev/floodwatch/internal/notify"
	"banjir.dev/floodwatch/internal/router"
	"banjir.dev/floodwatch/internal/store"
	"banjir.dev/floodwatch/internal/sweeper"
	"banjir.dev/floodwatch/internal/ws"
	"banjir.dev/floodwatch/pkg/broker"
	"banjir.dev/floodwatch/pkg/metrics"
)

// Server represents the monitor server that manages the database, the MQTT
// ingestion pipeline and the websocket/HTTP frontend.
type Server struct {
	logger  *slog.Logger
	config  *ServerConfig
	db      *gorm.DB
	hub     *ws.Hub
	broker  broker.ClientInterface
	sweeper *sweeper.Sweeper
	router  *router.Router
	dir     *directory.Directory

	devices    *store.DeviceStore
	locations  *store.LocationStore
	sensorLogs *store.SensorLogStore
	history    *store.HistoryStore

	httpServer *http.Server
	metrics    *metrics.MonitorMetrics
}

// ServerConfig holds the configuration for the Server.
type ServerConfig struct {
	Logger *slog.Logger

	// Database configuration
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// MQTT configuration
	MQTTURL      string
	MQTTClientID string
	MQTTUsername string
	MQTTPassword string
	TopicPrefix  string

	// Offline sweep configuration
	SweepInterval  time.Duration
	OfflineTimeout time.Duration

	// HTTP configuration
	HTTPPort int

	// Metrics is the optional Prometheus metrics collector
	Metrics *metrics.MonitorMetrics
}

// NewServer creates a new Server instance.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.MQTTURL == "" {
		return nil, errors.New("MQTT URL cannot be empty")
	}

	if cfg.TopicPrefix == "" {
		return nil, errors.New("topic prefix cannot be empty")
	}

	if cfg.DBHost == "" {
		return nil, errors.New("database host cannot be empty")
	}

	if cfg.DBPort <= 0 {
		return nil, errors.New("database port must be positive")
	}

	if cfg.DBUser == "" {
		return nil, errors.New("database user cannot be empty")
	}

	if cfg.DBName == "" {
		return nil, errors.New("database name cannot be empty")
	}

	if cfg.HTTPPort <= 0 {
		return nil, errors.New("HTTP port must be positive")
	}

	if cfg.MQTTClientID == "" {
		cfg.MQTTClientID = "floodwatch-monitor"
	}

	return &Server{
		logger:  cfg.Logger,
		config:  cfg,
		metrics: cfg.Metrics,
	}, nil
}

// Run starts the monitor server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting monitor server")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Set up signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	// Initialize database
	db, err := store.NewDB(&store.DBConfig{
		Host:     s.config.DBHost,
		Port:     s.config.DBPort,
		User:     s.config.DBUser,
		Password: s.config.DBPassword,
		DBName:   s.config.DBName,
		SSLMode:  s.config.DBSSLMode,
		Logger:   s.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	s.db = db

	s.logger.Info("database initialized successfully")

	s.devices = store.NewDeviceStore(db)
	s.locations = store.NewLocationStore(db)
	s.sensorLogs = store.NewSensorLogStore(db)
	s.history = store.NewHistoryStore(db)

	// Start the websocket hub
	s.hub = ws.NewHub(s.logger.With(slog.String("component", "ws-hub")), s.metrics)
	go s.hub.Run()

	// Build the processing pipeline
	rtr, err := s.buildPipeline()
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}
	s.router = rtr

	swp, err := sweeper.New(&sweeper.Config{
		Logger:    s.logger.With(slog.String("component", "sweeper")),
		Directory: s.dir,
		Reporter:  rtr,
		Interval:  s.config.SweepInterval,
		Timeout:   s.config.OfflineTimeout,
		Metrics:   s.metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize sweeper: %w", err)
	}
	s.sweeper = swp

	// Connect to the broker. The sweeper runs only while the connection is
	// up: with no connection no heartbeat can arrive, so flipping devices
	// offline would report the monitor's outage as device outages.
	client, err := broker.New(&broker.Config{
		URL:      s.config.MQTTURL,
		ClientID: s.config.MQTTClientID,
		Username: s.config.MQTTUsername,
		Password: s.config.MQTTPassword,
		Logger:   s.logger.With(slog.String("component", "broker")),
		OnConnect: func() {
			if s.metrics != nil {
				s.metrics.BrokerConnected.Set(1)
			}
			swp.Start(ctx)
		},
		OnConnectionLost: func(_ error) {
			if s.metrics != nil {
				s.metrics.BrokerConnected.Set(0)
			}
			swp.Stop()
		},
	})
	if err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	s.broker = client

	if err := s.subscribe(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	// Start HTTP server
	httpErr := make(chan error, 1)
	s.startHTTP(httpErr)

	s.logger.Info("monitor server started successfully",
		"topic_prefix", s.config.TopicPrefix,
		"http_port", s.config.HTTPPort,
	)

	// Wait for shutdown signal or HTTP error
	select {
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	case <-ctx.Done():
		s.logger.Info("context canceled")
	case err := <-httpErr:
		if err != nil {
			s.logger.Error("HTTP server error", "error", err)
			cancel()
			return errors.Join(err, s.Shutdown())
		}
	}

	return s.Shutdown()
}

func (s *Server) buildPipeline() (*router.Router, error) {
	dir, err := directory.New(&directory.Config{
		Logger:    s.logger.With(slog.String("component", "directory")),
		Devices:   s.devices,
		Locations: s.locations,
	})
	if err != nil {
		return nil, err
	}
	s.dir = dir

	eng, err := engine.New(&engine.Config{
		Logger:    s.logger.With(slog.String("component", "engine")),
		Locations: s.locations,
	})
	if err != nil {
		return nil, err
	}

	notifier, err := notify.New(&notify.Config{
		Logger:      s.logger.With(slog.String("component", "notify")),
		Broadcaster: s.hub,
		Metrics:     s.metrics,
	})
	if err != nil {
		return nil, err
	}

	return router.New(&router.Config{
		Logger:    s.logger.With(slog.String("component", "router")),
		Scheme:    router.DefaultScheme(s.config.TopicPrefix),
		Directory: dir,
		Engine:    eng,
		Logs:      s.sensorLogs,
		Locations: s.locations,
		Devices:   s.devices,
		Notifier:  notifier,
		Hub:       s.hub,
		Metrics:   s.metrics,
	})
}

// subscribe registers every recognized topic filter with the router as the
// single message sink.
func (s *Server) subscribe(ctx context.Context) error {
	handler := func(topic string, payload []byte) {
		s.router.Handle(ctx, topic, payload)
	}

	for _, filter := range s.router.Scheme().Filters() {
		if err := s.broker.Subscribe(filter, 1, handler); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) startHTTP(errCh chan<- error) {
	mux := s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.HTTPPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("starting HTTP server", "address", s.httpServer.Addr)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
		close(errCh)
	}()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.logger.Info("shutting down monitor server")

	var shutdownErr error

	// Stop HTTP server
	if s.httpServer != nil {
		s.logger.Info("stopping HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("failed to stop HTTP server", "error", err)
			shutdownErr = fmt.Errorf("HTTP shutdown error: %w", err)
		}
		cancel()
	}

	// Stop the sweeper before the broker: closing the connection would fire
	// the connection-lost hook mid-shutdown otherwise.
	if s.sweeper != nil {
		s.logger.Info("stopping sweeper")
		s.sweeper.Stop()
	}

	// Close broker connection
	if s.broker != nil {
		s.logger.Info("closing broker connection")
		s.broker.Close()
	}

	// Stop the websocket hub
	if s.hub != nil {
		s.logger.Info("stopping websocket hub")
		s.hub.Stop()
	}

	// Close database
	if s.db != nil {
		s.logger.Info("closing database connection")
		if err := store.CloseDB(s.db, s.logger); err != nil {
			s.logger.Error("failed to close database", "error", err)
			if shutdownErr != nil {
				shutdownErr = fmt.Errorf("%w; database close error: %w", shutdownErr, err)
			} else {
				shutdownErr = fmt.Errorf("database close error: %w", err)
			}
		}
	}

	if shutdownErr != nil {
		s.logger.Error("monitor server shutdown completed with errors", "error", shutdownErr)
		return shutdownErr
	}

	s.logger.Info("monitor server shutdown completed successfully")
	return nil
}
