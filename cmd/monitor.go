package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"banjir.dev/floodwatch/internal/monitor"
	"banjir.dev/floodwatch/pkg/metrics"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run the monitor server",
	Long: `Run the monitor server that:
- Subscribes to station telemetry over MQTT
- Persists readings to PostgreSQL
- Derives per-location flood status from threshold bands
- Pushes notifications and live data to dashboards over websockets`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)

	// Monitor-specific flags
	monitorCmd.Flags().String("db-host", "localhost", "PostgreSQL host")
	monitorCmd.Flags().Int("db-port", 5432, "PostgreSQL port")
	monitorCmd.Flags().String("db-user", "postgres", "PostgreSQL user")
	monitorCmd.Flags().String("db-password", "", "PostgreSQL password")
	monitorCmd.Flags().String("db-name", "floodwatch", "PostgreSQL database name")
	monitorCmd.Flags().String("db-sslmode", "disable", "PostgreSQL SSL mode")
	monitorCmd.Flags().String("mqtt-url", "tcp://localhost:1883", "MQTT broker URL")
	monitorCmd.Flags().String("mqtt-client-id", "floodwatch-monitor", "MQTT client ID")
	monitorCmd.Flags().String("mqtt-username", "", "MQTT username")
	monitorCmd.Flags().String("mqtt-password", "", "MQTT password")
	monitorCmd.Flags().String("topic-prefix", "floodwatch", "Leading MQTT topic segment")
	monitorCmd.Flags().Duration("sweep-interval", 2*time.Minute, "Time between offline sweeps")
	monitorCmd.Flags().Duration("offline-timeout", 5*time.Minute, "Heartbeat silence before a device is marked offline")
	monitorCmd.Flags().Int("http-port", 8080, "HTTP server port for websockets and metrics")
	monitorCmd.Flags().Bool("metrics", true, "Enable Prometheus metrics")

	// Bind flags to viper
	_ = viper.BindPFlag("monitor.db.host", monitorCmd.Flags().Lookup("db-host"))
	_ = viper.BindPFlag("monitor.db.port", monitorCmd.Flags().Lookup("db-port"))
	_ = viper.BindPFlag("monitor.db.user", monitorCmd.Flags().Lookup("db-user"))
	_ = viper.BindPFlag("monitor.db.password", monitorCmd.Flags().Lookup("db-password"))
	_ = viper.BindPFlag("monitor.db.name", monitorCmd.Flags().Lookup("db-name"))
	_ = viper.BindPFlag("monitor.db.sslmode", monitorCmd.Flags().Lookup("db-sslmode"))
	_ = viper.BindPFlag("monitor.mqtt.url", monitorCmd.Flags().Lookup("mqtt-url"))
	_ = viper.BindPFlag("monitor.mqtt.client_id", monitorCmd.Flags().Lookup("mqtt-client-id"))
	_ = viper.BindPFlag("monitor.mqtt.username", monitorCmd.Flags().Lookup("mqtt-username"))
	_ = viper.BindPFlag("monitor.mqtt.password", monitorCmd.Flags().Lookup("mqtt-password"))
	_ = viper.BindPFlag("monitor.mqtt.topic_prefix", monitorCmd.Flags().Lookup("topic-prefix"))
	_ = viper.BindPFlag("monitor.sweep.interval", monitorCmd.Flags().Lookup("sweep-interval"))
	_ = viper.BindPFlag("monitor.sweep.offline_timeout", monitorCmd.Flags().Lookup("offline-timeout"))
	_ = viper.BindPFlag("monitor.http.port", monitorCmd.Flags().Lookup("http-port"))
	_ = viper.BindPFlag("monitor.metrics.enabled", monitorCmd.Flags().Lookup("metrics"))
}

func runMonitor(_ *cobra.Command, _ []string) error {
	logger := GetLogger()
	logger.Info("starting monitor service")

	// Create monitor configuration from viper
	config := &monitor.ServerConfig{
		Logger:         logger,
		DBHost:         viper.GetString("monitor.db.host"),
		DBPort:         viper.GetInt("monitor.db.port"),
		DBUser:         viper.GetString("monitor.db.user"),
		DBPassword:     viper.GetString("monitor.db.password"),
		DBName:         viper.GetString("monitor.db.name"),
		DBSSLMode:      viper.GetString("monitor.db.sslmode"),
		MQTTURL:        viper.GetString("monitor.mqtt.url"),
		MQTTClientID:   viper.GetString("monitor.mqtt.client_id"),
		MQTTUsername:   viper.GetString("monitor.mqtt.username"),
		MQTTPassword:   viper.GetString("monitor.mqtt.password"),
		TopicPrefix:    viper.GetString("monitor.mqtt.topic_prefix"),
		SweepInterval:  viper.GetDuration("monitor.sweep.interval"),
		OfflineTimeout: viper.GetDuration("monitor.sweep.offline_timeout"),
		HTTPPort:       viper.GetInt("monitor.http.port"),
	}

	if viper.GetBool("monitor.metrics.enabled") {
		config.Metrics = metrics.NewMonitorMetrics(metrics.Namespace)
	}

	// Create and run server
	server, err := monitor.NewServer(config)
	if err != nil {
		logger.Error("failed to create monitor server", "error", err)
		return err
	}

	logger.Info("monitor server configuration",
		"db_host", config.DBHost,
		"db_port", config.DBPort,
		"db_name", config.DBName,
		"mqtt_url", config.MQTTURL,
		"topic_prefix", config.TopicPrefix,
		"http_port", config.HTTPPort,
	)

	if err := server.Run(context.Background()); err != nil {
		logger.Error("monitor server error", "error", err)
		return err
	}

	logger.Info("monitor server stopped")
	return nil
}
