package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"banjir.dev/floodwatch/internal/simulator"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run the telemetry simulator",
	Long: `Run the telemetry simulator that:
- Generates a fleet of synthetic water-level stations
- Announces each station with a device-check message
- Publishes correlated water-level and rainfall readings over MQTT`,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)

	// Simulator-specific flags
	simulateCmd.Flags().String("mqtt-url", "tcp://localhost:1883", "MQTT broker URL")
	simulateCmd.Flags().String("mqtt-client-id", "floodwatch-simulator", "MQTT client ID")
	simulateCmd.Flags().String("topic-prefix", "floodwatch", "Leading MQTT topic segment")
	simulateCmd.Flags().Int("station-count", 5, "Number of simulated stations")
	simulateCmd.Flags().Duration("interval", 5*time.Second, "Interval between readings per station")

	// Bind flags to viper
	_ = viper.BindPFlag("simulator.mqtt.url", simulateCmd.Flags().Lookup("mqtt-url"))
	_ = viper.BindPFlag("simulator.mqtt.client_id", simulateCmd.Flags().Lookup("mqtt-client-id"))
	_ = viper.BindPFlag("simulator.mqtt.topic_prefix", simulateCmd.Flags().Lookup("topic-prefix"))
	_ = viper.BindPFlag("simulator.station_count", simulateCmd.Flags().Lookup("station-count"))
	_ = viper.BindPFlag("simulator.interval", simulateCmd.Flags().Lookup("interval"))
}

func runSimulate(_ *cobra.Command, _ []string) error {
	logger := GetLogger()
	logger.Info("starting simulator service")

	// Create simulator configuration from viper
	config := &simulator.ServerConfig{
		Logger:       logger,
		MQTTURL:      viper.GetString("simulator.mqtt.url"),
		MQTTClientID: viper.GetString("simulator.mqtt.client_id"),
		TopicPrefix:  viper.GetString("simulator.mqtt.topic_prefix"),
		StationCount: viper.GetInt("simulator.station_count"),
		Interval:     viper.GetDuration("simulator.interval"),
	}

	// Create and run server
	server, err := simulator.NewServer(config)
	if err != nil {
		logger.Error("failed to create simulator server", "error", err)
		return err
	}

	logger.Info("simulator configuration",
		"mqtt_url", config.MQTTURL,
		"topic_prefix", config.TopicPrefix,
		"station_count", config.StationCount,
		"interval", config.Interval,
	)

	if err := server.Run(context.Background()); err != nil {
		logger.Error("simulator error", "error", err)
		return err
	}

	logger.Info("simulator stopped")
	return nil
}
