package util

import (
	"github.com/berfenger/tesla2mqtt/internal/config"

	"go.uber.org/zap"
)

// LoadTestConfig returns a valid configuration with short control delays,
// suitable for actor tests.
func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		MQTT: config.MQTTConfig{
			Host:             "localhost",
			Port:             1883,
			BaseTopic:        "tesla2mqtt",
			HADiscoveryTopic: "homeassistant",
			GridTopic:        "dsmr/json",
		},
		Grid: config.GridConfig{
			MaxCurrent:        25,
			Baseload:          2,
			StaleAfterMinutes: 10,
			Source:            config.GRID_SOURCE_MQTT,
			ModbusTcp: config.GridModbusTCPConfig{
				Host:               "-.-.-.-",
				Port:               502,
				MeterId:            200,
				PollIntervalMillis: 5000,
			},
		},
		EVMeter: config.EVMeterConfig{
			PollIntervalMillis: 5000,
			StaleAfterHours:    24,
		},
		Charger: config.ChargerConfig{
			MinAmps:          6,
			MaxAmps:          24,
			SafeAmps:         6,
			Latitude:         52.37821231816995,
			Longitude:        4.900513198963123,
			GeofenceRadiusKm: 0.5,
		},
		Vehicle: config.VehicleConfig{
			APIBaseURL:            "http://localhost:4443",
			RequestTimeoutMillis:  2000,
			SleepAllowanceMinutes: 15,
		},
		Control: config.ControlConfig{
			Mode:                "grid_capacity",
			MaxChargeAmps:       16,
			PVWindowStartHour:   10,
			PVWindowEndHour:     17,
			IdleTickMillis:      20,
			PollTickMillis:      50,
			SettleMillis:        10,
			LowAmpsRepeatMillis: 10,
			LowAmpsThreshold:    5,
			DebounceTicks:       3,
			RetryBackoffMillis:  20,
			MaxFailures:         60,
		},
		Port: 8080,
	}
}
