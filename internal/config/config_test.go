package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		MQTT: MQTTConfig{GridTopic: "dsmr/json"},
		Grid: GridConfig{MaxCurrent: 25, Baseload: 2, StaleAfterMinutes: 10, Source: GRID_SOURCE_MQTT},
		EVMeter: EVMeterConfig{
			StaleAfterHours: 24,
		},
		Charger: ChargerConfig{MinAmps: 6, MaxAmps: 24, SafeAmps: 6, GeofenceRadiusKm: 0.5},
		Vehicle: VehicleConfig{APIBaseURL: "https://owner-api.teslamotors.com"},
		Control: ControlConfig{
			MaxChargeAmps:     16,
			PVWindowStartHour: 10,
			PVWindowEndHour:   17,
			DebounceTicks:     3,
			MaxFailures:       60,
		},
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadBounds(t *testing.T) {
	cases := map[string]func(c *Config){
		"max current":         func(c *Config) { c.Grid.MaxCurrent = 0 },
		"unknown grid source": func(c *Config) { c.Grid.Source = "serial" },
		"missing grid topic":  func(c *Config) { c.MQTT.GridTopic = "" },
		"modbus without host": func(c *Config) { c.Grid.Source = GRID_SOURCE_MODBUS },
		"max below min":       func(c *Config) { c.Charger.MaxAmps = 5 },
		"safe above max":      func(c *Config) { c.Charger.SafeAmps = 32 },
		"max charge amps":     func(c *Config) { c.Control.MaxChargeAmps = 40 },
		"inverted pv window":  func(c *Config) { c.Control.PVWindowStartHour = 18 },
		"ev meter poll":       func(c *Config) { c.EVMeter.URL = "http://meter"; c.EVMeter.PollIntervalMillis = 10 },
		"no failures allowed": func(c *Config) { c.Control.MaxFailures = 0 },
		"missing api url":     func(c *Config) { c.Vehicle.APIBaseURL = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestCheckMQTTTopic(t *testing.T) {
	topic, err := CheckMQTTTopic("Tesla2MQTT")
	require.NoError(t, err)
	assert.Equal(t, "tesla2mqtt", topic)

	_, err = CheckMQTTTopic("tesla/mqtt")
	assert.Error(t, err)
}
