package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

type Config struct {
	LogLevel zapcore.Level
	MQTT     MQTTConfig    `mapstructure:"mqtt"`
	Grid     GridConfig    `mapstructure:"grid"`
	EVMeter  EVMeterConfig `mapstructure:"ev_meter"`
	Charger  ChargerConfig `mapstructure:"charger"`
	Vehicle  VehicleConfig `mapstructure:"vehicle"`
	Control  ControlConfig `mapstructure:"control"`

	SettingsFile string `mapstructure:"settings_file"`
	Port         uint   `mapstructure:"port"`
	HttpLog      bool   `mapstructure:"http_log"`
}

type MQTTConfig struct {
	Host              string
	Port              int
	Username          string
	Password          string
	BaseTopic         string `mapstructure:"base_topic"`
	HADiscoveryEnable bool   `mapstructure:"ha_discovery_enable"`
	HADiscoveryTopic  string `mapstructure:"ha_discovery_topic"`
	GridTopic         string `mapstructure:"grid_topic"`
	EVTopic           string `mapstructure:"ev_topic"`
}

// GridConfig describes the household connection. Currents are in amps per phase.
type GridConfig struct {
	MaxCurrent        float64             `mapstructure:"max_current"`
	Baseload          float64             `mapstructure:"baseload"`
	StaleAfterMinutes uint32              `mapstructure:"stale_after_minutes"`
	Source            string              `mapstructure:"source"`
	ModbusTcp         GridModbusTCPConfig `mapstructure:"modbus_tcp"`
}

type GridModbusTCPConfig struct {
	Host               string
	Port               uint
	MeterId            uint   `mapstructure:"meter_id"`
	IgnoreFronius      bool   `mapstructure:"ignore_fronius"`
	PollIntervalMillis uint32 `mapstructure:"poll_interval_millis"`
}

type EVMeterConfig struct {
	URL                string `mapstructure:"url"`
	PollIntervalMillis uint32 `mapstructure:"poll_interval_millis"`
	StaleAfterHours    uint32 `mapstructure:"stale_after_hours"`
}

type ChargerConfig struct {
	MinAmps          int     `mapstructure:"min_amps"`
	MaxAmps          int     `mapstructure:"max_amps"`
	SafeAmps         int     `mapstructure:"safe_amps"`
	Latitude         float64 `mapstructure:"latitude"`
	Longitude        float64 `mapstructure:"longitude"`
	GeofenceRadiusKm float64 `mapstructure:"geofence_radius_km"`
}

type VehicleConfig struct {
	APIBaseURL            string `mapstructure:"api_base_url"`
	TokenURL              string `mapstructure:"token_url"`
	ClientID              string `mapstructure:"client_id"`
	RefreshToken          string `mapstructure:"refresh_token"`
	Index                 int    `mapstructure:"index"`
	RequestTimeoutMillis  uint32 `mapstructure:"request_timeout_millis"`
	SleepAllowanceMinutes uint32 `mapstructure:"sleep_allowance_minutes"`
}

type ControlConfig struct {
	Mode                string `mapstructure:"mode"`
	MaxChargeAmps       int    `mapstructure:"max_charge_amps"`
	PVWindowStartHour   int    `mapstructure:"pv_window_start_hour"`
	PVWindowEndHour     int    `mapstructure:"pv_window_end_hour"`
	IdleTickMillis      uint32 `mapstructure:"idle_tick_millis"`
	PollTickMillis      uint32 `mapstructure:"poll_tick_millis"`
	SettleMillis        uint32 `mapstructure:"settle_millis"`
	LowAmpsRepeatMillis uint32 `mapstructure:"low_amps_repeat_millis"`
	LowAmpsThreshold    int    `mapstructure:"low_amps_threshold"`
	DebounceTicks       int    `mapstructure:"debounce_ticks"`
	RetryBackoffMillis  uint32 `mapstructure:"retry_backoff_millis"`
	MaxFailures         int    `mapstructure:"max_failures"`
}

const (
	GRID_SOURCE_MQTT   = "mqtt"
	GRID_SOURCE_MODBUS = "modbus"
)

func (c GridConfig) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterMinutes) * time.Minute
}

func (c EVMeterConfig) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterHours) * time.Hour
}

func (c VehicleConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMillis) * time.Millisecond
}

func (c VehicleConfig) SleepAllowance() time.Duration {
	return time.Duration(c.SleepAllowanceMinutes) * time.Minute
}

func (c ControlConfig) IdleTick() time.Duration {
	return millis(c.IdleTickMillis)
}

func (c ControlConfig) PollTick() time.Duration {
	return millis(c.PollTickMillis)
}

func (c ControlConfig) Settle() time.Duration {
	return millis(c.SettleMillis)
}

func (c ControlConfig) LowAmpsRepeat() time.Duration {
	return millis(c.LowAmpsRepeatMillis)
}

func (c ControlConfig) RetryBackoff() time.Duration {
	return millis(c.RetryBackoffMillis)
}

func millis(v uint32) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// Validate checks the bounds the controller relies on.
func (cfg *Config) Validate() error {
	if cfg.Grid.MaxCurrent <= 0 {
		return errors.New("config param grid.max_current should be > 0")
	}
	if cfg.Grid.Baseload < 0 {
		return errors.New("config param grid.baseload should be >= 0")
	}
	if cfg.Grid.StaleAfterMinutes == 0 {
		return errors.New("config param grid.stale_after_minutes should be > 0")
	}
	switch cfg.Grid.Source {
	case GRID_SOURCE_MQTT:
		if cfg.MQTT.GridTopic == "" {
			return errors.New("config param mqtt.grid_topic is required when grid.source is mqtt")
		}
	case GRID_SOURCE_MODBUS:
		if cfg.Grid.ModbusTcp.Host == "" {
			return errors.New("config param grid.modbus_tcp.host is required when grid.source is modbus")
		}
		if cfg.Grid.ModbusTcp.PollIntervalMillis < 1000 {
			return errors.New("config param grid.modbus_tcp.poll_interval_millis should be >= 1000")
		}
	default:
		return fmt.Errorf("config param grid.source must be %q or %q", GRID_SOURCE_MQTT, GRID_SOURCE_MODBUS)
	}
	if cfg.Charger.MinAmps < 1 {
		return errors.New("config param charger.min_amps should be >= 1")
	}
	if cfg.Charger.MaxAmps < cfg.Charger.MinAmps {
		return errors.New("config param charger.max_amps must be >= charger.min_amps")
	}
	if cfg.Charger.SafeAmps < cfg.Charger.MinAmps || cfg.Charger.SafeAmps > cfg.Charger.MaxAmps {
		return errors.New("config param charger.safe_amps must be within [charger.min_amps, charger.max_amps]")
	}
	if cfg.Charger.GeofenceRadiusKm <= 0 {
		return errors.New("config param charger.geofence_radius_km should be > 0")
	}
	if cfg.EVMeter.URL != "" && cfg.EVMeter.PollIntervalMillis < 1000 {
		return errors.New("config param ev_meter.poll_interval_millis should be >= 1000")
	}
	if cfg.EVMeter.StaleAfterHours == 0 {
		return errors.New("config param ev_meter.stale_after_hours should be > 0")
	}
	if cfg.Vehicle.APIBaseURL == "" {
		return errors.New("config param vehicle.api_base_url is required")
	}
	if cfg.Vehicle.Index < 0 {
		return errors.New("config param vehicle.index should be >= 0")
	}
	if cfg.Control.MaxChargeAmps < cfg.Charger.MinAmps || cfg.Control.MaxChargeAmps > cfg.Charger.MaxAmps {
		return errors.New("config param control.max_charge_amps must be within [charger.min_amps, charger.max_amps]")
	}
	if cfg.Control.PVWindowStartHour < 0 || cfg.Control.PVWindowEndHour > 24 ||
		cfg.Control.PVWindowStartHour >= cfg.Control.PVWindowEndHour {
		return errors.New("config param control.pv_window_start_hour/pv_window_end_hour must define a window within [0, 24]")
	}
	if cfg.Control.DebounceTicks < 0 {
		return errors.New("config param control.debounce_ticks should be >= 0")
	}
	if cfg.Control.MaxFailures < 1 {
		return errors.New("config param control.max_failures should be >= 1")
	}
	return nil
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	// check and fix base topic
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}
