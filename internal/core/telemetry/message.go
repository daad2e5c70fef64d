package telemetry

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/berfenger/tesla2mqtt/internal/core/domain"
)

// accepted keys per field, first match wins
var (
	currentL1Keys = []string{"phase_power_current_l1", "phase_current_l1", "current_l1"}
	currentL2Keys = []string{"phase_power_current_l2", "phase_current_l2", "current_l2"}
	currentL3Keys = []string{"phase_power_current_l3", "phase_current_l3", "current_l3"}
	voltageL1Keys = []string{"phase_voltage_l1", "voltage_l1"}
	voltageL2Keys = []string{"phase_voltage_l2", "voltage_l2"}
	voltageL3Keys = []string{"phase_voltage_l3", "voltage_l3"}
	deliveredKeys = []string{"electricity_currently_delivered", "power_delivered", "power"}
	returnedKeys  = []string{"electricity_currently_returned", "power_returned"}
)

var ErrMalformedMessage = errors.New("malformed meter message")

// ParseMeterMessage decodes a DSMR-reader style JSON object. Fields holding
// something other than a number or a numeric string are skipped.
func ParseMeterMessage(payload []byte) (domain.MeterReading, error) {
	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil || fields == nil {
		return domain.MeterReading{}, ErrMalformedMessage
	}
	return domain.MeterReading{
		CurrentL1:      lookup(fields, currentL1Keys),
		CurrentL2:      lookup(fields, currentL2Keys),
		CurrentL3:      lookup(fields, currentL3Keys),
		VoltageL1:      lookup(fields, voltageL1Keys),
		VoltageL2:      lookup(fields, voltageL2Keys),
		VoltageL3:      lookup(fields, voltageL3Keys),
		PowerDelivered: lookup(fields, deliveredKeys),
		PowerReturned:  lookup(fields, returnedKeys),
	}, nil
}

func lookup(fields map[string]any, keys []string) *float64 {
	for _, key := range keys {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		if value, ok := toFloat(raw); ok {
			return &value
		}
	}
	return nil
}

func toFloat(raw any) (float64, bool) {
	var value float64
	switch v := raw.(type) {
	case float64:
		value = v
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		value = parsed
	default:
		return 0, false
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, false
	}
	return value, true
}
