package events

import (
	"testing"

	"github.com/berfenger/tesla2mqtt/internal/core/domain"

	"github.com/stretchr/testify/assert"
)

func TestControllerStateEvents(t *testing.T) {

	assert := assert.New(t)

	state := domain.NewControllerState(16)
	state.SessionActive = true
	state.ConsecutiveFailures = 3

	evs := ControllerStateToUpdateEvents(state)
	assert.Len(evs, 4)

	phase, ok := evs[0].(domain.TextSensorUpdateEvent)
	assert.True(ok)
	assert.Equal("charging", phase.Value)

	amps, ok := evs[1].(domain.FloatSensorUpdateEvent)
	assert.True(ok)
	assert.Equal(16.0, amps.Value)
	assert.Equal(uint(0), amps.Decimals)

	session, ok := evs[2].(domain.BinarySensorUpdateEvent)
	assert.True(ok)
	assert.True(session.Value)
	assert.Equal(domain.SENSOR_ID_CHARGE_SESSION, session.SensorId())
}

func TestSettingsEvents(t *testing.T) {

	assert := assert.New(t)

	evs := SettingsToUpdateEvents(domain.Settings{Mode: domain.ModePvSurplus, MaxChargeAmps: 20})
	assert.Len(evs, 2)

	sw, ok := evs[0].(domain.SwitchSensorUpdateEvent)
	assert.True(ok)
	assert.True(sw.Value)

	number, ok := evs[1].(domain.InputNumberSensorUpdateEvent)
	assert.True(ok)
	assert.Equal(20.0, number.Value)
}

func TestGridSampleEvents(t *testing.T) {

	evs := GridSampleToUpdateEvents(domain.TelemetrySample{CurrentL1: 4, CurrentL2: 11.5, CurrentL3: 7})
	ev, ok := evs[0].(domain.FloatSensorUpdateEvent)
	assert.True(t, ok)
	assert.Equal(t, 11.5, ev.Value)
}
