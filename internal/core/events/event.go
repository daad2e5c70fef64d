package events

import (
	. "github.com/berfenger/tesla2mqtt/internal/core/domain"
)

func GridSampleToUpdateEvents(sample TelemetrySample) []any {
	var events []any

	// Grid max phase current
	events = append(events, FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_GRID_CURRENT_MAX,
		},
		Value:    sample.CurrentMax(),
		Decimals: 2,
	})

	return events
}

func ControllerStateToUpdateEvents(state ControllerState) []any {
	var events []any

	// Controller phase
	events = append(events, TextSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_CONTROLLER_STATE,
		},
		Value: state.Phase(),
	})
	// Commanded amps
	events = append(events, FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_COMMANDED_AMPS,
		},
		Value: float64(state.LastCommandedAmps),
	})
	// Charge session
	events = append(events, BinarySensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_CHARGE_SESSION,
		},
		Value: state.SessionActive,
	})
	// Vehicle API failures
	events = append(events, FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_VEHICLE_FAILURES,
		},
		Value: float64(state.ConsecutiveFailures),
	})

	return events
}

func TargetResultToUpdateEvents(result TargetResult) []any {
	var events []any

	events = append(events, BinarySensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_OVERSHOOT,
		},
		Value: result.Overshoot,
	})
	events = append(events, BinarySensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_UNDERSHOOT,
		},
		Value: result.Undershoot,
	})

	return events
}

func VehicleCurrentUpdateEvents(amps float64) []any {
	var events []any
	events = append(events, FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_EV_CURRENT,
		},
		Value:    amps,
		Decimals: 1,
	})
	return events
}

func SettingsToUpdateEvents(settings Settings) []any {
	var events []any
	events = append(events, PvSurplusModeSwitchUpdateEvent(settings.Mode))
	events = append(events, InputNumberSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: INPUT_NUMBER_ID_MAX_CHARGE_A,
		},
		Value: float64(settings.MaxChargeAmps),
	})
	return events
}

func PvSurplusModeSwitchUpdateEvent(mode Mode) any {
	return SwitchSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SWITCH_ID_PV_SURPLUS_MODE,
		},
		Value: mode == ModePvSurplus,
	}
}
