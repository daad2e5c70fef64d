package domain

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/carlmjohnson/versioninfo"
)

const (
	SENSOR_ID_BRIDGE_STATE        = "bridge"
	SENSOR_ID_GRID_CURRENT_MAX    = "grid_current_max"
	SENSOR_ID_EV_CURRENT          = "ev_current"
	SENSOR_ID_COMMANDED_AMPS      = "commanded_amps"
	SENSOR_ID_CONTROLLER_STATE    = "controller_state"
	SENSOR_ID_VEHICLE_FAILURES    = "vehicle_api_failures"
	SENSOR_ID_CHARGE_SESSION      = "charge_session"
	SENSOR_ID_OVERSHOOT           = "overshoot"
	SENSOR_ID_UNDERSHOOT          = "undershoot"
	SWITCH_ID_PV_SURPLUS_MODE     = "pv_surplus_mode"
	INPUT_NUMBER_ID_MAX_CHARGE_A  = "max_charge_amps"
	STATE_CLASS_MEASUREMENT       = "measurement"
	DEVICE_CLASS_CURRENT          = "current"
	DEVICE_CLASS_CONNECTIVITY     = "connectivity"
	DEVICE_CLASS_BATTERY_CHARGING = "battery_charging"
	DEVICE_CLASS_PROBLEM          = "problem"
	ENTITY_CLASS_DIAGNOSTIC       = "diagnostic"
	ENTITY_CLASS_CONFIG           = "config"
	SENSOR_TYPE_SENSOR            = "sensor"
	SENSOR_TYPE_BINARY            = "binary_sensor"
	INPUT_NUMBER_MODE_BOX         = "box"
	INPUT_NUMBER_MODE_SLIDER      = "slider"
)

// Home Assistant entities

type Device struct {
	Id           string
	Name         string
	Version      string
	Model        string
	Manufacturer string
	ViaDevice    string
}

type GenericSensor struct {
	Device            Device
	Id                string
	SensorType        string
	Name              string
	UniqueId          string
	UnitOfMeasurement string
	StateClass        string
	DeviceClass       string
	EntityCategory    string
	EnabledByDefault  *bool
	Icon              string
}

type GenericSwitch struct {
	Device   Device
	Id       string
	Name     string
	UniqueId string
	Icon     string
}

type GenericInputNumber struct {
	Device       Device
	Id           string
	Name         string
	UniqueId     string
	Icon         string
	Max          float64
	Min          float64
	Step         float64
	Mode         string
	InitialValue float64
}

// Sensor update events, published on the event stream and forwarded to MQTT

type SensorUpdateEvent interface {
	SensorUpdateEvent() string
	SensorId() string
}

type SensorUpdateEventMixIn struct {
	Id string
}

func (e SensorUpdateEventMixIn) SensorUpdateEvent() string {
	return fmt.Sprintf("%T", e)
}

func (e SensorUpdateEventMixIn) SensorId() string {
	return e.Id
}

type FloatSensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value    float64
	Decimals uint
}

type BinarySensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value bool
}

type SwitchSensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value bool
}

type TextSensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value string
}

type BridgeStateUpdateEvent struct {
	SensorUpdateEventMixIn
	Value bool
}

type InputNumberSensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value    float64
	Decimals uint
}

// Entity definitions

func BridgeDevice(baseTopic string) Device {
	return Device{
		Id:           fmt.Sprintf("tesla2mqtt_bridge_%s", md5HashShort(baseTopic)),
		Manufacturer: "ACasal",
		Model:        "Tesla2MQTT load balancer",
		Version:      versioninfo.Short(),
		Name:         fmt.Sprintf("Tesla2MQTT %s", md5HashShort(baseTopic)),
	}
}

func VehicleDevice(vehicle VehicleHandle) Device {
	name := vehicle.DisplayName
	if name == "" {
		name = fmt.Sprintf("Vehicle %s", md5HashShort(vehicle.Id))
	}
	return Device{
		Id:           fmt.Sprintf("tesla2mqtt_vehicle_%s", md5HashShort(vehicle.Id)),
		Manufacturer: "Tesla",
		Model:        "Vehicle",
		Name:         name,
	}
}

func IdDevice(device Device) Device {
	return Device{
		Id:   device.Id,
		Name: device.Name,
	}
}

func BridgeSensors(bridgeDevice Device) []GenericSensor {
	return []GenericSensor{{
		Device:         bridgeDevice,
		Id:             SENSOR_ID_BRIDGE_STATE,
		SensorType:     SENSOR_TYPE_BINARY,
		Name:           "Connection state",
		DeviceClass:    DEVICE_CLASS_CONNECTIVITY,
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(bridgeDevice.Id, SENSOR_ID_BRIDGE_STATE),
	}}
}

func ControllerSensors(bridgeDevice Device) []GenericSensor {
	return []GenericSensor{
		ampsSensor(bridgeDevice, SENSOR_ID_GRID_CURRENT_MAX, "Grid max phase current"),
		ampsSensor(bridgeDevice, SENSOR_ID_COMMANDED_AMPS, "Commanded charge current"),
		{
			Device:     bridgeDevice,
			Id:         SENSOR_ID_CONTROLLER_STATE,
			SensorType: SENSOR_TYPE_SENSOR,
			Name:       "Controller state",
			UniqueId:   uniqueId(bridgeDevice.Id, SENSOR_ID_CONTROLLER_STATE),
			Icon:       "mdi:state-machine",
		},
		{
			Device:         bridgeDevice,
			Id:             SENSOR_ID_VEHICLE_FAILURES,
			SensorType:     SENSOR_TYPE_SENSOR,
			Name:           "Vehicle API consecutive failures",
			StateClass:     STATE_CLASS_MEASUREMENT,
			EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
			UniqueId:       uniqueId(bridgeDevice.Id, SENSOR_ID_VEHICLE_FAILURES),
			Icon:           "mdi:cloud-alert",
		},
		{
			Device:      bridgeDevice,
			Id:          SENSOR_ID_OVERSHOOT,
			SensorType:  SENSOR_TYPE_BINARY,
			Name:        "Overshoot",
			DeviceClass: DEVICE_CLASS_PROBLEM,
			UniqueId:    uniqueId(bridgeDevice.Id, SENSOR_ID_OVERSHOOT),
		},
		{
			Device:     bridgeDevice,
			Id:         SENSOR_ID_UNDERSHOOT,
			SensorType: SENSOR_TYPE_BINARY,
			Name:       "Undershoot",
			UniqueId:   uniqueId(bridgeDevice.Id, SENSOR_ID_UNDERSHOOT),
			Icon:       "mdi:arrow-up-bold-circle-outline",
		},
	}
}

func VehicleSensors(vehicleDevice Device) []GenericSensor {
	return []GenericSensor{
		ampsSensor(vehicleDevice, SENSOR_ID_EV_CURRENT, "Charging current"),
		{
			Device:      vehicleDevice,
			Id:          SENSOR_ID_CHARGE_SESSION,
			SensorType:  SENSOR_TYPE_BINARY,
			Name:        "Charge session",
			DeviceClass: DEVICE_CLASS_BATTERY_CHARGING,
			UniqueId:    uniqueId(vehicleDevice.Id, SENSOR_ID_CHARGE_SESSION),
		},
	}
}

func SettingsSwitches(bridgeDevice Device) []GenericSwitch {
	return []GenericSwitch{{
		Device:   bridgeDevice,
		Id:       SWITCH_ID_PV_SURPLUS_MODE,
		Name:     "PV surplus mode",
		UniqueId: uniqueId(bridgeDevice.Id, SWITCH_ID_PV_SURPLUS_MODE),
		Icon:     "mdi:solar-power",
	}}
}

func SettingsInputNumbers(bridgeDevice Device, minAmps, maxAmps, initial int) []GenericInputNumber {
	return []GenericInputNumber{{
		Device:       bridgeDevice,
		Id:           INPUT_NUMBER_ID_MAX_CHARGE_A,
		Name:         "Max charge current",
		UniqueId:     uniqueId(bridgeDevice.Id, INPUT_NUMBER_ID_MAX_CHARGE_A),
		Icon:         "mdi:current-ac",
		Min:          float64(minAmps),
		Max:          float64(maxAmps),
		Step:         1,
		Mode:         INPUT_NUMBER_MODE_BOX,
		InitialValue: float64(initial),
	}}
}

func ampsSensor(device Device, id, name string) GenericSensor {
	return GenericSensor{
		Device:            device,
		Id:                id,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              name,
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_CURRENT,
		UnitOfMeasurement: "A",
		UniqueId:          uniqueId(device.Id, id),
	}
}

func uniqueId(baseId, id string) string {
	return fmt.Sprintf("uid_%s_%s", baseId, id)
}

func md5HashShort(text string) string {
	hash := md5.Sum([]byte(text))
	return hex.EncodeToString(hash[:])[0:8]
}
