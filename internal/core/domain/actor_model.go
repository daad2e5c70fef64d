package domain

import (
	"github.com/asynkron/protoactor-go/actor"
)

const (
	ACTOR_ID_MASTER         = "master"
	ACTOR_ID_MQTT           = "mqtt"
	ACTOR_ID_VEHICLE        = "vehicle"
	ACTOR_ID_CHARGE_CONTROL = "charge_control"
	ACTOR_ID_GRID_METER     = "gridmeter"
	ACTOR_ID_HA_DISCOVERY   = "hadiscovery"
)

type ActorRef actor.PID

type ActorRequest interface {
	ReplyTo() *ActorRef
}

type ActorRequestMixIn struct {
	ReplyToRef *ActorRef
}

func (r ActorRequestMixIn) ReplyTo() *ActorRef {
	return r.ReplyToRef
}

type ActorResponse interface {
	GetResponseError() error
	HasResponseError() bool
}

type ActorResponseMixIn struct {
	ResponseError error
}

func (r ActorResponseMixIn) GetResponseError() error {
	return r.ResponseError
}

func (r ActorResponseMixIn) HasResponseError() bool {
	return r.ResponseError != nil
}

// Vehicle actor

type ListVehiclesRequest struct {
	ActorRequestMixIn
}

type ListVehiclesResponse struct {
	ActorResponseMixIn
	Vehicles []VehicleHandle
}

type GetVehicleDataRequest struct {
	ActorRequestMixIn
	VehicleId string
}

type GetVehicleDataResponse struct {
	ActorResponseMixIn
	Snapshot *VehicleSnapshot
}

// SetChargingAmpsRequest is answered only after the settle delay has elapsed.
type SetChargingAmpsRequest struct {
	ActorRequestMixIn
	VehicleId string
	Amps      int
}

type SetChargingAmpsResponse struct {
	ActorResponseMixIn
	Amps     int
	Commands int
}

// Grid meter actor

type ReadGridMeterRequest struct {
	ActorRequestMixIn
}

type ReadGridMeterResponse struct {
	ActorResponseMixIn
	Reading *MeterReading
}

// MQTT actor

type PublishMessageRequest struct {
	ActorRequestMixIn
	Topic   string
	Payload string
	Retain  bool
}

type PublishMessageResponse struct {
	ActorResponseMixIn
}

type PublishSensorUpdateRequest struct {
	ActorRequestMixIn
	Retain bool
	Event  SensorUpdateEvent
}

type PublishSensorUpdateResponse struct {
	ActorResponseMixIn
}

type PublishDiscoveryRequest struct {
	ActorRequestMixIn
	Sensors      []GenericSensor
	Switches     []GenericSwitch
	InputNumbers []GenericInputNumber
}

type PublishDiscoveryResponse struct {
	ActorResponseMixIn
}

// Health

type ActorHealthRequest struct {
	ActorRequestMixIn
}

type ActorHealthResponse struct {
	ActorResponseMixIn
	Id      string
	Healthy bool
	State   string
}

// ControllerFatal is sent by the charge control actor to its parent when the
// controller must stop the process.
type ControllerFatal struct {
	Reason error
}
