package domain

import "fmt"

// ChargeControlRequest

type ChargeControlRequest interface {
	ActorRequest
	ChargeControlCommand() string
}

type ChargeControlRequestMixIn struct {
	ActorRequestMixIn
}

func (r ChargeControlRequestMixIn) ChargeControlCommand() string {
	return fmt.Sprintf("%T", r)
}

type SetModeRequest struct {
	ChargeControlRequestMixIn
	Mode Mode
}

type SetMaxChargeAmpsRequest struct {
	ChargeControlRequestMixIn
	Amps int
}

type SettingsResponse struct {
	ActorResponseMixIn
	Settings Settings
}

type GetControllerStatusRequest struct {
	ChargeControlRequestMixIn
}

type GetControllerStatusResponse struct {
	ActorResponseMixIn
	Phase    string
	State    ControllerState
	Settings Settings
	// Vehicle is nil until the vehicle list has been read
	Vehicle *VehicleHandle
}

// ensure interface compliance
var _ ChargeControlRequest = (*SetModeRequest)(nil)
var _ ChargeControlRequest = (*SetMaxChargeAmpsRequest)(nil)
var _ ChargeControlRequest = (*GetControllerStatusRequest)(nil)
