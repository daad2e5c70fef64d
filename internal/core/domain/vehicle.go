package domain

import "strings"

type ChargingState int

const (
	ChargingStateUnknown ChargingState = iota
	ChargingStateCharging
	ChargingStateNotCharging
)

func (s ChargingState) String() string {
	switch s {
	case ChargingStateCharging:
		return "charging"
	case ChargingStateNotCharging:
		return "not_charging"
	default:
		return "unknown"
	}
}

// ParseChargingState maps the owner API charging_state field. Only "Charging"
// counts as an active session.
func ParseChargingState(value string) ChargingState {
	switch strings.ToLower(value) {
	case "":
		return ChargingStateUnknown
	case "charging":
		return ChargingStateCharging
	default:
		return ChargingStateNotCharging
	}
}

type ShiftState int

const (
	ShiftStateUnknown ShiftState = iota
	ShiftStateP
	ShiftStateD
	ShiftStateR
	ShiftStateN
)

func (s ShiftState) String() string {
	switch s {
	case ShiftStateP:
		return "P"
	case ShiftStateD:
		return "D"
	case ShiftStateR:
		return "R"
	case ShiftStateN:
		return "N"
	default:
		return "unknown"
	}
}

func ParseShiftState(value string) ShiftState {
	switch strings.ToUpper(value) {
	case "P":
		return ShiftStateP
	case "D":
		return ShiftStateD
	case "R":
		return ShiftStateR
	case "N":
		return ShiftStateN
	default:
		return ShiftStateUnknown
	}
}

type OnlineState int

const (
	OnlineStateOnline OnlineState = iota
	OnlineStateOffline
	OnlineStateAsleep
)

func (s OnlineState) String() string {
	switch s {
	case OnlineStateOnline:
		return "online"
	case OnlineStateAsleep:
		return "asleep"
	default:
		return "offline"
	}
}

func ParseOnlineState(value string) OnlineState {
	switch strings.ToLower(value) {
	case "online":
		return OnlineStateOnline
	case "asleep":
		return OnlineStateAsleep
	default:
		return OnlineStateOffline
	}
}

type VehicleHandle struct {
	Id          string
	VIN         string
	DisplayName string
	State       OnlineState
}

// VehicleSnapshot is the result of one successful vehicle poll.
type VehicleSnapshot struct {
	ChargingState        ChargingState
	ChargerActualCurrent int
	ChargeAmps           int
	ChargerPower         float64
	Latitude             float64
	Longitude            float64
	ShiftState           ShiftState
	OnlineState          OnlineState
}

func (s VehicleSnapshot) IsCharging() bool {
	return s.ChargingState == ChargingStateCharging
}

func (s VehicleSnapshot) IsOnline() bool {
	return s.OnlineState == OnlineStateOnline
}
