package domain

import (
	"fmt"
	"strings"
	"time"
)

type Mode int

const (
	ModeGridCapacity Mode = iota
	ModePvSurplus
)

func (m Mode) String() string {
	switch m {
	case ModePvSurplus:
		return "pv_surplus"
	default:
		return "grid_capacity"
	}
}

func ParseMode(value string) (Mode, error) {
	switch strings.ToLower(value) {
	case "grid_capacity", "grid":
		return ModeGridCapacity, nil
	case "pv_surplus", "pv":
		return ModePvSurplus, nil
	}
	return ModeGridCapacity, fmt.Errorf("unknown mode %q", value)
}

// Settings are the two values an operator can change at runtime.
type Settings struct {
	Mode          Mode
	MaxChargeAmps int
}

// ControllerState is owned by the charge control loop and lives for the whole
// process.
type ControllerState struct {
	SessionActive       bool
	DebounceCount       int
	LastCommandedAmps   int
	LastShiftState      ShiftState
	ParkedSince         time.Time
	LastPollTime        time.Time
	ConsecutiveFailures int
}

func NewControllerState(safeAmps int) ControllerState {
	return ControllerState{
		LastCommandedAmps: safeAmps,
		LastShiftState:    ShiftStateUnknown,
	}
}

func (s ControllerState) Phase() string {
	if s.SessionActive {
		return "charging"
	}
	return "idle"
}

// TargetInput carries the readings one current-target evaluation depends on.
type TargetInput struct {
	CurrentMax        float64
	TeslaAmps         float64
	ChargeAmps        int
	MaxTesla          int
	LastCommandedAmps int
	PowerDelivered    float64
	PowerReturned     float64
	VoltageSum        float64
}

type TargetResult struct {
	Overshoot  bool
	Undershoot bool
	TargetAmps int
}

func (r TargetResult) Actionable() bool {
	return r.Overshoot || r.Undershoot
}
