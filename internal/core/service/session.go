package service

import (
	"time"

	"github.com/berfenger/tesla2mqtt/internal/core/domain"
)

type SessionConfig struct {
	Baseload          float64
	MinAmps           int
	SafeAmps          int
	DebounceTicks     int
	SleepAllowance    time.Duration
	IdleTick          time.Duration
	PollTick          time.Duration
	PVWindowStartHour int
	PVWindowEndHour   int
}

// SessionController holds the Idle/Charging transition logic. It performs no
// I/O: the caller polls the vehicle, runs the actuator and sleeps as told.
type SessionController struct {
	cfg        SessionConfig
	geofence   Geofence
	calculator *CurrentTargetCalculator
}

type TickInput struct {
	Now      time.Time
	Grid     domain.TelemetrySample
	Settings domain.Settings
	// Stale is the result of the telemetry staleness check
	Stale error
}

type PollInput struct {
	Now      time.Time
	Grid     domain.TelemetrySample
	Settings domain.Settings
	// Snapshot is nil when the vehicle could not be read
	Snapshot *domain.VehicleSnapshot
	// MeterAmps is the vehicle draw reported by a dedicated meter, if any
	MeterAmps *float64
}

type TickAction struct {
	Fatal          error
	Poll           bool
	Actuate        bool
	SetAmps        int
	Sleep          time.Duration
	Reason         string
	CurrentMax     float64
	ShouldEvaluate bool
	Result         *domain.TargetResult
}

func NewSessionController(cfg SessionConfig, geofence Geofence, calculator *CurrentTargetCalculator) *SessionController {
	return &SessionController{
		cfg:        cfg,
		geofence:   geofence,
		calculator: calculator,
	}
}

func (c *SessionController) Config() SessionConfig {
	return c.cfg
}

// Tick runs the part of a tick that depends on telemetry only. When the
// returned action asks for a poll, the caller must feed the outcome to Resolve.
func (c *SessionController) Tick(state domain.ControllerState, in TickInput) (domain.ControllerState, TickAction) {
	if in.Stale != nil {
		return state, TickAction{Fatal: in.Stale, Reason: "stale telemetry"}
	}

	currentMax := in.Grid.CurrentMax()
	shouldEvaluate := currentMax >= c.cfg.Baseload+float64(state.LastCommandedAmps) ||
		c.PVWindowActive(in.Settings.Mode, in.Now)

	action := TickAction{
		CurrentMax:     currentMax,
		ShouldEvaluate: shouldEvaluate,
		Sleep:          c.cfg.IdleTick,
	}
	if !shouldEvaluate {
		return c.debounce(state, action)
	}
	if !c.ShouldPoll(state, in.Now, currentMax) {
		action.Reason = "poll skipped"
		return state, action
	}
	action.Poll = true
	action.Sleep = 0
	return state, action
}

// ShouldPoll limits vehicle reads so a parked car can fall asleep.
func (c *SessionController) ShouldPoll(state domain.ControllerState, now time.Time, currentMax float64) bool {
	switch {
	case state.SessionActive:
		return true
	case currentMax >= c.cfg.Baseload+float64(c.cfg.MinAmps):
		return true
	case leftPark(state.LastShiftState):
		return true
	case now.Sub(state.LastPollTime) >= c.cfg.SleepAllowance:
		return true
	}
	return false
}

// leftPark is true only for a gear actually read from the vehicle. An asleep
// car reports no gear and falls back to the sleep allowance ceiling.
func leftPark(shift domain.ShiftState) bool {
	return shift != domain.ShiftStateP && shift != domain.ShiftStateUnknown
}

// Resolve completes a tick after a vehicle poll.
func (c *SessionController) Resolve(state domain.ControllerState, in PollInput) (domain.ControllerState, TickAction) {
	action := TickAction{
		CurrentMax:     in.Grid.CurrentMax(),
		ShouldEvaluate: true,
		Sleep:          c.cfg.PollTick,
	}
	state.LastPollTime = in.Now

	snap := in.Snapshot
	if snap == nil || !snap.IsOnline() {
		action.Reason = "vehicle not online"
		return state, action
	}

	if snap.ShiftState == domain.ShiftStateP {
		if state.LastShiftState != domain.ShiftStateP {
			state.ParkedSince = in.Now
		}
	} else {
		state.ParkedSince = time.Time{}
	}
	state.LastShiftState = snap.ShiftState

	if !snap.IsCharging() {
		return c.debounce(state, action)
	}

	if !c.geofence.IsLocal(snap.Latitude, snap.Longitude) {
		action.Reason = "charging away from charger"
		return state, action
	}

	state.SessionActive = true
	state.DebounceCount = 0

	teslaAmps := float64(snap.ChargerActualCurrent)
	if in.MeterAmps != nil {
		teslaAmps = *in.MeterAmps
	}
	mode := in.Settings.Mode
	if !c.PVWindowActive(mode, in.Now) {
		mode = domain.ModeGridCapacity
	}
	result := c.calculator.Calculate(mode, domain.TargetInput{
		CurrentMax:        action.CurrentMax,
		TeslaAmps:         teslaAmps,
		ChargeAmps:        snap.ChargeAmps,
		MaxTesla:          min(in.Settings.MaxChargeAmps, c.calculator.MaxAmps),
		LastCommandedAmps: state.LastCommandedAmps,
		PowerDelivered:    in.Grid.PowerDelivered,
		PowerReturned:     in.Grid.PowerReturned,
		VoltageSum:        in.Grid.VoltageSum(),
	})
	action.Result = &result

	if result.Actionable() {
		action.Actuate = true
		action.SetAmps = result.TargetAmps
		state.LastCommandedAmps = result.TargetAmps
		if result.Overshoot {
			action.Reason = "overshoot"
		} else {
			action.Reason = "undershoot"
		}
	} else {
		action.Reason = "within limits"
	}
	return state, action
}

// PVWindowActive is true while the PV surplus mode is selected and the local
// hour is inside the configured window.
func (c *SessionController) PVWindowActive(mode domain.Mode, now time.Time) bool {
	if mode != domain.ModePvSurplus {
		return false
	}
	hour := now.Hour()
	return hour >= c.cfg.PVWindowStartHour && hour < c.cfg.PVWindowEndHour
}

func (c *SessionController) debounce(state domain.ControllerState, action TickAction) (domain.ControllerState, TickAction) {
	if state.SessionActive && state.DebounceCount > c.cfg.DebounceTicks {
		state.SessionActive = false
		state.DebounceCount = 0
		state.LastCommandedAmps = c.cfg.SafeAmps
		action.Actuate = true
		action.SetAmps = c.cfg.SafeAmps
		action.Reason = "session ended"
		return state, action
	}
	state.DebounceCount++
	action.Reason = "not charging"
	return state, action
}
