package service

import (
	"errors"
	"testing"
	"time"

	"github.com/berfenger/tesla2mqtt/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var noon = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestSession() *SessionController {
	return NewSessionController(SessionConfig{
		Baseload:          2,
		MinAmps:           6,
		SafeAmps:          6,
		DebounceTicks:     3,
		SleepAllowance:    15 * time.Minute,
		IdleTick:          20 * time.Second,
		PollTick:          5 * time.Second,
		PVWindowStartHour: 10,
		PVWindowEndHour:   17,
	},
		Geofence{Latitude: 52.3782, Longitude: 4.9005, RadiusKm: 0.5},
		NewCurrentTargetCalculator(25, 6, 24))
}

func gridSettings() domain.Settings {
	return domain.Settings{Mode: domain.ModeGridCapacity, MaxChargeAmps: 16}
}

func grid(currentMax float64) domain.TelemetrySample {
	return domain.TelemetrySample{
		CurrentL1: currentMax,
		CurrentL2: currentMax / 2,
		CurrentL3: currentMax / 3,
		VoltageL1: 230,
		VoltageL2: 230,
		VoltageL3: 230,
	}
}

func chargingSnapshot(amps int) *domain.VehicleSnapshot {
	return &domain.VehicleSnapshot{
		ChargingState:        domain.ChargingStateCharging,
		ChargerActualCurrent: amps,
		ChargeAmps:           amps,
		Latitude:             52.3782,
		Longitude:            4.9005,
		ShiftState:           domain.ShiftStateP,
		OnlineState:          domain.OnlineStateOnline,
	}
}

func idleSnapshot() *domain.VehicleSnapshot {
	snap := chargingSnapshot(0)
	snap.ChargingState = domain.ChargingStateNotCharging
	return snap
}

func TestTickStaleTelemetryIsFatal(t *testing.T) {
	s := newTestSession()
	stale := errors.New("stale")
	state := domain.NewControllerState(6)

	next, action := s.Tick(state, TickInput{Now: noon, Grid: grid(10), Settings: gridSettings(), Stale: stale})

	assert.ErrorIs(t, action.Fatal, stale)
	assert.False(t, action.Poll)
	assert.False(t, action.Actuate)
	assert.Equal(t, state, next)
}

func TestTickLowLoadSkipsEvaluation(t *testing.T) {
	s := newTestSession()

	next, action := s.Tick(domain.NewControllerState(6), TickInput{Now: noon, Grid: grid(7.5), Settings: gridSettings()})

	assert.False(t, action.ShouldEvaluate)
	assert.False(t, action.Poll)
	assert.False(t, action.Actuate)
	assert.Equal(t, 20*time.Second, action.Sleep)
	assert.Equal(t, 1, next.DebounceCount)
}

func TestTickHighLoadRequestsPoll(t *testing.T) {
	s := newTestSession()

	_, action := s.Tick(domain.NewControllerState(6), TickInput{Now: noon, Grid: grid(8), Settings: gridSettings()})

	assert.True(t, action.ShouldEvaluate)
	assert.True(t, action.Poll)
	assert.Equal(t, 8.0, action.CurrentMax)
}

func TestResolveUndershootStartsSession(t *testing.T) {
	require := require.New(t)
	s := newTestSession()

	next, action := s.Resolve(domain.NewControllerState(6), PollInput{
		Now:      noon,
		Grid:     grid(20),
		Settings: gridSettings(),
		Snapshot: chargingSnapshot(10),
	})

	require.True(action.Actuate)
	require.Equal(15, action.SetAmps)
	require.NotNil(action.Result)
	assert.True(t, action.Result.Undershoot)
	assert.True(t, next.SessionActive)
	assert.Equal(t, 15, next.LastCommandedAmps)
	assert.Equal(t, noon, next.LastPollTime)
	assert.Equal(t, noon, next.ParkedSince)
	assert.Equal(t, domain.ShiftStateP, next.LastShiftState)
	assert.Equal(t, 5*time.Second, action.Sleep)
}

func TestResolveOvershootLowersCurrent(t *testing.T) {
	s := newTestSession()

	_, action := s.Resolve(domain.NewControllerState(6), PollInput{
		Now:      noon,
		Grid:     grid(27),
		Settings: gridSettings(),
		Snapshot: chargingSnapshot(10),
	})

	assert.True(t, action.Actuate)
	assert.Equal(t, 8, action.SetAmps)
	assert.Equal(t, "overshoot", action.Reason)
}

func TestResolvePrefersMeteredVehicleCurrent(t *testing.T) {
	s := newTestSession()
	metered := 12.0

	_, action := s.Resolve(domain.NewControllerState(6), PollInput{
		Now:       noon,
		Grid:      grid(20),
		Settings:  gridSettings(),
		Snapshot:  chargingSnapshot(10),
		MeterAmps: &metered,
	})

	// headroom 25-20=5 on top of the metered 12A, capped at 16A
	assert.Equal(t, 16, action.SetAmps)
}

func TestResolveRemoteChargingIsIgnored(t *testing.T) {
	s := newTestSession()
	snap := chargingSnapshot(10)
	snap.Latitude = 52.8278

	next, action := s.Resolve(domain.NewControllerState(6), PollInput{Now: noon, Grid: grid(27), Settings: gridSettings(), Snapshot: snap})

	assert.False(t, action.Actuate)
	assert.False(t, next.SessionActive)
	assert.Equal(t, 6, next.LastCommandedAmps)
}

func TestResolveOfflineVehicleIsIgnored(t *testing.T) {
	s := newTestSession()
	snap := chargingSnapshot(10)
	snap.OnlineState = domain.OnlineStateAsleep
	state := domain.NewControllerState(6)

	next, action := s.Resolve(state, PollInput{Now: noon, Grid: grid(27), Settings: gridSettings(), Snapshot: snap})

	assert.False(t, action.Actuate)
	assert.Equal(t, domain.ShiftStateUnknown, next.LastShiftState)
	assert.False(t, next.SessionActive)

	_, action = s.Resolve(state, PollInput{Now: noon, Grid: grid(27), Settings: gridSettings()})
	assert.False(t, action.Actuate)
}

func TestSessionEndsAfterDebounce(t *testing.T) {
	require := require.New(t)
	s := newTestSession()

	state, _ := s.Resolve(domain.NewControllerState(6), PollInput{Now: noon, Grid: grid(20), Settings: gridSettings(), Snapshot: chargingSnapshot(10)})
	require.True(state.SessionActive)

	var action TickAction
	for i := 1; i <= 4; i++ {
		state, action = s.Resolve(state, PollInput{Now: noon, Grid: grid(20), Settings: gridSettings(), Snapshot: idleSnapshot()})
		require.True(state.SessionActive, "tick %d", i)
		require.False(action.Actuate, "tick %d", i)
		require.Equal(i, state.DebounceCount)
	}

	state, action = s.Resolve(state, PollInput{Now: noon, Grid: grid(20), Settings: gridSettings(), Snapshot: idleSnapshot()})
	require.False(state.SessionActive)
	require.True(action.Actuate)
	assert.Equal(t, 6, action.SetAmps)
	assert.Equal(t, 6, state.LastCommandedAmps)
	assert.Zero(t, state.DebounceCount)
}

func TestChargingResetsDebounce(t *testing.T) {
	s := newTestSession()

	state, _ := s.Resolve(domain.NewControllerState(6), PollInput{Now: noon, Grid: grid(20), Settings: gridSettings(), Snapshot: chargingSnapshot(10)})
	state, _ = s.Resolve(state, PollInput{Now: noon, Grid: grid(20), Settings: gridSettings(), Snapshot: idleSnapshot()})
	state, _ = s.Resolve(state, PollInput{Now: noon, Grid: grid(20), Settings: gridSettings(), Snapshot: idleSnapshot()})
	assert.Equal(t, 2, state.DebounceCount)

	state, _ = s.Resolve(state, PollInput{Now: noon, Grid: grid(20), Settings: gridSettings(), Snapshot: chargingSnapshot(15)})
	assert.Zero(t, state.DebounceCount)
	assert.True(t, state.SessionActive)
}

func TestShouldPollLetsParkedVehicleSleep(t *testing.T) {
	s := newTestSession()
	state := domain.NewControllerState(6)

	// never polled
	assert.True(t, s.ShouldPoll(state, noon, 0))

	state.LastShiftState = domain.ShiftStateP
	state.ParkedSince = noon.Add(-time.Hour)
	state.LastPollTime = noon.Add(-time.Minute)
	assert.False(t, s.ShouldPoll(state, noon, 3))

	// load high enough for a minimum charge
	assert.True(t, s.ShouldPoll(state, noon, 8))

	// recently parked cars are left alone until the allowance elapses
	state.ParkedSince = noon.Add(-5 * time.Minute)
	assert.False(t, s.ShouldPoll(state, noon, 3))

	// out of park
	state.LastShiftState = domain.ShiftStateD
	assert.True(t, s.ShouldPoll(state, noon, 3))
	state.LastShiftState = domain.ShiftStateP

	// allowance elapsed since the last poll
	state.ParkedSince = noon.Add(-time.Hour)
	state.LastPollTime = noon.Add(-16 * time.Minute)
	assert.True(t, s.ShouldPoll(state, noon, 3))

	state.LastPollTime = noon
	state.SessionActive = true
	assert.True(t, s.ShouldPoll(state, noon, 3))
}

func TestShouldPollAsleepVehicleWithUnknownGear(t *testing.T) {
	s := newTestSession()
	state := domain.NewControllerState(6)
	require.Equal(t, domain.ShiftStateUnknown, state.LastShiftState)

	state.LastPollTime = noon.Add(-time.Minute)
	assert.False(t, s.ShouldPoll(state, noon, 3))

	state.LastPollTime = noon.Add(-15 * time.Minute)
	assert.True(t, s.ShouldPoll(state, noon, 3))
}

func TestAsleepVehiclePolledOncePerAllowance(t *testing.T) {
	s := newTestSession()
	settings := domain.Settings{Mode: domain.ModePvSurplus, MaxChargeAmps: 16}
	asleep := &domain.VehicleSnapshot{OnlineState: domain.OnlineStateAsleep}

	state := domain.NewControllerState(6)
	polls := 0
	for i := 0; i < 360; i++ {
		now := noon.Add(time.Duration(i) * 10 * time.Second)
		var action TickAction
		state, action = s.Tick(state, TickInput{Now: now, Grid: grid(1), Settings: settings})
		require.Nil(t, action.Fatal)
		if action.Poll {
			polls++
			state, _ = s.Resolve(state, PollInput{Now: now, Grid: grid(1), Settings: settings, Snapshot: asleep})
		}
	}

	// first tick plus one poll per 15 minute allowance
	assert.Equal(t, 4, polls)
	assert.Equal(t, domain.ShiftStateUnknown, state.LastShiftState)
}

func TestPVWindow(t *testing.T) {
	s := newTestSession()

	assert.True(t, s.PVWindowActive(domain.ModePvSurplus, noon))
	assert.False(t, s.PVWindowActive(domain.ModeGridCapacity, noon))
	assert.False(t, s.PVWindowActive(domain.ModePvSurplus, noon.Add(5*time.Hour)))
	assert.True(t, s.PVWindowActive(domain.ModePvSurplus, noon.Add(-2*time.Hour)))
}

func TestPVModeEvaluatesUnderLowLoad(t *testing.T) {
	s := newTestSession()
	settings := domain.Settings{Mode: domain.ModePvSurplus, MaxChargeAmps: 16}

	_, action := s.Tick(domain.NewControllerState(6), TickInput{Now: noon, Grid: grid(1), Settings: settings})
	assert.True(t, action.ShouldEvaluate)
	assert.True(t, action.Poll)

	sample := grid(1)
	sample.PowerReturned = 1.2
	sample.VoltageL1, sample.VoltageL2, sample.VoltageL3 = 230, 230, 230
	_, action = s.Resolve(domain.NewControllerState(6), PollInput{Now: noon, Grid: sample, Settings: settings, Snapshot: chargingSnapshot(6)})
	assert.True(t, action.Actuate)
	assert.Equal(t, 8, action.SetAmps)
}

func TestPVModeOutsideWindowUsesGrid(t *testing.T) {
	s := newTestSession()
	settings := domain.Settings{Mode: domain.ModePvSurplus, MaxChargeAmps: 16}
	evening := noon.Add(8 * time.Hour)

	_, action := s.Tick(domain.NewControllerState(6), TickInput{Now: evening, Grid: grid(1), Settings: settings})
	assert.False(t, action.ShouldEvaluate)

	_, action = s.Resolve(domain.NewControllerState(6), PollInput{Now: evening, Grid: grid(20), Settings: settings, Snapshot: chargingSnapshot(10)})
	assert.Equal(t, 15, action.SetAmps)
}
