package actor

import (
	"errors"
	"fmt"
	"time"

	"github.com/berfenger/tesla2mqtt/internal/config"
	"github.com/berfenger/tesla2mqtt/internal/core/domain"
	"github.com/berfenger/tesla2mqtt/internal/core/events"
	"github.com/berfenger/tesla2mqtt/internal/core/port"
	"github.com/berfenger/tesla2mqtt/internal/core/service"
	"github.com/berfenger/tesla2mqtt/internal/metrics"
	. "github.com/berfenger/tesla2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

var ErrVehicleNotFound = errors.New("vehicle not found")

// ChargeControlActor runs the control loop. One tick is processed at a time;
// while a vehicle call is in flight every other message is stashed, except
// settings and status requests which never touch the vehicle.
type ChargeControlActor struct {
	config    *config.Config
	states    *ActorWithStates
	stash     *Stash
	scheduler *scheduler.TimerScheduler

	vehicleActor *actor.PID
	telemetry    port.TelemetryReader
	settings     port.SettingsRepository
	session      *service.SessionController
	retry        *service.RetrySupervisor
	eventStream  *eventstream.EventStream
	metrics      metrics.Sink
	now          func() time.Time

	state       domain.ControllerState
	vehicle     *domain.VehicleHandle
	staleLimits map[domain.MeterSource]time.Duration
	pending     pendingTick
	failed      error

	logger *zap.Logger
}

// pendingTick carries the telemetry a poll was decided on plus the sleep to
// apply once the in-flight vehicle call completes.
type pendingTick struct {
	grid     domain.TelemetrySample
	settings domain.Settings
	sleep    time.Duration
	amps     int
}

type controlTick struct {
}

type listVehiclesRetry struct {
}

type ChargeControlOption func(*ChargeControlActor)

func WithClock(now func() time.Time) ChargeControlOption {
	return func(a *ChargeControlActor) {
		a.now = now
	}
}

func WithMetrics(sink metrics.Sink) ChargeControlOption {
	return func(a *ChargeControlActor) {
		a.metrics = sink
	}
}

func NewChargeControlActor(cfg *config.Config, vehicleActor *actor.PID, telemetry port.TelemetryReader,
	settings port.SettingsRepository, eventStream *eventstream.EventStream, logger *zap.Logger, opts ...ChargeControlOption) *ChargeControlActor {

	geofence := service.Geofence{
		Latitude:  cfg.Charger.Latitude,
		Longitude: cfg.Charger.Longitude,
		RadiusKm:  cfg.Charger.GeofenceRadiusKm,
	}
	calculator := service.NewCurrentTargetCalculator(cfg.Grid.MaxCurrent, cfg.Charger.MinAmps, cfg.Charger.MaxAmps)
	session := service.NewSessionController(service.SessionConfig{
		Baseload:          cfg.Grid.Baseload,
		MinAmps:           cfg.Charger.MinAmps,
		SafeAmps:          cfg.Charger.SafeAmps,
		DebounceTicks:     cfg.Control.DebounceTicks,
		SleepAllowance:    cfg.Vehicle.SleepAllowance(),
		IdleTick:          cfg.Control.IdleTick(),
		PollTick:          cfg.Control.PollTick(),
		PVWindowStartHour: cfg.Control.PVWindowStartHour,
		PVWindowEndHour:   cfg.Control.PVWindowEndHour,
	}, geofence, calculator)

	act := &ChargeControlActor{
		config:       cfg,
		states:       NewActorWithStates(),
		stash:        &Stash{},
		vehicleActor: vehicleActor,
		telemetry:    telemetry,
		settings:     settings,
		session:      session,
		retry:        service.NewRetrySupervisor(cfg.Control.MaxFailures, cfg.Control.RetryBackoff()),
		eventStream:  eventStream,
		metrics:      metrics.NopSink{},
		now:          time.Now,
		state:        domain.NewControllerState(cfg.Charger.SafeAmps),
		staleLimits:  StaleLimits(cfg),
		logger:       ActorLogger(domain.ACTOR_ID_CHARGE_CONTROL, logger),
	}
	for _, opt := range opts {
		opt(act)
	}
	act.states.Become(ActorState{Name: "starting", Receive: act.StartingReceive})
	return act
}

// StaleLimits returns the staleness threshold of every configured feed.
func StaleLimits(cfg *config.Config) map[domain.MeterSource]time.Duration {
	limits := map[domain.MeterSource]time.Duration{
		domain.MeterSourceGrid: cfg.Grid.StaleAfter(),
	}
	if cfg.EVMeter.URL != "" {
		limits[domain.MeterSourceEVHTTP] = cfg.EVMeter.StaleAfter()
	}
	if cfg.MQTT.EVTopic != "" {
		limits[domain.MeterSourceEVMQTT] = cfg.EVMeter.StaleAfter()
	}
	return limits
}

func (state *ChargeControlActor) Receive(context actor.Context) {
	state.states.Receive(context)
}

func (state *ChargeControlActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("charge_control@starting started")
		state.scheduler = scheduler.NewTimerScheduler(ctx)
		state.publish(events.SettingsToUpdateEvents(state.settings.Get()))
		state.requestVehicleList(ctx)
		state.states.Become(ActorState{Name: "listing", Receive: state.ListingReceive})
	case *actor.Restarting:
	default:
		if !state.handleCommon(ctx) {
			state.logger.Debug("charge_control@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
			state.stash.Stash(ctx, msg)
		}
	}
}

func (state *ChargeControlActor) ListingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ListVehiclesResponse:
		decision := state.retry.Observe(msg.GetResponseError())
		state.state.ConsecutiveFailures = decision.Failures
		state.metrics.ObserveVehicle(0, decision.Failures)
		if decision.Fatal != nil {
			state.fatal(ctx, decision.Fatal)
			return
		}
		if msg.HasResponseError() {
			state.logger.Warn("charge_control@listing could not list vehicles",
				zap.Error(msg.GetResponseError()), zap.Int("failures", decision.Failures), zap.Duration("backoff", decision.Backoff))
			state.scheduler.RequestOnce(decision.Backoff, ctx.Self(), listVehiclesRetry{})
			return
		}
		index := state.config.Vehicle.Index
		if index >= len(msg.Vehicles) {
			state.fatal(ctx, fmt.Errorf("%w: index %d, %d vehicles on account", ErrVehicleNotFound, index, len(msg.Vehicles)))
			return
		}
		vehicle := msg.Vehicles[index]
		state.vehicle = &vehicle
		state.logger.Info("charge_control@listing vehicle selected",
			zap.String("vehicle", vehicle.Id), zap.String("name", vehicle.DisplayName), zap.Stringer("online", vehicle.State))

		state.publish(events.ControllerStateToUpdateEvents(state.state))
		ctx.Send(ctx.Self(), controlTick{})
		state.states.Become(ActorState{Name: "running", Receive: state.RunningReceive})
		state.stash.UnstashAll(ctx)
	case listVehiclesRetry:
		state.requestVehicleList(ctx)
	default:
		if !state.handleCommon(ctx) {
			state.logger.Debug("charge_control@listing stash", zap.String("type", fmt.Sprintf("%T", msg)))
			state.stash.Stash(ctx, msg)
		}
	}
}

func (state *ChargeControlActor) RunningReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case controlTick:
		state.tick(ctx)
	default:
		if !state.handleCommon(ctx) {
			state.logger.Debug("charge_control@running unhandled", zap.String("type", fmt.Sprintf("%T", msg)))
		}
	}
}

func (state *ChargeControlActor) WaitingPollReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.GetVehicleDataResponse:
		decision := state.retry.Observe(msg.GetResponseError())
		state.state.ConsecutiveFailures = decision.Failures
		if decision.Fatal != nil {
			state.fatal(ctx, decision.Fatal)
			return
		}
		if msg.HasResponseError() {
			state.logger.Warn("charge_control@polling vehicle read failed",
				zap.Error(msg.GetResponseError()), zap.Int("failures", decision.Failures), zap.Duration("backoff", decision.Backoff))
			state.metrics.ObserveVehicle(0, decision.Failures)
			state.metrics.ObserveTick(state.state.Phase(), "vehicle api error", state.pending.grid.CurrentMax())
			state.publish(events.ControllerStateToUpdateEvents(state.state))
			state.resume(ctx, decision.Backoff)
			return
		}
		state.resolve(ctx, msg.Snapshot)
	default:
		if !state.handleCommon(ctx) {
			state.logger.Debug("charge_control@polling stash", zap.String("type", fmt.Sprintf("%T", msg)))
			state.stash.Stash(ctx, msg)
		}
	}
}

func (state *ChargeControlActor) WaitingActuateReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.SetChargingAmpsResponse:
		state.metrics.ObserveCommand(state.pending.amps, msg.Commands, msg.GetResponseError())
		if msg.HasResponseError() {
			// a failed command is a no-op, the next tick re-evaluates
			state.logger.Warn("charge_control@actuating set_charging_amps failed",
				zap.Int("amps", state.pending.amps), zap.Error(msg.GetResponseError()))
		} else {
			state.logger.Debug("charge_control@actuating done", zap.Int("amps", msg.Amps), zap.Int("commands", msg.Commands))
		}
		state.resume(ctx, state.pending.sleep)
	default:
		if !state.handleCommon(ctx) {
			state.logger.Debug("charge_control@actuating stash", zap.String("type", fmt.Sprintf("%T", msg)))
			state.stash.Stash(ctx, msg)
		}
	}
}

func (state *ChargeControlActor) FailedReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		ctx.Respond(state.health())
	case domain.GetControllerStatusRequest:
		state.respondStatus(ctx)
	default:
		state.logger.Debug("charge_control@failed dropping", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *ChargeControlActor) tick(ctx actor.Context) {
	now := state.now()
	grid := state.telemetry.Read(domain.MeterSourceGrid)
	settings := state.settings.Get()

	newState, action := state.session.Tick(state.state, service.TickInput{
		Now:      now,
		Grid:     grid,
		Settings: settings,
		Stale:    state.telemetry.CheckStaleness(now, state.staleLimits),
	})
	if action.Fatal != nil {
		state.fatal(ctx, action.Fatal)
		return
	}
	state.state = newState
	state.publish(events.GridSampleToUpdateEvents(grid))

	state.logger.Debug("charge_control@tick",
		zap.Float64("current_max", action.CurrentMax),
		zap.Bool("should_evaluate", action.ShouldEvaluate),
		zap.Bool("poll", action.Poll),
		zap.Int("last_commanded_amps", state.state.LastCommandedAmps),
		zap.Int("debounce", state.state.DebounceCount),
		zap.String("reason", action.Reason))

	switch {
	case action.Poll:
		state.pending = pendingTick{grid: grid, settings: settings}
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.vehicleActor, domain.GetVehicleDataRequest{VehicleId: state.vehicle.Id}, state.pollTimeout()), func(err error) any {
			return domain.GetVehicleDataResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: err,
				},
			}
		})
		state.states.BecomeStacked(ActorState{Name: "polling", Receive: state.WaitingPollReceive})
	case action.Actuate:
		state.metrics.ObserveTick(state.state.Phase(), action.Reason, action.CurrentMax)
		state.publish(events.ControllerStateToUpdateEvents(state.state))
		state.actuate(ctx, action)
	default:
		state.metrics.ObserveTick(state.state.Phase(), action.Reason, action.CurrentMax)
		state.publish(events.ControllerStateToUpdateEvents(state.state))
		state.scheduler.RequestOnce(action.Sleep, ctx.Self(), controlTick{})
	}
}

func (state *ChargeControlActor) resolve(ctx actor.Context, snapshot *domain.VehicleSnapshot) {
	meterAmps := state.meteredVehicleAmps()
	newState, action := state.session.Resolve(state.state, service.PollInput{
		Now:       state.now(),
		Grid:      state.pending.grid,
		Settings:  state.pending.settings,
		Snapshot:  snapshot,
		MeterAmps: meterAmps,
	})
	wasActive := state.state.SessionActive
	state.state = newState

	fields := []zap.Field{
		zap.Float64("current_max", action.CurrentMax),
		zap.String("reason", action.Reason),
		zap.Stringer("mode", state.pending.settings.Mode),
		zap.Int("max_charge_amps", state.pending.settings.MaxChargeAmps),
		zap.Int("last_commanded_amps", state.state.LastCommandedAmps),
	}
	if snapshot != nil {
		fields = append(fields,
			zap.Stringer("charging", snapshot.ChargingState),
			zap.Stringer("shift", snapshot.ShiftState),
			zap.Stringer("online", snapshot.OnlineState),
			zap.Int("charge_amps", snapshot.ChargeAmps),
			zap.Int("charger_actual_current", snapshot.ChargerActualCurrent))
	}
	if action.Result != nil {
		fields = append(fields,
			zap.Bool("overshoot", action.Result.Overshoot),
			zap.Bool("undershoot", action.Result.Undershoot),
			zap.Int("target_amps", action.Result.TargetAmps))
	}
	if action.Actuate || wasActive != state.state.SessionActive {
		state.logger.Info("charge_control@resolve decision", fields...)
	} else {
		state.logger.Debug("charge_control@resolve decision", fields...)
	}

	evAmps := 0.0
	if meterAmps != nil {
		evAmps = *meterAmps
	} else if snapshot != nil {
		evAmps = float64(snapshot.ChargerActualCurrent)
	}
	state.metrics.ObserveVehicle(evAmps, state.state.ConsecutiveFailures)
	state.metrics.ObserveTick(state.state.Phase(), action.Reason, action.CurrentMax)
	state.publish(events.VehicleCurrentUpdateEvents(evAmps))
	state.publish(events.ControllerStateToUpdateEvents(state.state))
	if action.Result != nil {
		state.publish(events.TargetResultToUpdateEvents(*action.Result))
	}

	if action.Actuate {
		state.states.UnbecomeStacked()
		state.actuate(ctx, action)
		return
	}
	state.resume(ctx, action.Sleep)
}

func (state *ChargeControlActor) actuate(ctx actor.Context, action service.TickAction) {
	state.pending.sleep = action.Sleep
	state.pending.amps = action.SetAmps
	state.logger.Info("charge_control@actuate set_charging_amps", zap.Int("amps", action.SetAmps), zap.String("reason", action.Reason))
	req := domain.SetChargingAmpsRequest{VehicleId: state.vehicle.Id, Amps: action.SetAmps}
	PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.vehicleActor, req, state.actuateTimeout()), func(err error) any {
		return domain.SetChargingAmpsResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{
				ResponseError: err,
			},
			Amps: action.SetAmps,
		}
	})
	state.states.BecomeStacked(ActorState{Name: "actuating", Receive: state.WaitingActuateReceive})
}

// resume leaves a waiting state and schedules the next tick.
func (state *ChargeControlActor) resume(ctx actor.Context, sleep time.Duration) {
	state.states.UnbecomeStacked()
	state.scheduler.RequestOnce(sleep, ctx.Self(), controlTick{})
	state.stash.UnstashAll(ctx)
}

// meteredVehicleAmps returns the vehicle draw from a dedicated meter, the
// polled HTTP meter taking precedence over the MQTT one.
func (state *ChargeControlActor) meteredVehicleAmps() *float64 {
	if state.config.EVMeter.URL != "" {
		if sample := state.telemetry.Read(domain.MeterSourceEVHTTP); sample.Updated() {
			amps := sample.CurrentMax()
			return &amps
		}
	}
	if state.config.MQTT.EVTopic != "" {
		if sample := state.telemetry.Read(domain.MeterSourceEVMQTT); sample.Updated() {
			amps := sample.CurrentMax()
			return &amps
		}
	}
	return nil
}

func (state *ChargeControlActor) requestVehicleList(ctx actor.Context) {
	PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.vehicleActor, domain.ListVehiclesRequest{}, state.pollTimeout()), func(err error) any {
		return domain.ListVehiclesResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{
				ResponseError: err,
			},
		}
	})
}

// handleCommon answers the requests every state serves. It returns false when
// the message is not one of them.
func (state *ChargeControlActor) handleCommon(ctx actor.Context) bool {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		ctx.Respond(state.health())
	case domain.GetControllerStatusRequest:
		state.respondStatus(ctx)
	case domain.SetModeRequest:
		state.logger.Info("charge_control: set mode", zap.Stringer("mode", msg.Mode))
		settings, err := state.settings.SetMode(msg.Mode)
		state.settingsChanged(ctx, settings, err)
	case domain.SetMaxChargeAmpsRequest:
		state.logger.Info("charge_control: set max charge amps", zap.Int("amps", msg.Amps))
		settings, err := state.settings.SetMaxChargeAmps(msg.Amps)
		state.settingsChanged(ctx, settings, err)
	default:
		return false
	}
	return true
}

func (state *ChargeControlActor) settingsChanged(ctx actor.Context, settings domain.Settings, err error) {
	if err != nil {
		state.logger.Warn("charge_control: settings rejected", zap.Error(err))
	}
	// republish so a rejected value snaps back on the dashboard
	state.publish(events.SettingsToUpdateEvents(settings))
	if ctx.Sender() != nil {
		ctx.Respond(domain.SettingsResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{
				ResponseError: err,
			},
			Settings: settings,
		})
	}
}

func (state *ChargeControlActor) respondStatus(ctx actor.Context) {
	var vehicle *domain.VehicleHandle
	if state.vehicle != nil {
		v := *state.vehicle
		vehicle = &v
	}
	ctx.Respond(domain.GetControllerStatusResponse{
		ActorResponseMixIn: domain.ActorResponseMixIn{
			ResponseError: state.failed,
		},
		Phase:    state.phase(),
		State:    state.state,
		Settings: state.settings.Get(),
		Vehicle:  vehicle,
	})
}

// phase is the active state, with the session phase while running.
func (state *ChargeControlActor) phase() string {
	if current := state.states.Current(); current != "running" {
		return current
	}
	return state.state.Phase()
}

func (state *ChargeControlActor) health() domain.ActorHealthResponse {
	return domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_CHARGE_CONTROL,
		Healthy: state.failed == nil,
		State:   state.phase(),
	}
}

func (state *ChargeControlActor) fatal(ctx actor.Context, err error) {
	state.logger.Error("charge_control: fatal", zap.Error(err),
		zap.Int("failures", state.state.ConsecutiveFailures), zap.Int("last_commanded_amps", state.state.LastCommandedAmps))
	state.failed = err
	state.states.Become(ActorState{Name: "failed", Receive: state.FailedReceive})
	if ctx.Parent() != nil {
		ctx.Send(ctx.Parent(), domain.ControllerFatal{Reason: err})
	}
}

func (state *ChargeControlActor) publish(evs []any) {
	if state.eventStream == nil {
		return
	}
	for _, ev := range evs {
		state.eventStream.Publish(ev)
	}
}

func (state *ChargeControlActor) pollTimeout() time.Duration {
	return state.config.Vehicle.RequestTimeout() + 2*time.Second
}

func (state *ChargeControlActor) actuateTimeout() time.Duration {
	return 2*state.config.Vehicle.RequestTimeout() + state.config.Control.LowAmpsRepeat() + state.config.Control.Settle() + 2*time.Second
}
