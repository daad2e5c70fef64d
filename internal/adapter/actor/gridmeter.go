package actor

import (
	"fmt"
	"math"
	"time"

	"github.com/berfenger/tesla2mqtt/internal/core/domain"
	"github.com/berfenger/tesla2mqtt/internal/core/port"
	"github.com/berfenger/tesla2mqtt/internal/util/actorutil"
	"github.com/berfenger/tesla2mqtt/pkg/sunspec_modbus"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

// GridMeterActor polls a SunSpec AC meter over Modbus TCP and feeds the grid
// telemetry sample.
type GridMeterActor struct {
	behavior     actor.Behavior
	stash        *actorutil.Stash
	scheduler    *scheduler.TimerScheduler
	acMeter      sunspec_modbus.ACMeterModbusReader
	telemetry    port.TelemetryWriter
	pollInterval time.Duration
	lastError    error
	logger       *zap.Logger
}

type gridMeterTick struct {
}

type backgroundTaskResult struct {
	message any
	replyTo *actor.PID
}

func NewGridMeterActor(acMeter sunspec_modbus.ACMeterModbusReader, telemetry port.TelemetryWriter, pollInterval time.Duration, logger *zap.Logger) *GridMeterActor {
	act := &GridMeterActor{
		acMeter:      acMeter,
		telemetry:    telemetry,
		pollInterval: pollInterval,
		behavior:     actor.NewBehavior(),
		stash:        &actorutil.Stash{},
		logger:       actorutil.ActorLogger(domain.ACTOR_ID_GRID_METER, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *GridMeterActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *GridMeterActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("gridmeter@starting started")
		if err := state.acMeter.Open(); err != nil {
			state.logger.Error("gridmeter@starting could not open meter", zap.Error(err))
			panic(err)
		}
		if state.pollInterval > 0 {
			state.scheduler = scheduler.NewTimerScheduler(ctx)
			ctx.Send(ctx.Self(), gridMeterTick{})
		}
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case *actor.Restarting:
		state.acMeter.Close()
	default:
		state.logger.Debug("gridmeter@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *GridMeterActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("gridmeter@default: ActorHealthRequest")
		ctx.Respond(state.health("idle"))
	case gridMeterTick:
		state.logger.Debug("gridmeter@default tick")
		state.readGridMeter(ctx, nil)
		state.scheduler.RequestOnce(state.pollInterval, ctx.Self(), gridMeterTick{})
	case domain.ReadGridMeterRequest:
		state.logger.Debug("gridmeter@default: ReadGridMeterRequest")
		state.readGridMeter(ctx, actorutil.ForRequest(msg).ReplyTo(ctx))
	case *actor.Stopping:
		state.acMeter.Close()
	case *actor.Restarting:
		state.acMeter.Close()
	default:
		state.logger.Debug("gridmeter@default default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *GridMeterActor) WaitingModbus(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case backgroundTaskResult:
		if resp, ok := msg.message.(domain.ReadGridMeterResponse); ok {
			state.lastError = resp.GetResponseError()
			if resp.HasResponseError() {
				state.logger.Warn("gridmeter@waiting read failed", zap.Error(resp.GetResponseError()))
			} else if resp.Reading != nil {
				state.telemetry.Update(domain.MeterSourceGrid, *resp.Reading)
			}
		}
		if msg.replyTo != nil {
			ctx.Send(msg.replyTo, msg.message)
		}
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case domain.ActorHealthRequest:
		ctx.Respond(state.health("reading"))
	case *actor.Stopping:
		state.acMeter.Close()
	case *actor.Restarting:
		state.acMeter.Close()
	default:
		state.logger.Debug("gridmeter@waiting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *GridMeterActor) readGridMeter(ctx actor.Context, sender *actor.PID) {
	actorutil.MapBackgroundTask(actorutil.NewBackgroundTask(ctx, state.getGridReading),
		mapTaskResult[domain.ReadGridMeterResponse](sender)).Recover(func(err error) backgroundTaskResult {
		return backgroundTaskResult{
			message: domain.ReadGridMeterResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: err,
				},
			},
			replyTo: sender,
		}
	}).WithTimeout(2 * time.Second).PipeTo(ctx.Self())
	state.behavior.BecomeStacked(state.WaitingModbus)
}

func (state *GridMeterActor) health(phase string) domain.ActorHealthResponse {
	return domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_GRID_METER,
		Healthy: state.lastError == nil,
		State:   phase,
	}
}

func (state *GridMeterActor) getGridReading() (*domain.ReadGridMeterResponse, error) {
	flow, err := state.acMeter.GetPowerFlow()
	if err != nil {
		return nil, err
	}
	reading := PowerFlowToMeterReading(flow)
	return &domain.ReadGridMeterResponse{
		Reading: &reading,
	}, nil
}

// PowerFlowToMeterReading converts a meter power flow to amps, volts and kW.
// Phase currents are taken as magnitudes.
func PowerFlowToMeterReading(flow *sunspec_modbus.ACMeterPowerFlow) domain.MeterReading {
	l1 := math.Abs(flow.PhaseACurrent)
	l2 := math.Abs(flow.PhaseBCurrent)
	l3 := math.Abs(flow.PhaseCCurrent)
	v1 := flow.PhaseAVoltage
	v2 := flow.PhaseBVoltage
	v3 := flow.PhaseCVoltage
	delivered := flow.CurrentImportPowerWatt / 1000
	returned := flow.CurrentExportPowerWatt / 1000
	return domain.MeterReading{
		CurrentL1:      &l1,
		CurrentL2:      &l2,
		CurrentL3:      &l3,
		VoltageL1:      &v1,
		VoltageL2:      &v2,
		VoltageL3:      &v3,
		PowerDelivered: &delivered,
		PowerReturned:  &returned,
	}
}

func mapTaskResult[T any](sender *actor.PID) func(t *T) *backgroundTaskResult {
	return func(t *T) *backgroundTaskResult {
		return &backgroundTaskResult{
			message: *t,
			replyTo: sender,
		}
	}
}
