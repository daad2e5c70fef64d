package actor

import (
	"fmt"
	"time"

	adactor "github.com/berfenger/tesla2mqtt/internal/adapter/actor"
	"github.com/berfenger/tesla2mqtt/internal/config"
	"github.com/berfenger/tesla2mqtt/internal/core/domain"
	. "github.com/berfenger/tesla2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"go.uber.org/zap"
)

type MQTTActorProvider func(*eventstream.EventStream) *adactor.MQTTActor

type GridMeterActorProvider func() *adactor.GridMeterActor

type VehicleActorProvider func() *adactor.VehicleActor

type ChargeControlActorProvider func(vehicleActor *actor.PID, eventStream *eventstream.EventStream) *ChargeControlActor

// Providers builds the children of the master actor. GridMeter is nil when the
// grid feed arrives over MQTT.
type Providers struct {
	MQTT          MQTTActorProvider
	GridMeter     GridMeterActorProvider
	Vehicle       VehicleActorProvider
	ChargeControl ChargeControlActorProvider
}

type MasterOfPuppetsActor struct {
	config    config.Config
	behavior  actor.Behavior
	stash     *Stash
	providers Providers
	onFatal   func(error)

	currentHealthCheck healthCheckResult
	eventStream        *eventstream.EventStream
	mqttActor          *actor.PID
	gridMeterActor     *actor.PID
	vehicleActor       *actor.PID
	chargeControlActor *actor.PID
	logger             *zap.Logger
}

type healthCheckResult struct {
	expected  map[string]bool
	healthy   map[string]bool
	received  int
	respondTo *actor.PID
}

// NewMasterOfPuppetsActor wires the actor tree. onFatal is called once the
// controller reports a condition it cannot recover from.
func NewMasterOfPuppetsActor(config config.Config, providers Providers, onFatal func(error), logger *zap.Logger) *MasterOfPuppetsActor {
	act := &MasterOfPuppetsActor{
		config:      config,
		behavior:    actor.NewBehavior(),
		stash:       &Stash{},
		providers:   providers,
		onFatal:     onFatal,
		logger:      ActorLogger(domain.ACTOR_ID_MASTER, logger),
		eventStream: &eventstream.EventStream{},
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MasterOfPuppetsActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MasterOfPuppetsActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("master@starting started")

		state.currentHealthCheck = healthCheckResult{}

		mqttActorPID, err := state.startMQTTActor(ctx)
		if err != nil {
			panic(err)
		}
		state.mqttActor = mqttActorPID

		if state.providers.GridMeter != nil {
			gridMeterPID, err := state.startGridMeterActor(ctx)
			if err != nil {
				panic(err)
			}
			state.gridMeterActor = gridMeterPID
		}

		vehiclePID, err := state.startVehicleActor(ctx)
		if err != nil {
			panic(err)
		}
		state.vehicleActor = vehiclePID

		chargeControlPID, err := state.startChargeControlActor(ctx)
		if err != nil {
			panic(err)
		}
		state.chargeControlActor = chargeControlPID

		if state.config.MQTT.HADiscoveryEnable {
			if _, err := state.startHADiscoveryActor(ctx); err != nil {
				panic(err)
			}
		}

		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("master@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("master@default ActorHealthRequest")
		state.currentHealthCheck.reset(state.children())
		state.currentHealthCheck.respondTo = ctx.Sender()
		for id, pid := range state.children() {
			PipeToSelfWithRecover(ctx, ctx.RequestFuture(pid, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
				return domain.ActorHealthResponse{
					Id:      id,
					Healthy: false,
				}
			})
		}

		ctx.SetReceiveTimeout(1 * time.Second)

		state.behavior.BecomeStacked(state.HealthCheckReceive)
	case adactor.ParsedCommand:
		state.logger.Debug("master@default parsedCommand", zap.Any("command", msg.Command))
		if msg.Command != nil {
			cmd, err := ParsedMQTTCommandToCommand(*msg.Command)
			if err != nil {
				state.logger.Warn("master@default ignoring command", zap.Any("command", msg.Command), zap.Error(err))
				return
			}
			ctx.Send(state.chargeControlActor, cmd)
		}
	case domain.ChargeControlRequest:
		// settings and status requests from the HTTP API keep their sender
		ctx.Forward(state.chargeControlActor)
	case domain.ControllerFatal:
		state.logger.Error("master@default controller fatal", zap.Error(msg.Reason))
		if state.onFatal != nil {
			state.onFatal(msg.Reason)
		}
	default:
		state.logger.Debug("master@default unhandled", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *MasterOfPuppetsActor) HealthCheckReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.ReceiveTimeout:
		// children that did not answer count as unhealthy
		ctx.CancelReceiveTimeout()
		state.currentHealthCheck.respond(ctx)
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case domain.ActorHealthResponse:
		state.logger.Debug("master@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy), zap.String("state", msg.State))
		state.currentHealthCheck.record(msg)
		if state.currentHealthCheck.allReceived() {
			ctx.CancelReceiveTimeout()
			state.currentHealthCheck.respond(ctx)
			state.behavior.UnbecomeStacked()
			state.stash.UnstashAll(ctx)
		}
	case domain.ControllerFatal:
		state.logger.Error("master@healthcheck controller fatal", zap.Error(msg.Reason))
		if state.onFatal != nil {
			state.onFatal(msg.Reason)
		}
	default:
		state.logger.Debug("master@healthcheck stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) children() map[string]*actor.PID {
	children := map[string]*actor.PID{
		domain.ACTOR_ID_MQTT:           state.mqttActor,
		domain.ACTOR_ID_VEHICLE:        state.vehicleActor,
		domain.ACTOR_ID_CHARGE_CONTROL: state.chargeControlActor,
	}
	if state.gridMeterActor != nil {
		children[domain.ACTOR_ID_GRID_METER] = state.gridMeterActor
	}
	return children
}

func (state *MasterOfPuppetsActor) startMQTTActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	mqttProps := actor.PropsFromProducer(func() actor.Actor {
		return state.providers.MQTT(state.eventStream)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(mqttProps, domain.ACTOR_ID_MQTT)
}

func (state *MasterOfPuppetsActor) startGridMeterActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	gridMeterProps := actor.PropsFromProducer(func() actor.Actor {
		return state.providers.GridMeter()
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(gridMeterProps, domain.ACTOR_ID_GRID_METER)
}

func (state *MasterOfPuppetsActor) startVehicleActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	vehicleProps := actor.PropsFromProducer(func() actor.Actor {
		return state.providers.Vehicle()
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(vehicleProps, domain.ACTOR_ID_VEHICLE)
}

func (state *MasterOfPuppetsActor) startChargeControlActor(ctx actor.Context) (*actor.PID, error) {

	decider := func(reason interface{}) actor.Directive {
		state.logger.Error("master: charge control failure", zap.Any("reason", reason))
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(1, 10*time.Second, decider)

	chargeControlProps := actor.PropsFromProducer(func() actor.Actor {
		return state.providers.ChargeControl(state.vehicleActor, state.eventStream)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(chargeControlProps, domain.ACTOR_ID_CHARGE_CONTROL)
}

func (state *MasterOfPuppetsActor) startHADiscoveryActor(ctx actor.Context) (*actor.PID, error) {

	decider := func(reason interface{}) actor.Directive {
		state.logger.Warn("master: hadiscovery failure", zap.Any("reason", reason))
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(10, 1*time.Minute, decider)

	haDiscProps := actor.PropsFromProducer(func() actor.Actor {
		return NewHADiscoveryActor(&state.config, state.mqttActor, state.chargeControlActor, state.logger)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(haDiscProps, domain.ACTOR_ID_HA_DISCOVERY)
}

func (state *healthCheckResult) reset(children map[string]*actor.PID) {
	state.expected = make(map[string]bool, len(children))
	for id := range children {
		state.expected[id] = true
	}
	state.healthy = make(map[string]bool, len(children))
	state.received = 0
}

func (state *healthCheckResult) record(resp domain.ActorHealthResponse) {
	if !state.expected[resp.Id] {
		return
	}
	if _, seen := state.healthy[resp.Id]; seen {
		return
	}
	state.received++
	state.healthy[resp.Id] = resp.Healthy
}

func (state *healthCheckResult) allReceived() bool {
	return state.received == len(state.expected)
}

func (state *healthCheckResult) allHealthy() bool {
	if !state.allReceived() {
		return false
	}
	for _, healthy := range state.healthy {
		if !healthy {
			return false
		}
	}
	return true
}

func (state *healthCheckResult) respond(ctx actor.Context) {
	resp := domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_MASTER,
		Healthy: state.allHealthy(),
	}
	if state.respondTo != nil {
		ctx.Send(state.respondTo, resp)
	}
}
