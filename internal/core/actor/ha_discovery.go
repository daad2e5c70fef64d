package actor

import (
	"errors"
	"fmt"
	"time"

	"github.com/berfenger/tesla2mqtt/internal/config"
	"github.com/berfenger/tesla2mqtt/internal/core/domain"
	"github.com/berfenger/tesla2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

// HADiscoveryActor publishes the Home Assistant entities once the MQTT actor
// is up and the controller knows which vehicle it drives.
type HADiscoveryActor struct {
	config            *config.Config
	behavior          actor.Behavior
	stash             *actorutil.Stash
	scheduler         *scheduler.TimerScheduler
	mqttActor         *actor.PID
	chargeControl     *actor.PID
	statusRetryPeriod time.Duration

	logger *zap.Logger
}

type discoveryStatusRetry struct {
}

func NewHADiscoveryActor(config *config.Config, mqttActor *actor.PID, chargeControl *actor.PID, logger *zap.Logger) *HADiscoveryActor {
	act := &HADiscoveryActor{
		config:            config,
		mqttActor:         mqttActor,
		chargeControl:     chargeControl,
		statusRetryPeriod: 2 * time.Second,
		behavior:          actor.NewBehavior(),
		stash:             &actorutil.Stash{},
		logger:            actorutil.ActorLogger(domain.ACTOR_ID_HA_DISCOVERY, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *HADiscoveryActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *HADiscoveryActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("hadiscovery@starting started")
		state.scheduler = scheduler.NewTimerScheduler(ctx)
		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.ActorHealthRequest{}, 15*time.Second), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_MQTT,
				Healthy: false,
			}
		})
		state.behavior.Become(state.WaitingHealthyReceive)
	case *actor.Restarting:
	default:
		state.logger.Debug("hadiscovery@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) WaitingHealthyReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthResponse:
		state.logger.Debug("hadiscovery@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		if !msg.Healthy {
			// the supervisor restarts us and we ask again
			panic(errors.New("mqtt actor is not healthy"))
		}
		state.requestStatus(ctx)
		state.behavior.Become(state.WaitingStatusReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("hadiscovery@healthcheck: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) WaitingStatusReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.GetControllerStatusResponse:
		if msg.Vehicle == nil {
			state.logger.Debug("hadiscovery@status vehicle not known yet", zap.Error(msg.GetResponseError()))
			state.scheduler.RequestOnce(state.statusRetryPeriod, ctx.Self(), discoveryStatusRetry{})
			return
		}
		state.logger.Debug("hadiscovery@status GetControllerStatusResponse", zap.String("vehicle", msg.Vehicle.Id))
		ctx.Send(state.mqttActor, state.discoveryRequest(*msg.Vehicle, msg.Settings))
		state.behavior.Become(state.Done)
	case discoveryStatusRetry:
		state.requestStatus(ctx)
	default:
		state.logger.Debug("hadiscovery@status: default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *HADiscoveryActor) Done(ctx actor.Context) {
}

func (state *HADiscoveryActor) requestStatus(ctx actor.Context) {
	actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.chargeControl, domain.GetControllerStatusRequest{}, 2*time.Second), func(err error) any {
		return domain.GetControllerStatusResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{
				ResponseError: err,
			},
		}
	})
}

func (state *HADiscoveryActor) discoveryRequest(vehicle domain.VehicleHandle, settings domain.Settings) domain.PublishDiscoveryRequest {
	var sensors []domain.GenericSensor

	bridgeDevice := domain.BridgeDevice(state.config.MQTT.BaseTopic)
	sensors = append(sensors, domain.BridgeSensors(bridgeDevice)...)

	// full device description on the first entity only
	controllerSensors := domain.ControllerSensors(domain.IdDevice(bridgeDevice))
	sensors = append(sensors, controllerSensors...)

	vehicleDevice := domain.VehicleDevice(vehicle)
	vehicleDevice.ViaDevice = bridgeDevice.Id
	vehicleSensors := domain.VehicleSensors(vehicleDevice)
	for i := range vehicleSensors {
		if i > 0 {
			vehicleSensors[i].Device = domain.IdDevice(vehicleDevice)
		}
		sensors = append(sensors, vehicleSensors[i])
	}

	return domain.PublishDiscoveryRequest{
		Sensors:  sensors,
		Switches: domain.SettingsSwitches(domain.IdDevice(bridgeDevice)),
		InputNumbers: domain.SettingsInputNumbers(domain.IdDevice(bridgeDevice),
			state.config.Charger.MinAmps, state.config.Charger.MaxAmps, settings.MaxChargeAmps),
	}
}
