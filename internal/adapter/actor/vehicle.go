package actor

import (
	"context"
	"fmt"
	"time"

	"github.com/berfenger/tesla2mqtt/internal/core/domain"
	"github.com/berfenger/tesla2mqtt/internal/core/port"
	"github.com/berfenger/tesla2mqtt/internal/core/service"
	"github.com/berfenger/tesla2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

// VehicleActor serializes every call to the remote vehicle API. Requests that
// arrive while a call is in flight are stashed.
type VehicleActor struct {
	behavior       actor.Behavior
	stash          *actorutil.Stash
	api            port.VehicleAPI
	actuator       *service.ActuatorGateway
	requestTimeout time.Duration
	logger         *zap.Logger
}

func NewVehicleActor(api port.VehicleAPI, actuator *service.ActuatorGateway, requestTimeout time.Duration, logger *zap.Logger) *VehicleActor {
	act := &VehicleActor{
		api:            api,
		actuator:       actuator,
		requestTimeout: requestTimeout,
		behavior:       actor.NewBehavior(),
		stash:          &actorutil.Stash{},
		logger:         actorutil.ActorLogger(domain.ACTOR_ID_VEHICLE, logger),
	}
	act.behavior.Become(act.DefaultReceive)
	return act
}

func (state *VehicleActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *VehicleActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("vehicle@default started")
	case domain.ActorHealthRequest:
		state.logger.Debug("vehicle@default: ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_VEHICLE,
			Healthy: true,
			State:   "idle",
		})
	case domain.ListVehiclesRequest:
		state.logger.Debug("vehicle@default: ListVehiclesRequest")
		sender := actorutil.ForRequest(msg).ReplyTo(ctx)
		actorutil.MapBackgroundTask(actorutil.NewBackgroundTask(ctx, state.listVehicles),
			mapTaskResult[domain.ListVehiclesResponse](sender)).Recover(func(err error) backgroundTaskResult {
			return backgroundTaskResult{
				message: domain.ListVehiclesResponse{
					ActorResponseMixIn: domain.ActorResponseMixIn{
						ResponseError: err,
					},
				},
				replyTo: sender,
			}
		}).WithTimeout(state.requestTimeout + time.Second).PipeTo(ctx.Self())
		state.behavior.BecomeStacked(state.WaitingVehicle)
	case domain.GetVehicleDataRequest:
		state.logger.Debug("vehicle@default: GetVehicleDataRequest", zap.String("vehicle", msg.VehicleId))
		sender := actorutil.ForRequest(msg).ReplyTo(ctx)
		actorutil.MapBackgroundTask(actorutil.NewBackgroundTask(ctx, func() (*domain.GetVehicleDataResponse, error) {
			return state.getVehicleData(msg.VehicleId)
		}), mapTaskResult[domain.GetVehicleDataResponse](sender)).Recover(func(err error) backgroundTaskResult {
			return backgroundTaskResult{
				message: domain.GetVehicleDataResponse{
					ActorResponseMixIn: domain.ActorResponseMixIn{
						ResponseError: err,
					},
				},
				replyTo: sender,
			}
		}).WithTimeout(state.requestTimeout + time.Second).PipeTo(ctx.Self())
		state.behavior.BecomeStacked(state.WaitingVehicle)
	case domain.SetChargingAmpsRequest:
		state.logger.Debug("vehicle@default: SetChargingAmpsRequest", zap.String("vehicle", msg.VehicleId), zap.Int("amps", msg.Amps))
		sender := actorutil.ForRequest(msg).ReplyTo(ctx)
		actorutil.MapBackgroundTask(actorutil.NewBackgroundTaskNoError(ctx, func() *domain.SetChargingAmpsResponse {
			resp := state.setChargingAmps(msg.VehicleId, msg.Amps)
			return &resp
		}), mapTaskResult[domain.SetChargingAmpsResponse](sender)).Recover(func(err error) backgroundTaskResult {
			return backgroundTaskResult{
				message: domain.SetChargingAmpsResponse{
					ActorResponseMixIn: domain.ActorResponseMixIn{
						ResponseError: err,
					},
					Amps: msg.Amps,
				},
				replyTo: sender,
			}
		}).WithTimeout(state.actuationTimeout()).PipeTo(ctx.Self())
		state.behavior.BecomeStacked(state.WaitingVehicle)
	default:
		state.logger.Debug("vehicle@default default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *VehicleActor) WaitingVehicle(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case backgroundTaskResult:
		state.logger.Debug("vehicle@waiting backgroundTaskResult", zap.String("type", fmt.Sprintf("%T", msg.message)))
		if msg.replyTo != nil {
			ctx.Send(msg.replyTo, msg.message)
		}
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_VEHICLE,
			Healthy: true,
			State:   "busy",
		})
	default:
		state.logger.Debug("vehicle@waiting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

// actuationTimeout covers up to two commands plus the repeat and settle waits.
func (state *VehicleActor) actuationTimeout() time.Duration {
	return 2*state.requestTimeout + state.actuator.RepeatDelay + state.actuator.SettleDelay + time.Second
}

func (state *VehicleActor) listVehicles() (*domain.ListVehiclesResponse, error) {
	ctx, cancel := context.WithTimeout(context.Background(), state.requestTimeout)
	defer cancel()
	vehicles, err := state.api.ListVehicles(ctx)
	if err != nil {
		return nil, err
	}
	return &domain.ListVehiclesResponse{
		Vehicles: vehicles,
	}, nil
}

func (state *VehicleActor) getVehicleData(vehicleId string) (*domain.GetVehicleDataResponse, error) {
	ctx, cancel := context.WithTimeout(context.Background(), state.requestTimeout)
	defer cancel()
	snapshot, err := state.api.GetVehicleData(ctx, vehicleId)
	if err != nil {
		return nil, err
	}
	return &domain.GetVehicleDataResponse{
		Snapshot: snapshot,
	}, nil
}

func (state *VehicleActor) setChargingAmps(vehicleId string, amps int) domain.SetChargingAmpsResponse {
	ctx, cancel := context.WithTimeout(context.Background(), state.actuationTimeout())
	defer cancel()
	commands, err := state.actuator.SetAmps(ctx, vehicleId, amps)
	return domain.SetChargingAmpsResponse{
		ActorResponseMixIn: domain.ActorResponseMixIn{
			ResponseError: err,
		},
		Amps:     amps,
		Commands: commands,
	}
}
