package actorutil

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/berfenger/tesla2mqtt/internal/core/domain"
	"github.com/berfenger/tesla2mqtt/internal/mqtt"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/lmittmann/tint"
	"go.uber.org/zap"
)

func PipeToSelfWithRecover(ctx actor.Context, future *actor.Future, mapFn func(error) any) {
	ctx.ReenterAfter(future, func(msg any, err error) {
		if err != nil {
			ctx.Send(ctx.Self(), mapFn(err))
			return
		}
		ctx.Send(ctx.Self(), msg)
	})
}

func NewActorSystemWithZapLogger(logger *zap.Logger) *actor.ActorSystem {
	stdOutLogger := zap.NewStdLog(logger)

	var slogLevel slog.Level = slog.LevelInfo

	switch logger.Level() {
	case zap.DebugLevel:
		slogLevel = slog.LevelDebug
	case zap.InfoLevel:
		slogLevel = slog.LevelInfo
	case zap.WarnLevel:
		slogLevel = slog.LevelWarn
	case zap.ErrorLevel:
		slogLevel = slog.LevelError
	case zap.PanicLevel:
		slogLevel = slog.LevelError
	}

	return actor.NewActorSystem(actor.WithLoggerFactory(func(system *actor.ActorSystem) *slog.Logger {

		// create a new logger
		return slog.New(tint.NewHandler(stdOutLogger.Writer(), &tint.Options{
			Level:      slogLevel,
			TimeFormat: time.DateTime,
		}))
	}))
}

func ActorLogger(actorName string, logger *zap.Logger) *zap.Logger {
	return logger.With(zap.String("actor", actorName))
}

var ErrUnknownCommand = errors.New("unknown command")

// ParsedMQTTCommandToCommand maps a Home Assistant switch or number command to
// the charge control request it stands for.
func ParsedMQTTCommandToCommand(cmd mqtt.ParsedMQTTCommand) (domain.ChargeControlRequest, error) {
	switch cmd.DeviceId {
	case domain.SWITCH_ID_PV_SURPLUS_MODE:
		mode := domain.ModeGridCapacity
		if cmd.Payload == mqtt.MQTT_PAYLOAD_ON {
			mode = domain.ModePvSurplus
		}
		return domain.SetModeRequest{Mode: mode}, nil
	case domain.INPUT_NUMBER_ID_MAX_CHARGE_A:
		value, err := strconv.ParseFloat(cmd.Payload, 64)
		if err != nil {
			return nil, err
		}
		return domain.SetMaxChargeAmpsRequest{Amps: int(value)}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.DeviceId)
}
