package service

import (
	"context"
	"errors"
	"time"

	"github.com/berfenger/tesla2mqtt/internal/core/port"

	"go.uber.org/zap"
)

type SleepFunc func(ctx context.Context, d time.Duration) error

func ContextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ActuatorGateway sends the charging current command to the vehicle and waits
// for the charger to settle before returning.
type ActuatorGateway struct {
	api port.VehicleAPI
	// targets below LowAmpsThreshold are sent twice, RepeatDelay apart
	LowAmpsThreshold int
	RepeatDelay      time.Duration
	SettleDelay      time.Duration
	Sleep            SleepFunc
	logger           *zap.Logger
}

func NewActuatorGateway(api port.VehicleAPI, lowAmpsThreshold int, repeatDelay, settleDelay time.Duration, logger *zap.Logger) *ActuatorGateway {
	return &ActuatorGateway{
		api:              api,
		LowAmpsThreshold: lowAmpsThreshold,
		RepeatDelay:      repeatDelay,
		SettleDelay:      settleDelay,
		Sleep:            ContextSleep,
		logger:           logger,
	}
}

// SetAmps returns the number of commands issued. Command errors are returned
// for logging; the settle delay is observed regardless.
func (g *ActuatorGateway) SetAmps(ctx context.Context, vehicleId string, amps int) (int, error) {
	if amps < 1 {
		g.logger.Debug("actuator: ignoring target below 1A", zap.Int("amps", amps))
		return 0, nil
	}

	commands := 1
	err := g.api.SetChargingAmps(ctx, vehicleId, amps)
	if amps < g.LowAmpsThreshold {
		if serr := g.Sleep(ctx, g.RepeatDelay); serr != nil {
			return commands, errors.Join(err, serr)
		}
		commands++
		err = errors.Join(err, g.api.SetChargingAmps(ctx, vehicleId, amps))
	}
	if err != nil {
		g.logger.Warn("actuator: set_charging_amps failed", zap.Int("amps", amps), zap.Error(err))
	} else {
		g.logger.Info("actuator: set_charging_amps sent", zap.Int("amps", amps), zap.Int("commands", commands))
	}

	if serr := g.Sleep(ctx, g.SettleDelay); serr != nil {
		return commands, errors.Join(err, serr)
	}
	return commands, err
}
