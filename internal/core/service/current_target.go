package service

import (
	"math"

	"github.com/berfenger/tesla2mqtt/internal/core/domain"
	"github.com/berfenger/tesla2mqtt/internal/core/port"
)

// undershoot requires more than this much headroom below the grid limit
const UNDERSHOOT_MARGIN_A = 1.0

// PV-mode import/export below this many amps is noise
const PV_DEADBAND_A = 0.5

type GridCapacityStrategy struct {
	MaxCurrent float64
}

func (s GridCapacityStrategy) Mode() domain.Mode {
	return domain.ModeGridCapacity
}

func (s GridCapacityStrategy) Evaluate(in domain.TargetInput) (bool, bool, int) {
	chargeAmps := float64(in.ChargeAmps)
	maxTesla := float64(in.MaxTesla)

	overshoot := math.Min(chargeAmps, in.TeslaAmps) > maxTesla || in.CurrentMax > s.MaxCurrent
	undershoot := math.Max(chargeAmps, in.TeslaAmps) < maxTesla && in.CurrentMax < s.MaxCurrent-UNDERSHOOT_MARGIN_A

	headroom := s.MaxCurrent - math.Max(in.CurrentMax, in.TeslaAmps)
	newAmps := math.Min(math.Floor(headroom+in.TeslaAmps), maxTesla)
	return overshoot, undershoot, int(newAmps)
}

type PvSurplusStrategy struct{}

func (s PvSurplusStrategy) Mode() domain.Mode {
	return domain.ModePvSurplus
}

func (s PvSurplusStrategy) Evaluate(in domain.TargetInput) (bool, bool, int) {
	if in.VoltageSum <= 0 {
		return false, false, in.LastCommandedAmps
	}
	importAmps := in.PowerDelivered * 1000 / in.VoltageSum
	exportAmps := in.PowerReturned * 1000 / in.VoltageSum

	overshoot := importAmps >= PV_DEADBAND_A
	undershoot := exportAmps >= PV_DEADBAND_A

	switch {
	case overshoot:
		return true, undershoot, in.LastCommandedAmps - int(math.Floor(importAmps))
	case undershoot:
		return false, true, in.LastCommandedAmps + int(math.Round(exportAmps))
	}
	return false, false, in.LastCommandedAmps
}

// CurrentTargetCalculator selects the strategy for a mode and clamps its
// result into the charger bounds. It holds no state between calls.
type CurrentTargetCalculator struct {
	MinAmps    int
	MaxAmps    int
	strategies map[domain.Mode]port.CurrentTargetStrategy
}

func NewCurrentTargetCalculator(maxCurrent float64, minAmps, maxAmps int) *CurrentTargetCalculator {
	return NewCurrentTargetCalculatorWithStrategies(minAmps, maxAmps,
		GridCapacityStrategy{MaxCurrent: maxCurrent}, PvSurplusStrategy{})
}

func NewCurrentTargetCalculatorWithStrategies(minAmps, maxAmps int, strategies ...port.CurrentTargetStrategy) *CurrentTargetCalculator {
	calc := &CurrentTargetCalculator{
		MinAmps:    minAmps,
		MaxAmps:    maxAmps,
		strategies: make(map[domain.Mode]port.CurrentTargetStrategy, len(strategies)),
	}
	for _, s := range strategies {
		calc.strategies[s.Mode()] = s
	}
	return calc
}

func (c *CurrentTargetCalculator) Calculate(mode domain.Mode, in domain.TargetInput) domain.TargetResult {
	strategy, ok := c.strategies[mode]
	if !ok {
		strategy = c.strategies[domain.ModeGridCapacity]
	}
	overshoot, undershoot, newAmps := strategy.Evaluate(in)

	var target int
	if overshoot {
		target = max(newAmps, c.MinAmps)
	} else {
		target = min(newAmps, c.MaxAmps)
	}
	target = min(max(target, c.MinAmps), c.MaxAmps)

	return domain.TargetResult{
		Overshoot:  overshoot,
		Undershoot: undershoot,
		TargetAmps: target,
	}
}
