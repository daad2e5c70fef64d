package domain

import (
	"math"
	"time"
)

type MeterSource int

const (
	MeterSourceGrid MeterSource = iota
	MeterSourceEVHTTP
	MeterSourceEVMQTT
)

func (s MeterSource) String() string {
	switch s {
	case MeterSourceGrid:
		return "grid"
	case MeterSourceEVHTTP:
		return "ev_http"
	case MeterSourceEVMQTT:
		return "ev_mqtt"
	default:
		return "unknown"
	}
}

// TelemetrySample holds the latest known values of one meter. Currents are in
// amps, powers in kW and voltages in volts.
type TelemetrySample struct {
	CurrentL1      float64
	CurrentL2      float64
	CurrentL3      float64
	VoltageL1      float64
	VoltageL2      float64
	VoltageL3      float64
	PowerDelivered float64
	PowerReturned  float64
	LastUpdated    time.Time
}

func (s TelemetrySample) CurrentMax() float64 {
	return math.Max(s.CurrentL1, math.Max(s.CurrentL2, s.CurrentL3))
}

func (s TelemetrySample) VoltageSum() float64 {
	return s.VoltageL1 + s.VoltageL2 + s.VoltageL3
}

func (s TelemetrySample) Updated() bool {
	return !s.LastUpdated.IsZero()
}

// MeterReading is one decoded meter message. Nil fields were absent from the
// message and must not overwrite previous values.
type MeterReading struct {
	CurrentL1      *float64
	CurrentL2      *float64
	CurrentL3      *float64
	VoltageL1      *float64
	VoltageL2      *float64
	VoltageL3      *float64
	PowerDelivered *float64
	PowerReturned  *float64
}

func (r MeterReading) Empty() bool {
	return r.CurrentL1 == nil && r.CurrentL2 == nil && r.CurrentL3 == nil &&
		r.VoltageL1 == nil && r.VoltageL2 == nil && r.VoltageL3 == nil &&
		r.PowerDelivered == nil && r.PowerReturned == nil
}
