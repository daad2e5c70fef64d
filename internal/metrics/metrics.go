package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tesla2mqtt"

// Sink receives controller observations.
type Sink interface {
	ObserveTick(phase, reason string, gridCurrentMax float64)
	ObserveVehicle(evAmps float64, consecutiveFailures int)
	ObserveCommand(amps, commands int, err error)
	ObserveModbusCall(fn string, d time.Duration)
}

// NopSink implements Sink with no-op methods.
type NopSink struct{}

func (NopSink) ObserveTick(string, string, float64)     {}
func (NopSink) ObserveVehicle(float64, int)             {}
func (NopSink) ObserveCommand(int, int, error)          {}
func (NopSink) ObserveModbusCall(string, time.Duration) {}

// PromSink records controller metrics in Prometheus collectors.
type PromSink struct {
	gridCurrentMax  prometheus.Gauge
	evCurrent       prometheus.Gauge
	commandedAmps   prometheus.Gauge
	sessionActive   prometheus.Gauge
	vehicleFailures prometheus.Gauge
	ticks           *prometheus.CounterVec
	commands        *prometheus.CounterVec
	modbusLatency   *prometheus.HistogramVec
}

// NewPromSink registers the controller metrics on reg. If reg is nil, the
// default registerer is used. Collectors that are already registered are
// reused.
func NewPromSink(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{}
	var err error
	if s.gridCurrentMax, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "grid_current_max_amps",
		Help:      "Highest phase current last read from the grid meter",
	})); err != nil {
		return nil, err
	}
	if s.evCurrent, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "vehicle_current_amps",
		Help:      "Current drawn by the vehicle at the last poll",
	})); err != nil {
		return nil, err
	}
	if s.commandedAmps, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "commanded_amps",
		Help:      "Last charging current sent to the vehicle",
	})); err != nil {
		return nil, err
	}
	if s.sessionActive, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "charge_session_active",
		Help:      "1 while a local charging session is tracked",
	})); err != nil {
		return nil, err
	}
	if s.vehicleFailures, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "vehicle_api_consecutive_failures",
		Help:      "Consecutive failed vehicle API polls",
	})); err != nil {
		return nil, err
	}
	if s.ticks, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "control_ticks_total",
		Help:      "Control loop ticks by phase and outcome",
	}, []string{"phase", "reason"})); err != nil {
		return nil, err
	}
	if s.commands, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "set_charging_amps_total",
		Help:      "set_charging_amps commands sent to the vehicle",
	}, []string{"success"})); err != nil {
		return nil, err
	}
	if s.modbusLatency, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "modbus_call_seconds",
		Help:      "Grid meter Modbus call latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"fn"})); err != nil {
		return nil, err
	}
	return s, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (s *PromSink) ObserveTick(phase, reason string, gridCurrentMax float64) {
	s.gridCurrentMax.Set(gridCurrentMax)
	if phase == "charging" {
		s.sessionActive.Set(1)
	} else {
		s.sessionActive.Set(0)
	}
	s.ticks.WithLabelValues(phase, reason).Inc()
}

func (s *PromSink) ObserveVehicle(evAmps float64, consecutiveFailures int) {
	s.evCurrent.Set(evAmps)
	s.vehicleFailures.Set(float64(consecutiveFailures))
}

func (s *PromSink) ObserveCommand(amps, commands int, err error) {
	if err == nil {
		s.commandedAmps.Set(float64(amps))
	}
	s.commands.WithLabelValues(strconv.FormatBool(err == nil)).Add(float64(commands))
}

func (s *PromSink) ObserveModbusCall(fn string, d time.Duration) {
	s.modbusLatency.WithLabelValues(fn).Observe(d.Seconds())
}

// ensure interface compliance
var _ Sink = (*PromSink)(nil)
var _ Sink = NopSink{}
