package metrics

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromSinkRecordsCommands(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPromSink(reg)
	require.NoError(t, err)

	sink.ObserveCommand(10, 1, nil)
	sink.ObserveCommand(4, 2, nil)
	sink.ObserveCommand(12, 1, errors.New("timeout"))

	expected := `
# HELP tesla2mqtt_set_charging_amps_total set_charging_amps commands sent to the vehicle
# TYPE tesla2mqtt_set_charging_amps_total counter
tesla2mqtt_set_charging_amps_total{success="false"} 1
tesla2mqtt_set_charging_amps_total{success="true"} 3
`
	assert.NoError(t, testutil.CollectAndCompare(sink.commands, strings.NewReader(expected)))
	assert.Equal(t, 4.0, testutil.ToFloat64(sink.commandedAmps))
}

func TestPromSinkTicks(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPromSink(reg)
	require.NoError(t, err)

	sink.ObserveTick("charging", "undershoot", 20.5)
	sink.ObserveTick("idle", "not charging", 3)

	assert.Equal(t, 3.0, testutil.ToFloat64(sink.gridCurrentMax))
	assert.Equal(t, 0.0, testutil.ToFloat64(sink.sessionActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.ticks.WithLabelValues("charging", "undershoot")))

	sink.ObserveVehicle(15, 2)
	assert.Equal(t, 2.0, testutil.ToFloat64(sink.vehicleFailures))

	sink.ObserveModbusCall("ReadRegisters", 20*time.Millisecond)
	assert.Equal(t, 1, testutil.CollectAndCount(sink.modbusLatency))
}

func TestPromSinkReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewPromSink(reg)
	require.NoError(t, err)
	second, err := NewPromSink(reg)
	require.NoError(t, err)

	first.ObserveVehicle(7, 0)
	assert.Equal(t, 7.0, testutil.ToFloat64(second.evCurrent))
}
