package actor

import (
	"errors"
	"testing"
	"time"

	"github.com/berfenger/tesla2mqtt/internal/core/domain"
	"github.com/berfenger/tesla2mqtt/internal/core/telemetry"
	"github.com/berfenger/tesla2mqtt/internal/util/actorutil"
	"github.com/berfenger/tesla2mqtt/pkg/sunspec_modbus"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestReadGridMeterActor(t *testing.T) {

	assert := assert.New(t)

	acMeter, err := sunspec_modbus.CreateTestACMeterModbusReader()
	if err != nil {
		t.Error(err)
		return
	}

	logger := zap.Must(zap.NewDevelopment())

	as := actorutil.NewActorSystemWithZapLogger(logger)

	context := as.Root

	store := telemetry.NewStore(time.Now)

	props := actor.PropsFromProducer(func() actor.Actor { return NewGridMeterActor(acMeter, store, 0, logger) })
	pid := context.Spawn(props)

	result, err := context.RequestFuture(pid, domain.ReadGridMeterRequest{}, 5*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	resp, ok := result.(domain.ReadGridMeterResponse)
	assert.True(ok)
	assert.False(resp.HasResponseError())
	if assert.NotNil(resp.Reading) {
		assert.Equal(12.5, *resp.Reading.CurrentL1)
		assert.InDelta(4.14, *resp.Reading.PowerDelivered, 0.0001)
	}

	sample := store.Read(domain.MeterSourceGrid)
	assert.True(sample.Updated())
	assert.Equal(12.5, sample.CurrentMax())
	assert.InDelta(691.4, sample.VoltageSum(), 0.0001)

	context.Stop(pid)

	as.Shutdown()
}

func TestGridMeterActorPolls(t *testing.T) {

	acMeter, err := sunspec_modbus.CreateTestACMeterModbusReader()
	if err != nil {
		t.Error(err)
		return
	}

	as := actor.NewActorSystem()
	store := telemetry.NewStore(time.Now)

	props := actor.PropsFromProducer(func() actor.Actor { return NewGridMeterActor(acMeter, store, 100*time.Millisecond, zap.NewNop()) })
	pid := as.Root.Spawn(props)

	assert.Eventually(t, func() bool {
		return store.Read(domain.MeterSourceGrid).Updated()
	}, 3*time.Second, 50*time.Millisecond)

	as.Root.Stop(pid)
	as.Shutdown()
}

func TestGridMeterActorReadError(t *testing.T) {

	assert := assert.New(t)

	acMeter := &sunspec_modbus.TestACMeterModbusReader{}

	as := actor.NewActorSystem()
	store := telemetry.NewStore(time.Now)

	props := actor.PropsFromProducer(func() actor.Actor { return NewGridMeterActor(acMeter, store, 0, zap.NewNop()) })
	pid := as.Root.Spawn(props)

	// open succeeds, then the meter goes away
	_, err := as.Root.RequestFuture(pid, domain.ActorHealthRequest{}, time.Second).Result()
	assert.NoError(err)
	acMeter.Err = errors.New("connection reset")

	result, err := as.Root.RequestFuture(pid, domain.ReadGridMeterRequest{}, 5*time.Second).Result()
	assert.NoError(err)
	resp := result.(domain.ReadGridMeterResponse)
	assert.True(resp.HasResponseError())
	assert.False(store.Read(domain.MeterSourceGrid).Updated())

	result, err = as.Root.RequestFuture(pid, domain.ActorHealthRequest{}, time.Second).Result()
	assert.NoError(err)
	assert.False(result.(domain.ActorHealthResponse).Healthy)

	as.Root.Stop(pid)
	as.Shutdown()
}

func TestPowerFlowToMeterReading(t *testing.T) {

	assert := assert.New(t)

	reading := PowerFlowToMeterReading(&sunspec_modbus.ACMeterPowerFlow{
		CurrentExportPowerWatt: 2100,
		PhaseACurrent:          -3.2,
		PhaseAVoltage:          230,
	})
	assert.Equal(3.2, *reading.CurrentL1)
	assert.Equal(2.1, *reading.PowerReturned)
	assert.Equal(0.0, *reading.PowerDelivered)
}
