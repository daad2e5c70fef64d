package actor

import (
	"sync"
	"testing"
	"time"

	adactor "github.com/berfenger/tesla2mqtt/internal/adapter/actor"
	"github.com/berfenger/tesla2mqtt/internal/adapter/vehicle"
	"github.com/berfenger/tesla2mqtt/internal/config"
	"github.com/berfenger/tesla2mqtt/internal/core/domain"
	"github.com/berfenger/tesla2mqtt/internal/core/service"
	"github.com/berfenger/tesla2mqtt/internal/core/telemetry"
	"github.com/berfenger/tesla2mqtt/internal/mqtt"
	"github.com/berfenger/tesla2mqtt/internal/util"
	"github.com/berfenger/tesla2mqtt/pkg/sunspec_modbus"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fatalRecorder struct {
	mu     sync.Mutex
	errors []error
}

func (r *fatalRecorder) onFatal(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, err)
}

func (r *fatalRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errors)
}

func testProviders(t *testing.T, cfg *config.Config, store *telemetry.Store, settings *service.SettingsStore, logger *zap.Logger) Providers {
	api := vehicle.NewTestVehicleAPI([]domain.VehicleHandle{{Id: "42", DisplayName: "Red"}}, nil)
	acMeter, err := sunspec_modbus.CreateTestACMeterModbusReader()
	require.NoError(t, err)

	return Providers{
		MQTT: func(es *eventstream.EventStream) *adactor.MQTTActor {
			return adactor.NewTestMQTTActor(cfg, es, logger)
		},
		GridMeter: func() *adactor.GridMeterActor {
			return adactor.NewGridMeterActor(acMeter, store, 100*time.Millisecond, logger)
		},
		Vehicle: func() *adactor.VehicleActor {
			actuator := service.NewActuatorGateway(api, cfg.Control.LowAmpsThreshold, cfg.Control.LowAmpsRepeat(), cfg.Control.Settle(), logger)
			return adactor.NewVehicleActor(api, actuator, cfg.Vehicle.RequestTimeout(), logger)
		},
		ChargeControl: func(vehicleActor *actor.PID, es *eventstream.EventStream) *ChargeControlActor {
			return NewChargeControlActor(cfg, vehicleActor, store, settings, es, logger)
		},
	}
}

func TestMasterActor(t *testing.T) {

	as := actor.NewActorSystem()
	context := as.Root

	cfg := util.LoadTestConfig()
	cfg.Grid.Source = config.GRID_SOURCE_MODBUS
	cfg.MQTT.HADiscoveryEnable = true
	logCfg := zap.NewDevelopmentConfig()
	logCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)
	logger := zap.Must(logCfg.Build())

	store := telemetry.NewStore(time.Now)
	settings, err := service.NewSettingsStore("", domain.Settings{MaxChargeAmps: 16}, cfg.Charger.MinAmps, cfg.Charger.MaxAmps, logger)
	require.NoError(t, err)
	recorder := &fatalRecorder{}

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewMasterOfPuppetsActor(cfg, testProviders(t, &cfg, store, settings, logger), recorder.onFatal, logger)
	})
	pid, err := context.SpawnNamed(props, domain.ACTOR_ID_MASTER)
	if err != nil {
		t.Error(err)
		return
	}

	assert.Eventually(t, func() bool {
		res, err := context.RequestFuture(pid, domain.ActorHealthRequest{}, 5*time.Second).Result()
		if err != nil {
			return false
		}
		healthResp, ok := res.(domain.ActorHealthResponse)
		return ok && healthResp.Healthy
	}, 5*time.Second, 100*time.Millisecond)

	// the modbus meter feeds the grid sample
	assert.Eventually(t, func() bool {
		return store.Read(domain.MeterSourceGrid).Updated()
	}, 2*time.Second, 20*time.Millisecond)

	// MQTT commands are routed to the controller
	context.Send(pid, adactor.ParsedCommand{Command: &mqtt.ParsedMQTTCommand{
		DeviceId: domain.INPUT_NUMBER_ID_MAX_CHARGE_A,
		Command:  "set",
		Payload:  "20",
	}})
	assert.Eventually(t, func() bool {
		return settings.Get().MaxChargeAmps == 20
	}, 2*time.Second, 20*time.Millisecond)

	// HTTP requests are forwarded with their sender
	res, err := context.RequestFuture(pid, domain.GetControllerStatusRequest{}, 2*time.Second).Result()
	require.NoError(t, err)
	status, ok := res.(domain.GetControllerStatusResponse)
	assert.True(t, ok)
	assert.Equal(t, 20, status.Settings.MaxChargeAmps)

	assert.Zero(t, recorder.count())

	context.Stop(pid)

	as.Shutdown()
}

func TestMasterActorFatal(t *testing.T) {

	as := actor.NewActorSystem()

	cfg := util.LoadTestConfig()
	cfg.Vehicle.Index = 5
	logger := zap.NewNop()

	store := telemetry.NewStore(time.Now)
	settings, err := service.NewSettingsStore("", domain.Settings{MaxChargeAmps: 16}, cfg.Charger.MinAmps, cfg.Charger.MaxAmps, logger)
	require.NoError(t, err)
	recorder := &fatalRecorder{}

	providers := testProviders(t, &cfg, store, settings, logger)
	providers.GridMeter = nil

	pid := as.Root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewMasterOfPuppetsActor(cfg, providers, recorder.onFatal, logger)
	}))

	assert.Eventually(t, func() bool {
		return recorder.count() == 1
	}, 5*time.Second, 20*time.Millisecond)

	res, err := as.Root.RequestFuture(pid, domain.ActorHealthRequest{}, 5*time.Second).Result()
	require.NoError(t, err)
	assert.False(t, res.(domain.ActorHealthResponse).Healthy)

	as.Root.Stop(pid)
	as.Shutdown()
}
