package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	adactor "github.com/berfenger/tesla2mqtt/internal/adapter/actor"
	"github.com/berfenger/tesla2mqtt/internal/adapter/evmeter"
	"github.com/berfenger/tesla2mqtt/internal/adapter/vehicle"
	"github.com/berfenger/tesla2mqtt/internal/config"
	"github.com/berfenger/tesla2mqtt/internal/core/actor"
	"github.com/berfenger/tesla2mqtt/internal/core/domain"
	"github.com/berfenger/tesla2mqtt/internal/core/service"
	"github.com/berfenger/tesla2mqtt/internal/core/telemetry"
	"github.com/berfenger/tesla2mqtt/internal/metrics"
	"github.com/berfenger/tesla2mqtt/internal/server"
	"github.com/berfenger/tesla2mqtt/internal/util/actorutil"
	"github.com/berfenger/tesla2mqtt/pkg/sunspec_modbus"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const evMeterTimeout = 5 * time.Second

func gracefulShutdown(apiServer *http.Server, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal.
	<-ctx.Done()

	log.Println("shutting down gracefully, press Ctrl+C again to force")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")

	// Notify the main goroutine that the shutdown is complete
	done <- true
}

func main() {

	// load and print config
	cfg, err := initConfig()
	if err != nil {
		slog.Error("config errors", "error", err)
		return
	}
	safePrintConfig(*cfg)

	// zap logger
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger := zap.Must(zapCfg.Build())
	defer logger.Sync()

	// metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	sink, err := metrics.NewPromSink(registry)
	if err != nil {
		logger.Fatal("metrics setup failed", zap.Error(err))
	}

	// shared state
	store := telemetry.NewStore(time.Now)
	defaultMode, err := domain.ParseMode(cfg.Control.Mode)
	if err != nil {
		logger.Fatal("invalid control.mode", zap.Error(err))
	}
	settings, err := service.NewSettingsStore(cfg.SettingsFile, domain.Settings{
		Mode:          defaultMode,
		MaxChargeAmps: cfg.Control.MaxChargeAmps,
	}, cfg.Charger.MinAmps, cfg.Charger.MaxAmps, logger)
	if err != nil {
		logger.Fatal("settings store", zap.Error(err))
	}

	appCtx, cancelApp := context.WithCancel(context.Background())
	defer cancelApp()

	// ev meter http poller
	var poller *evmeter.Poller
	if cfg.EVMeter.URL != "" {
		poller = evmeter.NewPoller(cfg.EVMeter.URL, time.Duration(cfg.EVMeter.PollIntervalMillis)*time.Millisecond,
			evMeterTimeout, store, logger)
		if err := poller.Start(appCtx); err != nil {
			logger.Fatal("ev meter poller", zap.Error(err))
		}
	}

	providers, err := actorProviders(appCtx, cfg, store, settings, sink, logger)
	if err != nil {
		logger.Fatal("actor setup failed", zap.Error(err))
	}

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	ctx := as.Root

	onFatal := func(err error) {
		logger.Fatal("charge control stopped", zap.Error(err))
	}

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewMasterOfPuppetsActor(*cfg, providers, onFatal, logger)
	})
	pid, err := ctx.SpawnNamed(props, domain.ACTOR_ID_MASTER)
	if err != nil {
		return
	}

	server := server.NewServer(*cfg, ctx, pid, registry)
	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	// Run graceful shutdown in a separate goroutine
	go gracefulShutdown(server, done)

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		panic(fmt.Sprintf("http server error: %s", err))
	}

	// Wait for the graceful shutdown to complete
	<-done
	log.Println("Graceful shutdown complete.")

	if poller != nil {
		poller.Stop(appCtx)
	}
	ctx.Stop(pid)
	as.Shutdown()
}

func initConfig() (*config.Config, error) {

	// alias PORT => TESLA2MQTT_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("TESLA2MQTT_PORT", port)
	}

	setConfigDefaults()

	viper.SetEnvPrefix("tesla2mqtt")
	viper.AutomaticEnv()

	// if defined, try to load config from yaml file
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			viper.SetConfigFile(cfgFile)

			err = viper.ReadInConfig()
			if err != nil {
				slog.Error("Error reading config file", "error", err)
			}
		}
	}

	var cfg config.Config

	err := viper.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	// parse log level
	switch viper.GetString("log_level") {
	case "trace":
		cfg.LogLevel = zap.DebugLevel
	case "debug":
		cfg.LogLevel = zap.DebugLevel
	case "info":
		cfg.LogLevel = zap.InfoLevel
	case "error":
		cfg.LogLevel = zap.ErrorLevel
	case "warn":
		cfg.LogLevel = zap.WarnLevel
	case "fatal":
		cfg.LogLevel = zap.FatalLevel
	default:
		cfg.LogLevel = zap.InfoLevel
	}

	// check and fix base topic
	baseTopic, err := config.CheckMQTTTopic(cfg.MQTT.BaseTopic)
	if err != nil {
		return nil, errors.New("invalid base topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.BaseTopic = baseTopic

	// check and fix homeassistant discovery topic
	hadBaseTopic, err := config.CheckMQTTTopic(cfg.MQTT.HADiscoveryTopic)
	if err != nil {
		return nil, errors.New("invalid homeassistant discovery topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.HADiscoveryTopic = hadBaseTopic

	if _, err := domain.ParseMode(cfg.Control.Mode); err != nil {
		return nil, fmt.Errorf("config param control.mode: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func actorProviders(ctx context.Context, cfg *config.Config, store *telemetry.Store, settings *service.SettingsStore,
	sink metrics.Sink, logger *zap.Logger) (actor.Providers, error) {

	api := vehicle.NewClient(ctx, vehicle.Config{
		BaseURL:      cfg.Vehicle.APIBaseURL,
		TokenURL:     cfg.Vehicle.TokenURL,
		ClientID:     cfg.Vehicle.ClientID,
		RefreshToken: cfg.Vehicle.RefreshToken,
		Timeout:      cfg.Vehicle.RequestTimeout(),
	}, logger)
	actuator := service.NewActuatorGateway(api, cfg.Control.LowAmpsThreshold,
		cfg.Control.LowAmpsRepeat(), cfg.Control.Settle(), logger)

	providers := actor.Providers{
		MQTT: func(eventStream *eventstream.EventStream) *adactor.MQTTActor {
			return adactor.NewMQTTActor(cfg, eventStream, store, logger)
		},
		Vehicle: func() *adactor.VehicleActor {
			return adactor.NewVehicleActor(api, actuator, cfg.Vehicle.RequestTimeout(), logger)
		},
		ChargeControl: func(vehicleActor *pactor.PID, eventStream *eventstream.EventStream) *actor.ChargeControlActor {
			return actor.NewChargeControlActor(cfg, vehicleActor, store, settings, eventStream, logger,
				actor.WithMetrics(sink))
		},
	}

	if cfg.Grid.Source == config.GRID_SOURCE_MODBUS {
		gridMeter, err := gridMeterActorProvider(cfg, store, sink, logger)
		if err != nil {
			return providers, err
		}
		providers.GridMeter = gridMeter
	}

	return providers, nil
}

func gridMeterActorProvider(cfg *config.Config, store *telemetry.Store, sink metrics.Sink, logger *zap.Logger) (actor.GridMeterActorProvider, error) {

	instrument := &sunspec_modbus.ModbusInstrument{
		RecordTime: sink.ObserveModbusCall,
	}
	acMeter, err := sunspec_modbus.CreateACMeterIntSFModbusReader(cfg.Grid.ModbusTcp.Host,
		cfg.Grid.ModbusTcp.Port, uint8(cfg.Grid.ModbusTcp.MeterId), 1*time.Second,
		cfg.Grid.ModbusTcp.IgnoreFronius, logger, instrument)

	if err != nil {
		return nil, err
	}

	pollInterval := time.Duration(cfg.Grid.ModbusTcp.PollIntervalMillis) * time.Millisecond
	return func() *adactor.GridMeterActor {
		return adactor.NewGridMeterActor(acMeter, store, pollInterval, logger)
	}, nil
}

func setConfigDefaults() {
	viper.SetDefault("log_level", "warn")
	viper.SetDefault("port", 8080)
	viper.SetDefault("http_log", false)
	viper.SetDefault("settings_file", "")

	viper.SetDefault("mqtt.host", "localhost")
	viper.SetDefault("mqtt.port", 1883)
	viper.SetDefault("mqtt.ha_discovery_enable", false)
	viper.SetDefault("mqtt.base_topic", "tesla2mqtt")
	viper.SetDefault("mqtt.ha_discovery_topic", "homeassistant")
	viper.SetDefault("mqtt.grid_topic", "dsmr/json")
	viper.SetDefault("mqtt.ev_topic", "")

	viper.SetDefault("grid.source", config.GRID_SOURCE_MQTT)
	viper.SetDefault("grid.max_current", 25)
	viper.SetDefault("grid.baseload", 2)
	viper.SetDefault("grid.stale_after_minutes", 10)
	viper.SetDefault("grid.modbus_tcp.port", 502)
	viper.SetDefault("grid.modbus_tcp.meter_id", 200)
	viper.SetDefault("grid.modbus_tcp.ignore_fronius", false)
	viper.SetDefault("grid.modbus_tcp.poll_interval_millis", 5000)

	viper.SetDefault("ev_meter.url", "")
	viper.SetDefault("ev_meter.poll_interval_millis", 5000)
	viper.SetDefault("ev_meter.stale_after_hours", 24)

	viper.SetDefault("charger.min_amps", 6)
	viper.SetDefault("charger.max_amps", 24)
	viper.SetDefault("charger.safe_amps", 6)
	viper.SetDefault("charger.geofence_radius_km", 0.5)

	viper.SetDefault("vehicle.api_base_url", "https://owner-api.teslamotors.com")
	viper.SetDefault("vehicle.token_url", "https://auth.tesla.com/oauth2/v3/token")
	viper.SetDefault("vehicle.client_id", "ownerapi")
	viper.SetDefault("vehicle.index", 0)
	viper.SetDefault("vehicle.request_timeout_millis", 30000)
	viper.SetDefault("vehicle.sleep_allowance_minutes", 15)

	viper.SetDefault("control.mode", "grid_capacity")
	viper.SetDefault("control.max_charge_amps", 16)
	viper.SetDefault("control.pv_window_start_hour", 10)
	viper.SetDefault("control.pv_window_end_hour", 17)
	viper.SetDefault("control.idle_tick_millis", 2000)
	viper.SetDefault("control.poll_tick_millis", 10000)
	viper.SetDefault("control.settle_millis", 15000)
	viper.SetDefault("control.low_amps_repeat_millis", 5000)
	viper.SetDefault("control.low_amps_threshold", 5)
	viper.SetDefault("control.debounce_ticks", 3)
	viper.SetDefault("control.retry_backoff_millis", 30000)
	viper.SetDefault("control.max_failures", 60)
}

func safePrintConfig(cfg config.Config) {
	cfg.MQTT.Username = "*redacted*"
	cfg.MQTT.Password = "*redacted*"
	cfg.Vehicle.RefreshToken = "*redacted*"
	slog.Info("Using", "config", cfg)
}
