package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/berfenger/tesla2mqtt/internal/core/domain"
	"github.com/berfenger/tesla2mqtt/internal/core/service"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T, healthy bool) (*Server, *service.SettingsStore) {
	settings, err := service.NewSettingsStore("", domain.Settings{
		Mode:          domain.ModeGridCapacity,
		MaxChargeAmps: 16,
	}, 6, 24, zap.NewNop())
	require.NoError(t, err)

	system := actor.NewActorSystem()
	t.Cleanup(system.Shutdown)

	master := system.Root.Spawn(actor.PropsFromFunc(func(ctx actor.Context) {
		switch msg := ctx.Message().(type) {
		case domain.ActorHealthRequest:
			ctx.Respond(domain.ActorHealthResponse{Id: domain.ACTOR_ID_MASTER, Healthy: healthy})
		case domain.GetControllerStatusRequest:
			state := domain.NewControllerState(6)
			state.SessionActive = true
			state.LastCommandedAmps = 13
			ctx.Respond(domain.GetControllerStatusResponse{
				Phase:    "running",
				State:    state,
				Settings: settings.Get(),
				Vehicle:  &domain.VehicleHandle{Id: "42"},
			})
		case domain.SetModeRequest:
			s, err := settings.SetMode(msg.Mode)
			ctx.Respond(domain.SettingsResponse{ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: err}, Settings: s})
		case domain.SetMaxChargeAmpsRequest:
			s, err := settings.SetMaxChargeAmps(msg.Amps)
			ctx.Respond(domain.SettingsResponse{ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: err}, Settings: s})
		}
	}))

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "test_total", Help: "test"}))

	return &Server{
		rootContext: system.Root,
		masterActor: master,
		gatherer:    registry,
	}, settings
}

func serve(s *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.RegisterRoutes().ServeHTTP(rec, req)
	return rec
}

func TestHealthCheck(t *testing.T) {
	s, _ := newTestServer(t, true)
	rec := serve(s, http.MethodGet, "/healthcheck", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "health_check: OK", rec.Body.String())

	s, _ = newTestServer(t, false)
	rec = serve(s, http.MethodGet, "/healthcheck", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGetSettings(t *testing.T) {
	s, _ := newTestServer(t, true)
	rec := serve(s, http.MethodGet, "/api/settings", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var dto settingsDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dto))
	assert.Equal(t, settingsDTO{Mode: "grid_capacity", MaxChargeAmps: 16}, dto)
}

func TestPutSettings(t *testing.T) {

	tests := []struct {
		name     string
		body     string
		code     int
		expected domain.Settings
	}{
		{"mode only", `{"mode":"pv_surplus"}`, http.StatusOK, domain.Settings{Mode: domain.ModePvSurplus, MaxChargeAmps: 16}},
		{"amps only", `{"max_charge_amps":20}`, http.StatusOK, domain.Settings{Mode: domain.ModeGridCapacity, MaxChargeAmps: 20}},
		{"both", `{"mode":"pv","max_charge_amps":8}`, http.StatusOK, domain.Settings{Mode: domain.ModePvSurplus, MaxChargeAmps: 8}},
		{"amps out of range", `{"max_charge_amps":40}`, http.StatusBadRequest, domain.Settings{Mode: domain.ModeGridCapacity, MaxChargeAmps: 16}},
		{"unknown mode", `{"mode":"turbo"}`, http.StatusBadRequest, domain.Settings{Mode: domain.ModeGridCapacity, MaxChargeAmps: 16}},
		{"empty body", `{}`, http.StatusBadRequest, domain.Settings{Mode: domain.ModeGridCapacity, MaxChargeAmps: 16}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, settings := newTestServer(t, true)
			rec := serve(s, http.MethodPut, "/api/settings", tt.body)
			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, tt.expected, settings.Get())
		})
	}
}

func TestStatus(t *testing.T) {
	s, _ := newTestServer(t, true)
	rec := serve(s, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var dto statusDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dto))
	assert.Equal(t, "running", dto.Phase)
	assert.True(t, dto.SessionActive)
	assert.Equal(t, 13, dto.LastCommandedAmps)
	assert.Equal(t, "42", dto.VehicleId)
	assert.Nil(t, dto.LastPollTime)
}

func TestMetrics(t *testing.T) {
	s, _ := newTestServer(t, true)
	rec := serve(s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_total")
}
