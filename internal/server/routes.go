package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/berfenger/tesla2mqtt/internal/core/domain"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const actorRequestTimeout = 10 * time.Second

type settingsDTO struct {
	Mode          string `json:"mode"`
	MaxChargeAmps int    `json:"max_charge_amps"`
}

type settingsPatchDTO struct {
	Mode          *string `json:"mode"`
	MaxChargeAmps *int    `json:"max_charge_amps"`
}

type statusDTO struct {
	Phase               string      `json:"phase"`
	SessionActive       bool        `json:"session_active"`
	LastCommandedAmps   int         `json:"last_commanded_amps"`
	DebounceCount       int         `json:"debounce_count"`
	LastShiftState      string      `json:"last_shift_state"`
	ConsecutiveFailures int         `json:"consecutive_failures"`
	VehicleId           string      `json:"vehicle_id,omitempty"`
	Settings            settingsDTO `json:"settings"`
	Error               string      `json:"error,omitempty"`
	LastPollTime        *time.Time  `json:"last_poll_time,omitempty"`
}

type errorDTO struct {
	Error string `json:"error"`
}

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	e.HideBanner = true
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)
	e.GET("/api/settings", s.GetSettingsHandler)
	e.PUT("/api/settings", s.PutSettingsHandler)
	e.GET("/api/status", s.StatusHandler)
	if s.gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	return e
}

func (s *Server) HealthCheckHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.ActorHealthRequest{}, actorRequestTimeout).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
	}
	if response, ok := res.(domain.ActorHealthResponse); ok && response.Healthy {
		return c.String(http.StatusOK, "health_check: OK")
	}
	return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
}

func (s *Server) GetSettingsHandler(c echo.Context) error {
	status, err := s.status()
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, errorDTO{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, toSettingsDTO(status.Settings))
}

// PutSettingsHandler applies the fields present in the body, mode first.
func (s *Server) PutSettingsHandler(c echo.Context) error {
	var patch settingsPatchDTO
	if err := c.Bind(&patch); err != nil {
		return c.JSON(http.StatusBadRequest, errorDTO{Error: "invalid body"})
	}
	if patch.Mode == nil && patch.MaxChargeAmps == nil {
		return c.JSON(http.StatusBadRequest, errorDTO{Error: "nothing to update"})
	}

	var requests []domain.ChargeControlRequest
	if patch.Mode != nil {
		mode, err := domain.ParseMode(*patch.Mode)
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorDTO{Error: err.Error()})
		}
		requests = append(requests, domain.SetModeRequest{Mode: mode})
	}
	if patch.MaxChargeAmps != nil {
		requests = append(requests, domain.SetMaxChargeAmpsRequest{Amps: *patch.MaxChargeAmps})
	}

	var settings domain.Settings
	for _, req := range requests {
		res, err := s.rootContext.RequestFuture(s.masterActor, req, actorRequestTimeout).Result()
		if err != nil {
			return c.JSON(http.StatusServiceUnavailable, errorDTO{Error: err.Error()})
		}
		resp, ok := res.(domain.SettingsResponse)
		if !ok {
			return c.JSON(http.StatusInternalServerError, errorDTO{Error: "unexpected response"})
		}
		if resp.HasResponseError() {
			return c.JSON(http.StatusBadRequest, errorDTO{Error: resp.GetResponseError().Error()})
		}
		settings = resp.Settings
	}
	return c.JSON(http.StatusOK, toSettingsDTO(settings))
}

func (s *Server) StatusHandler(c echo.Context) error {
	status, err := s.status()
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, errorDTO{Error: err.Error()})
	}
	dto := statusDTO{
		Phase:               status.Phase,
		SessionActive:       status.State.SessionActive,
		LastCommandedAmps:   status.State.LastCommandedAmps,
		DebounceCount:       status.State.DebounceCount,
		LastShiftState:      status.State.LastShiftState.String(),
		ConsecutiveFailures: status.State.ConsecutiveFailures,
		Settings:            toSettingsDTO(status.Settings),
	}
	if status.Vehicle != nil {
		dto.VehicleId = status.Vehicle.Id
	}
	if status.HasResponseError() {
		dto.Error = status.GetResponseError().Error()
	}
	if !status.State.LastPollTime.IsZero() {
		t := status.State.LastPollTime
		dto.LastPollTime = &t
	}
	return c.JSON(http.StatusOK, dto)
}

func (s *Server) status() (*domain.GetControllerStatusResponse, error) {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.GetControllerStatusRequest{}, actorRequestTimeout).Result()
	if err != nil {
		return nil, err
	}
	status, ok := res.(domain.GetControllerStatusResponse)
	if !ok {
		return nil, errors.New("unexpected response")
	}
	return &status, nil
}

func toSettingsDTO(settings domain.Settings) settingsDTO {
	return settingsDTO{
		Mode:          settings.Mode.String(),
		MaxChargeAmps: settings.MaxChargeAmps,
	}
}
