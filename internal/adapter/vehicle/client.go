package vehicle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/berfenger/tesla2mqtt/internal/core/domain"
	"github.com/berfenger/tesla2mqtt/internal/core/port"

	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/oauth2"
)

var ErrVehicleAPI = errors.New("vehicle api error")

type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

func (e *APIError) Unwrap() error {
	return ErrVehicleAPI
}

type Config struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	RefreshToken string
	Timeout      time.Duration
}

// Client talks to the vehicle owner API. Requests are authorized with an
// OAuth2 access token refreshed on demand from the configured refresh token.
type Client struct {
	client  *http.Client
	baseURL string
	logger  *zap.Logger
}

func newHTTPClient(timeout time.Duration) *http.Client {
	// Should never fail
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	return &http.Client{
		Jar:     jar,
		Timeout: timeout,
	}
}

func NewClient(ctx context.Context, cfg Config, logger *zap.Logger) *Client {
	httpClient := newHTTPClient(cfg.Timeout)
	if cfg.RefreshToken != "" {
		oauthConfig := &oauth2.Config{
			ClientID: cfg.ClientID,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
			Scopes: []string{"openid", "email", "offline_access"},
		}
		tokenCtx := context.WithValue(ctx, oauth2.HTTPClient, newHTTPClient(cfg.Timeout))
		httpClient = oauth2.NewClient(tokenCtx, oauthConfig.TokenSource(tokenCtx, &oauth2.Token{RefreshToken: cfg.RefreshToken}))
		httpClient.Timeout = cfg.Timeout
	} else {
		logger.Warn("vehicle api: no refresh token configured, requests are sent unauthenticated")
	}
	return &Client{
		client:  httpClient,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		logger:  logger,
	}
}

type envelope[T any] struct {
	Response T      `json:"response"`
	Error    string `json:"error,omitempty"`
}

func callAPI[T any](ctx context.Context, c *Client, method, path string, payload any) (*T, int, error) {
	var body io.Reader
	if payload != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(payload); err != nil {
			return nil, 0, err
		}
		body = &buf
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %s %s: %w", ErrVehicleAPI, method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	c.logger.Debug("vehicle api call", zap.String("method", method), zap.String("path", path),
		zap.Int("status", resp.StatusCode), zap.ByteString("body", respBody))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resp.StatusCode, &APIError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(respBody)),
		}
	}

	var result envelope[T]
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: decoding %s: %w", ErrVehicleAPI, path, err)
	}
	if result.Error != "" {
		return nil, resp.StatusCode, fmt.Errorf("%w: %s", ErrVehicleAPI, result.Error)
	}
	return &result.Response, resp.StatusCode, nil
}

type vehicleResponse struct {
	IdS         string `json:"id_s"`
	VIN         string `json:"vin"`
	DisplayName string `json:"display_name"`
	State       string `json:"state"`
}

func (c *Client) ListVehicles(ctx context.Context) ([]domain.VehicleHandle, error) {
	vehicles, _, err := callAPI[[]vehicleResponse](ctx, c, http.MethodGet, "/api/1/vehicles", nil)
	if err != nil {
		return nil, err
	}
	handles := make([]domain.VehicleHandle, 0, len(*vehicles))
	for _, v := range *vehicles {
		handles = append(handles, domain.VehicleHandle{
			Id:          v.IdS,
			VIN:         v.VIN,
			DisplayName: v.DisplayName,
			State:       domain.ParseOnlineState(v.State),
		})
	}
	return handles, nil
}

type vehicleDataResponse struct {
	State       string `json:"state"`
	ChargeState struct {
		ChargingState        string  `json:"charging_state"`
		ChargerActualCurrent int     `json:"charger_actual_current"`
		ChargeAmps           int     `json:"charge_amps"`
		ChargerPower         float64 `json:"charger_power"`
	} `json:"charge_state"`
	DriveState struct {
		Latitude   float64 `json:"latitude"`
		Longitude  float64 `json:"longitude"`
		ShiftState *string `json:"shift_state"`
	} `json:"drive_state"`
}

// GetVehicleData returns an offline snapshot with no error when the vehicle is
// asleep or unreachable (HTTP 408).
func (c *Client) GetVehicleData(ctx context.Context, vehicleId string) (*domain.VehicleSnapshot, error) {
	path := fmt.Sprintf("/api/1/vehicles/%s/vehicle_data", vehicleId)
	data, status, err := callAPI[vehicleDataResponse](ctx, c, http.MethodGet, path, nil)
	if status == http.StatusRequestTimeout {
		return &domain.VehicleSnapshot{
			ChargingState: domain.ChargingStateUnknown,
			ShiftState:    domain.ShiftStateUnknown,
			OnlineState:   domain.OnlineStateAsleep,
		}, nil
	}
	if err != nil {
		return nil, err
	}

	// a parked vehicle reports no shift state
	shift := domain.ShiftStateP
	if data.DriveState.ShiftState != nil && *data.DriveState.ShiftState != "" {
		shift = domain.ParseShiftState(*data.DriveState.ShiftState)
	}
	online := domain.OnlineStateOnline
	if data.State != "" {
		online = domain.ParseOnlineState(data.State)
	}

	return &domain.VehicleSnapshot{
		ChargingState:        domain.ParseChargingState(data.ChargeState.ChargingState),
		ChargerActualCurrent: data.ChargeState.ChargerActualCurrent,
		ChargeAmps:           data.ChargeState.ChargeAmps,
		ChargerPower:         data.ChargeState.ChargerPower,
		Latitude:             data.DriveState.Latitude,
		Longitude:            data.DriveState.Longitude,
		ShiftState:           shift,
		OnlineState:          online,
	}, nil
}

type commandResponse struct {
	Result bool   `json:"result"`
	Reason string `json:"reason"`
}

func (c *Client) SetChargingAmps(ctx context.Context, vehicleId string, amps int) error {
	path := fmt.Sprintf("/api/1/vehicles/%s/command/set_charging_amps", vehicleId)
	payload := struct {
		ChargingAmps int `json:"charging_amps"`
	}{
		ChargingAmps: amps,
	}
	result, _, err := callAPI[commandResponse](ctx, c, http.MethodPost, path, &payload)
	if err != nil {
		return err
	}
	if !result.Result {
		return fmt.Errorf("%w: set_charging_amps %d rejected: %s", ErrVehicleAPI, amps, result.Reason)
	}
	return nil
}

// ensure interface compliance
var _ port.VehicleAPI = (*Client)(nil)
