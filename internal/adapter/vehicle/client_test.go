package vehicle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/berfenger/tesla2mqtt/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const vehicleDataCharging = `{
  "response": {
    "state": "online",
    "charge_state": {
      "charging_state": "Charging",
      "charger_actual_current": 10,
      "charge_amps": 12,
      "charger_power": 7
    },
    "drive_state": {
      "latitude": 52.3782,
      "longitude": 4.9005,
      "shift_state": null
    }
  }
}`

func newTestClient(t *testing.T, handler http.Handler) *Client {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(context.Background(), Config{BaseURL: srv.URL, Timeout: time.Second}, zap.NewNop())
}

func TestListVehicles(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/1/vehicles", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":[{"id_s":"1492931337154","vin":"5YJ3E1EA","display_name":"Blue","state":"asleep"}],"count":1}`))
	})
	c := newTestClient(t, mux)

	vehicles, err := c.ListVehicles(context.Background())

	require.NoError(t, err)
	require.Len(t, vehicles, 1)
	assert.Equal(t, domain.VehicleHandle{
		Id:          "1492931337154",
		VIN:         "5YJ3E1EA",
		DisplayName: "Blue",
		State:       domain.OnlineStateAsleep,
	}, vehicles[0])
}

func TestGetVehicleData(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/1/vehicles/42/vehicle_data", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(vehicleDataCharging))
	})
	c := newTestClient(t, mux)

	snap, err := c.GetVehicleData(context.Background(), "42")

	require.NoError(t, err)
	assert.True(t, snap.IsCharging())
	assert.True(t, snap.IsOnline())
	assert.Equal(t, 10, snap.ChargerActualCurrent)
	assert.Equal(t, 12, snap.ChargeAmps)
	assert.Equal(t, domain.ShiftStateP, snap.ShiftState)
	assert.Equal(t, 52.3782, snap.Latitude)
}

func TestGetVehicleDataDriving(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/1/vehicles/42/vehicle_data", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":{"state":"online","charge_state":{"charging_state":"Disconnected"},"drive_state":{"shift_state":"D"}}}`))
	})
	c := newTestClient(t, mux)

	snap, err := c.GetVehicleData(context.Background(), "42")

	require.NoError(t, err)
	assert.False(t, snap.IsCharging())
	assert.Equal(t, domain.ShiftStateD, snap.ShiftState)
}

func TestGetVehicleDataAsleep(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/1/vehicles/42/vehicle_data", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusRequestTimeout)
		_, _ = w.Write([]byte(`{"response":null,"error":"vehicle unavailable"}`))
	})
	c := newTestClient(t, mux)

	snap, err := c.GetVehicleData(context.Background(), "42")

	require.NoError(t, err)
	assert.False(t, snap.IsOnline())
	assert.False(t, snap.IsCharging())
}

func TestGetVehicleDataServerError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/1/vehicles/42/vehicle_data", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream failure", http.StatusBadGateway)
	})
	c := newTestClient(t, mux)

	_, err := c.GetVehicleData(context.Background(), "42")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrVehicleAPI)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
}

func TestSetChargingAmps(t *testing.T) {
	var received atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/1/vehicles/42/command/set_charging_amps", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ChargingAmps int `json:"charging_amps"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		received.Store(int64(body.ChargingAmps))
		if body.ChargingAmps > 32 {
			_, _ = w.Write([]byte(`{"response":{"result":false,"reason":"out of range"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"response":{"result":true,"reason":""}}`))
	})
	c := newTestClient(t, mux)

	require.NoError(t, c.SetChargingAmps(context.Background(), "42", 13))
	assert.Equal(t, int64(13), received.Load())

	err := c.SetChargingAmps(context.Background(), "42", 40)
	assert.ErrorIs(t, err, ErrVehicleAPI)
}

func TestRefreshTokenAuthorizesRequests(t *testing.T) {
	var tokenCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /oauth2/v3/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "secret-refresh", r.PostForm.Get("refresh_token"))
		tokenCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"abc123","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("GET /api/1/vehicles", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer abc123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"response":[]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := NewClient(context.Background(), Config{
		BaseURL:      srv.URL,
		TokenURL:     srv.URL + "/oauth2/v3/token",
		ClientID:     "ownerapi",
		RefreshToken: "secret-refresh",
		Timeout:      time.Second,
	}, zap.NewNop())

	_, err := c.ListVehicles(context.Background())
	require.NoError(t, err)
	_, err = c.ListVehicles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), tokenCalls.Load())
}
