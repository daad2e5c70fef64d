package vehicle

import (
	"context"
	"sync"

	"github.com/berfenger/tesla2mqtt/internal/core/domain"
	"github.com/berfenger/tesla2mqtt/internal/core/port"
)

// TestVehicleAPI is an in-memory vehicle session. Err, when set, is returned
// by every call.
type TestVehicleAPI struct {
	mu       sync.Mutex
	vehicles []domain.VehicleHandle
	snapshot *domain.VehicleSnapshot
	err      error
	commands []int
	lists    int
}

func NewTestVehicleAPI(vehicles []domain.VehicleHandle, snapshot *domain.VehicleSnapshot) *TestVehicleAPI {
	return &TestVehicleAPI{
		vehicles: vehicles,
		snapshot: snapshot,
	}
}

func (api *TestVehicleAPI) SetSnapshot(snapshot *domain.VehicleSnapshot) {
	api.mu.Lock()
	defer api.mu.Unlock()
	api.snapshot = snapshot
}

func (api *TestVehicleAPI) SetError(err error) {
	api.mu.Lock()
	defer api.mu.Unlock()
	api.err = err
}

// Commands returns the amperages sent so far.
func (api *TestVehicleAPI) Commands() []int {
	api.mu.Lock()
	defer api.mu.Unlock()
	return append([]int(nil), api.commands...)
}

// ListCalls returns how many times the vehicle list was requested.
func (api *TestVehicleAPI) ListCalls() int {
	api.mu.Lock()
	defer api.mu.Unlock()
	return api.lists
}

func (api *TestVehicleAPI) ListVehicles(_ context.Context) ([]domain.VehicleHandle, error) {
	api.mu.Lock()
	defer api.mu.Unlock()
	api.lists++
	if api.err != nil {
		return nil, api.err
	}
	return append([]domain.VehicleHandle(nil), api.vehicles...), nil
}

func (api *TestVehicleAPI) GetVehicleData(_ context.Context, _ string) (*domain.VehicleSnapshot, error) {
	api.mu.Lock()
	defer api.mu.Unlock()
	if api.err != nil {
		return nil, api.err
	}
	if api.snapshot == nil {
		return &domain.VehicleSnapshot{OnlineState: domain.OnlineStateAsleep}, nil
	}
	snapshot := *api.snapshot
	return &snapshot, nil
}

func (api *TestVehicleAPI) SetChargingAmps(_ context.Context, _ string, amps int) error {
	api.mu.Lock()
	defer api.mu.Unlock()
	if api.err != nil {
		return api.err
	}
	api.commands = append(api.commands, amps)
	return nil
}

var _ port.VehicleAPI = (*TestVehicleAPI)(nil)
