package port

import (
	"context"

	"github.com/berfenger/tesla2mqtt/internal/core/domain"
)

// VehicleAPI is the remote vehicle session. Implementations must honor ctx
// cancellation on every call.
type VehicleAPI interface {
	ListVehicles(ctx context.Context) ([]domain.VehicleHandle, error)
	GetVehicleData(ctx context.Context, vehicleId string) (*domain.VehicleSnapshot, error)
	SetChargingAmps(ctx context.Context, vehicleId string, amps int) error
}
