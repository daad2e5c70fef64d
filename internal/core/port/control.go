package port

import (
	"time"

	"github.com/berfenger/tesla2mqtt/internal/core/domain"
)

type CurrentTargetStrategy interface {
	Mode() domain.Mode
	// Evaluate returns the overshoot and undershoot conditions and the
	// unclamped amperage the vehicle should move to.
	Evaluate(in domain.TargetInput) (overshoot bool, undershoot bool, newAmps int)
}

type TelemetryWriter interface {
	Update(source domain.MeterSource, reading domain.MeterReading) bool
}

type TelemetryReader interface {
	Read(source domain.MeterSource) domain.TelemetrySample
	CheckStaleness(now time.Time, limits map[domain.MeterSource]time.Duration) error
}

type SettingsRepository interface {
	Get() domain.Settings
	SetMode(mode domain.Mode) (domain.Settings, error)
	SetMaxChargeAmps(amps int) (domain.Settings, error)
}
