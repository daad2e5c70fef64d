package telemetry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/berfenger/tesla2mqtt/internal/core/domain"
)

var ErrStaleTelemetry = errors.New("stale telemetry")

type StaleTelemetryError struct {
	Source domain.MeterSource
	Age    time.Duration
	Limit  time.Duration
}

func (e *StaleTelemetryError) Error() string {
	return fmt.Sprintf("%s meter not updated for %s (limit %s)", e.Source, e.Age.Truncate(time.Second), e.Limit)
}

func (e *StaleTelemetryError) Unwrap() error {
	return ErrStaleTelemetry
}

var checkOrder = []domain.MeterSource{domain.MeterSourceGrid, domain.MeterSourceEVHTTP, domain.MeterSourceEVMQTT}

// Store keeps the latest known values per meter. Feed handlers write to it
// concurrently with the controller reads.
type Store struct {
	mu      sync.RWMutex
	now     func() time.Time
	started time.Time
	samples map[domain.MeterSource]domain.TelemetrySample
}

func NewStore(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		now:     now,
		started: now(),
		samples: make(map[domain.MeterSource]domain.TelemetrySample),
	}
}

// Update merges the present fields of reading into the sample of source.
// Nothing is stamped when the reading carries no field.
func (s *Store) Update(source domain.MeterSource, reading domain.MeterReading) bool {
	if reading.Empty() {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sample := s.samples[source]
	merge(&sample.CurrentL1, reading.CurrentL1)
	merge(&sample.CurrentL2, reading.CurrentL2)
	merge(&sample.CurrentL3, reading.CurrentL3)
	merge(&sample.VoltageL1, reading.VoltageL1)
	merge(&sample.VoltageL2, reading.VoltageL2)
	merge(&sample.VoltageL3, reading.VoltageL3)
	merge(&sample.PowerDelivered, reading.PowerDelivered)
	merge(&sample.PowerReturned, reading.PowerReturned)
	sample.LastUpdated = s.now()
	s.samples[source] = sample
	return true
}

func (s *Store) Read(source domain.MeterSource) domain.TelemetrySample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.samples[source]
}

// CheckStaleness verifies every source in limits. A source never updated is
// measured from the creation of the store.
func (s *Store) CheckStaleness(now time.Time, limits map[domain.MeterSource]time.Duration) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, source := range checkOrder {
		limit, ok := limits[source]
		if !ok {
			continue
		}
		ref := s.samples[source].LastUpdated
		if ref.IsZero() {
			ref = s.started
		}
		if age := now.Sub(ref); age > limit {
			return &StaleTelemetryError{Source: source, Age: age, Limit: limit}
		}
	}
	return nil
}

func merge(dst *float64, value *float64) {
	if value != nil {
		*dst = *value
	}
}
