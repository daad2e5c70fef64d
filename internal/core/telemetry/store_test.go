package telemetry

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/berfenger/tesla2mqtt/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func f(v float64) *float64 {
	return &v
}

func TestUpdateMergesByPresence(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	store := NewStore(clock.Now)

	ok := store.Update(domain.MeterSourceGrid, domain.MeterReading{
		CurrentL1: f(10), CurrentL2: f(12), CurrentL3: f(8),
		VoltageL1: f(230), VoltageL2: f(231), VoltageL3: f(229),
	})
	require.True(t, ok)

	clock.Advance(5 * time.Second)
	store.Update(domain.MeterSourceGrid, domain.MeterReading{CurrentL2: f(20)})

	sample := store.Read(domain.MeterSourceGrid)
	assert.Equal(t, 10.0, sample.CurrentL1)
	assert.Equal(t, 20.0, sample.CurrentL2)
	assert.Equal(t, 8.0, sample.CurrentL3)
	assert.Equal(t, 20.0, sample.CurrentMax())
	assert.Equal(t, 690.0, sample.VoltageSum())
	assert.Equal(t, clock.Now(), sample.LastUpdated)
}

func TestEmptyReadingDoesNotStamp(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	store := NewStore(clock.Now)

	store.Update(domain.MeterSourceGrid, domain.MeterReading{CurrentL1: f(3)})
	stamped := store.Read(domain.MeterSourceGrid).LastUpdated

	clock.Advance(time.Minute)
	assert.False(t, store.Update(domain.MeterSourceGrid, domain.MeterReading{}))
	assert.Equal(t, stamped, store.Read(domain.MeterSourceGrid).LastUpdated)
}

func TestSourcesAreIndependent(t *testing.T) {
	store := NewStore(nil)
	store.Update(domain.MeterSourceEVMQTT, domain.MeterReading{CurrentL1: f(16)})

	assert.False(t, store.Read(domain.MeterSourceGrid).Updated())
	assert.Equal(t, 16.0, store.Read(domain.MeterSourceEVMQTT).CurrentMax())
}

func TestCheckStaleness(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	store := NewStore(clock.Now)
	limits := map[domain.MeterSource]time.Duration{
		domain.MeterSourceGrid:   10 * time.Minute,
		domain.MeterSourceEVMQTT: 24 * time.Hour,
	}

	// never updated sources count from store creation
	require.NoError(t, store.CheckStaleness(clock.Now().Add(9*time.Minute), limits))

	clock.Advance(8 * time.Minute)
	store.Update(domain.MeterSourceGrid, domain.MeterReading{CurrentL1: f(3)})
	require.NoError(t, store.CheckStaleness(clock.Now().Add(10*time.Minute), limits))

	err := store.CheckStaleness(clock.Now().Add(10*time.Minute+time.Second), limits)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStaleTelemetry))
	var staleErr *StaleTelemetryError
	require.True(t, errors.As(err, &staleErr))
	assert.Equal(t, domain.MeterSourceGrid, staleErr.Source)

	// sources not listed are ignored
	err = store.CheckStaleness(clock.Now().Add(48*time.Hour), map[domain.MeterSource]time.Duration{})
	assert.NoError(t, err)
}

func TestConcurrentUpdateAndRead(t *testing.T) {
	store := NewStore(nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				store.Update(domain.MeterSourceGrid, domain.MeterReading{CurrentL1: f(float64(i))})
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_ = store.Read(domain.MeterSourceGrid).CurrentMax()
			}
		}()
	}
	wg.Wait()
	assert.True(t, store.Read(domain.MeterSourceGrid).Updated())
}
