package service

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errPoll = errors.New("poll failed")

func TestRetryFatalAfterBudget(t *testing.T) {
	require := require.New(t)
	r := NewRetrySupervisor(60, time.Second)

	for i := 1; i <= 60; i++ {
		d := r.Observe(errPoll)
		require.NoError(d.Fatal, "failure %d", i)
		require.Equal(time.Second, d.Backoff)
		require.Equal(i, d.Failures)
	}

	d := r.Observe(errPoll)
	require.Error(d.Fatal)
	assert.ErrorIs(t, d.Fatal, ErrRetriesExhausted)
	assert.ErrorIs(t, d.Fatal, errPoll)
	assert.Equal(t, 61, d.Failures)
}

func TestRetrySuccessResetsCount(t *testing.T) {
	r := NewRetrySupervisor(2, time.Second)

	r.Observe(errPoll)
	r.Observe(errPoll)
	assert.Equal(t, 2, r.Failures())

	d := r.Observe(nil)
	assert.Zero(t, d.Backoff)
	assert.Zero(t, r.Failures())

	d = r.Observe(errPoll)
	assert.NoError(t, d.Fatal)
	assert.Equal(t, 1, d.Failures)
}
