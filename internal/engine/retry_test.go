package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Maughan-Lab/fabrial-sub000/pkg/schema"
)

func TestRetry_StopsOnSuccess(t *testing.T) {
	cfg, _, _ := testConfig(t)
	r := NewProcessRunner(cfg)
	p := r.NewProcess(newStep("a", nil))
	p.start(t.TempDir())

	calls := 0
	err := Retry(p, RetryPolicy{Attempts: 5, Delay: time.Millisecond}, func() error {
		calls++
		if calls < 3 {
			return errors.New("busy")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_NonRetryable(t *testing.T) {
	cfg, _, _ := testConfig(t)
	r := NewProcessRunner(cfg)
	p := r.NewProcess(newStep("a", nil))
	p.start(t.TempDir())

	calls := 0
	err := Retry(p, RetryPolicy{Attempts: 5, Delay: time.Millisecond}, func() error {
		calls++
		return schema.NewError(schema.ErrCodeValidation, "bad setpoint")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_CanceledDuringBackoff(t *testing.T) {
	cfg, _, _ := testConfig(t)
	r := NewProcessRunner(cfg)
	p := r.NewProcess(newStep("a", nil))
	p.start(t.TempDir())
	p.Cancel()

	err := Retry(p, RetryPolicy{Attempts: 3, Delay: time.Second}, func() error { return errors.New("busy") })
	assert.True(t, schema.HasCode(err, schema.ErrCodeCanceled))
}

func TestComputeBackoff(t *testing.T) {
	exp := RetryPolicy{Delay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond, Backoff: "exponential"}
	assert.Equal(t, 10*time.Millisecond, ComputeBackoff(exp, 0))
	assert.Equal(t, 20*time.Millisecond, ComputeBackoff(exp, 1))
	assert.Equal(t, 40*time.Millisecond, ComputeBackoff(exp, 2))
	assert.Equal(t, 50*time.Millisecond, ComputeBackoff(exp, 3))

	lin := RetryPolicy{Delay: 10 * time.Millisecond, Backoff: "linear"}
	assert.Equal(t, 30*time.Millisecond, ComputeBackoff(lin, 2))

	assert.Equal(t, 10*time.Millisecond, ComputeBackoff(RetryPolicy{Delay: 10 * time.Millisecond}, 7))
	assert.Zero(t, ComputeBackoff(RetryPolicy{}, 3))
}

func TestIsRetryableError(t *testing.T) {
	assert.False(t, IsRetryableError(nil))
	assert.False(t, IsRetryableError(context.Canceled))
	assert.True(t, IsRetryableError(context.DeadlineExceeded))
	assert.True(t, IsRetryableError(errors.New("serial timeout")))
	assert.True(t, IsRetryableError(schema.NewError(schema.ErrCodeInstrument, "no reply")))
	assert.False(t, IsRetryableError(schema.NewError(schema.ErrCodeValidation, "bad")))
	assert.False(t, IsRetryableError(schema.NewError(schema.ErrCodeFramework, "bug")))
}
