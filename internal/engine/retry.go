package engine

import (
	"context"
	"errors"
	"time"

	"github.com/Maughan-Lab/fabrial-sub000/pkg/schema"
)

// RetryPolicy bounds retries of an instrument command inside a step.
type RetryPolicy struct {
	Attempts int           `json:"attempts,omitempty"`
	Delay    time.Duration `json:"delay,omitempty"`
	MaxDelay time.Duration `json:"max_delay,omitempty"`
	// Backoff is one of "constant", "linear" or "exponential". Empty means constant.
	Backoff string `json:"backoff,omitempty"`
}

// DefaultRetryPolicy is used by built-in steps when a payload sets none.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, Delay: 250 * time.Millisecond, MaxDelay: 2 * time.Second, Backoff: "exponential"}

// IsRetryableError classifies whether an error should be retried.
// Cancellation, validation and framework errors are not retried; everything
// else is, and the policy limits the attempts.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var fe *schema.FabrialError
	if errors.As(err, &fe) {
		switch fe.Code {
		case schema.ErrCodeValidation, schema.ErrCodeCanceled, schema.ErrCodeFramework,
			schema.ErrCodeNotFound, schema.ErrCodeConflict, schema.ErrCodeExpression:
			return false
		}
	}
	return true
}

// ComputeBackoff calculates the delay before the next retry attempt.
func ComputeBackoff(policy RetryPolicy, attempt int) time.Duration {
	if policy.Delay <= 0 {
		return 0
	}

	var delay time.Duration
	switch policy.Backoff {
	case "exponential":
		delay = policy.Delay << min(attempt, 30)
	case "linear":
		delay = policy.Delay * time.Duration(attempt+1)
	default:
		delay = policy.Delay
	}

	if policy.MaxDelay > 0 && delay > policy.MaxDelay {
		delay = policy.MaxDelay
	}
	return delay
}

// Retry calls fn until it succeeds, returns a non-retryable error, or the
// policy runs out of attempts. Backoff waits go through h so the step stays
// pausable and cancelable; a cancel during the wait returns a CANCELED error.
func Retry(h Handle, policy RetryPolicy, fn func() error) error {
	attempts := max(policy.Attempts, 1)
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = fn(); err == nil || !IsRetryableError(err) {
			return err
		}
		if attempt == attempts-1 {
			break
		}
		h.Logger().Debug("retrying", "attempt", attempt+1, "error", err.Error())
		if !h.Wait(ComputeBackoff(policy, attempt)) {
			return schema.NewError(schema.ErrCodeCanceled, "canceled while retrying").WithCause(err)
		}
	}
	return err
}
