// Package instrument defines the boundary between steps and laboratory
// hardware. Drivers for real controllers live outside this module; the
// simulated oven here backs tests and dry runs.
package instrument

import (
	"errors"
	"sync"

	"github.com/Maughan-Lab/fabrial-sub000/internal/databox"
)

// ErrClaimed is returned when an instrument is already held by another step.
var ErrClaimed = errors.New("instrument is claimed by another step")

// Instrument is a single controllable quantity (an oven, a stage, ...).
type Instrument interface {
	// ReadValue returns the current reading, or false if none is available.
	ReadValue() (float64, bool)
	// SetTarget requests a new setpoint and reports whether it was accepted.
	SetTarget(v float64) bool
	IsConnected() bool
	// Claim takes exclusive access. It reports false if already claimed.
	Claim() bool
	Release()
}

// Acquire claims inst and returns the matching release func. The release func
// is safe to call more than once, so callers defer it on every exit path.
func Acquire(inst Instrument) (release func(), err error) {
	if inst == nil {
		return nil, errors.New("instrument is nil")
	}
	if !inst.Claim() {
		return nil, ErrClaimed
	}
	var once sync.Once
	return func() { once.Do(inst.Release) }, nil
}

// Lock is an embeddable claim flag for Instrument implementations.
type Lock struct {
	claimed databox.Box[bool]
}

// Claim sets the flag if it was clear.
func (l *Lock) Claim() bool {
	won := false
	l.claimed.Update(func(held bool) bool {
		if !held {
			won = true
		}
		return true
	})
	return won
}

// Release clears the flag.
func (l *Lock) Release() {
	l.claimed.Set(false)
}

// Claimed reports whether the flag is set.
func (l *Lock) Claimed() bool {
	return l.claimed.Get()
}
