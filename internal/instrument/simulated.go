package instrument

import (
	"math"
	"sync"
	"time"
)

// Simulated is an oven whose temperature relaxes exponentially toward its
// setpoint. It can be disconnected to exercise error-pause handling.
type Simulated struct {
	Lock

	mu        sync.Mutex
	value     float64
	target    float64
	rate      float64 // 1/s
	connected bool
	last      time.Time
	now       func() time.Time
}

// NewSimulated returns a connected oven at ambient with the given relaxation rate.
func NewSimulated(ambient, rate float64) *Simulated {
	s := &Simulated{
		value:     ambient,
		target:    ambient,
		rate:      rate,
		connected: true,
		now:       time.Now,
	}
	s.last = s.now()
	return s
}

// WithClock replaces the time source. Used by tests.
func (s *Simulated) WithClock(now func() time.Time) *Simulated {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	s.last = now()
	return s
}

func (s *Simulated) ReadValue() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return 0, false
	}
	s.advance()
	return s.value, true
}

func (s *Simulated) SetTarget(v float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return false
	}
	s.advance()
	s.target = v
	return true
}

func (s *Simulated) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// SetConnected simulates unplugging or replugging the controller.
func (s *Simulated) SetConnected(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()
	s.connected = connected
}

// Target returns the current setpoint.
func (s *Simulated) Target() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

func (s *Simulated) advance() {
	t := s.now()
	dt := t.Sub(s.last).Seconds()
	s.last = t
	if dt <= 0 {
		return
	}
	s.value = s.target + (s.value-s.target)*math.Exp(-s.rate*dt)
}

var _ Instrument = (*Simulated)(nil)
