package steps

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/Maughan-Lab/fabrial-sub000/internal/engine"
	"github.com/Maughan-Lab/fabrial-sub000/internal/instrument"
	"github.com/Maughan-Lab/fabrial-sub000/pkg/schema"
)

const TypeSetTemperature = "set_temperature"

const defaultTolerance = 1.0

type setTemperaturePayload struct {
	Name          string  `json:"name,omitempty"`
	Instrument    string  `json:"instrument"`
	Target        float64 `json:"target"`
	Tolerance     float64 `json:"tolerance,omitempty"`
	StableSeconds float64 `json:"stable_seconds,omitempty"`
	PollSeconds   float64 `json:"poll_seconds,omitempty"`
}

// SetTemperature claims an instrument, sends it a setpoint, and returns once
// the reading has stayed within tolerance for the requested stable time.
// A disconnected instrument error-pauses the step until it comes back.
type SetTemperature struct {
	p     setTemperaturePayload
	retry engine.RetryPolicy

	mu        sync.Mutex
	last      float64
	haveLast  bool
	stableFor time.Duration
	reconnect int
}

func newSetTemperature(payload json.RawMessage) (engine.Step, error) {
	var p setTemperaturePayload
	if err := decodePayload(TypeSetTemperature, payload, &p, true); err != nil {
		return nil, err
	}
	if p.Instrument == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "set_temperature: instrument is required")
	}
	if p.Tolerance < 0 || p.StableSeconds < 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "set_temperature: tolerance and stable_seconds must not be negative")
	}
	return &SetTemperature{p: p, retry: engine.DefaultRetryPolicy}, nil
}

func (s *SetTemperature) Name() string {
	if s.p.Name != "" {
		return s.p.Name
	}
	return fmt.Sprintf("Set %s to %s", s.p.Instrument, formatFloat(s.p.Target))
}

func (s *SetTemperature) DirectoryName() string { return directoryName(s.Name()) }
func (s *SetTemperature) Type() string          { return TypeSetTemperature }

func (s *SetTemperature) Payload() (json.RawMessage, error) { return encodePayload(s.p) }

func (s *SetTemperature) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last, s.haveLast, s.stableFor, s.reconnect = 0, false, 0, 0
}

func (s *SetTemperature) Metadata() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	md := map[string]string{
		"instrument":     s.p.Instrument,
		"target":         formatFloat(s.p.Target),
		"tolerance":      formatFloat(s.tolerance()),
		"stable_seconds": formatFloat(s.stableFor.Seconds()),
		"reconnects":     fmt.Sprint(s.reconnect),
	}
	if s.haveLast {
		md["final_reading"] = formatFloat(s.last)
	}
	return md
}

func (s *SetTemperature) tolerance() float64 {
	if s.p.Tolerance == 0 {
		return defaultTolerance
	}
	return s.p.Tolerance
}

func (s *SetTemperature) Run(h engine.Handle, _ string) error {
	inst, err := h.Env().Instrument(s.p.Instrument)
	if err != nil {
		return err
	}
	release, err := instrument.Acquire(inst)
	if err != nil {
		if errors.Is(err, instrument.ErrClaimed) {
			return schema.NewErrorf(schema.ErrCodeConflict, "instrument %q is in use", s.p.Instrument).WithCause(err)
		}
		return schema.NewErrorf(schema.ErrCodeInstrument, "acquire %q", s.p.Instrument).WithCause(err)
	}
	defer release()

	if err := s.applySetpoint(h, inst); err != nil {
		return err
	}

	poll := pollOr(s.p.PollSeconds)
	need := seconds(s.p.StableSeconds)
	for {
		v, reconnected, ok := readOrErrorPause(h, s.p.Instrument, inst, poll)
		if !ok {
			return nil
		}
		if reconnected {
			s.mu.Lock()
			s.reconnect++
			s.stableFor = 0
			s.mu.Unlock()
			if err := s.applySetpoint(h, inst); err != nil {
				return err
			}
			continue
		}

		s.mu.Lock()
		s.last, s.haveLast = v, true
		if math.Abs(v-s.p.Target) > s.tolerance() {
			s.stableFor = 0
		}
		done := math.Abs(v-s.p.Target) <= s.tolerance() && s.stableFor >= need
		s.mu.Unlock()
		if done {
			h.Logger().Info("setpoint reached", "instrument", s.p.Instrument, "reading", v)
			return nil
		}

		if !h.Wait(poll) {
			return nil
		}
		s.mu.Lock()
		if math.Abs(v-s.p.Target) <= s.tolerance() {
			s.stableFor += poll
		}
		s.mu.Unlock()
	}
}

func (s *SetTemperature) applySetpoint(h engine.Handle, inst instrument.Instrument) error {
	return engine.Retry(h, s.retry, func() error {
		if !inst.SetTarget(s.p.Target) {
			return schema.NewErrorf(schema.ErrCodeInstrument, "instrument %q rejected setpoint %s",
				s.p.Instrument, formatFloat(s.p.Target))
		}
		return nil
	})
}
