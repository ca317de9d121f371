package steps

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/Maughan-Lab/fabrial-sub000/internal/engine"
	"github.com/Maughan-Lab/fabrial-sub000/internal/instrument"
	"github.com/Maughan-Lab/fabrial-sub000/pkg/schema"
)

// ErrNoPayload is returned by constructors of types that need a payload.
var ErrNoPayload = errors.New("step payload is required")

const defaultPoll = time.Second

// decodePayload strictly decodes payload into v. An empty payload leaves v
// untouched unless required is set.
func decodePayload(stepType string, payload json.RawMessage, v any, required bool) error {
	if len(bytes.TrimSpace(payload)) == 0 || string(bytes.TrimSpace(payload)) == "null" {
		if required {
			return schema.NewErrorf(schema.ErrCodeValidation, "%s: payload", stepType).WithCause(ErrNoPayload)
		}
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s: decode payload", stepType).WithCause(err)
	}
	return nil
}

func encodePayload(v any) (json.RawMessage, error) {
	return json.Marshal(v)
}

// directoryName turns a display name into a single path element.
func directoryName(name string) string {
	r := strings.NewReplacer("/", "-", `\`, "-", ":", "-", "\x00", "")
	out := strings.TrimSpace(r.Replace(name))
	if out == "" || out == "." || out == ".." {
		return "step"
	}
	return out
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func pollOr(s float64) time.Duration {
	if s <= 0 {
		return defaultPoll
	}
	return seconds(s)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// readOrErrorPause returns the next reading of inst. While the instrument is
// unavailable the process is error-paused and resumes on reconnect. ok is
// false if the process was canceled first.
func readOrErrorPause(h engine.Handle, name string, inst instrument.Instrument, poll time.Duration) (v float64, reconnected, ok bool) {
	for {
		if v, read := inst.ReadValue(); read {
			return v, reconnected, true
		}
		h.CommunicateError(schema.NewErrorf(schema.ErrCodeInstrument, "instrument %q is not responding", name))
		h.ErrorPause()
		if !h.WaitUnerror(poll, inst.IsConnected) {
			return 0, reconnected, false
		}
		reconnected = true
	}
}
