package steps

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/Maughan-Lab/fabrial-sub000/internal/engine"
	"github.com/Maughan-Lab/fabrial-sub000/pkg/schema"
)

const (
	TypeRecord = "record"

	defaultRecordFile = "readings.csv"
)

type recordPayload struct {
	Name            string  `json:"name,omitempty"`
	Instrument      string  `json:"instrument"`
	IntervalSeconds float64 `json:"interval_seconds,omitempty"`
	File            string  `json:"file,omitempty"`
}

// Record samples an instrument into a CSV file in the background until the
// sequence cancels it. Missing readings are skipped.
type Record struct {
	p recordPayload

	samples atomic.Int64
}

func newRecord(payload json.RawMessage) (engine.Step, error) {
	var p recordPayload
	if err := decodePayload(TypeRecord, payload, &p, true); err != nil {
		return nil, err
	}
	if p.Instrument == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "record: instrument is required")
	}
	if p.File != "" && filepath.Base(p.File) != p.File {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "record: file %q must be a plain file name", p.File)
	}
	return &Record{p: p}, nil
}

func (s *Record) Name() string {
	if s.p.Name != "" {
		return s.p.Name
	}
	return fmt.Sprintf("Record %s", s.p.Instrument)
}

func (s *Record) DirectoryName() string  { return directoryName(s.Name()) }
func (s *Record) Type() string           { return TypeRecord }
func (s *Record) RunsInBackground() bool { return true }
func (s *Record) Reset()                 { s.samples.Store(0) }

func (s *Record) Payload() (json.RawMessage, error) { return encodePayload(s.p) }

func (s *Record) Metadata() map[string]string {
	return map[string]string{
		"instrument": s.p.Instrument,
		"file":       s.file(),
		"samples":    fmt.Sprint(s.samples.Load()),
	}
}

func (s *Record) file() string {
	if s.p.File == "" {
		return defaultRecordFile
	}
	return s.p.File
}

func (s *Record) Run(h engine.Handle, dataDir string) error {
	inst, err := h.Env().Instrument(s.p.Instrument)
	if err != nil {
		return err
	}
	f, err := os.Create(filepath.Join(dataDir, s.file()))
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeResource, "create %s", s.file()).WithCause(err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"timestamp", "elapsed_s", "reading"}); err != nil {
		return schema.NewErrorf(schema.ErrCodeResource, "write %s", s.file()).WithCause(err)
	}

	interval := pollOr(s.p.IntervalSeconds)
	start := time.Now()
	for {
		if v, ok := inst.ReadValue(); ok {
			now := time.Now()
			row := []string{
				now.UTC().Format(time.RFC3339Nano),
				formatFloat(now.Sub(start).Seconds()),
				formatFloat(v),
			}
			if err := w.Write(row); err != nil {
				return schema.NewErrorf(schema.ErrCodeResource, "write %s", s.file()).WithCause(err)
			}
			w.Flush()
			if err := w.Error(); err != nil {
				return schema.NewErrorf(schema.ErrCodeResource, "flush %s", s.file()).WithCause(err)
			}
			s.samples.Add(1)
		}
		if !h.Wait(interval) {
			return nil
		}
	}
}
