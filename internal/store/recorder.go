package store

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Maughan-Lab/fabrial-sub000/internal/engine"
	"github.com/Maughan-Lab/fabrial-sub000/pkg/schema"
)

// Recorder is an engine.EventSink that writes every event to a Store and
// keeps the run row's status in step with the sequence lifecycle.
type Recorder struct {
	store        Store
	sequenceFile string
	logger       *slog.Logger

	mu    sync.Mutex
	known map[string]bool
}

// NewRecorder returns a recorder labelling new runs with sequenceFile.
func NewRecorder(s Store, sequenceFile string, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Recorder{store: s, sequenceFile: sequenceFile, logger: logger, known: make(map[string]bool)}
}

// Publish persists ev. Writes outlive the run context so that the final
// events of a canceled run are still recorded.
func (r *Recorder) Publish(ctx context.Context, ev schema.Event) error {
	ctx = context.WithoutCancel(ctx)
	if err := r.ensureRun(ctx, ev); err != nil {
		return err
	}

	switch ev.Type {
	case schema.EventSequenceStarted:
		if err := r.store.StartRun(ctx, ev.RunID, ev.Timestamp); err != nil {
			return err
		}
	case schema.EventSequenceFinished:
		if err := r.store.FinishRun(ctx, ev.RunID, ev.Status, ev.Message); err != nil {
			return err
		}
	}
	return r.store.AppendEvent(ctx, FromSchema(ev))
}

// ensureRun creates the run row the first time a run ID is seen.
func (r *Recorder) ensureRun(ctx context.Context, ev schema.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.known[ev.RunID] {
		return nil
	}
	if _, err := r.store.GetRun(ctx, ev.RunID); err != nil {
		if !schema.HasCode(err, schema.ErrCodeNotFound) {
			return err
		}
		run := &Run{ID: ev.RunID, SequenceFile: r.sequenceFile, Status: schema.StatusInactive, CreatedAt: ev.Timestamp}
		if err := r.store.CreateRun(ctx, run); err != nil {
			return err
		}
		r.logger.Debug("run recorded", slog.String("run_id", ev.RunID))
	}
	r.known[ev.RunID] = true
	return nil
}

var _ engine.EventSink = (*Recorder)(nil)
