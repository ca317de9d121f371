package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Maughan-Lab/fabrial-sub000/internal/engine"
	"github.com/Maughan-Lab/fabrial-sub000/internal/instrument"
	"github.com/Maughan-Lab/fabrial-sub000/internal/metrics"
	"github.com/Maughan-Lab/fabrial-sub000/internal/steps"
	"github.com/Maughan-Lab/fabrial-sub000/internal/store"
	"github.com/Maughan-Lab/fabrial-sub000/internal/streaming"
	"github.com/Maughan-Lab/fabrial-sub000/internal/tree"
	"github.com/Maughan-Lab/fabrial-sub000/internal/validation"
	"github.com/Maughan-Lab/fabrial-sub000/pkg/schema"
)

// Simulated oven defaults used when no instrument is configured.
const (
	defaultInstrument = "oven"
	defaultAmbient    = 25.0
	defaultRate       = 0.5
)

// app owns everything a sequence run needs and allows one run at a time.
type app struct {
	cfg         Config
	logger      *slog.Logger
	registry    *steps.Registry
	codec       *tree.Codec
	store       store.Store
	hub         *streaming.MemoryHub
	metrics     *metrics.Metrics
	instruments map[string]instrument.Instrument

	// base is the parent context of runs launched with Start.
	base context.Context
	wg   sync.WaitGroup

	mu     sync.Mutex
	active *engine.SequenceRunner
}

type appOptions struct {
	// withStore opens the run history database.
	withStore bool
	// simulate adds a simulated oven when no instruments are configured.
	simulate bool
}

func newApp(ctx context.Context, cfg Config, logger *slog.Logger, opts appOptions) (*app, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	registry, err := steps.NewDefaultRegistry()
	if err != nil {
		return nil, fmt.Errorf("build step registry: %w", err)
	}
	validator, err := validation.NewDocumentValidator(registry)
	if err != nil {
		return nil, fmt.Errorf("build validator: %w", err)
	}

	a := &app{
		cfg:         cfg,
		logger:      logger,
		registry:    registry,
		codec:       tree.NewCodec(registry, validator),
		hub:         streaming.NewMemoryHub(),
		metrics:     metrics.New(),
		instruments: buildInstruments(cfg.Instruments, opts.simulate),
		base:        ctx,
	}

	if opts.withStore && cfg.DBPath != "" {
		if err := ensureDBDir(cfg.DBPath); err != nil {
			return nil, err
		}
		st, err := store.NewLibSQLStore(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			st.Close()
			return nil, err
		}
		a.store = st
	}
	return a, nil
}

func buildInstruments(cfgs map[string]InstrumentConfig, simulate bool) map[string]instrument.Instrument {
	out := make(map[string]instrument.Instrument, len(cfgs))
	for name, ic := range cfgs {
		out[name] = instrument.NewSimulated(ic.Ambient, ic.Rate)
	}
	if simulate && len(out) == 0 {
		out[defaultInstrument] = instrument.NewSimulated(defaultAmbient, defaultRate)
	}
	return out
}

// ensureDBDir creates the parent directory of a file: database path.
func ensureDBDir(dbPath string) error {
	path, ok := strings.CutPrefix(dbPath, "file:")
	if !ok || path == "" || strings.Contains(path, ":memory:") {
		return nil
	}
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return os.MkdirAll(filepath.Dir(path), 0o755)
}

// Close waits for launched runs and closes the store.
func (a *app) Close() error {
	a.wg.Wait()
	if a.store != nil {
		return a.store.Close()
	}
	return nil
}

// load reads and validates a sequence file.
func (a *app) load(file string) (*tree.Node, error) {
	return a.codec.Load(file)
}

// newRunner wires sinks, metadata and instruments for one run of root.
func (a *app) newRunner(file string, root *tree.Node, runID string) *engine.SequenceRunner {
	stem := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
	baseDir := filepath.Join(a.cfg.DataDir, time.Now().Format("2006-01-02 150405")+" "+stem)

	sinks := engine.Sinks{a.hub}
	var md engine.MetadataWriter = store.FileMetadataWriter{}
	if a.store != nil {
		sinks = append(sinks, store.NewRecorder(a.store, file, a.logger))
		md = &store.StoreMetadataWriter{Next: md, Store: a.store, RunID: runID, BaseDir: baseDir}
	}

	return engine.NewSequenceRunner(root, engine.RunnerConfig{
		BaseDir:       baseDir,
		PollInterval:  a.cfg.pollInterval(),
		MaxIOFailures: a.cfg.MaxIOFailures,
		Metadata:      md,
		Events:        sinks,
		Observer:      a.metrics,
		Logger:        a.logger,
		Env:           &engine.Env{Instruments: a.instruments},
		RunID:         runID,
	})
}

// prepare loads file and claims the run slot.
func (a *app) prepare(file string) (*engine.SequenceRunner, error) {
	root, err := a.load(file)
	if err != nil {
		return nil, err
	}
	runner := a.newRunner(file, root, uuid.NewString())

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active != nil {
		return nil, schema.NewErrorf(schema.ErrCodeConflict, "run %s is still in progress", a.active.RunID())
	}
	a.active = runner
	return runner, nil
}

func (a *app) release(runner *engine.SequenceRunner) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active == runner {
		a.active = nil
	}
}

func (a *app) execute(ctx context.Context, file string, runner *engine.SequenceRunner) (schema.Status, error) {
	defer a.release(runner)
	a.logger.Info("running sequence", slog.String("file", file), slog.String("run_id", runner.RunID()))
	final, err := runner.Run(ctx)
	if err != nil {
		a.logger.Error("sequence ended with error", slog.String("run_id", runner.RunID()), slog.String("error", err.Error()))
	}
	return final, err
}

// RunSequence runs file to completion.
func (a *app) RunSequence(ctx context.Context, file string) (schema.Status, error) {
	runner, err := a.prepare(file)
	if err != nil {
		return schema.StatusInactive, err
	}
	return a.execute(ctx, file, runner)
}

// Start runs file in the background under the app's base context.
func (a *app) Start(file string) (string, error) {
	runner, err := a.prepare(file)
	if err != nil {
		return "", err
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		_, _ = a.execute(a.base, file, runner)
	}()
	return runner.RunID(), nil
}

// Current returns the run in progress.
func (a *app) Current() (*engine.SequenceRunner, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active, a.active != nil
}

// finalError turns a non-completed final status into a command error.
func finalError(final schema.Status, err error) error {
	if err != nil {
		return err
	}
	switch final {
	case schema.StatusCompleted:
		return nil
	case schema.StatusCanceled:
		return errCanceled
	default:
		return fmt.Errorf("sequence ended %s", final)
	}
}

var errCanceled = errors.New("sequence canceled")
