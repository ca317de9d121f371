package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/Maughan-Lab/fabrial-sub000/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/fabrial.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "open libsql").WithCause(err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	if err := runMigrations(ctx, s.db); err != nil {
		return schema.NewError(schema.ErrCodeStore, "migrate").WithCause(err)
	}
	return nil
}

// --- Runs ---

func (s *LibSQLStore) CreateRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "run id is empty")
	}
	if run.Status == "" {
		run.Status = schema.StatusInactive
	}
	run.CreatedAt = timeOrNow(run.CreatedAt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, sequence_file, status, error, created_at, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, nullStr(run.SequenceFile), string(run.Status), nullStr(run.Error),
		run.CreatedAt, nullTime(run.StartedAt), nullTime(run.FinishedAt),
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE") {
		return schema.NewErrorf(schema.ErrCodeConflict, "run %q already exists", run.ID).WithCause(err)
	}
	return storeErr("create run", err)
}

// StartRun marks a run active. It is a no-op for runs that already started.
func (s *LibSQLStore) StartRun(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, started_at = COALESCE(started_at, ?) WHERE id = ?`,
		string(schema.StatusActive), timeOrNow(at), id,
	)
	if err != nil {
		return storeErr("start run", err)
	}
	return checkRowsAffected(res, "run", id)
}

func (s *LibSQLStore) FinishRun(ctx context.Context, id string, status schema.Status, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(status), nullStr(errMsg), time.Now().UTC(), id,
	)
	if err != nil {
		return storeErr("finish run", err)
	}
	return checkRowsAffected(res, "run", id)
}

const runColumns = `id, sequence_file, status, error, created_at, started_at, finished_at`

func (s *LibSQLStore) GetRun(ctx context.Context, id string) (*Run, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, storeNotFound("run", id)
	}
	if err != nil {
		return nil, storeErr("get run", err)
	}
	return run, nil
}

func (s *LibSQLStore) ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs`
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, *filter.Since)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list runs", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, storeErr("scan run", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *LibSQLStore) DeleteRun(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return storeErr("delete run", err)
	}
	return checkRowsAffected(res, "run", id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	run := &Run{}
	var (
		file, errMsg      sql.NullString
		status            string
		started, finished sql.NullTime
	)
	if err := row.Scan(&run.ID, &file, &status, &errMsg, &run.CreatedAt, &started, &finished); err != nil {
		return nil, err
	}
	run.SequenceFile = file.String
	run.Status = schema.Status(status)
	run.Error = errMsg.String
	if started.Valid {
		run.StartedAt = &started.Time
	}
	if finished.Valid {
		run.FinishedAt = &finished.Time
	}
	return run, nil
}

// --- Events ---

// AppendEvent appends an event with a monotonically increasing per-run
// sequence. The sequence read and the insert share one transaction; the
// single connection serializes writers.
func (s *LibSQLStore) AppendEvent(ctx context.Context, event *Event) error {
	if event.RunID == "" {
		return schema.NewError(schema.ErrCodeValidation, "event has no run id")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin append event", err)
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE run_id = ?`, event.RunID,
	).Scan(&seq); err != nil {
		return storeErr("next event sequence", err)
	}
	event.Sequence = seq
	event.Timestamp = timeOrNow(event.Timestamp)

	var options any
	if len(event.Options) > 0 {
		raw, err := json.Marshal(event.Options)
		if err != nil {
			return fmt.Errorf("marshal event options: %w", err)
		}
		options = string(raw)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO events (run_id, sequence, type, step, directory, status, message, options, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.RunID, event.Sequence, event.Type, nullStr(event.Step), nullStr(event.Directory),
		nullStr(string(event.Status)), nullStr(event.Message), options, event.Timestamp,
	)
	if err != nil {
		return storeErr("insert event", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		event.ID = id
	}
	return storeErr("commit event", tx.Commit())
}

// GetEvents returns a run's events with sequence greater than since, in order.
func (s *LibSQLStore) GetEvents(ctx context.Context, runID string, since int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, sequence, type, step, directory, status, message, options, timestamp
		 FROM events WHERE run_id = ? AND sequence > ? ORDER BY sequence`, runID, since,
	)
	if err != nil {
		return nil, storeErr("get events", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		ev := &Event{}
		var step, dir, status, msg, options sql.NullString
		if err := rows.Scan(&ev.ID, &ev.RunID, &ev.Sequence, &ev.Type, &step, &dir, &status, &msg, &options, &ev.Timestamp); err != nil {
			return nil, storeErr("scan event", err)
		}
		ev.Step, ev.Directory, ev.Message = step.String, dir.String, msg.String
		ev.Status = schema.Status(status.String)
		if options.Valid && options.String != "" {
			if err := json.Unmarshal([]byte(options.String), &ev.Options); err != nil {
				return nil, fmt.Errorf("unmarshal event options: %w", err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// --- Step records ---

func (s *LibSQLStore) WriteStepRecord(ctx context.Context, rec *StepRecord) error {
	md, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("marshal step metadata: %w", err)
	}
	rec.RecordedAt = timeOrNow(rec.RecordedAt)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO step_records (run_id, directory, step, status, metadata, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.Directory, rec.Step, string(rec.Status), string(md), rec.RecordedAt,
	)
	if err != nil {
		return storeErr("write step record", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		rec.ID = id
	}
	return nil
}

func (s *LibSQLStore) ListStepRecords(ctx context.Context, runID string) ([]*StepRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, directory, step, status, metadata, recorded_at
		 FROM step_records WHERE run_id = ? ORDER BY id`, runID,
	)
	if err != nil {
		return nil, storeErr("list step records", err)
	}
	defer rows.Close()

	var recs []*StepRecord
	for rows.Next() {
		rec := &StepRecord{}
		var status, md string
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.Directory, &rec.Step, &status, &md, &rec.RecordedAt); err != nil {
			return nil, storeErr("scan step record", err)
		}
		rec.Status = schema.Status(status)
		if err := json.Unmarshal([]byte(md), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal step metadata: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.FabrialError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

// storeErr wraps a driver error; nil stays nil.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return schema.NewError(schema.ErrCodeStore, op).WithCause(err)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var _ Store = (*LibSQLStore)(nil)
