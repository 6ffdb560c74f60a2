// Package ledger keeps a durable history of archive runs in SQLite. Every
// run gets a row in runs; every per-tag decision made during the run (built,
// skipped, failed, removed, pruned) is appended to outcomes. The ledger is an
// audit trail only: the server registry remains the source of truth for
// what is servable.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

// Mode is the kind of archive run.
type Mode string

// Run modes.
const (
	ModeBuild  Mode = "build"
	ModeRemove Mode = "remove"
)

// Status is the terminal (or current) state of a run.
type Status string

// Run statuses.
const (
	StatusRunning  Status = "running"
	StatusDone     Status = "done"
	StatusFailed   Status = "failed"
	StatusCanceled Status = "canceled"
)

// Action is the decision taken for one genome/asset:tag during a run.
type Action string

// Outcome actions.
const (
	ActionBuilt      Action = "built"
	ActionExists     Action = "exists"
	ActionIncomplete Action = "incomplete"
	ActionFailed     Action = "failed"
	ActionMissing    Action = "missing"
	ActionRemoved    Action = "removed"
	ActionNotFound   Action = "not_found"
	ActionPruned     Action = "pruned"
)

// Outcome is one recorded per-entity decision.
type Outcome struct {
	Genome        string    `json:"genome"`
	Asset         string    `json:"asset"`
	Tag           string    `json:"tag"`
	Action        Action    `json:"action"`
	ArchiveDigest string    `json:"archive_digest,omitempty"`
	ArchiveSize   string    `json:"archive_size,omitempty"`
	Error         string    `json:"error,omitempty"`
	RecordedAt    time.Time `json:"recorded_at"`
}

// Run is one row of the runs table.
type Run struct {
	ID           string    `json:"id"`
	Mode         Mode      `json:"mode"`
	ServerConfig string    `json:"server_config"`
	Forced       bool      `json:"forced"`
	Status       Status    `json:"status"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	Error        string    `json:"error,omitempty"`
}

const (
	sqlInsertRun = `INSERT INTO runs (id, mode, server_config, forced, status, started_at)
		VALUES (?, ?, ?, ?, 'running', ?)`

	sqlFinishRun = `UPDATE runs SET status = ?, finished_at = ?, error_msg = ?
		WHERE id = ? AND status = 'running'`

	sqlInsertOutcome = `INSERT INTO outcomes
		(run_id, genome, asset, tag, action, archive_digest, archive_size, error_msg, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlRecentRuns = `SELECT id, mode, server_config, forced, status, started_at, finished_at, error_msg
		FROM runs ORDER BY started_at DESC, id LIMIT ?`

	sqlOutcomes = `SELECT genome, asset, tag, action, archive_digest, archive_size, error_msg, recorded_at
		FROM outcomes WHERE run_id = ? ORDER BY id`
)

// Ledger is the sole writer to the ledger database.
type Ledger struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time
}

// Open opens (creating if needed) the SQLite database at dbPath and runs
// migrations. WAL mode with synchronous=FULL keeps the history crash-safe.
func Open(dbPath string, logger *slog.Logger) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("ledger: creating directory for %s: %w", dbPath, err)
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger: opening database %s: %w", dbPath, err)
	}

	db.SetMaxOpenConns(1)

	version, err := migrate(context.Background(), db, dbPath, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("ledger opened", slog.String("db_path", dbPath), slog.Int64("schema_version", version))

	return &Ledger{db: db, logger: logger, nowFunc: time.Now}, nil
}

// Close releases the database connection.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// BeginRun inserts a running row and returns a recorder bound to it.
func (l *Ledger) BeginRun(ctx context.Context, mode Mode, serverConfig string, forced bool) (*RunRecorder, error) {
	id := uuid.NewString()

	if _, err := l.db.ExecContext(ctx, sqlInsertRun,
		id, string(mode), serverConfig, forced, l.nowFunc().UnixNano(),
	); err != nil {
		return nil, fmt.Errorf("ledger: inserting run: %w", err)
	}

	l.logger.Debug("ledger run started", slog.String("run_id", id), slog.String("mode", string(mode)))

	return &RunRecorder{ledger: l, id: id}, nil
}

// RecentRuns returns up to limit runs, newest first.
func (l *Ledger) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := l.db.QueryContext(ctx, sqlRecentRuns, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: querying runs: %w", err)
	}
	defer rows.Close()

	var runs []Run

	for rows.Next() {
		var (
			r        Run
			mode     string
			status   string
			started  int64
			finished sql.NullInt64
			errMsg   sql.NullString
		)

		if err := rows.Scan(&r.ID, &mode, &r.ServerConfig, &r.Forced, &status,
			&started, &finished, &errMsg); err != nil {
			return nil, fmt.Errorf("ledger: scanning run: %w", err)
		}

		r.Mode = Mode(mode)
		r.Status = Status(status)
		r.StartedAt = time.Unix(0, started)
		r.Error = errMsg.String

		if finished.Valid {
			r.FinishedAt = time.Unix(0, finished.Int64)
		}

		runs = append(runs, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterating runs: %w", err)
	}

	return runs, nil
}

// Outcomes returns the outcomes of one run in recording order.
func (l *Ledger) Outcomes(ctx context.Context, runID string) ([]Outcome, error) {
	rows, err := l.db.QueryContext(ctx, sqlOutcomes, runID)
	if err != nil {
		return nil, fmt.Errorf("ledger: querying outcomes: %w", err)
	}
	defer rows.Close()

	var out []Outcome

	for rows.Next() {
		var (
			o        Outcome
			action   string
			digest   sql.NullString
			size     sql.NullString
			errMsg   sql.NullString
			recorded int64
		)

		if err := rows.Scan(&o.Genome, &o.Asset, &o.Tag, &action, &digest, &size, &errMsg, &recorded); err != nil {
			return nil, fmt.Errorf("ledger: scanning outcome: %w", err)
		}

		o.Action = Action(action)
		o.ArchiveDigest = digest.String
		o.ArchiveSize = size.String
		o.Error = errMsg.String
		o.RecordedAt = time.Unix(0, recorded)
		out = append(out, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterating outcomes: %w", err)
	}

	return out, nil
}

// RunRecorder appends outcomes to a single run.
type RunRecorder struct {
	ledger *Ledger
	id     string
}

// ID returns the run identifier.
func (r *RunRecorder) ID() string {
	return r.id
}

// Record appends one outcome to the run.
func (r *RunRecorder) Record(ctx context.Context, o Outcome) error {
	if _, err := r.ledger.db.ExecContext(ctx, sqlInsertOutcome,
		r.id, o.Genome, o.Asset, o.Tag, string(o.Action),
		nullString(o.ArchiveDigest), nullString(o.ArchiveSize), nullString(o.Error),
		r.ledger.nowFunc().UnixNano(),
	); err != nil {
		return fmt.Errorf("ledger: recording %s for %s/%s:%s: %w", o.Action, o.Genome, o.Asset, o.Tag, err)
	}

	return nil
}

// Finish closes the run with a status derived from runErr: nil is done,
// a context cancellation is canceled, anything else is failed. Finishing
// twice is an error.
func (r *RunRecorder) Finish(ctx context.Context, runErr error) error {
	status := StatusDone
	errMsg := ""

	switch {
	case runErr == nil:
	case errors.Is(runErr, context.Canceled):
		status = StatusCanceled
		errMsg = runErr.Error()
	default:
		status = StatusFailed
		errMsg = runErr.Error()
	}

	res, err := r.ledger.db.ExecContext(ctx, sqlFinishRun,
		string(status), r.ledger.nowFunc().UnixNano(), nullString(errMsg), r.id)
	if err != nil {
		return fmt.Errorf("ledger: finishing run %s: %w", r.id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ledger: finishing run %s: %w", r.id, err)
	}

	if n == 0 {
		return fmt.Errorf("ledger: run %s is not running", r.id)
	}

	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
