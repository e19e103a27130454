package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"opto-import/internal/logging"
)

// Execer is the subset of a pgx connection the Postgres recorder needs.
// *pgxpool.Pool and *pgx.Conn both satisfy it.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresRecorder persists the trail to three relations:
// import_run, import_row and import_field_error.
type PostgresRecorder struct {
	db Execer
}

// NewPostgresRecorder creates a recorder writing through the given connection.
func NewPostgresRecorder(db Execer) *PostgresRecorder {
	return &PostgresRecorder{db: db}
}

func (p *PostgresRecorder) StartRun(ctx context.Context, name, application, flow string) (*Run, error) {
	run := &Run{
		ID:          uuid.New(),
		Name:        name,
		Application: application,
		Flow:        flow,
		CreatedAt:   time.Now(),
	}
	const stmt = `INSERT INTO import_run (id, name, application, flow, created_at, errors)
	              VALUES ($1, $2, $3, $4, $5, false)`
	if _, err := p.db.Exec(ctx, stmt, run.ID, run.Name, run.Application, run.Flow, run.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to insert import run '%s': %w", name, err)
	}
	logging.Logf(logging.Debug, "Started import run %s (%s/%s/%s)", run.ID, application, flow, name)
	return run, nil
}

func (p *PostgresRecorder) RecordRow(ctx context.Context, run *Run, kind RowKind, line int, designation string) (*RowOutcome, error) {
	outcome := &RowOutcome{
		ID:          uuid.New(),
		RunID:       run.ID,
		Kind:        kind,
		Line:        line,
		Designation: designation,
		CreatedAt:   time.Now(),
	}
	const stmt = `INSERT INTO import_row (id, run_id, kind, line, designation, created_at)
	              VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := p.db.Exec(ctx, stmt, outcome.ID, outcome.RunID, string(kind), line, designation, outcome.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to insert row outcome for line %d: %w", line, err)
	}
	countRow(run, kind)
	return outcome, nil
}

func (p *PostgresRecorder) RecordFieldError(ctx context.Context, outcome *RowOutcome, attribute, message, expected, received string) error {
	const stmt = `INSERT INTO import_field_error (id, row_id, attribute, message, data_expected, data_received)
	              VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := p.db.Exec(ctx, stmt, uuid.New(), outcome.ID, attribute, message, expected, received); err != nil {
		return fmt.Errorf("failed to insert field error for attribute '%s': %w", attribute, err)
	}
	return nil
}

func (p *PostgresRecorder) FinalizeRun(ctx context.Context, run *Run, errors bool, comment string) error {
	if err := finalize(run, errors, comment); err != nil {
		return err
	}
	const stmt = `UPDATE import_run
	              SET finalized_at = $2, elapsed_ms = $3, errors = $4, comment = $5,
	                  created_rows = $6, updated_rows = $7, error_rows = $8, unknown_rows = $9
	              WHERE id = $1`
	if _, err := p.db.Exec(ctx, stmt, run.ID, run.FinalizedAt, run.Elapsed.Milliseconds(), run.Errors, run.Comment,
		run.CreatedRows, run.UpdatedRows, run.ErrorRows, run.UnknownRows); err != nil {
		return fmt.Errorf("failed to finalize import run %s: %w", run.ID, err)
	}
	logging.Logf(logging.Info, "Finalized import run %s: created=%d updated=%d errors=%d unknown=%d elapsed=%s",
		run.ID, run.CreatedRows, run.UpdatedRows, run.ErrorRows, run.UnknownRows, run.Elapsed)
	return nil
}
