package pgload

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// ConflictKeyError reports a conflict-target problem: no declared key, a key
// with no backing unique constraint, or a key covering every column.
type ConflictKeyError struct {
	Table  string
	Reason string
	Err    error
}

func (e *ConflictKeyError) Error() string {
	return fmt.Sprintf("conflict key unusable on %s: %s", e.Table, e.Reason)
}

func (e *ConflictKeyError) Unwrap() error { return e.Err }

// ColumnTypeError reports a staged value that cannot be coerced to its
// target column type.
type ColumnTypeError struct {
	Err error
}

func (e *ColumnTypeError) Error() string {
	return fmt.Sprintf("value cannot be coerced to target column type: %v", e.Err)
}

func (e *ColumnTypeError) Unwrap() error { return e.Err }

// UniqueViolationError reports a duplicate key outside the declared
// conflict path.
type UniqueViolationError struct {
	Constraint string
	Err        error
}

func (e *UniqueViolationError) Error() string {
	return fmt.Sprintf("unique constraint %q violated: %v", e.Constraint, e.Err)
}

func (e *UniqueViolationError) Unwrap() error { return e.Err }

// StatementError is the catch-all for any other database failure.
type StatementError struct {
	Err error
}

func (e *StatementError) Error() string {
	return fmt.Sprintf("database statement failed: %v", e.Err)
}

func (e *StatementError) Unwrap() error { return e.Err }

// translate folds low-level Postgres errors into the load error taxonomy.
func translate(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return &StatementError{Err: err}
	}
	switch pgErr.Code {
	case "42P10", "42830":
		// invalid_column_reference / invalid_foreign_key: the ON CONFLICT
		// target does not match a unique constraint.
		return &ConflictKeyError{Table: pgErr.TableName, Reason: pgErr.Message, Err: err}
	case "22P02", "22007", "22008", "22003", "42804":
		return &ColumnTypeError{Err: err}
	case "23505":
		return &UniqueViolationError{Constraint: pgErr.ConstraintName, Err: err}
	default:
		return &StatementError{Err: err}
	}
}
