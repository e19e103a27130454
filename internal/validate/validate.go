// Package validate applies a pluggable per-record validation backend to the
// record stream, buffering accepted records for bulk loading and writing one
// audit outcome per rejected row. Validation is strictly sequential and in
// source order, so reported line numbers match the original file.
package validate

import (
	"context"
	"fmt"

	"opto-import/internal/audit"
	"opto-import/internal/logging"
	"opto-import/internal/schema"
)

// DefaultErrorBudget is the number of field errors tolerated before the
// whole import is treated as fatal.
const DefaultErrorBudget = 100

// NoValue marks a failing field for which the source carried no value at
// all, as opposed to an empty or malformed one.
const NoValue = "no value received"

// FieldFailure is one field-level rejection from a validation backend.
type FieldFailure struct {
	Field    string
	Message  string
	Expected string
	Received string
}

// RecordValidator is the pluggable validation backend. A nil normalized
// record means rejection; failures must then be non-empty.
type RecordValidator interface {
	Validate(rec *schema.Record) (*schema.Record, []FieldFailure)
}

// BudgetExceededError aborts a run whose error count passed the budget.
// Mostly-broken batches are rejected wholesale, never partially committed.
type BudgetExceededError struct {
	Budget int
	Count  int
	Line   int
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("error budget exceeded at line %d: %d field errors, budget %d", e.Line, e.Count, e.Budget)
}

// RecordIterator is the record stream produced by the loader.
type RecordIterator interface {
	Next(ctx context.Context) (*schema.Record, error)
}

// Validator drives one validation pass.
type Validator struct {
	backend  RecordValidator
	budget   int
	recorder audit.Recorder
	run      *audit.Run
}

// New builds a Validator. A budget of 0 means DefaultErrorBudget.
func New(backend RecordValidator, budget int, recorder audit.Recorder, run *audit.Run) *Validator {
	if budget <= 0 {
		budget = DefaultErrorBudget
	}
	return &Validator{backend: backend, budget: budget, recorder: recorder, run: run}
}

// Run consumes the record stream, appending accepted records to out. It
// returns the number of accepted records. Once the field-error count passes
// the budget the remainder of the stream is abandoned and a
// *BudgetExceededError is returned.
func (v *Validator) Run(ctx context.Context, records RecordIterator, out *Stream) (int, error) {
	accepted := 0
	errorCount := 0
	for {
		rec, err := records.Next(ctx)
		if err != nil {
			return accepted, err
		}
		if rec == nil {
			logging.Logf(logging.Info, "Validation done: %d accepted, %d field errors", accepted, errorCount)
			return accepted, nil
		}

		normalized, failures := v.backend.Validate(rec)
		if normalized != nil {
			out.Append(normalized)
			accepted++
			continue
		}

		if err := v.recordFailures(ctx, rec, failures); err != nil {
			return accepted, err
		}
		errorCount += len(failures)
		if errorCount > v.budget {
			return accepted, &BudgetExceededError{Budget: v.budget, Count: errorCount, Line: rec.Line}
		}
	}
}

func (v *Validator) recordFailures(ctx context.Context, rec *schema.Record, failures []FieldFailure) error {
	if len(failures) == 0 {
		failures = []FieldFailure{{Field: "record", Message: "rejected by validation backend"}}
	}
	if v.recorder == nil || v.run == nil {
		return nil
	}
	outcome, err := v.recorder.RecordRow(ctx, v.run, audit.RowError, rec.Line, "validation failed")
	if err != nil {
		return err
	}
	for _, f := range failures {
		received := f.Received
		if received == "" {
			if raw, ok := rec.Get(f.Field); ok {
				received = raw
			} else {
				received = NoValue
			}
		}
		if err := v.recorder.RecordFieldError(ctx, outcome, f.Field, f.Message, f.Expected, received); err != nil {
			return err
		}
	}
	return nil
}
