// Package audit records the three-level trail of an import attempt: one Run
// per attempt, one RowOutcome per processed row, zero or more FieldErrors per
// outcome. The trail is written throughout the pipeline and stays queryable
// whether the run succeeds or fails.
package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RowKind classifies the decision taken for one input row.
type RowKind string

const (
	RowCreate  RowKind = "create"
	RowUpdate  RowKind = "update"
	RowError   RowKind = "error"
	RowPassed  RowKind = "passed"
	RowUnknown RowKind = "unknown"
)

// Run identifies one import attempt. It is created before any row is
// processed and mutated exactly once more, at finalization.
type Run struct {
	ID          uuid.UUID
	Name        string
	Application string
	Flow        string
	CreatedAt   time.Time
	FinalizedAt time.Time
	Elapsed     time.Duration
	Errors      bool
	Comment     string

	CreatedRows int
	UpdatedRows int
	ErrorRows   int
	UnknownRows int

	finalized bool
}

// Finalized reports whether the run has been closed out.
func (r *Run) Finalized() bool {
	return r.finalized
}

// RowOutcome is the audit record for one processed input row.
type RowOutcome struct {
	ID          uuid.UUID
	RunID       uuid.UUID
	Kind        RowKind
	Line        int // 1-based input line number
	Designation string
	CreatedAt   time.Time
}

// FieldError is one field-level failure under a RowOutcome.
type FieldError struct {
	ID        uuid.UUID
	OutcomeID uuid.UUID
	Attribute string
	Message   string
	Expected  string
	Received  string
}

// Recorder persists the audit trail.
type Recorder interface {
	StartRun(ctx context.Context, name, application, flow string) (*Run, error)
	RecordRow(ctx context.Context, run *Run, kind RowKind, line int, designation string) (*RowOutcome, error)
	RecordFieldError(ctx context.Context, outcome *RowOutcome, attribute, message, expected, received string) error
	// FinalizeRun writes elapsed time, counters, the aggregate error flag and
	// the comment, exactly once. A second call is an error.
	FinalizeRun(ctx context.Context, run *Run, errors bool, comment string) error
}

// countRow bumps the run counter matching the row kind. Shared by recorders.
func countRow(run *Run, kind RowKind) {
	switch kind {
	case RowCreate:
		run.CreatedRows++
	case RowUpdate:
		run.UpdatedRows++
	case RowError:
		run.ErrorRows++
	default:
		run.UnknownRows++
	}
}

func finalize(run *Run, errors bool, comment string) error {
	if run.finalized {
		return fmt.Errorf("run %s already finalized", run.ID)
	}
	run.FinalizedAt = time.Now()
	run.Elapsed = run.FinalizedAt.Sub(run.CreatedAt)
	run.Errors = errors
	run.Comment = comment
	run.finalized = true
	return nil
}

// MemoryRecorder keeps the whole trail in process. It backs tests and dry
// runs that must not touch a database.
type MemoryRecorder struct {
	mu          sync.Mutex
	runs        []*Run
	outcomes    map[uuid.UUID][]*RowOutcome
	fieldErrors map[uuid.UUID][]*FieldError
}

// NewMemoryRecorder creates an empty in-memory recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{
		outcomes:    make(map[uuid.UUID][]*RowOutcome),
		fieldErrors: make(map[uuid.UUID][]*FieldError),
	}
}

func (m *MemoryRecorder) StartRun(_ context.Context, name, application, flow string) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run := &Run{
		ID:          uuid.New(),
		Name:        name,
		Application: application,
		Flow:        flow,
		CreatedAt:   time.Now(),
	}
	m.runs = append(m.runs, run)
	return run, nil
}

func (m *MemoryRecorder) RecordRow(_ context.Context, run *Run, kind RowKind, line int, designation string) (*RowOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	outcome := &RowOutcome{
		ID:          uuid.New(),
		RunID:       run.ID,
		Kind:        kind,
		Line:        line,
		Designation: designation,
		CreatedAt:   time.Now(),
	}
	m.outcomes[run.ID] = append(m.outcomes[run.ID], outcome)
	countRow(run, kind)
	return outcome, nil
}

func (m *MemoryRecorder) RecordFieldError(_ context.Context, outcome *RowOutcome, attribute, message, expected, received string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fieldErrors[outcome.ID] = append(m.fieldErrors[outcome.ID], &FieldError{
		ID:        uuid.New(),
		OutcomeID: outcome.ID,
		Attribute: attribute,
		Message:   message,
		Expected:  expected,
		Received:  received,
	})
	return nil
}

func (m *MemoryRecorder) FinalizeRun(_ context.Context, run *Run, errors bool, comment string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return finalize(run, errors, comment)
}

// Runs returns the recorded runs in creation order.
func (m *MemoryRecorder) Runs() []*Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Run(nil), m.runs...)
}

// RowsFor returns the outcomes recorded for a run, in record order.
func (m *MemoryRecorder) RowsFor(runID uuid.UUID) []*RowOutcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*RowOutcome(nil), m.outcomes[runID]...)
}

// FieldErrorsFor returns the field errors recorded under one outcome.
func (m *MemoryRecorder) FieldErrorsFor(outcomeID uuid.UUID) []*FieldError {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*FieldError(nil), m.fieldErrors[outcomeID]...)
}

// FieldErrorCount returns the total number of field errors across a run.
func (m *MemoryRecorder) FieldErrorCount(runID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, outcome := range m.outcomes[runID] {
		total += len(m.fieldErrors[outcome.ID])
	}
	return total
}
