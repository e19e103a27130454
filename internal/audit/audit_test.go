package audit

import (
	"context"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestMemoryRecorderTrail(t *testing.T) {
	ctx := context.Background()
	rec := NewMemoryRecorder()

	run, err := rec.StartRun(ctx, "daily", "imports", "supplier_a")
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	if run.Finalized() {
		t.Fatalf("fresh run reported finalized")
	}

	o1, err := rec.RecordRow(ctx, run, RowCreate, 1, "facture 001")
	if err != nil {
		t.Fatalf("RecordRow failed: %v", err)
	}
	o2, _ := rec.RecordRow(ctx, run, RowError, 2, "facture 002")
	rec.RecordRow(ctx, run, RowUpdate, 3, "facture 003")

	if err := rec.RecordFieldError(ctx, o2, "price", "not a number", "numeric", "abc"); err != nil {
		t.Fatalf("RecordFieldError failed: %v", err)
	}

	if run.CreatedRows != 1 || run.UpdatedRows != 1 || run.ErrorRows != 1 || run.UnknownRows != 0 {
		t.Errorf("counters = created %d updated %d error %d unknown %d",
			run.CreatedRows, run.UpdatedRows, run.ErrorRows, run.UnknownRows)
	}

	rows := rec.RowsFor(run.ID)
	if len(rows) != 3 {
		t.Fatalf("RowsFor returned %d rows, want 3", len(rows))
	}
	// Audit order must match record order.
	if rows[0].Line != 1 || rows[1].Line != 2 || rows[2].Line != 3 {
		t.Errorf("row order = %d,%d,%d want 1,2,3", rows[0].Line, rows[1].Line, rows[2].Line)
	}
	for _, row := range rows {
		if row.RunID != run.ID {
			t.Errorf("row %s does not reference run %s", row.ID, run.ID)
		}
	}

	ferrs := rec.FieldErrorsFor(o2.ID)
	if len(ferrs) != 1 {
		t.Fatalf("FieldErrorsFor returned %d errors, want 1", len(ferrs))
	}
	if ferrs[0].OutcomeID != o2.ID {
		t.Errorf("field error does not reference outcome %s", o2.ID)
	}
	if len(rec.FieldErrorsFor(o1.ID)) != 0 {
		t.Errorf("field errors leaked onto outcome %s", o1.ID)
	}
	if rec.FieldErrorCount(run.ID) != 1 {
		t.Errorf("FieldErrorCount = %d, want 1", rec.FieldErrorCount(run.ID))
	}
}

func TestFinalizeRunExactlyOnce(t *testing.T) {
	ctx := context.Background()
	rec := NewMemoryRecorder()
	run, _ := rec.StartRun(ctx, "once", "imports", "flow")

	if err := rec.FinalizeRun(ctx, run, true, "budget exceeded"); err != nil {
		t.Fatalf("first FinalizeRun failed: %v", err)
	}
	if !run.Finalized() || !run.Errors || run.Comment != "budget exceeded" {
		t.Errorf("run not finalized as requested: %+v", run)
	}
	if run.FinalizedAt.Before(run.CreatedAt) {
		t.Errorf("FinalizedAt %v before CreatedAt %v", run.FinalizedAt, run.CreatedAt)
	}

	if err := rec.FinalizeRun(ctx, run, false, "again"); err == nil {
		t.Fatalf("second FinalizeRun succeeded, want error")
	}
	// First finalization is untouched by the rejected second call.
	if !run.Errors || run.Comment != "budget exceeded" {
		t.Errorf("run mutated after finalization: %+v", run)
	}
}

// fakeExecer captures statements for the Postgres recorder tests.
type fakeExecer struct {
	statements []string
	args       [][]any
}

func (f *fakeExecer) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.statements = append(f.statements, sql)
	f.args = append(f.args, args)
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func TestPostgresRecorderStatements(t *testing.T) {
	ctx := context.Background()
	db := &fakeExecer{}
	rec := NewPostgresRecorder(db)

	run, err := rec.StartRun(ctx, "daily", "imports", "supplier_a")
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	outcome, err := rec.RecordRow(ctx, run, RowError, 7, "ligne 7")
	if err != nil {
		t.Fatalf("RecordRow failed: %v", err)
	}
	if err := rec.RecordFieldError(ctx, outcome, "qty", "missing", "integer", ""); err != nil {
		t.Fatalf("RecordFieldError failed: %v", err)
	}
	if err := rec.FinalizeRun(ctx, run, true, "one bad row"); err != nil {
		t.Fatalf("FinalizeRun failed: %v", err)
	}

	if len(db.statements) != 4 {
		t.Fatalf("executed %d statements, want 4", len(db.statements))
	}
	wantTables := []string{"import_run", "import_row", "import_field_error", "import_run"}
	for i, table := range wantTables {
		if !strings.Contains(db.statements[i], table) {
			t.Errorf("statement %d does not target %s: %s", i, table, db.statements[i])
		}
	}
	if run.ErrorRows != 1 {
		t.Errorf("ErrorRows = %d, want 1", run.ErrorRows)
	}
	// Finalize update carries the error flag.
	finalArgs := db.args[3]
	if flag, ok := finalArgs[3].(bool); !ok || !flag {
		t.Errorf("finalize args error flag = %v, want true", finalArgs[3])
	}
}
