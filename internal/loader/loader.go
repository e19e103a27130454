// Package loader turns a canonical row stream or a parsed invoice-line
// sequence into records keyed by target field name, per the declared target
// schema. Column resolution failures are reported before the first record;
// per-row problems are written to the audit trail as they happen.
package loader

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"opto-import/internal/audit"
	"opto-import/internal/logging"
	"opto-import/internal/normalize"
	"opto-import/internal/schema"
	"opto-import/internal/util"
)

// Options tunes row filtering and field injection.
type Options struct {
	// FirstDataLine is the 1-based line of the first data row. Zero means
	// line 2 when a header is needed for name resolution, line 1 otherwise.
	FirstDataLine int
	// Strict keeps blank rows in the stream instead of skipping them.
	Strict bool
	// ExcludeRows skips any row whose cell at the given source column index
	// contains the given substring, case-insensitively.
	ExcludeRows map[int]string
	// AddFields injects extra fields, evaluated once per row.
	AddFields map[string]schema.FieldSource
}

// ResolveError reports target fields that could not be matched against the
// source header. It is raised before any record is yielded.
type ResolveError struct {
	Missing []string
	Header  []string
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("columns %v not found in source header %v", e.Missing, e.Header)
}

// RowShapeError reports a data row with fewer cells than the highest
// referenced source column.
type RowShapeError struct {
	Line int
	Row  []string
	Want int
}

func (e *RowShapeError) Error() string {
	return fmt.Sprintf("line %d: row has %d columns, need at least %d", e.Line, len(e.Row), e.Want)
}

// Loader resolves source columns to target fields for one run.
type Loader struct {
	schema   schema.TargetSchema
	opts     Options
	recorder audit.Recorder
	run      *audit.Run

	names []string // target field order, injected fields appended
	added []string
}

// New builds a Loader. recorder and run receive one row outcome per
// malformed row.
func New(ts schema.TargetSchema, opts Options, recorder audit.Recorder, run *audit.Run) *Loader {
	l := &Loader{schema: ts, opts: opts, recorder: recorder, run: run}
	l.names = ts.Names()
	declared := make(map[string]struct{}, len(l.names))
	for _, n := range l.names {
		declared[n] = struct{}{}
	}
	for name := range opts.AddFields {
		if _, ok := declared[name]; !ok {
			l.added = append(l.added, name)
		}
	}
	// Injected-field order must be stable across rows for the serialized
	// stream to line up with the staging columns.
	sort.Strings(l.added)
	l.names = append(l.names, l.added...)
	return l
}

// FieldNames returns the full target field order this loader produces,
// injected fields included.
func (l *Loader) FieldNames() []string {
	return l.names
}

// Sanitize canonicalizes a source header cell: trimmed, lowercased, with
// runs of whitespace and punctuation collapsed to a single underscore.
func Sanitize(name string) string {
	var sb strings.Builder
	pending := false
	for _, r := range strings.TrimSpace(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pending && sb.Len() > 0 {
				sb.WriteByte('_')
			}
			pending = false
			sb.WriteRune(unicode.ToLower(r))
			continue
		}
		pending = true
	}
	return sb.String()
}

// Rows starts resolving a canonical row stream. Name-mode resolution reads
// the header and fails here, before any record is produced.
func (l *Loader) Rows(ctx context.Context, src normalize.RowReader) (*Rows, error) {
	it := &Rows{loader: l, src: src, maxIdx: -1}

	needHeader := false
	for _, f := range l.schema.Fields {
		if f.Source.Kind == schema.LocatorName {
			needHeader = true
			break
		}
	}

	var header map[string]int
	var rawHeader []string
	if needHeader {
		row, err := src.Read()
		if err == io.EOF {
			row = nil
		} else if err != nil {
			return nil, err
		}
		it.line = 1
		rawHeader = row
		header = make(map[string]int, len(row))
		for i, cell := range row {
			name := Sanitize(cell)
			if _, taken := header[name]; !taken {
				header[name] = i
			}
		}
	}

	it.firstData = l.opts.FirstDataLine
	if it.firstData == 0 {
		if needHeader {
			it.firstData = 2
		} else {
			it.firstData = 1
		}
	}

	var missing []string
	positional := 0
	it.indexFor = make([]int, len(l.schema.Fields))
	for i, f := range l.schema.Fields {
		switch f.Source.Kind {
		case schema.LocatorName:
			idx, ok := header[Sanitize(f.Source.Name)]
			if !ok {
				missing = append(missing, f.Source.Name)
				continue
			}
			it.indexFor[i] = idx
		case schema.LocatorIndex:
			it.indexFor[i] = f.Source.Index
		case schema.LocatorPositional:
			it.indexFor[i] = positional
			positional++
		}
		if it.indexFor[i] > it.maxIdx {
			it.maxIdx = it.indexFor[i]
		}
	}
	if len(missing) > 0 {
		return nil, &ResolveError{Missing: missing, Header: rawHeader}
	}
	return it, nil
}

// Rows is a forward-only record iterator over a canonical row stream.
type Rows struct {
	loader    *Loader
	src       normalize.RowReader
	indexFor  []int
	maxIdx    int
	firstData int
	line      int
	done      bool
}

// lineReporter is implemented by row sources that know the true source line
// of the row they just returned. Used so blank source lines do not shift the
// reported line numbers.
type lineReporter interface {
	Line() int
}

func (r *Rows) advanceLine() {
	if lr, ok := r.src.(lineReporter); ok {
		r.line = lr.Line()
		return
	}
	r.line++
}

// Next returns the next record, or (nil, nil) at end of stream. Rows with
// too few cells write an error outcome to the audit trail before failing.
func (r *Rows) Next(ctx context.Context) (*schema.Record, error) {
	if r.done {
		return nil, nil
	}
	for {
		row, err := r.src.Read()
		if err == io.EOF {
			r.done = true
			return nil, nil
		}
		if err != nil {
			r.done = true
			return nil, err
		}
		r.advanceLine()
		if r.line < r.firstData {
			continue
		}
		if !r.loader.opts.Strict && isBlank(row) {
			logging.Logf(logging.Debug, "Skipping blank row at line %d", r.line)
			continue
		}
		if r.loader.excluded(row) {
			logging.Logf(logging.Debug, "Skipping excluded row at line %d", r.line)
			continue
		}
		if len(row) <= r.maxIdx {
			r.done = true
			shapeErr := &RowShapeError{Line: r.line, Row: row, Want: r.maxIdx + 1}
			r.loader.recordShapeError(ctx, shapeErr)
			return nil, shapeErr
		}

		rec := schema.NewRecord(r.line, r.loader.names)
		for i, f := range r.loader.schema.Fields {
			rec.Set(f.Name, row[r.indexFor[i]])
		}
		if err := r.loader.inject(ctx, rec); err != nil {
			r.done = true
			return nil, err
		}
		return rec, nil
	}
}

// RecordSource is a forward-only sequence of field dictionaries, as produced
// by the invoice-protocol parser.
type RecordSource interface {
	Next() (map[string]string, error)
}

// Records adapts a field-dictionary sequence into the record stream. Fields
// resolve by name against each dictionary; index and positional locators do
// not apply here.
func (l *Loader) Records(src RecordSource) *Records {
	return &Records{loader: l, src: src}
}

// Records is a forward-only record iterator over a field-dictionary
// sequence.
type Records struct {
	loader *Loader
	src    RecordSource
	line   int
	done   bool
}

// Next returns the next record, or (nil, nil) at end of sequence.
func (r *Records) Next(ctx context.Context) (*schema.Record, error) {
	if r.done {
		return nil, nil
	}
	for {
		m, err := r.src.Next()
		if err != nil {
			r.done = true
			return nil, err
		}
		if m == nil {
			r.done = true
			return nil, nil
		}
		r.line++

		rec := schema.NewRecord(r.line, r.loader.names)
		blank := true
		for _, f := range r.loader.schema.Fields {
			key := f.Source.Name
			if key == "" {
				key = f.Name
			}
			if v, ok := m[key]; ok {
				rec.Set(f.Name, v)
				if v != "" {
					blank = false
				}
			}
		}
		if blank && !r.loader.opts.Strict {
			continue
		}
		if err := r.loader.inject(ctx, rec); err != nil {
			r.done = true
			return nil, err
		}
		return rec, nil
	}
}

func (l *Loader) inject(ctx context.Context, rec *schema.Record) error {
	// Deterministic order: declared fields first, then the sorted injected
	// names. Sources are evaluated per row, so identifier-minting fields
	// stay distinct across rows.
	for _, f := range l.schema.Fields {
		src, ok := l.opts.AddFields[f.Name]
		if !ok {
			continue
		}
		if err := l.setInjected(ctx, rec, f.Name, src); err != nil {
			return err
		}
	}
	for _, name := range l.added {
		if err := l.setInjected(ctx, rec, name, l.opts.AddFields[name]); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loader) setInjected(ctx context.Context, rec *schema.Record, name string, src schema.FieldSource) error {
	value, err := src.Value(rec)
	if err != nil {
		if l.recorder != nil && l.run != nil {
			outcome, recErr := l.recorder.RecordRow(ctx, l.run, audit.RowError, rec.Line, "field injection failed")
			if recErr == nil {
				_ = l.recorder.RecordFieldError(ctx, outcome, name, err.Error(), "", "")
			}
		}
		return err
	}
	rec.Set(name, value)
	return nil
}

func (l *Loader) excluded(row []string) bool {
	for idx, substr := range l.opts.ExcludeRows {
		if idx < 0 || idx >= len(row) || substr == "" {
			continue
		}
		if strings.Contains(strings.ToLower(row[idx]), strings.ToLower(substr)) {
			return true
		}
	}
	return false
}

func (l *Loader) recordShapeError(ctx context.Context, shapeErr *RowShapeError) {
	if l.recorder == nil || l.run == nil {
		return
	}
	outcome, err := l.recorder.RecordRow(ctx, l.run, audit.RowError, shapeErr.Line, "column count mismatch")
	if err != nil {
		logging.Logf(logging.Warning, "Cannot record row outcome for line %d: %v", shapeErr.Line, err)
		return
	}
	// Snippet bounds the audited content; a malformed row can be arbitrarily
	// wide.
	err = l.recorder.RecordFieldError(ctx, outcome, "row",
		"column count mismatch",
		strconv.Itoa(shapeErr.Want)+" columns",
		util.Snippet([]byte(strings.Join(shapeErr.Row, "|"))))
	if err != nil {
		logging.Logf(logging.Warning, "Cannot record field error for line %d: %v", shapeErr.Line, err)
	}
}

func isBlank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
