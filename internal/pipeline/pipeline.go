// Package pipeline wires one import run end to end: read, normalize or
// parse, resolve columns, validate, stage, merge, finalize the audit run.
// Each run is strictly sequential; concurrency, if any, lives between runs.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"opto-import/internal/audit"
	"opto-import/internal/cache"
	"opto-import/internal/config"
	"opto-import/internal/edi"
	"opto-import/internal/loader"
	"opto-import/internal/logging"
	"opto-import/internal/normalize"
	"opto-import/internal/pgload"
	"opto-import/internal/schema"
	"opto-import/internal/validate"
)

// Job describes one import invocation.
type Job struct {
	RunName     string
	Application string
	Flow        string

	SourcePath string
	// SourceType is one of csv, tsv, xlsx, xls, edi. Inferred from the file
	// extension when empty.
	SourceType string
	Normalize  normalize.Options
	Loader     loader.Options

	// EDI strictness toggles, off by default.
	StrictInvoiceCount bool
	StrictLineCount    bool

	Table       string
	Mode        pgload.Mode
	ErrorBudget int
}

// Pipeline executes import jobs against one database and one audit trail.
type Pipeline struct {
	db       pgload.DB
	recorder audit.Recorder
	schemas  cache.Cache
}

// New builds a Pipeline. The recorder receives the full three-level trail.
// When schemas is non-nil, provider column mappings are memoized through it
// per flow and table; a nil cache consults the provider on every run.
func New(db pgload.DB, recorder audit.Recorder, schemas cache.Cache) *Pipeline {
	return &Pipeline{db: db, recorder: recorder, schemas: schemas}
}

// Import runs one job. The returned Run is finalized on every path, success
// or caught failure, and stays queryable either way.
func (p *Pipeline) Import(ctx context.Context, job Job, provider schema.Provider, backend validate.RecordValidator) (run *audit.Run, err error) {
	ts, err := p.resolveSchema(ctx, job, provider)
	if err != nil {
		return nil, err
	}

	run, err = p.recorder.StartRun(ctx, job.RunName, job.Application, job.Flow)
	if err != nil {
		return nil, err
	}
	logging.Logf(logging.Info, "Import run %s started: %s -> %s (%s)", run.ID, job.SourcePath, job.Table, job.Mode)

	defer func() {
		comment := ""
		if err != nil {
			comment = err.Error()
		}
		finCtx := context.WithoutCancel(ctx)
		if finErr := p.recorder.FinalizeRun(finCtx, run, err != nil || run.ErrorRows > 0, comment); finErr != nil {
			logging.Logf(logging.Error, "Cannot finalize run %s: %v", run.ID, finErr)
			if err == nil {
				err = finErr
			}
		}
	}()

	l := loader.New(ts, job.Loader, p.recorder, run)
	records, cleanup, err := p.openRecords(ctx, job, l)
	if err != nil {
		return run, err
	}
	defer cleanup()

	stream := validate.NewStream(l.FieldNames())
	v := validate.New(backend, job.ErrorBudget, p.recorder, run)
	accepted, err := v.Run(ctx, records, stream)
	if err != nil {
		return run, err
	}
	logging.Logf(logging.Debug, "Run %s: %d records accepted for loading", run.ID, accepted)

	res, err := pgload.New(p.db).Load(ctx, job.Mode, job.Table, ts, stream)
	if err != nil {
		return run, err
	}

	// Merge results arrive as aggregates from the single statement; the
	// per-row outcomes for accepted rows are these counters, not individual
	// RowOutcome records.
	run.CreatedRows += int(res.Created)
	run.UpdatedRows += int(res.Updated)
	run.UnknownRows += int(res.Skipped)
	return run, nil
}

// resolveSchema materializes the target schema, going through the schema
// cache when one was configured. The key spans flow and table so two flows
// loading the same table keep separate mappings; a changed mapping under a
// live key needs cache.Invalidate.
func (p *Pipeline) resolveSchema(ctx context.Context, job Job, provider schema.Provider) (schema.TargetSchema, error) {
	if p.schemas == nil {
		return schema.FromProvider(provider), nil
	}
	return cache.Columns(ctx, p.schemas, "columns:"+job.Flow+":"+job.Table, provider)
}

// openRecords builds the record iterator for the job's source type.
func (p *Pipeline) openRecords(ctx context.Context, job Job, l *loader.Loader) (validate.RecordIterator, func(), error) {
	noop := func() {}
	if sourceType(job) == config.SourceTypeEDI {
		parser := edi.NewParser(ediOptions(job)...)
		doc, err := parser.ParseFile(job.SourcePath)
		if err != nil {
			return nil, noop, err
		}
		return l.Records(doc), noop, nil
	}

	rows, err := normalize.Open(job.SourcePath, job.Normalize)
	if err != nil {
		return nil, noop, err
	}
	it, err := l.Rows(ctx, rows)
	if err != nil {
		rows.Close()
		return nil, noop, err
	}
	return it, func() { rows.Close() }, nil
}

func sourceType(job Job) string {
	if job.SourceType != "" {
		// Validation accepts the type in any case; dispatch must too.
		return strings.ToLower(job.SourceType)
	}
	return typeFromExt(job.SourcePath)
}

func typeFromExt(path string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
}

func ediOptions(job Job) []edi.Option {
	var opts []edi.Option
	if job.StrictInvoiceCount {
		opts = append(opts, edi.WithStrictInvoiceCount())
	}
	if job.StrictLineCount {
		opts = append(opts, edi.WithStrictLineCount())
	}
	return opts
}

// JobFromConfig translates a validated job definition into a Job.
func JobFromConfig(cfg *config.JobConfig) (Job, error) {
	opts, err := cfg.LoaderOptions()
	if err != nil {
		return Job{}, fmt.Errorf("cannot compile injected fields: %w", err)
	}
	delimiter := rune(0)
	for _, r := range cfg.Source.Delimiter {
		delimiter = r
		break
	}
	return Job{
		RunName:            cfg.Run.Name,
		Application:        cfg.Run.Application,
		Flow:               cfg.Run.Flow,
		SourcePath:         cfg.Source.File,
		SourceType:         cfg.Source.Type,
		Normalize:          normalize.Options{Delimiter: delimiter, Encoding: cfg.Source.Encoding, Sheet: cfg.Source.Sheet},
		Loader:             opts,
		StrictInvoiceCount: cfg.Source.StrictInvoiceCount,
		StrictLineCount:    cfg.Source.StrictLineCount,
		Table:              cfg.Destination.Table,
		Mode:               cfg.Mode(),
		ErrorBudget:        cfg.Validation.ErrorBudget,
	}, nil
}
