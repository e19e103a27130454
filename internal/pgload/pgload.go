// Package pgload bulk-loads the validated record stream into Postgres. The
// insert mode copies straight into the target relation; the do-nothing and
// upsert modes stage into an ephemeral relation and merge with a single
// conflict-aware statement.
package pgload

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"opto-import/internal/logging"
	"opto-import/internal/schema"
	"opto-import/internal/validate"
)

// Mode selects the merge semantics for one load.
type Mode string

const (
	// ModeInsert loads directly into the target; any constraint violation
	// aborts the whole call.
	ModeInsert Mode = "insert"
	// ModeDoNothing stages, then inserts only rows whose conflict key is new.
	ModeDoNothing Mode = "do_nothing"
	// ModeUpsert stages, then inserts new rows and overwrites every non-key
	// column for rows whose conflict key already exists.
	ModeUpsert Mode = "upsert"
)

// DB is the subset of a pgx connection the engine uses. *pgx.Conn and
// *pgxpool.Pool both satisfy it.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Result summarizes one load.
type Result struct {
	Created int64 // rows inserted into the target
	Updated int64 // rows overwritten by upsert
	Skipped int64 // staged rows whose conflict key already existed (do-nothing)
	Staged  int64 // rows copied into the staging relation
}

// Engine applies one of the three insertion modes.
type Engine struct {
	db DB
}

// New builds an Engine over db.
func New(db DB) *Engine {
	return &Engine{db: db}
}

// Load applies mode to the buffered stream against table. The staging
// relation, when one is used, is always dropped, merge failure included.
func (e *Engine) Load(ctx context.Context, mode Mode, table string, ts schema.TargetSchema, stream *validate.Stream) (Result, error) {
	var res Result
	if stream.Len() == 0 {
		return res, nil
	}
	columns := stream.Names()

	switch mode {
	case ModeInsert:
		created, err := e.db.CopyFrom(ctx, pgx.Identifier{table}, columns, copySource(stream))
		if err != nil {
			return res, translate(err)
		}
		res.Created = created
		return res, nil
	case ModeDoNothing, ModeUpsert:
		keys := ts.ConflictKeys()
		if len(keys) == 0 {
			return res, &ConflictKeyError{Table: table, Reason: "no conflict key declared"}
		}
		return e.stageAndMerge(ctx, mode, table, columns, keys, ts.NonKeyColumns(), stream)
	default:
		return res, fmt.Errorf("unknown load mode %q", mode)
	}
}

func (e *Engine) stageAndMerge(ctx context.Context, mode Mode, table string, columns, keys, nonKeys []string, stream *validate.Stream) (Result, error) {
	var res Result

	staging, err := e.createStaging(ctx, table, columns)
	if err != nil {
		return res, err
	}
	defer func() {
		// The drop must survive both merge failure and cancellation.
		dropCtx := context.WithoutCancel(ctx)
		if _, err := e.db.Exec(dropCtx, "DROP TABLE IF EXISTS "+quoteIdent(staging)); err != nil {
			logging.Logf(logging.Warning, "Cannot drop staging relation %s: %v", staging, err)
		}
	}()

	res.Staged, err = e.db.CopyFrom(ctx, pgx.Identifier{staging}, columns, copySource(stream))
	if err != nil {
		return res, translate(err)
	}
	logging.Logf(logging.Debug, "Staged %d rows into %s", res.Staged, staging)

	quoted := quoteIdents(columns)
	merge := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s)",
		quoteIdent(table), strings.Join(quoted, ", "), strings.Join(quoted, ", "),
		quoteIdent(staging), strings.Join(quoteIdents(keys), ", "))

	if mode == ModeDoNothing {
		tag, err := e.db.Exec(ctx, merge+" DO NOTHING")
		if err != nil {
			return res, translate(err)
		}
		res.Created = tag.RowsAffected()
		res.Skipped = res.Staged - res.Created
		return res, nil
	}

	if len(nonKeys) == 0 {
		return res, &ConflictKeyError{Table: table, Reason: "every column is part of the conflict key, nothing to update"}
	}
	sets := make([]string, len(nonKeys))
	for i, c := range nonKeys {
		sets[i] = quoteIdent(c) + " = EXCLUDED." + quoteIdent(c)
	}
	// xmax = 0 distinguishes freshly inserted rows from overwritten ones
	// inside the single merge statement.
	stmt := fmt.Sprintf(
		"WITH merged AS (%s DO UPDATE SET %s RETURNING (xmax = 0) AS inserted) "+
			"SELECT count(*) FILTER (WHERE inserted), count(*) FILTER (WHERE NOT inserted) FROM merged",
		merge, strings.Join(sets, ", "))
	if err := e.db.QueryRow(ctx, stmt).Scan(&res.Created, &res.Updated); err != nil {
		return res, translate(err)
	}
	return res, nil
}

// createStaging creates an ephemeral relation with the target's column
// subset and types. The name is checked against the live catalog so an
// equally-named relation is never reused.
func (e *Engine) createStaging(ctx context.Context, table string, columns []string) (string, error) {
	quoted := strings.Join(quoteIdents(columns), ", ")
	for attempt := 0; attempt < 5; attempt++ {
		name := "staging_" + strings.ReplaceAll(uuid.NewString(), "-", "")
		var exists bool
		err := e.db.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM pg_catalog.pg_class WHERE relname = $1)", name).Scan(&exists)
		if err != nil {
			return "", translate(err)
		}
		if exists {
			continue
		}
		stmt := fmt.Sprintf("CREATE UNLOGGED TABLE %s AS SELECT %s FROM %s WHERE false",
			quoteIdent(name), quoted, quoteIdent(table))
		if _, err := e.db.Exec(ctx, stmt); err != nil {
			return "", translate(err)
		}
		return name, nil
	}
	return "", &StatementError{Err: fmt.Errorf("cannot find a free staging relation name for %s", table)}
}

// copySource adapts the validated stream for the bulk copy protocol. Empty
// strings load as NULL so typed target columns accept absent values.
func copySource(stream *validate.Stream) pgx.CopyFromSource {
	rows := stream.Rows()
	out := make([][]any, len(rows))
	for i, row := range rows {
		vals := make([]any, len(row))
		for j, v := range row {
			if v == "" {
				vals[j] = nil
			} else {
				vals[j] = v
			}
		}
		out[i] = vals
	}
	return pgx.CopyFromRows(out)
}

func quoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func quoteIdents(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = quoteIdent(n)
	}
	return out
}
