package pipeline

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"opto-import/internal/audit"
	"opto-import/internal/cache"
	"opto-import/internal/config"
	"opto-import/internal/logging"
	"opto-import/internal/schema"
	"opto-import/internal/util"
)

// schemaCache memoizes provider column mappings for the life of the process,
// so repeated runs of the same flow resolve their schema once.
var schemaCache = cache.NewMemory()

// RunJob executes one job definition end to end: it connects a pool to the
// configured database, persists the audit trail there, and runs the import.
func RunJob(ctx context.Context, cfg *config.JobConfig) (*audit.Run, error) {
	logging.SetupLogging(cfg.Logging.Level)
	if logging.GetLevel() >= logging.Debug {
		logging.Logf(logging.Debug, "Job definition: %v", cfg.Masked())
	}
	logging.Logf(logging.Info, "Connecting to %s", util.MaskCredentials(cfg.Destination.DSN))

	pool, err := pgxpool.New(ctx, cfg.Destination.DSN)
	if err != nil {
		return nil, fmt.Errorf("cannot create connection pool: %w", err)
	}
	defer pool.Close()

	job, err := JobFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	ts := cfg.Schema()
	provider := schema.StaticProvider{Columns: ts.Fields, Keys: ts.ConflictKeys()}

	p := New(pool, audit.NewPostgresRecorder(pool), schemaCache)
	return p.Import(ctx, job, provider, cfg.ValidationRules())
}
