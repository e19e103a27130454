package cache

import (
	"context"
	"fmt"

	"gopkg.in/yaml.v3"

	"opto-import/internal/logging"
	"opto-import/internal/schema"
)

// Columns resolves a target schema through the cache. On a hit the stored
// mapping is decoded and the provider is never consulted; on a miss the
// provider is materialized once and the result stored under key. Providers
// that introspect a live model pay that cost once per mapping, not once per
// run.
func Columns(ctx context.Context, store Cache, key string, provider schema.Provider) (schema.TargetSchema, error) {
	if stored, ok, err := store.Get(ctx, key); err != nil {
		return schema.TargetSchema{}, err
	} else if ok && stored != "" {
		var ts schema.TargetSchema
		if err := yaml.Unmarshal([]byte(stored), &ts); err != nil {
			return schema.TargetSchema{}, fmt.Errorf("corrupt cached mapping under '%s': %w", key, err)
		}
		logging.Logf(logging.Debug, "Column mapping '%s' served from cache (%d fields)", key, len(ts.Fields))
		return ts, nil
	}

	ts := schema.FromProvider(provider)
	encoded, err := yaml.Marshal(ts)
	if err != nil {
		return ts, fmt.Errorf("cannot encode mapping for '%s': %w", key, err)
	}
	if err := store.Set(ctx, key, string(encoded)); err != nil {
		return ts, err
	}
	return ts, nil
}

// Invalidate drops a stored mapping by overwriting it with an empty value,
// which Columns treats as a miss. For when the underlying model changed.
func Invalidate(ctx context.Context, store Cache, key string) error {
	return store.Set(ctx, key, "")
}
