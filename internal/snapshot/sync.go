package snapshot

import (
	"context"
	"fmt"

	"github.com/nerrad567/gray-logic-teg/internal/tedapi"
)

// Attach registers a commit hook on cache that saves every committed
// document. Writes run synchronously with their own timeout; failures are
// logged and never reach the caller of Put.
func (r *SQLiteRepository) Attach(cache *tedapi.Cache) {
	cache.OnCommit(func(doc tedapi.Document) {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()

		if err := r.Save(ctx, doc); err != nil {
			r.logger.Warn("document snapshot failed", "kind", string(doc.Kind), "error", err)
			return
		}
		r.logger.Debug("document snapshot saved", "kind", string(doc.Kind))
	})
}

// Restore loads every stored document into cache with its original fetch
// time and returns how many were restored. Documents with a nil value are
// skipped.
func (r *SQLiteRepository) Restore(ctx context.Context, cache *tedapi.Cache) (int, error) {
	docs, err := r.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("restoring snapshot: %w", err)
	}

	n := 0
	for _, doc := range docs {
		if doc.Value == nil {
			continue
		}
		cache.Restore(doc)
		n++
	}
	return n, nil
}
