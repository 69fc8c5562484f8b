package workspace

import (
	"context"
	"fmt"
	"strings"

	"github.com/Mschirtzinger/asana2sql/internal/cache"
	"github.com/Mschirtzinger/asana2sql/internal/db"
)

// Untouched lists, per lookup table, the stored keys no task referenced in
// the current pass.
func (w *Workspace) Untouched(ctx context.Context) (map[string][]any, error) {
	out := make(map[string][]any)
	for table, c := range w.lookupCaches() {
		if err := c.Seed(ctx); err != nil {
			return nil, err
		}
		if keys := c.Untouched(); len(keys) > 0 {
			out[table] = keys
		}
	}
	return out, nil
}

// PruneUntouched deletes the lookup rows Untouched reports, and the enum
// options of pruned custom fields. Lookup tables are shared between
// projects, so this is only safe when one project is mirrored per database.
// It returns the number of rows removed per table.
func (w *Workspace) PruneUntouched(ctx context.Context) (map[string]int, error) {
	removed := make(map[string]int)
	for table, c := range w.lookupCaches() {
		if err := c.Seed(ctx); err != nil {
			return removed, err
		}
		keys := c.Untouched()
		err := c.Evict(ctx, keys, func(ctx context.Context, keys []any) error {
			for _, k := range keys {
				if err := w.store.Write(ctx,
					fmt.Sprintf(`DELETE FROM %s WHERE "id" = ?;`, db.QuoteIdent(table)), k); err != nil {
					return err
				}
				if table == w.names.CustomFields {
					if err := w.store.Write(ctx,
						fmt.Sprintf(`DELETE FROM %s WHERE "custom_field_id" = ?;`,
							db.QuoteIdent(w.names.CustomFieldEnumValues)), k); err != nil {
						return err
					}
				}
			}
			return nil
		})
		if err != nil {
			return removed, fmt.Errorf("failed to prune %s: %w", table, err)
		}
		if len(keys) > 0 {
			removed[table] = len(keys)
			w.logger.Info("pruned untouched lookup rows", "table", table, "count", len(keys))
		}
	}
	return removed, nil
}

func (w *Workspace) lookupCaches() map[string]*cache.Cache {
	return map[string]*cache.Cache{
		w.names.Users:        w.users,
		w.names.Projects:     w.projects,
		w.names.CustomFields: w.customFields,
	}
}

func columnList(columns []string) string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = db.QuoteIdent(c)
	}
	return strings.Join(quoted, ", ")
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
