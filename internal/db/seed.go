package db

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// SeedCourts inserts the configured courts under stable ids 1..n, leaving
// rows that already exist untouched. Courts are owned by the system and are
// never deleted at runtime.
func (db *DB) SeedCourts(ctx context.Context, names []string) error {
	for i, name := range names {
		if err := db.Queries.SeedCourt(ctx, int64(i+1), name); err != nil {
			return fmt.Errorf("seed court %q: %w", name, err)
		}
	}
	log.Ctx(ctx).Debug().Int("court_count", len(names)).Msg("Seeded courts")
	return nil
}
