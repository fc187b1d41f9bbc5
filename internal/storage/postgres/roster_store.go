package postgres

import (
	"context"
	"fmt"

	"github.com/JakeFAU/scholar-harvester/internal/harvest"
)

// RosterStore lists harvest targets from the profiles table.
type RosterStore struct {
	pool  querier
	table string
}

// NewRosterStore wraps an existing pool.
func NewRosterStore(pool querier, table string) (*RosterStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := tableOrDefault(table, "profiles")
	if err != nil {
		return nil, err
	}
	return &RosterStore{pool: pool, table: table}, nil
}

// ListTargets returns every profile ordered by identity key. Rows without a
// source URL are returned with an empty SourceURL so the caller can report them.
func (s *RosterStore) ListTargets(ctx context.Context) ([]harvest.ProfileTarget, error) {
	query := fmt.Sprintf(`
SELECT identity_key, COALESCE(source_url, '')
FROM %s
ORDER BY identity_key`, s.table)

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query roster: %w", err)
	}
	defer rows.Close()

	var targets []harvest.ProfileTarget
	for rows.Next() {
		var t harvest.ProfileTarget
		if err := rows.Scan(&t.IdentityKey, &t.SourceURL); err != nil {
			return nil, fmt.Errorf("scan roster row: %w", err)
		}
		targets = append(targets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roster: %w", err)
	}
	return targets, nil
}
