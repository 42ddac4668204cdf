package sqlstore

import (
	"context"
	"fmt"
)

// CurrentVersion returns the highest applied migration version, or 0
func (s *Store) CurrentVersion(ctx context.Context) (int, error) {
	var version int64
	if err := s.q.QueryRowContext(ctx, getVersionSQL).Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get current version: %w", err)
	}
	return int(version), nil
}

// AppliedVersions returns the applied migration versions in ascending order
func (s *Store) AppliedVersions(ctx context.Context) ([]int, error) {
	rows, err := s.q.QueryContext(ctx, appliedVersionsSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	var applied []int
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied = append(applied, int(version))
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating migration rows: %w", err)
	}

	return applied, nil
}

// RecordVersion marks a migration version as applied
func (s *Store) RecordVersion(ctx context.Context, version int, description string) error {
	_, err := s.q.ExecContext(ctx, s.rebind(recordMigrationSQL), int64(version), description, s.now().UTC())
	if err != nil {
		return classifyError(fmt.Errorf("failed to record migration %d: %w", version, err))
	}
	return nil
}

// RemoveVersion marks a migration version as not applied
func (s *Store) RemoveVersion(ctx context.Context, version int) error {
	if _, err := s.q.ExecContext(ctx, s.rebind(deleteMigrationSQL), int64(version)); err != nil {
		return fmt.Errorf("failed to remove migration %d: %w", version, err)
	}
	return nil
}
