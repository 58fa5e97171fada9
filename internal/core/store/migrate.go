package store

import (
	"context"
	"fmt"
)

// The flood table is deliberately absent: the database flood backend creates
// it on first use.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS redirect (
		rid {serial},
		hash VARCHAR(64) NOT NULL,
		source_path VARCHAR(2048) NOT NULL,
		source_query TEXT NOT NULL DEFAULT '',
		language VARCHAR(12) NOT NULL DEFAULT 'und',
		destination_uri VARCHAR(2048) NOT NULL,
		status_code {smallint} NOT NULL DEFAULT 301,
		enabled {smallint} NOT NULL DEFAULT 1,
		created {bigint} NOT NULL
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS redirect_hash ON redirect(hash);`,
	`CREATE INDEX IF NOT EXISTS redirect_source ON redirect(source_path);`,
}

// Migrate ensures the required database tables exist.
func (s *Store) Migrate(ctx context.Context) error {
	ctx, err := s.ready(ctx)
	if err != nil {
		return err
	}

	for _, stmt := range schemaStatements {
		if _, err := s.DB.ExecContext(ctx, s.dialect.expand(stmt)); err != nil {
			return fmt.Errorf("store migration failed: %w", err)
		}
	}

	return nil
}

func (s *Store) tableExists(ctx context.Context, table string) (bool, error) {
	var count int
	row := s.DB.QueryRowContext(ctx, s.dialect.rebind(s.dialect.tableExists), table)
	if err := row.Scan(&count); err != nil {
		return false, fmt.Errorf("inspect %s table: %w", table, err)
	}
	return count > 0, nil
}
