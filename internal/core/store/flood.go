package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/floodgate/floodgate/internal/core"
)

// FloodTable is the name of the lazily created flood event table.
const FloodTable = "flood"

// Plain CREATE TABLE: a second concurrent creator must fail so the flood
// backend can tell "someone else made it" apart from "nothing was made".
var floodSchemaStatements = []string{
	`CREATE TABLE flood (
		fid {serial},
		event VARCHAR(64) NOT NULL DEFAULT '',
		identifier VARCHAR(128) NOT NULL DEFAULT '',
		timestamp {bigint} NOT NULL DEFAULT 0,
		expiration {bigint} NOT NULL DEFAULT 0
	);`,
	`CREATE INDEX flood_allow ON flood(event, identifier, timestamp);`,
	`CREATE INDEX flood_purge ON flood(expiration);`,
}

// CreateFloodTable creates the flood table and its indexes in one transaction.
func (s *Store) CreateFloodTable(ctx context.Context) error {
	ctx, err := s.ready(ctx)
	if err != nil {
		return err
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("create flood table: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck // no-op after commit

	for _, stmt := range floodSchemaStatements {
		if _, err := tx.ExecContext(ctx, s.dialect.expand(stmt)); err != nil {
			return fmt.Errorf("create flood table: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("create flood table: %w", err)
	}
	return nil
}

// FloodTableExists reports whether the flood table has been provisioned.
func (s *Store) FloodTableExists(ctx context.Context) (bool, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return false, err
	}
	return s.tableExists(ctx, FloodTable)
}

// InsertFloodEvent stores a single flood event row.
func (s *Store) InsertFloodEvent(ctx context.Context, event core.FloodEvent) error {
	ctx, err := s.ready(ctx)
	if err != nil {
		return err
	}

	if strings.TrimSpace(event.Event) == "" {
		return errors.New("flood event name is required")
	}

	_, err = s.DB.ExecContext(ctx, s.dialect.rebind(`
		INSERT INTO flood (event, identifier, timestamp, expiration)
		VALUES (?, ?, ?, ?)
	`), event.Event, event.Identifier, event.Timestamp, event.Expiration)
	if err != nil {
		return fmt.Errorf("insert flood event: %w", err)
	}
	return nil
}

// CountFloodEvents counts events for (name, identifier) with a timestamp
// strictly after the given unix time.
func (s *Store) CountFloodEvents(ctx context.Context, name, identifier string, after int64) (int, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return 0, err
	}

	row := s.DB.QueryRowContext(ctx, s.dialect.rebind(`
		SELECT COUNT(*)
		FROM flood
		WHERE event = ? AND identifier = ? AND timestamp > ?
	`), name, identifier, after)

	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count flood events: %w", err)
	}
	return count, nil
}

// DeleteFloodEvents removes every event for (name, identifier).
func (s *Store) DeleteFloodEvents(ctx context.Context, name, identifier string) (int64, error) {
	return s.deleteFlood(ctx, `DELETE FROM flood WHERE event = ? AND identifier = ?`, name, identifier)
}

// DeleteFloodEventsByPrefix removes events for name whose identifier starts
// with prefix. Matching is exact and case-sensitive.
func (s *Store) DeleteFloodEventsByPrefix(ctx context.Context, name, prefix string) (int64, error) {
	return s.deleteFlood(ctx,
		`DELETE FROM flood WHERE event = ? AND substr(identifier, 1, ?) = ?`,
		name, utf8.RuneCountInString(prefix), prefix)
}

// DeleteExpiredFloodEvents removes events whose expiration is before now.
func (s *Store) DeleteExpiredFloodEvents(ctx context.Context, now int64) (int64, error) {
	return s.deleteFlood(ctx, `DELETE FROM flood WHERE expiration < ?`, now)
}

func (s *Store) deleteFlood(ctx context.Context, query string, args ...any) (int64, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return 0, err
	}

	result, err := s.DB.ExecContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("delete flood events: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete flood events: %w", err)
	}
	return affected, nil
}
