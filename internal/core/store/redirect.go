package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/floodgate/floodgate/internal/core"
)

// RedirectQuery filters the redirect listing.
type RedirectQuery struct {
	Prefix string
	Limit  int
}

const redirectColumns = `rid, hash, source_path, source_query, language, destination_uri, status_code, enabled, created`

// SaveRedirect inserts a redirect when its ID is zero and updates it otherwise.
// The hash must already be computed.
func (s *Store) SaveRedirect(ctx context.Context, redirect *core.Redirect) error {
	ctx, err := s.ready(ctx)
	if err != nil {
		return err
	}
	if redirect == nil {
		return errors.New("redirect is required")
	}
	if strings.TrimSpace(redirect.Hash) == "" {
		return errors.New("redirect hash is required")
	}

	query, err := encodeQuery(redirect.SourceQuery)
	if err != nil {
		return err
	}

	if redirect.Created.IsZero() {
		redirect.Created = time.Now().UTC()
	}

	if redirect.ID == 0 {
		row := s.DB.QueryRowContext(ctx, s.dialect.rebind(`
			INSERT INTO redirect (hash, source_path, source_query, language, destination_uri, status_code, enabled, created)
			VALUES (`+placeholders(8)+`)
			RETURNING rid
		`), redirect.Hash, redirect.SourcePath, query, redirect.Language, redirect.Destination,
			redirect.StatusCode, boolToInt(redirect.Enabled), redirect.Created.UTC().Unix())
		if err := row.Scan(&redirect.ID); err != nil {
			return fmt.Errorf("insert redirect: %w", err)
		}
		return nil
	}

	result, err := s.DB.ExecContext(ctx, s.dialect.rebind(`
		UPDATE redirect SET
			hash = ?,
			source_path = ?,
			source_query = ?,
			language = ?,
			destination_uri = ?,
			status_code = ?,
			enabled = ?
		WHERE rid = ?
	`), redirect.Hash, redirect.SourcePath, query, redirect.Language, redirect.Destination,
		redirect.StatusCode, boolToInt(redirect.Enabled), redirect.ID)
	if err != nil {
		return fmt.Errorf("update redirect: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update redirect: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("update redirect: no redirect with id %d", redirect.ID)
	}
	return nil
}

// GetRedirect loads a redirect by ID. A missing redirect returns nil, nil.
func (s *Store) GetRedirect(ctx context.Context, rid int64) (*core.Redirect, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return nil, err
	}

	row := s.DB.QueryRowContext(ctx, s.dialect.rebind(`
		SELECT `+redirectColumns+`
		FROM redirect
		WHERE rid = ?
	`), rid)
	return scanRedirect(row)
}

// GetRedirectByHash loads a redirect by hash regardless of its enabled flag.
func (s *Store) GetRedirectByHash(ctx context.Context, hash string) (*core.Redirect, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return nil, err
	}

	row := s.DB.QueryRowContext(ctx, s.dialect.rebind(`
		SELECT `+redirectColumns+`
		FROM redirect
		WHERE hash = ?
	`), hash)
	return scanRedirect(row)
}

// FindRedirectsByHashes returns enabled redirects matching any of the
// hashes, longest stored query first.
func (s *Store) FindRedirectsByHashes(ctx context.Context, hashes []string) ([]core.Redirect, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return nil, err
	}
	if len(hashes) == 0 {
		return []core.Redirect{}, nil
	}

	args := make([]any, 0, len(hashes))
	for _, hash := range hashes {
		args = append(args, hash)
	}

	rows, err := s.DB.QueryContext(ctx, s.dialect.rebind(`
		SELECT `+redirectColumns+`
		FROM redirect
		WHERE hash IN (`+placeholders(len(hashes))+`) AND enabled = 1
		ORDER BY LENGTH(source_query) DESC, rid ASC
	`), args...)
	if err != nil {
		return nil, fmt.Errorf("find redirects: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	return scanRedirects(rows)
}

// DeleteRedirect removes a redirect and reports whether it existed.
func (s *Store) DeleteRedirect(ctx context.Context, rid int64) (bool, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return false, err
	}

	result, err := s.DB.ExecContext(ctx, s.dialect.rebind(`DELETE FROM redirect WHERE rid = ?`), rid)
	if err != nil {
		return false, fmt.Errorf("delete redirect: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete redirect: %w", err)
	}
	return affected > 0, nil
}

// ListRedirects lists redirects ordered by source path.
func (s *Store) ListRedirects(ctx context.Context, q RedirectQuery) ([]core.Redirect, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return nil, err
	}

	where := ""
	args := []any{}
	if prefix := strings.TrimLeft(strings.TrimSpace(q.Prefix), "/"); prefix != "" {
		where = "WHERE substr(source_path, 1, ?) = ?"
		args = append(args, len([]rune(prefix)), prefix)
	}
	limit := ""
	if q.Limit > 0 {
		limit = fmt.Sprintf("LIMIT %d", q.Limit)
	}

	rows, err := s.DB.QueryContext(ctx, s.dialect.rebind(fmt.Sprintf(`
		SELECT %s
		FROM redirect
		%s
		ORDER BY source_path, language, rid
		%s
	`, redirectColumns, where, limit)), args...)
	if err != nil {
		return nil, fmt.Errorf("list redirects: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	return scanRedirects(rows)
}

func scanRedirects(rows *sql.Rows) ([]core.Redirect, error) {
	redirects := []core.Redirect{}
	for rows.Next() {
		redirect, err := scanRedirect(rows)
		if err != nil {
			return nil, err
		}
		redirects = append(redirects, *redirect)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan redirects: %w", err)
	}
	return redirects, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRedirect(row rowScanner) (*core.Redirect, error) {
	var (
		redirect core.Redirect
		query    string
		enabled  int
		created  int64
	)

	err := row.Scan(&redirect.ID, &redirect.Hash, &redirect.SourcePath, &query, &redirect.Language,
		&redirect.Destination, &redirect.StatusCode, &enabled, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan redirect: %w", err)
	}

	if query != "" {
		if err := json.Unmarshal([]byte(query), &redirect.SourceQuery); err != nil {
			return nil, fmt.Errorf("decode redirect query: %w", err)
		}
	}
	redirect.Enabled = enabled != 0
	redirect.Created = time.Unix(created, 0).UTC()
	return &redirect, nil
}

func encodeQuery(query map[string]any) (string, error) {
	if len(query) == 0 {
		return "", nil
	}
	data, err := json.Marshal(query)
	if err != nil {
		return "", fmt.Errorf("encode redirect query: %w", err)
	}
	return string(data), nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
