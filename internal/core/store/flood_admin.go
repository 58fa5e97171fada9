package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/floodgate/floodgate/internal/core"
)

// FloodQuery selects flood rows for the admin listing and clearing commands.
type FloodQuery struct {
	All        bool
	Event      string
	Identifier string
	Prefix     string
	Limit      int
}

func (q FloodQuery) Validate() error {
	if q.All {
		return nil
	}
	if strings.TrimSpace(q.Event) != "" {
		return nil
	}
	if strings.TrimSpace(q.Identifier) != "" || strings.TrimSpace(q.Prefix) != "" {
		return errors.New("--identifier and --prefix require --event")
	}
	return errors.New("must specify --all or --event")
}

func (q FloodQuery) whereClause() (string, []any, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}
	if q.All {
		return "", nil, nil
	}

	clauses := []string{"event = ?"}
	args := []any{strings.TrimSpace(q.Event)}
	if identifier := strings.TrimSpace(q.Identifier); identifier != "" {
		clauses = append(clauses, "identifier = ?")
		args = append(args, identifier)
	} else if prefix := strings.TrimSpace(q.Prefix); prefix != "" {
		clauses = append(clauses, "substr(identifier, 1, ?) = ?")
		args = append(args, utf8.RuneCountInString(prefix), prefix)
	}
	return "WHERE " + strings.Join(clauses, " AND "), args, nil
}

// ListFloodEvents returns stored flood rows, newest first. A missing flood
// table yields an empty list.
func (s *Store) ListFloodEvents(ctx context.Context, q FloodQuery) ([]core.FloodEvent, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return nil, err
	}

	where, args, err := q.whereClause()
	if err != nil {
		return nil, err
	}

	exists, err := s.tableExists(ctx, FloodTable)
	if err != nil {
		return nil, err
	}
	if !exists {
		return []core.FloodEvent{}, nil
	}

	limit := ""
	if q.Limit > 0 {
		limit = fmt.Sprintf("LIMIT %d", q.Limit)
	}

	rows, err := s.DB.QueryContext(ctx, s.dialect.rebind(fmt.Sprintf(`
		SELECT fid, event, identifier, timestamp, expiration
		FROM flood
		%s
		ORDER BY timestamp DESC, fid DESC
		%s
	`, where, limit)), args...)
	if err != nil {
		return nil, fmt.Errorf("list flood events: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	events := []core.FloodEvent{}
	for rows.Next() {
		var event core.FloodEvent
		if err := rows.Scan(&event.ID, &event.Event, &event.Identifier, &event.Timestamp, &event.Expiration); err != nil {
			return nil, fmt.Errorf("scan flood events: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list flood events: %w", err)
	}

	return events, nil
}

// CountFloodRows counts flood rows matching the query.
func (s *Store) CountFloodRows(ctx context.Context, q FloodQuery) (int, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return 0, err
	}

	where, args, err := q.whereClause()
	if err != nil {
		return 0, err
	}

	exists, err := s.tableExists(ctx, FloodTable)
	if err != nil || !exists {
		return 0, err
	}

	row := s.DB.QueryRowContext(ctx, s.dialect.rebind(fmt.Sprintf(`
		SELECT COUNT(*)
		FROM flood
		%s
	`, where)), args...)

	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count flood events: %w", err)
	}
	return count, nil
}

// ResetFloodEvents deletes flood rows matching the query.
func (s *Store) ResetFloodEvents(ctx context.Context, q FloodQuery) (int64, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return 0, err
	}

	where, args, err := q.whereClause()
	if err != nil {
		return 0, err
	}

	exists, err := s.tableExists(ctx, FloodTable)
	if err != nil || !exists {
		return 0, err
	}

	return s.deleteFlood(ctx, "DELETE FROM flood "+where, args...)
}
