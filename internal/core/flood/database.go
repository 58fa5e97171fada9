package flood

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/floodgate/floodgate/internal/core"
	"github.com/floodgate/floodgate/internal/observability"
)

// EventStore is the persistence surface the database backend needs.
// store.Store implements it for libsql and postgres.
type EventStore interface {
	InsertFloodEvent(ctx context.Context, event core.FloodEvent) error
	CountFloodEvents(ctx context.Context, name, identifier string, after int64) (int, error)
	DeleteFloodEvents(ctx context.Context, name, identifier string) (int64, error)
	DeleteFloodEventsByPrefix(ctx context.Context, name, prefix string) (int64, error)
	DeleteExpiredFloodEvents(ctx context.Context, now int64) (int64, error)
	CreateFloodTable(ctx context.Context) error
	FloodTableExists(ctx context.Context) (bool, error)
}

// DatabaseBackend stores flood events in a SQL table that is created on the
// first failed write rather than by migrations.
type DatabaseBackend struct {
	events EventStore
	clock  Clock
}

// NewDatabaseBackend builds a database backend. A nil clock uses UTC wall time.
func NewDatabaseBackend(events EventStore, clock Clock) (*DatabaseBackend, error) {
	if events == nil {
		return nil, errors.New("flood: event store is required")
	}
	if clock == nil {
		clock = systemClock
	}
	return &DatabaseBackend{events: events, clock: clock}, nil
}

func (b *DatabaseBackend) Register(ctx context.Context, name string, window time.Duration, identifier string) error {
	identifier, err := resolveIdentifier(ctx, identifier)
	if err != nil {
		return err
	}

	now := b.clock().Unix()
	event := core.FloodEvent{
		Event:      name,
		Identifier: identifier,
		Timestamp:  now,
		Expiration: now + windowSeconds(window),
	}

	insertErr := b.events.InsertFloodEvent(ctx, event)
	if insertErr == nil {
		return nil
	}
	if !b.ensureTableExists(ctx) {
		return insertErr
	}
	return b.events.InsertFloodEvent(ctx, event)
}

func (b *DatabaseBackend) IsAllowed(ctx context.Context, name string, threshold int, window time.Duration, identifier string) (bool, error) {
	identifier, err := resolveIdentifier(ctx, identifier)
	if err != nil {
		return false, err
	}

	after := b.clock().Unix() - windowSeconds(window)
	count, err := b.events.CountFloodEvents(ctx, name, identifier, after)
	if err != nil {
		if err := b.catchError(ctx, err); err != nil {
			return false, err
		}
		return true, nil
	}
	return count < threshold, nil
}

func (b *DatabaseBackend) Clear(ctx context.Context, name string, identifier string) error {
	identifier, err := resolveIdentifier(ctx, identifier)
	if err != nil {
		return err
	}

	if _, err := b.events.DeleteFloodEvents(ctx, name, identifier); err != nil {
		return b.catchError(ctx, err)
	}
	return nil
}

func (b *DatabaseBackend) ClearByPrefix(ctx context.Context, name string, prefix string) error {
	if _, err := b.events.DeleteFloodEventsByPrefix(ctx, name, prefix); err != nil {
		return b.catchError(ctx, err)
	}
	return nil
}

func (b *DatabaseBackend) GarbageCollection(ctx context.Context) (int64, error) {
	removed, err := b.events.DeleteExpiredFloodEvents(ctx, b.clock().Unix())
	if err != nil {
		return 0, b.catchError(ctx, err)
	}
	return removed, nil
}

// ensureTableExists creates the flood table and reports whether it exists
// afterwards. Losing a creation race to another writer still counts.
func (b *DatabaseBackend) ensureTableExists(ctx context.Context) bool {
	createErr := b.events.CreateFloodTable(ctx)
	if createErr == nil {
		return true
	}

	exists, err := b.events.FloodTableExists(ctx)
	if err != nil {
		if logger := observability.Logger(); logger != nil {
			logger.Debug("Flood table existence check failed",
				zap.Error(err),
				zap.NamedError("create_error", createErr))
		}
		return false
	}
	return exists
}

// catchError swallows failures caused by the flood table not existing yet.
func (b *DatabaseBackend) catchError(ctx context.Context, cause error) error {
	exists, err := b.events.FloodTableExists(ctx)
	if err != nil {
		return fmt.Errorf("%w (table check: %v)", cause, err)
	}
	if exists {
		return cause
	}
	return nil
}
