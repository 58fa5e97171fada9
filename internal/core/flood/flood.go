// Package flood records named events per identifier and answers whether an
// identifier is still under a threshold within a time window.
package flood

import (
	"context"
	"errors"
	"strings"
	"time"
)

// DefaultWindow is used when a caller passes a non-positive window.
const DefaultWindow = time.Hour

// ErrNoIdentifier is returned when no identifier was given and the context
// carries no client IP to fall back on.
var ErrNoIdentifier = errors.New("flood: identifier is required")

// Backend is the flood control contract shared by the database, redis and
// memory implementations.
type Backend interface {
	// Register records one occurrence of name for identifier. The event
	// expires window after now.
	Register(ctx context.Context, name string, window time.Duration, identifier string) error

	// IsAllowed reports whether fewer than threshold events of name were
	// registered for identifier within the last window.
	IsAllowed(ctx context.Context, name string, threshold int, window time.Duration, identifier string) (bool, error)

	// Clear removes every event of name for identifier.
	Clear(ctx context.Context, name string, identifier string) error

	// ClearByPrefix removes events of name whose identifier starts with prefix.
	ClearByPrefix(ctx context.Context, name string, prefix string) error

	// GarbageCollection removes expired events and returns how many went.
	GarbageCollection(ctx context.Context) (int64, error)
}

// Clock returns the current time. Backends default to time.Now in UTC.
type Clock func() time.Time

func systemClock() time.Time {
	return time.Now().UTC()
}

type clientIPKey struct{}

// WithClientIP stores the requesting client's address for identifier fallback.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, strings.TrimSpace(ip))
}

// ClientIP returns the address stored by WithClientIP, or "".
func ClientIP(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

func resolveIdentifier(ctx context.Context, identifier string) (string, error) {
	if identifier != "" {
		return identifier, nil
	}
	if ip := ClientIP(ctx); ip != "" {
		return ip, nil
	}
	return "", ErrNoIdentifier
}

func normalizeWindow(window time.Duration) time.Duration {
	if window <= 0 {
		return DefaultWindow
	}
	return window
}

// windowSeconds converts a window to whole seconds, never below one.
func windowSeconds(window time.Duration) int64 {
	seconds := int64(normalizeWindow(window) / time.Second)
	if seconds < 1 {
		return 1
	}
	return seconds
}
