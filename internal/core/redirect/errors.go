package redirect

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no enabled redirect matches.
	ErrNotFound = errors.New("redirect: not found")

	// ErrDuplicate is returned when another redirect already owns the source.
	ErrDuplicate = errors.New("redirect: source is already redirected")

	// ErrSelfRedirect is returned when a redirect points at its own source.
	ErrSelfRedirect = errors.New("redirect: destination is the source itself")

	// ErrInvalid wraps validation failures.
	ErrInvalid = errors.New("redirect: invalid")
)

// LoopError reports a redirect visited twice while following one chain.
type LoopError struct {
	Path string
	ID   int64
}

func (e *LoopError) Error() string {
	return fmt.Sprintf("redirect loop identified at %s for redirect %d", e.Path, e.ID)
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}
