package errors

import (
	"context"
	stderrors "errors"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/google/uuid"

	"github.com/floodgate/floodgate/internal/core/flood"
	"github.com/floodgate/floodgate/internal/core/redirect"
	"github.com/floodgate/floodgate/internal/server/middleware"
)

// Error codes shared by the HTTP API and CLI.
const (
	CodeInvalidInput       = "INVALID_INPUT"
	CodeValidationFailed   = "VALIDATION_FAILED"
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeConflict           = "CONFLICT"
	CodeRateLimited        = "RATE_LIMITED"
	CodeRedirectLoop       = "REDIRECT_LOOP"
	CodeInternal           = "INTERNAL_ERROR"
	CodeDatabase           = "DATABASE_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeExternalService    = "EXTERNAL_SERVICE_ERROR"
	CodeTimeout            = "TIMEOUT"
	CodeConfigInvalid      = "CONFIG_INVALID"
)

func NewInvalidInputError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeInvalidInput, message)
}

func NewNotFoundError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeNotFound, message)
}

func NewMethodNotAllowedError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeMethodNotAllowed, message)
}

// NewRateLimitedError reports a blocked flood check.
func NewRateLimitedError(message string) *errors.ErrorEnvelope {
	env, _ := errors.NewErrorEnvelope(CodeRateLimited, message).WithSeverity(errors.SeverityMedium)
	return env
}

func NewInternalError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeInternal, message)
}

func NewConfigInvalidError(message string) *errors.ErrorEnvelope {
	env, _ := errors.NewErrorEnvelope(CodeConfigInvalid, message).WithSeverity(errors.SeverityHigh)
	return env
}

// Wrap builds an envelope for err with the request ID from ctx as both
// correlation and trace ID. A nil err adds no context.
func Wrap(ctx context.Context, code string, err error, message string) *errors.ErrorEnvelope {
	id := correlationID(ctx)
	envelope := errors.NewErrorEnvelope(code, message).WithCorrelationID(id).WithTraceID(id)
	if err == nil {
		return envelope
	}
	if updated, ctxErr := envelope.WithContext(map[string]interface{}{"wrapped_error": err.Error()}); ctxErr == nil {
		envelope = updated
	}
	return envelope
}

func WrapInvalidInput(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return Wrap(ctx, CodeInvalidInput, err, message)
}

func WrapNotFound(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return Wrap(ctx, CodeNotFound, err, message)
}

func WrapDatabaseError(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	env, _ := Wrap(ctx, CodeDatabase, err, message).WithSeverity(errors.SeverityHigh)
	return env
}

func WrapInternal(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	env, _ := Wrap(ctx, CodeInternal, err, message).WithSeverity(errors.SeverityHigh)
	return env
}

func WrapConfigInvalid(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	env, _ := Wrap(ctx, CodeConfigInvalid, err, message).WithSeverity(errors.SeverityHigh)
	return env
}

// WrapRedirectLoop reports a redirect chain that revisits a redirect.
func WrapRedirectLoop(ctx context.Context, loop *redirect.LoopError) *errors.ErrorEnvelope {
	env := Wrap(ctx, CodeRedirectLoop, nil, loop.Error()).WithDetails(map[string]interface{}{
		"path": loop.Path,
		"rid":  loop.ID,
	})
	env, _ = env.WithSeverity(errors.SeverityMedium)
	return env
}

// FromDomain maps flood and redirect errors onto envelopes. Anything it does
// not recognize becomes a database error, since storage is the only other
// failure source below the HTTP layer.
func FromDomain(ctx context.Context, err error) *errors.ErrorEnvelope {
	if err == nil {
		return nil
	}

	var envelope *errors.ErrorEnvelope
	if stderrors.As(err, &envelope) && envelope != nil {
		return envelope
	}

	var loop *redirect.LoopError
	switch {
	case stderrors.As(err, &loop):
		return WrapRedirectLoop(ctx, loop)
	case stderrors.Is(err, redirect.ErrNotFound):
		return WrapNotFound(ctx, err, "redirect not found")
	case stderrors.Is(err, redirect.ErrDuplicate):
		return Wrap(ctx, CodeConflict, err, "source path is already redirected")
	case stderrors.Is(err, redirect.ErrInvalid), stderrors.Is(err, redirect.ErrSelfRedirect):
		return Wrap(ctx, CodeValidationFailed, err, err.Error())
	case stderrors.Is(err, flood.ErrNoIdentifier):
		return WrapInvalidInput(ctx, err, "identifier is required")
	case stderrors.Is(err, context.DeadlineExceeded):
		return Wrap(ctx, CodeTimeout, err, "operation timed out")
	default:
		return WrapDatabaseError(ctx, err, "storage operation failed")
	}
}

// EnsureEnvelope returns err as an envelope, wrapping foreign errors as
// INTERNAL_ERROR. nil becomes a critical "unexpected nil error".
func EnsureEnvelope(err error) *errors.ErrorEnvelope {
	if err == nil {
		env, _ := errors.NewErrorEnvelope(CodeInternal, "unexpected nil error").WithSeverity(errors.SeverityCritical)
		return env
	}

	var envelope *errors.ErrorEnvelope
	if stderrors.As(err, &envelope) && envelope != nil {
		return envelope
	}

	wrapped, _ := errors.NewErrorEnvelope(CodeInternal, "unexpected error").WithContext(map[string]interface{}{
		"wrapped_error": err.Error(),
	})
	wrapped, _ = wrapped.WithSeverity(errors.SeverityHigh)
	return wrapped
}

// correlationID prefers the request ID carried by ctx.
func correlationID(ctx context.Context) string {
	if ctx != nil {
		if id := middleware.GetRequestID(ctx); id != "" {
			return id
		}
	}
	return uuid.NewString()
}
