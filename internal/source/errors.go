package source

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lobbyharvest/internal/model"
	"github.com/sells-group/lobbyharvest/internal/resilience"
)

// Error is an adapter error tagged with its taxonomy kind.
type Error struct {
	Kind model.ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NotFound reports that the query ran but the registry holds no matching entity.
func NotFound(format string, args ...any) error {
	return &Error{Kind: model.ErrNotFound, Err: eris.Errorf(format, args...)}
}

// Parse reports that the registry's response no longer matches what the
// adapter expects.
func Parse(err error, msg string) error {
	if err == nil {
		err = eris.New(msg)
	} else {
		err = eris.Wrap(err, msg)
	}
	return &Error{Kind: model.ErrParse, Err: err}
}

// Parsef is Parse with a formatted message and no cause.
func Parsef(format string, args ...any) error {
	return &Error{Kind: model.ErrParse, Err: eris.Errorf(format, args...)}
}

// Transient reports a retryable network or server failure. statusCode is the
// HTTP status if there was one, or 0.
func Transient(err error, statusCode int) error {
	return &Error{Kind: model.ErrTransientFetch, Err: resilience.NewTransientError(err, statusCode)}
}

// Incomplete reports that the records accompanying it are only part of what
// the registry holds.
func Incomplete(err error, msg string) error {
	if err == nil {
		return &Error{Kind: model.ErrIncomplete, Err: eris.New(msg)}
	}
	return &Error{Kind: model.ErrIncomplete, Err: eris.Wrap(err, msg)}
}

// KindOf classifies err into the taxonomy. Tagged errors keep their kind;
// context errors map to timeout and cancelled; transient network failures map
// to transient_fetch_error; everything else is internal.
func KindOf(err error) model.ErrorKind {
	if err == nil {
		return ""
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		return model.ErrTransientFetch
	case errors.Is(err, context.DeadlineExceeded):
		return model.ErrTimeout
	case errors.Is(err, context.Canceled):
		return model.ErrCancelled
	case resilience.IsTransient(err):
		return model.ErrTransientFetch
	default:
		return model.ErrInternal
	}
}

// Retryable reports whether the dispatcher may retry after err. A breaker
// rejection is never retried: the breaker would reject the retry too.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, resilience.ErrCircuitOpen) {
		return false
	}
	return KindOf(err).Retryable()
}

// Tag wraps err with an explicit kind, keeping the chain intact.
func Tag(kind model.ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}
