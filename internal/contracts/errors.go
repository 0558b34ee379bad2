package contracts

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so every layer can react to it without string matching
type Kind string

const (
	KindNotFound         Kind = "not_found"
	KindAlreadyExists    Kind = "already_exists"
	KindValidationFailed Kind = "validation_failed"
	KindInvalidArguments Kind = "invalid_arguments"
	KindDisabled         Kind = "disabled"
	KindRateLimited      Kind = "rate_limited"
	KindTimeout          Kind = "timeout"
	KindAuthFailed       Kind = "auth_failed"
	KindUpstreamError    Kind = "upstream_error"
	KindInternal         Kind = "internal"
)

// Sentinels for errors.Is comparisons. Only the kind is compared.
var (
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrAlreadyExists    = &Error{Kind: KindAlreadyExists}
	ErrValidationFailed = &Error{Kind: KindValidationFailed}
	ErrInvalidArguments = &Error{Kind: KindInvalidArguments}
	ErrDisabled         = &Error{Kind: KindDisabled}
	ErrRateLimited      = &Error{Kind: KindRateLimited}
	ErrTimeout          = &Error{Kind: KindTimeout}
	ErrAuthFailed       = &Error{Kind: KindAuthFailed}
	ErrUpstreamError    = &Error{Kind: KindUpstreamError}
)

// Error is the gateway error type carrying a Kind
type Error struct {
	Kind    Kind
	Op      string // operation that failed, e.g. "install_connector"
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports kind equality so sentinels match any error of the same kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// NewError creates an error of the given kind
func NewError(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// WrapError creates an error of the given kind around a cause
func WrapError(kind Kind, op string, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the outermost *Error in the chain, or KindInternal
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
