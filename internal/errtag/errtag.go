// Package errtag provides errors carrying a stable machine-readable tag
// suitable for programmatic dispatch alongside the human message.
package errtag

import (
	"errors"
	"fmt"
)

// Well-known tags.
const (
	StoragePathEscape = "storage_path_escape"
	ParseError        = "parse_error"
	InvalidConfig     = "invalid_config"
	InvalidBucket     = "invalid_bucket_count"
	NotInitialized    = "not_initialized"
	BudgetExhausted   = "budget_exhausted"
)

// Error is an error with a stable tag. Two Errors with the same tag
// satisfy errors.Is regardless of message, so callers can dispatch on
// sentinel values built with New.
type Error struct {
	Tag string
	Msg string
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Tag, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Tag, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return te.Tag == e.Tag
	}
	return false
}

// New builds a tagged error.
func New(tag, format string, args ...interface{}) *Error {
	return &Error{Tag: tag, Msg: fmt.Sprintf(format, args...)}
}

// Wrap builds a tagged error around a cause.
func Wrap(tag string, err error, format string, args ...interface{}) *Error {
	return &Error{Tag: tag, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Tag extracts the tag from an error chain, or "" if untagged.
func Tag(err error) string {
	var te *Error
	if errors.As(err, &te) {
		return te.Tag
	}
	return ""
}
