// Package hints labels "soft failures": outcomes that end an operation early
// without being an error worth alerting on.
//
// Examples in this tool are "the user cancelled the rollback prompt" or
// "there is no snapshot to resolve 'latest' against". Commands check for a
// hint and exit cleanly instead of reporting a failure. Consumers detect hints
// by behaviour (an IsHint method) so they don't have to import the sentinel
// errors of every producing package.
package hints

import (
	"errors"
	"fmt"
)

type hintErr struct {
	err error
}

func (h *hintErr) Error() string {
	if h == nil || h.err == nil {
		return "unknown hint"
	}
	return h.err.Error()
}
func (h *hintErr) IsHint() bool  { return true }
func (h *hintErr) Unwrap() error { return h.err }

// New creates a hint from a string.
func New(msg string) error {
	return &hintErr{err: errors.New(msg)}
}

// Newf creates a hint from a format string. %w verbs are honoured.
func Newf(format string, args ...any) error {
	return &hintErr{err: fmt.Errorf(format, args...)}
}

// Wrap promotes an existing error to a hint.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	return &hintErr{err: err}
}

// IsHint reports whether any error in the chain behaves like a hint.
func IsHint(err error) bool {
	var h interface{ IsHint() bool }
	return errors.As(err, &h) && h.IsHint()
}

// Is reports whether err is a hint AND matches target.
func Is(err, target error) bool {
	return IsHint(err) && errors.Is(err, target)
}
