package dispatch

import (
	"fmt"
	"strings"
)

// Kind classifies a dispatch failure.
type Kind int

const (
	// KindUnknownAction: the action name is not recognised. Nothing was run.
	KindUnknownAction Kind = iota
	// KindInvalidIdentifier: the rollback payload is not a snapshot identifier. Nothing was run.
	KindInvalidIdentifier
	// KindExecutionFailed: the executor could not be started or exited unsuccessfully.
	KindExecutionFailed
	// KindTimeout: the executor was stopped after the action timeout elapsed.
	KindTimeout
	// KindBusy: another process holds the backup root lock.
	KindBusy
	// KindCanceled: the caller gave up while waiting or while the executor ran.
	KindCanceled
	// KindLockFailed: the backup root lock could not be written. Nothing was run.
	KindLockFailed
)

var kindToString = map[Kind]string{
	KindUnknownAction:     "unknown action",
	KindInvalidIdentifier: "invalid identifier",
	KindExecutionFailed:   "execution failed",
	KindTimeout:           "timeout",
	KindBusy:              "busy",
	KindCanceled:          "canceled",
	KindLockFailed:        "lock failed",
}

func (k Kind) String() string {
	if str, ok := kindToString[k]; ok {
		return str
	}
	return fmt.Sprintf("unknown_kind(%d)", int(k))
}

// Error is returned by Dispatch for every failed request.
type Error struct {
	Kind    Kind
	Action  string
	Payload string
	// ExitStatus and Stderr are set when the executor ran.
	ExitStatus int
	Stderr     string
	Err        error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindUnknownAction:
		return fmt.Sprintf("unknown action %q", e.Action)
	case KindInvalidIdentifier:
		return fmt.Sprintf("invalid snapshot identifier %q: expected <tier>/backup_YYYY-MM-DD_HH-MM-SS", e.Payload)
	case KindExecutionFailed:
		msg := fmt.Sprintf("action %s failed with exit status %d", e.Action, e.ExitStatus)
		if s := strings.TrimSpace(e.Stderr); s != "" {
			msg += ": " + s
		} else if e.Err != nil {
			msg += ": " + e.Err.Error()
		}
		return msg
	case KindTimeout:
		return fmt.Sprintf("action %s timed out", e.Action)
	case KindBusy, KindCanceled:
		return fmt.Sprintf("action %s not completed: %v", e.Action, e.Err)
	case KindLockFailed:
		return fmt.Sprintf("action %s not started: could not lock backup root: %v", e.Action, e.Err)
	default:
		return fmt.Sprintf("action %s: %s", e.Action, e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// IsCallerError reports whether the request itself was malformed, as opposed
// to a failure while carrying it out.
func (e *Error) IsCallerError() bool {
	return e.Kind == KindUnknownAction || e.Kind == KindInvalidIdentifier
}
