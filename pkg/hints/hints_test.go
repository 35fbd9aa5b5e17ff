package hints_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/paulschiretz/pgl-snapctl/pkg/hints"
)

func TestHint(t *testing.T) {
	var (
		errBase      = errors.New("base error")
		errAnother   = errors.New("another error")
		errHinted    = hints.Wrap(errBase)
		errHintedMsg = hints.New("hint message")
		errHintedFmt = hints.Newf("no snapshots in %s: %w", "hourly", errBase)
	)

	t.Run("Wrap nil", func(t *testing.T) {
		if hints.Wrap(nil) != nil {
			t.Error("Wrap(nil) should return nil")
		}
	})

	t.Run("Messages", func(t *testing.T) {
		if errHintedMsg.Error() != "hint message" {
			t.Errorf("expected error message %q, got %q", "hint message", errHintedMsg.Error())
		}
		if errHintedFmt.Error() != "no snapshots in hourly: base error" {
			t.Errorf("unexpected formatted message %q", errHintedFmt.Error())
		}
	})

	t.Run("IsHint", func(t *testing.T) {
		testCases := []struct {
			name     string
			err      error
			expected bool
		}{
			{"NilError", nil, false},
			{"StandardError", errBase, false},
			{"HintedError", errHinted, true},
			{"HintedMsgError", errHintedMsg, true},
			{"HintedFmtError", errHintedFmt, true},
			{"WrappedHint", fmt.Errorf("wrapper: %w", errHinted), true},
			{"WrappedStandardError", fmt.Errorf("wrapper: %w", errBase), false},
			{"DoubleWrappedHint", fmt.Errorf("outer: %w", fmt.Errorf("inner: %w", errHinted)), true},
		}

		for _, tc := range testCases {
			t.Run(tc.name, func(t *testing.T) {
				if got := hints.IsHint(tc.err); got != tc.expected {
					t.Errorf("IsHint() = %v, want %v", got, tc.expected)
				}
			})
		}
	})

	t.Run("Is", func(t *testing.T) {
		if !hints.Is(errHinted, errBase) {
			t.Error("Is(hinted, base) should be true")
		}
		if !hints.Is(errHintedFmt, errBase) {
			t.Error("Is(hintedFmt, base) should be true through %w")
		}
		if hints.Is(errBase, errBase) {
			t.Error("Is(base, base) should be false because it is not a hint")
		}
		if hints.Is(errHinted, errAnother) {
			t.Error("Is(hinted, another) should be false")
		}
	})
}
