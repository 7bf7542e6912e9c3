package ui

import (
	"errors"
	"fmt"
	"strings"

	"github.com/governedworks/wbs/internal/types"
)

// errorHint pairs a stable code with a next-step suggestion.
type errorHint struct {
	code string
	hint string
}

var kindHints = map[types.ErrorKind]errorHint{
	types.ErrNotFound:       {"WBS-E-001", "Check the packet id against `wbs status`."},
	types.ErrBlockedByDeps:  {"WBS-E-003", "Finish the blocking packet first; `wbs ready` lists what is claimable."},
	types.ErrPolicyDenied:   {"WBS-E-101", "Review the agent registry with `wbs agent list` or supply the missing field."},
	types.ErrLockTimeout:    {"WBS-E-201", "Another process holds the state lock; retry, or remove a stale lock file."},
	types.ErrSchemaMismatch: {"WBS-E-202", "Run `wbs verify` and migrate the state file before mutating."},
	types.ErrIO:             {"WBS-E-203", "Check file permissions and disk space under the project directory."},
	types.ErrIntegrity:      {"WBS-E-301", "Run `wbs verify --mode full` to locate the corrupted packet chain."},
}

// preconditionHint refines precondition failures by message shape.
func preconditionHint(msg string) errorHint {
	switch {
	case strings.Contains(msg, "incomplete packets"):
		return errorHint{"WBS-E-302", "Complete or reset the listed packets before closing the area."}
	case strings.Contains(msg, "required section"), strings.Contains(msg, "assessment file"):
		return errorHint{"WBS-E-303", "Fill in every required section of the drift assessment."}
	case strings.Contains(msg, "handover"):
		return errorHint{"WBS-E-005", "Resume the active handover with `wbs resume` before continuing."}
	case strings.Contains(msg, "not pending"):
		return errorHint{"WBS-E-002", "Only pending packets can be claimed; see `wbs status`."}
	default:
		return errorHint{"WBS-E-004", "The packet is not in the right status for this action; see `wbs status`."}
	}
}

// FormatError renders an error with its stable code and a suggested action.
// Non-domain errors pass through unchanged.
func FormatError(err error) string {
	var ke *types.Error
	if !errors.As(err, &ke) {
		return err.Error()
	}
	h, ok := kindHints[ke.Kind]
	if !ok {
		if ke.Kind == types.ErrPreconditionFailed {
			h = preconditionHint(ke.Message)
		} else {
			return err.Error()
		}
	}
	code := TableHintStyle.Render("[" + h.code + "]")
	return fmt.Sprintf("%s %s\nAction: %s", code, RenderFail(err.Error()), h.hint)
}
