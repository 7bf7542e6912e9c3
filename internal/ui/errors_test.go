package ui

import (
	"errors"
	"strings"
	"testing"

	"github.com/governedworks/wbs/internal/types"
)

func TestFormatErrorCodes(t *testing.T) {
	cases := []struct {
		err  error
		code string
	}{
		{types.NewError(types.ErrNotFound, "packet X not found"), "WBS-E-001"},
		{types.NewError(types.ErrBlockedByDeps, "blocked by A (not done yet)"), "WBS-E-003"},
		{types.NewError(types.ErrPreconditionFailed, "packet X is not pending"), "WBS-E-002"},
		{types.NewError(types.ErrPreconditionFailed, "cannot close out 1.0: incomplete packets: A(pending)"), "WBS-E-302"},
		{types.NewError(types.ErrPreconditionFailed, "drift assessment validation failed: missing required section: ## Residual Risks"), "WBS-E-303"},
		{types.NewError(types.ErrPreconditionFailed, "packet X has active handover; resume before done"), "WBS-E-005"},
		{types.NewError(types.ErrPolicyDenied, "supervisor denied: agent required"), "WBS-E-101"},
		{types.NewError(types.ErrLockTimeout, "timed out waiting for lock"), "WBS-E-201"},
	}
	for _, tc := range cases {
		out := FormatError(tc.err)
		if !strings.Contains(out, tc.code) {
			t.Errorf("FormatError(%v) = %q, want code %s", tc.err, out, tc.code)
		}
		if !strings.Contains(out, "Action:") {
			t.Errorf("FormatError(%v) missing action hint: %q", tc.err, out)
		}
	}
}

func TestFormatErrorPassthrough(t *testing.T) {
	plain := errors.New("plain failure")
	if got := FormatError(plain); got != "plain failure" {
		t.Errorf("FormatError(plain) = %q", got)
	}
}
