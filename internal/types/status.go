package types

import "strings"

// Status is the canonical runtime status of a packet. State files written by
// older tooling carry schema-form (UPPER_CASE) and legacy synonym values;
// NormalizeStatus maps every historical variant onto this set. Writes must
// always emit the canonical lowercase form.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
	StatusBlocked    Status = "blocked"
)

var statusAliases = map[string]Status{
	"pending":     StatusPending,
	"draft":       StatusPending,
	"in_progress": StatusInProgress,
	"inprogress":  StatusInProgress,
	"done":        StatusDone,
	"complete":    StatusDone,
	"completed":   StatusDone,
	"failed":      StatusFailed,
	"fail":        StatusFailed,
	"blocked":     StatusBlocked,
}

// NormalizeStatus maps any historical status spelling to the canonical
// runtime domain. Unknown or empty values normalize to pending, the status a
// packet has before its first transition.
func NormalizeStatus(value string) Status {
	token := strings.ToLower(strings.TrimSpace(value))
	token = strings.ReplaceAll(token, "-", "_")
	token = strings.ReplaceAll(token, " ", "_")
	if s, ok := statusAliases[token]; ok {
		return s
	}
	return StatusPending
}

// IsTerminal reports whether the status has no outgoing transitions other
// than reset (failed and blocked re-enter via reset; done never does).
func (s Status) IsTerminal() bool {
	return s == StatusDone
}

// Active reports whether the packet still counts toward cascade propagation:
// failing an upstream packet blocks dependents that are pending/in_progress.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusInProgress
}
