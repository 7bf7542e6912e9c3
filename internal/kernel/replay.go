package kernel

import (
	"strings"

	"github.com/governedworks/wbs/internal/state"
	"github.com/governedworks/wbs/internal/types"
)

// ReplayLog rebuilds runtime packet state by folding the activity log over an
// empty state. The reconstruction is equivalent to the live state modulo
// timestamps and handover detail (the log records handovers as summaries, not
// full records), which is enough to cross-check status and assignment drift.
func ReplayLog(def *types.Definition, log []types.LogEntry) *types.State {
	st := state.DefaultState()
	state.EnsurePackets(st, def)

	for _, e := range log {
		pkt := st.Packets[e.PacketID]
		if pkt == nil {
			continue
		}
		switch e.Event {
		case "started":
			pkt.Status = types.StatusInProgress
			pkt.AssignedTo = e.Agent
			pkt.StartedAt = e.Timestamp
		case "completed":
			pkt.Status = types.StatusDone
			pkt.CompletedAt = e.Timestamp
			pkt.Notes = e.Notes
		case "noted":
			pkt.Notes = e.Notes
		case "failed":
			pkt.Status = types.StatusFailed
			pkt.CompletedAt = e.Timestamp
			pkt.Notes = e.Notes
		case "blocked":
			pkt.Status = types.StatusBlocked
		case "reset":
			pkt.Status = types.StatusPending
			pkt.AssignedTo = ""
			pkt.StartedAt = ""
		case "handover":
			pkt.AssignedTo = ""
		case "resumed":
			pkt.AssignedTo = e.Agent
			if pkt.StartedAt == "" {
				pkt.StartedAt = e.Timestamp
			}
		}
	}
	return st
}

// ReplayDivergences compares a replayed state against the live one and
// reports packets whose status or assignment differ. An empty result means
// the log and the state agree.
func (k *Kernel) ReplayDivergences() ([]string, error) {
	live, err := k.Store.Load()
	if err != nil {
		return nil, err
	}
	replayed := ReplayLog(k.Def, live.Log)

	var diffs []string
	for _, p := range k.Def.Packets {
		a := live.Packets[p.ID]
		b := replayed.Packets[p.ID]
		if a == nil || b == nil {
			continue
		}
		var parts []string
		if a.Status != b.Status {
			parts = append(parts, "status "+string(b.Status)+" from log vs "+string(a.Status))
		}
		if a.AssignedTo != b.AssignedTo {
			parts = append(parts, "assignee "+orDash(b.AssignedTo)+" from log vs "+orDash(a.AssignedTo))
		}
		if len(parts) > 0 {
			diffs = append(diffs, p.ID+": "+strings.Join(parts, "; "))
		}
	}
	return diffs, nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
