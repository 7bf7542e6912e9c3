// Package activity appends events to the in-state activity log and verifies
// the optional hash chain over it.
//
// In plain mode entries carry only descriptive fields. In hash_chain mode
// each entry additionally gets a monotone event_id ("evt-%08d" over hashed
// entries only), the previous hashed entry's hash, and its own SHA-256 over
// the canonical JSON of the seven-field payload. Appends happen inside the
// same state transaction as the mutation they describe, so the chain and the
// state can never diverge by a crash between them.
package activity

import (
	"fmt"
	"strings"

	"github.com/governedworks/wbs/internal/canonical"
	"github.com/governedworks/wbs/internal/types"
)

const (
	ModePlain     = "plain"
	ModeHashChain = "hash_chain"
)

var modeAliases = map[string]string{
	"plain":          ModePlain,
	"off":            ModePlain,
	"disabled":       ModePlain,
	"none":           ModePlain,
	"hash":           ModeHashChain,
	"hash_chain":     ModeHashChain,
	"tamper_evident": ModeHashChain,
}

// NormalizeMode maps historical mode spellings onto plain|hash_chain.
// Unknown values fall back to plain.
func NormalizeMode(value string) string {
	token := strings.ToLower(strings.TrimSpace(value))
	token = strings.ReplaceAll(token, "-", "_")
	token = strings.ReplaceAll(token, " ", "_")
	if m, ok := modeAliases[token]; ok {
		return m
	}
	return ModePlain
}

// hashPayload is the exact field set the entry hash covers. Adding a field
// here is a chain-breaking change.
func hashPayload(e *types.LogEntry) map[string]any {
	prev := ""
	if e.PrevHash != nil {
		prev = *e.PrevHash
	}
	return map[string]any{
		"packet_id": e.PacketID,
		"event":     e.Event,
		"agent":     e.Agent,
		"timestamp": e.Timestamp,
		"notes":     e.Notes,
		"event_id":  e.EventID,
		"prev_hash": prev,
	}
}

// EntryHash computes the chain hash of a (fully populated) entry.
func EntryHash(e *types.LogEntry) string {
	return canonical.MustHash(hashPayload(e))
}

// Append builds an event for the state's current log integrity mode and
// appends it to state.Log. The caller persists the state afterwards; both
// land in the same atomic write.
func Append(state *types.State, packetID, event, agent, notes string) {
	entry := types.LogEntry{
		PacketID:  packetID,
		Event:     event,
		Agent:     agent,
		Timestamp: types.NowUTC(),
		Notes:     notes,
	}

	if NormalizeMode(state.LogIntegrityMode) == ModeHashChain {
		prev := ""
		index := 1
		for i := range state.Log {
			if state.Log[i].Hashed() {
				prev = state.Log[i].Hash
				index++
			}
		}
		entry.EventID = fmt.Sprintf("evt-%08d", index)
		entry.PrevHash = &prev
		entry.Hash = EntryHash(&entry)
	}

	state.Log = append(state.Log, entry)
}

// Verify scans the log in order and checks the hash chain invariants:
// sequential event ids over hashed entries, prev_hash linkage, and entry
// hash recomputation. Plain entries before and between hashed entries are
// permitted; an entry with a partial chain field set is fatal.
func Verify(log []types.LogEntry) (bool, []string) {
	var issues []string
	lastHash := ""
	hashed := 0

	for i := range log {
		e := &log[i]
		if e.PartialChain() {
			issues = append(issues, fmt.Sprintf("log[%d] has partial hash-chain fields (requires event_id, prev_hash, hash)", i))
			continue
		}
		if !e.Hashed() {
			continue
		}

		hashed++
		wantID := fmt.Sprintf("evt-%08d", hashed)
		if e.EventID != wantID {
			issues = append(issues, fmt.Sprintf("log[%d] event_id mismatch (expected %s, got %s)", i, wantID, e.EventID))
		}
		if *e.PrevHash != lastHash {
			issues = append(issues, fmt.Sprintf("log[%d] prev_hash mismatch", i))
		}
		if EntryHash(e) != e.Hash {
			issues = append(issues, fmt.Sprintf("log[%d] hash mismatch", i))
		}
		lastHash = e.Hash
	}

	return len(issues) == 0, issues
}
