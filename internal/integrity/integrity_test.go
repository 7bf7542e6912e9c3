package integrity

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/governedworks/wbs/internal/activity"
	"github.com/governedworks/wbs/internal/dcl"
	"github.com/governedworks/wbs/internal/state"
	"github.com/governedworks/wbs/internal/types"
)

func fixture(t *testing.T) (*dcl.Ledger, *types.State, string) {
	t.Helper()
	dir := t.TempDir()
	ledger := dcl.New(filepath.Join(dir, "dcl"), filepath.Join(dir, "constitution.md"))
	lockPath := filepath.Join(dir, "dcl-config.json")
	if err := dcl.WriteConfigLock(lockPath); err != nil {
		t.Fatal(err)
	}

	st := state.DefaultState()
	st.Packets["PKT-1"] = &types.PacketState{Status: types.StatusInProgress, AssignedTo: "alice", StartedAt: types.NowUTC()}

	if _, err := ledger.WriteCommit(dcl.CommitInput{
		PacketID:  "PKT-1",
		Action:    "claim",
		Actor:     "alice",
		PreState:  map[string]any{"status": "pending"},
		PostState: st.Packets["PKT-1"].Snapshot(),
	}); err != nil {
		t.Fatal(err)
	}
	return ledger, st, lockPath
}

func TestVerifyCleanProject(t *testing.T) {
	ledger, st, lockPath := fixture(t)
	for _, mode := range []string{ModeFast, ModeFull} {
		report, err := Verify(ledger, st, lockPath, mode)
		if err != nil {
			t.Fatal(err)
		}
		if !report.OK {
			t.Errorf("%s: report not ok: %+v", mode, report)
		}
		if report.PacketCount != 1 || report.PacketsChecked != 1 || report.CommitsVerified != 1 {
			t.Errorf("%s: counts = %d/%d/%d", mode, report.PacketCount, report.PacketsChecked, report.CommitsVerified)
		}
	}
}

func TestVerifyMissingConfigLock(t *testing.T) {
	ledger, st, _ := fixture(t)
	report, err := Verify(ledger, st, filepath.Join(t.TempDir(), "absent.json"), ModeFast)
	if err != nil {
		t.Fatal(err)
	}
	if report.OK {
		t.Fatal("missing config lock reported ok")
	}
	if report.ConfigLock.Present {
		t.Error("config lock marked present")
	}
	if report.IntegrityErrors == 0 {
		t.Error("integrity_errors = 0")
	}
}

func TestVerifyConfigLockMismatch(t *testing.T) {
	ledger, st, lockPath := fixture(t)
	st.SchemaVersion = "9.9"
	report, err := Verify(ledger, st, lockPath, ModeFast)
	if err != nil {
		t.Fatal(err)
	}
	if report.OK {
		t.Fatal("schema mismatch reported ok")
	}
	joined := strings.Join(report.ConfigLock.Issues, "\n")
	if !strings.Contains(joined, "state_schema_version") {
		t.Errorf("issues = %v", report.ConfigLock.Issues)
	}
}

func TestVerifyFullModeCatchesRuntimeDrift(t *testing.T) {
	ledger, st, lockPath := fixture(t)
	st.Packets["PKT-1"].Status = types.StatusDone

	fast, err := Verify(ledger, st, lockPath, ModeFast)
	if err != nil {
		t.Fatal(err)
	}
	if !fast.OK {
		t.Errorf("fast mode flagged structural-clean chain: %+v", fast.VerificationIssues)
	}

	full, err := Verify(ledger, st, lockPath, ModeFull)
	if err != nil {
		t.Fatal(err)
	}
	if full.OK {
		t.Fatal("full mode missed runtime drift")
	}
	if !strings.Contains(strings.Join(full.VerificationIssues["PKT-1"], "\n"), "runtime state mismatch") {
		t.Errorf("issues = %v", full.VerificationIssues)
	}
}

func TestVerifyBlockedJournal(t *testing.T) {
	ledger, st, lockPath := fixture(t)
	// A prepare journal with no durable commit blocks the packet.
	journalDir := filepath.Join(ledger.Root, "packets", "PKT-9")
	if err := os.MkdirAll(journalDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(journalDir, "journal.json"),
		[]byte(`{"stage":"prepare","seq":1,"commit_hash":"deadbeef"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	report, err := Verify(ledger, st, lockPath, ModeFast)
	if err != nil {
		t.Fatal(err)
	}
	if report.OK {
		t.Fatal("blocked journal reported ok")
	}
	if len(report.JournalRecovery.Issues) != 1 || report.JournalRecovery.Issues[0].PacketID != "PKT-9" {
		t.Errorf("journal issues = %+v", report.JournalRecovery.Issues)
	}
}

func TestVerifyActivityLogTamper(t *testing.T) {
	ledger, st, lockPath := fixture(t)
	st.LogIntegrityMode = activity.ModeHashChain
	activity.Append(st, "PKT-1", "started", "alice", "claimed")
	st.Log[len(st.Log)-1].Notes = "rewritten"

	report, err := Verify(ledger, st, lockPath, ModeFast)
	if err != nil {
		t.Fatal(err)
	}
	if report.OK || report.ActivityLog.OK {
		t.Fatal("tampered log reported ok")
	}
}
