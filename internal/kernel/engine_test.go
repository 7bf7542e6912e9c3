package kernel

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/governedworks/wbs/internal/supervisor"
	"github.com/governedworks/wbs/internal/types"
)

func linearDef() *types.Definition {
	return &types.Definition{
		Metadata:  types.Metadata{ProjectName: "demo"},
		WorkAreas: []types.WorkArea{{ID: "1.0", Title: "Core"}},
		Packets: []types.PacketDef{
			{ID: "A", AreaID: "1.0", Title: "first"},
			{ID: "B", AreaID: "1.0", Title: "second"},
		},
		Dependencies: map[string][]string{"B": {"A"}},
	}
}

func newTestKernel(t *testing.T, def *types.Definition) *Kernel {
	t.Helper()
	root := t.TempDir()
	raw, err := json.Marshal(def)
	if err != nil {
		t.Fatal(err)
	}
	defPath := filepath.Join(root, DefinitionFileName)
	if err := os.WriteFile(defPath, raw, 0o644); err != nil {
		t.Fatal(err)
	}
	k, err := Init(root, defPath)
	if err != nil {
		t.Fatal(err)
	}
	return k
}

func wantKind(t *testing.T, err error, kind types.ErrorKind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	var ke *types.Error
	if !errors.As(err, &ke) || ke.Kind != kind {
		t.Fatalf("error = %v, want kind %s", err, kind)
	}
}

func TestLinearHappyPath(t *testing.T) {
	k := newTestKernel(t, linearDef())

	ready, err := k.Ready()
	if err != nil {
		t.Fatal(err)
	}
	if len(ready) != 1 || ready[0].ID != "A" {
		t.Fatalf("ready = %v", ready)
	}

	if _, err := k.Claim("A", "alice"); err != nil {
		t.Fatal(err)
	}
	st, _ := k.Status()
	if st.Packets["A"].Status != types.StatusInProgress || st.Packets["A"].AssignedTo != "alice" {
		t.Fatalf("A = %+v", st.Packets["A"])
	}

	if _, err := k.Done("A", "alice", "done"); err != nil {
		t.Fatal(err)
	}
	ready, _ = k.Ready()
	if len(ready) != 1 || ready[0].ID != "B" {
		t.Fatalf("ready after A done = %v", ready)
	}

	if _, err := k.Claim("B", "bob"); err != nil {
		t.Fatal(err)
	}
	if _, err := k.Done("B", "bob", "done"); err != nil {
		t.Fatal(err)
	}

	for _, id := range []string{"A", "B"} {
		head, err := k.Ledger.Head(id)
		if err != nil {
			t.Fatal(err)
		}
		if head.Seq != 2 {
			t.Errorf("HEAD.seq for %s = %d, want 2", id, head.Seq)
		}
		if ok, issues := k.Ledger.VerifyPacket(id); !ok {
			t.Errorf("ledger for %s failed verification: %v", id, issues)
		}
	}
}

func TestClaimPreconditions(t *testing.T) {
	k := newTestKernel(t, linearDef())

	_, err := k.Claim("B", "bob")
	wantKind(t, err, types.ErrBlockedByDeps)
	if !strings.Contains(err.Error(), "blocked by A") {
		t.Errorf("err = %v", err)
	}

	_, err = k.Claim("MISSING", "bob")
	wantKind(t, err, types.ErrNotFound)

	if _, err := k.Claim("A", "alice"); err != nil {
		t.Fatal(err)
	}
	_, err = k.Claim("A", "bob")
	wantKind(t, err, types.ErrPreconditionFailed)

	_, err = k.Done("A", "alice", "")
	wantKind(t, err, types.ErrPolicyDenied)

	_, err = k.Done("B", "bob", "notes")
	wantKind(t, err, types.ErrPreconditionFailed)
}

func TestCascadeFail(t *testing.T) {
	def := &types.Definition{
		Packets: []types.PacketDef{
			{ID: "A", Title: "a"}, {ID: "B", Title: "b"},
			{ID: "C", Title: "c"}, {ID: "D", Title: "d"},
		},
		Dependencies: map[string][]string{"B": {"A"}, "C": {"B"}},
	}
	k := newTestKernel(t, def)

	if _, err := k.Claim("A", "alice"); err != nil {
		t.Fatal(err)
	}
	res, err := k.Fail("A", "alice", "broken")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Blocked) != 2 || res.Blocked[0] != "B" || res.Blocked[1] != "C" {
		t.Errorf("blocked = %v", res.Blocked)
	}

	st, _ := k.Status()
	want := map[string]types.Status{
		"A": types.StatusFailed, "B": types.StatusBlocked,
		"C": types.StatusBlocked, "D": types.StatusPending,
	}
	for id, status := range want {
		if st.Packets[id].Status != status {
			t.Errorf("%s = %s, want %s", id, st.Packets[id].Status, status)
		}
	}

	var failedEvents, blockedEvents int
	for _, e := range st.Log {
		switch e.Event {
		case "failed":
			failedEvents++
		case "blocked":
			blockedEvents++
			if !strings.Contains(e.Notes, "Blocked by A") {
				t.Errorf("blocked event notes = %q", e.Notes)
			}
		}
	}
	if failedEvents != 1 || blockedEvents != 2 {
		t.Errorf("events: failed=%d blocked=%d", failedEvents, blockedEvents)
	}

	// Blocked packets got their own ledger commits so runtime coherence holds.
	snapshots := map[string]map[string]any{}
	for id, pkt := range st.Packets {
		snapshots[id] = pkt.Snapshot()
	}
	ok, issues, _, err := k.Ledger.VerifyAllDetailed(snapshots)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Errorf("full verification after cascade failed: %v", issues)
	}
}

func TestCascadeSkipsSettledDependents(t *testing.T) {
	def := &types.Definition{
		Packets:      []types.PacketDef{{ID: "A", Title: "a"}, {ID: "B", Title: "b"}},
		Dependencies: map[string][]string{"B": {"A"}},
	}
	k := newTestKernel(t, def)

	// B finishes out of band before A fails.
	if _, err := k.Claim("A", "alice"); err != nil {
		t.Fatal(err)
	}
	st, _ := k.Status()
	st.Packets["B"].Status = types.StatusDone
	if err := k.Store.Save(st); err != nil {
		t.Fatal(err)
	}

	res, err := k.Fail("A", "alice", "broken")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Blocked) != 0 {
		t.Errorf("blocked = %v", res.Blocked)
	}
	if len(res.CascadeSkipped) != 1 || res.CascadeSkipped[0] != "B" {
		t.Errorf("cascade_skipped = %v", res.CascadeSkipped)
	}
}

func TestHandoverResume(t *testing.T) {
	def := &types.Definition{Packets: []types.PacketDef{{ID: "X", Title: "x"}}}
	k := newTestKernel(t, def)

	if _, err := k.Claim("X", "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := k.Handover(HandoverInput{
		PacketID: "X", Agent: "alice", Reason: "ooo",
		ProgressNotes: "halfway", ToAgent: "bob",
	}); err != nil {
		t.Fatal(err)
	}

	_, err := k.Done("X", "alice", "n")
	wantKind(t, err, types.ErrPreconditionFailed)
	if !strings.Contains(err.Error(), "active handover") {
		t.Errorf("err = %v", err)
	}

	_, err = k.Resume("X", "carol")
	wantKind(t, err, types.ErrPreconditionFailed)
	if !strings.Contains(err.Error(), "targeted to bob") {
		t.Errorf("err = %v", err)
	}

	if _, err := k.Resume("X", "bob"); err != nil {
		t.Fatal(err)
	}
	if _, err := k.Done("X", "bob", "fixed"); err != nil {
		t.Fatal(err)
	}

	st, _ := k.Status()
	handovers := st.Packets["X"].Handovers
	if len(handovers) != 1 {
		t.Fatalf("handovers = %d", len(handovers))
	}
	h := handovers[0]
	if h.Active || h.ResumedBy != "bob" || h.HandoverID != "h-0001" {
		t.Errorf("handover = %+v", h)
	}
}

func TestHandoverOwnershipAndDuplicate(t *testing.T) {
	def := &types.Definition{Packets: []types.PacketDef{{ID: "X", Title: "x"}}}
	k := newTestKernel(t, def)

	if _, err := k.Claim("X", "alice"); err != nil {
		t.Fatal(err)
	}
	_, err := k.Handover(HandoverInput{PacketID: "X", Agent: "mallory", Reason: "mine now"})
	wantKind(t, err, types.ErrPreconditionFailed)

	if _, err := k.Handover(HandoverInput{PacketID: "X", Agent: "alice", Reason: "ooo"}); err != nil {
		t.Fatal(err)
	}
	_, err = k.Handover(HandoverInput{PacketID: "X", Agent: "alice", Reason: "again"})
	wantKind(t, err, types.ErrPreconditionFailed)
}

func TestMutationsRequireAssignedAgent(t *testing.T) {
	def := &types.Definition{Packets: []types.PacketDef{{ID: "X", Title: "x"}}}
	k := newTestKernel(t, def)

	if _, err := k.Claim("X", "alice"); err != nil {
		t.Fatal(err)
	}

	_, err := k.Done("X", "mallory", "stolen")
	wantKind(t, err, types.ErrPreconditionFailed)
	if !strings.Contains(err.Error(), "owned by alice") {
		t.Errorf("err = %v", err)
	}
	_, err = k.Note("X", "mallory", "graffiti")
	wantKind(t, err, types.ErrPreconditionFailed)
	_, err = k.Fail("X", "mallory", "sabotage")
	wantKind(t, err, types.ErrPreconditionFailed)

	st, _ := k.Status()
	pkt := st.Packets["X"]
	if pkt.Status != types.StatusInProgress || pkt.AssignedTo != "alice" {
		t.Fatalf("X after rejected mutations = %+v", pkt)
	}

	if _, err := k.Note("X", "alice", "progress"); err != nil {
		t.Fatal(err)
	}
	if _, err := k.Done("X", "alice", "done"); err != nil {
		t.Fatal(err)
	}
}

func TestReset(t *testing.T) {
	def := &types.Definition{Packets: []types.PacketDef{{ID: "X", Title: "x"}}}
	k := newTestKernel(t, def)

	_, err := k.Reset("X")
	wantKind(t, err, types.ErrPreconditionFailed)

	if _, err := k.Claim("X", "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := k.Reset("X"); err != nil {
		t.Fatal(err)
	}
	st, _ := k.Status()
	pkt := st.Packets["X"]
	if pkt.Status != types.StatusPending || pkt.AssignedTo != "" || pkt.StartedAt != "" {
		t.Errorf("after reset: %+v", pkt)
	}
}

func TestCloseoutL2(t *testing.T) {
	k := newTestKernel(t, linearDef())

	assessment := filepath.Join(t.TempDir(), "assessment.md")
	full := strings.Join(RequiredAssessmentSections, "\n\ncontent\n\n")
	if err := os.WriteFile(assessment, []byte(full), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := k.CloseoutL2("1.0", "lead", assessment, "")
	wantKind(t, err, types.ErrPreconditionFailed)
	if !strings.Contains(err.Error(), "incomplete packets") {
		t.Errorf("err = %v", err)
	}

	for _, step := range []struct{ id, agent string }{{"A", "alice"}, {"B", "bob"}} {
		if _, err := k.Claim(step.id, step.agent); err != nil {
			t.Fatal(err)
		}
		if _, err := k.Done(step.id, step.agent, "done"); err != nil {
			t.Fatal(err)
		}
	}

	partial := filepath.Join(t.TempDir(), "partial.md")
	if err := os.WriteFile(partial, []byte("## Scope Reviewed\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err = k.CloseoutL2("1.0", "lead", partial, "")
	wantKind(t, err, types.ErrPreconditionFailed)
	if !strings.Contains(err.Error(), "missing required section") {
		t.Errorf("err = %v", err)
	}

	_, err = k.CloseoutL2("1.0", "lead", filepath.Join(t.TempDir(), "nope.md"), "")
	wantKind(t, err, types.ErrPreconditionFailed)

	// Bare numeric area id resolves to N.0.
	res, err := k.CloseoutL2("1", "lead", assessment, "clean")
	if err != nil {
		t.Fatal(err)
	}
	if res.PacketID != "AREA-1.0" {
		t.Errorf("packet_id = %s", res.PacketID)
	}

	st, _ := k.Status()
	closeout, ok := st.AreaCloseouts["1.0"]
	if !ok || closeout.Status != "closed" || closeout.ClosedBy != "lead" {
		t.Errorf("closeout = %+v", closeout)
	}
	head, err := k.Ledger.Head("AREA-1.0")
	if err != nil {
		t.Fatal(err)
	}
	if head.Seq != 1 {
		t.Errorf("AREA-1.0 HEAD.seq = %d", head.Seq)
	}
}

func TestCapabilityWarningOnAdvisoryClaim(t *testing.T) {
	def := &types.Definition{
		Packets: []types.PacketDef{{ID: "X", Title: "x", RequiredCapabilities: []string{"deploy"}}},
	}
	k := newTestKernel(t, def)
	if err := supervisor.SaveRegistry(k.AgentsPath(), &supervisor.Registry{
		EnforcementMode: supervisor.EnforcementAdvisory,
		Agents:          []supervisor.Agent{{ID: "alice", Capabilities: []string{"code"}}},
	}); err != nil {
		t.Fatal(err)
	}

	res, err := k.Claim("X", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Warning, "capability warning") {
		t.Errorf("warning = %q", res.Warning)
	}

	st, _ := k.Status()
	var sawWarning bool
	for _, e := range st.Log {
		if e.Event == "capability_warning" && e.PacketID == "X" {
			sawWarning = true
		}
	}
	if !sawWarning {
		t.Error("capability_warning event not appended")
	}
}

func TestStrictCapabilityDeniesClaim(t *testing.T) {
	def := &types.Definition{
		Packets: []types.PacketDef{{ID: "X", Title: "x", RequiredCapabilities: []string{"deploy"}}},
	}
	k := newTestKernel(t, def)
	if err := supervisor.SaveRegistry(k.AgentsPath(), &supervisor.Registry{
		EnforcementMode: supervisor.EnforcementStrict,
		Agents:          []supervisor.Agent{{ID: "alice", Capabilities: []string{"code"}}},
	}); err != nil {
		t.Fatal(err)
	}
	_, err := k.Claim("X", "alice")
	wantKind(t, err, types.ErrPolicyDenied)
}

func TestConcurrentClaimSingleWinner(t *testing.T) {
	def := &types.Definition{Packets: []types.PacketDef{{ID: "X", Title: "x"}}}
	k := newTestKernel(t, def)

	const workers = 4
	var wg sync.WaitGroup
	successes := make(chan string, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			agent := fmt.Sprintf("agent-%d", n)
			if _, err := k.Claim("X", agent); err == nil {
				successes <- agent
			}
		}(i)
	}
	wg.Wait()
	close(successes)

	var winners []string
	for w := range successes {
		winners = append(winners, w)
	}
	if len(winners) != 1 {
		t.Fatalf("winners = %v", winners)
	}
	st, _ := k.Status()
	if st.Packets["X"].AssignedTo != winners[0] {
		t.Errorf("assigned_to = %s, winner = %s", st.Packets["X"].AssignedTo, winners[0])
	}
}

func TestHashChainLogVerifies(t *testing.T) {
	k := newTestKernel(t, linearDef())
	if _, err := k.SetLogMode("hash_chain"); err != nil {
		t.Fatal(err)
	}
	if _, err := k.Claim("A", "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := k.Done("A", "alice", "done"); err != nil {
		t.Fatal(err)
	}
	ok, issues, err := k.VerifyLog()
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Errorf("log verification failed: %v", issues)
	}
}

func TestClaimMigratesLegacyStateFile(t *testing.T) {
	def := &types.Definition{Packets: []types.PacketDef{{ID: "X", Title: "x"}}}
	k := newTestKernel(t, def)
	k.Store.LockTimeout = 500 * time.Millisecond

	// An unversioned state file from before the schema was pinned. The first
	// mutation must migrate it in place under its own lock.
	legacy := `{"packets": {"X": {"status": "pending"}}}`
	if err := os.WriteFile(k.Store.Path, []byte(legacy), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := k.Claim("X", "alice"); err != nil {
		t.Fatalf("claim on legacy state: %v", err)
	}

	st, err := k.Status()
	if err != nil {
		t.Fatal(err)
	}
	if st.SchemaVersion != types.CurrentSchemaVersion {
		t.Errorf("schema_version = %s", st.SchemaVersion)
	}
	if st.Packets["X"].Status != types.StatusInProgress || st.Packets["X"].AssignedTo != "alice" {
		t.Errorf("X = %+v", st.Packets["X"])
	}
	var sawMigration bool
	for _, e := range st.Log {
		if e.Event == "state_migrated" {
			sawMigration = true
		}
	}
	if !sawMigration {
		t.Error("migration event missing from activity log")
	}
}

func TestReplayMatchesLiveState(t *testing.T) {
	def := &types.Definition{
		Packets: []types.PacketDef{
			{ID: "A", Title: "a"}, {ID: "B", Title: "b"}, {ID: "C", Title: "c"},
		},
		Dependencies: map[string][]string{"C": {"A"}},
	}
	k := newTestKernel(t, def)

	if _, err := k.Claim("A", "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := k.Done("A", "alice", "done"); err != nil {
		t.Fatal(err)
	}
	if _, err := k.Claim("B", "bob"); err != nil {
		t.Fatal(err)
	}
	if _, err := k.Fail("B", "bob", "broke"); err != nil {
		t.Fatal(err)
	}
	if _, err := k.Claim("C", "carol"); err != nil {
		t.Fatal(err)
	}
	if _, err := k.Reset("C"); err != nil {
		t.Fatal(err)
	}

	diffs, err := k.ReplayDivergences()
	if err != nil {
		t.Fatal(err)
	}
	if len(diffs) != 0 {
		t.Errorf("divergences = %v", diffs)
	}
}

func TestNextAndStale(t *testing.T) {
	k := newTestKernel(t, linearDef())

	next, err := k.Next()
	if err != nil {
		t.Fatal(err)
	}
	if next == nil || next.ID != "A" {
		t.Fatalf("next = %+v", next)
	}

	if _, err := k.Claim("A", "alice"); err != nil {
		t.Fatal(err)
	}
	// A negative cutoff makes every in_progress packet stale.
	stale, err := k.Stale(-time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if len(stale) != 1 || stale[0].ID != "A" || stale[0].AssignedTo != "alice" {
		t.Errorf("stale = %+v", stale)
	}
}

func TestContextBundleTruncation(t *testing.T) {
	def := &types.Definition{
		Packets: []types.PacketDef{
			{ID: "A", Title: "a", Scope: "see docs/plan.md"},
			{ID: "B", Title: "b"},
		},
		Dependencies: map[string][]string{"A": {"B"}},
	}
	k := newTestKernel(t, def)
	if err := os.MkdirAll(filepath.Join(k.Root, "docs"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(k.Root, "docs", "plan.md"), []byte("plan"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := k.Done("B", "bob", "done"); err == nil {
		t.Fatal("expected precondition failure")
	}
	if _, err := k.Claim("B", "bob"); err != nil {
		t.Fatal(err)
	}
	if _, err := k.Done("B", "bob", "done"); err != nil {
		t.Fatal(err)
	}
	if _, err := k.Claim("A", "alice"); err != nil {
		t.Fatal(err)
	}
	longNotes := strings.Repeat("x", 300)
	if _, err := k.Note("A", "alice", longNotes); err != nil {
		t.Fatal(err)
	}

	bundle, err := k.ContextBundle("A", false, BundleLimits{MaxNotesBytes: 200})
	if err != nil {
		t.Fatal(err)
	}
	if !bundle.Truncated {
		t.Error("bundle not marked truncated")
	}
	if len(bundle.RuntimeState.Notes) != 200 {
		t.Errorf("notes length = %d", len(bundle.RuntimeState.Notes))
	}
	if bundle.Truncation.NotesBytesDropped == 0 {
		t.Error("notes_bytes_dropped = 0")
	}
	if len(bundle.Dependencies.Upstream) != 1 || bundle.Dependencies.Upstream[0].PacketID != "B" {
		t.Errorf("upstream = %v", bundle.Dependencies.Upstream)
	}
	if len(bundle.History) == 0 || bundle.History[0].Event != "noted" {
		t.Errorf("history head = %+v", bundle.History)
	}

	var manifestHit bool
	for _, m := range bundle.FileManifest {
		if m.Path == "docs/plan.md" && m.Exists {
			manifestHit = true
		}
	}
	if !manifestHit {
		t.Errorf("file manifest missed docs/plan.md: %+v", bundle.FileManifest)
	}

	if _, err := k.ContextBundle("NOPE", false, BundleLimits{}); err == nil {
		t.Error("unknown packet accepted")
	}
}
