package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/governedworks/wbs/internal/kernel"
	"github.com/governedworks/wbs/internal/types"
)

func writeDefinition(t *testing.T, dir string) string {
	t.Helper()
	def := types.Definition{
		Metadata:  types.Metadata{ProjectName: "cli-demo"},
		WorkAreas: []types.WorkArea{{ID: "1.0", Title: "Core"}},
		Packets: []types.PacketDef{
			{ID: "A", AreaID: "1.0", Title: "first"},
			{ID: "B", AreaID: "1.0", Title: "second"},
		},
		Dependencies: map[string][]string{"B": {"A"}},
	}
	raw, err := json.Marshal(def)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "definition.json")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// chdir mirrors testing.T.Chdir, which needs Go 1.24+.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Fatal(err)
		}
	})
}

func run(t *testing.T, args ...string) {
	t.Helper()
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("wbs %v: %v", args, err)
	}
}

func TestInitClaimDoneLifecycle(t *testing.T) {
	root := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	chdir(t, root)
	defPath := writeDefinition(t, root)

	run(t, "init", defPath)
	run(t, "claim", "A", "--agent", "alice")
	run(t, "note", "A", "making progress", "--agent", "alice")
	run(t, "done", "A", "--agent", "alice", "--notes", "shipped")

	k, err := kernel.Open(root, kernel.Config{})
	if err != nil {
		t.Fatal(err)
	}
	st, err := k.Status()
	if err != nil {
		t.Fatal(err)
	}
	if st.Packets["A"].Status != types.StatusDone {
		t.Fatalf("A = %+v", st.Packets["A"])
	}
	if ok, issues := k.Ledger.VerifyPacket("A"); !ok {
		t.Fatalf("ledger issues: %v", issues)
	}

	// Reads must work from a subdirectory via root discovery.
	sub := filepath.Join(root, "docs")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	chdir(t, sub)
	run(t, "ready", "--json")
	run(t, "status", "--json")
	run(t, "verify", "--json")
}

func TestInitIsRerunnable(t *testing.T) {
	root := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	chdir(t, root)
	defPath := writeDefinition(t, root)

	run(t, "init", defPath)
	run(t, "claim", "A", "--agent", "alice")
	run(t, "init", defPath)

	k, err := kernel.Open(root, kernel.Config{})
	if err != nil {
		t.Fatal(err)
	}
	st, err := k.Status()
	if err != nil {
		t.Fatal(err)
	}
	if st.Packets["A"].Status != types.StatusInProgress {
		t.Fatalf("re-init reset runtime state: %+v", st.Packets["A"])
	}
}

func TestExitCodePartition(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{types.NewError(types.ErrNotFound, "x"), 1},
		{types.NewError(types.ErrPreconditionFailed, "x"), 1},
		{types.NewError(types.ErrPolicyDenied, "x"), 1},
		{types.NewError(types.ErrLockTimeout, "x"), 2},
		{types.NewError(types.ErrIO, "x"), 2},
		{types.NewError(types.ErrIntegrity, "x"), 2},
	}
	for _, tc := range cases {
		if got := exitCodeFor(tc.err); got != tc.code {
			t.Errorf("exitCodeFor(%v) = %d, want %d", tc.err, got, tc.code)
		}
	}
}
