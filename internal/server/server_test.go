package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/governedworks/wbs/internal/kernel"
	"github.com/governedworks/wbs/internal/types"
)

func newTestServer(t *testing.T) (*Server, *kernel.Kernel) {
	t.Helper()
	root := t.TempDir()
	def := &types.Definition{
		Metadata:  types.Metadata{ProjectName: "demo"},
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
	defPath := filepath.Join(root, kernel.DefinitionFileName)
	if err := os.WriteFile(defPath, raw, 0o644); err != nil {
		t.Fatal(err)
	}
	k, err := kernel.Init(root, defPath)
	if err != nil {
		t.Fatal(err)
	}
	srv, err := New(k, Options{})
	if err != nil {
		t.Fatal(err)
	}
	return srv, k
}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) transitionResponse {
	t.Helper()
	var res transitionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
	return res
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	var body map[string]bool
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || !body["ok"] {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestClaimDoneOverHTTP(t *testing.T) {
	srv, k := newTestServer(t)
	h := srv.Router()

	rec := post(t, h, "/v1/claim", `{"packet_id":"A","agent":"alice"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("claim code = %d body = %s", rec.Code, rec.Body.String())
	}
	res := decodeResponse(t, rec)
	if !res.OK || res.Action != "claim" {
		t.Fatalf("claim response = %+v", res)
	}

	rec = post(t, h, "/v1/done", `{"packet_id":"A","agent":"alice","notes":"shipped"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("done code = %d body = %s", rec.Code, rec.Body.String())
	}

	st, err := k.Status()
	if err != nil {
		t.Fatal(err)
	}
	if st.Packets["A"].Status != types.StatusDone {
		t.Fatalf("A = %+v", st.Packets["A"])
	}
}

func TestTransitionErrorMapping(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Router()

	// Unknown packet maps to 404.
	rec := post(t, h, "/v1/claim", `{"packet_id":"Z","agent":"alice"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown packet code = %d", rec.Code)
	}

	// Dependency block maps to 400.
	rec = post(t, h, "/v1/claim", `{"packet_id":"B","agent":"alice"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("blocked claim code = %d", rec.Code)
	}
	res := decodeResponse(t, rec)
	if res.OK || !strings.Contains(res.Message, "blocked by A") {
		t.Errorf("blocked response = %+v", res)
	}

	// Malformed body maps to 400.
	rec = post(t, h, "/v1/claim", `{`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad body code = %d", rec.Code)
	}
}

func TestReviewerRoleForbidden(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Router()

	rec := post(t, h, "/v1/claim", `{"packet_id":"A","agent":"alice","role":"reviewer"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("reviewer claim code = %d", rec.Code)
	}
	if res := decodeResponse(t, rec); res.Message != "forbidden" {
		t.Errorf("response = %+v", res)
	}

	// Admin wildcard passes the gate.
	rec = post(t, h, "/v1/claim", `{"packet_id":"A","agent":"alice","role":"admin"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin claim code = %d body = %s", rec.Code, rec.Body.String())
	}
}

func TestRoleAllowsTable(t *testing.T) {
	cases := []struct {
		role, action string
		want         bool
	}{
		{"operator", "claim", true},
		{"operator", "reset", false},
		{"reviewer", "note", false},
		{"supervisor", "reset", true},
		{"supervisor", "closeout_l2", true},
		{"supervisor", "claim", false},
		{"admin", "anything", true},
		{"  Admin ", "claim", true},
		{"ghost", "claim", false},
	}
	for _, tc := range cases {
		if got := RoleAllows(tc.role, tc.action); got != tc.want {
			t.Errorf("RoleAllows(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.want)
		}
	}
}

func TestIntegrityEndpointAndRefresh(t *testing.T) {
	srv, k := newTestServer(t)
	h := srv.Router()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/integrity", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("clean integrity code = %d body = %s", rec.Code, rec.Body.String())
	}

	// Break the config lock and refresh: the cached report turns unhealthy.
	if err := os.Remove(k.ConfigLockPath()); err != nil {
		t.Fatal(err)
	}
	if err := srv.RefreshReport(); err != nil {
		t.Fatal(err)
	}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/integrity", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("broken integrity code = %d", rec.Code)
	}
}

func TestStrictStartupGate(t *testing.T) {
	srv, k := newTestServer(t)
	_ = srv
	if err := os.Remove(k.ConfigLockPath()); err != nil {
		t.Fatal(err)
	}
	if _, err := New(k, Options{Strict: true}); err == nil {
		t.Fatal("strict startup accepted a failing integrity report")
	}
	// Non-strict still constructs; the report carries the failure.
	lax, err := New(k, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if lax.Report().OK {
		t.Fatal("report ok despite missing config lock")
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	var body struct {
		OK    bool `json:"ok"`
		State struct {
			Packets map[string]json.RawMessage `json:"packets"`
		} `json:"state"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if !body.OK || len(body.State.Packets) != 2 {
		t.Fatalf("body = %s", rec.Body.String())
	}
}
