package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"steward/internal/config"
	"steward/internal/db"
	"steward/internal/engine"
	"steward/internal/migrate"
)

type testServer struct {
	URL       string
	Workspace string
	client    *http.Client
	close     func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	m, err := config.MatrixFromYAML([]byte(config.GenerateDefault()))
	if err != nil {
		t.Fatalf("parse matrix: %v", err)
	}
	e := engine.New(conn, m)
	e.Now = func() time.Time { return time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC) }
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: AuthConfig{AllowLegacyRoleHeader: true}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:       "http://" + ln.Addr().String(),
		Workspace: workspace,
		client:    &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Acting-Role", "developer")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func TestHealthNeedsNoAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, err := http.Get(srv.URL + "/v0/health")
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
}

func TestUnauthenticatedRequestRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, err := http.Get(srv.URL + "/v0/sync/state")
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", res.StatusCode)
	}
}

func TestProposalDecision(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/decisions/proposals", map[string]any{
		"proposal_type": "create_task",
		"from_role":     "developer",
		"target_role":   "qa",
		"timestamp":     "2026-01-10T12:00:00Z",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	var v VerdictResponse
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("unmarshal verdict: %v", err)
	}
	if v.Outcome != "AUTO_APPROVE" {
		t.Fatalf("outcome = %s (%s)", v.Outcome, v.Reason)
	}

	// scope_change stays in review no matter who asks.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/decisions/proposals", map[string]any{
		"proposal_type": "scope_change",
		"from_role":     "cto",
		"timestamp":     "2026-01-10T12:00:00Z",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatal(err)
	}
	if v.Outcome != "REVIEW_REQUIRED" {
		t.Fatalf("outcome = %s", v.Outcome)
	}
}

func TestTransitionDecisionUsesPrincipalRole(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	// No explicit role in the body: the authenticated role decides.
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/decisions/transitions", map[string]any{
		"taskId": "T1",
		"status": "deleted",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	var v VerdictResponse
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatal(err)
	}
	if v.Outcome != "BLOCKED" {
		t.Fatalf("outcome = %s (%s), want BLOCKED for developer delete", v.Outcome, v.Reason)
	}

	// Explicit body role overrides the principal.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/decisions/transitions", map[string]any{
		"taskId": "T1",
		"status": "deleted",
		"role":   "tech-lead",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatal(err)
	}
	if v.Outcome != "ALLOWED" {
		t.Fatalf("outcome = %s (%s)", v.Outcome, v.Reason)
	}
}

func TestHandoffValidationEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	doc := "## Deliverables\n- x\n\n## Acceptance Criteria\n- [x] works\n\n## Verification\n```bash\nmake test\n```\n\n## Summary\nok\n"
	path := filepath.Join(srv.Workspace, "handoff.md")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/handoffs/validations", map[string]any{
		"path":      path,
		"from_role": "developer",
		"to_role":   "qa",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	var rep HandoffReportResponse
	if err := json.Unmarshal(data, &rep); err != nil {
		t.Fatal(err)
	}
	if !rep.Valid {
		t.Fatalf("valid = false: %v", rep.Errors)
	}
}

func TestSyncNotifyAndInbox(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/sync/notifications", map[string]any{
		"taskId": "T7",
		"status": "completed",
		"actor":  "qa-specialist",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	var result SyncResultResponse
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatal(err)
	}
	if result.Version != 1 || len(result.Notifications) != 1 {
		t.Fatalf("result = %+v", result)
	}
	if result.Notifications[0].Type != "task_completed" {
		t.Fatalf("notification = %+v", result.Notifications[0])
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/inboxes/orchestrator", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	var inbox []InboxRecordResponse
	if err := json.Unmarshal(data, &inbox); err != nil {
		t.Fatal(err)
	}
	if len(inbox) != 1 || inbox[0].TaskID != "T7" {
		t.Fatalf("inbox = %+v", inbox)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/sync/state", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	var state SyncStateResponse
	if err := json.Unmarshal(data, &state); err != nil {
		t.Fatal(err)
	}
	if state.TaskVersions["T7"] != 1 {
		t.Fatalf("state = %+v", state)
	}
}

func TestProposalSchemaError(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/decisions/proposals", map[string]any{
		"from_role": "developer",
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
}
