package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"greenline/internal/config"
	"greenline/internal/db"
	"greenline/internal/domain"
	"greenline/internal/engine"
	"greenline/internal/engine/auth"
	"greenline/internal/migrate"
)

const (
	testSecret = "test-secret"
	admin      = "admin-1"
	pm         = "pm-1"
	dev        = "dev-1"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	ctx := context.Background()
	if err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	e.Auth = auth.Service{DB: conn}
	e.Now = func() time.Time { return time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC) }
	if err := e.BootstrapRole(ctx, admin, "admin"); err != nil {
		t.Fatalf("bootstrap admin: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v1",
		Auth:     AuthConfig{JWTSecret: testSecret, AllowLegacyActorHeader: true, DevLogin: true},
		Log:      zerolog.Nop(),
	})
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
		URL:    "http://" + ln.Addr().String() + "/v1",
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func as(actor string) map[string]string {
	return map[string]string{"X-Actor-Id": actor}
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
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
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

// expect asserts the status and, for errors, the envelope code.
func expect(t *testing.T, res *http.Response, data []byte, status int, code string) {
	t.Helper()
	if res.StatusCode != status {
		t.Fatalf("expected %d, got %d: %s", status, res.StatusCode, string(data))
	}
	if code == "" {
		return
	}
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode error envelope: %v (%s)", err, string(data))
	}
	if env.Error.Code != code {
		t.Fatalf("expected code %s, got %s: %s", code, env.Error.Code, string(data))
	}
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("decode %T: %v (%s)", out, err, string(data))
	}
	return out
}

func TestHealthIsPublic(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/health", nil, nil)
	expect(t, res, data, http.StatusOK, "")
	if res.Header.Get("X-Request-ID") == "" {
		t.Fatalf("missing request id header")
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/projects", nil, nil)
	expect(t, res, data, http.StatusUnauthorized, "unauthorized")
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/projects", nil, map[string]string{"Authorization": "Bearer nope"})
	expect(t, res, data, http.StatusUnauthorized, "invalid_credentials")
}

func TestProjectStatusOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	c := srv.Client()

	res, data := doJSON(t, c, http.MethodPost, srv.URL+"/projects", map[string]any{"name": "Audit FY24", "client_name": "Acme"}, as(pm))
	expect(t, res, data, http.StatusCreated, "")
	p := decode[domain.Project](t, data)
	if p.Status != "planned" || p.PaymentStatus != "pending" {
		t.Fatalf("unexpected initial tuple %+v", p)
	}
	base := srv.URL + "/projects/" + p.ID

	res, data = doJSON(t, c, http.MethodPut, base+"/status", map[string]string{"payment_status": "partial"}, as(pm))
	expect(t, res, data, http.StatusBadRequest, engine.CodeChecklistNotFinalized)

	res, data = doJSON(t, c, http.MethodGet, base+"/status/can-update", nil, as(pm))
	expect(t, res, data, http.StatusOK, "")
	if gate := decode[engine.StatusGate](t, data); gate.Allowed || gate.Reason == "" {
		t.Fatalf("gate should be closed while planned: %+v", gate)
	}

	res, data = doJSON(t, c, http.MethodPost, base+"/checklist", map[string]any{"title": "Engagement letter signed"}, as(pm))
	expect(t, res, data, http.StatusCreated, "")
	item := decode[domain.ChecklistItem](t, data)
	res, data = doJSON(t, c, http.MethodPatch, base+"/checklist/"+item.ID+"/verify", map[string]any{}, as(pm))
	expect(t, res, data, http.StatusOK, "")
	if !decode[domain.ChecklistItem](t, data).IsVerified {
		t.Fatalf("item should be verified: %s", string(data))
	}

	res, data = doJSON(t, c, http.MethodPut, base+"/status", map[string]string{"status": "checklist_finalized"}, as(pm))
	expect(t, res, data, http.StatusOK, "")
	res, data = doJSON(t, c, http.MethodPut, base+"/status", map[string]string{"status": "verification_passed"}, as(pm))
	expect(t, res, data, http.StatusBadRequest, engine.CodeInvalidStatusTransition)
	res, data = doJSON(t, c, http.MethodPut, base+"/status", map[string]string{}, as(pm))
	expect(t, res, data, http.StatusBadRequest, engine.CodeValidation)

	res, data = doJSON(t, c, http.MethodGet, base+"/status/transitions", nil, as(pm))
	expect(t, res, data, http.StatusOK, "")
	tr := decode[TransitionsResponse](t, data)
	if len(tr.Transitions["verification_status"]) == 0 {
		t.Fatalf("verification should be open after finalizing: %+v", tr)
	}

	res, data = doJSON(t, c, http.MethodGet, base+"/status/history", nil, as(pm))
	expect(t, res, data, http.StatusOK, "")
	history := decode[[]engine.StatusChange](t, data)
	if len(history) != 1 || history[0].To != "checklist_finalized" || history[0].ActorID != pm {
		t.Fatalf("unexpected history %+v", history)
	}

	res, data = doJSON(t, c, http.MethodGet, srv.URL+"/projects/missing/status/transitions", nil, as(pm))
	expect(t, res, data, http.StatusNotFound, engine.CodeProjectNotFound)
}

func TestLockWorkflowOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	c := srv.Client()

	res, data := doJSON(t, c, http.MethodPost, srv.URL+"/tasks", map[string]any{
		"title":       "File return",
		"assignee_id": dev,
		"due_date":    "2024-03-09",
	}, as(pm))
	expect(t, res, data, http.StatusCreated, "")
	task := decode[domain.Task](t, data)
	if task.SLAStatus != "overdue" || task.IsLocked {
		t.Fatalf("unexpected new task %+v", task)
	}
	base := srv.URL + "/tasks/" + task.ID

	res, data = doJSON(t, c, http.MethodPost, srv.URL+"/sweeps/auto-lock", nil, as(dev))
	expect(t, res, data, http.StatusForbidden, engine.CodeInsufficientPermissions)
	res, data = doJSON(t, c, http.MethodPost, srv.URL+"/sweeps/auto-lock", nil, as(admin))
	expect(t, res, data, http.StatusOK, "")
	if sweep := decode[engine.SweepResult](t, data); len(sweep.Locked) != 1 || sweep.Today != "2024-03-10" {
		t.Fatalf("unexpected sweep %+v", sweep)
	}

	res, data = doJSON(t, c, http.MethodPatch, base+"/status", map[string]any{"status": "doing"}, as(dev))
	expect(t, res, data, http.StatusLocked, engine.CodeTaskLocked)
	res, data = doJSON(t, c, http.MethodPatch, base+"/manual-lock", nil, as(admin))
	expect(t, res, data, http.StatusBadRequest, engine.CodeTaskAlreadyLocked)

	res, data = doJSON(t, c, http.MethodPost, base+"/unlock-requests", map[string]any{"reason": "   "}, as(dev))
	expect(t, res, data, http.StatusBadRequest, engine.CodeReasonRequired)
	res, data = doJSON(t, c, http.MethodPost, base+"/unlock-requests", map[string]any{"reason": "client sent documents late"}, as(dev))
	expect(t, res, data, http.StatusCreated, "")
	req := decode[domain.UnlockRequest](t, data)
	res, data = doJSON(t, c, http.MethodPost, base+"/unlock-requests", map[string]any{"reason": "again"}, as(dev))
	expect(t, res, data, http.StatusConflict, engine.CodeUnlockRequestPending)

	review := srv.URL + "/unlock-requests/" + req.ID + "/review"
	res, data = doJSON(t, c, http.MethodPatch, review, map[string]any{"decision": "approved"}, as(dev))
	expect(t, res, data, http.StatusForbidden, engine.CodeInsufficientPermissions)
	res, data = doJSON(t, c, http.MethodPatch, review, map[string]any{"decision": "maybe"}, as(pm))
	expect(t, res, data, http.StatusBadRequest, engine.CodeInvalidDecision)
	res, data = doJSON(t, c, http.MethodPatch, review, map[string]any{"decision": "approved", "review_note": "ok"}, as(pm))
	expect(t, res, data, http.StatusOK, "")
	if got := decode[domain.UnlockRequest](t, data); got.Status != "approved" || got.ReviewedBy == nil || *got.ReviewedBy != pm {
		t.Fatalf("unexpected review %+v", got)
	}
	res, data = doJSON(t, c, http.MethodPatch, review, map[string]any{"decision": "rejected"}, as(pm))
	expect(t, res, data, http.StatusBadRequest, engine.CodeRequestAlreadyReviewed)

	res, data = doJSON(t, c, http.MethodGet, base, nil, as(dev))
	expect(t, res, data, http.StatusOK, "")
	if decode[domain.Task](t, data).IsLocked {
		t.Fatalf("approved request should unlock the task")
	}
	res, data = doJSON(t, c, http.MethodPatch, base+"/direct-unlock", nil, as(admin))
	expect(t, res, data, http.StatusBadRequest, engine.CodeTaskNotLocked)
	res, data = doJSON(t, c, http.MethodPatch, base+"/status", map[string]any{"status": "doing"}, as(dev))
	expect(t, res, data, http.StatusOK, "")

	res, data = doJSON(t, c, http.MethodGet, srv.URL+"/unlock-requests?task_id="+task.ID+"&status=approved", nil, as(dev))
	expect(t, res, data, http.StatusOK, "")
	if got := decode[[]domain.UnlockRequest](t, data); len(got) != 1 || got[0].ID != req.ID {
		t.Fatalf("unexpected listing %+v", got)
	}
	res, data = doJSON(t, c, http.MethodGet, srv.URL+"/tasks?locked=maybe", nil, as(dev))
	expect(t, res, data, http.StatusBadRequest, engine.CodeValidation)
	res, data = doJSON(t, c, http.MethodGet, srv.URL+"/tasks/missing", nil, as(dev))
	expect(t, res, data, http.StatusNotFound, engine.CodeTaskNotFound)
	res, data = doJSON(t, c, http.MethodPatch, srv.URL+"/unlock-requests/missing/review", map[string]any{"decision": "approved"}, as(pm))
	expect(t, res, data, http.StatusNotFound, engine.CodeRequestNotFound)
}

func TestTokenPermissionsAuthorize(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	c := srv.Client()

	res, data := doJSON(t, c, http.MethodPost, srv.URL+"/tasks", map[string]any{"title": "Prepare draft"}, as(pm))
	expect(t, res, data, http.StatusCreated, "")
	task := decode[domain.Task](t, data)

	res, data = doJSON(t, c, http.MethodPost, srv.URL+"/auth/dev/login", map[string]any{
		"actor_id":    "ops-1",
		"permissions": []string{domain.CapabilityLockManage},
	}, nil)
	expect(t, res, data, http.StatusOK, "")
	token := decode[DevLoginResponse](t, data).Token
	bearer := map[string]string{"Authorization": "Bearer " + token}

	res, data = doJSON(t, c, http.MethodPatch, srv.URL+"/tasks/"+task.ID+"/manual-lock", nil, bearer)
	expect(t, res, data, http.StatusOK, "")
	if !decode[domain.Task](t, data).IsLocked {
		t.Fatalf("task should be locked: %s", string(data))
	}
	res, data = doJSON(t, c, http.MethodGet, srv.URL+"/me", nil, bearer)
	expect(t, res, data, http.StatusOK, "")
	me := decode[WhoAmIResponse](t, data)
	if me.ActorID != "ops-1" || me.Source != "jwt" || len(me.Permissions) != 1 {
		t.Fatalf("unexpected principal %+v", me)
	}
}

func TestAPIKeyAuthentication(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	c := srv.Client()

	res, data := doJSON(t, c, http.MethodPost, srv.URL+"/api-keys", map[string]any{"actor_id": dev, "name": "ci"}, as(dev))
	expect(t, res, data, http.StatusForbidden, engine.CodeInsufficientPermissions)
	res, data = doJSON(t, c, http.MethodPost, srv.URL+"/api-keys", map[string]any{"actor_id": dev, "name": "ci"}, as(admin))
	expect(t, res, data, http.StatusCreated, "")
	created := decode[CreatedAPIKeyResponse](t, data)
	if created.Key == "" {
		t.Fatalf("raw key should be returned once")
	}

	withKey := map[string]string{"X-Api-Key": created.Key}
	res, data = doJSON(t, c, http.MethodGet, srv.URL+"/me", nil, withKey)
	expect(t, res, data, http.StatusOK, "")
	if me := decode[WhoAmIResponse](t, data); me.ActorID != dev || me.Source != "api_key" {
		t.Fatalf("unexpected principal %+v", me)
	}
	res, data = doJSON(t, c, http.MethodGet, srv.URL+"/api-keys?actor_id="+dev, nil, withKey)
	expect(t, res, data, http.StatusOK, "")
	res, data = doJSON(t, c, http.MethodGet, srv.URL+"/api-keys?actor_id="+admin, nil, withKey)
	expect(t, res, data, http.StatusForbidden, engine.CodeInsufficientPermissions)

	res, data = doJSON(t, c, http.MethodDelete, srv.URL+"/api-keys/"+created.ID, nil, as(admin))
	expect(t, res, data, http.StatusNoContent, "")
	res, data = doJSON(t, c, http.MethodGet, srv.URL+"/me", nil, withKey)
	expect(t, res, data, http.StatusUnauthorized, "invalid_credentials")
}

func TestRoleGrantOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	c := srv.Client()

	res, data := doJSON(t, c, http.MethodPost, srv.URL+"/rbac/roles/grant", map[string]any{"actor_id": pm, "role_id": "nope"}, as(admin))
	expect(t, res, data, http.StatusNotFound, engine.CodeRoleNotFound)
	res, data = doJSON(t, c, http.MethodPost, srv.URL+"/rbac/roles/grant", map[string]any{"actor_id": pm, "role_id": "admin"}, as(dev))
	expect(t, res, data, http.StatusForbidden, engine.CodeInsufficientPermissions)
	res, data = doJSON(t, c, http.MethodPost, srv.URL+"/rbac/roles/grant", map[string]any{"actor_id": pm, "role_id": "admin"}, as(admin))
	expect(t, res, data, http.StatusNoContent, "")
	res, data = doJSON(t, c, http.MethodGet, srv.URL+"/me", nil, as(pm))
	expect(t, res, data, http.StatusOK, "")
	if me := decode[WhoAmIResponse](t, data); len(me.Roles) != 1 || me.Roles[0] != "admin" {
		t.Fatalf("unexpected roles %+v", me)
	}
}

func TestEventsPagination(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	c := srv.Client()

	for _, name := range []string{"one", "two", "three"} {
		res, data := doJSON(t, c, http.MethodPost, srv.URL+"/projects", map[string]any{"name": name}, as(pm))
		expect(t, res, data, http.StatusCreated, "")
	}
	url := srv.URL + "/events?type=project.created&limit=2"
	res, data := doJSON(t, c, http.MethodGet, url, nil, as(pm))
	expect(t, res, data, http.StatusOK, "")
	page := decode[paginatedEvents](t, data)
	if len(page.Items) != 2 || page.NextCursor == "" {
		t.Fatalf("unexpected first page %+v", page)
	}
	if page.Items[0].Payload["name"] != "three" {
		t.Fatalf("events should be newest first: %+v", page.Items[0])
	}
	res, data = doJSON(t, c, http.MethodGet, url+"&cursor="+page.NextCursor, nil, as(pm))
	expect(t, res, data, http.StatusOK, "")
	page = decode[paginatedEvents](t, data)
	if len(page.Items) != 1 || page.NextCursor != "" || page.Items[0].Payload["name"] != "one" {
		t.Fatalf("unexpected second page %+v", page)
	}
	res, data = doJSON(t, c, http.MethodGet, url+"&cursor=abc", nil, as(pm))
	expect(t, res, data, http.StatusBadRequest, "bad_request")
}

func TestRequestValidation(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	c := srv.Client()

	res, data := doJSON(t, c, http.MethodPost, srv.URL+"/tasks", map[string]any{"title": "  "}, as(pm))
	expect(t, res, data, http.StatusBadRequest, engine.CodeValidation)
	res, data = doJSON(t, c, http.MethodPost, srv.URL+"/tasks", map[string]any{"title": "x", "due_date": "tomorrow"}, as(pm))
	expect(t, res, data, http.StatusBadRequest, engine.CodeValidation)
	res, data = doJSON(t, c, http.MethodPost, srv.URL+"/tasks", map[string]any{"description": "no title"}, as(pm))
	expect(t, res, data, http.StatusBadRequest, engine.CodeValidation)
}
