package greenlinesdk

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"greenline/internal/config"
	"greenline/internal/db"
	"greenline/internal/engine"
	"greenline/internal/engine/auth"
	"greenline/internal/migrate"
	"greenline/internal/server"
)

func newTestAPI(t *testing.T) string {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	if err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	e.Auth = auth.Service{DB: conn}
	e.Now = func() time.Time { return time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC) }
	if err := e.BootstrapRole(ctx, "admin-1", "admin"); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	h, err := server.New(server.Config{Engine: e, Auth: server.AuthConfig{AllowLegacyActorHeader: true}, Log: zerolog.Nop()})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv.URL + "/v1"
}

func TestClientUnlockRoundTrip(t *testing.T) {
	base := newTestAPI(t)
	ctx := context.Background()
	pm := &Client{BaseURL: base, ActorID: "pm-1"}
	dev := &Client{BaseURL: base, ActorID: "dev-1"}
	admin := &Client{BaseURL: base, ActorID: "admin-1"}

	task, err := pm.CreateTask(ctx, NewTask{Title: "Reconcile ledger", AssigneeID: "dev-1", DueDate: "2024-03-01"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if _, err := dev.RunSweep(ctx); ErrorCode(err) != "INSUFFICIENT_PERMISSIONS" {
		t.Fatalf("expected permission error, got %v", err)
	}
	sweep, err := admin.RunSweep(ctx)
	if err != nil || len(sweep.Locked) != 1 {
		t.Fatalf("sweep: %v %+v", err, sweep)
	}
	_, err = dev.SetTaskStatus(ctx, task.ID, "doing")
	var apiErr *APIError
	if ErrorCode(err) != "TASK_LOCKED" || !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusLocked {
		t.Fatalf("expected locked error, got %v", err)
	}
	locked := true
	tasks, err := dev.ListTasks(ctx, TaskFilter{Locked: &locked})
	if err != nil || len(tasks) != 1 {
		t.Fatalf("list locked: %v %+v", err, tasks)
	}

	req, err := dev.RequestUnlock(ctx, task.ID, "waiting on client")
	if err != nil {
		t.Fatalf("request unlock: %v", err)
	}
	reviewed, err := pm.ReviewUnlockRequest(ctx, req.ID, "rejected", "finish it")
	if err != nil || reviewed.Status != "rejected" {
		t.Fatalf("review: %v %+v", err, reviewed)
	}
	got, err := dev.GetTask(ctx, task.ID)
	if err != nil || !got.IsLocked {
		t.Fatalf("rejection keeps the lock: %v %+v", err, got)
	}

	page, err := admin.EventsPage(ctx, 2, "")
	if err != nil || len(page.Items) != 2 || page.NextCursor == "" {
		t.Fatalf("events: %v %+v", err, page)
	}
}

func TestClientProjectStatus(t *testing.T) {
	base := newTestAPI(t)
	ctx := context.Background()
	c := &Client{BaseURL: base, ActorID: "pm-1"}

	p, err := c.CreateProject(ctx, "Tax filing", "Acme")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	if _, err := c.UpdateProjectStatus(ctx, p.ID, map[string]string{"execution_status": "in_progress"}); ErrorCode(err) != "CHECKLIST_NOT_FINALIZED" {
		t.Fatalf("expected checklist gate, got %v", err)
	}
	if _, err := c.GetProject(ctx, "missing"); ErrorCode(err) != "PROJECT_NOT_FOUND" {
		t.Fatalf("expected not found, got %v", err)
	}
}
