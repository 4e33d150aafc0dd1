package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"greenline/internal/config"
	"greenline/internal/engine"
	"greenline/internal/notify"
)

func TestBuildNotifierWithoutTargets(t *testing.T) {
	off := false
	d, closers := BuildNotifier(context.Background(), config.NotifyConfig{Log: &off}, zerolog.Nop())
	if _, ok := d.(notify.Nop); !ok {
		t.Fatalf("expected Nop dispatcher, got %T", d)
	}
	if len(closers) != 0 {
		t.Fatalf("unexpected closers %d", len(closers))
	}
}

func TestBuildNotifierSkipsUnreachableBrokers(t *testing.T) {
	cfg := config.NotifyConfig{
		Redis: config.RedisConfig{Addr: "127.0.0.1:1"},
		NATS:  config.NATSConfig{URL: "nats://127.0.0.1:1"},
	}
	d, closers := BuildNotifier(context.Background(), cfg, zerolog.Nop())
	if _, ok := d.(*notify.Async); !ok {
		t.Fatalf("log target should still be wired, got %T", d)
	}
	if len(closers) != 1 {
		t.Fatalf("only the queue should need closing, got %d closers", len(closers))
	}
	if err := closers[0](context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestOpenWiresWebhookNotifications(t *testing.T) {
	var mu sync.Mutex
	var got []notify.Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var ev notify.Event
		if err := json.Unmarshal(body, &ev); err == nil {
			mu.Lock()
			got = append(got, ev)
			mu.Unlock()
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ws := t.TempDir()
	yml := "notify:\n  log: false\n  webhooks:\n    - url: " + srv.URL + "\n      events: [task-locked]\n"
	if err := os.WriteFile(filepath.Join(ws, config.FileName), []byte(yml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	ctx := context.Background()
	a, err := Open(ctx, Options{Workspace: ws, LogWriter: io.Discard})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	a.Engine.Now = func() time.Time { return time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC) }

	if err := a.Engine.BootstrapRole(ctx, "admin-1", "admin"); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	who, err := a.Engine.WhoAmI(ctx, "admin-1")
	if err != nil || len(who.Permissions) == 0 {
		t.Fatalf("roles should be synced from config: %v %+v", err, who)
	}
	if _, err := a.Engine.CreateTask(ctx, engine.TaskCreateOptions{Title: "late", DueDate: "2024-03-01", ActorID: "pm-1"}); err != nil {
		t.Fatalf("create task: %v", err)
	}
	res, err := a.Engine.AutoLockSweep(ctx)
	if err != nil || len(res.Locked) != 1 {
		t.Fatalf("sweep: %v %+v", err, res)
	}
	closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.Close(closeCtx); err != nil {
		t.Fatalf("close: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].Type != notify.TaskLocked {
		t.Fatalf("expected one task-locked webhook, got %+v", got)
	}
}
