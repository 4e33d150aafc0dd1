package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"greenline/internal/config"
)

func sampleEvent(t Type) Event {
	return Event{
		Type:       t,
		TaskID:     "task-1",
		ProjectID:  "proj-1",
		ActorID:    "system",
		Recipients: []string{"alice"},
		Payload:    map[string]any{"reason": "auto"},
		OccurredAt: time.Date(2024, 3, 10, 0, 5, 0, 0, time.UTC),
	}
}

type recorder struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (r *recorder) Notify(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestMultiDeliversToAllAndJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	a := &recorder{err: boom}
	b := &recorder{}
	err := Multi{a, nil, b}.Notify(context.Background(), sampleEvent(TaskLocked))
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if a.count() != 1 || b.count() != 1 {
		t.Fatalf("every dispatcher should see the event")
	}
}

func TestWebhookPostsSubscribedEvents(t *testing.T) {
	var mu sync.Mutex
	var got []Event
	var headers []http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var ev Event
		if err := json.Unmarshal(body, &ev); err != nil {
			t.Errorf("decode: %v", err)
		}
		mu.Lock()
		got = append(got, ev)
		headers = append(headers, r.Header.Clone())
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	disabled := false
	w := NewWebhook([]config.WebhookConfig{
		{URL: srv.URL, Events: []string{"task-locked"}, Secret: "s3cret"},
		{URL: srv.URL, Enabled: &disabled},
	}, srv.Client())
	if w.Len() != 1 {
		t.Fatalf("expected one active hook, got %d", w.Len())
	}
	if err := w.Notify(context.Background(), sampleEvent(TaskLocked)); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if err := w.Notify(context.Background(), sampleEvent(UnlockDecided)); err != nil {
		t.Fatalf("notify filtered: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(got))
	}
	if got[0].Type != TaskLocked || got[0].TaskID != "task-1" {
		t.Fatalf("unexpected body %+v", got[0])
	}
	if headers[0].Get("X-Greenline-Event") != "task-locked" || headers[0].Get("X-Greenline-Secret") != "s3cret" {
		t.Fatalf("unexpected headers %v", headers[0])
	}
	if headers[0].Get("X-Greenline-Delivery") == "" {
		t.Fatalf("missing delivery id")
	}
}

func TestWebhookReportsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()
	w := NewWebhook([]config.WebhookConfig{{URL: srv.URL}}, srv.Client())
	if err := w.Notify(context.Background(), sampleEvent(UnlockRequested)); err == nil {
		t.Fatalf("expected delivery error")
	}
}

type fakeNATS struct {
	subjects []string
	data     [][]byte
	err      error
}

func (f *fakeNATS) Publish(subj string, data []byte) error {
	f.subjects = append(f.subjects, subj)
	f.data = append(f.data, data)
	return f.err
}

func TestNATSPublishesPerTypeSubject(t *testing.T) {
	conn := &fakeNATS{}
	n := NATS{Conn: conn}
	if err := n.Notify(context.Background(), sampleEvent(UnlockRequested)); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(conn.subjects) != 1 || conn.subjects[0] != "notifications.greenline.unlock-requested" {
		t.Fatalf("unexpected subjects %v", conn.subjects)
	}
	var ev Event
	if err := json.Unmarshal(conn.data[0], &ev); err != nil || ev.TaskID != "task-1" {
		t.Fatalf("unexpected payload %s (%v)", conn.data[0], err)
	}
	conn.err = errors.New("disconnected")
	if err := n.Notify(context.Background(), sampleEvent(TaskLocked)); err == nil {
		t.Fatalf("expected publish error")
	}
}

type fakeRedis struct {
	channels []string
	err      error
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	f.channels = append(f.channels, channel)
	cmd := redis.NewIntCmd(ctx, "publish", channel, message)
	if f.err != nil {
		cmd.SetErr(f.err)
	} else {
		cmd.SetVal(1)
	}
	return cmd
}

func TestRedisPublishesOnChannel(t *testing.T) {
	client := &fakeRedis{}
	r := Redis{Client: client, Channel: "ops"}
	if err := r.Notify(context.Background(), sampleEvent(TaskLocked)); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(client.channels) != 1 || client.channels[0] != "ops" {
		t.Fatalf("unexpected channels %v", client.channels)
	}
	client.err = errors.New("conn refused")
	if err := r.Notify(context.Background(), sampleEvent(TaskLocked)); err == nil {
		t.Fatalf("expected publish error")
	}
}

func TestAsyncDeliversAndDrains(t *testing.T) {
	rec := &recorder{err: errors.New("ignored")}
	a := NewAsync(rec, 8, zerolog.Nop())
	for i := 0; i < 5; i++ {
		if err := a.Notify(context.Background(), sampleEvent(TaskLocked)); err != nil {
			t.Fatalf("notify: %v", err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if rec.count() != 5 {
		t.Fatalf("expected 5 deliveries, got %d", rec.count())
	}
	if err := a.Notify(context.Background(), sampleEvent(TaskLocked)); err != nil {
		t.Fatalf("notify after close should not fail: %v", err)
	}
}

func TestAsyncDropsWhenFull(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	blocking := Func(func(ctx context.Context, ev Event) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	})
	a := NewAsync(blocking, 1, zerolog.Nop())
	_ = a.Notify(context.Background(), sampleEvent(TaskLocked))
	<-started
	// worker is busy; one slot in the queue, the rest are dropped
	for i := 0; i < 3; i++ {
		if err := a.Notify(context.Background(), sampleEvent(TaskLocked)); err != nil {
			t.Fatalf("notify must not fail when full: %v", err)
		}
	}
	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
}
