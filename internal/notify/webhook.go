package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"greenline/internal/config"
)

const defaultWebhookTimeout = 5 * time.Second

type webhookTarget struct {
	url     string
	secret  string
	timeout time.Duration
	filter  eventFilter
}

// Webhook posts events as JSON to every enabled hook subscribed to them.
type Webhook struct {
	client  *http.Client
	targets []webhookTarget
}

// NewWebhook builds a dispatcher from config, skipping disabled hooks.
// client may be nil.
func NewWebhook(hooks []config.WebhookConfig, client *http.Client) *Webhook {
	if client == nil {
		client = &http.Client{}
	}
	w := &Webhook{client: client}
	for _, hook := range hooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		timeout := defaultWebhookTimeout
		if hook.TimeoutSeconds > 0 {
			timeout = time.Duration(hook.TimeoutSeconds) * time.Second
		}
		w.targets = append(w.targets, webhookTarget{
			url:     hook.URL,
			secret:  hook.Secret,
			timeout: timeout,
			filter:  newEventFilter(hook.Events),
		})
	}
	return w
}

// Len returns the number of active hooks.
func (w *Webhook) Len() int { return len(w.targets) }

func (w *Webhook) Notify(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	delivery := uuid.NewString()
	var errs []error
	for _, t := range w.targets {
		if !t.filter.match(ev.Type) {
			continue
		}
		if err := w.post(ctx, t, ev.Type, delivery, data); err != nil {
			errs = append(errs, fmt.Errorf("webhook %s: %w", t.url, err))
		}
	}
	return errors.Join(errs...)
}

func (w *Webhook) post(ctx context.Context, t webhookTarget, typ Type, delivery string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Greenline-Event", string(typ))
	req.Header.Set("X-Greenline-Delivery", delivery)
	if strings.TrimSpace(t.secret) != "" {
		req.Header.Set("X-Greenline-Secret", t.secret)
	}
	res, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
