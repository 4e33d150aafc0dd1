package greenlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Greenline HTTP API client. BaseURL includes the
// version prefix, e.g. http://localhost:8080/v1.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	// ActorID is sent as X-Actor-Id when no credentials are set. Servers
	// only honour it when started with the legacy header enabled.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

type Project struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	ClientName         string `json:"client_name,omitempty"`
	Status             string `json:"status"`
	VerificationStatus string `json:"verification_status"`
	ExecutionStatus    string `json:"execution_status"`
	ClientReviewStatus string `json:"client_review_status"`
	PaymentStatus      string `json:"payment_status"`
	CreatedBy          string `json:"created_by"`
	CreatedAt          string `json:"created_at"`
}

// Task represents the API task model (partial).
type Task struct {
	ID         string  `json:"id"`
	ProjectID  *string `json:"project_id,omitempty"`
	Title      string  `json:"title"`
	Status     string  `json:"status"`
	Priority   string  `json:"priority"`
	AssigneeID *string `json:"assignee_id,omitempty"`
	CreatedBy  string  `json:"created_by"`
	DueDate    *string `json:"due_date,omitempty"`
	IsLocked   bool    `json:"is_locked"`
	LockedAt   *string `json:"locked_at,omitempty"`
	SLAStatus  string  `json:"sla_status"`
}

type NewTask struct {
	ProjectID   string `json:"project_id,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Priority    string `json:"priority,omitempty"`
	AssigneeID  string `json:"assignee_id,omitempty"`
	DueDate     string `json:"due_date,omitempty"`
}

type TaskFilter struct {
	ProjectID  string
	Status     string
	AssigneeID string
	Locked     *bool
	SLAStatus  string
}

type UnlockRequest struct {
	ID          string  `json:"id"`
	TaskID      string  `json:"task_id"`
	RequestedBy string  `json:"requested_by"`
	Reason      string  `json:"reason"`
	Status      string  `json:"status"`
	ReviewedBy  *string `json:"reviewed_by,omitempty"`
	ReviewNote  *string `json:"review_note,omitempty"`
	CreatedAt   string  `json:"created_at"`
}

type SweepResult struct {
	Today      string   `json:"today"`
	Candidates int      `json:"candidates"`
	Locked     []string `json:"locked"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code carries the server error code,
// e.g. TASK_LOCKED.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ErrorCode returns the server error code carried by err, or "".
func ErrorCode(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

func (c *Client) CreateProject(ctx context.Context, name, clientName string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPost, "projects", map[string]any{"name": name, "client_name": clientName}, &resp)
	return resp, err
}

func (c *Client) GetProject(ctx context.Context, id string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodGet, "projects/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// UpdateProjectStatus applies a batch of dimension changes atomically.
func (c *Client) UpdateProjectStatus(ctx context.Context, id string, changes map[string]string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPut, "projects/"+url.PathEscape(id)+"/status", changes, &resp)
	return resp, err
}

// CreateTask creates a task.
func (c *Client) CreateTask(ctx context.Context, t NewTask) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks", t, &resp)
	return resp, err
}

func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, "tasks/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

func (c *Client) ListTasks(ctx context.Context, f TaskFilter) ([]Task, error) {
	q := url.Values{}
	setQuery(q, "project_id", f.ProjectID)
	setQuery(q, "status", f.Status)
	setQuery(q, "assignee_id", f.AssigneeID)
	setQuery(q, "sla_status", f.SLAStatus)
	if f.Locked != nil {
		q.Set("locked", strconv.FormatBool(*f.Locked))
	}
	var resp []Task
	err := c.do(ctx, http.MethodGet, withQuery("tasks", q), nil, &resp)
	return resp, err
}

func (c *Client) SetTaskStatus(ctx context.Context, id, status string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPatch, "tasks/"+url.PathEscape(id)+"/status", map[string]any{"status": status}, &resp)
	return resp, err
}

// RequestUnlock files an unlock request for a locked task.
func (c *Client) RequestUnlock(ctx context.Context, taskID, reason string) (UnlockRequest, error) {
	var resp UnlockRequest
	err := c.do(ctx, http.MethodPost, "tasks/"+url.PathEscape(taskID)+"/unlock-requests", map[string]any{"reason": reason}, &resp)
	return resp, err
}

// ReviewUnlockRequest approves or rejects a pending request. note may be empty.
func (c *Client) ReviewUnlockRequest(ctx context.Context, requestID, decision, note string) (UnlockRequest, error) {
	body := map[string]any{"decision": decision}
	if note != "" {
		body["review_note"] = note
	}
	var resp UnlockRequest
	err := c.do(ctx, http.MethodPatch, "unlock-requests/"+url.PathEscape(requestID)+"/review", body, &resp)
	return resp, err
}

// RunSweep triggers the auto-lock sweep. Requires task.lock.manage.
func (c *Client) RunSweep(ctx context.Context) (SweepResult, error) {
	var resp SweepResult
	err := c.do(ctx, http.MethodPost, "sweeps/auto-lock", nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing, newest first.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	setQuery(q, "cursor", cursor)
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, withQuery("events", q), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code, apiErr.Message = env.Error.Code, env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func setQuery(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}

func withQuery(endpoint string, q url.Values) string {
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
