package server

import (
	"encoding/json"

	"greenline/internal/domain"
)

// Request payloads

type CreateProjectRequest struct {
	Name        string `json:"name"`
	ClientName  string `json:"client_name,omitempty"`
	Description string `json:"description,omitempty"`
}

type AddChecklistItemRequest struct {
	Title string `json:"title"`
}

type VerifyChecklistItemRequest struct {
	Verified *bool `json:"verified,omitempty"`
}

type CreateTaskRequest struct {
	ProjectID   string `json:"project_id,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Priority    string `json:"priority,omitempty"`
	AssigneeID  string `json:"assignee_id,omitempty"`
	DueDate     string `json:"due_date,omitempty" doc:"YYYY-MM-DD or RFC3339"`
}

// Status values are checked by the engine so invalid moves surface with
// their domain error code.
type SetTaskStatusRequest struct {
	Status string `json:"status"`
}

type ReassignTaskRequest struct {
	AssigneeID string `json:"assignee_id"`
}

type UnlockRequestRequest struct {
	Reason string `json:"reason"`
}

type ReviewUnlockRequest struct {
	Decision   string  `json:"decision" doc:"approved or rejected"`
	ReviewNote *string `json:"review_note,omitempty"`
}

type RoleChangeRequest struct {
	ActorID string `json:"actor_id"`
	RoleID  string `json:"role_id"`
}

type CreateAPIKeyRequest struct {
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
}

type DevLoginRequest struct {
	ActorID     string   `json:"actor_id"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// Response payloads

type TransitionsResponse struct {
	ProjectID   string              `json:"project_id"`
	Transitions map[string][]string `json:"transitions"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type WhoAmIResponse struct {
	ActorID     string   `json:"actor_id"`
	Source      string   `json:"source"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

// APIKeyResponse never carries the key hash.
type APIKeyResponse struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type CreatedAPIKeyResponse struct {
	APIKeyResponse
	Key string `json:"key" doc:"Shown once; only its hash is stored"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

func eventResponse(e domain.Event) EventResponse {
	payload := map[string]any{}
	if e.Payload != "" {
		_ = json.Unmarshal([]byte(e.Payload), &payload)
	}
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		ProjectID:  e.ProjectID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    payload,
	}
}

func apiKeyResponse(k domain.APIKey) APIKeyResponse {
	return APIKeyResponse{ID: k.ID, ActorID: k.ActorID, Name: k.Name, CreatedAt: k.CreatedAt}
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
