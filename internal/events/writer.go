package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types written to the audit trail.
const (
	ProjectCreated        = "project.created"
	ProjectStatusChanged  = "project.status.changed"
	ChecklistItemAdded    = "checklist.item.added"
	ChecklistItemVerified = "checklist.item.verified"
	TaskCreated           = "task.created"
	TaskUpdated           = "task.updated"
	TaskLocked            = "task.locked"
	TaskUnlocked          = "task.unlocked"
	UnlockRequestCreated  = "unlock_request.created"
	UnlockRequestReviewed = "unlock_request.reviewed"
	RoleGranted           = "rbac.role.granted"
	RoleRevoked           = "rbac.role.revoked"
	APIKeyCreated         = "rbac.api_key.created"
	APIKeyRevoked         = "rbac.api_key.revoked"
)

type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

// Append inserts one audit row inside tx.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, projectID, entityKind, entityID, actorID string, payload EventPayload) error {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,project_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, evtType, nullable(projectID), entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
