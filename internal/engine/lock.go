package engine

import (
	"context"
	"errors"
	"fmt"

	"greenline/internal/domain"
	"greenline/internal/events"
	"greenline/internal/notify"
	"greenline/internal/repo"
)

const (
	lockReasonOverdue = "overdue"
	lockReasonManual  = "manual"

	directUnlockNote = "Directly unlocked by admin"
)

// SweepResult summarizes one auto-lock pass.
type SweepResult struct {
	Today      string   `json:"today" format:"date"`
	Candidates int      `json:"candidates"`
	Locked     []string `json:"locked"`
}

// AutoLockSweep locks every unfinished task whose due date is before today.
// Each task is locked in its own transaction by a conditional update, so
// concurrent sweeps converge and only the writer that flipped the flag
// records the event and notifies.
func (e Engine) AutoLockSweep(ctx context.Context) (SweepResult, error) {
	today := e.today()
	res := SweepResult{Today: today, Locked: []string{}}
	ids, err := e.Repo.LockCandidates(ctx, today)
	if err != nil {
		return res, fmt.Errorf("select lock candidates: %w", err)
	}
	res.Candidates = len(ids)
	for _, id := range ids {
		t, locked, err := e.lockOverdue(ctx, id, today)
		if err != nil {
			return res, err
		}
		if !locked {
			continue
		}
		res.Locked = append(res.Locked, id)
		e.dispatch(ctx, notify.Event{
			Type:       notify.TaskLocked,
			TaskID:     t.ID,
			ProjectID:  derefString(t.ProjectID),
			ActorID:    "system",
			Recipients: recipients(derefString(t.AssigneeID), t.CreatedBy),
			Payload: map[string]any{
				"title":     t.Title,
				"due_date":  t.DueDate,
				"reason":    lockReasonOverdue,
				"locked_at": t.LockedAt,
			},
		})
	}
	e.Log.Info().
		Str("today", today).
		Int("candidates", res.Candidates).
		Int("locked", len(res.Locked)).
		Msg("auto-lock sweep finished")
	return res, nil
}

// SweepAs runs the auto-lock sweep on behalf of an actor holding the
// lock-management capability.
func (e Engine) SweepAs(ctx context.Context, actorID string) (SweepResult, error) {
	if err := e.requireLockManager(ctx, actorID, "run auto-lock sweep"); err != nil {
		return SweepResult{Today: e.today(), Locked: []string{}}, err
	}
	return e.AutoLockSweep(ctx)
}

func (e Engine) lockOverdue(ctx context.Context, id, today string) (domain.Task, bool, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, false, err
	}
	defer tx.Rollback()

	now := e.stamp()
	locked, err := e.Repo.LockOverdueTask(ctx, tx, id, today, now)
	if err != nil {
		return domain.Task{}, false, fmt.Errorf("lock task %s: %w", id, err)
	}
	if !locked {
		return domain.Task{}, false, nil
	}
	t, err := e.Repo.GetTask(ctx, tx, id)
	if err != nil {
		return domain.Task{}, false, err
	}
	if err := e.appendEvent(ctx, tx, events.TaskLocked, derefString(t.ProjectID), "task", id, "system", events.EventPayload{
		"reason":   lockReasonOverdue,
		"due_date": t.DueDate,
		"today":    today,
	}); err != nil {
		return domain.Task{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, false, err
	}
	return t, true, nil
}

func (e Engine) requireLockManager(ctx context.Context, actorID, action string) error {
	return e.requireCapability(ctx, actorID, domain.CapabilityLockManage, action)
}

// ManualLock locks a task immediately regardless of its due date.
func (e Engine) ManualLock(ctx context.Context, taskID, actorID string) (domain.Task, error) {
	if _, err := e.getTask(ctx, nil, taskID); err != nil {
		return domain.Task{}, err
	}
	if err := e.requireLockManager(ctx, actorID, "manual lock"); err != nil {
		return domain.Task{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.getTask(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if t.IsLocked {
		return domain.Task{}, newError(CodeTaskAlreadyLocked, "task is already locked", map[string]any{"task_id": taskID})
	}
	if t.Status == domain.TaskDone {
		return domain.Task{}, newError(CodeTaskCompleted, "completed tasks cannot be locked", map[string]any{"task_id": taskID})
	}
	now := e.stamp()
	locked, err := e.Repo.LockTask(ctx, tx, taskID, now)
	if err != nil {
		return domain.Task{}, fmt.Errorf("lock task: %w", err)
	}
	if !locked {
		return domain.Task{}, newError(CodeTaskAlreadyLocked, "task is already locked", map[string]any{"task_id": taskID})
	}
	if err := e.appendEvent(ctx, tx, events.TaskLocked, derefString(t.ProjectID), "task", taskID, actorID, events.EventPayload{
		"reason": lockReasonManual,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	t.IsLocked = true
	t.LockedAt = &now
	t.UpdatedAt = now
	e.dispatch(ctx, notify.Event{
		Type:       notify.TaskLocked,
		TaskID:     taskID,
		ProjectID:  derefString(t.ProjectID),
		ActorID:    actorID,
		Recipients: recipients(derefString(t.AssigneeID), t.CreatedBy),
		Payload: map[string]any{
			"title":     t.Title,
			"reason":    lockReasonManual,
			"locked_at": now,
		},
	})
	return e.withSLA(t), nil
}

// DirectUnlock clears a lock without a request. Any pending request for the
// task is resolved as approved in the same transaction.
func (e Engine) DirectUnlock(ctx context.Context, taskID, actorID string) (domain.Task, error) {
	if _, err := e.getTask(ctx, nil, taskID); err != nil {
		return domain.Task{}, err
	}
	if err := e.requireLockManager(ctx, actorID, "direct unlock"); err != nil {
		return domain.Task{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.getTask(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if !t.IsLocked {
		return domain.Task{}, newError(CodeTaskNotLocked, "task is not locked", map[string]any{"task_id": taskID})
	}
	now := e.stamp()
	if _, err := e.Repo.UnlockTask(ctx, tx, taskID, now); err != nil {
		return domain.Task{}, fmt.Errorf("unlock task: %w", err)
	}
	projectID := derefString(t.ProjectID)
	var resolved *domain.UnlockRequest
	pending, err := e.Repo.PendingUnlockRequest(ctx, tx, taskID)
	switch {
	case err == nil:
		note := directUnlockNote
		ok, err := e.Repo.ResolveUnlockRequest(ctx, tx, pending.ID, domain.RequestApproved, actorID, now, &note)
		if err != nil {
			return domain.Task{}, fmt.Errorf("resolve unlock request: %w", err)
		}
		if ok {
			pending.Status = domain.RequestApproved
			pending.ReviewedBy, pending.ReviewedAt, pending.ReviewNote = &actorID, &now, &note
			resolved = &pending
			if err := e.appendEvent(ctx, tx, events.UnlockRequestReviewed, projectID, "unlock_request", pending.ID, actorID, events.EventPayload{
				"task_id":  taskID,
				"decision": domain.RequestApproved,
				"note":     note,
			}); err != nil {
				return domain.Task{}, err
			}
		}
	case !errors.Is(err, repo.ErrNotFound):
		return domain.Task{}, err
	}
	payload := events.EventPayload{"reason": "direct"}
	if resolved != nil {
		payload["request_id"] = resolved.ID
	}
	if err := e.appendEvent(ctx, tx, events.TaskUnlocked, projectID, "task", taskID, actorID, payload); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	t.IsLocked = false
	t.LockedAt = nil
	t.UpdatedAt = now
	if resolved != nil {
		e.dispatch(ctx, notify.Event{
			Type:       notify.UnlockDecided,
			TaskID:     taskID,
			ProjectID:  projectID,
			ActorID:    actorID,
			Recipients: recipients(resolved.RequestedBy),
			Payload: map[string]any{
				"request_id":  resolved.ID,
				"decision":    domain.RequestApproved,
				"review_note": directUnlockNote,
			},
		})
	}
	return e.withSLA(t), nil
}
