package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"greenline/internal/domain"
	"greenline/internal/events"
	"greenline/internal/notify"
	"greenline/internal/repo"
)

func unlockPending(taskID string) error {
	return newError(CodeUnlockRequestPending, "an unlock request is already pending for this task", map[string]any{"task_id": taskID})
}

// RequestUnlock files an unlock request for a locked task. A task has at
// most one pending request.
func (e Engine) RequestUnlock(ctx context.Context, taskID, requesterID, reason string) (domain.UnlockRequest, error) {
	if requesterID == "" {
		return domain.UnlockRequest{}, newError(CodeValidation, "actor is required", nil)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.UnlockRequest{}, err
	}
	defer tx.Rollback()

	t, err := e.getTask(ctx, tx, taskID)
	if err != nil {
		return domain.UnlockRequest{}, err
	}
	if !t.IsLocked {
		return domain.UnlockRequest{}, newError(CodeTaskNotLocked, "task is not locked", map[string]any{"task_id": taskID})
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return domain.UnlockRequest{}, newError(CodeReasonRequired, "a reason is required to request an unlock", nil)
	}
	if _, err := e.Repo.PendingUnlockRequest(ctx, tx, taskID); err == nil {
		return domain.UnlockRequest{}, unlockPending(taskID)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.UnlockRequest{}, err
	}
	now := e.stamp()
	req := domain.UnlockRequest{
		ID:          uuid.NewString(),
		TaskID:      taskID,
		RequestedBy: requesterID,
		Reason:      reason,
		Status:      domain.RequestPending,
		CreatedAt:   now,
	}
	if err := e.Repo.EnsureActor(ctx, tx, requesterID, now); err != nil {
		return domain.UnlockRequest{}, fmt.Errorf("ensure actor: %w", err)
	}
	if err := e.Repo.InsertUnlockRequest(ctx, tx, req); err != nil {
		if repo.IsUniqueViolation(err) {
			return domain.UnlockRequest{}, unlockPending(taskID)
		}
		return domain.UnlockRequest{}, fmt.Errorf("insert unlock request: %w", err)
	}
	projectID := derefString(t.ProjectID)
	if err := e.appendEvent(ctx, tx, events.UnlockRequestCreated, projectID, "unlock_request", req.ID, requesterID, events.EventPayload{
		"task_id": taskID,
		"reason":  reason,
	}); err != nil {
		return domain.UnlockRequest{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.UnlockRequest{}, err
	}
	to := append([]string{t.CreatedBy}, e.lockAdmins(ctx)...)
	e.dispatch(ctx, notify.Event{
		Type:       notify.UnlockRequested,
		TaskID:     taskID,
		ProjectID:  projectID,
		ActorID:    requesterID,
		Recipients: recipients(to...),
		Payload: map[string]any{
			"request_id": req.ID,
			"title":      t.Title,
			"reason":     reason,
		},
	})
	return req, nil
}

func requestNotFound(id string) error {
	return newError(CodeRequestNotFound, fmt.Sprintf("unlock request %s not found", id), map[string]any{"request_id": id})
}

func (e Engine) GetUnlockRequest(ctx context.Context, id string) (domain.UnlockRequest, error) {
	req, err := e.Repo.GetUnlockRequest(ctx, nil, id)
	if errors.Is(err, repo.ErrNotFound) {
		return req, requestNotFound(id)
	}
	return req, err
}

func (e Engine) ListUnlockRequests(ctx context.Context, f repo.UnlockRequestFilters) ([]domain.UnlockRequest, error) {
	if f.Status != "" {
		switch f.Status {
		case domain.RequestPending, domain.RequestApproved, domain.RequestRejected:
		default:
			return nil, newError(CodeValidation, fmt.Sprintf("unknown request status %s", f.Status), nil)
		}
	}
	return e.Repo.ListUnlockRequests(ctx, f)
}

// ReviewUnlockRequest approves or rejects a pending request. The reviewer
// must be the task creator or hold the lock-management capability.
// Approval clears the task lock in the same transaction.
func (e Engine) ReviewUnlockRequest(ctx context.Context, requestID, decision, reviewerID string, note *string) (domain.UnlockRequest, error) {
	req, err := e.GetUnlockRequest(ctx, requestID)
	if err != nil {
		return domain.UnlockRequest{}, err
	}
	if decision != domain.RequestApproved && decision != domain.RequestRejected {
		return domain.UnlockRequest{}, newError(CodeInvalidDecision, fmt.Sprintf("decision must be %s or %s", domain.RequestApproved, domain.RequestRejected),
			map[string]any{"decision": decision})
	}
	t, err := e.getTask(ctx, nil, req.TaskID)
	if err != nil {
		return domain.UnlockRequest{}, err
	}
	if reviewerID == "" || reviewerID != t.CreatedBy {
		ok, err := e.can(ctx, reviewerID, domain.CapabilityLockManage)
		if err != nil {
			return domain.UnlockRequest{}, err
		}
		if !ok {
			return domain.UnlockRequest{}, newError(CodeInsufficientPermissions, "only the task creator or a lock manager may review unlock requests",
				map[string]any{"actor_id": reviewerID, "capability": domain.CapabilityLockManage})
		}
	}
	if note != nil {
		trimmed := strings.TrimSpace(*note)
		note = optionalString(trimmed)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.UnlockRequest{}, err
	}
	defer tx.Rollback()

	current, err := e.Repo.GetUnlockRequest(ctx, tx, requestID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.UnlockRequest{}, requestNotFound(requestID)
	}
	if err != nil {
		return domain.UnlockRequest{}, err
	}
	alreadyReviewed := newError(CodeRequestAlreadyReviewed, fmt.Sprintf("unlock request is already %s", current.Status),
		map[string]any{"request_id": requestID, "status": current.Status})
	if current.Status != domain.RequestPending {
		return domain.UnlockRequest{}, alreadyReviewed
	}
	now := e.stamp()
	ok, err := e.Repo.ResolveUnlockRequest(ctx, tx, requestID, decision, reviewerID, now, note)
	if err != nil {
		return domain.UnlockRequest{}, fmt.Errorf("resolve unlock request: %w", err)
	}
	if !ok {
		return domain.UnlockRequest{}, alreadyReviewed
	}
	projectID := derefString(t.ProjectID)
	if err := e.appendEvent(ctx, tx, events.UnlockRequestReviewed, projectID, "unlock_request", requestID, reviewerID, events.EventPayload{
		"task_id":  current.TaskID,
		"decision": decision,
		"note":     note,
	}); err != nil {
		return domain.UnlockRequest{}, err
	}
	if decision == domain.RequestApproved {
		unlocked, err := e.Repo.UnlockTask(ctx, tx, current.TaskID, now)
		if err != nil {
			return domain.UnlockRequest{}, fmt.Errorf("unlock task: %w", err)
		}
		if unlocked {
			if err := e.appendEvent(ctx, tx, events.TaskUnlocked, projectID, "task", current.TaskID, reviewerID, events.EventPayload{
				"reason":     "request_approved",
				"request_id": requestID,
			}); err != nil {
				return domain.UnlockRequest{}, err
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.UnlockRequest{}, err
	}
	current.Status = decision
	current.ReviewedBy = &reviewerID
	current.ReviewedAt = &now
	current.ReviewNote = note

	payload := map[string]any{
		"request_id": requestID,
		"decision":   decision,
	}
	if note != nil {
		payload["review_note"] = *note
	}
	e.dispatch(ctx, notify.Event{
		Type:       notify.UnlockDecided,
		TaskID:     current.TaskID,
		ProjectID:  projectID,
		ActorID:    reviewerID,
		Recipients: recipients(current.RequestedBy),
		Payload:    payload,
	})
	return current, nil
}
