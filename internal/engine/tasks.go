package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"greenline/internal/domain"
	"greenline/internal/events"
	"greenline/internal/repo"
)

var taskTransitions = map[string][]string{
	domain.TaskToDo:    {domain.TaskDoing, domain.TaskBlocked, domain.TaskDone},
	domain.TaskDoing:   {domain.TaskToDo, domain.TaskBlocked, domain.TaskDone},
	domain.TaskBlocked: {domain.TaskToDo, domain.TaskDoing},
	domain.TaskDone:    {domain.TaskDoing},
}

func ensureTaskTransition(oldStatus, newStatus string) error {
	next, ok := taskTransitions[oldStatus]
	if _, known := taskTransitions[newStatus]; !ok || !known {
		return newError(CodeValidation, fmt.Sprintf("unknown task status %s", newStatus), map[string]any{"status": newStatus})
	}
	for _, s := range next {
		if s == newStatus {
			return nil
		}
	}
	return newError(CodeValidation, fmt.Sprintf("invalid task status transition %s -> %s", oldStatus, newStatus), map[string]any{
		"from":    oldStatus,
		"to":      newStatus,
		"allowed": next,
	})
}

func validPriority(p string) bool {
	switch p {
	case domain.PriorityLow, domain.PriorityMedium, domain.PriorityHigh:
		return true
	}
	return false
}

// normalizeDueDate accepts YYYY-MM-DD or an RFC3339 timestamp and keeps the
// calendar date.
func (e Engine) normalizeDueDate(in string) (*string, error) {
	in = strings.TrimSpace(in)
	if in == "" {
		return nil, nil
	}
	if d, err := time.ParseInLocation(dateLayout, in, e.clock().Location()); err == nil {
		s := d.Format(dateLayout)
		return &s, nil
	}
	if ts, err := time.Parse(time.RFC3339, in); err == nil {
		s := ts.In(e.clock().Location()).Format(dateLayout)
		return &s, nil
	}
	return nil, newError(CodeValidation, fmt.Sprintf("due date %q must be YYYY-MM-DD", in), map[string]any{"due_date": in})
}

func taskNotFound(id string) error {
	return newError(CodeTaskNotFound, fmt.Sprintf("task %s not found", id), map[string]any{"task_id": id})
}

func (e Engine) getTask(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, tx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return t, taskNotFound(id)
	}
	return t, err
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	ProjectID   string
	Title       string
	Description string
	Priority    string
	AssigneeID  string
	DueDate     string
	ActorID     string
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	title := strings.TrimSpace(opts.Title)
	if title == "" {
		return domain.Task{}, newError(CodeValidation, "title is required", nil)
	}
	if opts.ActorID == "" {
		return domain.Task{}, newError(CodeValidation, "actor is required", nil)
	}
	if opts.Priority == "" {
		opts.Priority = domain.PriorityMedium
	}
	if !validPriority(opts.Priority) {
		return domain.Task{}, newError(CodeValidation, fmt.Sprintf("unknown priority %s", opts.Priority), nil)
	}
	due, err := e.normalizeDueDate(opts.DueDate)
	if err != nil {
		return domain.Task{}, err
	}
	now := e.stamp()
	t := domain.Task{
		ID:          uuid.NewString(),
		ProjectID:   optionalString(opts.ProjectID),
		Title:       title,
		Description: opts.Description,
		Status:      domain.TaskToDo,
		Priority:    opts.Priority,
		AssigneeID:  optionalString(opts.AssigneeID),
		CreatedBy:   opts.ActorID,
		DueDate:     due,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if opts.ProjectID != "" {
		if _, err := e.getProject(ctx, tx, opts.ProjectID); err != nil {
			return domain.Task{}, err
		}
	}
	if err := e.Repo.EnsureActor(ctx, tx, opts.ActorID, now); err != nil {
		return domain.Task{}, fmt.Errorf("ensure actor: %w", err)
	}
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	if err := e.appendEvent(ctx, tx, events.TaskCreated, opts.ProjectID, "task", t.ID, opts.ActorID, events.EventPayload{
		"title":    t.Title,
		"status":   t.Status,
		"due_date": t.DueDate,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return e.withSLA(t), nil
}

// GetTask returns a task with its SLA status computed against the clock.
func (e Engine) GetTask(ctx context.Context, id string) (domain.Task, error) {
	t, err := e.getTask(ctx, nil, id)
	if err != nil {
		return t, err
	}
	return e.withSLA(t), nil
}

// TaskQuery filters task listings. SLAStatus filters on the derived value.
type TaskQuery struct {
	repo.TaskFilters
	SLAStatus string
}

// ListTasks reads tasks and classifies each; it never locks anything.
func (e Engine) ListTasks(ctx context.Context, q TaskQuery) ([]domain.Task, error) {
	tasks, err := e.Repo.ListTasks(ctx, q.TaskFilters)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Task, 0, len(tasks))
	for _, t := range tasks {
		t = e.withSLA(t)
		if q.SLAStatus != "" && t.SLAStatus != q.SLAStatus {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// TaskUpdateOptions encapsulates allowed updates. Nil fields are left alone;
// an empty AssigneeID or DueDate clears the value.
type TaskUpdateOptions struct {
	ID          string
	Title       *string
	Description *string
	Status      *string
	Priority    *string
	AssigneeID  *string
	DueDate     *string
	ActorID     string
}

// UpdateTask applies field changes. Locked tasks only accept changes from
// actors holding the lock-management capability.
func (e Engine) UpdateTask(ctx context.Context, opts TaskUpdateOptions) (domain.Task, error) {
	if opts.ActorID == "" {
		return domain.Task{}, newError(CodeValidation, "actor is required", nil)
	}
	canManage, err := e.can(ctx, opts.ActorID, domain.CapabilityLockManage)
	if err != nil {
		return domain.Task{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.getTask(ctx, tx, opts.ID)
	if err != nil {
		return domain.Task{}, err
	}
	if t.IsLocked && !canManage {
		return domain.Task{}, newError(CodeTaskLocked, "task is locked; request an unlock first", map[string]any{
			"task_id":   t.ID,
			"locked_at": t.LockedAt,
		})
	}
	changes := events.EventPayload{}
	record := func(field string, from, to any) {
		changes[field] = map[string]any{"from": from, "to": to}
	}
	if opts.Title != nil {
		title := strings.TrimSpace(*opts.Title)
		if title == "" {
			return domain.Task{}, newError(CodeValidation, "title must not be empty", nil)
		}
		if title != t.Title {
			record("title", t.Title, title)
			t.Title = title
		}
	}
	if opts.Description != nil && *opts.Description != t.Description {
		record("description", t.Description, *opts.Description)
		t.Description = *opts.Description
	}
	if opts.Priority != nil && *opts.Priority != t.Priority {
		if !validPriority(*opts.Priority) {
			return domain.Task{}, newError(CodeValidation, fmt.Sprintf("unknown priority %s", *opts.Priority), nil)
		}
		record("priority", t.Priority, *opts.Priority)
		t.Priority = *opts.Priority
	}
	if opts.AssigneeID != nil {
		next := optionalString(strings.TrimSpace(*opts.AssigneeID))
		if derefString(next) != derefString(t.AssigneeID) {
			record("assignee_id", t.AssigneeID, next)
			t.AssigneeID = next
		}
	}
	if opts.DueDate != nil {
		due, err := e.normalizeDueDate(*opts.DueDate)
		if err != nil {
			return domain.Task{}, err
		}
		if derefString(due) != derefString(t.DueDate) {
			record("due_date", t.DueDate, due)
			t.DueDate = due
		}
	}
	now := e.stamp()
	if opts.Status != nil && *opts.Status != t.Status {
		if err := ensureTaskTransition(t.Status, *opts.Status); err != nil {
			return domain.Task{}, err
		}
		record("status", t.Status, *opts.Status)
		t.Status = *opts.Status
		if t.Status == domain.TaskDone {
			t.CompletedAt = &now
		} else {
			t.CompletedAt = nil
		}
	}
	if len(changes) == 0 {
		return e.withSLA(t), nil
	}
	t.UpdatedAt = now
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.Task{}, fmt.Errorf("update task: %w", err)
	}
	if t.IsLocked {
		changes["lock_override"] = true
	}
	if err := e.appendEvent(ctx, tx, events.TaskUpdated, derefString(t.ProjectID), "task", t.ID, opts.ActorID, changes); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return e.withSLA(t), nil
}

// ReassignTask changes the assignee; an empty assignee unassigns.
func (e Engine) ReassignTask(ctx context.Context, taskID, assigneeID, actorID string) (domain.Task, error) {
	return e.UpdateTask(ctx, TaskUpdateOptions{ID: taskID, AssigneeID: &assigneeID, ActorID: actorID})
}

// SetTaskStatus moves a task along its status graph.
func (e Engine) SetTaskStatus(ctx context.Context, taskID, status, actorID string) (domain.Task, error) {
	return e.UpdateTask(ctx, TaskUpdateOptions{ID: taskID, Status: &status, ActorID: actorID})
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
