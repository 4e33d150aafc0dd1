package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"greenline/internal/domain"
)

const taskColumns = `id,project_id,title,COALESCE(description,''),status,priority,assignee_id,created_by,due_date,is_locked,locked_at,created_at,updated_at,completed_at`

func scanTask(s scanner) (domain.Task, error) {
	var t domain.Task
	var projectID, assigneeID, dueDate, lockedAt, completedAt sql.NullString
	var locked int
	err := s.Scan(&t.ID, &projectID, &t.Title, &t.Description, &t.Status, &t.Priority, &assigneeID, &t.CreatedBy,
		&dueDate, &locked, &lockedAt, &t.CreatedAt, &t.UpdatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.ProjectID = strPtr(projectID)
	t.AssigneeID = strPtr(assigneeID)
	t.DueDate = strPtr(dueDate)
	t.IsLocked = locked == 1
	t.LockedAt = strPtr(lockedAt)
	t.CompletedAt = strPtr(completedAt)
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO tasks(id,project_id,title,description,status,priority,assignee_id,created_by,due_date,is_locked,locked_at,created_at,updated_at,completed_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, nullableStringPtr(t.ProjectID), t.Title, nullable(t.Description), t.Status, t.Priority, nullableStringPtr(t.AssigneeID),
		t.CreatedBy, nullableStringPtr(t.DueDate), boolInt(t.IsLocked), nullableStringPtr(t.LockedAt), t.CreatedAt, t.UpdatedAt, nullableStringPtr(t.CompletedAt))
	return err
}

// UpdateTask writes the mutable fields. Lock columns are owned by the lock
// statements below and are never touched here.
func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE tasks SET title=?, description=?, status=?, priority=?, assignee_id=?, due_date=?, updated_at=?, completed_at=? WHERE id=?`,
		t.Title, nullable(t.Description), t.Status, t.Priority, nullableStringPtr(t.AssigneeID), nullableStringPtr(t.DueDate),
		t.UpdatedAt, nullableStringPtr(t.CompletedAt), t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetTask(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	return scanTask(r.q(tx).QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

type TaskFilters struct {
	ProjectID  string
	Status     string
	AssigneeID string
	Locked     *bool
	Limit      int
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.AssigneeID != "" {
		clauses = append(clauses, "assignee_id=?")
		args = append(args, f.AssigneeID)
	}
	if f.Locked != nil {
		clauses = append(clauses, "is_locked=?")
		args = append(args, boolInt(*f.Locked))
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskColumns + ` FROM tasks ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// LockCandidates returns ids of unlocked, unfinished tasks due before today.
// today is a YYYY-MM-DD date, which orders correctly as text.
func (r Repo) LockCandidates(ctx context.Context, today string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id FROM tasks WHERE is_locked=0 AND status<>? AND due_date IS NOT NULL AND due_date<? ORDER BY due_date ASC, id ASC`,
		domain.TaskDone, today)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LockOverdueTask locks the task only if it is still an auto-lock candidate.
// It reports whether this call performed the lock.
func (r Repo) LockOverdueTask(ctx context.Context, tx *sql.Tx, id, today, lockedAt string) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE tasks SET is_locked=1, locked_at=?, updated_at=? WHERE id=? AND is_locked=0 AND status<>? AND due_date IS NOT NULL AND due_date<?`,
		lockedAt, lockedAt, id, domain.TaskDone, today)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// LockTask locks an unlocked, unfinished task regardless of its due date.
func (r Repo) LockTask(ctx context.Context, tx *sql.Tx, id, lockedAt string) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE tasks SET is_locked=1, locked_at=?, updated_at=? WHERE id=? AND is_locked=0 AND status<>?`,
		lockedAt, lockedAt, id, domain.TaskDone)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// UnlockTask clears the lock if set and reports whether it was set.
func (r Repo) UnlockTask(ctx context.Context, tx *sql.Tx, id, updatedAt string) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE tasks SET is_locked=0, locked_at=NULL, updated_at=? WHERE id=? AND is_locked=1`, updatedAt, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}
