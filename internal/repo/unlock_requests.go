package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"greenline/internal/domain"
)

const unlockRequestColumns = `id,task_id,requested_by,reason,status,reviewed_by,reviewed_at,review_note,created_at`

func scanUnlockRequest(s scanner) (domain.UnlockRequest, error) {
	var u domain.UnlockRequest
	var by, at, note sql.NullString
	err := s.Scan(&u.ID, &u.TaskID, &u.RequestedBy, &u.Reason, &u.Status, &by, &at, &note, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return u, ErrNotFound
	}
	if err != nil {
		return u, err
	}
	u.ReviewedBy = strPtr(by)
	u.ReviewedAt = strPtr(at)
	u.ReviewNote = strPtr(note)
	return u, nil
}

// IsUniqueViolation reports whether err came from a UNIQUE constraint.
func IsUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (r Repo) InsertUnlockRequest(ctx context.Context, tx *sql.Tx, u domain.UnlockRequest) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO unlock_requests(id,task_id,requested_by,reason,status,created_at) VALUES (?,?,?,?,?,?)`,
		u.ID, u.TaskID, u.RequestedBy, u.Reason, u.Status, u.CreatedAt)
	return err
}

func (r Repo) GetUnlockRequest(ctx context.Context, tx *sql.Tx, id string) (domain.UnlockRequest, error) {
	return scanUnlockRequest(r.q(tx).QueryRowContext(ctx, `SELECT `+unlockRequestColumns+` FROM unlock_requests WHERE id=?`, id))
}

// PendingUnlockRequest returns the pending request of a task, if any.
func (r Repo) PendingUnlockRequest(ctx context.Context, tx *sql.Tx, taskID string) (domain.UnlockRequest, error) {
	return scanUnlockRequest(r.q(tx).QueryRowContext(ctx, `SELECT `+unlockRequestColumns+` FROM unlock_requests WHERE task_id=? AND status=?`,
		taskID, domain.RequestPending))
}

type UnlockRequestFilters struct {
	TaskID      string
	Status      string
	RequestedBy string
	Limit       int
}

func (r Repo) ListUnlockRequests(ctx context.Context, f UnlockRequestFilters) ([]domain.UnlockRequest, error) {
	var clauses []string
	var args []any
	if f.TaskID != "" {
		clauses = append(clauses, "task_id=?")
		args = append(args, f.TaskID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.RequestedBy != "" {
		clauses = append(clauses, "requested_by=?")
		args = append(args, f.RequestedBy)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + unlockRequestColumns + ` FROM unlock_requests ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.UnlockRequest
	for rows.Next() {
		u, err := scanUnlockRequest(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

// ResolveUnlockRequest moves a pending request to a terminal status. It
// reports false when the request was no longer pending.
func (r Repo) ResolveUnlockRequest(ctx context.Context, tx *sql.Tx, id, status, reviewerID, reviewedAt string, note *string) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE unlock_requests SET status=?, reviewed_by=?, reviewed_at=?, review_note=? WHERE id=? AND status=?`,
		status, reviewerID, reviewedAt, nullableStringPtr(note), id, domain.RequestPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}
