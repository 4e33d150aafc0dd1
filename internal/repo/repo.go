package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"greenline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// q returns tx when non-nil so reads inside a transaction see its writes.
func (r Repo) q(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.DB
}

type scanner interface {
	Scan(dest ...any) error
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func strPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

const projectColumns = `id,name,COALESCE(client_name,''),COALESCE(description,''),status,verification_status,execution_status,client_review_status,payment_status,status_changed_at,status_changed_by,created_by,created_at`

func scanProject(s scanner) (domain.Project, error) {
	var p domain.Project
	var changedAt, changedBy sql.NullString
	err := s.Scan(&p.ID, &p.Name, &p.ClientName, &p.Description, &p.Status, &p.VerificationStatus, &p.ExecutionStatus,
		&p.ClientReviewStatus, &p.PaymentStatus, &changedAt, &changedBy, &p.CreatedBy, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.StatusChangedAt = strPtr(changedAt)
	p.StatusChangedBy = strPtr(changedBy)
	return p, nil
}

func (r Repo) InsertProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO projects(id,name,client_name,description,status,verification_status,execution_status,client_review_status,payment_status,created_by,created_at) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.Name, nullable(p.ClientName), nullable(p.Description), p.Status, p.VerificationStatus, p.ExecutionStatus,
		p.ClientReviewStatus, p.PaymentStatus, p.CreatedBy, p.CreatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, tx *sql.Tx, id string) (domain.Project, error) {
	return scanProject(r.q(tx).QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id))
}

type ProjectFilters struct {
	Status string
	Limit  int
}

func (r Repo) ListProjects(ctx context.Context, f ProjectFilters) ([]domain.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects`
	var args []any
	if f.Status != "" {
		query += ` WHERE status=?`
		args = append(args, f.Status)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

var statusColumns = map[string]bool{
	"status":               true,
	"verification_status":  true,
	"execution_status":     true,
	"client_review_status": true,
	"payment_status":       true,
}

// UpdateProjectStatus writes the given status columns and stamps the change.
func (r Repo) UpdateProjectStatus(ctx context.Context, tx *sql.Tx, id string, changes map[string]string, changedAt, changedBy string) error {
	if len(changes) == 0 {
		return nil
	}
	cols := make([]string, 0, len(changes))
	for col := range changes {
		if !statusColumns[col] {
			return fmt.Errorf("unknown status column %q", col)
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)
	fields := make([]string, 0, len(cols)+2)
	args := make([]any, 0, len(cols)+3)
	for _, col := range cols {
		fields = append(fields, col+"=?")
		args = append(args, changes[col])
	}
	fields = append(fields, "status_changed_at=?", "status_changed_by=?")
	args = append(args, changedAt, changedBy, id)
	res, err := r.q(tx).ExecContext(ctx, fmt.Sprintf(`UPDATE projects SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const checklistColumns = `id,project_id,title,is_verified,verified_by,verified_at,created_at`

func scanChecklistItem(s scanner) (domain.ChecklistItem, error) {
	var it domain.ChecklistItem
	var verified int
	var by, at sql.NullString
	err := s.Scan(&it.ID, &it.ProjectID, &it.Title, &verified, &by, &at, &it.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return it, ErrNotFound
	}
	if err != nil {
		return it, err
	}
	it.IsVerified = verified == 1
	it.VerifiedBy = strPtr(by)
	it.VerifiedAt = strPtr(at)
	return it, nil
}

func (r Repo) InsertChecklistItem(ctx context.Context, tx *sql.Tx, it domain.ChecklistItem) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO checklist_items(id,project_id,title,is_verified,verified_by,verified_at,created_at) VALUES (?,?,?,?,?,?,?)`,
		it.ID, it.ProjectID, it.Title, boolInt(it.IsVerified), nullableStringPtr(it.VerifiedBy), nullableStringPtr(it.VerifiedAt), it.CreatedAt)
	return err
}

func (r Repo) GetChecklistItem(ctx context.Context, tx *sql.Tx, id string) (domain.ChecklistItem, error) {
	return scanChecklistItem(r.q(tx).QueryRowContext(ctx, `SELECT `+checklistColumns+` FROM checklist_items WHERE id=?`, id))
}

func (r Repo) ListChecklist(ctx context.Context, projectID string) ([]domain.ChecklistItem, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+checklistColumns+` FROM checklist_items WHERE project_id=? ORDER BY created_at ASC, id ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ChecklistItem
	for rows.Next() {
		it, err := scanChecklistItem(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

// SetChecklistItemVerified toggles verification on one item.
func (r Repo) SetChecklistItemVerified(ctx context.Context, tx *sql.Tx, id string, verified bool, by, at string) error {
	var byArg, atArg any
	if verified {
		byArg, atArg = by, at
	}
	res, err := r.q(tx).ExecContext(ctx, `UPDATE checklist_items SET is_verified=?, verified_by=?, verified_at=? WHERE id=?`,
		boolInt(verified), byArg, atArg, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ChecklistCounts returns the total and verified item counts of a project.
func (r Repo) ChecklistCounts(ctx context.Context, tx *sql.Tx, projectID string) (total, verified int, err error) {
	err = r.q(tx).QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(is_verified),0) FROM checklist_items WHERE project_id=?`, projectID).
		Scan(&total, &verified)
	return total, verified, err
}
