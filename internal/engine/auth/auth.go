// Package auth answers capability questions from the RBAC tables.
package auth

import (
	"context"
	"database/sql"
	"errors"
)

// Service provides RBAC lookups backed by SQL. Roles are global.
type Service struct {
	DB *sql.DB
}

// HasCapability reports whether any role of actorID grants perm.
func (s Service) HasCapability(ctx context.Context, actorID, perm string) (bool, error) {
	if actorID == "" {
		return false, nil
	}
	row := s.DB.QueryRowContext(ctx, `
SELECT 1 FROM actor_roles ar
JOIN role_permissions rp ON rp.role_id=ar.role_id
WHERE ar.actor_id=? AND rp.permission_id=? LIMIT 1`, actorID, perm)
	var n int
	err := row.Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// ActorsWithCapability lists every actor holding perm through some role.
func (s Service) ActorsWithCapability(ctx context.Context, perm string) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT DISTINCT ar.actor_id
FROM actor_roles ar
JOIN role_permissions rp ON rp.role_id=ar.role_id
WHERE rp.permission_id=?
ORDER BY ar.actor_id`, perm)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var actors []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		actors = append(actors, a)
	}
	return actors, rows.Err()
}

func (s Service) ActorRoles(ctx context.Context, actorID string) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT role_id FROM actor_roles WHERE actor_id=? ORDER BY role_id`, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []string
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

func (s Service) ActorPermissions(ctx context.Context, actorID string) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT DISTINCT rp.permission_id
FROM actor_roles ar
JOIN role_permissions rp ON rp.role_id=ar.role_id
WHERE ar.actor_id=?
ORDER BY rp.permission_id`, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}
