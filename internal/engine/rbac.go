package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"greenline/internal/domain"
	"greenline/internal/engine/auth"
	"greenline/internal/events"
	"greenline/internal/repo"
)

const apiKeyPrefix = "gl_"

// SyncRoles upserts the roles and permissions declared in config. Existing
// grants are left alone.
func (e Engine) SyncRoles(ctx context.Context) error {
	if e.Config == nil || len(e.Config.RBAC.Roles) == 0 {
		return nil
	}
	ids := make([]string, 0, len(e.Config.RBAC.Roles))
	for id := range e.Config.RBAC.Roles {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, id := range ids {
		role := e.Config.RBAC.Roles[id]
		if err := e.Repo.InsertRole(ctx, tx, id, role.Description); err != nil {
			return fmt.Errorf("insert role %s: %w", id, err)
		}
		for _, perm := range role.Permissions {
			if err := e.Repo.InsertPermission(ctx, tx, perm, ""); err != nil {
				return fmt.Errorf("insert permission %s: %w", perm, err)
			}
			if err := e.Repo.AddRolePermission(ctx, tx, id, perm); err != nil {
				return fmt.Errorf("grant %s to role %s: %w", perm, id, err)
			}
		}
	}
	return tx.Commit()
}

// BootstrapRole assigns a role without any permission check. It is meant for
// seeding the first administrator of a workspace.
func (e Engine) BootstrapRole(ctx context.Context, actorID, roleID string) error {
	if err := e.SyncRoles(ctx); err != nil {
		return err
	}
	return e.assignRole(ctx, "bootstrap", actorID, roleID)
}

// GrantRole assigns roleID to target. The caller needs rbac.manage.
func (e Engine) GrantRole(ctx context.Context, actorID, target, roleID string) error {
	if err := e.requireCapability(ctx, actorID, domain.CapabilityRBACManage, "grant role"); err != nil {
		return err
	}
	return e.assignRole(ctx, actorID, target, roleID)
}

func (e Engine) assignRole(ctx context.Context, actorID, target, roleID string) error {
	target = strings.TrimSpace(target)
	if target == "" || roleID == "" {
		return newError(CodeValidation, "actor and role are required", nil)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	ok, err := e.Repo.RoleExists(ctx, tx, roleID)
	if err != nil {
		return err
	}
	if !ok {
		return newError(CodeRoleNotFound, fmt.Sprintf("role %s not found", roleID), map[string]any{"role": roleID})
	}
	if err := e.Repo.EnsureActor(ctx, tx, target, e.stamp()); err != nil {
		return fmt.Errorf("ensure actor: %w", err)
	}
	if err := e.Repo.AssignRole(ctx, tx, target, roleID); err != nil {
		return fmt.Errorf("assign role: %w", err)
	}
	if err := e.appendEvent(ctx, tx, events.RoleGranted, "", "actor", target, actorID, events.EventPayload{"role": roleID}); err != nil {
		return err
	}
	return tx.Commit()
}

// RevokeRole removes roleID from target. The caller needs rbac.manage.
func (e Engine) RevokeRole(ctx context.Context, actorID, target, roleID string) error {
	if err := e.requireCapability(ctx, actorID, domain.CapabilityRBACManage, "revoke role"); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	removed, err := e.Repo.RevokeRole(ctx, tx, target, roleID)
	if err != nil {
		return fmt.Errorf("revoke role: %w", err)
	}
	if !removed {
		return newError(CodeRoleNotFound, fmt.Sprintf("actor %s does not hold role %s", target, roleID),
			map[string]any{"actor_id": target, "role": roleID})
	}
	if err := e.appendEvent(ctx, tx, events.RoleRevoked, "", "actor", target, actorID, events.EventPayload{"role": roleID}); err != nil {
		return err
	}
	return tx.Commit()
}

// Identity is an actor with its effective roles and permissions.
type Identity struct {
	ActorID     string   `json:"actor_id"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

func (e Engine) WhoAmI(ctx context.Context, actorID string) (Identity, error) {
	svc := auth.Service{DB: e.DB}
	roles, err := svc.ActorRoles(ctx, actorID)
	if err != nil {
		return Identity{}, err
	}
	perms, err := svc.ActorPermissions(ctx, actorID)
	if err != nil {
		return Identity{}, err
	}
	if roles == nil {
		roles = []string{}
	}
	if perms == nil {
		perms = []string{}
	}
	return Identity{ActorID: actorID, Roles: roles, Permissions: perms}, nil
}

func (e Engine) requireCapability(ctx context.Context, actorID, capability, action string) error {
	ok, err := e.can(ctx, actorID, capability)
	if err != nil {
		return err
	}
	if !ok {
		return newError(CodeInsufficientPermissions, fmt.Sprintf("%s requires %s", action, capability), map[string]any{
			"actor_id":   actorID,
			"capability": capability,
		})
	}
	return nil
}

// CreateAPIKey issues a key for owner. The raw key is returned once; only its
// hash is stored.
func (e Engine) CreateAPIKey(ctx context.Context, actorID, owner, name string) (domain.APIKey, string, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return domain.APIKey{}, "", newError(CodeValidation, "owner is required", nil)
	}
	if err := e.requireCapability(ctx, actorID, domain.CapabilityRBACManage, "create api key"); err != nil {
		return domain.APIKey{}, "", err
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return domain.APIKey{}, "", fmt.Errorf("generate api key: %w", err)
	}
	raw := apiKeyPrefix + hex.EncodeToString(buf)
	now := e.stamp()
	key := domain.APIKey{
		ID:        uuid.NewString(),
		ActorID:   owner,
		Name:      strings.TrimSpace(name),
		KeyHash:   repo.HashAPIKey(raw),
		CreatedAt: now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.APIKey{}, "", err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureActor(ctx, tx, owner, now); err != nil {
		return domain.APIKey{}, "", fmt.Errorf("ensure actor: %w", err)
	}
	if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
		return domain.APIKey{}, "", fmt.Errorf("insert api key: %w", err)
	}
	if err := e.appendEvent(ctx, tx, events.APIKeyCreated, "", "api_key", key.ID, actorID, events.EventPayload{
		"owner": owner,
		"name":  key.Name,
	}); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := tx.Commit(); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, raw, nil
}

func (e Engine) ListAPIKeys(ctx context.Context, owner string) ([]domain.APIKey, error) {
	return e.Repo.ListAPIKeys(ctx, owner)
}

func (e Engine) RevokeAPIKey(ctx context.Context, actorID, keyID string) error {
	if err := e.requireCapability(ctx, actorID, domain.CapabilityRBACManage, "revoke api key"); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteAPIKey(ctx, tx, keyID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return newError(CodeAPIKeyNotFound, fmt.Sprintf("api key %s not found", keyID), map[string]any{"key_id": keyID})
		}
		return err
	}
	if err := e.appendEvent(ctx, tx, events.APIKeyRevoked, "", "api_key", keyID, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}
