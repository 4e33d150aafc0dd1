package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"greenline/internal/config"
	"greenline/internal/domain"
	"greenline/internal/events"
	"greenline/internal/notify"
	"greenline/internal/repo"
	"greenline/internal/rules"
	"greenline/internal/sla"
)

const dateLayout = "2006-01-02"

// Authorizer answers capability questions. It is consulted before a
// transaction starts, never inside one.
type Authorizer interface {
	HasCapability(ctx context.Context, actorID, capability string) (bool, error)
	ActorsWithCapability(ctx context.Context, capability string) ([]string, error)
}

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Config   *config.Config
	Rules    *rules.Table
	Auth     Authorizer
	Notifier notify.Dispatcher
	Log      zerolog.Logger
	Location *time.Location
	Now      func() time.Time
}

// New wires an engine with the default rule table. Auth, Notifier and Log
// may be replaced by the caller.
func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	loc, err := cfg.Location()
	if err != nil {
		loc = time.UTC
	}
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Events:   events.Writer{},
		Config:   cfg,
		Rules:    rules.Default,
		Notifier: notify.Nop{},
		Log:      zerolog.Nop(),
		Location: loc,
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// clock returns now in the engine location; calendar dates are taken from it.
func (e Engine) clock() time.Time {
	loc := e.Location
	if loc == nil {
		loc = time.UTC
	}
	return e.now().In(loc)
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) today() string {
	return e.clock().Format(dateLayout)
}

func (e Engine) ruleTable() *rules.Table {
	if e.Rules != nil {
		return e.Rules
	}
	return rules.Default
}

func (e Engine) appendEvent(ctx context.Context, tx *sql.Tx, evtType, projectID, entityKind, entityID, actorID string, payload events.EventPayload) error {
	w := e.Events
	w.Now = e.now
	return w.Append(ctx, tx, evtType, projectID, entityKind, entityID, actorID, payload)
}

func (e Engine) can(ctx context.Context, actorID, capability string) (bool, error) {
	if e.Auth == nil || actorID == "" {
		return false, nil
	}
	ok, err := e.Auth.HasCapability(ctx, actorID, capability)
	if err != nil {
		return false, fmt.Errorf("check capability %s: %w", capability, err)
	}
	return ok, nil
}

func (e Engine) lockAdmins(ctx context.Context) []string {
	if e.Auth == nil {
		return nil
	}
	ids, err := e.Auth.ActorsWithCapability(ctx, domain.CapabilityLockManage)
	if err != nil {
		e.Log.Warn().Err(err).Msg("notification: list lock admins failed")
		return nil
	}
	return ids
}

// dispatch hands ev to the notifier after commit. Failures are logged only.
func (e Engine) dispatch(ctx context.Context, ev notify.Event) {
	if e.Notifier == nil {
		return
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = e.now().UTC()
	}
	if err := e.Notifier.Notify(ctx, ev); err != nil {
		e.Log.Warn().Err(err).
			Str("type", string(ev.Type)).
			Str("task_id", ev.TaskID).
			Msg("notification: dispatch failed (non-fatal)")
	}
}

func recipients(ids ...string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// ProjectCreateOptions are parameters for creating a project.
type ProjectCreateOptions struct {
	Name        string
	ClientName  string
	Description string
	ActorID     string
}

func (e Engine) CreateProject(ctx context.Context, opts ProjectCreateOptions) (domain.Project, error) {
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		return domain.Project{}, newError(CodeValidation, "name is required", nil)
	}
	if opts.ActorID == "" {
		return domain.Project{}, newError(CodeValidation, "actor is required", nil)
	}
	now := e.stamp()
	p := domain.Project{
		ID:                 uuid.NewString(),
		Name:               name,
		ClientName:         strings.TrimSpace(opts.ClientName),
		Description:        opts.Description,
		Status:             string(rules.Planned),
		VerificationStatus: string(rules.VerificationPending),
		ExecutionStatus:    string(rules.ExecNotStarted),
		ClientReviewStatus: string(rules.ReviewNotStarted),
		PaymentStatus:      string(rules.PaymentPending),
		CreatedBy:          opts.ActorID,
		CreatedAt:          now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.EnsureActor(ctx, tx, opts.ActorID, now); err != nil {
		return domain.Project{}, fmt.Errorf("ensure actor: %w", err)
	}
	if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := e.appendEvent(ctx, tx, events.ProjectCreated, p.ID, "project", p.ID, opts.ActorID, events.EventPayload{
		"name":   p.Name,
		"status": p.Status,
	}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

func projectNotFound(id string) error {
	return newError(CodeProjectNotFound, fmt.Sprintf("project %s not found", id), map[string]any{"project_id": id})
}

func (e Engine) getProject(ctx context.Context, tx *sql.Tx, id string) (domain.Project, error) {
	p, err := e.Repo.GetProject(ctx, tx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return p, projectNotFound(id)
	}
	return p, err
}

func (e Engine) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return e.getProject(ctx, nil, id)
}

func (e Engine) ListProjects(ctx context.Context, f repo.ProjectFilters) ([]domain.Project, error) {
	return e.Repo.ListProjects(ctx, f)
}

func (e Engine) AddChecklistItem(ctx context.Context, projectID, title, actorID string) (domain.ChecklistItem, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.ChecklistItem{}, newError(CodeValidation, "title is required", nil)
	}
	if actorID == "" {
		return domain.ChecklistItem{}, newError(CodeValidation, "actor is required", nil)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ChecklistItem{}, err
	}
	defer tx.Rollback()

	if _, err := e.getProject(ctx, tx, projectID); err != nil {
		return domain.ChecklistItem{}, err
	}
	it := domain.ChecklistItem{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Title:     title,
		CreatedAt: e.stamp(),
	}
	if err := e.Repo.EnsureActor(ctx, tx, actorID, it.CreatedAt); err != nil {
		return domain.ChecklistItem{}, fmt.Errorf("ensure actor: %w", err)
	}
	if err := e.Repo.InsertChecklistItem(ctx, tx, it); err != nil {
		return domain.ChecklistItem{}, fmt.Errorf("insert checklist item: %w", err)
	}
	if err := e.appendEvent(ctx, tx, events.ChecklistItemAdded, projectID, "checklist_item", it.ID, actorID, events.EventPayload{"title": title}); err != nil {
		return domain.ChecklistItem{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ChecklistItem{}, err
	}
	return it, nil
}

// VerifyChecklistItem marks an item verified, or clears it when verified is false.
func (e Engine) VerifyChecklistItem(ctx context.Context, projectID, itemID string, verified bool, actorID string) (domain.ChecklistItem, error) {
	if actorID == "" {
		return domain.ChecklistItem{}, newError(CodeValidation, "actor is required", nil)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ChecklistItem{}, err
	}
	defer tx.Rollback()

	if _, err := e.getProject(ctx, tx, projectID); err != nil {
		return domain.ChecklistItem{}, err
	}
	it, err := e.Repo.GetChecklistItem(ctx, tx, itemID)
	if errors.Is(err, repo.ErrNotFound) || (err == nil && it.ProjectID != projectID) {
		return domain.ChecklistItem{}, newError(CodeChecklistItemNotFound, fmt.Sprintf("checklist item %s not found", itemID), map[string]any{"item_id": itemID})
	}
	if err != nil {
		return domain.ChecklistItem{}, err
	}
	now := e.stamp()
	if err := e.Repo.EnsureActor(ctx, tx, actorID, now); err != nil {
		return domain.ChecklistItem{}, fmt.Errorf("ensure actor: %w", err)
	}
	if err := e.Repo.SetChecklistItemVerified(ctx, tx, itemID, verified, actorID, now); err != nil {
		return domain.ChecklistItem{}, err
	}
	if err := e.appendEvent(ctx, tx, events.ChecklistItemVerified, projectID, "checklist_item", itemID, actorID, events.EventPayload{"verified": verified}); err != nil {
		return domain.ChecklistItem{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ChecklistItem{}, err
	}
	it.IsVerified = verified
	it.VerifiedBy, it.VerifiedAt = nil, nil
	if verified {
		it.VerifiedBy, it.VerifiedAt = &actorID, &now
	}
	return it, nil
}

func (e Engine) ListChecklist(ctx context.Context, projectID string) ([]domain.ChecklistItem, error) {
	if _, err := e.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return e.Repo.ListChecklist(ctx, projectID)
}

// StatusChange is one audited dimension change.
type StatusChange struct {
	EventID   int64  `json:"event_id"`
	Field     string `json:"field"`
	From      string `json:"from"`
	To        string `json:"to"`
	ActorID   string `json:"actor_id"`
	ChangedAt string `json:"changed_at" format:"date-time"`
}

// StatusHistory returns the audited dimension changes of a project, newest first.
func (e Engine) StatusHistory(ctx context.Context, projectID string, limit int) ([]StatusChange, error) {
	if _, err := e.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	evts, err := e.Repo.LatestEvents(ctx, repo.EventFilters{ProjectID: projectID, Type: events.ProjectStatusChanged, Limit: limit})
	if err != nil {
		return nil, err
	}
	out := make([]StatusChange, 0, len(evts))
	for _, ev := range evts {
		var payload struct {
			Field string `json:"field"`
			From  string `json:"from"`
			To    string `json:"to"`
		}
		if err := json.Unmarshal([]byte(ev.Payload), &payload); err != nil {
			return nil, fmt.Errorf("decode event %d: %w", ev.ID, err)
		}
		out = append(out, StatusChange{
			EventID:   ev.ID,
			Field:     payload.Field,
			From:      payload.From,
			To:        payload.To,
			ActorID:   ev.ActorID,
			ChangedAt: ev.TS,
		})
	}
	return out, nil
}

// withSLA fills the derived SLA status. It never writes.
func (e Engine) withSLA(t domain.Task) domain.Task {
	now := e.clock()
	var due *time.Time
	if t.DueDate != nil {
		if d, err := time.ParseInLocation(dateLayout, *t.DueDate, now.Location()); err == nil {
			due = &d
		}
	}
	t.SLAStatus = string(sla.Classify(due, t.Status, now))
	return t
}

// ListEvents reads the audit trail, newest first.
func (e Engine) ListEvents(ctx context.Context, f repo.EventFilters) ([]domain.Event, error) {
	return e.Repo.LatestEvents(ctx, f)
}

// EventsSince returns up to limit events with ids above cursor, oldest first.
func (e Engine) EventsSince(ctx context.Context, cursor int64, limit int, projectID string) ([]domain.Event, error) {
	return e.Repo.EventsAfter(ctx, limit, cursor, projectID)
}
