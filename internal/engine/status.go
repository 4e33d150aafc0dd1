package engine

import (
	"context"
	"fmt"
	"sort"

	"greenline/internal/domain"
	"greenline/internal/events"
	"greenline/internal/rules"
)

func tupleOf(p domain.Project) rules.Tuple {
	return rules.Tuple{
		rules.Status:       rules.Value(p.Status),
		rules.Verification: rules.Value(p.VerificationStatus),
		rules.Execution:    rules.Value(p.ExecutionStatus),
		rules.ClientReview: rules.Value(p.ClientReviewStatus),
		rules.Payment:      rules.Value(p.PaymentStatus),
	}
}

func applyTuple(p domain.Project, t rules.Tuple) domain.Project {
	p.Status = string(t[rules.Status])
	p.VerificationStatus = string(t[rules.Verification])
	p.ExecutionStatus = string(t[rules.Execution])
	p.ClientReviewStatus = string(t[rules.ClientReview])
	p.PaymentStatus = string(t[rules.Payment])
	return p
}

func valueStrings(vs []rules.Value) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = string(v)
	}
	return out
}

// evaluateStatusChanges checks a batch of proposed values against the current
// tuple. It returns the resulting tuple and the dimensions that actually
// change, in evaluation order. Values equal to the current one are no-ops.
func evaluateStatusChanges(table *rules.Table, current rules.Tuple, proposed map[string]string) (rules.Tuple, []rules.Dimension, error) {
	if len(proposed) == 0 {
		return nil, nil, newError(CodeValidation, "at least one status dimension is required", nil)
	}
	if current[rules.Status] == rules.Planned {
		if err := plannedGate(table, current, proposed); err != nil {
			return nil, nil, err
		}
	}
	for name, val := range proposed {
		dim := rules.Dimension(name)
		if !table.Known(dim) {
			return nil, nil, newError(CodeInvalidStatusTransition, fmt.Sprintf("unknown status dimension %q", name),
				map[string]any{"dimension": name})
		}
		if !table.Valid(dim, rules.Value(val)) {
			return nil, nil, newError(CodeInvalidStatusTransition, fmt.Sprintf("%q is not a value of %s", val, name),
				map[string]any{"dimension": name, "to": val, "allowed": valueStrings(table.Values(dim))})
		}
	}

	var changed []rules.Dimension
	for _, dim := range rules.Dimensions {
		val, ok := proposed[string(dim)]
		if !ok || rules.Value(val) == current[dim] {
			continue
		}
		changed = append(changed, dim)
	}

	next := make(rules.Tuple, len(current))
	for k, v := range current {
		next[k] = v
	}
	for _, dim := range changed {
		from, to := current[dim], rules.Value(proposed[string(dim)])
		if !table.Allows(dim, from, to) {
			return nil, nil, newError(CodeInvalidStatusTransition,
				fmt.Sprintf("%s cannot move from %s to %s", dim, from, to),
				map[string]any{
					"dimension": string(dim),
					"from":      string(from),
					"to":        string(to),
					"allowed":   valueStrings(table.Next(dim, from)),
				})
		}
		next[dim] = to
	}

	if unmet := table.Unmet(next, changed); len(unmet) > 0 {
		first := unmet[0]
		all := make([]string, len(unmet))
		for i, v := range unmet {
			all[i] = v.String()
		}
		return nil, nil, newError(CodeInvalidStatusTransition, first.String(), map[string]any{
			"dimension":  string(first.Dimension),
			"value":      string(first.Value),
			"requires":   first.Requirement.String(),
			"actual":     string(first.Actual),
			"violations": all,
		})
	}
	return next, changed, nil
}

// plannedGate admits only status=checklist_finalized on a planned project.
// It runs before any other check, so unknown dimensions and values are gated
// too. Values equal to the current one are no-ops.
func plannedGate(table *rules.Table, current rules.Tuple, proposed map[string]string) error {
	names := make([]string, 0, len(proposed))
	for name := range proposed {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		dim, val := rules.Dimension(name), rules.Value(proposed[name])
		if table.Known(dim) && val == current[dim] {
			continue
		}
		if dim == rules.Status && val == rules.ChecklistFinalized {
			continue
		}
		return newError(CodeChecklistNotFinalized,
			"project checklist must be finalized before any other status change",
			map[string]any{"dimension": name, "to": proposed[name]})
	}
	return nil
}

// ApplyStatusUpdate validates and applies a batch of dimension changes in one
// transaction, writing one audit event per changed dimension. A batch made
// only of no-ops returns the project untouched.
func (e Engine) ApplyStatusUpdate(ctx context.Context, projectID string, changes map[string]string, actorID string) (domain.Project, error) {
	if actorID == "" {
		return domain.Project{}, newError(CodeValidation, "actor is required", nil)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	p, err := e.getProject(ctx, tx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	current := tupleOf(p)
	next, changed, err := evaluateStatusChanges(e.ruleTable(), current, changes)
	if err != nil {
		return domain.Project{}, err
	}
	if len(changed) == 0 {
		return p, nil
	}
	if current[rules.Status] == rules.Planned && next[rules.Status] == rules.ChecklistFinalized {
		total, verified, err := e.Repo.ChecklistCounts(ctx, tx, projectID)
		if err != nil {
			return domain.Project{}, fmt.Errorf("checklist counts: %w", err)
		}
		if verified < total {
			return domain.Project{}, newError(CodeChecklistNotFinalized,
				fmt.Sprintf("%d of %d checklist items are not verified", total-verified, total),
				map[string]any{"total": total, "verified": verified})
		}
	}

	now := e.stamp()
	cols := make(map[string]string, len(changed))
	for _, dim := range changed {
		cols[string(dim)] = string(next[dim])
	}
	if err := e.Repo.EnsureActor(ctx, tx, actorID, now); err != nil {
		return domain.Project{}, fmt.Errorf("ensure actor: %w", err)
	}
	if err := e.Repo.UpdateProjectStatus(ctx, tx, projectID, cols, now, actorID); err != nil {
		return domain.Project{}, fmt.Errorf("update project status: %w", err)
	}
	for _, dim := range changed {
		if err := e.appendEvent(ctx, tx, events.ProjectStatusChanged, projectID, "project", projectID, actorID, events.EventPayload{
			"field": string(dim),
			"from":  string(current[dim]),
			"to":    string(next[dim]),
		}); err != nil {
			return domain.Project{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	e.Log.Info().
		Str("project_id", projectID).
		Str("actor_id", actorID).
		Interface("changes", cols).
		Msg("project status updated")

	p = applyTuple(p, next)
	p.StatusChangedAt = &now
	p.StatusChangedBy = &actorID
	return p, nil
}

// ValidTransitions returns, per dimension, the values reachable in one step.
// While the project is planned only the checklist gate is open.
func (e Engine) ValidTransitions(ctx context.Context, projectID string) (map[string][]string, error) {
	p, err := e.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return validTransitions(e.ruleTable(), tupleOf(p)), nil
}

func validTransitions(table *rules.Table, current rules.Tuple) map[string][]string {
	out := make(map[string][]string, len(rules.Dimensions))
	planned := current[rules.Status] == rules.Planned
	for _, dim := range rules.Dimensions {
		if planned {
			out[string(dim)] = []string{}
			continue
		}
		next := valueStrings(table.Next(dim, current[dim]))
		sort.Strings(next)
		out[string(dim)] = next
	}
	if planned {
		out[string(rules.Status)] = []string{string(rules.ChecklistFinalized)}
	}
	return out
}

// StatusGate reports whether status updates are open for a project.
type StatusGate struct {
	Allowed              bool   `json:"allowed"`
	Reason               string `json:"reason,omitempty"`
	CanFinalizeChecklist bool   `json:"can_finalize_checklist"`
}

// StatusUpdateAllowed is closed while the project is planned.
// CanFinalizeChecklist is true when every checklist item is verified,
// including when the project has none.
func (e Engine) StatusUpdateAllowed(ctx context.Context, projectID string) (StatusGate, error) {
	p, err := e.GetProject(ctx, projectID)
	if err != nil {
		return StatusGate{}, err
	}
	total, verified, err := e.Repo.ChecklistCounts(ctx, nil, projectID)
	if err != nil {
		return StatusGate{}, err
	}
	gate := StatusGate{Allowed: true, CanFinalizeChecklist: total == verified}
	if rules.Value(p.Status) == rules.Planned {
		gate.Allowed = false
		gate.Reason = "Project checklist must be finalized before status updates"
	}
	return gate, nil
}
