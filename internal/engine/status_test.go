package engine

import (
	"reflect"
	"testing"

	"greenline/internal/rules"
)

func tupleWith(base rules.Tuple, dim rules.Dimension, v rules.Value) rules.Tuple {
	out := make(rules.Tuple, len(base))
	for k, val := range base {
		out[k] = val
	}
	out[dim] = v
	return out
}

func satisfied(table *rules.Table, tuple rules.Tuple, dim rules.Dimension) bool {
	for _, req := range table.Requirements(dim, tuple[dim]) {
		ok := false
		for _, want := range req.OneOf {
			if tuple[req.Dimension] == want {
				ok = true
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// Every single-dimension change succeeds exactly when the edge is declared
// and the resulting tuple meets the requirements of the new value.
func TestSingleChangeMatchesEdgesAndRequirements(t *testing.T) {
	table := rules.Default
	bases := map[string]rules.Tuple{
		"settled": {
			rules.Status:       rules.AccountClosure,
			rules.Verification: rules.Passed,
			rules.Execution:    rules.ExecComplete,
			rules.ClientReview: rules.ClientApproved,
			rules.Payment:      rules.PaymentPaid,
		},
		"fresh": {
			rules.Status:       rules.ChecklistFinalized,
			rules.Verification: rules.VerificationPending,
			rules.Execution:    rules.ExecNotStarted,
			rules.ClientReview: rules.ReviewNotStarted,
			rules.Payment:      rules.PaymentPending,
		},
	}
	accepted := 0
	for name, base := range bases {
		for _, dim := range rules.Dimensions {
			for _, from := range table.Values(dim) {
				if dim == rules.Status && from == rules.Planned {
					continue
				}
				current := tupleWith(base, dim, from)
				for _, to := range table.Values(dim) {
					if to == from {
						continue
					}
					want := table.Allows(dim, from, to) && satisfied(table, tupleWith(current, dim, to), dim)
					next, changed, err := evaluateStatusChanges(table, current, map[string]string{string(dim): string(to)})
					if want {
						if err != nil {
							t.Fatalf("%s: %s %s->%s rejected: %v", name, dim, from, to, err)
						}
						if next[dim] != to || len(changed) != 1 {
							t.Fatalf("%s: %s %s->%s produced %v %v", name, dim, from, to, next, changed)
						}
						accepted++
						continue
					}
					if CodeOf(err) != CodeInvalidStatusTransition {
						t.Fatalf("%s: %s %s->%s expected %s, got %v", name, dim, from, to, CodeInvalidStatusTransition, err)
					}
				}
			}
		}
	}
	if accepted == 0 {
		t.Fatalf("no transition was accepted")
	}
}

func plannedTuple() rules.Tuple {
	return rules.Tuple{
		rules.Status:       rules.Planned,
		rules.Verification: rules.VerificationPending,
		rules.Execution:    rules.ExecNotStarted,
		rules.ClientReview: rules.ReviewNotStarted,
		rules.Payment:      rules.PaymentPending,
	}
}

func TestPlannedGate(t *testing.T) {
	table := rules.Default
	_, _, err := evaluateStatusChanges(table, plannedTuple(), map[string]string{"payment_status": "partial"})
	if CodeOf(err) != CodeChecklistNotFinalized {
		t.Fatalf("expected checklist gate, got %v", err)
	}
	_, _, err = evaluateStatusChanges(table, plannedTuple(), map[string]string{
		"status":              "checklist_finalized",
		"verification_status": "under_verification",
	})
	if CodeOf(err) != CodeChecklistNotFinalized {
		t.Fatalf("finalizing and changing another dimension together must be gated, got %v", err)
	}
	next, changed, err := evaluateStatusChanges(table, plannedTuple(), map[string]string{
		"status":         "checklist_finalized",
		"payment_status": "pending",
	})
	if err != nil {
		t.Fatalf("no-op values should not trip the gate: %v", err)
	}
	if len(changed) != 1 || next[rules.Status] != rules.ChecklistFinalized {
		t.Fatalf("unexpected result %v %v", next, changed)
	}

	for _, changes := range []map[string]string{
		{"status": "bogus"},
		{"payment_status": "bogus"},
		{"mood": "happy"},
		{"status": "checklist_finalized", "mood": "happy"},
	} {
		_, _, err := evaluateStatusChanges(table, plannedTuple(), changes)
		if CodeOf(err) != CodeChecklistNotFinalized {
			t.Fatalf("%v on a planned project: expected checklist gate, got %v", changes, err)
		}
	}
}

func TestNoOpBatchChangesNothing(t *testing.T) {
	_, changed, err := evaluateStatusChanges(rules.Default, plannedTuple(), map[string]string{"status": "planned"})
	if err != nil {
		t.Fatalf("no-op: %v", err)
	}
	if len(changed) != 0 {
		t.Fatalf("expected no changes, got %v", changed)
	}
}

func TestBatchEvaluatedAgainstResultingTuple(t *testing.T) {
	current := rules.Tuple{
		rules.Status:       rules.VerificationPassed,
		rules.Verification: rules.Passed,
		rules.Execution:    rules.ExecNotStarted,
		rules.ClientReview: rules.ReviewNotStarted,
		rules.Payment:      rules.PaymentPending,
	}
	_, _, err := evaluateStatusChanges(rules.Default, current, map[string]string{"status": "execution_in_progress"})
	if CodeOf(err) != CodeInvalidStatusTransition {
		t.Fatalf("status alone should miss the execution requirement, got %v", err)
	}
	next, changed, err := evaluateStatusChanges(rules.Default, current, map[string]string{
		"status":           "execution_in_progress",
		"execution_status": "in_progress",
	})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	want := []rules.Dimension{rules.Status, rules.Execution}
	if !reflect.DeepEqual(changed, want) {
		t.Fatalf("changed = %v, want %v", changed, want)
	}
	if next[rules.Execution] != rules.ExecInProgress {
		t.Fatalf("unexpected tuple %v", next)
	}
}

func TestMalformedBatches(t *testing.T) {
	cases := []struct {
		name    string
		changes map[string]string
		code    string
	}{
		{"empty", map[string]string{}, CodeValidation},
		{"unknown dimension", map[string]string{"mood": "happy"}, CodeInvalidStatusTransition},
		{"unknown value", map[string]string{"payment_status": "refunded"}, CodeInvalidStatusTransition},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			current := tupleWith(plannedTuple(), rules.Status, rules.ChecklistFinalized)
			_, _, err := evaluateStatusChanges(rules.Default, current, tc.changes)
			if CodeOf(err) != tc.code {
				t.Fatalf("expected %s, got %v", tc.code, err)
			}
		})
	}
}

func TestMissingRequirementNamesDimension(t *testing.T) {
	current := tupleWith(plannedTuple(), rules.Status, rules.ChecklistFinalized)
	_, _, err := evaluateStatusChanges(rules.Default, current, map[string]string{"status": "verification_passed"})
	e, ok := err.(*Error)
	if !ok || e.Code != CodeInvalidStatusTransition {
		t.Fatalf("expected transition error, got %v", err)
	}
	if e.Details["requires"] != "verification_status=passed" || e.Details["actual"] != "pending" {
		t.Fatalf("unexpected details %v", e.Details)
	}
}

func TestValidTransitionsWhilePlanned(t *testing.T) {
	got := validTransitions(rules.Default, plannedTuple())
	if !reflect.DeepEqual(got["status"], []string{"checklist_finalized"}) {
		t.Fatalf("status transitions = %v", got["status"])
	}
	for _, dim := range []string{"verification_status", "execution_status", "client_review_status", "payment_status"} {
		if len(got[dim]) != 0 {
			t.Fatalf("%s should be closed while planned, got %v", dim, got[dim])
		}
	}
	open := validTransitions(rules.Default, tupleWith(plannedTuple(), rules.Status, rules.ChecklistFinalized))
	if !reflect.DeepEqual(open["payment_status"], []string{"paid", "partial"}) {
		t.Fatalf("payment transitions = %v", open["payment_status"])
	}
}
