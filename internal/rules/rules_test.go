package rules_test

import (
	"testing"

	"greenline/internal/rules"
)

func TestDefaultTableDeclaresEveryDimension(t *testing.T) {
	for _, dim := range rules.Dimensions {
		if !rules.Default.Known(dim) {
			t.Fatalf("dimension %s missing", dim)
		}
		if len(rules.Default.Values(dim)) == 0 {
			t.Fatalf("dimension %s has no values", dim)
		}
	}
	if rules.Default.Known("priority") {
		t.Fatalf("unexpected dimension")
	}
}

func TestAllowsMatchesNext(t *testing.T) {
	for _, dim := range rules.Dimensions {
		values := rules.Default.Values(dim)
		for _, from := range values {
			next := map[rules.Value]bool{}
			for _, v := range rules.Default.Next(dim, from) {
				next[v] = true
			}
			for _, to := range values {
				if got := rules.Default.Allows(dim, from, to); got != next[to] {
					t.Fatalf("%s %s -> %s: allows=%v, in next=%v", dim, from, to, got, next[to])
				}
			}
		}
	}
}

func TestCompletedIsTerminal(t *testing.T) {
	if n := rules.Default.Next(rules.Status, rules.Completed); len(n) != 0 {
		t.Fatalf("completed should be terminal, got %v", n)
	}
}

func TestPaymentReversalAllowed(t *testing.T) {
	if !rules.Default.Allows(rules.Payment, rules.PaymentPaid, rules.PaymentPartial) {
		t.Fatalf("paid -> partial should be allowed")
	}
}

func TestNextReturnsCopy(t *testing.T) {
	n := rules.Default.Next(rules.Status, rules.Planned)
	n[0] = rules.Completed
	if rules.Default.Next(rules.Status, rules.Planned)[0] != rules.ChecklistFinalized {
		t.Fatalf("table mutated through Next result")
	}
}

func TestUnmetCompletedNeedsAllFour(t *testing.T) {
	tuple := rules.Tuple{
		rules.Status:       rules.Completed,
		rules.Verification: rules.Passed,
		rules.Execution:    rules.ExecComplete,
		rules.ClientReview: rules.ClientApproved,
		rules.Payment:      rules.PaymentPartial,
	}
	got := rules.Default.Unmet(tuple, []rules.Dimension{rules.Status})
	if len(got) != 1 {
		t.Fatalf("expected one violation, got %v", got)
	}
	if got[0].Requirement.Dimension != rules.Payment || got[0].Actual != rules.PaymentPartial {
		t.Fatalf("unexpected violation %v", got[0])
	}
	tuple[rules.Payment] = rules.PaymentPaid
	if got := rules.Default.Unmet(tuple, []rules.Dimension{rules.Status}); len(got) != 0 {
		t.Fatalf("expected no violations, got %v", got)
	}
}

func TestUnmetOnlyChecksChangedDimensions(t *testing.T) {
	tuple := rules.Tuple{
		rules.Status:       rules.VerificationPassed,
		rules.Verification: rules.VerificationPending,
		rules.Execution:    rules.ExecNotStarted,
		rules.ClientReview: rules.ReviewNotStarted,
		rules.Payment:      rules.PaymentPending,
	}
	if got := rules.Default.Unmet(tuple, []rules.Dimension{rules.Payment}); len(got) != 0 {
		t.Fatalf("unchanged status should not be evaluated, got %v", got)
	}
	got := rules.Default.Unmet(tuple, []rules.Dimension{rules.Status})
	if len(got) != 1 || got[0].Requirement.Dimension != rules.Verification {
		t.Fatalf("expected verification requirement, got %v", got)
	}
}

func TestNewTableRejectsUndeclaredEdge(t *testing.T) {
	graphs := map[rules.Dimension]rules.Graph{
		rules.Status:       {rules.Planned: {rules.Completed}},
		rules.Verification: {rules.VerificationPending: {}},
		rules.Execution:    {rules.ExecNotStarted: {}},
		rules.ClientReview: {rules.ReviewNotStarted: {}},
		rules.Payment:      {rules.PaymentPending: {}},
	}
	if _, err := rules.NewTable(graphs, nil); err == nil {
		t.Fatalf("expected undeclared edge target error")
	}
}

func TestNewTableRejectsUndeclaredConstraintValue(t *testing.T) {
	graphs := map[rules.Dimension]rules.Graph{
		rules.Status:       {rules.Planned: {}},
		rules.Verification: {rules.VerificationPending: {}},
		rules.Execution:    {rules.ExecNotStarted: {}},
		rules.ClientReview: {rules.ReviewNotStarted: {}},
		rules.Payment:      {rules.PaymentPending: {}},
	}
	constraints := []rules.Constraint{{
		Dimension: rules.Status,
		Value:     rules.Planned,
		Requires:  []rules.Requirement{{Dimension: rules.Payment, OneOf: []rules.Value{rules.PaymentPaid}}},
	}}
	if _, err := rules.NewTable(graphs, constraints); err == nil {
		t.Fatalf("expected undeclared constraint value error")
	}
}

func TestNewTableRejectsMissingDimension(t *testing.T) {
	graphs := map[rules.Dimension]rules.Graph{
		rules.Status: {rules.Planned: {}},
	}
	if _, err := rules.NewTable(graphs, nil); err == nil {
		t.Fatalf("expected missing dimension error")
	}
}
