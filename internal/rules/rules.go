// Package rules holds the project status rule table: one transition graph
// per status dimension plus the inter-dimension constraints. It has no
// behavior beyond lookups; the engine applies it.
package rules

import (
	"fmt"
	"sort"
	"strings"
)

// Dimension names one independently evolving status axis of a project.
type Dimension string

const (
	Status       Dimension = "status"
	Verification Dimension = "verification_status"
	Execution    Dimension = "execution_status"
	ClientReview Dimension = "client_review_status"
	Payment      Dimension = "payment_status"
)

// Dimensions lists every dimension in evaluation order.
var Dimensions = []Dimension{Status, Verification, Execution, ClientReview, Payment}

// Value is a state of a single dimension.
type Value string

// Lifecycle stages (Status).
const (
	Planned             Value = "planned"
	ChecklistFinalized  Value = "checklist_finalized"
	VerificationPassed  Value = "verification_passed"
	ExecutionInProgress Value = "execution_in_progress"
	ExecutionComplete   Value = "execution_complete"
	DraftPrepared       Value = "draft_prepared"
	InClientReview      Value = "client_review"
	AccountClosure      Value = "account_closure"
	Completed           Value = "completed"
)

// Verification values.
const (
	VerificationPending Value = "pending"
	UnderVerification   Value = "under_verification"
	Passed              Value = "passed"
	Failed              Value = "failed"
)

// Execution values.
const (
	ExecNotStarted Value = "not_started"
	ExecInProgress Value = "in_progress"
	ExecComplete   Value = "complete"
)

// Client review values.
const (
	ReviewNotStarted Value = "not_started"
	InReview         Value = "in_review"
	ChangesRequested Value = "changes_requested"
	RevisedShared    Value = "revised_shared"
	ClientApproved   Value = "client_approved"
)

// Payment values.
const (
	PaymentPending Value = "pending"
	PaymentPartial Value = "partial"
	PaymentPaid    Value = "paid"
)

// Graph maps a current value to its legal next values. Every value of the
// dimension must appear as a key, terminal values with an empty slice.
type Graph map[Value][]Value

// Requirement is satisfied when Dimension currently holds one of OneOf.
type Requirement struct {
	Dimension Dimension `json:"dimension"`
	OneOf     []Value   `json:"one_of"`
}

func (r Requirement) satisfiedBy(v Value) bool {
	for _, want := range r.OneOf {
		if want == v {
			return true
		}
	}
	return false
}

func (r Requirement) String() string {
	vals := make([]string, len(r.OneOf))
	for i, v := range r.OneOf {
		vals[i] = string(v)
	}
	return fmt.Sprintf("%s=%s", r.Dimension, strings.Join(vals, "|"))
}

// Constraint states that assigning Value to Dimension needs every Requires
// entry to hold on the resulting tuple.
type Constraint struct {
	Dimension Dimension
	Value     Value
	Requires  []Requirement
}

// Tuple is the full status of a project, one value per dimension.
type Tuple map[Dimension]Value

// Violation is one unmet requirement found while evaluating constraints.
type Violation struct {
	Dimension   Dimension   `json:"dimension"`
	Value       Value       `json:"value"`
	Requirement Requirement `json:"requires"`
	Actual      Value       `json:"actual"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s=%s requires %s (currently %s)", v.Dimension, v.Value, v.Requirement, v.Actual)
}

type assignment struct {
	dim Dimension
	val Value
}

// Table is an immutable, validated rule table.
type Table struct {
	graphs      map[Dimension]Graph
	constraints map[assignment][]Requirement
}

// NewTable validates graphs and constraints and returns the table. Every
// edge endpoint and every referenced value must belong to its dimension.
func NewTable(graphs map[Dimension]Graph, constraints []Constraint) (*Table, error) {
	t := &Table{
		graphs:      make(map[Dimension]Graph, len(graphs)),
		constraints: make(map[assignment][]Requirement),
	}
	for _, dim := range Dimensions {
		g, ok := graphs[dim]
		if !ok || len(g) == 0 {
			return nil, fmt.Errorf("rules: dimension %s has no graph", dim)
		}
		for from, tos := range g {
			for _, to := range tos {
				if _, ok := g[to]; !ok {
					return nil, fmt.Errorf("rules: %s edge %s -> %s targets undeclared value", dim, from, to)
				}
			}
		}
		t.graphs[dim] = g
	}
	for dim := range graphs {
		if _, ok := t.graphs[dim]; !ok {
			return nil, fmt.Errorf("rules: unknown dimension %s", dim)
		}
	}
	for _, c := range constraints {
		if !t.Valid(c.Dimension, c.Value) {
			return nil, fmt.Errorf("rules: constraint on undeclared %s=%s", c.Dimension, c.Value)
		}
		for _, req := range c.Requires {
			if len(req.OneOf) == 0 {
				return nil, fmt.Errorf("rules: constraint %s=%s has empty requirement on %s", c.Dimension, c.Value, req.Dimension)
			}
			for _, v := range req.OneOf {
				if !t.Valid(req.Dimension, v) {
					return nil, fmt.Errorf("rules: constraint %s=%s requires undeclared %s=%s", c.Dimension, c.Value, req.Dimension, v)
				}
			}
		}
		key := assignment{c.Dimension, c.Value}
		t.constraints[key] = append(t.constraints[key], c.Requires...)
	}
	return t, nil
}

// MustTable is NewTable that panics on an invalid table.
func MustTable(graphs map[Dimension]Graph, constraints []Constraint) *Table {
	t, err := NewTable(graphs, constraints)
	if err != nil {
		panic(err)
	}
	return t
}

// Known reports whether dim is a dimension of this table.
func (t *Table) Known(dim Dimension) bool {
	_, ok := t.graphs[dim]
	return ok
}

// Valid reports whether v is a declared value of dim.
func (t *Table) Valid(dim Dimension, v Value) bool {
	g, ok := t.graphs[dim]
	if !ok {
		return false
	}
	_, ok = g[v]
	return ok
}

// Values returns every declared value of dim, sorted.
func (t *Table) Values(dim Dimension) []Value {
	g := t.graphs[dim]
	out := make([]Value, 0, len(g))
	for v := range g {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Next returns the values reachable from `from` in one step.
func (t *Table) Next(dim Dimension, from Value) []Value {
	tos := t.graphs[dim][from]
	out := make([]Value, len(tos))
	copy(out, tos)
	return out
}

// Allows reports whether dim may move from `from` to `to`.
func (t *Table) Allows(dim Dimension, from, to Value) bool {
	for _, v := range t.graphs[dim][from] {
		if v == to {
			return true
		}
	}
	return false
}

// Requirements returns the requirements attached to dim=v.
func (t *Table) Requirements(dim Dimension, v Value) []Requirement {
	return t.constraints[assignment{dim, v}]
}

// Unmet evaluates the constraints implied by the values that `changed`
// dimensions hold in tuple, and returns every requirement tuple fails.
func (t *Table) Unmet(tuple Tuple, changed []Dimension) []Violation {
	var out []Violation
	for _, dim := range changed {
		val := tuple[dim]
		for _, req := range t.constraints[assignment{dim, val}] {
			actual := tuple[req.Dimension]
			if !req.satisfiedBy(actual) {
				out = append(out, Violation{Dimension: dim, Value: val, Requirement: req, Actual: actual})
			}
		}
	}
	return out
}

func req(dim Dimension, oneOf ...Value) Requirement {
	return Requirement{Dimension: dim, OneOf: oneOf}
}

// Default is the rule table projects are governed by.
var Default = MustTable(
	map[Dimension]Graph{
		Status: {
			Planned:             {ChecklistFinalized},
			ChecklistFinalized:  {VerificationPassed},
			VerificationPassed:  {ExecutionInProgress, ChecklistFinalized},
			ExecutionInProgress: {ExecutionComplete},
			ExecutionComplete:   {DraftPrepared, ExecutionInProgress},
			DraftPrepared:       {InClientReview},
			InClientReview:      {AccountClosure, DraftPrepared},
			AccountClosure:      {Completed, InClientReview},
			Completed:           {},
		},
		Verification: {
			VerificationPending: {UnderVerification},
			UnderVerification:   {Passed, Failed},
			Failed:              {UnderVerification},
			Passed:              {},
		},
		Execution: {
			ExecNotStarted: {ExecInProgress},
			ExecInProgress: {ExecComplete, ExecNotStarted},
			ExecComplete:   {ExecInProgress},
		},
		ClientReview: {
			ReviewNotStarted: {InReview},
			InReview:         {ChangesRequested, ClientApproved},
			ChangesRequested: {RevisedShared},
			RevisedShared:    {InReview, ChangesRequested, ClientApproved},
			ClientApproved:   {},
		},
		// Payments may walk backwards to record reversals and refunds.
		Payment: {
			PaymentPending: {PaymentPartial, PaymentPaid},
			PaymentPartial: {PaymentPaid, PaymentPending},
			PaymentPaid:    {PaymentPartial},
		},
	},
	[]Constraint{
		{Status, VerificationPassed, []Requirement{req(Verification, Passed)}},
		{Status, ExecutionInProgress, []Requirement{
			req(Verification, Passed),
			req(Execution, ExecInProgress, ExecComplete),
		}},
		{Status, ExecutionComplete, []Requirement{req(Execution, ExecComplete)}},
		{Status, InClientReview, []Requirement{req(ClientReview, InReview, ChangesRequested, RevisedShared, ClientApproved)}},
		{Status, AccountClosure, []Requirement{req(ClientReview, ClientApproved)}},
		{Status, Completed, []Requirement{
			req(Verification, Passed),
			req(Execution, ExecComplete),
			req(ClientReview, ClientApproved),
			req(Payment, PaymentPaid),
		}},
		{Execution, ExecInProgress, []Requirement{req(Verification, Passed)}},
		{ClientReview, InReview, []Requirement{req(Execution, ExecComplete)}},
	},
)
