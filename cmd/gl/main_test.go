package main

import (
	"testing"

	"greenline/internal/domain"
)

func TestParseAssignments(t *testing.T) {
	got, err := parseAssignments([]string{"execution_status=in_progress", " status = execution_in_progress "})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got["execution_status"] != "in_progress" || got["status"] != "execution_in_progress" {
		t.Fatalf("unexpected changes: %+v", got)
	}
	for _, bad := range []string{"status", "=planned"} {
		if _, err := parseAssignments([]string{bad}); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestMatchesEvent(t *testing.T) {
	ev := domain.Event{Type: "task.locked", EntityKind: "task", EntityID: "t-1"}
	if !matchesEvent(ev, "", "", "") {
		t.Fatalf("empty filters should match")
	}
	if !matchesEvent(ev, "task.locked", "task", "t-1") {
		t.Fatalf("exact filters should match")
	}
	if matchesEvent(ev, "task.created", "", "") || matchesEvent(ev, "", "project", "") || matchesEvent(ev, "", "", "t-2") {
		t.Fatalf("mismatched filter matched")
	}
}
