package workflow_test

import (
	"errors"
	"testing"

	"flowgate/internal/domain"
	"flowgate/internal/workflow"
)

func TestNextStatusLiteralWins(t *testing.T) {
	rules := []workflow.Rule{
		{Key: "go", Value: "a -> b"},
		{Key: "go.triage_permissions", Value: "T -> MODIFY"},
		// the triage table is inert while the literal is concrete
		{Key: "go.triage_status", Value: "T -> c"},
	}
	e := workflow.New(workflow.Options{Rules: rules, Dir: &fakeDir{}, Refs: newFakeRefs()})
	next, err := e.NextStatus("go", domain.Item{Type: "T", Status: "a"}, nil)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if next != "b" {
		t.Fatalf("next = %s", next)
	}
}

func TestNextStatusTriageMap(t *testing.T) {
	rules := []workflow.Rule{
		{Key: "go", Value: "a -> *"},
		{Key: "go.triage_permissions", Value: "T -> MODIFY"},
		{Key: "go.triage_status", Value: "T -> c"},
		{Key: "back", Value: "c -> *"},
		{Key: "back.triage_permissions", Value: "T -> MODIFY"},
		{Key: "back.triage_status", Value: "T -> a"},
		{Key: "bare", Value: "a -> *"},
		{Key: "bare.triage_permissions", Value: "T -> MODIFY"},
	}
	e := workflow.New(workflow.Options{Rules: rules, Dir: &fakeDir{}, Refs: newFakeRefs()})
	item := domain.Item{Type: "T", Status: "a"}

	next, err := e.NextStatus("go", item, nil)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if next != "c" {
		t.Fatalf("next = %s", next)
	}

	var missing *workflow.MissingEntryError
	if _, err := e.NextStatus("bare", item, nil); !errors.As(err, &missing) {
		t.Fatalf("expected missing entry error, got %v", err)
	}

	var unknown *workflow.UnknownActionError
	if _, err := e.NextStatus("nope", item, nil); !errors.As(err, &unknown) {
		t.Fatalf("expected unknown action error, got %v", err)
	}
}

func TestViewAndReassignKeepStatus(t *testing.T) {
	rules := []workflow.Rule{
		{Key: "view", Value: "* -> *"},
		{Key: "view.triage_permissions", Value: "EFR -> MODIFY"},
		{Key: "reassign", Value: "* -> *"},
		{Key: "reassign.triage_permissions", Value: "EFR -> MODIFY"},
	}
	e := workflow.New(workflow.Options{Rules: rules, Dir: &fakeDir{}, Refs: newFakeRefs()})
	item := domain.Item{Type: "EFR", Status: "04-analysed"}
	for _, action := range []string{"view", "reassign"} {
		next, err := e.NextStatus(action, item, nil)
		if err != nil {
			t.Fatalf("%s: %v", action, err)
		}
		if next != "04-analysed" {
			t.Fatalf("%s next = %s", action, next)
		}
	}
}

func TestReopenScansBackward(t *testing.T) {
	rules := []workflow.Rule{
		// resolve puts closed into the EFR universe, so reopen's
		// wildcard entry expands over it
		{Key: "resolve", Value: "07-assigned_for_closure_actions -> *"},
		{Key: "resolve.triage_permissions", Value: "EFR -> MODIFY"},
		{Key: "resolve.triage_status", Value: "EFR -> closed"},
		{Key: "reopen", Value: "closed -> *"},
		{Key: "reopen.triage_permissions", Value: "EFR -> CREATE"},
		{Key: "reopen.triage_status", Value: "EFR -> *"},
	}
	e := workflow.New(workflow.Options{
		Rules:   rules,
		Dir:     &fakeDir{},
		Refs:    newFakeRefs(),
		Aliases: map[string]string{"assigned_for_closure": "07-assigned_for_closure_actions"},
	})
	item := domain.Item{Type: "EFR", Status: "closed"}

	log := []domain.Change{
		chg("alice", "", dlt("status", "04-analysed", "07-assigned_for_closure_actions")),
		chg("alice", "", dlt("status", "07-assigned_for_closure_actions", "closed")),
	}
	next, err := e.NextStatus("reopen", item, log)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if next != "07-assigned_for_closure_actions" {
		t.Fatalf("next = %s", next)
	}

	// legacy literals in old logs are rewritten on the way out
	aliased := []domain.Change{
		chg("alice", "", dlt("status", "assigned_for_closure", "closed")),
	}
	next, err = e.NextStatus("reopen", item, aliased)
	if err != nil {
		t.Fatalf("reopen aliased: %v", err)
	}
	if next != "07-assigned_for_closure_actions" {
		t.Fatalf("aliased next = %s", next)
	}

	var unresolved *workflow.UnresolvedWildcardError
	if _, err := e.NextStatus("reopen", item, nil); !errors.As(err, &unresolved) {
		t.Fatalf("expected unresolved wildcard, got %v", err)
	}
}

func TestAbortApprovalScansForwardProgressOnly(t *testing.T) {
	rules := []workflow.Rule{
		{Key: "assign_for_optional_approval", Value: "02-assigned_for_review -> *"},
		{Key: "assign_for_optional_approval.triage_permissions", Value: "ECM2 -> MODIFY"},
		{Key: "assign_for_optional_approval.triage_status", Value: "ECM2 -> 03-assigned_for_approval"},
		{Key: "abort_optional_approval", Value: "03-assigned_for_approval -> *"},
		{Key: "abort_optional_approval.triage_permissions", Value: "ECM2 -> AUTHORIZE"},
		{Key: "abort_optional_approval.triage_status", Value: "ECM2 -> *"},
	}
	e := workflow.New(workflow.Options{Rules: rules, Dir: &fakeDir{}, Refs: newFakeRefs()})
	item := domain.Item{
		Type:   "ECM",
		Status: "03-assigned_for_approval",
		Fields: map[string]string{"ecmtype": "Technical Note"},
	}
	log := []domain.Change{
		chg("alice", "", dlt("status", "01-assigned_for_edition", "02-assigned_for_review")),
		chg("alice", "", dlt("status", "02-assigned_for_review", "03-assigned_for_approval")),
		// reopen landed here too, but it is not forward progress
		chg("alice", "", dlt("status", "closed", "03-assigned_for_approval")),
	}
	next, err := e.NextStatus("abort_optional_approval", item, log)
	if err != nil {
		t.Fatalf("abort: %v", err)
	}
	if next != "02-assigned_for_review" {
		t.Fatalf("next = %s", next)
	}
}

func TestCurrentStatusMapsPlaceholders(t *testing.T) {
	e := workflow.New(workflow.Options{Dir: &fakeDir{}, Refs: newFakeRefs()})
	if got := e.CurrentStatus(domain.Item{Type: "EFR", Status: ""}); got != "01-assigned_for_description" {
		t.Fatalf("empty status = %s", got)
	}
	if got := e.CurrentStatus(domain.Item{Type: "EFR", Status: "new"}); got != "01-assigned_for_description" {
		t.Fatalf("new status = %s", got)
	}
	if got := e.CurrentStatus(domain.Item{Type: "DOC", Status: ""}); got != "01-assigned_for_edition" {
		t.Fatalf("doc initial = %s", got)
	}
}
