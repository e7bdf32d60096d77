package workflow_test

import (
	"errors"
	"strings"
	"testing"

	"flowgate/internal/domain"
	"flowgate/internal/workflow"
)

func TestBuildTableBaseRule(t *testing.T) {
	rules := []workflow.Rule{
		{Key: "submit", Value: "01-draft, 02-review -> 03-done"},
		{Key: "submit.name", Value: "submit for approval"},
		{Key: "submit.default", Value: "4"},
		{Key: "submit.triage_permissions", Value: "T -> MODIFY | CREATE"},
	}
	table, _ := workflow.BuildTable(rules, workflow.NewRegistry())
	if len(table.Defects) != 0 {
		t.Fatalf("unexpected defects: %v", table.Defects)
	}
	a := table.ByName["submit"]
	if a == nil {
		t.Fatalf("action missing")
	}
	if a.Label != "submit for approval" || a.Default != 4 {
		t.Fatalf("label/default = %q/%d", a.Label, a.Default)
	}
	if len(a.OldStates) != 2 || a.OldStates[0] != "01-draft" || a.OldStates[1] != "02-review" {
		t.Fatalf("old states = %v", a.OldStates)
	}
	if a.NewState != "03-done" {
		t.Fatalf("new state = %s", a.NewState)
	}
	// '|' distributes positionally over the old states
	if a.Permissions["T"]["01-draft"] != "MODIFY" || a.Permissions["T"]["02-review"] != "CREATE" {
		t.Fatalf("permissions = %v", a.Permissions)
	}
}

func TestPlainValueClippedAgainstUniverse(t *testing.T) {
	rules := []workflow.Rule{
		{Key: "open", Value: "* -> *"},
		{Key: "open.triage_status", Value: "T -> s1"},
		{Key: "open.triage_permissions", Value: "T -> CREATE"},
		{Key: "mark", Value: "s1, zz -> *"},
		{Key: "mark.triage_status", Value: "T -> s2"},
		{Key: "mark.triage_permissions", Value: "T -> MODIFY"},
	}
	table, uni := workflow.BuildTable(rules, workflow.NewRegistry())
	if len(table.Defects) != 0 {
		t.Fatalf("unexpected defects: %v", table.Defects)
	}
	if !uni.Has("T", "s1") || !uni.Has("T", "s2") {
		t.Fatalf("universe = %v", uni["T"])
	}
	// wildcard old states expand to the whole universe
	open := table.ByName["open"]
	if open.Permissions["T"]["s1"] != "CREATE" || open.Permissions["T"]["s2"] != "CREATE" {
		t.Fatalf("open permissions = %v", open.Permissions)
	}
	// a status outside the universe is dropped, not kept
	mark := table.ByName["mark"]
	if mark.Permissions["T"]["s1"] != "MODIFY" {
		t.Fatalf("mark permissions = %v", mark.Permissions)
	}
	if _, ok := mark.Permissions["T"]["zz"]; ok {
		t.Fatalf("zz should have been clipped: %v", mark.Permissions)
	}
}

func TestBuildTableDefects(t *testing.T) {
	rules := []workflow.Rule{
		{Key: "bad", Value: "a -> b -> c"},
		{Key: "orphan.default", Value: "x"},
		{Key: "two", Value: "a, b -> c"},
		{Key: "two.triage_permissions", Value: "T -> MODIFY | CREATE | ADMIN"},
		{Key: "two.triage_roles", Value: "no arrow here"},
	}
	table, _ := workflow.BuildTable(rules, workflow.NewRegistry())
	wants := []string{
		"base rule is not 'oldstates -> newstate'",
		"not an integer",
		"action has attributes but no base rule",
		"3 alternatives for 2 old states",
		"entry is not 'key -> value'",
	}
	for _, want := range wants {
		found := false
		for _, d := range table.Defects {
			if strings.Contains(d.String(), want) {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("missing defect %q in %v", want, table.Defects)
		}
	}
}

func TestActionMatches(t *testing.T) {
	rules := []workflow.Rule{
		{Key: "any", Value: "* -> closed"},
		{Key: "any.triage_permissions", Value: "T -> AUTHORIZE"},
	}
	table, _ := workflow.BuildTable(rules, workflow.NewRegistry())
	a := table.ByName["any"]
	if !a.Matches("T", "whatever") {
		t.Fatalf("wildcard old state should match any status")
	}
	// a triage value without a permissions entry never matches
	if a.Matches("U", "whatever") {
		t.Fatalf("unknown triage value should not match")
	}
}

func TestOperationsReadTriageTableOnly(t *testing.T) {
	rules := []workflow.Rule{
		{Key: "start", Value: "01-begin -> *"},
		{Key: "start.triage_status", Value: "T -> 02-work"},
		{Key: "start.triage_permissions", Value: "T -> MODIFY"},
		{Key: "start.operations", Value: "set_owner"},
		{Key: "finish", Value: "02-work -> *"},
		{Key: "finish.triage_status", Value: "T -> 01-begin"},
		{Key: "finish.triage_permissions", Value: "T -> MODIFY"},
		{Key: "finish.triage_operations", Value: "T -> set_resolution, set_owner"},
	}
	e := workflow.New(workflow.Options{Rules: rules, Dir: &fakeDir{}, Refs: newFakeRefs()})
	item := domain.Item{Type: "T", Status: "02-work"}

	ops, err := e.Operations("finish", item, "")
	if err != nil {
		t.Fatalf("finish ops: %v", err)
	}
	if len(ops) != 2 || ops[0] != workflow.OpSetResolution || ops[1] != workflow.OpSetOwner {
		t.Fatalf("ops = %v", ops)
	}

	// the base operations attribute is parsed but never consulted
	ops, err = e.Operations("start", domain.Item{Type: "T", Status: "01-begin"}, "")
	if err != nil || ops != nil {
		t.Fatalf("start ops = %v, %v", ops, err)
	}

	// a status absent from a present triage table is a config gap
	var missing *workflow.MissingEntryError
	if _, err := e.Operations("finish", item, "zzz"); !errors.As(err, &missing) {
		t.Fatalf("expected missing entry error, got %v", err)
	}
}
