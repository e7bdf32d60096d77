package workflow_test

import (
	"strings"
	"testing"

	"flowgate/internal/domain"
	"flowgate/internal/workflow"
)

func formGateEngine(dir *fakeDir) *workflow.Engine {
	rules := []workflow.Rule{
		{Key: "describe", Value: "01-assigned_for_description -> *"},
		{Key: "describe.triage_permissions", Value: "EFR -> MODIFY"},
		{Key: "describe.triage_status", Value: "EFR -> 02-described"},
		{Key: "reassign", Value: "* -> *"},
		{Key: "reassign.triage_permissions", Value: "EFR -> MODIFY"},
		{Key: "abort", Value: "* -> closed"},
		{Key: "abort.triage_permissions", Value: "EFR -> AUTHORIZE"},
		{Key: "purge", Value: "* -> closed"},
		{Key: "purge.triage_permissions", Value: "EFR -> ADMIN"},
	}
	return workflow.New(workflow.Options{Rules: rules, Dir: dir, Refs: newFakeRefs()})
}

func TestGateOwnerAndPermission(t *testing.T) {
	dir := &fakeDir{perms: map[string][]string{
		"alice": {workflow.PermModify},
		"bob":   {workflow.PermModify},
		"carol": {},
	}}
	e := formGateEngine(dir)
	item := domain.Item{Type: "EFR", Status: "01-assigned_for_description", Owner: "alice"}

	if d := e.Gate("describe", item, nil, "alice"); !d.Allowed {
		t.Fatalf("owner with permission denied: %s", d.Reason)
	}
	if d := e.Gate("describe", item, nil, "bob"); d.Allowed {
		t.Fatalf("non-owner allowed")
	}
	poor := domain.Item{Type: "EFR", Status: "01-assigned_for_description", Owner: "carol"}
	if d := e.Gate("describe", poor, nil, "carol"); d.Allowed {
		t.Fatalf("owner without permission allowed")
	}
}

func TestGateAdminTierIsGlobal(t *testing.T) {
	dir := &fakeDir{perms: map[string][]string{
		"alice": {workflow.PermModify},
		"root":  {workflow.PermAdmin},
	}}
	e := formGateEngine(dir)
	item := domain.Item{Type: "EFR", Status: "01-assigned_for_description", Owner: "alice"}

	if d := e.Gate("purge", item, nil, "root"); !d.Allowed {
		t.Fatalf("admin denied: %s", d.Reason)
	}
	// ownership does not substitute for the admin tier
	if d := e.Gate("purge", item, nil, "alice"); d.Allowed {
		t.Fatalf("non-admin owner allowed")
	}
}

func TestGateNonOwnerOverrides(t *testing.T) {
	dir := &fakeDir{perms: map[string][]string{
		"alice": {workflow.PermModify},
		"bob":   {workflow.PermModify, workflow.PermCreate, workflow.PermAuthorize},
		"carol": {workflow.PermModify},
	}}
	e := formGateEngine(dir)
	item := domain.Item{Type: "EFR", Status: "01-assigned_for_description", Owner: "alice"}

	// reassign opens to non-owners holding CREATE
	if d := e.Gate("reassign", item, nil, "bob"); !d.Allowed {
		t.Fatalf("reassign by developer denied: %s", d.Reason)
	}
	if d := e.Gate("reassign", item, nil, "carol"); d.Allowed {
		t.Fatalf("reassign without CREATE allowed")
	}
	// abort opens to non-owners holding its own required permission
	if d := e.Gate("abort", item, nil, "bob"); !d.Allowed {
		t.Fatalf("abort by authorized denied: %s", d.Reason)
	}
	if d := e.Gate("abort", item, nil, "carol"); d.Allowed {
		t.Fatalf("abort without AUTHORIZE allowed")
	}
}

func TestReviewGateAuthorRule(t *testing.T) {
	dir := &fakeDir{perms: map[string][]string{
		"alice": {workflow.PermModify, workflow.PermAuthorize},
		"bob":   {workflow.PermModify},
		"carol": {workflow.PermAuthorize},
	}}
	rules := []workflow.Rule{
		{Key: "abort", Value: "* -> closed"},
		{Key: "abort.triage_permissions", Value: "RF -> AUTHORIZE"},
	}
	e := workflow.New(workflow.Options{Rules: rules, Dir: dir, Refs: newFakeRefs()})

	// the hand-off marks bob as the peer, hence the author at this status
	item := domain.Item{Type: "RF", Status: "01-assigned_for_description", Owner: "alice"}
	log := []domain.Change{
		chg("bob", "", dlt("status", "04-analysed", "01-assigned_for_description"), dlt("owner", "bob", "alice")),
	}

	if d := e.Gate("abort", item, log, "bob"); !d.Allowed {
		t.Fatalf("author denied: %s", d.Reason)
	}
	if d := e.Gate("abort", item, log, "alice"); d.Allowed {
		t.Fatalf("reviewer allowed to abort own review")
	}
	if d := e.Gate("abort", item, log, "carol"); !d.Allowed {
		t.Fatalf("authorized third party denied: %s", d.Reason)
	}
}

func TestDocGateFileChecks(t *testing.T) {
	dir := &fakeDir{perms: map[string][]string{
		"alice": {workflow.PermModify, workflow.PermAuthorize},
	}}
	rules := []workflow.Rule{
		{Key: "assign_for_peer_review", Value: "01-assigned_for_edition -> *"},
		{Key: "assign_for_peer_review.triage_permissions", Value: "DOC -> MODIFY"},
		{Key: "assign_for_peer_review.triage_status", Value: "DOC -> 02-assigned_for_peer_review"},
	}
	e := workflow.New(workflow.Options{Rules: rules, Dir: dir, Refs: newFakeRefs()})

	item := domain.Item{Type: "DOC", Status: "01-assigned_for_edition", Owner: "alice", Fields: map[string]string{}}
	if d := e.Gate("assign_for_peer_review", item, nil, "alice"); d.Allowed {
		t.Fatalf("allowed without files")
	} else if !strings.Contains(d.Reason, "Source and PDF files") {
		t.Fatalf("reason = %s", d.Reason)
	}

	item.Fields["sourcefile"] = "spec.docx"
	item.Fields["pdffile"] = "spec.pdf"
	if d := e.Gate("assign_for_peer_review", item, nil, "alice"); !d.Allowed {
		t.Fatalf("denied with files: %s", d.Reason)
	}

	// a released document cannot go back to peer review directly
	item.Fields["versionstatus"] = "Released"
	if d := e.Gate("assign_for_peer_review", item, nil, "alice"); d.Allowed {
		t.Fatalf("allowed despite version status mismatch")
	}
}

func TestDocGateTagRemovalReferentialIntegrity(t *testing.T) {
	dir := &fakeDir{perms: map[string][]string{
		"alice": {workflow.PermModify, workflow.PermAuthorize},
	}}
	rules := []workflow.Rule{
		{Key: "assign_for_peer_review", Value: "01-assigned_for_edition -> *"},
		{Key: "assign_for_peer_review.triage_permissions", Value: "DOC -> MODIFY"},
		{Key: "assign_for_peer_review.triage_status", Value: "DOC -> 02-assigned_for_peer_review"},
		{Key: "abort_peer_review", Value: "02-assigned_for_peer_review -> *"},
		{Key: "abort_peer_review.triage_permissions", Value: "DOC -> AUTHORIZE"},
		{Key: "abort_peer_review.triage_status", Value: "DOC -> 01-assigned_for_edition"},
	}
	refs := newFakeRefs()
	refs.tags["ABC-1.Draft1"] = domain.VersionTag{Name: "ABC-1.Draft1", TaggedItem: "ABC-1", Status: "Draft", StatusIndex: 1}
	e := workflow.New(workflow.Options{Rules: rules, Dir: dir, Refs: refs})

	item := domain.Item{
		ID:     "doc-1",
		Type:   "DOC",
		Status: "02-assigned_for_peer_review",
		Owner:  "alice",
		Fields: map[string]string{"document": "ABC-1.Draft1"},
	}

	if d := e.Gate("abort_peer_review", item, nil, "alice"); !d.Allowed {
		t.Fatalf("unreferenced tag removal denied: %s", d.Reason)
	}

	refs.baselines["ABC-1.Draft1"] = []string{"BL-2024-01"}
	if d := e.Gate("abort_peer_review", item, nil, "alice"); d.Allowed {
		t.Fatalf("removal allowed despite baseline reference")
	} else if !strings.Contains(d.Reason, "BL-2024-01") {
		t.Fatalf("reason = %s", d.Reason)
	}

	delete(refs.baselines, "ABC-1.Draft1")
	refs.usingTag["ABC-1.Draft1"] = []string{"doc-1", "other-9"}
	if d := e.Gate("abort_peer_review", item, nil, "alice"); d.Allowed {
		t.Fatalf("removal allowed despite item reference")
	} else if !strings.Contains(d.Reason, "other-9") {
		t.Fatalf("reason = %s", d.Reason)
	}
}
