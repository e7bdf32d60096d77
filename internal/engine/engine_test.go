package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"flowgate/internal/config"
	"flowgate/internal/db"
	"flowgate/internal/domain"
	"flowgate/internal/engine"
	"flowgate/internal/migrate"
	"flowgate/internal/repo"
	"flowgate/internal/workflow"
)

type testEnv struct {
	Service engine.Service
	Ctx     context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	svc := engine.New(conn, config.Default("proj-1"))
	// advancing clock keeps the change log strictly ordered
	tick := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	svc.Now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}
	ctx := context.Background()
	if _, err := svc.InitProject(ctx, "proj-1", "test", "admin"); err != nil {
		t.Fatalf("init project: %v", err)
	}
	return testEnv{Service: svc, Ctx: ctx}
}

func grant(t *testing.T, svc engine.Service, actorID string, perms ...string) {
	t.Helper()
	ctx := context.Background()
	tx, err := svc.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	if err := svc.Repo.EnsureActor(ctx, tx, actorID, "2024-01-01T00:00:00Z"); err != nil {
		t.Fatalf("ensure actor: %v", err)
	}
	for _, p := range perms {
		if err := svc.Repo.GrantPermission(ctx, tx, actorID, p); err != nil {
			t.Fatalf("grant %s: %v", p, err)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func mustApply(t *testing.T, env testEnv, opts engine.ApplyOptions) domain.Item {
	t.Helper()
	it, out, err := env.Service.ApplyAction(env.Ctx, opts)
	if err != nil {
		t.Fatalf("apply %s: %v (reason %q)", opts.Action, err, out.Reason)
	}
	return it
}

func TestCreateItemInitialStatus(t *testing.T) {
	env := newTestEnv(t)
	grant(t, env.Service, "alice", workflow.PermModify)
	it, err := env.Service.CreateItem(env.Ctx, engine.ItemCreateOptions{
		ProjectID: "proj-1",
		Type:      "EFR",
		Summary:   "Fan rattles at takeoff",
		ActorID:   "alice",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if it.ID == "" {
		t.Fatalf("expected generated id")
	}
	if it.Status != "01-assigned_for_description" {
		t.Fatalf("status = %s", it.Status)
	}
	if it.Owner != "alice" || it.Reporter != "alice" {
		t.Fatalf("owner/reporter = %s/%s", it.Owner, it.Reporter)
	}
	if _, err := env.Service.CreateItem(env.Ctx, engine.ItemCreateOptions{
		ProjectID: "proj-1", Type: "BOGUS", Summary: "nope", ActorID: "alice",
	}); err == nil {
		t.Fatalf("expected unknown type error")
	}
}

func TestFormWorkflowWalk(t *testing.T) {
	env := newTestEnv(t)
	grant(t, env.Service, "alice", workflow.PermModify)
	it, err := env.Service.CreateItem(env.Ctx, engine.ItemCreateOptions{
		ProjectID: "proj-1", Type: "EFR", Summary: "walk", ActorID: "alice",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	steps := []struct {
		action string
		status string
	}{
		{"describe", "02-described"},
		{"validate_description", "03-assigned_for_analysis"},
		{"analyse", "04-analysed"},
		{"validate_analysis", "07-assigned_for_closure_actions"},
	}
	for _, step := range steps {
		it = mustApply(t, env, engine.ApplyOptions{
			ItemID: it.ID, ProjectID: "proj-1", Action: step.action, ActorID: "alice",
		})
		if it.Status != step.status {
			t.Fatalf("%s: status = %s, want %s", step.action, it.Status, step.status)
		}
	}
	it = mustApply(t, env, engine.ApplyOptions{
		ItemID: it.ID, ProjectID: "proj-1", Action: "resolve", ActorID: "alice", Resolution: "duplicate",
	})
	if it.Status != workflow.StatusClosed {
		t.Fatalf("status = %s", it.Status)
	}
	if it.Resolution == nil || *it.Resolution != "duplicate" {
		t.Fatalf("resolution = %v", it.Resolution)
	}
}

func TestApplyActionDenied(t *testing.T) {
	env := newTestEnv(t)
	grant(t, env.Service, "alice", workflow.PermModify)
	it, err := env.Service.CreateItem(env.Ctx, engine.ItemCreateOptions{
		ProjectID: "proj-1", Type: "EFR", Summary: "denied", ActorID: "alice",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// bob holds no permission and is not the owner
	_, _, err = env.Service.ApplyAction(env.Ctx, engine.ApplyOptions{
		ItemID: it.ID, ProjectID: "proj-1", Action: "describe", ActorID: "bob",
	})
	if !errors.Is(err, engine.ErrActionDenied) {
		t.Fatalf("expected ErrActionDenied, got %v", err)
	}
	// resolution not offered by the action
	it = mustApply(t, env, engine.ApplyOptions{ItemID: it.ID, ProjectID: "proj-1", Action: "describe", ActorID: "alice"})
	_ = it
}

func TestResolutionMustBeOffered(t *testing.T) {
	env := newTestEnv(t)
	grant(t, env.Service, "alice", workflow.PermModify, workflow.PermAuthorize)
	it, err := env.Service.CreateItem(env.Ctx, engine.ItemCreateOptions{
		ProjectID: "proj-1", Type: "MOM", Summary: "minutes", ActorID: "alice",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// MOM skips the analysis phases entirely
	it = mustApply(t, env, engine.ApplyOptions{ItemID: it.ID, ProjectID: "proj-1", Action: "describe", ActorID: "alice"})
	if it.Status != "07-assigned_for_closure_actions" {
		t.Fatalf("status = %s", it.Status)
	}
	_, _, err = env.Service.ApplyAction(env.Ctx, engine.ApplyOptions{
		ItemID: it.ID, ProjectID: "proj-1", Action: "resolve", ActorID: "alice", Resolution: "duplicate",
	})
	if !errors.Is(err, engine.ErrActionDenied) {
		t.Fatalf("expected denial for resolution outside the offer, got %v", err)
	}
	it = mustApply(t, env, engine.ApplyOptions{ItemID: it.ID, ProjectID: "proj-1", Action: "resolve", ActorID: "alice"})
	if it.Resolution == nil || *it.Resolution != "fixed" {
		t.Fatalf("resolution = %v, want default fixed", it.Resolution)
	}
}

func TestAbortAndReopen(t *testing.T) {
	env := newTestEnv(t)
	grant(t, env.Service, "alice", workflow.PermModify, workflow.PermCreate, workflow.PermAuthorize)
	it, err := env.Service.CreateItem(env.Ctx, engine.ItemCreateOptions{
		ProjectID: "proj-1", Type: "EFR", Summary: "abort me", ActorID: "alice",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	it = mustApply(t, env, engine.ApplyOptions{ItemID: it.ID, ProjectID: "proj-1", Action: "abort", ActorID: "alice"})
	if it.Status != workflow.StatusClosed {
		t.Fatalf("status = %s", it.Status)
	}
	if it.Resolution == nil || *it.Resolution != "rejected" {
		t.Fatalf("resolution = %v", it.Resolution)
	}
	// reopen walks the log back to the pre-closure status and clears
	// the resolution
	it = mustApply(t, env, engine.ApplyOptions{ItemID: it.ID, ProjectID: "proj-1", Action: "reopen", ActorID: "alice"})
	if it.Status != "01-assigned_for_description" {
		t.Fatalf("status = %s", it.Status)
	}
	if it.Resolution != nil {
		t.Fatalf("resolution not cleared: %v", *it.Resolution)
	}
}

func TestUpdateItemGuardsWorkflowFields(t *testing.T) {
	env := newTestEnv(t)
	grant(t, env.Service, "alice", workflow.PermModify)
	it, err := env.Service.CreateItem(env.Ctx, engine.ItemCreateOptions{
		ProjectID: "proj-1", Type: "ECR", Summary: "old summary", ActorID: "alice",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.Service.UpdateItem(env.Ctx, engine.ItemUpdateOptions{
		ID: it.ID, ProjectID: "proj-1", Set: map[string]string{"status": "closed"}, ActorID: "alice",
	}); err == nil || !strings.Contains(err.Error(), "workflow actions") {
		t.Fatalf("expected workflow field guard, got %v", err)
	}
	it, err = env.Service.UpdateItem(env.Ctx, engine.ItemUpdateOptions{
		ID: it.ID, ProjectID: "proj-1",
		Set:     map[string]string{"summary": "new summary", "severity": "major"},
		Comment: "triage pass",
		ActorID: "alice",
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if it.Summary != "new summary" || it.Fields["severity"] != "major" {
		t.Fatalf("update not applied: %+v", it)
	}
	log, err := env.Service.Repo.ItemLog(env.Ctx, it.ID)
	if err != nil {
		t.Fatalf("log: %v", err)
	}
	last := log[len(log)-1]
	if last.Comment != "triage pass" || len(last.Deltas) != 2 {
		t.Fatalf("unexpected change: %+v", last)
	}
}

func TestDocTagLifecycle(t *testing.T) {
	env := newTestEnv(t)
	grant(t, env.Service, "alice", workflow.PermModify, workflow.PermAuthorize)
	it, err := env.Service.CreateItem(env.Ctx, engine.ItemCreateOptions{
		ProjectID: "proj-1", Type: "DOC", Summary: "DOC_ABC-100",
		Fields:  map[string]string{"sourcetype": "Word"},
		ActorID: "alice",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// source and pdf files gate the review assignment
	_, _, err = env.Service.ApplyAction(env.Ctx, engine.ApplyOptions{
		ItemID: it.ID, ProjectID: "proj-1", Action: "assign_for_peer_review", ActorID: "alice",
	})
	if !errors.Is(err, engine.ErrActionDenied) {
		t.Fatalf("expected file gate denial, got %v", err)
	}
	it, err = env.Service.UpdateItem(env.Ctx, engine.ItemUpdateOptions{
		ID: it.ID, ProjectID: "proj-1",
		Set:     map[string]string{"sourcefile": "ABC-100.docx", "pdffile": "ABC-100.pdf"},
		ActorID: "alice",
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	it = mustApply(t, env, engine.ApplyOptions{
		ItemID: it.ID, ProjectID: "proj-1", Action: "assign_for_peer_review", ActorID: "alice",
	})
	if it.Status != "02-assigned_for_peer_review" {
		t.Fatalf("status = %s", it.Status)
	}
	if it.Fields["versionstatus"] != "Draft1" {
		t.Fatalf("versionstatus = %s", it.Fields["versionstatus"])
	}
	tag, err := env.Service.Repo.GetVersionTag(env.Ctx, "ABC-100.Draft1")
	if err != nil {
		t.Fatalf("tag: %v", err)
	}
	if tag.TaggedItem != "ABC-100" || tag.Status != "Draft" || tag.StatusIndex != 1 {
		t.Fatalf("tag = %+v", tag)
	}
	log, err := env.Service.Repo.ItemLog(env.Ctx, it.ID)
	if err != nil {
		t.Fatalf("log: %v", err)
	}
	if c := log[len(log)-1].Comment; !strings.Contains(c, "Tag ABC-100.Draft1 applied") {
		t.Fatalf("tag note missing: %q", c)
	}

	it = mustApply(t, env, engine.ApplyOptions{
		ItemID: it.ID, ProjectID: "proj-1", Action: "abort_peer_review", ActorID: "alice",
	})
	if it.Status != "01-assigned_for_edition" {
		t.Fatalf("status = %s", it.Status)
	}
	if _, err := env.Service.Repo.GetVersionTag(env.Ctx, "ABC-100.Draft1"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected tag removed, got %v", err)
	}
	// the next peer review cycle numbers from the registry high-water
	// mark, so a fresh assignment recreates Draft1
	it = mustApply(t, env, engine.ApplyOptions{
		ItemID: it.ID, ProjectID: "proj-1", Action: "assign_for_peer_review", ActorID: "alice",
	})
	if it.Fields["versionstatus"] != "Draft1" {
		t.Fatalf("versionstatus = %s", it.Fields["versionstatus"])
	}
}

func TestReviewQuotaBlocksChildren(t *testing.T) {
	env := newTestEnv(t)
	grant(t, env.Service, "alice", workflow.PermModify, workflow.PermCreate)
	parent, err := env.Service.CreateItem(env.Ctx, engine.ItemCreateOptions{
		ProjectID: "proj-1", Type: "DOC", Summary: "DOC_QQQ-7",
		Fields:  map[string]string{"sourcetype": "Word", "document": "QQQ-7.Proposed1"},
		ActorID: "alice",
	})
	if err != nil {
		t.Fatalf("create parent: %v", err)
	}
	tx, err := env.Service.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := env.Service.Repo.InsertVersionTag(env.Ctx, tx, domain.VersionTag{
		Name: "QQQ-7.Proposed1", TaggedItem: "QQQ-7", Status: "Proposed", StatusIndex: 1,
		ItemID: parent.ID, CreatedBy: "alice", CreatedAt: "2024-01-01T00:00:00Z",
	}); err != nil {
		t.Fatalf("insert tag: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	// Word capacity 6 minus 3 reserved boxes leaves three reviewers
	for i, name := range []string{"first", "second", "third"} {
		_, err := env.Service.CreateItem(env.Ctx, engine.ItemCreateOptions{
			ProjectID: "proj-1", Type: "PRF", Summary: "review " + name,
			ParentID: parent.ID,
			Fields:   map[string]string{"document": "QQQ-7.Proposed1"},
			ActorID:  "alice",
		})
		if err != nil {
			t.Fatalf("review %d: %v", i+1, err)
		}
	}
	_, err = env.Service.CreateItem(env.Ctx, engine.ItemCreateOptions{
		ProjectID: "proj-1", Type: "PRF", Summary: "review fourth",
		ParentID: parent.ID,
		Fields:   map[string]string{"document": "QQQ-7.Proposed1"},
		ActorID:  "alice",
	})
	if err == nil || !strings.Contains(err.Error(), "review item") {
		t.Fatalf("expected quota breach, got %v", err)
	}
}

func TestEventsRecorded(t *testing.T) {
	env := newTestEnv(t)
	grant(t, env.Service, "alice", workflow.PermModify)
	it, err := env.Service.CreateItem(env.Ctx, engine.ItemCreateOptions{
		ProjectID: "proj-1", Type: "EFR", Summary: "evented", ActorID: "alice",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	mustApply(t, env, engine.ApplyOptions{ItemID: it.ID, ProjectID: "proj-1", Action: "describe", ActorID: "alice"})

	evts, err := env.Service.Repo.ListEvents(env.Ctx, "proj-1", "", 10, 0)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	types := map[string]bool{}
	for _, e := range evts {
		types[e.Type] = true
	}
	for _, want := range []string{"project.init", "item.created", "item.action"} {
		if !types[want] {
			t.Fatalf("missing event %s in %v", want, types)
		}
	}
}

func TestListActionsRankedByWeight(t *testing.T) {
	env := newTestEnv(t)
	grant(t, env.Service, "alice", workflow.PermModify)
	it, err := env.Service.CreateItem(env.Ctx, engine.ItemCreateOptions{
		ProjectID: "proj-1", Type: "EFR", Summary: "ranked", ActorID: "alice",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	refs, err := env.Service.ListActions(env.Ctx, it.ID, "alice")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(refs) == 0 || refs[0].Name != "describe" {
		t.Fatalf("expected describe first, got %+v", refs)
	}
	for i := 1; i < len(refs); i++ {
		if refs[i].Weight > refs[i-1].Weight {
			t.Fatalf("weights out of order at %d: %+v", i, refs)
		}
	}
	var abortRef *workflow.ActionRef
	for i := range refs {
		if refs[i].Name == "abort" {
			abortRef = &refs[i]
		}
	}
	if abortRef == nil || abortRef.Allowed {
		t.Fatalf("abort should be listed but denied without AUTHORIZE: %+v", abortRef)
	}
}
