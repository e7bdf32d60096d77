package repo_test

import (
	"context"
	"database/sql"
	"errors"
	"reflect"
	"testing"

	"flowgate/internal/db"
	"flowgate/internal/domain"
	"flowgate/internal/migrate"
	"flowgate/internal/repo"
)

func newTestRepo(t *testing.T) repo.Repo {
	t.Helper()
	ws := t.TempDir()
	if _, err := db.EnsureWorkspace(ws); err != nil {
		t.Fatalf("workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: ws})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn}
}

func inTx(t *testing.T, r repo.Repo, fn func(tx *sql.Tx) error) {
	t.Helper()
	tx, err := r.DB.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		t.Fatalf("tx: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func seedProject(t *testing.T, r repo.Repo) {
	t.Helper()
	inTx(t, r, func(tx *sql.Tx) error {
		return r.InsertProject(context.Background(), tx, repo.Project{
			ID: "p1", Kind: "issue-tracker", CreatedAt: "2024-01-01T00:00:00Z",
		})
	})
}

func strp(s string) *string { return &s }

func TestItemRoundTrip(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	seedProject(t, r)

	it := domain.Item{
		ID:        "efr-1",
		Type:      "EFR",
		Summary:   "power budget exceeded",
		Status:    "01-assigned_for_description",
		Owner:     "alice",
		Reporter:  "alice",
		Fields:    map[string]string{"severity": "major"},
		CreatedAt: "2024-01-01T00:00:01Z",
		UpdatedAt: "2024-01-01T00:00:01Z",
	}
	inTx(t, r, func(tx *sql.Tx) error { return r.InsertItem(ctx, tx, "p1", it) })

	got, err := r.GetItem(ctx, "efr-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != it.Status || got.Owner != "alice" || got.Resolution != nil {
		t.Fatalf("item = %+v", got)
	}
	if got.Fields["severity"] != "major" {
		t.Fatalf("fields = %v", got.Fields)
	}

	got.Status = "closed"
	got.Resolution = strp("fixed")
	got.UpdatedAt = "2024-01-01T00:00:02Z"
	inTx(t, r, func(tx *sql.Tx) error { return r.UpdateItem(ctx, tx, got) })
	got, err = r.GetItem(ctx, "efr-1")
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if got.Status != "closed" || got.Resolution == nil || *got.Resolution != "fixed" {
		t.Fatalf("item after update = %+v", got)
	}

	if _, err := r.GetItem(ctx, "nope"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("missing item err = %v", err)
	}
	tx, _ := r.DB.Begin()
	defer tx.Rollback()
	if err := r.UpdateItem(ctx, tx, domain.Item{ID: "nope"}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("update missing err = %v", err)
	}
}

func TestListItemsAndChildren(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	seedProject(t, r)

	items := []domain.Item{
		{ID: "doc-1", Type: "DOC", Summary: "DOC_ABC-1", Status: "01-assigned_for_edition", Owner: "alice", Reporter: "alice", CreatedAt: "2024-01-01T00:00:01Z", UpdatedAt: "2024-01-01T00:00:01Z"},
		{ID: "rf-1", Type: "RF", Summary: "review 1", Status: "01-assigned_for_description", Owner: "bob", Reporter: "bob", Parent: strp("doc-1"), CreatedAt: "2024-01-01T00:00:02Z", UpdatedAt: "2024-01-01T00:00:02Z"},
		{ID: "rf-2", Type: "RF", Summary: "review 2", Status: "01-assigned_for_description", Owner: "carol", Reporter: "carol", Parent: strp("doc-1"), CreatedAt: "2024-01-01T00:00:03Z", UpdatedAt: "2024-01-01T00:00:03Z"},
	}
	inTx(t, r, func(tx *sql.Tx) error {
		for _, it := range items {
			if err := r.InsertItem(ctx, tx, "p1", it); err != nil {
				return err
			}
		}
		return nil
	})

	// newest first
	list, err := r.ListItems(ctx, repo.ItemFilters{ProjectID: "p1", Type: "RF"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	ids := []string{}
	for _, it := range list {
		ids = append(ids, it.ID)
	}
	if !reflect.DeepEqual(ids, []string{"rf-2", "rf-1"}) {
		t.Fatalf("ids = %v", ids)
	}

	list, err = r.ListItems(ctx, repo.ItemFilters{Owner: "carol"})
	if err != nil || len(list) != 1 || list[0].ID != "rf-2" {
		t.Fatalf("owner filter = %v, %v", list, err)
	}

	list, err = r.ListItems(ctx, repo.ItemFilters{Limit: 1, CursorCreatedAt: "2024-01-01T00:00:03Z", CursorID: "rf-2"})
	if err != nil || len(list) != 1 || list[0].ID != "rf-1" {
		t.Fatalf("cursor page = %v, %v", list, err)
	}

	children, err := r.ListChildren(ctx, "doc-1")
	if err != nil || len(children) != 2 || children[0].ID != "rf-1" {
		t.Fatalf("children = %v, %v", children, err)
	}
}

func TestItemLog(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	seedProject(t, r)
	inTx(t, r, func(tx *sql.Tx) error {
		return r.InsertItem(ctx, tx, "p1", domain.Item{
			ID: "efr-1", Type: "EFR", Summary: "s", Status: "01-assigned_for_description",
			Owner: "alice", Reporter: "alice", CreatedAt: "2024-01-01T00:00:01Z", UpdatedAt: "2024-01-01T00:00:01Z",
		})
	})

	log, err := r.ItemLog(ctx, "efr-1")
	if err != nil || log != nil {
		t.Fatalf("empty log = %v, %v", log, err)
	}

	inTx(t, r, func(tx *sql.Tx) error {
		changes := []domain.Change{
			{ID: "c2", ItemID: "efr-1", TS: "2024-01-01T00:00:03Z", Author: "bob",
				Deltas: []domain.FieldDelta{{Field: "status", Old: "02-described", New: "03-assigned_for_analysis"}}},
			{ID: "c1", ItemID: "efr-1", TS: "2024-01-01T00:00:02Z", Author: "alice", Comment: "describing",
				Deltas: []domain.FieldDelta{
					{Field: "status", Old: "01-assigned_for_description", New: "02-described"},
					{Field: "owner", Old: "alice", New: "bob"},
				}},
		}
		for _, c := range changes {
			if err := r.InsertChange(ctx, tx, c); err != nil {
				return err
			}
		}
		return nil
	})

	log, err = r.ItemLog(ctx, "efr-1")
	if err != nil {
		t.Fatalf("log: %v", err)
	}
	if len(log) != 2 || log[0].ID != "c1" || log[1].ID != "c2" {
		t.Fatalf("log order = %+v", log)
	}
	if log[0].Comment != "describing" || len(log[0].Deltas) != 2 {
		t.Fatalf("first change = %+v", log[0])
	}
	if d, ok := log[0].Delta("owner"); !ok || d.New != "bob" {
		t.Fatalf("owner delta = %+v, %v", d, ok)
	}
}

func TestVersionTags(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	tags := []domain.VersionTag{
		{Name: "ABC-1.Draft1", TaggedItem: "ABC-1", Status: "Draft", StatusIndex: 1, CreatedBy: "alice", CreatedAt: "2024-01-01T00:00:01Z"},
		{Name: "ABC-1.Draft2", TaggedItem: "ABC-1", Status: "Draft", StatusIndex: 2, Independence: true, CreatedAt: "2024-01-01T00:00:02Z"},
		{Name: "ABC-1.Proposed1", TaggedItem: "ABC-1", Status: "Proposed", StatusIndex: 1, CreatedAt: "2024-01-01T00:00:03Z"},
	}
	inTx(t, r, func(tx *sql.Tx) error {
		for _, tag := range tags {
			if err := r.InsertVersionTag(ctx, tx, tag); err != nil {
				return err
			}
		}
		return nil
	})

	indexes, err := r.TagIndexes(ctx, "ABC-1", "Draft")
	if err != nil || !reflect.DeepEqual(indexes, []int{1, 2}) {
		t.Fatalf("draft indexes = %v, %v", indexes, err)
	}

	tag, err := r.GetVersionTag(ctx, "ABC-1.Draft2")
	if err != nil {
		t.Fatalf("get tag: %v", err)
	}
	if !tag.Independence || tag.ItemID != "" {
		t.Fatalf("tag = %+v", tag)
	}

	inTx(t, r, func(tx *sql.Tx) error { return r.DeleteVersionTag(ctx, tx, "ABC-1.Draft2") })
	if _, err := r.GetVersionTag(ctx, "ABC-1.Draft2"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("deleted tag err = %v", err)
	}
	tx, _ := r.DB.Begin()
	defer tx.Rollback()
	if err := r.DeleteVersionTag(ctx, tx, "ABC-1.Draft2"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("double delete err = %v", err)
	}
}

func TestReferentialLookups(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	seedProject(t, r)

	inTx(t, r, func(tx *sql.Tx) error {
		items := []domain.Item{
			{ID: "doc-1", Type: "DOC", Summary: "DOC_ABC-1", Status: "01-assigned_for_edition", Owner: "a", Reporter: "a",
				Fields: map[string]string{"document": "ABC-1.Draft1"}, CreatedAt: "2024-01-01T00:00:01Z", UpdatedAt: "2024-01-01T00:00:01Z"},
			{ID: "rf-1", Type: "RF", Summary: "r", Status: "01-assigned_for_description", Owner: "b", Reporter: "b",
				Fields: map[string]string{"document": "ABC-1.Draft1"}, CreatedAt: "2024-01-01T00:00:02Z", UpdatedAt: "2024-01-01T00:00:02Z"},
			{ID: "rf-2", Type: "RF", Summary: "r", Status: "closed", Owner: "c", Reporter: "c",
				Fields: map[string]string{"document": "ABC-1.Draft1"}, CreatedAt: "2024-01-01T00:00:03Z", UpdatedAt: "2024-01-01T00:00:03Z"},
		}
		for _, it := range items {
			if err := r.InsertItem(ctx, tx, "p1", it); err != nil {
				return err
			}
		}
		if err := r.InsertVersionTag(ctx, tx, domain.VersionTag{
			Name: "ABC-1.Draft1", TaggedItem: "ABC-1", Status: "Draft", StatusIndex: 1,
			ItemID: "doc-1", CreatedAt: "2024-01-01T00:00:01Z",
		}); err != nil {
			return err
		}
		if err := r.InsertBaselineEntry(ctx, tx, domain.BaselineEntry{Baseline: "BL-2024-01", TagName: "ABC-1.Draft1"}); err != nil {
			return err
		}
		// duplicate rows collapse
		if err := r.InsertBaselineEntry(ctx, tx, domain.BaselineEntry{Baseline: "BL-2024-01", TagName: "ABC-1.Draft1"}); err != nil {
			return err
		}
		return r.InsertBranch(ctx, tx, domain.Branch{ID: "br-7", SourceTag: "ABC-1.Draft1"})
	})

	baselines, err := r.BaselinesWithTag(ctx, "ABC-1.Draft1")
	if err != nil || !reflect.DeepEqual(baselines, []string{"BL-2024-01"}) {
		t.Fatalf("baselines = %v, %v", baselines, err)
	}
	branches, err := r.BranchesFromTag(ctx, "ABC-1.Draft1")
	if err != nil || !reflect.DeepEqual(branches, []string{"br-7"}) {
		t.Fatalf("branches = %v, %v", branches, err)
	}

	// closed and owning items never block the tag
	using, err := r.ItemsUsingTag(ctx, "ABC-1.Draft1", "doc-1")
	if err != nil || !reflect.DeepEqual(using, []string{"rf-1"}) {
		t.Fatalf("using = %v, %v", using, err)
	}
}
