package workflow_test

import (
	"reflect"
	"testing"

	"flowgate/internal/domain"
	"flowgate/internal/workflow"
)

func TestCommitTrailAuthors(t *testing.T) {
	e := workflow.New(workflow.Options{Dir: &fakeDir{}, Refs: newFakeRefs()})
	item := domain.Item{
		Type:     "ECM",
		Reporter: "alice",
		Fields:   map[string]string{"ecmtype": "Technical Note"},
	}
	log := []domain.Change{
		// a plain commit without the relay marker earns no credit,
		// and neither does the reporter
		chg("bob", "", dlt("sourceurl", "", "svn://r/1")),
		chg("dave", "Source Url changed (on behalf of carol)", dlt("sourceurl", "svn://r/1", "svn://r/2")),
		chg("eve", "just a comment"),
	}
	got := e.CreditedAuthors(item, log)
	want := []string{"carol"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("authors = %v, want %v", got, want)
	}

	// the marker only counts alongside a sourceurl delta
	log = append(log, chg("dave", "Source Url changed (on behalf of frank)"))
	if got := e.CreditedAuthors(item, log); !reflect.DeepEqual(got, want) {
		t.Fatalf("authors = %v, want %v", got, want)
	}
}

func TestEditionTrailAuthors(t *testing.T) {
	dir := &fakeDir{
		perms:  map[string][]string{"root": {workflow.PermAdmin}},
		groups: map[string][]string{"carol": {"Quality"}},
	}
	e := workflow.New(workflow.Options{
		Dir:        dir,
		Refs:       newFakeRefs(),
		RoleGroups: []string{"Quality"},
	})
	item := domain.Item{Type: "DOC", Reporter: "alice", Fields: map[string]string{}}

	// an untouched document has no authors, reporter included
	if got := e.CreditedAuthors(item, nil); len(got) != 0 {
		t.Fatalf("authors of empty log = %v", got)
	}

	log := []domain.Change{
		chg("alice", "", dlt("owner", "alice", "bob")),
		chg("bob", "", dlt("sourcefile", "", "a.doc"), dlt("pdffile", "", "a.pdf")),
		chg("bob", "", dlt("owner", "bob", "carol")),
	}
	got := e.CreditedAuthors(item, log)
	// bob only carried carol's files in; the handover right after the
	// upload retracts his credit
	want := []string{"carol"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("authors = %v, want %v", got, want)
	}

	// admins without a project role never earn credit
	log = append(log, chg("carol", "", dlt("owner", "carol", "root")))
	got = e.CreditedAuthors(item, log)
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("authors with admin handover = %v, want %v", got, want)
	}

	// an edition hand-off and the phase exit credit the editor
	log = append(log, chg("root", "", dlt("owner", "root", "dave")),
		chg("dave", "", dlt("status", "01-assigned_for_edition", "02-assigned_for_peer_review")))
	got = e.CreditedAuthors(item, log)
	want = []string{"carol", "dave"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("authors after handoff = %v, want %v", got, want)
	}
}
