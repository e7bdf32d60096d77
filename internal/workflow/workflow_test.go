package workflow_test

import (
	"sort"

	"flowgate/internal/domain"
)

// fakeDir is an in-memory Directory.
type fakeDir struct {
	perms  map[string][]string
	groups map[string][]string
}

func (d *fakeDir) Allowed(principal, permission string) bool {
	for _, p := range d.perms[principal] {
		if p == permission {
			return true
		}
	}
	return false
}

func (d *fakeDir) Principals() []string {
	var out []string
	for p := range d.perms {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (d *fakeDir) Groups(principal string) []string {
	return d.groups[principal]
}

// fakeRefs is an in-memory RefIndex.
type fakeRefs struct {
	items     map[string]domain.Item
	logs      map[string][]domain.Change
	children  map[string][]domain.Item
	tags      map[string]domain.VersionTag
	baselines map[string][]string
	usingTag  map[string][]string
	branches  map[string][]string
}

func (r *fakeRefs) Item(id string) (domain.Item, bool) {
	it, ok := r.items[id]
	return it, ok
}

func (r *fakeRefs) Log(id string) []domain.Change { return r.logs[id] }

func (r *fakeRefs) ChildReviews(itemID string) []domain.Item { return r.children[itemID] }

func (r *fakeRefs) BaselinesWithTag(tag string) []string { return r.baselines[tag] }

func (r *fakeRefs) ItemsUsingTag(tag, excludeID string) []string {
	var out []string
	for _, id := range r.usingTag[tag] {
		if id != excludeID {
			out = append(out, id)
		}
	}
	return out
}

func (r *fakeRefs) BranchesFromTag(tag string) []string { return r.branches[tag] }

func (r *fakeRefs) TagStatus(tag string) (string, bool) {
	t, ok := r.tags[tag]
	if !ok {
		return "", false
	}
	return t.Status, true
}

func (r *fakeRefs) TagIndexes(taggedItem, status string) []int {
	var out []int
	for _, t := range r.tags {
		if t.TaggedItem != taggedItem {
			continue
		}
		if status != "" && t.Status != status {
			continue
		}
		out = append(out, t.StatusIndex)
	}
	sort.Ints(out)
	return out
}

func (r *fakeRefs) Independence(tag string) bool { return r.tags[tag].Independence }

func newFakeRefs() *fakeRefs {
	return &fakeRefs{
		items:     map[string]domain.Item{},
		logs:      map[string][]domain.Change{},
		children:  map[string][]domain.Item{},
		tags:      map[string]domain.VersionTag{},
		baselines: map[string][]string{},
		usingTag:  map[string][]string{},
		branches:  map[string][]string{},
	}
}

func chg(author, comment string, deltas ...domain.FieldDelta) domain.Change {
	return domain.Change{Author: author, Comment: comment, Deltas: deltas}
}

func dlt(field, old, new string) domain.FieldDelta {
	return domain.FieldDelta{Field: field, Old: old, New: new}
}

func strptr(s string) *string { return &s }
