package repo

import (
	"context"
	"log"

	"flowgate/internal/domain"
)

// Directory answers the engine's identity questions from the rbac
// tables. Lookups run against a snapshot context; query failures are
// logged and answered conservatively (no permission, no groups).
type Directory struct {
	Repo Repo
	Ctx  context.Context
}

func (d Directory) Allowed(principal, permission string) bool {
	perms, err := d.Repo.ActorPermissions(d.ctx(), principal)
	if err != nil {
		log.Printf("directory: permissions for %s: %v", principal, err)
		return false
	}
	for _, p := range perms {
		if p == permission {
			return true
		}
	}
	return false
}

func (d Directory) Principals() []string {
	ids, err := d.Repo.ListActorIDs(d.ctx())
	if err != nil {
		log.Printf("directory: list actors: %v", err)
		return nil
	}
	return ids
}

func (d Directory) Groups(principal string) []string {
	groups, err := d.Repo.ActorGroups(d.ctx(), principal)
	if err != nil {
		log.Printf("directory: groups for %s: %v", principal, err)
		return nil
	}
	return groups
}

func (d Directory) ctx() context.Context {
	if d.Ctx != nil {
		return d.Ctx
	}
	return context.Background()
}

// Refs answers the engine's cross-item questions: change logs, child
// reviews, the version registry, baselines and branches.
type Refs struct {
	Repo Repo
	Ctx  context.Context
}

func (f Refs) Item(id string) (domain.Item, bool) {
	it, err := f.Repo.GetItem(f.ctx(), id)
	if err != nil {
		if err != ErrNotFound {
			log.Printf("refs: item %s: %v", id, err)
		}
		return domain.Item{}, false
	}
	return it, true
}

func (f Refs) Log(id string) []domain.Change {
	changes, err := f.Repo.ItemLog(f.ctx(), id)
	if err != nil {
		log.Printf("refs: log of %s: %v", id, err)
		return nil
	}
	return changes
}

func (f Refs) ChildReviews(itemID string) []domain.Item {
	children, err := f.Repo.ListChildren(f.ctx(), itemID)
	if err != nil {
		log.Printf("refs: children of %s: %v", itemID, err)
		return nil
	}
	return children
}

func (f Refs) BaselinesWithTag(tag string) []string {
	out, err := f.Repo.BaselinesWithTag(f.ctx(), tag)
	if err != nil {
		log.Printf("refs: baselines with %s: %v", tag, err)
		return nil
	}
	return out
}

func (f Refs) ItemsUsingTag(tag, excludeID string) []string {
	out, err := f.Repo.ItemsUsingTag(f.ctx(), tag, excludeID)
	if err != nil {
		log.Printf("refs: items using %s: %v", tag, err)
		return nil
	}
	return out
}

func (f Refs) BranchesFromTag(tag string) []string {
	out, err := f.Repo.BranchesFromTag(f.ctx(), tag)
	if err != nil {
		log.Printf("refs: branches from %s: %v", tag, err)
		return nil
	}
	return out
}

func (f Refs) TagStatus(tag string) (string, bool) {
	t, err := f.Repo.GetVersionTag(f.ctx(), tag)
	if err != nil {
		if err != ErrNotFound {
			log.Printf("refs: tag %s: %v", tag, err)
		}
		return "", false
	}
	return t.Status, true
}

func (f Refs) TagIndexes(taggedItem, status string) []int {
	out, err := f.Repo.TagIndexes(f.ctx(), taggedItem, status)
	if err != nil {
		log.Printf("refs: tag indexes of %s: %v", taggedItem, err)
		return nil
	}
	return out
}

func (f Refs) Independence(tag string) bool {
	t, err := f.Repo.GetVersionTag(f.ctx(), tag)
	if err != nil {
		if err != ErrNotFound {
			log.Printf("refs: tag %s: %v", tag, err)
		}
		return false
	}
	return t.Independence
}

func (f Refs) ctx() context.Context {
	if f.Ctx != nil {
		return f.Ctx
	}
	return context.Background()
}
