package workflow

import (
	"sort"
	"strings"

	"flowgate/internal/domain"
)

// Ownership-transfer operation tokens.
const (
	OpSetOwner        = "set_owner"
	OpSetOwnerToPeer  = "set_owner_to_peer"
	OpSetOwnerToSelf  = "set_owner_to_self"
	OpSetOwnerToOther = "set_owner_to_other"
	OpSetOwnerToRole  = "set_owner_to_role"
)

// Peer infers the owner's counterpart from the change log: the scan
// walks backward to the first change of both status and owner, which
// marks a user hand-off. A transition out of closed records the
// pre-reopen owner as the provisional role assignee and the scan goes
// on. If no hand-off exists the per-type fallback applies.
func (e *Engine) Peer(item domain.Item, log []domain.Change) string {
	owner := item.Owner
	roleAssignee := ""
	for i := len(log) - 1; i >= 0; i-- {
		st, ok := log[i].Delta("status")
		if !ok {
			continue
		}
		ow, ok := log[i].Delta("owner")
		if !ok {
			continue
		}
		if st.Old == StatusClosed {
			roleAssignee = ow.Old
			continue
		}
		if ow.New == owner || (roleAssignee != "" && ow.New == roleAssignee) {
			return ow.Old
		}
		if ow.Old == owner {
			return ow.New
		}
	}
	if p := e.profileFor(item); p.PeerFallback != nil {
		return p.PeerFallback(e, item, log)
	}
	return ""
}

// OwnerRole is the role required to act in the item's current status:
// the first matching action that is not abort, resolve or reassign
// decides.
func (e *Engine) OwnerRole(item domain.Item) string {
	return e.roleForStatus(item, e.CurrentStatus(item))
}

// PeerRole is the role required in the status the given action leads
// to.
func (e *Engine) PeerRole(action string, item domain.Item, log []domain.Change) string {
	next, err := e.NextStatus(action, item, log)
	if err != nil {
		return ""
	}
	return e.roleForStatus(item, next)
}

func (e *Engine) roleForStatus(item domain.Item, status string) string {
	for _, a := range e.Table.Actions {
		switch a.Name {
		case e.AbortAction, "resolve", "reassign":
			continue
		}
		if a.Matches(e.TriageValue(item, a.TriageField), status) {
			return e.RequiredRole(a.Name, item, status)
		}
	}
	return ""
}

// statesForRole collects every status the table associates with a
// role for the item's triage value.
func (e *Engine) statesForRole(item domain.Item, role string) map[string]bool {
	states := map[string]bool{}
	for _, a := range e.Table.Actions {
		byStatus, ok := a.Roles[e.TriageValue(item, a.TriageField)]
		if !ok {
			continue
		}
		for s, r := range byStatus {
			if r == role {
				states[s] = true
			}
		}
	}
	if p := e.profileFor(item); p.Type == "DOC" && role == "configuration manager" {
		// statuses only present in pre-alias logs
		states["04-assigned_for_release"] = true
		states["05-assigned_for_release"] = true
	}
	return states
}

// RoleHolder finds the principal who last held the peer role for the
// given action: the scan walks backward tracking the running owner and
// stops at the last forward-progress transition out of a status
// associated with that role.
func (e *Engine) RoleHolder(action string, item domain.Item, log []domain.Change) string {
	role := e.PeerRole(action, item, log)
	if role == "" {
		return ""
	}
	states := e.statesForRole(item, role)
	owner := item.Owner
	for i := len(log) - 1; i >= 0; i-- {
		if ow, ok := log[i].Delta("owner"); ok {
			owner = ow.Old
		}
		if st, ok := log[i].Delta("status"); ok {
			if states[st.Old] && st.New > st.Old {
				return owner
			}
		}
	}
	return ""
}

// OwnerCandidates resolves the candidate list and preselection for an
// ownership-transfer operation. A nil list means free entry (owner
// restriction disabled).
func (e *Engine) OwnerCandidates(op, action string, item domain.Item, log []domain.Change) ([]string, string) {
	users := e.ownersList(action, item, log)
	if p := e.profileFor(item); p.FilterOwners != nil {
		return p.FilterOwners(e, op, action, item, log, users)
	}
	return e.filterOwners(op, action, item, log, users)
}

// filterOwners is the default candidate filter: to-other always
// excludes the owner; to-peer and to-self exclude the owner or peer
// only under separation of duties.
func (e *Engine) filterOwners(op, action string, item domain.Item, log []domain.Change, users []string) ([]string, string) {
	owner := item.Owner
	selected := ""
	switch op {
	case OpSetOwnerToOther:
		users = exclude(users, owner)
	case OpSetOwnerToRole:
		selected = e.RoleHolder(action, item, log)
		if e.independence(action, item) {
			users = exclude(users, owner)
		}
	case OpSetOwnerToPeer:
		peer := e.Peer(item, log)
		if e.independence(action, item) {
			users = exclude(users, owner)
		}
		if contains(users, peer) {
			selected = peer
		}
	case OpSetOwnerToSelf:
		peer := e.Peer(item, log)
		if e.independence(action, item) {
			users = exclude(users, peer)
		}
		if contains(users, owner) {
			selected = owner
		}
	}
	return users, selected
}

// reviewFilterOwners pins the candidate to the single reviewer-side
// principal when the transfer targets the reviewer role, and falls
// back to the default author filtering otherwise.
func reviewFilterOwners(e *Engine, op, action string, item domain.Item, log []domain.Change, users []string) ([]string, string) {
	owner := item.Owner
	switch op {
	case OpSetOwnerToOther, OpSetOwnerToRole:
		return e.filterOwners(op, action, item, log, users)
	case OpSetOwnerToPeer:
		if e.PeerRole(action, item, log) == "reviewer" {
			peer := e.Peer(item, log)
			return []string{peer}, peer
		}
	case OpSetOwnerToSelf:
		if e.OwnerRole(item) == "reviewer" {
			return []string{owner}, owner
		}
	}
	return e.filterOwners(op, action, item, log, users)
}

// prfFilterOwners replaces the author-side candidates with the parent
// item's credited authors, preselecting the parent owner.
func prfFilterOwners(e *Engine, op, action string, item domain.Item, log []domain.Change, users []string) ([]string, string) {
	owner := item.Owner
	switch op {
	case OpSetOwnerToOther:
		return exclude(users, owner), ""
	case OpSetOwnerToRole:
		selected := e.RoleHolder(action, item, log)
		if e.CurrentStatus(item) != StatusClosed && e.independence(action, item) {
			users = exclude(users, owner)
		}
		return users, selected
	case OpSetOwnerToPeer:
		if e.PeerRole(action, item, log) == "reviewer" {
			peer := e.Peer(item, log)
			return []string{peer}, peer
		}
	case OpSetOwnerToSelf:
		if e.OwnerRole(item) == "reviewer" {
			return []string{owner}, owner
		}
	}

	peer := e.Peer(item, log)
	parent, hasParent := e.parentItem(item)
	if hasParent {
		users = e.CreditedAuthors(parent, e.Refs.Log(parent.ID))
	}
	selected := ""
	switch op {
	case OpSetOwnerToPeer:
		// the author side may have moved when the review is piloted
		// through a parent item
		if e.independence(action, item) {
			users = exclude(users, owner)
		}
		if hasParent {
			peer = parent.Owner
		}
		if contains(users, peer) {
			selected = peer
		}
	case OpSetOwnerToSelf:
		if e.independence(action, item) {
			users = exclude(users, peer)
		}
		if hasParent && contains(users, parent.Owner) {
			selected = parent.Owner
		} else if contains(users, owner) {
			selected = owner
		}
	}
	return users, selected
}

// docFilterOwners hands approval-class transfers to the credited
// authors of the item itself.
func docFilterOwners(e *Engine, op, action string, item domain.Item, log []domain.Change, users []string) ([]string, string) {
	if op != OpSetOwnerToRole {
		return e.filterOwners(op, action, item, log, users)
	}
	selected := e.RoleHolder(action, item, log)
	switch action {
	case "abort_approval", "approve", "abort_release", "release":
		users = e.CreditedAuthors(item, log)
	default:
		if e.independence(action, item) {
			users = exclude(users, item.Owner)
		}
	}
	return users, selected
}

// ownersList computes who could own the item at the action's target
// status: principals holding the base permission plus every non-admin
// permission required by an action applicable there.
func (e *Engine) ownersList(action string, item domain.Item, log []domain.Change) []string {
	if !e.RestrictOwners {
		return nil
	}
	required := map[string]bool{PermModify: true}
	next, err := e.NextStatus(action, item, log)
	if err != nil {
		next = e.CurrentStatus(item)
	}
	for _, a := range e.Table.Actions {
		switch a.Name {
		case e.AbortAction, "reassign":
			continue
		}
		if !a.Matches(e.TriageValue(item, a.TriageField), next) {
			continue
		}
		if perm := e.RequiredPermission(a.Name, item, next); perm != "" && perm != PermAdmin {
			required[perm] = true
		}
	}
	var owners []string
	for _, u := range e.Dir.Principals() {
		ok := true
		for perm := range required {
			if !e.Dir.Allowed(u, perm) {
				ok = false
				break
			}
		}
		if ok {
			owners = append(owners, u)
		}
	}
	sort.Strings(owners)
	return owners
}

// RolesByInitials maps role initialisms to full role names for the
// principal's role-group memberships.
func (e *Engine) RolesByInitials(principal string) map[string]string {
	out := map[string]string{}
	for _, g := range e.Dir.Groups(principal) {
		if !e.RoleGroups[g] {
			continue
		}
		name := titleCase(g)
		var key string
		switch name {
		case "Project Manager":
			key = "PjM"
		case "Program Manager":
			key = "PgM"
		default:
			var b strings.Builder
			for _, word := range strings.Fields(name) {
				b.WriteByte(word[0])
			}
			key = b.String()
		}
		out[key] = name
	}
	return out
}

func titleCase(group string) string {
	words := strings.Fields(strings.ReplaceAll(group, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func exclude(users []string, u string) []string {
	var out []string
	for _, x := range users {
		if x != u {
			out = append(out, x)
		}
	}
	return out
}

func contains(users []string, u string) bool {
	if u == "" {
		return false
	}
	for _, x := range users {
		if x == u {
			return true
		}
	}
	return false
}
