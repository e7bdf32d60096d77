package workflow

import (
	"fmt"
	"strings"

	"flowgate/internal/domain"
)

// Decision is a gate verdict. Denials are data, not errors: the reason
// is rendered to the end user as-is.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

func allow(format string, args ...any) Decision {
	return Decision{Allowed: true, Reason: fmt.Sprintf(format, args...)}
}

func deny(format string, args ...any) Decision {
	return Decision{Allowed: false, Reason: fmt.Sprintf(format, args...)}
}

// Gate runs the two-stage authorization check for an action, then the
// per-type refinement.
func (e *Engine) Gate(action string, item domain.Item, log []domain.Change, actor string) Decision {
	d := e.gatePrologue(action, item, actor)
	d = e.gateCore(d, action, item, actor)
	if p := e.profileFor(item); p.CoreGate != nil {
		d = p.CoreGate(e, d, action, item, log, actor)
	}
	return d
}

// gatePrologue: the admin tier is checked globally; every other tier
// requires ownership plus at least the required permission.
func (e *Engine) gatePrologue(action string, item domain.Item, actor string) Decision {
	perm := e.RequiredPermission(action, item, "")
	profile := ProfileForPermission(perm)
	if perm == PermAdmin {
		if e.Dir.Allowed(actor, perm) {
			return allow("Having the %s profile allows this action", profile)
		}
		return deny("This action requires an %s profile", profile)
	}
	if actor == item.Owner {
		if perm != "" && e.Dir.Allowed(actor, perm) {
			return allow("Being owner and having (at least) the %s profile allow this action", profile)
		}
		return deny("This action requires at least the %s profile", profile)
	}
	return deny("This action requires being the item owner")
}

// gateCore: reassignment, abort and resolution edits stay open to
// non-owners holding the action-class elevated permission.
func (e *Engine) gateCore(d Decision, action string, item domain.Item, actor string) Decision {
	if actor == item.Owner {
		return d
	}
	switch action {
	case "reassign", e.AbortAction, "change_resolution":
	default:
		return d
	}
	perm := PermCreate
	if action != "reassign" {
		perm = e.RequiredPermission(action, item, "")
	}
	profile := ProfileForPermission(perm)
	if perm != "" && e.Dir.Allowed(actor, perm) {
		return allow("Although not being owner, having (at least) the %s profile allows this action", profile)
	}
	return deny("Not being owner, this action requires at least the %s profile", profile)
}

// RequiredPermission returns the permission token the action demands
// for the item in the given status (current status when empty).
func (e *Engine) RequiredPermission(action string, item domain.Item, status string) string {
	act, ok := e.Table.ByName[action]
	if !ok {
		return ""
	}
	triage := e.TriageValue(item, act.TriageField)
	byStatus, ok := act.Permissions[triage]
	if !ok {
		return ""
	}
	if status == "" {
		status = e.CurrentStatus(item)
	}
	return byStatus[status]
}

// RequiredRole returns the role the action demands, if the table
// declares one.
func (e *Engine) RequiredRole(action string, item domain.Item, status string) string {
	act, ok := e.Table.ByName[action]
	if !ok {
		return ""
	}
	triage := e.TriageValue(item, act.TriageField)
	byStatus, ok := act.Roles[triage]
	if !ok {
		return ""
	}
	if status == "" {
		status = e.CurrentStatus(item)
	}
	return byStatus[status]
}

// independence reports the separation-of-duties flag for an action.
func (e *Engine) independence(action string, item domain.Item) bool {
	p := e.profileFor(item)
	if p.Independence == nil {
		return false
	}
	return p.Independence(e, action, item)
}

// reviewCoreGate carries the author rule of review items: aborts and
// independent resolutions belong to the author or an authorized third
// party, never to the reviewer.
func reviewCoreGate(e *Engine, d Decision, action string, item domain.Item, log []domain.Change, actor string) Decision {
	resolutionEdit := action == "resolve" || action == "change_resolution"
	if action != e.AbortAction &&
		!(resolutionEdit && e.RequiredRole(action, item, "") != "" && e.independence(action, item)) {
		return d
	}
	p := e.profileFor(item)
	switch actor {
	case p.Author(e, item, log):
		return allow("This action is allowed for the author")
	case p.Reviewer(e, item, log):
		return deny("This action is not allowed for the reviewer")
	}
	if e.Dir.Allowed(actor, PermAuthorize) {
		return allow("This action is allowed for an authorized third party")
	}
	return deny("This action is only allowed for the author or an authorized third party")
}

// ecm2CoreGate blocks leaving the review status until at least one
// child review item closed favorably with a signature agreement.
func ecm2CoreGate(e *Engine, d Decision, action string, item domain.Item, log []domain.Change, actor string) Decision {
	if e.CurrentStatus(item) != "02-assigned_for_review" {
		return d
	}
	if action != "assign_for_optional_approval" && action != "assign_for_sending" {
		return d
	}
	return e.requireSignedReviews(d, item)
}

func feeCoreGate(e *Engine, d Decision, action string, item domain.Item, log []domain.Change, actor string) Decision {
	if e.CurrentStatus(item) != "02-assigned_for_review_management" {
		return d
	}
	if action != "assign_for_fee_internal_approval_management" {
		return d
	}
	return e.requireSignedReviews(d, item)
}

func (e *Engine) requireSignedReviews(d Decision, item domain.Item) Decision {
	children := e.childReviewsForTag(item, item.Fields["document"])
	if len(children) == 0 {
		return deny("There are no child review items for the current version status")
	}
	for _, ct := range children {
		if ct.Fields["signer"] != "" && ct.Resolution != nil && *ct.Resolution == "fixed" {
			return d
		}
	}
	return deny("No child review item for that version status was closed as fixed with no remarks to implement")
}

// docCoreGate adds the version-status match checks and the referential
// integrity checks guarding tag removal.
func docCoreGate(e *Engine, d Decision, action string, item domain.Item, log []domain.Change, actor string) Decision {
	switch action {
	case "assign_for_peer_review", "assign_for_formal_review":
		if item.Fields["sourcefile"] == "" || item.Fields["pdffile"] == "" {
			return deny("Source and PDF files have to be selected first")
		}
		vs := item.Fields["versionstatus"]
		if vs != "" {
			if action == "assign_for_peer_review" && !strings.HasPrefix(vs, "Draft") {
				return deny("This action does not match the version status")
			}
			if action == "assign_for_formal_review" && vs != "Released" {
				return deny("This action does not match the version status")
			}
		}
		return d

	case "assign_for_approval":
		if e.CurrentStatus(item) != "03-assigned_for_formal_review" {
			return d
		}
		for _, ct := range e.childReviewsForTag(item, item.Fields["document"]) {
			if ct.Fields["signer"] != "" && ct.Resolution != nil && *ct.Resolution == "fixed" {
				return d
			}
		}
		return deny("No child review item for that version status was closed as fixed with no remarks to implement")

	case "abort_peer_review", "abort_formal_review", "reopen":
		tag := item.Fields["document"]
		if tag == "" {
			return d
		}
		status, ok := e.Refs.TagStatus(tag)
		if !ok {
			return d
		}
		removing := (action == "abort_peer_review" && status == "Draft") ||
			(action == "abort_formal_review" && status == "Proposed") ||
			(action == "reopen" && status == "Released")
		if !removing {
			return d
		}
		if baselines := e.Refs.BaselinesWithTag(tag); len(baselines) > 0 {
			return deny("Action is not allowed as the tag to remove - %s - is included in the baseline(s) %s", tag, strings.Join(baselines, ", "))
		}
		if items := e.Refs.ItemsUsingTag(tag, item.ID); len(items) > 0 {
			return deny("Action is not allowed as the tag to remove - %s - is used as a baseline in item(s) %s", tag, strings.Join(items, ", "))
		}
		if branches := e.Refs.BranchesFromTag(tag); len(branches) > 0 {
			return deny("Action is not allowed as the tag to remove - %s - is used as baseline for the branch(es) %s", tag, strings.Join(branches, ", "))
		}
	}
	return d
}

// childReviewsForTag returns the item's child review items tied to the
// given review tag.
func (e *Engine) childReviewsForTag(item domain.Item, tag string) []domain.Item {
	var out []domain.Item
	for _, ct := range e.Refs.ChildReviews(item.ID) {
		if tag == "" || ct.Fields["document"] == tag {
			out = append(out, ct)
		}
	}
	return out
}
