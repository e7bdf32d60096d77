package workflow

import (
	"fmt"
	"regexp"
	"strings"

	"flowgate/internal/domain"
)

// Signer classes, in slot order.
const (
	SignerAuthor   = "author"
	SignerReviewer = "reviewer"
	SignerApprover = "approver"
	SignerSender   = "sender"
)

// SignerSlot is one position of the sign-off plan handed to the
// external signer. Signer holds the full "ROLE first.last" description
// the signature box displays.
type SignerSlot struct {
	Slot   int    `json:"slot"`
	Class  string `json:"class"`
	Signer string `json:"signer"`
	Action string `json:"action"`
}

var signerName = regexp.MustCompile(`[\s]+([a-z-]+\.[a-z-]+)[\s(]?`)

// SignerPlan builds the ordered signer-slot plan for the signature
// requests the action emits. Slot 1 is the author; reviewer slots
// follow; the approver and sender slots sit after every reviewer and
// previously recorded approver.
func (e *Engine) SignerPlan(action string, item domain.Item, log []domain.Change, actor, role string) ([]SignerSlot, error) {
	ops, err := e.Operations(action, item, "")
	if err != nil {
		return nil, err
	}

	type signer struct {
		class       string
		description string
	}
	var signers []signer

	for _, op := range ops {
		switch op {
		case OpSignAsAuthor:
			signers = append(signers, signer{SignerAuthor, role + " " + actor})
		case OpReviewerSigs:
			// reviewer signatures are applied atomically
			for _, ct := range e.childReviewsForTag(item, e.reviewedTag(action, item, log)) {
				if ct.Fields["signer"] != "" && ct.Resolution != nil && *ct.Resolution == "fixed" {
					signers = append(signers, signer{SignerReviewer, ct.Fields["signer"]})
				}
			}
		case OpSignAsApprover:
			current := role + " " + actor
			duplicate := false
			for _, prev := range e.Approvers(item, log) {
				if prev == current {
					duplicate = true
					break
				}
			}
			if !duplicate {
				signers = append(signers, signer{SignerApprover, current})
			}
		case OpSignAsSender:
			signers = append(signers, signer{SignerSender, role + " " + actor})
		}
	}

	laterSlot := 2 + e.reviewersCount(item, log) + len(e.Approvers(item, log))
	var plan []SignerSlot
	reviewers := 0
	for _, s := range signers {
		slot := SignerSlot{Class: s.class}
		switch s.class {
		case SignerAuthor:
			slot.Slot = 1
			slot.Action = "Written"
		case SignerReviewer:
			slot.Slot = 2 + reviewers
			slot.Action = "Checked"
			reviewers++
		case SignerApprover:
			slot.Slot = laterSlot
			slot.Action = "Approved"
		case SignerSender:
			slot.Slot = laterSlot
			slot.Action = "Sent"
		}
		slot.Signer = s.description
		plan = append(plan, slot)
	}
	return plan, nil
}

// signatureAgreement reports whether resolving the review records a
// signature for the reviewed item. Reviews of memos always sign;
// reviews of documents sign only when the document was accepted as is,
// straight from description or analysis, during a formal cycle.
func (e *Engine) signatureAgreement(item domain.Item) bool {
	if item.Parent == nil {
		return false
	}
	parent, ok := e.Refs.Item(*item.Parent)
	if !ok {
		return false
	}
	switch parent.Type {
	case "DOC":
		switch e.CurrentStatus(item) {
		case "01-assigned_for_description", "04-analysed":
			return strings.Contains(item.Summary, "Proposed")
		}
		return false
	case "ECM", "FEE":
		return true
	}
	return false
}

// reviewedTag is the tag the pending reviewer signatures refer to.
// Sending reviews the previously applied tag, not the current one.
func (e *Engine) reviewedTag(action string, item domain.Item, log []domain.Change) string {
	if item.Type == "ECM" && action == "send" {
		if prev, ok := e.PreviousTag(item.Fields["document"], log); ok {
			return prev
		}
		return ""
	}
	return item.Fields["document"]
}

var (
	tagApplied = regexp.MustCompile(`^Tag (.+) applied$`)
	tagRemoved = regexp.MustCompile(`^Tag (.+) removed$`)
)

// PreviousTag walks the log comments backward for the last applied tag
// that was not later removed.
func (e *Engine) PreviousTag(current string, log []domain.Change) (string, bool) {
	removed := map[string]bool{current: true}
	for i := len(log) - 1; i >= 0; i-- {
		if m := tagRemoved.FindStringSubmatch(log[i].Comment); m != nil {
			removed[m[1]] = true
		}
		if m := tagApplied.FindStringSubmatch(log[i].Comment); m != nil {
			if !removed[m[1]] {
				return m[1], true
			}
		}
	}
	return "", false
}

func (e *Engine) reviewersCount(item domain.Item, log []domain.Change) int {
	n := 0
	for _, ct := range e.childReviewsForTag(item, item.Fields["document"]) {
		if ct.Fields["signer"] != "" && ct.Resolution != nil && *ct.Resolution == "fixed" {
			n++
		}
	}
	return n
}

// Approvers replays the approval signatures recorded since the current
// cycle opened. The scan stops at the transition that entered the
// approval phase.
func (e *Engine) Approvers(item domain.Item, log []domain.Change) []string {
	p := e.profileFor(item)
	if p.ApproverBoundary == nil {
		return nil
	}
	var approvers []string
	for i := len(log) - 1; i >= 0; i-- {
		if st, ok := log[i].Delta("status"); ok && p.ApproverBoundary(st) {
			break
		}
		if !strings.Contains(log[i].Comment, "signed as approver by") {
			continue
		}
		m := signerName.FindStringSubmatch(log[i].Comment)
		if m == nil {
			continue
		}
		name := m[1]
		role := "(role not set)"
		roles := e.RolesByInitials(name)
		if len(roles) > 0 {
			keys := make([]string, 0, len(roles))
			for k := range roles {
				keys = append(keys, regexp.QuoteMeta(k))
			}
			if rm := regexp.MustCompile("(" + strings.Join(keys, "|") + ")").FindStringSubmatch(log[i].Comment); rm != nil {
				role = rm[1]
			}
		}
		approvers = append(approvers, role+" "+name)
	}
	return approvers
}

// fixedCapacityReviewers is the ECM and FEE quota: six signature boxes
// minus the reserved ones.
func fixedCapacityReviewers(e *Engine, item domain.Item) (int, bool) {
	return 6 - e.Quota.Reserved(), true
}

// docMaxReviewers reads the box capacity of the document's source
// type; unknown source types are unmanaged.
func docMaxReviewers(e *Engine, item domain.Item) (int, bool) {
	capacity, ok := e.Quota.Capacities[item.Fields["sourcetype"]]
	if !ok {
		return 0, false
	}
	return capacity - e.Quota.Reserved(), true
}

// ReviewQuota decides whether another child review item may be opened.
// Breaches come back as blocking reasons, not errors.
func (e *Engine) ReviewQuota(item domain.Item) Decision {
	p := e.profileFor(item)
	if p.MaxReviewers == nil {
		return Decision{Allowed: true}
	}
	tag := item.Fields["document"]
	if p.QuotaOnlyProposed {
		status, ok := e.Refs.TagStatus(tag)
		if !ok || status != "Proposed" {
			return Decision{Allowed: true}
		}
	}
	max, managed := p.MaxReviewers(e, item)
	if !managed {
		return Decision{Allowed: true}
	}
	current := 0
	for _, ct := range e.Refs.ChildReviews(item.ID) {
		if ct.Fields["document"] != tag {
			continue
		}
		if ct.Status == StatusClosed && ct.Resolution != nil && *ct.Resolution == "rejected" {
			continue
		}
		current++
	}
	note := p.QuotaNotes[1]
	if e.Quota.Reserved() == 3 {
		note = p.QuotaNotes[0]
	}
	switch {
	case current == max:
		return deny("You cannot create an additional review item because %s", note)
	case current > max:
		return deny("Too many review items have been created, you must delete or reject some of them because %s", note)
	}
	return Decision{Allowed: true}
}

// ecm2VersionStatus numbers the review cycles of technical notes; the
// other memo classes carry no version tags.
func ecm2VersionStatus(e *Engine, action string, item domain.Item) (string, bool) {
	if item.Fields["ecmtype"] != "Technical Note" {
		return "", false
	}
	if action != "assign_for_optional_review" {
		return "", true
	}
	return fmt.Sprintf("%02d", nextIndex(e.Refs.TagIndexes(item.Summary, ""))), true
}

func feeVersionStatus(e *Engine, action string, item domain.Item) (string, bool) {
	if action != "assign_for_fee_review_management" {
		return "", true
	}
	return fmt.Sprintf("%02d", nextIndex(e.Refs.TagIndexes(item.Summary, ""))), true
}

// docVersionStatus derives the tag label an action creates or removes:
// Draft and Proposed cycles are numbered, Released is unique.
func docVersionStatus(e *Engine, action string, item domain.Item) (string, bool) {
	taggedItem := strings.TrimPrefix(item.Summary, "DOC_")
	var status string
	switch action {
	case "assign_for_peer_review", "abort_peer_review", "assign_for_edition", "return_to_peer_review":
		status = "Draft"
	case "assign_for_formal_review", "abort_formal_review", "return_to_formal_review":
		status = "Proposed"
	case "release", "reopen":
		status = "Released"
	default:
		return "", false
	}
	if status == "Released" {
		if action == "reopen" {
			if _, ok := e.Refs.TagStatus(taggedItem + ".Released"); !ok {
				return "", false
			}
		}
		return status, true
	}
	indexes := e.Refs.TagIndexes(taggedItem, status)
	removing := action == "abort_peer_review" || action == "abort_formal_review" ||
		action == "return_to_peer_review" || action == "return_to_formal_review"
	if removing {
		if len(indexes) == 0 {
			return "", false
		}
		return fmt.Sprintf("%s%d", status, indexes[len(indexes)-1]), true
	}
	return fmt.Sprintf("%s%d", status, nextIndex(indexes)), true
}

// VersionStatus exposes the per-type tag label derivation.
func (e *Engine) VersionStatus(action string, item domain.Item) (string, bool) {
	p := e.profileFor(item)
	if p.VersionStatus == nil {
		return "", false
	}
	return p.VersionStatus(e, action, item)
}

func nextIndex(indexes []int) int {
	if len(indexes) == 0 {
		return 1
	}
	return indexes[len(indexes)-1] + 1
}
