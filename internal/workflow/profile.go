package workflow

import "flowgate/internal/domain"

// Profile is the per-type strategy: a bundle of deltas over the engine
// defaults. Nil function fields mean the default behavior applies.
type Profile struct {
	Type          string
	Initial       string
	Activities    map[string]string
	ReassignLabel map[string]string
	// ExtraStatuses are legacy literals kept in the universe even
	// though no current rule produces them.
	ExtraStatuses []string
	// TriageSuffix is appended to the type field when computing the
	// triage value (the ECM1/ECM2 split).
	TriageSuffix string

	Author   func(e *Engine, item domain.Item, log []domain.Change) string
	Reviewer func(e *Engine, item domain.Item, log []domain.Change) string

	// WildcardNext resolves a fully wildcarded transition. The default
	// handles reopen by backward scan and fails otherwise.
	WildcardNext func(e *Engine, action string, item domain.Item, log []domain.Change) (string, error)

	// PeerFallback applies when the log holds no user hand-off.
	PeerFallback func(e *Engine, item domain.Item, log []domain.Change) string

	// Independence reports whether separation of duties binds the
	// given action for this item.
	Independence func(e *Engine, action string, item domain.Item) bool

	// FilterOwners overrides the default candidate filtering for
	// ownership-transfer operations.
	FilterOwners func(e *Engine, op, action string, item domain.Item, log []domain.Change, users []string) ([]string, string)

	// CoreGate refines the gate decision after the shared core check.
	CoreGate func(e *Engine, d Decision, action string, item domain.Item, log []domain.Change, actor string) Decision

	// Authors replays the change log into the credited-author set.
	Authors func(e *Engine, item domain.Item, log []domain.Change) []string

	// ApproverBoundary marks the status transition that opened the
	// current approval cycle; the approver scan stops there.
	ApproverBoundary func(d domain.FieldDelta) bool

	// MaxReviewers returns the reviewer quota. Unmanaged types return
	// ok=false.
	MaxReviewers func(e *Engine, item domain.Item) (int, bool)
	// QuotaOnlyProposed restricts quota enforcement to items whose
	// review tag is in Proposed status.
	QuotaOnlyProposed bool
	// QuotaNotes explain the reserved slots: [0] when three slots are
	// reserved, [1] when two are.
	QuotaNotes [2]string

	// VersionStatus derives the tag version-status label an action
	// will create or remove. Nil means version tags are not managed.
	VersionStatus func(e *Engine, action string, item domain.Item) (string, bool)
}

// Registry maps triage values to profiles. Built once at startup.
type Registry struct {
	profiles map[string]*Profile
	order    []string
}

func (r *Registry) register(p *Profile) {
	r.profiles[p.Type] = p
	r.order = append(r.order, p.Type)
}

// Profile returns the profile registered for a triage value.
func (r *Registry) Profile(t string) (*Profile, bool) {
	p, ok := r.profiles[t]
	return p, ok
}

// All returns the registered profiles in registration order.
func (r *Registry) All() []*Profile {
	out := make([]*Profile, 0, len(r.order))
	for _, t := range r.order {
		out = append(out, r.profiles[t])
	}
	return out
}

// For resolves an item to its profile. ECM items split on the ecmtype
// field: records carrying it follow the document workflow (ECM2), bare
// legacy records the form workflow (ECM1).
func (r *Registry) For(item domain.Item) (*Profile, bool) {
	t := item.Type
	if t == "ECM" {
		if _, ok := item.Fields["ecmtype"]; ok {
			t = "ECM2"
		} else {
			t = "ECM1"
		}
	}
	return r.Profile(t)
}

const (
	formInitial = "01-assigned_for_description"
	docInitial  = "01-assigned_for_edition"
)

var formReassignLabels = map[string]string{
	"01-assigned_for_description":    "reassign for description",
	"02-described":                   "reassign for description validation",
	"03-assigned_for_analysis":       "reassign for analysis",
	"04-analysed":                    "reassign for analysis validation",
	"05-assigned_for_implementation": "reassign for implementation",
	"06-implemented":                 "reassign for implementation verification",
	"07-assigned_for_closure_actions": "reassign for closure actions",
}

// NewRegistry builds the registry of built-in item types.
func NewRegistry() *Registry {
	r := &Registry{profiles: map[string]*Profile{}}

	r.register(&Profile{
		Type:    "EFR",
		Initial: formInitial,
		Activities: map[string]string{
			"01-assigned_for_description":    "Description Action",
			"02-described":                   "Description Validation",
			"03-assigned_for_analysis":       "Analysis Action",
			"04-analysed":                    "Analysis Validation",
			"07-assigned_for_closure_actions": "Closure Actions",
			StatusClosed:                     "None",
		},
		ReassignLabel: formReassignLabels,
		Author:        ownerAuthor("01-assigned_for_description", "03-assigned_for_analysis"),
		Reviewer:      peerReviewer("01-assigned_for_description", "03-assigned_for_analysis"),
	})

	r.register(&Profile{
		Type:    "ECR",
		Initial: formInitial,
		Activities: map[string]string{
			"01-assigned_for_description":    "Description Action",
			"02-described":                   "Description Validation",
			"03-assigned_for_analysis":       "Analysis Action",
			"04-analysed":                    "Analysis Validation",
			"05-assigned_for_implementation": "Implementation Action",
			"06-implemented":                 "Implementation Validation",
			"07-assigned_for_closure_actions": "Closure Actions",
			StatusClosed:                     "None",
		},
		ReassignLabel: formReassignLabels,
		Author:        ownerAuthor("01-assigned_for_description", "03-assigned_for_analysis", "05-assigned_for_implementation"),
		Reviewer:      peerReviewer("01-assigned_for_description", "03-assigned_for_analysis", "05-assigned_for_implementation"),
	})

	r.register(&Profile{
		Type:          "RF",
		Initial:       formInitial,
		Activities:    fullFormActivities(),
		ReassignLabel: formReassignLabels,
		ExtraStatuses: []string{"02-described"},
		// The RF owner is the reviewer on the review-side statuses, so
		// author and reviewer are swapped relative to EFR/ECR.
		Author:       peerAuthor("01-assigned_for_description", "04-analysed", "06-implemented"),
		Reviewer:     ownerReviewer("01-assigned_for_description", "04-analysed", "06-implemented"),
		Independence: documentIndependence,
		FilterOwners: reviewFilterOwners,
		CoreGate:     reviewCoreGate,
	})

	r.register(&Profile{
		Type:          "PRF",
		Initial:       formInitial,
		Activities:    fullFormActivities(),
		ReassignLabel: formReassignLabels,
		ExtraStatuses: []string{"02-described"},
		Author:        prfAuthor,
		Reviewer:      ownerReviewer("01-assigned_for_description", "04-analysed", "06-implemented"),
		PeerFallback:  prfPeerFallback,
		Independence:  documentIndependence,
		FilterOwners:  prfFilterOwners,
		CoreGate:      reviewCoreGate,
	})

	r.register(&Profile{
		Type:          "MOM",
		Initial:       formInitial,
		Activities:    shortFormActivities(),
		ReassignLabel: formReassignLabels,
	})

	r.register(&Profile{
		Type:          "RISK",
		Initial:       formInitial,
		Activities:    shortFormActivities(),
		ReassignLabel: formReassignLabels,
	})

	r.register(&Profile{
		Type:    "AI",
		Initial: formInitial,
		Activities: map[string]string{
			"01-assigned_for_description":    "Description Action",
			"05-assigned_for_implementation": "Implementation Action",
			"07-assigned_for_closure_actions": "Closure Actions",
			StatusClosed:                     "None",
		},
		ReassignLabel: formReassignLabels,
	})

	r.register(&Profile{
		Type:          "MEMO",
		Initial:       formInitial,
		Activities:    shortFormActivities(),
		ReassignLabel: formReassignLabels,
	})

	r.register(&Profile{
		Type:          "ECM1",
		Initial:       formInitial,
		Activities:    shortFormActivities(),
		ReassignLabel: formReassignLabels,
		TriageSuffix:  "1",
		WildcardNext:  lenientWildcardNext,
	})

	r.register(&Profile{
		Type:    "ECM2",
		Initial: docInitial,
		Activities: map[string]string{
			"01-assigned_for_edition":  "Edition",
			"02-assigned_for_review":   "Piloting of Review",
			"03-assigned_for_approval": "Approval",
			"04-approved":              "Piloting of Approval",
			"05-assigned_for_sending":  "Sending",
			StatusClosed:               "None",
		},
		ReassignLabel: map[string]string{
			"01-assigned_for_edition":  "reassign for edition",
			"02-assigned_for_review":   "reassign for piloting of review",
			"03-assigned_for_approval": "reassign for (optional) approval",
			"04-approved":              "reassign for piloting of approval",
			"05-assigned_for_sending":  "reassign for sending",
		},
		TriageSuffix: "2",
		Author:       peerAuthor("03-assigned_for_approval", "05-assigned_for_sending"),
		WildcardNext: ecm2WildcardNext,
		Independence: actionIndependence("assign_for_optional_approval", "reassign_for_optional_approval", "abort_optional_approval", "optional_approve"),
		FilterOwners: docFilterOwners,
		CoreGate:     ecm2CoreGate,
		Authors:      commitTrailAuthors,
		ApproverBoundary: boundary([]string{"01-assigned_for_edition", "02-assigned_for_review"},
			"03-assigned_for_approval"),
		MaxReviewers: fixedCapacityReviewers,
		QuotaNotes: [2]string{
			"two signatures must remain available (trade compliance and sending)",
			"one signature must remain available (sending)",
		},
		VersionStatus: ecm2VersionStatus,
	})

	r.register(&Profile{
		Type:    "FEE",
		Initial: docInitial,
		Activities: map[string]string{
			"01-assigned_for_edition":                      "Edition",
			"02-assigned_for_review_management":            "Review Management",
			"03-assigned_for_internal_approval_management": "Internal Approval Management",
			"04-assigned_for_approval":                     "Approval",
			"05-assigned_for_customer_approval_management": "Customer Approval Management",
			"06-assigned_for_closure_actions":              "Closure Actions",
			StatusClosed:                                   "None",
		},
		ReassignLabel: map[string]string{
			"01-assigned_for_edition":                      "reassign for edition",
			"02-assigned_for_review_management":            "reassign for review management",
			"03-assigned_for_internal_approval_management": "reassign for internal approval management",
			"04-assigned_for_approval":                     "reassign for internal approval management",
			"05-assigned_for_customer_approval_management": "reassign for customer approval management",
			"06-assigned_for_closure_actions":              "reassign for closure actions",
		},
		Author:       ownerAuthor("01-assigned_for_edition"),
		WildcardNext: lenientWildcardNext,
		Independence: actionIndependence("assign_for_fee_approval", "abort_fee_approval", "approve_fee"),
		FilterOwners: docFilterOwners,
		CoreGate:     feeCoreGate,
		Authors:      commitTrailAuthors,
		ApproverBoundary: boundary([]string{"02-assigned_for_review_management"},
			"03-assigned_for_internal_approval_management"),
		MaxReviewers: fixedCapacityReviewers,
		QuotaNotes: [2]string{
			"two signatures must remain available (trade compliance and sending)",
			"one signature must remain available (sending)",
		},
		VersionStatus: feeVersionStatus,
	})

	r.register(&Profile{
		Type:    "DOC",
		Initial: docInitial,
		Activities: map[string]string{
			"01-assigned_for_edition":     "Edition",
			"02-assigned_for_peer_review": "Piloting of Peer Review",
			"03-assigned_for_formal_review": "Piloting of Formal Review",
			"04-assigned_for_approval":    "Approval",
			"05-approved":                 "Piloting of Approval",
			"06-assigned_for_release":     "Release",
			StatusClosed:                  "None",
		},
		ReassignLabel: map[string]string{
			"01-assigned_for_edition":       "reassign for edition",
			"02-assigned_for_peer_review":   "reassign for piloting of peer review",
			"03-assigned_for_formal_review": "reassign for piloting of formal review",
			"04-assigned_for_approval":      "reassign for approval",
			"05-approved":                   "reassign for piloting of approval",
			"04-assigned_for_release":       "reassign for release",
			"05-assigned_for_release":       "reassign for release",
			"06-assigned_for_release":       "reassign for release",
		},
		Author:       peerAuthor("04-assigned_for_approval", "06-assigned_for_release"),
		WildcardNext: lenientWildcardNext,
		Independence: actionIndependence("assign_for_approval", "reassign_for_approval", "abort_approval", "approve"),
		FilterOwners: docFilterOwners,
		CoreGate:     docCoreGate,
		Authors:      editionTrailAuthors,
		ApproverBoundary: boundary([]string{"03-assigned_for_formal_review"},
			"04-assigned_for_approval"),
		MaxReviewers:      docMaxReviewers,
		QuotaOnlyProposed: true,
		QuotaNotes: [2]string{
			"two signatures must remain available (approval by quality and trade compliance)",
			"one signature must remain available (approval by quality)",
		},
		VersionStatus: docVersionStatus,
	})

	return r
}

func fullFormActivities() map[string]string {
	return map[string]string{
		"01-assigned_for_description":    "Description Action",
		"02-described":                   "Description Validation",
		"03-assigned_for_analysis":       "Analysis Action",
		"04-analysed":                    "Analysis Validation",
		"05-assigned_for_implementation": "Implementation Action",
		"06-implemented":                 "Implementation Validation",
		"07-assigned_for_closure_actions": "Closure Actions",
		StatusClosed:                     "None",
	}
}

func shortFormActivities() map[string]string {
	return map[string]string{
		"01-assigned_for_description":    "Description Action",
		"07-assigned_for_closure_actions": "Closure Actions",
		StatusClosed:                     "None",
	}
}

// ownerAuthor returns an author resolver crediting the owner while the
// item sits in one of the authoring statuses, and the peer otherwise.
func ownerAuthor(authoring ...string) func(*Engine, domain.Item, []domain.Change) string {
	return func(e *Engine, item domain.Item, log []domain.Change) string {
		if statusIn(e.CurrentStatus(item), authoring) {
			return item.Owner
		}
		return e.Peer(item, log)
	}
}

func peerReviewer(authoring ...string) func(*Engine, domain.Item, []domain.Change) string {
	return func(e *Engine, item domain.Item, log []domain.Change) string {
		if statusIn(e.CurrentStatus(item), authoring) {
			return e.Peer(item, log)
		}
		return item.Owner
	}
}

// peerAuthor is the inverse orientation: the owner holds the reviewing
// side in the listed statuses, so the author is the peer there.
func peerAuthor(reviewing ...string) func(*Engine, domain.Item, []domain.Change) string {
	return func(e *Engine, item domain.Item, log []domain.Change) string {
		if statusIn(e.CurrentStatus(item), reviewing) {
			return e.Peer(item, log)
		}
		return item.Owner
	}
}

func ownerReviewer(reviewing ...string) func(*Engine, domain.Item, []domain.Change) string {
	return func(e *Engine, item domain.Item, log []domain.Change) string {
		if statusIn(e.CurrentStatus(item), reviewing) {
			return item.Owner
		}
		return e.Peer(item, log)
	}
}

// prfAuthor prefers the parent item's owner on the review-side
// statuses: all child reviews close before the parent leaves its
// edition or review status, so the author is whoever owns the parent.
func prfAuthor(e *Engine, item domain.Item, log []domain.Change) string {
	if statusIn(e.CurrentStatus(item), []string{"01-assigned_for_description", "04-analysed", "06-implemented"}) {
		if parent, ok := e.parentItem(item); ok {
			return parent.Owner
		}
		return e.Peer(item, log)
	}
	return item.Owner
}

func prfPeerFallback(e *Engine, item domain.Item, log []domain.Change) string {
	if statusIn(e.CurrentStatus(item), []string{"01-assigned_for_description", "04-analysed", "06-implemented"}) {
		if parent, ok := e.parentItem(item); ok {
			return parent.Owner
		}
		return ""
	}
	return item.Owner
}

// documentIndependence reads the separation-of-duties flag of the
// document record linked through the review tag.
func documentIndependence(e *Engine, action string, item domain.Item) bool {
	tag := item.Fields["document"]
	if tag == "" {
		return false
	}
	return e.Refs.Independence(tag)
}

func actionIndependence(actions ...string) func(*Engine, string, domain.Item) bool {
	return func(e *Engine, action string, item domain.Item) bool {
		for _, a := range actions {
			if a == action {
				return true
			}
		}
		return false
	}
}

func boundary(from []string, to string) func(domain.FieldDelta) bool {
	return func(d domain.FieldDelta) bool {
		return d.New == to && statusIn(d.Old, from)
	}
}

func statusIn(status string, set []string) bool {
	for _, s := range set {
		if s == status {
			return true
		}
	}
	return false
}
