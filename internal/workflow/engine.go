package workflow

import (
	"sort"

	"flowgate/internal/domain"
)

// Status literals with fixed meaning across every type.
const (
	StatusClosed = "closed"
	StatusNew    = "new"
)

// Permission tokens, lowest tier first. A token implies the tiers
// below it at grant time, not here; the engine only compares names.
const (
	PermModify    = "MODIFY"
	PermCreate    = "CREATE"
	PermAuthorize = "AUTHORIZE"
	PermAdmin     = "ADMIN"
)

// ProfileForPermission names the user profile a permission token is
// granted through.
func ProfileForPermission(perm string) string {
	switch perm {
	case PermModify:
		return "authenticated"
	case PermCreate:
		return "developer"
	case PermAuthorize:
		return "authorized"
	case PermAdmin:
		return "admin"
	}
	return ""
}

// Directory answers permission and membership questions about
// principals. Implementations are read-only snapshots.
type Directory interface {
	Allowed(principal, permission string) bool
	Principals() []string
	Groups(principal string) []string
}

// RefIndex is the read-only view of everything the engine consults
// outside the item under evaluation: related items and their logs,
// the version-tag registry, baselines and branches.
type RefIndex interface {
	Item(id string) (domain.Item, bool)
	Log(id string) []domain.Change
	// ChildReviews returns the child review items of an item.
	ChildReviews(itemID string) []domain.Item
	BaselinesWithTag(tag string) []string
	ItemsUsingTag(tag, excludeID string) []string
	BranchesFromTag(tag string) []string
	// TagStatus returns the version status (Draft, Proposed,
	// Released) of a registered tag.
	TagStatus(tag string) (string, bool)
	// TagIndexes returns the sorted status indexes recorded for a
	// tagged item in the given version status.
	TagIndexes(taggedItem, status string) []int
	// Independence reports the separation-of-duties flag of the
	// document record a tag tracks.
	Independence(tag string) bool
}

// QuotaPolicy carries the signing capacity knobs.
type QuotaPolicy struct {
	TCRequired  bool
	TCDelegated bool
	// Capacities maps a document source type to its total signature
	// boxes. Types absent from the map are unmanaged.
	Capacities map[string]int
}

// Reserved is the number of signature boxes held back from reviewers.
func (q QuotaPolicy) Reserved() int {
	if q.TCRequired && !q.TCDelegated {
		return 3
	}
	return 2
}

// Engine evaluates workflow actions. All fields are set at
// construction and never mutated; evaluation is pure, so an Engine is
// safe for concurrent use.
type Engine struct {
	Table    *Table
	Universe Universe
	Registry *Registry
	Dir      Directory
	Refs     RefIndex

	// Aliases rewrites deprecated status literals on every read.
	Aliases map[string]string
	// AbortAction is the configured name of the abort action.
	AbortAction string
	// RestrictOwners enables candidate-list computation for
	// ownership transfers.
	RestrictOwners bool
	// RoleGroups holds the group names that count as roles when
	// filtering admin principals out of author credit.
	RoleGroups map[string]bool

	Quota QuotaPolicy
}

// Options bundles the Engine dependencies.
type Options struct {
	Rules          []Rule
	Registry       *Registry
	Dir            Directory
	Refs           RefIndex
	Aliases        map[string]string
	AbortAction    string
	RestrictOwners bool
	RoleGroups     []string
	Quota          QuotaPolicy
}

// New builds an Engine from ordered configuration rules. Defects found
// while parsing are kept on the table; strict callers check them.
func New(opts Options) *Engine {
	reg := opts.Registry
	if reg == nil {
		reg = NewRegistry()
	}
	table, uni := BuildTable(opts.Rules, reg)
	abort := opts.AbortAction
	if abort == "" {
		abort = "abort"
	}
	roleGroups := map[string]bool{}
	for _, g := range opts.RoleGroups {
		roleGroups[g] = true
	}
	return &Engine{
		Table:          table,
		Universe:       uni,
		Registry:       reg,
		Dir:            opts.Dir,
		Refs:           opts.Refs,
		Aliases:        opts.Aliases,
		AbortAction:    abort,
		RestrictOwners: opts.RestrictOwners,
		RoleGroups:     roleGroups,
		Quota:          opts.Quota,
	}
}

// CurrentStatus reads an item's status, mapping the creation
// placeholder to the type's initial status and rewriting legacy
// aliases.
func (e *Engine) CurrentStatus(item domain.Item) string {
	status := item.Status
	if status == "" || status == StatusNew {
		if p, ok := e.Registry.For(item); ok {
			status = p.Initial
		}
	}
	return e.canonStatus(status)
}

func (e *Engine) canonStatus(status string) string {
	if canon, ok := e.Aliases[status]; ok {
		return canon
	}
	return status
}

// TriageValue computes the triage-table key for an item under the
// given triage field.
func (e *Engine) TriageValue(item domain.Item, field string) string {
	v := item.Field(field)
	if field == "type" {
		if p, ok := e.Registry.For(item); ok && p.TriageSuffix != "" {
			v += p.TriageSuffix
		}
	}
	return v
}

func (e *Engine) profileFor(item domain.Item) *Profile {
	if p, ok := e.Registry.For(item); ok {
		return p
	}
	return &Profile{Type: item.Type, Initial: formInitial}
}

func (e *Engine) parentItem(item domain.Item) (domain.Item, bool) {
	if item.Parent == nil || *item.Parent == "" {
		return domain.Item{}, false
	}
	return e.Refs.Item(*item.Parent)
}

// Activity returns the human label of the work going on in the item's
// current status.
func (e *Engine) Activity(item domain.Item) string {
	return e.profileFor(item).Activities[e.CurrentStatus(item)]
}

// Outcome is the full result of evaluating one action against one
// item snapshot. It is a proposal: the caller commits it, or not.
type Outcome struct {
	Action     string       `json:"action"`
	Allowed    bool         `json:"allowed"`
	Reason     string       `json:"reason"`
	NewStatus  string       `json:"new_status,omitempty"`
	NewOwner   string       `json:"new_owner,omitempty"`
	Operations []string     `json:"operations,omitempty"`
	Candidates []string     `json:"candidates,omitempty"`
	Resolution []string     `json:"resolution_options,omitempty"`
	// Signer is the "ROLE first.last" description recorded on the item
	// when the action carries a signature agreement.
	Signer  string       `json:"signer,omitempty"`
	Signers []SignerSlot `json:"signers,omitempty"`
	// ClearsResolution is set when the transition leaves the closed
	// status: the resolution must be emptied to keep the terminal
	// invariant.
	ClearsResolution bool `json:"clears_resolution,omitempty"`
}

// Evaluate decides one action for one actor. Business denials come
// back as data (Allowed=false with a reason); only structural
// configuration failures return an error.
func (e *Engine) Evaluate(action string, item domain.Item, log []domain.Change, actor string) (Outcome, error) {
	act, ok := e.Table.ByName[action]
	if !ok {
		return Outcome{}, &UnknownActionError{Action: action}
	}
	out := Outcome{Action: action}
	status := e.CurrentStatus(item)
	triage := e.TriageValue(item, act.TriageField)

	if !act.Matches(triage, status) {
		out.Reason = "action not applicable in status " + status
		return out, nil
	}

	d := e.Gate(action, item, log, actor)
	out.Allowed = d.Allowed
	out.Reason = d.Reason
	if !d.Allowed {
		return out, nil
	}

	next, err := e.NextStatus(action, item, log)
	if err != nil {
		return Outcome{}, err
	}
	out.NewStatus = next
	out.ClearsResolution = status == StatusClosed && next != StatusClosed

	ops, err := e.Operations(action, item, status)
	if err != nil {
		return Outcome{}, err
	}
	out.Operations = ops

	for _, op := range ops {
		switch op {
		case OpSetResolution:
			if m, ok := act.Resolutions[triage]; ok {
				out.Resolution = splitList(m[status])
			}
		case OpSetOwner, OpSetOwnerToPeer, OpSetOwnerToSelf, OpSetOwnerToOther, OpSetOwnerToRole:
			cands, selected := e.OwnerCandidates(op, action, item, log)
			out.Candidates = cands
			if selected != "" {
				out.NewOwner = selected
			}
		case OpAgreeToSign:
			if e.signatureAgreement(item) {
				out.Signer = e.preferredRole(actor) + " " + actor
			}
		}
	}

	if signingOperation(ops) {
		role := e.preferredRole(actor)
		plan, err := e.SignerPlan(action, item, log, actor, role)
		if err != nil {
			return Outcome{}, err
		}
		out.Signers = plan
	}

	return out, nil
}

// ActionRef describes one currently applicable action.
type ActionRef struct {
	Name    string   `json:"name"`
	Label   string   `json:"label"`
	Weight  int      `json:"weight"`
	Allowed bool     `json:"allowed"`
	Reason  string   `json:"reason"`
	Labels  []string `json:"labels,omitempty"`
}

// Candidates returns the actions whose triage and old-state conditions
// match the item, ranked by descending weight with configuration order
// preserved on ties.
func (e *Engine) Candidates(item domain.Item) []*Action {
	status := e.CurrentStatus(item)
	var out []*Action
	for _, a := range e.Table.Actions {
		if a.Matches(e.TriageValue(item, a.TriageField), status) {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Default > out[j].Default })
	return out
}

// ListActions gates every candidate action and returns them all, each
// carrying its decision. Use AllowedActions for the surviving subset.
func (e *Engine) ListActions(item domain.Item, log []domain.Change, actor string) []ActionRef {
	var out []ActionRef
	for _, a := range e.Candidates(item) {
		d := e.Gate(a.Name, item, log, actor)
		out = append(out, ActionRef{
			Name:    a.Name,
			Label:   a.Label,
			Weight:  a.Default,
			Allowed: d.Allowed,
			Reason:  d.Reason,
			Labels:  e.ActionLabels(a.Name, item, log),
		})
	}
	return out
}

// AllowedActions returns only the actions the actor may take now.
func (e *Engine) AllowedActions(item domain.Item, log []domain.Change, actor string) []ActionRef {
	var out []ActionRef
	for _, ref := range e.ListActions(item, log, actor) {
		if ref.Allowed {
			out = append(out, ref)
		}
	}
	return out
}

// CreditedAuthors replays the change log into the set of principals
// credited as authors of the item's content.
func (e *Engine) CreditedAuthors(item domain.Item, log []domain.Change) []string {
	p := e.profileFor(item)
	if p.Authors == nil {
		return nil
	}
	return p.Authors(e, item, log)
}

// ActionLabels renders the per-status display labels of an action. A
// "*" label delegates to the reassign label of the resolved next
// status.
func (e *Engine) ActionLabels(action string, item domain.Item, log []domain.Change) []string {
	act, ok := e.Table.ByName[action]
	if !ok {
		return nil
	}
	triage := e.TriageValue(item, act.TriageField)
	status := e.CurrentStatus(item)
	raw, ok := act.Labels[triage][status]
	if !ok {
		return nil
	}
	var out []string
	for _, lbl := range splitList(raw) {
		if lbl == Wildcard {
			next, err := e.NextStatus(action, item, log)
			if err != nil {
				continue
			}
			lbl = e.profileFor(item).ReassignLabel[next]
		}
		if lbl != "" {
			out = append(out, lbl)
		}
	}
	return out
}

// preferredRole picks a role initialism for the actor from role group
// membership, used to annotate signatures.
func (e *Engine) preferredRole(actor string) string {
	roles := e.RolesByInitials(actor)
	if len(roles) == 0 {
		return "(role not set)"
	}
	initials := make([]string, 0, len(roles))
	for k := range roles {
		initials = append(initials, k)
	}
	sort.Strings(initials)
	return initials[0]
}
