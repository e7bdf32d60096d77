package workflow

import "flowgate/internal/domain"

// Resolution is the outcome of one wildcard-resolution step: either a
// concrete status or a delegation to the next rule in the cascade.
type Resolution struct {
	Done   bool
	Status string
	Next   resolveRule
}

func Resolved(status string) Resolution {
	return Resolution{Done: true, Status: status}
}

func Delegate(next resolveRule) Resolution {
	return Resolution{Next: next}
}

type resolveRule int

const (
	ruleLiteral resolveRule = iota
	ruleTriageMap
	ruleTypeOverride
)

const maxResolveDepth = 4

// NextStatus resolves the status an action leads to. The cascade runs
// literal newstate, then the per-triage status map, then the type
// override; view and reassign always keep the current status. A chain
// that bottoms out unresolved is a hard failure.
func (e *Engine) NextStatus(action string, item domain.Item, log []domain.Change) (string, error) {
	act, ok := e.Table.ByName[action]
	if !ok {
		return "", &UnknownActionError{Action: action}
	}
	status := e.CurrentStatus(item)
	if action == "view" || action == "reassign" {
		return status, nil
	}
	triage := e.TriageValue(item, act.TriageField)

	res := Delegate(ruleLiteral)
	for depth := 0; depth < maxResolveDepth; depth++ {
		var err error
		res, err = e.resolveStep(res.Next, act, triage, status, item, log)
		if err != nil {
			return "", err
		}
		if res.Done {
			return res.Status, nil
		}
	}
	return "", &UnresolvedWildcardError{Action: action, Triage: triage, Status: status}
}

func (e *Engine) resolveStep(rule resolveRule, act *Action, triage, status string, item domain.Item, log []domain.Change) (Resolution, error) {
	switch rule {
	case ruleLiteral:
		if act.NewState != Wildcard {
			return Resolved(act.NewState), nil
		}
		return Delegate(ruleTriageMap), nil

	case ruleTriageMap:
		next, ok := act.StatusMap[triage][status]
		if !ok {
			return Resolution{}, &MissingEntryError{Action: act.Name, Attr: attrStatus, Triage: triage, Status: status}
		}
		if next != Wildcard {
			return Resolved(next), nil
		}
		return Delegate(ruleTypeOverride), nil

	default:
		p := e.profileFor(item)
		if p.WildcardNext != nil {
			next, err := p.WildcardNext(e, act.Name, item, log)
			if err != nil {
				return Resolution{}, err
			}
			return Resolved(next), nil
		}
		next, err := e.reopenNext(act.Name, item, log)
		if err != nil {
			return Resolution{}, err
		}
		return Resolved(next), nil
	}
}

// reopenNext is the default override: only reopen resolves, by
// backward scan for the transition that produced the current status.
func (e *Engine) reopenNext(action string, item domain.Item, log []domain.Change) (string, error) {
	if action != "reopen" {
		return "", &UnresolvedWildcardError{Action: action, Triage: e.TriageValue(item, "type"), Status: e.CurrentStatus(item)}
	}
	prev, ok := e.previousStatus(log, e.CurrentStatus(item), false)
	if !ok {
		return "", &UnresolvedWildcardError{Action: action, Triage: e.TriageValue(item, "type"), Status: e.CurrentStatus(item)}
	}
	return prev, nil
}

// lenientWildcardNext keeps the current status when the bottomed-out
// action is not reopen. Types using it never configure other
// wildcarded actions beyond view and reassign.
func lenientWildcardNext(e *Engine, action string, item domain.Item, log []domain.Change) (string, error) {
	if action == "reopen" {
		return e.reopenNext(action, item, log)
	}
	return e.CurrentStatus(item), nil
}

// ecm2WildcardNext adds the abort transitions, which scan backward but
// only across forward-progress changes so an abort after a reopen does
// not land on the closing transition.
func ecm2WildcardNext(e *Engine, action string, item domain.Item, log []domain.Change) (string, error) {
	switch action {
	case "reopen":
		return e.reopenNext(action, item, log)
	case "abort_optional_approval", "abort_sending":
		prev, ok := e.previousStatus(log, e.CurrentStatus(item), true)
		if !ok {
			return "", &UnresolvedWildcardError{Action: action, Triage: e.TriageValue(item, "type"), Status: e.CurrentStatus(item)}
		}
		return prev, nil
	}
	return e.CurrentStatus(item), nil
}

// previousStatus scans the log backward for the transition whose
// target equals the current status and returns its source, rewritten
// through the alias table. With force set, only forward-progress
// transitions count and the scan may cross the closed boundary.
func (e *Engine) previousStatus(log []domain.Change, current string, force bool) (string, bool) {
	for i := len(log) - 1; i >= 0; i-- {
		d, ok := log[i].Delta("status")
		if !ok {
			continue
		}
		if e.canonStatus(d.New) != current {
			continue
		}
		if force && !(d.Old != StatusClosed && (d.New == StatusClosed || d.New > d.Old)) {
			continue
		}
		return e.canonStatus(d.Old), true
	}
	return "", false
}
