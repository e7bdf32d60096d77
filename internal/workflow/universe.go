package workflow

import (
	"sort"
	"strings"
)

// Universe maps each triage value to the sorted set of status literals
// known for it. Wildcard expansion is clipped against it so an action
// declared for one type never leaks into another type's status space.
type Universe map[string][]string

func (u Universe) Has(triage, status string) bool {
	for _, s := range u[triage] {
		if s == status {
			return true
		}
	}
	return false
}

// buildUniverse seeds each registered type with its initial status and
// legacy extras, then folds in every concrete triage_status target.
func buildUniverse(order []string, raws map[string]*rawAction, reg *Registry) Universe {
	sets := map[string]map[string]bool{}
	for _, p := range reg.All() {
		set := map[string]bool{p.Initial: true}
		for _, s := range p.ExtraStatuses {
			set[s] = true
		}
		sets[p.Type] = set
	}

	for _, name := range order {
		raw := raws[name]
		v, ok := raw.attrs[attrStatus]
		if !ok {
			continue
		}
		for _, entry := range strings.Split(v, "//") {
			key, target, ok := cutArrow(strings.TrimSpace(entry))
			if !ok || target == Wildcard {
				continue
			}
			if sets[key] == nil {
				sets[key] = map[string]bool{}
			}
			sets[key][target] = true
		}
	}

	uni := Universe{}
	for triage, set := range sets {
		statuses := make([]string, 0, len(set))
		for s := range set {
			statuses = append(statuses, s)
		}
		sort.Strings(statuses)
		uni[triage] = statuses
	}
	return uni
}
