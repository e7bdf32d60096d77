package workflow

import (
	"fmt"
	"strconv"
	"strings"
)

// Wildcard matches any status in a base rule or triage table value.
const Wildcard = "*"

// Rule is one raw configuration pair. Order matters: it decides both
// tie-breaking between equally weighted actions and which rule wins
// when the same key appears twice.
type Rule struct {
	Key   string `yaml:"key" json:"key"`
	Value string `yaml:"value" json:"value"`
}

// Action is a normalized action definition. The triage tables are keyed
// first by triage value (usually the item type), then by old status.
type Action struct {
	Name        string
	Label       string
	Default     int
	OldStates   []string
	NewState    string
	TriageField string
	Operations  []string

	Permissions map[string]map[string]string
	Roles       map[string]map[string]string
	StatusMap   map[string]map[string]string
	OpsMap      map[string]map[string]string
	Resolutions map[string]map[string]string
	Labels      map[string]map[string]string
}

// Matches reports whether the action applies to an item with the given
// triage value in the given status.
func (a *Action) Matches(triage, status string) bool {
	if _, ok := a.Permissions[triage]; !ok {
		return false
	}
	if len(a.OldStates) == 1 && a.OldStates[0] == Wildcard {
		return true
	}
	for _, s := range a.OldStates {
		if s == status {
			return true
		}
	}
	return false
}

// Defect records a configuration entry that could not be interpreted.
// Loading keeps going (the entry is skipped) but callers that want
// strict configs reject any table with defects.
type Defect struct {
	Key    string
	Value  string
	Reason string
}

func (d Defect) String() string {
	return fmt.Sprintf("%s = %s: %s", d.Key, d.Value, d.Reason)
}

// Table is the normalized action table, immutable after construction.
type Table struct {
	Actions []*Action
	ByName  map[string]*Action
	Defects []Defect
}

// rawAction keeps the pre-normalization view of one action, in the
// order its base rule (or first attribute) appeared.
type rawAction struct {
	name      string
	oldStates string
	newState  string
	attrs     map[string]string
}

const (
	attrName        = "name"
	attrDefault     = "default"
	attrOperations  = "operations"
	attrTriageField = "triage_field"
	attrPermissions = "triage_permissions"
	attrRoles       = "triage_roles"
	attrOps         = "triage_operations"
	attrStatus      = "triage_status"
	attrResolution  = "triage_set_resolution"
	attrLabels      = "triage_labels"
)

// BuildTable parses the ordered rule pairs into a normalized table and
// the per-type status universe used for wildcard expansion.
func BuildTable(rules []Rule, reg *Registry) (*Table, Universe) {
	t := &Table{ByName: map[string]*Action{}}

	var order []string
	raws := map[string]*rawAction{}
	for _, r := range rules {
		key := strings.TrimSpace(r.Key)
		if key == "" {
			t.Defects = append(t.Defects, Defect{r.Key, r.Value, "empty key"})
			continue
		}
		name, attr, hasAttr := strings.Cut(key, ".")
		raw, ok := raws[name]
		if !ok {
			raw = &rawAction{name: name, attrs: map[string]string{}}
			raws[name] = raw
			order = append(order, name)
		}
		if !hasAttr {
			old, next, ok := cutArrow(r.Value)
			if !ok {
				t.Defects = append(t.Defects, Defect{r.Key, r.Value, "base rule is not 'oldstates -> newstate'"})
				continue
			}
			raw.oldStates = old
			raw.newState = next
		} else {
			raw.attrs[attr] = r.Value
		}
	}

	uni := buildUniverse(order, raws, reg)

	for _, name := range order {
		raw := raws[name]
		a := &Action{
			Name:        name,
			Label:       name,
			NewState:    raw.newState,
			OldStates:   splitList(raw.oldStates),
			TriageField: "type",
		}
		if raw.newState == "" && raw.oldStates == "" {
			t.Defects = append(t.Defects, Defect{name, "", "action has attributes but no base rule"})
		}
		if v, ok := raw.attrs[attrName]; ok {
			a.Label = strings.TrimSpace(v)
		}
		if v, ok := raw.attrs[attrDefault]; ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				t.Defects = append(t.Defects, Defect{name + "." + attrDefault, v, "not an integer"})
			} else {
				a.Default = n
			}
		}
		if v, ok := raw.attrs[attrOperations]; ok {
			a.Operations = splitList(v)
		}
		if v, ok := raw.attrs[attrTriageField]; ok {
			a.TriageField = strings.TrimSpace(v)
		}
		a.Permissions = t.normalizeDict(name, attrPermissions, raw, uni)
		a.Roles = t.normalizeDict(name, attrRoles, raw, uni)
		a.StatusMap = t.normalizeDict(name, attrStatus, raw, uni)
		a.OpsMap = t.normalizeDict(name, attrOps, raw, uni)
		a.Resolutions = t.normalizeDict(name, attrResolution, raw, uni)
		a.Labels = t.normalizeDict(name, attrLabels, raw, uni)

		t.Actions = append(t.Actions, a)
		t.ByName[name] = a
	}

	return t, uni
}

// normalizeDict expands one triage-dict attribute into a
// triage value -> old status -> value map. A value with '|' distributes
// positionally over the action's old states; a plain value applies to
// every status the action can fire from for that triage value, clipped
// against the universe.
func (t *Table) normalizeDict(action, attr string, raw *rawAction, uni Universe) map[string]map[string]string {
	v, ok := raw.attrs[attr]
	if !ok {
		return nil
	}
	oldStates := splitList(raw.oldStates)
	out := map[string]map[string]string{}
	for _, entry := range strings.Split(v, "//") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		key, val, ok := cutArrow(entry)
		if !ok {
			t.Defects = append(t.Defects, Defect{action + "." + attr, entry, "entry is not 'key -> value'"})
			continue
		}
		byStatus := map[string]string{}
		if strings.Contains(val, "|") {
			alts := strings.Split(val, "|")
			if len(alts) != len(oldStates) {
				t.Defects = append(t.Defects, Defect{action + "." + attr, entry,
					fmt.Sprintf("%d alternatives for %d old states", len(alts), len(oldStates))})
			}
			for i, alt := range alts {
				if i >= len(oldStates) {
					break
				}
				byStatus[oldStates[i]] = strings.TrimSpace(alt)
			}
		} else {
			var states []string
			if len(oldStates) == 1 && oldStates[0] == Wildcard {
				states = uni[key]
			} else {
				for _, s := range oldStates {
					if uni.Has(key, s) {
						states = append(states, s)
					}
				}
			}
			for _, s := range states {
				byStatus[s] = val
			}
		}
		out[key] = byStatus
	}
	return out
}

// cutArrow splits "left -> right", trimming both sides.
func cutArrow(s string) (string, string, bool) {
	left, right, ok := strings.Cut(s, "->")
	if !ok || strings.Contains(right, "->") {
		return "", "", false
	}
	return strings.TrimSpace(left), strings.TrimSpace(right), true
}

// splitList splits a comma-separated list, dropping blank entries.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
