package workflow

import "fmt"

// UnknownActionError reports an action name absent from the table.
type UnknownActionError struct {
	Action string
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("unknown action %q", e.Action)
}

// UnresolvedWildcardError reports a wildcard chain that bottomed out
// without producing a concrete status. Only view and reassign may leave
// the status unchanged; for every other action this is a hard failure.
type UnresolvedWildcardError struct {
	Action string
	Triage string
	Status string
}

func (e *UnresolvedWildcardError) Error() string {
	return fmt.Sprintf("action %q: wildcard status unresolved for %s in status %q", e.Action, e.Triage, e.Status)
}

// MissingEntryError reports a triage table with no entry for the item's
// triage value and status. This is a configuration gap, not a business
// outcome.
type MissingEntryError struct {
	Action string
	Attr   string
	Triage string
	Status string
}

func (e *MissingEntryError) Error() string {
	return fmt.Sprintf("action %q: no %s entry for %s in status %q", e.Action, e.Attr, e.Triage, e.Status)
}
