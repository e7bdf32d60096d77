package workflow

import (
	"regexp"

	"flowgate/internal/domain"
)

// orderedSet keeps insertion order while deduplicating, so the credited
// author list reads in first-contribution order.
type orderedSet struct {
	seen  map[string]bool
	names []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: map[string]bool{}}
}

func (s *orderedSet) add(name string) {
	if name == "" || s.seen[name] {
		return
	}
	s.seen[name] = true
	s.names = append(s.names, name)
}

func (s *orderedSet) discard(name string) {
	if !s.seen[name] {
		return
	}
	delete(s.seen, name)
	for i, n := range s.names {
		if n == name {
			s.names = append(s.names[:i], s.names[i+1:]...)
			break
		}
	}
}

var onBehalfOf = regexp.MustCompile(`^Source Url changed \(on behalf of (.+)\)$`)

// commitTrailAuthors credits the principals named in relayed source
// commits: a sourceurl delta only counts when its comment carries the
// on-behalf-of marker.
func commitTrailAuthors(e *Engine, item domain.Item, log []domain.Change) []string {
	authors := newOrderedSet()
	for _, change := range log {
		if _, ok := change.Delta("sourceurl"); !ok {
			continue
		}
		if m := onBehalfOf.FindStringSubmatch(change.Comment); m != nil {
			authors.add(m[1])
		}
	}
	return authors.names
}

// editionTrailAuthors replays the change log of a document item and
// credits the owners who held it during an edition phase. Reassignments
// made only to upload files someone else wrote are retracted, and
// administrators without a project role never count.
func editionTrailAuthors(e *Engine, item domain.Item, log []domain.Change) []string {
	p := e.profileFor(item)
	authors := newOrderedSet()
	add := func(name string) {
		if name == "" {
			return
		}
		if e.isAdmin(name) && !e.hasRole(name) {
			return
		}
		authors.add(name)
	}

	// the reporter is the provisional owner but earns credit only
	// through a replayed edition change
	owner := item.Reporter
	status := p.Initial

	// win holds the two changes preceding the current one, for the
	// retraction lookbehind.
	var win [3]*domain.Change
	for i := range log {
		change := &log[i]
		win[0], win[1], win[2] = win[1], win[2], change

		sd, hasStatus := change.Delta("status")
		od, hasOwner := change.Delta("owner")

		switch {
		case filesFromEmpty(change):
			// first upload of the edition: the uploader is the author
			if hasOwner {
				owner = od.New
			} else {
				owner = change.Author
			}
			add(owner)

		case !hasStatus && status == p.Initial && hasOwner:
			owner = od.New
			add(owner)
			// a handover straight after an upload (or an upload
			// relayed through a source url change) means the previous
			// holder only carried someone else's files
			uploadBefore := win[1] != nil && filesFromEmpty(win[1])
			uploadEarlier := win[0] != nil && filesFromEmpty(win[0])
			relayBetween := false
			if win[1] != nil {
				_, relayBetween = win[1].Delta("sourceurl")
			}
			if uploadBefore || (uploadEarlier && relayBetween) {
				authors.discard(od.Old)
			}

		case hasStatus && sd.Old == p.Initial:
			// leaving the edition phase
			status = sd.New
			if hasOwner {
				owner = od.New
				add(od.Old)
			} else {
				owner = change.Author
				add(owner)
			}

		case hasStatus && sd.New == p.Initial:
			// back to edition
			status = p.Initial
			if hasOwner {
				owner = od.New
			}
			add(owner)

		default:
			if _, tagged := change.Delta("document"); tagged && win[1] != nil {
				if psd, ok := win[1].Delta("status"); ok && psd.New == p.Initial {
					// tag applied right after reentering edition:
					// an administrative fixup, not authorship
					if e.isAdmin(owner) && e.hasRole(owner) {
						authors.discard(owner)
					}
				}
			}
			if hasOwner {
				owner = od.New
			}
			if hasStatus {
				status = sd.New
			}
		}
	}
	return authors.names
}

// filesFromEmpty reports whether the change sets both document files
// for the first time.
func filesFromEmpty(change *domain.Change) bool {
	src, okSrc := change.Delta("sourcefile")
	pdf, okPDF := change.Delta("pdffile")
	return okSrc && okPDF && src.Old == "" && pdf.Old == ""
}

func (e *Engine) isAdmin(principal string) bool {
	return e.Dir.Allowed(principal, PermAdmin)
}

func (e *Engine) hasRole(principal string) bool {
	for _, g := range e.Dir.Groups(principal) {
		if e.RoleGroups[g] {
			return true
		}
	}
	return false
}
