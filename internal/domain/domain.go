package domain

// Item is a snapshot of a tracked work item. The engine never mutates
// one; it returns proposed new values to the caller.
type Item struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Summary    string            `json:"summary"`
	Status     string            `json:"status"`
	Owner      string            `json:"owner"`
	Reporter   string            `json:"reporter"`
	Resolution *string           `json:"resolution,omitempty"`
	Parent     *string           `json:"parent,omitempty"`
	Fields     map[string]string `json:"fields,omitempty"`
	CreatedAt  string            `json:"created_at" format:"date-time"`
	UpdatedAt  string            `json:"updated_at" format:"date-time"`
}

// Field returns a built-in or custom field value by name.
func (it Item) Field(name string) string {
	switch name {
	case "type":
		return it.Type
	case "status":
		return it.Status
	case "owner":
		return it.Owner
	case "reporter":
		return it.Reporter
	case "summary":
		return it.Summary
	}
	return it.Fields[name]
}

// Change is one committed modification of an item: every field delta
// applied at the same instant by the same author, plus the comment.
// A log is a slice of changes ordered oldest first.
type Change struct {
	ID      string       `json:"id"`
	ItemID  string       `json:"item_id"`
	TS      string       `json:"ts" format:"date-time"`
	Author  string       `json:"author"`
	Comment string       `json:"comment,omitempty"`
	Deltas  []FieldDelta `json:"deltas,omitempty"`
}

type FieldDelta struct {
	Field string `json:"field"`
	Old   string `json:"old"`
	New   string `json:"new"`
}

// Delta returns the delta for the named field, if this change touched it.
func (c Change) Delta(field string) (FieldDelta, bool) {
	for _, d := range c.Deltas {
		if d.Field == field {
			return d, true
		}
	}
	return FieldDelta{}, false
}

// VersionTag is an entry of the external version registry.
type VersionTag struct {
	Name        string `json:"name"`
	TaggedItem  string `json:"tagged_item"`
	Status      string `json:"status" enum:"Draft,Proposed,Released,Review"`
	StatusIndex int    `json:"status_index"`
	ItemID      string `json:"item_id,omitempty"`
	// Independence is the separation-of-duties flag of the document
	// record the tag tracks.
	Independence bool   `json:"independence,omitempty"`
	CreatedBy    string `json:"created_by,omitempty"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

// BaselineEntry records a tag frozen into a named baseline.
type BaselineEntry struct {
	Baseline string `json:"baseline"`
	TagName  string `json:"tag_name"`
}

// Branch records a development branch cut from a source tag.
type Branch struct {
	ID        string `json:"id"`
	SourceTag string `json:"source_tag"`
}

type Actor struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Event is an append-only audit record.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload,omitempty"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
