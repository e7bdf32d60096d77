package server

import (
	"encoding/json"

	"flowgate/internal/config"
	"flowgate/internal/domain"
	"flowgate/internal/repo"
	"flowgate/internal/workflow"
)

// Request payloads

type CreateProjectRequest struct {
	ID          string  `json:"id"`
	Description *string `json:"description,omitempty"`
}

type CreateItemRequest struct {
	ID       *string           `json:"id,omitempty"`
	Type     string            `json:"type"`
	Summary  string            `json:"summary"`
	Owner    *string           `json:"owner,omitempty"`
	ParentID *string           `json:"parent_id,omitempty"`
	Fields   map[string]string `json:"fields,omitempty"`
}

type UpdateItemRequest struct {
	Set     map[string]string `json:"set,omitempty"`
	Comment string            `json:"comment,omitempty"`
}

type ApplyActionRequest struct {
	Owner      string `json:"owner,omitempty"`
	Resolution string `json:"resolution,omitempty"`
	Comment    string `json:"comment,omitempty"`
}

type GrantRequest struct {
	Permission string `json:"permission" enum:"MODIFY,CREATE,AUTHORIZE,ADMIN"`
}

type GroupRequest struct {
	Group string `json:"group"`
}

type CreateAPIKeyRequest struct {
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
}

type CreateBaselineEntryRequest struct {
	Baseline string `json:"baseline"`
	TagName  string `json:"tag_name"`
}

type CreateBranchRequest struct {
	ID        string `json:"id"`
	SourceTag string `json:"source_tag"`
}

// Response payloads

type ProjectResponse struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type ItemResponse struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Summary    string            `json:"summary"`
	Status     string            `json:"status"`
	Owner      string            `json:"owner"`
	Reporter   string            `json:"reporter"`
	Resolution *string           `json:"resolution,omitempty"`
	ParentID   *string           `json:"parent_id,omitempty"`
	Fields     map[string]string `json:"fields,omitempty"`
	CreatedAt  string            `json:"created_at" format:"date-time"`
	UpdatedAt  string            `json:"updated_at" format:"date-time"`
}

type ActionResponse struct {
	Name    string   `json:"name"`
	Label   string   `json:"label"`
	Allowed bool     `json:"allowed"`
	Reason  string   `json:"reason,omitempty"`
	Labels  []string `json:"labels,omitempty"`
}

type SignerSlotResponse struct {
	Slot   int    `json:"slot"`
	Class  string `json:"class"`
	Signer string `json:"signer"`
	Action string `json:"action"`
}

type OutcomeResponse struct {
	Action           string               `json:"action"`
	Allowed          bool                 `json:"allowed"`
	Reason           string               `json:"reason,omitempty"`
	NewStatus        string               `json:"new_status,omitempty"`
	NewOwner         string               `json:"new_owner,omitempty"`
	Operations       []string             `json:"operations,omitempty"`
	Candidates       []string             `json:"candidates,omitempty"`
	Resolution       []string             `json:"resolution,omitempty"`
	ClearsResolution bool                 `json:"clears_resolution,omitempty"`
	Signer           string               `json:"signer,omitempty"`
	Signers          []SignerSlotResponse `json:"signers,omitempty"`
}

type TagResponse struct {
	Name        string `json:"name"`
	TaggedItem  string `json:"tagged_item"`
	Status      string `json:"status"`
	StatusIndex int    `json:"status_index"`
	ItemID      string `json:"item_id,omitempty"`
	CreatedBy   string `json:"created_by,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type ActorResponse struct {
	ID          string   `json:"id"`
	Permissions []string `json:"permissions"`
	Groups      []string `json:"groups"`
}

type DefectResponse struct {
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

type ProjectConfigResponse struct {
	Project struct {
		ID   string `json:"id"`
		Kind string `json:"kind"`
	} `json:"project"`
	Workflow struct {
		Rules          []workflow.Rule   `json:"rules"`
		AbortAction    string            `json:"abort_action,omitempty"`
		RestrictOwners bool              `json:"restrict_owners"`
		Aliases        map[string]string `json:"aliases,omitempty"`
	} `json:"workflow"`
	RoleGroups []string `json:"role_groups,omitempty"`
}

type paginatedItems struct {
	Items      []ItemResponse `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func projectResponse(p repo.Project) ProjectResponse {
	return ProjectResponse(p)
}

func itemResponse(it domain.Item) ItemResponse {
	return ItemResponse{
		ID:         it.ID,
		Type:       it.Type,
		Summary:    it.Summary,
		Status:     it.Status,
		Owner:      it.Owner,
		Reporter:   it.Reporter,
		Resolution: it.Resolution,
		ParentID:   it.Parent,
		Fields:     it.Fields,
		CreatedAt:  it.CreatedAt,
		UpdatedAt:  it.UpdatedAt,
	}
}

func mapItems(items []domain.Item) []ItemResponse {
	out := make([]ItemResponse, 0, len(items))
	for _, it := range items {
		out = append(out, itemResponse(it))
	}
	return out
}

func actionResponse(a workflow.ActionRef) ActionResponse {
	return ActionResponse{
		Name:    a.Name,
		Label:   a.Label,
		Allowed: a.Allowed,
		Reason:  a.Reason,
		Labels:  a.Labels,
	}
}

func outcomeResponse(out workflow.Outcome) OutcomeResponse {
	res := OutcomeResponse{
		Action:           out.Action,
		Allowed:          out.Allowed,
		Reason:           out.Reason,
		NewStatus:        out.NewStatus,
		NewOwner:         out.NewOwner,
		Operations:       out.Operations,
		Candidates:       out.Candidates,
		Resolution:       out.Resolution,
		ClearsResolution: out.ClearsResolution,
		Signer:           out.Signer,
	}
	for _, s := range out.Signers {
		res.Signers = append(res.Signers, SignerSlotResponse{
			Slot:   s.Slot,
			Class:  s.Class,
			Signer: s.Signer,
			Action: s.Action,
		})
	}
	return res
}

func tagResponse(t domain.VersionTag) TagResponse {
	return TagResponse{
		Name:        t.Name,
		TaggedItem:  t.TaggedItem,
		Status:      t.Status,
		StatusIndex: t.StatusIndex,
		ItemID:      t.ItemID,
		CreatedBy:   t.CreatedBy,
		CreatedAt:   t.CreatedAt,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		ProjectID:  e.ProjectID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func configResponse(cfg *config.Config) ProjectConfigResponse {
	var res ProjectConfigResponse
	res.Project.ID = cfg.Project.ID
	res.Project.Kind = cfg.Project.Kind
	res.Workflow.Rules = cfg.Workflow.Rules
	res.Workflow.AbortAction = cfg.Workflow.AbortAction
	res.Workflow.RestrictOwners = cfg.Workflow.RestrictOwners
	res.Workflow.Aliases = cfg.Workflow.Aliases
	res.RoleGroups = cfg.RBAC.RoleGroups
	return res
}

// JSON helpers

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}
