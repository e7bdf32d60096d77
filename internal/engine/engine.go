package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"flowgate/internal/config"
	"flowgate/internal/domain"
	"flowgate/internal/events"
	"flowgate/internal/repo"
	"flowgate/internal/workflow"
)

// Service commits workflow outcomes to storage. The pure evaluation
// lives in the workflow package; everything here is load, evaluate,
// write.
type Service struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time

	base *workflow.Engine
}

func New(db *sql.DB, cfg *config.Config) Service {
	var base *workflow.Engine
	if cfg != nil {
		base = workflow.New(workflow.Options{
			Rules:          cfg.Workflow.Rules,
			Aliases:        cfg.Workflow.Aliases,
			AbortAction:    cfg.Workflow.AbortAction,
			RestrictOwners: cfg.Workflow.RestrictOwners,
			RoleGroups:     cfg.RBAC.RoleGroups,
			Quota:          cfg.QuotaPolicy(),
		})
	}
	return Service{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
		base:   base,
	}
}

func (s Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Flow returns the evaluation engine bound to a request context.
// The configuration tables are shared; only the storage adapters are
// per call.
func (s Service) Flow(ctx context.Context) (*workflow.Engine, error) {
	if s.base == nil {
		return nil, errors.New("config not loaded")
	}
	eng := *s.base
	eng.Dir = repo.Directory{Repo: s.Repo, Ctx: ctx}
	eng.Refs = repo.Refs{Repo: s.Repo, Ctx: ctx}
	return &eng, nil
}

// ConfigDefects lists the workflow table entries that could not be
// interpreted.
func (s Service) ConfigDefects() []workflow.Defect {
	if s.base == nil {
		return nil
	}
	return s.base.Table.Defects
}

// InitProject initializes a new project with migrations already run.
func (s Service) InitProject(ctx context.Context, projectID, description, actorID string) (repo.Project, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return repo.Project{}, err
	}
	defer tx.Rollback()

	p := repo.Project{
		ID:          projectID,
		Kind:        "issue-tracker",
		Description: description,
		CreatedAt:   s.now().UTC().Format(time.RFC3339),
	}
	if err := s.Repo.InsertProject(ctx, tx, p); err != nil {
		return repo.Project{}, fmt.Errorf("insert project: %w", err)
	}
	seed := s.Config
	if seed == nil {
		seed = config.Default(projectID)
	}
	if err := s.Repo.UpsertProjectConfig(ctx, tx, p.ID, seed); err != nil {
		return repo.Project{}, fmt.Errorf("insert project config: %w", err)
	}
	if err := s.Events.Append(ctx, tx, "project.init", p.ID, "project", p.ID, actorID, events.EventPayload{"kind": p.Kind}); err != nil {
		return repo.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return repo.Project{}, err
	}
	return p, nil
}

// ItemCreateOptions are parameters for creating an item.
type ItemCreateOptions struct {
	ID        string
	ProjectID string
	Type      string
	Summary   string
	Owner     string
	ParentID  string
	Fields    map[string]string
	ActorID   string
}

func (s Service) CreateItem(ctx context.Context, opts ItemCreateOptions) (domain.Item, error) {
	flow, err := s.Flow(ctx)
	if err != nil {
		return domain.Item{}, err
	}
	if opts.Summary == "" {
		return domain.Item{}, errors.New("summary is required")
	}
	if opts.ProjectID == "" {
		return domain.Item{}, errors.New("project is required")
	}
	if _, err := s.Repo.GetProject(ctx, opts.ProjectID); err != nil {
		return domain.Item{}, err
	}
	it := domain.Item{
		ID:       opts.ID,
		Type:     opts.Type,
		Summary:  opts.Summary,
		Owner:    opts.Owner,
		Reporter: opts.ActorID,
		Fields:   opts.Fields,
	}
	if _, ok := flow.Registry.For(it); !ok {
		return domain.Item{}, fmt.Errorf("unknown item type %s", opts.Type)
	}
	if opts.ParentID != "" {
		parent, err := s.Repo.GetItem(ctx, opts.ParentID)
		if err != nil {
			return domain.Item{}, fmt.Errorf("parent: %w", err)
		}
		it.Parent = &opts.ParentID
		// a new review item counts against the parent's signature boxes
		if it.Fields["document"] != "" {
			if q := flow.ReviewQuota(parent); !q.Allowed {
				return domain.Item{}, errors.New(q.Reason)
			}
		}
	}
	now := s.now().UTC().Format(time.RFC3339)
	if it.ID == "" {
		it.ID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(opts.ProjectID+"|"+opts.Summary+"|"+now)).String()
	}
	if it.Owner == "" {
		it.Owner = opts.ActorID
	}
	it.Status = flow.CurrentStatus(it)
	it.CreatedAt = now
	it.UpdatedAt = now

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Item{}, err
	}
	defer tx.Rollback()
	if err := s.Repo.InsertItem(ctx, tx, opts.ProjectID, it); err != nil {
		return domain.Item{}, err
	}
	if err := s.Events.Append(ctx, tx, "item.created", opts.ProjectID, "item", it.ID, opts.ActorID, events.EventPayload{
		"type":    it.Type,
		"summary": it.Summary,
		"status":  it.Status,
	}); err != nil {
		return domain.Item{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Item{}, err
	}
	return it, nil
}

// ItemUpdateOptions sets fields outside the workflow: uploads, summary
// edits, comments. Status, owner and resolution only move through
// ApplyAction.
type ItemUpdateOptions struct {
	ID        string
	ProjectID string
	Set       map[string]string
	Comment   string
	ActorID   string
}

func (s Service) UpdateItem(ctx context.Context, opts ItemUpdateOptions) (domain.Item, error) {
	it, err := s.Repo.GetItem(ctx, opts.ID)
	if err != nil {
		return it, err
	}
	var deltas []domain.FieldDelta
	for field, value := range opts.Set {
		switch field {
		case "status", "owner", "resolution":
			return it, fmt.Errorf("field %s changes through workflow actions", field)
		case "summary":
			if it.Summary != value {
				deltas = append(deltas, domain.FieldDelta{Field: field, Old: it.Summary, New: value})
				it.Summary = value
			}
		case "reporter":
			if it.Reporter != value {
				deltas = append(deltas, domain.FieldDelta{Field: field, Old: it.Reporter, New: value})
				it.Reporter = value
			}
		default:
			if it.Fields[field] != value {
				deltas = append(deltas, domain.FieldDelta{Field: field, Old: it.Fields[field], New: value})
				if it.Fields == nil {
					it.Fields = map[string]string{}
				}
				it.Fields[field] = value
			}
		}
	}
	if len(deltas) == 0 && opts.Comment == "" {
		return it, nil
	}
	return s.commitChange(ctx, opts.ProjectID, it, deltas, opts.Comment, opts.ActorID, "item.updated", nil)
}

// ErrActionDenied wraps a gate or quota denial so callers can render
// the reason instead of a server error.
var ErrActionDenied = errors.New("action denied")

// ApplyOptions are the caller-supplied parts of an action commit.
type ApplyOptions struct {
	ItemID     string
	ProjectID  string
	Action     string
	ActorID    string
	Owner      string
	Resolution string
	Comment    string
}

// EvaluateAction runs one action without committing anything.
func (s Service) EvaluateAction(ctx context.Context, itemID, action, actorID string) (workflow.Outcome, error) {
	flow, err := s.Flow(ctx)
	if err != nil {
		return workflow.Outcome{}, err
	}
	it, err := s.Repo.GetItem(ctx, itemID)
	if err != nil {
		return workflow.Outcome{}, err
	}
	log, err := s.Repo.ItemLog(ctx, itemID)
	if err != nil {
		return workflow.Outcome{}, err
	}
	return flow.Evaluate(action, it, log, actorID)
}

// ApplyAction evaluates an action and commits the resulting deltas:
// status, owner, resolution, version tags, the change row and an event.
func (s Service) ApplyAction(ctx context.Context, opts ApplyOptions) (domain.Item, workflow.Outcome, error) {
	flow, err := s.Flow(ctx)
	if err != nil {
		return domain.Item{}, workflow.Outcome{}, err
	}
	it, err := s.Repo.GetItem(ctx, opts.ItemID)
	if err != nil {
		return it, workflow.Outcome{}, err
	}
	log, err := s.Repo.ItemLog(ctx, opts.ItemID)
	if err != nil {
		return it, workflow.Outcome{}, err
	}
	out, err := flow.Evaluate(opts.Action, it, log, opts.ActorID)
	if err != nil {
		return it, out, err
	}
	if !out.Allowed {
		return it, out, fmt.Errorf("%w: %s", ErrActionDenied, out.Reason)
	}

	var deltas []domain.FieldDelta
	oldStatus := flow.CurrentStatus(it)
	if out.NewStatus != oldStatus {
		deltas = append(deltas, domain.FieldDelta{Field: "status", Old: oldStatus, New: out.NewStatus})
		it.Status = out.NewStatus
	}
	newOwner := opts.Owner
	if newOwner == "" {
		newOwner = out.NewOwner
	}
	if newOwner != "" && newOwner != it.Owner {
		if len(out.Candidates) > 0 && !containsString(out.Candidates, newOwner) {
			return it, out, fmt.Errorf("%w: %s is not an eligible owner for %s", ErrActionDenied, newOwner, opts.Action)
		}
		deltas = append(deltas, domain.FieldDelta{Field: "owner", Old: it.Owner, New: newOwner})
		it.Owner = newOwner
	}
	if out.Signer != "" && it.Fields["signer"] != out.Signer {
		deltas = append(deltas, domain.FieldDelta{Field: "signer", Old: it.Fields["signer"], New: out.Signer})
		if it.Fields == nil {
			it.Fields = map[string]string{}
		}
		it.Fields["signer"] = out.Signer
	}
	switch {
	case len(out.Resolution) > 0:
		res := opts.Resolution
		if res == "" {
			res = out.Resolution[0]
		}
		if !containsString(out.Resolution, res) {
			return it, out, fmt.Errorf("%w: resolution %s is not offered by %s", ErrActionDenied, res, opts.Action)
		}
		old := ""
		if it.Resolution != nil {
			old = *it.Resolution
		}
		if old != res {
			deltas = append(deltas, domain.FieldDelta{Field: "resolution", Old: old, New: res})
			it.Resolution = &res
		}
	case out.ClearsResolution && it.Resolution != nil:
		deltas = append(deltas, domain.FieldDelta{Field: "resolution", Old: *it.Resolution, New: ""})
		it.Resolution = nil
	}

	var tagOps func(*sql.Tx) (string, error)
	if version, managed := flow.VersionStatus(opts.Action, it); managed {
		for _, op := range out.Operations {
			switch op {
			case workflow.OpTagDocument:
				tagOps = s.applyTag(opts, it, version)
			case workflow.OpRemoveTag:
				tagOps = s.removeTag(opts, it, version)
			}
		}
		if tagOps != nil && it.Fields["versionstatus"] != version {
			deltas = append(deltas, domain.FieldDelta{Field: "versionstatus", Old: it.Fields["versionstatus"], New: version})
			if it.Fields == nil {
				it.Fields = map[string]string{}
			}
			it.Fields["versionstatus"] = version
		}
	}

	committed, err := s.commitChange(ctx, opts.ProjectID, it, deltas, opts.Comment, opts.ActorID, "item.action", tagOps)
	return committed, out, err
}

// applyTag registers the next version tag and points the item's
// document field at it.
func (s Service) applyTag(opts ApplyOptions, it domain.Item, version string) func(*sql.Tx) (string, error) {
	return func(tx *sql.Tx) (string, error) {
		name := TagName(it, version)
		status, index := splitVersion(version)
		t := domain.VersionTag{
			Name:        name,
			TaggedItem:  TaggedItem(it),
			Status:      status,
			StatusIndex: index,
			ItemID:      it.ID,
			CreatedBy:   opts.ActorID,
			CreatedAt:   s.now().UTC().Format(time.RFC3339),
		}
		if err := s.Repo.InsertVersionTag(context.Background(), tx, t); err != nil {
			return "", fmt.Errorf("tag %s: %w", name, err)
		}
		return fmt.Sprintf("Tag %s applied", name), nil
	}
}

func (s Service) removeTag(opts ApplyOptions, it domain.Item, version string) func(*sql.Tx) (string, error) {
	return func(tx *sql.Tx) (string, error) {
		name := TagName(it, version)
		if err := s.Repo.DeleteVersionTag(context.Background(), tx, name); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return "", nil
			}
			return "", fmt.Errorf("remove tag %s: %w", name, err)
		}
		return fmt.Sprintf("Tag %s removed", name), nil
	}
}

// TaggedItem is the name the version registry tracks an item under.
func TaggedItem(it domain.Item) string {
	if it.Type == "DOC" {
		return strings.TrimPrefix(it.Summary, "DOC_")
	}
	return it.Summary
}

// TagName derives a registry tag name from a version status label.
func TagName(it domain.Item, version string) string {
	return TaggedItem(it) + "." + version
}

// splitVersion cuts "Draft2" into ("Draft", 2). Purely numeric labels
// are review cycles.
func splitVersion(version string) (string, int) {
	i := 0
	for i < len(version) && (version[i] < '0' || version[i] > '9') {
		i++
	}
	status := version[:i]
	if status == "" {
		status = "Review"
	}
	index := 0
	for _, c := range version[i:] {
		if c < '0' || c > '9' {
			break
		}
		index = index*10 + int(c-'0')
	}
	return status, index
}

func (s Service) commitChange(ctx context.Context, projectID string, it domain.Item, deltas []domain.FieldDelta, comment, actorID, eventType string, tagOps func(*sql.Tx) (string, error)) (domain.Item, error) {
	now := s.now().UTC().Format(time.RFC3339)
	it.UpdatedAt = now
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return it, err
	}
	defer tx.Rollback()
	if tagOps != nil {
		note, err := tagOps(tx)
		if err != nil {
			return it, err
		}
		if note != "" {
			if comment == "" {
				comment = note
			} else {
				comment = comment + "\n" + note
			}
		}
	}
	if err := s.Repo.UpdateItem(ctx, tx, it); err != nil {
		return it, err
	}
	change := domain.Change{
		ID:      uuid.New().String(),
		ItemID:  it.ID,
		TS:      now,
		Author:  actorID,
		Comment: comment,
		Deltas:  deltas,
	}
	if err := s.Repo.InsertChange(ctx, tx, change); err != nil {
		return it, err
	}
	payload := events.EventPayload{"status": it.Status, "owner": it.Owner}
	if err := s.Events.Append(ctx, tx, eventType, projectID, "item", it.ID, actorID, payload); err != nil {
		return it, err
	}
	if err := tx.Commit(); err != nil {
		return it, err
	}
	return it, nil
}

// ListActions returns every configured action for the item with its
// per-actor decision.
func (s Service) ListActions(ctx context.Context, itemID, actorID string) ([]workflow.ActionRef, error) {
	flow, err := s.Flow(ctx)
	if err != nil {
		return nil, err
	}
	it, err := s.Repo.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	log, err := s.Repo.ItemLog(ctx, itemID)
	if err != nil {
		return nil, err
	}
	return flow.ListActions(it, log, actorID), nil
}

// Authors returns the credited authors of an item.
func (s Service) Authors(ctx context.Context, itemID string) ([]string, error) {
	flow, err := s.Flow(ctx)
	if err != nil {
		return nil, err
	}
	it, err := s.Repo.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	log, err := s.Repo.ItemLog(ctx, itemID)
	if err != nil {
		return nil, err
	}
	return flow.CreditedAuthors(it, log), nil
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
