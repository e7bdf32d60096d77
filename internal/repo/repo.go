package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"flowgate/internal/config"
	"flowgate/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

type Project struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at"`
}

func (r Repo) InsertProject(ctx context.Context, tx *sql.Tx, p Project) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO projects(id,kind,description,created_at) VALUES (?,?,?,?)`,
		p.ID, p.Kind, nullable(p.Description), p.CreatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (Project, error) {
	var p Project
	err := r.DB.QueryRowContext(ctx, `SELECT id,kind,COALESCE(description,''),created_at FROM projects WHERE id=?`, id).
		Scan(&p.ID, &p.Kind, &p.Description, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) SingleProject(ctx context.Context) (Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,kind,COALESCE(description,''),created_at FROM projects`)
	if err != nil {
		return Project{}, err
	}
	defer rows.Close()
	var projects []Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.Kind, &p.Description, &p.CreatedAt); err != nil {
			return Project{}, err
		}
		projects = append(projects, p)
	}
	if len(projects) == 0 {
		return Project{}, ErrNotFound
	}
	if len(projects) > 1 {
		return Project{}, fmt.Errorf("multiple projects exist; specify --project")
	}
	return projects[0], nil
}

func (r Repo) UpsertProjectConfig(ctx context.Context, tx *sql.Tx, projectID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Project.ID = projectID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return r.DB.ExecContext(ctx, query, args...)
	}
	_, err = exec(`INSERT INTO project_configs(project_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(project_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, projectID, string(payload), now, now)
	return err
}

func (r Repo) GetProjectConfig(ctx context.Context, projectID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM project_configs WHERE project_id=?`, projectID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Project.ID == "" {
		cfg.Project.ID = projectID
	}
	return &cfg, cfg.Validate()
}

const itemColumns = `id,project_id,type,summary,status,owner,reporter,resolution,parent_id,fields_json,created_at,updated_at`

func (r Repo) InsertItem(ctx context.Context, tx *sql.Tx, projectID string, it domain.Item) error {
	fields, err := marshalFields(it.Fields)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO items(`+itemColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		it.ID, projectID, it.Type, it.Summary, it.Status, it.Owner, it.Reporter,
		nullableStringPtr(it.Resolution), nullableStringPtr(it.Parent), fields, it.CreatedAt, it.UpdatedAt)
	return err
}

func (r Repo) UpdateItem(ctx context.Context, tx *sql.Tx, it domain.Item) error {
	fields, err := marshalFields(it.Fields)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE items SET type=?, summary=?, status=?, owner=?, reporter=?, resolution=?, parent_id=?, fields_json=?, updated_at=? WHERE id=?`,
		it.Type, it.Summary, it.Status, it.Owner, it.Reporter,
		nullableStringPtr(it.Resolution), nullableStringPtr(it.Parent), fields, it.UpdatedAt, it.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanItem(scan func(dest ...any) error) (domain.Item, error) {
	var it domain.Item
	var projectID string
	var resolution, parent, fields sql.NullString
	err := scan(&it.ID, &projectID, &it.Type, &it.Summary, &it.Status, &it.Owner, &it.Reporter,
		&resolution, &parent, &fields, &it.CreatedAt, &it.UpdatedAt)
	if err == sql.ErrNoRows {
		return it, ErrNotFound
	}
	if err != nil {
		return it, err
	}
	if resolution.Valid {
		it.Resolution = &resolution.String
	}
	if parent.Valid {
		it.Parent = &parent.String
	}
	if fields.Valid && fields.String != "" {
		if err := json.Unmarshal([]byte(fields.String), &it.Fields); err != nil {
			return it, fmt.Errorf("item %s fields: %w", it.ID, err)
		}
	}
	return it, nil
}

func (r Repo) GetItem(ctx context.Context, id string) (domain.Item, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id=?`, id)
	return scanItem(row.Scan)
}

type ItemFilters struct {
	ProjectID       string
	Type            string
	Status          string
	Owner           string
	Parent          string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListItems(ctx context.Context, f ItemFilters) ([]domain.Item, error) {
	var clauses []string
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Owner != "" {
		clauses = append(clauses, "owner=?")
		args = append(args, f.Owner)
	}
	if f.Parent != "" {
		clauses = append(clauses, "parent_id=?")
		args = append(args, f.Parent)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + itemColumns + ` FROM items ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Item
	for rows.Next() {
		it, err := scanItem(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

func (r Repo) ListChildren(ctx context.Context, itemID string) ([]domain.Item, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+itemColumns+` FROM items WHERE parent_id=? ORDER BY created_at, id`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Item
	for rows.Next() {
		it, err := scanItem(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

func (r Repo) InsertChange(ctx context.Context, tx *sql.Tx, c domain.Change) error {
	if _, err := tx.ExecContext(ctx, `INSERT INTO changes(id,item_id,ts,author,comment) VALUES (?,?,?,?,?)`,
		c.ID, c.ItemID, c.TS, c.Author, nullable(c.Comment)); err != nil {
		return err
	}
	for _, d := range c.Deltas {
		if _, err := tx.ExecContext(ctx, `INSERT INTO change_deltas(change_id,field,old_value,new_value) VALUES (?,?,?,?)`,
			c.ID, d.Field, d.Old, d.New); err != nil {
			return err
		}
	}
	return nil
}

// ItemLog returns the full change log of an item, oldest first, with
// every change's deltas attached.
func (r Repo) ItemLog(ctx context.Context, itemID string) ([]domain.Change, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,item_id,ts,author,COALESCE(comment,'') FROM changes WHERE item_id=? ORDER BY ts, id`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var log []domain.Change
	index := map[string]int{}
	for rows.Next() {
		var c domain.Change
		if err := rows.Scan(&c.ID, &c.ItemID, &c.TS, &c.Author, &c.Comment); err != nil {
			return nil, err
		}
		index[c.ID] = len(log)
		log = append(log, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(log) == 0 {
		return nil, nil
	}
	drows, err := r.DB.QueryContext(ctx, `SELECT d.change_id,d.field,d.old_value,d.new_value FROM change_deltas d
JOIN changes c ON c.id=d.change_id WHERE c.item_id=? ORDER BY c.ts, c.id`, itemID)
	if err != nil {
		return nil, err
	}
	defer drows.Close()
	for drows.Next() {
		var changeID string
		var d domain.FieldDelta
		if err := drows.Scan(&changeID, &d.Field, &d.Old, &d.New); err != nil {
			return nil, err
		}
		if i, ok := index[changeID]; ok {
			log[i].Deltas = append(log[i].Deltas, d)
		}
	}
	return log, drows.Err()
}

func (r Repo) InsertVersionTag(ctx context.Context, tx *sql.Tx, t domain.VersionTag) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO version_tags(name,tagged_item,status,status_index,item_id,independence,created_by,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		t.Name, t.TaggedItem, t.Status, t.StatusIndex, nullable(t.ItemID), boolInt(t.Independence), nullable(t.CreatedBy), t.CreatedAt)
	return err
}

func (r Repo) DeleteVersionTag(ctx context.Context, tx *sql.Tx, name string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM version_tags WHERE name=?`, name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetVersionTag(ctx context.Context, name string) (domain.VersionTag, error) {
	var t domain.VersionTag
	var itemID, createdBy sql.NullString
	var independence int
	err := r.DB.QueryRowContext(ctx, `SELECT name,tagged_item,status,status_index,item_id,independence,created_by,created_at FROM version_tags WHERE name=?`, name).
		Scan(&t.Name, &t.TaggedItem, &t.Status, &t.StatusIndex, &itemID, &independence, &createdBy, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.ItemID = itemID.String
	t.CreatedBy = createdBy.String
	t.Independence = independence != 0
	return t, nil
}

// TagIndexes returns the sorted status indexes recorded for a tagged
// item in the given status. An empty status matches every status.
func (r Repo) TagIndexes(ctx context.Context, taggedItem, status string) ([]int, error) {
	query := `SELECT status_index FROM version_tags WHERE tagged_item=?`
	args := []any{taggedItem}
	if status != "" {
		query += ` AND status=?`
		args = append(args, status)
	}
	query += ` ORDER BY status_index`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int
	for rows.Next() {
		var i int
		if err := rows.Scan(&i); err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

func (r Repo) InsertBaselineEntry(ctx context.Context, tx *sql.Tx, b domain.BaselineEntry) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO baseline_items(baseline,tag_name) VALUES (?,?)`, b.Baseline, b.TagName)
	return err
}

func (r Repo) BaselinesWithTag(ctx context.Context, tag string) ([]string, error) {
	return r.stringColumn(ctx, `SELECT baseline FROM baseline_items WHERE tag_name=? ORDER BY baseline`, tag)
}

func (r Repo) InsertBranch(ctx context.Context, tx *sql.Tx, b domain.Branch) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO branches(id,source_tag) VALUES (?,?)`, b.ID, b.SourceTag)
	return err
}

func (r Repo) BranchesFromTag(ctx context.Context, tag string) ([]string, error) {
	return r.stringColumn(ctx, `SELECT id FROM branches WHERE source_tag=? ORDER BY id`, tag)
}

// ItemsUsingTag lists open items whose document field points at the
// tag, excluding the item that owns it.
func (r Repo) ItemsUsingTag(ctx context.Context, tag, excludeID string) ([]string, error) {
	return r.stringColumn(ctx, `SELECT id FROM items
WHERE status != 'closed' AND id != ? AND json_extract(fields_json, '$.document')=? ORDER BY id`, excludeID, tag)
}

func (r Repo) stringColumn(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func marshalFields(fields map[string]string) (any, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
