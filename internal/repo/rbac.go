package repo

import (
	"context"
	"database/sql"
)

func (r Repo) EnsureActor(ctx context.Context, tx *sql.Tx, actorID, now string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO actors(id, created_at) VALUES (?,?)`, actorID, now)
	return err
}

func (r Repo) GrantPermission(ctx context.Context, tx *sql.Tx, actorID, permission string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO actor_permissions(actor_id, permission) VALUES (?,?)`, actorID, permission)
	return err
}

func (r Repo) RevokePermission(ctx context.Context, tx *sql.Tx, actorID, permission string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM actor_permissions WHERE actor_id=? AND permission=?`, actorID, permission)
	return err
}

func (r Repo) AddToGroup(ctx context.Context, tx *sql.Tx, actorID, group string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO actor_groups(actor_id, grp) VALUES (?,?)`, actorID, group)
	return err
}

func (r Repo) RemoveFromGroup(ctx context.Context, tx *sql.Tx, actorID, group string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM actor_groups WHERE actor_id=? AND grp=?`, actorID, group)
	return err
}

func (r Repo) ActorPermissions(ctx context.Context, actorID string) ([]string, error) {
	return r.stringColumn(ctx, `SELECT permission FROM actor_permissions WHERE actor_id=? ORDER BY permission`, actorID)
}

func (r Repo) ActorGroups(ctx context.Context, actorID string) ([]string, error) {
	return r.stringColumn(ctx, `SELECT grp FROM actor_groups WHERE actor_id=? ORDER BY grp`, actorID)
}

func (r Repo) ListActorIDs(ctx context.Context) ([]string, error) {
	return r.stringColumn(ctx, `SELECT id FROM actors ORDER BY id`)
}

func (r Repo) GroupMembers(ctx context.Context, group string) ([]string, error) {
	return r.stringColumn(ctx, `SELECT actor_id FROM actor_groups WHERE grp=? ORDER BY actor_id`, group)
}
