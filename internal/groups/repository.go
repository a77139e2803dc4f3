package groups

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-dms/odyssey-dms/internal/crypt"
	"github.com/odyssey-dms/odyssey-dms/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for groups.
type Repository struct {
	pool  *pgxpool.Pool
	codec *crypt.Codec
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool, codec *crypt.Codec) *Repository {
	return &Repository{pool: pool, codec: codec}
}

const groupSelect = `
	SELECT g.id, g.name, g.description, g.assigned_color, g.status, g.is_default_group,
		g.workflow_participant, g.inherit_permissions, g.created_by, g.updated_by, g.created_at, g.updated_at,
		COALESCE((SELECT array_agg(gu.user_id ORDER BY gu.user_id) FROM group_user gu WHERE gu.group_id = g.id), '{}'),
		COALESCE((SELECT array_agg(gr.role_id ORDER BY gr.role_id) FROM group_role gr WHERE gr.group_id = g.id), '{}')
	FROM groups g`

// List returns all groups ordered by id.
func (r *Repository) List(ctx context.Context) ([]Group, error) {
	rows, err := r.pool.Query(ctx, groupSelect+` ORDER BY g.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Group
	for rows.Next() {
		g, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// Get fetches a group with its member and role ids.
func (r *Repository) Get(ctx context.Context, id int64) (*Group, error) {
	g, err := r.scan(r.pool.QueryRow(ctx, groupSelect+` WHERE g.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &g, nil
}

// Insert seals and stores a group together with its links.
func (r *Repository) Insert(ctx context.Context, g Group) (Group, error) {
	sealed, err := r.codec.Seal(g, row(g))
	if err != nil {
		return Group{}, err
	}
	err = db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO groups (name, description, assigned_color, status, is_default_group, workflow_participant,
				inherit_permissions, created_by, updated_by, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8, NOW(), NOW())
			RETURNING id, created_at, updated_at`,
			sealed.NullString("name"), sealed.NullString("description"), sealed.NullString("assigned_color"),
			g.Status, g.IsDefaultGroup, g.WorkflowParticipant, g.InheritPermissions, g.CreatedBy,
		).Scan(&g.ID, &g.CreatedAt, &g.UpdatedAt)
		if err != nil {
			return fmt.Errorf("groups: insert: %w", err)
		}
		if err := replaceLinks(ctx, tx, "group_user", "user_id", g.ID, g.MemberIDs, g.CreatedBy); err != nil {
			return err
		}
		return replaceLinks(ctx, tx, "group_role", "role_id", g.ID, g.RoleIDs, g.CreatedBy)
	})
	if err != nil {
		return Group{}, err
	}
	g.UpdatedBy = g.CreatedBy
	return g, nil
}

// Update rewrites the group attributes. Links are left untouched.
func (r *Repository) Update(ctx context.Context, g Group) (Group, error) {
	sealed, err := r.codec.Seal(g, row(g))
	if err != nil {
		return Group{}, err
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE groups SET name = $2, description = $3, assigned_color = $4, status = $5, is_default_group = $6,
			workflow_participant = $7, inherit_permissions = $8, updated_by = $9, updated_at = NOW()
		WHERE id = $1`,
		g.ID, sealed.NullString("name"), sealed.NullString("description"), sealed.NullString("assigned_color"),
		g.Status, g.IsDefaultGroup, g.WorkflowParticipant, g.InheritPermissions, g.UpdatedBy)
	if err != nil {
		return Group{}, fmt.Errorf("groups: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return Group{}, ErrNotFound
	}
	updated, err := r.Get(ctx, g.ID)
	if err != nil {
		return Group{}, err
	}
	return *updated, nil
}

// Delete removes a group; membership rows cascade.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM groups WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("groups: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ReplaceMembers swaps the group's user set in one transaction.
func (r *Repository) ReplaceMembers(ctx context.Context, groupID int64, userIDs []int64, actorID *int64) error {
	return r.replace(ctx, "group_user", "user_id", groupID, userIDs, actorID)
}

// ReplaceRoles swaps the group's role set in one transaction.
func (r *Repository) ReplaceRoles(ctx context.Context, groupID int64, roleIDs []int64, actorID *int64) error {
	return r.replace(ctx, "group_role", "role_id", groupID, roleIDs, actorID)
}

func (r *Repository) replace(ctx context.Context, table, column string, groupID int64, ids []int64, actorID *int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var locked int64
		if err := tx.QueryRow(ctx, `SELECT id FROM groups WHERE id = $1 FOR UPDATE`, groupID).Scan(&locked); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM `+table+` WHERE group_id = $1`, groupID); err != nil {
			return fmt.Errorf("groups: clear %s: %w", table, err)
		}
		return replaceLinks(ctx, tx, table, column, groupID, ids, actorID)
	})
}

func replaceLinks(ctx context.Context, tx pgx.Tx, table, column string, groupID int64, ids []int64, actorID *int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO `+table+` (group_id, `+column+`, created_by, updated_by, created_at, updated_at)
		SELECT $1, unnest($2::bigint[]), $3, $3, NOW(), NOW()`, groupID, ids, actorID)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return fmt.Errorf("%w: %s", ErrUnknownReference, column)
		}
		return fmt.Errorf("groups: link %s: %w", table, err)
	}
	return nil
}

func (r *Repository) scan(s pgx.Row) (Group, error) {
	var (
		g                  Group
		name               string
		description, color *string
	)
	if err := s.Scan(&g.ID, &name, &description, &color, &g.Status, &g.IsDefaultGroup, &g.WorkflowParticipant,
		&g.InheritPermissions, &g.CreatedBy, &g.UpdatedBy, &g.CreatedAt, &g.UpdatedAt, &g.MemberIDs, &g.RoleIDs); err != nil {
		return Group{}, err
	}
	opened, failed := r.codec.Open(g, crypt.Row{"name": name, "description": description, "assigned_color": color})
	g.Name = opened.String("name")
	g.Description = opened.NullString("description")
	g.AssignedColor = opened.NullString("assigned_color")
	g.Undecrypted = failed
	return g, nil
}

func row(g Group) crypt.Row {
	return crypt.Row{
		"name":           g.Name,
		"description":    g.Description,
		"assigned_color": g.AssignedColor,
	}
}
