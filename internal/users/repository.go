package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-dms/odyssey-dms/internal/crypt"
	"github.com/odyssey-dms/odyssey-dms/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool  *pgxpool.Pool
	codec *crypt.Codec
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool, codec *crypt.Codec) *Repository {
	return &Repository{pool: pool, codec: codec}
}

const userColumns = `id, user_id, first_name, last_name, email, email_hash, password_hash, assigned_color, groups,
	role_id, is_active, created_by, last_updated_by, created_at, updated_at`

// List returns all users ordered by id.
func (r *Repository) List(ctx context.Context) ([]User, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []User
	for rows.Next() {
		u, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// Get fetches a user by id.
func (r *Repository) Get(ctx context.Context, id int64) (*User, error) {
	return r.one(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// FindByEmailHash fetches a user by blind index.
func (r *Repository) FindByEmailHash(ctx context.Context, hash string) (*User, error) {
	return r.one(ctx, `SELECT `+userColumns+` FROM users WHERE email_hash = $1`, hash)
}

// Access returns the role and active flag used to build a principal.
func (r *Repository) Access(ctx context.Context, id int64) (*int64, bool, error) {
	var (
		roleID *int64
		active bool
	)
	err := r.pool.QueryRow(ctx, `SELECT role_id, is_active FROM users WHERE id = $1`, id).Scan(&roleID, &active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, ErrNotFound
		}
		return nil, false, err
	}
	return roleID, active, nil
}

// Insert seals and stores a new user.
func (r *Repository) Insert(ctx context.Context, u User) (User, error) {
	sealed, err := r.codec.Seal(u, row(u))
	if err != nil {
		return User{}, err
	}
	err = r.pool.QueryRow(ctx, `
		INSERT INTO users (user_id, first_name, last_name, email, email_hash, password_hash, assigned_color, groups,
			role_id, is_active, created_by, last_updated_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11, NOW(), NOW())
		RETURNING id, created_at, updated_at`,
		sealed.NullString("user_id"), sealed.NullString("first_name"), sealed.NullString("last_name"),
		sealed.NullString("email"), u.EmailHash, u.PasswordHash, sealed.NullString("assigned_color"),
		sealed.NullString("groups"), u.RoleID, u.IsActive, u.CreatedBy,
	).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return User{}, mapWriteError("insert", err)
	}
	u.LastUpdatedBy = u.CreatedBy
	return u, nil
}

// Update seals and rewrites the profile columns. An empty PasswordHash keeps
// the stored one.
func (r *Repository) Update(ctx context.Context, u User) (User, error) {
	sealed, err := r.codec.Seal(u, row(u))
	if err != nil {
		return User{}, err
	}
	err = r.pool.QueryRow(ctx, `
		UPDATE users SET user_id = $2, first_name = $3, last_name = $4, email = $5, email_hash = $6,
			password_hash = COALESCE(NULLIF($7, ''), password_hash), assigned_color = $8, groups = $9,
			is_active = $10, last_updated_by = $11, updated_at = NOW()
		WHERE id = $1
		RETURNING role_id, created_by, created_at, updated_at`,
		u.ID, sealed.NullString("user_id"), sealed.NullString("first_name"), sealed.NullString("last_name"),
		sealed.NullString("email"), u.EmailHash, u.PasswordHash, sealed.NullString("assigned_color"),
		sealed.NullString("groups"), u.IsActive, u.LastUpdatedBy,
	).Scan(&u.RoleID, &u.CreatedBy, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, mapWriteError("update", err)
	}
	return u, nil
}

// SetRole assigns or clears the user's role.
func (r *Repository) SetRole(ctx context.Context, id int64, roleID *int64, actorID *int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET role_id = $2, last_updated_by = $3, updated_at = NOW() WHERE id = $1`, id, roleID, actorID)
	if err != nil {
		return mapWriteError("set role", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a user. Audit references are nulled by the schema.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("users: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) one(ctx context.Context, query string, arg any) (*User, error) {
	u, err := r.scan(r.pool.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *Repository) scan(s pgx.Row) (User, error) {
	var (
		u                     User
		userID, color, groups *string
		first, last, email    string
	)
	if err := s.Scan(&u.ID, &userID, &first, &last, &email, &u.EmailHash, &u.PasswordHash, &color, &groups,
		&u.RoleID, &u.IsActive, &u.CreatedBy, &u.LastUpdatedBy, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return User{}, err
	}
	opened, failed := r.codec.Open(u, crypt.Row{
		"user_id": userID, "first_name": first, "last_name": last, "email": email,
		"assigned_color": color, "groups": groups,
	})
	u.UserID = opened.NullString("user_id")
	u.FirstName = opened.String("first_name")
	u.LastName = opened.String("last_name")
	u.Email = opened.String("email")
	u.AssignedColor = opened.NullString("assigned_color")
	u.Groups = opened.Strings("groups")
	u.Undecrypted = failed
	return u, nil
}

func row(u User) crypt.Row {
	var groups any
	if u.Groups != nil {
		groups = u.Groups
	}
	return crypt.Row{
		"user_id":        u.UserID,
		"first_name":     u.FirstName,
		"last_name":      u.LastName,
		"email":          u.Email,
		"assigned_color": u.AssignedColor,
		"groups":         groups,
	}
}

func mapWriteError(op string, err error) error {
	switch {
	case db.IsUniqueViolation(err):
		return ErrDuplicateEmail
	case db.IsForeignKeyViolation(err):
		return ErrUnknownRole
	}
	return fmt.Errorf("users: %s: %w", op, err)
}
