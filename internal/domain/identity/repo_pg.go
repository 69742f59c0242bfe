package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meddigitize/meddigitize/internal/platform/auth"
	"github.com/meddigitize/meddigitize/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func connFor(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

// uniqueViolation maps a unique-constraint error to ErrDuplicateUsername.
func uniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateUsername
	}
	return err
}

// -- User Repository --

type userRepoPG struct{ pool *pgxpool.Pool }

func NewUserRepoPG(pool *pgxpool.Pool) UserRepository {
	return &userRepoPG{pool: pool}
}

func (r *userRepoPG) conn(ctx context.Context) queryable {
	return connFor(ctx, r.pool)
}

const userCols = `id, username, name, password_hash, role, created_at`

func (r *userRepoPG) scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.Name, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *userRepoPG) Create(ctx context.Context, u *User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO users (id, username, name, password_hash, role)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		u.ID, u.Username, u.Name, u.PasswordHash, u.Role,
	).Scan(&u.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", uniqueViolation(err))
	}
	return nil
}

func (r *userRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return r.scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id))
}

func (r *userRepoPG) GetByUsername(ctx context.Context, username string) (*User, error) {
	return r.scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE username = $1`, username))
}

func (r *userRepoPG) Update(ctx context.Context, u *User) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE users SET username = $2, name = $3, role = $4 WHERE id = $1`,
		u.ID, u.Username, u.Name, u.Role)
	if err != nil {
		return fmt.Errorf("update user: %w", uniqueViolation(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *userRepoPG) SetPassword(ctx context.Context, id uuid.UUID, hash string) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE users SET password_hash = $2 WHERE id = $1`, id, hash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *userRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	return err
}

// -- Doctor Repository --

type doctorRepoPG struct{ pool *pgxpool.Pool }

func NewDoctorRepoPG(pool *pgxpool.Pool) DoctorRepository {
	return &doctorRepoPG{pool: pool}
}

func (r *doctorRepoPG) conn(ctx context.Context) queryable {
	return connFor(ctx, r.pool)
}

func (r *doctorRepoPG) Create(ctx context.Context, d *Doctor) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO doctors (id, username, name, specialization, role)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		d.ID, d.Username, d.Name, d.Specialization, d.Role,
	).Scan(&d.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert doctor: %w", uniqueViolation(err))
	}
	return nil
}

func (r *doctorRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	var d Doctor
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, username, name, specialization, role, created_at
		FROM doctors WHERE id = $1`, id,
	).Scan(&d.ID, &d.Username, &d.Name, &d.Specialization, &d.Role, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDoctorNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *doctorRepoPG) ListAccounts(ctx context.Context) ([]*DoctorListing, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT u.id, u.username, u.name, u.role, d.specialization,
		       COALESCE(d.created_at, u.created_at) AS created_at
		FROM users u
		LEFT JOIN doctors d ON d.username = u.username
		WHERE u.role IN ($1, $2) AND u.username <> $3
		ORDER BY COALESCE(d.created_at, u.created_at) DESC`,
		auth.RoleDoctor, auth.RoleAdmin, auth.BuiltinAdmin)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*DoctorListing{}
	for rows.Next() {
		var l DoctorListing
		if err := rows.Scan(&l.ID, &l.Username, &l.DoctorName, &l.Role, &l.Specialization, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}

func (r *doctorRepoPG) UpdateByUsername(ctx context.Context, username string, d *Doctor) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE doctors SET username = $2, name = $3, specialization = $4, role = $5
		WHERE username = $1`,
		username, d.Username, d.Name, d.Specialization, d.Role)
	if err != nil {
		return fmt.Errorf("update doctor: %w", uniqueViolation(err))
	}
	return nil
}

func (r *doctorRepoPG) DeleteByUsername(ctx context.Context, username string) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM doctors WHERE username = $1`, username)
	return err
}
