package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meddigitize/meddigitize/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type auditRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &auditRepoPG{pool: pool}
}

// conn prefers the caller's transaction so audit rows commit or roll back
// with the change they describe.
func (r *auditRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *auditRepoPG) Insert(ctx context.Context, e *Entry) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO audit_logs (user_id, action, details)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`,
		e.UserID, e.Action, e.Details,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

func (r *auditRepoPG) List(ctx context.Context, q Query) ([]*Entry, error) {
	var where []string
	var args []interface{}
	if q.Action != "" {
		args = append(args, q.Action)
		where = append(where, fmt.Sprintf("a.action = $%d", len(args)))
	}
	if q.UserID != nil {
		args = append(args, *q.UserID)
		where = append(where, fmt.Sprintf("a.user_id = $%d", len(args)))
	}
	sql := `
		SELECT a.id, a.user_id, a.action, a.details, a.created_at, u.name, u.username
		FROM audit_logs a
		LEFT JOIN users u ON u.id = a.user_id`
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, q.Limit)
	sql += fmt.Sprintf(" ORDER BY a.created_at DESC, a.id DESC LIMIT $%d", len(args))

	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Action, &e.Details, &e.CreatedAt,
			&e.Profiles.DoctorName, &e.Profiles.Username); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (r *auditRepoPG) Delete(ctx context.Context, id int64) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM audit_logs WHERE id = $1`, id)
	return err
}
