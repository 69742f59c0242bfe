package records

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
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

type recordRepoPG struct{ pool *pgxpool.Pool }

func NewRecordRepoPG(pool *pgxpool.Pool) Repository {
	return &recordRepoPG{pool: pool}
}

func (r *recordRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const recordCols = `id, user_id, patient_name, patient_id, raw_text, diagnosis,
	medications, age, sex, blood_pressure, weight, height, temperature,
	record_date, image_url, doctor_name, created_at, updated_at`

func (r *recordRepoPG) scanRow(row pgx.Row) (*Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.UserID, &rec.PatientName, &rec.PatientID, &rec.RawText, &rec.Diagnosis,
		&rec.Medications, &rec.Age, &rec.Sex, &rec.BloodPressure, &rec.Weight, &rec.Height, &rec.Temperature,
		&rec.RecordDate, &rec.ImageURL, &rec.DoctorName, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &rec, err
}

func (r *recordRepoPG) Create(ctx context.Context, rec *Record) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	// imported rows keep their original creation time
	var createdAt *time.Time
	if !rec.CreatedAt.IsZero() {
		createdAt = &rec.CreatedAt
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO medical_records (id, user_id, patient_name, patient_id, raw_text, diagnosis,
			medications, age, sex, blood_pressure, weight, height, temperature,
			record_date, image_url, doctor_name, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,
			COALESCE($17::timestamptz, NOW()), COALESCE($17::timestamptz, NOW()))
		RETURNING created_at, updated_at`,
		rec.ID, rec.UserID, rec.PatientName, rec.PatientID, rec.RawText, rec.Diagnosis,
		rec.Medications, rec.Age, rec.Sex, rec.BloodPressure, rec.Weight, rec.Height, rec.Temperature,
		rec.RecordDate, rec.ImageURL, rec.DoctorName, createdAt).Scan(&rec.CreatedAt, &rec.UpdatedAt)
}

func (r *recordRepoPG) GetByID(ctx context.Context, owner, id uuid.UUID) (*Record, error) {
	return r.scanRow(r.conn(ctx).QueryRow(ctx,
		`SELECT `+recordCols+` FROM medical_records WHERE id = $1 AND user_id = $2`, id, owner))
}

func (r *recordRepoPG) Update(ctx context.Context, owner, id uuid.UUID, ch Changes) (*Record, error) {
	cols := ch.Columns()
	if len(cols) == 0 {
		return nil, ErrNoFields
	}

	sets := make([]string, 0, len(cols)+1)
	args := make([]interface{}, 0, len(cols)+2)
	for i, col := range cols {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, i+1))
		args = append(args, ch[col])
	}
	sets = append(sets, "updated_at = NOW()")
	args = append(args, id, owner)

	query := fmt.Sprintf(`UPDATE medical_records SET %s WHERE id = $%d AND user_id = $%d RETURNING `+recordCols,
		strings.Join(sets, ", "), len(cols)+1, len(cols)+2)
	return r.scanRow(r.conn(ctx).QueryRow(ctx, query, args...))
}

func (r *recordRepoPG) Delete(ctx context.Context, owner, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM medical_records WHERE id = $1 AND user_id = $2`, id, owner)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *recordRepoPG) List(ctx context.Context, owner uuid.UUID, q Query) (*Page, error) {
	where := `WHERE user_id = $1`
	args := []interface{}{owner}
	if s := strings.TrimSpace(q.Search); s != "" {
		where += ` AND (patient_name ILIKE $2 OR raw_text ILIKE $2)`
		args = append(args, "%"+escapeLike(s)+"%")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM medical_records `+where, args...).Scan(&total); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT `+recordCols+` FROM medical_records `+where+
		` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, q.Limit, q.Offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	page := &Page{Total: total}
	for rows.Next() {
		rec, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		page.Records = append(page.Records, rec)
	}
	return page, rows.Err()
}

func (r *recordRepoPG) Stats(ctx context.Context, owner uuid.UUID) (*Stats, error) {
	st := &Stats{Diagnoses: []DiagnosisCount{}}
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(DISTINCT patient_name) FROM medical_records WHERE user_id = $1`, owner).Scan(&st.TotalPatients); err != nil {
		return nil, err
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT diagnosis, COUNT(*) AS cnt FROM medical_records
		WHERE user_id = $1 AND diagnosis IS NOT NULL AND TRIM(diagnosis) <> ''
		GROUP BY diagnosis ORDER BY cnt DESC, diagnosis`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var dc DiagnosisCount
		if err := rows.Scan(&dc.Diagnosis, &dc.Count); err != nil {
			return nil, err
		}
		st.Diagnoses = append(st.Diagnoses, dc)
	}
	return st, rows.Err()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
