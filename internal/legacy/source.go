// Package legacy imports records from the MySQL database the service used
// before it moved to PostgreSQL.
package legacy

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
)

// Source yields raw rows one at a time. fn returning an error stops the scan.
type Source interface {
	Each(ctx context.Context, fn func(row map[string]any) error) error
}

// MySQLSource reads the legacy medical_records table. Columns differ between
// deployments, so rows are read generically.
type MySQLSource struct {
	db    *sql.DB
	table string
}

// OpenMySQL connects with a go-sql-driver DSN such as
// user:pass@tcp(host:3306)/meddigitize?parseTime=true.
func OpenMySQL(ctx context.Context, dsn string) (*MySQLSource, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	return &MySQLSource{db: db, table: "medical_records"}, nil
}

func (s *MySQLSource) Close() error {
	return s.db.Close()
}

func (s *MySQLSource) Each(ctx context.Context, fn func(row map[string]any) error) error {
	rows, err := s.db.QueryContext(ctx, "SELECT * FROM "+s.table)
	if err != nil {
		return fmt.Errorf("query %s: %w", s.table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("columns: %w", err)
	}

	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return fmt.Errorf("scan row: %w", err)
		}
		if err := fn(rowMap(cols, vals)); err != nil {
			return err
		}
	}
	return rows.Err()
}

// rowMap pairs column names with values. The driver returns text columns as
// []byte, which the normalizer would otherwise print as a byte slice.
func rowMap(cols []string, vals []any) map[string]any {
	m := make(map[string]any, len(cols))
	for i, c := range cols {
		if b, ok := vals[i].([]byte); ok {
			m[c] = string(b)
			continue
		}
		m[c] = vals[i]
	}
	return m
}
