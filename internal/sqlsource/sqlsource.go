// Package sqlsource reads whole tables from a relational database into
// string tables.
package sqlsource

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"

	"github.com/dvloznov/audible-etl/internal/table"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// driverNames maps config driver names to database/sql registrations.
var driverNames = map[string]string{
	"mysql":    "mysql",
	"postgres": "postgres",
	"sqlite":   "sqlite",
}

// Open connects to the database and verifies the connection with a ping.
func Open(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	name, ok := driverNames[driver]
	if !ok {
		return nil, fmt.Errorf("Open: unsupported driver %q", driver)
	}

	db, err := sql.Open(name, dsn)
	if err != nil {
		return nil, fmt.Errorf("Open: %s: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("Open: ping %s: %w", driver, err)
	}
	return db, nil
}

// QueryTable runs SELECT * against name and returns every column as a nullable string.
func QueryTable(ctx context.Context, db *sql.DB, name string) (*table.Table, error) {
	if !identPattern.MatchString(name) {
		return nil, fmt.Errorf("QueryTable: invalid table name %q", name)
	}

	rows, err := db.QueryContext(ctx, "SELECT * FROM "+name)
	if err != nil {
		return nil, fmt.Errorf("QueryTable %s: query: %w", name, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("QueryTable %s: columns: %w", name, err)
	}

	t := table.New(cols...)
	cells := make([]sql.NullString, len(cols))
	dest := make([]any, len(cols))
	for i := range cells {
		dest[i] = &cells[i]
	}

	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("QueryTable %s: scan: %w", name, err)
		}
		row := make([]table.Value, len(cols))
		for i, c := range cells {
			if c.Valid {
				row[i] = table.String(c.String)
			}
		}
		t.Rows = append(t.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("QueryTable %s: iterate: %w", name, err)
	}

	return t, nil
}
