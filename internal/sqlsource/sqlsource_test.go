package sqlsource

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "source.db")
	db, err := Open(context.Background(), "sqlite", dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestQueryTable(t *testing.T) {
	db := openTestDB(t)

	stmts := []string{
		`CREATE TABLE audible_data (Book_ID INTEGER, Title TEXT, Author TEXT)`,
		`INSERT INTO audible_data VALUES (1, 'X', NULL)`,
		`INSERT INTO audible_data VALUES (2, 'Y', 'Z')`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			t.Fatalf("exec %q: %v", s, err)
		}
	}

	tbl, err := QueryTable(context.Background(), db, "audible_data")
	if err != nil {
		t.Fatalf("QueryTable: %v", err)
	}

	if tbl.Len() != 2 {
		t.Fatalf("expected 2 rows, got %d", tbl.Len())
	}
	if got := tbl.Columns; len(got) != 3 || got[0] != "Book_ID" || got[1] != "Title" {
		t.Errorf("unexpected columns %v", got)
	}

	author, _ := tbl.Get(0, "Author")
	if author.Valid {
		t.Errorf("expected NULL author, got %q", author.Str)
	}
	id, _ := tbl.Get(1, "Book_ID")
	if id.Str != "2" {
		t.Errorf("expected Book_ID 2, got %q", id.Str)
	}
}

func TestQueryTable_RejectsInjection(t *testing.T) {
	db := openTestDB(t)

	for _, name := range []string{"", "a b", "t; DROP TABLE x", "1abc"} {
		if _, err := QueryTable(context.Background(), db, name); err == nil {
			t.Errorf("expected error for table name %q", name)
		}
	}
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	if _, err := Open(context.Background(), "oracle", "x"); err == nil {
		t.Error("expected error for unsupported driver")
	}
}
