package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ReadCSV parses a comma-delimited stream with a header row. Empty fields become null.
func ReadCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = false

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("ReadCSV: missing header row")
	}
	if err != nil {
		return nil, fmt.Errorf("ReadCSV: reading header: %w", err)
	}

	t := New(header...)
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("ReadCSV: line %d: %w", line, err)
		}
		row := make([]Value, len(rec))
		for i, f := range rec {
			if f != "" {
				row[i] = String(f)
			}
		}
		t.Rows = append(t.Rows, row)
	}

	return t, nil
}

// WriteCSV writes a header row followed by every row. Nulls are written as empty fields.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return fmt.Errorf("WriteCSV: header: %w", err)
	}
	rec := make([]string, len(t.Columns))
	for _, row := range t.Rows {
		for i, v := range row {
			if v.Valid {
				rec[i] = v.Str
			} else {
				rec[i] = ""
			}
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("WriteCSV: row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSVFile reads a CSV file from path.
func ReadCSVFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", path, err)
	}
	defer f.Close()

	t, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// WriteCSVFile writes the table to path, creating parent directories.
func (t *Table) WriteCSVFile(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %q: %w", path, err)
	}
	if err := t.WriteCSV(f); err != nil {
		f.Close()
		return fmt.Errorf("%s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %q: %w", path, err)
	}
	return nil
}
