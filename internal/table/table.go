package table

import (
	"fmt"
	"strings"
)

// Value is a nullable cell. A zero Value is null.
type Value struct {
	Str   string
	Valid bool
}

// String returns a non-null Value.
func String(s string) Value {
	return Value{Str: s, Valid: true}
}

// Null returns a null Value.
func Null() Value {
	return Value{}
}

// Table is a column-named, row-oriented set of nullable string cells.
// Every row has exactly len(Columns) cells.
type Table struct {
	Columns []string
	Rows    [][]Value
}

// New creates an empty table with the given columns.
func New(columns ...string) *Table {
	cols := make([]string, len(columns))
	copy(cols, columns)
	return &Table{Columns: cols}
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// Index returns the position of col, or -1.
func (t *Table) Index(col string) int {
	for i, c := range t.Columns {
		if c == col {
			return i
		}
	}
	return -1
}

// Has reports whether the table has a column named col.
func (t *Table) Has(col string) bool {
	return t.Index(col) >= 0
}

// Append adds a row. The row length must match the column count.
func (t *Table) Append(row ...Value) error {
	if len(row) != len(t.Columns) {
		return fmt.Errorf("Append: row has %d cells, table has %d columns", len(row), len(t.Columns))
	}
	r := make([]Value, len(row))
	copy(r, row)
	t.Rows = append(t.Rows, r)
	return nil
}

// Column returns a copy of the values of col.
func (t *Table) Column(col string) ([]Value, error) {
	idx := t.Index(col)
	if idx < 0 {
		return nil, fmt.Errorf("Column: unknown column %q", col)
	}
	out := make([]Value, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row[idx]
	}
	return out, nil
}

// Get returns the cell of row i in column col.
func (t *Table) Get(i int, col string) (Value, error) {
	idx := t.Index(col)
	if idx < 0 {
		return Value{}, fmt.Errorf("Get: unknown column %q", col)
	}
	if i < 0 || i >= len(t.Rows) {
		return Value{}, fmt.Errorf("Get: row %d out of range", i)
	}
	return t.Rows[i][idx], nil
}

// SetColumn replaces the values of col, appending the column when it does not exist.
func (t *Table) SetColumn(col string, values []Value) error {
	if len(values) != len(t.Rows) {
		return fmt.Errorf("SetColumn %q: got %d values for %d rows", col, len(values), len(t.Rows))
	}
	idx := t.Index(col)
	if idx < 0 {
		t.Columns = append(t.Columns, col)
		for i := range t.Rows {
			t.Rows[i] = append(t.Rows[i], values[i])
		}
		return nil
	}
	for i := range t.Rows {
		t.Rows[i][idx] = values[i]
	}
	return nil
}

// MapColumn computes col from each row. The first error aborts the whole operation
// and is reported with its 0-based row number.
func (t *Table) MapColumn(col string, fn func(row int, get func(string) Value) (Value, error)) error {
	values := make([]Value, len(t.Rows))
	for i, row := range t.Rows {
		get := func(name string) Value {
			if idx := t.Index(name); idx >= 0 {
				return row[idx]
			}
			return Value{}
		}
		v, err := fn(i, get)
		if err != nil {
			return fmt.Errorf("MapColumn %q: row %d: %w", col, i, err)
		}
		values[i] = v
	}
	return t.SetColumn(col, values)
}

// Drop removes the named columns. Dropping a column that does not exist is an error
// and leaves the table unchanged.
func (t *Table) Drop(cols ...string) error {
	drop := make(map[int]bool, len(cols))
	var missing []string
	for _, c := range cols {
		idx := t.Index(c)
		if idx < 0 {
			missing = append(missing, c)
			continue
		}
		drop[idx] = true
	}
	if len(missing) > 0 {
		return fmt.Errorf("Drop: columns not found: %s", strings.Join(missing, ", "))
	}

	keep := make([]int, 0, len(t.Columns)-len(drop))
	for i := range t.Columns {
		if !drop[i] {
			keep = append(keep, i)
		}
	}

	cols2 := make([]string, len(keep))
	for j, i := range keep {
		cols2[j] = t.Columns[i]
	}
	for r, row := range t.Rows {
		nr := make([]Value, len(keep))
		for j, i := range keep {
			nr[j] = row[i]
		}
		t.Rows[r] = nr
	}
	t.Columns = cols2
	return nil
}
