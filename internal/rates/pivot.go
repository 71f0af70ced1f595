package rates

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/dvloznov/audible-etl/internal/table"
)

const (
	// DateColumn is the column holding each row's key.
	DateColumn = "date"
	// DefaultRateColumn names the single column produced from a flat {date: rate} object.
	DefaultRateColumn = "conversion_rate"
)

// ToTable turns the endpoint's JSON object into a table with a leading date column.
//
// Three shapes are accepted:
//
//	{"conversion_rate": {"2021-01-01": 30.1}}   column-oriented
//	{"2021-01-01": {"conversion_rate": 30.1}}   date-keyed records
//	{"2021-01-01": 30.1}                        date-keyed scalars
//
// A document whose top-level keys are all dates is date-keyed; anything else is
// column-oriented. Rows are sorted by key and columns by name. Numbers keep their JSON text.
func ToTable(body []byte) (*table.Table, error) {
	var top map[string]json.RawMessage
	if err := decode(body, &top); err != nil {
		return nil, fmt.Errorf("ToTable: %w", err)
	}
	if len(top) == 0 {
		return nil, fmt.Errorf("ToTable: empty conversion rate object")
	}

	// cells[rowKey][column]
	cells := make(map[string]map[string]table.Value)
	columns := make(map[string]bool)

	put := func(rowKey, col string, raw json.RawMessage) error {
		v, err := scalar(raw)
		if err != nil {
			return fmt.Errorf("ToTable: %s/%s: %w", rowKey, col, err)
		}
		if cells[rowKey] == nil {
			cells[rowKey] = make(map[string]table.Value)
		}
		cells[rowKey][col] = v
		columns[col] = true
		return nil
	}

	if allDates(top) {
		for date, raw := range top {
			if isObject(raw) {
				var inner map[string]json.RawMessage
				if err := decode(raw, &inner); err != nil {
					return nil, fmt.Errorf("ToTable: %s: %w", date, err)
				}
				if len(inner) == 0 {
					cells[date] = make(map[string]table.Value)
				}
				for col, v := range inner {
					if err := put(date, col, v); err != nil {
						return nil, err
					}
				}
				continue
			}
			if err := put(date, DefaultRateColumn, raw); err != nil {
				return nil, err
			}
		}
	} else {
		for col, raw := range top {
			if !isObject(raw) {
				return nil, fmt.Errorf("ToTable: column %q is not an object keyed by date", col)
			}
			var inner map[string]json.RawMessage
			if err := decode(raw, &inner); err != nil {
				return nil, fmt.Errorf("ToTable: %s: %w", col, err)
			}
			columns[col] = true
			for date, v := range inner {
				if err := put(date, col, v); err != nil {
					return nil, err
				}
			}
		}
	}

	colNames := make([]string, 0, len(columns))
	for c := range columns {
		if c == DateColumn {
			return nil, fmt.Errorf("ToTable: rate field named %q collides with the key column", DateColumn)
		}
		colNames = append(colNames, c)
	}
	sort.Strings(colNames)

	keys := make([]string, 0, len(cells))
	for k := range cells {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	t := table.New(append([]string{DateColumn}, colNames...)...)
	for _, k := range keys {
		row := make([]table.Value, 0, len(colNames)+1)
		row = append(row, table.String(k))
		for _, c := range colNames {
			row = append(row, cells[k][c])
		}
		t.Rows = append(t.Rows, row)
	}

	return t, nil
}

func decode(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("unexpected data after JSON document")
	}
	return nil
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

func allDates(m map[string]json.RawMessage) bool {
	for k := range m {
		if !looksLikeDate(k) {
			return false
		}
	}
	return true
}

func looksLikeDate(s string) bool {
	for _, layout := range []string{time.DateOnly, time.DateTime, time.RFC3339} {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

// scalar converts a JSON scalar to a cell; null becomes a null cell.
func scalar(raw json.RawMessage) (table.Value, error) {
	var v any
	if err := decode(raw, &v); err != nil {
		return table.Value{}, err
	}
	switch x := v.(type) {
	case nil:
		return table.Null(), nil
	case json.Number:
		return table.String(x.String()), nil
	case string:
		return table.String(x), nil
	case bool:
		if x {
			return table.String("True"), nil
		}
		return table.String("False"), nil
	default:
		return table.Value{}, fmt.Errorf("unsupported value %s", string(raw))
	}
}
