package table

import "fmt"

const (
	leftSuffix  = "_x"
	rightSuffix = "_y"
)

// LeftJoin joins right onto left where left[leftKey] equals right[rightKey].
//
// Every left row is kept. A left row produces one output row per matching right row,
// or a single row with null right-hand cells when nothing matches. Null keys never
// match, not even other null keys; pandas merge would pair them, this follows SQL.
// When both keys share a name the key column appears once; any other column present on
// both sides is suffixed with _x (left) and _y (right).
func LeftJoin(left, right *Table, leftKey, rightKey string) (*Table, error) {
	li := left.Index(leftKey)
	if li < 0 {
		return nil, fmt.Errorf("LeftJoin: left table has no column %q", leftKey)
	}
	ri := right.Index(rightKey)
	if ri < 0 {
		return nil, fmt.Errorf("LeftJoin: right table has no column %q", rightKey)
	}
	sameKey := leftKey == rightKey

	// right columns carried into the output
	var rightCols []int
	for i := range right.Columns {
		if sameKey && i == ri {
			continue
		}
		rightCols = append(rightCols, i)
	}

	overlap := make(map[string]bool)
	for _, i := range rightCols {
		name := right.Columns[i]
		if left.Has(name) && !(sameKey && name == leftKey) {
			overlap[name] = true
		}
	}

	out := &Table{Columns: make([]string, 0, len(left.Columns)+len(rightCols))}
	for _, c := range left.Columns {
		if overlap[c] {
			c += leftSuffix
		}
		out.Columns = append(out.Columns, c)
	}
	for _, i := range rightCols {
		c := right.Columns[i]
		if overlap[c] {
			c += rightSuffix
		}
		out.Columns = append(out.Columns, c)
	}

	index := make(map[string][]int, len(right.Rows))
	for r, row := range right.Rows {
		k := row[ri]
		if !k.Valid {
			continue
		}
		index[k.Str] = append(index[k.Str], r)
	}

	for _, lrow := range left.Rows {
		var matches []int
		if k := lrow[li]; k.Valid {
			matches = index[k.Str]
		}
		if len(matches) == 0 {
			row := make([]Value, 0, len(out.Columns))
			row = append(row, lrow...)
			for range rightCols {
				row = append(row, Null())
			}
			out.Rows = append(out.Rows, row)
			continue
		}
		for _, m := range matches {
			row := make([]Value, 0, len(out.Columns))
			row = append(row, lrow...)
			for _, i := range rightCols {
				row = append(row, right.Rows[m][i])
			}
			out.Rows = append(out.Rows, row)
		}
	}

	return out, nil
}
