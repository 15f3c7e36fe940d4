package storage

import (
	"fmt"
	"strings"
)

// IndexColumns returns column name -> position.
func IndexColumns(columns []string) map[string]int {
	m := make(map[string]int, len(columns))
	for i, c := range columns {
		m[c] = i
	}
	return m
}

// DedupeRows keeps the first row for each dedupe key, preserving order.
// Every dedupe column must be present in columns.
func DedupeRows(rows [][]any, columns, dedupeColumns []string) ([][]any, error) {
	if len(dedupeColumns) == 0 {
		return rows, nil
	}
	pos := IndexColumns(columns)
	idx := make([]int, len(dedupeColumns))
	for i, dc := range dedupeColumns {
		p, ok := pos[dc]
		if !ok {
			return nil, fmt.Errorf("storage: dedupe column %q not present in columns", dc)
		}
		idx[i] = p
	}

	seen := make(map[string]struct{}, len(rows))
	out := make([][]any, 0, len(rows))
	var b strings.Builder
	for _, r := range rows {
		b.Reset()
		for _, p := range idx {
			fmt.Fprintf(&b, "%v\x1f", r[p])
		}
		k := b.String()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r)
	}
	return out, nil
}

// Chunks splits rows so no statement binds more than maxParams parameters.
func Chunks(rows [][]any, ncols, maxParams int) [][][]any {
	per := maxParams / max(1, ncols)
	if per < 1 {
		per = 1
	}
	out := make([][][]any, 0, len(rows)/per+1)
	for start := 0; start < len(rows); start += per {
		end := min(start+per, len(rows))
		out = append(out, rows[start:end])
	}
	return out
}
