// Package transformer holds the pooled positional Row shared by the CSV
// parser and the typed loaders, so large telemetry exports (millions of
// channel readings per race) do not allocate one slice per line.
package transformer

import "sync"

// Row is a pooled positional row aligned to the column list the parser was
// asked for. A nil element means the cell was empty or the column is absent.
//
// Ownership contract:
//   - Exactly one goroutine owns a Row at a time; sending it on a channel
//     transfers ownership.
//   - The final consumer calls Free() once it no longer reads r.V.
//   - On ctx-cancellation paths use Drop() instead: a canceled producer may
//     still be unwinding and must not get the same Row back from the pool
//     while a consumer is reading it.
type Row struct {
	V    []any
	Line int // 1-based physical CSV record number, header included
}

var rowPool sync.Pool

// GetRow returns a Row with len(V) == colCount and every element nil.
func GetRow(colCount int) *Row {
	if v := rowPool.Get(); v != nil {
		r := v.(*Row)
		if cap(r.V) < colCount {
			r.V = make([]any, colCount)
		}
		r.V = r.V[:colCount]
		for i := range r.V {
			r.V[i] = nil
		}
		r.Line = 0
		return r
	}
	return &Row{V: make([]any, colCount)}
}

// String returns V[i] as a string, or "" when the cell is nil or out of range.
func (r *Row) String(i int) string {
	if i < 0 || i >= len(r.V) {
		return ""
	}
	s, _ := r.V[i].(string)
	return s
}

// Free returns the Row to the pool.
func (r *Row) Free() {
	rowPool.Put(r)
}

// Drop discards the Row without re-pooling it.
func (r *Row) Drop() {
	r.V = nil
	r.Line = 0
}
