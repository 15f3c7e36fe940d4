// Package builtin contains small, reusable row helpers.
package builtin

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Hash computes a deterministic SHA-256 over selected positional fields.
//
// It produces a stable, always-non-null dedupe key for joined rows written to
// SQL sinks, avoiding UNIQUE/ON CONFLICT surprises when some natural-key
// columns are NULL (Postgres treats NULLs as distinct for UNIQUE constraints).
//
// Canonicalization rules:
//   - Fields are concatenated in the given order using Separator.
//   - Missing or nil values are encoded as a single NUL byte (0x00) so missing
//     differs from empty-string.
//   - Common types are converted without fmt.Sprint.
//   - time.Time values are encoded as RFC3339Nano in UTC.
//   - Output is a lowercase hex string (length 64).
type Hash struct {
	// Fields is the ordered list of column names to hash. Empty means all columns.
	Fields []string

	// IncludeFieldNames includes "field=value" in the canonical form.
	IncludeFieldNames bool

	// Separator defaults to ASCII Unit Separator (0x1f).
	Separator string

	// TrimSpace trims string values before hashing.
	TrimSpace bool
}

// Sum hashes values, which are positioned according to columns.
func (h Hash) Sum(columns []string, values []any) string {
	sep := h.Separator
	if sep == "" {
		sep = "\x1f"
	}

	fields := h.Fields
	if len(fields) == 0 {
		fields = columns
	}

	var b strings.Builder
	b.Grow(len(fields) * 20)

	for i, f := range fields {
		if i > 0 {
			b.WriteString(sep)
		}
		if h.IncludeFieldNames {
			b.WriteString(f)
			b.WriteByte('=')
		}

		idx := indexOf(columns, f)
		if idx < 0 || idx >= len(values) || values[idx] == nil {
			b.WriteByte('\x00')
			continue
		}
		appendCanonicalValue(&b, values[idx], h.TrimSpace)
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func indexOf(columns []string, name string) int {
	for i, c := range columns {
		if c == name {
			return i
		}
	}
	return -1
}

// appendCanonicalValue appends a stable, canonical representation of v.
func appendCanonicalValue(b *strings.Builder, v any, trimSpace bool) {
	switch t := v.(type) {
	case nil:
		b.WriteByte('\x00')

	case string:
		if trimSpace && HasEdgeSpace(t) {
			b.WriteString(strings.TrimSpace(t))
		} else {
			b.WriteString(t)
		}

	case []byte:
		s := string(t)
		if trimSpace && HasEdgeSpace(s) {
			s = strings.TrimSpace(s)
		}
		b.WriteString(s)

	case bool:
		b.WriteString(strconv.FormatBool(t))

	case int:
		b.WriteString(strconv.Itoa(t))
	case int32:
		b.WriteString(strconv.FormatInt(int64(t), 10))
	case int64:
		b.WriteString(strconv.FormatInt(t, 10))

	case float32:
		b.WriteString(strconv.FormatFloat(float64(t), 'g', -1, 32))
	case float64:
		b.WriteString(strconv.FormatFloat(t, 'g', -1, 64))

	case time.Time:
		tt := t
		if !tt.IsZero() {
			tt = tt.UTC()
		}
		b.WriteString(tt.Format(time.RFC3339Nano))

	default:
		b.WriteString(fmt.Sprint(t))
	}
}

// HasEdgeSpace reports whether s starts or ends with ASCII whitespace. It
// lets hot paths skip strings.TrimSpace for the common already-clean case.
func HasEdgeSpace(s string) bool {
	if s == "" {
		return false
	}
	return isSpace(s[0]) || isSpace(s[len(s)-1])
}

func isSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	}
	return false
}
