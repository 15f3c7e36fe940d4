package storage

import (
	"fmt"
	"strings"
)

// Logical column types. Each backend maps them to its own DDL type.
const (
	TypeText      = "text"
	TypeFloat     = "float"
	TypeBigInt    = "bigint"
	TypeTimestamp = "timestamp"
)

// TableSpec describes a table created by EnsureTable.
type TableSpec struct {
	Name    string
	Columns []ColumnSpec
	// Unique, when set, becomes a UNIQUE constraint and is the natural
	// dedupe key for InsertRows.
	Unique []string
}

// ColumnSpec is one column of a TableSpec.
type ColumnSpec struct {
	Name     string
	Type     string
	Nullable bool
}

// Validate checks names and logical types.
func (t TableSpec) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("storage: table name is empty")
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("storage: table %s has no columns", t.Name)
	}
	seen := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("storage: table %s has an unnamed column", t.Name)
		}
		if seen[c.Name] {
			return fmt.Errorf("storage: table %s: duplicate column %s", t.Name, c.Name)
		}
		seen[c.Name] = true
		switch c.Type {
		case TypeText, TypeFloat, TypeBigInt, TypeTimestamp:
		default:
			return fmt.Errorf("storage: table %s column %s: unknown type %q", t.Name, c.Name, c.Type)
		}
	}
	for _, u := range t.Unique {
		if !seen[u] {
			return fmt.Errorf("storage: table %s: unique column %s is not defined", t.Name, u)
		}
	}
	return nil
}

// ColumnNames returns the column names in order.
func (t TableSpec) ColumnNames() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}
