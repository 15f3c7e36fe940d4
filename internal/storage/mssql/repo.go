package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"laptel/internal/storage"
)

// maxParams stays under SQL Server's 2100 parameter limit.
const maxParams = 2000

func init() {
	storage.Register("mssql", New)
}

// dbConn is the subset of *sql.DB the repo uses.
type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	Close() error
}

// Repo implements storage.Repository for Microsoft SQL Server.
//
// SQL Server has no INSERT ... ON CONFLICT; dedupe inserts use
// INSERT ... SELECT ... WHERE NOT EXISTS, and duplicates within a batch are
// removed in memory first because NOT EXISTS does not see sibling rows of
// the same VALUES list.
type Repo struct {
	db dbConn
}

// New opens cfg.DSN with the "sqlserver" driver.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	raw, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
	raw.SetMaxOpenConns(16)
	raw.SetMaxIdleConns(16)

	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return &Repo{db: raw}, nil
}

func (r *Repo) Close() {
	if r == nil || r.db == nil {
		return
	}
	_ = r.db.Close()
}

// EnsureTable creates the table when OBJECT_ID reports it missing.
func (r *Repo) EnsureTable(ctx context.Context, spec storage.TableSpec) error {
	q, err := buildCreateSQL(spec)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("mssql: create table %s: %w", spec.Name, err)
	}
	return nil
}

// InsertRows inserts rows in parameter-limited chunks.
func (r *Repo) InsertRows(ctx context.Context, table string, columns []string, rows [][]any, dedupeColumns []string) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(dedupeColumns) > 0 {
		var err error
		if rows, err = storage.DedupeRows(rows, columns, dedupeColumns); err != nil {
			return 0, err
		}
	}

	var total int64
	for _, part := range storage.Chunks(rows, len(columns), maxParams) {
		var (
			q    string
			args []any
		)
		if len(dedupeColumns) > 0 {
			q, args = buildInsertNotExistsSQL(table, columns, part, dedupeColumns)
		} else {
			q, args = buildBulkInsertSQL(table, columns, part)
		}
		res, err := r.db.ExecContext(ctx, q, args...)
		if err != nil {
			return total, fmt.Errorf("mssql: insert %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

// mssqlIdent returns a bracket-quoted identifier, escaping ']' as ']]'.
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// mssqlTableIdent quotes schema-qualified names: "dbo.laps" -> [dbo].[laps].
func mssqlTableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = mssqlIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}

func columnType(t string) string {
	switch t {
	case storage.TypeFloat:
		return "FLOAT"
	case storage.TypeBigInt:
		return "BIGINT"
	case storage.TypeTimestamp:
		return "DATETIME2(6)"
	default:
		// bounded so the column can take part in a unique index
		return "NVARCHAR(400)"
	}
}

func buildCreateSQL(t storage.TableSpec) (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}
	parts := make([]string, 0, len(t.Columns)+1)
	for _, c := range t.Columns {
		col := mssqlIdent(c.Name) + " " + columnType(c.Type)
		if c.Nullable {
			col += " NULL"
		} else {
			col += " NOT NULL"
		}
		parts = append(parts, col)
	}
	if len(t.Unique) > 0 {
		cols := make([]string, len(t.Unique))
		for i, c := range t.Unique {
			cols[i] = mssqlIdent(c)
		}
		parts = append(parts, fmt.Sprintf("UNIQUE (%s)", strings.Join(cols, ", ")))
	}

	name := strings.ReplaceAll(t.Name, "'", "''")
	return fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NULL\nCREATE TABLE %s (\n  %s\n);",
		name, mssqlTableIdent(t.Name), strings.Join(parts, ",\n  ")), nil
}

func writeColumnList(b *strings.Builder, prefix string, columns []string) {
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(prefix)
		b.WriteString(mssqlIdent(c))
	}
}

func writeValues(b *strings.Builder, columns []string, rows [][]any) []any {
	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(b, "@p%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}
	return args
}

// buildBulkInsertSQL builds a single INSERT ... VALUES statement.
func buildBulkInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" (")
	writeColumnList(&b, "", columns)
	b.WriteString(") VALUES ")
	args := writeValues(&b, columns, rows)
	return b.String(), args
}

// buildInsertNotExistsSQL materializes rows as derived table v and inserts
// only those whose dedupe key is not yet in the target.
func buildInsertNotExistsSQL(table string, columns []string, rows [][]any, dedupeColumns []string) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" (")
	writeColumnList(&b, "", columns)
	b.WriteString(") SELECT ")
	writeColumnList(&b, "v.", columns)
	b.WriteString(" FROM (VALUES ")
	args := writeValues(&b, columns, rows)
	b.WriteString(") AS v(")
	writeColumnList(&b, "", columns)
	b.WriteString(") WHERE NOT EXISTS (SELECT 1 FROM ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" t WHERE ")
	for i, dc := range dedupeColumns {
		if i > 0 {
			b.WriteString(" AND ")
		}
		b.WriteString("t.")
		b.WriteString(mssqlIdent(dc))
		b.WriteString(" = v.")
		b.WriteString(mssqlIdent(dc))
	}
	b.WriteString(")")
	return b.String(), args
}
