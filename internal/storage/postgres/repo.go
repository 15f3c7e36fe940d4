package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"laptel/internal/storage"
)

// maxParams is the wire protocol's bind parameter limit.
const maxParams = 65535

func init() {
	storage.Register("postgres", New)
}

// pool is the subset of *pgxpool.Pool the repo uses.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Repo implements storage.Repository for Postgres.
type Repo struct {
	pool pool
}

// New creates a pgx connection pool for cfg.DSN.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	p, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return &Repo{pool: p}, nil
}

func (r *Repo) Close() { r.pool.Close() }

// EnsureTable creates the schema (when qualified) and the table.
func (r *Repo) EnsureTable(ctx context.Context, spec storage.TableSpec) error {
	schemaSQL, tableSQL, err := buildCreateSQL(spec)
	if err != nil {
		return err
	}
	if schemaSQL != "" {
		if _, err := r.pool.Exec(ctx, schemaSQL); err != nil {
			return fmt.Errorf("create schema for %s: %w", spec.Name, err)
		}
	}
	if _, err := r.pool.Exec(ctx, tableSQL); err != nil {
		return fmt.Errorf("create table %s: %w", spec.Name, err)
	}
	return nil
}

// InsertRows inserts rows in chunks inside one transaction. With
// dedupeColumns the statement ends in ON CONFLICT (...) DO NOTHING, which
// also collapses duplicates within a batch.
func (r *Repo) InsertRows(ctx context.Context, table string, columns []string, rows [][]any, dedupeColumns []string) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var total int64
	for _, part := range storage.Chunks(rows, len(columns), maxParams) {
		q, args := buildInsertSQL(table, columns, part, dedupeColumns)
		tag, err := tx.Exec(ctx, q, args...)
		if err != nil {
			return 0, fmt.Errorf("insert %s: %w", table, err)
		}
		total += tag.RowsAffected()
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return total, nil
}

func pgIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// pgTableIdent quotes a possibly schema-qualified name.
func pgTableIdent(name string) string {
	return pgx.Identifier(strings.Split(name, ".")).Sanitize()
}

func columnType(t string) string {
	switch t {
	case storage.TypeFloat:
		return "DOUBLE PRECISION"
	case storage.TypeBigInt:
		return "BIGINT"
	case storage.TypeTimestamp:
		return "TIMESTAMPTZ"
	default:
		return "TEXT"
	}
}

func buildCreateSQL(t storage.TableSpec) (schemaSQL, tableSQL string, err error) {
	if err := t.Validate(); err != nil {
		return "", "", err
	}
	if i := strings.IndexByte(t.Name, '.'); i > 0 {
		schemaSQL = fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s;", pgIdent(t.Name[:i]))
	}

	parts := make([]string, 0, len(t.Columns)+1)
	for _, c := range t.Columns {
		col := pgIdent(c.Name) + " " + columnType(c.Type)
		if !c.Nullable {
			col += " NOT NULL"
		}
		parts = append(parts, col)
	}
	if len(t.Unique) > 0 {
		cols := make([]string, len(t.Unique))
		for i, c := range t.Unique {
			cols[i] = pgIdent(c)
		}
		parts = append(parts, fmt.Sprintf("UNIQUE (%s)", strings.Join(cols, ", ")))
	}
	tableSQL = fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n);", pgTableIdent(t.Name), strings.Join(parts, ",\n  "))
	return schemaSQL, tableSQL, nil
}

// buildInsertSQL is pure so placeholder numbering and the conflict clause
// can be tested without a database.
func buildInsertSQL(table string, columns []string, rows [][]any, dedupeColumns []string) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgTableIdent(table))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
	}
	b.WriteString(") VALUES ")

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
			fmt.Fprintf(&b, "$%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}

	if len(dedupeColumns) > 0 {
		b.WriteString(" ON CONFLICT (")
		for i, c := range dedupeColumns {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(pgIdent(c))
		}
		b.WriteString(") DO NOTHING")
	}
	b.WriteString(";")
	return b.String(), args
}
