// Package sink writes joined records for one (track, race, car) unit.
//
// File sinks write <dir>/<track>_<race>_<car>.<ext> through a temporary file
// renamed into place, so a reader never sees a partial artifact. The SQL sink
// appends to a shared table keyed by row_hash, which makes re-runs idempotent.
package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"laptel/internal/config"
	"laptel/internal/storage"
	"laptel/internal/telemetry"
)

// Formats understood by New.
const (
	FormatParquet = "parquet"
	FormatCSV     = "csv"
	FormatSQL     = "sql"
)

// Unit identifies one output dataset.
type Unit struct {
	Track string
	Race  string
	Car   string
}

// Name is the artifact base name, <track>_<race>_<car>.
func (u Unit) Name() string { return u.Track + "_" + u.Race + "_" + u.Car }

func (u Unit) String() string { return fmt.Sprintf("track=%s race=%s car=%s", u.Track, u.Race, u.Car) }

// Writer persists the records of one unit and reports how many were written.
// Implementations must be safe for concurrent calls with distinct units.
type Writer interface {
	Format() string
	Write(ctx context.Context, u Unit, recs []telemetry.JoinedRecord) (int64, error)
}

// Result is what one Writer did for a unit.
type Result struct {
	Format  string
	Written int64
}

// Set fans a unit out to several writers in order.
type Set struct {
	Writers []Writer
}

// Write calls every writer in turn and stops at the first error. Artifacts
// already written for the unit are left in place.
func (s *Set) Write(ctx context.Context, u Unit, recs []telemetry.JoinedRecord) ([]Result, error) {
	out := make([]Result, 0, len(s.Writers))
	for _, w := range s.Writers {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		n, err := w.Write(ctx, u, recs)
		if err != nil {
			return out, fmt.Errorf("sink %s: %w", w.Format(), err)
		}
		out = append(out, Result{Format: w.Format(), Written: n})
	}
	return out, nil
}

// New builds the writers selected by out.Formats. repo is required when the
// sql format is selected and is not closed by the Set.
func New(out config.Output, st config.Storage, repo storage.Repository, runID string) (*Set, error) {
	s := &Set{}
	for _, f := range out.Formats {
		switch f {
		case FormatParquet:
			s.Writers = append(s.Writers, &ParquetWriter{Dir: out.Dir, Compression: out.Compression})
		case FormatCSV:
			s.Writers = append(s.Writers, &CSVWriter{Dir: out.Dir})
		case FormatSQL:
			if repo == nil {
				return nil, fmt.Errorf("sink: sql format needs a storage repository")
			}
			s.Writers = append(s.Writers, &SQLWriter{Repo: repo, Table: st.Table, RunID: runID})
		default:
			return nil, fmt.Errorf("sink: unknown format %q", f)
		}
	}
	return s, nil
}

// writeAtomic creates path via a temp file in the same directory.
func writeAtomic(path string, fn func(f *os.File) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if err := fn(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
