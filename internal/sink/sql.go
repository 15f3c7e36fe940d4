package sink

import (
	"context"
	"fmt"
	"sync"

	"laptel/internal/storage"
	"laptel/internal/telemetry"
	"laptel/internal/transformer/builtin"
)

// Extra columns the SQL sink adds in front of telemetry.Columns.
const (
	ColRunID   = "run_id"
	ColTrack   = "track"
	ColRace    = "race"
	ColCar     = "car"
	ColRowHash = "row_hash"
)

// rowHash covers the unit and the record, not the run id, so re-running a
// unit produces the same keys.
var rowHash = builtin.Hash{Fields: append([]string{ColTrack, ColRace, ColCar}, telemetry.Columns...)}

// TableSpec is the joined-record table created by the SQL sink.
func TableSpec(name string) storage.TableSpec {
	cols := []storage.ColumnSpec{
		{Name: ColRunID, Type: storage.TypeText},
		{Name: ColTrack, Type: storage.TypeText},
		{Name: ColRace, Type: storage.TypeText},
		{Name: ColCar, Type: storage.TypeText},
		{Name: "telemetry_name", Type: storage.TypeText},
		{Name: "telemetry_value", Type: storage.TypeFloat, Nullable: true},
		{Name: "vehicle_id", Type: storage.TypeText},
		{Name: "meta_time", Type: storage.TypeTimestamp},
		{Name: "chassis", Type: storage.TypeText},
		{Name: "lap", Type: storage.TypeBigInt},
		{Name: "lap_vehicle_id", Type: storage.TypeText},
		{Name: "meta_time_start", Type: storage.TypeTimestamp},
		{Name: "meta_time_end", Type: storage.TypeTimestamp, Nullable: true},
		{Name: "telemetry_value_raw", Type: storage.TypeText, Nullable: true},
		{Name: ColRowHash, Type: storage.TypeText},
	}
	return storage.TableSpec{Name: name, Columns: cols, Unique: []string{ColRowHash}}
}

// SQLWriter appends records to Table through Repo. The table is created on
// the first Write.
type SQLWriter struct {
	Repo  storage.Repository
	Table string
	RunID string

	once      sync.Once
	ensureErr error
}

func (w *SQLWriter) Format() string { return FormatSQL }

func (w *SQLWriter) ensure(ctx context.Context) error {
	w.once.Do(func() {
		spec := TableSpec(w.Table)
		if err := spec.Validate(); err != nil {
			w.ensureErr = err
			return
		}
		w.ensureErr = w.Repo.EnsureTable(ctx, spec)
	})
	return w.ensureErr
}

func (w *SQLWriter) Write(ctx context.Context, u Unit, recs []telemetry.JoinedRecord) (int64, error) {
	if err := w.ensure(ctx); err != nil {
		return 0, fmt.Errorf("ensure table %s: %w", w.Table, err)
	}
	if len(recs) == 0 {
		return 0, nil
	}
	columns, rows := SQLRows(u, w.RunID, recs)
	n, err := w.Repo.InsertRows(ctx, w.Table, columns, rows, []string{ColRowHash})
	if err != nil {
		return n, fmt.Errorf("insert %s: %w", w.Table, err)
	}
	return n, nil
}

// SQLRows lays recs out in TableSpec column order.
func SQLRows(u Unit, runID string, recs []telemetry.JoinedRecord) ([]string, [][]any) {
	columns := TableSpec("").ColumnNames()
	hashCols := append([]string{ColTrack, ColRace, ColCar}, telemetry.Columns...)

	rows := make([][]any, len(recs))
	for i, r := range recs {
		vals := append([]any{u.Track, u.Race, u.Car}, r.Values()...)
		row := make([]any, 0, len(columns))
		row = append(row, runID)
		row = append(row, vals...)
		row = append(row, rowHash.Sum(hashCols, vals))
		rows[i] = row
	}
	return columns, rows
}
