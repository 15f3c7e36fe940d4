package sink

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/parquet-go/parquet-go"

	"laptel/internal/config"
	"laptel/internal/storage"
	_ "laptel/internal/storage/sqlite"
	"laptel/internal/telemetry"
)

var base = time.Date(2025, 4, 4, 18, 0, 0, 0, time.UTC)

func f64(v float64) *float64 { return &v }

func records() []telemetry.JoinedRecord {
	lap := telemetry.LapInterval{Chassis: "002-000", Lap: 1, VehicleID: "GR86-002-000", Start: base, End: base.Add(60 * time.Second)}
	return []telemetry.JoinedRecord{
		{Sample: telemetry.Sample{Name: "speed", VehicleID: "GR86-002-000", Chassis: "002-000", Raw: "80.5", Value: f64(80.5), Time: base.Add(time.Second)}, Lap: lap},
		{Sample: telemetry.Sample{Name: "gear", VehicleID: "GR86-002-000", Chassis: "002-000", Raw: "N", Time: base.Add(2 * time.Second)}, Lap: lap},
	}
}

var unit = Unit{Track: "barber", Race: "R1", Car: "002-000"}

func TestUnitName(t *testing.T) {
	if unit.Name() != "barber_R1_002-000" {
		t.Fatalf("Name=%q", unit.Name())
	}
}

func TestParquetWriter_RoundTrip(t *testing.T) {
	for _, comp := range []string{"", "snappy", "zstd", "gzip", "none"} {
		t.Run("compression="+comp, func(t *testing.T) {
			w := &ParquetWriter{Dir: filepath.Join(t.TempDir(), "data"), Compression: comp}
			n, err := w.Write(context.Background(), unit, records())
			if err != nil || n != 2 {
				t.Fatalf("Write=%d,%v", n, err)
			}
			got, err := parquet.ReadFile[ParquetRow](w.Path(unit))
			if err != nil {
				t.Fatalf("ReadFile: %v", err)
			}
			want := []ParquetRow{NewParquetRow(records()[0]), NewParquetRow(records()[1])}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParquetWriter_KeepsNonNumericValue(t *testing.T) {
	w := &ParquetWriter{Dir: t.TempDir()}
	if _, err := w.Write(context.Background(), unit, records()); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := parquet.ReadFile[ParquetRow](w.Path(unit))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got[0].TelemetryValueRaw != nil {
		t.Fatalf("numeric value must not be duplicated as raw: %q", *got[0].TelemetryValueRaw)
	}
	if got[1].TelemetryValue != nil || got[1].TelemetryValueRaw == nil || *got[1].TelemetryValueRaw != "N" {
		t.Fatalf("gear row=%+v, want telemetry_value_raw=N", got[1])
	}
}

// cancelAfterFirstCheck reports cancellation from the second Err call on,
// simulating a cancel that lands while the artifact is being written.
type cancelAfterFirstCheck struct {
	context.Context
	calls atomic.Int64
}

func (c *cancelAfterFirstCheck) Err() error {
	if c.calls.Add(1) > 1 {
		return context.Canceled
	}
	return nil
}

func TestParquetWriter_LateCancelKeepsResult(t *testing.T) {
	w := &ParquetWriter{Dir: t.TempDir()}
	ctx := &cancelAfterFirstCheck{Context: context.Background()}
	n, err := w.Write(ctx, unit, records())
	if err != nil || n != 2 {
		t.Fatalf("Write=%d,%v, want 2,nil once the file is in place", n, err)
	}
	if _, err := os.Stat(w.Path(unit)); err != nil {
		t.Fatalf("artifact missing: %v", err)
	}

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	other := Unit{Track: "barber", Race: "R2", Car: "002-000"}
	if _, err := w.Write(canceled, other, records()); !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v, want context.Canceled before writing", err)
	}
	if _, err := os.Stat(w.Path(other)); !os.IsNotExist(err) {
		t.Fatalf("canceled write left a file: %v", err)
	}
}

func TestParquetWriter_EmptyAndBadCompression(t *testing.T) {
	dir := t.TempDir()
	w := &ParquetWriter{Dir: dir}
	if n, err := w.Write(context.Background(), unit, nil); err != nil || n != 0 {
		t.Fatalf("empty Write=%d,%v", n, err)
	}
	if _, err := os.Stat(w.Path(unit)); err != nil {
		t.Fatalf("empty unit must still produce a file: %v", err)
	}

	bad := &ParquetWriter{Dir: dir, Compression: "lz4"}
	if _, err := bad.Write(context.Background(), unit, records()); err == nil {
		t.Fatalf("expected compression error")
	}
}

func TestCSVWriter(t *testing.T) {
	w := &CSVWriter{Dir: t.TempDir()}
	if _, err := w.Write(context.Background(), unit, records()); err != nil {
		t.Fatalf("Write: %v", err)
	}
	b, err := os.ReadFile(w.Path(unit))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	want := strings.Join(telemetry.Columns, ",") + "\n" +
		"speed,80.5,GR86-002-000,2025-04-04T18:00:01Z,002-000,1,GR86-002-000,2025-04-04T18:00:00Z,2025-04-04T18:01:00Z,\n" +
		"gear,,GR86-002-000,2025-04-04T18:00:02Z,002-000,1,GR86-002-000,2025-04-04T18:00:00Z,2025-04-04T18:01:00Z,N\n"
	if diff := cmp.Diff(want, string(b)); diff != "" {
		t.Fatalf("csv mismatch:\n%s", diff)
	}
	leftovers, _ := filepath.Glob(filepath.Join(w.Dir, ".*.tmp"))
	if len(leftovers) != 0 {
		t.Fatalf("temp files left behind: %v", leftovers)
	}
}

type fakeRepo struct {
	mu       sync.Mutex
	ensured  int
	inserted [][]any
	columns  []string
	dedupe   []string
	err      error
}

func (r *fakeRepo) Close() {}

func (r *fakeRepo) EnsureTable(ctx context.Context, spec storage.TableSpec) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensured++
	return nil
}

func (r *fakeRepo) InsertRows(ctx context.Context, table string, columns []string, rows [][]any, dedupeColumns []string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return 0, r.err
	}
	r.columns = columns
	r.dedupe = dedupeColumns
	r.inserted = append(r.inserted, rows...)
	return int64(len(rows)), nil
}

func TestSQLWriter_Fake(t *testing.T) {
	repo := &fakeRepo{}
	w := &SQLWriter{Repo: repo, Table: "lap_telemetry", RunID: "run-1"}

	for i := 0; i < 2; i++ {
		if n, err := w.Write(context.Background(), unit, records()); err != nil || n != 2 {
			t.Fatalf("Write=%d,%v", n, err)
		}
	}
	if repo.ensured != 1 {
		t.Fatalf("EnsureTable calls=%d, want 1", repo.ensured)
	}
	if diff := cmp.Diff([]string{ColRowHash}, repo.dedupe); diff != "" {
		t.Fatalf("dedupe columns:\n%s", diff)
	}
	first, second := repo.inserted[0], repo.inserted[2]
	hash := first[len(first)-1].(string)
	if len(hash) != 64 || hash != second[len(second)-1] {
		t.Fatalf("row_hash must be stable across writes: %v vs %v", hash, second[len(second)-1])
	}
	if first[0] != "run-1" || first[1] != "barber" || first[4] != "speed" {
		t.Fatalf("unexpected row layout: %v", first)
	}
	gear := repo.inserted[1]
	if gear[5] != nil || gear[len(gear)-2] != "N" {
		t.Fatalf("non-numeric value must be NULL with its text kept raw, got %v", gear)
	}
}

func TestSQLWriter_RunIDNotHashed(t *testing.T) {
	_, a := SQLRows(unit, "run-a", records())
	_, b := SQLRows(unit, "run-b", records())
	last := len(a[0]) - 1
	if a[0][last] != b[0][last] {
		t.Fatalf("run id leaked into row_hash")
	}
	_, c := SQLRows(Unit{Track: "barber", Race: "R2", Car: "002-000"}, "run-a", records())
	if a[0][last] == c[0][last] {
		t.Fatalf("unit must be part of row_hash")
	}
}

func TestSQLWriter_SQLiteIdempotent(t *testing.T) {
	ctx := context.Background()
	repo, err := storage.New(ctx, storage.Config{Kind: "sqlite", DSN: filepath.Join(t.TempDir(), "laptel.db")})
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	defer repo.Close()

	first := &SQLWriter{Repo: repo, Table: "lap_telemetry", RunID: "run-1"}
	if n, err := first.Write(ctx, unit, records()); err != nil || n != 2 {
		t.Fatalf("first Write=%d,%v", n, err)
	}
	rerun := &SQLWriter{Repo: repo, Table: "lap_telemetry", RunID: "run-2"}
	if n, err := rerun.Write(ctx, unit, records()); err != nil || n != 0 {
		t.Fatalf("re-run Write=%d,%v, want 0 inserted", n, err)
	}
}

func TestSet(t *testing.T) {
	dir := t.TempDir()
	repo := &fakeRepo{}
	s, err := New(config.Output{Dir: dir, Formats: []string{"parquet", "csv", "sql"}}, config.Storage{Table: "t"}, repo, "run")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := s.Write(context.Background(), unit, records())
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	want := []Result{{"parquet", 2}, {"csv", 2}, {"sql", 2}}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Fatalf("results:\n%s", diff)
	}

	repo.err = errors.New("db down")
	res, err = s.Write(context.Background(), unit, records())
	if !errors.Is(err, repo.err) || !strings.Contains(err.Error(), "sink sql") || len(res) != 2 {
		t.Fatalf("Write err=%v res=%v", err, res)
	}
}

func TestNew_Errors(t *testing.T) {
	if _, err := New(config.Output{Formats: []string{"sql"}}, config.Storage{}, nil, ""); err == nil {
		t.Fatalf("sql without repo must fail")
	}
	if _, err := New(config.Output{Formats: []string{"xlsx"}}, config.Storage{}, nil, ""); err == nil {
		t.Fatalf("unknown format must fail")
	}
}
