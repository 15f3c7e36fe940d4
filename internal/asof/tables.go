package asof

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"laptel/internal/table"
	"laptel/internal/telemetry"
)

// ErrSchema is wrapped by SchemaError.
var ErrSchema = errors.New("join schema")

// SchemaError names a column JoinTables needs but did not find.
type SchemaError struct {
	Table  string // "laps" or "samples"
	Column string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%v: %s table has no %q column", ErrSchema, e.Table, e.Column)
}

func (e *SchemaError) Unwrap() error { return ErrSchema }

// Column names read by JoinTables.
const (
	ColChassis   = "chassis"
	ColLap       = "lap"
	ColStart     = "meta_time_start"
	ColEnd       = "meta_time_end"
	ColTime      = "meta_time"
	ColName      = "telemetry_name"
	ColValue     = "telemetry_value"
	ColVehicleID = "vehicle_id"
)

// JoinTables runs Join over untyped tables. laps needs chassis, lap,
// meta_time_start and meta_time_end; samples needs chassis and meta_time.
// vehicle_id and the telemetry columns are read when present. The result has
// telemetry.Columns.
func JoinTables(ctx context.Context, laps, samples table.Table, opts Options) (table.Table, error) {
	li, err := indexes("laps", laps, []string{ColChassis, ColLap, ColStart, ColEnd}, []string{ColVehicleID})
	if err != nil {
		return table.Table{}, err
	}
	si, err := indexes("samples", samples, []string{ColChassis, ColTime}, []string{ColName, ColValue, ColVehicleID})
	if err != nil {
		return table.Table{}, err
	}

	ivs := make([]telemetry.LapInterval, 0, laps.Len())
	for n, r := range laps.Rows {
		lap, ok := lapOf(cell(r, li[ColLap]))
		if !ok {
			return table.Table{}, fmt.Errorf("asof: laps row %d: bad lap %v", n, cell(r, li[ColLap]))
		}
		ivs = append(ivs, telemetry.LapInterval{
			Chassis:   str(cell(r, li[ColChassis])),
			Lap:       lap,
			VehicleID: str(cell(r, li[ColVehicleID])),
			Start:     timeOf(cell(r, li[ColStart])),
			End:       timeOf(cell(r, li[ColEnd])),
		})
	}

	ss := make([]telemetry.Sample, 0, samples.Len())
	for _, r := range samples.Rows {
		raw := str(cell(r, si[ColValue]))
		ss = append(ss, telemetry.Sample{
			Name:      str(cell(r, si[ColName])),
			VehicleID: str(cell(r, si[ColVehicleID])),
			Chassis:   str(cell(r, si[ColChassis])),
			Raw:       raw,
			Value:     valueOf(cell(r, si[ColValue]), raw),
			Time:      timeOf(cell(r, si[ColTime])),
		})
	}

	recs, err := Join(ctx, ivs, ss, opts)
	if err != nil {
		return table.Table{}, err
	}
	out := table.Table{Columns: append([]string(nil), telemetry.Columns...), Rows: make([][]any, len(recs))}
	for i, rec := range recs {
		out.Rows[i] = rec.Values()
	}
	return out, nil
}

func indexes(name string, t table.Table, required, optional []string) (map[string]int, error) {
	ix := make(map[string]int, len(required)+len(optional))
	for _, c := range required {
		i := t.Index(c)
		if i < 0 {
			return nil, &SchemaError{Table: name, Column: c}
		}
		ix[c] = i
	}
	for _, c := range optional {
		ix[c] = t.Index(c)
	}
	return ix, nil
}

func cell(r []any, i int) any {
	if i < 0 || i >= len(r) {
		return nil
	}
	return r[i]
}

func str(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

func timeOf(v any) time.Time {
	switch x := v.(type) {
	case time.Time:
		return x.UTC()
	case *time.Time:
		if x == nil {
			return time.Time{}
		}
		return x.UTC()
	case string:
		return telemetry.ParseTimestamp(x)
	default:
		return time.Time{}
	}
}

func lapOf(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case int32:
		return int(x), true
	case int64:
		return int(x), true
	case float64:
		if x != float64(int(x)) {
			return 0, false
		}
		return int(x), true
	case string:
		return telemetry.ParseLap(x)
	default:
		return 0, false
	}
}

func valueOf(v any, raw string) *float64 {
	switch x := v.(type) {
	case float64:
		return &x
	case *float64:
		return x
	case int64:
		f := float64(x)
		return &f
	case int:
		f := float64(x)
		return &f
	case string:
		return telemetry.ParseValue(x)
	default:
		if raw == "" {
			return nil
		}
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return &f
		}
		return nil
	}
}
