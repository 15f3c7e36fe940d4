package table

import (
	"context"
	"fmt"
	"io"

	"laptel/internal/config"
	"laptel/internal/parser/csv"
	"laptel/internal/telemetry"
	"laptel/internal/transformer"
)

// LoadStats counts row-level problems recovered during a load. None of them
// abort the load.
type LoadStats struct {
	Rows        int // data rows read
	BadRecords  int // malformed CSV records skipped by the parser
	NullTimes   int // unparseable or empty timestamps kept as zero time
	BadLaps     int // lap rows dropped because the lap number did not parse
	NullVehicle int // rows dropped because vehicle_id was empty
}

func (s LoadStats) String() string {
	return fmt.Sprintf("rows=%d bad_records=%d null_times=%d bad_laps=%d null_vehicle=%d",
		s.Rows, s.BadRecords, s.NullTimes, s.BadLaps, s.NullVehicle)
}

// LoadLaps reads a lap_start or lap_end export. src is always closed.
func LoadLaps(ctx context.Context, src io.ReadCloser, cols LapColumns, opt config.Options) ([]telemetry.LapRow, LoadStats, error) {
	if err := cols.validate(); err != nil {
		_ = src.Close()
		return nil, LoadStats{}, err
	}

	var (
		out   []telemetry.LapRow
		stats LoadStats
	)
	err := stream(ctx, src, cols.list(), opt, &stats, func(r *transformer.Row) {
		vid := r.String(1)
		if vid == "" {
			stats.NullVehicle++
			return
		}
		lap, ok := telemetry.ParseLap(r.String(0))
		if !ok {
			stats.BadLaps++
			return
		}
		ts := telemetry.ParseTimestamp(r.String(2))
		if ts.IsZero() {
			stats.NullTimes++
		}
		out = append(out, telemetry.LapRow{Lap: lap, VehicleID: vid, Time: ts})
	})
	if err != nil {
		return nil, stats, err
	}
	return out, stats, nil
}

// LoadTelemetry reads a telemetry export. src is always closed.
func LoadTelemetry(ctx context.Context, src io.ReadCloser, cols TelemetryColumns, opt config.Options) ([]telemetry.Sample, LoadStats, error) {
	if err := cols.validate(); err != nil {
		_ = src.Close()
		return nil, LoadStats{}, err
	}

	var (
		out   []telemetry.Sample
		stats LoadStats
	)
	err := stream(ctx, src, cols.list(), opt, &stats, func(r *transformer.Row) {
		vid := r.String(2)
		if vid == "" {
			stats.NullVehicle++
			return
		}
		raw := r.String(1)
		ts := telemetry.ParseTimestamp(r.String(3))
		if ts.IsZero() {
			stats.NullTimes++
		}
		out = append(out, telemetry.Sample{
			Name:      r.String(0),
			VehicleID: vid,
			Raw:       raw,
			Value:     telemetry.ParseValue(raw),
			Time:      ts,
		})
	})
	if err != nil {
		return nil, stats, err
	}
	return out, stats, nil
}

// LoadColumn reads a single column as strings, skipping empty cells. Used by
// layout discovery to list vehicle ids without typing whole rows.
func LoadColumn(ctx context.Context, src io.ReadCloser, column string, opt config.Options) ([]string, error) {
	var (
		out   []string
		stats LoadStats
	)
	err := stream(ctx, src, []string{column}, opt, &stats, func(r *transformer.Row) {
		if v := r.String(0); v != "" {
			out = append(out, v)
		}
	})
	return out, err
}

// stream runs the CSV parser in a goroutine and hands each row to fn on the
// calling goroutine. Rows are freed after fn returns.
func stream(
	ctx context.Context,
	src io.ReadCloser,
	columns []string,
	opt config.Options,
	stats *LoadStats,
	fn func(*transformer.Row),
) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rows := make(chan *transformer.Row, 256)
	errc := make(chan error, 1)

	go func() {
		defer close(rows)
		errc <- csv.StreamCSVRows(ctx, src, columns, opt, rows, func(line int, err error) {
			stats.BadRecords++
		})
	}()

	for r := range rows {
		stats.Rows++
		fn(r)
		r.Free()
	}

	if err := <-errc; err != nil {
		return err
	}
	return ctx.Err()
}
