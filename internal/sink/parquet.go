package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"laptel/internal/telemetry"
)

// ParquetRow is the on-disk shape of a joined record.
type ParquetRow struct {
	TelemetryName  string    `parquet:"telemetry_name"`
	TelemetryValue *float64  `parquet:"telemetry_value,optional"`
	VehicleID      string    `parquet:"vehicle_id"`
	MetaTime       time.Time `parquet:"meta_time,timestamp(microsecond)"`
	Chassis        string    `parquet:"chassis"`
	Lap            int64     `parquet:"lap"`
	LapVehicleID   string    `parquet:"lap_vehicle_id"`
	MetaTimeStart  time.Time `parquet:"meta_time_start,timestamp(microsecond)"`
	MetaTimeEnd    time.Time `parquet:"meta_time_end,timestamp(microsecond)"`
	// TelemetryValueRaw is set when telemetry_value did not parse.
	TelemetryValueRaw *string `parquet:"telemetry_value_raw,optional"`
}

// NewParquetRow converts r. Joined records always carry a sample time and
// both lap bounds.
func NewParquetRow(r telemetry.JoinedRecord) ParquetRow {
	var raw *string
	if r.Sample.Value == nil && r.Sample.Raw != "" {
		raw = &r.Sample.Raw
	}
	return ParquetRow{
		TelemetryName:  r.Sample.Name,
		TelemetryValue: r.Sample.Value,
		VehicleID:      r.Sample.VehicleID,
		MetaTime:       r.Sample.Time.UTC(),
		Chassis:        r.Sample.Chassis,
		Lap:            int64(r.Lap.Lap),
		LapVehicleID:   r.Lap.VehicleID,
		MetaTimeStart:  r.Lap.Start.UTC(),
		MetaTimeEnd:    r.Lap.End.UTC(),

		TelemetryValueRaw: raw,
	}
}

// ParquetWriter writes <Dir>/<unit>.parquet.
type ParquetWriter struct {
	Dir string
	// Compression: snappy (default), zstd, gzip, none.
	Compression string
}

func (w *ParquetWriter) Format() string { return FormatParquet }

// Path returns the artifact path for u.
func (w *ParquetWriter) Path(u Unit) string { return filepath.Join(w.Dir, u.Name()+".parquet") }

func (w *ParquetWriter) Write(ctx context.Context, u Unit, recs []telemetry.JoinedRecord) (int64, error) {
	opt, err := compressionCodec(w.Compression)
	if err != nil {
		return 0, err
	}
	rows := make([]ParquetRow, len(recs))
	for i, r := range recs {
		rows[i] = NewParquetRow(r)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	err = writeAtomic(w.Path(u), func(f *os.File) error {
		pw := parquet.NewGenericWriter[ParquetRow](f, opt)
		if _, err := pw.Write(rows); err != nil {
			return err
		}
		return pw.Close()
	})
	if err != nil {
		return 0, fmt.Errorf("write %s: %w", w.Path(u), err)
	}
	return int64(len(rows)), nil
}

func compressionCodec(name string) (parquet.WriterOption, error) {
	switch strings.ToLower(name) {
	case "", "snappy":
		return parquet.Compression(&parquet.Snappy), nil
	case "zstd":
		return parquet.Compression(&parquet.Zstd), nil
	case "gzip":
		return parquet.Compression(&parquet.Gzip), nil
	case "none":
		return parquet.Compression(&parquet.Uncompressed), nil
	default:
		return nil, fmt.Errorf("parquet: unknown compression %q", name)
	}
}
