package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"laptel/internal/telemetry"
)

// CSVWriter writes <Dir>/<unit>.csv with telemetry.Columns as header.
type CSVWriter struct {
	Dir string
}

func (w *CSVWriter) Format() string { return FormatCSV }

// Path returns the artifact path for u.
func (w *CSVWriter) Path(u Unit) string { return filepath.Join(w.Dir, u.Name()+".csv") }

func (w *CSVWriter) Write(ctx context.Context, u Unit, recs []telemetry.JoinedRecord) (int64, error) {
	err := writeAtomic(w.Path(u), func(f *os.File) error {
		cw := csv.NewWriter(f)
		if err := cw.Write(telemetry.Columns); err != nil {
			return err
		}
		rec := make([]string, len(telemetry.Columns))
		for i, r := range recs {
			if i%4096 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			for j, v := range r.Values() {
				rec[j] = formatCell(v)
			}
			if err := cw.Write(rec); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	})
	if err != nil {
		return 0, fmt.Errorf("write %s: %w", w.Path(u), err)
	}
	return int64(len(recs)), nil
}

func formatCell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(t, 10)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(t)
	}
}
