// Package repair expands telemetry exports whose value column packs every
// channel of an event into one JSON array:
//
//	value = [{"name":"speed","value":80.5},{"name":"gear","value":3}]
//
// Each array element becomes one row in the long telemetry layout the
// loaders read.
package repair

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"laptel/internal/chassis"
	pcsv "laptel/internal/parser/csv"
)

// Logger is satisfied by *log.Logger.
type Logger interface {
	Printf(format string, v ...any)
}

type discardLogger struct{}

func (discardLogger) Printf(string, ...any) {}

// Columns is the output column order.
var Columns = []string{
	"expire_at",
	"lap",
	"meta_event",
	"meta_session",
	"meta_source",
	"meta_time",
	"original_vehicle_id",
	"outing",
	"telemetry_name",
	"telemetry_value",
	"timestamp",
	"vehicle_id",
	"vehicle_number",
}

// required input columns; expire_at and lap are emitted empty when absent.
var required = []string{"value", "meta_event", "meta_session", "meta_source", "meta_time", "outing", "timestamp", "vehicle_id"}

// ErrMalformed is wrapped by the per-row errors passed to the logger.
var ErrMalformed = errors.New("malformed packed value")

// Options tune Expand.
type Options struct {
	Logger Logger
	// Comma is the input delimiter; ',' when zero. Output is always ','.
	Comma rune
}

func (o Options) logger() Logger {
	if o.Logger == nil {
		return discardLogger{}
	}
	return o.Logger
}

// Stats summarises an Expand run.
type Stats struct {
	Rows      int // input data rows
	Written   int // output rows
	Malformed int // input rows skipped
	Duration  time.Duration
}

func (s Stats) String() string {
	return fmt.Sprintf("rows=%d written=%d malformed=%d duration=%s", s.Rows, s.Written, s.Malformed, s.Duration.Truncate(time.Millisecond))
}

type item struct {
	Name  *string         `json:"name"`
	Value json.RawMessage `json:"value"`
}

// Expand reads packed telemetry from r and writes the expanded CSV to w.
// Rows whose value cannot be decoded are skipped, counted and logged with
// their line number. A missing required column fails before any output.
func Expand(ctx context.Context, r io.Reader, w io.Writer, opts Options) (Stats, error) {
	start := time.Now()
	log := opts.logger()
	var stats Stats

	cr := csv.NewReader(r)
	if opts.Comma != 0 {
		cr.Comma = opts.Comma
	}
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	hdr, err := cr.Read()
	if err != nil {
		return stats, fmt.Errorf("repair: read header: %w", err)
	}
	names := pcsv.NormalizeHeader(hdr, nil)
	ix := map[string]int{}
	for i, n := range names {
		if _, dup := ix[n]; !dup {
			ix[n] = i
		}
	}
	for _, c := range required {
		if _, ok := ix[c]; !ok {
			return stats, &pcsv.MissingColumnError{Column: c, Header: names}
		}
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return stats, fmt.Errorf("repair: write header: %w", err)
	}

	out := make([]string, len(Columns))
	for {
		if stats.Rows%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
		}
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				stats.Malformed++
				log.Printf("stage=repair line=%d skipped err=%v", pe.Line, err)
				continue
			}
			return stats, fmt.Errorf("repair: read: %w", err)
		}
		stats.Rows++
		line, _ := cr.FieldPos(0)

		get := func(col string) string {
			i, ok := ix[col]
			if !ok || i >= len(rec) {
				return ""
			}
			return rec[i]
		}

		items, err := decodePacked(get("value"))
		if err != nil {
			stats.Malformed++
			log.Printf("stage=repair line=%d skipped err=%v", line, err)
			continue
		}

		vid := get("vehicle_id")
		out[0] = get("expire_at")
		out[1] = get("lap")
		out[2] = get("meta_event")
		out[3] = get("meta_session")
		out[4] = get("meta_source")
		out[5] = get("meta_time")
		out[6] = vid
		out[7] = get("outing")
		out[10] = get("timestamp")
		out[11] = vid
		out[12] = chassis.Number(vid)
		for _, it := range items {
			out[8] = *it.Name
			out[9] = scalar(it.Value)
			if err := cw.Write(out); err != nil {
				return stats, fmt.Errorf("repair: write: %w", err)
			}
			stats.Written++
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return stats, fmt.Errorf("repair: flush: %w", err)
	}
	stats.Duration = time.Since(start)
	return stats, nil
}

func decodePacked(s string) ([]item, error) {
	var items []item
	if err := json.Unmarshal([]byte(s), &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	for i, it := range items {
		if it.Name == nil {
			return nil, fmt.Errorf("%w: element %d has no name", ErrMalformed, i)
		}
	}
	return items, nil
}

// scalar renders a JSON value as CSV text: strings unquoted, numbers
// verbatim, null empty.
func scalar(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if json.Unmarshal(raw, &s) == nil {
			return s
		}
	}
	return string(raw)
}
