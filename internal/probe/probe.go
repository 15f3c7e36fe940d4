// Package probe samples a CSV export to report its header, the timestamp
// column the loaders will use, and a coarse type per column.
//
// Probing reads a bounded prefix of the file and never fails on row-level
// problems: malformed records are skipped and only counted.
package probe

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"slices"
	"strconv"
	"strings"

	"laptel/internal/config"
	pcsv "laptel/internal/parser/csv"
	"laptel/internal/telemetry"
	"laptel/internal/transformer"
)

// DefaultMaxBytes is the sample size used when Options.MaxBytes is unset.
const DefaultMaxBytes = 64 << 10

// distinctCap bounds per-column distinct tracking.
const distinctCap = 1000

// Column types reported by Sample.
const (
	TypeInteger   = "integer"
	TypeFloat     = "float"
	TypeTimestamp = "timestamp"
	TypeText      = "text"
)

// Options control sampling.
type Options struct {
	// MaxBytes read from the start of the file.
	MaxBytes int
	// TimeColumns are the timestamp candidates, in preference order.
	TimeColumns []string
	// Parser carries CSV options (comma, encoding, header_map, ...).
	Parser config.Options
}

func (o Options) maxBytes() int {
	if o.MaxBytes <= 0 {
		return DefaultMaxBytes
	}
	return o.MaxBytes
}

// Column describes one sampled column.
type Column struct {
	Name     string
	Type     string
	NonEmpty int
	Distinct int
	Capped   bool
}

// Result is the outcome of Sample.
type Result struct {
	Header []string
	// TimeColumn is empty when none of the candidates is in the header.
	TimeColumn string
	Columns    []Column
	Rows       int
	BadRecords int
	Truncated  bool
	// Vehicles are the distinct vehicle_id values seen in the sample, sorted.
	Vehicles []string
}

// ResolveTimeColumn returns the first candidate present in header. When none
// is present it returns a *csv.MissingColumnError naming the first candidate.
func ResolveTimeColumn(header, candidates []string) (string, error) {
	if len(candidates) == 0 {
		return "", fmt.Errorf("probe: no time column candidates")
	}
	for _, c := range candidates {
		if slices.Contains(header, c) {
			return c, nil
		}
	}
	return "", &pcsv.MissingColumnError{Column: candidates[0], Header: slices.Clone(header)}
}

// TimeColumn opens name in fsys, reads its header and resolves the time
// column against candidates.
func TimeColumn(fsys fs.FS, name string, candidates []string, opt config.Options) (string, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hdr, err := pcsv.ReadHeader(f, opt)
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	tc, err := ResolveTimeColumn(hdr, candidates)
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	return tc, nil
}

// Sample reads at most opt.MaxBytes from r and profiles the rows it holds.
// A trailing partial line is cut when the sample was truncated.
func Sample(ctx context.Context, r io.Reader, opt Options) (Result, error) {
	n := opt.maxBytes()
	b, err := io.ReadAll(io.LimitReader(r, int64(n)+1))
	if err != nil {
		return Result{}, fmt.Errorf("probe: read sample: %w", err)
	}
	var res Result
	if len(b) > n {
		res.Truncated = true
		b = b[:n]
		if i := bytes.LastIndexByte(b, '\n'); i > 0 {
			b = b[:i+1]
		}
	}

	hdr, err := pcsv.ReadHeader(bytes.NewReader(b), opt.Parser)
	if err != nil {
		return Result{}, fmt.Errorf("probe: %w", err)
	}
	res.Header = hdr
	if len(opt.TimeColumns) > 0 {
		// absence is reported through the empty TimeColumn
		res.TimeColumn, _ = ResolveTimeColumn(hdr, opt.TimeColumns)
	}

	rows, bad, err := sampleRows(ctx, b, hdr, opt.Parser)
	if err != nil {
		return Result{}, fmt.Errorf("probe: %w", err)
	}
	res.Rows = len(rows)
	res.BadRecords = bad
	res.Columns = profile(hdr, rows)
	if vi := slices.Index(hdr, "vehicle_id"); vi >= 0 {
		res.Vehicles = distinctSorted(rows, vi)
	}
	return res, nil
}

func sampleRows(ctx context.Context, b []byte, hdr []string, opt config.Options) ([][]string, int, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := make(chan *transformer.Row, 64)
	errc := make(chan error, 1)
	var bad int
	go func() {
		defer close(out)
		errc <- pcsv.StreamCSVRows(ctx, io.NopCloser(bytes.NewReader(b)), hdr, opt, out, func(int, error) { bad++ })
	}()

	var rows [][]string
	for r := range out {
		rec := make([]string, len(hdr))
		for i := range hdr {
			rec[i] = r.String(i)
		}
		rows = append(rows, rec)
		r.Free()
	}
	if err := <-errc; err != nil {
		return nil, 0, err
	}
	return rows, bad, nil
}

// profile infers a type per column, preferring the most specific one every
// non-empty value satisfies.
func profile(hdr []string, rows [][]string) []Column {
	cols := make([]Column, len(hdr))
	for c, name := range hdr {
		allInt, allFloat, allTS := true, true, true
		seen := map[string]struct{}{}
		col := Column{Name: name, Type: TypeText}

		for _, r := range rows {
			v := strings.TrimSpace(r[c])
			if v == "" {
				continue
			}
			col.NonEmpty++
			if !col.Capped {
				seen[v] = struct{}{}
				if len(seen) >= distinctCap {
					col.Capped = true
				}
			}
			if allInt {
				if _, err := strconv.ParseInt(v, 10, 64); err != nil {
					allInt = false
				}
			}
			if allFloat {
				if _, err := strconv.ParseFloat(v, 64); err != nil {
					allFloat = false
				}
			}
			if allTS && telemetry.ParseTimestamp(v).IsZero() {
				allTS = false
			}
		}
		col.Distinct = len(seen)

		if col.NonEmpty > 0 {
			switch {
			case allInt:
				col.Type = TypeInteger
			case allFloat:
				col.Type = TypeFloat
			case allTS:
				col.Type = TypeTimestamp
			}
		}
		cols[c] = col
	}
	return cols
}

func distinctSorted(rows [][]string, col int) []string {
	set := map[string]struct{}{}
	for _, r := range rows {
		if v := r[col]; v != "" {
			set[v] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}

// Report renders r as aligned text lines.
func (r Result) Report() string {
	var b strings.Builder
	tc := r.TimeColumn
	if tc == "" {
		tc = "<none>"
	}
	fmt.Fprintf(&b, "rows=%d bad_records=%d truncated=%t time_column=%s\n", r.Rows, r.BadRecords, r.Truncated, tc)
	for _, c := range r.Columns {
		distinct := strconv.Itoa(c.Distinct)
		if c.Capped {
			distinct = ">=" + distinct
		}
		fmt.Fprintf(&b, "  %-24s %-9s non_empty=%d distinct=%s\n", c.Name, c.Type, c.NonEmpty, distinct)
	}
	if len(r.Vehicles) > 0 {
		fmt.Fprintf(&b, "vehicles=%s\n", strings.Join(r.Vehicles, ","))
	}
	return b.String()
}
