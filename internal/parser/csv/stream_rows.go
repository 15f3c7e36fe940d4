package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"laptel/internal/config"
	"laptel/internal/transformer"
	"laptel/internal/transformer/builtin"
)

// ErrMissingColumn is wrapped by MissingColumnError.
var ErrMissingColumn = errors.New("missing column")

// MissingColumnError names a required column absent from a CSV header.
type MissingColumnError struct {
	Column string
	Header []string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("%v %q (header: %s)", ErrMissingColumn, e.Column, strings.Join(e.Header, ","))
}

func (e *MissingColumnError) Unwrap() error { return ErrMissingColumn }

// decodeInput wraps r so the csv reader always sees UTF-8.
func decodeInput(r io.Reader, encoding string) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "utf-8", "utf8":
		return r, nil
	case "utf-16", "utf16", "utf-16le":
		return transform.NewReader(r, unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder()), nil
	case "utf-16be":
		return transform.NewReader(r, unicode.UTF16(unicode.BigEndian, unicode.UseBOM).NewDecoder()), nil
	case "windows-1252", "cp1252":
		return transform.NewReader(r, charmap.Windows1252.NewDecoder()), nil
	case "iso-8859-1", "latin1":
		return transform.NewReader(r, charmap.ISO8859_1.NewDecoder()), nil
	default:
		return nil, fmt.Errorf("csv: unsupported encoding %q", encoding)
	}
}

// NormalizeHeader applies the header rules used by StreamCSVRows: trim,
// strip a leading BOM on the first cell, apply header_map, otherwise
// lower-case and replace spaces with underscores.
func NormalizeHeader(hdr []string, headerMap map[string]string) []string {
	out := make([]string, len(hdr))
	for i, h := range hdr {
		if builtin.HasEdgeSpace(h) {
			h = strings.TrimSpace(h)
		}
		if i == 0 {
			h = strings.TrimPrefix(h, "\uFEFF")
		}
		if mapped, ok := headerMap[h]; ok {
			h = mapped
		} else {
			h = strings.ReplaceAll(strings.ToLower(h), " ", "_")
		}
		out[i] = h
	}
	return out
}

// ReadHeader returns the normalized header of a CSV stream without reading
// any data rows.
func ReadHeader(src io.Reader, opt config.Options) ([]string, error) {
	r, err := decodeInput(src, opt.String("encoding", ""))
	if err != nil {
		return nil, err
	}
	cr := csv.NewReader(r)
	cr.Comma = opt.Rune("comma", ',')
	cr.LazyQuotes = opt.Bool("lazy_quotes", false)
	cr.FieldsPerRecord = -1

	hdr, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	return NormalizeHeader(hdr, opt.StringMap("header_map")), nil
}

// StreamCSVRows streams CSV into pooled *transformer.Row objects aligned to the
// target 'columns' order.
//
// With opt "require_columns" (default true) every target column must appear in
// the header, otherwise a *MissingColumnError is returned before any row is
// emitted. Malformed records are reported through onErr and skipped.
//
// NOTE on cancellation:
// On ctx cancellation we must NOT return in-flight rows to the pool (Drop instead),
// otherwise the parser can reuse them immediately while downstream stages
// still read them.
func StreamCSVRows(
	ctx context.Context,
	src io.ReadCloser,
	columns []string,
	opt config.Options,
	out chan<- *transformer.Row,
	onErr func(line int, err error),
) error {
	defer src.Close()

	var line int

	hasHeader := opt.Bool("has_header", true)
	requireCols := opt.Bool("require_columns", true)
	comma := opt.Rune("comma", ',')
	trim := opt.Bool("trim_space", true)
	hm := opt.StringMap("header_map")
	lazy := opt.Bool("lazy_quotes", false)
	fieldsPer := opt.Int("fields_per_record", 0)

	r, err := decodeInput(src, opt.String("encoding", ""))
	if err != nil {
		return err
	}

	cr := csv.NewReader(r)
	cr.Comma = comma
	cr.ReuseRecord = true
	cr.LazyQuotes = lazy
	if fieldsPer != 0 {
		cr.FieldsPerRecord = fieldsPer
	} else {
		cr.FieldsPerRecord = -1
	}

	colIx := make([]int, len(columns))
	for i := range colIx {
		colIx[i] = -1
	}

	readRec := func() ([]string, error) {
		line++
		return cr.Read()
	}

	if hasHeader {
		hdr, err := readRec()
		if err != nil {
			if onErr != nil {
				onErr(line, fmt.Errorf("read header: %w", err))
			}
			return fmt.Errorf("read header: %w", err)
		}
		names := NormalizeHeader(hdr, hm)
		srcToIdx := make(map[string]int, len(names))
		for i, h := range names {
			if _, dup := srcToIdx[h]; !dup {
				srcToIdx[h] = i
			}
		}
		for t, target := range columns {
			if si, ok := srcToIdx[target]; ok {
				colIx[t] = si
			} else if requireCols {
				return &MissingColumnError{Column: target, Header: names}
			}
		}
	} else {
		for i := range columns {
			colIx[i] = i
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rec, err := readRec()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if onErr != nil {
				onErr(line, fmt.Errorf("csv read: %w", err))
			}
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				continue
			}
			// Non-parse errors (I/O, decoding) are not recoverable mid-stream.
			return fmt.Errorf("csv read: %w", err)
		}

		row := transformer.GetRow(len(columns))
		row.Line = line

		for t := range columns {
			si := colIx[t]
			if si < 0 || si >= len(rec) {
				row.V[t] = nil
				continue
			}
			v := rec[si]
			if trim && builtin.HasEdgeSpace(v) {
				v = strings.TrimSpace(v)
			}
			if v == "" {
				row.V[t] = nil
			} else {
				row.V[t] = v
			}
		}

		select {
		case out <- row:
		case <-ctx.Done():
			// IMPORTANT: do not re-pool on cancellation
			row.Drop()
			return ctx.Err()
		}
	}
}
