// Package table turns raw CSV exports into typed lap and telemetry rows.
//
// Column presence is checked once, against the header, before any row is
// read; after that every stage works on telemetry.LapRow / telemetry.Sample
// and cannot fail on a missing column.
package table

import (
	"fmt"
	"strings"

	"laptel/internal/parser/csv"
)

// ErrMissingColumn is returned (wrapped) when a required column is absent.
var ErrMissingColumn = csv.ErrMissingColumn

// MissingColumnError names the absent column.
type MissingColumnError = csv.MissingColumnError

// Table is a generic positional table: the output shape written by sinks and
// the input shape accepted by callers that do not hold typed rows.
type Table struct {
	Columns []string
	Rows    [][]any
}

// Index returns the position of col, or -1.
func (t Table) Index(col string) int {
	for i, c := range t.Columns {
		if c == col {
			return i
		}
	}
	return -1
}

// Require fails with a *MissingColumnError for the first absent column.
func (t Table) Require(cols ...string) error {
	for _, c := range cols {
		if t.Index(c) < 0 {
			return &MissingColumnError{Column: c, Header: append([]string(nil), t.Columns...)}
		}
	}
	return nil
}

// Len returns the number of rows.
func (t Table) Len() int { return len(t.Rows) }

// LapColumns names the lap table columns to read.
type LapColumns struct {
	Lap       string
	VehicleID string
	Time      string
}

// DefaultLapColumns returns the export's column names for time column tc.
func DefaultLapColumns(tc string) LapColumns {
	return LapColumns{Lap: "lap", VehicleID: "vehicle_id", Time: tc}
}

func (c LapColumns) list() []string { return []string{c.Lap, c.VehicleID, c.Time} }

func (c LapColumns) validate() error {
	return nonEmpty(c.list(), "lap", "vehicle_id", "time")
}

// TelemetryColumns names the telemetry table columns to read.
type TelemetryColumns struct {
	Name      string
	Value     string
	VehicleID string
	Time      string
}

// DefaultTelemetryColumns returns the export's column names for time column tc.
func DefaultTelemetryColumns(tc string) TelemetryColumns {
	return TelemetryColumns{Name: "telemetry_name", Value: "telemetry_value", VehicleID: "vehicle_id", Time: tc}
}

func (c TelemetryColumns) list() []string { return []string{c.Name, c.Value, c.VehicleID, c.Time} }

func (c TelemetryColumns) validate() error {
	return nonEmpty(c.list(), "telemetry_name", "telemetry_value", "vehicle_id", "time")
}

func nonEmpty(vals []string, names ...string) error {
	for i, v := range vals {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("table: %s column name is empty", names[i])
		}
	}
	return nil
}
