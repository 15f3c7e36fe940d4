// Package telemetry holds the typed records that flow through the lap join:
// lap boundary rows, telemetry samples, assembled lap intervals and joined
// records. All of them are plain values; stages return new slices rather
// than mutating their inputs.
package telemetry

import "time"

// LapRow is one lap boundary event (a lap_start or lap_end row).
type LapRow struct {
	Lap       int
	VehicleID string
	Chassis   string
	// Time is the zero value when the source timestamp was missing or could
	// not be parsed.
	Time time.Time
}

// Sample is one telemetry reading for a single channel.
type Sample struct {
	Name      string
	VehicleID string
	Chassis   string

	// Raw is the value exactly as exported; Value is nil when Raw is not numeric.
	Raw   string
	Value *float64

	Time time.Time
}

// LapInterval is a lap bounded by its start and end events.
//
// End may be zero when the end event carried an unparseable timestamp; such
// an interval still exists but can never bound a sample.
type LapInterval struct {
	Chassis   string
	Lap       int
	VehicleID string
	Start     time.Time
	End       time.Time
}

// Complete reports whether both bounds are known.
func (l LapInterval) Complete() bool { return !l.Start.IsZero() && !l.End.IsZero() }

// JoinedRecord is a telemetry sample tagged with the lap it fell in.
type JoinedRecord struct {
	Sample Sample
	Lap    LapInterval
}

// Columns is the fixed output column order for joined records.
var Columns = []string{
	"telemetry_name",
	"telemetry_value",
	"vehicle_id",
	"meta_time",
	"chassis",
	"lap",
	"lap_vehicle_id",
	"meta_time_start",
	"meta_time_end",
	"telemetry_value_raw",
}

// Values returns r positioned like Columns. Missing numeric values and null
// timestamps are returned as nil. telemetry_value_raw holds the source text
// only when it did not parse as a number.
func (r JoinedRecord) Values() []any {
	var val, raw any
	if r.Sample.Value != nil {
		val = *r.Sample.Value
	} else if r.Sample.Raw != "" {
		raw = r.Sample.Raw
	}
	return []any{
		r.Sample.Name,
		val,
		r.Sample.VehicleID,
		nullTime(r.Sample.Time),
		r.Sample.Chassis,
		int64(r.Lap.Lap),
		r.Lap.VehicleID,
		nullTime(r.Lap.Start),
		nullTime(r.Lap.End),
		raw,
	}
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
