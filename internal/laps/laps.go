// Package laps pairs lap_start and lap_end events into lap intervals.
package laps

import (
	"fmt"

	"laptel/internal/telemetry"
)

// Stats counts what Assemble dropped.
type Stats struct {
	Starts     int // start rows seen
	Ends       int // end rows seen
	Unmatched  int // start rows with no end row for the same (chassis, lap)
	Inverted   int // pairs dropped because End < Start
	Incomplete int // kept intervals with a null Start or End
}

func (s Stats) String() string {
	return fmt.Sprintf("starts=%d ends=%d unmatched=%d inverted=%d incomplete=%d",
		s.Starts, s.Ends, s.Unmatched, s.Inverted, s.Incomplete)
}

type key struct {
	chassis string
	lap     int
}

// Assemble inner-joins start and end rows on (Chassis, Lap). Each start row
// pairs with every end row of the same key, in start-table then end-table
// order. Rows must already carry their chassis key.
func Assemble(start, end []telemetry.LapRow) ([]telemetry.LapInterval, Stats) {
	st := Stats{Starts: len(start), Ends: len(end)}

	ends := make(map[key][]telemetry.LapRow, len(end))
	for _, e := range end {
		k := key{e.Chassis, e.Lap}
		ends[k] = append(ends[k], e)
	}

	out := make([]telemetry.LapInterval, 0, len(start))
	for _, s := range start {
		matches, ok := ends[key{s.Chassis, s.Lap}]
		if !ok {
			st.Unmatched++
			continue
		}
		for _, e := range matches {
			iv := telemetry.LapInterval{
				Chassis:   s.Chassis,
				Lap:       s.Lap,
				VehicleID: s.VehicleID,
				Start:     s.Time,
				End:       e.Time,
			}
			if iv.Complete() && iv.End.Before(iv.Start) {
				st.Inverted++
				continue
			}
			if !iv.Complete() {
				st.Incomplete++
			}
			out = append(out, iv)
		}
	}
	return out, st
}
