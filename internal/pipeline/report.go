package pipeline

import (
	"fmt"
	"sort"
	"time"

	"laptel/internal/asof"
	"laptel/internal/laps"
	"laptel/internal/sink"
)

// UnitResult is the outcome of one successful unit.
type UnitResult struct {
	Unit     sink.Unit
	Laps     laps.Stats
	Samples  int
	Join     asof.Stats
	Written  []sink.Result
	Duration time.Duration
}

// UnitFailure is a unit that did not complete.
type UnitFailure struct {
	Unit sink.Unit
	Err  error
}

func (f UnitFailure) String() string { return fmt.Sprintf("%s: %v", f.Unit, f.Err) }

// Report summarises a run. Units and Failures are sorted by unit name.
type Report struct {
	RunID    string
	Units    []UnitResult
	Failures []UnitFailure
	// Skipped counts units never started because the run was canceled.
	Skipped  int
	Duration time.Duration
}

// Joined is the total number of joined records across units.
func (r Report) Joined() int {
	n := 0
	for _, u := range r.Units {
		n += u.Join.Joined
	}
	return n
}

func (r Report) String() string {
	return fmt.Sprintf("run_id=%s units_ok=%d units_failed=%d units_skipped=%d joined=%d duration=%s",
		r.RunID, len(r.Units), len(r.Failures), r.Skipped, r.Joined(), r.Duration.Truncate(time.Millisecond))
}

func (r *Report) sort() {
	sort.Slice(r.Units, func(i, j int) bool { return r.Units[i].Unit.Name() < r.Units[j].Unit.Name() })
	sort.Slice(r.Failures, func(i, j int) bool { return r.Failures[i].Unit.Name() < r.Failures[j].Unit.Name() })
}
