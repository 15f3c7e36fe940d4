// Package asof tags telemetry samples with the lap they occurred in.
//
// A sample is matched to the lap whose start is nearest in time on the same
// chassis, within a tolerance. Matches that fall after the lap's end are then
// discarded, so a sample is only ever kept inside a lap's [start, end] span.
package asof

import (
	"context"
	"fmt"
	"sort"
	"time"

	"laptel/internal/telemetry"
)

// DefaultTolerance is the widest start distance accepted as a match.
const DefaultTolerance = 2 * time.Second

// checkEvery is how many samples are processed between context checks.
const checkEvery = 4096

// Options configures Join. The zero value uses DefaultTolerance.
type Options struct {
	// Tolerance is inclusive: |t - start| <= Tolerance matches.
	Tolerance time.Duration
}

func (o Options) tolerance() time.Duration {
	if o.Tolerance <= 0 {
		return DefaultTolerance
	}
	return o.Tolerance
}

// Stats counts how samples left the join.
type Stats struct {
	Samples   int
	NullTime  int // sample time missing
	NoChassis int // no lap interval on the sample's chassis
	NoMatch   int // nearest start outside tolerance
	AfterEnd  int // matched but after the lap end, or the end is unknown
	Joined    int
}

func (s Stats) String() string {
	return fmt.Sprintf("samples=%d null_time=%d no_chassis=%d no_match=%d after_end=%d joined=%d",
		s.Samples, s.NullTime, s.NoChassis, s.NoMatch, s.AfterEnd, s.Joined)
}

// Join matches every sample to a lap interval and returns the kept records
// ordered by sample time. Neither input is modified.
func Join(ctx context.Context, laps []telemetry.LapInterval, samples []telemetry.Sample, opts Options) ([]telemetry.JoinedRecord, error) {
	out, _, err := JoinWithStats(ctx, laps, samples, opts)
	return out, err
}

// JoinWithStats is Join plus drop accounting.
func JoinWithStats(ctx context.Context, laps []telemetry.LapInterval, samples []telemetry.Sample, opts Options) ([]telemetry.JoinedRecord, Stats, error) {
	st := Stats{Samples: len(samples)}
	out := make([]telemetry.JoinedRecord, 0)
	if len(samples) == 0 {
		return out, st, nil
	}

	groups := groupByChassis(laps)
	tol := opts.tolerance()

	sorted := append([]telemetry.Sample(nil), samples...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })

	for i, s := range sorted {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, st, err
			}
		}
		if s.Time.IsZero() {
			st.NullTime++
			continue
		}
		g, ok := groups[s.Chassis]
		if !ok {
			st.NoChassis++
			continue
		}
		iv, ok := nearest(g, s.Time, tol)
		if !ok {
			st.NoMatch++
			continue
		}
		if iv.End.IsZero() || s.Time.After(iv.End) {
			st.AfterEnd++
			continue
		}
		out = append(out, telemetry.JoinedRecord{Sample: s, Lap: iv})
	}
	st.Joined = len(out)
	return out, st, nil
}

// groupByChassis returns per-chassis intervals sorted by start, ties by lap.
// Intervals without a start can never be nearest to anything and are left out.
func groupByChassis(laps []telemetry.LapInterval) map[string][]telemetry.LapInterval {
	groups := make(map[string][]telemetry.LapInterval)
	for _, iv := range laps {
		if iv.Start.IsZero() {
			continue
		}
		groups[iv.Chassis] = append(groups[iv.Chassis], iv)
	}
	for _, g := range groups {
		sort.SliceStable(g, func(i, j int) bool {
			if !g[i].Start.Equal(g[j].Start) {
				return g[i].Start.Before(g[j].Start)
			}
			return g[i].Lap < g[j].Lap
		})
	}
	return groups
}

// nearest picks the interval whose start is closest to t within tol. On equal
// distance the earlier start wins; among identical starts the last one in
// sort order wins.
func nearest(g []telemetry.LapInterval, t time.Time, tol time.Duration) (telemetry.LapInterval, bool) {
	// first start strictly after t
	i := sort.Search(len(g), func(k int) bool { return g[k].Start.After(t) })

	var (
		best     telemetry.LapInterval
		bestDist time.Duration
		found    bool
	)
	if i > 0 {
		best, bestDist, found = g[i-1], t.Sub(g[i-1].Start), true
	}
	if i < len(g) {
		if d := g[i].Start.Sub(t); !found || d < bestDist {
			best, bestDist, found = g[i], d, true
		}
	}
	if !found || bestDist > tol {
		return telemetry.LapInterval{}, false
	}
	return best, true
}
