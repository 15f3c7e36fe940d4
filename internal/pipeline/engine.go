package pipeline

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"laptel/internal/asof"
	"laptel/internal/config"
	"laptel/internal/filter"
	"laptel/internal/laps"
	"laptel/internal/metrics"
	"laptel/internal/sink"
	"laptel/internal/telemetry"
)

// unit is a sink.Unit plus the vehicle ids it keeps.
type unit struct {
	sink.Unit
	Vehicles filter.VehicleSet
}

// Units expands tracks into (track, race, car) units, ordered by track,
// race and car id.
func Units(tracks []config.Track) []sink.Unit {
	us := expandUnits(tracks)
	out := make([]sink.Unit, len(us))
	for i, u := range us {
		out[i] = u.Unit
	}
	return out
}

func expandUnits(tracks []config.Track) []unit {
	var out []unit
	for _, t := range tracks {
		for _, race := range t.Races {
			for _, car := range t.CarIDs() {
				out = append(out, unit{
					Unit:     sink.Unit{Track: t.Name, Race: race, Car: car},
					Vehicles: filter.NewVehicleSet(t.Cars[car]...),
				})
			}
		}
	}
	return out
}

// Engine processes units against a filesystem holding the raw exports.
type Engine struct {
	FS     fs.FS
	Sinks  *sink.Set
	Logger Logger
}

func (e *Engine) logger() Logger {
	if e.Logger == nil {
		return log.New(discardWriter{}, "", 0)
	}
	return e.Logger
}

// Run processes every unit of cfg.Tracks with at most cfg.Runtime.Workers
// in flight.
//
// With FailFast the first unit error cancels the remaining units and is
// returned. Otherwise every unit is attempted and, when any failed, the
// returned error wraps ErrUnitsFailed. Artifacts already written are kept
// either way.
func (e *Engine) Run(ctx context.Context, cfg config.Pipeline) (Report, error) {
	start := time.Now()
	logger := e.logger()
	units := expandUnits(cfg.Tracks)

	var (
		mu  sync.Mutex
		rep Report
	)

	g, gctx := errgroup.WithContext(ctx)
	workers := cfg.Runtime.Workers
	if workers <= 0 {
		workers = 1
	}
	g.SetLimit(workers)

	cache := newRaceCache(gctx, e.FS, cfg.Input, units, logger)
	channels := filter.NewChannelSet(cfg.Channels...)
	opts := asof.Options{Tolerance: cfg.Join.Tolerance}

	for _, u := range units {
		if gctx.Err() != nil {
			cache.release(u.Track, u.Race)
			mu.Lock()
			rep.Skipped++
			mu.Unlock()
			continue
		}
		g.Go(func() error {
			defer cache.release(u.Track, u.Race)
			if err := gctx.Err(); err != nil {
				mu.Lock()
				rep.Skipped++
				mu.Unlock()
				return nil
			}

			unitStart := time.Now()
			res, err := e.processUnit(gctx, cache, u, channels, opts)
			res.Duration = time.Since(unitStart)
			observeUnit(res, err)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logger.Printf("stage=unit %s failed duration=%s err=%v", u.Unit, durMS(unitStart), err)
				rep.Failures = append(rep.Failures, UnitFailure{Unit: u.Unit, Err: err})
				if cfg.Runtime.FailFast {
					return fmt.Errorf("%s: %w", u.Unit, err)
				}
				return nil
			}
			logger.Printf("stage=unit %s ok laps=%d samples=%d joined=%d duration=%s",
				u.Unit, len(res.lapIntervals), res.Samples, res.Join.Joined, durMS(unitStart))
			rep.Units = append(rep.Units, res.UnitResult)
			return nil
		})
	}

	err := g.Wait()
	rep.Duration = time.Since(start)
	rep.sort()
	logger.Printf("stage=run done %s pinned_races=%d", rep, cache.pinned())

	if err != nil {
		return rep, err
	}
	if err := ctx.Err(); err != nil {
		return rep, err
	}
	if len(rep.Failures) > 0 {
		return rep, fmt.Errorf("%w: %d of %d", ErrUnitsFailed, len(rep.Failures), len(units))
	}
	return rep, nil
}

type unitOutcome struct {
	UnitResult
	lapIntervals []telemetry.LapInterval
}

// processUnit runs filter, assemble, filter, join and write for one unit.
func (e *Engine) processUnit(ctx context.Context, cache *raceCache, u unit, channels filter.ChannelSet, opts asof.Options) (unitOutcome, error) {
	out := unitOutcome{UnitResult: UnitResult{Unit: u.Unit}}

	in, err := cache.get(u.Track, u.Race)
	if err != nil {
		return out, fmt.Errorf("load race: %w", err)
	}

	start, err := filter.Laps(in.Start, u.Vehicles)
	if err != nil {
		return out, err
	}
	end, err := filter.Laps(in.End, u.Vehicles)
	if err != nil {
		return out, err
	}
	out.lapIntervals, out.Laps = laps.Assemble(start, end)

	samples, err := filter.Telemetry(in.Samples, u.Vehicles, channels)
	if err != nil {
		return out, err
	}
	out.Samples = len(samples)

	recs, jstats, err := asof.JoinWithStats(ctx, out.lapIntervals, samples, opts)
	if err != nil {
		return out, fmt.Errorf("join: %w", err)
	}
	out.Join = jstats

	if e.Sinks != nil {
		out.Written, err = e.Sinks.Write(ctx, u.Unit, recs)
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

func observeUnit(res unitOutcome, err error) {
	status := "ok"
	if err != nil {
		status = "failed"
	}
	metrics.IncCounter(metrics.UnitsTotal, 1, metrics.Labels{"status": status})
	metrics.ObserveHistogram(metrics.UnitDurationSeconds, res.Duration.Seconds(), metrics.Labels{"status": status})
	if err != nil {
		return
	}
	j := res.Join
	metrics.IncCounter(metrics.RecordsTotal, float64(len(res.lapIntervals)), metrics.Labels{"kind": "laps"})
	metrics.IncCounter(metrics.RecordsTotal, float64(res.Samples), metrics.Labels{"kind": "samples"})
	metrics.IncCounter(metrics.RecordsTotal, float64(j.Joined), metrics.Labels{"kind": "joined"})
	metrics.IncCounter(metrics.RecordsTotal, float64(j.NullTime+j.NoChassis+j.NoMatch+j.AfterEnd), metrics.Labels{"kind": "dropped"})
}
