package pipeline

import (
	"context"
	"fmt"
	"io/fs"
	"sync"
	"time"

	"laptel/internal/config"
	"laptel/internal/discovery"
	"laptel/internal/probe"
	"laptel/internal/table"
	"laptel/internal/telemetry"
)

// raceInputs are the loaded exports of one race. They are shared read-only by
// every car unit of the race.
type raceInputs struct {
	Start   []telemetry.LapRow
	End     []telemetry.LapRow
	Samples []telemetry.Sample
}

type raceKey struct{ track, race string }

type raceEntry struct {
	load      func() (*raceInputs, error)
	remaining int
}

// raceCache loads each race once and forgets it after its last unit.
type raceCache struct {
	mu      sync.Mutex
	entries map[raceKey]*raceEntry
}

func newRaceCache(ctx context.Context, fsys fs.FS, in config.Input, units []unit, logger Logger) *raceCache {
	c := &raceCache{entries: map[raceKey]*raceEntry{}}
	for _, u := range units {
		k := raceKey{u.Track, u.Race}
		e, ok := c.entries[k]
		if !ok {
			e = &raceEntry{load: sync.OnceValues(func() (*raceInputs, error) {
				return loadRace(ctx, fsys, in, k.track, k.race, logger)
			})}
			c.entries[k] = e
		}
		e.remaining++
	}
	return c
}

func (c *raceCache) get(track, race string) (*raceInputs, error) {
	c.mu.Lock()
	e, ok := c.entries[raceKey{track, race}]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("race %s/%s not scheduled", track, race)
	}
	return e.load()
}

// pinned is the number of races still held.
func (c *raceCache) pinned() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// release drops the race once every unit that needs it has finished.
func (c *raceCache) release(track, race string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := raceKey{track, race}
	if e, ok := c.entries[k]; ok {
		e.remaining--
		if e.remaining <= 0 {
			delete(c.entries, k)
		}
	}
}

func loadRace(ctx context.Context, fsys fs.FS, in config.Input, track, race string, logger Logger) (*raceInputs, error) {
	start := time.Now()
	p := discovery.RacePaths(".", track, race)
	out := &raceInputs{}

	loadLaps := func(name string) ([]telemetry.LapRow, error) {
		tc, err := probe.TimeColumn(fsys, name, in.TimeColumns, in.Parser)
		if err != nil {
			return nil, err
		}
		f, err := fsys.Open(name)
		if err != nil {
			return nil, err
		}
		rows, stats, err := table.LoadLaps(ctx, f, table.DefaultLapColumns(tc), in.Parser)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		logger.Printf("stage=load file=%s time_column=%s %s", name, tc, stats)
		return rows, nil
	}

	var err error
	if out.Start, err = loadLaps(p.LapStart); err != nil {
		return nil, err
	}
	if out.End, err = loadLaps(p.LapEnd); err != nil {
		return nil, err
	}

	tc, err := probe.TimeColumn(fsys, p.Telemetry, in.TimeColumns, in.Parser)
	if err != nil {
		return nil, err
	}
	f, err := fsys.Open(p.Telemetry)
	if err != nil {
		return nil, err
	}
	samples, stats, err := table.LoadTelemetry(ctx, f, table.DefaultTelemetryColumns(tc), in.Parser)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.Telemetry, err)
	}
	logger.Printf("stage=load file=%s time_column=%s %s", p.Telemetry, tc, stats)
	out.Samples = samples

	logger.Printf("stage=race track=%s race=%s ok lap_start=%d lap_end=%d samples=%d duration=%s",
		track, race, len(out.Start), len(out.End), len(out.Samples), durMS(start))
	return out, nil
}
