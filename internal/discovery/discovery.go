// Package discovery finds tracks, races and cars under an input directory
// laid out as <base>/<track>/<race>/<track>_{lap_start,lap_end,telemetry}_<race>.csv.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"

	"laptel/internal/chassis"
	"laptel/internal/config"
	"laptel/internal/table"
)

// File kinds of a race directory.
const (
	KindTelemetry = "telemetry"
	KindLapStart  = "lap_start"
	KindLapEnd    = "lap_end"
)

// Paths are the three exports of one race, relative to the fs root.
type Paths struct {
	Telemetry string
	LapStart  string
	LapEnd    string
}

// RacePaths returns the export paths of track/race under base.
func RacePaths(base, track, race string) Paths {
	file := func(kind string) string {
		return path.Join(base, track, race, fmt.Sprintf("%s_%s_%s.csv", track, kind, race))
	}
	return Paths{
		Telemetry: file(KindTelemetry),
		LapStart:  file(KindLapStart),
		LapEnd:    file(KindLapEnd),
	}
}

// Layout is the result of Scan.
type Layout struct {
	Tracks []config.Track

	// SkippedRaces counts race directories without a telemetry export.
	SkippedRaces int
	// SkippedIDs counts vehicle ids that do not yield a chassis key.
	SkippedIDs int
}

// Scan lists track and race directories under base (sorted, dot-directories
// ignored) and derives each track's cars from the vehicle_id column of its
// telemetry exports. Vehicle ids seen for one chassis across races are merged.
func Scan(ctx context.Context, fsys fs.FS, base string, opt config.Options) (Layout, error) {
	if base == "" {
		base = "."
	}
	var out Layout

	tracks, err := subdirs(fsys, base)
	if err != nil {
		return Layout{}, fmt.Errorf("discovery: %w", err)
	}
	for _, track := range tracks {
		races, err := subdirs(fsys, path.Join(base, track))
		if err != nil {
			return Layout{}, fmt.Errorf("discovery: %w", err)
		}

		t := config.Track{Name: track, Cars: map[string][]string{}}
		for _, race := range races {
			if err := ctx.Err(); err != nil {
				return Layout{}, err
			}
			p := RacePaths(base, track, race).Telemetry
			f, err := fsys.Open(p)
			if errors.Is(err, fs.ErrNotExist) {
				out.SkippedRaces++
				continue
			}
			if err != nil {
				return Layout{}, fmt.Errorf("discovery: %w", err)
			}
			ids, err := table.LoadColumn(ctx, f, "vehicle_id", opt)
			if err != nil {
				return Layout{}, fmt.Errorf("discovery: %s: %w", p, err)
			}
			t.Races = append(t.Races, race)
			out.SkippedIDs += mergeCars(t.Cars, ids)
		}
		if len(t.Races) == 0 {
			continue
		}
		for k := range t.Cars {
			slices.Sort(t.Cars[k])
		}
		out.Tracks = append(out.Tracks, t)
	}
	return out, nil
}

// mergeCars adds every distinct id to cars under its chassis key and returns
// the number of ids that had no key.
func mergeCars(cars map[string][]string, ids []string) (skipped int) {
	seen := map[string]bool{}
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		key, err := chassis.Key(id)
		if err != nil {
			skipped++
			continue
		}
		if !slices.Contains(cars[key], id) {
			cars[key] = append(cars[key], id)
		}
	}
	return skipped
}

func subdirs(fsys fs.FS, dir string) ([]string, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			out = append(out, e.Name())
		}
	}
	// ReadDir sorts by name already
	return out, nil
}
