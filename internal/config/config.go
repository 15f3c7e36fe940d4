// Package config defines the pipeline configuration: what to read, which
// vehicles and channels to keep, how to join, and where to write.
//
// A Pipeline is an immutable value once loaded. Load returns a deep copy the
// caller owns, and the runner passes it by value to every unit.
package config

import (
	"maps"
	"slices"
	"time"
)

// Pipeline is the full run configuration.
type Pipeline struct {
	Job string `koanf:"job" validate:"omitempty,max=64"`

	Input Input `koanf:"input"`

	// Tracks lists what to process. When empty, tracks, races and cars are
	// discovered from Input.Dir.
	Tracks []Track `koanf:"tracks" validate:"dive"`

	// Channels are the telemetry_name values kept by the telemetry filter.
	Channels []string `koanf:"channels" validate:"required,min=1,dive,required"`

	Join    Join    `koanf:"join"`
	Output  Output  `koanf:"output"`
	Storage Storage `koanf:"storage"`
	Runtime Runtime `koanf:"runtime"`
	Metrics Metrics `koanf:"metrics"`
}

// Input locates and parses the raw exports.
type Input struct {
	// Dir holds <track>/<race>/<track>_{lap_start,lap_end,telemetry}_<race>.csv.
	Dir string `koanf:"dir" validate:"required"`

	// TimeColumns are tried in order; the first one present in a file's
	// header is used as that file's timestamp column.
	TimeColumns []string `koanf:"time_columns" validate:"required,min=1,dive,required"`

	// Parser holds CSV options: comma, encoding, lazy_quotes, header_map, ...
	Parser Options `koanf:"parser"`
}

// Track is one circuit with its races and cars.
type Track struct {
	Name  string   `koanf:"name" validate:"required"`
	Races []string `koanf:"races" validate:"required,min=1,dive,required"`

	// Cars maps an output car id (usually the chassis key) to every raw
	// vehicle_id that car appeared under.
	Cars map[string][]string `koanf:"cars" validate:"required,min=1,dive,min=1,dive,required"`
}

// Join configures the lap/telemetry join.
type Join struct {
	// Tolerance is the widest accepted distance between a sample and the
	// nearest lap start. Inclusive.
	Tolerance time.Duration `koanf:"tolerance" validate:"gt=0"`
}

// Output configures the per-unit artifacts.
type Output struct {
	Dir string `koanf:"dir" validate:"required"`

	// Formats: parquet, csv, sql.
	Formats []string `koanf:"formats" validate:"required,min=1,dive,oneof=parquet csv sql"`

	// Compression for parquet: snappy, zstd, gzip, none.
	Compression string `koanf:"compression" validate:"omitempty,oneof=snappy zstd gzip none"`
}

// Storage configures the SQL sink.
type Storage struct {
	Kind  string `koanf:"kind" validate:"omitempty,oneof=sqlite postgres mssql"`
	DSN   string `koanf:"dsn"`
	Table string `koanf:"table"`
}

// Runtime controls execution.
type Runtime struct {
	// Workers bounds concurrently processed units.
	Workers int `koanf:"workers" validate:"gte=1,lte=256"`

	// FailFast cancels the run on the first unit error. Otherwise every unit
	// is attempted and failures are collected.
	FailFast bool `koanf:"fail_fast"`
}

// Metrics selects a metrics backend.
type Metrics struct {
	Backend        string        `koanf:"backend" validate:"omitempty,oneof=none pushgateway datadog"`
	PushgatewayURL string        `koanf:"pushgateway_url" validate:"omitempty,url"`
	Tags           []string      `koanf:"tags"`
	FlushEvery     time.Duration `koanf:"flush_every"`
}

// HasFormat reports whether f is among the output formats.
func (o Output) HasFormat(f string) bool { return slices.Contains(o.Formats, f) }

// Clone returns a deep copy of p.
func (p Pipeline) Clone() Pipeline {
	out := p
	out.Input.TimeColumns = slices.Clone(p.Input.TimeColumns)
	out.Input.Parser = cloneOptions(p.Input.Parser)
	out.Channels = slices.Clone(p.Channels)
	out.Output.Formats = slices.Clone(p.Output.Formats)
	out.Metrics.Tags = slices.Clone(p.Metrics.Tags)
	if p.Tracks != nil {
		out.Tracks = make([]Track, len(p.Tracks))
		for i, t := range p.Tracks {
			out.Tracks[i] = t.Clone()
		}
	}
	return out
}

// Clone returns a deep copy of t.
func (t Track) Clone() Track {
	out := Track{Name: t.Name, Races: slices.Clone(t.Races)}
	if t.Cars != nil {
		out.Cars = make(map[string][]string, len(t.Cars))
		for k, v := range t.Cars {
			out.Cars[k] = slices.Clone(v)
		}
	}
	return out
}

// CarIDs returns the car ids of t, sorted.
func (t Track) CarIDs() []string {
	return slices.Sorted(maps.Keys(t.Cars))
}

func cloneOptions(o Options) Options {
	if o == nil {
		return nil
	}
	out := make(Options, len(o))
	for k, v := range o {
		if m, ok := v.(map[string]any); ok {
			v = maps.Clone(m)
		}
		out[k] = v
	}
	return out
}
