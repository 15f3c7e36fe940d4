package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes environment overrides. A double underscore separates
// nesting levels: LAPTEL_OUTPUT__DIR sets output.dir.
const EnvPrefix = "LAPTEL_"

// Defaults returns the built-in configuration.
func Defaults() Pipeline {
	return Pipeline{
		Job:      "laptel",
		Input:    Input{Dir: "raw", TimeColumns: []string{"meta_time", "timestamp"}},
		Channels: []string{"gear", "speed", "nmot"},
		Join:     Join{Tolerance: 2 * time.Second},
		Output:   Output{Dir: "data", Formats: []string{"parquet"}, Compression: "snappy"},
		Storage:  Storage{Table: "lap_telemetry"},
		Runtime:  Runtime{Workers: 4},
		Metrics:  Metrics{Backend: "none", FlushEvery: time.Minute},
	}
}

func defaultKeys() map[string]any {
	d := Defaults()
	return map[string]any{
		"job":                 d.Job,
		"input.dir":           d.Input.Dir,
		"input.time_columns":  d.Input.TimeColumns,
		"channels":            d.Channels,
		"join.tolerance":      d.Join.Tolerance.String(),
		"output.dir":          d.Output.Dir,
		"output.formats":      d.Output.Formats,
		"output.compression":  d.Output.Compression,
		"storage.table":       d.Storage.Table,
		"runtime.workers":     d.Runtime.Workers,
		"metrics.backend":     d.Metrics.Backend,
		"metrics.flush_every": d.Metrics.FlushEvery.String(),
	}
}

// Load layers defaults, the YAML/JSON file at path (optional when empty) and
// LAPTEL_ environment variables, then decodes the result. It does not
// validate; call ValidatePipeline.
func Load(path string) (Pipeline, error) {
	k := koanf.New(".")

	for key, v := range defaultKeys() {
		if err := k.Set(key, v); err != nil {
			return Pipeline{}, fmt.Errorf("config defaults: %w", err)
		}
	}

	if path != "" {
		// YAML is a superset of JSON, so one parser covers both.
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Pipeline{}, fmt.Errorf("load config %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return Pipeline{}, fmt.Errorf("load env: %w", err)
	}

	var p Pipeline
	if err := k.UnmarshalWithConf("", &p, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Pipeline{}, fmt.Errorf("decode config: %w", err)
	}
	return p.Clone(), nil
}

// envKey maps LAPTEL_OUTPUT__DIR to output.dir.
func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}
