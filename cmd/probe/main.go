// Command probe inspects lap and telemetry exports before a pipeline run.
//
// With -file it samples a bounded prefix of one CSV export and prints the
// normalized header, the timestamp column the loaders would pick and a coarse
// type per column.
//
// With -discover it scans an input directory laid out as
// <track>/<race>/<track>_<kind>_<race>.csv and prints a tracks block that
// can be pasted into a pipeline config.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"

	"laptel/internal/config"
	"laptel/internal/discovery"
	"laptel/internal/probe"
)

func main() {
	var (
		flagFile     = flag.String("file", "", "CSV export to sample")
		flagBytes    = flag.Int("bytes", probe.DefaultMaxBytes, "Number of bytes to sample from the start of the file")
		flagTimeCols = flag.String("time-columns", "meta_time,timestamp", "Comma-separated timestamp column candidates, in preference order")
		flagDiscover = flag.String("discover", "", "Input directory to scan for tracks, races and cars")
		flagFormat   = flag.String("format", "yaml", "Output format for -discover: yaml|json")
		flagComma    = flag.String("comma", ",", "CSV field separator")
		flagEncoding = flag.String("encoding", "", "Input encoding (utf-8, utf-16, windows-1252, latin1)")
	)
	flag.Parse()

	parser := config.Options{"comma": *flagComma}
	if *flagEncoding != "" {
		parser["encoding"] = *flagEncoding
	}
	ctx := context.Background()

	switch {
	case *flagDiscover != "":
		if err := discover(ctx, os.Stdout, *flagDiscover, *flagFormat, parser); err != nil {
			fmt.Fprintf(os.Stderr, "discover: %v\n", err)
			os.Exit(1)
		}
	case *flagFile != "":
		opt := probe.Options{
			MaxBytes:    *flagBytes,
			TimeColumns: splitCSV(*flagTimeCols),
			Parser:      parser,
		}
		if err := sample(ctx, os.Stdout, *flagFile, opt); err != nil {
			fmt.Fprintf(os.Stderr, "probe: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintln(os.Stderr, "missing -file or -discover")
		flag.Usage()
		os.Exit(2)
	}
}

func sample(ctx context.Context, w io.Writer, file string, opt probe.Options) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	res, err := probe.Sample(ctx, f, opt)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "file=%s\n", file)
	fmt.Fprint(w, res.Report())
	return nil
}

func discover(ctx context.Context, w io.Writer, dir, format string, parser config.Options) error {
	layout, err := discovery.Scan(ctx, os.DirFS(dir), ".", parser)
	if err != nil {
		return err
	}
	if layout.SkippedRaces > 0 || layout.SkippedIDs > 0 {
		fmt.Fprintf(os.Stderr, "skipped races=%d vehicle_ids=%d\n", layout.SkippedRaces, layout.SkippedIDs)
	}

	tracks := make([]any, 0, len(layout.Tracks))
	for _, t := range layout.Tracks {
		cars := make(map[string]any, len(t.Cars))
		for k, ids := range t.Cars {
			cars[k] = ids
		}
		tracks = append(tracks, map[string]any{"name": t.Name, "races": t.Races, "cars": cars})
	}
	doc := map[string]any{"input": map[string]any{"dir": dir}, "tracks": tracks}

	var b []byte
	switch strings.ToLower(format) {
	case "yaml", "yml":
		b, err = yaml.Parser().Marshal(doc)
	case "json":
		b, err = json.MarshalIndent(doc, "", "  ")
		b = append(b, '\n')
	default:
		return fmt.Errorf("unknown format %q (want yaml|json)", format)
	}
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
