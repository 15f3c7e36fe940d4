// Command fix_packed_telemetry rewrites a telemetry export whose value
// column packs several channels into a JSON array into the long layout
// (one row per channel) that the pipeline loads.
//
// The output is written to a temporary file next to -out and renamed into
// place only when the rewrite succeeds.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"unicode/utf8"

	"laptel/internal/repair"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("fix_packed_telemetry", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		in      = fs.String("in", "", "packed telemetry CSV")
		out     = fs.String("out", "", "expanded CSV to write")
		comma   = fs.String("comma", ",", "input field separator")
		verbose = fs.Bool("v", false, "log skipped rows")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *in == "" || *out == "" {
		fmt.Fprintln(stderr, "usage: fix_packed_telemetry -in packed.csv -out expanded.csv")
		return 2
	}
	sep, _ := utf8.DecodeRuneInString(*comma)
	if *comma == `\t` {
		sep = '\t'
	}

	opts := repair.Options{Comma: sep}
	if *verbose {
		opts.Logger = log.New(stderr, "", log.LstdFlags)
	}
	st, err := expandFile(ctx, *in, *out, opts)
	if err != nil {
		fmt.Fprintf(stderr, "repair: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "ok %s\n", st)
	return 0
}

func expandFile(ctx context.Context, in, out string, opts repair.Options) (repair.Stats, error) {
	src, err := os.Open(in)
	if err != nil {
		return repair.Stats{}, err
	}
	defer src.Close()

	tmp, err := os.CreateTemp(filepath.Dir(out), "."+filepath.Base(out)+".*")
	if err != nil {
		return repair.Stats{}, err
	}
	defer os.Remove(tmp.Name())

	st, err := repair.Expand(ctx, src, tmp, opts)
	if err != nil {
		_ = tmp.Close()
		return st, err
	}
	if err := tmp.Close(); err != nil {
		return st, err
	}
	if err := os.Rename(tmp.Name(), out); err != nil {
		return st, err
	}
	return st, nil
}
