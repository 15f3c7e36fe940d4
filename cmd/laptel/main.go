// Command laptel joins lap timing and telemetry exports into one dataset per
// (track, race, car).
//
// Configuration is layered: built-in defaults, the optional -config file
// (YAML or JSON), LAPTEL_* environment variables, then the flags below.
// With -validate the configuration is checked and the command exits.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"laptel/internal/config"
	"laptel/internal/metrics"
	"laptel/internal/metrics/datadog"
	"laptel/internal/metrics/prompush"
	"laptel/internal/pipeline"

	// register all backends with the storage factory.
	_ "laptel/internal/storage/all"
)

// runner is the pipeline seam used by runMain.
type runner interface {
	Run(ctx context.Context, cfg config.Pipeline) (pipeline.Report, error)
}

// metricsBackend is what initMetrics needs from a backend: a final flush.
type metricsBackend interface {
	Close() error
}

type appDeps struct {
	loadConfig  func(path string) (config.Pipeline, error)
	newRunner   func(verbose bool) runner
	initMetrics func(ctx context.Context, jobName string, m config.Metrics) (func(), error)
}

func defaultDeps() appDeps {
	return appDeps{
		loadConfig: config.Load,
		newRunner: func(verbose bool) runner {
			r := pipeline.NewDefaultRunner()
			if !verbose {
				r.NewLogger = func(io.Writer) pipeline.Logger { return log.New(io.Discard, "", 0) }
			}
			return r
		},
		initMetrics: initMetrics,
	}
}

// seams for initMetrics tests
var (
	newDatadogBackend = func(ctx context.Context, opts datadog.Options) (metricsBackend, error) {
		return datadog.NewBackend(ctx, opts)
	}
	newPushBackend = func(job, url string) (metricsBackend, error) {
		b, err := prompush.NewBackend(job, url)
		if err != nil {
			return nil, err
		}
		return pushCloser{b}, nil
	}
	setMetricsBackend = func(b any) {
		if mb, ok := b.(metrics.Backend); ok {
			metrics.SetBackend(mb)
		}
	}
	logPrintf = log.Printf
)

// pushCloser pushes once at shutdown.
type pushCloser struct{ *prompush.Backend }

func (p pushCloser) Close() error { return p.Flush() }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, defaultDeps())
	stop()
	os.Exit(code)
}

func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	fs := flag.NewFlagSet("laptel", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		cfgPath     = fs.String("config", "", "pipeline config (YAML or JSON); defaults apply when empty")
		inputDir    = fs.String("input", "", "override input.dir")
		outputDir   = fs.String("output", "", "override output.dir")
		workers     = fs.Int("workers", 0, "override runtime.workers")
		failFast    = fs.Bool("fail-fast", false, "stop at the first failed unit")
		backendFlag = fs.String("metrics-backend", "", "metrics backend: none|pushgateway|datadog (overrides METRICS_BACKEND and config)")
		gatewayFlag = fs.String("pushgateway-url", "", "Pushgateway base URL (overrides env PUSHGATEWAY_URL)")
		validate    = fs.Bool("validate", false, "validate the configuration and exit")
		verbose     = fs.Bool("v", false, "enable verbose logs")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "usage: laptel [-config pipeline.yaml] [flags]; unexpected argument %q\n", fs.Arg(0))
		return 2
	}

	cfg, err := deps.loadConfig(strings.TrimSpace(*cfgPath))
	if err != nil {
		fmt.Fprintf(stderr, "read config: %v\n", err)
		return 1
	}
	if *inputDir != "" {
		cfg.Input.Dir = *inputDir
	}
	if *outputDir != "" {
		cfg.Output.Dir = *outputDir
	}
	if *workers > 0 {
		cfg.Runtime.Workers = *workers
	}
	if *failFast {
		cfg.Runtime.FailFast = true
	}

	// Decide metrics backend: flag → env → config.
	m := cfg.Metrics
	switch {
	case *backendFlag != "":
		m.Backend = *backendFlag
	case os.Getenv("METRICS_BACKEND") != "":
		m.Backend = os.Getenv("METRICS_BACKEND")
	}
	switch {
	case *gatewayFlag != "":
		m.PushgatewayURL = *gatewayFlag
	case os.Getenv("PUSHGATEWAY_URL") != "":
		m.PushgatewayURL = os.Getenv("PUSHGATEWAY_URL")
	}
	cfg.Metrics = m

	hasError := false
	for _, iss := range config.ValidatePipeline(cfg) {
		if iss.Severity == config.SeverityWarning && !*verbose && !*validate {
			continue
		}
		fmt.Fprintf(stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
		if iss.Severity == config.SeverityError {
			hasError = true
		}
	}
	if hasError {
		fmt.Fprintf(stderr, "configuration is invalid: %s\n", displayPath(*cfgPath))
		return 1
	}
	if *validate {
		fmt.Fprintf(stdout, "configuration is valid: %s\n", displayPath(*cfgPath))
		return 0
	}

	cleanup, err := deps.initMetrics(ctx, cfg.Job, m)
	if err != nil {
		fmt.Fprintf(stderr, "init metrics: %v\n", err)
		return 1
	}
	defer cleanup()

	rep, err := deps.newRunner(*verbose).Run(ctx, cfg)
	for _, f := range rep.Failures {
		fmt.Fprintf(stderr, "failed: %s\n", f)
	}
	if err != nil {
		fmt.Fprintf(stderr, "run: %v\n", err)
		if errors.Is(err, pipeline.ErrUnitsFailed) {
			fmt.Fprintf(stdout, "partial %s\n", rep)
		}
		return 1
	}
	fmt.Fprintf(stdout, "ok %s\n", rep)
	return 0
}

func displayPath(p string) string {
	if strings.TrimSpace(p) == "" {
		return "<defaults>"
	}
	return p
}

// initMetrics wires the selected backend into the metrics package and returns
// a cleanup that performs the final flush. cleanup is never nil.
func initMetrics(ctx context.Context, jobName string, m config.Metrics) (func(), error) {
	noop := func() {}
	if jobName == "" {
		jobName = "laptel"
	}

	switch strings.ToLower(strings.TrimSpace(m.Backend)) {
	case "", "none":
		return noop, nil

	case "pushgateway":
		url := m.PushgatewayURL
		if url == "" {
			url = "http://localhost:9091"
		}
		b, err := newPushBackend(jobName, url)
		if err != nil {
			return noop, fmt.Errorf("pushgateway backend: %w", err)
		}
		setMetricsBackend(b)
		return func() {
			if err := b.Close(); err != nil {
				logPrintf("metrics: pushgateway push error: %v", err)
			}
		}, nil

	case "datadog":
		tags := append([]string(nil), m.Tags...)
		tags = append(tags, datadog.ParseTagsCSV(os.Getenv("METRICS_TAGS"))...)
		b, err := newDatadogBackend(ctx, datadog.Options{
			JobName:    jobName,
			Tags:       tags,
			FlushEvery: m.FlushEvery,
		})
		if err != nil {
			return noop, fmt.Errorf("datadog backend: %w", err)
		}
		setMetricsBackend(b)
		return func() {
			// Close stops the flush loop, then flushes once more.
			if err := b.Close(); err != nil {
				logPrintf("metrics: datadog close error: %v", err)
			}
		}, nil

	default:
		return noop, fmt.Errorf("unknown metrics backend %q (want none|pushgateway|datadog)", m.Backend)
	}
}
