package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"laptel/internal/config"
	"laptel/internal/metrics/datadog"
	"laptel/internal/pipeline"
)

// fakeRunner records the config it was given and returns a canned result.
type fakeRunner struct {
	rep   pipeline.Report
	err   error
	calls atomic.Int64

	mu      sync.Mutex
	lastCfg config.Pipeline
}

func (r *fakeRunner) Run(ctx context.Context, cfg config.Pipeline) (pipeline.Report, error) {
	r.calls.Add(1)
	r.mu.Lock()
	r.lastCfg = cfg
	r.mu.Unlock()
	return r.rep, r.err
}

type fakeMetricsBackend struct {
	closeErr error
	closed   atomic.Int64
}

func (b *fakeMetricsBackend) Close() error {
	b.closed.Add(1)
	return b.closeErr
}

func validConfig() config.Pipeline {
	cfg := config.Defaults()
	cfg.Job = "job1"
	cfg.Tracks = []config.Track{{Name: "barber", Races: []string{"R1"}, Cars: map[string][]string{"002-000": {"GR86-002-000"}}}}
	return cfg
}

func mustNotCall(t *testing.T) appDeps {
	return appDeps{
		loadConfig: func(string) (config.Pipeline, error) {
			t.Fatalf("loadConfig must not be called on usage errors")
			return config.Pipeline{}, nil
		},
		newRunner: func(bool) runner {
			t.Fatalf("newRunner must not be called on usage errors")
			return &fakeRunner{}
		},
		initMetrics: func(context.Context, string, config.Metrics) (func(), error) {
			t.Fatalf("initMetrics must not be called on usage errors")
			return func() {}, nil
		},
	}
}

func TestRunMain_UsageErrors(t *testing.T) {
	tests := []struct {
		name          string
		args          []string
		wantStderrSub string
	}{
		{"unknown_flag", []string{"-nope"}, "flag provided but not defined"},
		{"positional_argument", []string{"pipeline.yaml"}, "usage: laptel"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			code := runMain(context.Background(), tc.args, &stdout, &stderr, mustNotCall(t))
			if code != 2 {
				t.Fatalf("exit code=%d, want 2; stderr=%q", code, stderr.String())
			}
			if !strings.Contains(stderr.String(), tc.wantStderrSub) {
				t.Fatalf("stderr=%q, want contains %q", stderr.String(), tc.wantStderrSub)
			}
			if stdout.Len() != 0 {
				t.Fatalf("stdout=%q, want empty", stdout.String())
			}
		})
	}
}

func TestRunMain_FullFlow(t *testing.T) {
	tests := []struct {
		name             string
		loadErr          error
		invalid          bool
		initMetricsErr   error
		runErr           error
		wantCode         int
		wantStderrSub    string
		wantStdoutPrefix string
		wantRunnerCalls  int64
		wantCleanupCalls int64
	}{
		{name: "load_config_error", loadErr: errors.New("no such file"), wantCode: 1, wantStderrSub: "read config:"},
		{name: "invalid_config", invalid: true, wantCode: 1, wantStderrSub: "error: channels: is required"},
		{name: "init_metrics_error", initMetricsErr: errors.New("metrics unavailable"), wantCode: 1, wantStderrSub: "init metrics:"},
		{name: "runner_error_runs_cleanup", runErr: errors.New("disk full"), wantCode: 1, wantStderrSub: "run:", wantRunnerCalls: 1, wantCleanupCalls: 1},
		{name: "partial_failure", runErr: fmt.Errorf("%w: 1 of 2", pipeline.ErrUnitsFailed), wantCode: 1, wantStderrSub: "failed: track=barber", wantStdoutPrefix: "partial run_id=r1", wantRunnerCalls: 1, wantCleanupCalls: 1},
		{name: "success", wantCode: 0, wantStdoutPrefix: "ok run_id=r1", wantRunnerCalls: 1, wantCleanupCalls: 1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			fr := &fakeRunner{rep: pipeline.Report{RunID: "r1"}, err: tc.runErr}
			if tc.name == "partial_failure" {
				fr.rep.Failures = []pipeline.UnitFailure{{Err: errors.New("boom")}}
				fr.rep.Failures[0].Unit.Track = "barber"
			}

			var cleanupCalls atomic.Int64
			deps := appDeps{
				loadConfig: func(path string) (config.Pipeline, error) {
					if path != "cfg.yaml" {
						t.Fatalf("loadConfig path=%q, want cfg.yaml", path)
					}
					if tc.loadErr != nil {
						return config.Pipeline{}, tc.loadErr
					}
					cfg := validConfig()
					if tc.invalid {
						cfg.Channels = nil
					}
					return cfg, nil
				},
				initMetrics: func(ctx context.Context, jobName string, m config.Metrics) (func(), error) {
					if jobName != "job1" || m.Backend != "none" {
						t.Fatalf("initMetrics job=%q backend=%q", jobName, m.Backend)
					}
					if tc.initMetricsErr != nil {
						return func() {}, tc.initMetricsErr
					}
					return func() { cleanupCalls.Add(1) }, nil
				},
				newRunner: func(bool) runner { return fr },
			}

			code := runMain(context.Background(),
				[]string{"-config", "cfg.yaml", "-metrics-backend", "none", "-output", "out", "-workers", "3"},
				&stdout, &stderr, deps)

			if code != tc.wantCode {
				t.Fatalf("exit code=%d, want %d; stderr=%q", code, tc.wantCode, stderr.String())
			}
			if tc.wantStderrSub != "" && !strings.Contains(stderr.String(), tc.wantStderrSub) {
				t.Fatalf("stderr=%q, want contains %q", stderr.String(), tc.wantStderrSub)
			}
			if tc.wantStdoutPrefix != "" && !strings.HasPrefix(stdout.String(), tc.wantStdoutPrefix) {
				t.Fatalf("stdout=%q, want prefix %q", stdout.String(), tc.wantStdoutPrefix)
			}
			if got := fr.calls.Load(); got != tc.wantRunnerCalls {
				t.Fatalf("runner calls=%d, want %d", got, tc.wantRunnerCalls)
			}
			if got := cleanupCalls.Load(); got != tc.wantCleanupCalls {
				t.Fatalf("cleanup calls=%d, want %d", got, tc.wantCleanupCalls)
			}
			if tc.wantRunnerCalls > 0 {
				fr.mu.Lock()
				defer fr.mu.Unlock()
				if fr.lastCfg.Output.Dir != "out" || fr.lastCfg.Runtime.Workers != 3 {
					t.Fatalf("flag overrides not applied: %+v", fr.lastCfg)
				}
			}
		})
	}
}

func TestRunMain_ValidateOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	body := "job: barber\ntracks:\n  - name: barber\n    races: [R1]\n    cars:\n      \"002-000\": [GR86-002-000]\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	deps := defaultDeps()
	deps.newRunner = func(bool) runner {
		t.Fatalf("runner must not be built with -validate")
		return nil
	}
	var stdout, stderr bytes.Buffer
	code := runMain(context.Background(), []string{"-config", path, "-validate"}, &stdout, &stderr, deps)
	if code != 0 || !strings.Contains(stdout.String(), "configuration is valid") {
		t.Fatalf("code=%d stdout=%q stderr=%q", code, stdout.String(), stderr.String())
	}
}

func TestRunMain_EndToEnd(t *testing.T) {
	in := t.TempDir()
	race := filepath.Join(in, "barber", "R1")
	if err := os.MkdirAll(race, 0o755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		"barber_lap_start_R1.csv": "lap,meta_time,vehicle_id\n1,2025-04-04T18:01:40Z,GR86-002-000\n",
		"barber_lap_end_R1.csv":   "lap,meta_time,vehicle_id\n1,2025-04-04T18:02:40Z,GR86-002-000\n",
		"barber_telemetry_R1.csv": "telemetry_name,telemetry_value,vehicle_id,meta_time\n" +
			"speed,80.5,GR86-002-000,2025-04-04T18:01:41Z\nspeed,90,GR86-002-000,2025-04-04T18:02:50Z\n",
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(race, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	out := t.TempDir()

	var stdout, stderr bytes.Buffer
	code := runMain(context.Background(), []string{"-input", in, "-output", out, "-metrics-backend", "none"}, &stdout, &stderr, defaultDeps())
	if code != 0 {
		t.Fatalf("code=%d stderr=%q", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "units_ok=1") || !strings.Contains(stdout.String(), "joined=1") {
		t.Fatalf("stdout=%q", stdout.String())
	}
	if _, err := os.Stat(filepath.Join(out, "barber_R1_002-000.parquet")); err != nil {
		t.Fatalf("parquet output missing: %v", err)
	}
}

func withSeams(t *testing.T) *bytes.Buffer {
	t.Helper()
	oldDD, oldPush, oldSet, oldLog := newDatadogBackend, newPushBackend, setMetricsBackend, logPrintf
	t.Cleanup(func() {
		newDatadogBackend, newPushBackend, setMetricsBackend, logPrintf = oldDD, oldPush, oldSet, oldLog
	})
	var logged bytes.Buffer
	logPrintf = func(format string, v ...any) { fmt.Fprintf(&logged, format, v...) }
	return &logged
}

func TestInitMetrics_None_DoesNotMutateGlobalState(t *testing.T) {
	withSeams(t)
	setMetricsBackend = func(any) { t.Fatalf("setMetricsBackend must not be called for none") }

	for _, name := range []string{"", "none"} {
		cleanup, err := initMetrics(context.Background(), "job", config.Metrics{Backend: name})
		if err != nil || cleanup == nil {
			t.Fatalf("initMetrics(%q)=%v", name, err)
		}
		cleanup()
	}
}

func TestInitMetrics_Datadog_WiresBackendAndCloses(t *testing.T) {
	logged := withSeams(t)
	t.Setenv("METRICS_TAGS", "team:data")
	b := &fakeMetricsBackend{}
	var (
		gotOpts  datadog.Options
		setCalls atomic.Int64
	)
	newDatadogBackend = func(ctx context.Context, opts datadog.Options) (metricsBackend, error) {
		gotOpts = opts
		return b, nil
	}
	setMetricsBackend = func(any) { setCalls.Add(1) }

	cleanup, err := initMetrics(context.Background(), "jobA", config.Metrics{Backend: "datadog", Tags: []string{"env:test"}})
	if err != nil {
		t.Fatalf("initMetrics: %v", err)
	}
	if gotOpts.JobName != "jobA" || strings.Join(gotOpts.Tags, ",") != "env:test,team:data" {
		t.Fatalf("datadog options=%+v", gotOpts)
	}
	if setCalls.Load() != 1 {
		t.Fatalf("setMetricsBackend calls=%d, want 1", setCalls.Load())
	}
	cleanup()
	if b.closed.Load() != 1 || logged.Len() != 0 {
		t.Fatalf("closed=%d log=%q", b.closed.Load(), logged.String())
	}
}

func TestInitMetrics_CloseErrorIsLogged(t *testing.T) {
	logged := withSeams(t)
	b := &fakeMetricsBackend{closeErr: errors.New("push failed")}
	var gotURL string
	newPushBackend = func(job, url string) (metricsBackend, error) {
		gotURL = url
		return b, nil
	}
	setMetricsBackend = func(any) {}

	cleanup, err := initMetrics(context.Background(), "", config.Metrics{Backend: "pushgateway"})
	if err != nil {
		t.Fatalf("initMetrics: %v", err)
	}
	cleanup()
	if gotURL != "http://localhost:9091" {
		t.Fatalf("default gateway url=%q", gotURL)
	}
	if !strings.Contains(logged.String(), "metrics: pushgateway push error") || !strings.Contains(logged.String(), "push failed") {
		t.Fatalf("log=%q", logged.String())
	}
}

func TestInitMetrics_UnknownBackendErrors(t *testing.T) {
	cleanup, err := initMetrics(context.Background(), "job", config.Metrics{Backend: "nope"})
	if err == nil || !strings.Contains(err.Error(), "unknown metrics backend") {
		t.Fatalf("err=%v", err)
	}
	if cleanup == nil {
		t.Fatalf("cleanup=nil, want non-nil")
	}
	cleanup()
}
