package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// TestHelperProcess runs main() when re-invoked by runCmd. Arguments after
// "--" become the command line.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := []string{os.Args[0]}
	for i, a := range os.Args {
		if a == "--" {
			args = append(args, os.Args[i+1:]...)
			break
		}
	}
	os.Args = args
	main()
	os.Exit(0)
}

// runCmd re-executes the test binary as the probe command.
func runCmd(t *testing.T, args ...string) (stdout, stderr string, exitCode int) {
	t.Helper()

	cmd := exec.Command(os.Args[0], append([]string{"-test.run=TestHelperProcess", "--"}, args...)...)
	cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1")
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout, cmd.Stderr = &outBuf, &errBuf

	err := cmd.Run()
	var ee *exec.ExitError
	switch {
	case err == nil:
		return outBuf.String(), errBuf.String(), 0
	case errors.As(err, &ee):
		return outBuf.String(), errBuf.String(), ee.ExitCode()
	}
	t.Fatalf("run helper: %v", err)
	return "", "", 1
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestMain_File_PrintsReport(t *testing.T) {
	t.Parallel()

	csvPath := filepath.Join(t.TempDir(), "barber_telemetry_R1.csv")
	writeFile(t, csvPath, strings.Join([]string{
		"Telemetry_Name,telemetry_value,vehicle_id,timestamp",
		"speed,80.5,GR86-002-000,2025-04-04T18:01:41Z",
		"gear,3,GR86-002-000,2025-04-04T18:01:42Z",
		"speed,91,GR86-004-78,2025-04-04T18:01:43Z",
		"",
	}, "\n"))

	stdout, stderr, code := runCmd(t, "-file", csvPath)
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d\nstderr:\n%s\nstdout:\n%s", code, stderr, stdout)
	}
	for _, want := range []string{
		"rows=3 bad_records=0 truncated=false time_column=timestamp",
		"telemetry_name",
		"vehicles=GR86-002-000,GR86-004-78",
	} {
		if !strings.Contains(stdout, want) {
			t.Fatalf("stdout missing %q:\n%s", want, stdout)
		}
	}
}

func TestMain_File_NoTimeColumn(t *testing.T) {
	t.Parallel()

	csvPath := filepath.Join(t.TempDir(), "laps.csv")
	writeFile(t, csvPath, "lap,vehicle_id\n1,GR86-002-000\n")

	stdout, stderr, code := runCmd(t, "-file", csvPath, "-time-columns", "meta_time")
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d\nstderr:\n%s", code, stderr)
	}
	if !strings.Contains(stdout, "time_column=<none>") {
		t.Fatalf("stdout=%s", stdout)
	}
}

func TestMain_Discover_EmitsJSONTracks(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for _, race := range []string{"R1", "R2"} {
		body := "telemetry_name,telemetry_value,vehicle_id,meta_time\n" +
			"speed,1,GR86-002-000,2025-04-04T18:01:41Z\n"
		if race == "R2" {
			body += "speed,1,X-002-000,2025-04-04T18:01:41Z\n"
		}
		writeFile(t, filepath.Join(dir, "barber", race, fmt.Sprintf("barber_telemetry_%s.csv", race)), body)
	}

	stdout, stderr, code := runCmd(t, "-discover", dir, "-format", "json")
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d\nstderr:\n%s", code, stderr)
	}
	var doc struct {
		Tracks []struct {
			Name  string              `json:"name"`
			Races []string            `json:"races"`
			Cars  map[string][]string `json:"cars"`
		} `json:"tracks"`
	}
	if err := json.Unmarshal([]byte(stdout), &doc); err != nil {
		t.Fatalf("stdout is not valid JSON: %v\n%s", err, stdout)
	}
	if len(doc.Tracks) != 1 || doc.Tracks[0].Name != "barber" || strings.Join(doc.Tracks[0].Races, ",") != "R1,R2" {
		t.Fatalf("tracks=%+v", doc.Tracks)
	}
	if got := strings.Join(doc.Tracks[0].Cars["002-000"], ","); got != "GR86-002-000,X-002-000" {
		t.Fatalf("cars[002-000]=%q", got)
	}
}

func TestMain_Discover_YAML(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "sonoma", "R1", "sonoma_telemetry_R1.csv"),
		"telemetry_name,telemetry_value,vehicle_id,meta_time\nspeed,1,GR86-010-16,2025-04-04T18:01:41Z\n")

	stdout, stderr, code := runCmd(t, "-discover", dir)
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d\nstderr:\n%s", code, stderr)
	}
	for _, want := range []string{"tracks:", "name: sonoma", "GR86-010-16"} {
		if !strings.Contains(stdout, want) {
			t.Fatalf("stdout missing %q:\n%s", want, stdout)
		}
	}
}

func TestMain_MissingInput_ExitsWith2(t *testing.T) {
	t.Parallel()

	stdout, stderr, code := runCmd(t /* no args */)
	if code != 2 {
		t.Fatalf("expected exit code 2, got %d\nstderr:\n%s\nstdout:\n%s", code, stderr, stdout)
	}
	if !strings.Contains(stderr, "missing -file or -discover") {
		t.Fatalf("expected missing input message on stderr, got:\n%s", stderr)
	}
}
