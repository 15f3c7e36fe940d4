package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const packed = "lap,meta_event,meta_session,meta_source,meta_time,outing,timestamp,value,vehicle_id\n" +
	`3,I_R06,R2,kafka,2025-03-15T15:00:00Z,0,2025-03-15T15:00:00.1Z,"[{""name"":""speed"",""value"":80.5},{""name"":""gear"",""value"":3}]",GR86-004-78` + "\n" +
	`4,I_R06,R2,kafka,2025-03-15T15:00:01Z,0,2025-03-15T15:00:01.1Z,"not json",GR86-004-78` + "\n"

func TestRun_ExpandsAndRenames(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "packed.csv")
	out := filepath.Join(dir, "expanded.csv")
	if err := os.WriteFile(in, []byte(packed), 0o600); err != nil {
		t.Fatal(err)
	}

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-in", in, "-out", out, "-v"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("code=%d stderr=%q", code, stderr.String())
	}
	if !strings.HasPrefix(stdout.String(), "ok rows=2 written=2 malformed=1") {
		t.Fatalf("stdout=%q", stdout.String())
	}
	if !strings.Contains(stderr.String(), "stage=repair line=3 skipped") {
		t.Fatalf("stderr=%q", stderr.String())
	}

	b, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) != 3 || !strings.HasPrefix(lines[0], "expire_at,lap,") {
		t.Fatalf("output:\n%s", b)
	}
	if !strings.Contains(lines[1], ",speed,80.5,") || !strings.Contains(lines[2], ",gear,3,") {
		t.Fatalf("output:\n%s", b)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 2 {
		t.Fatalf("temp file left behind: %v", entries)
	}
}

func TestRun_MissingColumnLeavesNoOutput(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "packed.csv")
	out := filepath.Join(dir, "expanded.csv")
	if err := os.WriteFile(in, []byte("meta_event,value\ne,[]\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), []string{"-in", in, "-out", out}, &stdout, &stderr); code != 1 {
		t.Fatalf("code=%d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "missing column") {
		t.Fatalf("stderr=%q", stderr.String())
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Fatalf("output exists after failure: %v", err)
	}
}

func TestRun_Usage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), []string{"-in", "x.csv"}, &stdout, &stderr); code != 2 {
		t.Fatalf("code=%d, want 2", code)
	}
	if !strings.Contains(stderr.String(), "usage:") {
		t.Fatalf("stderr=%q", stderr.String())
	}
}
