package discovery

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/google/go-cmp/cmp"

	"laptel/internal/config"
)

func tel(ids ...string) *fstest.MapFile {
	s := "telemetry_name,vehicle_id,meta_time\n"
	for _, id := range ids {
		s += "speed," + id + ",2025-04-04T18:00:00Z\n"
	}
	return &fstest.MapFile{Data: []byte(s)}
}

func TestRacePaths(t *testing.T) {
	got := RacePaths("raw", "barber", "R1")
	want := Paths{
		Telemetry: "raw/barber/R1/barber_telemetry_R1.csv",
		LapStart:  "raw/barber/R1/barber_lap_start_R1.csv",
		LapEnd:    "raw/barber/R1/barber_lap_end_R1.csv",
	}
	if got != want {
		t.Fatalf("RacePaths=%+v, want %+v", got, want)
	}
}

func TestScan(t *testing.T) {
	fsys := fstest.MapFS{
		"raw/barber/R1/barber_telemetry_R1.csv":   tel("GR86-002-000", "GR86-002-000", "GR86-004-78", "bogus"),
		"raw/barber/R2/barber_telemetry_R2.csv":   tel("X-002-000", "GR86-004-78"),
		"raw/barber/R3/notes.txt":                 {Data: []byte("no telemetry here")},
		"raw/.cache/R1/x.csv":                     {Data: []byte("a\n")},
		"raw/sebring/R1/sebring_telemetry_R1.csv": tel("GR86-010-16"),
		"raw/empty/R1/readme":                     {Data: []byte("")},
		"raw/README.md":                           {Data: []byte("top-level file")},
	}

	got, err := Scan(context.Background(), fsys, "raw", nil)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	want := Layout{
		Tracks: []config.Track{
			{
				Name:  "barber",
				Races: []string{"R1", "R2"},
				Cars: map[string][]string{
					"002-000": {"GR86-002-000", "X-002-000"},
					"004-78":  {"GR86-004-78"},
				},
			},
			{
				Name:  "sebring",
				Races: []string{"R1"},
				Cars:  map[string][]string{"010-16": {"GR86-010-16"}},
			},
		},
		SkippedRaces: 2,
		SkippedIDs:   1,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Scan mismatch (-want +got):\n%s", diff)
	}
}

func TestScan_MissingVehicleColumn(t *testing.T) {
	fsys := fstest.MapFS{
		"raw/barber/R1/barber_telemetry_R1.csv": {Data: []byte("telemetry_name,meta_time\nspeed,x\n")},
	}
	if _, err := Scan(context.Background(), fsys, "raw", nil); err == nil {
		t.Fatalf("expected missing column error")
	}
}

func TestScan_MissingBase(t *testing.T) {
	if _, err := Scan(context.Background(), fstest.MapFS{}, "raw", nil); err == nil {
		t.Fatalf("expected error for missing base dir")
	}
}

func TestScan_Canceled(t *testing.T) {
	fsys := fstest.MapFS{"raw/barber/R1/barber_telemetry_R1.csv": tel("GR86-002-000")}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Scan(ctx, fsys, "raw", nil); err == nil {
		t.Fatalf("expected context error")
	}
}
