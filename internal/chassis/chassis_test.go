package chassis

import (
	"errors"
	"testing"
)

func TestKey(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "three_segments", in: "GR86-002-000", want: "002-000"},
		{name: "other_prefix", in: "X-002-000", want: "002-000"},
		{name: "many_segments", in: "TOYOTA-GR86-013-47", want: "013-47"},
		{name: "already_normalized", in: "002-000", want: "002-000"},
		{name: "surrounding_space", in: "  GR86-004-78 ", want: "004-78"},
		{name: "empty_segments_count", in: "-", want: "-"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Key(tc.in)
			if err != nil {
				t.Fatalf("Key(%q) error: %v", tc.in, err)
			}
			if got != tc.want {
				t.Fatalf("Key(%q)=%q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestKey_Idempotent(t *testing.T) {
	for _, in := range []string{"GR86-002-000", "X-002-000", "a-b", "GR86-022-13"} {
		once, err := Key(in)
		if err != nil {
			t.Fatalf("Key(%q) error: %v", in, err)
		}
		twice, err := Key(once)
		if err != nil {
			t.Fatalf("Key(%q) error: %v", once, err)
		}
		if once != twice {
			t.Fatalf("Key not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestKey_SamePhysicalCar(t *testing.T) {
	a, _ := Key("GR86-002-000")
	b, _ := Key("X-002-000")
	if a != b {
		t.Fatalf("expected equal keys, got %q and %q", a, b)
	}
}

func TestKey_ShortIdentifier(t *testing.T) {
	for _, in := range []string{"", "   ", "GR86"} {
		_, err := Key(in)
		if err == nil {
			t.Fatalf("Key(%q) expected error", in)
		}
		if !errors.Is(err, ErrShortIdentifier) {
			t.Fatalf("Key(%q) error=%v, want ErrShortIdentifier", in, err)
		}
		var ve *ValidationError
		if !errors.As(err, &ve) || ve.VehicleID != in {
			t.Fatalf("Key(%q) expected *ValidationError carrying the input, got %#v", in, err)
		}
	}
}

func TestNumber(t *testing.T) {
	if got := Number("GR86-002-000"); got != "000" {
		t.Fatalf("Number=%q, want 000", got)
	}
	if got := Number("GR86"); got != "GR86" {
		t.Fatalf("Number=%q, want GR86", got)
	}
}
