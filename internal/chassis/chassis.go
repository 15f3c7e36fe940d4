// Package chassis derives the canonical physical-car key from a raw vehicle
// identifier.
//
// Timing exports label the same car differently across sessions
// ("GR86-002-000", "X-002-000"), but the last two hyphen-delimited segments
// (chassis number + car suffix) are stable. Key reduces an identifier to
// those two segments so laps and telemetry from either export can be joined.
package chassis

import (
	"errors"
	"fmt"
	"strings"
)

// ErrShortIdentifier is wrapped by ValidationError when an identifier has
// fewer than two hyphen-delimited segments.
var ErrShortIdentifier = errors.New("vehicle identifier has fewer than two segments")

// ValidationError reports an identifier that cannot produce a chassis key.
type ValidationError struct {
	VehicleID string
	Err       error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("chassis: invalid vehicle id %q: %v", e.VehicleID, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Key returns the last two segments of vehicleID joined by "-".
//
// Key is idempotent: Key(Key(x)) == Key(x) for every x that Key accepts.
func Key(vehicleID string) (string, error) {
	id := strings.TrimSpace(vehicleID)
	parts := strings.Split(id, "-")
	if id == "" || len(parts) < 2 {
		return "", &ValidationError{VehicleID: vehicleID, Err: ErrShortIdentifier}
	}
	return parts[len(parts)-2] + "-" + parts[len(parts)-1], nil
}

// Number returns the last segment of vehicleID (the car number suffix), or
// the trimmed identifier itself when it has no hyphen.
func Number(vehicleID string) string {
	id := strings.TrimSpace(vehicleID)
	if i := strings.LastIndexByte(id, '-'); i >= 0 {
		return id[i+1:]
	}
	return id
}
