// Package filter restricts typed lap and telemetry rows to the configured
// vehicles and channels and tags every surviving row with its chassis key.
package filter

import (
	"fmt"
	"sort"

	"laptel/internal/chassis"
	"laptel/internal/telemetry"
)

// VehicleSet is a set of raw vehicle identifiers.
type VehicleSet map[string]struct{}

// NewVehicleSet builds a set from ids; duplicates collapse.
func NewVehicleSet(ids ...string) VehicleSet {
	s := make(VehicleSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports whether id is in the set.
func (s VehicleSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the members in lexical order.
func (s VehicleSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ChannelSet is a set of telemetry channel names.
type ChannelSet map[string]struct{}

// NewChannelSet builds a set from names.
func NewChannelSet(names ...string) ChannelSet {
	s := make(ChannelSet, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

// Has reports whether name is in the set.
func (s ChannelSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Laps keeps the rows whose vehicle id is allowed and sets their Chassis.
// An allowed id that cannot produce a chassis key fails the call.
func Laps(rows []telemetry.LapRow, allowed VehicleSet) ([]telemetry.LapRow, error) {
	keys := make(map[string]string, len(allowed))
	out := make([]telemetry.LapRow, 0, len(rows))
	for _, r := range rows {
		if !allowed.Has(r.VehicleID) {
			continue
		}
		k, err := cachedKey(keys, r.VehicleID)
		if err != nil {
			return nil, fmt.Errorf("filter laps: %w", err)
		}
		r.Chassis = k
		out = append(out, r)
	}
	return out, nil
}

// Telemetry keeps the samples whose vehicle id is allowed and whose channel
// is in channels, and sets their Chassis.
func Telemetry(rows []telemetry.Sample, allowed VehicleSet, channels ChannelSet) ([]telemetry.Sample, error) {
	keys := make(map[string]string, len(allowed))
	out := make([]telemetry.Sample, 0, len(rows)/2)
	for _, r := range rows {
		if !channels.Has(r.Name) || !allowed.Has(r.VehicleID) {
			continue
		}
		k, err := cachedKey(keys, r.VehicleID)
		if err != nil {
			return nil, fmt.Errorf("filter telemetry: %w", err)
		}
		r.Chassis = k
		out = append(out, r)
	}
	return out, nil
}

func cachedKey(cache map[string]string, id string) (string, error) {
	if k, ok := cache[id]; ok {
		return k, nil
	}
	k, err := chassis.Key(id)
	if err != nil {
		return "", err
	}
	cache[id] = k
	return k, nil
}
