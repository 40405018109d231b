// Package room maps raw lead attributes to canonical routing keys.
package room

import (
	"errors"
	"strings"
)

// GlobalArea is the area slug of the fallback room joined by sessions with no assigned area.
const GlobalArea = "all"

// ErrUnknownDisposition is returned when a disposition is not one of the known buckets.
var ErrUnknownDisposition = errors.New("unknown disposition")

// Disposition is the workflow bucket a lead sits in.
type Disposition string

const (
	DispositionActive   Disposition = "active"
	DispositionFresh    Disposition = "fresh"
	DispositionRejected Disposition = "rejected"
	DispositionDeclined Disposition = "declined"
)

// Dispositions lists every known disposition.
var Dispositions = []Disposition{
	DispositionActive,
	DispositionFresh,
	DispositionRejected,
	DispositionDeclined,
}

// ParseDisposition slugs raw and checks it against the known set.
func ParseDisposition(raw string) (Disposition, error) {
	d := Disposition(Slug(raw))
	if !d.Valid() {
		return "", ErrUnknownDisposition
	}
	return d, nil
}

// Valid reports whether d is a known disposition.
func (d Disposition) Valid() bool {
	for _, known := range Dispositions {
		if d == known {
			return true
		}
	}
	return false
}

// EventName is the wire-level name of a lead-creation event for d.
func (d Disposition) EventName() string {
	return "lead-" + Slug(string(d))
}

// Key identifies a room.
type Key struct {
	Area        string `json:"area"`
	Disposition string `json:"disposition"`
}

// String returns the key as "area/disposition".
func (k Key) String() string {
	return k.Area + "/" + k.Disposition
}

// IsGlobal reports whether k is a fallback room.
func (k Key) IsGlobal() bool {
	return k.Area == GlobalArea
}

// EventName is the wire-level event name delivered to members of k.
func (k Key) EventName() string {
	return "lead-" + k.Disposition
}

// Normalize returns the canonical room key for a raw area and disposition.
// An empty area maps to the global room.
func Normalize(area, disposition string) Key {
	a := Slug(area)
	if a == "" {
		a = GlobalArea
	}
	return Key{Area: a, Disposition: Slug(disposition)}
}

// Global returns the fallback room for a disposition.
func Global(disposition string) Key {
	return Key{Area: GlobalArea, Disposition: Slug(disposition)}
}

// Slug trims, lower-cases and joins internal whitespace runs with a single hyphen.
func Slug(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), "-")
}

// Keys computes the room keys for a set of assigned areas. Empty areas are skipped and
// duplicates collapse; if nothing remains the global room is returned.
func Keys(areas []string, disposition string) []Key {
	seen := make(map[Key]struct{}, len(areas))
	keys := make([]Key, 0, len(areas))
	for _, area := range areas {
		if strings.TrimSpace(area) == "" {
			continue
		}
		k := Normalize(area, disposition)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		keys = append(keys, Global(disposition))
	}
	return keys
}
