// Package settings holds the user preferences persisted with the catalog.
package settings

import (
	"fmt"
	"maps"
)

// Option is a user preference toggle.
type Option int

const (
	// UpdateSite refreshes the catalog in the background at startup.
	UpdateSite Option = iota + 1
	// UpdateFoundShows re-fetches show pages instead of serving memoized episode lists.
	UpdateFoundShows
)

var optionKeys = map[Option]string{
	UpdateSite:       "update_site",
	UpdateFoundShows: "update_found_shows",
}

var optionDefaults = map[Option]bool{
	UpdateSite:       true,
	UpdateFoundShows: false,
}

// Options returns every known option in a stable order.
func Options() []Option {
	return []Option{UpdateSite, UpdateFoundShows}
}

// Key returns the persisted name of the option.
func (o Option) Key() string {
	return optionKeys[o]
}

// ParseOption finds the option persisted under key.
func ParseOption(key string) (Option, error) {
	for o, k := range optionKeys {
		if k == key {
			return o, nil
		}
	}
	return 0, fmt.Errorf("unknown option %q", key)
}

// Settings maps option keys to their state.
type Settings map[string]bool

// Defaults returns a fresh settings map with every option at its default.
func Defaults() Settings {
	s := make(Settings, len(optionKeys))
	for o, k := range optionKeys {
		s[k] = optionDefaults[o]
	}
	return s
}

// Valid reports whether the key set is exactly the known option set.
func (s Settings) Valid() bool {
	if len(s) != len(optionKeys) {
		return false
	}
	for _, k := range optionKeys {
		if _, ok := s[k]; !ok {
			return false
		}
	}
	return true
}

// Enabled reports the state of o, falling back to its default when absent.
func (s Settings) Enabled(o Option) bool {
	if v, ok := s[o.Key()]; ok {
		return v
	}
	return optionDefaults[o]
}

// Toggle returns a copy of s with o flipped. When the key set drifted from the
// known options, the copy is rebuilt from defaults before flipping.
func (s Settings) Toggle(o Option) Settings {
	next := Defaults()
	if s.Valid() {
		next = maps.Clone(s)
	}
	next[o.Key()] = !next[o.Key()]
	return next
}
