// Package selection resolves which episodes of a show a download session covers.
package selection

import (
	"errors"
	"fmt"

	"github.com/ogero/jutsu-dl/pkg/jutsu"
)

var (
	// ErrInvalidSelection means an index is out of range or nothing was selected.
	ErrInvalidSelection = errors.New("invalid selection")
	// ErrEmptyRange means a range selection covers no episode.
	ErrEmptyRange = errors.New("empty range")
)

// Mode is the way episodes are picked.
type Mode int

const (
	One Mode = iota + 1
	Some
	Range
	All
)

var modeCodes = map[Mode]string{
	One:   "one",
	Some:  "some",
	Range: "range",
	All:   "all",
}

// Modes returns every mode in menu order.
func Modes() []Mode {
	return []Mode{One, Some, Range, All}
}

// ParseMode finds the mode named code.
func ParseMode(code string) (Mode, error) {
	for m, c := range modeCodes {
		if c == code {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown mode %q", ErrInvalidSelection, code)
}

// Code returns the name of the mode.
func (m Mode) Code() string {
	return modeCodes[m]
}

func (m Mode) MarshalText() ([]byte, error) {
	if _, ok := modeCodes[m]; !ok {
		return nil, fmt.Errorf("%w: unknown mode %d", ErrInvalidSelection, int(m))
	}
	return []byte(m.Code()), nil
}

func (m *Mode) UnmarshalText(b []byte) error {
	parsed, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Request describes a selection. Indices are used by One and Some, From and To
// (both inclusive) by Range.
type Request struct {
	Mode    Mode  `json:"mode"`
	Indices []int `json:"indices,omitempty"`
	From    int   `json:"from,omitempty"`
	To      int   `json:"to,omitempty"`
}

// Select applies r to episodes. The result keeps the episodes' order of appearance
// in the request and holds each distinct episode once.
func Select(episodes []jutsu.Episode, r Request) ([]jutsu.Episode, error) {
	var picked []jutsu.Episode

	switch r.Mode {
	case One:
		if len(r.Indices) != 1 {
			return nil, fmt.Errorf("%w: exactly one index is required, got %d", ErrInvalidSelection, len(r.Indices))
		}
		fallthrough
	case Some:
		if len(r.Indices) == 0 {
			return nil, fmt.Errorf("%w: no index given", ErrInvalidSelection)
		}
		for _, i := range r.Indices {
			if i < 0 || i >= len(episodes) {
				return nil, fmt.Errorf("%w: index %d outside [0, %d)", ErrInvalidSelection, i, len(episodes))
			}
			picked = append(picked, episodes[i])
		}
	case Range:
		if r.From < 0 || r.From >= len(episodes) {
			return nil, fmt.Errorf("%w: range start %d outside [0, %d)", ErrInvalidSelection, r.From, len(episodes))
		}
		if r.To < r.From || r.To >= len(episodes) {
			return nil, fmt.Errorf("%w: [%d, %d] over %d episodes", ErrEmptyRange, r.From, r.To, len(episodes))
		}
		picked = episodes[r.From : r.To+1]
	case All:
		if len(episodes) == 0 {
			return nil, fmt.Errorf("%w: the show has no episodes", ErrInvalidSelection)
		}
		picked = episodes
	default:
		return nil, fmt.Errorf("%w: unknown mode %d", ErrInvalidSelection, int(r.Mode))
	}

	return unique(picked), nil
}

func unique(episodes []jutsu.Episode) []jutsu.Episode {
	seen := make(map[string]struct{}, len(episodes))
	out := make([]jutsu.Episode, 0, len(episodes))
	for _, e := range episodes {
		k := e.Key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, e.Clone())
	}
	return out
}

// Workers clamps the requested worker count to [1, selected]. A single-episode
// selection always runs on one worker.
func Workers(mode Mode, requested, selected int) int {
	if mode == One {
		return 1
	}
	return max(1, min(requested, selected))
}
