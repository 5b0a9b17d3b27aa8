// Package catalog owns the persisted snapshot of known shows and user settings.
package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"

	"github.com/ogero/jutsu-dl/internal/common"
	"github.com/ogero/jutsu-dl/internal/settings"
	"github.com/ogero/jutsu-dl/pkg/jutsu"
)

// errInvalidDocument means the catalog file decoded but does not have the full shape.
var errInvalidDocument = errors.New("invalid catalog document")

// Catalog is the set of known shows, the user settings and the listing watermark.
type Catalog struct {
	// Path is where the catalog is persisted.
	Path string `json:"path"`
	// Settings are the user preferences.
	Settings settings.Settings `json:"settings"`
	// Pages is the last listing page consumed by the latest refresh.
	Pages int `json:"pages"`
	// Shows are the listing entries, in listing order.
	Shows []jutsu.Show `json:"shows"`
}

// Default returns an empty catalog persisted at path.
func Default(path string) *Catalog {
	return &Catalog{
		Path:     path,
		Settings: settings.Defaults(),
		Pages:    0,
		Shows:    []jutsu.Show{},
	}
}

// Clone returns a deep copy of the catalog.
func (c *Catalog) Clone() *Catalog {
	shows := make([]jutsu.Show, len(c.Shows))
	for i, s := range c.Shows {
		shows[i] = s.Clone()
	}
	return &Catalog{
		Path:     c.Path,
		Settings: maps.Clone(c.Settings),
		Pages:    c.Pages,
		Shows:    shows,
	}
}

// LoadOrDefault reads the catalog persisted at path.
// A missing directory or file is created and yields the default catalog, and so
// does a file that cannot be decoded into a complete catalog. Only filesystem
// failures are returned as errors.
func LoadOrDefault(path string) (*Catalog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create catalog directory: %w", err)
	}

	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(path, nil, 0o644); err != nil {
			return nil, fmt.Errorf("failed to create catalog file: %w", err)
		}
		return Default(path), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}

	c, err := decode(b)
	if err != nil {
		common.Log.Warn("Discarding unreadable catalog", "path", path, "err", err)
		return Default(path), nil
	}
	c.Path = path

	return c, nil
}

// Persist overwrites the catalog file with the whole catalog.
func Persist(c *Catalog) error {
	if err := os.MkdirAll(filepath.Dir(c.Path), 0o755); err != nil {
		return fmt.Errorf("failed to create catalog directory: %w", err)
	}

	b, err := json.MarshalIndent(normalize(c), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to json.MarshalIndent: %w", err)
	}

	if err := os.WriteFile(c.Path, b, 0o644); err != nil {
		return fmt.Errorf("failed to write catalog file: %w", err)
	}

	return nil
}

// normalize makes empty collections serialize as [] and {} instead of null,
// so a persisted catalog always decodes back.
func normalize(c *Catalog) *Catalog {
	n := c.Clone()
	if n.Settings == nil {
		n.Settings = settings.Settings{}
	}
	for i := range n.Shows {
		if n.Shows[i].Episodes == nil {
			n.Shows[i].Episodes = []jutsu.Episode{}
		}
		for j := range n.Shows[i].Episodes {
			if n.Shows[i].Episodes[j].Qualities == nil {
				n.Shows[i].Episodes[j].Qualities = jutsu.Variants{}
			}
		}
	}
	return n
}

type document struct {
	Path     *string           `json:"path"`
	Settings settings.Settings `json:"settings"`
	Pages    *int              `json:"pages"`
	Shows    *[]showDocument   `json:"shows"`
}

type showDocument struct {
	Name     *string            `json:"name"`
	URL      *string            `json:"url"`
	Episodes *[]episodeDocument `json:"episodes"`
}

type episodeDocument struct {
	Name      *string            `json:"name"`
	URL       *string            `json:"url"`
	Qualities *[]variantDocument `json:"qualities"`
}

type variantDocument struct {
	Tier *jutsu.Tier `json:"tier"`
	URL  *string     `json:"url"`
}

// decode parses a catalog strictly: unknown fields, missing fields, and trailing
// data all fail.
func decode(b []byte) (*Catalog, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()

	var doc document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to json.Decoder.Decode: %w", err)
	}
	if err := dec.Decode(new(json.RawMessage)); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data", errInvalidDocument)
	}

	if doc.Path == nil || doc.Settings == nil || doc.Pages == nil || doc.Shows == nil {
		return nil, fmt.Errorf("%w: missing top-level field", errInvalidDocument)
	}

	c := &Catalog{
		Path:     *doc.Path,
		Settings: doc.Settings,
		Pages:    *doc.Pages,
		Shows:    make([]jutsu.Show, 0, len(*doc.Shows)),
	}

	for i, sd := range *doc.Shows {
		if sd.Name == nil || sd.URL == nil || sd.Episodes == nil {
			return nil, fmt.Errorf("%w: show %d is incomplete", errInvalidDocument, i)
		}
		show := jutsu.Show{
			Name:     *sd.Name,
			URL:      *sd.URL,
			Episodes: make([]jutsu.Episode, 0, len(*sd.Episodes)),
		}
		for j, ed := range *sd.Episodes {
			if ed.Name == nil || ed.URL == nil || ed.Qualities == nil {
				return nil, fmt.Errorf("%w: show %d episode %d is incomplete", errInvalidDocument, i, j)
			}
			variants := make([]jutsu.Variant, 0, len(*ed.Qualities))
			for k, vd := range *ed.Qualities {
				if vd.Tier == nil || vd.URL == nil {
					return nil, fmt.Errorf("%w: show %d episode %d quality %d is incomplete", errInvalidDocument, i, j, k)
				}
				variants = append(variants, jutsu.Variant{Tier: *vd.Tier, URL: *vd.URL})
			}
			show.Episodes = append(show.Episodes, jutsu.Episode{
				Name:      *ed.Name,
				URL:       *ed.URL,
				Qualities: jutsu.NewVariants(variants...),
			})
		}
		c.Shows = append(c.Shows, show)
	}

	return c, nil
}
