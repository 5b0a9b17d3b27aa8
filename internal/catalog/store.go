package catalog

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/ogero/jutsu-dl/internal/cache"
	"github.com/ogero/jutsu-dl/internal/common"
	"github.com/ogero/jutsu-dl/internal/settings"
	"github.com/ogero/jutsu-dl/pkg/jutsu"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ErrNotFound means a show index is outside the catalog.
var ErrNotFound = errors.New("show not found")

const showCacheKeyPrefix = "jutsu.show"

// Match is a search result: a show and its position in the catalog.
type Match struct {
	Index int        `json:"index"`
	Show  jutsu.Show `json:"show"`
}

// Store serves the catalog to concurrent readers. The catalog value is only ever
// replaced as a whole, by Refresh and ToggleOption, and those two are serialized.
type Store struct {
	site      jutsu.Jutsu
	extractor *jutsu.Extractor
	pages     *cache.Cache
	pagesTTL  time.Duration

	writeMu sync.Mutex
	mu      sync.RWMutex
	catalog *Catalog
}

// NewStore creates a Store over c. pages memoizes episode lists for pagesTTL; a
// nil pages always fetches.
func NewStore(c *Catalog, site jutsu.Jutsu, extractor *jutsu.Extractor, pages *cache.Cache, pagesTTL time.Duration) *Store {
	return &Store{
		site:      site,
		extractor: extractor,
		pages:     pages,
		pagesTTL:  pagesTTL,
		catalog:   c.Clone(),
	}
}

// Catalog returns a copy of the current catalog.
func (s *Store) Catalog() *Catalog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.catalog.Clone()
}

// Settings returns a copy of the current settings.
func (s *Store) Settings() settings.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.catalog.Settings)
}

func (s *Store) replace(c *Catalog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog = c
}

// Refresh rebuilds the show list from the first listing page and persists the
// result. The in-memory catalog is only replaced once the file was written.
func (s *Store) Refresh(ctx context.Context, progress jutsu.ListingProgress) (*Catalog, error) {

	ctx, span := trace.SpanFromContext(ctx).TracerProvider().Tracer("").Start(ctx, "catalog.Store.Refresh")
	defer span.End()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	next := s.Catalog()

	listing, err := s.site.FetchListing(ctx, next.Pages, progress)
	if err != nil {
		return nil, fmt.Errorf("failed to jutsu.Jutsu.FetchListing: %w", err)
	}
	common.ListingPagesTotal.Add(ctx, int64(listing.Pages))

	shows, err := s.extractor.Shows(listing.HTML)
	if err != nil {
		return nil, fmt.Errorf("failed to jutsu.Extractor.Shows: %w", err)
	}
	if shows == nil {
		shows = []jutsu.Show{}
	}

	next.Shows = shows
	next.Pages = listing.Pages

	if err := Persist(next); err != nil {
		return nil, fmt.Errorf("failed to persist catalog: %w", err)
	}
	s.replace(next)

	span.SetAttributes(attribute.Int("catalog.shows", len(shows)))
	span.SetAttributes(attribute.Int("catalog.pages", listing.Pages))
	common.Log.InfoContext(ctx, "Refreshed catalog", "shows", len(shows), "pages", listing.Pages)

	return next.Clone(), nil
}

// ToggleOption flips o, resetting every option to its default first when the
// persisted settings drifted from the known option set, and persists the result.
func (s *Store) ToggleOption(o settings.Option) (settings.Settings, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	next := s.Catalog()
	next.Settings = next.Settings.Toggle(o)

	if err := Persist(next); err != nil {
		return nil, fmt.Errorf("failed to persist catalog: %w", err)
	}
	s.replace(next)

	common.Log.Info("Toggled option", "option", o.Key(), "enabled", next.Settings.Enabled(o))

	return maps.Clone(next.Settings), nil
}

// GetShow returns a copy of the show at index with its episode list resolved.
// The catalog itself is left untouched.
func (s *Store) GetShow(ctx context.Context, index int) (jutsu.Show, error) {

	ctx, span := trace.SpanFromContext(ctx).TracerProvider().Tracer("").Start(ctx, "catalog.Store.GetShow")
	defer span.End()

	s.mu.RLock()
	if index < 0 || index >= len(s.catalog.Shows) {
		n := len(s.catalog.Shows)
		s.mu.RUnlock()
		return jutsu.Show{}, fmt.Errorf("%w: index %d outside [0, %d)", ErrNotFound, index, n)
	}
	show := s.catalog.Shows[index].Clone()
	refetch := s.catalog.Settings.Enabled(settings.UpdateFoundShows)
	s.mu.RUnlock()

	span.SetAttributes(attribute.String("jutsu.show.name", show.Name))

	fetch := func() (*[]jutsu.Episode, error) {
		html, err := s.site.FetchPage(ctx, show.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to jutsu.Jutsu.FetchPage: %w", err)
		}
		episodes, err := s.extractor.Episodes(html)
		if err != nil {
			return nil, fmt.Errorf("failed to jutsu.Extractor.Episodes: %w", err)
		}
		return &episodes, nil
	}

	if s.pages == nil {
		episodes, err := fetch()
		if err != nil {
			return jutsu.Show{}, err
		}
		show.Episodes = *episodes
		return show, nil
	}

	cacheKey := fmt.Sprintf("%s : %s", showCacheKeyPrefix, show.URL)
	if refetch {
		if err := s.pages.Forget(cacheKey); err != nil {
			common.Log.WarnContext(ctx, "Failed to cache.Cache.Forget", "key", cacheKey, "err", err)
		}
	}

	episodes, hit, err := cache.Memoize(s.pages, cacheKey, s.pagesTTL, fetch)
	cacheResult := "miss"
	if hit {
		cacheResult = "hit"
	}
	span.SetAttributes(attribute.String("cache.jutsu.show.result", cacheResult))
	common.CacheGetsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("key.prefix", showCacheKeyPrefix),
		attribute.String("result", cacheResult),
	))
	if err != nil {
		return jutsu.Show{}, err
	}

	show.Episodes = *episodes
	if show.Episodes == nil {
		show.Episodes = []jutsu.Episode{}
	}
	span.SetAttributes(attribute.Int("jutsu.show.episodes", len(show.Episodes)))

	return show.Clone(), nil
}

// Search matches query against show names, ignoring case and diacritics.
// Results are ordered by closeness; an empty query matches every show.
func (s *Store) Search(query string) []Match {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if query == "" {
		matches := make([]Match, len(s.catalog.Shows))
		for i, show := range s.catalog.Shows {
			matches[i] = Match{Index: i, Show: show.Clone()}
		}
		return matches
	}

	names := make([]string, len(s.catalog.Shows))
	for i, show := range s.catalog.Shows {
		names[i] = show.Name
	}

	ranks := fuzzy.RankFindNormalizedFold(query, names)
	sort.Stable(ranks)

	matches := make([]Match, 0, len(ranks))
	for _, r := range ranks {
		matches = append(matches, Match{Index: r.OriginalIndex, Show: s.catalog.Shows[r.OriginalIndex].Clone()})
	}
	return matches
}
