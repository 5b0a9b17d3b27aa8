package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ogero/jutsu-dl/internal/cache"
	"github.com/ogero/jutsu-dl/internal/settings"
	"github.com/ogero/jutsu-dl/pkg/jutsu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	seedHTML = `<div class="all_anime_global"><a href="/naruuto/"><div>Наруто</div></a></div>`
	pageHTML = `<div class="all_anime_global"><a href="/onepiece/"><div>Ван Пис</div></a></div>
<div class="all_anime_global"><a href="/bleach/"><div>Блич</div></a></div>`
	showHTML = `<a class="short-btn" href="/naruuto/episode-1.html">1 серия</a>
<a class="short-btn" href="/naruuto/episode-2.html">2 серия</a>`
)

type site struct {
	server    *httptest.Server
	showHits  atomic.Int32
	listingOK atomic.Bool
}

func newSite(t *testing.T) *site {
	s := &site{}
	s.listingOK.Store(true)
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/anime/" && !s.listingOK.Load():
			w.WriteHeader(http.StatusBadGateway)
		case r.URL.Path == "/anime/" && r.Method == http.MethodGet:
			_, _ = w.Write([]byte(seedHTML))
		case r.URL.Path == "/anime/" && r.Method == http.MethodPost:
			if r.FormValue("start_from_page") == "2" {
				_, _ = w.Write([]byte(pageHTML))
				return
			}
			_, _ = w.Write([]byte("empty"))
		case r.URL.Path == "/naruuto/":
			s.showHits.Add(1)
			_, _ = w.Write([]byte(showHTML))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(s.server.Close)
	return s
}

func newTestStore(t *testing.T, s *site, pages *cache.Cache) *Store {
	path := filepath.Join(t.TempDir(), "cache.json")
	c, err := LoadOrDefault(path)
	require.NoError(t, err)

	x, err := jutsu.NewExtractor(s.server.URL)
	require.NoError(t, err)

	return NewStore(c, jutsu.NewJutsu(jutsu.WithBaseURL(s.server.URL), jutsu.WithPageThrottle(0)), x, pages, time.Hour)
}

func TestStoreRefresh(t *testing.T) {
	s := newSite(t)
	store := newTestStore(t, s, nil)

	var pages []int
	c, err := store.Refresh(context.Background(), func(page, total int) {
		pages = append(pages, page)
	})
	require.NoError(t, err)

	assert.Equal(t, []int{2}, pages)
	assert.Equal(t, 2, c.Pages)
	require.Len(t, c.Shows, 3)
	assert.Equal(t, "Наруто", c.Shows[0].Name)
	assert.Equal(t, s.server.URL+"/bleach/", c.Shows[2].URL)

	persisted, err := LoadOrDefault(c.Path)
	require.NoError(t, err)
	assert.Equal(t, c, persisted)
	assert.Equal(t, c, store.Catalog())
}

func TestStoreRefresh_FailureKeepsCatalog(t *testing.T) {
	s := newSite(t)
	store := newTestStore(t, s, nil)

	_, err := store.Refresh(context.Background(), nil)
	require.NoError(t, err)
	before := store.Catalog()

	s.listingOK.Store(false)
	_, err = store.Refresh(context.Background(), nil)
	require.ErrorIs(t, err, jutsu.ErrFetch)

	assert.Equal(t, before, store.Catalog())
}

func TestStoreGetShow(t *testing.T) {
	s := newSite(t)
	store := newTestStore(t, s, nil)
	_, err := store.Refresh(context.Background(), nil)
	require.NoError(t, err)

	show, err := store.GetShow(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, []jutsu.Episode{
		{Name: "1 серия", URL: s.server.URL + "/naruuto/episode-1.html", Qualities: jutsu.Variants{}},
		{Name: "2 серия", URL: s.server.URL + "/naruuto/episode-2.html", Qualities: jutsu.Variants{}},
	}, show.Episodes)
	assert.Empty(t, store.Catalog().Shows[0].Episodes, "the catalog is only mutated by refresh")

	for _, index := range []int{-1, 3} {
		_, err = store.GetShow(context.Background(), index)
		assert.ErrorIs(t, err, ErrNotFound)
	}
}

func TestStoreGetShow_Memoized(t *testing.T) {
	pages, err := cache.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = pages.Close() })

	s := newSite(t)
	store := newTestStore(t, s, pages)
	_, err = store.Refresh(context.Background(), nil)
	require.NoError(t, err)

	first, err := store.GetShow(context.Background(), 0)
	require.NoError(t, err)
	second, err := store.GetShow(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, s.showHits.Load())

	_, err = store.ToggleOption(settings.UpdateFoundShows)
	require.NoError(t, err)

	_, err = store.GetShow(context.Background(), 0)
	require.NoError(t, err)
	assert.EqualValues(t, 2, s.showHits.Load())
}

func TestStoreToggleOption(t *testing.T) {
	s := newSite(t)
	store := newTestStore(t, s, nil)

	got, err := store.ToggleOption(settings.UpdateSite)
	require.NoError(t, err)
	assert.False(t, got.Enabled(settings.UpdateSite))
	assert.Equal(t, got, store.Settings())

	persisted, err := LoadOrDefault(store.Catalog().Path)
	require.NoError(t, err)
	assert.False(t, persisted.Settings.Enabled(settings.UpdateSite))
}

func TestStoreSearch(t *testing.T) {
	s := newSite(t)
	store := newTestStore(t, s, nil)
	_, err := store.Refresh(context.Background(), nil)
	require.NoError(t, err)

	matches := store.Search("ван")
	require.Len(t, matches, 1)
	assert.Equal(t, 1, matches[0].Index)
	assert.Equal(t, "Ван Пис", matches[0].Show.Name)

	assert.Len(t, store.Search(""), 3)
	assert.Empty(t, store.Search("evangelion"))
}
