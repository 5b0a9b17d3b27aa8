package jutsu

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJutsu(server *httptest.Server) *jutsu {
	return &jutsu{
		httpClient: &http.Client{},
		baseURL:    server.URL,
		throttle:   0,
	}
}

func TestFetchListing(t *testing.T) {
	posts := []string{"<div>page2</div>", "<div>page3</div>", "<div>page4</div>", emptySentinel}
	var requested []string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != listingPath {
			t.Fatalf("unexpected request %v", r)
		}
		switch r.Method {
		case http.MethodGet:
			_, _ = w.Write([]byte("<div>seed</div>"))
		case http.MethodPost:
			assert.Equal(t, "application/x-www-form-urlencoded; charset=UTF-8", r.Header.Get("Content-Type"))
			assert.Equal(t, "yes", r.FormValue("ajax_load"))
			assert.Equal(t, "", r.FormValue("show_search"))
			assert.Equal(t, "", r.FormValue("anime_of_user"))
			page := r.FormValue("start_from_page")
			requested = append(requested, page)
			_, _ = w.Write([]byte(posts[len(requested)-1]))
		default:
			t.Fatalf("unexpected request %v", r)
		}
	}))
	defer server.Close()

	var progress []int
	listing, err := newTestJutsu(server).FetchListing(context.Background(), 7, func(page, total int) {
		assert.Equal(t, 7, total)
		progress = append(progress, page)
	})
	require.NoError(t, err)

	assert.Equal(t, "<div>seed</div><div>page2</div><div>page3</div><div>page4</div>", listing.HTML)
	assert.Equal(t, 4, listing.Pages)
	assert.Equal(t, []string{"2", "3", "4", "5"}, requested)
	assert.Equal(t, []int{2, 3, 4}, progress)
}

func TestFetchListing_ImmediatelyEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			_, _ = w.Write([]byte("<div>seed</div>"))
			return
		}
		_, _ = w.Write([]byte(emptySentinel))
	}))
	defer server.Close()

	listing, err := newTestJutsu(server).FetchListing(context.Background(), 0, nil)
	require.NoError(t, err)
	assert.Equal(t, "<div>seed</div>", listing.HTML)
	assert.Equal(t, 1, listing.Pages)
}

func TestFetchListing_StatusFailure(t *testing.T) {
	var posts int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			_, _ = w.Write([]byte("<div>seed</div>"))
			return
		}
		posts++
		if posts == 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("<div>more</div>"))
	}))
	defer server.Close()

	listing, err := newTestJutsu(server).FetchListing(context.Background(), 0, nil)
	assert.ErrorIs(t, err, ErrFetch)
	assert.Nil(t, listing)
	assert.Equal(t, 2, posts)
}

func TestFetchListing_SeedFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			t.Fatalf("unexpected request %v", r)
		}
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	_, err := newTestJutsu(server).FetchListing(context.Background(), 0, nil)
	assert.ErrorIs(t, err, ErrFetch)
}

func TestFetchPage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/naruto/":
			_, _ = w.Write([]byte("<a class=\"short-btn\" href=\"/naruto/episode-1.html\">1 серия</a>"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	j := newTestJutsu(server)

	page, err := j.FetchPage(context.Background(), server.URL+"/naruto/")
	require.NoError(t, err)
	assert.Contains(t, page, "1 серия")

	_, err = j.FetchPage(context.Background(), server.URL+"/missing/")
	assert.ErrorIs(t, err, ErrFetch)
}

func TestOpenStream(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 4096)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sized.mp4":
			w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
			_, _ = w.Write(payload)
		case "/chunked.mp4":
			_, _ = w.Write(payload[:10])
			w.(http.Flusher).Flush()
			_, _ = w.Write(payload[10:20])
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	j := newTestJutsu(server)

	t.Run("sized", func(t *testing.T) {
		stream, err := j.OpenStream(context.Background(), server.URL+"/sized.mp4")
		require.NoError(t, err)
		assert.Equal(t, int64(len(payload)), stream.Size)

		var out bytes.Buffer
		var reported int64
		n, err := stream.Copy(&out, func(n int64) { reported += n })
		require.NoError(t, err)
		assert.Equal(t, int64(len(payload)), n)
		assert.Equal(t, int64(len(payload)), reported)
		assert.Equal(t, payload, out.Bytes())
	})

	t.Run("missing content length", func(t *testing.T) {
		_, err := j.OpenStream(context.Background(), server.URL+"/chunked.mp4")
		assert.ErrorIs(t, err, ErrMissingContentLength)
	})

	t.Run("bad status", func(t *testing.T) {
		_, err := j.OpenStream(context.Background(), server.URL+"/gone.mp4")
		assert.ErrorIs(t, err, ErrFetch)
	})
}

func TestNewJutsu_SendsSiteHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "TestAgent", r.Header.Get("User-Agent"))
		assert.True(t, strings.HasPrefix(r.Header.Get("Referer"), "http://"))
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	j := NewJutsu(WithBaseURL(server.URL+"/"), WithUserAgent("TestAgent"), WithPageThrottle(0))
	assert.Equal(t, server.URL, j.BaseURL())

	page, err := j.FetchPage(context.Background(), server.URL+"/x/")
	require.NoError(t, err)
	assert.Equal(t, "ok", page)
}

func TestDecodePage(t *testing.T) {
	utf := "<p>Наруто</p>"
	decoded, err := decodePage([]byte(utf))
	require.NoError(t, err)
	assert.Equal(t, utf, decoded)

	// not valid UTF-8: goes through charset detection
	cp1251 := []byte{0xcf, 0xf0, 0xe8, 0xe2, 0xe5, 0xf2, 0x2c, 0x20, 0xec, 0xe8, 0xf0}
	decoded, err = decodePage(cp1251)
	require.NoError(t, err)
	assert.NotEmpty(t, decoded)
}
