package jutsu

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ogero/jutsu-dl/pkg/transport"
	"github.com/wlynxg/chardet"
	"github.com/wlynxg/chardet/consts"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

var (
	// ErrFetch means the site answered with an unexpected status code.
	ErrFetch = errors.New("unexpected response status")
	// ErrMissingContentLength means a media response did not announce its size.
	ErrMissingContentLength = errors.New("missing content length")
)

// DefaultBaseURL is the site origin.
const DefaultBaseURL = "https://jut.su"

// DefaultPageThrottle is the delay between two listing page requests.
const DefaultPageThrottle = 250 * time.Millisecond

const (
	listingPath = "/anime/"
	// emptySentinel is the body the listing endpoint answers once pages run out.
	emptySentinel = "empty"
	// firstAjaxPage is the first page requested by POST; page 1 is served by the seed GET.
	firstAjaxPage = 2
)

// ListingProgress is called after each consumed listing page.
// total is the expected number of pages, or 0 when unknown.
type ListingProgress func(page, total int)

// Listing is the raw HTML of every listing page and the last page consumed.
type Listing struct {
	HTML  string
	Pages int
}

// Stream is an open media response with a known size.
type Stream struct {
	Body io.ReadCloser
	Size int64
}

// Jutsu defines the methods to interact with the site.
type Jutsu interface {
	// BaseURL returns the site origin used to resolve relative links.
	BaseURL() string
	// FetchListing retrieves every listing page until the site answers the empty sentinel.
	FetchListing(ctx context.Context, totalHint int, progress ListingProgress) (*Listing, error)
	// FetchPage retrieves a show or episode page.
	FetchPage(ctx context.Context, pageURL string) (string, error)
	// OpenStream starts the transfer of a media variant.
	OpenStream(ctx context.Context, streamURL string) (*Stream, error)
}

// Option configures the client returned by NewJutsu.
type Option func(*jutsu)

// WithBaseURL overrides the site origin.
func WithBaseURL(baseURL string) Option {
	return func(j *jutsu) { j.baseURL = strings.TrimRight(baseURL, "/") }
}

// WithPageThrottle overrides the delay between listing page requests.
func WithPageThrottle(d time.Duration) Option {
	return func(j *jutsu) { j.throttle = d }
}

// WithUserAgent overrides the User-Agent sent to the site.
func WithUserAgent(userAgent string) Option {
	return func(j *jutsu) { j.userAgent = userAgent }
}

// NewJutsu creates a new instance of the site client.
// The client has no timeout; media transfers are bounded by ctx only.
func NewJutsu(opts ...Option) Jutsu {
	j := &jutsu{
		baseURL:   DefaultBaseURL,
		throttle:  DefaultPageThrottle,
		userAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	}
	for _, opt := range opts {
		opt(j)
	}

	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = 100
	t.MaxConnsPerHost = 100
	t.MaxIdleConnsPerHost = 100

	rt := transport.NewModifyHeadersRoundTripper(t,
		transport.WithAcceptLanguage("ru-RU,ru;q=0.9,en;q=0.8"),
		transport.WithUserAgent(j.userAgent),
		transport.WithReferer(j.baseURL+"/"),
	)

	j.httpClient = &http.Client{
		Transport: otelhttp.NewTransport(rt),
	}

	return j
}

type jutsu struct {
	httpClient *http.Client
	baseURL    string
	throttle   time.Duration
	userAgent  string
}

// BaseURL returns the site origin used to resolve relative links.
func (j *jutsu) BaseURL() string {
	return j.baseURL
}

// FetchListing retrieves every listing page until the site answers the empty sentinel.
// There is no page cap: the sentinel is the only way out of the loop.
func (j *jutsu) FetchListing(ctx context.Context, totalHint int, progress ListingProgress) (*Listing, error) {

	ctx, span := trace.SpanFromContext(ctx).TracerProvider().Tracer("").Start(ctx, "jutsu.Jutsu.FetchListing")
	defer span.End()

	var buf strings.Builder

	seed, err := j.get(ctx, j.baseURL+listingPath)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch listing seed page: %w", err)
	}
	buf.WriteString(seed)

	page := firstAjaxPage
	for {
		body, err := j.postListingPage(ctx, page)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch listing page %d: %w", page, err)
		}

		if body == emptySentinel {
			break
		}

		buf.WriteString(body)
		if progress != nil {
			progress(page, totalHint)
		}
		page++

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(j.throttle):
		}
	}

	span.SetAttributes(attribute.Int("jutsu.listing.pages", page-1))

	return &Listing{
		HTML:  buf.String(),
		Pages: page - 1,
	}, nil
}

func (j *jutsu) postListingPage(ctx context.Context, page int) (string, error) {
	formData := url.Values{}
	formData.Set("ajax_load", "yes")
	formData.Set("start_from_page", strconv.Itoa(page))
	formData.Set("show_search", "")
	formData.Set("anime_of_user", "")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, j.baseURL+listingPath, strings.NewReader(formData.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to http.NewRequestWithContext: %w", err)
	}
	req.Header.Set("Content-Type", `application/x-www-form-urlencoded; charset=UTF-8`)
	req.Header.Set("X-Requested-With", "XMLHttpRequest")

	return j.do(req)
}

// FetchPage retrieves a show or episode page.
func (j *jutsu) FetchPage(ctx context.Context, pageURL string) (string, error) {

	ctx, span := trace.SpanFromContext(ctx).TracerProvider().Tracer("").Start(ctx, "jutsu.Jutsu.FetchPage")
	defer span.End()
	span.SetAttributes(attribute.String("jutsu.page.url", pageURL))

	return j.get(ctx, pageURL)
}

// OpenStream starts the transfer of a media variant. The caller owns the returned body.
func (j *jutsu) OpenStream(ctx context.Context, streamURL string) (*Stream, error) {

	ctx, span := trace.SpanFromContext(ctx).TracerProvider().Tracer("").Start(ctx, "jutsu.Jutsu.OpenStream")
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to http.NewRequestWithContext: %w", err)
	}

	res, err := j.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to http.Client.Do: %w", err)
	}

	if res.StatusCode != http.StatusOK {
		res.Body.Close()
		return nil, fmt.Errorf("%w: %d", ErrFetch, res.StatusCode)
	}

	if res.ContentLength < 0 {
		res.Body.Close()
		return nil, ErrMissingContentLength
	}
	span.SetAttributes(attribute.Int64("jutsu.stream.size", res.ContentLength))

	return &Stream{
		Body: res.Body,
		Size: res.ContentLength,
	}, nil
}

// Copy writes the stream to w, reporting progress after every read.
func (s *Stream) Copy(w io.Writer, progress ProgressFunc) (int64, error) {
	defer s.Body.Close()
	return io.Copy(w, &progressReader{r: s.Body, fn: progress})
}

func (j *jutsu) get(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to http.NewRequestWithContext: %w", err)
	}
	return j.do(req)
}

func (j *jutsu) do(req *http.Request) (string, error) {
	res, err := j.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to http.Client.Do: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: %d", ErrFetch, res.StatusCode)
	}

	body, err := readPage(res.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read body: %w", err)
	}

	return decodePage(body)
}

// decodePage converts a page to UTF-8. Bodies that are not valid UTF-8 are
// decoded from the detected charset, or passed through when it is unknown.
func decodePage(body []byte) (string, error) {
	if utf8.Valid(body) {
		return string(body), nil
	}

	detected := chardet.Detect(body).Encoding
	if detected == consts.UTF8 {
		return string(body), nil
	}

	enc, err := htmlindex.Get(string(detected))
	if err != nil {
		return string(body), nil
	}

	decoded, err := io.ReadAll(transform.NewReader(bytes.NewReader(body), enc.NewDecoder()))
	if err != nil {
		return "", fmt.Errorf("failed to decode page: %w", err)
	}
	return string(decoded), nil
}
